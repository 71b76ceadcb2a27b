package api

import (
	"bytes"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/salon-booking-engine/internal/appointment"
	"github.com/hackgods/salon-booking-engine/internal/calendar"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// listFilter reads ?from=&to=&status=a,b&user_id= from the query string.
func listFilter(r *http.Request) (appointment.ListFilter, error) {
	var f appointment.ListFilter
	q := r.URL.Query()
	if raw := q.Get("from"); raw != "" {
		d, err := parseDate(raw)
		if err != nil {
			return f, err
		}
		f.From = &d
	}
	if raw := q.Get("to"); raw != "" {
		d, err := parseDate(raw)
		if err != nil {
			return f, err
		}
		f.To = &d
	}
	if raw := q.Get("status"); raw != "" {
		statuses, err := parseStatuses(strings.Split(raw, ","))
		if err != nil {
			return f, err
		}
		f.Statuses = statuses
	}
	if raw := q.Get("user_id"); raw != "" {
		id, err := parseUUID(raw, "user_id")
		if err != nil {
			return f, err
		}
		f.UserID = &id
	}
	return f, nil
}

func (h *handlers) listAppointments(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	filter, err := listFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list, err := h.svc.ListAppointments(r.Context(), actor, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeViews(w, r, list, true)
}

func (h *handlers) exportAppointments(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	filter, err := listFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	// Buffered so a failure can still be reported as JSON.
	var buf bytes.Buffer
	if err := h.svc.ExportAppointments(r.Context(), actor, filter, &buf); err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+exportFilename(time.Now())+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	stats, err := h.svc.Stats(r.Context(), actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *handlers) confirmAppointment(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.svc.ConfirmAppointment(r.Context(), actor, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeView(w, r, http.StatusOK, res, true)
}

func (h *handlers) completeAppointment(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.svc.CompleteAppointment(r.Context(), actor, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeView(w, r, http.StatusOK, res, true)
}

func (h *handlers) rescheduleAppointment(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var body RescheduleRequest
	if r.ContentLength != 0 {
		if err := decode(r, &body); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	req, err := body.toCore()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.svc.RescheduleAppointment(r.Context(), actor, id, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeView(w, r, http.StatusOK, res, true)
}

func (h *handlers) getCalendar(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	cal, err := h.svc.GetCalendar(r.Context(), actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, calendarResponse(cal))
}

func (h *handlers) updateCalendar(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	var body CalendarBody
	if err := decode(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	cal, err := body.toCalendar()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	saved, report, err := h.svc.UpdateCalendar(r.Context(), actor, cal)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, UpdateCalendarResponse{Calendar: calendarResponse(saved), Relocation: report})
}

func (h *handlers) setOverride(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	date, err := parseDate(chi.URLParam(r, "date"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var body OverrideBody
	if err := decode(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	report, err := h.svc.SetOverride(r.Context(), actor, calendar.Override{
		Date:     date,
		Reason:   body.Reason,
		Schedule: body.Schedule,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *handlers) deleteOverride(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	date, err := parseDate(chi.URLParam(r, "date"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	report, err := h.svc.DeleteOverride(r.Context(), actor, date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

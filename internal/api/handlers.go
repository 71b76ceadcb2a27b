package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/salon-booking-engine/internal/apperr"
	"github.com/hackgods/salon-booking-engine/internal/appointment"
	"github.com/hackgods/salon-booking-engine/internal/calendar"
)

type handlers struct {
	svc    *appointment.Service
	errors errorWriter
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.errors.write(w, r, err)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Validation("could not parse JSON body: %v", err)
	}
	return nil
}

func pathID(r *http.Request) (uuid.UUID, error) {
	return parseUUID(chi.URLParam(r, "id"), "id")
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validation("%s must be an integer", key)
	}
	return n, nil
}

func (h *handlers) availableDays(w http.ResponseWriter, r *http.Request) {
	months, err := queryInt(r, "months")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	days, err := h.svc.GetAvailableDays(r.Context(), months)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, formatDays(days))
}

func (h *handlers) unavailableDays(w http.ResponseWriter, r *http.Request) {
	months, err := queryInt(r, "months")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	days, err := h.svc.GetUnavailableDays(r.Context(), months)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, formatDays(days))
}

func (h *handlers) availability(w http.ResponseWriter, r *http.Request) {
	date, err := parseDate(r.URL.Query().Get("date"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	duration, err := queryInt(r, "duration")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.svc.GetAvailability(r.Context(), date, duration)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if duration <= 0 {
		duration = h.svc.Granularity()
	}
	writeJSON(w, http.StatusOK, AvailabilityResponse{
		Date:     calendar.FormatDate(res.Date),
		Open:     res.Open,
		Duration: duration,
		Slots:    formatSlots(res.Slots),
	})
}

func (h *handlers) listServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.svc.ListServices(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]ServiceResponse, 0, len(services))
	for _, s := range services {
		out = append(out, ServiceResponse{ID: s.ID, Name: s.Name, Duration: s.Duration, Price: s.Price})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) createAppointment(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())

	var body CreateAppointmentRequest
	if err := decode(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	req, err := body.toCore()
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.svc.CreateAppointment(r.Context(), actor, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeView(w, r, http.StatusCreated, res, actor.IsAdmin())
}

func (h *handlers) myAppointments(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	list, err := h.svc.GetUserAppointments(r.Context(), actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeViews(w, r, list, false)
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.svc.GetAppointment(r.Context(), actor, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeView(w, r, http.StatusOK, res, actor.IsAdmin())
}

func (h *handlers) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var body CancelRequest
	if r.ContentLength != 0 {
		if err := decode(r, &body); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	res, err := h.svc.CancelAppointment(r.Context(), actor, id, body.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeView(w, r, http.StatusOK, res, actor.IsAdmin())
}

func (h *handlers) writeView(w http.ResponseWriter, r *http.Request, status int, res *appointment.Reservation, withCustomer bool) {
	views, err := h.svc.Views(r.Context(), []appointment.Reservation{*res}, withCustomer)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, status, views[0])
}

func (h *handlers) writeViews(w http.ResponseWriter, r *http.Request, list []appointment.Reservation, withCustomer bool) {
	views, err := h.svc.Views(r.Context(), list, withCustomer)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

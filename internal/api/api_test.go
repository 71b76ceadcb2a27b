package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/salon-booking-engine/internal/apperr"
	"github.com/hackgods/salon-booking-engine/internal/appointment"
	"github.com/hackgods/salon-booking-engine/internal/config"
	redisclient "github.com/hackgods/salon-booking-engine/internal/redis"
)

const testSecret = "test-secret"

// Monday 2026-10-12, 08:00 UTC.
var fixedNow = time.Date(2026, 10, 12, 8, 0, 0, 0, time.UTC)

type testServer struct {
	handler http.Handler
	auth    *Authenticator
	cut     appointment.Offering

	customer appointment.Actor
	other    appointment.Actor
	admin    appointment.Actor
}

func newTestServer(t *testing.T, tweak ...func(*RouterConfig)) *testServer {
	t.Helper()

	cfg := config.Default()
	store := appointment.NewMemoryStore(config.DefaultCalendar())
	ts := &testServer{
		auth:     NewAuthenticator(testSecret),
		cut:      appointment.Offering{ID: uuid.New(), Name: "Cut", Duration: 30, Price: 20},
		customer: appointment.Actor{UserID: uuid.New(), Role: appointment.RoleUser, Email: "ana@example.com", Name: "Ana"},
		other:    appointment.Actor{UserID: uuid.New(), Role: appointment.RoleUser, Email: "bo@example.com", Name: "Bo"},
		admin:    appointment.Actor{UserID: uuid.New(), Role: appointment.RoleAdmin, Email: "desk@example.com", Name: "Desk"},
	}
	store.AddService(ts.cut)
	for _, a := range []appointment.Actor{ts.customer, ts.other, ts.admin} {
		store.AddUser(appointment.User{ID: a.UserID, Name: a.Name, Email: a.Email, Role: a.Role})
	}

	svc := appointment.NewService(appointment.Deps{
		Store:     store,
		Calendars: store,
		Catalog:   store,
		Users:     store,
		Locker:    redisclient.NewLocalSlotLocker(cfg.LockTTL, cfg.LockWait),
	}, cfg, zerolog.Nop())
	svc.SetClock(func() time.Time { return fixedNow })

	rc := RouterConfig{
		Service: svc,
		Auth:    ts.auth,
		Logger:  zerolog.Nop(),
		Env:     "prod",
		Version: "test",
	}
	for _, fn := range tweak {
		fn(&rc)
	}
	ts.handler = NewRouter(rc)
	return ts
}

func (ts *testServer) token(t *testing.T, actor appointment.Actor) string {
	t.Helper()
	tok, err := ts.auth.IssueToken(actor, time.Hour)
	require.NoError(t, err)
	return tok
}

func (ts *testServer) do(t *testing.T, method, path string, actor *appointment.Actor, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if actor != nil {
		req.Header.Set("Authorization", "Bearer "+ts.token(t, *actor))
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) book(t *testing.T, actor appointment.Actor, date, tm string) appointment.View {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/appointments", &actor, CreateAppointmentRequest{
		ServiceIDs: []string{ts.cut.ID.String()},
		Date:       date,
		Time:       tm,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var v appointment.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealthLive(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health/live", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = ts.do(t, http.MethodGet, "/health/ready", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAvailabilityIsPublic(t *testing.T) {
	ts := newTestServer(t)
	ts.book(t, ts.customer, "2026-10-12", "09:00")

	rec := ts.do(t, http.MethodGet, "/availability?date=2026-10-12&duration=30", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AvailabilityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Open)
	assert.Equal(t, 30, resp.Duration)
	require.NotEmpty(t, resp.Slots)
	assert.Equal(t, "09:30", resp.Slots[0])
}

func TestAvailabilityErrors(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		path   string
		status int
		kind   apperr.Kind
	}{
		{name: "missing date", path: "/availability", status: http.StatusBadRequest, kind: apperr.KindValidation},
		{name: "malformed date", path: "/availability?date=12/10/2026", status: http.StatusBadRequest, kind: apperr.KindValidation},
		{name: "past date", path: "/availability?date=2026-10-01", status: http.StatusUnprocessableEntity, kind: apperr.KindOutOfRange},
		{name: "beyond horizon", path: "/availability?date=2027-03-01", status: http.StatusUnprocessableEntity, kind: apperr.KindOutOfRange},
		{name: "bad duration", path: "/availability?date=2026-10-12&duration=abc", status: http.StatusBadRequest, kind: apperr.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, tt.path, nil, nil)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, string(tt.kind), decodeError(t, rec).Error)
		})
	}
}

func TestAvailableDays(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/availability/days?months=1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var open DaysResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &open))
	assert.Equal(t, "2026-10-12", open.Days[0])
	assert.NotContains(t, open.Days, "2026-10-17")

	rec = ts.do(t, http.MethodGet, "/availability/unavailable-days?months=1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var closed DaysResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &closed))
	assert.Contains(t, closed.Days, "2026-10-17")
}

func TestCreateAppointmentRequiresToken(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/appointments", nil, CreateAppointmentRequest{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/appointments/me", nil)
	forged, err := NewAuthenticator("other-secret").IssueToken(ts.customer, time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+forged)
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateAppointmentConflict(t *testing.T) {
	ts := newTestServer(t)

	v := ts.book(t, ts.customer, "2026-10-12", "10:00")
	assert.Equal(t, appointment.StatusPending, v.Status)
	assert.Equal(t, "10:30", v.EndTime)
	require.Len(t, v.Services, 1)
	assert.Equal(t, "Cut", v.Services[0].Name)

	rec := ts.do(t, http.MethodPost, "/appointments", &ts.other, CreateAppointmentRequest{
		ServiceIDs: []string{ts.cut.ID.String()},
		Date:       "2026-10-12",
		Time:       "10:00",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(apperr.KindSlotConflict), decodeError(t, rec).Error)

	rec = ts.do(t, http.MethodPost, "/appointments", &ts.other, CreateAppointmentRequest{
		ServiceIDs: []string{ts.cut.ID.String()},
		Date:       "2026-10-12",
		Time:       "14:00",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(apperr.KindSlotUnavailable), decodeError(t, rec).Error)
}

func TestCreateAppointmentRejectsBadBody(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		body any
	}{
		{name: "bad service id", body: CreateAppointmentRequest{ServiceIDs: []string{"nope"}, Date: "2026-10-12", Time: "10:00"}},
		{name: "bad time", body: CreateAppointmentRequest{ServiceIDs: []string{uuid.NewString()}, Date: "2026-10-12", Time: "25:00"}},
		{name: "unknown field", body: map[string]any{"slot_id": "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/appointments", &ts.customer, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestMyAppointmentsAndCancel(t *testing.T) {
	ts := newTestServer(t)
	v := ts.book(t, ts.customer, "2026-10-13", "16:00")
	ts.book(t, ts.other, "2026-10-13", "16:30")

	rec := ts.do(t, http.MethodGet, "/appointments/me", &ts.customer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var mine []appointment.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mine))
	require.Len(t, mine, 1)
	assert.Equal(t, v.ID, mine[0].ID)
	assert.Nil(t, mine[0].Customer)

	rec = ts.do(t, http.MethodGet, "/appointments/"+v.ID.String(), &ts.other, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/appointments/"+v.ID.String()+"/cancel", &ts.other, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, "/appointments/"+v.ID.String()+"/cancel", &ts.customer, CancelRequest{Reason: "sick"})
	require.Equal(t, http.StatusOK, rec.Code)
	var cancelled appointment.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cancelled))
	assert.Equal(t, appointment.StatusCancelled, cancelled.Status)
	assert.Equal(t, "sick", cancelled.CancellationReason)

	rec = ts.do(t, http.MethodGet, "/appointments/not-a-uuid", &ts.customer, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/admin/stats", "/admin/appointments", "/admin/calendar"} {
		rec := ts.do(t, http.MethodGet, path, &ts.customer, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code, path)
	}

	rec := ts.do(t, http.MethodGet, "/admin/stats", &ts.admin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminLifecycle(t *testing.T) {
	ts := newTestServer(t)
	v := ts.book(t, ts.customer, "2026-10-12", "10:00")
	base := "/admin/appointments/" + v.ID.String()

	rec := ts.do(t, http.MethodPost, base+"/confirm", &ts.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var confirmed appointment.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &confirmed))
	assert.Equal(t, appointment.StatusConfirmed, confirmed.Status)
	require.NotNil(t, confirmed.Customer)
	assert.Equal(t, "Ana", confirmed.Customer.Name)

	rec = ts.do(t, http.MethodPost, base+"/reschedule", &ts.admin, RescheduleRequest{Date: "2026-10-14", Time: "09:00"})
	require.Equal(t, http.StatusOK, rec.Code)
	var moved appointment.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &moved))
	assert.Equal(t, "2026-10-14", moved.Date)
	assert.Equal(t, "09:00", moved.Time)

	rec = ts.do(t, http.MethodPost, "/admin/appointments/"+moved.ID.String()+"/complete", &ts.admin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/admin/appointments?status=cancelled", &ts.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cancelled []appointment.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cancelled))
	require.Len(t, cancelled, 1)
	assert.Equal(t, v.ID, cancelled[0].ID)

	rec = ts.do(t, http.MethodGet, "/admin/appointments?status=archived", &ts.admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminExport(t *testing.T) {
	ts := newTestServer(t)
	ts.book(t, ts.customer, "2026-10-12", "10:00")

	rec := ts.do(t, http.MethodGet, "/admin/appointments/export", &ts.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".xlsx")
	// xlsx files are zip archives.
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))
}

func TestCalendarOverrideRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	v := ts.book(t, ts.customer, "2026-10-13", "10:00")

	rec := ts.do(t, http.MethodPut, "/admin/calendar/overrides/2026-10-13", &ts.admin, map[string]any{
		"reason":   "staff training",
		"schedule": map[string]any{"closed": true},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report appointment.RelocationReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 1, report.Moved)

	rec = ts.do(t, http.MethodGet, "/admin/calendar", &ts.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cal CalendarResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cal))
	require.Len(t, cal.Overrides, 1)
	assert.Equal(t, "2026-10-13", cal.Overrides[0].Date)
	assert.True(t, cal.Overrides[0].Schedule.Closed)
	assert.Len(t, cal.Weekly, 7)

	rec = ts.do(t, http.MethodGet, "/appointments/"+v.ID.String(), &ts.customer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var old appointment.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &old))
	assert.Equal(t, appointment.StatusCancelled, old.Status)

	rec = ts.do(t, http.MethodDelete, "/admin/calendar/overrides/2026-10-13", &ts.admin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodDelete, "/admin/calendar/overrides/2026-10-13", &ts.admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, func(rc *RouterConfig) {
		rc.RateLimitRPS = 0.001
		rc.RateLimitBurst = 1
	})

	rec := ts.do(t, http.MethodGet, "/services", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodGet, "/services", nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, retryAfterSeconds, rec.Header().Get("Retry-After"))

	// Health checks are not limited.
	rec = ts.do(t, http.MethodGet, "/health/live", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestErrorWriterMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		status     int
		retryAfter bool
	}{
		{name: "validation", err: apperr.Validation("bad"), status: http.StatusBadRequest},
		{name: "not found", err: apperr.NotFound("gone"), status: http.StatusNotFound},
		{name: "permission", err: apperr.Permission("no"), status: http.StatusForbidden},
		{name: "slot unavailable", err: apperr.SlotUnavailable("closed"), status: http.StatusConflict},
		{name: "slot conflict", err: apperr.SlotConflict("taken"), status: http.StatusConflict},
		{name: "out of range", err: apperr.OutOfRange("past"), status: http.StatusUnprocessableEntity},
		{name: "configuration", err: apperr.Configuration("broken"), status: http.StatusInternalServerError},
		{name: "transient", err: apperr.Transient(errors.New("lock wait"), "busy"), status: http.StatusServiceUnavailable, retryAfter: true},
		{name: "unresolvable", err: apperr.Unresolvable("none"), status: http.StatusConflict},
		{name: "unclassified", err: errors.New("boom"), status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			errorWriter{logger: zerolog.Nop()}.write(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.retryAfter, rec.Header().Get("Retry-After") != "")
			resp := decodeError(t, rec)
			assert.Empty(t, resp.Details)
			assert.NotContains(t, resp.Message, "boom")
		})
	}
}

func TestErrorWriterDetailsInDev(t *testing.T) {
	rec := httptest.NewRecorder()
	err := apperr.Transient(errors.New("redis: connection refused"), "slot lock unavailable")
	errorWriter{logger: zerolog.Nop(), dev: true}.write(rec, httptest.NewRequest(http.MethodGet, "/", nil), err)

	resp := decodeError(t, rec)
	assert.Equal(t, "transient", resp.Error)
	assert.Equal(t, "slot lock unavailable", resp.Message)
	assert.True(t, strings.Contains(resp.Details, "connection refused"))
}

func TestAuthenticatorParse(t *testing.T) {
	auth := NewAuthenticator(testSecret)
	actor := appointment.Actor{UserID: uuid.New(), Role: appointment.RoleSuperAdmin, Email: "root@example.com", Name: "Root"}

	tok, err := auth.IssueToken(actor, time.Hour)
	require.NoError(t, err)
	got, err := auth.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, actor, got)
	assert.True(t, got.IsAdmin())

	expired, err := auth.IssueToken(actor, -time.Minute)
	require.NoError(t, err)
	_, err = auth.Parse(expired)
	assert.Error(t, err)

	_, err = auth.Parse("not.a.token")
	assert.Error(t, err)
}

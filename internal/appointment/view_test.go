package appointment

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/hackgods/salon-booking-engine/internal/apperr"
)

func TestNewViewExpandsServices(t *testing.T) {
	cut := Offering{ID: uuid.New(), Name: "Cut", Duration: 30, Price: 20}
	gone := uuid.New()
	r := Reservation{
		ID:            uuid.New(),
		UserID:        uuid.New(),
		ServiceIDs:    []uuid.UUID{cut.ID, gone},
		Date:          day(12),
		Time:          at("16:30"),
		TotalDuration: 75,
		Status:        StatusConfirmed,
		CreatedAt:     fixedNow,
	}

	v := NewView(r, map[uuid.UUID]Offering{cut.ID: cut}, nil)

	assert.Equal(t, "2026-10-12", v.Date)
	assert.Equal(t, "16:30", v.Time)
	assert.Equal(t, "17:45", v.EndTime)
	require.Len(t, v.Services, 2)
	assert.Equal(t, "Cut", v.Services[0].Name)
	assert.Equal(t, unavailableServiceName, v.Services[1].Name)
	assert.Zero(t, v.Services[1].Duration)
	assert.InDelta(t, 20.0, v.TotalPrice, 0.001)
	assert.Nil(t, v.Customer)
}

func TestViewsAttachCustomers(t *testing.T) {
	f := newFixture(t)
	r := f.book(t, f.customer, day(12), "10:00", f.colour)

	views, err := f.svc.Views(context.Background(), []Reservation{*r}, true)
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.NotNil(t, views[0].Customer)
	assert.Equal(t, "Ana", views[0].Customer.Name)
	assert.Equal(t, "Colour", views[0].Services[0].Name)
}

func TestExportAppointmentsWritesWorkbook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.book(t, f.customer, day(12), "10:00", f.cut, f.colour)
	f.book(t, f.other, day(13), "09:00")

	var buf bytes.Buffer
	require.NoError(t, f.svc.ExportAppointments(ctx, f.admin, ListFilter{}, &buf))

	wb, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer wb.Close()

	rows, err := wb.GetRows(exportSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, exportColumns, rows[0])
	assert.Equal(t, "2026-10-12", rows[1][1])
	assert.Equal(t, "10:00", rows[1][2])
	assert.Equal(t, "Ana", rows[1][6])
	assert.Equal(t, "Cut, Colour", rows[1][8])
	assert.Equal(t, "2026-10-13", rows[2][1])
}

func TestExportAppointmentsRequiresAdmin(t *testing.T) {
	f := newFixture(t)

	var buf bytes.Buffer
	err := f.svc.ExportAppointments(context.Background(), f.customer, ListFilter{}, &buf)
	assert.ErrorIs(t, err, apperr.ErrPermission)
	assert.Zero(t, buf.Len())
}

func TestListAppointmentsFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, f.customer, day(12), "10:00")
	f.book(t, f.other, day(13), "10:00")
	_, err := f.svc.CancelAppointment(ctx, f.customer, a.ID, "")
	require.NoError(t, err)

	from := day(13)
	list, err := f.svc.ListAppointments(ctx, f.admin, ListFilter{From: &from})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, day(13), list[0].Date)

	list, err = f.svc.ListAppointments(ctx, f.admin, ListFilter{Statuses: []Status{StatusCancelled}})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, a.ID, list[0].ID)

	to := day(10)
	_, err = f.svc.ListAppointments(ctx, f.admin, ListFilter{From: &from, To: &to})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.ListAppointments(ctx, f.admin, ListFilter{Statuses: []Status{"archived"}})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.book(t, f.customer, day(12), "10:00")
	f.book(t, f.other, day(12), "11:00")
	c := f.book(t, f.other, day(13), "11:00")
	_, err := f.svc.CancelAppointment(ctx, f.other, c.ID, "")
	require.NoError(t, err)

	stats, err := f.svc.Stats(ctx, f.admin)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Today)
	assert.Equal(t, 2, stats.ByStatus[StatusPending])
	assert.Equal(t, 1, stats.ByStatus[StatusCancelled])
	assert.Equal(t, 0, stats.ByStatus[StatusCompleted])

	require.Len(t, stats.Monthly, statsMonths)
	assert.Equal(t, "2026-05", stats.Monthly[0].Month)
	last := stats.Monthly[len(stats.Monthly)-1]
	assert.Equal(t, "2026-10", last.Month)
	assert.Equal(t, 3, last.Count)

	_, err = f.svc.Stats(ctx, f.customer)
	assert.ErrorIs(t, err, apperr.ErrPermission)
}

func TestReservationStartsAt(t *testing.T) {
	loc := time.FixedZone("CEST", 2*60*60)
	r := Reservation{Date: day(12), Time: at("09:30")}

	assert.Equal(t, time.Date(2026, 10, 12, 9, 30, 0, 0, loc), r.StartsAt(loc))
}

package appointment

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/salon-booking-engine/internal/apperr"
	"github.com/hackgods/salon-booking-engine/internal/calendar"
	"github.com/hackgods/salon-booking-engine/internal/config"
)

func TestCanTransition(t *testing.T) {
	all := []Status{StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNeedsRescheduling}
	allowed := map[Status][]Status{
		StatusPending:           {StatusConfirmed, StatusCompleted, StatusCancelled, StatusNeedsRescheduling},
		StatusConfirmed:         {StatusCompleted, StatusCancelled, StatusNeedsRescheduling},
		StatusNeedsRescheduling: {StatusCancelled},
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, s := range allowed[from] {
				if s == to {
					want = true
				}
			}
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}

	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusNeedsRescheduling.Terminal())
}

func TestCancelAppointmentIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.book(t, f.customer, day(12), "10:00")

	first, err := f.svc.CancelAppointment(ctx, f.customer, r.ID, "")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, first.Status)
	assert.Equal(t, "cancelled by user", first.CancellationReason)

	second, err := f.svc.CancelAppointment(ctx, f.customer, r.ID, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, second.Status)
	assert.Equal(t, "cancelled by user", second.CancellationReason)

	assert.Equal(t, []string{EventAppointmentCreated, EventAppointmentCancelled}, f.eventTypes())
}

func TestCancelAppointmentFreesTheSlot(t *testing.T) {
	f := newFixture(t)
	r := f.book(t, f.customer, day(12), "10:00")

	_, err := f.svc.CancelAppointment(context.Background(), f.customer, r.ID, "")
	require.NoError(t, err)

	again := f.book(t, f.other, day(12), "10:00")
	assert.Equal(t, StatusPending, again.Status)
}

func TestCancelAppointmentPermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.book(t, f.customer, day(12), "10:00")

	_, err := f.svc.CancelAppointment(ctx, f.other, r.ID, "")
	assert.ErrorIs(t, err, apperr.ErrPermission)

	got, err := f.svc.CancelAppointment(ctx, f.admin, r.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "cancelled by administrator", got.CancellationReason)
}

func TestCancelAppointmentUnknownID(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CancelAppointment(context.Background(), f.admin, uuid.New(), "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCancelCompletedAppointmentFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.book(t, f.customer, day(12), "10:00")

	_, err := f.svc.CompleteAppointment(ctx, f.admin, r.ID)
	require.NoError(t, err)

	_, err = f.svc.CancelAppointment(ctx, f.customer, r.ID, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestConfirmThenComplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.book(t, f.customer, day(12), "10:00")

	_, err := f.svc.ConfirmAppointment(ctx, f.customer, r.ID)
	assert.ErrorIs(t, err, apperr.ErrPermission)

	confirmed, err := f.svc.ConfirmAppointment(ctx, f.admin, r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, confirmed.Status)

	_, err = f.svc.ConfirmAppointment(ctx, f.admin, r.ID)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	completed, err := f.svc.CompleteAppointment(ctx, f.admin, r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, completed.Status)

	_, err = f.svc.CompleteAppointment(ctx, f.admin, r.ID)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	// Completed reservations keep holding their slot.
	res, err := f.svc.GetAvailability(ctx, day(12), 30)
	require.NoError(t, err)
	assert.NotContains(t, res.Slots, at("10:00"))
}

func TestAdminCancellationResolvesWaitingReservation(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config, cal *calendar.Calendar) {
		cfg.ResolverMaxDays = 0
		cal.SetOverride(calendar.Override{
			Date:     day(12),
			Schedule: calendar.OpenDay(calendar.Window{Open: at("09:00"), Close: at("10:00")}, nil),
		})
	})
	ctx := context.Background()

	waiting := f.book(t, f.customer, day(12), "09:00")
	blocker := f.book(t, f.other, day(12), "09:30")
	_, err := f.svc.ResolveConflict(ctx, ConflictInput{
		Original:   waiting,
		UserID:     waiting.UserID,
		ServiceIDs: waiting.ServiceIDs,
		Date:       waiting.Date,
		Time:       waiting.Time,
		Duration:   waiting.TotalDuration,
		Displaced:  true,
	})
	require.ErrorIs(t, err, apperr.ErrUnresolvable)

	_, err = f.svc.CancelAppointment(ctx, f.admin, blocker.ID, "")
	require.NoError(t, err)

	got, err := f.store.GetReservation(ctx, waiting.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)

	list, err := f.svc.GetUserAppointments(ctx, f.customer)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, at("09:30"), list[1].Time)
	assert.Equal(t, StatusConfirmed, list[1].Status)
}

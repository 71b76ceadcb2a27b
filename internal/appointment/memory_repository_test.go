package appointment

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/salon-booking-engine/internal/apperr"
	"github.com/hackgods/salon-booking-engine/internal/config"
)

func newReservation(date int, hhmm string, status Status) *Reservation {
	return &Reservation{
		ID:            uuid.New(),
		UserID:        uuid.New(),
		ServiceIDs:    []uuid.UUID{uuid.New()},
		Date:          day(date),
		Time:          at(hhmm),
		TotalDuration: 30,
		Status:        status,
		CreatedAt:     fixedNow,
		UpdatedAt:     fixedNow,
	}
}

func TestMemorySlotTxRollsBackOnError(t *testing.T) {
	store := NewMemoryStore(config.DefaultCalendar())
	ctx := context.Background()
	boom := errors.New("boom")

	r := newReservation(12, "10:00", StatusPending)
	err := store.WithSlotTx(ctx, "k", func(ctx context.Context, tx SlotTx) error {
		require.NoError(t, tx.Insert(ctx, r))
		claims, err := tx.ActiveClaims(ctx, day(12))
		require.NoError(t, err)
		assert.Len(t, claims, 1, "own insert visible inside the transaction")
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = store.GetReservation(ctx, r.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestMemorySlotTxEnforcesActiveSlotUniqueness(t *testing.T) {
	store := NewMemoryStore(config.DefaultCalendar())
	ctx := context.Background()

	insert := func(r *Reservation) error {
		return store.WithSlotTx(ctx, "k", func(ctx context.Context, tx SlotTx) error {
			return tx.Insert(ctx, r)
		})
	}

	first := newReservation(12, "10:00", StatusPending)
	require.NoError(t, insert(first))
	assert.ErrorIs(t, insert(newReservation(12, "10:00", StatusConfirmed)), apperr.ErrSlotConflict)

	_, err := store.UpdateStatus(ctx, first.ID, StatusPending, StatusCancelled, "test")
	require.NoError(t, err)
	assert.NoError(t, insert(newReservation(12, "10:00", StatusConfirmed)))
}

func TestMemorySlotTxReplacesInOneStep(t *testing.T) {
	store := NewMemoryStore(config.DefaultCalendar())
	ctx := context.Background()

	original := newReservation(12, "10:00", StatusConfirmed)
	require.NoError(t, store.WithSlotTx(ctx, "a", func(ctx context.Context, tx SlotTx) error {
		return tx.Insert(ctx, original)
	}))

	moved := newReservation(12, "10:00", StatusConfirmed)
	err := store.WithSlotTx(ctx, "a", func(ctx context.Context, tx SlotTx) error {
		if _, err := tx.UpdateStatus(ctx, original.ID, StatusConfirmed, StatusCancelled, "rescheduled"); err != nil {
			return err
		}
		return tx.Insert(ctx, moved)
	})
	require.NoError(t, err)

	got, err := store.GetReservation(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, "rescheduled", got.CancellationReason)
}

func TestMemoryUpdateStatusIsCompareAndSet(t *testing.T) {
	store := NewMemoryStore(config.DefaultCalendar())
	ctx := context.Background()

	r := newReservation(12, "10:00", StatusPending)
	require.NoError(t, store.WithSlotTx(ctx, "k", func(ctx context.Context, tx SlotTx) error {
		return tx.Insert(ctx, r)
	}))

	_, err := store.UpdateStatus(ctx, r.ID, StatusConfirmed, StatusCompleted, "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	updated, err := store.UpdateStatus(ctx, r.ID, StatusPending, StatusConfirmed, "")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, updated.Status)
}

func TestMemoryCalendarVersionBumps(t *testing.T) {
	store := NewMemoryStore(nil)
	ctx := context.Background()

	_, err := store.LoadCalendar(ctx)
	assert.ErrorIs(t, err, apperr.ErrConfiguration)

	saved, err := store.SaveCalendar(ctx, config.DefaultCalendar())
	require.NoError(t, err)
	assert.EqualValues(t, 1, saved.Version)

	saved, err = store.SaveCalendar(ctx, config.DefaultCalendar())
	require.NoError(t, err)
	assert.EqualValues(t, 2, saved.Version)
}

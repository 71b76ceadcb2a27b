package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/salon-booking-engine/internal/availability"
	"github.com/hackgods/salon-booking-engine/internal/calendar"
	"github.com/hackgods/salon-booking-engine/internal/notify"
)

// SlotTx is the view of the store inside one slot-scoped atomic unit. Every
// read and write made through it commits or rolls back together.
type SlotTx interface {
	availability.ClaimReader
	LoadCalendar(ctx context.Context) (*calendar.Calendar, error)
	Insert(ctx context.Context, r *Reservation) error
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, reason string) (*Reservation, error)
}

// Store contains the reservation reads and writes needed by the service.
// Not-found results are reported as apperr not_found errors.
type Store interface {
	availability.ClaimReader

	// WithSlotTx runs fn atomically and mutually exclusive with every other
	// WithSlotTx call for the same key.
	WithSlotTx(ctx context.Context, key string, fn func(ctx context.Context, tx SlotTx) error) error

	GetReservation(ctx context.Context, id uuid.UUID) (*Reservation, error)
	// UpdateStatus moves id from one status to another. It fails with not_found
	// when the reservation is no longer in status from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, reason string) (*Reservation, error)
	MarkReminderSent(ctx context.Context, id uuid.UUID) error

	ListByUser(ctx context.Context, userID uuid.UUID) ([]Reservation, error)
	List(ctx context.Context, filter ListFilter) ([]Reservation, error)

	StatusCounts(ctx context.Context) (map[Status]int, error)
	CountActiveOn(ctx context.Context, date time.Time) (int, error)
	MonthlyCounts(ctx context.Context, from time.Time) (map[string]int, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}

// CalendarStore persists the single business calendar.
type CalendarStore interface {
	LoadCalendar(ctx context.Context) (*calendar.Calendar, error)
	// SaveCalendar replaces the weekly pattern and all overrides and bumps the version.
	SaveCalendar(ctx context.Context, cal *calendar.Calendar) (*calendar.Calendar, error)
	PutOverride(ctx context.Context, o calendar.Override) error
	DeleteOverride(ctx context.Context, date time.Time) (bool, error)
}

// ServiceCatalog resolves service references.
type ServiceCatalog interface {
	// FindServicesByIDs returns the services that exist, in no particular order.
	FindServicesByIDs(ctx context.Context, ids []uuid.UUID) ([]Offering, error)
	ListServices(ctx context.Context) ([]Offering, error)
}

type UserDirectory interface {
	FindUser(ctx context.Context, id uuid.UUID) (*User, error)
}

// Notifier hands notifications to the delivery pipeline. Implementations must
// not block on delivery.
type Notifier interface {
	BookingConfirmed(ctx context.Context, p notify.BookingConfirmation) error
	Rescheduled(ctx context.Context, p notify.ReschedulingNotice) error
	Reminder(ctx context.Context, p notify.ReminderNotice) error
}

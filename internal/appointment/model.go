package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/salon-booking-engine/internal/calendar"
)

type Status string

const (
	StatusPending           Status = "pending"
	StatusConfirmed         Status = "confirmed"
	StatusCompleted         Status = "completed"
	StatusCancelled         Status = "cancelled"
	StatusNeedsRescheduling Status = "needsRescheduling"
)

// ActiveStatuses hold their slot exclusively.
var ActiveStatuses = []Status{StatusPending, StatusConfirmed, StatusCompleted}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNeedsRescheduling:
		return true
	}
	return false
}

// Active reports whether a reservation in this status occupies its slot.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed || s == StatusCompleted
}

const (
	MinDuration = 1
	MaxDuration = 480
)

// Reservation is a booked appointment. It is never deleted; cancellation is a status.
type Reservation struct {
	ID                 uuid.UUID
	UserID             uuid.UUID
	ServiceIDs         []uuid.UUID
	Date               time.Time
	Time               calendar.TimeOfDay
	TotalDuration      int
	Status             Status
	CancellationReason string
	Notes              string
	ReminderSent       bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// StartsAt is the reservation start in loc.
func (r Reservation) StartsAt(loc *time.Location) time.Time {
	y, m, d := r.Date.Date()
	return time.Date(y, m, d, r.Time.Minutes()/60, r.Time.Minutes()%60, 0, 0, loc)
}

// Offering is a catalog entry: one bookable salon service.
type Offering struct {
	ID       uuid.UUID
	Name     string
	Duration int // minutes
	Price    float64
}

type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "superadmin"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin || r == RoleSuperAdmin
}

type User struct {
	ID        uuid.UUID
	Name      string
	Email     string
	Role      Role
	CreatedAt time.Time
}

// Actor is the authenticated caller of an operation, as supplied by the identity provider.
type Actor struct {
	UserID uuid.UUID
	Role   Role
	Email  string
	Name   string
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin || a.Role == RoleSuperAdmin
}

// Candidate is a free (date, time) found by the conflict resolver.
type Candidate struct {
	Date time.Time
	Time calendar.TimeOfDay
}

type ListFilter struct {
	From     *time.Time
	To       *time.Time
	Statuses []Status
	UserID   *uuid.UUID
}

type MonthCount struct {
	Month string `json:"month"` // 2006-01
	Count int    `json:"count"`
}

type Stats struct {
	Today    int            `json:"today"`
	ByStatus map[Status]int `json:"by_status"`
	Monthly  []MonthCount   `json:"monthly"`
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

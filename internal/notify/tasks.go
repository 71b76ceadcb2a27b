// Package notify delivers booking notifications outside the booking
// transaction. Producers enqueue tasks after commit; a worker renders and sends
// them with at-least-once semantics.
package notify

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	TypeBookingConfirmation = "notify:booking_confirmation"
	TypeRescheduling        = "notify:rescheduling"
	TypeReminder            = "notify:reminder"
)

type BookingConfirmation struct {
	ReservationID string   `json:"reservation_id"`
	Email         string   `json:"email"`
	UserName      string   `json:"user_name"`
	Date          string   `json:"date"`
	Time          string   `json:"time"`
	Services      []string `json:"services"`
	Status        string   `json:"status"`
}

type ReschedulingNotice struct {
	ReservationID string   `json:"reservation_id"`
	Email         string   `json:"email"`
	UserName      string   `json:"user_name"`
	OldDate       string   `json:"old_date"`
	OldTime       string   `json:"old_time"`
	NewDate       string   `json:"new_date"`
	NewTime       string   `json:"new_time"`
	Services      []string `json:"services"`
}

type ReminderNotice struct {
	ReservationID string   `json:"reservation_id"`
	Email         string   `json:"email"`
	UserName      string   `json:"user_name"`
	Date          string   `json:"date"`
	Time          string   `json:"time"`
	Services      []string `json:"services"`
}

func NewBookingConfirmationTask(p BookingConfirmation) (*asynq.Task, error) {
	return newTask(TypeBookingConfirmation, p)
}

func NewReschedulingTask(p ReschedulingNotice) (*asynq.Task, error) {
	return newTask(TypeRescheduling, p)
}

func NewReminderTask(p ReminderNotice) (*asynq.Task, error) {
	return newTask(TypeReminder, p)
}

func newTask(typename string, payload any) (*asynq.Task, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", typename, err)
	}
	return asynq.NewTask(typename, b), nil
}

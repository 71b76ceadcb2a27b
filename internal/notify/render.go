package notify

import (
	"fmt"
	"strings"
)

func greeting(name string) string {
	if name == "" {
		return "Hello,"
	}
	return fmt.Sprintf("Hello %s,", name)
}

func serviceList(services []string) string {
	if len(services) == 0 {
		return "-"
	}
	return strings.Join(services, ", ")
}

func RenderBookingConfirmation(p BookingConfirmation) Message {
	var b strings.Builder
	fmt.Fprintln(&b, greeting(p.UserName))
	fmt.Fprintln(&b)
	fmt.Fprintf(&b, "Your appointment on %s at %s has been received.\n", p.Date, p.Time)
	fmt.Fprintf(&b, "Services: %s\n", serviceList(p.Services))
	if p.Status != "" {
		fmt.Fprintf(&b, "Status: %s\n", p.Status)
	}
	fmt.Fprintf(&b, "Reference: %s\n", p.ReservationID)
	return Message{
		To:      p.Email,
		Subject: fmt.Sprintf("Appointment booked for %s %s", p.Date, p.Time),
		Body:    b.String(),
	}
}

func RenderReschedulingNotice(p ReschedulingNotice) Message {
	var b strings.Builder
	fmt.Fprintln(&b, greeting(p.UserName))
	fmt.Fprintln(&b)
	fmt.Fprintf(&b, "Your appointment on %s at %s could not be kept.\n", p.OldDate, p.OldTime)
	fmt.Fprintf(&b, "It has been moved to %s at %s and is confirmed.\n", p.NewDate, p.NewTime)
	fmt.Fprintf(&b, "Services: %s\n", serviceList(p.Services))
	fmt.Fprintf(&b, "Reference: %s\n", p.ReservationID)
	return Message{
		To:      p.Email,
		Subject: fmt.Sprintf("Appointment moved to %s %s", p.NewDate, p.NewTime),
		Body:    b.String(),
	}
}

func RenderReminder(p ReminderNotice) Message {
	var b strings.Builder
	fmt.Fprintln(&b, greeting(p.UserName))
	fmt.Fprintln(&b)
	fmt.Fprintf(&b, "This is a reminder of your appointment on %s at %s.\n", p.Date, p.Time)
	fmt.Fprintf(&b, "Services: %s\n", serviceList(p.Services))
	return Message{
		To:      p.Email,
		Subject: fmt.Sprintf("Reminder: appointment on %s %s", p.Date, p.Time),
		Body:    b.String(),
	}
}

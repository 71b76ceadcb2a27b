package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/salon-booking-engine/internal/calendar"
)

const unavailableServiceName = "Service unavailable"

type ServiceView struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Duration int       `json:"duration_minutes"`
	Price    float64   `json:"price"`
}

type CustomerView struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}

// View is the presentation form of a reservation.
type View struct {
	ID                 uuid.UUID     `json:"id"`
	Date               string        `json:"date"`
	Time               string        `json:"time"`
	EndTime            string        `json:"end_time"`
	Duration           int           `json:"duration_minutes"`
	Status             Status        `json:"status"`
	Services           []ServiceView `json:"services"`
	TotalPrice         float64       `json:"total_price"`
	Notes              string        `json:"notes,omitempty"`
	CancellationReason string        `json:"cancellation_reason,omitempty"`
	Customer           *CustomerView `json:"customer,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// NewView maps a reservation to its view. Services missing from catalog are
// shown with a placeholder name so removed catalog entries do not hide history.
func NewView(r Reservation, catalog map[uuid.UUID]Offering, customer *User) View {
	v := View{
		ID:                 r.ID,
		Date:               calendar.FormatDate(r.Date),
		Time:               r.Time.String(),
		EndTime:            r.Time.Add(r.TotalDuration).String(),
		Duration:           r.TotalDuration,
		Status:             r.Status,
		Services:           make([]ServiceView, 0, len(r.ServiceIDs)),
		Notes:              r.Notes,
		CancellationReason: r.CancellationReason,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	for _, id := range r.ServiceIDs {
		svc, ok := catalog[id]
		if !ok {
			v.Services = append(v.Services, ServiceView{ID: id, Name: unavailableServiceName})
			continue
		}
		v.Services = append(v.Services, ServiceView{ID: svc.ID, Name: svc.Name, Duration: svc.Duration, Price: svc.Price})
		v.TotalPrice += svc.Price
	}
	if customer != nil {
		v.Customer = &CustomerView{ID: customer.ID, Name: customer.Name, Email: customer.Email}
	}
	return v
}

// Views maps reservations to views, loading their services in one catalog
// call. Customers are attached when withCustomer is set.
func (s *Service) Views(ctx context.Context, list []Reservation, withCustomer bool) ([]View, error) {
	var ids []uuid.UUID
	seen := make(map[uuid.UUID]struct{})
	for _, r := range list {
		for _, id := range r.ServiceIDs {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}

	catalog := make(map[uuid.UUID]Offering, len(ids))
	if len(ids) > 0 {
		found, err := s.catalog.FindServicesByIDs(ctx, ids)
		if err != nil {
			return nil, classify(err)
		}
		for _, svc := range found {
			catalog[svc.ID] = svc
		}
	}

	users := make(map[uuid.UUID]*User)
	views := make([]View, 0, len(list))
	for _, r := range list {
		var customer *User
		if withCustomer {
			u, ok := users[r.UserID]
			if !ok {
				var err error
				u, err = s.users.FindUser(ctx, r.UserID)
				if err != nil {
					s.logger.Warn().Err(err).Stringer("user_id", r.UserID).Msg("customer not found for appointment")
					u = nil
				}
				users[r.UserID] = u
			}
			customer = u
		}
		views = append(views, NewView(r, catalog, customer))
	}
	return views, nil
}

package appointment

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/salon-booking-engine/internal/apperr"
	"github.com/hackgods/salon-booking-engine/internal/availability"
	"github.com/hackgods/salon-booking-engine/internal/calendar"
)

// MemoryStore keeps everything in process. It backs STORE_BACKEND=memory and
// the package tests. Writes made inside WithSlotTx are buffered and applied
// on commit, where the active slot uniqueness rule is enforced the same way
// the Postgres partial unique index does.
type MemoryStore struct {
	mu           sync.RWMutex
	reservations map[uuid.UUID]*Reservation
	services     map[uuid.UUID]Offering
	users        map[uuid.UUID]User
	cal          *calendar.Calendar
	events       []EventLog

	keysMu sync.Mutex
	keys   map[string]chan struct{}
}

func NewMemoryStore(cal *calendar.Calendar) *MemoryStore {
	s := &MemoryStore{
		reservations: make(map[uuid.UUID]*Reservation),
		services:     make(map[uuid.UUID]Offering),
		users:        make(map[uuid.UUID]User),
		keys:         make(map[string]chan struct{}),
	}
	if cal != nil {
		s.cal = cal.Clone()
	}
	return s
}

func (s *MemoryStore) AddService(svc Offering) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[svc.ID] = svc
}

func (s *MemoryStore) AddUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// Events returns the event log in insertion order.
func (s *MemoryStore) Events() []EventLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.events)
}

// Catalog

func (s *MemoryStore) FindServicesByIDs(_ context.Context, ids []uuid.UUID) ([]Offering, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Offering, 0, len(ids))
	for _, id := range ids {
		if svc, ok := s.services[id]; ok {
			out = append(out, svc)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListServices(_ context.Context) ([]Offering, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Offering, 0, len(s.services))
	for _, svc := range s.services {
		out = append(out, svc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) FindUser(_ context.Context, id uuid.UUID) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, apperr.NotFound("user %s not found", id)
	}
	return &u, nil
}

// Calendar

func (s *MemoryStore) LoadCalendar(_ context.Context) (*calendar.Calendar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cal == nil {
		return nil, apperr.Configuration("business calendar is not configured")
	}
	return s.cal.Clone(), nil
}

func (s *MemoryStore) SaveCalendar(_ context.Context, cal *calendar.Calendar) (*calendar.Calendar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := cal.Clone()
	next.Version = 1
	if s.cal != nil {
		next.Version = s.cal.Version + 1
	}
	s.cal = next
	return next.Clone(), nil
}

func (s *MemoryStore) PutOverride(_ context.Context, o calendar.Override) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cal == nil {
		return apperr.Configuration("business calendar is not configured")
	}
	s.cal.SetOverride(o)
	s.cal.Version++
	return nil
}

func (s *MemoryStore) DeleteOverride(_ context.Context, date time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cal == nil || !s.cal.RemoveOverride(date) {
		return false, nil
	}
	s.cal.Version++
	return true, nil
}

// Reservations

func (s *MemoryStore) ActiveClaims(_ context.Context, date time.Time) ([]availability.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.claimsLocked(calendar.DateOf(date), nil), nil
}

func (s *MemoryStore) claimsLocked(date time.Time, skip map[uuid.UUID]bool) []availability.Claim {
	var claims []availability.Claim
	for _, r := range s.reservations {
		if r.Status.Active() && r.Date.Equal(date) && !skip[r.ID] {
			claims = append(claims, availability.Claim{Time: r.Time, Duration: r.TotalDuration})
		}
	}
	return claims
}

func (s *MemoryStore) GetReservation(_ context.Context, id uuid.UUID) (*Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reservations[id]
	if !ok {
		return nil, apperr.NotFound("appointment %s not found", id)
	}
	return cloneReservation(r), nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status, reason string) (*Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateStatusLocked(id, from, to, reason, time.Now())
}

func (s *MemoryStore) updateStatusLocked(id uuid.UUID, from, to Status, reason string, now time.Time) (*Reservation, error) {
	r, ok := s.reservations[id]
	if !ok || r.Status != from {
		return nil, apperr.NotFound("appointment %s in status %s not found", id, from)
	}
	r.Status = to
	if reason != "" {
		r.CancellationReason = reason
	}
	r.UpdatedAt = now
	return cloneReservation(r), nil
}

func (s *MemoryStore) MarkReminderSent(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return apperr.NotFound("appointment %s not found", id)
	}
	r.ReminderSent = true
	return nil
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]Reservation, error) {
	return s.List(ctx, ListFilter{UserID: &userID})
}

func (s *MemoryStore) List(_ context.Context, filter ListFilter) ([]Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Reservation
	for _, r := range s.reservations {
		if matches(r, filter) {
			out = append(out, *cloneReservation(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		if out[i].Time != out[j].Time {
			return out[i].Time < out[j].Time
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func matches(r *Reservation, f ListFilter) bool {
	if f.UserID != nil && r.UserID != *f.UserID {
		return false
	}
	if f.From != nil && r.Date.Before(calendar.DateOf(*f.From)) {
		return false
	}
	if f.To != nil && r.Date.After(calendar.DateOf(*f.To)) {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, r.Status) {
		return false
	}
	return true
}

func (s *MemoryStore) StatusCounts(_ context.Context) (map[Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[Status]int)
	for _, r := range s.reservations {
		counts[r.Status]++
	}
	return counts, nil
}

func (s *MemoryStore) CountActiveOn(ctx context.Context, date time.Time) (int, error) {
	claims, err := s.ActiveClaims(ctx, date)
	return len(claims), err
}

func (s *MemoryStore) MonthlyCounts(_ context.Context, from time.Time) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	from = calendar.DateOf(from)
	counts := make(map[string]int)
	for _, r := range s.reservations {
		if !r.Date.Before(from) {
			counts[r.Date.Format("2006-01")]++
		}
	}
	return counts, nil
}

func (s *MemoryStore) InsertEvent(_ context.Context, ev EventLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev.ID = int64(len(s.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	s.events = append(s.events, ev)
	return nil
}

// WithSlotTx serialises callers per key and commits fn's writes only when it
// returns nil.
func (s *MemoryStore) WithSlotTx(ctx context.Context, key string, fn func(ctx context.Context, tx SlotTx) error) error {
	sem := s.keySem(key)
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return apperr.Transient(ctx.Err(), "timed out waiting for slot %s", key)
	}
	defer func() { <-sem }()

	tx := &memoryTx{store: s}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

func (s *MemoryStore) keySem(key string) chan struct{} {
	s.keysMu.Lock()
	defer s.keysMu.Unlock()
	sem, ok := s.keys[key]
	if !ok {
		sem = make(chan struct{}, 1)
		s.keys[key] = sem
	}
	return sem
}

type statusChange struct {
	id       uuid.UUID
	from, to Status
	reason   string
}

type memoryTx struct {
	store   *MemoryStore
	inserts []*Reservation
	changes []statusChange
}

func (tx *memoryTx) LoadCalendar(ctx context.Context) (*calendar.Calendar, error) {
	return tx.store.LoadCalendar(ctx)
}

func (tx *memoryTx) ActiveClaims(_ context.Context, date time.Time) ([]availability.Claim, error) {
	date = calendar.DateOf(date)
	skip := make(map[uuid.UUID]bool)
	for _, c := range tx.changes {
		if !c.to.Active() {
			skip[c.id] = true
		}
	}

	tx.store.mu.RLock()
	claims := tx.store.claimsLocked(date, skip)
	tx.store.mu.RUnlock()

	for _, r := range tx.inserts {
		if r.Status.Active() && r.Date.Equal(date) {
			claims = append(claims, availability.Claim{Time: r.Time, Duration: r.TotalDuration})
		}
	}
	return claims, nil
}

func (tx *memoryTx) Insert(_ context.Context, r *Reservation) error {
	tx.inserts = append(tx.inserts, cloneReservation(r))
	return nil
}

func (tx *memoryTx) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, reason string) (*Reservation, error) {
	current, err := tx.store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, c := range tx.changes {
		if c.id == id {
			current.Status = c.to
		}
	}
	if current.Status != from {
		return nil, apperr.NotFound("appointment %s in status %s not found", id, from)
	}
	tx.changes = append(tx.changes, statusChange{id: id, from: from, to: to, reason: reason})
	current.Status = to
	if reason != "" {
		current.CancellationReason = reason
	}
	return current, nil
}

func (tx *memoryTx) commit() error {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range tx.changes {
		if r, ok := s.reservations[c.id]; !ok || r.Status != c.from {
			return apperr.NotFound("appointment %s in status %s not found", c.id, c.from)
		}
	}
	for _, r := range tx.inserts {
		if !r.Status.Active() {
			continue
		}
		for _, existing := range s.reservations {
			if existing.Status.Active() && existing.Date.Equal(r.Date) && existing.Time == r.Time && !tx.deactivates(existing.ID) {
				return apperr.SlotConflict("%s at %s is already booked", calendar.FormatDate(r.Date), r.Time)
			}
		}
	}

	now := time.Now()
	for _, c := range tx.changes {
		_, _ = s.updateStatusLocked(c.id, c.from, c.to, c.reason, now)
	}
	for _, r := range tx.inserts {
		s.reservations[r.ID] = r
	}
	return nil
}

func (tx *memoryTx) deactivates(id uuid.UUID) bool {
	for _, c := range tx.changes {
		if c.id == id && !c.to.Active() {
			return true
		}
	}
	return false
}

func cloneReservation(r *Reservation) *Reservation {
	out := *r
	out.ServiceIDs = slices.Clone(r.ServiceIDs)
	return &out
}

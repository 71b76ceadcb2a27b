package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/salon-booking-engine/internal/apperr"
	"github.com/hackgods/salon-booking-engine/internal/availability"
	"github.com/hackgods/salon-booking-engine/internal/calendar"
)

const activeSlotIndex = "reservations_active_slot_uniq"

const reservationColumns = `id, user_id, service_ids, date, start_minute, total_duration, status,
	cancellation_reason, notes, reminder_sent, created_at, updated_at`

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgStore implements Store, CalendarStore, ServiceCatalog and UserDirectory on Postgres.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Helpers

func scanReservation(row pgx.Row) (*Reservation, error) {
	var (
		r      Reservation
		minute int16
		status string
	)
	err := row.Scan(
		&r.ID,
		&r.UserID,
		&r.ServiceIDs,
		&r.Date,
		&minute,
		&r.TotalDuration,
		&status,
		&r.CancellationReason,
		&r.Notes,
		&r.ReminderSent,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Date = calendar.DateOf(r.Date)
	r.Time = calendar.TimeOfDay(minute)
	r.Status = Status(status)
	return &r, nil
}

func collectReservations(rows pgx.Rows) ([]Reservation, error) {
	defer rows.Close()

	var result []Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// classifyPgError maps driver failures onto the error taxonomy.
func classifyPgError(err error, op string) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			if pgErr.ConstraintName == activeSlotIndex {
				return apperr.Wrap(apperr.KindSlotConflict, err, "slot is already booked")
			}
			return apperr.Wrap(apperr.KindValidation, err, "%s: duplicate value", op)
		case "23503":
			return apperr.Wrap(apperr.KindNotFound, err, "%s: referenced %s does not exist", op, referencedEntity(pgErr.ConstraintName))
		case "40001", "40P01", "55P03", "57014":
			return apperr.Transient(err, "%s: database busy", op)
		}
	}

	var connErr *pgconn.ConnectError
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return apperr.Transient(err, "%s timed out", op)
	case pgconn.Timeout(err), errors.As(err, &connErr), pgconn.SafeToRetry(err):
		return apperr.Transient(err, "%s: database unavailable", op)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// referencedEntity names the row a foreign key constraint points at.
func referencedEntity(constraint string) string {
	switch {
	case strings.Contains(constraint, "user"):
		return "user"
	case strings.Contains(constraint, "service"):
		return "service"
	}
	return "record"
}

func activeStatusNames() []string {
	out := make([]string, len(ActiveStatuses))
	for i, st := range ActiveStatuses {
		out[i] = string(st)
	}
	return out
}

// Slot transactions

type pgSlotTx struct {
	tx pgx.Tx
}

// WithSlotTx runs fn in a transaction holding a transaction scoped advisory
// lock on key, so concurrent bookings of the same slot queue behind each other
// even without the Redis lock.
func (s *PgStore) WithSlotTx(ctx context.Context, key string, fn func(ctx context.Context, tx SlotTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return classifyPgError(err, "begin transaction")
	}
	defer func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return classifyPgError(err, "acquire slot lock")
	}

	if err := fn(ctx, &pgSlotTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return classifyPgError(err, "commit booking")
	}
	return nil
}

func (t *pgSlotTx) LoadCalendar(ctx context.Context) (*calendar.Calendar, error) {
	return loadCalendar(ctx, t.tx)
}

func (t *pgSlotTx) ActiveClaims(ctx context.Context, date time.Time) ([]availability.Claim, error) {
	return activeClaims(ctx, t.tx, date)
}

func (t *pgSlotTx) Insert(ctx context.Context, r *Reservation) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO reservations (`+reservationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, r.ID, r.UserID, r.ServiceIDs, r.Date, int16(r.Time), r.TotalDuration, string(r.Status),
		r.CancellationReason, r.Notes, r.ReminderSent, r.CreatedAt, r.UpdatedAt)
	return classifyPgError(err, "insert reservation")
}

func (t *pgSlotTx) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, reason string) (*Reservation, error) {
	return updateStatus(ctx, t.tx, id, from, to, reason)
}

// Reservations

func activeClaims(ctx context.Context, q querier, date time.Time) ([]availability.Claim, error) {
	rows, err := q.Query(ctx, `
		SELECT start_minute, total_duration
		FROM reservations
		WHERE date = $1
		  AND status = ANY($2)
		ORDER BY start_minute
	`, calendar.DateOf(date), activeStatusNames())
	if err != nil {
		return nil, classifyPgError(err, "load reservations")
	}
	defer rows.Close()

	var claims []availability.Claim
	for rows.Next() {
		var (
			minute   int16
			duration int
		)
		if err := rows.Scan(&minute, &duration); err != nil {
			return nil, classifyPgError(err, "scan reservation")
		}
		claims = append(claims, availability.Claim{Time: calendar.TimeOfDay(minute), Duration: duration})
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPgError(err, "load reservations")
	}
	return claims, nil
}

func updateStatus(ctx context.Context, q querier, id uuid.UUID, from, to Status, reason string) (*Reservation, error) {
	row := q.QueryRow(ctx, `
		UPDATE reservations
		SET status = $2,
		    cancellation_reason = CASE WHEN $4 <> '' THEN $4 ELSE cancellation_reason END,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+reservationColumns,
		id, string(to), string(from), reason)

	r, err := scanReservation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("appointment %s in status %s not found", id, from)
	}
	if err != nil {
		return nil, classifyPgError(err, "update reservation status")
	}
	return r, nil
}

func (s *PgStore) ActiveClaims(ctx context.Context, date time.Time) ([]availability.Claim, error) {
	return activeClaims(ctx, s.pool, date)
}

func (s *PgStore) GetReservation(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE id = $1
	`, id)
	r, err := scanReservation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("appointment %s not found", id)
	}
	if err != nil {
		return nil, classifyPgError(err, "get reservation")
	}
	return r, nil
}

func (s *PgStore) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, reason string) (*Reservation, error) {
	return updateStatus(ctx, s.pool, id, from, to, reason)
}

func (s *PgStore) MarkReminderSent(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE reservations
		SET reminder_sent = true,
		    updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return classifyPgError(err, "mark reminder sent")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("appointment %s not found", id)
	}
	return nil
}

func (s *PgStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]Reservation, error) {
	return s.List(ctx, ListFilter{UserID: &userID})
}

func (s *PgStore) List(ctx context.Context, filter ListFilter) ([]Reservation, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.UserID != nil {
		where = append(where, "user_id = "+arg(*filter.UserID))
	}
	if filter.From != nil {
		where = append(where, "date >= "+arg(calendar.DateOf(*filter.From)))
	}
	if filter.To != nil {
		where = append(where, "date <= "+arg(calendar.DateOf(*filter.To)))
	}
	if len(filter.Statuses) > 0 {
		names := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			names[i] = string(st)
		}
		where = append(where, "status = ANY("+arg(names)+")")
	}

	sql := `SELECT ` + reservationColumns + ` FROM reservations`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY date, start_minute, created_at`

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, classifyPgError(err, "list reservations")
	}
	list, err := collectReservations(rows)
	if err != nil {
		return nil, classifyPgError(err, "list reservations")
	}
	return list, nil
}

func (s *PgStore) StatusCounts(ctx context.Context) (map[Status]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM reservations GROUP BY status`)
	if err != nil {
		return nil, classifyPgError(err, "count reservations")
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, classifyPgError(err, "count reservations")
		}
		counts[Status(status)] = n
	}
	return counts, classifyPgError(rows.Err(), "count reservations")
}

func (s *PgStore) CountActiveOn(ctx context.Context, date time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM reservations
		WHERE date = $1
		  AND status = ANY($2)
	`, calendar.DateOf(date), activeStatusNames()).Scan(&n)
	if err != nil {
		return 0, classifyPgError(err, "count reservations")
	}
	return n, nil
}

func (s *PgStore) MonthlyCounts(ctx context.Context, from time.Time) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT to_char(date, 'YYYY-MM') AS month, count(*)
		FROM reservations
		WHERE date >= $1
		GROUP BY month
	`, calendar.DateOf(from))
	if err != nil {
		return nil, classifyPgError(err, "monthly counts")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			month string
			n     int
		)
		if err := rows.Scan(&month, &n); err != nil {
			return nil, classifyPgError(err, "monthly counts")
		}
		counts[month] = n
	}
	return counts, classifyPgError(rows.Err(), "monthly counts")
}

func (s *PgStore) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Calendar

type windowColumns struct {
	morningOpen, morningClose, afternoonOpen, afternoonClose *int16
}

func (w windowColumns) schedule(closed bool) calendar.DaySchedule {
	if closed {
		return calendar.ClosedDay()
	}
	return calendar.DaySchedule{
		Morning:   windowOf(w.morningOpen, w.morningClose),
		Afternoon: windowOf(w.afternoonOpen, w.afternoonClose),
	}
}

func windowOf(opens, closes *int16) *calendar.Window {
	if opens == nil || closes == nil {
		return nil
	}
	return &calendar.Window{Open: calendar.TimeOfDay(*opens), Close: calendar.TimeOfDay(*closes)}
}

func columnsOf(s calendar.DaySchedule) windowColumns {
	var w windowColumns
	if s.Morning != nil {
		o, c := int16(s.Morning.Open), int16(s.Morning.Close)
		w.morningOpen, w.morningClose = &o, &c
	}
	if s.Afternoon != nil {
		o, c := int16(s.Afternoon.Open), int16(s.Afternoon.Close)
		w.afternoonOpen, w.afternoonClose = &o, &c
	}
	return w
}

func loadCalendar(ctx context.Context, q querier) (*calendar.Calendar, error) {
	cal := calendar.New(nil)

	if err := q.QueryRow(ctx, `SELECT version FROM calendar_meta WHERE id = 1`).Scan(&cal.Version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.Configuration("business calendar is not configured")
		}
		return nil, classifyPgError(err, "load calendar version")
	}

	rows, err := q.Query(ctx, `
		SELECT weekday, closed, morning_open, morning_close, afternoon_open, afternoon_close
		FROM calendar_weekly
	`)
	if err != nil {
		return nil, classifyPgError(err, "load weekly schedule")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			day    int16
			closed bool
			w      windowColumns
		)
		if err := rows.Scan(&day, &closed, &w.morningOpen, &w.morningClose, &w.afternoonOpen, &w.afternoonClose); err != nil {
			return nil, classifyPgError(err, "scan weekly schedule")
		}
		cal.Weekly[calendar.Weekday(day)] = w.schedule(closed)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPgError(err, "load weekly schedule")
	}
	if len(cal.Weekly) == 0 {
		return nil, apperr.Configuration("business calendar is not configured")
	}

	orows, err := q.Query(ctx, `
		SELECT date, reason, closed, morning_open, morning_close, afternoon_open, afternoon_close
		FROM calendar_overrides
		ORDER BY date
	`)
	if err != nil {
		return nil, classifyPgError(err, "load calendar overrides")
	}
	defer orows.Close()
	for orows.Next() {
		var (
			o      calendar.Override
			closed bool
			w      windowColumns
		)
		if err := orows.Scan(&o.Date, &o.Reason, &closed, &w.morningOpen, &w.morningClose, &w.afternoonOpen, &w.afternoonClose); err != nil {
			return nil, classifyPgError(err, "scan calendar override")
		}
		o.Schedule = w.schedule(closed)
		cal.SetOverride(o)
	}
	if err := orows.Err(); err != nil {
		return nil, classifyPgError(err, "load calendar overrides")
	}
	return cal, nil
}

func (s *PgStore) LoadCalendar(ctx context.Context) (*calendar.Calendar, error) {
	return loadCalendar(ctx, s.pool)
}

func (s *PgStore) SaveCalendar(ctx context.Context, cal *calendar.Calendar) (*calendar.Calendar, error) {
	var saved *calendar.Calendar
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM calendar_weekly`); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM calendar_overrides`); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for day, sched := range cal.Weekly {
			w := columnsOf(sched)
			batch.Queue(`
				INSERT INTO calendar_weekly (weekday, closed, morning_open, morning_close, afternoon_open, afternoon_close)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, int16(day), !sched.IsOpen(), w.morningOpen, w.morningClose, w.afternoonOpen, w.afternoonClose)
		}
		for _, o := range cal.Overrides() {
			queueOverride(batch, o)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `UPDATE calendar_meta SET version = version + 1 WHERE id = 1`); err != nil {
			return err
		}
		var err error
		saved, err = loadCalendar(ctx, tx)
		return err
	})
	if err != nil {
		return nil, classifyPgError(err, "save calendar")
	}
	return saved, nil
}

func queueOverride(batch *pgx.Batch, o calendar.Override) {
	w := columnsOf(o.Schedule)
	batch.Queue(`
		INSERT INTO calendar_overrides (date, reason, closed, morning_open, morning_close, afternoon_open, afternoon_close, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (date) DO UPDATE SET
			reason = EXCLUDED.reason,
			closed = EXCLUDED.closed,
			morning_open = EXCLUDED.morning_open,
			morning_close = EXCLUDED.morning_close,
			afternoon_open = EXCLUDED.afternoon_open,
			afternoon_close = EXCLUDED.afternoon_close,
			updated_at = now()
	`, calendar.DateOf(o.Date), o.Reason, !o.Schedule.IsOpen(), w.morningOpen, w.morningClose, w.afternoonOpen, w.afternoonClose)
}

func (s *PgStore) PutOverride(ctx context.Context, o calendar.Override) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		queueOverride(batch, o)
		batch.Queue(`UPDATE calendar_meta SET version = version + 1 WHERE id = 1`)
		return tx.SendBatch(ctx, batch).Close()
	})
	return classifyPgError(err, "put calendar override")
}

func (s *PgStore) DeleteOverride(ctx context.Context, date time.Time) (bool, error) {
	var deleted bool
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM calendar_overrides WHERE date = $1`, calendar.DateOf(date))
		if err != nil {
			return err
		}
		deleted = tag.RowsAffected() > 0
		if !deleted {
			return nil
		}
		_, err = tx.Exec(ctx, `UPDATE calendar_meta SET version = version + 1 WHERE id = 1`)
		return err
	})
	if err != nil {
		return false, classifyPgError(err, "delete calendar override")
	}
	return deleted, nil
}

// Catalog and users

func (s *PgStore) FindServicesByIDs(ctx context.Context, ids []uuid.UUID) ([]Offering, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, duration_minutes, price::float8
		FROM services
		WHERE id = ANY($1)
		  AND active
	`, ids)
	if err != nil {
		return nil, classifyPgError(err, "find services")
	}
	return collectServices(rows)
}

func (s *PgStore) ListServices(ctx context.Context) ([]Offering, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, duration_minutes, price::float8
		FROM services
		WHERE active
		ORDER BY name
	`)
	if err != nil {
		return nil, classifyPgError(err, "list services")
	}
	return collectServices(rows)
}

func collectServices(rows pgx.Rows) ([]Offering, error) {
	defer rows.Close()
	var out []Offering
	for rows.Next() {
		var svc Offering
		if err := rows.Scan(&svc.ID, &svc.Name, &svc.Duration, &svc.Price); err != nil {
			return nil, classifyPgError(err, "scan service")
		}
		out = append(out, svc)
	}
	return out, classifyPgError(rows.Err(), "scan services")
}

func (s *PgStore) FindUser(ctx context.Context, id uuid.UUID) (*User, error) {
	var (
		u    User
		role string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, email, role, created_at
		FROM users
		WHERE id = $1
	`, id).Scan(&u.ID, &u.Name, &u.Email, &role, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("user %s not found", id)
	}
	if err != nil {
		return nil, classifyPgError(err, "find user")
	}
	u.Role = Role(role)
	return &u, nil
}

// UpsertUser inserts or refreshes a user keyed by email and returns its id.
func (s *PgStore) UpsertUser(ctx context.Context, u User) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, name, email, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (email) DO UPDATE SET
			name = EXCLUDED.name,
			role = EXCLUDED.role,
			updated_at = now()
		RETURNING id
	`, u.ID, u.Name, u.Email, string(u.Role)).Scan(&id)
	if err != nil {
		return uuid.Nil, classifyPgError(err, "upsert user")
	}
	return id, nil
}

func (s *PgStore) UpsertService(ctx context.Context, svc Offering) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO services (id, name, duration_minutes, price, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, true, now(), now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			duration_minutes = EXCLUDED.duration_minutes,
			price = EXCLUDED.price,
			updated_at = now()
	`, svc.ID, svc.Name, svc.Duration, svc.Price)
	return classifyPgError(err, "upsert service")
}

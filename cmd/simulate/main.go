package main

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/salon-booking-engine/internal/api"
	"github.com/hackgods/salon-booking-engine/internal/appointment"
	"github.com/hackgods/salon-booking-engine/internal/config"
	"github.com/hackgods/salon-booking-engine/internal/db"
	"github.com/hackgods/salon-booking-engine/internal/logging"
)

type SimConfig struct {
	APIBaseURL  string
	Duration    time.Duration
	Workers     int
	BookRatio   float64
	CancelRatio float64
	ReadRatio   float64
	UserLimit   int
	// TargetSlots bounds how many distinct slots the workers compete for.
	TargetSlots int
	PostgresDSN string
	JWTSecret   string
}

type target struct {
	Date string
	Time string
}

type booking struct {
	ID    uuid.UUID
	Token string
}

type DataPool struct {
	Tokens   []string
	Services []uuid.UUID
	Targets  []target

	mu       sync.Mutex
	bookings []booking
}

func (dp *DataPool) AddBooking(b booking) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.bookings = append(dp.bookings, b)
}

// TakeBooking removes and returns a random booking.
func (dp *DataPool) TakeBooking(rng *rand.Rand) (booking, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.bookings) == 0 {
		return booking{}, false
	}
	i := rng.IntN(len(dp.bookings))
	b := dp.bookings[i]
	dp.bookings = slices.Delete(dp.bookings, i, i+1)
	return b, true
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeConflict
	outcomeRetry
	outcomeError
)

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Retry     int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, o outcome) {
	atomic.AddInt64(&om.Total, 1)
	switch o {
	case outcomeSuccess:
		atomic.AddInt64(&om.Success, 1)
	case outcomeConflict:
		atomic.AddInt64(&om.Conflict, 1)
	case outcomeRetry:
		atomic.AddInt64(&om.Retry, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, lo, hi, p50, p95 time.Duration) {
	om.mu.Lock()
	latencies := slices.Clone(om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0
	}
	slices.Sort(latencies)

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	pct := func(p int) time.Duration {
		return latencies[min(len(latencies)*p/100, len(latencies)-1)]
	}
	return sum / time.Duration(len(latencies)), latencies[0], latencies[len(latencies)-1], pct(50), pct(95)
}

type Metrics struct {
	Booking      OperationMetrics
	Cancel       OperationMetrics
	MyBookings   OperationMetrics
	Availability OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	logger  zerolog.Logger
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		boot := logging.New("dev", "info")
		boot.Fatal().Err(err).Msg("failed to load base config")
	}
	logger := logging.New(baseCfg.Env, baseCfg.LogLevel).With().Str("service", "simulate").Logger()

	cfg := loadConfig(baseCfg)
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Int("target_slots", cfg.TargetSlots).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	sim.pool, err = sim.loadDataPool(ctx, pgPool)
	if err != nil {
		logger.Fatal().Err(err).Msg("load data pool")
	}
	logger.Info().
		Int("users", len(sim.pool.Tokens)).
		Int("services", len(sim.pool.Services)).
		Int("targets", len(sim.pool.Targets)).
		Msg("data pool loaded")

	sim.Run()
	sim.PrintReport()

	if err := reportExclusivity(context.Background(), pgPool); err != nil {
		logger.Fatal().Err(err).Msg("exclusivity check failed")
	}
}

func loadConfig(base config.Config) SimConfig {
	cfg := SimConfig{
		APIBaseURL:  getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:    getDuration("SIM_DURATION", 30*time.Second),
		Workers:     getInt("SIM_WORKERS", 20),
		BookRatio:   getFloat("SIM_BOOK_RATIO", 0.6),
		CancelRatio: getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:   getFloat("SIM_READ_RATIO", 0.3),
		UserLimit:   getInt("SIM_USER_LIMIT", 200),
		TargetSlots: getInt("SIM_TARGET_SLOTS", 20),
		PostgresDSN: base.PostgresDSN,
		JWTSecret:   cmp.Or(base.JWTSecret, api.DevJWTSecret),
	}

	// Normalize ratios
	total := cfg.BookRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.TargetSlots <= 0 {
		return fmt.Errorf("SIM_TARGET_SLOTS must be > 0")
	}
	return nil
}

// loadDataPool signs a token per seeded customer and picks the contended
// slots from the live availability endpoint.
func (s *Simulator) loadDataPool(ctx context.Context, pool *pgxpool.Pool) (*DataPool, error) {
	dp := &DataPool{}
	auth := api.NewAuthenticator(s.config.JWTSecret)

	rows, err := pool.Query(ctx, `SELECT id, name, email FROM users WHERE role = 'user' LIMIT $1`, s.config.UserLimit)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	for rows.Next() {
		var a appointment.Actor
		if err := rows.Scan(&a.UserID, &a.Name, &a.Email); err != nil {
			rows.Close()
			return nil, err
		}
		a.Role = appointment.RoleUser
		tok, err := auth.IssueToken(a, s.config.Duration+time.Hour)
		if err != nil {
			rows.Close()
			return nil, err
		}
		dp.Tokens = append(dp.Tokens, tok)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Shortest service only, so every generated slot is bookable.
	var svc uuid.UUID
	err = pool.QueryRow(ctx, `SELECT id FROM services WHERE active ORDER BY duration_minutes, name LIMIT 1`).Scan(&svc)
	if err != nil {
		return nil, fmt.Errorf("load services: %w", err)
	}
	dp.Services = []uuid.UUID{svc}

	if len(dp.Tokens) == 0 {
		return nil, fmt.Errorf("no users loaded, run cmd/seed first")
	}

	dp.Targets, err = s.loadTargets(ctx)
	if err != nil {
		return nil, err
	}
	if len(dp.Targets) == 0 {
		return nil, fmt.Errorf("no free slots within the booking horizon")
	}
	return dp, nil
}

func (s *Simulator) loadTargets(ctx context.Context) ([]target, error) {
	var days api.DaysResponse
	if err := s.getJSON(ctx, "/availability/days", &days); err != nil {
		return nil, fmt.Errorf("load days: %w", err)
	}

	var out []target
	for _, d := range days.Days {
		var res api.AvailabilityResponse
		if err := s.getJSON(ctx, "/availability?date="+d, &res); err != nil {
			return nil, fmt.Errorf("load availability for %s: %w", d, err)
		}
		for _, t := range res.Slots {
			out = append(out, target{Date: d, Time: t})
			if len(out) == s.config.TargetSlots {
				return out, nil
			}
		}
	}
	return out, nil
}

func (s *Simulator) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIBaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info().Msgf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r := rng.Float64()
		switch {
		case r < s.config.BookRatio:
			s.doBooking(ctx, rng)
		case r < s.config.BookRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng)
		case rng.IntN(2) == 0:
			s.doMyBookings(ctx, rng)
		default:
			s.doAvailability(ctx, rng)
		}
	}
}

func (s *Simulator) send(ctx context.Context, method, path, token string, body any) (int, []byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	var out bytes.Buffer
	_, _ = out.ReadFrom(resp.Body)
	return resp.StatusCode, out.Bytes(), nil
}

func classify(status int, err error, ok int) outcome {
	switch {
	case err != nil:
		return outcomeError
	case status == ok:
		return outcomeSuccess
	case status == http.StatusConflict:
		return outcomeConflict
	case status == http.StatusServiceUnavailable || status == http.StatusTooManyRequests:
		return outcomeRetry
	default:
		return outcomeError
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	tok := s.pool.Tokens[rng.IntN(len(s.pool.Tokens))]
	t := s.pool.Targets[rng.IntN(len(s.pool.Targets))]

	services := make([]string, len(s.pool.Services))
	for i, id := range s.pool.Services {
		services[i] = id.String()
	}

	start := time.Now()
	status, body, err := s.send(ctx, http.MethodPost, "/appointments", tok, api.CreateAppointmentRequest{
		ServiceIDs: services,
		Date:       t.Date,
		Time:       t.Time,
		Notes:      "load test",
	})
	latency := time.Since(start)

	o := classify(status, err, http.StatusCreated)
	if o == outcomeSuccess {
		var v appointment.View
		if json.Unmarshal(body, &v) == nil && v.ID != uuid.Nil {
			s.pool.AddBooking(booking{ID: v.ID, Token: tok})
		}
	}
	if ctx.Err() == nil {
		s.metrics.Booking.Record(latency, o)
	}
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.TakeBooking(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, _, err := s.send(ctx, http.MethodPost, "/appointments/"+b.ID.String()+"/cancel", b.Token, api.CancelRequest{Reason: "load test"})
	if ctx.Err() == nil {
		s.metrics.Cancel.Record(time.Since(start), classify(status, err, http.StatusOK))
	}
}

func (s *Simulator) doMyBookings(ctx context.Context, rng *rand.Rand) {
	tok := s.pool.Tokens[rng.IntN(len(s.pool.Tokens))]

	start := time.Now()
	status, _, err := s.send(ctx, http.MethodGet, "/appointments/me", tok, nil)
	if ctx.Err() == nil {
		s.metrics.MyBookings.Record(time.Since(start), classify(status, err, http.StatusOK))
	}
}

func (s *Simulator) doAvailability(ctx context.Context, rng *rand.Rand) {
	t := s.pool.Targets[rng.IntN(len(s.pool.Targets))]

	start := time.Now()
	status, _, err := s.send(ctx, http.MethodGet, "/availability?date="+t.Date, "", nil)
	if ctx.Err() == nil {
		s.metrics.Availability.Record(time.Since(start), classify(status, err, http.StatusOK))
	}
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Contended slots: %d\n", len(s.pool.Targets))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("My bookings", &s.metrics.MyBookings)
	printOperationReport("Availability", &s.metrics.Availability)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }
	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	retry := atomic.LoadInt64(&om.Retry)
	failed := atomic.LoadInt64(&om.Error)

	avg, lo, hi, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, pct(success))
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, pct(conflict))
	}
	if retry > 0 {
		fmt.Printf("  Retry later: %d (%.1f%%)\n", retry, pct(retry))
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, pct(failed))
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), lo.Round(time.Millisecond), hi.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// reportExclusivity fails when two active reservations share a start time
// or overlap.
func reportExclusivity(ctx context.Context, pool *pgxpool.Pool) error {
	const active = `('pending', 'confirmed', 'completed')`

	var duplicates, overlaps int
	err := pool.QueryRow(ctx, `
		SELECT count(*) FROM (
			SELECT date, start_minute FROM reservations
			WHERE status IN `+active+`
			GROUP BY date, start_minute HAVING count(*) > 1
		) d
	`).Scan(&duplicates)
	if err != nil {
		return err
	}
	err = pool.QueryRow(ctx, `
		SELECT count(*) FROM reservations a
		JOIN reservations b ON a.date = b.date AND a.id < b.id
		WHERE a.status IN `+active+` AND b.status IN `+active+`
		  AND a.start_minute < b.start_minute + b.total_duration
		  AND b.start_minute < a.start_minute + a.total_duration
	`).Scan(&overlaps)
	if err != nil {
		return err
	}

	fmt.Println("EXCLUSIVITY")
	fmt.Printf("  Slots with more than one active reservation: %d\n", duplicates)
	fmt.Printf("  Overlapping active reservations: %d (expected 0 only in overlap mode)\n", overlaps)
	if duplicates > 0 {
		return fmt.Errorf("%d slots double booked", duplicates)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

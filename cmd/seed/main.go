package main

import (
	"cmp"
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/salon-booking-engine/internal/api"
	"github.com/hackgods/salon-booking-engine/internal/app"
	"github.com/hackgods/salon-booking-engine/internal/appointment"
	"github.com/hackgods/salon-booking-engine/internal/config"
	"github.com/hackgods/salon-booking-engine/internal/db"
	"github.com/hackgods/salon-booking-engine/internal/logging"
)

// Salon menu with durations in minutes. IDs are derived from the name so
// reseeding updates rows instead of duplicating them.
var menu = []struct {
	name     string
	duration int
}{
	{"Haircut", 30},
	{"Beard trim", 30},
	{"Blow dry", 30},
	{"Colour", 90},
	{"Highlights", 120},
	{"Keratin treatment", 180},
	{"Manicure", 60},
	{"Pedicure", 60},
}

func main() {
	users := flag.Int("users", 200, "number of fake customers")
	adminEmail := flag.String("admin", "admin@salon.local", "email of the seeded administrator")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("dev", "info")
		boot.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New(cfg.Env, cfg.LogLevel).With().Str("service", "seed").Logger()
	if cfg.PostgresDSN == "" {
		logger.Fatal().Msg("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}
	store := appointment.NewPgStore(pool)

	if err := app.EnsureCalendar(ctx, store, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed calendar")
	}
	if err := seedServices(ctx, store, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed services")
	}
	admin, err := seedUsers(ctx, store, *users, *adminEmail, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed users")
	}

	tok, err := api.NewAuthenticator(cmp.Or(cfg.JWTSecret, api.DevJWTSecret)).IssueToken(admin, 24*time.Hour)
	if err != nil {
		logger.Fatal().Err(err).Msg("issue admin token")
	}
	fmt.Fprintf(os.Stdout, "admin token (24h): %s\n", tok)

	logger.Info().Msg("seed complete")
}

func seedServices(ctx context.Context, store *appointment.PgStore, logger zerolog.Logger) error {
	for _, item := range menu {
		svc := appointment.Offering{
			ID:       uuid.NewSHA1(uuid.NameSpaceURL, []byte("salon-service:"+item.name)),
			Name:     item.name,
			Duration: item.duration,
			Price:    float64(gofakeit.Number(15, 150)),
		}
		if err := store.UpsertService(ctx, svc); err != nil {
			return fmt.Errorf("service %s: %w", item.name, err)
		}
	}
	logger.Info().Int("count", len(menu)).Msg("services seeded")
	return nil
}

func seedUsers(ctx context.Context, store *appointment.PgStore, count int, adminEmail string, logger zerolog.Logger) (appointment.Actor, error) {
	admin := appointment.User{ID: uuid.New(), Name: "Front desk", Email: adminEmail, Role: appointment.RoleAdmin}
	adminID, err := store.UpsertUser(ctx, admin)
	if err != nil {
		return appointment.Actor{}, fmt.Errorf("admin: %w", err)
	}

	for i := 0; i < count; i++ {
		u := appointment.User{
			ID:    uuid.New(),
			Name:  gofakeit.Name(),
			Email: gofakeit.Email(),
			Role:  appointment.RoleUser,
		}
		if _, err := store.UpsertUser(ctx, u); err != nil {
			return appointment.Actor{}, fmt.Errorf("user %s: %w", u.Email, err)
		}
		if (i+1)%100 == 0 {
			logger.Info().Msgf("users seeded: %d/%d", i+1, count)
		}
	}
	logger.Info().Int("count", count).Msg("users seeded")

	return appointment.Actor{UserID: adminID, Role: appointment.RoleAdmin, Email: admin.Email, Name: admin.Name}, nil
}

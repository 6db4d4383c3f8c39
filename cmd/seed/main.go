package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/hackgods/clinic-scheduling-engine/internal/db"
	"github.com/hackgods/clinic-scheduling-engine/internal/logging"
	"github.com/hackgods/clinic-scheduling-engine/internal/seed"
)

func main() {
	practitioners := flag.Int("practitioners", 100, "practitioners to create")
	patients := flag.Int("patients", 9000, "patients to create")
	batch := flag.Int("batch", 500, "patients per transaction")
	seedValue := flag.Uint64("seed", uint64(time.Now().UnixNano()), "faker seed")
	flag.Parse()

	_ = godotenv.Load()
	logger := logging.New("seed", os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL"))

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		logger.Fatal().Msg("POSTGRES_DSN is required")
	}
	tz := os.Getenv("CLINIC_TIMEZONE")
	if tz == "" {
		tz = "America/Sao_Paulo"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid CLINIC_TIMEZONE")
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(connectCtx, dsn, db.DefaultPoolOptions, logger)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	ctx := context.Background()
	gen := seed.NewGenerator(*seedValue, loc)

	logger.Info().Int("count", *practitioners).Uint64("seed", *seedValue).Msg("seeding practitioners")
	if err := seed.InsertPractitioners(ctx, pool, gen.Practitioners(*practitioners)); err != nil {
		logger.Fatal().Err(err).Msg("seed practitioners")
	}

	logger.Info().Int("count", *patients).Msg("seeding patients")
	err = seed.InsertPatients(ctx, pool, gen.Patients(*patients), *batch, func(done, total int) {
		logger.Info().Int("done", done).Int("total", total).Msg("patients progress")
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("seed patients")
	}

	logger.Info().Msg("seed complete")
}

package main

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/hackgods/clinic-scheduling-engine/internal/db"
	"github.com/hackgods/clinic-scheduling-engine/internal/logging"
)

// Usage: migrate [up | down [N] | force V | version]
func main() {
	_ = godotenv.Load()
	logger := logging.New("migrate", os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL"))

	dsn := strings.TrimSpace(os.Getenv("POSTGRES_DSN"))
	if dsn == "" {
		logger.Fatal().Msg("POSTGRES_DSN is required")
	}

	mg, err := db.NewMigrator(dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("create migrator")
	}
	defer func() { _ = mg.Close() }()

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "up":
		err = mg.Up()
	case "down":
		steps := 1
		if len(os.Args) > 2 {
			if steps, err = strconv.Atoi(os.Args[2]); err != nil {
				logger.Fatal().Err(err).Msg("invalid step count")
			}
		}
		err = mg.Down(steps)
	case "force":
		if len(os.Args) < 3 {
			logger.Fatal().Msg("force needs a version")
		}
		v, convErr := strconv.Atoi(os.Args[2])
		if convErr != nil {
			logger.Fatal().Err(convErr).Msg("invalid version")
		}
		err = mg.Force(v)
	case "version":
	default:
		logger.Fatal().Str("command", cmd).Msg("unknown command, want up, down, force or version")
	}
	if err != nil {
		logger.Fatal().Err(err).Str("command", cmd).Msg("migration failed")
	}

	v, dirty, err := mg.Version()
	if err != nil {
		logger.Fatal().Err(err).Msg("read version")
	}
	logger.Info().Str("command", cmd).Uint("version", v).Bool("dirty", dirty).Msg("migrations complete")
}

package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"dropaccess/internal/database"
	"dropaccess/internal/logger"

	"github.com/golang-migrate/migrate/v4"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
)

type migrateConfig struct {
	DBConnectionString string `envconfig:"DB_CONNECTION_STRING" required:"true"`
	Environment        string `envconfig:"ENV" default:"production"`
	LogLevel           string `envconfig:"LOG_LEVEL" default:"info"`
}

const usage = `usage: migrate <command>

commands:
  up        apply all pending migrations
  down      roll back the most recent migration
  goto N    migrate up or down to version N
  status    print the current version
`

func main() {
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()

	_ = godotenv.Load()

	var cfg migrateConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log := logger.New("", "info")
		log.Fatal().Err(err).Msg("Error loading config")
	}
	log := logger.New(cfg.Environment, cfg.LogLevel)

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	db, err := database.Open(cfg.DBConnectionString, cfg.Environment == "development")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	m, err := database.NewMigrator(db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create migrator")
	}

	runErr := run(m, flag.Args(), log)
	if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
		log.Warn().AnErr("source", srcErr).AnErr("database", dbErr).Msg("Failed to close migrator")
	}
	if runErr != nil {
		log.Error().Err(runErr).Msg("Migration failed")
		os.Exit(1)
	}
}

func run(m *migrate.Migrate, args []string, log zerolog.Logger) error {
	var err error
	switch args[0] {
	case "up":
		err = m.Up()
	case "down":
		err = m.Steps(-1)
	case "goto":
		if len(args) != 2 {
			return errors.New("goto needs a version")
		}
		v, perr := strconv.ParseUint(args[1], 10, 32)
		if perr != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], perr)
		}
		err = m.Migrate(uint(v))
	case "status":
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	version, dirty, verr := m.Version()
	switch {
	case errors.Is(verr, migrate.ErrNilVersion):
		log.Info().Msg("No migrations applied")
	case verr != nil:
		return fmt.Errorf("read version: %w", verr)
	default:
		log.Info().Uint("version", version).Bool("dirty", dirty).Msg("Schema version")
	}
	return nil
}

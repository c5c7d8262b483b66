package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/ukschat/ukschat/internal/app"
	"github.com/ukschat/ukschat/internal/config"
	"github.com/ukschat/ukschat/internal/db"
)

// main runs the CLI entrypoint and exits on unrecoverable command errors.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if errRun := run(ctx, os.Args[1:]); errRun != nil {
		log.WithError(errRun).Error("command failed")
		os.Exit(1)
	}
}

// run parses flags, loads config, and starts the server or runs migrations.
func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ukschat", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file path (or env CONFIG_PATH)")
	envFile := fs.String("env-file", ".env", "dotenv file loaded before reading config")
	port := fs.Int("port", 0, "server port (overrides config and PORT)")
	migrateOnly := fs.Bool("migrate", false, "run database migrations and exit")
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}

	if path := strings.TrimSpace(*envFile); path != "" {
		if errEnv := godotenv.Load(path); errEnv != nil && !errors.Is(errEnv, os.ErrNotExist) {
			log.WithError(errEnv).Warnf("load %s failed", path)
		}
	}

	configPath := config.ResolveConfigPath(os.Getenv(config.EnvConfigPath))
	if strings.TrimSpace(*cfgPath) != "" {
		configPath = config.ResolveConfigPath(*cfgPath)
	}

	appCfg, err := config.Load(configPath)
	if errors.Is(err, config.ErrMissingDatabaseDSN) {
		dsn := db.BuildSQLiteDSN(db.DefaultSQLitePath)
		log.Infof("no database configured, using local sqlite database %s", db.DefaultSQLitePath)
		if errSet := os.Setenv(config.EnvDBConnection, dsn); errSet != nil {
			return errSet
		}
		appCfg, err = config.Load(configPath)
	}
	if err != nil {
		return err
	}
	if *port != 0 {
		if errValidate := validatePort(*port); errValidate != nil {
			return errValidate
		}
		appCfg.Port = *port
	}
	app.ConfigureLogging(appCfg)

	if *migrateOnly {
		if errMigrate := app.Migrate(ctx, appCfg); errMigrate != nil {
			return errMigrate
		}
		log.Info("migrations applied")
		return nil
	}

	log.Infof("starting ukschat with config=%s", appCfg.ConfigPath)
	return app.RunServer(ctx, appCfg)
}

func validatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port: %d", port)
	}
	return nil
}

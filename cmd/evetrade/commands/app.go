package commands

import (
	"context"
	"database/sql"
	"errors"
	"evetrade/internal/components/chrono"
	"evetrade/internal/components/configutil"
	"evetrade/internal/components/db"
	"evetrade/internal/components/telemetry"
	"evetrade/internal/esi"
	"evetrade/internal/jobs"
	"evetrade/internal/journal"
	"evetrade/internal/market"
	"evetrade/internal/snapshot"
	"evetrade/internal/stations"
	"fmt"
	"time"
)

// app is everything a command needs, wired from the config.
type app struct {
	config    Config
	db        *sql.DB
	tel       telemetry.API
	registry  *jobs.Registry
	telemetry telemetry.Telemetry
}

func (a *app) Close(ctx context.Context) error {
	return errors.Join(a.db.Close(), a.telemetry.Shutdown(ctx))
}

func openDB(config Config) (*sql.DB, error) {
	database, err := config.Database.OpenDB(db.Schema)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return database, nil
}

func readConfig() (Config, error) {
	config, err := configutil.ReadConfig[Config](configPath)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", configPath, err)
	}
	return config, nil
}

func setup(ctx context.Context) (*app, error) {
	telemetry.InitSlog(verbose)

	config, err := readConfig()
	if err != nil {
		return nil, err
	}

	otel, err := telemetry.Setup(ctx, "evetrade", config.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("setup telemetry: %w", err)
	}
	tel := telemetry.Multi{telemetry.SlogAPI{}, telemetry.NewOtelAPI("evetrade")}
	clock := chrono.NewStandardTime()

	database, err := openDB(config)
	if err != nil {
		return nil, errors.Join(err, otel.Shutdown(ctx))
	}

	client, err := esi.NewClient(config.Esi, tel)
	if err != nil {
		return nil, errors.Join(err, database.Close(), otel.Shutdown(ctx))
	}

	coord := snapshot.NewCoordinator(
		database,
		snapshot.WithTelemetry(tel),
		snapshot.WithTime(clock),
		snapshot.WithLockTTL(time.Duration(config.Refresh.LockTTLSeconds)*time.Second),
	)
	identity := config.Identity.WithDefaults()

	makeTx := db.NewMakeTx(database)
	registry := jobs.Builtin(
		market.NewRefresher(client, coord, clock, identity),
		journal.NewIngester(client, makeTx, tel, identity.CharacterID),
		journal.NewTransactionIngester(client, makeTx, clock, tel, identity.CharacterID),
		stations.NewResolver(client, database, clock, tel),
	)

	return &app{
		config:    config,
		db:        database,
		tel:       tel,
		registry:  registry,
		telemetry: otel,
	}, nil
}

// Command reconciler runs the one-shot startup reconciliation pass: after
// winning a short-lived leader election, it compares every transient/active
// island against the driver's live state and corrects divergences, then
// exits (SPEC_FULL §4.2).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"islandctl/src/config"
	"islandctl/src/database"
	"islandctl/src/driver"
	"islandctl/src/eventbus"
	"islandctl/src/logging"
	"islandctl/src/reconciler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "reconciler: config:", err)
		os.Exit(1)
	}
	log := logging.New("reconciler", cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	db, err := database.Open(cfg.DatabaseURL, database.Options{})
	if err != nil {
		log.Error(ctx, "reconciler: open database failed", logging.Err(err))
		os.Exit(1)
	}
	defer db.Close()

	islands := database.NewIslandRepository(db)
	teams := database.NewTeamRepository(db)

	drv := driver.NewLXDDriver(driver.LXDConfig{
		SocketPath:       cfg.LXDSocketPath,
		Project:          cfg.LXDProject,
		OperationTimeout: cfg.LXDOperationTimeout,
	})

	bus, err := eventbus.NewRedisBus(eventbus.RedisBusConfig{URL: cfg.RedisURL, Channel: cfg.RedisChannel}, log)
	if err != nil {
		log.Error(ctx, "reconciler: connect event bus failed", logging.Err(err))
		os.Exit(1)
	}
	defer bus.Close()

	r := reconciler.New(islands, teams, drv, bus, log)
	if err := r.RunIfLeader(ctx); err != nil {
		log.Error(ctx, "reconciler: pass failed", logging.Err(err))
		os.Exit(1)
	}
}

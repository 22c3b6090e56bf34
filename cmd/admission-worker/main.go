// Command admission-worker runs the two admission-control queue drains: the
// creation queue and the start queue, each ticking independently against the
// running-server cap (SPEC_FULL §4.3).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"islandctl/src/admission"
	"islandctl/src/config"
	"islandctl/src/database"
	"islandctl/src/driver"
	"islandctl/src/eventbus"
	"islandctl/src/kernel"
	"islandctl/src/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "admission-worker: config:", err)
		os.Exit(1)
	}
	log := logging.New("admission-worker", cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DatabaseURL, database.Options{})
	if err != nil {
		log.Error(ctx, "admission-worker: open database failed", logging.Err(err))
		os.Exit(1)
	}
	defer db.Close()

	islands := database.NewIslandRepository(db)
	teams := database.NewTeamRepository(db)
	creationQ := database.NewCreationQueueRepository(db)
	startQ := database.NewStartQueueRepository(db)
	updateQ := database.NewUpdateQueueRepository(db)

	drv := driver.NewLXDDriver(driver.LXDConfig{
		SocketPath:       cfg.LXDSocketPath,
		Project:          cfg.LXDProject,
		OperationTimeout: cfg.LXDOperationTimeout,
	})

	bus, err := eventbus.NewRedisBus(eventbus.RedisBusConfig{URL: cfg.RedisURL, Channel: cfg.RedisChannel}, log)
	if err != nil {
		log.Error(ctx, "admission-worker: connect event bus failed", logging.Err(err))
		os.Exit(1)
	}
	defer bus.Close()

	tasks := kernel.NewTaskRunner(8, 256, log)
	defer tasks.Stop()

	k := kernel.New(islands, teams, creationQ, startQ, updateQ, drv, bus, log, cfg, tasks)

	creationWorker := admission.NewCreationWorker(creationQ, islands, k, cfg, log)
	startWorker := admission.NewStartWorker(startQ, islands, k, cfg, log)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := creationWorker.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error(ctx, "admission-worker: creation worker stopped", logging.Err(err))
		}
	}()
	go func() {
		defer wg.Done()
		if err := startWorker.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error(ctx, "admission-worker: start worker stopped", logging.Err(err))
		}
	}()

	log.Info(ctx, "admission-worker: running")
	<-ctx.Done()
	log.Info(ctx, "admission-worker: shutting down")
	wg.Wait()
}

// Command update-worker drains the update queue: it wakes on an in-process
// signal from the kernel (same binary would need both, so this process
// drives its own kernel instance purely to enqueue reconciliation state) and
// on cross-process Postgres LISTEN/NOTIFY, applying the configured update
// strategy to each pending island (SPEC_FULL §4.4).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"islandctl/src/archive"
	"islandctl/src/config"
	"islandctl/src/database"
	"islandctl/src/driver"
	"islandctl/src/eventbus"
	"islandctl/src/kernel"
	"islandctl/src/logging"
	"islandctl/src/update"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "update-worker: config:", err)
		os.Exit(1)
	}
	log := logging.New("update-worker", cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DatabaseURL, database.Options{})
	if err != nil {
		log.Error(ctx, "update-worker: open database failed", logging.Err(err))
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
		log.Error(ctx, "update-worker: connect event bus failed", logging.Err(err))
		os.Exit(1)
	}
	defer bus.Close()

	var archiveStore archive.Store = archive.NullStore{}
	if cfg.ArchiveBucket != "" {
		s3Store, err := archive.NewS3Store(cfg.ArchiveBucket, cfg.AWSRegion)
		if err != nil {
			log.Error(ctx, "update-worker: open archive store failed", logging.Err(err))
			os.Exit(1)
		}
		archiveStore = s3Store
	}

	tasks := kernel.NewTaskRunner(8, 256, log)
	defer tasks.Stop()
	k := kernel.New(islands, teams, creationQ, startQ, updateQ, drv, bus, log, cfg, tasks)

	// Fan in the in-process enqueue signal and the cross-process
	// LISTEN/NOTIFY channel onto the single wake channel Worker selects on.
	wake := make(chan struct{}, 1)
	k.SetUpdateWakeChannel(wake)

	notifications, closeListener, err := db.Listener(ctx)
	if err != nil {
		log.Error(ctx, "update-worker: open listener failed", logging.Err(err))
		os.Exit(1)
	}
	defer closeListener()
	go func() {
		for range notifications {
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	}()

	worker := update.NewWorker(updateQ, islands, drv, k, archiveStore, bus, cfg, log, wake)

	log.Info(ctx, "update-worker: running")
	if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error(ctx, "update-worker: stopped", logging.Err(err))
		os.Exit(1)
	}
	log.Info(ctx, "update-worker: shut down")
}

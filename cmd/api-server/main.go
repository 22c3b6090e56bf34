// Command api-server runs the HTTP control-plane surface: it accepts island
// lifecycle requests, hands them to the kernel, and bridges the event bus to
// connected websocket clients.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"islandctl/src/api"
	"islandctl/src/config"
	"islandctl/src/database"
	"islandctl/src/driver"
	"islandctl/src/eventbus"
	"islandctl/src/fanout"
	"islandctl/src/kernel"
	"islandctl/src/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "api-server: config:", err)
		os.Exit(1)
	}
	log := logging.New("api-server", cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DatabaseURL, database.Options{})
	if err != nil {
		log.Error(ctx, "api-server: open database failed", logging.Err(err))
		os.Exit(1)
	}
	defer db.Close()
	if err := db.AutoMigrate(); err != nil {
		log.Error(ctx, "api-server: migrate failed", logging.Err(err))
		os.Exit(1)
	}

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
		log.Error(ctx, "api-server: connect event bus failed", logging.Err(err))
		os.Exit(1)
	}

	tasks := kernel.NewTaskRunner(8, 256, log)
	defer tasks.Stop()

	k := kernel.New(islands, teams, creationQ, startQ, updateQ, drv, bus, log, cfg, tasks)

	reg := fanout.NewRegistry(log)

	go func() {
		err := bus.Subscribe(ctx, func(msg eventbus.Message) {
			for _, recipientID := range msg.RecipientIDs {
				reg.Send(recipientID, msg.Type, msg.Payload)
			}
		})
		if err != nil && ctx.Err() == nil {
			log.Error(ctx, "api-server: event bus subscription ended", logging.Err(err))
		}
	}()

	srv := api.NewServer(k, reg, db, drv, log)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: srv.Router(),
	}

	go func() {
		log.Info(ctx, "api-server: listening", logging.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(ctx, "api-server: serve failed", logging.Err(err))
		}
	}()

	<-ctx.Done()
	log.Info(ctx, "api-server: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "api-server: shutdown failed", logging.Err(err))
	}
}

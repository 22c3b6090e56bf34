// Command migrate applies or checks the island control plane's schema
// against DATABASE_URL.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"islandctl/src/config"
	"islandctl/src/database"
)

func main() {
	action := flag.String("action", "up", "Migration action: up, status")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("migrate: config: %v", err)
	}

	db, err := database.Open(cfg.DatabaseURL, database.Options{})
	if err != nil {
		log.Fatalf("migrate: connect: %v", err)
	}
	defer db.Close()

	switch *action {
	case "up":
		log.Println("migrate: running migrations")
		if err := db.AutoMigrate(); err != nil {
			log.Fatalf("migrate: failed: %v", err)
		}
		log.Println("migrate: completed")

	case "status":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := db.HealthCheck(ctx); err != nil {
			log.Fatalf("migrate: database unhealthy: %v", err)
		}
		log.Println("migrate: database connection is healthy")

	default:
		log.Fatalf("migrate: unknown action %q, supported: up, status", *action)
	}
}

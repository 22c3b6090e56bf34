// Package database wires GORM to Postgres/CockroachDB for the island
// control plane: connection pooling, migrations, transactional scopes,
// and the LISTEN/NOTIFY channel the Update Worker wakes on.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"islandctl/src/models"
)

// UpdateQueueNotifyChannel is the Postgres NOTIFY channel the kernel
// signals on whenever a row is inserted into update_queue, and the one
// the Update Worker LISTENs on to wake without polling.
const UpdateQueueNotifyChannel = "islandctl_update_queue"

// Database wraps a GORM handle with the pooling and session discipline
// SPEC_FULL §5 requires: one session per request/background task, released
// on every exit path.
type Database struct {
	DB  *gorm.DB
	dsn string
}

// Options configures connection pooling; zero values fall back to the
// teacher's defaults.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open establishes a pooled connection to dsn (SPEC_FULL's DATABASE_URL).
func Open(dsn string, opts Options) (*Database, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database: dsn is required")
	}
	if opts.MaxOpenConns == 0 {
		opts.MaxOpenConns = 25
	}
	if opts.MaxIdleConns == 0 {
		opts.MaxIdleConns = 5
	}
	if opts.ConnMaxLifetime == 0 {
		opts.ConnMaxLifetime = 5 * time.Minute
	}

	gormLogger := gormlogger.New(
		log.New(log.Writer(), "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:      gormLogger,
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("database: connect: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database: underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database: ping: %w", err)
	}

	return &Database{DB: db, dsn: dsn}, nil
}

// AutoMigrate creates/updates every island-control-plane table.
func (d *Database) AutoMigrate() error {
	tables := []interface{}{
		&models.Island{},
		&models.Team{},
		&models.Member{},
		&models.CreationQueueEntry{},
		&models.StartQueueEntry{},
		&models.UpdateQueueEntry{},
	}
	for _, t := range tables {
		if err := d.DB.AutoMigrate(t); err != nil {
			return fmt.Errorf("database: migrate %T: %w", t, err)
		}
	}
	return nil
}

// Transaction runs fn within a single transaction, scoped to ctx.
func (d *Database) Transaction(ctx context.Context, fn func(*gorm.DB) error) error {
	return d.DB.WithContext(ctx).Transaction(fn)
}

// HealthCheck is consumed by the HTTP surface's /readyz probe.
func (d *Database) HealthCheck(ctx context.Context) error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("database: underlying sql.DB: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database: ping failed: %w", err)
	}
	return nil
}

func (d *Database) Stats() sql.DBStats {
	sqlDB, _ := d.DB.DB()
	return sqlDB.Stats()
}

func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Notify sends an empty NOTIFY on UpdateQueueNotifyChannel, waking any
// listening Update Worker process without it having to poll.
func (d *Database) Notify(ctx context.Context) error {
	return d.DB.WithContext(ctx).Exec(fmt.Sprintf("NOTIFY %s", pq.QuoteIdentifier(UpdateQueueNotifyChannel))).Error
}

// Listener opens a dedicated lib/pq listener connection on
// UpdateQueueNotifyChannel. The caller should range over the returned
// channel; it closes when ctx is cancelled.
func (d *Database) Listener(ctx context.Context) (<-chan *pq.Notification, func() error, error) {
	listener := pq.NewListener(d.dsn, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Printf("database: listener event error: %v", err)
		}
	})
	if err := listener.Listen(UpdateQueueNotifyChannel); err != nil {
		return nil, nil, fmt.Errorf("database: listen %s: %w", UpdateQueueNotifyChannel, err)
	}

	out := make(chan *pq.Notification, 16)
	go func() {
		defer close(out)
		defer listener.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case n := <-listener.Notify:
				select {
				case out <- n:
				case <-ctx.Done():
					return
				}
			case <-time.After(90 * time.Second):
				go func() { _ = listener.Ping() }()
			}
		}
	}()
	return out, listener.Close, nil
}

package models

import (
	"context"
	"time"
)

// QueueItemStatus is the status of a CreationQueueEntry or StartQueueEntry.
type QueueItemStatus string

const (
	QueueItemPending    QueueItemStatus = "PENDING"
	QueueItemProcessing QueueItemStatus = "PROCESSING"
	QueueItemFailed     QueueItemStatus = "FAILED"
)

// CreationQueueEntry is a pending CreateIsland request, queued when the
// running-island cap was exhausted at request time.
type CreationQueueEntry struct {
	ID          int64           `json:"id" gorm:"primaryKey;autoIncrement"`
	PlayerUUID  string          `json:"player_uuid" gorm:"uniqueIndex;type:uuid;not null"`
	PlayerName  *string         `json:"player_name,omitempty"`
	Status      QueueItemStatus `json:"status" gorm:"not null;index"`
	RequestedAt time.Time       `json:"requested_at" gorm:"not null;index"`
}

func (CreationQueueEntry) TableName() string { return "creation_queue" }

// StartQueueEntry is a pending StartIsland request, queued when the
// running-island cap was exhausted at request time.
type StartQueueEntry struct {
	ID          int64           `json:"id" gorm:"primaryKey;autoIncrement"`
	PlayerUUID  string          `json:"player_uuid" gorm:"uniqueIndex;type:uuid;not null"`
	PlayerName  *string         `json:"player_name,omitempty"`
	Status      QueueItemStatus `json:"status" gorm:"not null;index"`
	RequestedAt time.Time       `json:"requested_at" gorm:"not null;index"`
}

func (StartQueueEntry) TableName() string { return "start_queue" }

// UpdateQueueStatus is the status of an UpdateQueueEntry.
type UpdateQueueStatus string

const (
	UpdateQueuePending    UpdateQueueStatus = "PENDING"
	UpdateQueueProcessing UpdateQueueStatus = "PROCESSING"
	UpdateQueueCompleted  UpdateQueueStatus = "COMPLETED"
	UpdateQueueFailed     UpdateQueueStatus = "FAILED"
)

// UpdateQueueEntry is one island's pending fleet update, consumed by C6.
type UpdateQueueEntry struct {
	ID                int64             `json:"id" gorm:"primaryKey;autoIncrement"`
	IslandID          int64             `json:"island_id" gorm:"uniqueIndex;not null"`
	PlayerUUID        string            `json:"player_uuid" gorm:"type:uuid"`
	Status            UpdateQueueStatus `json:"status" gorm:"not null;index"`
	AddedToQueueAt    time.Time         `json:"added_to_queue_at" gorm:"not null"`
	ProcessingStartedAt *time.Time      `json:"processing_started_at,omitempty"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
	RetryCount        int               `json:"retry_count" gorm:"not null;default:0"`
	ErrorMessage      *string           `json:"error_message,omitempty"`
}

func (UpdateQueueEntry) TableName() string { return "update_queue" }

// CreationQueueRepository mirrors original_source/crud/crud_island_queue_ops.py.
type CreationQueueRepository interface {
	Add(ctx context.Context, playerUUID string, playerName *string) (*CreationQueueEntry, error)
	Next(ctx context.Context) (*CreationQueueEntry, error)
	Remove(ctx context.Context, playerUUID string) (bool, error)
	UpdateStatus(ctx context.Context, playerUUID string, status QueueItemStatus) (*CreationQueueEntry, error)
	Size(ctx context.Context, status *QueueItemStatus) (int, error)
}

// StartQueueRepository mirrors original_source/crud/crud_island_start_queue.py.
type StartQueueRepository interface {
	Add(ctx context.Context, playerUUID string, playerName *string) (*StartQueueEntry, error)
	Next(ctx context.Context) (*StartQueueEntry, error)
	Remove(ctx context.Context, playerUUID string) (bool, error)
	UpdateStatus(ctx context.Context, playerUUID string, status QueueItemStatus) (*StartQueueEntry, error)
}

// UpdateQueueRepository mirrors original_source/crud/crud_update_queue.py.
type UpdateQueueRepository interface {
	AddIsland(ctx context.Context, islandID int64, playerUUID string) (*UpdateQueueEntry, error)
	GetByIslandID(ctx context.Context, islandID int64) (*UpdateQueueEntry, error)
	NextPending(ctx context.Context) (*UpdateQueueEntry, error)
	AllPending(ctx context.Context) ([]*UpdateQueueEntry, error)
	SetProcessing(ctx context.Context, entryID int64) (*UpdateQueueEntry, error)
	SetCompleted(ctx context.Context, entryID int64) (*UpdateQueueEntry, error)
	SetFailed(ctx context.Context, entryID int64, errMsg string, retryCount int) (*UpdateQueueEntry, error)
}

func CreateQueueTables() string {
	return `
CREATE TABLE IF NOT EXISTS creation_queue (
    id BIGSERIAL PRIMARY KEY,
    player_uuid UUID NOT NULL UNIQUE,
    player_name VARCHAR(64),
    status VARCHAR(16) NOT NULL,
    requested_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_creation_queue_status_requested ON creation_queue (status, requested_at);

CREATE TABLE IF NOT EXISTS start_queue (
    id BIGSERIAL PRIMARY KEY,
    player_uuid UUID NOT NULL UNIQUE,
    player_name VARCHAR(64),
    status VARCHAR(16) NOT NULL,
    requested_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_start_queue_status_requested ON start_queue (status, requested_at);

CREATE TABLE IF NOT EXISTS update_queue (
    id BIGSERIAL PRIMARY KEY,
    island_id BIGINT NOT NULL UNIQUE REFERENCES islands(id) ON DELETE CASCADE,
    player_uuid UUID,
    status VARCHAR(16) NOT NULL,
    added_to_queue_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    processing_started_at TIMESTAMPTZ,
    completed_at TIMESTAMPTZ,
    retry_count INTEGER NOT NULL DEFAULT 0,
    error_message TEXT
);
CREATE INDEX IF NOT EXISTS idx_update_queue_status_added ON update_queue (status, added_to_queue_at);
`
}

func DropQueueTables() string {
	return `
DROP TABLE IF EXISTS update_queue CASCADE;
DROP TABLE IF EXISTS start_queue CASCADE;
DROP TABLE IF EXISTS creation_queue CASCADE;
`
}

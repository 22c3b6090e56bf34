// Package models defines the persisted entities of the island control
// plane (Island, Team, Member, and the three admission/update queues) and
// the repository contract the kernel consumes to read and mutate them.
package models

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// IslandStatus is the island lifecycle state from SPEC_FULL §4.1.
type IslandStatus string

const (
	IslandStatusPendingCreation IslandStatus = "PENDING_CREATION"
	IslandStatusStopped         IslandStatus = "STOPPED"
	IslandStatusPendingStart    IslandStatus = "PENDING_START"
	IslandStatusRunning         IslandStatus = "RUNNING"
	IslandStatusPendingFreeze   IslandStatus = "PENDING_FREEZE"
	IslandStatusFrozen          IslandStatus = "FROZEN"
	IslandStatusPendingStop     IslandStatus = "PENDING_STOP"
	IslandStatusPendingUpdate   IslandStatus = "PENDING_UPDATE"
	IslandStatusUpdating        IslandStatus = "UPDATING"
	IslandStatusErrorCreate     IslandStatus = "ERROR_CREATE"
	IslandStatusErrorStart      IslandStatus = "ERROR_START"
	IslandStatusUpdateFailed    IslandStatus = "UPDATE_FAILED"
	IslandStatusError           IslandStatus = "ERROR"
	IslandStatusDeleting        IslandStatus = "DELETING"
	IslandStatusArchived        IslandStatus = "ARCHIVED"
)

// Valid reports whether s is one of the known lifecycle states.
func (s IslandStatus) Valid() bool {
	switch s {
	case IslandStatusPendingCreation, IslandStatusStopped, IslandStatusPendingStart,
		IslandStatusRunning, IslandStatusPendingFreeze, IslandStatusFrozen,
		IslandStatusPendingStop, IslandStatusPendingUpdate, IslandStatusUpdating,
		IslandStatusErrorCreate, IslandStatusErrorStart, IslandStatusUpdateFailed,
		IslandStatusError, IslandStatusDeleting, IslandStatusArchived:
		return true
	default:
		return false
	}
}

func (s IslandStatus) String() string { return string(s) }

// legalTransitions enumerates, for each origin status, the set of statuses
// a single atomic write may move an island to. This is the synchronous
// half (PENDING_*) and the worker-outcome half (terminal) of the table in
// SPEC_FULL §4.1 collapsed into one adjacency set per origin, since both
// are "legal next observed status" from the origin's point of view.
var legalTransitions = map[IslandStatus]map[IslandStatus]bool{
	IslandStatusPendingCreation: {IslandStatusStopped: true, IslandStatusErrorCreate: true},
	IslandStatusStopped: {
		IslandStatusPendingStart:  true,
		IslandStatusPendingUpdate: true,
		IslandStatusDeleting:      true,
	},
	IslandStatusPendingStart: {IslandStatusRunning: true, IslandStatusErrorStart: true},
	IslandStatusRunning: {
		IslandStatusPendingFreeze: true,
		IslandStatusPendingStop:   true,
	},
	IslandStatusPendingFreeze: {IslandStatusFrozen: true, IslandStatusError: true},
	IslandStatusFrozen: {
		IslandStatusPendingStart: true,
		IslandStatusPendingStop:  true,
		IslandStatusDeleting:     true,
	},
	IslandStatusPendingStop:   {IslandStatusStopped: true, IslandStatusError: true},
	IslandStatusPendingUpdate: {IslandStatusUpdating: true, IslandStatusUpdateFailed: true},
	IslandStatusUpdating:      {IslandStatusStopped: true, IslandStatusRunning: true, IslandStatusUpdateFailed: true},
	IslandStatusErrorStart: {
		IslandStatusPendingStop: true,
		IslandStatusDeleting:    true,
	},
	IslandStatusUpdateFailed: {IslandStatusDeleting: true, IslandStatusPendingUpdate: true},
	IslandStatusError:        {IslandStatusDeleting: true},
	IslandStatusDeleting:     {IslandStatusArchived: true, IslandStatusError: true},
}

// CanTransitionTo reports whether moving from s to target is a legal single
// step per the adjacency table above.
func (s IslandStatus) CanTransitionTo(target IslandStatus) bool {
	next, ok := legalTransitions[s]
	if !ok {
		return false
	}
	return next[target]
}

// Island is one containerised game-server instance, owned by a team or
// (legacy) directly by a single player.
type Island struct {
	ID             int64        `json:"id" gorm:"primaryKey;autoIncrement"`
	TeamID         *int64       `json:"team_id,omitempty" gorm:"uniqueIndex"`
	PlayerUUID     *string      `json:"player_uuid,omitempty" gorm:"uniqueIndex;type:uuid"`
	ContainerName  string       `json:"container_name" gorm:"uniqueIndex;not null"`
	Status         IslandStatus `json:"status" gorm:"not null;index"`
	InternalIP     *string      `json:"internal_ip,omitempty"`
	InternalPort   int          `json:"internal_port" gorm:"default:25565"`
	MinecraftReady bool         `json:"minecraft_ready" gorm:"not null;default:false"`
	CreatedAt      time.Time    `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt      time.Time    `json:"updated_at" gorm:"autoUpdateTime"`
	LastSeenAt     *time.Time   `json:"last_seen_at,omitempty"`
}

func (Island) TableName() string { return "islands" }

// Validate enforces the Island invariants from SPEC_FULL §3.
func (i *Island) Validate() error {
	if i.TeamID == nil && i.PlayerUUID == nil {
		return errors.New("island must have exactly one of team_id or player_uuid")
	}
	if i.TeamID != nil && i.PlayerUUID != nil {
		return errors.New("island must not have both team_id and player_uuid")
	}
	if i.ContainerName == "" {
		return errors.New("container_name is required")
	}
	if !i.Status.Valid() {
		return fmt.Errorf("invalid island status %q", i.Status)
	}
	if i.MinecraftReady && i.Status != IslandStatusRunning {
		return errors.New("minecraft_ready can only be true while status=RUNNING")
	}
	switch i.Status {
	case IslandStatusStopped, IslandStatusErrorCreate, IslandStatusErrorStart, IslandStatusError, IslandStatusPendingCreation:
		if i.InternalIP != nil {
			return fmt.Errorf("internal_ip must be null while status=%s", i.Status)
		}
	}
	return nil
}

// BeforeCreate fills in defaults and validates before an INSERT.
func (i *Island) BeforeCreate() error {
	if i.Status == "" {
		i.Status = IslandStatusPendingCreation
	}
	if i.InternalPort == 0 {
		i.InternalPort = 25565
	}
	now := time.Now().UTC()
	i.CreatedAt = now
	i.UpdatedAt = now
	return i.Validate()
}

// BeforeUpdate stamps UpdatedAt and re-validates before an UPDATE.
func (i *Island) BeforeUpdate() error {
	i.UpdatedAt = time.Now().UTC()
	return i.Validate()
}

// IsRunning reports whether the island is currently serving players.
func (i *Island) IsRunning() bool { return i.Status == IslandStatusRunning }

// IslandView is the read-facing projection returned by kernel operations.
type IslandView struct {
	ID             int64        `json:"id"`
	TeamID         *int64       `json:"team_id,omitempty"`
	PlayerUUID     *string      `json:"player_uuid,omitempty"`
	ContainerName  string       `json:"container_name"`
	Status         IslandStatus `json:"status"`
	InternalIP     *string      `json:"internal_ip,omitempty"`
	InternalPort   int          `json:"internal_port"`
	MinecraftReady bool         `json:"minecraft_ready"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// NewIslandView projects a persisted Island into its read-facing view.
func NewIslandView(i *Island) IslandView {
	return IslandView{
		ID:             i.ID,
		TeamID:         i.TeamID,
		PlayerUUID:     i.PlayerUUID,
		ContainerName:  i.ContainerName,
		Status:         i.Status,
		InternalIP:     i.InternalIP,
		InternalPort:   i.InternalPort,
		MinecraftReady: i.MinecraftReady,
		CreatedAt:      i.CreatedAt,
		UpdatedAt:      i.UpdatedAt,
	}
}

// IslandRepository is the persistence contract the kernel, admission
// workers, update worker, and reconciler consume for Island rows.
type IslandRepository interface {
	Create(ctx context.Context, island *Island) error
	Get(ctx context.Context, id int64) (*Island, error)
	GetByPlayerUUID(ctx context.Context, playerUUID string) (*Island, error)
	GetByTeamID(ctx context.Context, teamID int64) (*Island, error)
	Update(ctx context.Context, island *Island) error
	// AtomicStatusUpdate performs a single-row UPDATE of status (plus any
	// extraFields) and returns the refreshed row, matching the original
	// CRUDisland.update_status UPDATE-then-SELECT idiom.
	AtomicStatusUpdate(ctx context.Context, islandID int64, newStatus IslandStatus, extraFields map[string]interface{}) (*Island, error)
	Delete(ctx context.Context, id int64) error
	GetByStatus(ctx context.Context, status IslandStatus, limit int) ([]*Island, error)
	GetByStatuses(ctx context.Context, statuses []IslandStatus, limit int) ([]*Island, error)
	CountByStatus(ctx context.Context, status IslandStatus) (int, error)
}

// CreateIslandTable returns the DDL for the islands table, including the
// check constraints mirroring the Validate invariants above.
func CreateIslandTable() string {
	return `
CREATE TABLE IF NOT EXISTS islands (
    id BIGSERIAL PRIMARY KEY,
    team_id BIGINT UNIQUE,
    player_uuid UUID UNIQUE,
    container_name VARCHAR(255) NOT NULL UNIQUE,
    status VARCHAR(32) NOT NULL,
    internal_ip INET,
    internal_port INTEGER NOT NULL DEFAULT 25565,
    minecraft_ready BOOLEAN NOT NULL DEFAULT false,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    last_seen_at TIMESTAMPTZ,

    CONSTRAINT chk_island_owner CHECK ((team_id IS NULL) != (player_uuid IS NULL)),
    CONSTRAINT chk_ready_implies_running CHECK (NOT minecraft_ready OR status = 'RUNNING'),

    INDEX idx_islands_status (status),
    INDEX idx_islands_team_id (team_id),
    INDEX idx_islands_player_uuid (player_uuid)
);

CREATE OR REPLACE FUNCTION islands_set_updated_at()
RETURNS TRIGGER AS $$
BEGIN
    NEW.updated_at = now();
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

CREATE TRIGGER islands_updated_at
    BEFORE UPDATE ON islands
    FOR EACH ROW
    EXECUTE FUNCTION islands_set_updated_at();
`
}

func DropIslandTable() string {
	return `
DROP TRIGGER IF EXISTS islands_updated_at ON islands;
DROP FUNCTION IF EXISTS islands_set_updated_at();
DROP TABLE IF EXISTS islands CASCADE;
`
}

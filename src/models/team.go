package models

import (
	"context"
	"errors"
	"time"
)

// Role is a Member's position within a Team.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleModerator Role = "moderator"
	RoleMember    Role = "member"
)

func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleModerator, RoleMember:
		return true
	default:
		return false
	}
}

// Team is a named group of players sharing one Island.
type Team struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Name      string    `json:"name" gorm:"uniqueIndex;not null"`
	OwnerUUID string    `json:"owner_uuid" gorm:"type:uuid;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`

	Members []Member `json:"members,omitempty" gorm:"foreignKey:TeamID"`
}

func (Team) TableName() string { return "teams" }

func (t *Team) Validate() error {
	if t.Name == "" {
		return errors.New("team name is required")
	}
	if t.OwnerUUID == "" {
		return errors.New("owner_uuid is required")
	}
	return nil
}

func (t *Team) BeforeCreate() error {
	t.CreatedAt = time.Now().UTC()
	return t.Validate()
}

// Member is one player's membership in a Team.
type Member struct {
	TeamID     int64  `json:"team_id" gorm:"primaryKey"`
	PlayerUUID string `json:"player_uuid" gorm:"primaryKey;type:uuid"`
	Role       Role   `json:"role" gorm:"not null"`
}

func (Member) TableName() string { return "team_members" }

func (m *Member) Validate() error {
	if m.PlayerUUID == "" {
		return errors.New("player_uuid is required")
	}
	if !m.Role.Valid() {
		return errors.New("role must be one of owner, moderator, member")
	}
	return nil
}

// TeamRepository is the persistence contract the kernel consumes for
// Team/Member rows (JoinTeam, solo→team promotion, membership lookups).
type TeamRepository interface {
	CreateTeam(ctx context.Context, team *Team) error
	GetTeamByName(ctx context.Context, name string) (*Team, error)
	GetTeamByID(ctx context.Context, id int64) (*Team, error)
	GetTeamByPlayer(ctx context.Context, playerUUID string) (*Team, error)
	AddMember(ctx context.Context, teamID int64, playerUUID string, role Role) error
	RemoveMember(ctx context.Context, teamID int64, playerUUID string) error
	GetMember(ctx context.Context, teamID int64, playerUUID string) (*Member, error)
	CountMembers(ctx context.Context, teamID int64) (int, error)
	DeleteTeam(ctx context.Context, teamID int64) error
}

func CreateTeamTables() string {
	return `
CREATE TABLE IF NOT EXISTS teams (
    id BIGSERIAL PRIMARY KEY,
    name VARCHAR(100) NOT NULL UNIQUE,
    owner_uuid UUID NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS team_members (
    team_id BIGINT NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
    player_uuid UUID NOT NULL,
    role VARCHAR(16) NOT NULL,
    PRIMARY KEY (team_id, player_uuid)
);

CREATE INDEX IF NOT EXISTS idx_team_members_player_uuid ON team_members (player_uuid);
`
}

func DropTeamTables() string {
	return `
DROP TABLE IF EXISTS team_members CASCADE;
DROP TABLE IF EXISTS teams CASCADE;
`
}

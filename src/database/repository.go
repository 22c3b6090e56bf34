package database

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"islandctl/src/islanderr"
	"islandctl/src/models"
)

// IslandRepository is the GORM-backed implementation of
// models.IslandRepository, grounded on original_source/crud/crud_island.py.
type IslandRepository struct {
	db *Database
}

func NewIslandRepository(db *Database) *IslandRepository { return &IslandRepository{db: db} }

func (r *IslandRepository) Create(ctx context.Context, island *models.Island) error {
	if err := r.db.DB.WithContext(ctx).Create(island).Error; err != nil {
		if isUniqueViolation(err) {
			return islanderr.AlreadyExists("island already exists for this owner", err)
		}
		return islanderr.Internal("create island", err)
	}
	return nil
}

func (r *IslandRepository) Get(ctx context.Context, id int64) (*models.Island, error) {
	var island models.Island
	if err := r.db.DB.WithContext(ctx).First(&island, id).Error; err != nil {
		return nil, classifyNotFound(err, "island")
	}
	return &island, nil
}

func (r *IslandRepository) GetByPlayerUUID(ctx context.Context, playerUUID string) (*models.Island, error) {
	var island models.Island
	if err := r.db.DB.WithContext(ctx).Where("player_uuid = ?", playerUUID).First(&island).Error; err != nil {
		return nil, classifyNotFound(err, "island")
	}
	return &island, nil
}

func (r *IslandRepository) GetByTeamID(ctx context.Context, teamID int64) (*models.Island, error) {
	var island models.Island
	if err := r.db.DB.WithContext(ctx).Where("team_id = ?", teamID).First(&island).Error; err != nil {
		return nil, classifyNotFound(err, "island")
	}
	return &island, nil
}

func (r *IslandRepository) Update(ctx context.Context, island *models.Island) error {
	if err := r.db.DB.WithContext(ctx).Save(island).Error; err != nil {
		return islanderr.Internal("update island", err)
	}
	return nil
}

// AtomicStatusUpdate performs the UPDATE-then-SELECT pattern from
// CRUDisland.update_status: a single-row UPDATE of status plus any
// extraFields, followed by a fresh read of the row.
func (r *IslandRepository) AtomicStatusUpdate(ctx context.Context, islandID int64, newStatus models.IslandStatus, extraFields map[string]interface{}) (*models.Island, error) {
	values := map[string]interface{}{"status": newStatus, "updated_at": time.Now().UTC()}
	for k, v := range extraFields {
		values[k] = v
	}
	err := r.db.DB.WithContext(ctx).Model(&models.Island{}).Where("id = ?", islandID).Updates(values).Error
	if err != nil {
		return nil, islanderr.Internal("atomic status update", err)
	}
	return r.Get(ctx, islandID)
}

func (r *IslandRepository) Delete(ctx context.Context, id int64) error {
	if err := r.db.DB.WithContext(ctx).Delete(&models.Island{}, id).Error; err != nil {
		return islanderr.Internal("delete island", err)
	}
	return nil
}

func (r *IslandRepository) GetByStatus(ctx context.Context, status models.IslandStatus, limit int) ([]*models.Island, error) {
	var islands []*models.Island
	q := r.db.DB.WithContext(ctx).Where("status = ?", status).Order("updated_at")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&islands).Error; err != nil {
		return nil, islanderr.Internal("list islands by status", err)
	}
	return islands, nil
}

func (r *IslandRepository) GetByStatuses(ctx context.Context, statuses []models.IslandStatus, limit int) ([]*models.Island, error) {
	var islands []*models.Island
	q := r.db.DB.WithContext(ctx).Where("status IN ?", statuses).Order("updated_at")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&islands).Error; err != nil {
		return nil, islanderr.Internal("list islands by statuses", err)
	}
	return islands, nil
}

func (r *IslandRepository) CountByStatus(ctx context.Context, status models.IslandStatus) (int, error) {
	var count int64
	if err := r.db.DB.WithContext(ctx).Model(&models.Island{}).Where("status = ?", status).Count(&count).Error; err != nil {
		return 0, islanderr.Internal("count islands by status", err)
	}
	return int(count), nil
}

// TeamRepository is the GORM-backed implementation of models.TeamRepository,
// grounded on original_source/crud/crud_team.py.
type TeamRepository struct {
	db *Database
}

func NewTeamRepository(db *Database) *TeamRepository { return &TeamRepository{db: db} }

func (r *TeamRepository) CreateTeam(ctx context.Context, team *models.Team) error {
	return r.db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(team).Error; err != nil {
			return islanderr.Internal("create team", err)
		}
		owner := models.Member{TeamID: team.ID, PlayerUUID: team.OwnerUUID, Role: models.RoleOwner}
		if err := tx.Create(&owner).Error; err != nil {
			return islanderr.Internal("create owner membership", err)
		}
		return nil
	})
}

func (r *TeamRepository) GetTeamByName(ctx context.Context, name string) (*models.Team, error) {
	var team models.Team
	if err := r.db.DB.WithContext(ctx).Preload("Members").Where("name = ?", name).First(&team).Error; err != nil {
		return nil, classifyNotFound(err, "team")
	}
	return &team, nil
}

func (r *TeamRepository) GetTeamByID(ctx context.Context, id int64) (*models.Team, error) {
	var team models.Team
	if err := r.db.DB.WithContext(ctx).Preload("Members").First(&team, id).Error; err != nil {
		return nil, classifyNotFound(err, "team")
	}
	return &team, nil
}

func (r *TeamRepository) GetTeamByPlayer(ctx context.Context, playerUUID string) (*models.Team, error) {
	var team models.Team
	err := r.db.DB.WithContext(ctx).
		Joins("JOIN team_members ON team_members.team_id = teams.id").
		Where("team_members.player_uuid = ?", playerUUID).
		Preload("Members").
		First(&team).Error
	if err != nil {
		return nil, classifyNotFound(err, "team")
	}
	return &team, nil
}

func (r *TeamRepository) AddMember(ctx context.Context, teamID int64, playerUUID string, role models.Role) error {
	m := models.Member{TeamID: teamID, PlayerUUID: playerUUID, Role: role}
	if err := m.Validate(); err != nil {
		return islanderr.Internal("invalid member", err)
	}
	if err := r.db.DB.WithContext(ctx).Create(&m).Error; err != nil {
		return islanderr.Internal("add member", err)
	}
	return nil
}

func (r *TeamRepository) RemoveMember(ctx context.Context, teamID int64, playerUUID string) error {
	return r.db.DB.WithContext(ctx).
		Where("team_id = ? AND player_uuid = ?", teamID, playerUUID).
		Delete(&models.Member{}).Error
}

func (r *TeamRepository) GetMember(ctx context.Context, teamID int64, playerUUID string) (*models.Member, error) {
	var m models.Member
	err := r.db.DB.WithContext(ctx).Where("team_id = ? AND player_uuid = ?", teamID, playerUUID).First(&m).Error
	if err != nil {
		return nil, classifyNotFound(err, "member")
	}
	return &m, nil
}

func (r *TeamRepository) CountMembers(ctx context.Context, teamID int64) (int, error) {
	var count int64
	if err := r.db.DB.WithContext(ctx).Model(&models.Member{}).Where("team_id = ?", teamID).Count(&count).Error; err != nil {
		return 0, islanderr.Internal("count members", err)
	}
	return int(count), nil
}

func (r *TeamRepository) DeleteTeam(ctx context.Context, teamID int64) error {
	return r.db.DB.WithContext(ctx).Delete(&models.Team{}, teamID).Error
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "duplicate key value violates unique constraint")
}

func classifyNotFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return islanderr.NotFound(what+" not found", err)
	}
	return islanderr.Internal("query "+what, err)
}

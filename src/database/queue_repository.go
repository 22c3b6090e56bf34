package database

import (
	"context"
	"time"

	"islandctl/src/islanderr"
	"islandctl/src/models"
)

// CreationQueueRepository is the GORM-backed implementation of
// models.CreationQueueRepository, grounded on
// original_source/crud/crud_island_queue_ops.py.
type CreationQueueRepository struct {
	db *Database
}

func NewCreationQueueRepository(db *Database) *CreationQueueRepository {
	return &CreationQueueRepository{db: db}
}

func (r *CreationQueueRepository) Add(ctx context.Context, playerUUID string, playerName *string) (*models.CreationQueueEntry, error) {
	entry := &models.CreationQueueEntry{
		PlayerUUID:  playerUUID,
		PlayerName:  playerName,
		Status:      models.QueueItemPending,
		RequestedAt: time.Now().UTC(),
	}
	if err := r.db.DB.WithContext(ctx).Create(entry).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, islanderr.AlreadyExists("player is already queued for creation", err)
		}
		return nil, islanderr.Internal("enqueue creation request", err)
	}
	return entry, nil
}

func (r *CreationQueueRepository) Next(ctx context.Context) (*models.CreationQueueEntry, error) {
	var entry models.CreationQueueEntry
	err := r.db.DB.WithContext(ctx).
		Where("status = ?", models.QueueItemPending).
		Order("requested_at").
		First(&entry).Error
	if err != nil {
		return nil, classifyNotFound(err, "creation queue entry")
	}
	return &entry, nil
}

func (r *CreationQueueRepository) Remove(ctx context.Context, playerUUID string) (bool, error) {
	res := r.db.DB.WithContext(ctx).Where("player_uuid = ?", playerUUID).Delete(&models.CreationQueueEntry{})
	if res.Error != nil {
		return false, islanderr.Internal("remove creation queue entry", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *CreationQueueRepository) UpdateStatus(ctx context.Context, playerUUID string, status models.QueueItemStatus) (*models.CreationQueueEntry, error) {
	err := r.db.DB.WithContext(ctx).Model(&models.CreationQueueEntry{}).
		Where("player_uuid = ?", playerUUID).
		Update("status", status).Error
	if err != nil {
		return nil, islanderr.Internal("update creation queue status", err)
	}
	var entry models.CreationQueueEntry
	if err := r.db.DB.WithContext(ctx).Where("player_uuid = ?", playerUUID).First(&entry).Error; err != nil {
		return nil, classifyNotFound(err, "creation queue entry")
	}
	return &entry, nil
}

func (r *CreationQueueRepository) Size(ctx context.Context, status *models.QueueItemStatus) (int, error) {
	q := r.db.DB.WithContext(ctx).Model(&models.CreationQueueEntry{})
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return 0, islanderr.Internal("count creation queue", err)
	}
	return int(count), nil
}

// StartQueueRepository is the GORM-backed implementation of
// models.StartQueueRepository, grounded on
// original_source/crud/crud_island_start_queue.py.
type StartQueueRepository struct {
	db *Database
}

func NewStartQueueRepository(db *Database) *StartQueueRepository {
	return &StartQueueRepository{db: db}
}

func (r *StartQueueRepository) Add(ctx context.Context, playerUUID string, playerName *string) (*models.StartQueueEntry, error) {
	entry := &models.StartQueueEntry{
		PlayerUUID:  playerUUID,
		PlayerName:  playerName,
		Status:      models.QueueItemPending,
		RequestedAt: time.Now().UTC(),
	}
	if err := r.db.DB.WithContext(ctx).Create(entry).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, islanderr.AlreadyExists("player is already queued to start", err)
		}
		return nil, islanderr.Internal("enqueue start request", err)
	}
	return entry, nil
}

func (r *StartQueueRepository) Next(ctx context.Context) (*models.StartQueueEntry, error) {
	var entry models.StartQueueEntry
	err := r.db.DB.WithContext(ctx).
		Where("status = ?", models.QueueItemPending).
		Order("requested_at").
		First(&entry).Error
	if err != nil {
		return nil, classifyNotFound(err, "start queue entry")
	}
	return &entry, nil
}

func (r *StartQueueRepository) Remove(ctx context.Context, playerUUID string) (bool, error) {
	res := r.db.DB.WithContext(ctx).Where("player_uuid = ?", playerUUID).Delete(&models.StartQueueEntry{})
	if res.Error != nil {
		return false, islanderr.Internal("remove start queue entry", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *StartQueueRepository) UpdateStatus(ctx context.Context, playerUUID string, status models.QueueItemStatus) (*models.StartQueueEntry, error) {
	err := r.db.DB.WithContext(ctx).Model(&models.StartQueueEntry{}).
		Where("player_uuid = ?", playerUUID).
		Update("status", status).Error
	if err != nil {
		return nil, islanderr.Internal("update start queue status", err)
	}
	var entry models.StartQueueEntry
	if err := r.db.DB.WithContext(ctx).Where("player_uuid = ?", playerUUID).First(&entry).Error; err != nil {
		return nil, classifyNotFound(err, "start queue entry")
	}
	return &entry, nil
}

// UpdateQueueRepository is the GORM-backed implementation of
// models.UpdateQueueRepository, grounded on
// original_source/crud/crud_update_queue.py.
type UpdateQueueRepository struct {
	db *Database
}

func NewUpdateQueueRepository(db *Database) *UpdateQueueRepository {
	return &UpdateQueueRepository{db: db}
}

func (r *UpdateQueueRepository) AddIsland(ctx context.Context, islandID int64, playerUUID string) (*models.UpdateQueueEntry, error) {
	entry := &models.UpdateQueueEntry{
		IslandID:       islandID,
		PlayerUUID:     playerUUID,
		Status:         models.UpdateQueuePending,
		AddedToQueueAt: time.Now().UTC(),
	}
	if createErr := r.db.DB.WithContext(ctx).Create(entry).Error; createErr != nil {
		if isUniqueViolation(createErr) {
			return nil, islanderr.AlreadyExists("island already has a pending update", createErr)
		}
		return nil, islanderr.Internal("enqueue island update", createErr)
	}
	if notifyErr := r.db.Notify(ctx); notifyErr != nil {
		return entry, islanderr.Internal("notify update worker", notifyErr)
	}
	return entry, nil
}

func (r *UpdateQueueRepository) GetByIslandID(ctx context.Context, islandID int64) (*models.UpdateQueueEntry, error) {
	var entry models.UpdateQueueEntry
	if err := r.db.DB.WithContext(ctx).Where("island_id = ?", islandID).First(&entry).Error; err != nil {
		return nil, classifyNotFound(err, "update queue entry")
	}
	return &entry, nil
}

func (r *UpdateQueueRepository) NextPending(ctx context.Context) (*models.UpdateQueueEntry, error) {
	var entry models.UpdateQueueEntry
	err := r.db.DB.WithContext(ctx).
		Where("status = ?", models.UpdateQueuePending).
		Order("added_to_queue_at").
		First(&entry).Error
	if err != nil {
		return nil, classifyNotFound(err, "update queue entry")
	}
	return &entry, nil
}

func (r *UpdateQueueRepository) AllPending(ctx context.Context) ([]*models.UpdateQueueEntry, error) {
	var entries []*models.UpdateQueueEntry
	err := r.db.DB.WithContext(ctx).
		Where("status = ?", models.UpdateQueuePending).
		Order("added_to_queue_at").
		Find(&entries).Error
	if err != nil {
		return nil, islanderr.Internal("list pending updates", err)
	}
	return entries, nil
}

func (r *UpdateQueueRepository) SetProcessing(ctx context.Context, entryID int64) (*models.UpdateQueueEntry, error) {
	now := time.Now().UTC()
	err := r.db.DB.WithContext(ctx).Model(&models.UpdateQueueEntry{}).
		Where("id = ?", entryID).
		Updates(map[string]interface{}{
			"status":                models.UpdateQueueProcessing,
			"processing_started_at": now,
		}).Error
	if err != nil {
		return nil, islanderr.Internal("mark update processing", err)
	}
	return r.getByID(ctx, entryID)
}

func (r *UpdateQueueRepository) SetCompleted(ctx context.Context, entryID int64) (*models.UpdateQueueEntry, error) {
	now := time.Now().UTC()
	err := r.db.DB.WithContext(ctx).Model(&models.UpdateQueueEntry{}).
		Where("id = ?", entryID).
		Updates(map[string]interface{}{
			"status":       models.UpdateQueueCompleted,
			"completed_at": now,
		}).Error
	if err != nil {
		return nil, islanderr.Internal("mark update completed", err)
	}
	return r.getByID(ctx, entryID)
}

func (r *UpdateQueueRepository) SetFailed(ctx context.Context, entryID int64, errMsg string, retryCount int) (*models.UpdateQueueEntry, error) {
	err := r.db.DB.WithContext(ctx).Model(&models.UpdateQueueEntry{}).
		Where("id = ?", entryID).
		Updates(map[string]interface{}{
			"status":        models.UpdateQueueFailed,
			"error_message": errMsg,
			"retry_count":   retryCount,
		}).Error
	if err != nil {
		return nil, islanderr.Internal("mark update failed", err)
	}
	return r.getByID(ctx, entryID)
}

func (r *UpdateQueueRepository) getByID(ctx context.Context, entryID int64) (*models.UpdateQueueEntry, error) {
	var entry models.UpdateQueueEntry
	if err := r.db.DB.WithContext(ctx).First(&entry, entryID).Error; err != nil {
		return nil, classifyNotFound(err, "update queue entry")
	}
	return &entry, nil
}

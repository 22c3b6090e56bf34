package kernel

import (
	"context"

	"islandctl/src/islanderr"
	"islandctl/src/logging"
	"islandctl/src/models"
)

// DeleteIsland stops the island if running, deletes its container, and
// removes its row. Any island in a stopped-or-errored status is eligible;
// islands mid-transition (PENDING_*) or UPDATING are refused.
func (k *Kernel) DeleteIsland(ctx context.Context, islandID int64) error {
	island, err := k.islands.Get(ctx, islandID)
	if err != nil {
		return islanderr.NotFound("island not found", err)
	}

	switch island.Status {
	case models.IslandStatusStopped, models.IslandStatusFrozen, models.IslandStatusErrorCreate,
		models.IslandStatusErrorStart, models.IslandStatusUpdateFailed, models.IslandStatusError,
		models.IslandStatusRunning:
		// eligible
	default:
		return islanderr.InvalidState("island cannot be deleted from status "+string(island.Status), nil)
	}

	recipients := k.recipientsFor(ctx, island)
	updated, err := k.islands.AtomicStatusUpdate(ctx, island.ID, models.IslandStatusDeleting, nil)
	if err != nil {
		return islanderr.Internal("write DELETING", err)
	}
	k.publishIslandUpdated(ctx, updated, recipients)

	k.tasks.Schedule(detach(ctx), func(bgCtx context.Context) {
		k.deleteInstance(bgCtx, island.ID, island.ContainerName, recipients)
	})
	return nil
}

// deleteInstance deletes the underlying container and lands the row on
// ARCHIVED rather than physically deleting it, per the DELETING->ARCHIVED
// edge in the state machine: the row is retained as an audit record, and
// island_deleted still tells clients to stop showing it as active.
func (k *Kernel) deleteInstance(ctx context.Context, islandID int64, containerName string, recipients []string) {
	if _, err := k.driver.Delete(ctx, containerName, true); err != nil {
		k.log.Error(ctx, "kernel: island delete failed", logging.Int("island_id", int(islandID)), logging.Err(err))
		updated, uerr := k.islands.AtomicStatusUpdate(ctx, islandID, models.IslandStatusError, nil)
		if uerr == nil {
			k.publishIslandUpdated(ctx, updated, recipients)
		}
		return
	}
	if _, err := k.islands.AtomicStatusUpdate(ctx, islandID, models.IslandStatusArchived, map[string]interface{}{
		"internal_ip":     nil,
		"minecraft_ready": false,
	}); err != nil {
		k.log.Error(ctx, "kernel: failed to record ARCHIVED", logging.Int("island_id", int(islandID)), logging.Err(err))
		return
	}
	k.log.Info(ctx, "kernel: island deleted", logging.Int("island_id", int(islandID)))
	k.publishIslandDeleted(ctx, islandID, recipients)
}

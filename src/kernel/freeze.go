package kernel

import (
	"context"

	"islandctl/src/islanderr"
	"islandctl/src/logging"
	"islandctl/src/models"
)

// FreezeIsland suspends a RUNNING island's container in place, preserving
// in-memory state without the cost of keeping it scheduled.
func (k *Kernel) FreezeIsland(ctx context.Context, playerUUID string) (models.IslandView, error) {
	island, err := k.islandForPlayer(ctx, playerUUID)
	if err != nil {
		return models.IslandView{}, err
	}

	switch island.Status {
	case models.IslandStatusFrozen, models.IslandStatusPendingFreeze:
		return models.NewIslandView(island), nil
	case models.IslandStatusRunning:
		// fall through
	default:
		return models.IslandView{}, islanderr.InvalidState("island cannot be frozen from status "+string(island.Status), nil)
	}

	recipients := k.recipientsFor(ctx, island)
	updated, err := k.islands.AtomicStatusUpdate(ctx, island.ID, models.IslandStatusPendingFreeze, map[string]interface{}{
		"minecraft_ready": false,
	})
	if err != nil {
		return models.IslandView{}, islanderr.Internal("write PENDING_FREEZE", err)
	}
	k.publishIslandUpdated(ctx, updated, recipients)

	k.tasks.Schedule(detach(ctx), func(bgCtx context.Context) {
		k.freezeInstance(bgCtx, island.ID, recipients)
	})

	return models.NewIslandView(updated), nil
}

func (k *Kernel) freezeInstance(ctx context.Context, islandID int64, recipients []string) {
	island, err := k.islands.Get(ctx, islandID)
	if err != nil {
		k.log.Error(ctx, "kernel: freezeInstance: island vanished", logging.Int("island_id", int(islandID)), logging.Err(err))
		return
	}

	if err := k.driver.Freeze(ctx, island.ContainerName); err != nil {
		k.log.Error(ctx, "kernel: island freeze failed", logging.Int("island_id", int(islandID)), logging.Err(err))
		updated, uerr := k.islands.AtomicStatusUpdate(ctx, islandID, models.IslandStatusError, nil)
		if uerr == nil {
			k.publishIslandUpdated(ctx, updated, recipients)
		}
		return
	}

	updated, err := k.islands.AtomicStatusUpdate(ctx, islandID, models.IslandStatusFrozen, nil)
	if err != nil {
		k.log.Error(ctx, "kernel: failed to record FROZEN", logging.Int("island_id", int(islandID)), logging.Err(err))
		return
	}
	k.log.Info(ctx, "kernel: island frozen", logging.Int("island_id", int(islandID)))
	k.publishIslandUpdated(ctx, updated, recipients)
}

// MarkReady sets minecraft_ready=true for the caller's island, iff it is
// currently RUNNING and not already ready; otherwise it returns InvalidState.
func (k *Kernel) MarkReady(ctx context.Context, playerUUID string) (models.IslandView, error) {
	island, err := k.islandForPlayer(ctx, playerUUID)
	if err != nil {
		return models.IslandView{}, err
	}
	if island.Status != models.IslandStatusRunning {
		return models.IslandView{}, islanderr.InvalidState("island is not RUNNING", nil)
	}
	if island.MinecraftReady {
		return models.IslandView{}, islanderr.InvalidState("island is already marked ready", nil)
	}

	updated, err := k.islands.AtomicStatusUpdate(ctx, island.ID, island.Status, map[string]interface{}{
		"minecraft_ready": true,
	})
	if err != nil {
		return models.IslandView{}, islanderr.Internal("write minecraft_ready", err)
	}
	k.publishIslandUpdated(ctx, updated, k.recipientsFor(ctx, island))
	return models.NewIslandView(updated), nil
}

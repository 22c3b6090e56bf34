package kernel

import (
	"context"

	"islandctl/src/islanderr"
	"islandctl/src/models"
)

// QueueUpdate enqueues islandID onto the update queue and writes
// status=PENDING_UPDATE. Only a STOPPED island is eligible; the update
// worker (C6) picks entries up from there independently of the kernel.
func (k *Kernel) QueueUpdate(ctx context.Context, islandID int64) (models.IslandView, error) {
	island, err := k.islands.Get(ctx, islandID)
	if err != nil {
		return models.IslandView{}, islanderr.NotFound("island not found", err)
	}
	if island.Status != models.IslandStatusStopped {
		return models.IslandView{}, islanderr.InvalidState("island must be STOPPED to queue an update", nil)
	}

	playerUUID := ""
	if island.PlayerUUID != nil {
		playerUUID = *island.PlayerUUID
	}
	if _, err := k.updateQ.AddIsland(ctx, islandID, playerUUID); err != nil {
		return models.IslandView{}, islanderr.Internal("enqueue update", err)
	}

	updated, err := k.islands.AtomicStatusUpdate(ctx, islandID, models.IslandStatusPendingUpdate, nil)
	if err != nil {
		return models.IslandView{}, islanderr.Internal("write PENDING_UPDATE", err)
	}
	k.publishIslandUpdated(ctx, updated, k.recipientsFor(ctx, island))

	if k.updateWake != nil {
		select {
		case k.updateWake <- struct{}{}:
		default:
		}
	}

	return models.NewIslandView(updated), nil
}

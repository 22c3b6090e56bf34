package kernel

import (
	"context"
	"time"

	"islandctl/src/driver"
	"islandctl/src/islanderr"
	"islandctl/src/logging"
	"islandctl/src/models"
)

const stopTimeout = 30 * time.Second

// StopIsland resolves the caller's island and stops it if it is in a
// stoppable status, or no-ops if it is already stopped/pending-stop.
func (k *Kernel) StopIsland(ctx context.Context, playerUUID string) (models.IslandView, error) {
	island, err := k.islandForPlayer(ctx, playerUUID)
	if err != nil {
		return models.IslandView{}, err
	}

	switch island.Status {
	case models.IslandStatusStopped, models.IslandStatusPendingStop:
		return models.NewIslandView(island), nil
	case models.IslandStatusRunning, models.IslandStatusFrozen, models.IslandStatusErrorStart:
		// fall through
	default:
		return models.IslandView{}, islanderr.InvalidState("island cannot be stopped from status "+string(island.Status), nil)
	}

	recipients := k.recipientsFor(ctx, island)
	updated, err := k.islands.AtomicStatusUpdate(ctx, island.ID, models.IslandStatusPendingStop, nil)
	if err != nil {
		return models.IslandView{}, islanderr.Internal("write PENDING_STOP", err)
	}
	k.publishIslandUpdated(ctx, updated, recipients)

	k.tasks.Schedule(detach(ctx), func(bgCtx context.Context) {
		k.stopInstance(bgCtx, island.ID, recipients)
	})

	return models.NewIslandView(updated), nil
}

// stopInstance is the background half of StopIsland: force-stop the
// container and land on STOPPED, clearing internal_ip and minecraft_ready
// (grounded on _synchronous_stop). A driver NotFound is treated as
// already-stopped success (SPEC_FULL §4.1 failure semantics).
func (k *Kernel) stopInstance(ctx context.Context, islandID int64, recipients []string) {
	island, err := k.islands.Get(ctx, islandID)
	if err != nil {
		k.log.Error(ctx, "kernel: stopInstance: island vanished", logging.Int("island_id", int(islandID)), logging.Err(err))
		return
	}

	if err := k.driver.Stop(ctx, island.ContainerName, true, stopTimeout); err != nil && !driver.IsNotFound(err) {
		k.log.Error(ctx, "kernel: island stop failed", logging.Int("island_id", int(islandID)), logging.Err(err))
		updated, uerr := k.islands.AtomicStatusUpdate(ctx, islandID, models.IslandStatusError, nil)
		if uerr == nil {
			k.publishIslandUpdated(ctx, updated, recipients)
		}
		return
	}

	updated, err := k.islands.AtomicStatusUpdate(ctx, islandID, models.IslandStatusStopped, map[string]interface{}{
		"internal_ip":     nil,
		"minecraft_ready": false,
	})
	if err != nil {
		k.log.Error(ctx, "kernel: failed to record STOPPED", logging.Int("island_id", int(islandID)), logging.Err(err))
		return
	}
	k.log.Info(ctx, "kernel: island stopped", logging.Int("island_id", int(islandID)))
	k.publishIslandUpdated(ctx, updated, recipients)
}

// StopInstanceSync performs the stop-and-land-on-STOPPED sequence
// synchronously and returns its error, for callers (the update worker) that
// must block on completion rather than schedule a background task.
func (k *Kernel) StopInstanceSync(ctx context.Context, islandID int64) error {
	island, err := k.islands.Get(ctx, islandID)
	if err != nil {
		return islanderr.Internal("get island for sync stop", err)
	}
	if err := k.driver.Stop(ctx, island.ContainerName, true, stopTimeout); err != nil && !driver.IsNotFound(err) {
		return islanderr.DriverUnavailable("stop container", err)
	}
	_, err = k.islands.AtomicStatusUpdate(ctx, islandID, models.IslandStatusStopped, map[string]interface{}{
		"internal_ip":     nil,
		"minecraft_ready": false,
	})
	if err != nil {
		return islanderr.Internal("write STOPPED for sync stop", err)
	}
	return nil
}

// StartInstanceSync performs the start-then-wait-IP sequence
// synchronously and returns its error, for the update worker's
// was_running restart step.
func (k *Kernel) StartInstanceSync(ctx context.Context, islandID int64) error {
	island, err := k.islands.Get(ctx, islandID)
	if err != nil {
		return islanderr.Internal("get island for sync start", err)
	}
	if err := k.driver.Start(ctx, island.ContainerName); err != nil {
		return islanderr.DriverUnavailable("start container", err)
	}
	ip, err := k.driver.WaitIPv4(ctx, island.ContainerName, k.cfg.LXDIPRetryAttempts, k.cfg.LXDIPRetryDelay)
	if err != nil || ip == "" {
		return islanderr.DriverTimeout("resolve IPv4 for sync start", err)
	}
	_, err = k.islands.AtomicStatusUpdate(ctx, islandID, models.IslandStatusRunning, map[string]interface{}{
		"internal_ip":     ip,
		"minecraft_ready": false,
	})
	if err != nil {
		return islanderr.Internal("write RUNNING for sync start", err)
	}
	return nil
}

// GetIslandView resolves the caller's island (direct or via team) and
// returns its current read-facing view.
func (k *Kernel) GetIslandView(ctx context.Context, playerUUID string) (models.IslandView, error) {
	island, err := k.islandForPlayer(ctx, playerUUID)
	if err != nil {
		return models.IslandView{}, err
	}
	return models.NewIslandView(island), nil
}

// islandForPlayer resolves the island a player directly owns or co-owns
// via a team; NotFound if neither exists.
func (k *Kernel) islandForPlayer(ctx context.Context, playerUUID string) (*models.Island, error) {
	if island, err := k.islands.GetByPlayerUUID(ctx, playerUUID); err == nil && island != nil {
		return island, nil
	}
	team, err := k.teams.GetTeamByPlayer(ctx, playerUUID)
	if err != nil || team == nil {
		return nil, islanderr.NotFound("player owns no island", err)
	}
	island, err := k.islands.GetByTeamID(ctx, team.ID)
	if err != nil || island == nil {
		return nil, islanderr.NotFound("player's team owns no island", err)
	}
	return island, nil
}

package kernel

import (
	"context"
	"time"

	"islandctl/src/islanderr"
	"islandctl/src/logging"
	"islandctl/src/models"
)

// StartIsland resolves the caller's island (creating a team-bound one on
// first use, or falling back to CreateIsland entirely if the player owns
// neither a personal island nor a team), then starts it if capacity
// allows, or queues the request otherwise (SPEC_FULL §4.1, §4.3).
func (k *Kernel) StartIsland(ctx context.Context, playerUUID, playerName string) (models.IslandView, error) {
	island, err := k.resolveOrCreateIsland(ctx, playerUUID, playerName)
	if err != nil {
		return models.IslandView{}, err
	}
	if island == nil {
		// No island and no team: fall back to CreateIsland.
		return k.CreateIsland(ctx, playerUUID, playerName)
	}

	switch island.Status {
	case models.IslandStatusRunning, models.IslandStatusPendingStart, models.IslandStatusPendingCreation:
		return models.NewIslandView(island), nil
	case models.IslandStatusStopped, models.IslandStatusFrozen:
		// fall through to admission below
	default:
		return models.IslandView{}, islanderr.InvalidState("island cannot be started from status "+string(island.Status), nil)
	}

	wasFrozen := island.Status == models.IslandStatusFrozen
	recipients := k.recipientsFor(ctx, island)

	running, err := k.runningCount(ctx)
	if err != nil {
		return models.IslandView{}, islanderr.Internal("count running islands", err)
	}
	if running >= k.cfg.MaxRunningServers {
		if _, err := k.startQ.Add(ctx, playerUUID, &playerName); err != nil {
			return models.IslandView{}, islanderr.CapacityExhausted("could not queue start request", err)
		}
		k.log.Info(ctx, "kernel: start queued, cap reached", logging.Int("island_id", int(island.ID)))
		return models.NewIslandView(island), nil
	}

	updated, err := k.islands.AtomicStatusUpdate(ctx, island.ID, models.IslandStatusPendingStart, map[string]interface{}{
		"minecraft_ready": false,
	})
	if err != nil {
		return models.IslandView{}, islanderr.Internal("write PENDING_START", err)
	}
	k.publishIslandUpdated(ctx, updated, recipients)

	k.tasks.Schedule(detach(ctx), func(bgCtx context.Context) {
		k.startInstance(bgCtx, island.ID, wasFrozen, recipients)
	})

	return models.NewIslandView(updated), nil
}

// resolveOrCreateIsland returns the player's island (direct, or their
// team's, creating the team's island row on first start if needed), or nil
// if the player owns neither a personal island nor any team.
func (k *Kernel) resolveOrCreateIsland(ctx context.Context, playerUUID, playerName string) (*models.Island, error) {
	if island, err := k.islands.GetByPlayerUUID(ctx, playerUUID); err == nil && island != nil {
		return island, nil
	}
	team, err := k.teams.GetTeamByPlayer(ctx, playerUUID)
	if err != nil || team == nil {
		return nil, nil
	}
	if island, err := k.islands.GetByTeamID(ctx, team.ID); err == nil && island != nil {
		return island, nil
	}
	return k.createTeamIsland(ctx, team)
}

// AdmitQueuedStart is invoked by the start-queue admission worker (C5)
// after popping an entry and confirming capacity is available. It performs
// the same status write StartIsland would have done, then runs the start
// sequence inline rather than scheduling it on the task runner.
func (k *Kernel) AdmitQueuedStart(ctx context.Context, playerUUID string) error {
	island, err := k.islands.GetByPlayerUUID(ctx, playerUUID)
	if err != nil || island == nil {
		team, terr := k.teams.GetTeamByPlayer(ctx, playerUUID)
		if terr != nil || team == nil {
			return islanderr.NotFound("island for queued start not found", err)
		}
		island, err = k.islands.GetByTeamID(ctx, team.ID)
		if err != nil || island == nil {
			return islanderr.NotFound("team island for queued start not found", err)
		}
	}
	if island.Status != models.IslandStatusStopped && island.Status != models.IslandStatusFrozen {
		// Already moved on (e.g. started another way); treat as done.
		return nil
	}
	wasFrozen := island.Status == models.IslandStatusFrozen
	recipients := k.recipientsFor(ctx, island)

	updated, err := k.islands.AtomicStatusUpdate(ctx, island.ID, models.IslandStatusPendingStart, map[string]interface{}{
		"minecraft_ready": false,
	})
	if err != nil {
		return islanderr.Internal("write PENDING_START for queued start", err)
	}
	k.publishIslandUpdated(ctx, updated, recipients)
	k.startInstance(detach(ctx), island.ID, wasFrozen, recipients)
	return nil
}

// startInstance is the background half of StartIsland: unfreeze if
// needed, start the container, resolve its IPv4, and land on RUNNING or
// ERROR_START (grounded on _synchronous_start_and_wait, minus the
// ready-poll which only the update worker's restart path needs here).
func (k *Kernel) startInstance(ctx context.Context, islandID int64, wasFrozen bool, recipients []string) {
	island, err := k.islands.Get(ctx, islandID)
	if err != nil {
		k.log.Error(ctx, "kernel: startInstance: island vanished", logging.Int("island_id", int(islandID)), logging.Err(err))
		return
	}

	fail := func(cause error) {
		k.log.Error(ctx, "kernel: island start failed", logging.Int("island_id", int(islandID)), logging.Err(cause))
		updated, uerr := k.islands.AtomicStatusUpdate(ctx, islandID, models.IslandStatusErrorStart, map[string]interface{}{
			"internal_ip": nil,
		})
		if uerr != nil {
			k.log.Error(ctx, "kernel: failed to record ERROR_START", logging.Int("island_id", int(islandID)), logging.Err(uerr))
			return
		}
		k.publishIslandUpdated(ctx, updated, recipients)
	}

	if wasFrozen {
		if err := k.driver.Unfreeze(ctx, island.ContainerName); err != nil {
			fail(err)
			return
		}
	} else if err := k.driver.Start(ctx, island.ContainerName); err != nil {
		fail(err)
		return
	}

	ip, err := k.driver.WaitIPv4(ctx, island.ContainerName, k.cfg.LXDIPRetryAttempts, k.cfg.LXDIPRetryDelay)
	if err != nil || ip == "" {
		fail(err)
		return
	}

	updated, err := k.islands.AtomicStatusUpdate(ctx, islandID, models.IslandStatusRunning, map[string]interface{}{
		"internal_ip":     ip,
		"minecraft_ready": false,
	})
	if err != nil {
		k.log.Error(ctx, "kernel: failed to record RUNNING", logging.Int("island_id", int(islandID)), logging.Err(err))
		return
	}
	k.log.Info(ctx, "kernel: island running", logging.Int("island_id", int(islandID)), logging.String("internal_ip", ip))
	k.publishIslandUpdated(ctx, updated, recipients)
}

// WaitMinecraftReady polls the repository once a second until
// minecraft_ready is true or timeout elapses, used by the update worker's
// restart-after-update step (SPEC_FULL §4.4 step 5).
func (k *Kernel) WaitMinecraftReady(ctx context.Context, islandID int64, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		island, err := k.islands.Get(ctx, islandID)
		if err != nil {
			return islanderr.Internal("poll minecraft_ready", err)
		}
		if island.MinecraftReady {
			return nil
		}
		if time.Now().After(deadline) {
			return islanderr.DriverTimeout("timed out waiting for minecraft_ready", nil)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

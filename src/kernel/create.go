package kernel

import (
	"context"
	"strings"

	"islandctl/src/driver"
	"islandctl/src/islanderr"
	"islandctl/src/logging"
	"islandctl/src/models"
)

// CreateIsland provisions a new solo-owned island for playerUUID. It is a
// no-op failure (AlreadyExists) if the player already owns an island,
// whether directly or through a team.
func (k *Kernel) CreateIsland(ctx context.Context, playerUUID, playerName string) (models.IslandView, error) {
	if existing, _ := k.islands.GetByPlayerUUID(ctx, playerUUID); existing != nil {
		return models.IslandView{}, islanderr.AlreadyExists("player already owns an island", nil)
	}
	if team, _ := k.teams.GetTeamByPlayer(ctx, playerUUID); team != nil {
		if existing, _ := k.islands.GetByTeamID(ctx, team.ID); existing != nil {
			return models.IslandView{}, islanderr.AlreadyExists("player's team already owns an island", nil)
		}
	}

	island := &models.Island{
		PlayerUUID:    &playerUUID,
		ContainerName: soloContainerName(playerName, playerUUID),
		Status:        models.IslandStatusPendingCreation,
	}
	if err := k.islands.Create(ctx, island); err != nil {
		return models.IslandView{}, islanderr.Internal("create island row", err)
	}

	recipients := []string{playerUUID}
	k.publishIslandUpdated(ctx, island, recipients)

	k.tasks.Schedule(detach(ctx), func(bgCtx context.Context) {
		k.provisionContainer(bgCtx, island.ID, soloIslandDataTOML(playerUUID), recipients)
	})

	return models.NewIslandView(island), nil
}

// AdmitQueuedCreation is invoked by the creation-queue admission worker
// (C5) after popping an entry and confirming capacity is available.
func (k *Kernel) AdmitQueuedCreation(ctx context.Context, playerUUID string, playerName string) error {
	_, err := k.CreateIsland(ctx, playerUUID, playerName)
	if err != nil && !islanderr.Is(err, islanderr.KindAlreadyExists) {
		return err
	}
	return nil
}

// createTeamIsland is the team-bound variant of CreateIsland, used
// internally by StartIsland when a team member without a personal island
// requests a start (SPEC_FULL §4.1: "create one bound to that team_id").
func (k *Kernel) createTeamIsland(ctx context.Context, team *models.Team) (*models.Island, error) {
	if existing, _ := k.islands.GetByTeamID(ctx, team.ID); existing != nil {
		return existing, nil
	}

	island := &models.Island{
		TeamID:        &team.ID,
		ContainerName: teamContainerName(team.Name, team.ID),
		Status:        models.IslandStatusPendingCreation,
	}
	if err := k.islands.Create(ctx, island); err != nil {
		return nil, islanderr.Internal("create team island row", err)
	}

	recipients := k.recipientsFor(ctx, island)
	k.publishIslandUpdated(ctx, island, recipients)

	memberUUIDs := make([]string, 0, len(team.Members))
	for _, m := range team.Members {
		memberUUIDs = append(memberUUIDs, m.PlayerUUID)
	}
	toml := teamIslandDataTOML(team.ID, team.OwnerUUID, memberUUIDs)

	k.tasks.Schedule(detach(ctx), func(bgCtx context.Context) {
		k.provisionContainer(bgCtx, island.ID, toml, recipients)
	})

	return island, nil
}

// provisionContainer is the background half of island creation: clone the
// template image, push the two configuration files, and land on STOPPED or
// ERROR_CREATE (SPEC_FULL §4.1, grounded on
// _perform_lxd_clone_and_update_status).
func (k *Kernel) provisionContainer(ctx context.Context, islandID int64, islandDataTOML string, recipients []string) {
	island, err := k.islands.Get(ctx, islandID)
	if err != nil {
		k.log.Error(ctx, "kernel: provisionContainer: island vanished", logging.Int("island_id", int(islandID)), logging.Err(err))
		return
	}

	fail := func(cause error) {
		k.log.Error(ctx, "kernel: island provisioning failed", logging.Int("island_id", int(islandID)), logging.Err(cause))
		updated, uerr := k.islands.AtomicStatusUpdate(ctx, islandID, models.IslandStatusErrorCreate, nil)
		if uerr != nil {
			k.log.Error(ctx, "kernel: failed to record ERROR_CREATE", logging.Int("island_id", int(islandID)), logging.Err(uerr))
			return
		}
		k.publishIslandUpdated(ctx, updated, recipients)
	}

	opts := driver.CloneOptions{Profiles: k.cfg.LXDDefaultProfiles}
	if _, err := k.driver.Clone(ctx, k.cfg.LXDBaseImage, island.ContainerName, opts); err != nil {
		fail(err)
		return
	}

	if err := k.driver.PushFile(ctx, island.ContainerName, islandDataPath, strings.NewReader(islandDataTOML), nil, nil, nil); err != nil {
		fail(err)
		return
	}
	playersync := playersyncCommonTOML(randomServerID())
	if err := k.driver.PushFile(ctx, island.ContainerName, playersyncPath, strings.NewReader(playersync), nil, nil, nil); err != nil {
		fail(err)
		return
	}

	updated, err := k.islands.AtomicStatusUpdate(ctx, islandID, models.IslandStatusStopped, map[string]interface{}{
		"minecraft_ready": false,
	})
	if err != nil {
		k.log.Error(ctx, "kernel: failed to record STOPPED after provisioning", logging.Int("island_id", int(islandID)), logging.Err(err))
		return
	}
	k.log.Info(ctx, "kernel: island provisioned", logging.Int("island_id", int(islandID)), logging.String("container_name", island.ContainerName))
	k.publishIslandUpdated(ctx, updated, recipients)
}

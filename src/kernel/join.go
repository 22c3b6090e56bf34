package kernel

import (
	"context"

	"islandctl/src/eventbus"
	"islandctl/src/islanderr"
	"islandctl/src/logging"
	"islandctl/src/models"
)

// JoinTeam moves playerUUID into teamName, removing them from any team
// they solely own and deleting any solo island they personally owned
// (SPEC_FULL §4.1, scenario 6). Refuses if the player's current team has
// more than one member, whether or not the player owns it.
func (k *Kernel) JoinTeam(ctx context.Context, playerUUID, teamName string) error {
	target, err := k.teams.GetTeamByName(ctx, teamName)
	if err != nil || target == nil {
		return islanderr.NotFound("target team not found", err)
	}

	currentTeam, _ := k.teams.GetTeamByPlayer(ctx, playerUUID)
	if currentTeam != nil {
		count, err := k.teams.CountMembers(ctx, currentTeam.ID)
		if err != nil {
			return islanderr.Internal("count current team members", err)
		}
		if count > 1 {
			return islanderr.InvalidState("cannot leave a team with other members", nil)
		}
	}

	soloIsland, _ := k.islands.GetByPlayerUUID(ctx, playerUUID)

	if err := k.teams.AddMember(ctx, target.ID, playerUUID, models.RoleMember); err != nil {
		return islanderr.Internal("add member to target team", err)
	}
	if currentTeam != nil {
		if err := k.teams.DeleteTeam(ctx, currentTeam.ID); err != nil {
			k.log.Warn(ctx, "kernel: failed to delete vacated solo team", logging.Int("team_id", int(currentTeam.ID)), logging.Err(err))
		}
	}

	newTeam, err := k.teams.GetTeamByID(ctx, target.ID)
	if err == nil && newTeam != nil {
		recipients := make([]string, 0, len(newTeam.Members))
		for _, m := range newTeam.Members {
			recipients = append(recipients, m.PlayerUUID)
		}
		teamIsland, _ := k.islands.GetByTeamID(ctx, target.ID)
		if teamIsland != nil {
			k.publishTeamUpdated(ctx, newTeam, teamIsland, recipients)
		}
	}

	if soloIsland != nil {
		k.tasks.Schedule(detach(ctx), func(bgCtx context.Context) {
			k.deleteSoloIsland(bgCtx, soloIsland, playerUUID)
		})
	}

	return nil
}

// publishTeamUpdated emits team_updated (Team+members+island) to recipients.
func (k *Kernel) publishTeamUpdated(ctx context.Context, team *models.Team, island *models.Island, recipients []string) {
	payload := struct {
		Team   *models.Team      `json:"team"`
		Island models.IslandView `json:"island"`
	}{Team: team, Island: models.NewIslandView(island)}
	if err := k.bus.Publish(ctx, recipients, eventbus.EventTeamUpdated, payload); err != nil {
		k.log.Warn(ctx, "kernel: publish team_updated failed", logging.Int("team_id", int(team.ID)), logging.Err(err))
	}
}

// deleteSoloIsland is the background half of JoinTeam's cleanup: remove the
// joining player's old personal container and row, then notify them.
func (k *Kernel) deleteSoloIsland(ctx context.Context, island *models.Island, playerUUID string) {
	if _, err := k.driver.Delete(ctx, island.ContainerName, true); err != nil {
		k.log.Error(ctx, "kernel: failed to delete vacated solo island container", logging.Int("island_id", int(island.ID)), logging.Err(err))
	}
	if err := k.islands.Delete(ctx, island.ID); err != nil {
		k.log.Error(ctx, "kernel: failed to delete vacated solo island row", logging.Int("island_id", int(island.ID)), logging.Err(err))
		return
	}
	k.publishIslandDeleted(ctx, island.ID, []string{playerUUID})
}

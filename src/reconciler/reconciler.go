// Package reconciler implements the one-shot startup reconciliation pass
// (C7): compare every island in a transient/active DB status against the
// driver's live view and correct divergences per the truth table in
// SPEC_FULL §4.2. It never creates or deletes containers; it only moves
// island rows to match reality.
package reconciler

import (
	"context"
	"time"

	"islandctl/src/driver"
	"islandctl/src/eventbus"
	"islandctl/src/logging"
	"islandctl/src/models"
)

const leaderKey = "islandctl:reconciler:leader"
const leaderTTL = 60 * time.Second

var reconcilableStatuses = []models.IslandStatus{
	models.IslandStatusRunning,
	models.IslandStatusFrozen,
	models.IslandStatusPendingStart,
	models.IslandStatusPendingFreeze,
	models.IslandStatusPendingStop,
	models.IslandStatusErrorStart,
}

// Reconciler holds the dependencies the startup pass needs.
type Reconciler struct {
	islands models.IslandRepository
	teams   models.TeamRepository
	driver  driver.Driver
	bus     eventbus.Bus
	log     logging.Logger
}

func New(islands models.IslandRepository, teams models.TeamRepository, drv driver.Driver, bus eventbus.Bus, log logging.Logger) *Reconciler {
	return &Reconciler{islands: islands, teams: teams, driver: drv, bus: bus, log: log}
}

// RunIfLeader attempts to acquire the startup leader key; if it wins, runs
// the reconciliation pass once and returns. If it loses, it logs and
// returns immediately without error — losing leadership is not a failure.
func (r *Reconciler) RunIfLeader(ctx context.Context) error {
	won, err := r.bus.AcquireLeader(ctx, leaderKey, leaderTTL)
	if err != nil {
		return err
	}
	if !won {
		r.log.Info(ctx, "reconciler: another process holds leadership, skipping")
		return nil
	}
	r.log.Info(ctx, "reconciler: acquired leadership, running reconciliation pass")
	r.run(ctx)
	return nil
}

func (r *Reconciler) run(ctx context.Context) {
	islands, err := r.islands.GetByStatuses(ctx, reconcilableStatuses, 0)
	if err != nil {
		r.log.Error(ctx, "reconciler: fetch islands failed", logging.Err(err))
		return
	}
	r.log.Info(ctx, "reconciler: pass starting", logging.Int("candidate_count", len(islands)))

	for _, island := range islands {
		r.reconcileOne(ctx, island)
	}
	r.log.Info(ctx, "reconciler: pass complete")
}

func (r *Reconciler) reconcileOne(ctx context.Context, island *models.Island) {
	ctx = logging.WithIslandID(ctx, island.ID)

	state, err := r.driver.State(ctx, island.ContainerName)
	driverStatus := "notfound"
	if err != nil {
		if !driver.IsNotFound(err) {
			r.log.Warn(ctx, "reconciler: driver query failed, skipping island", logging.Err(err))
			return
		}
	} else {
		driverStatus = normalizeDriverStatus(state.Status)
	}

	newStatus, clearIP, newIP := r.resolve(island.Status, driverStatus, island)
	if newStatus == island.Status && newIP == "" {
		return
	}

	extra := map[string]interface{}{}
	if clearIP {
		extra["internal_ip"] = nil
	} else if newIP != "" {
		extra["internal_ip"] = newIP
	}
	if newStatus != models.IslandStatusRunning {
		extra["minecraft_ready"] = false
	}

	updated, err := r.islands.AtomicStatusUpdate(ctx, island.ID, newStatus, extra)
	if err != nil {
		r.log.Error(ctx, "reconciler: status update failed", logging.Err(err))
		return
	}
	r.log.Warn(ctx, "reconciler: corrected island status",
		logging.String("from", string(island.Status)), logging.String("to", string(newStatus)), logging.String("driver_status", driverStatus))

	recipients := r.recipientsFor(ctx, updated)
	if err := r.bus.Publish(ctx, recipients, eventbus.EventIslandUpdated, models.NewIslandView(updated)); err != nil {
		r.log.Warn(ctx, "reconciler: publish island_updated failed", logging.Err(err))
	}
}

// resolve implements the truth table of SPEC_FULL §4.2. It returns the
// corrected status, whether internal_ip should be cleared, and a fresh IP
// to set (only populated when driver says Running and one is available).
func (r *Reconciler) resolve(dbStatus models.IslandStatus, driverStatus string, island *models.Island) (models.IslandStatus, bool, string) {
	switch driverStatus {
	case "running":
		ip := r.firstIPv4(island)
		switch dbStatus {
		case models.IslandStatusRunning:
			if ip != "" && (island.InternalIP == nil || *island.InternalIP != ip) {
				return models.IslandStatusRunning, false, ip
			}
			return dbStatus, false, ""
		default:
			if ip == "" {
				return models.IslandStatusErrorStart, true, ""
			}
			return models.IslandStatusRunning, false, ip
		}
	case "frozen":
		return models.IslandStatusFrozen, false, ""
	case "stopped":
		if dbStatus == models.IslandStatusErrorStart {
			return dbStatus, false, ""
		}
		return models.IslandStatusStopped, true, ""
	default: // notfound
		return models.IslandStatusError, true, ""
	}
}

// firstIPv4 re-resolves the container's current IPv4 via the driver; used
// only on the "driver says Running" branch of the truth table.
func (r *Reconciler) firstIPv4(island *models.Island) string {
	ip, err := r.driver.WaitIPv4(context.Background(), island.ContainerName, 1, 0)
	if err != nil {
		return ""
	}
	return ip
}

func normalizeDriverStatus(status string) string {
	switch status {
	case "Running":
		return "running"
	case "Frozen":
		return "frozen"
	case "Stopped":
		return "stopped"
	default:
		return "stopped"
	}
}

func (r *Reconciler) recipientsFor(ctx context.Context, island *models.Island) []string {
	if island.PlayerUUID != nil {
		return []string{*island.PlayerUUID}
	}
	if island.TeamID == nil {
		return nil
	}
	team, err := r.teams.GetTeamByID(ctx, *island.TeamID)
	if err != nil {
		return nil
	}
	ids := make([]string, 0, len(team.Members))
	for _, m := range team.Members {
		ids = append(ids, m.PlayerUUID)
	}
	return ids
}

// Package kernel implements the island lifecycle state machine: the single
// place that knows how to move an island between PENDING_CREATION,
// STOPPED, PENDING_START, RUNNING, PENDING_FREEZE, FROZEN, PENDING_STOP,
// PENDING_UPDATE, UPDATING, and the terminal error/archived states, driving
// the hypervisor (driver), persistence (repository), and event bus to do
// it. Every public method performs one atomic status write before handing
// the rest of the work to a background task, so a concurrent caller that
// observes the PENDING_* status deterministically takes the idempotent
// no-op branch.
package kernel

import (
	"context"
	"math/rand"
	"strconv"

	"islandctl/src/config"
	"islandctl/src/driver"
	"islandctl/src/eventbus"
	"islandctl/src/logging"
	"islandctl/src/models"
)

// Kernel holds every dependency the island operations need. It carries no
// mutable state of its own beyond the task runner's worker pool; all
// authoritative state lives in the repository.
type Kernel struct {
	islands    models.IslandRepository
	teams      models.TeamRepository
	creationQ  models.CreationQueueRepository
	startQ     models.StartQueueRepository
	updateQ    models.UpdateQueueRepository
	driver     driver.Driver
	bus        eventbus.Bus
	log        logging.Logger
	cfg        config.Config
	tasks      *TaskRunner
	updateWake chan<- struct{}
}

// SetUpdateWakeChannel wires the in-process signal QueueUpdate raises on
// enqueue, read by the update worker's select loop alongside the
// cross-process LISTEN/NOTIFY channel (SPEC_FULL §4.4).
func (k *Kernel) SetUpdateWakeChannel(ch chan<- struct{}) {
	k.updateWake = ch
}

// New builds a Kernel. tasks is the bounded worker pool background
// operations are scheduled onto; callers share one TaskRunner across the
// whole process so task concurrency is a single observable knob.
func New(
	islands models.IslandRepository,
	teams models.TeamRepository,
	creationQ models.CreationQueueRepository,
	startQ models.StartQueueRepository,
	updateQ models.UpdateQueueRepository,
	drv driver.Driver,
	bus eventbus.Bus,
	log logging.Logger,
	cfg config.Config,
	tasks *TaskRunner,
) *Kernel {
	return &Kernel{
		islands:   islands,
		teams:     teams,
		creationQ: creationQ,
		startQ:    startQ,
		updateQ:   updateQ,
		driver:    drv,
		bus:       bus,
		log:       log,
		cfg:       cfg,
		tasks:     tasks,
	}
}

// detach returns a context carrying no deadline or cancellation from the
// originating request but preserving its logging identity fields, for
// background tasks that must outlive the HTTP call that scheduled them
// (SPEC_FULL §5: "not cancelled when the HTTP request completes").
func detach(ctx context.Context) context.Context {
	out := context.Background()
	if id := logging.IslandIDFromContext(ctx); id != "" {
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			out = logging.WithIslandID(out, n)
		}
	}
	if id := logging.TeamIDFromContext(ctx); id != "" {
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			out = logging.WithTeamID(out, n)
		}
	}
	if uuid := logging.PlayerUUIDFromContext(ctx); uuid != "" {
		out = logging.WithPlayerUUID(out, uuid)
	}
	if rid := logging.RequestIDFromContext(ctx); rid != "" {
		out = logging.WithRequestID(out, rid)
	}
	return out
}

// randomServerID produces the 6-digit placeholder used by the
// playersync-common.toml template (SPEC_FULL §6).
func randomServerID() int {
	return 100000 + rand.Intn(900000)
}

// publishIslandUpdated notifies every recipient tied to island of its
// current view. recipientIDs is the team's member UUIDs, or the solo
// player's UUID.
func (k *Kernel) publishIslandUpdated(ctx context.Context, island *models.Island, recipientIDs []string) {
	view := models.NewIslandView(island)
	if err := k.bus.Publish(ctx, recipientIDs, eventbus.EventIslandUpdated, view); err != nil {
		k.log.Warn(ctx, "kernel: publish island_updated failed", logging.Int("island_id", int(island.ID)), logging.Err(err))
	}
}

func (k *Kernel) publishIslandDeleted(ctx context.Context, islandID int64, recipientIDs []string) {
	payload := struct {
		IslandID int64 `json:"island_id"`
	}{IslandID: islandID}
	if err := k.bus.Publish(ctx, recipientIDs, eventbus.EventIslandDeleted, payload); err != nil {
		k.log.Warn(ctx, "kernel: publish island_deleted failed", logging.Int("island_id", int(islandID)), logging.Err(err))
	}
}

// recipientsFor returns the set of UUIDs that should receive events about
// island: every member of its team, or its solo owner.
func (k *Kernel) recipientsFor(ctx context.Context, island *models.Island) []string {
	if island.PlayerUUID != nil {
		return []string{*island.PlayerUUID}
	}
	if island.TeamID == nil {
		return nil
	}
	team, err := k.teams.GetTeamByID(ctx, *island.TeamID)
	if err != nil {
		k.log.Warn(ctx, "kernel: resolve team recipients failed", logging.Int("team_id", int(*island.TeamID)), logging.Err(err))
		return nil
	}
	ids := make([]string, 0, len(team.Members))
	for _, m := range team.Members {
		ids = append(ids, m.PlayerUUID)
	}
	return ids
}

// runningCount reports the number of islands currently RUNNING, used by
// StartIsland to decide whether to admit immediately or queue.
func (k *Kernel) runningCount(ctx context.Context) (int, error) {
	return k.islands.CountByStatus(ctx, models.IslandStatusRunning)
}

package reconciler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"islandctl/src/internal/fakes"
	"islandctl/src/logging"
	"islandctl/src/models"
)

func newTestReconciler(t *testing.T) (*Reconciler, *fakes.IslandRepo, *fakes.Driver, *fakes.Bus) {
	t.Helper()
	islands := fakes.NewIslandRepo()
	teams := fakes.NewTeamRepo()
	drv := fakes.NewDriver()
	bus := fakes.NewBus()
	r := New(islands, teams, drv, bus, logging.New("reconciler-test", "error", "json"))
	return r, islands, drv, bus
}

func TestResolveTruthTable(t *testing.T) {
	r, _, _, _ := newTestReconciler(t)

	ip := "10.0.0.9"
	cases := []struct {
		name       string
		dbStatus   models.IslandStatus
		driver     string
		wantStatus models.IslandStatus
	}{
		{"running+running unchanged", models.IslandStatusRunning, "running", models.IslandStatusRunning},
		{"pending_start+running resolves", models.IslandStatusPendingStart, "running", models.IslandStatusRunning},
		{"error_start+running recovers", models.IslandStatusErrorStart, "running", models.IslandStatusRunning},
		{"anything+frozen becomes frozen", models.IslandStatusRunning, "frozen", models.IslandStatusFrozen},
		{"running+stopped becomes stopped", models.IslandStatusRunning, "stopped", models.IslandStatusStopped},
		{"error_start+stopped stays error_start", models.IslandStatusErrorStart, "stopped", models.IslandStatusErrorStart},
		{"anything+notfound becomes error", models.IslandStatusFrozen, "notfound", models.IslandStatusError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			island := &models.Island{ID: 1, ContainerName: "c", Status: tc.dbStatus, InternalIP: &ip}
			gotStatus, _, _ := r.resolve(tc.dbStatus, tc.driver, island)
			assert.Equal(t, tc.wantStatus, gotStatus)
		})
	}
}

func TestReconcileOneCorrectsDivergentStatus(t *testing.T) {
	r, islands, drv, bus := newTestReconciler(t)
	ctx := context.Background()

	playerUUID := "player-1"
	island := &models.Island{PlayerUUID: &playerUUID, ContainerName: "c1", Status: models.IslandStatusPendingStart}
	require.NoError(t, islands.Create(ctx, island))
	drv.SetState("c1", "Running")

	r.reconcileOne(ctx, island)

	updated, err := islands.Get(ctx, island.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IslandStatusRunning, updated.Status)
	require.NotNil(t, updated.InternalIP)
	assert.NotEmpty(t, bus.Published)
}

func TestReconcileOneNoopWhenAlreadyCorrect(t *testing.T) {
	r, islands, drv, bus := newTestReconciler(t)
	ctx := context.Background()

	playerUUID := "player-2"
	ip := drv.IPToAssign
	island := &models.Island{PlayerUUID: &playerUUID, ContainerName: "c2", Status: models.IslandStatusRunning, InternalIP: &ip}
	require.NoError(t, islands.Create(ctx, island))
	drv.SetState("c2", "Running")

	r.reconcileOne(ctx, island)

	assert.Empty(t, bus.Published, "no event should publish when nothing diverged")
}

package kernel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"islandctl/src/config"
	"islandctl/src/internal/fakes"
	"islandctl/src/islanderr"
	"islandctl/src/logging"
	"islandctl/src/models"
)

func newTestKernel(t *testing.T) (*Kernel, *fakes.IslandRepo, *fakes.TeamRepo, *fakes.Driver, *fakes.Bus) {
	t.Helper()
	islands := fakes.NewIslandRepo()
	teams := fakes.NewTeamRepo()
	drv := fakes.NewDriver()
	bus := fakes.NewBus()
	cfg := config.Config{
		MaxRunningServers:  2,
		LXDBaseImage:       "skyblock-base",
		LXDDefaultProfiles: []string{"default"},
		LXDIPRetryAttempts: 3,
		LXDIPRetryDelay:    time.Millisecond,
	}
	log := logging.New("kernel-test", "error", "json")
	tasks := NewTaskRunner(2, 16, log)
	t.Cleanup(tasks.Stop)

	k := New(islands, teams, fakes.NewCreationQueue(), fakes.NewStartQueue(), fakes.NewUpdateQueue(), drv, bus, log, cfg, tasks)
	return k, islands, teams, drv, bus
}

func waitForStatus(t *testing.T, islands *fakes.IslandRepo, islandID int64, want models.IslandStatus) *models.Island {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		island, err := islands.Get(context.Background(), islandID)
		require.NoError(t, err)
		if island.Status == want {
			return island
		}
		if time.Now().After(deadline) {
			t.Fatalf("island %d never reached status %s, last seen %s", islandID, want, island.Status)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCreateIslandProvisionsToStopped(t *testing.T) {
	k, islands, _, drv, bus := newTestKernel(t)
	ctx := context.Background()

	view, err := k.CreateIsland(ctx, "player-1", "Alice")
	require.NoError(t, err)
	assert.Equal(t, models.IslandStatusPendingCreation, view.Status)

	final := waitForStatus(t, islands, view.ID, models.IslandStatusStopped)
	assert.False(t, final.MinecraftReady)
	exists, _ := drv.Exists(ctx, final.ContainerName)
	assert.True(t, exists)
	assert.NotEmpty(t, bus.Published)
}

func TestCreateIslandRejectsDuplicate(t *testing.T) {
	k, _, _, _, _ := newTestKernel(t)
	ctx := context.Background()

	_, err := k.CreateIsland(ctx, "player-1", "Alice")
	require.NoError(t, err)

	_, err = k.CreateIsland(ctx, "player-1", "Alice")
	require.Error(t, err)
	assert.True(t, islanderr.Is(err, islanderr.KindAlreadyExists))
}

func TestCreateIslandProvisioningFailureSetsErrorCreate(t *testing.T) {
	k, islands, _, drv, _ := newTestKernel(t)
	ctx := context.Background()
	drv.FailClone = assertErr

	view, err := k.CreateIsland(ctx, "player-2", "Bob")
	require.NoError(t, err)

	waitForStatus(t, islands, view.ID, models.IslandStatusErrorCreate)
}

func TestStartIslandQueuesWhenCapacityExhausted(t *testing.T) {
	k, islands, _, _, _ := newTestKernel(t)
	ctx := context.Background()
	k.cfg.MaxRunningServers = 0

	view, err := k.CreateIsland(ctx, "player-3", "Carol")
	require.NoError(t, err)
	waitForStatus(t, islands, view.ID, models.IslandStatusStopped)

	startView, err := k.StartIsland(ctx, "player-3", "Carol")
	require.NoError(t, err)
	assert.Equal(t, models.IslandStatusStopped, startView.Status)
}

func TestStartIslandRunsToRunning(t *testing.T) {
	k, islands, _, _, _ := newTestKernel(t)
	ctx := context.Background()

	view, err := k.CreateIsland(ctx, "player-4", "Dave")
	require.NoError(t, err)
	waitForStatus(t, islands, view.ID, models.IslandStatusStopped)

	startView, err := k.StartIsland(ctx, "player-4", "Dave")
	require.NoError(t, err)
	assert.Equal(t, models.IslandStatusPendingStart, startView.Status)

	final := waitForStatus(t, islands, view.ID, models.IslandStatusRunning)
	require.NotNil(t, final.InternalIP)
	assert.Equal(t, "10.0.0.5", *final.InternalIP)
}

func TestStopIslandIdempotentWhenAlreadyStopped(t *testing.T) {
	k, islands, _, _, _ := newTestKernel(t)
	ctx := context.Background()

	view, err := k.CreateIsland(ctx, "player-5", "Eve")
	require.NoError(t, err)
	waitForStatus(t, islands, view.ID, models.IslandStatusStopped)

	stopView, err := k.StopIsland(ctx, "player-5")
	require.NoError(t, err)
	assert.Equal(t, models.IslandStatusStopped, stopView.Status)
}

func TestMarkReadyRequiresRunning(t *testing.T) {
	k, islands, _, _, _ := newTestKernel(t)
	ctx := context.Background()

	view, err := k.CreateIsland(ctx, "player-6", "Frank")
	require.NoError(t, err)
	waitForStatus(t, islands, view.ID, models.IslandStatusStopped)

	_, err = k.MarkReady(ctx, "player-6")
	require.Error(t, err)
}

func TestDeleteIslandArchivesRatherThanHardDeletes(t *testing.T) {
	k, islands, _, _, _ := newTestKernel(t)
	ctx := context.Background()

	view, err := k.CreateIsland(ctx, "player-7", "Grace")
	require.NoError(t, err)
	waitForStatus(t, islands, view.ID, models.IslandStatusStopped)

	require.NoError(t, k.DeleteIsland(ctx, view.ID))
	final := waitForStatus(t, islands, view.ID, models.IslandStatusArchived)
	assert.Equal(t, models.IslandStatusArchived, final.Status)
}

var assertErr = errDriverFailure{}

type errDriverFailure struct{}

func (errDriverFailure) Error() string { return "simulated driver failure" }

package admission

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"islandctl/src/config"
	"islandctl/src/internal/fakes"
	"islandctl/src/kernel"
	"islandctl/src/logging"
	"islandctl/src/models"
)

func newTestDeps(t *testing.T, maxRunning int) (*kernel.Kernel, *fakes.IslandRepo, *fakes.CreationQueue, *fakes.StartQueue) {
	t.Helper()
	islands := fakes.NewIslandRepo()
	teams := fakes.NewTeamRepo()
	creationQ := fakes.NewCreationQueue()
	startQ := fakes.NewStartQueue()
	drv := fakes.NewDriver()
	bus := fakes.NewBus()
	log := logging.New("admission-test", "error", "json")
	cfg := config.Config{MaxRunningServers: maxRunning, LXDBaseImage: "base", LXDIPRetryAttempts: 1, LXDIPRetryDelay: time.Millisecond}
	tasks := kernel.NewTaskRunner(2, 16, log)
	t.Cleanup(tasks.Stop)
	k := kernel.New(islands, teams, creationQ, startQ, fakes.NewUpdateQueue(), drv, bus, log, cfg, tasks)
	return k, islands, creationQ, startQ
}

func TestCreationWorkerAdmitsWhenCapacityAvailable(t *testing.T) {
	k, islands, creationQ, _ := newTestDeps(t, 5)
	ctx := context.Background()

	_, err := creationQ.Add(ctx, "player-1", nil)
	require.NoError(t, err)

	w := NewCreationWorker(creationQ, islands, k, config.Config{MaxRunningServers: 5}, logging.New("t", "error", "json"))
	w.tick(ctx)

	deadline := time.Now().Add(time.Second)
	for {
		size, _ := creationQ.Size(ctx, nil)
		if size == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("creation queue entry was never removed")
		}
		time.Sleep(time.Millisecond)
	}

	island, err := islands.GetByPlayerUUID(ctx, "player-1")
	require.NoError(t, err)
	assert.NotNil(t, island)
}

func TestCreationWorkerSkipsWhenCapacityExhausted(t *testing.T) {
	k, islands, creationQ, _ := newTestDeps(t, 0)
	ctx := context.Background()

	running := &models.Island{PlayerUUID: strptr("already-running"), ContainerName: "already-running", Status: models.IslandStatusRunning}
	require.NoError(t, islands.Create(ctx, running))

	_, err := creationQ.Add(ctx, "player-2", nil)
	require.NoError(t, err)

	w := NewCreationWorker(creationQ, islands, k, config.Config{MaxRunningServers: 0}, logging.New("t", "error", "json"))
	w.tick(ctx)

	size, _ := creationQ.Size(ctx, nil)
	assert.Equal(t, 1, size, "entry should remain queued when capacity is exhausted")
}

func strptr(s string) *string { return &s }

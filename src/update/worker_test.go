package update

import (
	"context"
	"os"
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

var assertErr = errDriverFailure{}

type errDriverFailure struct{}

func (errDriverFailure) Error() string { return "simulated driver failure" }

func newTestWorker(t *testing.T, cfg config.Config) (*Worker, *fakes.IslandRepo, *fakes.Driver, *fakes.Archive, *fakes.Bus) {
	t.Helper()
	islands := fakes.NewIslandRepo()
	teams := fakes.NewTeamRepo()
	drv := fakes.NewDriver()
	bus := fakes.NewBus()
	archiveStore := fakes.NewArchive()
	log := logging.New("update-test", "error", "json")

	kernelCfg := cfg
	kernelCfg.LXDIPRetryAttempts = 1
	kernelCfg.LXDIPRetryDelay = time.Millisecond
	tasks := kernel.NewTaskRunner(2, 16, log)
	t.Cleanup(tasks.Stop)
	k := kernel.New(islands, teams, fakes.NewCreationQueue(), fakes.NewStartQueue(), fakes.NewUpdateQueue(), drv, bus, log, kernelCfg, tasks)

	w := NewWorker(fakes.NewUpdateQueue(), islands, drv, k, archiveStore, bus, cfg, log, make(chan struct{}))
	return w, islands, drv, archiveStore, bus
}

// watchAndMarkReady spawns a goroutine that, for five seconds, flips
// minecraft_ready to true whenever islandID is observed RUNNING and not
// ready, mirroring the game server's own readiness callback so
// WaitMinecraftReady doesn't block the full timeout after a restart.
func watchAndMarkReady(t *testing.T, islands *fakes.IslandRepo, islandID int64) {
	t.Helper()
	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			island, err := islands.Get(context.Background(), islandID)
			if err == nil && island.Status == models.IslandStatusRunning && !island.MinecraftReady {
				_, _ = islands.AtomicStatusUpdate(context.Background(), islandID, models.IslandStatusRunning, map[string]interface{}{"minecraft_ready": true})
			}
			time.Sleep(time.Millisecond)
		}
	}()
}

func seedUpdateSourceFile(t *testing.T) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "island-update-*.jar")
	require.NoError(t, err)
	_, err = f.WriteString("fake plugin jar contents")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

func TestPerformFileUpdateSuccessWhileStopped(t *testing.T) {
	cfg := config.Config{
		UpdateStrategy:             config.UpdateStrategyFiles,
		IslandUpdateFileSourcePath: seedUpdateSourceFile(t),
		IslandUpdateFileTargetPath: "/opt/minecraft/plugins/skyblock.jar",
	}
	w, islands, drv, _, _ := newTestWorker(t, cfg)
	ctx := context.Background()

	island := &models.Island{ContainerName: "c1", Status: models.IslandStatusStopped}
	require.NoError(t, islands.Create(ctx, island))
	drv.SetState("c1", "Stopped")

	err := w.performFileUpdate(ctx, island)
	require.NoError(t, err)

	final, err := islands.Get(ctx, island.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IslandStatusStopped, final.Status)
}

func TestPerformFileUpdateRestartsWhenWasRunning(t *testing.T) {
	cfg := config.Config{
		UpdateStrategy:             config.UpdateStrategyFiles,
		IslandUpdateFileSourcePath: seedUpdateSourceFile(t),
		IslandUpdateFileTargetPath: "/opt/minecraft/plugins/skyblock.jar",
	}
	w, islands, drv, _, _ := newTestWorker(t, cfg)
	ctx := context.Background()

	ip := "10.0.0.5"
	island := &models.Island{ContainerName: "c2", Status: models.IslandStatusRunning, InternalIP: &ip}
	require.NoError(t, islands.Create(ctx, island))
	drv.SetState("c2", "Running")
	watchAndMarkReady(t, islands, island.ID)

	err := w.performFileUpdate(ctx, island)
	require.NoError(t, err)

	final, err := islands.Get(ctx, island.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IslandStatusRunning, final.Status)
	assert.True(t, final.MinecraftReady)
}

func TestPerformFileUpdateRollsBackOnPushFailure(t *testing.T) {
	cfg := config.Config{
		UpdateStrategy:             config.UpdateStrategyFiles,
		IslandUpdateFileSourcePath: seedUpdateSourceFile(t),
		IslandUpdateFileTargetPath: "/opt/minecraft/plugins/skyblock.jar",
	}
	w, islands, drv, _, _ := newTestWorker(t, cfg)
	ctx := context.Background()

	island := &models.Island{ContainerName: "c3", Status: models.IslandStatusStopped}
	require.NoError(t, islands.Create(ctx, island))
	drv.SetState("c3", "Stopped")
	drv.FailPush = assertErr

	err := w.performFileUpdate(ctx, island)
	require.Error(t, err)

	final, err := islands.Get(ctx, island.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IslandStatusStopped, final.Status, "rollback should restore STOPPED, not leave UPDATING")
}

func TestPerformFileUpdateRecordsErrorWhenRollbackAlsoFails(t *testing.T) {
	cfg := config.Config{
		UpdateStrategy:             config.UpdateStrategyFiles,
		IslandUpdateFileSourcePath: seedUpdateSourceFile(t),
		IslandUpdateFileTargetPath: "/opt/minecraft/plugins/skyblock.jar",
	}
	w, islands, drv, _, _ := newTestWorker(t, cfg)
	ctx := context.Background()

	island := &models.Island{ContainerName: "c4", Status: models.IslandStatusStopped}
	require.NoError(t, islands.Create(ctx, island))
	drv.SetState("c4", "Stopped")
	drv.FailPush = assertErr
	drv.FailSnapshotRestore = assertErr

	err := w.performFileUpdate(ctx, island)
	require.Error(t, err)

	final, err := islands.Get(ctx, island.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IslandStatusError, final.Status, "a failed rollback must leave the island in ERROR for operator intervention")
}

func TestPerformImageUpdateSuccessStoppedIslandLandsStopped(t *testing.T) {
	cfg := config.Config{
		UpdateStrategy:  config.UpdateStrategyImage,
		LXDNewBaseImage: "skyblock-base-v2",
	}
	w, islands, drv, _, _ := newTestWorker(t, cfg)
	ctx := context.Background()

	playerUUID := "player-1"
	island := &models.Island{PlayerUUID: &playerUUID, ContainerName: "old-c5", Status: models.IslandStatusStopped}
	require.NoError(t, islands.Create(ctx, island))
	drv.SetState("old-c5", "Stopped")

	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			all, _ := islands.GetByStatus(context.Background(), models.IslandStatusRunning, 100)
			for _, isl := range all {
				if !isl.MinecraftReady {
					_, _ = islands.AtomicStatusUpdate(context.Background(), isl.ID, models.IslandStatusRunning, map[string]interface{}{"minecraft_ready": true})
				}
			}
			if len(all) > 0 {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	err := w.performImageUpdate(ctx, island)
	require.NoError(t, err)

	_, err = islands.Get(ctx, island.ID)
	assert.Error(t, err, "the original island row should be gone, replaced by the rebuilt one")

	rebuilt, err := islands.GetByPlayerUUID(ctx, playerUUID)
	require.NoError(t, err)
	assert.Equal(t, models.IslandStatusStopped, rebuilt.Status)
	require.Nil(t, rebuilt.InternalIP)
}

func TestPerformImageUpdateFailsWhenBackupPullFails(t *testing.T) {
	cfg := config.Config{
		UpdateStrategy:  config.UpdateStrategyImage,
		LXDNewBaseImage: "skyblock-base-v2",
		ArchiveBucket:   "skyblock-backups",
	}
	w, islands, drv, archiveStore, _ := newTestWorker(t, cfg)
	ctx := context.Background()

	playerUUID := "player-2"
	island := &models.Island{PlayerUUID: &playerUUID, ContainerName: "old-c6", Status: models.IslandStatusStopped}
	require.NoError(t, islands.Create(ctx, island))
	drv.SetState("old-c6", "Stopped")
	drv.FailPullDir = assertErr

	err := w.performImageUpdate(ctx, island)
	require.Error(t, err)

	exists, _ := drv.Exists(ctx, "old-c6")
	assert.True(t, exists, "the old container must not be destroyed when the backup pull never succeeded")
	assert.Empty(t, archiveStore.Blobs())
}

func TestPerformImageUpdateLeavesUpdateFailedWhenRebuildFails(t *testing.T) {
	cfg := config.Config{
		UpdateStrategy:  config.UpdateStrategyImage,
		LXDNewBaseImage: "skyblock-base-v2",
		ArchiveBucket:   "skyblock-backups",
	}
	w, islands, drv, archiveStore, _ := newTestWorker(t, cfg)
	ctx := context.Background()

	playerUUID := "player-3"
	island := &models.Island{PlayerUUID: &playerUUID, ContainerName: "old-c7", Status: models.IslandStatusStopped}
	require.NoError(t, islands.Create(ctx, island))
	drv.SetState("old-c7", "Stopped")
	drv.FailStart = assertErr

	err := w.performImageUpdate(ctx, island)
	require.Error(t, err)

	rebuilt, gerr := islands.GetByPlayerUUID(ctx, playerUUID)
	require.NoError(t, gerr)
	assert.Equal(t, models.IslandStatusUpdateFailed, rebuilt.Status)
	assert.NotEmpty(t, archiveStore.Blobs(), "the backup archive must be preserved, not cleaned up, when the rebuild fails")
}

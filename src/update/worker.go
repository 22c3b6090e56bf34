// Package update implements the fleet Update Worker (C6): a single-process
// consumer of the update queue that performs per-island snapshot-apply-
// verify with rollback on failure, grounded on
// original_source/services/island_service.py's
// _perform_file_based_update/_perform_image_based_update/
// perform_island_update.
package update

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"islandctl/src/archive"
	"islandctl/src/config"
	"islandctl/src/driver"
	"islandctl/src/eventbus"
	"islandctl/src/kernel"
	"islandctl/src/logging"
	"islandctl/src/models"
)

const readyWaitTimeout = 180 * time.Second

// Worker drains the update queue, one island at a time, waking on an
// in-process channel (fed by the kernel when QueueUpdate enqueues an
// entry) and on cross-process Postgres LISTEN/NOTIFY.
type Worker struct {
	queue    models.UpdateQueueRepository
	islands  models.IslandRepository
	drv      driver.Driver
	kernel   *kernel.Kernel
	archive  archive.Store
	bus      eventbus.Bus
	cfg      config.Config
	log      logging.Logger
	wakeChan <-chan struct{}
}

func NewWorker(
	queue models.UpdateQueueRepository,
	islands models.IslandRepository,
	drv driver.Driver,
	k *kernel.Kernel,
	archiveStore archive.Store,
	bus eventbus.Bus,
	cfg config.Config,
	log logging.Logger,
	wakeChan <-chan struct{},
) *Worker {
	return &Worker{
		queue: queue, islands: islands, drv: drv, kernel: k,
		archive: archiveStore, bus: bus, cfg: cfg, log: log, wakeChan: wakeChan,
	}
}

// Run blocks, draining the queue on every wake signal, every
// UpdateWorkerPollInterval, and once at startup (in case entries were added
// while nothing was listening) until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info(ctx, "update: worker started")
	w.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.wakeChan:
			w.drain(ctx)
		case <-time.After(w.cfg.UpdateWorkerPollInterval):
			w.drain(ctx)
		}
	}
}

// drain processes every PENDING entry until the queue reports none left.
func (w *Worker) drain(ctx context.Context) {
	for {
		entry, err := w.queue.NextPending(ctx)
		if err != nil {
			w.log.Error(ctx, "update: fetch next pending failed", logging.Err(err))
			return
		}
		if entry == nil {
			return
		}
		w.processEntry(ctx, entry)
	}
}

func (w *Worker) processEntry(ctx context.Context, entry *models.UpdateQueueEntry) {
	ctx = logging.WithIslandID(ctx, entry.IslandID)

	if _, err := w.queue.SetProcessing(ctx, entry.ID); err != nil {
		w.log.Error(ctx, "update: mark entry processing failed", logging.Err(err))
		return
	}

	island, err := w.islands.Get(ctx, entry.IslandID)
	if err != nil {
		w.failEntry(ctx, entry, fmt.Errorf("island not found: %w", err))
		return
	}

	if _, err := w.islands.AtomicStatusUpdate(ctx, island.ID, models.IslandStatusUpdating, nil); err != nil {
		w.failEntry(ctx, entry, fmt.Errorf("write UPDATING: %w", err))
		return
	}
	if island.IsRunning() {
		recipients := w.recipientsFor(ctx, island)
		w.publish(ctx, eventbus.EventGracefulShutdown, island, recipients)
	}

	var updateErr error
	if w.cfg.UpdateStrategy == config.UpdateStrategyImage {
		updateErr = w.performImageUpdate(ctx, island)
	} else {
		updateErr = w.performFileUpdate(ctx, island)
	}

	if updateErr != nil {
		w.log.Error(ctx, "update: island update failed", logging.Err(updateErr))
		if current, err := w.islands.Get(ctx, island.ID); err == nil && current.Status != models.IslandStatusError {
			if _, err := w.islands.AtomicStatusUpdate(ctx, island.ID, models.IslandStatusUpdateFailed, map[string]interface{}{"minecraft_ready": false}); err != nil {
				w.log.Error(ctx, "update: failed to record UPDATE_FAILED", logging.Err(err))
			}
		}
		w.failEntry(ctx, entry, updateErr)
		return
	}

	if err := w.queue.SetCompleted(ctx, entry.ID); err != nil {
		w.log.Error(ctx, "update: mark entry completed failed", logging.Err(err))
	}
	w.log.Info(ctx, "update: island update completed")
}

func (w *Worker) failEntry(ctx context.Context, entry *models.UpdateQueueEntry, cause error) {
	retryCount := entry.RetryCount + 1
	if _, err := w.queue.SetFailed(ctx, entry.ID, cause.Error(), retryCount); err != nil {
		w.log.Error(ctx, "update: mark entry failed failed", logging.Err(err))
	}
	if retryCount > w.cfg.UpdateWorkerMaxRetries {
		w.log.Error(ctx, "update: retry budget exhausted, manual re-queue required", logging.Int("retry_count", retryCount))
	}
}

// performFileUpdate is grounded on _perform_file_based_update.
func (w *Worker) performFileUpdate(ctx context.Context, island *models.Island) error {
	wasRunning := island.IsRunning()
	snapshotName := fmt.Sprintf("update-snapshot-%d-%d", island.ID, time.Now().UTC().Unix())

	if err := w.drv.SnapshotCreate(ctx, island.ContainerName, snapshotName); err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}

	applyErr := w.applyFileUpdate(ctx, island, wasRunning, snapshotName)
	if applyErr == nil {
		if err := w.drv.SnapshotDelete(ctx, island.ContainerName, snapshotName); err != nil {
			w.log.Warn(ctx, "update: snapshot delete after success failed", logging.Err(err))
		}
		return nil
	}

	w.log.Error(ctx, "update: file update failed, rolling back", logging.Err(applyErr))
	rollbackErr := w.drv.SnapshotRestore(ctx, island.ContainerName, snapshotName)
	if rollbackErr == nil {
		if wasRunning {
			if err := w.kernel.StartInstanceSync(ctx, island.ID); err != nil {
				rollbackErr = err
			}
		} else if _, err := w.islands.AtomicStatusUpdate(ctx, island.ID, models.IslandStatusStopped, nil); err != nil {
			rollbackErr = err
		}
	}
	if derr := w.drv.SnapshotDelete(ctx, island.ContainerName, snapshotName); derr != nil {
		w.log.Warn(ctx, "update: snapshot delete after rollback failed", logging.Err(derr))
	}
	if rollbackErr != nil {
		w.log.Error(ctx, "update: rollback FAILED, island requires operator intervention", logging.Err(rollbackErr))
		if _, err := w.islands.AtomicStatusUpdate(ctx, island.ID, models.IslandStatusError, nil); err != nil {
			w.log.Error(ctx, "update: failed to record ERROR after failed rollback", logging.Err(err))
		}
		return fmt.Errorf("update failed and rollback failed: %w", rollbackErr)
	}
	return applyErr
}

func (w *Worker) applyFileUpdate(ctx context.Context, island *models.Island, wasRunning bool, snapshotName string) error {
	if island.Status != models.IslandStatusStopped {
		if err := w.kernel.StopInstanceSync(ctx, island.ID); err != nil {
			return fmt.Errorf("stop before file update: %w", err)
		}
	}

	content, err := os.ReadFile(w.cfg.IslandUpdateFileSourcePath)
	if err != nil {
		return fmt.Errorf("read update source file: %w", err)
	}
	if err := w.drv.PushFile(ctx, island.ContainerName, w.cfg.IslandUpdateFileTargetPath, bytes.NewReader(content), nil, nil, nil); err != nil {
		return fmt.Errorf("push update file: %w", err)
	}

	if wasRunning {
		if err := w.kernel.StartInstanceSync(ctx, island.ID); err != nil {
			return fmt.Errorf("restart after file update: %w", err)
		}
		if err := w.kernel.WaitMinecraftReady(ctx, island.ID, readyWaitTimeout); err != nil {
			return fmt.Errorf("wait ready after file update: %w", err)
		}
	} else {
		if _, err := w.islands.AtomicStatusUpdate(ctx, island.ID, models.IslandStatusStopped, nil); err != nil {
			return fmt.Errorf("write STOPPED after file update: %w", err)
		}
	}
	return nil
}

// performImageUpdate is grounded on _perform_image_based_update, with two
// deliberate deviations recorded in DESIGN.md: the backup archive (and its
// S3 copy) is preserved on any failure rather than unconditionally
// removed, and a successful update restores RUNNING when the island was
// running beforehand instead of always landing on STOPPED.
func (w *Worker) performImageUpdate(ctx context.Context, island *models.Island) error {
	wasRunning := island.IsRunning()
	if island.Status != models.IslandStatusStopped {
		if err := w.kernel.StopInstanceSync(ctx, island.ID); err != nil {
			return fmt.Errorf("stop before image update: %w", err)
		}
	}

	const dataPath = "/opt/minecraft/world"
	tarball, err := w.drv.PullDirectoryAsTar(ctx, island.ContainerName, dataPath)
	if err != nil {
		return fmt.Errorf("pull data directory for backup: %w", err)
	}

	archiveKey := archive.KeyFor(island.ID, time.Now().UTC())
	uploaded := false
	if w.cfg.ArchiveBucket != "" {
		if err := w.archive.Put(ctx, archiveKey, tarball); err != nil {
			w.log.Warn(ctx, "update: archive upload failed, continuing with host copy as record", logging.Err(err))
		} else {
			uploaded = true
		}
	}

	originalContainerName := island.ContainerName
	ownerUUID := ""
	if island.PlayerUUID != nil {
		ownerUUID = *island.PlayerUUID
	}

	if _, err := w.drv.Delete(ctx, originalContainerName, true); err != nil {
		w.log.Error(ctx, "update: DESTRUCTION FAILED, backup preserved", logging.String("archive_key", archiveKey), logging.Err(err))
		return fmt.Errorf("destroy old container (backup at %s): %w", archiveKey, err)
	}
	if err := w.islands.Delete(ctx, island.ID); err != nil {
		w.log.Error(ctx, "update: failed to remove old island row after container destruction", logging.Err(err))
		return fmt.Errorf("remove old island row: %w", err)
	}

	newContainerName := fmt.Sprintf("skyblock-solo-%s-%d", originalContainerName, time.Now().UTC().UnixNano()%100000000)
	newIsland := &models.Island{
		ContainerName: newContainerName,
		Status:        models.IslandStatusUpdating,
	}
	if ownerUUID != "" {
		newIsland.PlayerUUID = &ownerUUID
	} else {
		newIsland.TeamID = island.TeamID
	}
	if err := w.islands.Create(ctx, newIsland); err != nil {
		return fmt.Errorf("create rebuilt island row (backup at %s): %w", archiveKey, err)
	}

	rebuildErr := w.rebuildFromArchive(ctx, newIsland, tarball, ownerUUID)
	if rebuildErr != nil {
		w.log.Error(ctx, "update: REBUILD FAILED, backup preserved", logging.String("archive_key", archiveKey), logging.Bool("uploaded", uploaded), logging.Err(rebuildErr))
		if _, err := w.islands.AtomicStatusUpdate(ctx, newIsland.ID, models.IslandStatusUpdateFailed, nil); err != nil {
			w.log.Error(ctx, "update: failed to record UPDATE_FAILED on rebuilt island", logging.Err(err))
		}
		return fmt.Errorf("rebuild failed (backup at %s): %w", archiveKey, rebuildErr)
	}

	if wasRunning {
		if _, err := w.islands.AtomicStatusUpdate(ctx, newIsland.ID, models.IslandStatusRunning, nil); err != nil {
			w.log.Error(ctx, "update: failed to record final status on rebuilt island", logging.Err(err))
		}
		return nil
	}
	if err := w.kernel.StopInstanceSync(ctx, newIsland.ID); err != nil {
		w.log.Error(ctx, "update: failed to stop rebuilt island and record STOPPED", logging.Err(err))
	}
	return nil
}

func (w *Worker) rebuildFromArchive(ctx context.Context, newIsland *models.Island, tarball []byte, ownerUUID string) error {
	opts := driver.CloneOptions{Profiles: w.cfg.LXDDefaultProfiles}
	if _, err := w.drv.Clone(ctx, w.cfg.LXDNewBaseImage, newIsland.ContainerName, opts); err != nil {
		return fmt.Errorf("clone new base image: %w", err)
	}
	if err := w.drv.PushFile(ctx, newIsland.ContainerName, "/opt/minecraft/world-backup.tar.gz", bytes.NewReader(tarball), nil, nil, nil); err != nil {
		return fmt.Errorf("push backup tar: %w", err)
	}
	if _, _, _, err := w.drv.Exec(ctx, newIsland.ContainerName, []string{"tar", "-xzf", "/opt/minecraft/world-backup.tar.gz", "-C", "/opt/minecraft/world"}); err != nil {
		return fmt.Errorf("extract backup tar: %w", err)
	}
	toml := fmt.Sprintf("is_island_server = true\ncreator_uuid = %q\n", ownerUUID)
	if err := w.drv.PushFile(ctx, newIsland.ContainerName, "/opt/minecraft/world/serverconfig/skyblock_island_data.toml", bytes.NewReader([]byte(toml)), nil, nil, nil); err != nil {
		return fmt.Errorf("push island data file: %w", err)
	}
	if err := w.kernel.StartInstanceSync(ctx, newIsland.ID); err != nil {
		return fmt.Errorf("start rebuilt island: %w", err)
	}
	return w.kernel.WaitMinecraftReady(ctx, newIsland.ID, readyWaitTimeout)
}

func (w *Worker) recipientsFor(ctx context.Context, island *models.Island) []string {
	if island.PlayerUUID != nil {
		return []string{*island.PlayerUUID}
	}
	return nil
}

func (w *Worker) publish(ctx context.Context, eventType string, island *models.Island, recipients []string) {
	if err := w.bus.Publish(ctx, recipients, eventType, models.NewIslandView(island)); err != nil {
		w.log.Warn(ctx, "update: publish failed", logging.String("event_type", eventType), logging.Err(err))
	}
}

// Package admission runs the two FIFO admission queues (creation, start)
// described in SPEC_FULL §4.3: each tick, if the running-island count is
// below the configured cap, pop the oldest PENDING entry and admit it;
// otherwise wait for the next tick. Grounded directly on
// original_source/services/creation_worker.py and start_worker.py's
// tick-check-cap-then-pop-and-process loop.
package admission

import (
	"context"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"islandctl/src/config"
	"islandctl/src/islanderr"
	"islandctl/src/kernel"
	"islandctl/src/logging"
	"islandctl/src/models"
)

// tickInterval is how often each worker checks capacity and polls its
// queue. The original Python workers are triggered by an external
// scheduler with no documented fixed cadence; this spec runs them as a
// continuous bounded poll loop instead.
const tickInterval = 2 * time.Second

// CreationWorker drains the creation queue.
type CreationWorker struct {
	queue   models.CreationQueueRepository
	islands models.IslandRepository
	kernel  *kernel.Kernel
	cfg     config.Config
	log     logging.Logger
}

func NewCreationWorker(queue models.CreationQueueRepository, islands models.IslandRepository, k *kernel.Kernel, cfg config.Config, log logging.Logger) *CreationWorker {
	return &CreationWorker{queue: queue, islands: islands, kernel: k, cfg: cfg, log: log}
}

// Run blocks, ticking until ctx is cancelled.
func (w *CreationWorker) Run(ctx context.Context) error {
	w.log.Info(ctx, "admission: creation worker started")
	return wait.PollUntilContextCancel(ctx, tickInterval, true, func(pollCtx context.Context) (bool, error) {
		w.tick(pollCtx)
		return false, nil
	})
}

func (w *CreationWorker) tick(ctx context.Context) {
	running, err := w.islands.CountByStatus(ctx, models.IslandStatusRunning)
	if err != nil {
		w.log.Error(ctx, "admission: creation worker count failed", logging.Err(err))
		return
	}
	if running >= w.cfg.MaxRunningServers {
		return
	}

	entry, err := w.queue.Next(ctx)
	if err != nil {
		w.log.Error(ctx, "admission: creation worker fetch next failed", logging.Err(err))
		return
	}
	if entry == nil {
		return
	}

	if _, err := w.queue.UpdateStatus(ctx, entry.PlayerUUID, models.QueueItemProcessing); err != nil {
		w.log.Error(ctx, "admission: mark creation entry processing failed", logging.Err(err))
		return
	}

	if err := w.kernel.AdmitQueuedCreation(ctx, entry.PlayerUUID, playerNameOrEmpty(entry.PlayerName)); err != nil {
		w.log.Error(ctx, "admission: creation entry failed", logging.String("player_uuid", entry.PlayerUUID), logging.Err(err))
		if _, uerr := w.queue.UpdateStatus(ctx, entry.PlayerUUID, models.QueueItemFailed); uerr != nil {
			w.log.Error(ctx, "admission: mark creation entry failed-status failed", logging.Err(uerr))
		}
		return
	}

	if _, err := w.queue.Remove(ctx, entry.PlayerUUID); err != nil {
		w.log.Error(ctx, "admission: remove completed creation entry failed", logging.Err(err))
		return
	}
	w.log.Info(ctx, "admission: creation entry admitted", logging.String("player_uuid", entry.PlayerUUID))
}

// StartWorker drains the start queue.
type StartWorker struct {
	queue   models.StartQueueRepository
	islands models.IslandRepository
	kernel  *kernel.Kernel
	cfg     config.Config
	log     logging.Logger
}

func NewStartWorker(queue models.StartQueueRepository, islands models.IslandRepository, k *kernel.Kernel, cfg config.Config, log logging.Logger) *StartWorker {
	return &StartWorker{queue: queue, islands: islands, kernel: k, cfg: cfg, log: log}
}

func (w *StartWorker) Run(ctx context.Context) error {
	w.log.Info(ctx, "admission: start worker started")
	return wait.PollUntilContextCancel(ctx, tickInterval, true, func(pollCtx context.Context) (bool, error) {
		w.tick(pollCtx)
		return false, nil
	})
}

func (w *StartWorker) tick(ctx context.Context) {
	running, err := w.islands.CountByStatus(ctx, models.IslandStatusRunning)
	if err != nil {
		w.log.Error(ctx, "admission: start worker count failed", logging.Err(err))
		return
	}
	if running >= w.cfg.MaxRunningServers {
		return
	}

	entry, err := w.queue.Next(ctx)
	if err != nil {
		w.log.Error(ctx, "admission: start worker fetch next failed", logging.Err(err))
		return
	}
	if entry == nil {
		return
	}

	if _, err := w.queue.UpdateStatus(ctx, entry.PlayerUUID, models.QueueItemProcessing); err != nil {
		w.log.Error(ctx, "admission: mark start entry processing failed", logging.Err(err))
		return
	}

	err = w.kernel.AdmitQueuedStart(ctx, entry.PlayerUUID)
	if err != nil && !islanderr.Is(err, islanderr.KindNotFound) {
		w.log.Error(ctx, "admission: start entry failed", logging.String("player_uuid", entry.PlayerUUID), logging.Err(err))
		if _, uerr := w.queue.UpdateStatus(ctx, entry.PlayerUUID, models.QueueItemFailed); uerr != nil {
			w.log.Error(ctx, "admission: mark start entry failed-status failed", logging.Err(uerr))
		}
		return
	}

	if _, err := w.queue.Remove(ctx, entry.PlayerUUID); err != nil {
		w.log.Error(ctx, "admission: remove completed start entry failed", logging.Err(err))
		return
	}
	w.log.Info(ctx, "admission: start entry admitted", logging.String("player_uuid", entry.PlayerUUID))
}

func playerNameOrEmpty(name *string) string {
	if name == nil {
		return ""
	}
	return *name
}

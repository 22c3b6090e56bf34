package kernel

import (
	"context"
	"sync"

	"islandctl/src/logging"
)

// TaskRunner is a bounded pool of background workers. Kernel operations
// schedule their background halves onto it instead of spawning a raw
// goroutine per request, so task concurrency stays a single observable and
// boundable knob in production (SPEC_FULL §4.1's "not a raw go func()").
type TaskRunner struct {
	tasks chan func(context.Context)
	log   logging.Logger
	wg    sync.WaitGroup
	stop  chan struct{}
}

// NewTaskRunner starts workers goroutines draining a queue of depth
// queueDepth. Call Stop to drain in-flight tasks and stop accepting more.
func NewTaskRunner(workers, queueDepth int, log logging.Logger) *TaskRunner {
	if workers < 1 {
		workers = 1
	}
	r := &TaskRunner{
		tasks: make(chan func(context.Context), queueDepth),
		log:   log,
		stop:  make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

func (r *TaskRunner) worker() {
	defer r.wg.Done()
	for {
		select {
		case fn, ok := <-r.tasks:
			if !ok {
				return
			}
			r.runSafely(fn)
		case <-r.stop:
			return
		}
	}
}

func (r *TaskRunner) runSafely(fn func(context.Context)) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error(context.Background(), "kernel: background task panicked", logging.Any("panic", rec))
		}
	}()
	fn(context.Background())
}

// Schedule enqueues fn to run on the pool with ctx (already detached from
// any request-scoped cancellation by the caller). If the queue is full,
// Schedule still blocks briefly rather than silently dropping work; callers
// should size queueDepth generously relative to expected burst.
func (r *TaskRunner) Schedule(ctx context.Context, fn func(context.Context)) {
	wrapped := func(context.Context) { fn(ctx) }
	select {
	case r.tasks <- wrapped:
	case <-r.stop:
	}
}

// Stop signals all workers to finish their current task and exit, then
// waits for them.
func (r *TaskRunner) Stop() {
	close(r.stop)
	r.wg.Wait()
}

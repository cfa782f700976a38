package subscription

import (
	"context"
	"log/slog"
	"sync"
)

// sideEffectBufferSize bounds the backlog of pending container-stop fan-outs
// a burst of terminal webhooks can queue before the worker falls behind.
const sideEffectBufferSize = 256

// StopWorkspaces is implemented by the workspace package; it is injected
// so that this package does not import workspace.
type StopWorkspaces func(ctx context.Context, ownerID string) error

// SideEffectWorker runs the post-commit side effects of terminal
// subscription transitions (stopping every workspace belonging to a user
// whose subscription just became cancelled or expired) on a background
// goroutine, so a slow or failing engine call never blocks the webhook
// response. Modeled on the teacher's buffered-channel audit writer.
type SideEffectWorker struct {
	logger *slog.Logger
	stop   StopWorkspaces
	jobs   chan string
	wg     sync.WaitGroup
}

// NewSideEffectWorker builds a worker. Call Start to begin processing.
func NewSideEffectWorker(logger *slog.Logger, stop StopWorkspaces) *SideEffectWorker {
	return &SideEffectWorker{
		logger: logger,
		stop:   stop,
		jobs:   make(chan string, sideEffectBufferSize),
	}
}

// Start begins the background loop. It exits once Close is called and the
// channel drains.
func (w *SideEffectWorker) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for ownerID := range w.jobs {
			if err := w.stop(ctx, ownerID); err != nil {
				w.logger.Error("side effect: stopping workspaces for expired subscription failed",
					"owner_id", ownerID, "error", err)
			}
		}
	}()
}

// Close stops accepting new jobs and waits for the queue to drain.
func (w *SideEffectWorker) Close() {
	close(w.jobs)
	w.wg.Wait()
}

// Enqueue schedules a container-stop fan-out for ownerID. It never blocks:
// if the buffer is full, the job is dropped and logged, matching the
// teacher's audit writer's never-block-the-caller contract. Nothing
// re-queues a dropped job, so its workspaces keep running; the proxy still
// refuses their traffic, since it re-checks entitlement per request rather
// than trusting that the stop fan-out already ran.
func (w *SideEffectWorker) Enqueue(ownerID string) {
	select {
	case w.jobs <- ownerID:
	default:
		w.logger.Warn("side effect queue full, dropping workspace-stop job", "owner_id", ownerID)
	}
}

package synclite

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// DefaultReplayInterval is the periodic outbox sweep cadence.
const DefaultReplayInterval = 15 * time.Second

// Runner drives outbox replay: a periodic sweep plus an immediate sweep on
// every offline-to-online transition reported by the health monitor.
type Runner struct {
	outbox   *Outbox
	replay   ReplayFunc
	health   HealthMonitor
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewRunner creates a runner. health may be nil, in which case every sweep
// attempts replay unconditionally.
func NewRunner(outbox *Outbox, replay ReplayFunc, health HealthMonitor) *Runner {
	return &Runner{
		outbox:   outbox,
		replay:   replay,
		health:   health,
		interval: DefaultReplayInterval,
		logger:   slog.Default(),
	}
}

// SetInterval overrides the sweep cadence. Must be called before Start.
func (r *Runner) SetInterval(d time.Duration) {
	if d > 0 {
		r.interval = d
	}
}

// SetLogger overrides the default logger.
func (r *Runner) SetLogger(logger *slog.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Start launches the background replay loop. It returns an error if the
// runner is already started.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("runner already started")
	}
	r.started = true

	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	var transitions <-chan bool
	if notifier, ok := r.health.(Notifier); ok {
		transitions = notifier.Changes()
	}

	go r.loop(ctx, transitions)
	r.logger.Info("Outbox runner started", "interval", r.interval)
	return nil
}

// Stop cancels the loop and waits for it to exit.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	cancel, done := r.cancel, r.done
	r.started = false
	r.mu.Unlock()

	cancel()
	<-done
}

func (r *Runner) loop(ctx context.Context, transitions <-chan bool) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// Drain whatever accumulated while the app was offline.
	r.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		case online, ok := <-transitions:
			if !ok {
				transitions = nil
				continue
			}
			if online {
				r.logger.Info("Connectivity restored, replaying outbox")
				r.RunOnce(ctx)
			}
		}
	}
}

// RunOnce performs a single sweep: skip when offline, otherwise replay one
// batch of due entries. Returns the number of entries confirmed.
func (r *Runner) RunOnce(ctx context.Context) int {
	if r.health != nil && !r.health.CanRequest() {
		return 0
	}
	processed, err := r.outbox.ProcessQueue(ctx, r.replay)
	if err != nil {
		r.logger.Warn("Outbox sweep failed", "error", err)
	}
	if processed > 0 {
		r.logger.Info("Outbox entries confirmed", "count", processed)
	}
	return processed
}

// APIReplay adapts an APIClient into a ReplayFunc: create POSTs the payload,
// update PUTs it to /{targetID}, delete issues DELETE /{targetID} with no
// body. A definitive object response is normalized and returned; async
// accepts return nil so the entry still completes.
func APIReplay(api *APIClient) ReplayFunc {
	return func(ctx context.Context, resourceType string, op Op, payload Document, targetID string) (Document, error) {
		var (
			resp *apiResponse
			err  error
		)
		switch op {
		case OpCreate:
			resp, err = api.Do(ctx, http.MethodPost, resourceType, "", nil, payload)
		case OpUpdate:
			resp, err = api.Do(ctx, http.MethodPut, resourceType, targetID, nil, payload)
		case OpDelete:
			resp, err = api.Do(ctx, http.MethodDelete, resourceType, targetID, nil, nil)
		default:
			return nil, fmt.Errorf("unknown outbox op %q", op)
		}
		if err != nil {
			return nil, err
		}
		if op == OpDelete || resp.accepted() {
			return nil, nil
		}

		pl, err := decodeServerPayload(resp.Body, api.logger)
		if err != nil {
			return nil, err
		}
		if pl.Kind == payloadObject {
			return pl.Object, nil
		}
		return nil, nil
	}
}

// Package restore writes a capture's values back to the live system.
//
// At most one batch is in flight per Orchestrator. Per-item writes run
// concurrently; a single coordinator goroutine collects their results, marks the
// orchestrator idle and then delivers one Outcome.
package restore

import (
	"context"
	"crypto/rand"
	"log/slog"
	"slices"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/snapkeep/internal/capture"
	"github.com/hpungsan/snapkeep/internal/errors"
	"github.com/hpungsan/snapkeep/internal/logging"
	"github.com/hpungsan/snapkeep/internal/metrics"
)

// Orchestrator runs restore batches against a Live layer.
type Orchestrator struct {
	live   Live
	logger *slog.Logger
	busy   atomic.Bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// New returns an idle orchestrator writing to live.
func New(live Live, opts ...Option) *Orchestrator {
	o := &Orchestrator{live: live, logger: logging.Discard()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Busy reports whether a batch is in flight.
func (o *Orchestrator) Busy() bool {
	return o.busy.Load()
}

type itemResult struct {
	name   string
	status ItemStatus
}

// Start validates req and, when it can proceed, dispatches one write per resolved
// item and returns StatusOK with the channel the Outcome will arrive on.
//
// Rejections (busy, no_data, no_conn) are returned before any write is issued. The
// error return is reserved for a payload that cannot be read. Busy is taken only
// once the batch is about to be dispatched, so a call that is being rejected for
// no_data or no_conn never makes a concurrent call see busy.
//
// A started batch is not cancelled with ctx; writes see a context that carries its
// values only.
func (o *Orchestrator) Start(ctx context.Context, req Request) (Result, error) {
	if o.busy.Load() {
		return o.reject(StatusBusy, nil), nil
	}

	if req.Capture == nil {
		return Result{}, errors.NewInvalidRequest("no capture selected")
	}

	values := req.Capture.Values
	if values == nil {
		var warnings []capture.ItemWarning
		var err error
		values, warnings, err = capture.ReadPayload(req.Capture.Path)
		if err != nil {
			return Result{}, errors.NewInternal(err)
		}
		if len(warnings) > 0 {
			o.logger.Warn("capture payload has unparsable lines", "capture", req.Capture.Name, "warnings", len(warnings))
		}
	}

	items := resolve(values, req.Subset, req.Macros)
	if len(items) == 0 {
		return o.reject(StatusNoData, nil), nil
	}

	names := make([]string, 0, len(items))
	for name := range items {
		names = append(names, name)
	}
	slices.Sort(names)

	if !req.Force {
		var disconnected []string
		for _, name := range names {
			if !o.live.IsConnected(name) {
				disconnected = append(disconnected, name)
			}
		}
		if len(disconnected) > 0 {
			return o.reject(StatusNoConn, disconnected), nil
		}
	}

	if !o.busy.CompareAndSwap(false, true) {
		return o.reject(StatusBusy, nil), nil
	}

	out := make(chan *Outcome, 1)
	outcome := &Outcome{
		ID:        ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(rand.Reader, 0)).String(),
		Capture:   req.Capture.Name,
		Forced:    req.Force,
		StartedAt: time.Now(),
		Items:     make(map[string]ItemStatus, len(items)),
	}

	o.logger.Info("restore started",
		"id", outcome.ID,
		"capture", outcome.Capture,
		"items", len(items),
		"force", req.Force,
	)

	wctx := context.WithoutCancel(ctx)
	results := make(chan itemResult, len(items))
	for _, name := range names {
		go func(name string, value capture.Value) {
			results <- itemResult{name: name, status: o.write(wctx, name, value)}
		}(name, items[name])
	}

	go o.collect(outcome, len(items), results, out)

	return Result{Status: StatusOK, Outcome: out}, nil
}

// write issues one item write. Under force an unconnected item is reported as an
// access error without touching the live layer.
func (o *Orchestrator) write(ctx context.Context, name string, value capture.Value) ItemStatus {
	if !o.live.IsConnected(name) {
		return ItemAccessError
	}
	st := o.live.Write(ctx, name, value)
	if st == ItemDisconnected {
		return ItemAccessError
	}
	return st
}

// collect is the only place a dispatched batch touches busy.
func (o *Orchestrator) collect(outcome *Outcome, n int, results <-chan itemResult, out chan<- *Outcome) {
	for range n {
		r := <-results
		outcome.Items[r.name] = r.status
		metrics.RestoreItems.WithLabelValues(string(r.status)).Inc()
	}
	outcome.FinishedAt = time.Now()

	state := outcome.State()
	metrics.RestoreOutcomes.WithLabelValues(string(state), strconv.FormatBool(outcome.Forced)).Inc()
	metrics.RestoreDuration.Observe(outcome.Duration().Seconds())

	if failed := outcome.Failed(); len(failed) > 0 {
		o.logger.Warn("restore items failed", "id", outcome.ID, "items", failed)
	}
	o.logger.Info("restore finished",
		"id", outcome.ID,
		"capture", outcome.Capture,
		"state", state,
		"duration", outcome.Duration(),
	)

	// out is buffered: the send never blocks, and a caller woken by it can start
	// the next batch.
	o.busy.Store(false)
	out <- outcome
	close(out)
}

func (o *Orchestrator) reject(status ActionStatus, disconnected []string) Result {
	metrics.RestoreRejections.WithLabelValues(string(status)).Inc()
	if status != StatusBusy {
		o.logger.Debug("restore rejected", "status", status, "disconnected", len(disconnected))
	}
	return Result{Status: status, Disconnected: disconnected}
}

// resolve applies macros to every item name, drops items without a recorded value
// and restricts the result to subset when one is given.
func resolve(values map[string]capture.Value, subset []string, macros map[string]string) map[string]capture.Value {
	var want map[string]bool
	if subset != nil {
		want = make(map[string]bool, len(subset))
		for _, name := range subset {
			want[name] = true
		}
	}

	items := make(map[string]capture.Value, len(values))
	for name, v := range values {
		if v.Kind == capture.KindNone || v.Kind == "" {
			continue
		}
		target := capture.SubstituteMacros(name, macros)
		if want != nil && !want[target] {
			continue
		}
		items[target] = v
	}
	return items
}

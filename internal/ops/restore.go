package ops

import (
	"context"
	"maps"
	"strings"
	"time"

	"github.com/hpungsan/snapkeep/internal/errors"
	"github.com/hpungsan/snapkeep/internal/restore"
)

// RestoreInput contains parameters for the Restore operation.
type RestoreInput struct {
	Name string

	// Items restricts the restore to these (macro-substituted) names; nil means all
	Items []string

	Force  *bool // default: config force_restore (nil means default)
	Macros map[string]string
}

// RestoreOutput contains the outcome of a restore batch.
type RestoreOutput struct {
	ID         string                        `json:"id"`
	Capture    string                        `json:"capture"`
	State      restore.State                 `json:"state"`
	Forced     bool                          `json:"forced"`
	Items      map[string]restore.ItemStatus `json:"items"`
	Counts     map[restore.ItemStatus]int    `json:"counts"`
	Failed     []string                      `json:"failed,omitempty"`
	StartedAt  time.Time                     `json:"started_at"`
	FinishedAt time.Time                     `json:"finished_at"`
	DurationMS int64                         `json:"duration_ms"`
}

// Restore writes the named capture back to the live layer and waits for the outcome.
//
// Rejections are errors: BUSY while another batch runs, NO_DATA when nothing is left
// to write, NO_CONN (listing the items) when items are disconnected and force is off.
// If ctx ends first the batch keeps running and ctx's error is returned.
func (s *Service) Restore(ctx context.Context, input RestoreInput) (*RestoreOutput, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errors.NewInvalidRequest("name is required")
	}

	s.mu.Lock()
	f, ok, err := s.lookup(name)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if !ok {
		s.mu.Unlock()
		return nil, errors.NewNotFound(name)
	}
	values, _, err := s.reg.Values(name)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	f.Values = maps.Clone(values)

	force := s.cfg.ForceRestore
	if input.Force != nil {
		force = *input.Force
	}

	res, err := s.orch.Start(ctx, restore.Request{
		Capture: f,
		Subset:  input.Items,
		Force:   force,
		Macros:  s.macros(input.Macros),
	})
	if err != nil {
		return nil, err
	}

	switch res.Status {
	case restore.StatusBusy:
		return nil, errors.NewBusy()
	case restore.StatusNoData:
		return nil, errors.NewNoData("capture has no restorable items")
	case restore.StatusNoConn:
		return nil, errors.NewNoConn(res.Disconnected)
	}

	select {
	case outcome := <-res.Outcome:
		return outcomeView(outcome), nil
	case <-ctx.Done():
		s.logger.Warn("stopped waiting for restore outcome", "capture", name, "error", ctx.Err())
		return nil, ctx.Err()
	}
}

func outcomeView(o *restore.Outcome) *RestoreOutput {
	return &RestoreOutput{
		ID:         o.ID,
		Capture:    o.Capture,
		State:      o.State(),
		Forced:     o.Forced,
		Items:      o.Items,
		Counts:     o.Counts(),
		Failed:     o.Failed(),
		StartedAt:  o.StartedAt,
		FinishedAt: o.FinishedAt,
		DurationMS: o.Duration().Milliseconds(),
	}
}

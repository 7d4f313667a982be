package ops

import (
	"path/filepath"
	"strings"

	"github.com/hpungsan/snapkeep/internal/registry"
)

// ReconcileInput contains parameters for the Reconcile operation.
type ReconcileInput struct {
	// Dir switches the save directory; empty keeps the current one
	Dir string
}

// ReconcileOutput contains the result of the Reconcile operation.
type ReconcileOutput struct {
	registry.Result
	Dir      string   `json:"dir"`
	Files    int      `json:"files"`
	Filtered []string `json:"filtered"`
}

// Reconcile brings the registry in line with the save directory and re-runs the
// last filter over the new table.
func (s *Service) Reconcile(input ReconcileInput) (*ReconcileOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := strings.TrimSpace(input.Dir); dir != "" {
		s.dir = filepath.Clean(dir)
	}
	return s.reconcileLocked()
}

func (s *Service) reconcileLocked() (*ReconcileOutput, error) {
	res, err := s.reg.Reconcile(s.dir, s.cfg.RequestName())
	if err != nil {
		return nil, err
	}
	s.reconciled = true

	filtered := s.filter.Reapply(s.reg.Entries())
	if filtered == nil {
		filtered = []string{}
	}
	return &ReconcileOutput{
		Result:   *res,
		Dir:      s.dir,
		Files:    s.reg.Len(),
		Filtered: filtered,
	}, nil
}

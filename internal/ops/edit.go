package ops

import (
	"os"
	"strings"

	"github.com/hpungsan/snapkeep/internal/capture"
	"github.com/hpungsan/snapkeep/internal/errors"
)

// EditInput contains parameters for the EditMetadata operation.
type EditInput struct {
	Name string

	// Editable fields (nil = don't change)
	Comment *string
	Labels  *[]string
}

// EditOutput contains the result of the EditMetadata operation.
type EditOutput struct {
	FileSummary
	AddedLabels   []string `json:"added_labels,omitempty"`
	RemovedLabels []string `json:"removed_labels,omitempty"`
}

// EditMetadata rewrites the header of a capture file, keeping its payload, and
// reconciles so the label ledger follows.
func (s *Service) EditMetadata(input EditInput) (*EditOutput, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errors.NewInvalidRequest("name is required")
	}
	if input.Comment == nil && input.Labels == nil {
		return nil, errors.NewInvalidRequest("at least one editable field must be provided")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NewNotFound(name)
	}

	prevLabels := f.Metadata.Labels
	md := f.Metadata
	if input.Comment != nil {
		md.Comment = strings.TrimSpace(*input.Comment)
	}
	if input.Labels != nil {
		md.Labels = capture.NormalizeLabels(*input.Labels)
		if err := s.checkLabels(md.Labels); err != nil {
			return nil, err
		}
	}

	if err := capture.ReplaceHeader(f.Path, md); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFound(name)
		}
		return nil, errors.NewInternal(err)
	}
	s.reg.Invalidate(name)

	if _, err := s.reconcileLocked(); err != nil {
		return nil, err
	}
	updated, ok := s.reg.Get(name)
	if !ok {
		updated = f
		updated.Metadata = md
	}

	added, removed := capture.LabelDelta(prevLabels, updated.Metadata.Labels)
	s.logger.Info("capture metadata edited", "file", name, "labels_added", added, "labels_removed", removed)
	return &EditOutput{
		FileSummary:   summarize(updated),
		AddedLabels:   added,
		RemovedLabels: removed,
	}, nil
}

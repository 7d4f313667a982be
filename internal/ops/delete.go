package ops

import (
	"os"
	"slices"
	"strings"

	"github.com/hpungsan/snapkeep/internal/errors"
	"github.com/hpungsan/snapkeep/internal/registry"
)

// DeleteInput contains parameters for the Delete operation.
type DeleteInput struct {
	Names []string
}

// DeleteOutput contains the result of the Delete operation.
type DeleteOutput struct {
	Deleted []string             `json:"deleted"`
	Errors  []registry.FileError `json:"errors,omitempty"`
}

// Delete removes capture files from the save directory. A file that cannot be removed
// is reported in Errors and does not stop the others.
func (s *Service) Delete(input DeleteInput) (*DeleteOutput, error) {
	var names []string
	for _, n := range input.Names {
		if n = strings.TrimSpace(n); n != "" && !slices.Contains(names, n) {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return nil, errors.NewInvalidRequest("at least one name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureReconciled(); err != nil {
		return nil, err
	}

	output := &DeleteOutput{Deleted: []string{}}
	for _, name := range names {
		f, ok := s.reg.Get(name)
		if !ok {
			output.Errors = append(output.Errors, registry.FileError{Name: name, Errors: []string{"not found"}})
			continue
		}
		if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
			output.Errors = append(output.Errors, registry.FileError{Name: name, Errors: []string{err.Error()}})
			continue
		}
		output.Deleted = append(output.Deleted, name)
	}

	if len(output.Deleted) > 0 {
		if _, err := s.reconcileLocked(); err != nil {
			return nil, err
		}
		s.logger.Info("captures deleted", "files", output.Deleted)
	}
	return output, nil
}

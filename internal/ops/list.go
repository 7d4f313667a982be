package ops

import (
	"cmp"
	"slices"

	"github.com/hpungsan/snapkeep/internal/filter"
)

// ListInput contains parameters for the List operation.
type ListInput struct {
	Name    string
	Comment string
	Labels  []string

	// Refresh reconciles before filtering
	Refresh bool
}

// ListOutput contains the result of the List operation.
type ListOutput struct {
	Items  []FileSummary    `json:"items"`
	Total  int              `json:"total"`
	Filter filter.Predicate `json:"filter"`
}

// List returns the capture files matching the predicate, sorted by name. Total is the
// size of the unfiltered table.
func (s *Service) List(input ListInput) (*ListOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if input.Refresh {
		if _, err := s.reconcileLocked(); err != nil {
			return nil, err
		}
	} else if err := s.ensureReconciled(); err != nil {
		return nil, err
	}

	table := s.reg.Entries()
	names := s.filter.Apply(table, filter.Predicate{
		Name:    input.Name,
		Comment: input.Comment,
		Labels:  input.Labels,
	})

	items := make([]FileSummary, 0, len(names))
	for _, f := range table {
		if _, found := slices.BinarySearch(names, f.Name); found {
			items = append(items, summarize(f))
		}
	}

	return &ListOutput{
		Items:  items,
		Total:  len(table),
		Filter: s.filter.Last(),
	}, nil
}

// LabelCount is one referenced label and the number of files carrying it.
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// LabelsOutput contains the result of the Labels operation.
type LabelsOutput struct {
	Labels      []LabelCount `json:"labels"`
	Suggestions []string     `json:"suggestions"`
}

// Labels returns the referenced labels with their counts, and the suggestion list:
// configured default labels and referenced labels combined.
func (s *Service) Labels() (*LabelsOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureReconciled(); err != nil {
		return nil, err
	}

	ledger := s.reg.Ledger()
	counts := make([]LabelCount, 0)
	for label, n := range ledger.Counts() {
		counts = append(counts, LabelCount{Label: label, Count: n})
	}
	slices.SortFunc(counts, func(a, b LabelCount) int { return cmp.Compare(a.Label, b.Label) })

	suggestions := ledger.Suggestions(s.cfg.DefaultLabels)
	if suggestions == nil {
		suggestions = []string{}
	}
	return &LabelsOutput{Labels: counts, Suggestions: suggestions}, nil
}

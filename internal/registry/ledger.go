package registry

import (
	"fmt"
	"slices"
)

// Ledger counts, per label, how many capture files in the registry carry it.
type Ledger struct {
	counts map[string]int
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{counts: make(map[string]int)}
}

// Apply increments every label in added and decrements every label in removed.
// A count going below zero means the table and ledger diverged; it panics.
func (l *Ledger) Apply(added, removed []string) {
	for _, label := range added {
		l.counts[label]++
	}
	for _, label := range removed {
		n := l.counts[label]
		if n <= 0 {
			panic(fmt.Sprintf("registry: label %q count would go negative", label))
		}
		if n == 1 {
			delete(l.counts, label)
		} else {
			l.counts[label] = n - 1
		}
	}
}

// IsReferenced reports whether at least one file carries label.
func (l *Ledger) IsReferenced(label string) bool {
	return l.counts[label] > 0
}

// Count returns the number of files carrying label.
func (l *Ledger) Count(label string) int {
	return l.counts[label]
}

// Labels returns every referenced label, sorted.
func (l *Ledger) Labels() []string {
	labels := make([]string, 0, len(l.counts))
	for label := range l.counts {
		labels = append(labels, label)
	}
	slices.Sort(labels)
	return labels
}

// Suggestions is the sorted union of defaults and the referenced labels.
func (l *Ledger) Suggestions(defaults []string) []string {
	out := l.Labels()
	for _, d := range defaults {
		if d != "" && !slices.Contains(out, d) {
			out = append(out, d)
		}
	}
	slices.Sort(out)
	return out
}

// Counts returns a copy of the label → count table.
func (l *Ledger) Counts() map[string]int {
	out := make(map[string]int, len(l.counts))
	for k, v := range l.counts {
		out[k] = v
	}
	return out
}

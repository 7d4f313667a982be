// Package filter selects the visible subset of a capture table.
package filter

import (
	"slices"
	"strings"

	"github.com/hpungsan/snapkeep/internal/capture"
)

// Predicate is a conjunction of filters. Empty fields match everything.
// Substring matching is case-sensitive.
type Predicate struct {
	Name    string   `json:"name,omitempty"`
	Comment string   `json:"comment,omitempty"`
	Labels  []string `json:"labels,omitempty"`
}

// IsZero reports whether p matches every file.
func (p Predicate) IsZero() bool {
	return p.Name == "" && p.Comment == "" && len(p.Labels) == 0
}

// Match reports whether f satisfies every part of p. A file must carry all
// required labels, not just one of them.
func (p Predicate) Match(f *capture.File) bool {
	if p.Name != "" && !strings.Contains(f.Name, p.Name) {
		return false
	}
	if p.Comment != "" && !strings.Contains(f.Metadata.Comment, p.Comment) {
		return false
	}
	return f.HasLabels(p.Labels)
}

// Apply returns the sorted names of the files in table that match p.
// It performs no I/O and never modifies table.
func Apply(table []*capture.File, p Predicate) []string {
	names := make([]string, 0, len(table))
	for _, f := range table {
		if p.Match(f) {
			names = append(names, f.Name)
		}
	}
	slices.Sort(names)
	return names
}

// Engine remembers the last applied predicate so a view can be refreshed after
// the table changes.
type Engine struct {
	last Predicate
}

// Apply filters table with p and remembers p.
func (e *Engine) Apply(table []*capture.File, p Predicate) []string {
	p.Labels = capture.NormalizeLabels(p.Labels)
	e.last = p
	return Apply(table, p)
}

// Reapply filters table with the last predicate.
func (e *Engine) Reapply(table []*capture.File) []string {
	return Apply(table, e.last)
}

// Last returns the last applied predicate.
func (e *Engine) Last() Predicate {
	return e.last
}

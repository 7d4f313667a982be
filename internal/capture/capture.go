package capture

import (
	"slices"
	"strings"
	"time"
)

// Metadata is the header embedded in the first line of a capture file.
type Metadata struct {
	// Comment is a free-form description entered at save time
	Comment string

	// Labels are user-assigned tags, kept sorted and duplicate-free
	Labels []string

	// SourceRequest is the base name of the request file the capture was taken from
	SourceRequest string
}

// File is one capture file known to the registry.
type File struct {
	// Name is the file name within the save directory (unique key)
	Name string

	// Path is the absolute path on disk
	Path string

	// ModifiedAt is the modification time from the most recent stat
	ModifiedAt time.Time

	// Size is the file size from the most recent stat
	Size int64

	Metadata Metadata

	// Values is the name → value payload; nil until loaded
	Values map[string]Value
}

// HasLabels reports whether the file carries every label in want.
func (f *File) HasLabels(want []string) bool {
	for _, l := range want {
		if !slices.Contains(f.Metadata.Labels, l) {
			return false
		}
	}
	return true
}

// Clone returns a copy that shares no slices or maps with f.
func (f *File) Clone() *File {
	c := *f
	c.Metadata.Labels = slices.Clone(f.Metadata.Labels)
	if f.Values != nil {
		c.Values = make(map[string]Value, len(f.Values))
		for k, v := range f.Values {
			c.Values[k] = v
		}
	}
	return &c
}

// NormalizeLabels trims, drops empties, deduplicates and sorts labels.
func NormalizeLabels(labels []string) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// LabelDelta returns the labels present only in next (added) and only in prev (removed).
// Both inputs must be normalized.
func LabelDelta(prev, next []string) (added, removed []string) {
	for _, l := range next {
		if !slices.Contains(prev, l) {
			added = append(added, l)
		}
	}
	for _, l := range prev {
		if !slices.Contains(next, l) {
			removed = append(removed, l)
		}
	}
	return added, removed
}

// ItemWarning is a recoverable problem with one payload line.
type ItemWarning struct {
	Line    int    `json:"line"`
	Name    string `json:"name,omitempty"`
	Message string `json:"message"`
}

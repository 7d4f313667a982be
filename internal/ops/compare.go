package ops

import (
	"bytes"
	"slices"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/hpungsan/snapkeep/internal/capture"
	"github.com/hpungsan/snapkeep/internal/errors"
)

// CompareInput contains parameters for the Compare operation.
type CompareInput struct {
	A string
	B string

	// Text adds a line diff of the two payloads
	Text bool
}

// CompareRow is one item of either capture. A or B is nil when the item is
// missing from that capture.
type CompareRow struct {
	Name  string         `json:"name"`
	A     *capture.Value `json:"a"`
	B     *capture.Value `json:"b"`
	Equal bool           `json:"equal"`
}

// CompareOutput contains the result of the Compare operation.
type CompareOutput struct {
	A           string       `json:"a"`
	B           string       `json:"b"`
	Rows        []CompareRow `json:"rows"`
	Differences int          `json:"differences"`
	Additions   int          `json:"additions,omitempty"`
	Deletions   int          `json:"deletions,omitempty"`
	Diff        string       `json:"diff,omitempty"`
}

// Compare lines up the payloads of two captures item by item.
func (s *Service) Compare(input CompareInput) (*CompareOutput, error) {
	nameA, nameB := strings.TrimSpace(input.A), strings.TrimSpace(input.B)
	if nameA == "" || nameB == "" {
		return nil, errors.NewInvalidRequest("two capture names are required")
	}

	s.mu.Lock()
	valuesA, err := s.payload(nameA)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	valuesB, err := s.payload(nameB)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(valuesA)+len(valuesB))
	for name := range valuesA {
		names = append(names, name)
	}
	for name := range valuesB {
		names = append(names, name)
	}
	slices.Sort(names)
	names = slices.Compact(names)

	output := &CompareOutput{A: nameA, B: nameB, Rows: make([]CompareRow, 0, len(names))}
	for _, name := range names {
		row := CompareRow{Name: name}
		if v, ok := valuesA[name]; ok {
			row.A = &v
		}
		if v, ok := valuesB[name]; ok {
			row.B = &v
		}
		row.Equal = row.A != nil && row.B != nil && row.A.Equal(*row.B)
		if !row.Equal {
			output.Differences++
		}
		output.Rows = append(output.Rows, row)
	}

	if input.Text {
		output.Diff, output.Additions, output.Deletions = lineDiff(render(valuesA), render(valuesB))
	}
	return output, nil
}

// payload returns the values of a registered capture. Callers hold s.mu.
func (s *Service) payload(name string) (map[string]capture.Value, error) {
	_, ok, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NewNotFound(name)
	}
	values, _, err := s.reg.Values(name)
	return values, err
}

func render(values map[string]capture.Value) string {
	var buf bytes.Buffer
	_ = capture.WritePayload(&buf, values)
	return buf.String()
}

// lineDiff returns a line-oriented diff of a and b, each line prefixed with "+", "-"
// or " ", with the number of inserted and deleted lines.
func lineDiff(a, b string) (string, int, int) {
	dmp := diffmatchpatch.New()
	charsA, charsB, lines := dmp.DiffLinesToChars(a, b)
	diffs := dmp.DiffMain(charsA, charsB, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	var out strings.Builder
	additions, deletions := 0, 0
	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			out.WriteString(prefix)
			out.WriteString(line)
			switch d.Type {
			case diffmatchpatch.DiffInsert:
				additions++
			case diffmatchpatch.DiffDelete:
				deletions++
			}
		}
	}
	return out.String(), additions, deletions
}

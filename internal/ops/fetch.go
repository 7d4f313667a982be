package ops

import (
	"strings"

	"github.com/hpungsan/snapkeep/internal/capture"
	"github.com/hpungsan/snapkeep/internal/errors"
)

// FetchInput contains parameters for the Fetch operation.
type FetchInput struct {
	Name          string
	IncludeValues *bool // default: true (nil means default)
}

// FetchOutput contains the result of the Fetch operation.
type FetchOutput struct {
	FileSummary
	Items    int                      `json:"items"`
	Values   map[string]capture.Value `json:"values,omitempty"`
	Warnings []capture.ItemWarning    `json:"warnings,omitempty"`
}

// Fetch returns one capture file with its payload.
func (s *Service) Fetch(input FetchInput) (*FetchOutput, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errors.NewInvalidRequest("name is required")
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

	values, warnings, err := s.reg.Values(name)
	if err != nil {
		return nil, err
	}

	output := &FetchOutput{
		FileSummary: summarize(f),
		Items:       len(values),
		Warnings:    warnings,
	}

	includeValues := true
	if input.IncludeValues != nil {
		includeValues = *input.IncludeValues
	}
	if includeValues {
		output.Values = make(map[string]capture.Value, len(values))
		for k, v := range values {
			output.Values[k] = v
		}
	}
	return output, nil
}

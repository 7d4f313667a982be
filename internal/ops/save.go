package ops

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/snapkeep/internal/capture"
	"github.com/hpungsan/snapkeep/internal/errors"
	"github.com/hpungsan/snapkeep/internal/reqfile"
	"github.com/hpungsan/snapkeep/internal/restore"
)

// saveReadLimit bounds concurrent live reads during a save.
const saveReadLimit = 16

// SaveInput contains parameters for the Save operation.
type SaveInput struct {
	// Name overrides the generated {stem}_{YYMMDD_HHMMSS} name
	Name    string
	Comment string
	Labels  []string

	// Force saves even when items are disconnected; their values are recorded as null
	Force bool

	// Overwrite replaces an existing file of the same name
	Overwrite bool

	Macros map[string]string
}

// SaveOutput contains the result of the Save operation.
type SaveOutput struct {
	FileSummary
	Items        int      `json:"items"`
	Disconnected []string `json:"disconnected,omitempty"`
}

// Save reads every item of the configured request file from the live layer and
// writes a new capture file to the save directory.
//
// Item names are stored as written in the request file, with changeable macros left
// unresolved; live reads use the substituted names.
func (s *Service) Save(ctx context.Context, input SaveInput) (*SaveOutput, error) {
	reqPath := s.cfg.RequestFile
	if reqPath == "" {
		return nil, errors.NewInvalidRequest("no request file configured")
	}
	if _, err := os.Stat(reqPath); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFound(reqPath)
		}
		return nil, errors.NewInternal(err)
	}

	labels := capture.NormalizeLabels(input.Labels)
	if err := s.checkLabels(labels); err != nil {
		return nil, err
	}

	names, err := reqfile.Parse(reqPath, reqfile.Options{Changeable: s.changeable()})
	if err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}
	if len(names) == 0 {
		return nil, errors.NewNoData("request file lists no items")
	}

	macros := s.macros(input.Macros)
	targets := make([]string, len(names))
	var disconnected []string
	for i, name := range names {
		targets[i] = capture.SubstituteMacros(name, macros)
		if !s.live.IsConnected(targets[i]) {
			disconnected = append(disconnected, targets[i])
		}
	}
	slices.Sort(disconnected)
	if len(disconnected) > 0 && !input.Force {
		return nil, errors.NewNoConn(disconnected)
	}

	// Reads never fail the group: an unreadable item is recorded without a value.
	read := make([]capture.Value, len(names))
	var g errgroup.Group
	g.SetLimit(saveReadLimit)
	for i := range names {
		g.Go(func() error {
			v, st := s.live.Read(ctx, targets[i])
			if st != restore.ItemOK {
				v = capture.Value{Kind: capture.KindNone}
			}
			read[i] = v
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	values := make(map[string]capture.Value, len(names))
	for i, name := range names {
		values[name] = read[i]
	}

	fileName := CaptureName(s.cfg.RequestName(), s.now(), s.suffix())
	if input.Name != "" {
		fileName, err = ValidateCaptureName(input.Name, s.suffix())
		if err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create save directory: %w", err))
	}
	path := filepath.Join(s.dir, fileName)
	md := capture.Metadata{
		Comment:       strings.TrimSpace(input.Comment),
		Labels:        labels,
		SourceRequest: s.cfg.RequestName(),
	}
	if err := capture.WriteFile(path, md, values, input.Overwrite); err != nil {
		if errors.Is(err, errors.ErrFileExists) {
			return nil, err
		}
		return nil, errors.NewInternal(err)
	}
	s.reg.Invalidate(fileName)

	if _, err := s.reconcileLocked(); err != nil {
		return nil, err
	}
	f, ok := s.reg.Get(fileName)
	if !ok {
		// Left pending by a scan limit
		f = &capture.File{Name: fileName, Path: path, Metadata: md}
	}

	s.logger.Info("capture saved",
		"file", fileName,
		"items", len(values),
		"disconnected", len(disconnected),
	)
	return &SaveOutput{
		FileSummary:  summarize(f),
		Items:        len(values),
		Disconnected: disconnected,
	}, nil
}

// checkLabels rejects labels outside the configured defaults when they are enforced.
func (s *Service) checkLabels(labels []string) error {
	if !s.cfg.ForceDefaultLabels {
		return nil
	}
	var bad []string
	for _, l := range labels {
		if !slices.Contains(s.cfg.DefaultLabels, l) {
			bad = append(bad, l)
		}
	}
	if len(bad) > 0 {
		return errors.NewLabelNotAllowed(bad)
	}
	return nil
}

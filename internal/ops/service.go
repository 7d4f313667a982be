// Package ops implements the caller-facing operations shared by the CLI, the MCP
// server and the HTTP API.
package ops

import (
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/hpungsan/snapkeep/internal/capture"
	"github.com/hpungsan/snapkeep/internal/config"
	"github.com/hpungsan/snapkeep/internal/filter"
	"github.com/hpungsan/snapkeep/internal/live"
	"github.com/hpungsan/snapkeep/internal/logging"
	"github.com/hpungsan/snapkeep/internal/registry"
	"github.com/hpungsan/snapkeep/internal/restore"
)

// Service owns the registry, the filter and the restore orchestrator for one
// configured save directory. It is safe for concurrent use.
type Service struct {
	cfg    *config.Config
	live   live.Layer
	logger *slog.Logger
	now    func() time.Time

	regOpts []registry.Option
	orch    *restore.Orchestrator

	mu         sync.Mutex
	dir        string
	reg        *registry.Registry
	filter     filter.Engine
	reconciled bool
}

// Option configures a Service.
type Option func(*Service)

// WithIndex persists the registry table in idx.
func WithIndex(idx registry.Index) Option {
	return func(s *Service) {
		if idx != nil {
			s.regOpts = append(s.regOpts, registry.WithIndex(idx))
		}
	}
}

// WithScanLimit caps the files parsed per reconcile pass.
func WithScanLimit(n int) Option {
	return func(s *Service) { s.regOpts = append(s.regOpts, registry.WithScanLimit(n)) }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides time.Now, used to name saved captures.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New returns a Service for cfg restoring to and saving from layer.
func New(cfg *config.Config, layer live.Layer, opts ...Option) *Service {
	s := &Service{
		cfg:    cfg,
		live:   layer,
		logger: logging.Discard(),
		now:    time.Now,
		dir:    cfg.SaveDir,
	}
	for _, opt := range opts {
		opt(s)
	}

	regOpts := append([]registry.Option{
		registry.WithSuffix(cfg.SaveSuffix),
		registry.WithLogger(s.logger),
	}, s.regOpts...)
	s.reg = registry.New(regOpts...)
	s.orch = restore.New(layer, restore.WithLogger(s.logger))
	return s
}

// FileSummary describes one capture file without its payload.
type FileSummary struct {
	Name          string    `json:"name"`
	ModifiedAt    time.Time `json:"modified_at"`
	Size          int64     `json:"size"`
	Comment       string    `json:"comment"`
	Labels        []string  `json:"labels"`
	SourceRequest string    `json:"source_request,omitempty"`
}

func summarize(f *capture.File) FileSummary {
	labels := f.Metadata.Labels
	if labels == nil {
		labels = []string{}
	}
	return FileSummary{
		Name:          f.Name,
		ModifiedAt:    f.ModifiedAt,
		Size:          f.Size,
		Comment:       f.Metadata.Comment,
		Labels:        labels,
		SourceRequest: f.Metadata.SourceRequest,
	}
}

// StatusOutput describes the current state of the service.
type StatusOutput struct {
	Dir         string `json:"dir"`
	Request     string `json:"request,omitempty"`
	Files       int    `json:"files"`
	Labels      int    `json:"labels"`
	Reconciled  bool   `json:"reconciled"`
	RestoreBusy bool   `json:"restore_busy"`
	LiveMode    string `json:"live_mode"`
}

// Status reports the bound directory, table size and whether a restore is running.
func (s *Service) Status() *StatusOutput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &StatusOutput{
		Dir:         s.dir,
		Request:     s.cfg.RequestName(),
		Files:       s.reg.Len(),
		Labels:      len(s.reg.Ledger().Labels()),
		Reconciled:  s.reconciled,
		RestoreBusy: s.orch.Busy(),
		LiveMode:    s.cfg.Live.Mode,
	}
}

// ensureReconciled runs the first reconcile lazily. Callers hold s.mu.
func (s *Service) ensureReconciled() error {
	if s.reconciled {
		return nil
	}
	_, err := s.reconcileLocked()
	return err
}

// lookup returns a copy of the named file, reconciling first if nothing was
// reconciled yet. Callers hold s.mu.
func (s *Service) lookup(name string) (*capture.File, bool, error) {
	if err := s.ensureReconciled(); err != nil {
		return nil, false, err
	}
	f, ok := s.reg.Get(name)
	return f, ok, nil
}

func (s *Service) suffix() string {
	if s.cfg.SaveSuffix == "" {
		return config.DefaultSuffix
	}
	return s.cfg.SaveSuffix
}

// macros overlays request macros on the configured ones.
func (s *Service) macros(overlay map[string]string) map[string]string {
	out := maps.Clone(s.cfg.Macros)
	if out == nil {
		out = make(map[string]string, len(overlay))
	}
	maps.Copy(out, overlay)
	return out
}

// changeable returns the names of the configured macros: they may stay unresolved in
// a request file and are substituted at restore time.
func (s *Service) changeable() []string {
	return slices.Sorted(maps.Keys(s.cfg.Macros))
}

// Package registry keeps an in-memory table of capture files synchronized with a
// save directory and maintains the label reference counts for that table.
//
// A Registry is not safe for concurrent use; callers serialize Reconcile, Values
// and the read accessors.
package registry

import (
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/btree"

	"github.com/hpungsan/snapkeep/internal/capture"
	"github.com/hpungsan/snapkeep/internal/config"
	"github.com/hpungsan/snapkeep/internal/errors"
	"github.com/hpungsan/snapkeep/internal/logging"
	"github.com/hpungsan/snapkeep/internal/metrics"
)

// Index persists the table between process runs. Load seeds an empty registry;
// Upsert and Delete mirror each reconcile's changes.
type Index interface {
	Load(dir, requestName string) ([]*capture.File, error)
	Upsert(dir, requestName string, files []*capture.File) error
	Delete(dir, requestName string, names []string) error
}

// FileError lists the problems found while parsing one capture file.
type FileError struct {
	Name   string   `json:"name"`
	Errors []string `json:"errors"`
}

// Result reports what one reconcile pass changed.
type Result struct {
	// Changed is the sorted union of Added, Modified and Removed
	Changed  []string    `json:"changed"`
	Added    []string    `json:"added,omitempty"`
	Modified []string    `json:"modified,omitempty"`
	Removed  []string    `json:"removed,omitempty"`
	Errors   []FileError `json:"errors,omitempty"`

	// Pending counts new or changed files left for a later pass by the scan limit
	Pending int `json:"pending,omitempty"`
}

// stamp is the part of a stat result used for change detection.
type stamp struct {
	modTime time.Time
	size    int64
}

func (s stamp) equal(o stamp) bool {
	return s.size == o.size && s.modTime.Equal(o.modTime)
}

type entry struct {
	file     *capture.File
	warnings []capture.ItemWarning
}

func (e *entry) stamp() stamp {
	return stamp{modTime: e.file.ModifiedAt, size: e.file.Size}
}

// Registry is the authoritative table of capture files for one directory and request.
type Registry struct {
	suffix    string
	scanLimit int
	index     Index
	logger    *slog.Logger

	dir         string
	requestName string
	bound       bool

	files   *btree.Map[string, *entry]
	ignored map[string]stamp
	ledger  *Ledger
}

// Option configures a Registry.
type Option func(*Registry)

// WithSuffix sets the capture file suffix (default ".snap").
func WithSuffix(suffix string) Option {
	return func(r *Registry) {
		if suffix != "" {
			r.suffix = suffix
		}
	}
}

// WithScanLimit caps the number of new or changed files parsed per pass.
// Zero or negative means unlimited.
func WithScanLimit(n int) Option {
	return func(r *Registry) { r.scanLimit = n }
}

// WithIndex attaches a persistent index.
func WithIndex(idx Index) Option {
	return func(r *Registry) { r.index = idx }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New returns an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		suffix:  config.DefaultSuffix,
		logger:  logging.Discard(),
		files:   btree.NewMap[string, *entry](0),
		ignored: make(map[string]stamp),
		ledger:  NewLedger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile brings the table in line with the capture files in dir that belong to
// requestName (a request file base name; empty accepts every capture file).
//
// Unchanged files are not re-read. Per-file problems are reported in Result.Errors and
// never stop the pass. The error return is reserved for an unreadable directory.
func (r *Registry) Reconcile(dir, requestName string) (*Result, error) {
	start := time.Now()
	res := &Result{}

	if r.bound && (dir != r.dir || requestName != r.requestName) {
		res.Removed = r.clear()
	}
	seeded := make(map[string]bool)
	if !r.bound {
		r.dir, r.requestName, r.bound = dir, requestName, true
		for _, name := range r.seedFromIndex(res) {
			seeded[name] = true
		}
	}

	dirEntries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.NewInternal(err)
	}

	stem := strings.TrimSuffix(requestName, filepath.Ext(requestName))
	seen := make(map[string]bool, len(dirEntries))
	present := make(map[string]bool, len(dirEntries))
	var upserts []*capture.File
	parsed := 0

	for _, de := range dirEntries {
		name := de.Name()
		present[name] = true
		if de.IsDir() || !strings.HasPrefix(name, stem) || !strings.HasSuffix(name, r.suffix) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// Vanished between listing and stat; treat like any other removal.
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		st := stamp{modTime: info.ModTime(), size: info.Size()}

		prev, known := r.files.Get(name)
		if known && prev.stamp().equal(st) {
			seen[name] = true
			continue
		}
		if ig, ok := r.ignored[name]; ok && ig.equal(st) {
			continue
		}

		if r.scanLimit > 0 && parsed >= r.scanLimit {
			res.Pending++
			if known {
				seen[name] = true
			}
			continue
		}
		parsed++

		file, fileErrs, belongs := r.parse(filepath.Join(dir, name), name, stem, st)
		if !belongs {
			r.ignored[name] = st
			if known {
				// Its header now points at another request; drop it below.
				r.logger.Debug("capture file no longer matches request", "file", name, "request", requestName)
			}
			continue
		}
		delete(r.ignored, name)
		seen[name] = true

		if len(fileErrs) > 0 {
			res.Errors = append(res.Errors, FileError{Name: name, Errors: fileErrs})
			r.logger.Warn("capture file loaded with errors", "file", name, "errors", fileErrs)
		}

		if known {
			added, removed := capture.LabelDelta(prev.file.Metadata.Labels, file.Metadata.Labels)
			r.ledger.Apply(added, removed)
			if !seeded[name] {
				res.Modified = append(res.Modified, name)
			}
		} else {
			r.ledger.Apply(file.Metadata.Labels, nil)
			res.Added = append(res.Added, name)
		}
		r.files.Set(name, &entry{file: file})
		upserts = append(upserts, file)
	}

	var gone []string
	r.files.Scan(func(name string, e *entry) bool {
		if !seen[name] {
			gone = append(gone, name)
		}
		return true
	})
	for _, name := range gone {
		r.remove(name)
		if seeded[name] {
			// Stale index row: dependents never saw it.
			delete(seeded, name)
			continue
		}
		res.Removed = append(res.Removed, name)
	}
	for name := range seeded {
		res.Added = append(res.Added, name)
	}

	for name := range r.ignored {
		if !present[name] {
			delete(r.ignored, name)
		}
	}

	r.syncIndex(upserts, gone, res)
	r.finish(res)

	metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
	metrics.ReconcileChanges.WithLabelValues("added").Add(float64(len(res.Added)))
	metrics.ReconcileChanges.WithLabelValues("modified").Add(float64(len(res.Modified)))
	metrics.ReconcileChanges.WithLabelValues("removed").Add(float64(len(res.Removed)))
	metrics.ReconcileFileErrors.Add(float64(len(res.Errors)))
	metrics.RegistryFiles.Set(float64(r.files.Len()))

	r.logger.Debug("reconciled",
		"dir", dir,
		"request", requestName,
		"files", r.files.Len(),
		"added", len(res.Added),
		"modified", len(res.Modified),
		"removed", len(res.Removed),
		"errors", len(res.Errors),
		"pending", res.Pending,
	)
	return res, nil
}

// parse reads the header of one candidate and decides whether it belongs to the
// current request. A header naming a request takes precedence over the file name.
// Files whose header is corrupt are kept, with empty metadata, when the file name
// matches.
func (r *Registry) parse(path, name, stem string, st stamp) (*capture.File, []string, bool) {
	nameMatches := r.requestName == "" || strings.HasPrefix(name, stem+"_")
	file := &capture.File{
		Name:       name,
		Path:       path,
		ModifiedAt: st.modTime,
		Size:       st.size,
		Metadata:   capture.Metadata{Labels: []string{}},
	}

	h, err := capture.ReadHeader(path)
	if err != nil {
		if !nameMatches {
			r.logger.Debug("skipping unreadable capture file", "file", name, "error", err)
			return nil, nil, false
		}
		msg := err.Error()
		if sErr, ok := errors.As(err); ok {
			msg = sErr.Message
		}
		return file, []string{msg}, true
	}

	belongs := nameMatches
	if r.requestName != "" && h.Metadata.SourceRequest != "" {
		belongs = h.Metadata.SourceRequest == r.requestName
	}
	if !belongs {
		return nil, nil, false
	}

	file.Metadata = h.Metadata
	return file, nil, true
}

// seedFromIndex fills an empty table from the index. Seeded names are returned so
// dependents see them once.
func (r *Registry) seedFromIndex(res *Result) []string {
	if r.index == nil {
		return nil
	}
	files, err := r.index.Load(r.dir, r.requestName)
	if err != nil {
		r.logger.Warn("index load failed", "dir", r.dir, "error", err)
		res.Errors = append(res.Errors, FileError{Name: "", Errors: []string{"index load: " + err.Error()}})
		return nil
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		if _, dup := r.files.Get(f.Name); dup {
			continue
		}
		f.Metadata.Labels = capture.NormalizeLabels(f.Metadata.Labels)
		f.Path = filepath.Join(r.dir, f.Name)
		f.Values = nil
		r.files.Set(f.Name, &entry{file: f})
		r.ledger.Apply(f.Metadata.Labels, nil)
		names = append(names, f.Name)
	}
	return names
}

func (r *Registry) syncIndex(upserts []*capture.File, removed []string, res *Result) {
	if r.index == nil {
		return
	}
	if len(upserts) > 0 {
		if err := r.index.Upsert(r.dir, r.requestName, upserts); err != nil {
			r.logger.Warn("index upsert failed", "dir", r.dir, "error", err)
			res.Errors = append(res.Errors, FileError{Errors: []string{"index upsert: " + err.Error()}})
		}
	}
	if len(removed) > 0 {
		if err := r.index.Delete(r.dir, r.requestName, removed); err != nil {
			r.logger.Warn("index delete failed", "dir", r.dir, "error", err)
			res.Errors = append(res.Errors, FileError{Errors: []string{"index delete: " + err.Error()}})
		}
	}
}

func (r *Registry) remove(name string) {
	e, ok := r.files.Delete(name)
	if !ok {
		return
	}
	r.ledger.Apply(nil, e.file.Metadata.Labels)
}

// clear drops the whole table, keeping the ledger consistent, and unbinds the registry.
func (r *Registry) clear() []string {
	var names []string
	r.files.Scan(func(name string, _ *entry) bool {
		names = append(names, name)
		return true
	})
	for _, name := range names {
		r.remove(name)
	}
	r.ignored = make(map[string]stamp)
	r.bound = false
	return names
}

// finish sorts the result lists and builds the changed set. A name removed by a
// directory switch and re-added in the same pass counts once.
func (r *Registry) finish(res *Result) {
	slices.Sort(res.Added)
	res.Added = slices.Compact(res.Added)
	slices.Sort(res.Modified)
	slices.Sort(res.Removed)
	res.Removed = slices.Compact(res.Removed)

	changed := make([]string, 0, len(res.Added)+len(res.Modified)+len(res.Removed))
	changed = append(changed, res.Added...)
	changed = append(changed, res.Modified...)
	changed = append(changed, res.Removed...)
	slices.Sort(changed)
	res.Changed = slices.Compact(changed)
}

// Dir returns the directory of the last reconcile.
func (r *Registry) Dir() string { return r.dir }

// RequestName returns the request name of the last reconcile.
func (r *Registry) RequestName() string { return r.requestName }

// Len returns the number of files in the table.
func (r *Registry) Len() int { return r.files.Len() }

// Get returns a copy of the named file.
func (r *Registry) Get(name string) (*capture.File, bool) {
	e, ok := r.files.Get(name)
	if !ok {
		return nil, false
	}
	return e.file.Clone(), true
}

// Entries returns copies of every file, sorted by name. Payloads are not included.
func (r *Registry) Entries() []*capture.File {
	out := make([]*capture.File, 0, r.files.Len())
	r.files.Scan(func(_ string, e *entry) bool {
		c := e.file.Clone()
		c.Values = nil
		out = append(out, c)
		return true
	})
	return out
}

// Values returns the payload of the named file, reading it on first use. The result
// is cached until a reconcile observes a change to the file.
func (r *Registry) Values(name string) (map[string]capture.Value, []capture.ItemWarning, error) {
	e, ok := r.files.Get(name)
	if !ok {
		return nil, nil, errors.NewNotFound(name)
	}
	if e.file.Values == nil {
		values, warnings, err := capture.ReadPayload(e.file.Path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil, errors.NewNotFound(name)
			}
			return nil, nil, errors.NewInternal(err)
		}
		if len(warnings) > 0 {
			r.logger.Warn("capture payload has unparsable lines", "file", name, "warnings", len(warnings))
		}
		e.file.Values = values
		e.warnings = warnings
	}
	return e.file.Values, e.warnings, nil
}

// Invalidate makes the next reconcile re-read name even if its modification time and
// size did not change.
func (r *Registry) Invalidate(name string) {
	if e, ok := r.files.Get(name); ok {
		e.file.ModifiedAt = time.Time{}
		e.file.Size = -1
		e.file.Values = nil
		e.warnings = nil
	}
	delete(r.ignored, name)
}

// Ledger returns the label ledger. It is owned by the registry; callers only read it.
func (r *Registry) Ledger() *Ledger { return r.ledger }

package registry

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/snapkeep/internal/capture"
	"github.com/hpungsan/snapkeep/internal/errors"
)

var baseTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// writeCapture writes a capture with a header and bumps its mtime so every write is
// observed as a change.
func writeCapture(t *testing.T, dir, name string, md capture.Metadata, values map[string]capture.Value, tick int) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, capture.Encode(md, values), 0644))
	mt := baseTime.Add(time.Duration(tick) * time.Second)
	require.NoError(t, os.Chtimes(path, mt, mt))
}

func writeRaw(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func labels(ls ...string) capture.Metadata {
	return capture.Metadata{Labels: ls}
}

func TestReconcile_Scenario(t *testing.T) {
	dir := t.TempDir()
	writeCapture(t, dir, "a.snap", capture.Metadata{Comment: "baseline", Labels: []string{"shift1"}}, nil, 1)
	writeCapture(t, dir, "b.snap", labels("shift1", "shift2"), nil, 2)

	r := New()
	res, err := r.Reconcile(dir, "")
	require.NoError(t, err)
	require.Equal(t, []string{"a.snap", "b.snap"}, res.Changed)
	require.Equal(t, []string{"a.snap", "b.snap"}, res.Added)
	require.Equal(t, 2, r.Ledger().Count("shift1"))
	require.Equal(t, 1, r.Ledger().Count("shift2"))

	require.NoError(t, os.Remove(filepath.Join(dir, "b.snap")))
	res, err = r.Reconcile(dir, "")
	require.NoError(t, err)
	require.Equal(t, []string{"b.snap"}, res.Changed)
	require.Equal(t, []string{"b.snap"}, res.Removed)
	require.Equal(t, 1, r.Ledger().Count("shift1"))
	require.Equal(t, 0, r.Ledger().Count("shift2"))
	require.False(t, r.Ledger().IsReferenced("shift2"))
	require.Equal(t, []string{"shift1"}, r.Ledger().Labels())
}

func TestReconcile_Idempotent(t *testing.T) {
	dir := t.TempDir()
	writeCapture(t, dir, "a.snap", labels("x"), nil, 1)
	writeCapture(t, dir, "b.snap", labels("y"), nil, 2)
	writeRaw(t, dir, "bad.snap", "not a header\n")

	r := New()
	first, err := r.Reconcile(dir, "")
	require.NoError(t, err)
	require.Len(t, first.Changed, 3)
	before := r.Entries()

	second, err := r.Reconcile(dir, "")
	require.NoError(t, err)
	require.Empty(t, second.Changed)
	require.Empty(t, second.Errors)
	require.Equal(t, before, r.Entries())
}

func TestReconcile_Modified(t *testing.T) {
	dir := t.TempDir()
	writeCapture(t, dir, "a.snap", labels("old", "keep"), nil, 1)

	r := New()
	_, err := r.Reconcile(dir, "")
	require.NoError(t, err)

	writeCapture(t, dir, "a.snap", labels("new", "keep"), nil, 5)
	res, err := r.Reconcile(dir, "")
	require.NoError(t, err)
	require.Equal(t, []string{"a.snap"}, res.Modified)
	require.Empty(t, res.Added)
	require.Equal(t, 0, r.Ledger().Count("old"))
	require.Equal(t, 1, r.Ledger().Count("new"))
	require.Equal(t, 1, r.Ledger().Count("keep"))

	f, ok := r.Get("a.snap")
	require.True(t, ok)
	require.True(t, f.ModifiedAt.Equal(baseTime.Add(5*time.Second)))
}

func TestReconcile_CorruptFileDoesNotAbort(t *testing.T) {
	dir := t.TempDir()
	writeCapture(t, dir, "SF_1.snap", labels("l"), nil, 1)
	writeRaw(t, dir, "SF_2.snap", "{broken\nX,1\n")
	writeRaw(t, dir, "SF_3.snap", "")
	writeCapture(t, dir, "SF_4.snap", labels("l"), nil, 4)

	r := New()
	res, err := r.Reconcile(dir, "SF.req")
	require.NoError(t, err)
	require.Equal(t, []string{"SF_1.snap", "SF_2.snap", "SF_3.snap", "SF_4.snap"}, res.Added)
	require.Len(t, res.Errors, 2)
	require.Equal(t, "SF_2.snap", res.Errors[0].Name)
	require.Equal(t, "SF_3.snap", res.Errors[1].Name)
	require.Equal(t, 2, r.Ledger().Count("l"))

	f, ok := r.Get("SF_2.snap")
	require.True(t, ok)
	require.Empty(t, f.Metadata.Labels)
}

func TestReconcile_RequestMatching(t *testing.T) {
	dir := t.TempDir()
	// Header names the request: accepted regardless of file name prefix rule.
	writeCapture(t, dir, "SFX.snap", capture.Metadata{SourceRequest: "SF.req"}, nil, 1)
	// Header names another request: rejected even though the name matches.
	writeCapture(t, dir, "SF_other.snap", capture.Metadata{SourceRequest: "OTHER.req"}, nil, 2)
	// No request in header: name prefix fallback.
	writeCapture(t, dir, "SF_legacy.snap", capture.Metadata{}, nil, 3)
	// Neither.
	writeCapture(t, dir, "SFZ.snap", capture.Metadata{}, nil, 4)
	// Wrong suffix, wrong stem.
	writeCapture(t, dir, "SF_1.txt", capture.Metadata{}, nil, 5)
	writeCapture(t, dir, "AB_1.snap", capture.Metadata{}, nil, 6)
	// Corrupt header without a matching name is silently skipped.
	writeRaw(t, dir, "SFbad.snap", "garbage")

	r := New()
	res, err := r.Reconcile(dir, "SF.req")
	require.NoError(t, err)
	require.Equal(t, []string{"SFX.snap", "SF_legacy.snap"}, res.Added)
	require.Empty(t, res.Errors)

	// Ignored files are not re-read.
	res, err = r.Reconcile(dir, "SF.req")
	require.NoError(t, err)
	require.Empty(t, res.Changed)

	// A header now pointing elsewhere drops the file.
	writeCapture(t, dir, "SFX.snap", capture.Metadata{SourceRequest: "OTHER.req"}, nil, 10)
	res, err = r.Reconcile(dir, "SF.req")
	require.NoError(t, err)
	require.Equal(t, []string{"SFX.snap"}, res.Removed)
}

func TestReconcile_DirectorySwitch(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	writeCapture(t, dirA, "a.snap", labels("x"), nil, 1)
	writeCapture(t, dirB, "b.snap", labels("y"), nil, 1)

	r := New()
	_, err := r.Reconcile(dirA, "")
	require.NoError(t, err)

	res, err := r.Reconcile(dirB, "")
	require.NoError(t, err)
	require.Equal(t, []string{"a.snap"}, res.Removed)
	require.Equal(t, []string{"b.snap"}, res.Added)
	require.Equal(t, []string{"a.snap", "b.snap"}, res.Changed)
	require.Equal(t, []string{"y"}, r.Ledger().Labels())
	require.Equal(t, dirB, r.Dir())
}

func TestReconcile_MissingDirectoryIsEmpty(t *testing.T) {
	r := New()
	res, err := r.Reconcile(filepath.Join(t.TempDir(), "absent"), "")
	require.NoError(t, err)
	require.Empty(t, res.Changed)
	require.Equal(t, 0, r.Len())
}

func TestReconcile_ScanLimit(t *testing.T) {
	dir := t.TempDir()
	for i := range 5 {
		writeCapture(t, dir, fmt.Sprintf("f%d.snap", i), labels("l"), nil, i)
	}

	r := New(WithScanLimit(2))
	res, err := r.Reconcile(dir, "")
	require.NoError(t, err)
	require.Len(t, res.Added, 2)
	require.Equal(t, 3, res.Pending)

	res, err = r.Reconcile(dir, "")
	require.NoError(t, err)
	require.Len(t, res.Added, 2)
	require.Equal(t, 1, res.Pending)

	res, err = r.Reconcile(dir, "")
	require.NoError(t, err)
	require.Len(t, res.Added, 1)
	require.Zero(t, res.Pending)
	require.Equal(t, 5, r.Len())
	require.Equal(t, 5, r.Ledger().Count("l"))
}

func TestReconcile_CustomSuffix(t *testing.T) {
	dir := t.TempDir()
	writeCapture(t, dir, "a.snp", capture.Metadata{}, nil, 1)
	writeCapture(t, dir, "b.snap", capture.Metadata{}, nil, 1)

	r := New(WithSuffix(".snp"))
	res, err := r.Reconcile(dir, "")
	require.NoError(t, err)
	require.Equal(t, []string{"a.snp"}, res.Changed)
}

// The ledger count for every label must equal the number of files carrying it after
// any sequence of adds, edits and removals.
func TestLedger_MatchesTableUnderRandomOperations(t *testing.T) {
	dir := t.TempDir()
	rng := rand.New(rand.NewSource(42))
	pool := []string{"a", "b", "c", "d"}
	r := New()

	for step := range 60 {
		name := fmt.Sprintf("f%d.snap", rng.Intn(6))
		path := filepath.Join(dir, name)
		if rng.Intn(3) == 0 {
			os.Remove(path)
		} else {
			var ls []string
			for _, l := range pool {
				if rng.Intn(2) == 0 {
					ls = append(ls, l)
				}
			}
			writeCapture(t, dir, name, labels(ls...), nil, step+1)
		}

		_, err := r.Reconcile(dir, "")
		require.NoError(t, err)

		want := make(map[string]int)
		for _, f := range r.Entries() {
			for _, l := range f.Metadata.Labels {
				want[l]++
			}
		}
		require.Equal(t, want, r.Ledger().Counts(), "step %d", step)
	}
}

func TestValues_LazyAndInvalidated(t *testing.T) {
	dir := t.TempDir()
	writeCapture(t, dir, "a.snap", capture.Metadata{}, map[string]capture.Value{
		"X": capture.NumberValue(1),
	}, 1)

	r := New()
	_, err := r.Reconcile(dir, "")
	require.NoError(t, err)

	f, _ := r.Get("a.snap")
	require.Nil(t, f.Values)

	values, warnings, err := r.Values("a.snap")
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, capture.NumberValue(1), values["X"])

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.snap"),
		[]byte("#{}\nX,2\nbroken\n"), 0644))
	mt := baseTime.Add(time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "a.snap"), mt, mt))
	_, err = r.Reconcile(dir, "")
	require.NoError(t, err)

	values, warnings, err = r.Values("a.snap")
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	require.Equal(t, capture.NumberValue(2), values["X"])

	_, _, err = r.Values("missing.snap")
	require.True(t, errors.Is(err, errors.ErrNotFound))
}

type memIndex struct {
	rows    map[string]*capture.File
	upserts int
	deletes int
}

func newMemIndex() *memIndex { return &memIndex{rows: make(map[string]*capture.File)} }

func (m *memIndex) Load(dir, requestName string) ([]*capture.File, error) {
	var out []*capture.File
	for _, f := range m.rows {
		out = append(out, f.Clone())
	}
	return out, nil
}

func (m *memIndex) Upsert(dir, requestName string, files []*capture.File) error {
	m.upserts += len(files)
	for _, f := range files {
		m.rows[f.Name] = f.Clone()
	}
	return nil
}

func (m *memIndex) Delete(dir, requestName string, names []string) error {
	m.deletes += len(names)
	for _, n := range names {
		delete(m.rows, n)
	}
	return nil
}

func TestReconcile_IndexSeedsAndSkipsParse(t *testing.T) {
	dir := t.TempDir()
	writeCapture(t, dir, "a.snap", labels("x"), nil, 1)
	writeCapture(t, dir, "b.snap", labels("y"), nil, 2)

	idx := newMemIndex()
	r1 := New(WithIndex(idx))
	_, err := r1.Reconcile(dir, "")
	require.NoError(t, err)
	require.Equal(t, 2, idx.upserts)

	// A stale row for a file that no longer exists is dropped silently.
	idx.rows["gone.snap"] = &capture.File{Name: "gone.snap", Metadata: labels("z")}

	r2 := New(WithIndex(idx))
	res, err := r2.Reconcile(dir, "")
	require.NoError(t, err)
	require.Equal(t, []string{"a.snap", "b.snap"}, res.Added)
	require.Empty(t, res.Removed)
	require.Equal(t, 2, idx.upserts, "unchanged files are not re-parsed or re-upserted")
	require.Equal(t, 1, idx.deletes)
	require.Equal(t, []string{"x", "y"}, r2.Ledger().Labels())
}

func TestLedger_NegativePanics(t *testing.T) {
	l := NewLedger()
	l.Apply([]string{"a"}, nil)
	l.Apply(nil, []string{"a"})
	require.Panics(t, func() { l.Apply(nil, []string{"a"}) })
}

func TestLedger_Suggestions(t *testing.T) {
	l := NewLedger()
	l.Apply([]string{"shift1", "beam"}, nil)
	require.Equal(t, []string{"beam", "golden", "shift1"}, l.Suggestions([]string{"golden", "shift1", ""}))
}

func TestInvalidate_RereadsUnchangedStamp(t *testing.T) {
	dir := t.TempDir()
	writeCapture(t, dir, "a.snap", capture.Metadata{Comment: "aaaa", Labels: []string{"x"}}, nil, 1)

	r := New()
	_, err := r.Reconcile(dir, "")
	require.NoError(t, err)

	// Same size, same mtime: invisible to a plain reconcile.
	writeCapture(t, dir, "a.snap", capture.Metadata{Comment: "bbbb", Labels: []string{"y"}}, nil, 1)
	res, err := r.Reconcile(dir, "")
	require.NoError(t, err)
	require.Empty(t, res.Changed)

	r.Invalidate("a.snap")
	r.Invalidate("unknown.snap")
	res, err = r.Reconcile(dir, "")
	require.NoError(t, err)
	require.Equal(t, []string{"a.snap"}, res.Modified)

	f, _ := r.Get("a.snap")
	require.Equal(t, "bbbb", f.Metadata.Comment)
	require.Equal(t, 0, r.Ledger().Count("x"))
	require.Equal(t, 1, r.Ledger().Count("y"))
}

package ops

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/snapkeep/internal/capture"
	"github.com/hpungsan/snapkeep/internal/config"
	"github.com/hpungsan/snapkeep/internal/errors"
	"github.com/hpungsan/snapkeep/internal/live"
	"github.com/hpungsan/snapkeep/internal/logging"
	"github.com/hpungsan/snapkeep/internal/restore"
)

func requireCode(t *testing.T, err error, code errors.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	require.True(t, errors.Is(err, code), "expected %s, got: %v", code, err)
}

func TestSave_NoConnUnlessForced(t *testing.T) {
	env := newTestEnv(t)
	env.sim.SetConnected("C", false)
	ctx := context.Background()

	_, err := env.svc.Save(ctx, SaveInput{})
	requireCode(t, err, errors.ErrNoConn)
	sErr, ok := errors.As(err)
	require.True(t, ok)
	require.Equal(t, []string{"C"}, sErr.Details["items"])
	_, statErr := os.Stat(env.dir)
	require.True(t, os.IsNotExist(statErr), "nothing written before force")

	out, err := env.svc.Save(ctx, SaveInput{Force: true})
	require.NoError(t, err)
	require.Equal(t, []string{"C"}, out.Disconnected)

	fetched, err := env.svc.Fetch(FetchInput{Name: out.Name})
	require.NoError(t, err)
	require.Equal(t, capture.KindNone, fetched.Values["C"].Kind)
}

func TestSave_DisconnectedMacroItemReportedSubstituted(t *testing.T) {
	env := newTestEnv(t)
	env.sim.SetConnected("TST:B", false)

	_, err := env.svc.Save(context.Background(), SaveInput{})
	requireCode(t, err, errors.ErrNoConn)
	sErr, _ := errors.As(err)
	require.Equal(t, []string{"TST:B"}, sErr.Details["items"])
}

func TestSave_MacroOverride(t *testing.T) {
	env := newTestEnv(t)
	env.sim.Set("DEV:B", capture.StringValue("off"))

	out, err := env.svc.Save(context.Background(), SaveInput{Macros: map[string]string{"SYS": "DEV"}})
	require.NoError(t, err)

	fetched, err := env.svc.Fetch(FetchInput{Name: out.Name})
	require.NoError(t, err)
	require.True(t, fetched.Values["$(SYS):B"].Equal(capture.StringValue("off")))
}

func TestSave_Labels(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.DefaultLabels = []string{"prod", "test"}
	env.cfg.ForceDefaultLabels = true
	ctx := context.Background()

	_, err := env.svc.Save(ctx, SaveInput{Labels: []string{"prod", "adhoc"}})
	requireCode(t, err, errors.ErrLabelNotAllowed)

	out, err := env.svc.Save(ctx, SaveInput{Labels: []string{"test", " prod "}})
	require.NoError(t, err)
	require.Equal(t, []string{"prod", "test"}, out.Labels)
}

func TestSave_CustomName(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	out, err := env.svc.Save(ctx, SaveInput{Name: "SF_golden", Comment: "v1"})
	require.NoError(t, err)
	require.Equal(t, "SF_golden.snap", out.Name)

	_, err = env.svc.Save(ctx, SaveInput{Name: "SF_golden.snap"})
	requireCode(t, err, errors.ErrFileExists)

	env.sim.Set("A", capture.NumberValue(9))
	out, err = env.svc.Save(ctx, SaveInput{Name: "SF_golden.snap", Comment: "v2", Overwrite: true})
	require.NoError(t, err)
	require.Equal(t, "v2", out.Comment)

	fetched, err := env.svc.Fetch(FetchInput{Name: "SF_golden.snap"})
	require.NoError(t, err)
	require.True(t, fetched.Values["A"].Equal(capture.NumberValue(9)))

	_, err = env.svc.Save(ctx, SaveInput{Name: "../escape"})
	requireCode(t, err, errors.ErrInvalidRequest)
}

func TestSave_RequestFileProblems(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.cfg.RequestFile = ""
	_, err := env.svc.Save(ctx, SaveInput{})
	requireCode(t, err, errors.ErrInvalidRequest)

	env.cfg.RequestFile = filepath.Join(t.TempDir(), "missing.req")
	_, err = env.svc.Save(ctx, SaveInput{})
	requireCode(t, err, errors.ErrNotFound)

	bad := filepath.Join(t.TempDir(), "bad.req")
	require.NoError(t, os.WriteFile(bad, []byte("$(UNDEFINED):X\n"), 0644))
	env.cfg.RequestFile = bad
	_, err = env.svc.Save(ctx, SaveInput{})
	requireCode(t, err, errors.ErrInvalidRequest)

	empty := filepath.Join(t.TempDir(), "empty.req")
	require.NoError(t, os.WriteFile(empty, []byte("# nothing\n"), 0644))
	env.cfg.RequestFile = empty
	_, err = env.svc.Save(ctx, SaveInput{})
	requireCode(t, err, errors.ErrNoData)
}

func TestRestore_Rejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Restore(ctx, RestoreInput{})
	requireCode(t, err, errors.ErrInvalidRequest)

	_, err = env.svc.Restore(ctx, RestoreInput{Name: "SF_missing.snap"})
	requireCode(t, err, errors.ErrNotFound)

	saved, err := env.svc.Save(ctx, SaveInput{})
	require.NoError(t, err)

	env.sim.SetConnected("A", false)
	_, err = env.svc.Restore(ctx, RestoreInput{Name: saved.Name})
	requireCode(t, err, errors.ErrNoConn)

	out, err := env.svc.Restore(ctx, RestoreInput{Name: saved.Name, Force: boolPtr(true)})
	require.NoError(t, err)
	require.Equal(t, restore.StateWarnings, out.State)
	require.Equal(t, []string{"A"}, out.Failed)
	require.Equal(t, 2, out.Counts[restore.ItemOK])

	_, err = env.svc.Restore(ctx, RestoreInput{Name: saved.Name, Items: []string{"nope"}})
	requireCode(t, err, errors.ErrNoData)
}

func TestRestore_ForceFromConfig(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	saved, err := env.svc.Save(ctx, SaveInput{})
	require.NoError(t, err)

	env.sim.SetConnected("C", false)
	env.cfg.ForceRestore = true
	out, err := env.svc.Restore(ctx, RestoreInput{Name: saved.Name})
	require.NoError(t, err)
	require.True(t, out.Forced)
	require.Equal(t, restore.ItemAccessError, out.Items["C"])

	_, err = env.svc.Restore(ctx, RestoreInput{Name: saved.Name, Force: boolPtr(false)})
	requireCode(t, err, errors.ErrNoConn)
}

func TestRestore_SubsetAndMacros(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	saved, err := env.svc.Save(ctx, SaveInput{})
	require.NoError(t, err)

	env.sim.Set("DEV:B", capture.StringValue("off"))
	out, err := env.svc.Restore(ctx, RestoreInput{
		Name:   saved.Name,
		Items:  []string{"DEV:B"},
		Macros: map[string]string{"SYS": "DEV"},
	})
	require.NoError(t, err)
	require.Equal(t, map[string]restore.ItemStatus{"DEV:B": restore.ItemOK}, out.Items)

	v, _ := env.sim.Value("DEV:B")
	require.True(t, v.Equal(capture.StringValue("on")))
}

func TestRestore_NullValuesAreSkipped(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.MkdirAll(env.dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(env.dir, "SF_empty.snap"),
		[]byte("#{\"comment\":\"\",\"labels\":[]}\nA,null\nC,null\n"), 0644))

	_, err := env.svc.Restore(context.Background(), RestoreInput{Name: "SF_empty.snap"})
	requireCode(t, err, errors.ErrNoData)
}

func TestRestore_TypeError(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	saved, err := env.svc.Save(ctx, SaveInput{})
	require.NoError(t, err)

	env.sim.Set("A", capture.StringValue("text now"))
	out, err := env.svc.Restore(ctx, RestoreInput{Name: saved.Name})
	require.NoError(t, err)
	require.Equal(t, restore.StateError, out.State)
	require.Equal(t, restore.ItemTypeError, out.Items["A"])
}

func TestRestore_ContextDeadline(t *testing.T) {
	env := newTestEnv(t)
	saved, err := env.svc.Save(context.Background(), SaveInput{})
	require.NoError(t, err)

	env.sim.Latency = 200 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = env.svc.Restore(ctx, RestoreInput{Name: saved.Name})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The batch still completes and releases the orchestrator.
	require.Eventually(t, func() bool { return !env.svc.Status().RestoreBusy }, 2*time.Second, 5*time.Millisecond)
}

func TestEditMetadata(t *testing.T) {
	env := newTestEnv(t)
	saved, err := env.svc.Save(context.Background(), SaveInput{Comment: "old", Labels: []string{"a"}})
	require.NoError(t, err)

	_, err = env.svc.EditMetadata(EditInput{Name: saved.Name})
	requireCode(t, err, errors.ErrInvalidRequest)

	_, err = env.svc.EditMetadata(EditInput{Name: "SF_nope.snap", Comment: stringPtr("x")})
	requireCode(t, err, errors.ErrNotFound)

	out, err := env.svc.EditMetadata(EditInput{Name: saved.Name, Comment: stringPtr("same length")})
	require.NoError(t, err)
	require.Equal(t, "same length", out.Comment)
	require.Equal(t, []string{"a"}, out.Labels, "labels untouched")

	// Same-size rewrite is still picked up
	out, err = env.svc.EditMetadata(EditInput{Name: saved.Name, Comment: stringPtr("SAME LENGTH")})
	require.NoError(t, err)
	require.Equal(t, "SAME LENGTH", out.Comment)

	listOut, err := env.svc.List(ListInput{Comment: "SAME"})
	require.NoError(t, err)
	require.Len(t, listOut.Items, 1)

	env.cfg.DefaultLabels = []string{"a"}
	env.cfg.ForceDefaultLabels = true
	_, err = env.svc.EditMetadata(EditInput{Name: saved.Name, Labels: &[]string{"zzz"}})
	requireCode(t, err, errors.ErrLabelNotAllowed)
}

func TestEditMetadata_RepairsCorruptHeader(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.MkdirAll(env.dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(env.dir, "SF_broken.snap"), []byte("#{oops\nA,1\n"), 0644))

	rec, err := env.svc.Reconcile(ReconcileInput{})
	require.NoError(t, err)
	require.Len(t, rec.Errors, 1)

	out, err := env.svc.EditMetadata(EditInput{Name: "SF_broken.snap", Labels: &[]string{"fixed"}})
	require.NoError(t, err)
	require.Equal(t, []string{"fixed"}, out.Labels)

	fetched, err := env.svc.Fetch(FetchInput{Name: "SF_broken.snap"})
	require.NoError(t, err)
	require.True(t, fetched.Values["A"].Equal(capture.NumberValue(1)))
}

func TestDelete_ReportsPerFileErrors(t *testing.T) {
	env := newTestEnv(t)
	saved, err := env.svc.Save(context.Background(), SaveInput{})
	require.NoError(t, err)

	_, err = env.svc.Delete(DeleteInput{Names: []string{" ", ""}})
	requireCode(t, err, errors.ErrInvalidRequest)

	out, err := env.svc.Delete(DeleteInput{Names: []string{saved.Name, "SF_ghost.snap", saved.Name}})
	require.NoError(t, err)
	require.Equal(t, []string{saved.Name}, out.Deleted)
	require.Len(t, out.Errors, 1)
	require.Equal(t, "SF_ghost.snap", out.Errors[0].Name)
	require.NoFileExists(t, filepath.Join(env.dir, saved.Name))
}

func TestCompare_MissingItems(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.MkdirAll(env.dir, 0755))
	require.NoError(t, capture.WriteFile(filepath.Join(env.dir, "SF_a.snap"), capture.Metadata{},
		map[string]capture.Value{"X": capture.NumberValue(1), "Y": capture.NumberValue(2)}, false))
	require.NoError(t, capture.WriteFile(filepath.Join(env.dir, "SF_b.snap"), capture.Metadata{},
		map[string]capture.Value{"Y": capture.NumberValue(2), "Z": capture.NumberValue(3)}, false))

	out, err := env.svc.Compare(CompareInput{A: "SF_a.snap", B: "SF_b.snap"})
	require.NoError(t, err)
	require.Equal(t, 2, out.Differences)
	require.Empty(t, out.Diff)

	require.Len(t, out.Rows, 3)
	require.Equal(t, "X", out.Rows[0].Name)
	require.NotNil(t, out.Rows[0].A)
	require.Nil(t, out.Rows[0].B)
	require.True(t, out.Rows[1].Equal)
	require.Nil(t, out.Rows[2].A)

	_, err = env.svc.Compare(CompareInput{A: "SF_a.snap"})
	requireCode(t, err, errors.ErrInvalidRequest)
	_, err = env.svc.Compare(CompareInput{A: "SF_a.snap", B: "SF_none.snap"})
	requireCode(t, err, errors.ErrNotFound)
}

func TestLineDiff(t *testing.T) {
	diff, adds, dels := lineDiff("X,1\nY,3\n", "X,2\nY,3\n")
	require.Equal(t, "-X,1\n+X,2\n Y,3\n", diff)
	require.Equal(t, 1, adds)
	require.Equal(t, 1, dels)

	diff, adds, dels = lineDiff("A,1\n", "A,1\n")
	require.Equal(t, " A,1\n", diff)
	require.Zero(t, adds)
	require.Zero(t, dels)
}

func TestNewLive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	logger := logging.Discard()

	layer, err := NewLive(ctx, env.cfg, logger)
	require.NoError(t, err)
	defer layer.Close()
	sim, ok := layer.(*live.Sim)
	require.True(t, ok)
	require.True(t, sim.IsConnected("A"))
	require.True(t, sim.IsConnected("TST:B"))
	require.False(t, sim.IsConnected("$(SYS):B"))

	cfg := config.DefaultConfig()
	cfg.Live.Mode = "carrier-pigeon"
	_, err = NewLive(ctx, cfg, logger)
	requireCode(t, err, errors.ErrInvalidRequest)

	cfg.Live.Mode = LiveModeWS
	_, err = NewLive(ctx, cfg, logger)
	requireCode(t, err, errors.ErrInvalidRequest)
}

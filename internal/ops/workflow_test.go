package ops

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/snapkeep/internal/capture"
	"github.com/hpungsan/snapkeep/internal/config"
	"github.com/hpungsan/snapkeep/internal/live"
	"github.com/hpungsan/snapkeep/internal/restore"
)

var baseClock = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

type testEnv struct {
	svc *Service
	sim *live.Sim
	cfg *config.Config
	dir string
}

// newTestEnv builds a service over a temp save directory, a request file SF.req
// listing A, $(SYS):B and C, and a simulator holding values for them. Every call to
// the clock advances it by one second.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	reqPath := filepath.Join(root, "SF.req")
	require.NoError(t, os.WriteFile(reqPath, []byte("# items\nA\n$(SYS):B\nC, ignored\n"), 0644))

	cfg := config.DefaultConfig()
	cfg.SaveDir = filepath.Join(root, "saves")
	cfg.RequestFile = reqPath
	cfg.Macros = map[string]string{"SYS": "TST"}

	sim := live.NewSim()
	sim.Set("A", capture.NumberValue(1))
	sim.Set("TST:B", capture.StringValue("on"))
	sim.Set("C", capture.NumberArrayValue([]float64{1, 2}))

	var ticks atomic.Int64
	clock := func() time.Time {
		return baseClock.Add(time.Duration(ticks.Add(1)-1) * time.Second)
	}

	return &testEnv{
		svc: New(cfg, sim, WithClock(clock)),
		sim: sim,
		cfg: cfg,
		dir: cfg.SaveDir,
	}
}

func stringPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }

// TestFullWorkflow exercises the capture lifecycle:
// save → fetch → save → list → labels → compare → restore → edit → delete
func TestFullWorkflow(t *testing.T) {
	env := newTestEnv(t)
	svc := env.svc
	ctx := context.Background()

	// 1. Save a baseline
	first, err := svc.Save(ctx, SaveInput{Comment: "baseline", Labels: []string{"prod", "b", "prod"}})
	require.NoError(t, err)
	require.Equal(t, "SF_260304_050607.snap", first.Name)
	require.Equal(t, 3, first.Items)
	require.Equal(t, []string{"b", "prod"}, first.Labels)
	require.Equal(t, "SF.req", first.SourceRequest)
	require.FileExists(t, filepath.Join(env.dir, first.Name))

	// 2. Fetch: names keep changeable macros unresolved
	fetched, err := svc.Fetch(FetchInput{Name: first.Name})
	require.NoError(t, err)
	require.Equal(t, "baseline", fetched.Comment)
	require.Equal(t, 3, fetched.Items)
	require.True(t, fetched.Values["$(SYS):B"].Equal(capture.StringValue("on")))
	require.True(t, fetched.Values["A"].Equal(capture.NumberValue(1)))
	require.Empty(t, fetched.Warnings)

	// 3. Change a live value and save again
	env.sim.Set("A", capture.NumberValue(5))
	second, err := svc.Save(ctx, SaveInput{Comment: "after tuning", Labels: []string{"prod"}})
	require.NoError(t, err)
	require.Equal(t, "SF_260304_050608.snap", second.Name)

	// 4. List with and without predicates
	listOut, err := svc.List(ListInput{})
	require.NoError(t, err)
	require.Equal(t, 2, listOut.Total)
	require.Len(t, listOut.Items, 2)
	require.Equal(t, first.Name, listOut.Items[0].Name)

	listOut, err = svc.List(ListInput{Labels: []string{"b"}})
	require.NoError(t, err)
	require.Len(t, listOut.Items, 1)
	require.Equal(t, first.Name, listOut.Items[0].Name)

	listOut, err = svc.List(ListInput{Comment: "tuning"})
	require.NoError(t, err)
	require.Len(t, listOut.Items, 1)
	require.Equal(t, second.Name, listOut.Items[0].Name)

	// 5. Labels
	labelsOut, err := svc.Labels()
	require.NoError(t, err)
	require.Equal(t, []LabelCount{{Label: "b", Count: 1}, {Label: "prod", Count: 2}}, labelsOut.Labels)

	// 6. Compare
	cmpOut, err := svc.Compare(CompareInput{A: first.Name, B: second.Name, Text: true})
	require.NoError(t, err)
	require.Len(t, cmpOut.Rows, 3)
	require.Equal(t, 1, cmpOut.Differences)
	require.Equal(t, 1, cmpOut.Additions)
	require.Equal(t, 1, cmpOut.Deletions)
	require.Contains(t, cmpOut.Diff, "-A,1\n")
	require.Contains(t, cmpOut.Diff, "+A,5\n")

	// 7. Restore the baseline
	restoreOut, err := svc.Restore(ctx, RestoreInput{Name: first.Name})
	require.NoError(t, err)
	require.Equal(t, restore.StateOK, restoreOut.State)
	require.Equal(t, map[string]restore.ItemStatus{
		"A":     restore.ItemOK,
		"TST:B": restore.ItemOK,
		"C":     restore.ItemOK,
	}, restoreOut.Items)
	v, _ := env.sim.Value("A")
	require.True(t, v.Equal(capture.NumberValue(1)))

	// 8. Edit labels of the baseline; the ledger follows
	editOut, err := svc.EditMetadata(EditInput{Name: first.Name, Labels: &[]string{"x"}})
	require.NoError(t, err)
	require.Equal(t, []string{"x"}, editOut.Labels)
	require.Equal(t, []string{"x"}, editOut.AddedLabels)
	require.Equal(t, []string{"b", "prod"}, editOut.RemovedLabels)
	require.Equal(t, "baseline", editOut.Comment)

	labelsOut, err = svc.Labels()
	require.NoError(t, err)
	require.Equal(t, []LabelCount{{Label: "prod", Count: 1}, {Label: "x", Count: 1}}, labelsOut.Labels)

	// Payload survives the header rewrite
	fetched, err = svc.Fetch(FetchInput{Name: first.Name})
	require.NoError(t, err)
	require.Equal(t, 3, fetched.Items)

	// 9. Delete both
	delOut, err := svc.Delete(DeleteInput{Names: []string{first.Name, second.Name}})
	require.NoError(t, err)
	require.Equal(t, []string{first.Name, second.Name}, delOut.Deleted)
	require.Empty(t, delOut.Errors)

	listOut, err = svc.List(ListInput{})
	require.NoError(t, err)
	require.Empty(t, listOut.Items)
	labelsOut, err = svc.Labels()
	require.NoError(t, err)
	require.Empty(t, labelsOut.Labels)
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)
	st := env.svc.Status()
	require.False(t, st.Reconciled)
	require.Equal(t, "SF.req", st.Request)
	require.Equal(t, LiveModeSim, st.LiveMode)

	_, err := env.svc.Save(context.Background(), SaveInput{Labels: []string{"a"}})
	require.NoError(t, err)

	st = env.svc.Status()
	require.True(t, st.Reconciled)
	require.Equal(t, 1, st.Files)
	require.Equal(t, 1, st.Labels)
	require.False(t, st.RestoreBusy)
}

func TestReconcile_ReportsExternalChanges(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.MkdirAll(env.dir, 0755))

	out, err := env.svc.Reconcile(ReconcileInput{})
	require.NoError(t, err)
	require.Empty(t, out.Changed)
	require.Equal(t, 0, out.Files)

	path := filepath.Join(env.dir, "SF_manual.snap")
	require.NoError(t, capture.WriteFile(path, capture.Metadata{Comment: "by hand", Labels: []string{"m"}},
		map[string]capture.Value{"A": capture.NumberValue(3)}, false))

	out, err = env.svc.Reconcile(ReconcileInput{})
	require.NoError(t, err)
	require.Equal(t, []string{"SF_manual.snap"}, out.Added)
	require.Equal(t, []string{"SF_manual.snap"}, out.Filtered)

	require.NoError(t, os.Remove(path))
	out, err = env.svc.Reconcile(ReconcileInput{})
	require.NoError(t, err)
	require.Equal(t, []string{"SF_manual.snap"}, out.Removed)
	require.Empty(t, out.Filtered)
}

func TestReconcile_ReappliesLastFilter(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Save(ctx, SaveInput{Labels: []string{"keep"}})
	require.NoError(t, err)
	listOut, err := env.svc.List(ListInput{Labels: []string{"keep"}})
	require.NoError(t, err)
	require.Len(t, listOut.Items, 1)

	second, err := env.svc.Save(ctx, SaveInput{Labels: []string{"keep", "new"}})
	require.NoError(t, err)
	_, err = env.svc.Save(ctx, SaveInput{Labels: []string{"other"}})
	require.NoError(t, err)

	out, err := env.svc.Reconcile(ReconcileInput{})
	require.NoError(t, err)
	require.Equal(t, 3, out.Files)
	require.Len(t, out.Filtered, 2)
	require.Contains(t, out.Filtered, second.Name)
}

func TestReconcile_DirectorySwitch(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.Save(context.Background(), SaveInput{})
	require.NoError(t, err)

	other := t.TempDir()
	require.NoError(t, capture.WriteFile(filepath.Join(other, "SF_other.snap"), capture.Metadata{},
		map[string]capture.Value{"A": capture.NumberValue(1)}, false))

	out, err := env.svc.Reconcile(ReconcileInput{Dir: other})
	require.NoError(t, err)
	require.Equal(t, other, out.Dir)
	require.Equal(t, []string{"SF_other.snap"}, out.Added)
	require.Len(t, out.Removed, 1)
	require.Equal(t, 1, out.Files)
}

func TestFetch_Errors(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Fetch(FetchInput{})
	requireCode(t, err, "INVALID_REQUEST")

	_, err = env.svc.Fetch(FetchInput{Name: "SF_missing.snap"})
	requireCode(t, err, "NOT_FOUND")
}

func TestFetch_WithoutValues(t *testing.T) {
	env := newTestEnv(t)
	saved, err := env.svc.Save(context.Background(), SaveInput{})
	require.NoError(t, err)

	out, err := env.svc.Fetch(FetchInput{Name: saved.Name, IncludeValues: boolPtr(false)})
	require.NoError(t, err)
	require.Nil(t, out.Values)
	require.Equal(t, 3, out.Items)
}

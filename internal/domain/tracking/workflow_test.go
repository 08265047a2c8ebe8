package tracking

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockTimeProvider implements TimeProvider for testing.
type mockTimeProvider struct{ currentTime time.Time }

func (m *mockTimeProvider) Now() time.Time { return m.currentTime }

func testDescriptor() Descriptor {
	return Descriptor{
		WorkflowID: uuid.New(),
		DAGFile:    "workflow.dag",
		SubmitDir:  "/submit/run0001",
	}
}

func newTestWorkflow(t *testing.T) *Workflow {
	t.Helper()
	desc := testDescriptor()
	return NewWorkflow(desc, desc.WorkflowID, uuid.Nil,
		WithTimeProvider(&mockTimeProvider{currentTime: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}))
}

func TestWorkflow_AddJobAssignsSequences(t *testing.T) {
	t.Parallel()

	wf := newTestWorkflow(t)
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	a, created := wf.AddJob("job_a", JobStateSubmit, "100.0", ts, nil)
	require.True(t, created)
	assert.Equal(t, int64(1), a.SubmitSeq())

	b, created := wf.AddJob("job_b", JobStateSubmit, "101.0", ts, nil)
	require.True(t, created)
	assert.Equal(t, int64(2), b.SubmitSeq())

	assert.Equal(t, int64(3), wf.NextSubmitSeq())
	assert.Equal(t, 2, wf.LiveInstances())
}

func TestWorkflow_ReuseAfterPreScriptSuccess(t *testing.T) {
	t.Parallel()

	wf := newTestWorkflow(t)
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	inst, created := wf.AddJob("job_a", JobStatePreScriptStarted, "", ts, nil)
	require.True(t, created)
	inst.SetState(JobStatePreScriptSuccess, "", ts.Add(time.Second), nil)

	// The submit for the same attempt reuses the instance.
	reused, created := wf.AddJob("job_a", JobStateSubmit, "100.0", ts.Add(2*time.Second), nil)
	assert.False(t, created)
	assert.Same(t, inst, reused)
	assert.Equal(t, int64(1), reused.SubmitSeq())
}

func TestWorkflow_SchedulerIDMatchReuses(t *testing.T) {
	t.Parallel()

	wf := newTestWorkflow(t)
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	inst, _ := wf.AddJob("job_a", JobStateExecute, "100.0", ts, nil)

	// An out-of-order SUBMIT with the matching scheduler id lands on the
	// executing attempt instead of opening a second one.
	reused, created := wf.AddJob("job_a", JobStateSubmit, "100.0", ts.Add(time.Second), nil)
	assert.False(t, created)
	assert.Same(t, inst, reused)
}

func TestWorkflow_SchedulerIDMismatchCreatesFresh(t *testing.T) {
	t.Parallel()

	wf := newTestWorkflow(t)
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	first, _ := wf.AddJob("job_a", JobStateExecute, "100.0", ts, nil)

	fresh, created := wf.AddJob("job_a", JobStateSubmit, "200.0", ts.Add(time.Second), nil)
	require.True(t, created)
	assert.NotEqual(t, first.SubmitSeq(), fresh.SubmitSeq())

	// The first instance keeps its own scheduler id untouched.
	assert.Equal(t, "100.0", first.SchedulerID())
	assert.Equal(t, "200.0", fresh.SchedulerID())
}

func TestWorkflow_FindSubmitSeq(t *testing.T) {
	t.Parallel()

	wf := newTestWorkflow(t)
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	_, ok := wf.FindSubmitSeq("absent", "")
	assert.False(t, ok)

	inst, _ := wf.AddJob("job_a", JobStatePreScriptStarted, "", ts, nil)
	_, ok = wf.FindSubmitSeq("job_a", "")
	assert.False(t, ok, "PRE_SCRIPT_STARTED is not a reusable state")

	inst.SetState(JobStatePreScriptSuccess, "", ts, nil)
	seq, ok := wf.FindSubmitSeq("job_a", "")
	require.True(t, ok)
	assert.Equal(t, int64(1), seq)

	inst.SetState(JobStateSuccess, "", ts, nil)
	_, ok = wf.FindSubmitSeq("job_a", "")
	assert.False(t, ok, "terminal attempts are never reused")
}

func TestWorkflow_ResubmissionCounters(t *testing.T) {
	t.Parallel()

	wf := newTestWorkflow(t)
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	first, _ := wf.AddJob("job_a", JobStateSubmit, "100.0", ts, nil)
	assert.Equal(t, 0, first.OutputCounter())

	first.SetState(JobStateFailure, "", ts.Add(time.Minute), intPtr(1))

	second, created := wf.AddJob("job_a", JobStateSubmit, "200.0", ts.Add(2*time.Minute), nil)
	require.True(t, created)
	assert.Equal(t, 1, second.OutputCounter())

	counters := wf.Resubmissions()
	require.Len(t, counters, 1)
	assert.Equal(t, JobCounter{Name: "job_a", Count: 1}, counters[0])
}

func TestWorkflow_ResubmissionsSorted(t *testing.T) {
	t.Parallel()

	wf := newTestWorkflow(t)
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	for _, name := range []string{"zeta", "alpha", "mid"} {
		wf.AddJob(name, JobStateSubmit, "", ts, nil)
	}

	counters := wf.Resubmissions()
	require.Len(t, counters, 3)
	assert.Equal(t, "alpha", counters[0].Name)
	assert.Equal(t, "mid", counters[1].Name)
	assert.Equal(t, "zeta", counters[2].Name)
}

func TestWorkflow_RestoreCounters(t *testing.T) {
	t.Parallel()

	wf := newTestWorkflow(t)
	wf.RestoreCounters(17, 4096, 2, map[string]int{"job_a": 3})

	assert.Equal(t, int64(17), wf.NextSubmitSeq())
	assert.Equal(t, int64(4096), wf.LastProcessed())
	assert.Equal(t, 2, wf.RestartCount())

	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	inst, _ := wf.AddJob("job_b", JobStateSubmit, "", ts, nil)
	assert.Equal(t, int64(17), inst.SubmitSeq(), "restored sequence is never reused")

	// Restored resubmission counters keep incrementing, not restarting.
	resubmitted, _ := wf.AddJob("job_a", JobStateSubmit, "", ts, nil)
	assert.Equal(t, 4, resubmitted.OutputCounter())
}

func TestWorkflow_SetLastProcessedMonotonic(t *testing.T) {
	t.Parallel()

	wf := newTestWorkflow(t)
	wf.SetLastProcessed(100)
	wf.SetLastProcessed(50)
	assert.Equal(t, int64(100), wf.LastProcessed())
}

func TestWorkflow_EvictTerminal(t *testing.T) {
	t.Parallel()

	wf := newTestWorkflow(t)
	wf.SetStaticInfo(map[string]JobStaticInfo{
		"plain":    {SubmitFile: "plain.sub"},
		"scripted": {SubmitFile: "scripted.sub", PostExecutable: "/bin/check"},
	})
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	plain, _ := wf.AddJob("plain", JobStateSubmit, "1.0", ts, nil)
	plain.SetState(JobStateSuccess, "", ts, intPtr(0))

	// Main success does not finish a job that still owes a post script.
	scripted, _ := wf.AddJob("scripted", JobStateSubmit, "2.0", ts, nil)
	scripted.SetState(JobStateSuccess, "", ts, intPtr(0))

	running, _ := wf.AddJob("plain2", JobStateExecute, "3.0", ts, nil)
	_ = running

	evicted := wf.EvictTerminal()
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 2, wf.LiveInstances())

	_, ok := wf.ResolveInstance("plain")
	assert.False(t, ok)
	_, ok = wf.ResolveInstance("scripted")
	assert.True(t, ok)
}

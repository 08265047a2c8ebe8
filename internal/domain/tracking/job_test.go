package tracking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func intPtr(n int) *int { return &n }

func TestJobInstance_SetStateTimings(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	inst := NewJobInstance("job_a", 1)
	inst.SetState(JobStatePreScriptStarted, "", base, nil)
	inst.SetState(JobStatePreScriptSuccess, "", base.Add(5*time.Second), nil)
	inst.SetState(JobStateSubmit, "120.0", base.Add(6*time.Second), nil)
	inst.SetState(JobStateExecute, "120.0", base.Add(10*time.Second), nil)
	inst.SetState(JobStateTerminated, "", base.Add(40*time.Second), nil)
	inst.SetState(JobStateSuccess, "", base.Add(41*time.Second), intPtr(0))

	assert.Equal(t, base, inst.PreStart())
	assert.Equal(t, base.Add(5*time.Second), inst.PreDone())
	assert.Equal(t, 0, inst.PreExit())
	assert.Equal(t, base.Add(10*time.Second), inst.MainStart())
	assert.Equal(t, base.Add(40*time.Second), inst.MainDone())
	assert.Equal(t, 0, inst.MainExit())
	assert.Equal(t, "120.0", inst.SchedulerID())
	assert.Equal(t, int64(6), inst.StateSeq())
}

func TestJobInstance_ZeroDurationJob(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	// JOB_SUCCESS without a preceding EXECUTE still records a main-done time.
	inst := NewJobInstance("fast", 1)
	inst.SetState(JobStateSubmit, "7.0", ts, nil)
	inst.SetState(JobStateSuccess, "", ts, intPtr(0))

	assert.Equal(t, ts, inst.MainDone())
	assert.Equal(t, 0, inst.MainExit())
}

func TestJobInstance_FailureStatus(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	inst := NewJobInstance("job_b", 2)
	inst.SetState(JobStateFailure, "", ts, intPtr(42))
	assert.Equal(t, 42, inst.MainExit())

	// Missing status falls back to -1.
	other := NewJobInstance("job_c", 3)
	other.SetState(JobStatePostScriptFailure, "", ts, nil)
	assert.Equal(t, -1, other.PostExit())
}

func TestJobInstance_LateSchedulerID(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	inst := NewJobInstance("job_d", 4)
	inst.SetState(JobStateExecute, "", ts, nil)
	assert.False(t, inst.SchedulerIDArrivedLate())

	// The id shows up only on a later transition.
	inst.SetState(JobStateTerminated, "88.0", ts.Add(time.Minute), nil)
	assert.True(t, inst.SchedulerIDArrivedLate())
	assert.Equal(t, "88.0", inst.SchedulerID())

	inst.ClearSchedulerIDLate()
	assert.False(t, inst.SchedulerIDArrivedLate())
}

func TestJobInstance_SchedulerIDOnSubmitIsNotLate(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	inst := NewJobInstance("job_e", 5)
	inst.SetState(JobStateSubmit, "9.0", ts, nil)
	assert.False(t, inst.SchedulerIDArrivedLate())

	// Same for a submit that follows the pre-script phase.
	reused := NewJobInstance("job_e2", 6)
	reused.SetState(JobStatePreScriptStarted, "", ts, nil)
	reused.SetState(JobStatePreScriptSuccess, "", ts.Add(time.Minute), nil)
	reused.SetState(JobStateSubmit, "9.1", ts.Add(2*time.Minute), nil)
	assert.False(t, reused.SchedulerIDArrivedLate())
}

func TestJobInstance_ReleaseOutput(t *testing.T) {
	t.Parallel()

	inst := NewJobInstance("job_f", 6)
	inst.SetOutputFiles("job_f.out.000", "job_f.err.000")
	inst.SetOutputText("stdout here", "stderr here")

	inst.ReleaseOutput()

	assert.Empty(t, inst.StdoutText())
	assert.Empty(t, inst.StderrText())
	// File names survive release; only the captured text is dropped.
	assert.Equal(t, "job_f.out.000", inst.StdoutFile())
}

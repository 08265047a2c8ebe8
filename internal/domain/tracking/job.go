package tracking

import (
	"time"
)

// JobInstance tracks one attempt (original or resubmission) of a named job.
// Identity is (job name, submit sequence): a resubmitted job name gets a
// fresh instance with a new sequence number, never overwriting the prior one.
type JobInstance struct {
	name      string
	submitSeq int64

	state          JobState
	stateTimestamp time.Time
	// stateSeq increments on every transition so events occurring within
	// the same wall-clock second still have a total order downstream.
	stateSeq int64

	schedulerID string
	// schedulerIDLate is set when the scheduler id was learned from a signal
	// past the submit phase (log buffering reordered the controller's
	// output). The orchestrator emits a synthetic submit event before the
	// revealing transition so consumers always see submit before execute.
	schedulerIDLate bool

	site          string
	nestedLogPath string

	// outputCounter selects which rotated captured-output file belongs to
	// this attempt. It mirrors the per-name resubmission counter at the
	// time the attempt was submitted.
	outputCounter int

	stdoutFile string
	stderrFile string
	stdoutText string
	stderrText string

	preStart time.Time
	preDone  time.Time
	preExit  int

	mainStart time.Time
	mainDone  time.Time
	mainExit  int

	postStart time.Time
	postDone  time.Time
	postExit  int
}

// NewJobInstance creates an instance for a job attempt observed for the
// first time.
func NewJobInstance(name string, submitSeq int64) *JobInstance {
	return &JobInstance{name: name, submitSeq: submitSeq}
}

// Name returns the job's name within the workflow's static description.
func (j *JobInstance) Name() string { return j.name }

// SubmitSeq returns the workflow-unique submit sequence of this attempt.
func (j *JobInstance) SubmitSeq() int64 { return j.submitSeq }

// State returns the current state reported by the controller.
func (j *JobInstance) State() JobState { return j.state }

// StateTimestamp returns the controller timestamp of the current state.
func (j *JobInstance) StateTimestamp() time.Time { return j.stateTimestamp }

// StateSeq returns the per-instance transition counter.
func (j *JobInstance) StateSeq() int64 { return j.stateSeq }

// SchedulerID returns the scheduler's identifier for this attempt, or ""
// when it has not been observed yet.
func (j *JobInstance) SchedulerID() string { return j.schedulerID }

// SchedulerIDArrivedLate reports whether the scheduler id was learned after
// the instance had already moved past the submit phase.
func (j *JobInstance) SchedulerIDArrivedLate() bool { return j.schedulerIDLate }

// ClearSchedulerIDLate resets the late-arrival flag once the synthetic
// submit event has been emitted.
func (j *JobInstance) ClearSchedulerIDLate() { j.schedulerIDLate = false }

// Site returns the site the job was planned for, or "".
func (j *JobInstance) Site() string { return j.site }

// SetSite records the site the job was planned for.
func (j *JobInstance) SetSite(site string) { j.site = site }

// NestedLogPath returns the controller-log path of the sub-workflow this job
// spawned, or "" for ordinary jobs.
func (j *JobInstance) NestedLogPath() string { return j.nestedLogPath }

// SetNestedLogPath records the nested controller-log path for container jobs.
func (j *JobInstance) SetNestedLogPath(path string) { j.nestedLogPath = path }

// OutputCounter returns the rotation counter of this attempt's captured output.
func (j *JobInstance) OutputCounter() int { return j.outputCounter }

// SetOutputCounter records which rotated output file belongs to this attempt.
func (j *JobInstance) SetOutputCounter(n int) { j.outputCounter = n }

// StdoutFile and StderrFile return the captured output file names, relative
// to the run directory when the planner recorded them under it.
func (j *JobInstance) StdoutFile() string { return j.stdoutFile }
func (j *JobInstance) StderrFile() string { return j.stderrFile }

// SetOutputFiles records the captured output file names.
func (j *JobInstance) SetOutputFiles(stdout, stderr string) {
	j.stdoutFile = stdout
	j.stderrFile = stderr
}

// StdoutText and StderrText return the captured output, "" when released or
// never captured.
func (j *JobInstance) StdoutText() string { return j.stdoutText }
func (j *JobInstance) StderrText() string { return j.stderrText }

// SetOutputText stores the captured stdout/stderr until projection.
func (j *JobInstance) SetOutputText(stdout, stderr string) {
	j.stdoutText = stdout
	j.stderrText = stderr
}

// ReleaseOutput drops captured stdout/stderr once projected, bounding memory
// across long multi-restart workflows.
func (j *JobInstance) ReleaseOutput() {
	j.stdoutText = ""
	j.stderrText = ""
}

// Phase timing accessors used by event projection.
func (j *JobInstance) PreStart() time.Time  { return j.preStart }
func (j *JobInstance) PreDone() time.Time   { return j.preDone }
func (j *JobInstance) PreExit() int         { return j.preExit }
func (j *JobInstance) MainStart() time.Time { return j.mainStart }
func (j *JobInstance) MainDone() time.Time  { return j.mainDone }
func (j *JobInstance) MainExit() int        { return j.mainExit }
func (j *JobInstance) PostStart() time.Time { return j.postStart }
func (j *JobInstance) PostDone() time.Time  { return j.postDone }
func (j *JobInstance) PostExit() int        { return j.postExit }

// SetState overwrites the current state with the transition the controller
// reported. The machine does not validate reachability; it trusts the
// upstream tokenizer's ordering, but it does track the
// scheduler-id-arrives-late pattern as a first-class case.
//
// status carries the controller-reported numeric exit status when the signal
// had one; nil otherwise.
func (j *JobInstance) SetState(state JobState, schedulerID string, ts time.Time, status *int) {
	if schedulerID != "" {
		if j.schedulerID == "" && j.state != "" && !state.IsSubmit() {
			j.schedulerIDLate = true
		}
		j.schedulerID = schedulerID
	}

	j.state = state
	j.stateTimestamp = ts
	j.stateSeq++

	switch state {
	case JobStatePreScriptStarted:
		j.preStart = ts
	case JobStatePreScriptSuccess:
		j.preDone = ts
		j.preExit = 0
	case JobStatePreScriptFailure:
		j.preDone = ts
		j.preExit = statusOr(status, -1)
	case JobStateExecute:
		j.mainStart = ts
	case JobStateTerminated, JobStateEvicted:
		j.mainDone = ts
	case JobStateSuccess:
		if j.mainDone.IsZero() {
			// Zero duration job without an EXECUTE event.
			j.mainDone = ts
		}
		j.mainExit = 0
	case JobStateFailure:
		if j.mainDone.IsZero() {
			j.mainDone = ts
		}
		j.mainExit = statusOr(status, -1)
	case JobStatePostScriptStarted:
		j.postStart = ts
	case JobStatePostScriptTerminated:
		j.postDone = ts
	case JobStatePostScriptSuccess:
		j.postDone = ts
		j.postExit = 0
	case JobStatePostScriptFailure:
		j.postDone = ts
		j.postExit = statusOr(status, -1)
	}
}

func statusOr(status *int, fallback int) int {
	if status != nil {
		return *status
	}
	return fallback
}

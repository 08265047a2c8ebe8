package tracking

// JobState represents the execution state of a job instance as reported by
// the workflow execution controller. The values mirror the controller's own
// event vocabulary; they are recorded verbatim in the replay log and must not
// be renamed.
type JobState string

const (
	JobStatePreScriptStarted    JobState = "PRE_SCRIPT_STARTED"
	JobStatePreScriptSuccess    JobState = "PRE_SCRIPT_SUCCESS"
	JobStatePreScriptFailure    JobState = "PRE_SCRIPT_FAILURE"
	JobStatePreScriptTerminated JobState = "PRE_SCRIPT_TERMINATED"

	JobStateSubmit             JobState = "SUBMIT"
	JobStateSubmitFailed       JobState = "SUBMIT_FAILED"
	JobStateGridSubmit         JobState = "GRID_SUBMIT"
	JobStateGridSubmitFailed   JobState = "GRID_SUBMIT_FAILED"
	JobStateGlobusSubmit       JobState = "GLOBUS_SUBMIT"
	JobStateGlobusSubmitFailed JobState = "GLOBUS_SUBMIT_FAILED"
	JobStateControllerSubmit   JobState = "DAGMAN_SUBMIT"

	JobStateExecute       JobState = "EXECUTE"
	JobStateImageSize     JobState = "IMAGE_SIZE"
	JobStateRemoteError   JobState = "REMOTE_ERROR"
	JobStateHeld          JobState = "JOB_HELD"
	JobStateReleased      JobState = "JOB_RELEASED"
	JobStateEvicted       JobState = "JOB_EVICTED"
	JobStateTerminated    JobState = "JOB_TERMINATED"
	JobStateSuccess       JobState = "JOB_SUCCESS"
	JobStateFailure       JobState = "JOB_FAILURE"

	JobStatePostScriptStarted    JobState = "POST_SCRIPT_STARTED"
	JobStatePostScriptTerminated JobState = "POST_SCRIPT_TERMINATED"
	JobStatePostScriptSuccess    JobState = "POST_SCRIPT_SUCCESS"
	JobStatePostScriptFailure    JobState = "POST_SCRIPT_FAILURE"
)

// validJobStates is the closed set of states accepted from the tokenizer.
var validJobStates = map[JobState]struct{}{
	JobStatePreScriptStarted: {}, JobStatePreScriptSuccess: {},
	JobStatePreScriptFailure: {}, JobStatePreScriptTerminated: {},
	JobStateSubmit: {}, JobStateSubmitFailed: {},
	JobStateGridSubmit: {}, JobStateGridSubmitFailed: {},
	JobStateGlobusSubmit: {}, JobStateGlobusSubmitFailed: {},
	JobStateControllerSubmit: {},
	JobStateExecute:          {}, JobStateImageSize: {}, JobStateRemoteError: {},
	JobStateHeld: {}, JobStateReleased: {}, JobStateEvicted: {},
	JobStateTerminated: {}, JobStateSuccess: {}, JobStateFailure: {},
	JobStatePostScriptStarted: {}, JobStatePostScriptTerminated: {},
	JobStatePostScriptSuccess: {}, JobStatePostScriptFailure: {},
}

// String returns the string representation of the JobState.
func (s JobState) String() string { return string(s) }

// ParseJobState converts a string to a JobState. The boolean reports whether
// the value belongs to the known state set.
func ParseJobState(s string) (JobState, bool) {
	state := JobState(s)
	_, ok := validJobStates[state]
	return state, ok
}

// IsSubmit reports whether the state is one of the submit-class states that
// open a job instance's main phase.
func (s JobState) IsSubmit() bool {
	switch s {
	case JobStateSubmit, JobStateGridSubmit, JobStateGlobusSubmit, JobStateControllerSubmit:
		return true
	}
	return false
}

// IsSubmitFailure reports whether the state is a failed submit handoff.
func (s JobState) IsSubmitFailure() bool {
	switch s {
	case JobStateSubmitFailed, JobStateGridSubmitFailed, JobStateGlobusSubmitFailed:
		return true
	}
	return false
}

// IsMainTerminal reports whether the main phase has reached a success or
// failure outcome.
func (s JobState) IsMainTerminal() bool {
	return s == JobStateSuccess || s == JobStateFailure
}

// IsPostScriptTerminal reports whether the post-script phase has reached a
// success or failure outcome.
func (s JobState) IsPostScriptTerminal() bool {
	return s == JobStatePostScriptSuccess || s == JobStatePostScriptFailure
}

// Phase classifies a state into the lifecycle phase it belongs to.
type Phase int

const (
	PhasePre Phase = iota
	PhaseSubmit
	PhaseMain
	PhasePost
)

// Phase returns the lifecycle phase a state belongs to.
func (s JobState) Phase() Phase {
	switch {
	case s == JobStatePreScriptStarted || s == JobStatePreScriptSuccess ||
		s == JobStatePreScriptFailure || s == JobStatePreScriptTerminated:
		return PhasePre
	case s.IsSubmit() || s.IsSubmitFailure():
		return PhaseSubmit
	case s == JobStatePostScriptStarted || s == JobStatePostScriptTerminated ||
		s == JobStatePostScriptSuccess || s == JobStatePostScriptFailure:
		return PhasePost
	}
	return PhaseMain
}

// Terminal reports whether an instance in this state has finished for good.
// Jobs without a post-script terminate at the main phase outcome; jobs with
// one terminate only when the post-script reports.
func (s JobState) Terminal(hasPostScript bool) bool {
	if s.IsPostScriptTerminal() {
		return true
	}
	if !hasPostScript {
		return s.IsMainTerminal()
	}
	return false
}

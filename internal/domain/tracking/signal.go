package tracking

import "time"

// Signal is one tokenized job-state observation from the controller's log.
// Signals arrive strictly in log order and must be applied in that order.
type Signal struct {
	JobName     string
	Kind        JobState
	SchedulerID string
	Timestamp   time.Time

	// Status carries the controller-reported numeric exit status when the
	// signal had one; nil otherwise.
	Status *int

	// Walltime is the controller-reported wall time string, "" when absent.
	Walltime string

	// Offset is the input byte offset immediately after this signal's line.
	// It is what the recovery marker and checkpoint record.
	Offset int64
}

// ControlKind names the controller lifecycle transitions interleaved with
// job signals.
type ControlKind string

const (
	ControlStarted  ControlKind = "DAGMAN_STARTED"
	ControlFinished ControlKind = "DAGMAN_FINISHED"
)

// ControlSignal is a controller lifecycle observation.
type ControlSignal struct {
	Kind      ControlKind
	Timestamp time.Time

	// ExitCode is the controller's exit code, meaningful on ControlFinished.
	ExitCode int

	Offset int64
}

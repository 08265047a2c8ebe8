package tracking

import (
	"context"
	"time"
)

// InvocationRecord is one per-task record recovered from a job attempt's
// captured output. Task numbering follows the controller's convention:
// pre-script -1, post-script -2, main tasks from 1.
type InvocationRecord struct {
	TaskID int

	Transformation string
	Derivation     string
	Executable     string
	Arguments      string

	Start    time.Time
	Duration float64

	// ExitCode is the decoded exit code; RawStatus the undecoded wait status
	// the launcher reported.
	ExitCode  int
	RawStatus int

	Hostname string
	HostIP   string
	User     string
	Site     string

	// WorkDir is the task's working directory on the execution host.
	WorkDir string
}

// Extraction is everything recovered from one attempt's captured output.
type Extraction struct {
	Records []InvocationRecord

	StdoutFile string
	StderrFile string
	StdoutText string
	StderrText string
}

// InvocationExtractor recovers per-task invocation records and raw captured
// output from a job attempt's output files.
//
// Implementations return ok=false when no output could be found at all; the
// attempt is then projected from its controller-visible states alone.
// Extraction never fails the run.
type InvocationExtractor interface {
	Extract(ctx context.Context, runDir, jobName string, rotation int) (Extraction, bool)
}

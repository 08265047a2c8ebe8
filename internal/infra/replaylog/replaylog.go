// Package replaylog maintains the append-only job-state log, the monitor's
// write-ahead record. Every applied signal is written and flushed here before
// any downstream event is projected, so a rescan of this file plus the
// counters checkpoint reconstructs the full run.
package replaylog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ahrav/dagwatch/internal/domain/tracking"
)

// LogFile is the replay log inside the run directory.
const LogFile = "jobstate.log"

// Internal bracket line labels for monitor and controller lifecycle.
const (
	MarkMonitorStarted    = "MONITORD_STARTED"
	MarkMonitorFinished   = "MONITORD_FINISHED"
	MarkControllerStarted = "DAGMAN_STARTED"
	MarkControllerDone    = "DAGMAN_FINISHED"
)

// Writer appends job-state lines to the replay log. It is the durability
// boundary of the monitor: any write or flush error is fatal to the run and
// must be propagated, never swallowed.
type Writer struct {
	path string
	f    *os.File
	w    *bufio.Writer
}

// Open opens the replay log for appending, creating it when absent.
func Open(runDir string) (*Writer, error) {
	path := filepath.Join(runDir, LogFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening replay log %s: %w", path, err)
	}
	return &Writer{path: path, f: f, w: bufio.NewWriter(f)}, nil
}

// OpenFresh rotates any existing replay log aside and starts a new one. Used
// when entering a recovery re-scan, which rewrites the full log from offset
// zero; the rotated copy preserves the crashed run's record.
func OpenFresh(runDir string) (*Writer, error) {
	path := filepath.Join(runDir, LogFile)

	if _, err := os.Stat(path); err == nil {
		rotated, err := nextRotation(path)
		if err != nil {
			return nil, err
		}
		if err := os.Rename(path, rotated); err != nil {
			return nil, fmt.Errorf("rotating replay log: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("checking replay log %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating replay log %s: %w", path, err)
	}
	return &Writer{path: path, f: f, w: bufio.NewWriter(f)}, nil
}

// nextRotation returns the first free ".old.NNN" name for path.
func nextRotation(path string) (string, error) {
	for i := 0; i < 1000; i++ {
		candidate := fmt.Sprintf("%s.old.%03d", path, i)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		} else if err != nil {
			return "", fmt.Errorf("probing rotation name %s: %w", candidate, err)
		}
	}
	return "", fmt.Errorf("no free rotation slot for %s", path)
}

// Append writes one job-state line. statusOrSchedulerID carries the scheduler
// id on submit-class states and the numeric status on terminal ones; empty
// fields are recorded as "-".
func (w *Writer) Append(ts int64, jobName string, state tracking.JobState, statusOrSchedulerID, site, walltime string, submitSeq int64) error {
	line := fmt.Sprintf("%d %s %s %s %s %s %d\n",
		ts, jobName, state, dashIfEmpty(statusOrSchedulerID), dashIfEmpty(site), dashIfEmpty(walltime), submitSeq)
	return w.write(line)
}

// AppendInternal writes one lifecycle bracket line.
func (w *Writer) AppendInternal(ts int64, mark string) error {
	return w.write(fmt.Sprintf("%d INTERNAL *** %s ***\n", ts, mark))
}

func (w *Writer) write(line string) error {
	if _, err := w.w.WriteString(line); err != nil {
		return fmt.Errorf("appending to replay log %s: %w", w.path, err)
	}
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("flushing replay log %s: %w", w.path, err)
	}
	return nil
}

// Close flushes and closes the log.
func (w *Writer) Close() error {
	if err := w.w.Flush(); err != nil {
		w.f.Close()
		return fmt.Errorf("flushing replay log %s: %w", w.path, err)
	}
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("closing replay log %s: %w", w.path, err)
	}
	return nil
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

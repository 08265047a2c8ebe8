// Package signalfeed tails the tokenizer's signal file and delivers signals
// to the orchestrator in log order. The monitor always reads the file from
// offset zero; on recovery the orchestrator itself suppresses what was
// already processed, so the feed stays oblivious to restarts.
package signalfeed

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ahrav/dagwatch/internal/domain/tracking"
	"github.com/ahrav/dagwatch/pkg/common/logger"
)

// SignalFile is the tokenizer's output file inside the run directory.
const SignalFile = "monitord.signals"

// Handler consumes the feed's signals in order.
type Handler interface {
	ApplySignal(ctx context.Context, sig tracking.Signal) error
	ApplyControl(ctx context.Context, sig tracking.ControlSignal) error
}

// Feed tails one signal file.
type Feed struct {
	path         string
	pollInterval time.Duration
	logger       *logger.Logger
}

// New creates a feed over path, sleeping pollInterval between reads when the
// tokenizer has not produced new data.
func New(path string, pollInterval time.Duration, log *logger.Logger) *Feed {
	return &Feed{path: path, pollInterval: pollInterval, logger: log.With("component", "signal_feed")}
}

// Run reads the file from the beginning and delivers every signal to the
// handler. It returns after delivering the controller-finished signal, when
// the handler fails, or when the context is canceled.
//
// Line grammar, one signal per line:
//
//	<ts> <job_name> <kind> <scheduler_id|-> <status|-> <walltime|->
//	<ts> INTERNAL DAGMAN_STARTED -
//	<ts> INTERNAL DAGMAN_FINISHED <exit>
//
// Malformed lines are logged and skipped; their offsets still advance.
func (f *Feed) Run(ctx context.Context, h Handler) error {
	var file *os.File
	for {
		var err error
		file, err = os.Open(f.path)
		if err == nil {
			break
		}
		if !os.IsNotExist(err) {
			return fmt.Errorf("opening signal file %s: %w", f.path, err)
		}
		// The tokenizer has not produced the file yet.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.pollInterval):
		}
	}
	defer file.Close()

	var offset int64
	var partial strings.Builder

	buf := make([]byte, 64*1024)
	for {
		n, err := file.Read(buf)
		if n > 0 {
			chunk := partial.String() + string(buf[:n])
			partial.Reset()

			for {
				idx := strings.IndexByte(chunk, '\n')
				if idx < 0 {
					partial.WriteString(chunk)
					break
				}
				line := chunk[:idx]
				chunk = chunk[idx+1:]
				offset += int64(idx + 1)

				done, err := f.deliver(ctx, h, line, offset)
				if err != nil {
					return err
				}
				if done {
					return nil
				}
			}
		}

		if err == io.EOF {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(f.pollInterval):
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("reading signal file %s: %w", f.path, err)
		}
	}
}

// deliver parses one line and hands it to the handler. It reports done=true
// after the controller-finished signal.
func (f *Feed) deliver(ctx context.Context, h Handler, line string, offset int64) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}

	ts, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		f.logger.Warn(ctx, "skipping malformed signal line", "line", line)
		return false, nil
	}
	when := time.Unix(ts, 0).UTC()

	if len(fields) >= 3 && fields[1] == "INTERNAL" {
		ctl := tracking.ControlSignal{
			Kind:      tracking.ControlKind(fields[2]),
			Timestamp: when,
			Offset:    offset,
		}
		if ctl.Kind != tracking.ControlStarted && ctl.Kind != tracking.ControlFinished {
			f.logger.Warn(ctx, "skipping unknown control signal", "line", line)
			return false, nil
		}
		if ctl.Kind == tracking.ControlFinished && len(fields) >= 4 && fields[3] != "-" {
			exit, err := strconv.Atoi(fields[3])
			if err != nil {
				f.logger.Warn(ctx, "skipping control signal with bad exit code", "line", line)
				return false, nil
			}
			ctl.ExitCode = exit
		}
		if err := h.ApplyControl(ctx, ctl); err != nil {
			return false, err
		}
		return ctl.Kind == tracking.ControlFinished, nil
	}

	if len(fields) < 6 {
		f.logger.Warn(ctx, "skipping malformed signal line", "line", line)
		return false, nil
	}

	kind, ok := tracking.ParseJobState(fields[2])
	if !ok {
		f.logger.Warn(ctx, "skipping signal with unknown state", "line", line, "state", fields[2])
		return false, nil
	}

	sig := tracking.Signal{
		JobName:   fields[1],
		Kind:      kind,
		Timestamp: when,
		Offset:    offset,
	}
	if fields[3] != "-" {
		sig.SchedulerID = fields[3]
	}
	if fields[4] != "-" {
		status, err := strconv.Atoi(fields[4])
		if err != nil {
			f.logger.Warn(ctx, "skipping signal with bad status", "line", line)
			return false, nil
		}
		sig.Status = &status
	}
	if fields[5] != "-" {
		sig.Walltime = fields[5]
	}

	if err := h.ApplySignal(ctx, sig); err != nil {
		return false, err
	}
	return false, nil
}

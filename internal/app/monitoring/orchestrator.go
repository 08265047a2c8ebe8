// Package monitoring contains the application service that tracks one
// workflow run: it consumes tokenized controller signals, drives the job
// state machine, maintains the replay log and the durable counters, and
// projects normalized events into the sink.
package monitoring

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/ahrav/dagwatch/internal/config"
	"github.com/ahrav/dagwatch/internal/domain/events"
	"github.com/ahrav/dagwatch/internal/domain/tracking"
	"github.com/ahrav/dagwatch/internal/infra/replaylog"
	"github.com/ahrav/dagwatch/internal/infra/storage/flatfile"
	"github.com/ahrav/dagwatch/pkg/common/logger"
)

// SubWorkflowLauncher starts (or finds) the monitor of a nested workflow and
// returns its workflow id. Implemented by the process owner, which runs one
// orchestrator goroutine per discovered run directory.
type SubWorkflowLauncher interface {
	Launch(ctx context.Context, runDir string) (uuid.UUID, error)
}

// OrchestratorParams collects the dependencies of one Orchestrator.
type OrchestratorParams struct {
	RunDir   string
	Workflow *tracking.Workflow

	Monitor   config.MonitorConfig
	SinkRetry config.RetryConfig

	Checkpoints *flatfile.CheckpointStore
	Recovery    *flatfile.RecoveryStore
	Sentinels   *flatfile.SentinelStore

	Extractor tracking.InvocationExtractor
	Sink      events.EventSink
	Registry  *tracking.WorkflowRegistry
	Launcher  SubWorkflowLauncher // nil when sub-workflows cannot occur

	Logger  *logger.Logger
	Tracer  trace.Tracer
	Metrics MonitoringMetrics
}

// Orchestrator owns the full in-memory model of one workflow run and is its
// single writer. All methods must be called from one goroutine; the feed
// guarantees this by delivering signals sequentially.
type Orchestrator struct {
	runDir string
	cfg    config.MonitorConfig
	retry  config.RetryConfig

	wf          *tracking.Workflow
	replay      *replaylog.Writer
	checkpoints *flatfile.CheckpointStore
	recovery    *flatfile.RecoveryStore
	sentinels   *flatfile.SentinelStore

	extractor tracking.InvocationExtractor
	sink      events.EventSink
	projector *projector
	resolver  *SubWorkflowResolver
	registry  *tracking.WorkflowRegistry
	launcher  SubWorkflowLauncher

	markerLimiter  *rate.Limiter
	lastCheckpoint time.Time

	// recoveryThreshold is the offset at or below which events were already
	// delivered by a previous monitor instance. Replay-log lines are still
	// rewritten below it (the log was rotated aside), sink events are not.
	recoveryThreshold int64
	recovering        bool

	hadCheckpoint    bool
	checkpointOffset int64
	controllerSeen   bool
	sinkDisabled     bool

	linkedSubwfs map[string]struct{}

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics MonitoringMetrics
}

// NewOrchestrator assembles an orchestrator. Start must be called before any
// signal is applied.
func NewOrchestrator(p OrchestratorParams) *Orchestrator {
	return &Orchestrator{
		runDir:        p.RunDir,
		cfg:           p.Monitor,
		retry:         p.SinkRetry,
		wf:            p.Workflow,
		checkpoints:   p.Checkpoints,
		recovery:      p.Recovery,
		sentinels:     p.Sentinels,
		extractor:     p.Extractor,
		sink:          p.Sink,
		projector:     newProjector(p.Workflow.ID(), p.Workflow.Descriptor(), p.Monitor.MaxOutputLength, p.Logger),
		resolver:      NewSubWorkflowResolver(p.RunDir, p.Workflow.Descriptor().SubmitDir, p.Logger),
		registry:      p.Registry,
		launcher:      p.Launcher,
		markerLimiter: rate.NewLimiter(rate.Limit(p.Monitor.MarkerWritesPerSec), 1),
		linkedSubwfs:  make(map[string]struct{}),
		logger:        p.Logger.With("component", "orchestrator", "workflow_id", p.Workflow.ID().String()),
		tracer:        p.Tracer,
		metrics:       p.Metrics,
	}
}

// Start restores persisted state, opens the replay log, and brackets the run.
// When a recovery marker is present the replay log is rotated aside and fully
// rewritten by the re-scan, with sink delivery suppressed up to the marker.
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, span := o.tracer.Start(ctx, "orchestrator.start")
	defer span.End()

	now := time.Now()
	o.lastCheckpoint = now

	if cp, ok := o.checkpoints.Load(ctx); ok {
		o.wf.RestoreCounters(cp.JobSequence, cp.LastOffset, cp.RestartCount, cp.Resubmissions)
		o.hadCheckpoint = true
		o.checkpointOffset = cp.LastOffset
		o.logger.Info(ctx, "checkpoint restored",
			"job_sequence", cp.JobSequence, "offset", cp.LastOffset, "restarts", cp.RestartCount)
	}

	if threshold, ok := o.recovery.Load(ctx); ok {
		o.recoveryThreshold = threshold
		o.recovering = true
		o.logger.Info(ctx, "recovery marker found, re-scanning with event suppression", "threshold", threshold)
	}

	var err error
	if o.recovering {
		o.replay, err = replaylog.OpenFresh(o.runDir)
	} else {
		o.replay, err = replaylog.Open(o.runDir)
	}
	if err != nil {
		return fmt.Errorf("starting orchestrator: %w", err)
	}

	o.sentinels.MarkStarted(ctx, now)
	if err := o.replay.AppendInternal(now.Unix(), replaylog.MarkMonitorStarted); err != nil {
		return err
	}

	o.registry.Register(o.runDir, tracking.Membership{
		WorkflowID: o.wf.ID(),
		ParentID:   o.wf.ParentID(),
	})

	// Planning metadata goes out exactly once, at the first cold start.
	if !o.hadCheckpoint && !o.recovering {
		o.send(ctx, []events.DomainEvent{o.projector.WorkflowPlanned(o.wf.Descriptor(), now)})
	}
	return nil
}

// ApplySignal applies one tokenized job-state signal: state machine mutation,
// replay-log append, projection, durable counter updates, in that order. A
// replay-log failure is fatal and propagates; everything downstream of the
// log degrades instead of failing.
func (o *Orchestrator) ApplySignal(ctx context.Context, sig tracking.Signal) error {
	started := time.Now()
	ctx, span := o.tracer.Start(ctx, "orchestrator.apply_signal", trace.WithAttributes(
		attribute.String("job", sig.JobName),
		attribute.String("state", sig.Kind.String()),
	))
	defer span.End()
	defer func() { o.metrics.ObserveSignalApplyTime(ctx, time.Since(started)) }()

	suppress := o.recovering && sig.Offset <= o.recoveryThreshold

	info, known := o.wf.StaticInfo(sig.JobName)
	if !known {
		o.logger.Warn(ctx, "dropping signal for unknown job name",
			"job", sig.JobName, "state", sig.Kind)
		o.metrics.IncSignalsDropped(ctx)
		o.progress(ctx, sig.Offset)
		return nil
	}

	inst, created, synthetic := o.resolveInstance(sig)
	if created {
		o.metrics.IncInstancesCreated(ctx)
	}

	if err := o.appendReplay(sig, inst); err != nil {
		span.RecordError(err)
		return err
	}

	evs := o.collectEvents(ctx, inst, sig, info, synthetic)
	if !suppress {
		o.send(ctx, evs)
	}
	if sig.Kind.IsMainTerminal() {
		inst.ReleaseOutput()
	}

	if info.IsSubWorkflow && sig.Kind.IsSubmit() {
		o.linkSubWorkflow(ctx, inst, info, sig.Timestamp, suppress)
	}

	o.wf.Timeline().UpdateLastUpdate()
	o.metrics.IncSignalsApplied(ctx)
	o.progress(ctx, sig.Offset)
	o.maybeCheckpoint(ctx)
	return nil
}

// resolveInstance maps the signal to a job instance per the reuse contract.
// synthetic reports that a submit.start must be synthesized because the
// instance's submit was never observed directly.
func (o *Orchestrator) resolveInstance(sig tracking.Signal) (inst *tracking.JobInstance, created, synthetic bool) {
	creating := sig.Kind == tracking.JobStatePreScriptStarted || sig.Kind.IsSubmit()
	if creating {
		inst, created = o.wf.AddJob(sig.JobName, sig.Kind, sig.SchedulerID, sig.Timestamp, sig.Status)
		return inst, created, false
	}

	if existing, ok := o.wf.ResolveInstance(sig.JobName); ok {
		mismatch := sig.SchedulerID != "" && existing.SchedulerID() != "" &&
			existing.SchedulerID() != sig.SchedulerID
		if !mismatch {
			existing.SetState(sig.Kind, sig.SchedulerID, sig.Timestamp, sig.Status)
			return existing, false, false
		}
		// A scheduler id that does not match the live attempt targets a
		// different one; never contaminate the existing instance.
	}

	// Out-of-order arrival: the state revealing the job preceded any submit
	// signal. Create the attempt and, unless the job is still in its
	// pre-script phase or the state projects its own submit.start pair,
	// synthesize its submit.
	inst, created = o.wf.AddJob(sig.JobName, sig.Kind, sig.SchedulerID, sig.Timestamp, sig.Status)
	return inst, created, sig.Kind.Phase() != tracking.PhasePre && !sig.Kind.IsSubmitFailure()
}

// appendReplay writes the signal's WAL line. The status-or-scheduler-id
// column carries the numeric status when the signal had one, the scheduler id
// otherwise.
func (o *Orchestrator) appendReplay(sig tracking.Signal, inst *tracking.JobInstance) error {
	statusOrSched := inst.SchedulerID()
	if sig.Status != nil {
		statusOrSched = strconv.Itoa(*sig.Status)
	}
	return o.replay.Append(sig.Timestamp.Unix(), sig.JobName, sig.Kind,
		statusOrSched, inst.Site(), sig.Walltime, inst.SubmitSeq())
}

// collectEvents assembles everything this transition projects, in order.
func (o *Orchestrator) collectEvents(ctx context.Context, inst *tracking.JobInstance, sig tracking.Signal, info tracking.JobStaticInfo, synthetic bool) []events.DomainEvent {
	var evs []events.DomainEvent

	if synthetic || inst.SchedulerIDArrivedLate() {
		evs = append(evs, o.projector.SyntheticSubmit(inst, sig.Timestamp))
		inst.ClearSchedulerIDLate()
	}

	if sig.Kind.IsMainTerminal() {
		var records []tracking.InvocationRecord
		if !info.IsSubWorkflow {
			// Sub-workflow containers never have their output parsed; their
			// tasks are the nested workflow's own jobs.
			if ext, ok := o.extractor.Extract(ctx, o.runDir, inst.Name(), inst.OutputCounter()); ok {
				inst.SetOutputFiles(ext.StdoutFile, ext.StderrFile)
				inst.SetOutputText(ext.StdoutText, ext.StderrText)
				records = ext.Records
				for _, rec := range records {
					// The observed execution site sticks to the attempt, so
					// post-phase replay lines carry it too.
					if rec.Site != "" {
						inst.SetSite(rec.Site)
						break
					}
				}
			}
		}
		return append(evs, o.projector.MainEnd(ctx, inst, sig, info, records)...)
	}

	return append(evs, o.projector.Transition(ctx, inst, sig)...)
}

// ApplyControl applies a controller lifecycle signal.
func (o *Orchestrator) ApplyControl(ctx context.Context, ctl tracking.ControlSignal) error {
	ctx, span := o.tracer.Start(ctx, "orchestrator.apply_control", trace.WithAttributes(
		attribute.String("kind", string(ctl.Kind)),
	))
	defer span.End()

	suppress := o.recovering && ctl.Offset <= o.recoveryThreshold

	switch ctl.Kind {
	case tracking.ControlStarted:
		restart := o.controllerSeen || o.hadCheckpoint
		o.controllerSeen = true
		if restart && ctl.Offset > o.checkpointOffset {
			o.wf.IncRestartCount()
		}
		if restart {
			evicted := o.wf.EvictTerminal()
			o.metrics.IncInstancesEvicted(ctx, evicted)
			o.logger.Info(ctx, "controller restarted",
				"restart_count", o.wf.RestartCount(), "evicted", evicted)
		}
		if err := o.replay.AppendInternal(ctl.Timestamp.Unix(), replaylog.MarkControllerStarted); err != nil {
			span.RecordError(err)
			return err
		}
		if !suppress {
			o.send(ctx, []events.DomainEvent{o.projector.WorkflowStarted(o.wf.RestartCount(), ctl.Timestamp)})
		}
		o.progress(ctx, ctl.Offset)
		return nil

	case tracking.ControlFinished:
		if err := o.replay.AppendInternal(ctl.Timestamp.Unix(), replaylog.MarkControllerDone); err != nil {
			span.RecordError(err)
			return err
		}
		if !suppress {
			o.send(ctx, []events.DomainEvent{o.projector.WorkflowFinished(ctl.ExitCode, ctl.Timestamp)})
		}
		o.wf.SetLastProcessed(ctl.Offset)
		o.wf.Timeline().MarkCompleted()
		return o.finish(ctx)
	}

	o.logger.Warn(ctx, "ignoring unknown control signal", "kind", ctl.Kind)
	return nil
}

// finish closes out a clean workflow end: final checkpoint, marker removal,
// sentinels, and the monitor's own replay-log bracket.
func (o *Orchestrator) finish(ctx context.Context) error {
	now := time.Now()

	if err := o.replay.AppendInternal(now.Unix(), replaylog.MarkMonitorFinished); err != nil {
		return err
	}
	if err := o.checkpoints.Save(ctx, o.wf); err != nil {
		o.logger.Error(ctx, "final checkpoint save failed", "error", err)
	}
	o.recovery.Remove(ctx)
	o.sentinels.MarkDone(ctx, now, now.Sub(o.wf.Timeline().StartedAt()))

	if err := o.replay.Close(); err != nil {
		return err
	}
	o.logger.Info(ctx, "workflow monitoring finished",
		"live_instances", o.wf.LiveInstances(), "restarts", o.wf.RestartCount())
	return nil
}

// linkSubWorkflow resolves a container job to its nested run directory,
// launches its monitor, and emits the one-shot linkage event.
func (o *Orchestrator) linkSubWorkflow(ctx context.Context, inst *tracking.JobInstance, info tracking.JobStaticInfo, ts time.Time, suppress bool) {
	if o.launcher == nil {
		return
	}
	if _, done := o.linkedSubwfs[inst.Name()]; done {
		return
	}

	dir, ok := o.resolver.Resolve(ctx, inst, info)
	if !ok {
		return
	}
	inst.SetNestedLogPath(dir)

	childID, err := o.launcher.Launch(ctx, dir)
	if err != nil {
		o.logger.Warn(ctx, "failed to launch sub-workflow monitor",
			"job", inst.Name(), "run_dir", dir, "error", err)
		return
	}
	o.linkedSubwfs[inst.Name()] = struct{}{}

	if !suppress {
		o.send(ctx, []events.DomainEvent{o.projector.SubWorkflowLink(inst, childID, ts)})
	}
}

// send delivers events to the sink with bounded retries. The first delivery
// that exhausts its retries disables projection for the remainder of the run;
// tracking and the replay log continue regardless.
func (o *Orchestrator) send(ctx context.Context, evs []events.DomainEvent) {
	if o.sinkDisabled || len(evs) == 0 {
		return
	}
	for _, ev := range evs {
		policy := backoff.WithContext(
			backoff.WithMaxRetries(o.newBackoff(), uint64(o.retry.MaxAttempts)), ctx)
		err := backoff.Retry(func() error {
			return o.sink.Send(ctx, ev.Type, ev.Fields)
		}, policy)
		if err != nil {
			o.metrics.IncSinkFailures(ctx)
			o.sinkDisabled = true
			o.logger.Error(ctx, "event sink failed, disabling projection for the remainder of the run",
				"event", ev.Type, "error", err)
			return
		}
		o.metrics.IncEventsEmitted(ctx, 1)
	}
}

func (o *Orchestrator) newBackoff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = o.retry.InitialWait
	eb.MaxInterval = o.retry.MaxWait
	return eb
}

// progress records a fully processed offset and rewrites the recovery marker,
// throttled so a hot signal stream does not turn into a disk write per line.
func (o *Orchestrator) progress(ctx context.Context, offset int64) {
	o.wf.SetLastProcessed(offset)
	if o.markerLimiter.Allow() {
		if err := o.recovery.Save(ctx, o.wf.LastProcessed()); err != nil {
			o.logger.Warn(ctx, "recovery marker write failed", "error", err)
		}
	}
}

// maybeCheckpoint persists counters when the checkpoint interval has elapsed.
func (o *Orchestrator) maybeCheckpoint(ctx context.Context) {
	if time.Since(o.lastCheckpoint) < o.cfg.CheckpointInterval {
		return
	}
	if err := o.checkpoints.Save(ctx, o.wf); err != nil {
		o.logger.Warn(ctx, "periodic checkpoint save failed", "error", err)
		return
	}
	o.lastCheckpoint = time.Now()
}

// Workflow exposes the aggregate for the process owner and tests.
func (o *Orchestrator) Workflow() *tracking.Workflow { return o.wf }

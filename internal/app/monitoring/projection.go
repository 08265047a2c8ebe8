package monitoring

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/dagwatch/internal/domain/events"
	"github.com/ahrav/dagwatch/internal/domain/tracking"
	"github.com/ahrav/dagwatch/pkg/common/logger"
)

// Script-phase task ids, fixed by the event vocabulary.
const (
	taskIDPreScript  = -1
	taskIDPostScript = -2
)

// Transformation labels for the script phases.
const (
	transformationPre  = "dagman::pre"
	transformationPost = "dagman::post"
)

// projector turns applied state transitions into normalized events. It holds
// no mutable state; ordering guarantees come from the orchestrator calling it
// under the single-writer discipline.
type projector struct {
	workflowID uuid.UUID
	submitDir  string
	user       string
	maxOutput  int
	logger     *logger.Logger
}

func newProjector(workflowID uuid.UUID, desc tracking.Descriptor, maxOutput int, log *logger.Logger) *projector {
	return &projector{
		workflowID: workflowID,
		submitDir:  desc.SubmitDir,
		user:       desc.User,
		maxOutput:  maxOutput,
		logger:     log.With("component", "projector"),
	}
}

// base assembles the identity fields every job event carries.
func (p *projector) base(inst *tracking.JobInstance, ts time.Time) map[string]any {
	fields := map[string]any{
		events.FieldWorkflowID: p.workflowID.String(),
		events.FieldJobID:      inst.Name(),
		events.FieldJobInstID:  inst.SubmitSeq(),
		events.FieldStateSeq:   inst.StateSeq(),
		events.FieldTimestamp:  ts.Unix(),
	}
	if inst.SchedulerID() != "" {
		fields[events.FieldSchedulerID] = inst.SchedulerID()
	}
	return fields
}

func (p *projector) event(eventType events.EventType, inst *tracking.JobInstance, ts time.Time, extra map[string]any) events.DomainEvent {
	fields := p.base(inst, ts)
	for k, v := range extra {
		fields[k] = v
	}
	return events.New(eventType, ts, fields)
}

// withStatus annotates a terminal-ish event with its numeric status, marking
// failures at error level.
func withStatus(status int) map[string]any {
	extra := map[string]any{events.FieldStatus: status}
	if status != 0 {
		extra[events.FieldLevel] = events.LevelError
	}
	return extra
}

// SyntheticSubmit is the submit.start emitted when the scheduler id arrived
// only on a later transition, so consumers still see submit before execute.
func (p *projector) SyntheticSubmit(inst *tracking.JobInstance, ts time.Time) events.DomainEvent {
	return p.event(events.EventTypeSubmitStart, inst, ts, nil)
}

// Transition maps one applied state transition to its events, excluding the
// main.end enrichment which needs the extracted output (see MainEnd).
func (p *projector) Transition(ctx context.Context, inst *tracking.JobInstance, sig tracking.Signal) []events.DomainEvent {
	ts := sig.Timestamp

	switch sig.Kind {
	case tracking.JobStatePreScriptStarted:
		return []events.DomainEvent{p.event(events.EventTypePreStart, inst, ts, nil)}
	case tracking.JobStatePreScriptTerminated:
		return []events.DomainEvent{p.event(events.EventTypePreTerm, inst, ts, nil)}
	case tracking.JobStatePreScriptSuccess:
		return p.preEnd(inst, ts, 0)
	case tracking.JobStatePreScriptFailure:
		return p.preEnd(inst, ts, inst.PreExit())

	case tracking.JobStateSubmit:
		return []events.DomainEvent{
			p.event(events.EventTypeSubmitStart, inst, ts, nil),
			p.event(events.EventTypeSubmitEnd, inst, ts, withStatus(0)),
		}
	case tracking.JobStateSubmitFailed:
		// A failed handoff still opens and closes the submit phase as a pair.
		return []events.DomainEvent{
			p.event(events.EventTypeSubmitStart, inst, ts, nil),
			p.event(events.EventTypeSubmitEnd, inst, ts, withStatus(-1)),
		}
	case tracking.JobStateGridSubmit:
		return []events.DomainEvent{
			p.event(events.EventTypeGridSubmitStart, inst, ts, nil),
			p.event(events.EventTypeGridSubmitEnd, inst, ts, withStatus(0)),
		}
	case tracking.JobStateGridSubmitFailed:
		return []events.DomainEvent{
			p.event(events.EventTypeGridSubmitStart, inst, ts, nil),
			p.event(events.EventTypeGridSubmitEnd, inst, ts, withStatus(-1)),
		}
	case tracking.JobStateGlobusSubmit:
		return []events.DomainEvent{
			p.event(events.EventTypeGlobusSubmitStart, inst, ts, nil),
			p.event(events.EventTypeGlobusSubmitEnd, inst, ts, withStatus(0)),
		}
	case tracking.JobStateGlobusSubmitFailed:
		return []events.DomainEvent{
			p.event(events.EventTypeGlobusSubmitStart, inst, ts, nil),
			p.event(events.EventTypeGlobusSubmitEnd, inst, ts, withStatus(-1)),
		}
	case tracking.JobStateControllerSubmit:
		// Internal handoff between controller and scheduler, not observable
		// downstream.
		return nil

	case tracking.JobStateExecute:
		return []events.DomainEvent{p.event(events.EventTypeMainStart, inst, ts, nil)}
	case tracking.JobStateImageSize:
		return []events.DomainEvent{p.event(events.EventTypeImageInfo, inst, ts, nil)}
	case tracking.JobStateRemoteError:
		return []events.DomainEvent{p.event(events.EventTypeRemoteError, inst, ts, map[string]any{events.FieldLevel: events.LevelError})}
	case tracking.JobStateHeld:
		return []events.DomainEvent{p.event(events.EventTypeHeldStart, inst, ts, nil)}
	case tracking.JobStateReleased:
		return []events.DomainEvent{p.event(events.EventTypeHeldEnd, inst, ts, withStatus(0))}
	case tracking.JobStateTerminated:
		return []events.DomainEvent{p.event(events.EventTypeMainTerm, inst, ts, withStatus(0))}
	case tracking.JobStateEvicted:
		// Eviction is a negative termination of the main phase.
		return []events.DomainEvent{p.event(events.EventTypeMainTerm, inst, ts, withStatus(-1))}

	case tracking.JobStateSuccess, tracking.JobStateFailure:
		// Projected by MainEnd once the captured output is in hand.
		return nil

	case tracking.JobStatePostScriptStarted:
		return []events.DomainEvent{p.event(events.EventTypePostStart, inst, ts, nil)}
	case tracking.JobStatePostScriptTerminated:
		return []events.DomainEvent{p.event(events.EventTypePostTerm, inst, ts, nil)}
	case tracking.JobStatePostScriptSuccess:
		return p.postEnd(inst, ts, 0)
	case tracking.JobStatePostScriptFailure:
		return p.postEnd(inst, ts, inst.PostExit())
	}

	p.logger.Warn(ctx, "no projection for state", "state", sig.Kind, "job", inst.Name())
	return nil
}

func (p *projector) preEnd(inst *tracking.JobInstance, ts time.Time, status int) []events.DomainEvent {
	extra := withStatus(status)
	extra[events.FieldExitCode] = strconv.Itoa(status)
	end := p.event(events.EventTypePreEnd, inst, ts, extra)

	// The pre script runs as its own task with a fixed negative id.
	pair := p.scriptInvocation(inst, taskIDPreScript, transformationPre,
		inst.PreStart(), inst.PreDone(), status)

	return append([]events.DomainEvent{end}, pair...)
}

func (p *projector) postEnd(inst *tracking.JobInstance, ts time.Time, status int) []events.DomainEvent {
	extra := withStatus(status)
	extra[events.FieldExitCode] = strconv.Itoa(status)
	end := p.event(events.EventTypePostEnd, inst, ts, extra)

	// The post script runs as its own task with a fixed negative id.
	pair := p.scriptInvocation(inst, taskIDPostScript, transformationPost,
		inst.PostStart(), inst.PostDone(), status)

	return append([]events.DomainEvent{end}, pair...)
}

func (p *projector) scriptInvocation(inst *tracking.JobInstance, taskID int, transformation string, start, done time.Time, status int) []events.DomainEvent {
	if start.IsZero() {
		start = done
	}
	startFields := map[string]any{events.FieldInvocationID: taskID}
	endFields := map[string]any{
		events.FieldInvocationID: taskID,
		"transformation":         transformation,
		events.FieldStatus:       status,
		events.FieldExitCode:     strconv.Itoa(status),
		"duration":               done.Sub(start).Seconds(),
	}
	if status != 0 {
		endFields[events.FieldLevel] = events.LevelError
	}
	return []events.DomainEvent{
		p.event(events.EventTypeInvocationStart, inst, start, startFields),
		p.event(events.EventTypeInvocationEnd, inst, done, endFields),
	}
}

// MainEnd projects the main-phase completion of an attempt: the enriched
// main.end, one inv.start/inv.end pair per extracted task (or one synthesized
// pair when extraction found nothing), and a host.info when a host identity
// is known.
func (p *projector) MainEnd(ctx context.Context, inst *tracking.JobInstance, sig tracking.Signal, info tracking.JobStaticInfo, records []tracking.InvocationRecord) []events.DomainEvent {
	ts := sig.Timestamp
	status := inst.MainExit()

	extra := withStatus(status)
	extra[events.FieldExitCode] = strconv.Itoa(status)
	if site := p.siteOf(inst, info, records); site != "" {
		extra["site"] = site
	}
	extra["work_dir"] = p.workDirOf(records)
	if user := p.userOf(records); user != "" {
		extra["user"] = user
	}
	if !inst.MainStart().IsZero() {
		extra["local_duration"] = inst.MainDone().Sub(inst.MainStart()).Seconds()
	}
	p.outputFields(ctx, inst, extra)

	out := []events.DomainEvent{p.event(events.EventTypeMainEnd, inst, ts, extra)}

	if len(records) == 0 {
		out = append(out, p.synthesizedInvocation(inst, status)...)
	} else {
		for _, rec := range records {
			out = append(out, p.recordInvocation(inst, rec)...)
		}
	}

	if host := p.hostInfo(inst, info, records, ts); host != nil {
		out = append(out, *host)
	}
	return out
}

// workDirOf prefers the working directory the launcher recorded on the
// execution host, falling back to the submit directory the run was planned
// from.
func (p *projector) workDirOf(records []tracking.InvocationRecord) string {
	for _, rec := range records {
		if rec.WorkDir != "" {
			return rec.WorkDir
		}
	}
	return p.submitDir
}

// userOf prefers the user the launcher ran as, then the planning user.
func (p *projector) userOf(records []tracking.InvocationRecord) string {
	for _, rec := range records {
		if rec.User != "" {
			return rec.User
		}
	}
	return p.user
}

// siteOf prefers the extracted record's site, then the instance's planned
// site; sub-workflow containers run locally.
func (p *projector) siteOf(inst *tracking.JobInstance, info tracking.JobStaticInfo, records []tracking.InvocationRecord) string {
	for _, rec := range records {
		if rec.Site != "" {
			return rec.Site
		}
	}
	if inst.Site() != "" {
		return inst.Site()
	}
	if info.IsSubWorkflow {
		return "local"
	}
	return ""
}

// outputFields attaches captured stdout/stderr, truncated to the configured
// cap.
func (p *projector) outputFields(ctx context.Context, inst *tracking.JobInstance, fields map[string]any) {
	if inst.StdoutFile() != "" {
		fields["stdout_file"] = inst.StdoutFile()
	}
	if inst.StderrFile() != "" {
		fields["stderr_file"] = inst.StderrFile()
	}
	if text := inst.StdoutText(); text != "" {
		fields["stdout_text"] = p.truncate(ctx, inst.Name(), "stdout", text)
	}
	if text := inst.StderrText(); text != "" {
		fields["stderr_text"] = p.truncate(ctx, inst.Name(), "stderr", text)
	}
}

func (p *projector) truncate(ctx context.Context, job, stream, text string) string {
	if p.maxOutput <= 0 || len(text) <= p.maxOutput {
		return text
	}
	p.logger.Warn(ctx, "captured output truncated",
		"job", job, "stream", stream, "size", len(text), "cap", p.maxOutput)
	return text[:p.maxOutput]
}

// synthesizedInvocation stands in for the single main task when the captured
// output held no records.
func (p *projector) synthesizedInvocation(inst *tracking.JobInstance, status int) []events.DomainEvent {
	start := inst.MainStart()
	done := inst.MainDone()
	if start.IsZero() {
		start = done
	}
	startFields := map[string]any{events.FieldInvocationID: 1}
	endFields := map[string]any{
		events.FieldInvocationID: 1,
		events.FieldStatus:       status,
		events.FieldExitCode:     strconv.Itoa(status),
		"duration":               done.Sub(start).Seconds(),
	}
	if status != 0 {
		endFields[events.FieldLevel] = events.LevelError
	}
	return []events.DomainEvent{
		p.event(events.EventTypeInvocationStart, inst, start, startFields),
		p.event(events.EventTypeInvocationEnd, inst, done, endFields),
	}
}

// recordInvocation projects one extracted task record.
func (p *projector) recordInvocation(inst *tracking.JobInstance, rec tracking.InvocationRecord) []events.DomainEvent {
	start := rec.Start
	if start.IsZero() {
		start = inst.MainStart()
	}
	done := start.Add(time.Duration(rec.Duration * float64(time.Second)))

	startFields := map[string]any{events.FieldInvocationID: rec.TaskID}
	endFields := map[string]any{
		events.FieldInvocationID: rec.TaskID,
		events.FieldStatus:       rec.ExitCode,
		events.FieldExitCode:     strconv.Itoa(rec.ExitCode),
		"raw_status":             rec.RawStatus,
		"duration":               rec.Duration,
	}
	if rec.Transformation != "" {
		endFields["transformation"] = rec.Transformation
	}
	if rec.Derivation != "" {
		endFields["derivation"] = rec.Derivation
	}
	if rec.Executable != "" {
		endFields["executable"] = rec.Executable
	}
	if rec.Arguments != "" {
		endFields["argv"] = rec.Arguments
	}
	if rec.ExitCode != 0 {
		endFields[events.FieldLevel] = events.LevelError
	}
	return []events.DomainEvent{
		p.event(events.EventTypeInvocationStart, inst, start, startFields),
		p.event(events.EventTypeInvocationEnd, inst, done, endFields),
	}
}

// hostInfo projects the execution host identity from the extracted records,
// or the local host for sub-workflow containers.
func (p *projector) hostInfo(inst *tracking.JobInstance, info tracking.JobStaticInfo, records []tracking.InvocationRecord, ts time.Time) *events.DomainEvent {
	extra := map[string]any{}
	for _, rec := range records {
		if rec.Hostname != "" {
			extra["hostname"] = rec.Hostname
			if rec.HostIP != "" {
				extra["ip"] = rec.HostIP
			}
			if rec.User != "" {
				extra["user"] = rec.User
			}
			break
		}
	}
	if len(extra) == 0 {
		if !info.IsSubWorkflow {
			return nil
		}
		hostname, err := localHostname()
		if err != nil {
			return nil
		}
		extra["hostname"] = hostname
	}
	ev := p.event(events.EventTypeHostInfo, inst, ts, extra)
	return &ev
}

// WorkflowPlanned is the planning-metadata event emitted once, at the first
// cold start of the run.
func (p *projector) WorkflowPlanned(desc tracking.Descriptor, ts time.Time) events.DomainEvent {
	fields := map[string]any{
		events.FieldWorkflowID: p.workflowID.String(),
		events.FieldTimestamp:  ts.Unix(),
		"root_xwf__id":         desc.RootID.String(),
		"dag":                  desc.DAGFile,
		"submit_dir":           desc.SubmitDir,
		"submit_hostname":      desc.SubmitHostname,
		"user":                 desc.User,
		"planner_version":      desc.PlannerVersion,
	}
	if desc.WorkflowName != "" {
		fields["wf_name"] = desc.WorkflowName
	}
	if desc.PlannerArguments != "" {
		fields["argv"] = desc.PlannerArguments
	}
	return events.New(events.EventTypeWorkflowPlan, ts, fields)
}

// WorkflowStarted marks one controller start, restart count included.
func (p *projector) WorkflowStarted(restartCount int, ts time.Time) events.DomainEvent {
	return events.New(events.EventTypeWorkflowStart, ts, map[string]any{
		events.FieldWorkflowID: p.workflowID.String(),
		events.FieldTimestamp:  ts.Unix(),
		"restart_count":        restartCount,
	})
}

// WorkflowFinished marks one controller finish with its exit status.
func (p *projector) WorkflowFinished(exitCode int, ts time.Time) events.DomainEvent {
	fields := map[string]any{
		events.FieldWorkflowID: p.workflowID.String(),
		events.FieldTimestamp:  ts.Unix(),
		events.FieldStatus:     exitCode,
	}
	if exitCode != 0 {
		fields[events.FieldLevel] = events.LevelError
	}
	return events.New(events.EventTypeWorkflowEnd, ts, fields)
}

// SubWorkflowLink is the one-shot event linking a container job to the
// workflow it spawned.
func (p *projector) SubWorkflowLink(inst *tracking.JobInstance, childID uuid.UUID, ts time.Time) events.DomainEvent {
	fields := p.base(inst, ts)
	fields["subwf__id"] = childID.String()
	return events.New(events.EventTypeSubWorkflowMap, ts, fields)
}

// osHostname is swapped in tests.
var osHostname = os.Hostname

func localHostname() (string, error) {
	hostname, err := osHostname()
	if err != nil {
		return "", fmt.Errorf("resolving local hostname: %w", err)
	}
	return hostname, nil
}

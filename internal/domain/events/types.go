package events

// EventType represents a domain event category, enabling type-safe event
// routing and handling. The values are part of the sink schema's
// compatibility surface and must not be renamed.
type EventType string

// Workflow-level event types.
const (
	EventTypeWorkflowPlan  EventType = "xwf.plan"
	EventTypeWorkflowStart EventType = "xwf.start"
	EventTypeWorkflowEnd   EventType = "xwf.end"

	// EventTypeSubWorkflowMap links a sub-workflow's id to the parent job
	// instance that spawned it. Emitted exactly once per sub-workflow.
	EventTypeSubWorkflowMap EventType = "xwf.map.subwf_job"
)

// Job-instance event types. The pre/submit/main/post families each have a
// start and an end; the end carries the phase status.
const (
	EventTypePreStart          EventType = "job_inst.pre.start"
	EventTypePreTerm           EventType = "job_inst.pre.term"
	EventTypePreEnd            EventType = "job_inst.pre.end"
	EventTypeSubmitStart       EventType = "job_inst.submit.start"
	EventTypeSubmitEnd         EventType = "job_inst.submit.end"
	EventTypeGridSubmitStart   EventType = "job_inst.grid.submit.start"
	EventTypeGridSubmitEnd     EventType = "job_inst.grid.submit.end"
	EventTypeGlobusSubmitStart EventType = "job_inst.globus.submit.start"
	EventTypeGlobusSubmitEnd   EventType = "job_inst.globus.submit.end"
	EventTypeMainStart         EventType = "job_inst.main.start"
	EventTypeMainTerm          EventType = "job_inst.main.term"
	EventTypeMainEnd           EventType = "job_inst.main.end"
	EventTypeHeldStart         EventType = "job_inst.held.start"
	EventTypeHeldEnd           EventType = "job_inst.held.end"
	EventTypePostStart         EventType = "job_inst.post.start"
	EventTypePostTerm          EventType = "job_inst.post.term"
	EventTypePostEnd           EventType = "job_inst.post.end"

	EventTypeRemoteError EventType = "job_inst.remote_error"
	EventTypeImageInfo   EventType = "job_inst.image.info"
	EventTypeHostInfo    EventType = "job_inst.host.info"
)

// Invocation (per-task) event types.
const (
	EventTypeInvocationStart EventType = "inv.start"
	EventTypeInvocationEnd   EventType = "inv.end"
)

// Well-known field keys shared by most events.
const (
	FieldWorkflowID   = "xwf__id"
	FieldJobID        = "job__id"
	FieldJobInstID    = "job_inst__id"
	FieldStateSeq     = "js__id"
	FieldTimestamp    = "ts"
	FieldSchedulerID  = "sched__id"
	FieldStatus       = "status"
	FieldExitCode     = "exitcode"
	FieldLevel        = "level"
	FieldInvocationID = "inv__id"
)

// LevelError is the value of FieldLevel on events reporting a failure.
const LevelError = "Error"

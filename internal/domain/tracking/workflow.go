package tracking

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// instanceKey identifies one job attempt within a workflow.
type instanceKey struct {
	name string
	seq  int64
}

// Workflow is the aggregate holding the authoritative in-memory model of a
// single (root or sub-) workflow execution. One Orchestrator exclusively owns
// one Workflow; there is no internal locking by design.
type Workflow struct {
	id       uuid.UUID
	rootID   uuid.UUID
	parentID uuid.UUID // uuid.Nil for root workflows

	descriptor Descriptor

	// jobSubmitSeq is the next submit sequence to assign. It strictly
	// increases and is never reused within the workflow's lifetime, even
	// across restarts.
	jobSubmitSeq int64

	// resubmissions counts SUBMIT-class signals per job name. The counter
	// doubles as the output-rotation index for the attempt it submitted.
	resubmissions map[string]int

	// lastProcessed is the last controller-log offset fully processed.
	lastProcessed int64

	restartCount int

	staticInfo map[string]JobStaticInfo

	jobs   map[instanceKey]*JobInstance
	latest map[string]int64 // job name -> most recent submit seq

	timeline *Timeline
}

// WorkflowOption defines functional options for configuring a new Workflow.
type WorkflowOption func(*Workflow)

// WithTimeProvider sets a custom time provider for the workflow timeline.
func WithTimeProvider(tp TimeProvider) WorkflowOption {
	return func(w *Workflow) { w.timeline = NewTimeline(tp) }
}

// NewWorkflow creates the aggregate for one workflow execution. rootID and
// parentID establish the hierarchy links; parentID is uuid.Nil for the root.
func NewWorkflow(desc Descriptor, rootID, parentID uuid.UUID, opts ...WorkflowOption) *Workflow {
	if rootID == uuid.Nil {
		rootID = desc.WorkflowID
	}
	w := &Workflow{
		id:            desc.WorkflowID,
		rootID:        rootID,
		parentID:      parentID,
		descriptor:    desc,
		jobSubmitSeq:  1,
		resubmissions: make(map[string]int),
		staticInfo:    make(map[string]JobStaticInfo),
		jobs:          make(map[instanceKey]*JobInstance),
		latest:        make(map[string]int64),
		timeline:      NewTimeline(new(realTimeProvider)),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ID returns the planner-assigned workflow id.
func (w *Workflow) ID() uuid.UUID { return w.id }

// RootID returns the id of the root workflow of the hierarchy.
func (w *Workflow) RootID() uuid.UUID { return w.rootID }

// ParentID returns the parent workflow id, uuid.Nil for roots.
func (w *Workflow) ParentID() uuid.UUID { return w.parentID }

// Descriptor returns the planner metadata this workflow was created from.
func (w *Workflow) Descriptor() Descriptor { return w.descriptor }

// Timeline returns the workflow's monitoring timeline.
func (w *Workflow) Timeline() *Timeline { return w.timeline }

// SetStaticInfo installs the per-job-name static description table. It is
// loaded wholesale before any signal is applied.
func (w *Workflow) SetStaticInfo(table map[string]JobStaticInfo) {
	w.staticInfo = table
}

// StaticInfo looks up the static description of a job name.
func (w *Workflow) StaticInfo(name string) (JobStaticInfo, bool) {
	info, ok := w.staticInfo[name]
	return info, ok
}

// RestoreCounters rehydrates the persisted counters from a checkpoint. It
// should only be called before any signal is applied.
func (w *Workflow) RestoreCounters(submitSeq, lastProcessed int64, restartCount int, resubmissions map[string]int) {
	if submitSeq > w.jobSubmitSeq {
		w.jobSubmitSeq = submitSeq
	}
	w.lastProcessed = lastProcessed
	w.restartCount = restartCount
	for name, count := range resubmissions {
		w.resubmissions[name] = count
	}
}

// NextSubmitSeq returns the submit sequence that would be assigned to the
// next new job attempt.
func (w *Workflow) NextSubmitSeq() int64 { return w.jobSubmitSeq }

// LastProcessed returns the last fully processed controller-log offset.
func (w *Workflow) LastProcessed() int64 { return w.lastProcessed }

// SetLastProcessed records a fully processed controller-log offset. Offsets
// never move backwards.
func (w *Workflow) SetLastProcessed(offset int64) {
	if offset > w.lastProcessed {
		w.lastProcessed = offset
	}
}

// RestartCount returns how many times the controller (re)started.
func (w *Workflow) RestartCount() int { return w.restartCount }

// IncRestartCount bumps the controller restart counter.
func (w *Workflow) IncRestartCount() { w.restartCount++ }

// Resubmissions returns a copy of the per-name resubmission counters with
// names sorted, so checkpoint files are deterministic and diffable.
func (w *Workflow) Resubmissions() []JobCounter {
	names := make([]string, 0, len(w.resubmissions))
	for name := range w.resubmissions {
		names = append(names, name)
	}
	sort.Strings(names)

	counters := make([]JobCounter, 0, len(names))
	for _, name := range names {
		counters = append(counters, JobCounter{Name: name, Count: w.resubmissions[name]})
	}
	return counters
}

// JobCounter is one per-job-name resubmission counter.
type JobCounter struct {
	Name  string
	Count int
}

// Instance returns the job attempt identified by (name, seq).
func (w *Workflow) Instance(name string, seq int64) (*JobInstance, bool) {
	inst, ok := w.jobs[instanceKey{name: name, seq: seq}]
	return inst, ok
}

// LatestSeq returns the most recent submit sequence assigned to a job name.
func (w *Workflow) LatestSeq(name string) (int64, bool) {
	seq, ok := w.latest[name]
	return seq, ok
}

// FindSubmitSeq resolves a signal's job name to a live, reusable attempt.
//
// An attempt is reusable while it sits between pre-script success and the
// submit handoff, or when the signal's scheduler id matches the attempt's
// (the out-of-order submit case). A scheduler id that does not match a
// pre-terminal attempt never resolves to it; the caller creates a fresh
// instance instead, protecting against scheduler-id reuse across retries.
func (w *Workflow) FindSubmitSeq(name, schedulerID string) (int64, bool) {
	seq, ok := w.latest[name]
	if !ok {
		return 0, false
	}
	inst, ok := w.jobs[instanceKey{name: name, seq: seq}]
	if !ok {
		return 0, false
	}

	if inst.State() == JobStatePreScriptSuccess || inst.State() == JobStateControllerSubmit {
		return seq, true
	}

	if schedulerID != "" && inst.SchedulerID() == schedulerID {
		return seq, true
	}

	return 0, false
}

// AddJob resolves the signal's job name to an existing reusable attempt or
// creates a new one with the next submit sequence. The returned boolean
// reports whether a new instance was created.
func (w *Workflow) AddJob(name string, state JobState, schedulerID string, ts time.Time, status *int) (*JobInstance, bool) {
	if seq, ok := w.FindSubmitSeq(name, schedulerID); ok {
		inst := w.jobs[instanceKey{name: name, seq: seq}]
		inst.SetState(state, schedulerID, ts, status)
		w.noteSubmit(name, state, inst)
		return inst, false
	}

	seq := w.jobSubmitSeq
	w.jobSubmitSeq++

	inst := NewJobInstance(name, seq)
	inst.SetState(state, schedulerID, ts, status)
	w.jobs[instanceKey{name: name, seq: seq}] = inst
	w.latest[name] = seq

	w.noteSubmit(name, state, inst)
	return inst, true
}

// noteSubmit bumps the resubmission counter when an attempt enters SUBMIT
// and pins the attempt's output-rotation index.
func (w *Workflow) noteSubmit(name string, state JobState, inst *JobInstance) {
	if state != JobStateSubmit {
		return
	}
	if _, ok := w.resubmissions[name]; ok {
		w.resubmissions[name]++
	} else {
		w.resubmissions[name] = 0
	}
	inst.SetOutputCounter(w.resubmissions[name])
}

// ResolveInstance finds the attempt a non-creating signal addresses: the
// latest attempt for the name, or nothing when the name was never submitted.
func (w *Workflow) ResolveInstance(name string) (*JobInstance, bool) {
	seq, ok := w.latest[name]
	if !ok {
		return nil, false
	}
	return w.Instance(name, seq)
}

// EvictTerminal removes attempts that have fully finished from the live
// index, bounding memory across controller restarts. It returns how many
// attempts were evicted.
func (w *Workflow) EvictTerminal() int {
	var evicted []instanceKey
	for key, inst := range w.jobs {
		info, _ := w.staticInfo[key.name]
		if inst.State().Terminal(info.HasPostScript()) {
			evicted = append(evicted, key)
		}
	}
	for _, key := range evicted {
		delete(w.jobs, key)
		if w.latest[key.name] == key.seq {
			delete(w.latest, key.name)
		}
	}
	return len(evicted)
}

// LiveInstances returns the number of attempts currently tracked.
func (w *Workflow) LiveInstances() int { return len(w.jobs) }

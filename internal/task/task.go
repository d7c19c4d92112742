// Package task defines the Task and its Description, the unit of work that
// flows leaves-first through the Agent pipeline: staging-input, scheduler,
// executor, staging-output, update.
package task

import (
	"sync"
	"time"

	"github.com/radical-cybertools/radical-pilot-agent/internal/resource"
	"github.com/radical-cybertools/radical-pilot-agent/internal/state"
)

// Threading describes the threading/MPI model a Task's ranks run under.
type Threading string

const (
	ThreadingNone        Threading = "none"
	ThreadingOpenMP      Threading = "OpenMP"
	ThreadingMPI         Threading = "MPI"
	ThreadingMPIAndOpenMP Threading = "MPI+OpenMP"
)

// MPI reports whether this threading model requires an MPI-aware launch.
func (t Threading) MPI() bool {
	return t == ThreadingMPI || t == ThreadingMPIAndOpenMP
}

// StagingDirective describes one file-movement action performed by the
// staging-input or staging-output component, before or after execution
// respectively.
type StagingDirective struct {
	Action      StagingAction
	Source      string
	Target      string
	Flags       StagingFlags
}

type StagingAction string

const (
	StagingTransfer StagingAction = "TRANSFER"
	StagingLink     StagingAction = "LINK"
	StagingCopy     StagingAction = "COPY"
)

// StagingFlags are additive directive modifiers carried over from the
// original implementation's staging_directives semantics (not present in
// the distilled spec, but harmless to support): NonFatal downgrades a
// staging error to a warning, Recursive copies/links directories, Keep
// preserves the source on a move-like TRANSFER.
type StagingFlags uint8

const (
	FlagNonFatal  StagingFlags = 1 << 0
	FlagRecursive StagingFlags = 1 << 1
	FlagKeep      StagingFlags = 1 << 2
)

// Description is the immutable, client-supplied specification of a Task.
// The Agent never mutates a Description; it mutates only the owning Task's
// State, Slots, ExitCode, and timestamps.
type Description struct {
	Executable    string
	Function      string // set instead of Executable for RAPTOR function tasks
	Arguments     []string
	Environment   map[string]string
	NamedEnv      string // pre-provisioned virtual environment to activate
	Ranks         int
	CoresPerRank  int
	GPUsPerRank   int
	MemPerRank    int // MB
	LFSPerRank    int // MB
	Threading     Threading
	PreExec       []string
	PostExec      []string
	PreLaunch     []string
	PostLaunch    []string
	InputStaging  []StagingDirective
	OutputStaging []StagingDirective
	Stdout        string
	Stderr        string
	Sandbox       string
	Tags          map[string]string

	// RAPTOR-only fields; zero value means "not a RAPTOR task".
	RaptorMode string // TASK_FUNCTION | TASK_PROC | TASK_EVAL | TASK_EXEC | TASK_SHELL
}

// Event is a single state-transition notification, emitted by any
// pipeline component (Scheduler, Executor, Staging) onto the shared
// state-events pubsub for the Update component to serialize toward the
// client in arrival order (spec §4.6).
type Event struct {
	UID   string
	State state.Task
	Error error
}

// Task is a unit of work as tracked by the Agent. The Agent mutates only
// State, Slots, ExitCode, and the timestamps; Description is read-only.
type Task struct {
	mu sync.Mutex

	UID         string
	Description Description

	state state.Task
	Slots resource.Slots

	ExitCode  int
	Error     error
	StartedAt time.Time
	StoppedAt time.Time
}

// New creates a Task in state.New for the given uid and description.
func New(uid string, desc Description) *Task {
	return &Task{
		UID:         uid,
		Description: desc,
		state:       state.New,
	}
}

// State returns the task's current state.
func (t *Task) State() state.Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Advance validates and applies a forward state transition, returning an
// error (and leaving the state unchanged) if next is not reachable from the
// task's current state.
func (t *Task) Advance(next state.Task) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := state.Validate(t.state, next); err != nil {
		return err
	}
	t.state = next
	return nil
}

// TotalCores returns the total number of cores requested across all ranks.
func (d *Description) TotalCores() int {
	return d.Ranks * d.CoresPerRank
}

// TotalGPUs returns the total number of GPUs requested across all ranks.
func (d *Description) TotalGPUs() int {
	return d.Ranks * d.GPUsPerRank
}

// TotalMemMB returns the total memory requested across all ranks, in MB.
func (d *Description) TotalMemMB() int {
	return d.Ranks * d.MemPerRank
}

// TotalLFSMB returns the total local filesystem space requested across all
// ranks, in MB.
func (d *Description) TotalLFSMB() int {
	return d.Ranks * d.LFSPerRank
}

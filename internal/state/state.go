// Package state defines the total order of task states the Agent pipeline
// drives tasks through, and the bookkeeping needed to enforce that a task
// never moves backward and that every transition is emitted exactly once.
package state

import (
	"fmt"

	"github.com/pkg/errors"
)

// Task is a task state. The zero value is not a valid state; use New.
type Task string

// Task states, in pipeline order. Only the agent-local subset of the full
// RADICAL-Pilot unit state machine is modeled here — the umgr/staging states
// that precede AgentStagingInputPending and follow AgentStagingOutput are
// owned by the out-of-scope client-side manager and are represented by New
// and Done/Failed/Canceled at the boundary.
const (
	New                       Task = "NEW"
	AgentStagingInputPending  Task = "AGENT_STAGING_INPUT_PENDING"
	AgentStagingInput         Task = "AGENT_STAGING_INPUT"
	AgentSchedulingPending    Task = "AGENT_SCHEDULING_PENDING"
	AgentScheduling           Task = "AGENT_SCHEDULING"
	AgentExecutingPending     Task = "AGENT_EXECUTING_PENDING"
	AgentExecuting            Task = "AGENT_EXECUTING"
	AgentStagingOutputPending Task = "AGENT_STAGING_OUTPUT_PENDING"
	AgentStagingOutput        Task = "AGENT_STAGING_OUTPUT"
	Done                      Task = "DONE"
	Failed                    Task = "FAILED"
	Canceled                  Task = "CANCELED"
)

// order assigns a numeric rank to each state for progression checks. Final
// states (Done/Failed/Canceled) all share the highest rank: once a task is
// final, no further transition is a "progression".
var order = map[Task]int{
	New:                       0,
	AgentStagingInputPending:  1,
	AgentStagingInput:         2,
	AgentSchedulingPending:    3,
	AgentScheduling:           4,
	AgentExecutingPending:     5,
	AgentExecuting:            6,
	AgentStagingOutputPending: 7,
	AgentStagingOutput:        8,
	Done:                      9,
	Failed:                    9,
	Canceled:                  9,
}

// Final reports whether s is one of the terminal states.
func (s Task) Final() bool {
	return s == Done || s == Failed || s == Canceled
}

// Rank returns the progression rank used to enforce monotonicity. Unknown
// states rank below New so that any known transition out of them is
// rejected by CanAdvance rather than silently accepted.
func (s Task) Rank() int {
	if r, ok := order[s]; ok {
		return r
	}
	return -1
}

// CanAdvance reports whether moving from cur to next is a valid, forward-only
// transition. A task already in a final state can never advance further —
// this is what makes cancellation and failure terminal.
func CanAdvance(cur, next Task) bool {
	if cur.Final() {
		return false
	}
	if next.Final() {
		return true
	}
	return next.Rank() > cur.Rank()
}

// Validate returns an error if next is not a legal transition from cur.
func Validate(cur, next Task) error {
	if !CanAdvance(cur, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, next)
	}
	return nil
}

var ErrInvalidTransition = errors.New("invalid state transition")

// Package executor implements the Agent's POPEN-style spawner (spec
// §4.3): for every task arriving in AGENT_EXECUTING_PENDING it resolves a
// launch method, materializes the sandbox scripts, spawns the launch
// script as a new process group, and watches it through to completion or
// cancellation.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"

	"github.com/radical-cybertools/radical-pilot-agent/internal/bus"
	"github.com/radical-cybertools/radical-pilot-agent/internal/control"
	"github.com/radical-cybertools/radical-pilot-agent/internal/launch"
	"github.com/radical-cybertools/radical-pilot-agent/internal/resource"
	"github.com/radical-cybertools/radical-pilot-agent/internal/state"
	"github.com/radical-cybertools/radical-pilot-agent/internal/task"
)

// ErrLMUnavailable is the Executor's LMUnavailable failure mode (spec
// §4.3): no registered launch method is applicable to a task on this
// platform. The task fails without a process ever being spawned.
var ErrLMUnavailable = launch.ErrNoApplicableMethod

// Executor consumes AGENT_EXECUTING_PENDING tasks, one goroutine per task,
// bounded only by however many the scheduler has already admitted (spec
// §5: parallelism inside a component is the component's own business).
type Executor struct {
	log logger.Logger

	registry *launch.Registry

	incoming        *bus.Queue[*task.Task]
	toStagingOutput *bus.Queue[*task.Task]
	unschedule      *bus.PubSub[resource.Slots]
	stateEvents     *bus.PubSub[task.Event]
	control         *bus.PubSub[control.Command]

	procs *procTable
}

// New constructs an Executor. control may be nil in tests that don't
// exercise cancellation.
func New(registry *launch.Registry, incoming, toStagingOutput *bus.Queue[*task.Task], unschedule *bus.PubSub[resource.Slots], stateEvents *bus.PubSub[task.Event], ctrl *bus.PubSub[control.Command]) *Executor {
	e := &Executor{
		registry:        registry,
		incoming:        incoming,
		toStagingOutput: toStagingOutput,
		unschedule:      unschedule,
		stateEvents:     stateEvents,
		control:         ctrl,
		procs:           newProcTable(),
	}
	config.InitLogger(&e.log, e)
	return e
}

// Run drives the Executor until ctx is canceled: every arriving task is
// handled in its own goroutine so a long-running task never blocks the
// next task's spawn, and Control commands are applied as they arrive.
func (e *Executor) Run(ctx context.Context) error {
	arrivals := e.incoming.Stream(ctx)

	var commands <-chan control.Command
	if e.control != nil {
		commands = e.control.Subscribe("", 64)
	}

	for {
		select {
		case <-ctx.Done():
			e.procs.cancelAll()
			return ctx.Err()

		case t, ok := <-arrivals:
			if !ok {
				return nil
			}
			go e.run(ctx, t)

		case cmd, ok := <-commands:
			if !ok {
				commands = nil
				continue
			}
			e.handleControl(cmd)
		}
	}
}

func (e *Executor) handleControl(cmd control.Command) {
	switch cmd.Op {
	case control.CancelTask:
		for _, uid := range cmd.UIDs {
			e.procs.cancel(uid)
		}
	case control.CancelPilot, control.Shutdown:
		e.procs.cancelAll()
	}
}

// run implements spec §4.3 steps 1-6 for a single task.
func (e *Executor) run(ctx context.Context, t *task.Task) {
	method, err := e.registry.Resolve(t)
	if err != nil {
		e.fail(ctx, t, fmt.Errorf("%w: %v", ErrLMUnavailable, err))
		return
	}

	sandbox, err := ensureSandbox(t)
	if err != nil {
		e.fail(ctx, t, err)
		return
	}

	launchCmd, err := method.BuildCommand(t, t.Slots)
	if err != nil {
		e.fail(ctx, t, fmt.Errorf("executor: build command for %s: %w", method.Name(), err))
		return
	}

	launchPath, err := writeLaunchScript(sandbox, t, launchCmd)
	if err != nil {
		e.fail(ctx, t, err)
		return
	}
	if _, err := writeExecScript(sandbox, t, method); err != nil {
		e.fail(ctx, t, err)
		return
	}

	if err := t.Advance(state.AgentExecuting); err != nil {
		e.log.Error("task %s: %v", t.UID, err)
		return
	}
	t.StartedAt = now()
	e.publish(ctx, t, nil)

	result := e.procs.spawn(ctx, t.UID, sandbox, launchPath)
	t.StoppedAt = now()

	if result.canceled {
		t.ExitCode = result.exitCode
		e.terminal(ctx, t, state.Canceled, fmt.Errorf("executor: task canceled"))
		return
	}

	if result.err != nil {
		e.fail(ctx, t, fmt.Errorf("executor: %w", result.err))
		return
	}

	t.ExitCode = result.exitCode
	if result.exitCode != 0 {
		e.fail(ctx, t, fmt.Errorf("executor: task exited with code %d", result.exitCode))
		return
	}

	e.terminal(ctx, t, state.AgentStagingOutputPending, nil)
	if e.toStagingOutput != nil {
		if err := e.toStagingOutput.Push(ctx, t); err != nil {
			e.log.Error("forwarding task %s to staging-output: %v", t.UID, err)
		}
	}
}

// fail advances t to FAILED, publishes the state event, and releases t's
// slots. Every failure mode in spec §4.3 routes through this: LMUnavailable
// never consumed a process slot to begin with, and a non-zero exit or
// spawn error both need their already-allocated slots freed.
func (e *Executor) fail(ctx context.Context, t *task.Task, err error) {
	e.terminal(ctx, t, state.Failed, err)
}

// terminal advances t to next and publishes the resulting state event. It
// releases t's Slots only when next is one of the Executor's own truly
// final states (Failed, Canceled): AGENT_STAGING_OUTPUT_PENDING is
// deliberately excluded, since Staging-Output still holds the task's
// sandbox after this hand-off and is the component that releases its
// slots, on its own Done/Failed/Canceled transition (spec §4.2's
// sum(BUSY) == slots held by {EXECUTING_PENDING, EXECUTING,
// STAGING_OUTPUT_PENDING} invariant).
func (e *Executor) terminal(ctx context.Context, t *task.Task, next state.Task, err error) {
	t.Error = err
	if advErr := t.Advance(next); advErr != nil {
		e.log.Error("task %s: %v", t.UID, advErr)
	}
	e.publish(ctx, t, err)
	if next.Final() {
		e.release(ctx, t)
	}
}

func (e *Executor) release(ctx context.Context, t *task.Task) {
	if e.unschedule == nil || len(t.Slots) == 0 {
		return
	}
	if err := e.unschedule.Publish(ctx, "slots", t.Slots); err != nil {
		e.log.Error("publishing slot release for %s: %v", t.UID, err)
	}
}

func (e *Executor) publish(ctx context.Context, t *task.Task, err error) {
	if e.stateEvents == nil {
		return
	}
	if pubErr := e.stateEvents.Publish(ctx, "task", task.Event{UID: t.UID, State: t.State(), Error: err}); pubErr != nil {
		e.log.Error("publishing state event for %s: %v", t.UID, pubErr)
	}
}

// now is a seam so tests can freeze StartedAt/StoppedAt if needed later.
var now = time.Now

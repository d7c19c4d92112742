// Package staging implements the Agent's Staging-Input and Staging-Output
// components (spec §4.5): mirror-image file-movement stages that run
// before scheduling and after execution respectively.
package staging

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"

	"github.com/radical-cybertools/radical-pilot-agent/internal/bus"
	"github.com/radical-cybertools/radical-pilot-agent/internal/control"
	"github.com/radical-cybertools/radical-pilot-agent/internal/resource"
	"github.com/radical-cybertools/radical-pilot-agent/internal/state"
	"github.com/radical-cybertools/radical-pilot-agent/internal/task"
)

// Kind distinguishes the two staging directions. They differ only in
// which directive list they consume, which states they drive the task
// through, and whether they own the New->Pending transition.
type Kind int

const (
	Input Kind = iota
	Output
)

func (k Kind) String() string {
	if k == Input {
		return "staging-input"
	}
	return "staging-output"
}

// Stager runs one direction of the staging pipeline.
type Stager struct {
	log logger.Logger

	kind Kind
	sbx  SandboxContext

	bulkMkdirThreshold int

	incoming    *bus.Queue[*task.Task]
	toNext      *bus.Queue[*task.Task]
	unschedule  *bus.PubSub[resource.Slots]
	stateEvents *bus.PubSub[task.Event]
	control     *bus.PubSub[control.Command]

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// New constructs a Stager. toNext receives successfully staged tasks: for
// Input this is the Scheduler's incoming queue; for Output it is nil,
// since Done is terminal and nothing downstream needs the task pushed
// any further. unschedule is the pubsub a Stager publishes released Slots
// to once one of its own tasks reaches a final state; it is meaningful
// only for Output (Input runs before scheduling ever happens, so its
// tasks never hold Slots) and may be nil there. ctrl may be nil in tests
// that don't exercise cancellation.
func New(kind Kind, sbx SandboxContext, bulkMkdirThreshold int, incoming, toNext *bus.Queue[*task.Task], unschedule *bus.PubSub[resource.Slots], stateEvents *bus.PubSub[task.Event], ctrl *bus.PubSub[control.Command]) *Stager {
	if bulkMkdirThreshold <= 0 {
		bulkMkdirThreshold = defaultBulkMkdirThreshold
	}
	s := &Stager{
		kind:               kind,
		sbx:                sbx,
		bulkMkdirThreshold: bulkMkdirThreshold,
		incoming:           incoming,
		toNext:             toNext,
		unschedule:         unschedule,
		stateEvents:        stateEvents,
		control:            ctrl,
		running:            make(map[string]context.CancelFunc),
	}
	config.InitLogger(&s.log, s)
	return s
}

// Run drives the Stager until ctx is canceled, handling every arriving
// task in its own goroutine so one slow transfer never blocks another
// task's staging, and applying Control commands as they arrive.
func (s *Stager) Run(ctx context.Context) error {
	arrivals := s.incoming.Stream(ctx)

	var commands <-chan control.Command
	if s.control != nil {
		commands = s.control.Subscribe("", 64)
	}

	for {
		select {
		case <-ctx.Done():
			s.cancelAll()
			return ctx.Err()

		case t, ok := <-arrivals:
			if !ok {
				return nil
			}
			go s.process(ctx, t)

		case cmd, ok := <-commands:
			if !ok {
				commands = nil
				continue
			}
			s.handleControl(cmd)
		}
	}
}

func (s *Stager) handleControl(cmd control.Command) {
	switch cmd.Op {
	case control.CancelTask:
		for _, uid := range cmd.UIDs {
			s.cancelUID(uid)
		}
	case control.CancelPilot, control.Shutdown:
		s.cancelAll()
	}
}

func (s *Stager) cancelUID(uid string) {
	s.mu.Lock()
	cancel, ok := s.running[uid]
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

func (s *Stager) cancelAll() {
	s.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(s.running))
	for _, cancel := range s.running {
		cancels = append(cancels, cancel)
	}
	s.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// process runs one task through its staging direction. A long-running
// stageAll is interrupted by deriving a per-task cancelable context,
// registered in s.running under the task's UID for the duration: a
// matching cancel_task/cancel_pilot arriving mid-transfer cancels taskCtx,
// which stageAll observes between directives (spec §4.2 Testable
// Property #4 extended to AGENT_STAGING_INPUT/AGENT_STAGING_OUTPUT).
func (s *Stager) process(ctx context.Context, t *task.Task) {
	taskCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.running[t.UID] = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.running, t.UID)
		s.mu.Unlock()
		cancel()
	}()

	if s.kind == Input {
		// Staging-Output's task arrives already in
		// AGENT_STAGING_OUTPUT_PENDING (the Executor advanced it before
		// pushing); Staging-Input is the first component to touch a
		// freshly-submitted task, so it alone owns the New->Pending leg.
		if err := t.Advance(state.AgentStagingInputPending); err != nil {
			s.log.Error("task %s: %v", t.UID, err)
			return
		}
		s.publish(ctx, t, nil)
	}

	active, next := s.states()
	if err := t.Advance(active); err != nil {
		s.log.Error("task %s: %v", t.UID, err)
		return
	}

	if err := s.stageAll(taskCtx, t, s.directivesFor(t)); err != nil {
		if taskCtx.Err() != nil {
			s.canceled(ctx, t)
			return
		}
		s.fail(ctx, t, err)
		return
	}

	if err := t.Advance(next); err != nil {
		s.log.Error("task %s: %v", t.UID, err)
		return
	}
	s.publish(ctx, t, nil)
	s.release(ctx, t)

	if s.toNext != nil {
		if err := s.toNext.Push(ctx, t); err != nil {
			s.log.Error("forwarding task %s past %s: %v", t.UID, s.kind, err)
		}
	}
}

func (s *Stager) states() (active, next state.Task) {
	if s.kind == Input {
		return state.AgentStagingInput, state.AgentSchedulingPending
	}
	return state.AgentStagingOutput, state.Done
}

func (s *Stager) directivesFor(t *task.Task) []task.StagingDirective {
	if s.kind == Input {
		return t.Description.InputStaging
	}
	return t.Description.OutputStaging
}

// stageAll resolves and runs every directive, batching directory creation
// per spec §4.5. A directive whose FlagNonFatal bit is set logs and
// continues past its own failure instead of failing the whole task. ctx is
// checked between directives (and before the batch starts) so a
// cancel_task/cancel_pilot arriving mid-transfer stops the next directive
// from starting; the directive already in flight (e.g. a large copyDir)
// still runs to completion, since os/io calls aren't themselves
// preemptible.
func (s *Stager) stageAll(ctx context.Context, t *task.Task, directives []task.StagingDirective) error {
	if len(directives) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	type endpoints struct{ source, target string }
	resolved := make([]endpoints, len(directives))
	dirs := make([]string, 0, len(directives))

	for i, d := range directives {
		source, err := s.sbx.resolve(d.Source, t.Description.Sandbox)
		if err != nil {
			return fmt.Errorf("staging: directive %d source: %w", i, err)
		}
		target, err := s.sbx.resolve(d.Target, t.Description.Sandbox)
		if err != nil {
			return fmt.Errorf("staging: directive %d target: %w", i, err)
		}
		resolved[i] = endpoints{source, target}
		dirs = append(dirs, filepath.Dir(target))
	}

	if err := ensureDirs(dirs, s.bulkMkdirThreshold); err != nil {
		return err
	}

	for i, d := range directives {
		if err := ctx.Err(); err != nil {
			return err
		}
		ep := resolved[i]
		if err := performDirective(ep.source, ep.target, d.Action, d.Flags); err != nil {
			if d.Flags&task.FlagNonFatal != 0 {
				s.log.Warn("directive %d (%s -> %s) failed, continuing (NON_FATAL): %v", i, ep.source, ep.target, err)
				continue
			}
			return fmt.Errorf("staging: directive %d (%s -> %s): %w", i, ep.source, ep.target, err)
		}
	}
	return nil
}

// fail advances t to FAILED, publishes the state event, and — for
// Staging-Output only — releases t's Slots. Staging-Input tasks never
// hold Slots (scheduling hasn't happened yet); Staging-Output is now the
// sole releaser of its own tasks' Slots, on whichever final state it
// reaches (spec §4.2's sum(BUSY) invariant).
func (s *Stager) fail(ctx context.Context, t *task.Task, err error) {
	t.Error = err
	if advErr := t.Advance(state.Failed); advErr != nil {
		s.log.Error("task %s: %v", t.UID, advErr)
	}
	s.publish(ctx, t, err)
	s.release(ctx, t)
}

// canceled advances t to CANCELED in response to a cancel_task/cancel_pilot
// command observed while stageAll was still running.
func (s *Stager) canceled(ctx context.Context, t *task.Task) {
	if err := t.Advance(state.Canceled); err != nil {
		s.log.Error("task %s: %v", t.UID, err)
		return
	}
	s.publish(ctx, t, nil)
	s.release(ctx, t)
}

// release publishes t's Slots back onto unschedule. A no-op for
// Staging-Input (unschedule is nil there) and for any task with no Slots.
func (s *Stager) release(ctx context.Context, t *task.Task) {
	if s.unschedule == nil || len(t.Slots) == 0 {
		return
	}
	if err := s.unschedule.Publish(ctx, "slots", t.Slots); err != nil {
		s.log.Error("publishing slot release for %s: %v", t.UID, err)
	}
}

func (s *Stager) publish(ctx context.Context, t *task.Task, err error) {
	if s.stateEvents == nil {
		return
	}
	if pubErr := s.stateEvents.Publish(ctx, "task", task.Event{UID: t.UID, State: t.State(), Error: err}); pubErr != nil {
		s.log.Error("publishing state event for %s: %v", t.UID, pubErr)
	}
}

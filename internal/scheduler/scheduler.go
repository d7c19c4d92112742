// Package scheduler implements the Agent's continuous bin-packing
// Scheduler (spec §4.2): the sole owner of a resource.Map, it assigns
// cores/GPUs/nodes to tasks pulled from an incoming queue, forwards
// successfully-scheduled tasks to the Executor, and holds unschedulable-
// for-now tasks on an internal FIFO pending list until a release event
// makes room.
package scheduler

import (
	"context"
	"fmt"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"

	"github.com/radical-cybertools/radical-pilot-agent/common/queue"
	"github.com/radical-cybertools/radical-pilot-agent/internal/bus"
	"github.com/radical-cybertools/radical-pilot-agent/internal/control"
	"github.com/radical-cybertools/radical-pilot-agent/internal/resource"
	"github.com/radical-cybertools/radical-pilot-agent/internal/state"
	"github.com/radical-cybertools/radical-pilot-agent/internal/task"
)

// initialPendingCapacity is just a starting backing-array size for the
// pending FIFO; it grows like any slice-backed queue beyond this.
const initialPendingCapacity = 16

// ErrUnschedulable is the terminal scheduling error from spec §4.2: the
// task's requirement exceeds any single configuration the allocation could
// ever provide, not merely what's currently free.
var ErrUnschedulable = resource.ErrUnschedulable

// Scheduler is the single-threaded, cooperative continuous bin-packer
// described in spec §4.2. It owns resourceMap exclusively; nothing else in
// the Agent may read or write Slot state directly.
type Scheduler struct {
	log logger.Logger

	resourceMap *resource.Map

	incoming    *bus.Queue[*task.Task]
	toExecutor  *bus.Queue[*task.Task]
	unschedule  *bus.PubSub[resource.Slots]
	stateEvents *bus.PubSub[task.Event]
	control     *bus.PubSub[control.Command]

	// pending holds tasks in AGENT_SCHEDULING_PENDING, in strict arrival
	// order. There is no reordering or priority escalation (spec §4.2
	// step 4): head-of-line blocking is accepted by design.
	pending *queue.Fifo[*task.Task]
}

// StateEvent is the Scheduler's name for task.Event, matching the
// {uid, state} shape of spec §4.6's update messages.
type StateEvent = task.Event

// New constructs a Scheduler over resourceMap, consuming tasks from
// incoming and forwarding scheduled tasks to toExecutor. unschedule is the
// pubsub the Executor/Staging-Output publish released Slots to once a task
// leaves {EXECUTING_PENDING, EXECUTING, STAGING_OUTPUT_PENDING}. ctrl may be
// nil in tests that don't exercise cancellation.
func New(resourceMap *resource.Map, incoming, toExecutor *bus.Queue[*task.Task], unschedule *bus.PubSub[resource.Slots], stateEvents *bus.PubSub[task.Event], ctrl *bus.PubSub[control.Command]) *Scheduler {
	s := &Scheduler{
		resourceMap: resourceMap,
		incoming:    incoming,
		toExecutor:  toExecutor,
		unschedule:  unschedule,
		stateEvents: stateEvents,
		control:     ctrl,
		pending:     queue.NewFifo[*task.Task](initialPendingCapacity),
	}
	config.InitLogger(&s.log, s)
	return s
}

// Run drives the Scheduler's event loop until ctx is canceled. It consumes
// newly-arrived tasks from incoming and release events from unschedule,
// interleaved, exactly as spec §5 describes a single-threaded component
// suspending at I/O boundaries.
func (s *Scheduler) Run(ctx context.Context) error {
	released := s.unschedule.Subscribe("", 64)
	arrivals := s.incoming.Stream(ctx)

	var commands <-chan control.Command
	if s.control != nil {
		commands = s.control.Subscribe("", 64)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case slots, ok := <-released:
			if !ok {
				return nil
			}
			if err := s.resourceMap.Release(slots); err != nil {
				s.log.Error("releasing slots: %v", err)
				continue
			}
			s.redrivePending(ctx)

		case t, ok := <-arrivals:
			if !ok {
				return nil
			}
			s.handleArrival(ctx, t)

		case cmd, ok := <-commands:
			if !ok {
				commands = nil
				continue
			}
			s.handleControl(ctx, cmd)
		}
	}
}

// handleControl applies a Control command to the pending FIFO: a task
// still sitting in AGENT_SCHEDULING_PENDING has never been placed, so
// canceling it is just a removal from pending followed by a CANCELED
// publish, with no resource.Map mutation involved (spec §4.2 Testable
// Property #4).
func (s *Scheduler) handleControl(ctx context.Context, cmd control.Command) {
	switch cmd.Op {
	case control.CancelTask:
		match := make(map[string]bool, len(cmd.UIDs))
		for _, uid := range cmd.UIDs {
			match[uid] = true
		}
		s.cancelPending(ctx, match)
	case control.CancelPilot, control.Shutdown:
		s.cancelPending(ctx, nil)
	}
}

// cancelPending removes every pending task whose UID is in match (or every
// pending task, if match is nil — cancel_pilot/shutdown) and advances each
// to CANCELED. Tasks that don't match are re-enqueued in their original
// relative order, mirroring redrivePending's one-pass walk.
func (s *Scheduler) cancelPending(ctx context.Context, match map[string]bool) {
	for n := s.pending.Len(); n > 0; n-- {
		t, ok := s.pending.Dequeue()
		if !ok {
			break
		}
		if match == nil || match[t.UID] {
			s.cancel(ctx, t)
			continue
		}
		s.pending.Enqueue(t)
	}
}

func (s *Scheduler) cancel(ctx context.Context, t *task.Task) {
	if err := t.Advance(state.Canceled); err != nil {
		s.log.Error("task %s: %v", t.UID, err)
		return
	}
	s.publish(ctx, t, nil)
}

// handleArrival implements spec §4.2 for one newly-arrived task (bulk
// arrivals are just repeated calls to this — "the bulk is only a batching
// optimization on the queue consumer").
func (s *Scheduler) handleArrival(ctx context.Context, t *task.Task) {
	req := requestFor(t)

	if !s.resourceMap.Fits(req) {
		s.fail(ctx, t, fmt.Errorf("%w: %s", ErrUnschedulable, describeReq(req)))
		return
	}

	slots, ok := s.attemptPlace(req)
	if !ok {
		if t.State() != state.AgentSchedulingPending {
			if err := t.Advance(state.AgentSchedulingPending); err != nil {
				s.log.Error("task %s: %v", t.UID, err)
				return
			}
			s.publish(ctx, t, nil)
		}
		s.pending.Enqueue(t)
		return
	}

	if err := t.Advance(state.AgentScheduling); err != nil {
		s.log.Error("task %s: %v", t.UID, err)
		return
	}
	s.commit(ctx, t, slots)
}

// redrivePending re-attempts every task currently in AGENT_SCHEDULING_PENDING,
// in FIFO order, exactly once each (spec §4.2: "re-drive the pending queue
// — one pass"). Tasks that still don't fit are re-enqueued at the back in
// their original relative order, since this dequeues exactly the number of
// tasks present at the start of the pass.
func (s *Scheduler) redrivePending(ctx context.Context) {
	for n := s.pending.Len(); n > 0; n-- {
		t, ok := s.pending.Dequeue()
		if !ok {
			break
		}
		req := requestFor(t)
		slots, placeOk := s.attemptPlace(req)
		if !placeOk {
			s.pending.Enqueue(t)
			continue
		}
		s.commit(ctx, t, slots)
	}
}

func (s *Scheduler) attemptPlace(req Request) (resource.Slots, bool) {
	if req.MPI {
		return s.resourceMap.PlaceMPI(req)
	}
	return s.resourceMap.PlaceSingleRank(req)
}

func (s *Scheduler) commit(ctx context.Context, t *task.Task, slots resource.Slots) {
	t.Slots = slots
	if err := t.Advance(state.AgentExecutingPending); err != nil {
		s.log.Error("task %s: %v", t.UID, err)
		return
	}
	s.publish(ctx, t, nil)
	if err := s.toExecutor.Push(ctx, t); err != nil {
		s.log.Error("forwarding task %s to executor: %v", t.UID, err)
	}
}

func (s *Scheduler) fail(ctx context.Context, t *task.Task, err error) {
	t.Error = err
	if advErr := t.Advance(state.Failed); advErr != nil {
		s.log.Error("task %s: %v", t.UID, advErr)
	}
	s.publish(ctx, t, err)
}

func (s *Scheduler) publish(ctx context.Context, t *task.Task, err error) {
	if s.stateEvents == nil {
		return
	}
	if pubErr := s.stateEvents.Publish(ctx, "task", StateEvent{UID: t.UID, State: t.State(), Error: err}); pubErr != nil {
		s.log.Error("publishing state event for %s: %v", t.UID, pubErr)
	}
}

// Request is an alias kept local to this package's call sites for
// readability; it is exactly resource.Request.
type Request = resource.Request

func requestFor(t *task.Task) Request {
	d := t.Description
	return Request{
		Ranks:        d.Ranks,
		CoresPerRank: d.CoresPerRank,
		GPUsPerRank:  d.GPUsPerRank,
		LFSPerRankMB: d.LFSPerRank,
		MemPerRankMB: d.MemPerRank,
		MPI:          d.Threading.MPI(),
	}
}

func describeReq(r Request) string {
	return fmt.Sprintf("ranks=%d cores/rank=%d gpus/rank=%d mpi=%v", r.Ranks, r.CoresPerRank, r.GPUsPerRank, r.MPI)
}

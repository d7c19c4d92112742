package raptor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"

	"github.com/radical-cybertools/radical-pilot-agent/internal/bus"
	"github.com/radical-cybertools/radical-pilot-agent/internal/control"
	"github.com/radical-cybertools/radical-pilot-agent/internal/state"
	"github.com/radical-cybertools/radical-pilot-agent/internal/task"
)

// workerHeartbeatTimeout is how long a Worker may go without a heartbeat
// before the Master treats it as lost. Worker loss is left
// implementation-defined by the originating spec; this implementation
// requeues the lost worker's in-flight tasks to the Master for redispatch
// to a live worker rather than failing or dropping them, since losing a
// user function's result silently is worse than a bounded re-run
// elsewhere.
const workerHeartbeatTimeout = 15 * time.Second

// Master hosts the RAPTOR scheduling queue: it receives inner tasks
// targeted at RAPTOR directly, bypassing the normal Scheduler (spec
// §4.7), and dispatches each to whichever registered Worker currently
// holds the fewest in-flight tasks.
type Master struct {
	log logger.Logger

	inbox   *bus.Queue[*task.Task]
	results *bus.PubSub[task.Event]
	control *bus.PubSub[control.Command]

	mu       sync.Mutex
	workers  map[string]*workerHandle
	canceled map[string]bool
}

type workerHandle struct {
	id       string
	queue    *bus.Queue[*task.Task]
	lastSeen time.Time
	tasks    map[string]*task.Task
}

// NewMaster constructs a Master consuming inner RAPTOR tasks from inbox
// and publishing their completion/failure events onto results. ctrl may be
// nil in tests that don't exercise cancellation.
func NewMaster(inbox *bus.Queue[*task.Task], results *bus.PubSub[task.Event], ctrl *bus.PubSub[control.Command]) *Master {
	m := &Master{
		inbox:    inbox,
		results:  results,
		control:  ctrl,
		workers:  make(map[string]*workerHandle),
		canceled: make(map[string]bool),
	}
	config.InitLogger(&m.log, m)
	return m
}

// RegisterWorker adds a Worker's dispatch queue to the pool under id.
func (m *Master) RegisterWorker(id string, queue *bus.Queue[*task.Task]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers[id] = &workerHandle{id: id, queue: queue, lastSeen: now(), tasks: make(map[string]*task.Task)}
}

// Heartbeat records that worker id is still alive.
func (m *Master) Heartbeat(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.workers[id]; ok {
		w.lastSeen = now()
	}
}

// Complete removes uid from worker id's in-flight set once the Worker has
// reported its terminal state, whatever that state was.
func (m *Master) Complete(id, uid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.workers[id]; ok {
		delete(w.tasks, uid)
	}
}

// Run dispatches inner tasks to the least-loaded live worker and
// periodically sweeps for workers that have gone silent past
// workerHeartbeatTimeout, requeuing their in-flight tasks back onto
// inbox.
func (m *Master) Run(ctx context.Context) error {
	arrivals := m.inbox.Stream(ctx)
	ticker := time.NewTicker(workerHeartbeatTimeout / 3)
	defer ticker.Stop()

	var commands <-chan control.Command
	if m.control != nil {
		commands = m.control.Subscribe("", 64)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case t, ok := <-arrivals:
			if !ok {
				return nil
			}
			m.dispatch(ctx, t)

		case <-ticker.C:
			m.sweepLostWorkers(ctx)

		case cmd, ok := <-commands:
			if !ok {
				commands = nil
				continue
			}
			m.handleControl(cmd)
		}
	}
}

// handleControl records which UIDs a cancel_task/cancel_pilot targets.
// dispatch consults this set for a task still waiting in inbox; a task
// already handed to a Worker is canceled there instead, since the Worker
// is the one actually running it (both subscribe to the same Control
// pubsub independently, spec §4.7 "honors cancellation").
func (m *Master) handleControl(cmd control.Command) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch cmd.Op {
	case control.CancelTask:
		for _, uid := range cmd.UIDs {
			m.canceled[uid] = true
		}
	case control.CancelPilot, control.Shutdown:
		for _, w := range m.workers {
			for uid := range w.tasks {
				m.canceled[uid] = true
			}
		}
	}
}

func (m *Master) dispatch(ctx context.Context, t *task.Task) {
	m.mu.Lock()
	if m.canceled[t.UID] {
		delete(m.canceled, t.UID)
		m.mu.Unlock()
		m.cancel(ctx, t)
		return
	}

	var chosen *workerHandle
	for _, w := range m.workers {
		if chosen == nil || len(w.tasks) < len(chosen.tasks) {
			chosen = w
		}
	}
	if chosen != nil {
		chosen.tasks[t.UID] = t
	}
	m.mu.Unlock()

	if chosen == nil {
		m.fail(ctx, t, fmt.Errorf("raptor: no worker registered"))
		return
	}
	if err := chosen.queue.Push(ctx, t); err != nil {
		m.mu.Lock()
		delete(chosen.tasks, t.UID)
		m.mu.Unlock()
		m.fail(ctx, t, fmt.Errorf("raptor: dispatch to worker %s: %w", chosen.id, err))
	}
}

func (m *Master) cancel(ctx context.Context, t *task.Task) {
	if err := t.Advance(state.Canceled); err != nil {
		m.log.Error("task %s: %v", t.UID, err)
		return
	}
	if m.results == nil {
		return
	}
	if pubErr := m.results.Publish(ctx, "task", task.Event{UID: t.UID, State: t.State()}); pubErr != nil {
		m.log.Error("publishing raptor cancellation for %s: %v", t.UID, pubErr)
	}
}

// sweepLostWorkers drops every worker whose heartbeat is older than
// workerHeartbeatTimeout and redispatches its in-flight tasks.
func (m *Master) sweepLostWorkers(ctx context.Context) {
	cutoff := now().Add(-workerHeartbeatTimeout)

	m.mu.Lock()
	var lostTasks []*task.Task
	for id, w := range m.workers {
		if w.lastSeen.Before(cutoff) {
			for _, t := range w.tasks {
				lostTasks = append(lostTasks, t)
			}
			delete(m.workers, id)
			m.log.Error("raptor: worker %s lost (no heartbeat for %s), requeuing %d task(s)", id, workerHeartbeatTimeout, len(w.tasks))
		}
	}
	m.mu.Unlock()

	for _, t := range lostTasks {
		m.dispatch(ctx, t)
	}
}

func (m *Master) fail(ctx context.Context, t *task.Task, err error) {
	t.Error = err
	if advErr := t.Advance(state.Failed); advErr != nil {
		m.log.Error("task %s: %v", t.UID, advErr)
	}
	if m.results == nil {
		return
	}
	if pubErr := m.results.Publish(ctx, "task", task.Event{UID: t.UID, State: t.State(), Error: err}); pubErr != nil {
		m.log.Error("publishing raptor failure for %s: %v", t.UID, pubErr)
	}
}

var now = time.Now

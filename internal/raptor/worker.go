package raptor

import (
	"context"
	"sync"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"

	"github.com/radical-cybertools/radical-pilot-agent/internal/bus"
	"github.com/radical-cybertools/radical-pilot-agent/internal/control"
	"github.com/radical-cybertools/radical-pilot-agent/internal/state"
	"github.com/radical-cybertools/radical-pilot-agent/internal/task"
)

// heartbeatInterval is how often a Worker reports liveness to its Master,
// comfortably under workerHeartbeatTimeout so a healthy Worker is never
// mistaken for lost.
const heartbeatInterval = workerHeartbeatTimeout / 5

// InnerRunner executes one RAPTOR inner task according to its Mode and
// returns its result or an error. Supplied by the agent wiring layer:
// TASK_FUNCTION calls back into a registered function table, TASK_PROC /
// TASK_SHELL / TASK_EXEC spawn a subprocess, and TASK_EVAL always fails
// under DefaultRunner, which carries no expression interpreter — RAPTOR
// itself is agnostic to which.
type InnerRunner func(ctx context.Context, t *task.Task) (result string, err error)

// Worker pulls inner tasks from its dispatch queue and executes them with
// an InnerRunner, reporting completion and heartbeats back to its Master.
type Worker struct {
	log logger.Logger

	id      string
	queue   *bus.Queue[*task.Task]
	run     InnerRunner
	master  *Master
	control *bus.PubSub[control.Command]

	results *bus.PubSub[task.Event]

	mu        sync.Mutex
	curUID    string
	curCancel context.CancelFunc
}

// NewWorker constructs a Worker named id, draining queue with run, and
// reporting liveness and results to master. ctrl may be nil in tests that
// don't exercise cancellation.
func NewWorker(id string, queue *bus.Queue[*task.Task], run InnerRunner, master *Master, results *bus.PubSub[task.Event], ctrl *bus.PubSub[control.Command]) *Worker {
	w := &Worker{id: id, queue: queue, run: run, master: master, results: results, control: ctrl}
	config.InitLogger(&w.log, w)
	return w
}

// Run registers with master and drains queue until ctx is canceled,
// heartbeating on a fixed interval so a crashed or partitioned Worker is
// detected promptly (spec §4.7 worker-loss handling, an Open Question
// this implementation resolves by requeuing rather than dropping). Each
// task's execute runs in its own goroutine against a per-task cancelable
// context so a Control command can interrupt a task in flight without
// blocking heartbeats or command processing for the rest of its runtime;
// only one task runs at a time, so a second arrival waits for done.
func (w *Worker) Run(ctx context.Context) error {
	w.master.RegisterWorker(w.id, w.queue)

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	var commands <-chan control.Command
	if w.control != nil {
		commands = w.control.Subscribe("", 64)
	}

	tasks := w.queue.Stream(ctx)
	var busy bool
	var done chan struct{}

	for {
		var nextTasks <-chan *task.Task
		if !busy {
			nextTasks = tasks
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			w.master.Heartbeat(w.id)

		case cmd, ok := <-commands:
			if !ok {
				commands = nil
				continue
			}
			w.handleControl(cmd)

		case t, ok := <-nextTasks:
			if !ok {
				return nil
			}
			busy = true
			done = make(chan struct{})
			go func() {
				defer close(done)
				w.execute(ctx, t)
			}()

		case <-done:
			busy = false
			done = nil
			w.master.Heartbeat(w.id)
		}
	}
}

// handleControl interrupts the currently running task's runCtx if it
// matches cmd. A task not yet running (still queued) is handled by the
// Master, which checks its own canceled set before ever dispatching.
func (w *Worker) handleControl(cmd control.Command) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.curCancel == nil {
		return
	}
	switch cmd.Op {
	case control.CancelTask:
		for _, uid := range cmd.UIDs {
			if uid == w.curUID {
				w.curCancel()
				return
			}
		}
	case control.CancelPilot, control.Shutdown:
		w.curCancel()
	}
}

// execute honors cancellation and state reporting even though RAPTOR
// bypasses the normal Scheduler (spec §4.7). It tolerates a task that
// arrives already in AGENT_EXECUTING: that happens when the Master
// redispatches a task after its previous Worker was declared lost.
func (w *Worker) execute(ctx context.Context, t *task.Task) {
	defer w.master.Complete(w.id, t.UID)

	runCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.curUID, w.curCancel = t.UID, cancel
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.curUID, w.curCancel = "", nil
		w.mu.Unlock()
		cancel()
	}()

	if t.State() != state.AgentExecuting {
		if err := t.Advance(state.AgentExecuting); err != nil {
			w.log.Error("task %s: %v", t.UID, err)
			return
		}
		w.publish(ctx, t, nil)
	}

	_, err := w.run(runCtx, t)
	if err != nil {
		if runCtx.Err() != nil {
			w.canceled(ctx, t)
			return
		}
		t.Error = err
		if advErr := t.Advance(state.Failed); advErr != nil {
			w.log.Error("task %s: %v", t.UID, advErr)
			return
		}
		w.publish(ctx, t, err)
		return
	}

	if err := t.Advance(state.Done); err != nil {
		w.log.Error("task %s: %v", t.UID, err)
		return
	}
	w.publish(ctx, t, nil)
}

func (w *Worker) canceled(ctx context.Context, t *task.Task) {
	if err := t.Advance(state.Canceled); err != nil {
		w.log.Error("task %s: %v", t.UID, err)
		return
	}
	w.publish(ctx, t, nil)
}

func (w *Worker) publish(ctx context.Context, t *task.Task, err error) {
	if w.results == nil {
		return
	}
	if pubErr := w.results.Publish(ctx, "task", task.Event{UID: t.UID, State: t.State(), Error: err}); pubErr != nil {
		w.log.Error("publishing state event for %s: %v", t.UID, pubErr)
	}
}

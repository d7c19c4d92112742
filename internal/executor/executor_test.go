package executor_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/radical-cybertools/radical-pilot-agent/internal/bus"
	"github.com/radical-cybertools/radical-pilot-agent/internal/control"
	"github.com/radical-cybertools/radical-pilot-agent/internal/executor"
	"github.com/radical-cybertools/radical-pilot-agent/internal/launch"
	"github.com/radical-cybertools/radical-pilot-agent/internal/resource"
	"github.com/radical-cybertools/radical-pilot-agent/internal/state"
	"github.com/radical-cybertools/radical-pilot-agent/internal/task"
)

func forkRegistry() *launch.Registry {
	r := launch.NewRegistry()
	r.Register(launch.NewFORK(nil))
	r.SetOrder([]string{"FORK"})
	return r
}

// untilMatch drains sub until a value satisfying match arrives or timeout
// elapses, since more than one state event may precede the one under test.
func untilMatch(sub <-chan task.Event, timeout time.Duration, match func(task.Event) bool) task.Event {
	deadline := time.After(timeout)
	for {
		select {
		case e := <-sub:
			if match(e) {
				return e
			}
		case <-deadline:
			return task.Event{}
		}
	}
}

var _ = Describe("Executor", func() {
	var (
		ctx        context.Context
		cancel     context.CancelFunc
		incoming   *bus.Queue[*task.Task]
		toStaging  *bus.Queue[*task.Task]
		unschedule *bus.PubSub[resource.Slots]
		events     *bus.PubSub[task.Event]
		ctrl       *bus.PubSub[control.Command]
		exec       *executor.Executor
		done       chan error
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		incoming = bus.NewLocalQueue[*task.Task](8)
		toStaging = bus.NewLocalQueue[*task.Task](8)
		unschedule = bus.NewLocalPubSub[resource.Slots]()
		events = bus.NewLocalPubSub[task.Event]()
		ctrl = bus.NewLocalPubSub[control.Command]()
		exec = executor.New(forkRegistry(), incoming, toStaging, unschedule, events, ctrl)

		done = make(chan error, 1)
		go func() { done <- exec.Run(ctx) }()
	})

	AfterEach(func() {
		cancel()
		Eventually(done, 2*time.Second).Should(Receive())
	})

	newTask := func(uid, executable string, args ...string) *task.Task {
		tk := task.New(uid, task.Description{
			Executable: executable,
			Arguments:  args,
			Ranks:      1,
			Sandbox:    GinkgoT().TempDir(),
		})
		tk.Slots = resource.Slots{{NodeID: "n0", CoreIDs: []int{0}}}
		Expect(tk.Advance(state.AgentStagingInputPending)).To(Succeed())
		Expect(tk.Advance(state.AgentStagingInput)).To(Succeed())
		Expect(tk.Advance(state.AgentSchedulingPending)).To(Succeed())
		Expect(tk.Advance(state.AgentScheduling)).To(Succeed())
		Expect(tk.Advance(state.AgentExecutingPending)).To(Succeed())
		return tk
	}

	It("runs a successful task through to AGENT_STAGING_OUTPUT_PENDING without releasing its slots", func() {
		released := unschedule.Subscribe("slots", 4)
		tk := newTask("t.ok", "/bin/echo", "hello")

		Expect(incoming.Push(ctx, tk)).To(Succeed())

		fctx, fcancel := context.WithTimeout(ctx, 2*time.Second)
		defer fcancel()
		forwarded, err := toStaging.Pop(fctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(forwarded.UID).To(Equal("t.ok"))
		Expect(forwarded.State()).To(Equal(state.AgentStagingOutputPending))
		Expect(forwarded.ExitCode).To(Equal(0))

		// AGENT_STAGING_OUTPUT_PENDING isn't final for the Executor: the
		// task's sandbox, and therefore its Slots, are still in use by
		// Staging-Output. Releasing here would let a second task be
		// scheduled onto slots this one's sandbox still occupies.
		Consistently(released, 200*time.Millisecond).ShouldNot(Receive())
	})

	It("fails a task whose command exits non-zero and releases its slots", func() {
		sub := events.Subscribe("task", 8)
		released := unschedule.Subscribe("slots", 4)
		tk := newTask("t.fail", "/bin/false")

		Expect(incoming.Push(ctx, tk)).To(Succeed())

		evt := untilMatch(sub, 2*time.Second, func(e task.Event) bool {
			return e.UID == "t.fail" && e.State == state.Failed
		})
		Expect(evt.UID).To(Equal("t.fail"))
		Expect(evt.Error).To(HaveOccurred())
		Expect(tk.ExitCode).NotTo(Equal(0))

		Eventually(released).Should(Receive())
	})

	It("fails LMUnavailable without ever spawning a process, for a task no registered method accepts", func() {
		sub := events.Subscribe("task", 8)
		tk := newTask("t.mpi", "/bin/echo")
		tk.Description.Threading = task.ThreadingMPI
		tk.Description.Ranks = 4

		Expect(incoming.Push(ctx, tk)).To(Succeed())
		evt := untilMatch(sub, 2*time.Second, func(e task.Event) bool { return e.UID == "t.mpi" })
		Expect(evt.State).To(Equal(state.Failed))
		Expect(evt.Error).To(MatchError(executor.ErrLMUnavailable))
	})

	It("cancels a running task on a cancel_task control command", func() {
		released := unschedule.Subscribe("slots", 4)
		tk := newTask("t.cancel", "/bin/sleep", "5")

		Expect(incoming.Push(ctx, tk)).To(Succeed())
		Eventually(func() state.Task { return tk.State() }, 2*time.Second).Should(Equal(state.AgentExecuting))

		Expect(ctrl.Publish(ctx, "", control.Command{Op: control.CancelTask, UIDs: []string{"t.cancel"}})).To(Succeed())

		Eventually(func() state.Task { return tk.State() }, 3*time.Second).Should(Equal(state.Canceled))
		Eventually(released).Should(Receive())
	})
})

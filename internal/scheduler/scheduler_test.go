package scheduler_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/radical-cybertools/radical-pilot-agent/internal/bus"
	"github.com/radical-cybertools/radical-pilot-agent/internal/control"
	"github.com/radical-cybertools/radical-pilot-agent/internal/resource"
	"github.com/radical-cybertools/radical-pilot-agent/internal/scheduler"
	"github.com/radical-cybertools/radical-pilot-agent/internal/state"
	"github.com/radical-cybertools/radical-pilot-agent/internal/task"
)

func oneNodeMap(cores int) *resource.Map {
	n := resource.NewNode("n0", "node0", cores, 0, "", 0, 0, nil, nil)
	return resource.NewMap([]*resource.Node{n})
}

// popInto pops from q in a background goroutine and returns a channel
// the test can assert against with Eventually, since Pop blocks.
func popInto(ctx context.Context, q *bus.Queue[*task.Task]) <-chan *task.Task {
	out := make(chan *task.Task, 1)
	go func() {
		t, err := q.Pop(ctx)
		if err == nil {
			out <- t
		}
	}()
	return out
}

var _ = Describe("Scheduler", func() {
	var (
		ctx        context.Context
		cancel     context.CancelFunc
		rmap       *resource.Map
		incoming   *bus.Queue[*task.Task]
		toExecutor *bus.Queue[*task.Task]
		unschedule *bus.PubSub[resource.Slots]
		events     *bus.PubSub[task.Event]
		ctrl       *bus.PubSub[control.Command]
		sched      *scheduler.Scheduler
		done       chan error
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		rmap = oneNodeMap(4)
		incoming = bus.NewLocalQueue[*task.Task](8)
		toExecutor = bus.NewLocalQueue[*task.Task](8)
		unschedule = bus.NewLocalPubSub[resource.Slots]()
		events = bus.NewLocalPubSub[task.Event]()
		ctrl = bus.NewLocalPubSub[control.Command]()
		sched = scheduler.New(rmap, incoming, toExecutor, unschedule, events, ctrl)

		done = make(chan error, 1)
		go func() { done <- sched.Run(ctx) }()
	})

	AfterEach(func() {
		cancel()
		Eventually(done).Should(Receive())
	})

	It("places a task that fits and forwards it to the executor queue", func() {
		tk := task.New("t.0", task.Description{Ranks: 1, CoresPerRank: 2})
		forwarded := popInto(ctx, toExecutor)

		Expect(incoming.Push(ctx, tk)).To(Succeed())

		var got *task.Task
		Eventually(forwarded).Should(Receive(&got))
		Expect(got.UID).To(Equal("t.0"))
		Expect(got.State()).To(Equal(state.AgentExecutingPending))
		Expect(got.Slots).To(HaveLen(1))
		Expect(rmap.BusyCores()).To(Equal(2))
	})

	It("fails a task outright whose requirement exceeds the whole allocation", func() {
		sub := events.Subscribe("task", 8)
		tk := task.New("t.1", task.Description{Ranks: 1, CoresPerRank: 99})

		Expect(incoming.Push(ctx, tk)).To(Succeed())

		var evt task.Event
		Eventually(sub).Should(Receive(&evt))
		Expect(evt.UID).To(Equal("t.1"))
		Expect(evt.State).To(Equal(state.Failed))
		Expect(evt.Error).To(MatchError(scheduler.ErrUnschedulable))
	})

	It("holds a transiently-unschedulable task pending and places it once slots free up", func() {
		first := task.New("t.first", task.Description{Ranks: 1, CoresPerRank: 4})
		forwardedFirst := popInto(ctx, toExecutor)
		Expect(incoming.Push(ctx, first)).To(Succeed())

		var gotFirst *task.Task
		Eventually(forwardedFirst).Should(Receive(&gotFirst))
		Expect(rmap.BusyCores()).To(Equal(4))

		second := task.New("t.second", task.Description{Ranks: 1, CoresPerRank: 2})
		sub := events.Subscribe("task", 8)
		Expect(incoming.Push(ctx, second)).To(Succeed())

		var pendingEvt task.Event
		Eventually(sub).Should(Receive(&pendingEvt))
		Expect(pendingEvt.UID).To(Equal("t.second"))
		Expect(pendingEvt.State).To(Equal(state.AgentSchedulingPending))

		forwardedSecond := popInto(ctx, toExecutor)
		Expect(unschedule.Publish(ctx, "", gotFirst.Slots)).To(Succeed())

		var gotSecond *task.Task
		Eventually(forwardedSecond).Should(Receive(&gotSecond))
		Expect(gotSecond.UID).To(Equal("t.second"))
	})

	It("places an MPI task across the allocation honoring the MPI request shape", func() {
		tk := task.New("t.mpi", task.Description{Ranks: 4, CoresPerRank: 1, Threading: task.ThreadingMPI})
		forwarded := popInto(ctx, toExecutor)

		Expect(incoming.Push(ctx, tk)).To(Succeed())

		var got *task.Task
		Eventually(forwarded).Should(Receive(&got))
		Expect(got.Slots).To(HaveLen(4))
	})

	It("cancels a task still sitting in AGENT_SCHEDULING_PENDING on a cancel_task command", func() {
		first := task.New("t.holder", task.Description{Ranks: 1, CoresPerRank: 4})
		forwardedFirst := popInto(ctx, toExecutor)
		Expect(incoming.Push(ctx, first)).To(Succeed())
		Eventually(forwardedFirst).Should(Receive())

		pending := task.New("t.pending", task.Description{Ranks: 1, CoresPerRank: 2})
		sub := events.Subscribe("task", 8)
		Expect(incoming.Push(ctx, pending)).To(Succeed())

		var pendingEvt task.Event
		Eventually(sub).Should(Receive(&pendingEvt))
		Expect(pendingEvt.State).To(Equal(state.AgentSchedulingPending))

		Expect(ctrl.Publish(ctx, "", control.Command{Op: control.CancelTask, UIDs: []string{"t.pending"}})).To(Succeed())

		var canceledEvt task.Event
		Eventually(sub).Should(Receive(&canceledEvt))
		Expect(canceledEvt.UID).To(Equal("t.pending"))
		Expect(canceledEvt.State).To(Equal(state.Canceled))
		Expect(pending.State()).To(Equal(state.Canceled))
	})
})

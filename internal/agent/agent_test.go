package agent_test

import (
	"context"
	"fmt"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/radical-cybertools/radical-pilot-agent/internal/agent"
	"github.com/radical-cybertools/radical-pilot-agent/internal/bus"
	rpconfig "github.com/radical-cybertools/radical-pilot-agent/internal/config"
	"github.com/radical-cybertools/radical-pilot-agent/internal/raptor"
	"github.com/radical-cybertools/radical-pilot-agent/internal/task"
	"github.com/radical-cybertools/radical-pilot-agent/internal/update"
)

// fakeEnviron is an in-memory resourcemgr.Environ so tests never depend on
// the real process environment or filesystem to discover an allocation.
type fakeEnviron struct{ vars map[string]string }

func (f fakeEnviron) Getenv(key string) string { return f.vars[key] }
func (f fakeEnviron) ReadFile(path string) ([]byte, error) {
	return nil, fmt.Errorf("no such file: %s", path)
}

func forkPlatform() rpconfig.Platform {
	return rpconfig.Platform{
		ResourceManager: rpconfig.RMFORK,
		CoresPerNode:    4,
		GPUsPerNode:     0,
		LaunchMethods:   rpconfig.LaunchMethods{Order: []string{"FORK"}},
	}
}

// untilMessage drains sub until a Message satisfying match arrives.
func untilMessage(sub <-chan update.Message, timeout time.Duration, match func(update.Message) bool) update.Message {
	deadline := time.After(timeout)
	for {
		select {
		case m := <-sub:
			if match(m) {
				return m
			}
		case <-deadline:
			return update.Message{}
		}
	}
}

var _ = Describe("Agent end-to-end", func() {
	var (
		sandboxDir string
		transport  *bus.Queue[update.Message]
		ctx        context.Context
		cancel     context.CancelFunc
	)

	BeforeEach(func() {
		sandboxDir = GinkgoT().TempDir()
		os.Setenv("RP_CLIENT_SANDBOX", sandboxDir)
		os.Setenv("RP_SESSION_SANDBOX", sandboxDir)
		os.Setenv("RP_PILOT_SANDBOX", sandboxDir)
		DeferCleanup(func() {
			os.Unsetenv("RP_CLIENT_SANDBOX")
			os.Unsetenv("RP_SESSION_SANDBOX")
			os.Unsetenv("RP_PILOT_SANDBOX")
		})

		transport = bus.NewLocalQueue[update.Message](64)
		ctx, cancel = context.WithCancel(context.Background())
	})

	// startAgent runs a within this test's ctx and arranges for ctx to be
	// canceled, and a.Run to have returned, before the test ends.
	startAgent := func(a *agent.Agent, workers ...*raptor.Worker) {
		done := make(chan error, 1)
		go func() { done <- a.Run(ctx, workers...) }()
		DeferCleanup(func() {
			cancel()
			Eventually(done, 3*time.Second).Should(Receive())
		})
	}

	It("carries a single-rank task from submission through to DONE", func() {
		a, err := agent.New(forkPlatform(), fakeEnviron{vars: map[string]string{"RADICAL_NODENAME": "login1"}}, transport)
		Expect(err).NotTo(HaveOccurred())

		startAgent(a)

		sub := make(chan update.Message, 64)
		go func() {
			for {
				fctx, fcancel := context.WithTimeout(ctx, 3*time.Second)
				m, err := transport.Pop(fctx)
				fcancel()
				if err != nil {
					return
				}
				sub <- m
			}
		}()

		tk, err := a.Submit(ctx, task.Description{
			Executable: "/bin/echo",
			Arguments:  []string{"hi"},
			Ranks:      1,
			Sandbox:    GinkgoT().TempDir(),
		})
		Expect(err).NotTo(HaveOccurred())

		msg := untilMessage(sub, 3*time.Second, func(m update.Message) bool {
			return m.UID == tk.UID && m.State == "DONE"
		})
		Expect(msg.UID).To(Equal(tk.UID))
	})

	It("fails a task whose resource request exceeds the whole allocation", func() {
		a, err := agent.New(forkPlatform(), fakeEnviron{vars: map[string]string{"RADICAL_NODENAME": "login1"}}, transport)
		Expect(err).NotTo(HaveOccurred())

		startAgent(a)

		sub := make(chan update.Message, 64)
		go func() {
			for {
				fctx, fcancel := context.WithTimeout(ctx, 3*time.Second)
				m, err := transport.Pop(fctx)
				fcancel()
				if err != nil {
					return
				}
				sub <- m
			}
		}()

		tk, err := a.Submit(ctx, task.Description{
			Executable:   "/bin/echo",
			Ranks:        1,
			CoresPerRank: 99,
			Sandbox:      GinkgoT().TempDir(),
		})
		Expect(err).NotTo(HaveOccurred())

		msg := untilMessage(sub, 3*time.Second, func(m update.Message) bool {
			return m.UID == tk.UID && m.State == "FAILED"
		})
		Expect(msg.UID).To(Equal(tk.UID))
	})

	It("dispatches a RAPTOR-targeted task to a registered worker instead of the normal pipeline", func() {
		a, err := agent.New(forkPlatform(), fakeEnviron{vars: map[string]string{"RADICAL_NODENAME": "login1"}}, transport)
		Expect(err).NotTo(HaveOccurred())

		worker := a.AddRaptorWorker("w0", func(ctx context.Context, t *task.Task) (string, error) {
			return "ok", nil
		})

		startAgent(a, worker)

		// Give the worker's Run goroutine a chance to register with the
		// master before submitting, since dispatch only reaches a worker
		// registered by the time the task arrives.
		time.Sleep(100 * time.Millisecond)

		sub := make(chan update.Message, 64)
		go func() {
			for {
				fctx, fcancel := context.WithTimeout(ctx, 3*time.Second)
				m, err := transport.Pop(fctx)
				fcancel()
				if err != nil {
					return
				}
				sub <- m
			}
		}()

		tk, err := a.Submit(ctx, task.Description{RaptorMode: "TASK_FUNCTION"})
		Expect(err).NotTo(HaveOccurred())

		msg := untilMessage(sub, 3*time.Second, func(m update.Message) bool {
			return m.UID == tk.UID && m.State == "DONE"
		})
		Expect(msg.UID).To(Equal(tk.UID))
	})
})

package update_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/radical-cybertools/radical-pilot-agent/internal/bus"
	"github.com/radical-cybertools/radical-pilot-agent/internal/state"
	"github.com/radical-cybertools/radical-pilot-agent/internal/task"
	"github.com/radical-cybertools/radical-pilot-agent/internal/update"
)

var _ = Describe("Encode/Decode", func() {
	It("round-trips a Message through JSON", func() {
		msg := update.Message{UID: "t.0", ETYPE: "state", State: "DONE", Details: "x"}
		b, err := update.Encode(msg)
		Expect(err).NotTo(HaveOccurred())

		got, err := update.Decode(b)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.UID).To(Equal("t.0"))
		Expect(got.State).To(Equal("DONE"))
		Expect(got.Details).To(Equal("x"))
	})
})

var _ = Describe("Sink", func() {
	It("forwards every published event as a Message onto the transport queue", func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		events := bus.NewLocalPubSub[task.Event]()
		transport := bus.NewLocalQueue[update.Message](8)
		sink := update.NewSink(events, transport)

		done := make(chan error, 1)
		go func() { done <- sink.Run(ctx) }()
		defer func() {
			cancel()
			Eventually(done, 2*time.Second).Should(Receive())
		}()

		Expect(events.Publish(ctx, "task", task.Event{UID: "t.0", State: state.Done})).To(Succeed())

		fctx, fcancel := context.WithTimeout(ctx, 2*time.Second)
		defer fcancel()
		msg, err := transport.Pop(fctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(msg.UID).To(Equal("t.0"))
		Expect(msg.State).To(Equal("DONE"))
		Expect(msg.Details).To(BeEmpty())
	})

	It("carries the error message in Details when the event failed", func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		events := bus.NewLocalPubSub[task.Event]()
		transport := bus.NewLocalQueue[update.Message](8)
		sink := update.NewSink(events, transport)

		done := make(chan error, 1)
		go func() { done <- sink.Run(ctx) }()
		defer func() {
			cancel()
			Eventually(done, 2*time.Second).Should(Receive())
		}()

		Expect(events.Publish(ctx, "task", task.Event{UID: "t.1", State: state.Failed, Error: errors.New("boom")})).To(Succeed())

		fctx, fcancel := context.WithTimeout(ctx, 2*time.Second)
		defer fcancel()
		msg, err := transport.Pop(fctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(msg.Details).To(Equal("boom"))
	})
})

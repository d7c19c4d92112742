package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-zeromq/zmq4"
)

// PubSub is a fan-out, topic-filtered channel: every Subscriber receives
// every message Published on a topic it subscribed to. Used for the state
// pubsub, the unschedule pubsub, and the control pubsub (spec §2, §4.6).
type PubSub[T any] struct {
	mu   sync.Mutex
	subs []*subscriber[T]

	pub zmq4.Socket
	sub zmq4.Socket
	enc Encoder[T]
	dec Decoder[T]
}

type subscriber[T any] struct {
	topic string
	ch    chan envelope[T]
}

type envelope[T any] struct {
	topic string
	msg   T
}

// NewLocalPubSub creates an in-process PubSub.
func NewLocalPubSub[T any]() *PubSub[T] {
	return &PubSub[T]{}
}

// NewPublisher binds a ZMQ PUB socket at endpoint.
func NewPublisher[T any](ctx context.Context, endpoint string, enc Encoder[T]) (*PubSub[T], error) {
	sock := zmq4.NewPub(ctx, SocketOptions()...)
	if err := sock.Listen(endpoint); err != nil {
		return nil, fmt.Errorf("bus: listen pub %s: %w", endpoint, err)
	}
	return &PubSub[T]{pub: sock, enc: enc}, nil
}

// NewSubscriber dials a ZMQ SUB socket to endpoint and subscribes to topic
// ("" subscribes to every topic).
func NewSubscriber[T any](ctx context.Context, endpoint, topic string, dec Decoder[T]) (*PubSub[T], error) {
	sock := zmq4.NewSub(ctx, SocketOptions()...)
	if err := sock.Dial(endpoint); err != nil {
		return nil, fmt.Errorf("bus: dial sub %s: %w", endpoint, err)
	}
	if err := sock.SetOption(zmq4.OptionSubscribe, topic); err != nil {
		return nil, fmt.Errorf("bus: subscribe %q: %w", topic, err)
	}
	return &PubSub[T]{sub: sock, dec: dec}, nil
}

// Subscribe registers a new in-process subscriber for topic ("" matches
// every topic) and returns its delivery channel. Every component in the
// pipeline that needs its own, independently-paced view of the stream
// (e.g. every Control subscriber, per spec §4.6) calls Subscribe once.
func (p *PubSub[T]) Subscribe(topic string, buffer int) <-chan T {
	p.mu.Lock()
	defer p.mu.Unlock()

	if buffer <= 0 {
		buffer = 16
	}
	sub := &subscriber[T]{topic: topic, ch: make(chan envelope[T], buffer)}
	p.subs = append(p.subs, sub)

	out := make(chan T, buffer)
	go func() {
		defer close(out)
		for e := range sub.ch {
			out <- e.msg
		}
	}()
	return out
}

// Publish fans msg out to every matching in-process subscriber (local
// mode) or sends it on the bound PUB socket (remote mode), prefixed with
// topic for ZMQ's native topic filtering.
func (p *PubSub[T]) Publish(ctx context.Context, topic string, msg T) error {
	if p.pub != nil {
		b, err := p.enc(msg)
		if err != nil {
			return fmt.Errorf("bus: encode: %w", err)
		}
		return p.pub.Send(zmq4.NewMsgFrom([]byte(topic), b))
	}

	p.mu.Lock()
	subs := append([]*subscriber[T](nil), p.subs...)
	p.mu.Unlock()

	for _, s := range subs {
		if s.topic != "" && s.topic != topic {
			continue
		}
		select {
		case s.ch <- envelope[T]{topic: topic, msg: msg}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Recv blocks for the next message on a remote-mode subscriber socket.
func (p *PubSub[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	if p.sub == nil {
		return zero, fmt.Errorf("bus: pubsub has no remote subscriber socket")
	}
	msg, err := p.sub.Recv()
	if err != nil {
		return zero, fmt.Errorf("bus: sub recv: %w", err)
	}
	if len(msg.Frames) < 2 {
		return zero, fmt.Errorf("bus: malformed pub frame")
	}
	return p.dec(msg.Frames[1])
}

// Close releases any underlying transport and closes every local
// subscriber channel.
func (p *PubSub[T]) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, s := range p.subs {
		close(s.ch)
	}
	p.subs = nil

	if p.pub != nil {
		return p.pub.Close()
	}
	if p.sub != nil {
		return p.sub.Close()
	}
	return nil
}

package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-zeromq/zmq4"
)

// Encoder/Decoder let a Queue[T] cross a real process boundary: Push
// encodes T to bytes before handing it to a ZMQ PUSH socket; Pop decodes
// bytes received from a ZMQ PULL socket back into T.
type Encoder[T any] func(T) ([]byte, error)
type Decoder[T any] func([]byte) (T, error)

// Queue is a point-to-point, FIFO, load-balanced channel as described in
// spec §5: a producer calling Push never targets a specific consumer: when
// running in-process, any number of goroutines calling Pop on the same
// Queue compete fairly for items, the same load-balancing a ZMQ PUSH/PULL
// pair gives multiple bound consumer processes (components.*.count).
//
// A Queue is constructed in exactly one of two modes: Local (an in-process
// buffered channel, used by tests and single-process deployments) or
// remote (backed by a ZMQ PUSH or PULL socket, used when a stage runs as
// its own OS process). Both modes share this type so pipeline code never
// has to know which one it was handed.
type Queue[T any] struct {
	hwm int

	mu   sync.Mutex
	ch   chan T // local mode
	push zmq4.Socket
	pull zmq4.Socket
	enc  Encoder[T]
	dec  Decoder[T]
}

// NewLocalQueue creates an in-process Queue with the given stall
// high-water-mark: Push blocks once hwm items are buffered and undrained,
// which is the back-pressure condition spec §5 calls a first-class,
// non-error state.
func NewLocalQueue[T any](hwm int) *Queue[T] {
	if hwm <= 0 {
		hwm = 1
	}
	return &Queue[T]{hwm: hwm, ch: make(chan T, hwm)}
}

// NewProducerQueue binds a ZMQ PUSH socket at endpoint; every bound
// consumer process that Dials a PULL socket to it receives a fair share of
// pushed items.
func NewProducerQueue[T any](ctx context.Context, endpoint string, hwm int, enc Encoder[T]) (*Queue[T], error) {
	sock := zmq4.NewPush(ctx, SocketOptions()...)
	if err := sock.Listen(endpoint); err != nil {
		return nil, fmt.Errorf("bus: listen push %s: %w", endpoint, err)
	}
	return &Queue[T]{hwm: hwm, push: sock, enc: enc}, nil
}

// NewConsumerQueue dials a ZMQ PULL socket to a producer bound at endpoint.
// Multiple processes dialing the same endpoint form the consumer replica
// set that the producer's PUSH socket load-balances across.
func NewConsumerQueue[T any](ctx context.Context, endpoint string, dec Decoder[T]) (*Queue[T], error) {
	sock := zmq4.NewPull(ctx, SocketOptions()...)
	if err := sock.Dial(endpoint); err != nil {
		return nil, fmt.Errorf("bus: dial pull %s: %w", endpoint, err)
	}
	return &Queue[T]{pull: sock, dec: dec}, nil
}

// Push enqueues item, blocking while the queue is at its high-water mark
// (local mode) or while the transport's own send buffer is full (remote
// mode) — back-pressure, not an error, per spec §5.
func (q *Queue[T]) Push(ctx context.Context, item T) error {
	if q.ch != nil {
		select {
		case q.ch <- item:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if q.push == nil {
		return fmt.Errorf("bus: queue has no producer side")
	}
	b, err := q.enc(item)
	if err != nil {
		return fmt.Errorf("bus: encode: %w", err)
	}
	if err := q.push.Send(zmq4.NewMsg(b)); err != nil {
		return fmt.Errorf("bus: push send: %w", err)
	}
	return nil
}

// Pop removes and returns the next item, blocking until one is available
// or ctx is canceled.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T

	if q.ch != nil {
		select {
		case item := <-q.ch:
			return item, nil
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}

	if q.pull == nil {
		return zero, fmt.Errorf("bus: queue has no consumer side")
	}
	msg, err := q.pull.Recv()
	if err != nil {
		return zero, fmt.Errorf("bus: pull recv: %w", err)
	}
	item, err := q.dec(msg.Bytes())
	if err != nil {
		return zero, fmt.Errorf("bus: decode: %w", err)
	}
	return item, nil
}

// Len reports the number of items currently buffered. Only meaningful in
// local mode; remote mode returns -1 since ZMQ does not expose queue depth.
func (q *Queue[T]) Len() int {
	if q.ch != nil {
		return len(q.ch)
	}
	return -1
}

// Stream returns a channel delivering every item Popped from q, so a
// consumer's event loop can multiplex it into a single select alongside
// other channels (e.g. a PubSub subscription) instead of blocking inside a
// dedicated Pop call. In local mode this is simply the backing channel; in
// remote mode a goroutine pumps Pop into a freshly-made channel until ctx
// is canceled or the socket errors.
func (q *Queue[T]) Stream(ctx context.Context) <-chan T {
	if q.ch != nil {
		return q.ch
	}

	out := make(chan T)
	go func() {
		defer close(out)
		for {
			item, err := q.Pop(ctx)
			if err != nil {
				return
			}
			select {
			case out <- item:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Close releases any underlying transport.
func (q *Queue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.push != nil {
		return q.push.Close()
	}
	if q.pull != nil {
		return q.pull.Close()
	}
	return nil
}

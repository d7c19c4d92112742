// Package bus provides the two messaging primitives the Agent's pipeline is
// built from: Queue (point-to-point, FIFO, load-balanced across bound
// consumers) and PubSub (fan-out, topic-filtered). Both are thin wrappers
// over github.com/go-zeromq/zmq4 PUSH/PULL and PUB/SUB sockets, using the
// socket option set the teacher established in common/types/socket.go —
// a bounded dial timeout, automatic reconnect, and bounded dialer retries —
// so transient transport failures are absorbed locally (spec §7, "Transport"
// error category) rather than surfacing as task or component failures.
package bus

import (
	"time"

	"github.com/go-zeromq/zmq4"
)

// SocketOptions returns the zmq4 dial/reconnect options shared by every
// Queue and PubSub socket the Agent opens.
func SocketOptions() []zmq4.Option {
	return []zmq4.Option{
		zmq4.WithTimeout(5 * time.Second),
		zmq4.WithAutomaticReconnect(true),
		zmq4.WithDialerMaxRetries(20),
		zmq4.WithDialerRetry(250 * time.Millisecond),
		zmq4.WithDialerTimeout(5 * time.Second),
	}
}

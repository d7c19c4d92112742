package resource

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Map is the Scheduler's authoritative, ordered view of every Node in the
// allocation. It is the sole owner of Slot state; Acquire and Release are
// the only mutators and are atomic relative to each other. Per spec §5 the
// Scheduler component is single-threaded, so Map's mutex exists to make
// concurrent reads (e.g. a metrics reporter) safe rather than to arbitrate
// between competing schedulers.
type Map struct {
	mu    sync.Mutex
	nodes []*Node
}

// NewMap constructs a Map over nodes in the given (declared) order. Order
// matters: tie-breaking during placement always favors the earlier node.
func NewMap(nodes []*Node) *Map {
	return &Map{nodes: nodes}
}

// Nodes returns the ordered node list. Callers within the Scheduler's own
// goroutine may read Node fields directly; any other caller should treat
// the result as a point-in-time snapshot.
func (m *Map) Nodes() []*Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nodes
}

// ErrAcquireConflict indicates that Acquire was asked to mark a slot busy
// that was not Free — a scheduler bug (double placement), never a normal
// runtime condition.
var ErrAcquireConflict = errors.New("attempted to acquire a non-free slot")

// ErrReleaseConflict indicates that Release was asked to free a slot that
// was not Busy.
var ErrReleaseConflict = errors.New("attempted to release a non-busy slot")

func (m *Map) nodeByID(id string) *Node {
	for _, n := range m.nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// Acquire marks every core/GPU named in slots Busy and debits the
// corresponding node's free memory/lfs. It fails atomically: if any single
// RankSlot cannot be satisfied, no slot in the whole batch is mutated.
// PlaceSingleRank and PlaceMPI already hold m.mu for their own placement
// decision, so they call acquireLocked directly rather than through
// Acquire, which would deadlock re-taking the lock.
func (m *Map) Acquire(slots Slots) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquireLocked(slots)
}

// acquireLocked is Acquire's body, callable by a holder of m.mu.
func (m *Map) acquireLocked(slots Slots) error {
	// Validate the whole batch before mutating anything, so a conflict in
	// rank 3 cannot leave ranks 0-2 half-acquired. A core or GPU named by
	// two RankSlots of the same batch is a conflict too.
	claimed := make(map[string]bool)
	for _, rs := range slots {
		n := m.nodeByID(rs.NodeID)
		if n == nil {
			return fmt.Errorf("%w: unknown node %q", ErrAcquireConflict, rs.NodeID)
		}
		for _, c := range rs.CoreIDs {
			key := fmt.Sprintf("%s/core/%d", rs.NodeID, c)
			if c < 0 || c >= len(n.Cores) || n.Cores[c].State != Free || claimed[key] {
				return fmt.Errorf("%w: node %s core %d", ErrAcquireConflict, rs.NodeID, c)
			}
			claimed[key] = true
		}
		for _, g := range rs.GPUIDs {
			key := fmt.Sprintf("%s/gpu/%d", rs.NodeID, g)
			if g < 0 || g >= len(n.GPUs) || n.GPUs[g].State != Free || claimed[key] {
				return fmt.Errorf("%w: node %s gpu %d", ErrAcquireConflict, rs.NodeID, g)
			}
			claimed[key] = true
		}
		if n.FreeLFSMB.LessThan(decimal.NewFromInt(int64(rs.LFSMB))) {
			return fmt.Errorf("%w: node %s lfs", ErrAcquireConflict, rs.NodeID)
		}
		if n.FreeMemMB.LessThan(decimal.NewFromInt(int64(rs.MemMB))) {
			return fmt.Errorf("%w: node %s mem", ErrAcquireConflict, rs.NodeID)
		}
	}

	for _, rs := range slots {
		n := m.nodeByID(rs.NodeID)
		for _, c := range rs.CoreIDs {
			n.Cores[c].State = Busy
		}
		for _, g := range rs.GPUIDs {
			n.GPUs[g].State = Busy
		}
		n.FreeLFSMB = n.FreeLFSMB.Sub(decimal.NewFromInt(int64(rs.LFSMB)))
		n.FreeMemMB = n.FreeMemMB.Sub(decimal.NewFromInt(int64(rs.MemMB)))
	}
	return nil
}

// Release marks every core/GPU named in slots Free again and credits back
// the corresponding node's free memory/lfs. Called on the unschedule
// pubsub once a task leaves {EXECUTING_PENDING, EXECUTING,
// STAGING_OUTPUT_PENDING}.
func (m *Map) Release(slots Slots) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rs := range slots {
		n := m.nodeByID(rs.NodeID)
		if n == nil {
			return fmt.Errorf("%w: unknown node %q", ErrReleaseConflict, rs.NodeID)
		}
		for _, c := range rs.CoreIDs {
			if c < 0 || c >= len(n.Cores) || n.Cores[c].State != Busy {
				return fmt.Errorf("%w: node %s core %d", ErrReleaseConflict, rs.NodeID, c)
			}
		}
		for _, g := range rs.GPUIDs {
			if g < 0 || g >= len(n.GPUs) || n.GPUs[g].State != Busy {
				return fmt.Errorf("%w: node %s gpu %d", ErrReleaseConflict, rs.NodeID, g)
			}
		}
	}

	for _, rs := range slots {
		n := m.nodeByID(rs.NodeID)
		for _, c := range rs.CoreIDs {
			n.Cores[c].State = Free
		}
		for _, g := range rs.GPUIDs {
			n.GPUs[g].State = Free
		}
		n.FreeLFSMB = n.FreeLFSMB.Add(decimal.NewFromInt(int64(rs.LFSMB)))
		n.FreeMemMB = n.FreeMemMB.Add(decimal.NewFromInt(int64(rs.MemMB)))
	}
	return nil
}

// BusyCores returns the total number of Busy cores across every node, used
// by tests asserting the "conservation of slots" invariant.
func (m *Map) BusyCores() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, node := range m.nodes {
		n += countState(node.Cores, Busy)
	}
	return n
}

// BusyGPUs returns the total number of Busy GPUs across every node.
func (m *Map) BusyGPUs() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, node := range m.nodes {
		n += countState(node.GPUs, Busy)
	}
	return n
}

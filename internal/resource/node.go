// Package resource models the Scheduler's authoritative view of the
// allocation: an ordered list of Nodes, each carrying a fixed set of core
// and GPU Slots plus local-filesystem and memory capacity, tracked in the
// style of the teacher's AllocationManager/HostResources (shopspring/decimal
// quantities, an embedded mutex, %w-wrapped sentinel errors) but keyed by
// discrete schedulable Slots rather than arbitrary fractional shares, since
// HPC core/GPU placement must be contiguous and exclusive.
package resource

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// SlotState is the occupancy state of a single core or GPU Slot.
type SlotState int

const (
	// Free slots are available for scheduling.
	Free SlotState = iota
	// Busy slots are currently held by a task.
	Busy
	// Blocked slots are never scheduled; set once at boot from platform
	// config (blocked_cores/blocked_gpus) and never changed afterward.
	Blocked
)

func (s SlotState) String() string {
	switch s {
	case Free:
		return "FREE"
	case Busy:
		return "BUSY"
	case Blocked:
		return "BLOCKED"
	default:
		return "UNKNOWN"
	}
}

// Slot is a single schedulable core or GPU on a Node.
type Slot struct {
	ID    int
	State SlotState
}

// Node is one host in the allocation. The set of Cores and GPUs is fixed
// for the lifetime of the pilot; only Slot.State and the free Mem/LFS
// counters change.
type Node struct {
	ID      string
	Name    string
	Cores   []Slot
	GPUs    []Slot
	LFSPath string

	// LFSTotalMB and MemTotalMB are the node's total local-filesystem and
	// memory capacity. FreeLFSMB/FreeMemMB track what remains unreserved;
	// unlike cores/GPUs these are not discretely sloted, so they are
	// tracked as decimal quantities, mirroring HostResources.
	LFSTotalMB decimal.Decimal
	MemTotalMB decimal.Decimal
	FreeLFSMB  decimal.Decimal
	FreeMemMB  decimal.Decimal
}

// NewNode constructs a Node with all cores/GPUs Free except those named in
// blockedCores/blockedGPUs, which start and remain Blocked.
func NewNode(id, name string, numCores, numGPUs int, lfsPath string, lfsMB, memMB int, blockedCores, blockedGPUs []int) *Node {
	n := &Node{
		ID:         id,
		Name:       name,
		Cores:      make([]Slot, numCores),
		GPUs:       make([]Slot, numGPUs),
		LFSPath:    lfsPath,
		LFSTotalMB: decimal.NewFromInt(int64(lfsMB)),
		MemTotalMB: decimal.NewFromInt(int64(memMB)),
		FreeLFSMB:  decimal.NewFromInt(int64(lfsMB)),
		FreeMemMB:  decimal.NewFromInt(int64(memMB)),
	}

	blocked := make(map[int]bool, len(blockedCores))
	for _, c := range blockedCores {
		blocked[c] = true
	}
	for i := range n.Cores {
		n.Cores[i].ID = i
		if blocked[i] {
			n.Cores[i].State = Blocked
		}
	}

	blockedG := make(map[int]bool, len(blockedGPUs))
	for _, g := range blockedGPUs {
		blockedG[g] = true
	}
	for i := range n.GPUs {
		n.GPUs[i].ID = i
		if blockedG[i] {
			n.GPUs[i].State = Blocked
		}
	}

	return n
}

// FreeCores returns the number of Free cores on the node.
func (n *Node) FreeCores() int {
	return countState(n.Cores, Free)
}

// FreeGPUs returns the number of Free GPUs on the node.
func (n *Node) FreeGPUs() int {
	return countState(n.GPUs, Free)
}

func countState(slots []Slot, want SlotState) int {
	c := 0
	for _, s := range slots {
		if s.State == want {
			c++
		}
	}
	return c
}

// contiguousFree returns the lowest-indexed run of n consecutive Free slots
// in slots, or (nil, false) if no such run exists. Ranks within a node must
// use contiguous cores/GPUs to support thread pinning (spec §4.2 step 2/3).
func contiguousFree(slots []Slot, n int) ([]int, bool) {
	if n == 0 {
		return nil, true
	}
	run := 0
	start := -1
	for i, s := range slots {
		if s.State == Free {
			if run == 0 {
				start = i
			}
			run++
			if run == n {
				ids := make([]int, n)
				for j := 0; j < n; j++ {
					ids[j] = start + j
				}
				return ids, true
			}
		} else {
			run = 0
		}
	}
	return nil, false
}

// ErrInsufficientResources names a node that cannot satisfy a requested
// reservation. Nothing in this package returns it: placement reports a
// shortfall through a false result instead.
var ErrInsufficientResources = errors.New("node has insufficient free resources")

package resource

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ErrUnschedulable marks a requirement that no configuration of the
// allocation could satisfy, even in principle (e.g. an MPI task requesting
// more ranks than the pilot owns). PlaceSingleRank/PlaceMPI do not return
// it; they report any shortfall as a false result. The Scheduler
// distinguishes this case from a merely transient shortage (§4.2: "leave
// the task pending and retry") by calling Fits first, and wraps this error
// into the task's FAILED transition when Fits is false.
var ErrUnschedulable = errors.New("task requirement exceeds any placement the allocation can provide")

// Request is a scheduling requirement for one task, already reduced to
// per-rank hardware counts by the Scheduler.
type Request struct {
	Ranks        int
	CoresPerRank int
	GPUsPerRank  int
	LFSPerRankMB int
	MemPerRankMB int
	MPI          bool
}

// Fits reports whether req could ever be satisfied by this Map's static
// topology (node count, cores/node, gpus/node) — independent of current
// occupancy. The Scheduler calls this once, at arrival, to distinguish a
// permanently Unschedulable task from one that is merely pending.
func (m *Map) Fits(req Request) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.nodes) == 0 {
		return false
	}
	maxCores, maxGPUs := 0, 0
	totalCores, totalGPUs := 0, 0
	for _, n := range m.nodes {
		if len(n.Cores) > maxCores {
			maxCores = len(n.Cores)
		}
		if len(n.GPUs) > maxGPUs {
			maxGPUs = len(n.GPUs)
		}
		totalCores += len(n.Cores)
		totalGPUs += len(n.GPUs)
	}

	if !req.MPI {
		return req.CoresPerRank <= maxCores && req.GPUsPerRank <= maxGPUs
	}
	return req.Ranks*req.CoresPerRank <= totalCores && req.Ranks*req.GPUsPerRank <= totalGPUs
}

// PlaceSingleRank implements spec §4.2 step 2: a non-MPI task whose
// per-rank footprint fits within one node. It finds the first node (in
// declared order) with enough contiguous free cores, contiguous free GPUs,
// and free lfs/mem, reserves them, and returns the resulting Slots. It
// returns (nil, false) if no node currently has room — the caller should
// leave the task pending, not fail it.
func (m *Map) PlaceSingleRank(req Request) (Slots, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lfsNeed := decimal.NewFromInt(int64(req.LFSPerRankMB))
	memNeed := decimal.NewFromInt(int64(req.MemPerRankMB))

	for _, n := range m.nodes {
		if n.FreeLFSMB.LessThan(lfsNeed) || n.FreeMemMB.LessThan(memNeed) {
			continue
		}
		coreIDs, ok := contiguousFree(n.Cores, req.CoresPerRank)
		if !ok {
			continue
		}
		gpuIDs, ok := contiguousFree(n.GPUs, req.GPUsPerRank)
		if !ok {
			continue
		}

		rs := RankSlot{NodeID: n.ID, CoreIDs: coreIDs, GPUIDs: gpuIDs, LFSMB: req.LFSPerRankMB, MemMB: req.MemPerRankMB}
		slots := Slots{rs}
		// contiguousFree just found these as Free under the lock we hold, so
		// acquireLocked's own validation cannot fail here.
		if err := m.acquireLocked(slots); err != nil {
			return nil, false
		}
		return slots, true
	}
	return nil, false
}

// PlaceMPI implements spec §4.2 step 3: a contiguous-span placement across
// nodes in declared order, greedily consuming whole or partial nodes until
// all ranks are placed. Ranks within a node use contiguous cores/GPUs; the
// tie-break is "earlier node wins, lowest free core index wins within a
// node" — which falls directly out of walking m.nodes in order and always
// taking contiguousFree's lowest-indexed run.
//
// Placement is computed against a scratch copy of occupancy first so that a
// span that turns out not to fit leaves the Map untouched; only a fully
// satisfiable request is committed.
func (m *Map) PlaceMPI(req Request) (Slots, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	remaining := req.Ranks
	var slots Slots

	// dry run: walk nodes, tentatively marking slots busy in a scratch
	// clone, to find out whether the whole request is satisfiable before
	// mutating the real Map.
	scratch := make([]Node, len(m.nodes))
	for i, n := range m.nodes {
		scratch[i] = *n
		scratch[i].Cores = append([]Slot(nil), n.Cores...)
		scratch[i].GPUs = append([]Slot(nil), n.GPUs...)
	}

	for i := range scratch {
		n := &scratch[i]
		for remaining > 0 {
			if n.FreeLFSMB.LessThan(decimal.NewFromInt(int64(req.LFSPerRankMB))) ||
				n.FreeMemMB.LessThan(decimal.NewFromInt(int64(req.MemPerRankMB))) {
				break
			}
			coreIDs, ok := contiguousFree(n.Cores, req.CoresPerRank)
			if !ok {
				break
			}
			gpuIDs, ok := contiguousFree(n.GPUs, req.GPUsPerRank)
			if !ok {
				break
			}

			for _, c := range coreIDs {
				n.Cores[c].State = Busy
			}
			for _, g := range gpuIDs {
				n.GPUs[g].State = Busy
			}
			n.FreeLFSMB = n.FreeLFSMB.Sub(decimal.NewFromInt(int64(req.LFSPerRankMB)))
			n.FreeMemMB = n.FreeMemMB.Sub(decimal.NewFromInt(int64(req.MemPerRankMB)))

			slots = append(slots, RankSlot{
				NodeID:  m.nodes[i].ID,
				CoreIDs: coreIDs,
				GPUIDs:  gpuIDs,
				LFSMB:   req.LFSPerRankMB,
				MemMB:   req.MemPerRankMB,
			})
			remaining--
		}
		if remaining == 0 {
			break
		}
	}

	if remaining > 0 {
		// Not enough free capacity right now; caller leaves task pending.
		return nil, false
	}

	// Commit: replay the same placements against the real nodes through
	// acquireLocked. Since the scratch walk used the exact same free-slot
	// state we're about to mutate (the Map was not touched in between — we
	// hold m.mu throughout), this cannot fail.
	if err := m.acquireLocked(slots); err != nil {
		return nil, false
	}

	return slots, true
}

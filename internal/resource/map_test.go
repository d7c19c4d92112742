package resource_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/radical-cybertools/radical-pilot-agent/internal/resource"
)

var _ = Describe("Map.Acquire and Map.Release", func() {
	It("round-trips a reservation back to the original free state", func() {
		m := twoNodeMap()
		slots := resource.Slots{{NodeID: "n0", CoreIDs: []int{0, 1}, GPUIDs: []int{0}, LFSMB: 100, MemMB: 200}}

		Expect(m.Acquire(slots)).To(Succeed())
		Expect(m.BusyCores()).To(Equal(2))
		Expect(m.BusyGPUs()).To(Equal(1))

		Expect(m.Release(slots)).To(Succeed())
		Expect(m.BusyCores()).To(Equal(0))
		Expect(m.BusyGPUs()).To(Equal(0))

		n := m.Nodes()[0]
		Expect(n.FreeLFSMB.IntPart()).To(Equal(int64(4096)))
		Expect(n.FreeMemMB.IntPart()).To(Equal(int64(8192)))
	})

	It("rejects acquiring an already-busy slot without mutating anything", func() {
		m := twoNodeMap()
		first := resource.Slots{{NodeID: "n0", CoreIDs: []int{0}}}
		Expect(m.Acquire(first)).To(Succeed())

		conflicting := resource.Slots{{NodeID: "n0", CoreIDs: []int{0, 1}}}
		err := m.Acquire(conflicting)
		Expect(err).To(MatchError(resource.ErrAcquireConflict))
		Expect(m.BusyCores()).To(Equal(1))
	})

	It("fails the whole batch atomically when one RankSlot in it conflicts", func() {
		m := twoNodeMap()
		slots := resource.Slots{
			{NodeID: "n0", CoreIDs: []int{0}},
			{NodeID: "n0", CoreIDs: []int{0}},
		}
		err := m.Acquire(slots)
		Expect(err).To(MatchError(resource.ErrAcquireConflict))
		Expect(m.BusyCores()).To(Equal(0))
	})

	It("rejects releasing a slot that is not busy", func() {
		m := twoNodeMap()
		err := m.Release(resource.Slots{{NodeID: "n0", CoreIDs: []int{0}}})
		Expect(err).To(MatchError(resource.ErrReleaseConflict))
	})

	It("rejects an unknown node on both Acquire and Release", func() {
		m := twoNodeMap()
		Expect(m.Acquire(resource.Slots{{NodeID: "ghost"}})).To(MatchError(resource.ErrAcquireConflict))
		Expect(m.Release(resource.Slots{{NodeID: "ghost"}})).To(MatchError(resource.ErrReleaseConflict))
	})
})

package resource_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/radical-cybertools/radical-pilot-agent/internal/resource"
)

var _ = Describe("Slots", func() {
	slots := resource.Slots{
		{NodeID: "n0", CoreIDs: []int{0, 1}},
		{NodeID: "n0", CoreIDs: []int{2, 3}},
		{NodeID: "n1", CoreIDs: []int{0}},
	}

	It("returns distinct node IDs in first-seen order", func() {
		Expect(slots.NodeIDs()).To(Equal([]string{"n0", "n1"}))
	})

	It("returns only the slots placed on the given node, in order", func() {
		Expect(slots.RanksOnNode("n0")).To(Equal(resource.Slots{
			{NodeID: "n0", CoreIDs: []int{0, 1}},
			{NodeID: "n0", CoreIDs: []int{2, 3}},
		}))
		Expect(slots.RanksOnNode("n1")).To(Equal(resource.Slots{{NodeID: "n1", CoreIDs: []int{0}}}))
		Expect(slots.RanksOnNode("n2")).To(BeEmpty())
	})
})

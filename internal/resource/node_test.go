package resource_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/radical-cybertools/radical-pilot-agent/internal/resource"
)

var _ = Describe("Node", func() {
	It("starts every core/GPU free except explicitly blocked ones", func() {
		n := resource.NewNode("n0", "node0", 4, 2, "/tmp", 1024, 2048, []int{1}, []int{0})
		Expect(n.FreeCores()).To(Equal(3))
		Expect(n.FreeGPUs()).To(Equal(1))
		Expect(n.Cores[1].State).To(Equal(resource.Blocked))
		Expect(n.GPUs[0].State).To(Equal(resource.Blocked))
		Expect(n.FreeLFSMB.IntPart()).To(Equal(int64(1024)))
		Expect(n.FreeMemMB.IntPart()).To(Equal(int64(2048)))
	})

	It("keeps blocked slots blocked forever, distinct from busy", func() {
		n := resource.NewNode("n0", "node0", 2, 0, "", 0, 0, []int{0}, nil)
		Expect(n.Cores[0].State).To(Equal(resource.Blocked))
		Expect(n.Cores[0].State.String()).To(Equal("BLOCKED"))
		Expect(n.Cores[1].State.String()).To(Equal("FREE"))
	})
})

var _ = Describe("SlotState", func() {
	It("stringifies known states and falls back for unknown ones", func() {
		Expect(resource.Free.String()).To(Equal("FREE"))
		Expect(resource.Busy.String()).To(Equal("BUSY"))
		Expect(resource.Blocked.String()).To(Equal("BLOCKED"))
		Expect(resource.SlotState(99).String()).To(Equal("UNKNOWN"))
	})
})

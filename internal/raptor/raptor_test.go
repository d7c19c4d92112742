package raptor_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/radical-cybertools/radical-pilot-agent/internal/raptor"
	"github.com/radical-cybertools/radical-pilot-agent/internal/task"
)

var _ = Describe("IsRaptorTask and ModeOf", func() {
	It("reports false and an empty mode for an ordinary task", func() {
		tk := task.New("t.0", task.Description{})
		Expect(raptor.IsRaptorTask(tk)).To(BeFalse())
		Expect(raptor.ModeOf(tk)).To(Equal(raptor.Mode("")))
	})

	It("reports true and the configured mode for a RAPTOR-targeted task", func() {
		tk := task.New("t.1", task.Description{RaptorMode: "TASK_FUNCTION"})
		Expect(raptor.IsRaptorTask(tk)).To(BeTrue())
		Expect(raptor.ModeOf(tk)).To(Equal(raptor.TaskFunction))
	})
})

package launch_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/radical-cybertools/radical-pilot-agent/internal/launch"
	"github.com/radical-cybertools/radical-pilot-agent/internal/resource"
	"github.com/radical-cybertools/radical-pilot-agent/internal/task"
)

var _ = Describe("FORK", func() {
	var m *launch.FORK

	BeforeEach(func() {
		m = launch.NewFORK([]string{"module load foo"})
	})

	It("is applicable to a single-rank, non-MPI task", func() {
		tk := task.New("t.0", task.Description{Ranks: 1})
		Expect(m.Applicable(tk)).To(BeTrue())
	})

	It("is not applicable to a multi-rank task", func() {
		tk := task.New("t.1", task.Description{Ranks: 4})
		Expect(m.Applicable(tk)).To(BeFalse())
	})

	It("is not applicable to an MPI task even with a single rank", func() {
		tk := task.New("t.2", task.Description{Ranks: 1, Threading: task.ThreadingMPI})
		Expect(m.Applicable(tk)).To(BeFalse())
	})

	It("builds a bare exec-script invocation", func() {
		tk := task.New("t.3", task.Description{Ranks: 1})
		cmd, err := m.BuildCommand(tk, resource.Slots{})
		Expect(err).NotTo(HaveOccurred())
		Expect(cmd.Argv).To(Equal([]string{"./t.3.exec.sh"}))
		Expect(cmd.AuxFiles).To(BeEmpty())
	})

	It("reports no rank-id variable, a filesystem barrier, and passes through pre_exec_cached", func() {
		Expect(m.RankIDVariable()).To(BeEmpty())
		Expect(m.Barrier()).To(Equal(launch.BarrierFilesystem))
		Expect(m.PreExecCached()).To(Equal([]string{"module load foo"}))
		Expect(m.RankCommand(task.New("t.4", task.Description{}), 0)).To(BeNil())
	})

	It("is named FORK", func() {
		Expect(m.Name()).To(Equal("FORK"))
	})
})

package launch_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/radical-cybertools/radical-pilot-agent/internal/launch"
	"github.com/radical-cybertools/radical-pilot-agent/internal/resource"
	"github.com/radical-cybertools/radical-pilot-agent/internal/task"
)

// stubMethod is a minimal launch.Method for exercising Registry resolution
// without depending on any binary actually being on $PATH.
type stubMethod struct {
	name        string
	applicable  bool
	rankIDVar   string
	barrier     launch.BarrierKind
}

func (s *stubMethod) Name() string { return s.name }
func (s *stubMethod) Capabilities() launch.Capabilities { return launch.Capabilities{} }
func (s *stubMethod) Applicable(t *task.Task) bool { return s.applicable }
func (s *stubMethod) BuildCommand(t *task.Task, slots resource.Slots) (launch.Command, error) {
	return launch.Command{Argv: []string{s.name}}, nil
}
func (s *stubMethod) RankIDVariable() string { return s.rankIDVar }
func (s *stubMethod) RankCommand(t *task.Task, rank int) []string { return nil }
func (s *stubMethod) PreExecCached() []string { return nil }
func (s *stubMethod) Barrier() launch.BarrierKind { return s.barrier }

var _ = Describe("Registry", func() {
	var (
		reg *launch.Registry
		a   *stubMethod
		b   *stubMethod
	)

	BeforeEach(func() {
		reg = launch.NewRegistry()
		a = &stubMethod{name: "A", applicable: false}
		b = &stubMethod{name: "B", applicable: true}
		reg.Register(a)
		reg.Register(b)
		reg.SetOrder([]string{"A", "B"})
	})

	It("resolves to the first applicable method in order", func() {
		m, err := reg.Resolve(task.New("t.0", task.Description{}))
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Name()).To(Equal("B"))
	})

	It("returns ErrNoApplicableMethod when nothing in order matches", func() {
		a.applicable = false
		b.applicable = false
		_, err := reg.Resolve(task.New("t.1", task.Description{}))
		Expect(err).To(MatchError(launch.ErrNoApplicableMethod))
	})

	It("skips names in order that were never registered", func() {
		reg.SetOrder([]string{"MISSING", "A", "B"})
		a.applicable = true
		m, err := reg.Resolve(task.New("t.2", task.Description{}))
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Name()).To(Equal("A"))
	})

	It("retrieves a registered method by name via Get", func() {
		m, ok := reg.Get("B")
		Expect(ok).To(BeTrue())
		Expect(m.Name()).To(Equal("B"))

		_, ok = reg.Get("NOPE")
		Expect(ok).To(BeFalse())
	})

	It("replaces a previously registered method of the same name", func() {
		replacement := &stubMethod{name: "B", applicable: true, rankIDVar: "X"}
		reg.Register(replacement)
		m, _ := reg.Get("B")
		Expect(m.RankIDVariable()).To(Equal("X"))
	})
})

var _ = Describe("EnvInjectedVars", func() {
	It("names the SLURM-family prefixes for SRUN", func() {
		Expect(launch.EnvInjectedVars("SRUN")).To(ConsistOf("SLURM_", "PMI_", "PMIX_"))
	})

	It("returns nil for an unrecognized method name", func() {
		Expect(launch.EnvInjectedVars("NOPE")).To(BeNil())
	})
})

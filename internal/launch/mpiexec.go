package launch

import (
	"fmt"

	"github.com/radical-cybertools/radical-pilot-agent/internal/resource"
	"github.com/radical-cybertools/radical-pilot-agent/internal/task"
)

// MPIEXEC launches ranks via the MPICH/Intel MPI mpiexec binary.
type MPIEXEC struct{ base }

func NewMPIEXEC(preExecCached []string) *MPIEXEC {
	return &MPIEXEC{base{name: "MPIEXEC", preExecCached: preExecCached}}
}

func (m *MPIEXEC) Capabilities() Capabilities {
	return Capabilities{SupportsMPI: true, NeedsRankFile: true, EnvIsolationRequired: true}
}

func (m *MPIEXEC) Applicable(t *task.Task) bool { return onPath("mpiexec") }
func (m *MPIEXEC) RankIDVariable() string       { return "PMI_RANK" }
func (m *MPIEXEC) Barrier() BarrierKind         { return BarrierMPIInit }
func (m *MPIEXEC) RankCommand(*task.Task, int) []string { return nil }

func (m *MPIEXEC) BuildCommand(t *task.Task, slots resource.Slots) (Command, error) {
	hostfile := fmt.Sprintf("%s.hosts", t.UID)

	argv := []string{"mpiexec",
		"-n", fmt.Sprintf("%d", rankCountOf(t)),
		"-f", hostfile,
		fmt.Sprintf("./%s.exec.sh", t.UID),
	}

	return Command{
		Argv:     argv,
		AuxFiles: map[string]string{hostfile: hostfileLines(slots)},
	}, nil
}

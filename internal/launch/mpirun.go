package launch

import (
	"fmt"

	"github.com/radical-cybertools/radical-pilot-agent/internal/resource"
	"github.com/radical-cybertools/radical-pilot-agent/internal/task"
)

// MPIRUN launches ranks via Open MPI's mpirun. Applicable wherever an MPI
// runtime is on $PATH, independent of resource manager (spec §4.4).
type MPIRUN struct{ base }

func NewMPIRUN(preExecCached []string) *MPIRUN {
	return &MPIRUN{base{name: "MPIRUN", preExecCached: preExecCached}}
}

func (m *MPIRUN) Capabilities() Capabilities {
	return Capabilities{SupportsMPI: true, NeedsRankFile: true, EnvIsolationRequired: true}
}

func (m *MPIRUN) Applicable(t *task.Task) bool { return onPath("mpirun") }
func (m *MPIRUN) RankIDVariable() string       { return "OMPI_COMM_WORLD_RANK" }
func (m *MPIRUN) Barrier() BarrierKind         { return BarrierMPIInit }
func (m *MPIRUN) RankCommand(*task.Task, int) []string { return nil }

func (m *MPIRUN) BuildCommand(t *task.Task, slots resource.Slots) (Command, error) {
	hostfile := fmt.Sprintf("%s.hosts", t.UID)

	argv := []string{"mpirun",
		"-np", fmt.Sprintf("%d", rankCountOf(t)),
		"--hostfile", hostfile,
	}
	if t.Description.CoresPerRank > 1 {
		argv = append(argv, "--map-by", fmt.Sprintf("slot:PE=%d", t.Description.CoresPerRank))
	}
	argv = append(argv, fmt.Sprintf("./%s.exec.sh", t.UID))

	return Command{
		Argv:     argv,
		AuxFiles: map[string]string{hostfile: hostfileLines(slots)},
	}, nil
}

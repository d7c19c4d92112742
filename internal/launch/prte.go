package launch

import (
	"fmt"

	"github.com/radical-cybertools/radical-pilot-agent/internal/resource"
	"github.com/radical-cybertools/radical-pilot-agent/internal/task"
)

// PRTE launches ranks against a pre-started PMIx Reference RunTime
// Environment (prte) DVM, using prun to submit into it. PRTE is normally
// preferred over MPIRUN/MPIEXEC when available since the DVM lets many
// short tasks share one long-lived runtime instead of paying mpirun's
// per-task startup cost.
type PRTE struct{ base }

func NewPRTE(preExecCached []string) *PRTE {
	return &PRTE{base{name: "PRTE", preExecCached: preExecCached}}
}

func (m *PRTE) Capabilities() Capabilities {
	return Capabilities{SupportsMPI: true, NeedsRankFile: true, EnvIsolationRequired: true}
}

func (m *PRTE) Applicable(t *task.Task) bool { return onPath("prun") && onPath("prte") }
func (m *PRTE) RankIDVariable() string       { return "PMIX_RANK" }
func (m *PRTE) Barrier() BarrierKind         { return BarrierMPIInit }
func (m *PRTE) RankCommand(*task.Task, int) []string { return nil }

func (m *PRTE) BuildCommand(t *task.Task, slots resource.Slots) (Command, error) {
	hostfile := fmt.Sprintf("%s.hosts", t.UID)

	argv := []string{"prun",
		"-n", fmt.Sprintf("%d", rankCountOf(t)),
		"--hostfile", hostfile,
		fmt.Sprintf("./%s.exec.sh", t.UID),
	}

	return Command{
		Argv:     argv,
		AuxFiles: map[string]string{hostfile: hostfileLines(slots)},
	}, nil
}

package launch

import (
	"fmt"

	rpconfig "github.com/radical-cybertools/radical-pilot-agent/internal/config"
	"github.com/radical-cybertools/radical-pilot-agent/internal/resource"
	"github.com/radical-cybertools/radical-pilot-agent/internal/task"
)

// SRUN launches ranks via Slurm's srun, requiring a SLURM resource manager
// (spec §4.4).
type SRUN struct {
	base
}

// NewSRUN constructs the SRUN launch method. platformRM is the platform's
// configured resource_manager, used for applicability.
func NewSRUN(platformRM rpconfig.ResourceManager, preExecCached []string) *SRUN {
	return &SRUN{base{name: "SRUN", requiresRM: platformRM, preExecCached: preExecCached}}
}

func (m *SRUN) Capabilities() Capabilities {
	return Capabilities{SupportsMPI: true, NeedsRankFile: false, EnvIsolationRequired: true}
}

func (m *SRUN) Applicable(t *task.Task) bool {
	return m.requiresRM == rpconfig.RMSLURM && onPath("srun")
}

func (m *SRUN) RankIDVariable() string { return "SLURM_PROCID" }

func (m *SRUN) Barrier() BarrierKind { return BarrierMPIInit }

func (m *SRUN) RankCommand(t *task.Task, rank int) []string { return nil }

func (m *SRUN) BuildCommand(t *task.Task, slots resource.Slots) (Command, error) {
	d := t.Description
	nodes := slots.NodeIDs()

	argv := []string{"srun",
		"--ntasks", fmt.Sprintf("%d", rankCountOf(t)),
		"--nodelist", joinComma(nodes),
	}
	if d.CoresPerRank > 0 {
		argv = append(argv, "--cpus-per-task", fmt.Sprintf("%d", d.CoresPerRank))
	}
	if d.GPUsPerRank > 0 {
		argv = append(argv, "--gpus-per-task", fmt.Sprintf("%d", d.GPUsPerRank))
	}
	argv = append(argv, fmt.Sprintf("./%s.exec.sh", t.UID))

	return Command{Argv: argv}, nil
}

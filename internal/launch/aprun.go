package launch

import (
	"fmt"

	"github.com/radical-cybertools/radical-pilot-agent/internal/resource"
	"github.com/radical-cybertools/radical-pilot-agent/internal/task"
)

// APRUN launches ranks via Cray's ALPS aprun.
type APRUN struct{ base }

func NewAPRUN(preExecCached []string) *APRUN {
	return &APRUN{base{name: "APRUN", preExecCached: preExecCached}}
}

func (m *APRUN) Capabilities() Capabilities {
	return Capabilities{SupportsMPI: true, NeedsRankFile: false, EnvIsolationRequired: true}
}

func (m *APRUN) Applicable(t *task.Task) bool { return onPath("aprun") }
func (m *APRUN) RankIDVariable() string       { return "ALPS_APP_PE" }
func (m *APRUN) Barrier() BarrierKind         { return BarrierMPIInit }
func (m *APRUN) RankCommand(*task.Task, int) []string { return nil }

func (m *APRUN) BuildCommand(t *task.Task, slots resource.Slots) (Command, error) {
	d := t.Description

	argv := []string{"aprun",
		"-n", fmt.Sprintf("%d", rankCountOf(t)),
		"-N", fmt.Sprintf("%d", ranksPerNode(slots)),
	}
	if d.CoresPerRank > 1 {
		argv = append(argv, "-d", fmt.Sprintf("%d", d.CoresPerRank))
	}
	argv = append(argv, fmt.Sprintf("./%s.exec.sh", t.UID))

	return Command{Argv: argv}, nil
}

func ranksPerNode(slots resource.Slots) int {
	nodes := slots.NodeIDs()
	if len(nodes) == 0 {
		return 1
	}
	return len(slots.RanksOnNode(nodes[0]))
}

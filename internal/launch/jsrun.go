package launch

import (
	"fmt"

	rpconfig "github.com/radical-cybertools/radical-pilot-agent/internal/config"
	"github.com/radical-cybertools/radical-pilot-agent/internal/resource"
	"github.com/radical-cybertools/radical-pilot-agent/internal/task"
)

// JSRUN launches ranks via IBM's jsrun (LSF-based Summit/Sierra-class
// systems), requiring an LSF resource manager (spec §4.4).
type JSRUN struct{ base }

func NewJSRUN(platformRM rpconfig.ResourceManager, preExecCached []string) *JSRUN {
	return &JSRUN{base{name: "JSRUN", requiresRM: platformRM, preExecCached: preExecCached}}
}

func (m *JSRUN) Capabilities() Capabilities {
	return Capabilities{SupportsMPI: true, NeedsRankFile: true, EnvIsolationRequired: true}
}

func (m *JSRUN) Applicable(t *task.Task) bool {
	return m.requiresRM == rpconfig.RMLSF && onPath("jsrun")
}

func (m *JSRUN) RankIDVariable() string { return "OMPI_COMM_WORLD_RANK" }
func (m *JSRUN) Barrier() BarrierKind   { return BarrierMPIInit }
func (m *JSRUN) RankCommand(*task.Task, int) []string { return nil }

func (m *JSRUN) BuildCommand(t *task.Task, slots resource.Slots) (Command, error) {
	ersFile := fmt.Sprintf("%s.rs", t.UID)

	var ers string
	for i, nodeID := range slots.NodeIDs() {
		onNode := slots.RanksOnNode(nodeID)
		for range onNode {
			ers += fmt.Sprintf("rank: %d: { host: %d; cpu: {0-%d} ; gpu: * }\n", i, i, t.Description.CoresPerRank-1)
		}
	}

	argv := []string{"jsrun", "--erf_input", ersFile, fmt.Sprintf("./%s.exec.sh", t.UID)}

	return Command{Argv: argv, AuxFiles: map[string]string{ersFile: ers}}, nil
}

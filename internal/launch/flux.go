package launch

import (
	"fmt"

	"github.com/radical-cybertools/radical-pilot-agent/internal/resource"
	"github.com/radical-cybertools/radical-pilot-agent/internal/task"
)

// FLUX submits ranks as a job to a pre-started Flux instance via
// "flux mini submit". The executor watches the submitting command's own
// process and exit code, the same way it watches every other launch
// method; the Flux job-state event stream is not consumed.
type FLUX struct{ base }

func NewFLUX(preExecCached []string) *FLUX {
	return &FLUX{base{name: "FLUX", preExecCached: preExecCached}}
}

func (m *FLUX) Capabilities() Capabilities {
	return Capabilities{SupportsMPI: true, NeedsRankFile: false, EnvIsolationRequired: true}
}

func (m *FLUX) Applicable(t *task.Task) bool { return onPath("flux") }
func (m *FLUX) RankIDVariable() string       { return "FLUX_TASK_RANK" }
func (m *FLUX) Barrier() BarrierKind         { return BarrierMPIInit }
func (m *FLUX) RankCommand(*task.Task, int) []string { return nil }

func (m *FLUX) BuildCommand(t *task.Task, slots resource.Slots) (Command, error) {
	d := t.Description

	argv := []string{"flux", "mini", "submit",
		"-N", fmt.Sprintf("%d", len(slots.NodeIDs())),
		"-n", fmt.Sprintf("%d", rankCountOf(t)),
	}
	if d.CoresPerRank > 1 {
		argv = append(argv, "-c", fmt.Sprintf("%d", d.CoresPerRank))
	}
	if d.GPUsPerRank > 0 {
		argv = append(argv, "-g", fmt.Sprintf("%d", d.GPUsPerRank))
	}
	argv = append(argv, fmt.Sprintf("./%s.exec.sh", t.UID))

	return Command{Argv: argv}, nil
}

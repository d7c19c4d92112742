package launch

import (
	"fmt"

	"github.com/radical-cybertools/radical-pilot-agent/internal/resource"
	"github.com/radical-cybertools/radical-pilot-agent/internal/task"
)

// SSH is the launch method for hosts reached over ssh. Unlike the MPI
// launchers, SSH carries no native rank-placement protocol: rank identity
// comes from the per-rank command line built by RankCommand rather than
// from an environment variable set by the launcher itself, so there is no
// RankIDVariable. The executor only runs BuildCommand, so an SSH task
// runs as a single local exec-script invocation; no ssh connection is
// opened and ranks are not spread across the hosts in its slots.
type SSH struct{ base }

func NewSSH(preExecCached []string) *SSH {
	return &SSH{base{name: "SSH", preExecCached: preExecCached}}
}

func (m *SSH) Capabilities() Capabilities {
	return Capabilities{SupportsMPI: false, NeedsRankFile: false, EnvIsolationRequired: true}
}

func (m *SSH) Applicable(t *task.Task) bool { return onPath("ssh") }
func (m *SSH) RankIDVariable() string       { return "" }
func (m *SSH) Barrier() BarrierKind         { return BarrierFilesystem }

// RankCommand returns the ssh invocation for one specific rank, with the
// literal placeholder __HOST__ where the target host goes. The executor
// does not call it.
func (m *SSH) RankCommand(t *task.Task, rank int) []string {
	return []string{"ssh", "-o", "BatchMode=yes", "__HOST__",
		fmt.Sprintf("cd %s && RP_RANK=%d ./%s.exec.sh", t.Description.Sandbox, rank, t.UID)}
}

// BuildCommand returns the base exec script invocation, which the
// executor runs locally as one process; it does not fan out across the
// nodes or ranks in slots.
func (m *SSH) BuildCommand(t *task.Task, slots resource.Slots) (Command, error) {
	return Command{Argv: []string{fmt.Sprintf("./%s.exec.sh", t.UID)}}, nil
}

package launch

import (
	"fmt"

	"github.com/radical-cybertools/radical-pilot-agent/internal/resource"
	"github.com/radical-cybertools/radical-pilot-agent/internal/task"
)

// FORK is the degenerate launch method for single-rank, non-MPI tasks:
// the exec script is spawned directly by the executor with no external
// launcher binary at all. It is always applicable and serves as the
// fallback when a task needs no MPI runtime, pairing with the FORK/CCM
// resource managers (spec §4.4) but not requiring them.
type FORK struct{ base }

func NewFORK(preExecCached []string) *FORK {
	return &FORK{base{name: "FORK", preExecCached: preExecCached}}
}

func (m *FORK) Capabilities() Capabilities {
	return Capabilities{SupportsMPI: false, NeedsRankFile: false, EnvIsolationRequired: false}
}

func (m *FORK) Applicable(t *task.Task) bool {
	return t.Description.Threading != task.ThreadingMPI && t.Description.Ranks <= 1
}

func (m *FORK) RankIDVariable() string               { return "" }
func (m *FORK) Barrier() BarrierKind                 { return BarrierFilesystem }
func (m *FORK) RankCommand(*task.Task, int) []string { return nil }

func (m *FORK) BuildCommand(t *task.Task, slots resource.Slots) (Command, error) {
	return Command{Argv: []string{fmt.Sprintf("./%s.exec.sh", t.UID)}}, nil
}

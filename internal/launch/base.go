package launch

import (
	"fmt"
	"os/exec"
	"strings"

	rpconfig "github.com/radical-cybertools/radical-pilot-agent/internal/config"
	"github.com/radical-cybertools/radical-pilot-agent/internal/resource"
	"github.com/radical-cybertools/radical-pilot-agent/internal/task"
)

// onPath reports whether binary is resolvable via $PATH. Methods use this
// for applicability checks that don't depend on the resource manager tag
// (spec §4.4: "MPIRUN requires an MPI runtime").
func onPath(binary string) bool {
	_, err := exec.LookPath(binary)
	return err == nil
}

// hostfileLines renders one line per rank holding just that rank's node
// ID, grouped by node in slots.NodeIDs() order, so a node appears once for
// every rank placed on it.
func hostfileLines(slots resource.Slots) string {
	var sb strings.Builder
	for _, nodeID := range slots.NodeIDs() {
		onNode := slots.RanksOnNode(nodeID)
		for range onNode {
			fmt.Fprintf(&sb, "%s\n", nodeID)
		}
	}
	return sb.String()
}

// base holds the fields every concrete Method shares: its registry name,
// the resource-manager tag it requires (empty means "any"), and its
// platform-configured pre_exec_cached lines.
type base struct {
	name          string
	requiresRM    rpconfig.ResourceManager
	preExecCached []string
}

func (b *base) Name() string             { return b.name }
func (b *base) PreExecCached() []string  { return b.preExecCached }

func joinComma(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}

func rankCountOf(t *task.Task) int {
	if t.Description.Ranks <= 0 {
		return 1
	}
	return t.Description.Ranks
}

package resourcemgr

import (
	"fmt"
	"strings"

	rpconfig "github.com/radical-cybertools/radical-pilot-agent/internal/config"
)

func init() {
	register(rpconfig.RMPBSPRO, listPBSHosts)
	register(rpconfig.RMTORQUE, listPBSHosts)
	register(rpconfig.RMCOBALT, listCobaltHosts)
}

// listPBSHosts reads $PBS_NODEFILE, one hostname per line, one line per
// core assigned on that host (PBS's native format), and collapses it to
// the distinct, first-seen-order list of hostnames.
func listPBSHosts(env Environ) ([]string, error) {
	path := env.Getenv("PBS_NODEFILE")
	if path == "" {
		return nil, fmt.Errorf("%w: PBS_NODEFILE is not set", ErrAllocationUnreadable)
	}

	data, err := env.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading PBS_NODEFILE: %v", ErrAllocationUnreadable, err)
	}

	return distinctLines(string(data)), nil
}

// listCobaltHosts reads $COBALT_NODEFILE the same way PBS's is read.
func listCobaltHosts(env Environ) ([]string, error) {
	path := env.Getenv("COBALT_NODEFILE")
	if path == "" {
		return nil, fmt.Errorf("%w: COBALT_NODEFILE is not set", ErrAllocationUnreadable)
	}
	data, err := env.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading COBALT_NODEFILE: %v", ErrAllocationUnreadable, err)
	}
	return distinctLines(string(data)), nil
}

func distinctLines(data string) []string {
	seen := make(map[string]bool)
	var hosts []string
	for _, line := range strings.Split(data, "\n") {
		h := strings.TrimSpace(line)
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		hosts = append(hosts, h)
	}
	return hosts
}

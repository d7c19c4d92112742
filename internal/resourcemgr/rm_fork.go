package resourcemgr

import (
	"fmt"
	"os"

	rpconfig "github.com/radical-cybertools/radical-pilot-agent/internal/config"
)

func init() {
	register(rpconfig.RMFORK, listForkHosts)
	register(rpconfig.RMCCM, listForkHosts)
	register(rpconfig.RMLSF, listLSFHosts)
	register(rpconfig.RMYARN, listForkHosts)
}

// listForkHosts is the degenerate single-node case: the allocation is
// "the machine the Agent is running on", used by FORK/CCM/YARN platforms
// and by tests (scenarios S1, S3, S6 in spec §8 run against it).
func listForkHosts(env Environ) ([]string, error) {
	if h := env.Getenv("RADICAL_NODENAME"); h != "" {
		return []string{h}, nil
	}
	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("%w: could not resolve local hostname: %v", ErrAllocationUnreadable, err)
	}
	return []string{host}, nil
}

// listLSFHosts reads $LSB_HOSTS, a space-separated list with one entry per
// core assigned on that host, and collapses it to distinct hostnames.
func listLSFHosts(env Environ) ([]string, error) {
	raw := env.Getenv("LSB_HOSTS")
	if raw == "" {
		return nil, fmt.Errorf("%w: LSB_HOSTS is not set", ErrAllocationUnreadable)
	}

	seen := make(map[string]bool)
	var hosts []string
	field := ""
	flush := func() {
		if field != "" && !seen[field] {
			seen[field] = true
			hosts = append(hosts, field)
		}
		field = ""
	}
	for _, r := range raw {
		if r == ' ' || r == '\t' {
			flush()
			continue
		}
		field += string(r)
	}
	flush()
	return hosts, nil
}

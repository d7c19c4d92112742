package resourcemgr

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	rpconfig "github.com/radical-cybertools/radical-pilot-agent/internal/config"
)

func init() {
	register(rpconfig.RMSLURM, listSlurmHosts)
}

// listSlurmHosts expands $SLURM_NODELIST (e.g. "node[01-03,07]") into the
// ordered list of hostnames. SLURM_JOB_NUM_NODES, when present, is cross-
// checked against the expansion and surfaced as ErrConfigMismatch on
// disagreement (spec §4.1, ConfigMismatch).
func listSlurmHosts(env Environ) ([]string, error) {
	raw := env.Getenv("SLURM_NODELIST")
	if raw == "" {
		return nil, fmt.Errorf("%w: SLURM_NODELIST is not set", ErrAllocationUnreadable)
	}

	hosts, err := expandSlurmNodelist(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAllocationUnreadable, err)
	}

	if n := env.Getenv("SLURM_JOB_NUM_NODES"); n != "" {
		want, err := strconv.Atoi(n)
		if err == nil && want != len(hosts) {
			return nil, fmt.Errorf("%w: SLURM_JOB_NUM_NODES=%d but SLURM_NODELIST expands to %d host(s)",
				ErrConfigMismatch, want, len(hosts))
		}
	}

	return hosts, nil
}

var slurmGroupPattern = regexp.MustCompile(`^([^\[]+)(?:\[([^\]]*)\])?$`)

// expandSlurmNodelist expands SLURM's compressed hostlist grammar:
// comma-separated groups, each either a bare hostname or a prefix followed
// by a bracketed, comma-separated list of indices/ranges
// (e.g. "cn[01-03,07],login1").
func expandSlurmNodelist(raw string) ([]string, error) {
	var hosts []string

	for _, group := range splitTopLevel(raw) {
		m := slurmGroupPattern.FindStringSubmatch(group)
		if m == nil {
			return nil, fmt.Errorf("unrecognized nodelist group %q", group)
		}
		prefix, ranges := m[1], m[2]
		if ranges == "" {
			hosts = append(hosts, prefix)
			continue
		}
		for _, r := range strings.Split(ranges, ",") {
			lo, hi, width, err := parseSlurmRange(r)
			if err != nil {
				return nil, err
			}
			for i := lo; i <= hi; i++ {
				hosts = append(hosts, fmt.Sprintf("%s%0*d", prefix, width, i))
			}
		}
	}
	return hosts, nil
}

// splitTopLevel splits raw on commas that are not inside a bracketed index
// group, since those commas separate indices, not hostname groups.
func splitTopLevel(raw string) []string {
	var parts []string
	depth := 0
	start := 0
	for i, r := range raw {
		switch r {
		case '[':
			depth++
		case ']':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, raw[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, raw[start:])
	return parts
}

func parseSlurmRange(r string) (lo, hi, width int, err error) {
	if idx := strings.IndexByte(r, '-'); idx >= 0 {
		loStr, hiStr := r[:idx], r[idx+1:]
		lo, err = strconv.Atoi(loStr)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("bad range %q: %w", r, err)
		}
		hi, err = strconv.Atoi(hiStr)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("bad range %q: %w", r, err)
		}
		return lo, hi, len(loStr), nil
	}
	v, err := strconv.Atoi(r)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("bad index %q: %w", r, err)
	}
	return v, v, len(r), nil
}

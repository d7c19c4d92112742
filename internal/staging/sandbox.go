package staging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/radical-cybertools/radical-pilot-agent/common/utils"
)

// SandboxContext resolves the client/session/pilot sandbox roots that a
// staging directive's URL may reference (spec §4.5: "URLs may reference
// client sandbox, session sandbox, pilot sandbox, or task sandbox; these
// are resolvable via environment variables set at agent boot").
type SandboxContext struct {
	Client  string
	Session string
	Pilot   string
}

// NewSandboxContextFromEnv reads RP_CLIENT_SANDBOX, RP_SESSION_SANDBOX,
// and RP_PILOT_SANDBOX, falling back to the current working directory for
// whichever is unset (single-node and test deployments have no separate
// client/session sandbox).
func NewSandboxContextFromEnv() SandboxContext {
	cwd, _ := os.Getwd()
	return SandboxContext{
		Client:  utils.GetEnv("RP_CLIENT_SANDBOX", cwd),
		Session: utils.GetEnv("RP_SESSION_SANDBOX", cwd),
		Pilot:   utils.GetEnv("RP_PILOT_SANDBOX", cwd),
	}
}

// resolve maps a staging directive endpoint to an absolute filesystem
// path. A scheme-prefixed URL (client://, session://, pilot://, task://)
// resolves against the matching sandbox root; anything else is treated as
// already a path, resolved relative to taskSandbox if not absolute.
func (sbx SandboxContext) resolve(raw, taskSandbox string) (string, error) {
	type scheme struct {
		prefix string
		root   string
	}
	for _, s := range []scheme{
		{"client://", sbx.Client},
		{"session://", sbx.Session},
		{"pilot://", sbx.Pilot},
		{"task://", taskSandbox},
	} {
		if strings.HasPrefix(raw, s.prefix) {
			return filepath.Join(s.root, strings.TrimPrefix(raw, s.prefix)), nil
		}
	}
	if filepath.IsAbs(raw) {
		return raw, nil
	}
	if taskSandbox == "" {
		return "", fmt.Errorf("staging: relative path %q with no task sandbox to resolve against", raw)
	}
	return filepath.Join(taskSandbox, raw), nil
}

package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/radical-cybertools/radical-pilot-agent/internal/launch"
	"github.com/radical-cybertools/radical-pilot-agent/internal/task"
)

const scriptPerm = 0755

// shellJoin quotes argv for safe inclusion in a generated bash script.
func shellJoin(argv []string) string {
	parts := make([]string, len(argv))
	for i, a := range argv {
		parts[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
	}
	return strings.Join(parts, " ")
}

// ensureSandbox creates the task sandbox directory if staging did not
// already (spec §4.3 step 2).
func ensureSandbox(t *task.Task) (string, error) {
	sandbox := t.Description.Sandbox
	if sandbox == "" {
		sandbox = "."
	}
	if err := os.MkdirAll(sandbox, 0755); err != nil {
		return "", errors.Wrapf(err, "executor: creating sandbox %s", sandbox)
	}
	return sandbox, nil
}

// writeLaunchScript materializes <uid>.launch.sh (spec §4.3 step 3): it
// exports the task environment, dumps it for the exec script's isolation
// diff, runs pre_launch, execs the launcher command built by method, and
// finally runs post_launch. Runs once per task, not once per rank.
func writeLaunchScript(sandbox string, t *task.Task, cmd launch.Command) (string, error) {
	d := t.Description

	var b strings.Builder
	b.WriteString("#!/bin/bash\nset -e\n")
	for k, v := range d.Environment {
		fmt.Fprintf(&b, "export %s=%s\n", k, shellJoin([]string{v}))
	}
	fmt.Fprintf(&b, "env > %s.pre_launch.env\n", t.UID)
	for _, line := range d.PreLaunch {
		b.WriteString(line + "\n")
	}
	b.WriteString(shellJoin(cmd.Argv) + "\n")
	for _, line := range d.PostLaunch {
		b.WriteString(line + "\n")
	}

	path := filepath.Join(sandbox, t.UID+".launch.sh")
	if err := os.WriteFile(path, []byte(b.String()), scriptPerm); err != nil {
		return "", errors.Wrap(err, "executor: writing launch script")
	}

	for name, contents := range cmd.AuxFiles {
		if err := os.WriteFile(filepath.Join(sandbox, name), []byte(contents), 0644); err != nil {
			return "", errors.Wrapf(err, "executor: writing aux file %s", name)
		}
	}
	return path, nil
}

// writeExecScript materializes <uid>.exec.sh, executed by the launcher
// once per rank (spec §4.3 step 3). It reconstitutes the rank's
// environment with launcher-injected variables stripped out (the
// "environment isolation contract"), gates pre_exec on rank 0 behind the
// launch method's barrier, then execs the task payload.
func writeExecScript(sandbox string, t *task.Task, method launch.Method) (string, error) {
	d := t.Description
	injected := launch.EnvInjectedVars(method.Name())

	var b strings.Builder
	b.WriteString("#!/bin/bash\nset -e\n")

	if rv := method.RankIDVariable(); rv != "" {
		fmt.Fprintf(&b, "export RP_RANK=${%s:-0}\n", rv)
	} else {
		b.WriteString("export RP_RANK=${RP_RANK:-0}\n")
	}

	// Dump the rank's own environment, then diff it against the
	// pre-launch dump so only variables the launcher itself injected
	// (SLURM_*, PMIX_*, OMPI_*, ...) are excluded before pre_exec runs.
	fmt.Fprintf(&b, "env > %s.rank_env.$RP_RANK\n", t.UID)
	diff := fmt.Sprintf("comm -13 <(sort %s.pre_launch.env) <(sort %s.rank_env.$RP_RANK)", t.UID, t.UID)
	if len(injected) > 0 {
		var greps []string
		for _, prefix := range injected {
			greps = append(greps, fmt.Sprintf("-e '^%s'", prefix))
		}
		fmt.Fprintf(&b, "%s | grep -v %s > %s.isolated_env.$RP_RANK || true\n", diff, strings.Join(greps, " "), t.UID)
	} else {
		fmt.Fprintf(&b, "%s > %s.isolated_env.$RP_RANK || true\n", diff, t.UID)
	}

	b.WriteString("if [ \"$RP_RANK\" = \"0\" ]; then\n")
	switch method.Barrier() {
	case launch.BarrierFilesystem:
		fmt.Fprintf(&b, "  touch %s.barrier\n", t.UID)
	case launch.BarrierZMQ:
		b.WriteString("  : # rank barrier coordinated over the update pubsub\n")
	default:
		b.WriteString("  : # MPI_Init provides the rank barrier\n")
	}
	fmt.Fprintf(&b, "  set -a; source %s.isolated_env.$RP_RANK; set +a\n", t.UID)
	for _, line := range d.PreExec {
		fmt.Fprintf(&b, "  %s\n", line)
	}
	b.WriteString("fi\n")

	if d.NamedEnv != "" {
		fmt.Fprintf(&b, "source activate %s 2>/dev/null || conda activate %s\n", d.NamedEnv, d.NamedEnv)
	}

	payload := append([]string{d.Executable}, d.Arguments...)
	if len(d.PostExec) == 0 {
		b.WriteString("exec " + shellJoin(payload) + "\n")
	} else {
		b.WriteString(shellJoin(payload) + "\n")
		b.WriteString("rc=$?\n")
		for _, line := range d.PostExec {
			b.WriteString(line + "\n")
		}
		b.WriteString("exit $rc\n")
	}

	path := filepath.Join(sandbox, t.UID+".exec.sh")
	if err := os.WriteFile(path, []byte(b.String()), scriptPerm); err != nil {
		return "", errors.Wrap(err, "executor: writing exec script")
	}
	return path, nil
}

package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/radical-cybertools/radical-pilot-agent/common/utils/hashmap"
)

// procTableShards is the shard count handed to the underlying
// concurrent-map backend; the Executor rarely tracks more than a few
// hundred in-flight tasks at once, so a modest shard count avoids
// over-sharding a small table.
const procTableShards = 16

// cancelGrace is how long a canceled task's process group is given to
// exit after SIGTERM before the executor escalates to SIGKILL (spec §4.3
// "Cancellation").
const cancelGrace = 5 * time.Second

// apiTruncateBytes bounds how much of a task's captured stdout/stderr is
// surfaced through the task API; the full file remains on disk regardless
// (spec §4.3 step 4).
const apiTruncateBytes = 1024

// runningProc tracks one spawned launch-script process for cancellation.
// canceled is an atomic.Bool rather than a plain bool so cancel's
// check-and-set race (two Control commands canceling the same task at
// once) resolves to exactly one SIGTERM without a separate table-wide
// lock.
type runningProc struct {
	cmd      *exec.Cmd
	canceled atomic.Bool
}

// procTable is the Executor's PID watcher (spec §4.3 step 5): a registry
// of in-flight processes keyed by task UID, consulted by Cancel. Backed by
// the sharded concurrent map used elsewhere for high-churn, short-lived
// keyed state, since register/cancel/finish all happen from different
// goroutines per task with no natural single owner.
type procTable struct {
	procs *hashmap.ConcurrentMap[string, *runningProc]
}

func newProcTable() *procTable {
	return &procTable{procs: hashmap.NewConcurrentMap[*runningProc](procTableShards)}
}

func (pt *procTable) register(uid string, cmd *exec.Cmd) {
	pt.procs.Store(uid, &runningProc{cmd: cmd})
}

// cancel signals uid's process group with SIGTERM, then SIGKILL after
// cancelGrace if it hasn't exited. Idempotent: canceling an already-
// canceled or already-finished task is a no-op (spec §4.3).
func (pt *procTable) cancel(uid string) {
	rp, ok := pt.procs.Load(uid)
	if !ok || !rp.canceled.CompareAndSwap(false, true) {
		return
	}
	pid := rp.cmd.Process.Pid

	_ = unix.Kill(-pid, unix.SIGTERM)
	go func() {
		time.Sleep(cancelGrace)
		if _, stillTracked := pt.procs.Load(uid); stillTracked {
			_ = unix.Kill(-pid, unix.SIGKILL)
		}
	}()
}

// cancelAll cancels every currently tracked task, used for cancel_pilot
// and shutdown Control commands.
func (pt *procTable) cancelAll() {
	var uids []string
	pt.procs.Range(func(uid string, _ *runningProc) bool {
		uids = append(uids, uid)
		return true
	})
	for _, uid := range uids {
		pt.cancel(uid)
	}
}

// spawnResult is what running a task's launch script produced.
type spawnResult struct {
	exitCode int
	canceled bool
	err      error // non-nil only for spawn-time failures (exec error), not non-zero exit
}

// spawn runs launchScript as a new process group so the whole rank tree
// can be signaled together, capturing stdout/stderr into sandbox-relative
// files, and blocks until it exits or ctx is canceled.
func (pt *procTable) spawn(ctx context.Context, uid, sandbox, launchScript string) spawnResult {
	outPath := filepath.Join(sandbox, uid+".out")
	errPath := filepath.Join(sandbox, uid+".err")

	outFile, err := os.Create(outPath)
	if err != nil {
		return spawnResult{err: errors.Wrap(err, "executor: creating stdout file")}
	}
	defer outFile.Close()

	errFile, err := os.Create(errPath)
	if err != nil {
		return spawnResult{err: errors.Wrap(err, "executor: creating stderr file")}
	}
	defer errFile.Close()

	cmd := exec.Command("/bin/bash", launchScript)
	cmd.Dir = sandbox
	cmd.Stdout = outFile
	cmd.Stderr = errFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return spawnResult{err: errors.Wrap(err, "executor: spawn failed")}
	}

	pt.register(uid, cmd)

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	finish := func(exitCode int, err error) spawnResult {
		rp, ok := pt.procs.LoadAndDelete(uid)
		canceled := ok && rp.canceled.Load()
		return spawnResult{exitCode: exitCode, canceled: canceled, err: err}
	}

	select {
	case <-ctx.Done():
		pt.cancel(uid)
		<-waitErr
		return finish(-1, ctx.Err())

	case err := <-waitErr:
		if err == nil {
			return finish(0, nil)
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return finish(exitErr.ExitCode(), nil)
		}
		return finish(-1, err)
	}
}

// tailForAPI reads up to apiTruncateBytes from the end of path, for
// surfacing through the task API; the file on disk is left untouched.
func tailForAPI(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	if len(data) <= apiTruncateBytes {
		return string(data)
	}
	return string(data[len(data)-apiTruncateBytes:])
}

// SpawnSubprocess runs argv as a new process group inside sandbox,
// capturing stdout/stderr the same way spawn does for the normal
// Scheduler->Executor path, and returns the truncated tail of stdout
// (tailForAPI) as result — RAPTOR's TASK_PROC/TASK_SHELL/TASK_EXEC inner
// tasks have no launch method and no sandbox scripts of their own, so this
// skips straight to a one-off script+spawn rather than going through
// writeLaunchScript/writeExecScript. Honors ctx cancellation exactly like
// the normal path: SIGTERM, then SIGKILL after cancelGrace.
func SpawnSubprocess(ctx context.Context, uid, sandbox string, argv []string) (result string, err error) {
	if len(argv) == 0 {
		return "", errors.New("executor: empty argv")
	}
	if err := os.MkdirAll(sandbox, 0755); err != nil {
		return "", errors.Wrapf(err, "executor: creating sandbox %s", sandbox)
	}

	script := filepath.Join(sandbox, uid+".raptor.sh")
	contents := "#!/bin/bash\nset -e\n" + shellJoin(argv) + "\n"
	if err := os.WriteFile(script, []byte(contents), scriptPerm); err != nil {
		return "", errors.Wrap(err, "executor: writing raptor script")
	}

	pt := newProcTable()
	res := pt.spawn(ctx, uid, sandbox, script)
	out := tailForAPI(filepath.Join(sandbox, uid+".out"))

	if res.err != nil {
		return out, errors.Wrap(res.err, "executor: raptor subprocess")
	}
	if res.canceled {
		return out, ctx.Err()
	}
	if res.exitCode != 0 {
		return out, fmt.Errorf("executor: raptor subprocess exited with code %d", res.exitCode)
	}
	return out, nil
}

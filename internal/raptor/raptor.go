// Package raptor implements the optional high-throughput RAPTOR subsystem
// (spec §4.7): a Master task hosting its own scheduling queue, and N
// Worker tasks pulling inner tasks from it, bypassing the normal
// Scheduler entirely since MASTER/WORKER are themselves ordinary tasks
// already holding their own slot.
package raptor

import "github.com/radical-cybertools/radical-pilot-agent/internal/task"

// Mode is the inner-task execution mode a RAPTOR-targeted task description
// carries (spec §4.7).
type Mode string

const (
	TaskFunction Mode = "TASK_FUNCTION"
	TaskProc     Mode = "TASK_PROC"
	TaskEval     Mode = "TASK_EVAL"
	TaskExec     Mode = "TASK_EXEC"
	TaskShell    Mode = "TASK_SHELL"
)

// IsRaptorTask reports whether t is targeted at RAPTOR rather than the
// normal Scheduler/Executor path.
func IsRaptorTask(t *task.Task) bool {
	return t.Description.RaptorMode != ""
}

// ModeOf returns t's inner-task mode.
func ModeOf(t *task.Task) Mode {
	return Mode(t.Description.RaptorMode)
}

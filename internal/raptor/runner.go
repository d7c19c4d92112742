package raptor

import (
	"context"
	"fmt"

	"github.com/radical-cybertools/radical-pilot-agent/internal/executor"
	"github.com/radical-cybertools/radical-pilot-agent/internal/task"
)

// FunctionTable resolves a TASK_FUNCTION inner task's Description.Function
// name to a callable. Supplied by whatever owns the agent wiring; RAPTOR
// itself knows nothing about what functions exist.
type FunctionTable func(name string) (func(ctx context.Context, t *task.Task) (string, error), bool)

// DefaultRunner builds an InnerRunner that dispatches on ModeOf(t):
// TASK_PROC/TASK_SHELL/TASK_EXEC all spawn a subprocess through the same
// process-group-per-task machinery the normal Scheduler->Executor path
// uses, since none of the three need a launch method, a scheduler slot, or
// per-rank staging — RAPTOR bypasses all of that by design (spec §4.7).
// TASK_FUNCTION is resolved through functions. TASK_EVAL has no runner
// here: it would require an embedded expression interpreter this
// implementation does not carry, so it always fails.
func DefaultRunner(functions FunctionTable) InnerRunner {
	return func(ctx context.Context, t *task.Task) (string, error) {
		switch mode := ModeOf(t); mode {
		case TaskProc, TaskShell, TaskExec:
			return runSubprocess(ctx, t)
		case TaskFunction:
			return runFunction(ctx, t, functions)
		case TaskEval:
			return "", fmt.Errorf("raptor: TASK_EVAL is not supported by this worker")
		default:
			return "", fmt.Errorf("raptor: unknown inner-task mode %q", mode)
		}
	}
}

func runSubprocess(ctx context.Context, t *task.Task) (string, error) {
	d := t.Description
	if d.Executable == "" {
		return "", fmt.Errorf("raptor: %s task %s has no executable", ModeOf(t), t.UID)
	}
	sandbox := d.Sandbox
	if sandbox == "" {
		sandbox = "."
	}
	argv := append([]string{d.Executable}, d.Arguments...)
	return executor.SpawnSubprocess(ctx, t.UID, sandbox, argv)
}

func runFunction(ctx context.Context, t *task.Task, functions FunctionTable) (string, error) {
	if functions == nil {
		return "", fmt.Errorf("raptor: no function table registered for TASK_FUNCTION task %s", t.UID)
	}
	fn, ok := functions(t.Description.Function)
	if !ok {
		return "", fmt.Errorf("raptor: unregistered function %q", t.Description.Function)
	}
	return fn(ctx, t)
}

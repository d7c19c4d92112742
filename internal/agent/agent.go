// Package agent wires the Agent's pipeline components together (spec §2):
// Resource Manager, Launch-Method Registry, Staging-Input, Scheduler,
// Executor, Staging-Output, Update/Control, and the optional RAPTOR
// subsystem, each running as its own goroutine communicating only through
// the Queue/PubSub primitives in internal/bus, exactly as spec §5 requires
// ("components never call one another directly").
package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/google/uuid"

	"github.com/radical-cybertools/radical-pilot-agent/internal/bus"
	rpconfig "github.com/radical-cybertools/radical-pilot-agent/internal/config"
	"github.com/radical-cybertools/radical-pilot-agent/internal/control"
	"github.com/radical-cybertools/radical-pilot-agent/internal/executor"
	"github.com/radical-cybertools/radical-pilot-agent/internal/launch"
	"github.com/radical-cybertools/radical-pilot-agent/internal/raptor"
	"github.com/radical-cybertools/radical-pilot-agent/internal/resource"
	"github.com/radical-cybertools/radical-pilot-agent/internal/resourcemgr"
	"github.com/radical-cybertools/radical-pilot-agent/internal/scheduler"
	"github.com/radical-cybertools/radical-pilot-agent/internal/staging"
	"github.com/radical-cybertools/radical-pilot-agent/internal/task"
	"github.com/radical-cybertools/radical-pilot-agent/internal/update"
)

// defaultQueueDepth is the stall high-water-mark for every in-process
// pipeline queue when the platform config names no more specific value.
const defaultQueueDepth = 256

// Agent owns every pipeline component and the queues/pubsubs wiring them
// together. Callers interact with it only through Submit, Run,
// AddRaptorWorker and Control; nothing outside this package ever touches a
// component directly.
type Agent struct {
	log logger.Logger

	platform    rpconfig.Platform
	resourceMap *resource.Map
	registry    *launch.Registry

	stateEvents *bus.PubSub[task.Event]
	unschedule  *bus.PubSub[resource.Slots]
	ctrl        *bus.PubSub[control.Command]

	stagingIn  *bus.Queue[*task.Task]
	toSched    *bus.Queue[*task.Task]
	toExec     *bus.Queue[*task.Task]
	toStageOut *bus.Queue[*task.Task]

	stagerIn  *staging.Stager
	sched     *scheduler.Scheduler
	exec      *executor.Executor
	stagerOut *staging.Stager
	sink      *update.Sink

	raptorMaster *raptor.Master
	raptorInbox  *bus.Queue[*task.Task]
}

// New bootstraps an Agent for platform, discovering the fixed Node list
// via resourcemgr (env may be nil to use the real OS environment) and
// wiring every Launch-Method the platform configures. transport is the
// outgoing queue of update.Message the client-side manager consumes (spec
// §4.6); it may be a local queue in tests or a ZMQ-backed one in
// production.
func New(platform rpconfig.Platform, env resourcemgr.Environ, transport *bus.Queue[update.Message]) (*Agent, error) {
	mgr := resourcemgr.New(platform, env)
	nodes, err := mgr.Nodes()
	if err != nil {
		return nil, fmt.Errorf("agent: resource manager: %w", err)
	}
	mgr.CheckGPUCount()

	a := &Agent{
		platform:    platform,
		resourceMap: resource.NewMap(nodes),
		registry:    buildRegistry(platform),
		stateEvents: bus.NewLocalPubSub[task.Event](),
		unschedule:  bus.NewLocalPubSub[resource.Slots](),
		ctrl:        update.NewControl(),
	}
	config.InitLogger(&a.log, a)

	a.stagingIn = bus.NewLocalQueue[*task.Task](defaultQueueDepth)
	a.toSched = bus.NewLocalQueue[*task.Task](defaultQueueDepth)
	a.toExec = bus.NewLocalQueue[*task.Task](defaultQueueDepth)
	a.toStageOut = bus.NewLocalQueue[*task.Task](defaultQueueDepth)

	sbx := staging.NewSandboxContextFromEnv()
	threshold := platform.TaskBulkMkdirThreshold

	a.stagerIn = staging.New(staging.Input, sbx, threshold, a.stagingIn, a.toSched, nil, a.stateEvents, a.ctrl)
	a.sched = scheduler.New(a.resourceMap, a.toSched, a.toExec, a.unschedule, a.stateEvents, a.ctrl)
	a.exec = executor.New(a.registry, a.toExec, a.toStageOut, a.unschedule, a.stateEvents, a.ctrl)
	a.stagerOut = staging.New(staging.Output, sbx, threshold, a.toStageOut, nil, a.unschedule, a.stateEvents, a.ctrl)
	a.sink = update.NewSink(a.stateEvents, transport)

	a.raptorInbox = bus.NewLocalQueue[*task.Task](defaultQueueDepth)
	a.raptorMaster = raptor.NewMaster(a.raptorInbox, a.stateEvents, a.ctrl)

	return a, nil
}

// buildRegistry constructs every launch method this implementation knows,
// configuring each with its platform-declared pre_exec_cached lines (spec
// §4.4), and fixes the registry's resolution order from
// launch_methods.order.
func buildRegistry(platform rpconfig.Platform) *launch.Registry {
	r := launch.NewRegistry()
	preExec := func(name string) []string {
		return platform.LaunchMethods.Methods[name].PreExecCached
	}

	r.Register(launch.NewSRUN(platform.ResourceManager, preExec("SRUN")))
	r.Register(launch.NewMPIRUN(preExec("MPIRUN")))
	r.Register(launch.NewMPIEXEC(preExec("MPIEXEC")))
	r.Register(launch.NewJSRUN(platform.ResourceManager, preExec("JSRUN")))
	r.Register(launch.NewAPRUN(preExec("APRUN")))
	r.Register(launch.NewPRTE(preExec("PRTE")))
	r.Register(launch.NewFLUX(preExec("FLUX")))
	r.Register(launch.NewSSH(preExec("SSH")))
	r.Register(launch.NewFORK(preExec("FORK")))

	order := platform.LaunchMethods.Order
	if len(order) == 0 {
		order = []string{"SRUN", "PRTE", "MPIRUN", "MPIEXEC", "JSRUN", "APRUN", "FLUX", "SSH", "FORK"}
	}
	r.SetOrder(order)
	return r
}

// AddRaptorWorker registers a RAPTOR worker named id, draining inner tasks
// dispatched by this Agent's Master and executing them with run. Called by
// whatever owns the agent wiring before Run, once per worker the platform
// is configured to host (spec §4.7).
func (a *Agent) AddRaptorWorker(id string, run raptor.InnerRunner) *raptor.Worker {
	q := bus.NewLocalQueue[*task.Task](defaultQueueDepth)
	return raptor.NewWorker(id, q, run, a.raptorMaster, a.stateEvents, a.ctrl)
}

// Control returns the shared administrative-command pubsub, so a
// transport-facing layer can forward client cancel/shutdown requests into
// it (spec §4.6).
func (a *Agent) Control() *bus.PubSub[control.Command] { return a.ctrl }

// Submit admits a new task description into the pipeline, generating a
// UID and routing it either to RAPTOR (bypassing the normal
// Scheduler/Executor entirely, per spec §4.7) or to Staging-Input, the
// pipeline's normal entry point (spec §2).
func (a *Agent) Submit(ctx context.Context, desc task.Description) (*task.Task, error) {
	t := task.New(uuid.NewString(), desc)

	if raptor.IsRaptorTask(t) {
		if err := a.raptorInbox.Push(ctx, t); err != nil {
			return nil, fmt.Errorf("agent: submitting raptor task %s: %w", t.UID, err)
		}
		return t, nil
	}

	if err := a.stagingIn.Push(ctx, t); err != nil {
		return nil, fmt.Errorf("agent: submitting task %s: %w", t.UID, err)
	}
	return t, nil
}

// Run starts every pipeline component concurrently and blocks until ctx is
// canceled, at which point each component unwinds on its own ctx.Done()
// branch. The first non-context-cancellation error from any component is
// returned once all have exited; components besides that one still get a
// chance to shut down cleanly rather than being abandoned mid-run.
func (a *Agent) Run(ctx context.Context, workers ...*raptor.Worker) error {
	components := []func(context.Context) error{
		a.stagerIn.Run,
		a.sched.Run,
		a.exec.Run,
		a.stagerOut.Run,
		a.sink.Run,
		a.raptorMaster.Run,
	}
	for _, w := range workers {
		components = append(components, w.Run)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(components))
	wg.Add(len(components))
	for i, run := range components {
		i, run := i, run
		go func() {
			defer wg.Done()
			errs[i] = run(ctx)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil && err != context.Canceled {
			return err
		}
	}
	return nil
}

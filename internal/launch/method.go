// Package launch implements the Launch-Method registry (spec §4.4):
// pluggable adapters translating a task.Task plus its resource.Slots into a
// concrete launcher invocation. Each adapter is grounded in the shape the
// original implementation's launch methods take (one rank-id environment
// variable, one pre-exec-cached idempotent setup, one command-builder per
// platform launcher) as described in spec §4.4, since the retrieved
// original source only preserved the agent/executing/flux.py and
// pmgr/launching/saga.py files for this subsystem.
package launch

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/radical-cybertools/radical-pilot-agent/internal/resource"
	"github.com/radical-cybertools/radical-pilot-agent/internal/task"
)

// Command is the result of building a launch invocation: the argv to exec
// as the task's launch script, plus any auxiliary files (e.g. a rank/host
// file) that must be written into the task sandbox before it runs.
type Command struct {
	Argv      []string
	AuxFiles  map[string]string // relative filename -> contents
}

// Capabilities describes what a launch method supports, consulted by the
// Executor when validating applicability and by exec-script generation
// when deciding whether a rank-0 pre_exec barrier needs to be synthesized.
type Capabilities struct {
	SupportsMPI         bool
	NeedsRankFile       bool
	EnvIsolationRequired bool
}

// Method is a registered, stateless launch-method adapter (spec §4.4).
type Method interface {
	// Name is the method's registry tag, e.g. "SRUN", "MPIRUN".
	Name() string

	// Capabilities reports this method's fixed capability set.
	Capabilities() Capabilities

	// Applicable reports whether this method can run the given task on
	// this platform (e.g. SRUN requires a SLURM resource manager; MPIRUN
	// requires an MPI runtime on PATH).
	Applicable(t *task.Task) bool

	// BuildCommand builds the launcher argv for t, placed according to
	// slots.
	BuildCommand(t *task.Task, slots resource.Slots) (Command, error)

	// RankIDVariable names the environment variable the launcher sets in
	// each rank's environment to expose that rank's 0-based index, e.g.
	// SLURM_PROCID, PMIX_RANK, OMPI_COMM_WORLD_RANK.
	RankIDVariable() string

	// RankCommand returns the wrapper command a rank's exec script should
	// invoke to obtain correct per-rank behavior when the launcher itself
	// does not already place the payload directly. Only SSH returns a
	// non-nil command; the Executor does not call RankCommand.
	RankCommand(t *task.Task, rank int) []string

	// PreExecCached returns the idempotent, once-per-agent environment
	// preparation lines configured for this method in platform config
	// (launch_methods.<METHOD>.pre_exec_cached).
	PreExecCached() []string

	// Barrier names the mechanism this method guarantees is available to
	// gate rank-0 pre_exec behind all ranks having started (spec §9: "some
	// barrier is guaranteed present per launch method, chosen by the
	// launch-method implementer").
	Barrier() BarrierKind
}

// BarrierKind names the rank-0 pre_exec barrier mechanism a launch method
// provides.
type BarrierKind string

const (
	BarrierMPIInit   BarrierKind = "mpi_init"
	BarrierFilesystem BarrierKind = "filesystem"
	BarrierZMQ       BarrierKind = "zmq"
)

// EnvInjectedVars lists the environment variable name *prefixes* a given
// method's launcher is known to inject into a rank's environment (spec
// §4.3, "environment isolation contract"). Used by the Executor's
// diff-and-strip step.
func EnvInjectedVars(name string) []string {
	switch name {
	case "SRUN":
		return []string{"SLURM_", "PMI_", "PMIX_"}
	case "MPIRUN", "MPIEXEC", "PRTE":
		return []string{"OMPI_", "PMIX_", "PRTE_"}
	case "JSRUN":
		return []string{"OMPI_", "PMIX_", "LSF_"}
	case "APRUN":
		return []string{"ALPS_", "PMI_"}
	case "FLUX":
		return []string{"FLUX_"}
	default:
		return nil
	}
}

// Registry holds every configured launch method, in platform-declared
// preference order (launch_methods.order).
type Registry struct {
	order   []string
	methods map[string]Method
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{methods: make(map[string]Method)}
}

// Register adds m to the registry under its own Name(). Re-registering the
// same name replaces the previous entry.
func (r *Registry) Register(m Method) {
	r.methods[m.Name()] = m
}

// SetOrder fixes the preference order launch methods are tried in,
// normally taken verbatim from platform config's launch_methods.order.
func (r *Registry) SetOrder(order []string) {
	r.order = order
}

// ErrNoApplicableMethod is the Executor's LMUnavailable failure mode (spec
// §4.3): no configured method, in preference order, is Applicable to a
// given task on this platform.
var ErrNoApplicableMethod = errors.New("no applicable launch method")

// Resolve returns the first method (in platform preference order) whose
// Applicable(t) is true.
func (r *Registry) Resolve(t *task.Task) (Method, error) {
	for _, name := range r.order {
		m, ok := r.methods[name]
		if !ok {
			continue
		}
		if m.Applicable(t) {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: tried %v", ErrNoApplicableMethod, r.order)
}

// Get returns the registered method named name, if any.
func (r *Registry) Get(name string) (Method, bool) {
	m, ok := r.methods[name]
	return m, ok
}

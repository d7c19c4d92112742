// Package config decodes the platform configuration file (spec §6): a JSON
// document, keyed by platform name, describing the batch system, resource
// topology, and launch methods available to the Agent. Struct tags follow
// the teacher's CommonOptions convention (common/configuration/config.go):
// name/json/yaml tags together, so the same struct can later be bound to
// CLI flags via Scusemua/go-utils/config without duplicating field lists.
package config

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// ResourceManager is the batch system that owns the allocation the Agent
// is running inside.
type ResourceManager string

const (
	RMCCM     ResourceManager = "CCM"
	RMCOBALT  ResourceManager = "COBALT"
	RMFORK    ResourceManager = "FORK"
	RMLSF     ResourceManager = "LSF"
	RMPBSPRO  ResourceManager = "PBSPRO"
	RMSLURM   ResourceManager = "SLURM"
	RMTORQUE  ResourceManager = "TORQUE"
	RMYARN    ResourceManager = "YARN"
)

// SystemArchitecture describes SMT and the blocked-slot lists read at boot
// (spec §3: "BLOCKED is set at boot from platform config").
type SystemArchitecture struct {
	SMT          int      `name:"smt"           json:"smt"           yaml:"smt"`
	Options      []string `name:"options"       json:"options"       yaml:"options"`
	BlockedCores []int    `name:"blocked_cores" json:"blocked_cores" yaml:"blocked_cores"`
	BlockedGPUs  []int    `name:"blocked_gpus"  json:"blocked_gpus"  yaml:"blocked_gpus"`
}

// LaunchMethodConfig holds the per-method section of launch_methods, e.g.
// the idempotent pre_exec_cached lines run once per agent.
type LaunchMethodConfig struct {
	PreExecCached []string `name:"pre_exec_cached" json:"pre_exec_cached" yaml:"pre_exec_cached"`
}

// LaunchMethods is the launch_methods section of the platform config:
// an ordered preference list plus per-method configuration.
type LaunchMethods struct {
	Order   []string                      `name:"order" json:"order" yaml:"order"`
	Methods map[string]LaunchMethodConfig `json:"-" yaml:"-"`
}

// UnmarshalJSON flattens launch_methods' mixed shape (an "order" array
// alongside per-method objects keyed by method name) into Order + Methods.
func (lm *LaunchMethods) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	lm.Methods = make(map[string]LaunchMethodConfig)
	for key, v := range raw {
		if key == "order" {
			if err := json.Unmarshal(v, &lm.Order); err != nil {
				return fmt.Errorf("launch_methods.order: %w", err)
			}
			continue
		}
		var mc LaunchMethodConfig
		if err := json.Unmarshal(v, &mc); err != nil {
			return fmt.Errorf("launch_methods.%s: %w", key, err)
		}
		lm.Methods[strings.ToUpper(key)] = mc
	}
	return nil
}

// Platform is the decoded configuration for a single platform entry (spec
// §6). A platform config file is `map[string]Platform` keyed by platform
// name.
type Platform struct {
	Schemas            []string           `name:"schemas"              json:"schemas"              yaml:"schemas"`
	DefaultQueue       string             `name:"default_queue"        json:"default_queue"        yaml:"default_queue"`
	Project            string             `name:"project"              json:"project"              yaml:"project"`
	ResourceManager    ResourceManager    `name:"resource_manager"     json:"resource_manager"     yaml:"resource_manager"`
	CoresPerNode       int                `name:"cores_per_node"       json:"cores_per_node"       yaml:"cores_per_node"`
	GPUsPerNode        int                `name:"gpus_per_node"        json:"gpus_per_node"        yaml:"gpus_per_node"`
	LFSPathPerNode     string             `name:"lfs_path_per_node"    json:"lfs_path_per_node"    yaml:"lfs_path_per_node"`
	LFSSizePerNodeMB   int                `name:"lfs_size_per_node"    json:"lfs_size_per_node"    yaml:"lfs_size_per_node"`
	MemPerNodeMB       int                `name:"mem_per_node"         json:"mem_per_node"         yaml:"mem_per_node"`
	SystemArchitecture SystemArchitecture `name:"system_architecture"  json:"system_architecture"  yaml:"system_architecture"`
	AgentScheduler     string             `name:"agent_scheduler"      json:"agent_scheduler"      yaml:"agent_scheduler"`
	AgentSpawner       string             `name:"agent_spawner"        json:"agent_spawner"        yaml:"agent_spawner"`
	AgentConfig        string             `name:"agent_config"         json:"agent_config"         yaml:"agent_config"`
	LaunchMethods      LaunchMethods      `name:"launch_methods"       json:"launch_methods"       yaml:"launch_methods"`
	PreBootstrap0      []string           `name:"pre_bootstrap_0"      json:"pre_bootstrap_0"      yaml:"pre_bootstrap_0"`
	PreBootstrap1      []string           `name:"pre_bootstrap_1"      json:"pre_bootstrap_1"      yaml:"pre_bootstrap_1"`
	VirtenvMode        string             `name:"virtenv_mode"         json:"virtenv_mode"         yaml:"virtenv_mode"`
	PythonDist         string             `name:"python_dist"          json:"python_dist"          yaml:"python_dist"`
	RPVersion          string             `name:"rp_version"           json:"rp_version"           yaml:"rp_version"`
	DefaultRemoteWorkdir string           `name:"default_remote_workdir" json:"default_remote_workdir" yaml:"default_remote_workdir"`

	TaskBulkMkdirThreshold int `name:"task_bulk_mkdir_threshold" json:"task_bulk_mkdir_threshold" yaml:"task_bulk_mkdir_threshold"`
}

// File is the top-level shape of the platform configuration file: platform
// name -> Platform.
type File map[string]Platform

// Load decodes a platform configuration document.
func Load(data []byte) (File, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigMismatch, err)
	}
	return f, nil
}

// ErrConfigMismatch is the fatal configuration error class from spec §6/§7:
// malformed platform JSON, unknown resource manager, or a node/core count
// that disagrees with the allocation manifest.
var ErrConfigMismatch = errors.New("platform configuration error")

// String renders the Platform as compact JSON, matching the teacher's
// CommonOptions.String convention.
func (p Platform) String() string {
	b, err := json.Marshal(p)
	if err != nil {
		panic(err)
	}
	return string(b)
}

// PrettyString renders the Platform as indented JSON.
func (p Platform) PrettyString(indentSize int) string {
	b, err := json.MarshalIndent(p, "", strings.Repeat(" ", indentSize))
	if err != nil {
		panic(err)
	}
	return string(b)
}

// Validate checks that the decoded Platform names a resource manager this
// Agent build knows how to bootstrap against, and that the launch method
// order contains at least one recognized method. Deeper validation
// (ConfigMismatch against the live allocation manifest) is performed by
// resourcemgr, which has node-count ground truth this package does not.
func (p Platform) Validate() error {
	switch p.ResourceManager {
	case RMCCM, RMCOBALT, RMFORK, RMLSF, RMPBSPRO, RMSLURM, RMTORQUE, RMYARN:
	default:
		return fmt.Errorf("%w: unknown resource_manager %q", ErrConfigMismatch, p.ResourceManager)
	}
	if len(p.LaunchMethods.Order) == 0 {
		return fmt.Errorf("%w: launch_methods.order must not be empty", ErrConfigMismatch)
	}
	if p.CoresPerNode <= 0 {
		return fmt.Errorf("%w: cores_per_node must be positive", ErrConfigMismatch)
	}
	return nil
}

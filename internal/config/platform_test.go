package config_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/radical-cybertools/radical-pilot-agent/internal/config"
)

const samplePlatform = `{
  "local.slurm": {
    "resource_manager": "SLURM",
    "cores_per_node": 32,
    "gpus_per_node": 4,
    "mem_per_node": 131072,
    "lfs_path_per_node": "/tmp",
    "lfs_size_per_node": 102400,
    "system_architecture": {"blocked_cores": [0], "blocked_gpus": []},
    "launch_methods": {
      "order": ["SRUN", "FORK"],
      "srun": {"pre_exec_cached": ["module load foo"]},
      "fork": {}
    },
    "task_bulk_mkdir_threshold": 100
  }
}`

var _ = Describe("Load", func() {
	It("decodes a platform document keyed by platform name", func() {
		f, err := config.Load([]byte(samplePlatform))
		Expect(err).NotTo(HaveOccurred())
		Expect(f).To(HaveKey("local.slurm"))

		p := f["local.slurm"]
		Expect(p.ResourceManager).To(Equal(config.RMSLURM))
		Expect(p.CoresPerNode).To(Equal(32))
		Expect(p.GPUsPerNode).To(Equal(4))
		Expect(p.SystemArchitecture.BlockedCores).To(Equal([]int{0}))
	})

	It("flattens launch_methods.order alongside per-method config", func() {
		f, err := config.Load([]byte(samplePlatform))
		Expect(err).NotTo(HaveOccurred())

		lm := f["local.slurm"].LaunchMethods
		Expect(lm.Order).To(Equal([]string{"SRUN", "FORK"}))
		Expect(lm.Methods).To(HaveKey("SRUN"))
		Expect(lm.Methods["SRUN"].PreExecCached).To(Equal([]string{"module load foo"}))
		Expect(lm.Methods).To(HaveKey("FORK"))
	})

	It("wraps a malformed document in ErrConfigMismatch", func() {
		_, err := config.Load([]byte("{not json"))
		Expect(err).To(MatchError(config.ErrConfigMismatch))
	})
})

var _ = Describe("Platform.Validate", func() {
	validPlatform := func() config.Platform {
		f, err := config.Load([]byte(samplePlatform))
		Expect(err).NotTo(HaveOccurred())
		return f["local.slurm"]
	}

	It("accepts a well-formed platform", func() {
		Expect(validPlatform().Validate()).To(Succeed())
	})

	It("rejects an unrecognized resource manager", func() {
		p := validPlatform()
		p.ResourceManager = "BOGUS"
		Expect(p.Validate()).To(MatchError(config.ErrConfigMismatch))
	})

	It("rejects an empty launch method order", func() {
		p := validPlatform()
		p.LaunchMethods.Order = nil
		Expect(p.Validate()).To(MatchError(config.ErrConfigMismatch))
	})

	It("rejects a non-positive cores_per_node", func() {
		p := validPlatform()
		p.CoresPerNode = 0
		Expect(p.Validate()).To(MatchError(config.ErrConfigMismatch))
	})
})

var _ = Describe("Platform.String and PrettyString", func() {
	It("renders valid JSON in both compact and indented form", func() {
		f, err := config.Load([]byte(samplePlatform))
		Expect(err).NotTo(HaveOccurred())
		p := f["local.slurm"]

		Expect(p.String()).To(ContainSubstring(`"cores_per_node":32`))
		Expect(p.PrettyString(2)).To(ContainSubstring("\n"))
	})
})

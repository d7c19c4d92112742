package resourcemgr_test

import (
	. "github.com/onsi/ginkgo/v2"

	rpconfig "github.com/radical-cybertools/radical-pilot-agent/internal/config"
	"github.com/radical-cybertools/radical-pilot-agent/internal/resourcemgr"
)

var _ = Describe("Manager.CheckGPUCount", func() {
	It("never panics or blocks when NVML is unavailable on the host", func() {
		m := resourcemgr.New(basePlatform(rpconfig.RMFORK), newFakeEnviron())
		m.CheckGPUCount()
	})
})

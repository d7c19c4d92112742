package resourcemgr

import (
	"fmt"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// probeRealGPUCount attempts to query the number of NVIDIA GPUs actually
// visible on this host via NVML, adapted from the teacher's
// common/utils/nvidia.go GetNumberOfGPUs. It returns (-1, err) if NVML is
// unavailable, which is common and non-fatal: many login/launch nodes
// don't have the NVIDIA driver loaded at all, so the platform config's
// gpus_per_node remains the source of truth and this is only used to log a
// mismatch warning.
func probeRealGPUCount() (int, error) {
	ret := nvml.Init()
	if ret != nvml.SUCCESS {
		return -1, fmt.Errorf("nvml init: %v", nvml.ErrorString(ret))
	}
	defer nvml.Shutdown()

	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return -1, fmt.Errorf("nvml device count: %v", nvml.ErrorString(ret))
	}
	return count, nil
}

// CheckGPUCount logs (but never fails on) a mismatch between the
// platform-configured gpus_per_node and what NVML reports for the local
// host, per SPEC_FULL.md §4.1.
func (m *Manager) CheckGPUCount() {
	real, err := probeRealGPUCount()
	if err != nil {
		m.log.Debug("NVML GPU probe unavailable: %v", err)
		return
	}
	if real != m.platform.GPUsPerNode {
		m.log.Warn("configured gpus_per_node=%d but NVML reports %d GPU(s) on this host",
			m.platform.GPUsPerNode, real)
	}
}

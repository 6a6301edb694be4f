package render

import (
	"os"

	"github.com/cnc5/glacier/pkg/types"
)

// NvidiaSMIPath is where the NVIDIA driver userland lands inside the render
// container image. Its presence is the whole capability probe.
const NvidiaSMIPath = "/usr/bin/nvidia-smi"

// DetectDevice picks the Cycles compute device. Exactly one device is chosen
// per supervisor, at creation; there is no runtime fallback and no AMD
// support.
func DetectDevice(smiPath string) types.RenderDevice {
	info, err := os.Stat(smiPath)
	if err == nil && !info.IsDir() {
		return types.RenderDeviceCUDA
	}
	return types.RenderDeviceCPU
}

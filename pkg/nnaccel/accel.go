package nnaccel

// Package nnaccel decides which compute device a model should run on.
// Selection is deterministic: the accelerated device is used whenever it is present,
// otherwise we fall back to the CPU. The choice only affects latency, never results.

import (
	"os"
	"strings"

	"github.com/cyclopcam/logs"
)

type Device string

const (
	DeviceCUDA Device = "cuda"
	DeviceCPU  Device = "cpu"
)

// Device nodes that the NVIDIA kernel driver creates
var nvidiaDeviceNodes = []string{
	"/dev/nvidiactl",
	"/dev/nvidia0",
}

type Options struct {
	DisableCUDA bool     // Never pick CUDA, even if it is present
	DeviceNodes []string // Override the device nodes we look for (for tests). Nil means the NVIDIA defaults.
}

// Probe returns the device that models should be loaded onto
func Probe(log logs.Log, opt Options) Device {
	if opt.DisableCUDA {
		log.Infof("CUDA disabled - using CPU")
		return DeviceCPU
	}
	// The CUDA runtime treats an empty or negative device list as "no GPUs"
	if visible, ok := os.LookupEnv("CUDA_VISIBLE_DEVICES"); ok {
		v := strings.TrimSpace(visible)
		if v == "" || strings.HasPrefix(v, "-") {
			log.Infof("CUDA_VISIBLE_DEVICES hides all GPUs - using CPU")
			return DeviceCPU
		}
	}
	nodes := opt.DeviceNodes
	if nodes == nil {
		nodes = nvidiaDeviceNodes
	}
	for _, node := range nodes {
		if _, err := os.Stat(node); err == nil {
			log.Infof("Found %v - using CUDA", node)
			return DeviceCUDA
		}
	}
	log.Infof("No CUDA device found - using CPU")
	return DeviceCPU
}

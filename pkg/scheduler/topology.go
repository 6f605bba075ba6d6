package scheduler

import "github.com/klauspost/cpuid/v2"

// Topology describes the host CPU as seen at boot.
type Topology struct {
	Brand        string
	LogicalCores int
	CacheLine    int

	// SchedulerCores is the probed core count clamped to the
	// supported run-queue configurations {1, 4}.
	SchedulerCores int
}

// ProbeTopology inspects the host CPU. The scheduler supports exactly
// one or four run queues; hosts with fewer than four logical cores
// collapse to a single queue.
func ProbeTopology() Topology {
	logical := cpuid.CPU.LogicalCores
	if logical <= 0 {
		logical = 1
	}

	cores := 1
	if logical >= 4 {
		cores = 4
	}

	line := cpuid.CPU.CacheLine
	if line <= 0 {
		line = 64
	}

	return Topology{
		Brand:          cpuid.CPU.BrandName,
		LogicalCores:   logical,
		CacheLine:      line,
		SchedulerCores: cores,
	}
}

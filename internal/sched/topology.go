package sched

// Affinity flags a thread can be created with, named after TOPOLOGY_*.
// ThisCPU and BSP resolve to a single CPU id at attach time; a plain nil
// mask means "every CPU is allowed" and DecideCPU picks the least loaded.
const (
	TopologyThisCPU = 1 << iota
	TopologyBSP
	TopologyNoMigrate
)

// Affinity restricts which CPUs a thread may be scheduled onto. Grounded
// on topology.c's per-thread allowed-CPU bitmap, represented here as a
// slice of CPU ids since the core's CPU count is small and known at boot.
type Affinity struct {
	Flags   int
	Allowed []int
}

// PickCPU resolves a's flags and allowed set to one ready CPU, mirroring
// topology_pick_cpu's least-loaded-among-allowed search. callerCPU is the
// CPU the request originates from, used for TopologyThisCPU.
func PickCPU(a Affinity, callerCPU *CPU) *CPU {
	if a.Flags&TopologyThisCPU != 0 && callerCPU != nil {
		return callerCPU
	}
	if a.Flags&TopologyBSP != 0 {
		return CPUAt(0)
	}

	cpusLock.Lock()
	candidates := cpus
	if len(a.Allowed) > 0 {
		candidates = nil
		for _, c := range cpus {
			for _, id := range a.Allowed {
				if c.ID == id {
					candidates = append(candidates, c)
					break
				}
			}
		}
	}
	cpusLock.Unlock()

	var best *CPU
	bestLoad := -1
	for _, c := range candidates {
		load := c.NrRunning()
		if bestLoad == -1 || load < bestLoad {
			best, bestLoad = c, load
		}
	}
	return best
}

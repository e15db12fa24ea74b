package sched

import "testing"

func TestPickCPUThisCPUReturnsCaller(t *testing.T) {
	resetGlobalsForTest()
	Init(2, &fifoPolicy{})

	caller := CPUAt(1)
	got := PickCPU(Affinity{Flags: TopologyThisCPU}, caller)
	if got != caller {
		t.Fatalf("PickCPU = cpu %d, want the caller cpu %d", got.ID, caller.ID)
	}
}

func TestPickCPUBSPReturnsCPUZero(t *testing.T) {
	resetGlobalsForTest()
	Init(2, &fifoPolicy{})

	got := PickCPU(Affinity{Flags: TopologyBSP}, CPUAt(1))
	if got != CPUAt(0) {
		t.Fatalf("PickCPU = cpu %d, want cpu 0", got.ID)
	}
}

func TestPickCPURestrictsToAllowedSet(t *testing.T) {
	resetGlobalsForTest()
	Init(3, &fifoPolicy{})

	busy := NewThread(1, 1, "busy", nil, nil)
	Enqueue(CPUAt(1), busy)

	got := PickCPU(Affinity{Allowed: []int{1, 2}}, nil)
	if got != CPUAt(2) {
		t.Fatalf("PickCPU = cpu %d, want the less loaded allowed cpu 2", got.ID)
	}
}

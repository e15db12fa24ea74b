package softirq

import (
	"testing"

	"nebula/internal/kernelerr"
	"nebula/internal/sched"
)

func resetForTest() {
	vecLock.Lock()
	vec = [Count]handler{}
	vecLock.Unlock()

	pendingLock.Lock()
	pending = map[int]uint32{}
	pendingLock.Unlock()
}

func TestRegisterRejectsDoubleRegistration(t *testing.T) {
	resetForTest()
	if err := Register(3, func() {}); err != kernelerr.OK {
		t.Fatalf("first Register: %v", err)
	}
	if err := Register(3, func() {}); err != kernelerr.EBUSY {
		t.Fatalf("second Register = %v, want EBUSY", err)
	}
}

func TestRegisterRejectsOutOfRangeNumber(t *testing.T) {
	resetForTest()
	if err := Register(Count, func() {}); err != kernelerr.EINVAL {
		t.Fatalf("Register(Count) = %v, want EINVAL", err)
	}
}

func TestDoPendingRunsRaisedHandler(t *testing.T) {
	resetForTest()
	cpu := sched.NewCPU(0, nil)

	var ran bool
	if err := Register(1, func() { ran = true }); err != kernelerr.OK {
		t.Fatalf("Register: %v", err)
	}
	if err := Raise(cpu, 1); err != kernelerr.OK {
		t.Fatalf("Raise: %v", err)
	}

	DoPending(cpu, true)
	if !ran {
		t.Fatal("DoPending should run a handler raised on this CPU")
	}
}

func TestDoPendingConsumesPendingBitmask(t *testing.T) {
	resetForTest()
	cpu := sched.NewCPU(0, nil)

	Register(2, func() {})
	Raise(cpu, 2)
	DoPending(cpu, true)

	if p := takePending(cpu); p != 0 {
		t.Fatalf("pending bitmask after DoPending = %#x, want 0", p)
	}
}

func TestRaiseRejectsOutOfRangeNumber(t *testing.T) {
	resetForTest()
	cpu := sched.NewCPU(0, nil)
	if err := Raise(cpu, -1); err != kernelerr.EINVAL {
		t.Fatalf("Raise(-1) = %v, want EINVAL", err)
	}
}

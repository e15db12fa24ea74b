package sched

import "testing"

func resetKthreadRegistryForTest() {
	kthreadsLock.Lock()
	kthreads = map[string]*Kthread{}
	kthreadsLock.Unlock()
}

func TestCreateKthreadRejectsDuplicateName(t *testing.T) {
	resetGlobalsForTest()
	resetKthreadRegistryForTest()
	Init(1, &fifoPolicy{})
	cpu := CPUAt(0)

	k1, ok := CreateKthread(cpu, "janitor", func(interface{}) int { return 0 }, nil)
	if !ok || k1 == nil {
		t.Fatal("expected the first CreateKthread to succeed")
	}

	if _, ok := CreateKthread(cpu, "janitor", func(interface{}) int { return 0 }, nil); ok {
		t.Fatal("expected a duplicate kthread name to be rejected")
	}
}

func TestLookupAndDetachKthread(t *testing.T) {
	resetGlobalsForTest()
	resetKthreadRegistryForTest()
	Init(1, &fifoPolicy{})
	cpu := CPUAt(0)

	CreateKthread(cpu, "sweeper", func(interface{}) int { return 0 }, nil)
	if LookupKthread("sweeper") == nil {
		t.Fatal("expected LookupKthread to find the registered kthread")
	}

	DetachKthread("sweeper")
	if LookupKthread("sweeper") != nil {
		t.Fatal("expected LookupKthread to return nil after DetachKthread")
	}
}

func TestCreateKthreadEnqueuesReady(t *testing.T) {
	resetGlobalsForTest()
	resetKthreadRegistryForTest()
	Init(1, &fifoPolicy{})
	cpu := CPUAt(0)

	k, ok := CreateKthread(cpu, "mover", func(interface{}) int { return 0 }, nil)
	if !ok {
		t.Fatal("CreateKthread failed")
	}
	if k.Thread.State() != ThreadReady {
		t.Fatalf("state = %v, want ready", k.Thread.State())
	}
	if cpu.RQ.Len() != 1 {
		t.Fatalf("RQ.Len() = %d, want 1", cpu.RQ.Len())
	}
}

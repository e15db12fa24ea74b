package sched

import "testing"

func TestReapOnceFreesUnreferencedZombie(t *testing.T) {
	resetGlobalsForTest()
	Init(1, &fifoPolicy{})
	cpu := CPUAt(0)

	tid, _ := AllocTID()
	th := NewThread(tid, 1, "doomed", nil, nil)
	th.setState(ThreadZombie)
	cpu.lock.Lock()
	cpu.zombies = append(cpu.zombies, th)
	cpu.lock.Unlock()

	var reaped *Thread
	ok := ReapOnce(cpu, func(t *Thread) { reaped = t })
	if !ok {
		t.Fatal("ReapOnce should have reaped the only zombie")
	}
	if reaped != th {
		t.Fatal("ReaperFunc should be called with the reaped thread")
	}
	if PopZombie(cpu) != nil {
		t.Fatal("zombie list should be empty after reaping its only entry")
	}
}

func TestReapOnceRequeuesStillReferencedZombie(t *testing.T) {
	resetGlobalsForTest()
	Init(1, &fifoPolicy{})
	cpu := CPUAt(0)

	th := NewThread(1, 1, "held", nil, nil)
	th.setState(ThreadZombie)
	th.Ref() // refcount now 2
	th.Ref() // refcount now 3: above minZombieRefcount, someone still holds it
	cpu.lock.Lock()
	cpu.zombies = append(cpu.zombies, th)
	cpu.lock.Unlock()

	reaped := false
	ok := ReapOnce(cpu, func(t *Thread) { reaped = true })
	if ok || reaped {
		t.Fatal("ReapOnce should not reap a zombie with an extra reference")
	}
	if PopZombie(cpu) != th {
		t.Fatal("expected the still-referenced zombie to be requeued")
	}
}

func TestReapOnceOnEmptyListReportsFalse(t *testing.T) {
	resetGlobalsForTest()
	Init(1, &fifoPolicy{})
	if ReapOnce(CPUAt(0), nil) {
		t.Fatal("ReapOnce on an empty zombie list should report false")
	}
}

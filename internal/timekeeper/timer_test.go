package timekeeper

import (
	"testing"

	"nebula/internal/irq"
	"nebula/internal/kernelerr"
	"nebula/internal/sched"
	"nebula/internal/sched/policy"
)

func TestInstallTimerRecordsISR(t *testing.T) {
	resetForTest()
	sched.Init(1, policy.New())
	cpu := sched.CPUAt(0)
	ctl := irq.NewXAPIC()

	if err := InstallTimer(ctl, cpu); err != kernelerr.OK {
		t.Fatalf("InstallTimer: %v", err)
	}
	if timerISR == nil {
		t.Fatal("InstallTimer should record the allocated ISR")
	}
}

func TestAdvanceDispatchesTimerAndTicksSource(t *testing.T) {
	resetForTest()
	sched.Init(1, policy.New())
	cpu := sched.CPUAt(0)
	ctl := irq.NewXAPIC()

	src := NewTSC()
	Register(&Keeper{Name: "tsc-like", Rating: 10, Early: true, Type: FromBoot,
		Init: func() (Source, error) { return src, nil }})
	if err := Init(); err != kernelerr.OK {
		t.Fatalf("Init: %v", err)
	}
	if err := InstallTimer(ctl, cpu); err != kernelerr.OK {
		t.Fatalf("InstallTimer: %v", err)
	}

	before := src.FromBootTicks()
	Advance(cpu, 5)
	if src.FromBootTicks() <= before {
		t.Fatal("Advance should tick the active source forward")
	}
}

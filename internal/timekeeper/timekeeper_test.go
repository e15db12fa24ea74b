package timekeeper

import (
	"testing"

	"nebula/internal/acpiboundary"
	"nebula/internal/kernelerr"
)

func resetForTest() {
	lock.Lock()
	defer lock.Unlock()
	registered = nil
	earlyKeeper, lateKeeper = nil, nil
	earlySource, lateSource, wallSource = nil, nil, nil
}

type fakeSource struct {
	ticks uint64
	freq  uint64
}

func (f *fakeSource) FromBootTicks() uint64       { return f.ticks }
func (f *fakeSource) Freq() uint64                { return f.freq }
func (f *fakeSource) WallClock() (Timespec, bool) { return Timespec{}, false }

func TestInitPicksEarlyThenUpgradesToLate(t *testing.T) {
	resetForTest()
	early := &fakeSource{ticks: 1000, freq: 1000}
	late := &fakeSource{ticks: 2000, freq: 2000}

	Register(&Keeper{Name: "early", Rating: 60, Early: true, Type: FromBoot,
		Init: func() (Source, error) { return early, nil }})
	Register(&Keeper{Name: "late", Rating: 90, Early: false, Type: FromBoot,
		Init: func() (Source, error) { return late, nil }})

	if err := Init(); err != kernelerr.OK {
		t.Fatalf("Init: %v", err)
	}
	if earlySource != early {
		t.Fatal("Init should pick the early source for earlySource")
	}
	if lateSource != late {
		t.Fatal("Init should pick the rated late source to back Time(FromBoot)")
	}
	if active() != late {
		t.Fatal("active should prefer the late source once one is found")
	}
}

func TestInitFallsBackWhenNoLateSource(t *testing.T) {
	resetForTest()
	early := &fakeSource{ticks: 500, freq: 500}
	Register(&Keeper{Name: "early", Rating: 60, Early: true, Type: FromBoot,
		Init: func() (Source, error) { return early, nil }})

	if err := Init(); err != kernelerr.OK {
		t.Fatalf("Init: %v", err)
	}
	if active() != early {
		t.Fatal("active should fall back to the early source when no late candidate registered")
	}
}

func TestInitFailsWithNoEarlySource(t *testing.T) {
	resetForTest()
	if err := Init(); err != kernelerr.ENODEV {
		t.Fatalf("Init with no registered source = %v, want ENODEV", err)
	}
}

func TestTimeFromBootScalesTicksToNanoseconds(t *testing.T) {
	resetForTest()
	src := &fakeSource{ticks: 5000000000, freq: 1000000000}
	Register(&Keeper{Name: "x", Rating: 10, Early: true, Type: FromBoot,
		Init: func() (Source, error) { return src, nil }})
	if err := Init(); err != kernelerr.OK {
		t.Fatalf("Init: %v", err)
	}

	got := Time(FromBoot)
	if got.Sec != 5 {
		t.Fatalf("Time(FromBoot).Sec = %d, want 5", got.Sec)
	}
}

func TestStallAdvancesBySimulatedTicks(t *testing.T) {
	resetForTest()
	src := NewTSC()
	Register(&Keeper{Name: "tsc-like", Rating: 10, Early: true, Type: FromBoot,
		Init: func() (Source, error) { return src, nil }})
	if err := Init(); err != kernelerr.OK {
		t.Fatalf("Init: %v", err)
	}

	done := make(chan struct{})
	go func() {
		Stall(10)
		close(done)
	}()

	for i := 0; i < 100; i++ {
		src.Tick(TSCFreq / 1000000)
	}
	<-done
}

func TestConfigureFromACPIMarksEarlyOnlyFor32BitHPET(t *testing.T) {
	resetForTest()
	Register(&Keeper{Name: "hpet", Rating: 60, Early: true, Type: FromBoot,
		Init: func() (Source, error) { return &fakeSource{ticks: 1, freq: 1}, nil }})

	ConfigureFromACPI(&acpiboundary.HPET{BlockID: 0})

	var found *Keeper
	for _, k := range registered {
		if k.Name == "hpet" {
			found = k
		}
	}
	if found == nil || !found.EarlyOnly {
		t.Fatal("ConfigureFromACPI should mark a 32-bit HPET keeper EarlyOnly")
	}
}

func TestWallClockUnavailableWithoutRTCSource(t *testing.T) {
	resetForTest()
	Register(&Keeper{Name: "x", Rating: 10, Early: true, Type: FromBoot,
		Init: func() (Source, error) { return &fakeSource{freq: 1}, nil }})
	if err := Init(); err != kernelerr.OK {
		t.Fatalf("Init: %v", err)
	}
	if got := Time(Wallclock); got != (Timespec{}) {
		t.Fatalf("Time(Wallclock) = %+v, want zero value with no wallclock source", got)
	}
}

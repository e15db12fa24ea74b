// Package timekeeper selects a time source, converts its raw ticks to
// nanoseconds, and provides the busy-wait Stall primitive blocking code
// uses before the scheduler exists. Grounded on
// original_source/kernel/core/timekeeper.c.
package timekeeper

import (
	"nebula/internal/kernelerr"
	"nebula/internal/klock"
)

// Clock selects which of a Source's two duties Time asks for, named
// after TIMEKEEPER_*.
type Clock int

const (
	FromBoot Clock = iota
	Wallclock
)

// Timespec is a coarse wall/monotonic time value.
type Timespec struct {
	Sec  int64
	Nsec int64
}

// Source is one clock hardware can provide. FromBootTicks/Freq back
// Clock == FromBoot; WallClock backs Clock == Wallclock and may be nil
// on a source that only offers monotonic ticks (TSC, HPET). Grounded on
// struct timekeeper_source.
type Source interface {
	FromBootTicks() uint64
	Freq() uint64
	WallClock() (Timespec, bool)
}

// Keeper is one registerable time source candidate, named after struct
// timekeeper: a name, a rating Init compares across every registered
// candidate, whether it is safe to use before the scheduler exists
// (Early), and an Init that produces the Source once selected. Grounded
// on TIMEKEEPER_FLAG_EARLY/_EARLY_ONLY and the timekeeper linker-section
// registry in timekeeper.c.
type Keeper struct {
	Name      string
	Rating    int
	Early     bool
	EarlyOnly bool
	Type      Clock
	Init      func() (Source, error)
}

var (
	lock       klock.Spinlock
	registered []*Keeper

	earlyKeeper *Keeper
	lateKeeper  *Keeper

	earlySource Source
	lateSource  Source
	wallSource  Source
)

// Register adds k to the pool Init draws from. Grounded on the
// original's _ld_kernel_timekeepers_start/_end linker section.
func Register(k *Keeper) {
	lock.Lock()
	defer lock.Unlock()
	registered = append(registered, k)
}

func best(typ Clock, early bool) *Keeper {
	var out *Keeper
	for _, k := range registered {
		if k.Type != typ || k.Rating == 0 || k.Early != early {
			continue
		}
		if out == nil || k.Rating > out.Rating {
			out = k
		}
	}
	return out
}

func acquire(typ Clock, early bool) (*Keeper, Source) {
	for {
		k := best(typ, early)
		if k == nil {
			return nil, nil
		}
		src, err := k.Init()
		if err == nil {
			return k, src
		}
		k.Rating = 0
	}
}

// Init picks the best early FROMBOOT source, then tries to upgrade to a
// late (non-early) one, falling back to the early source if none
// qualifies, and separately resolves a WALLCLOCK source if one exists.
// Grounded on timekeeper_init.
func Init() kernelerr.Errno {
	lock.Lock()
	defer lock.Unlock()

	k, src := acquire(FromBoot, true)
	if k == nil {
		return kernelerr.ENODEV
	}
	earlyKeeper, earlySource = k, src

	if k2, src2 := acquire(FromBoot, false); k2 != nil {
		lateKeeper, lateSource = k2, src2
	} else if earlyKeeper.EarlyOnly {
		return kernelerr.ENODEV
	}

	if _, w := acquire(Wallclock, false); w != nil {
		wallSource = w
	}
	return kernelerr.OK
}

func active() Source {
	if lateSource != nil {
		return lateSource
	}
	return earlySource
}

// Time reads clk from whichever source backs it, returning a zero
// Timespec if none is available yet. Grounded on timekeeper_time.
func Time(clk Clock) Timespec {
	switch clk {
	case FromBoot:
		src := active()
		if src == nil {
			return Timespec{}
		}
		return scale(src.FromBootTicks(), src.Freq())
	case Wallclock:
		if wallSource == nil {
			return Timespec{}
		}
		ts, ok := wallSource.WallClock()
		if !ok {
			return Timespec{}
		}
		return ts
	default:
		return Timespec{}
	}
}

func scale(ticks, freq uint64) Timespec {
	if freq == 0 {
		return Timespec{}
	}
	nsec := ticks * 1000000000 / freq
	return Timespec{Sec: int64(nsec / 1000000000), Nsec: int64(nsec % 1000000000)}
}

// Stall busy-waits for usec microseconds against the active FROMBOOT
// source, the way code without a scheduler yet (or that cannot sleep,
// such as an interrupt handler) waits. Grounded on timekeeper_stall.
func Stall(usec uint64) {
	src := active()
	if src == nil {
		return
	}

	ticksPerUs := src.Freq() / 1000000
	if ticksPerUs == 0 {
		ticksPerUs = 1
	}
	start := src.FromBootTicks()
	end := start + usec*ticksPerUs
	for src.FromBootTicks() < end {
	}
}

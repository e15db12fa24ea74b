package timekeeper

import (
	"sync/atomic"
)

// TSCFreq is the simulated invariant-TSC frequency in Hz. Real hardware
// discovers this via CPUID leaf 0x15 or, failing that, calibrates
// against another source (get_freq_from_cpuid/get_freq_from_calibration
// in tsc.c); there is no CPUID here, so the frequency is fixed.
const TSCFreq = 3000000000

// TSC models the invariant time-stamp counter as a software counter
// advanced by Tick rather than the rdtsc instruction, since there is no
// real register to read. Grounded on original_source/kernel/core/time/tsc.c.
type TSC struct {
	ticks  atomic.Uint64
	offset uint64
}

func NewTSC() *TSC { return &TSC{} }

// Tick advances the counter by n, standing in for the free-running
// hardware counter.
func (s *TSC) Tick(n uint64) { s.ticks.Add(n) }

// FromBootTicks returns ticks since this source's offset, matching
// get_ticks subtracting the BSP's tsc_priv.offset so every CPU reports
// the same from-boot value.
func (s *TSC) FromBootTicks() uint64 { return s.ticks.Load() - s.offset }

func (s *TSC) Freq() uint64 { return TSCFreq }

func (s *TSC) WallClock() (Timespec, bool) { return Timespec{}, false }

var tsc = NewTSC()

func init() {
	Register(&Keeper{
		Name:   "tsc",
		Rating: 90,
		Early:  false,
		Type:   FromBoot,
		Init:   func() (Source, error) { return tsc, nil },
	})
}

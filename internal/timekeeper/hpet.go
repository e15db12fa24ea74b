package timekeeper

import (
	"sync/atomic"

	"nebula/internal/acpiboundary"
)

// HPETFreq is the simulated counter frequency in Hz, standing in for
// the value the real driver derives from the HPET capabilities
// register's femtosecond period (HPET_REG_CAPS).
const HPETFreq = 14318180

// HPET models the High Precision Event Timer counter as a software
// counter, since there is no ACPI HPET table or MMIO region to map.
// Slower to "access" than TSC in the original (hpet.c rates it 60
// against TSC's 90) but available earlier in boot, which this package
// preserves by registering it as an early, non-exclusive source.
type HPET struct {
	ticks atomic.Uint64
}

func NewHPET() *HPET { return &HPET{} }

func (h *HPET) Tick(n uint64) { h.ticks.Add(n) }

func (h *HPET) FromBootTicks() uint64 { return h.ticks.Load() }

func (h *HPET) Freq() uint64 { return HPETFreq }

func (h *HPET) WallClock() (Timespec, bool) { return Timespec{}, false }

var hpet = NewHPET()

func init() {
	Register(&Keeper{
		Name:   "hpet",
		Rating: 60,
		Early:  true,
		Type:   FromBoot,
		Init: func() (Source, error) {
			return hpet, nil
		},
	})
}

// ConfigureFromACPI marks the HPET keeper early-only when the firmware
// description reports a 32-bit main counter, matching hpet.c setting
// TIMEKEEPER_FLAG_EARLY_ONLY in that case so timekeeper_init never
// upgrades to it as the late source. Must run before Init.
func ConfigureFromACPI(desc *acpiboundary.HPET) {
	if desc == nil || !desc.Is32Bit() {
		return
	}
	lock.Lock()
	defer lock.Unlock()
	for _, k := range registered {
		if k.Name == "hpet" {
			k.EarlyOnly = true
		}
	}
}

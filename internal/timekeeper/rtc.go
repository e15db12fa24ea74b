package timekeeper

import (
	"sync/atomic"
)

// RTC models the CMOS real-time clock as a software seconds counter
// advanced by Tick, since there is no I/O port 0x70/0x71 to read.
// Grounded on original_source/kernel/core/time/rtc.c: the original reads
// BCD-or-binary second/minute/hour/day/month/year registers directly off
// the CMOS chip and converts to a struct timespec; here the same role is
// played by a monotonically increasing second counter seeded at
// construction.
type RTC struct {
	epoch   int64
	seconds atomic.Int64
}

// NewRTC seeds the simulated wall clock at unixEpoch seconds.
func NewRTC(unixEpoch int64) *RTC {
	return &RTC{epoch: unixEpoch}
}

// Tick advances the simulated wall clock by n seconds.
func (r *RTC) Tick(n int64) { r.seconds.Add(n) }

func (r *RTC) FromBootTicks() uint64 { return 0 }

func (r *RTC) Freq() uint64 { return 0 }

func (r *RTC) WallClock() (Timespec, bool) {
	return Timespec{Sec: r.epoch + r.seconds.Load()}, true
}

var rtc = NewRTC(0)

func init() {
	Register(&Keeper{
		Name:   "rtc",
		Rating: 1,
		Early:  false,
		Type:   Wallclock,
		Init:   func() (Source, error) { return rtc, nil },
	})
}

package timekeeper

import (
	"nebula/internal/irq"
	"nebula/internal/kernelerr"
	"nebula/internal/sched"
)

// TickHz is the periodic scheduler tick rate, standing in for the
// calibrated LAPIC-timer periodic count original_source/kernel/sched/timer.c
// computes against the i8253 PIT (I8253_FREQ, I8253_MAX_MS,
// I8253_WAIT_LENGTH). There is no LAPIC or PIT here, so the rate is a
// fixed constant instead of a calibration result.
const TickHz = 1000

var timerISR *irq.ISR

func init() {
	sched.NowNanos = nowNanos
}

// nowNanos backs sched.NowNanos: the FROMBOOT clock converted to a
// single nanosecond count, which is all Tick/PrepareSleep need to compare
// wake times against. Grounded on sched_tick's timespec_to_ns(
// timekeeper_time(TIMEKEEPER_FROMBOOT)) call.
func nowNanos() int64 {
	ts := Time(FromBoot)
	return ts.Sec*1000000000 + ts.Nsec
}

// timerHandler fires on every simulated tick: run the per-CPU scheduler
// tick, then reschedule if that left a reschedule pending. Advance moves
// the active ticks source forward before dispatching this handler.
// Grounded on timer()'s call into sched_switch in timer.c.
func timerHandler(isr *irq.ISR, ctx interface{}) {
	cpu, _ := ctx.(*sched.CPU)
	if cpu == nil {
		return
	}
	sched.Tick(cpu)
	sched.Schedule(cpu)
}

// timerIRQ is the legacy IRQ0 line the PIT/LAPIC timer occupies on a PC,
// kept as the binding's irqNum even though no real line is driven.
const timerIRQ = 0

// InstallTimer registers the periodic tick ISR against ctl for cpu,
// playing the role of sched_timer_init once calibration is no longer
// needed because the tick rate is fixed.
func InstallTimer(ctl irq.Controller, cpu *sched.CPU) kernelerr.Errno {
	isr := irq.Alloc()
	if isr == nil {
		return kernelerr.ENODEV
	}
	if err := irq.Register(isr, timerHandler, ctl, timerIRQ, cpu, false); err != kernelerr.OK {
		return err
	}
	timerISR = isr
	return kernelerr.OK
}

// Advance simulates n ticks of hardware time elapsing: it feeds every
// registered FROMBOOT source that can be advanced (TSC, HPET) and fires
// the installed timer ISR n times. Tests use this in place of a real
// interrupt arriving from hardware; cmd/kernel does not call it.
func Advance(cpu *sched.CPU, n int) {
	type ticker interface{ Tick(uint64) }
	if t, ok := active().(ticker); ok {
		t.Tick(uint64(n) * (TSCFreq / TickHz))
	}
	for i := 0; i < n; i++ {
		if timerISR != nil {
			irq.Dispatch(irq.Vector(timerISR), cpu)
		}
	}
}

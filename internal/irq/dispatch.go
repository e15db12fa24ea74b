package irq

import "nebula/internal/sched"

// DoPendingSoftirqs is set by internal/softirq's init to avoid irq
// importing softirq directly (softirq already depends on irq for the
// vector table), the same forward-declaration pattern
// internal/klock/internal/sched use for Scheduler. Passed the ISR's
// owning CPU since Dispatch's ctx is caller-defined and not necessarily
// a *sched.CPU.
var DoPendingSoftirqs func(cpu *sched.CPU)

// Enter records one more in-flight entry into isr unless it has been
// synchronized, returning false if the caller must not run the handler
// (either synced-out, or raced with a synchronize that is still
// draining). Grounded on irq_enter's inflight bookkeeping; the
// preempt-count/nested tracking irq_enter also does belongs to
// sched.Thread.PreemptCount and is the caller's responsibility, not the
// vector table's.
func Enter(isr *ISR) bool {
	if isr.IRQNumber == -1 {
		return true // exceptions always enter
	}

	isr.lock.Lock()
	defer isr.lock.Unlock()
	if isr.inflight.Load() < 0 {
		return false
	}
	isr.inflight.Add(1)
	return true
}

// Exit undoes a successful Enter. Grounded on irq_exit.
func Exit(isr *ISR) {
	if isr.IRQNumber == -1 {
		return
	}
	isr.inflight.Add(-1)
}

// Dispatch runs the handler bound to vector, sends EOI, and drives the
// softirq tail if one is registered. ctx is passed through to the
// handler untouched; this model never inspects the trapped register
// state. Grounded on __isr_entry.
func Dispatch(vector int, ctx interface{}) {
	if vector < 0 || vector >= VectorCount {
		return
	}
	isr := &table[vector]

	if !Enter(isr) {
		if isr.eoi != nil {
			isr.eoi()
		}
		return
	}

	if isr.fn != nil {
		isr.fn(isr, ctx)
	}
	Exit(isr)

	if isr.eoi != nil {
		isr.eoi()
	}

	if DoPendingSoftirqs != nil && isr.CPU != nil {
		DoPendingSoftirqs(isr.CPU)
	}
}

// ScheduleIfNeeded checks cpu's pending reschedule flag after an
// interrupt's softirq tail has run and switches away if one is due.
// Grounded on __isr_entry's tail call into atomic_schedule.
func ScheduleIfNeeded(cpu *sched.CPU) {
	sched.Schedule(cpu)
}

package klock

// ThreadHandle is an opaque reference to a parked thread. The concrete
// type is internal/sched's *Thread; klock never dereferences it, only
// compares it for equality and hands it back to the Scheduler.
type ThreadHandle interface{}

// Wake reasons passed to Scheduler.Wake, mirrored back to the waiter's
// Block return value.
const (
	WakeNormal = iota
	WakeTimeout
	WakeInterrupt
)

// Scheduler is the sliver of the scheduler core (internal/sched) that the
// blocking primitives below need: who is running, how to park it, and how
// to wake someone else up. internal/sched calls SetScheduler from its
// Init so that klock never imports sched directly, the same forward
// declaration the original C uses by including <crescent/sched/kthread.h>
// from kernel/core/mutex.c without sched depending back on core locking.
type Scheduler interface {
	Current() ThreadHandle
	// Block parks the current thread until Wake is called for it or
	// timeoutMs elapses (0 means no timeout). Returns one of the Wake*
	// constants describing why it resumed.
	Block(timeoutMs int64) int
	// Wake moves t from BLOCKED to READY and enqueues it for scheduling.
	// No-op if t is not currently blocked.
	Wake(t ThreadHandle, reason int)
	// Ready reports whether the scheduler has progressed far enough to
	// safely park threads. Before that, blocking primitives degrade to
	// spinning, matching init_status_get() < INIT_STATUS_SCHED in the
	// original mutex_lock.
	Ready() bool
}

var sched Scheduler

// SetScheduler wires the scheduler implementation. Called from
// internal/sched's Init.
func SetScheduler(s Scheduler) { sched = s }

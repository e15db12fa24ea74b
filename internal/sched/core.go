package sched

import (
	"sync/atomic"

	"nebula/internal/kernelerr"
	"nebula/internal/klock"
)

var (
	cpusLock klock.Spinlock
	cpus     []*CPU

	nextThreadID atomic.Int64
)

// NowNanos returns the current FROMBOOT time in nanoseconds. It is nil
// until internal/timekeeper's package init sets it, mirroring the
// irq.DoPendingSoftirqs forward declaration: sched cannot import
// timekeeper directly since timekeeper's timer callback already calls
// into sched, and Go has no forward package declarations. PrepareSleep
// and Tick both no-op the timeout path while this is nil.
var NowNanos func() int64

// Init installs ncpus runqueues backed by policy and registers this
// package's Scheduler implementation with internal/klock, the forward
// declaration core.c performs by including kthread.h from mutex.c without
// klock importing sched back. Grounded on sched_init/sched_cpu_init.
func Init(ncpus int, policy Policy) {
	cpusLock.Lock()
	defer cpusLock.Unlock()

	cpus = make([]*CPU, ncpus)
	for i := range cpus {
		cpus[i] = NewCPU(i, policy)
		cpus[i].idle = NewThread(nextThreadID.Add(1), -1, "idle", idleLoop, nil)
		cpus[i].idle.Prio = PrioMin
		cpus[i].current = cpus[i].idle
	}

	klock.SetScheduler(schedulerImpl{})
}

func CPUAt(id int) *CPU {
	cpusLock.Lock()
	defer cpusLock.Unlock()
	if id < 0 || id >= len(cpus) {
		return nil
	}
	return cpus[id]
}

func NumCPU() int {
	cpusLock.Lock()
	defer cpusLock.Unlock()
	return len(cpus)
}

func idleLoop(arg interface{}) int { return 0 }

// ThreadAttach binds t to cpu's runqueue policy, mirroring
// sched_thread_attach: it gives the policy a chance to initialize
// per-thread state (PBRR's budget, scaled priority) exactly once.
func ThreadAttach(cpu *CPU, t *Thread) {
	if t.attached.Swap(true) {
		return
	}
	t.TargetCPU = cpu
	if a, ok := cpu.RQ.policy.(PolicyThreadAttacher); ok {
		a.ThreadAttach(t)
	}
}

// ThreadDetach releases the policy-owned state a prior ThreadAttach
// created. Safe to call on a thread that was never attached.
func ThreadDetach(t *Thread) {
	t.attached.Store(false)
	t.PolicyPriv = nil
}

// Enqueue moves t onto cpu's runqueue in the READY state. Grounded on
// sched_enqueue.
func Enqueue(cpu *CPU, t *Thread) {
	ThreadAttach(cpu, t)

	cpu.RQ.lock.Lock()
	t.setState(ThreadReady)
	cpu.RQ.policy.Enqueue(cpu.RQ, t)
	cpu.RQ.nrReady++
	cpu.RQ.lock.Unlock()

	cpu.lock.Lock()
	cpu.nrRunning++
	cpu.lock.Unlock()
}

// Dequeue removes t from cpu's runqueue without changing its state,
// matching sched_dequeue's use from sched_prepare_sleep and
// sched_thread_exit where the caller sets the state itself.
func Dequeue(cpu *CPU, t *Thread) {
	cpu.RQ.lock.Lock()
	cpu.RQ.policy.Dequeue(cpu.RQ, t)
	if cpu.RQ.nrReady > 0 {
		cpu.RQ.nrReady--
	}
	cpu.RQ.lock.Unlock()

	cpu.lock.Lock()
	if cpu.nrRunning > 0 {
		cpu.nrRunning--
	}
	cpu.lock.Unlock()
}

// PickNext pops the next READY thread from cpu's runqueue, or the idle
// thread if none is ready. Grounded on sched_pick_next.
func PickNext(cpu *CPU) *Thread {
	cpu.RQ.lock.Lock()
	next := cpu.RQ.policy.PickNext(cpu.RQ)
	if next != nil && cpu.RQ.nrReady > 0 {
		cpu.RQ.nrReady--
	}
	cpu.RQ.lock.Unlock()

	if next == nil {
		return cpu.idle
	}
	return next
}

// DecideCPU picks the least-loaded CPU a thread is allowed to run on.
// Grounded on sched_decide_cpu/topology_pick_cpu; see topology.go for the
// affinity-aware variant.
func DecideCPU(t *Thread) *CPU {
	cpusLock.Lock()
	defer cpusLock.Unlock()

	var best *CPU
	bestLoad := -1
	for _, c := range cpus {
		load := c.NrRunning()
		if bestLoad == -1 || load < bestLoad {
			best, bestLoad = c, load
		}
	}
	return best
}

// Wakeup transitions t from SLEEPING or BLOCKED back to READY and
// enqueues it on its target CPU, recording reason as the value a waiter's
// Block() call returns. Grounded on __sched_wakeup_locked/sched_wakeup.
func Wakeup(t *Thread, reason kernelerr.Errno) bool {
	switch t.State() {
	case ThreadSleeping, ThreadBlocked:
	default:
		return false
	}

	cpu := t.TargetCPU
	if cpu == nil {
		cpu = DecideCPU(t)
	}
	if cpu != nil {
		cpu.RQ.lock.Lock()
		removeSleeperLocked(cpu.RQ, t)
		cpu.RQ.lock.Unlock()
	}

	t.wakeupErr.Store(int32(reason))
	Enqueue(cpu, t)
	return true
}

// insertSleeperLocked inserts t into rq.sleepers ahead of the first entry
// with a larger WakeupTime, keeping the list sorted ascending. Called
// with rq.lock held. Grounded on sched_prepare_sleep's list_for_each_entry
// insertion scan.
func insertSleeperLocked(rq *RunQueue, t *Thread) {
	for i, s := range rq.sleepers {
		if t.WakeupTime < s.WakeupTime {
			rq.sleepers = append(rq.sleepers, nil)
			copy(rq.sleepers[i+1:], rq.sleepers[i:])
			rq.sleepers[i] = t
			return
		}
	}
	rq.sleepers = append(rq.sleepers, t)
}

// removeSleeperLocked unlinks t from rq.sleepers if it is present, a
// no-op otherwise. Called with rq.lock held. Grounded on
// __sched_wakeup_locked's list_node_linked/list_remove guard, which
// covers a thread woken explicitly (Signal, Wake) before its timeout
// elapses so a later Tick pass does not wake it a second time.
func removeSleeperLocked(rq *RunQueue, t *Thread) {
	for i, s := range rq.sleepers {
		if s == t {
			rq.sleepers = append(rq.sleepers[:i], rq.sleepers[i+1:]...)
			return
		}
	}
}

// ChangePrio updates t's priority and, if the policy cares, lets it
// re-rank t within its runqueue. Grounded on sched_change_prio.
func ChangePrio(cpu *CPU, t *Thread, newPrio int) {
	if newPrio < PrioMin {
		newPrio = PrioMin
	}
	if newPrio > PrioMax {
		newPrio = PrioMax
	}

	cpu.RQ.lock.Lock()
	if c, ok := cpu.RQ.policy.(PolicyPrioChanger); ok {
		c.ChangePrio(cpu.RQ, t, newPrio)
	}
	t.Prio = newPrio
	cpu.RQ.lock.Unlock()
}

// Tick drives the policy's time-slice accounting for the thread currently
// running on cpu, marks a reschedule as needed if it says to preempt or
// if cpu is running its idle thread, then walks cpu's sleeper list from
// the head waking every thread whose WakeupTime has elapsed. A thread
// still BLOCKED at wakeup is reporting a timeout (-ETIMEDOUT); one that
// is SLEEPING woke on schedule (0). Grounded on sched_tick.
func Tick(cpu *CPU) {
	cur := cpu.Current()

	cpu.RQ.lock.Lock()
	preempt := false
	switch {
	case cur == nil:
	case cur == cpu.idle:
		preempt = true
	default:
		preempt = cpu.RQ.policy.OnTick(cpu.RQ, cur)
	}

	var woken []*Thread
	if NowNanos != nil {
		now := NowNanos()
		for len(cpu.RQ.sleepers) > 0 && cpu.RQ.sleepers[0].WakeupTime <= now {
			woken = append(woken, cpu.RQ.sleepers[0])
			cpu.RQ.sleepers = cpu.RQ.sleepers[1:]
		}
	}
	cpu.RQ.lock.Unlock()

	for _, t := range woken {
		reason := kernelerr.OK
		if t.State() == ThreadBlocked {
			reason = kernelerr.ETIMEOUT
		}
		Wakeup(t, reason)
	}

	if preempt {
		cpu.needResched.Store(true)
	}
}

// AtomicSchedule performs the five-step context switch core.c's
// atomic_schedule documents: pick the next thread, requeue the outgoing
// one if it is still runnable, install the new current thread, clear the
// reschedule flag, and hand off execution. Steps 1-4 are bookkeeping;
// step 5 (the actual switch) is delegated to resumeOrRun since this
// package models execution as a goroutine per thread rather than a raw
// stack swap, see context_switch.go.
func AtomicSchedule(cpu *CPU) {
	prev := cpu.Current()
	next := PickNext(cpu)

	cpu.lock.Lock()
	if prev != nil && prev != cpu.idle && prev.State() == ThreadRunning {
		prev.setState(ThreadReady)
		cpu.lock.Unlock()
		Enqueue(cpu, prev)
		cpu.lock.Lock()
	}

	next.setState(ThreadRunning)
	cpu.current = next
	cpu.needResched.Store(false)
	cpu.lock.Unlock()

	resumeOrRun(cpu, prev, next)
}

// Schedule is the entry point the interrupt return path uses to give up
// the CPU if a reschedule is pending; Yield calls AtomicSchedule
// directly instead. Grounded on schedule().
func Schedule(cpu *CPU) {
	if cpu.needResched.Load() {
		AtomicSchedule(cpu)
	}
}

// Yield forces an immediate reschedule regardless of the pending flag,
// letting OnTick's time-slice-exhausted thread give the CPU up early.
// Grounded on sched_yield.
func Yield(cpu *CPU) {
	cpu.needResched.Store(true)
	AtomicSchedule(cpu)
}

// PrepareSleep removes t from its runqueue and marks it SLEEPING or
// BLOCKED ahead of a voluntary park, so a concurrent Wakeup sees the
// final state rather than racing the still-READY one. If ms is positive
// it records t.WakeupTime as now + ms milliseconds (in nanoseconds) and
// inserts t into cpu's sleeper list in wake-time order, so Tick can time
// it out; ms <= 0 parks t with no timeout. Grounded on
// sched_prepare_sleep.
func PrepareSleep(cpu *CPU, t *Thread, ms int64, interruptible bool) {
	t.sleepInterruptible.Store(interruptible)
	if interruptible {
		t.setState(ThreadSleeping)
	} else {
		t.setState(ThreadBlocked)
	}
	Dequeue(cpu, t)

	t.WakeupTime = 0
	if ms <= 0 || NowNanos == nil {
		return
	}
	t.WakeupTime = NowNanos() + ms*1000000

	cpu.RQ.lock.Lock()
	insertSleeperLocked(cpu.RQ, t)
	cpu.RQ.lock.Unlock()
}

// ThreadExit marks t a ZOMBIE and appends it to cpu's zombie list for the
// reaper, then forces a reschedule since t can never run again. Grounded
// on sched_thread_exit.
func ThreadExit(cpu *CPU, t *Thread) {
	cpu.lock.Lock()
	t.setState(ThreadZombie)
	cpu.zombies = append(cpu.zombies, t)
	cpu.lock.Unlock()

	NotifyReaper()
	Yield(cpu)
}

// PopZombie removes and returns one zombie thread from cpu's list for the
// reaper to inspect, or nil if there are none. Grounded on reaper_thread's
// zombie_lock-protected pop.
func PopZombie(cpu *CPU) *Thread {
	cpu.lock.Lock()
	defer cpu.lock.Unlock()
	if len(cpu.zombies) == 0 {
		return nil
	}
	z := cpu.zombies[0]
	cpu.zombies = cpu.zombies[1:]
	return z
}

// RequeueZombie puts z back on cpu's zombie list, used by the reaper when
// a zombie still has outstanding references. Grounded on reaper_thread's
// "still has a holder, requeue" branch.
func RequeueZombie(cpu *CPU, z *Thread) {
	cpu.lock.Lock()
	cpu.zombies = append(cpu.zombies, z)
	cpu.lock.Unlock()
}

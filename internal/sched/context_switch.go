package sched

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"

	"nebula/internal/kernelerr"
	"nebula/internal/klock"
)

// goroutineID recovers the calling goroutine's id from its own stack
// trace. There is no hardware APIC id to read in this model, so a
// thread's goroutine id stands in for "which execution context is this,"
// the same trick internal/klock/sched_test.go's fakeScheduler relies on.
func goroutineID() int64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	buf = buf[:n]
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	buf = buf[:bytes.IndexByte(buf, ' ')]
	id, _ := strconv.ParseInt(string(buf), 10, 64)
	return id
}

var (
	byGoroutineLock sync.Mutex
	byGoroutine     = map[int64]*Thread{}
)

func bindGoroutine(t *Thread) {
	byGoroutineLock.Lock()
	byGoroutine[goroutineID()] = t
	byGoroutineLock.Unlock()
}

func lookupGoroutine() *Thread {
	byGoroutineLock.Lock()
	defer byGoroutineLock.Unlock()
	return byGoroutine[goroutineID()]
}

// This package models a hardware context switch with a goroutine per
// thread and a resume channel used as the hand-off token, the same
// technique internal/klock/sched_test.go's fakeScheduler uses to drive
// Mutex/Semaphore/Completion under real goroutines. A real port would
// replace resumeOrRun with internal/asm's SwitchContext/IretToFrame
// swapping actual stack pointers; the state machine and policy dispatch
// above this line do not change either way.

var (
	startedLock sync.Mutex
	started     = map[*Thread]bool{}
)

func ensureStarted(t *Thread) {
	startedLock.Lock()
	if started[t] {
		startedLock.Unlock()
		return
	}
	started[t] = true
	startedLock.Unlock()

	go func() {
		<-t.resume
		bindGoroutine(t)
		if t.Entry != nil {
			t.Entry(t.Arg)
		}
		cpu := t.TargetCPU
		if cpu != nil {
			ThreadExit(cpu, t)
		}
	}()
}

// resumeOrRun performs the fifth step of atomic_schedule: hand the CPU to
// next and, if the caller is itself the outgoing thread, block until it
// is scheduled back in. The idle thread never parks this way since
// nothing ever resumes it through the normal wakeup path.
func resumeOrRun(cpu *CPU, prev, next *Thread) {
	if next != nil && next != cpu.idle {
		ensureStarted(next)
		select {
		case next.resume <- struct{}{}:
		default:
		}
	}

	if prev == nil || prev == cpu.idle {
		return
	}
	if prev.State() == ThreadZombie {
		return
	}
	<-prev.resume
}

// schedulerImpl adapts this package's CPU/Thread model to
// klock.Scheduler. Registered once from Init.
type schedulerImpl struct{}

func currentCPUAndThread() (*CPU, *Thread) {
	t := lookupGoroutine()
	if t == nil {
		return nil, nil
	}
	return t.TargetCPU, t
}

func (schedulerImpl) Current() klock.ThreadHandle {
	_, t := currentCPUAndThread()
	return t
}

func (schedulerImpl) Ready() bool {
	cpusLock.Lock()
	defer cpusLock.Unlock()
	return len(cpus) > 0
}

// Block parks the calling thread until Wakeup is called for it or, if
// timeoutMs is positive, until Tick finds it still BLOCKED past its
// wake time. It parks non-interruptibly (ThreadBlocked) so Tick's
// state==ThreadBlocked check reports -ETIMEDOUT on expiry, matching
// sched_tick's err := (state == THREAD_BLOCKED) ? -ETIMEDOUT : 0.
func (schedulerImpl) Block(timeoutMs int64) int {
	cpu, t := currentCPUAndThread()
	if cpu == nil || t == nil {
		return klock.WakeNormal
	}

	PrepareSleep(cpu, t, timeoutMs, false)
	Yield(cpu)

	switch t.WakeupErr() {
	case kernelerr.OK:
		return klock.WakeNormal
	default:
		return klock.WakeTimeout
	}
}

func (schedulerImpl) Wake(handle klock.ThreadHandle, reason int) {
	t, ok := handle.(*Thread)
	if !ok || t == nil {
		return
	}
	errno := kernelerr.OK
	if reason == klock.WakeTimeout {
		errno = kernelerr.ETIMEOUT
	}
	Wakeup(t, errno)
}

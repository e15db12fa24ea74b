// Package softirq implements deferred, interrupt-context-safe callbacks
// run shortly after a hardware interrupt returns instead of inside the
// ISR itself. Grounded on original_source/kernel/core/softirq.c.
package softirq

import (
	"fmt"
	"sync/atomic"
	"time"

	"nebula/internal/irq"
	"nebula/internal/kernelerr"
	"nebula/internal/klock"
	"nebula/internal/sched"
	"nebula/internal/timekeeper"
)

// Count is the number of softirq numbers, sized after enum softirq_type.
const (
	Count = 32
)

// SoftirqPrio is the priority softirqd runs at, matching SOFTIRQ_PRIO.
const SoftirqPrio = 25

type handler func()

var (
	vecLock klock.Spinlock
	vec     [Count]handler
)

// pending tracks which softirq numbers are pending per CPU,
// matching struct cpu's softirqs_pending bitmask.
var (
	pendingLock klock.Spinlock
	pending     = map[int]uint32{}
)

// Register installs action as softirq num's handler. Grounded on
// register_softirq.
func Register(num int, action func()) kernelerr.Errno {
	if num < 0 || num >= Count {
		return kernelerr.EINVAL
	}
	vecLock.Lock()
	defer vecLock.Unlock()
	if vec[num] != nil {
		return kernelerr.EBUSY
	}
	vec[num] = action
	return kernelerr.OK
}

// Raise marks softirq num pending on cpu, to be run the next time
// DoPending executes there. Grounded on raise_softirq.
func Raise(cpu *sched.CPU, num int) kernelerr.Errno {
	if num < 0 || num >= Count {
		return kernelerr.EINVAL
	}
	pendingLock.Lock()
	defer pendingLock.Unlock()
	pending[cpu.ID] |= 1 << uint(num)
	return kernelerr.OK
}

func takePending(cpu *sched.CPU) uint32 {
	pendingLock.Lock()
	defer pendingLock.Unlock()
	p := pending[cpu.ID]
	pending[cpu.ID] = 0
	return p
}

// maxDuration bounds how long a single DoPending call runs, matching
// do_pending_softirqs's daemon (5ms) and interrupt-context (1ms) caps.
func maxDuration(daemon bool) time.Duration {
	if daemon {
		return 5 * time.Millisecond
	}
	return 1 * time.Millisecond
}

const reentryLimit = 10

// DoPending runs every softirq pending on cpu, re-checking for newly
// raised ones (a handler may raise another) up to reentryLimit times or
// until maxDuration elapses. Grounded on do_pending_softirqs.
func DoPending(cpu *sched.CPU, daemon bool) {
	budget := maxDuration(daemon)
	start := timekeeper.Time(timekeeper.FromBoot)

	reent := reentryLimit
	for {
		p := takePending(cpu)
		if p == 0 {
			return
		}

		for i := 0; i < Count; i++ {
			if p&(1<<uint(i)) == 0 {
				continue
			}
			vecLock.Lock()
			h := vec[i]
			vecLock.Unlock()
			if h != nil {
				h()
			}

			now := timekeeper.Time(timekeeper.FromBoot)
			if elapsedSince(start, now) >= budget {
				return
			}
		}

		reent--
		if reent == 0 {
			return
		}
	}
}

func elapsedSince(start, now timekeeper.Timespec) time.Duration {
	return time.Duration(now.Sec-start.Sec)*time.Second + time.Duration(now.Nsec-start.Nsec)
}

var preemptOffset atomic.Int32

// softirqDaemon is softirqd's body: drop to SoftirqPrio, loop draining
// pending softirqs with preemption nominally disabled, then yield.
// Grounded on softirq_daemon.
func softirqDaemon(arg interface{}) int {
	cpu := arg.(*sched.CPU)
	sched.ChangePrio(cpu, cpu.Current(), SoftirqPrio)

	for {
		preemptOffset.Add(1)
		DoPending(cpu, true)
		preemptOffset.Add(-1)
		sched.Yield(cpu)
	}
}

// CPUInit starts cpu's softirq daemon kernel thread. Grounded on
// softirq_cpu_init.
func CPUInit(cpu *sched.CPU) kernelerr.Errno {
	name := softirqdName(cpu)
	if _, ok := sched.CreateKthread(cpu, name, softirqDaemon, cpu); !ok {
		return kernelerr.EAGAIN
	}
	sched.DetachKthread(name)
	return kernelerr.OK
}

func softirqdName(cpu *sched.CPU) string {
	return fmt.Sprintf("softirqd-%d", cpu.ID)
}

// init wires DoPending into the IRQ return path, matching
// __isr_entry's direct call to do_pending_softirqs(false).
func init() {
	irq.DoPendingSoftirqs = func(cpu *sched.CPU) {
		DoPending(cpu, false)
	}
}

// Package sched implements the preemptible per-CPU scheduler core: thread
// state transitions, the runqueue/policy split, sleeper and zombie lists,
// PID/TID allocation, topology-based CPU placement, kthreads and the
// per-CPU reaper. Grounded on original_source/kernel/sched/{core,pid,
// topology,kthread,reaper}.c.
//
// The original keeps one implicit "current CPU" per hardware thread,
// reached through current_cpu(). Go has no equivalent of CPU-pinned
// thread-local storage without an assembly trampoline of its own, so every
// function here takes its *CPU explicitly instead of rediscovering it —
// the same explicit-over-implicit trade internal/klock made by taking a
// ThreadHandle rather than reading one from a hidden global.
package sched

import (
	"sync/atomic"

	"nebula/internal/kernelerr"
)

type ThreadState int32

const (
	ThreadNew ThreadState = iota
	ThreadReady
	ThreadRunning
	ThreadSleeping
	ThreadBlocked
	ThreadZombie
)

func (s ThreadState) String() string {
	switch s {
	case ThreadNew:
		return "new"
	case ThreadReady:
		return "ready"
	case ThreadRunning:
		return "running"
	case ThreadSleeping:
		return "sleeping"
	case ThreadBlocked:
		return "blocked"
	case ThreadZombie:
		return "zombie"
	default:
		return "unknown"
	}
}

const (
	PrioMin     = 0
	PrioMax     = 31
	PrioDefault = 15
)

// Thread is one schedulable execution context. Kernel-stack allocation,
// extended (FPU) state and the general-purpose register context the
// original stores inline are intentionally absent: those are properties
// of a real hardware thread, and this package only owns the scheduling
// state machine and policy dispatch that sit above them. resumeOrRun in
// context_switch.go is the integration seam where that machinery would
// attach once internal/asm's SwitchContext/IretToFrame are driven by real
// stack pointers.
type Thread struct {
	ID     int64
	ProcID int64
	Name   string

	state ThreadState

	Prio       int
	TargetCPU  *CPU
	attached   atomic.Bool
	PolicyPriv interface{}

	wakeupErr          atomic.Int32
	WakeupTime         int64
	sleepInterruptible atomic.Bool

	refcount     atomic.Int32
	PreemptCount atomic.Int32

	Entry func(arg interface{}) int
	Arg   interface{}

	resume chan struct{}
}

// NewThread allocates a thread with one reference held by the caller,
// matching the original's thread_create/thread_ref(1) pair.
func NewThread(id, procID int64, name string, entry func(arg interface{}) int, arg interface{}) *Thread {
	t := &Thread{ID: id, ProcID: procID, Name: name, Entry: entry, Arg: arg, resume: make(chan struct{}, 1)}
	t.state = ThreadNew
	t.refcount.Store(1)
	return t
}

func (t *Thread) State() ThreadState       { return ThreadState(atomic.LoadInt32((*int32)(&t.state))) }
func (t *Thread) setState(s ThreadState)   { atomic.StoreInt32((*int32)(&t.state), int32(s)) }
func (t *Thread) Ref()                     { t.refcount.Add(1) }
func (t *Thread) Unref() int32             { return t.refcount.Add(-1) }
func (t *Thread) Refcount() int32          { return t.refcount.Load() }
func (t *Thread) WakeupErr() kernelerr.Errno { return kernelerr.Errno(t.wakeupErr.Load()) }
func (t *Thread) SleepInterruptible() bool { return t.sleepInterruptible.Load() }

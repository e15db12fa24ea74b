// Package klock implements the locking primitives of spec.md §5: a
// test-and-set spinlock, a writer-preferring read/write spinlock, a mutex
// degrading to a spinlock before the scheduler exists, a counting
// semaphore with a FIFO wait queue, and a one-shot completion. Grounded on
// kernel/core/spinlock.c, mutex.c, semaphore.c and completion.c in
// original_source.
package klock

import (
	"sync/atomic"

	"nebula/internal/asm"
)

// IRQFlags is the saved interrupt-enable state returned by
// LocalIRQSave/restored by LocalIRQRestore.
type IRQFlags uint64

// LocalIRQSave disables interrupts on the current CPU and returns the
// previous RFLAGS so the caller can restore it later.
//
//go:nosplit
func LocalIRQSave() IRQFlags {
	flags := IRQFlags(asm.ReadRFlags())
	asm.Cli()
	return flags
}

// LocalIRQRestore restores interrupts to the state captured by
// LocalIRQSave.
//
//go:nosplit
func LocalIRQRestore(flags IRQFlags) {
	asm.WriteRFlags(uint64(flags))
}

// Spinlock is a test-and-set lock with a pause hint on contention.
type Spinlock struct {
	locked atomic.Bool
}

// Lock spins until the lock is acquired.
func (s *Spinlock) Lock() {
	for s.locked.Swap(true) {
		asm.PauseHint()
	}
}

// Unlock releases the lock.
func (s *Spinlock) Unlock() {
	s.locked.Store(false)
}

// TryLock attempts to acquire the lock without spinning.
func (s *Spinlock) TryLock() bool {
	return !s.locked.Swap(true)
}

// LockIRQSave disables interrupts, saves the previous flags, and acquires
// the lock. Used for locks also taken from interrupt context.
func (s *Spinlock) LockIRQSave() IRQFlags {
	flags := LocalIRQSave()
	s.Lock()
	return flags
}

// UnlockIRQRestore releases the lock and restores interrupts to flags.
func (s *Spinlock) UnlockIRQRestore(flags IRQFlags) {
	s.Unlock()
	LocalIRQRestore(flags)
}

// TryLockIRQSave attempts the IRQ-safe acquire without spinning, restoring
// interrupts if the lock was already held.
func (s *Spinlock) TryLockIRQSave() (IRQFlags, bool) {
	flags := LocalIRQSave()
	if s.TryLock() {
		return flags, true
	}
	LocalIRQRestore(flags)
	return 0, false
}

// RWSpinlock is a writer-preferring read/write spinlock: writers increment
// a waiters counter before attempting to CAS the writer bit so new readers
// back off instead of starving a pending writer.
type RWSpinlock struct {
	writer         atomic.Bool
	writersWaiting atomic.Int32
	readers        atomic.Int32
}

// RLock acquires the lock for reading.
func (l *RWSpinlock) RLock() {
	for {
		for l.writer.Load() || l.writersWaiting.Load() != 0 {
			asm.PauseHint()
		}

		l.readers.Add(1)
		if !l.writer.Load() {
			return
		}
		l.readers.Add(-1)
	}
}

// RUnlock releases a read lock.
func (l *RWSpinlock) RUnlock() {
	l.readers.Add(-1)
}

// Lock acquires the lock for writing.
func (l *RWSpinlock) Lock() {
	l.writersWaiting.Add(1)
	for !l.writer.CompareAndSwap(false, true) {
		asm.PauseHint()
	}
	for l.readers.Load() != 0 {
		asm.PauseHint()
	}
	l.writersWaiting.Add(-1)
}

// Unlock releases a write lock.
func (l *RWSpinlock) Unlock() {
	l.writer.Store(false)
}

package klock

import "nebula/internal/kernelerr"

// Mutex is a sleeping lock: a binary Semaphore plus owner tracking for
// reentrancy detection, grounded on kernel/core/mutex.c. Before the
// scheduler exists (sched is nil or not Ready), Lock degrades to a plain
// spinlock so early boot code (running single-threaded, uncontended) can
// still use the same Mutex type the rest of the core does.
type Mutex struct {
	sem      Semaphore
	fallback Spinlock
	degraded bool
	owner    ThreadHandle
}

// NewMutex returns an unlocked mutex.
func NewMutex() *Mutex {
	return &Mutex{sem: Semaphore{count: 1}}
}

// Lock blocks until the mutex is acquired.
func (m *Mutex) Lock() {
	if sched != nil && sched.Ready() {
		if owner := m.currentOwner(); owner != nil && owner == sched.Current() {
			panic("klock: recursive mutex lock by same thread")
		}
		m.sem.Wait(0)
		m.setOwner(sched.Current())
		return
	}
	m.fallback.Lock()
	m.setDegraded(true)
}

// TryLock attempts to acquire the mutex without blocking.
func (m *Mutex) TryLock() bool {
	if sched != nil && sched.Ready() {
		if !m.sem.TryWait() {
			return false
		}
		m.setOwner(sched.Current())
		return true
	}
	if !m.fallback.TryLock() {
		return false
	}
	m.setDegraded(true)
	return true
}

// LockTimed blocks up to timeoutMs milliseconds, returning
// kernelerr.ETIMEOUT on expiry.
func (m *Mutex) LockTimed(timeoutMs int64) kernelerr.Errno {
	if sched == nil || !sched.Ready() {
		m.Lock()
		return kernelerr.OK
	}
	if err := m.sem.Wait(timeoutMs); err != kernelerr.OK {
		return err
	}
	m.setOwner(sched.Current())
	return kernelerr.OK
}

// Unlock releases the mutex.
func (m *Mutex) Unlock() {
	if m.isDegraded() {
		m.setDegraded(false)
		m.fallback.Unlock()
		return
	}
	m.setOwner(nil)
	m.sem.Signal()
}

func (m *Mutex) currentOwner() ThreadHandle {
	flags := m.sem.lock.LockIRQSave()
	defer m.sem.lock.UnlockIRQRestore(flags)
	return m.owner
}

func (m *Mutex) setOwner(t ThreadHandle) {
	flags := m.sem.lock.LockIRQSave()
	m.owner = t
	m.sem.lock.UnlockIRQRestore(flags)
}

func (m *Mutex) isDegraded() bool {
	flags := m.sem.lock.LockIRQSave()
	defer m.sem.lock.UnlockIRQRestore(flags)
	return m.degraded
}

func (m *Mutex) setDegraded(v bool) {
	flags := m.sem.lock.LockIRQSave()
	m.degraded = v
	m.sem.lock.UnlockIRQRestore(flags)
}

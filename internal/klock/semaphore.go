package klock

import "nebula/internal/kernelerr"

// semWaiter is one entry of a Semaphore's FIFO wait queue. Signal marks
// done before waking the thread so a waiter that resumes from a timeout
// race can tell whether it was actually handed the resource.
type semWaiter struct {
	thread ThreadHandle
	done   bool
}

// Semaphore is a counting semaphore with a FIFO wait queue, grounded on
// kernel/core/semaphore.c: a counter plus a FIFO slice of parked
// waiters, so Signal always wakes the longest-waiting thread.
type Semaphore struct {
	lock    Spinlock
	count   int32
	waiters []*semWaiter
}

// NewSemaphore returns a semaphore initialized to count.
func NewSemaphore(count int32) *Semaphore {
	return &Semaphore{count: count}
}

// TryWait acquires the semaphore without blocking, returning false if its
// count is already zero or negative.
func (s *Semaphore) TryWait() bool {
	flags := s.lock.LockIRQSave()
	defer s.lock.UnlockIRQRestore(flags)
	if s.count > 0 {
		s.count--
		return true
	}
	return false
}

// Wait decrements the semaphore, blocking indefinitely (timeoutMs 0) or up
// to timeoutMs if positive. Returns kernelerr.OK, kernelerr.ETIMEOUT, or
// kernelerr.EINTR.
func (s *Semaphore) Wait(timeoutMs int64) kernelerr.Errno {
	flags := s.lock.LockIRQSave()
	if s.count > 0 {
		s.count--
		s.lock.UnlockIRQRestore(flags)
		return kernelerr.OK
	}

	if sched == nil || !sched.Ready() {
		// No scheduler to park against yet: spin-wait for Signal.
		s.lock.UnlockIRQRestore(flags)
		for !s.TryWait() {
			LocalIRQRestore(LocalIRQSave())
		}
		return kernelerr.OK
	}

	w := &semWaiter{thread: sched.Current()}
	s.waiters = append(s.waiters, w)
	s.lock.UnlockIRQRestore(flags)

	reason := sched.Block(timeoutMs)

	flags = s.lock.LockIRQSave()
	if w.done {
		s.lock.UnlockIRQRestore(flags)
		return kernelerr.OK
	}
	s.removeWaiterLocked(w)
	s.lock.UnlockIRQRestore(flags)

	if reason == WakeTimeout {
		return kernelerr.ETIMEOUT
	}
	return kernelerr.EINTR
}

// Signal increments the semaphore, or if a thread is already waiting,
// hands the unit directly to the head of the queue and wakes it.
func (s *Semaphore) Signal() {
	flags := s.lock.LockIRQSave()
	if len(s.waiters) > 0 {
		w := s.waiters[0]
		s.waiters = s.waiters[1:]
		w.done = true
		s.lock.UnlockIRQRestore(flags)
		if sched != nil {
			sched.Wake(w.thread, WakeNormal)
		}
		return
	}
	s.count++
	s.lock.UnlockIRQRestore(flags)
}

// Reset reinitializes the count to n. Fails with EBUSY if threads are
// currently waiting, matching the original's refusal to reset out from
// under parked waiters.
func (s *Semaphore) Reset(n int32) kernelerr.Errno {
	flags := s.lock.LockIRQSave()
	defer s.lock.UnlockIRQRestore(flags)
	if len(s.waiters) > 0 {
		return kernelerr.EBUSY
	}
	s.count = n
	return kernelerr.OK
}

func (s *Semaphore) removeWaiterLocked(target *semWaiter) {
	for i, w := range s.waiters {
		if w == target {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
}

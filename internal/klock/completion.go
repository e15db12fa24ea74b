package klock

import "nebula/internal/kernelerr"

// Completion is a one-shot event: Wait parks until Complete is called (or
// immediately returns if it already has been), and Complete wakes every
// waiter, grounded on kernel/core/completion.c.
type Completion struct {
	lock    Spinlock
	done    bool
	waiters []ThreadHandle
}

// Wait blocks until Complete is called, or up to timeoutMs milliseconds if
// positive (0 means indefinite). Returns kernelerr.OK, kernelerr.ETIMEOUT,
// or kernelerr.EINTR.
func (c *Completion) Wait(timeoutMs int64) kernelerr.Errno {
	flags := c.lock.LockIRQSave()
	if c.done {
		c.lock.UnlockIRQRestore(flags)
		return kernelerr.OK
	}

	if sched == nil || !sched.Ready() {
		c.lock.UnlockIRQRestore(flags)
		for {
			flags = c.lock.LockIRQSave()
			if c.done {
				c.lock.UnlockIRQRestore(flags)
				return kernelerr.OK
			}
			c.lock.UnlockIRQRestore(flags)
		}
	}

	self := sched.Current()
	c.waiters = append(c.waiters, self)
	c.lock.UnlockIRQRestore(flags)

	reason := sched.Block(timeoutMs)

	flags = c.lock.LockIRQSave()
	defer c.lock.UnlockIRQRestore(flags)
	if c.done {
		return kernelerr.OK
	}
	for i, w := range c.waiters {
		if w == self {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			break
		}
	}
	if reason == WakeTimeout {
		return kernelerr.ETIMEOUT
	}
	return kernelerr.EINTR
}

// Complete marks the completion done and wakes every waiter.
func (c *Completion) Complete() {
	flags := c.lock.LockIRQSave()
	if c.done {
		c.lock.UnlockIRQRestore(flags)
		return
	}
	c.done = true
	waiters := c.waiters
	c.waiters = nil
	c.lock.UnlockIRQRestore(flags)

	if sched == nil {
		return
	}
	for _, w := range waiters {
		sched.Wake(w, WakeNormal)
	}
}

// Reset clears the completion for reuse. Panics if threads are still
// waiting, since resetting out from under them would lose their wakeup.
func (c *Completion) Reset() {
	flags := c.lock.LockIRQSave()
	defer c.lock.UnlockIRQRestore(flags)
	if len(c.waiters) > 0 {
		panic("klock: Completion.Reset with waiters still parked")
	}
	c.done = false
}

// IsComplete reports whether Complete has been called.
func (c *Completion) IsComplete() bool {
	flags := c.lock.LockIRQSave()
	defer c.lock.UnlockIRQRestore(flags)
	return c.done
}

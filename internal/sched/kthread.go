package sched

import "nebula/internal/klock"

// Kthreads are kernel-only threads with no owning process, tracked in a
// registry keyed by name the way kthread.c's hashtable is, so a second
// CreateKthread with the same name fails loudly instead of silently
// shadowing the first. Grounded on
// original_source/kernel/sched/kthread.c.
type Kthread struct {
	Thread *Thread
	done   klock.Completion
}

var (
	kthreadsLock klock.Spinlock
	kthreads     = map[string]*Kthread{}
)

// CreateKthread allocates a thread with no owning process, attaches it to
// cpu's runqueue and enqueues it ready to run. Grounded on
// kthread_create/__kthread_start.
func CreateKthread(cpu *CPU, name string, entry func(arg interface{}) int, arg interface{}) (*Kthread, bool) {
	kthreadsLock.Lock()
	if _, exists := kthreads[name]; exists {
		kthreadsLock.Unlock()
		return nil, false
	}
	kthreadsLock.Unlock()

	tid, ok := AllocTID()
	if !ok {
		return nil, false
	}

	k := &Kthread{}
	wrapped := func(a interface{}) int {
		rc := entry(a)
		k.done.Complete()
		return rc
	}
	k.Thread = NewThread(tid, -1, name, wrapped, arg)

	kthreadsLock.Lock()
	kthreads[name] = k
	kthreadsLock.Unlock()

	Enqueue(cpu, k.Thread)
	return k, true
}

// LookupKthread returns the registered kthread by name, or nil.
func LookupKthread(name string) *Kthread {
	kthreadsLock.Lock()
	defer kthreadsLock.Unlock()
	return kthreads[name]
}

// DetachKthread removes name from the registry without waiting for it to
// finish. Grounded on kthread_detach.
func DetachKthread(name string) {
	kthreadsLock.Lock()
	defer kthreadsLock.Unlock()
	delete(kthreads, name)
}

// WaitForCompletion blocks until k's entry function returns. Grounded on
// kthread_wait_for_completion.
func (k *Kthread) WaitForCompletion() { k.done.Wait(0) }

package sched

import (
	"sync/atomic"

	"nebula/internal/klock"
)

// Policy is the pluggable scheduling algorithm a runqueue defers to,
// mirroring the original's struct sched_policy_ops nullable function
// pointers. ThreadAttach/ThreadDetach/ChangePrio are optional: a policy
// that has no per-thread setup to do simply doesn't implement them, and
// callers probe for the capability with a type assertion instead of the
// original's NULL checks.
type Policy interface {
	Name() string
	// Enqueue places t on rq, called with rq's lock held.
	Enqueue(rq *RunQueue, t *Thread)
	// Dequeue removes t from rq, called with rq's lock held.
	Dequeue(rq *RunQueue, t *Thread)
	// PickNext selects and removes the next thread to run, or nil if rq
	// is empty. Called with rq's lock held.
	PickNext(rq *RunQueue) *Thread
	// OnTick is called once per scheduler tick for the currently running
	// thread and reports whether it should be preempted.
	OnTick(rq *RunQueue, t *Thread) bool
}

// PolicyThreadAttacher is implemented by policies that need to initialize
// per-thread scheduling state (budgets, scaled priority) the first time a
// thread joins a runqueue.
type PolicyThreadAttacher interface {
	ThreadAttach(t *Thread)
}

// PolicyPrioChanger is implemented by policies that react to priority
// changes on an already-enqueued thread (PBRR moves it to its new
// priority's ready list; RR inherits that same method from PBRR).
type PolicyPrioChanger interface {
	ChangePrio(rq *RunQueue, t *Thread, newPrio int)
}

// RunQueue is the per-CPU ready queue. The original embeds this inline in
// struct cpu; it is split out here so tests can exercise enqueue/dequeue
// without a full CPU.
//
// sleepers holds every thread parked by PrepareSleep with a nonzero
// timeout, kept sorted ascending by WakeupTime so Tick only has to look
// at the head. Grounded on struct runqueue's sleepers list in core.c.
type RunQueue struct {
	lock     klock.Spinlock
	policy   Policy
	nrReady  int
	sleepers []*Thread
}

func NewRunQueue(policy Policy) *RunQueue {
	return &RunQueue{policy: policy}
}

func (rq *RunQueue) Len() int {
	rq.lock.Lock()
	defer rq.lock.Unlock()
	return rq.nrReady
}

// CPU is one schedulable hardware thread: its runqueue, the thread it is
// currently running, and the zombie bookkeeping core.c keeps per CPU.
// Functions throughout this package take a *CPU explicitly rather than
// reaching for an implicit current_cpu(), see the package doc.
type CPU struct {
	ID int

	RQ *RunQueue

	lock    klock.Spinlock
	current *Thread
	idle    *Thread

	zombies []*Thread

	nrRunning   int
	needResched atomic.Bool
}

func NewCPU(id int, policy Policy) *CPU {
	return &CPU{ID: id, RQ: NewRunQueue(policy)}
}

func (c *CPU) Current() *Thread {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.current
}

func (c *CPU) NrRunning() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.nrRunning
}

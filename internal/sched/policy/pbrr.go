// Package policy implements the priority-based round-robin scheduling
// policy plain and scaled. Grounded on
// original_source/kernel/sched/pbrr.c. It imports internal/sched rather
// than the reverse, the same dependency-inversion internal/klock uses for
// internal/sched's Scheduler interface: sched.Policy is declared in
// package sched so sched never needs to import a concrete policy.
package policy

import "nebula/internal/sched"

const (
	prioCount      = 32
	minPrio        = 0
	maxPrio        = 31
	prioGroupShift = 3
	defaultSlice   = 10
)

// prioWeight gives higher priorities a bigger time slice budget, grouping
// every 8 priority levels (1<<prioGroupShift) into one weight step.
// Matches pbrr.c's prio_weight.
func prioWeight(prio int) int {
	return defaultSlice * (1 + prio>>prioGroupShift)
}

// budget is the per-thread scheduling state PBRR stashes in
// Thread.PolicyPriv, equivalent to struct pbrr_thread_data.
type budget struct {
	ticksLeft int
}

// PBRR is the default priority-based round-robin policy: prioCount FIFO
// ready lists, one per priority level, serviced highest-first, with each
// thread getting a budget of ticks proportional to its priority before
// it is forced to the back of its list.
type PBRR struct {
	queues [prioCount][]*sched.Thread
}

// New returns a fresh PBRR policy with every ready list empty.
func New() *PBRR { return &PBRR{} }

func clampPrio(p int) int {
	if p < minPrio {
		return minPrio
	}
	if p > maxPrio {
		return maxPrio
	}
	return p
}

func (p *PBRR) Name() string { return "pbrr" }

// ThreadAttach initializes a freshly attached thread's budget. Grounded
// on pbrr_thread_attach.
func (p *PBRR) ThreadAttach(t *sched.Thread) {
	t.Prio = clampPrio(t.Prio)
	t.PolicyPriv = &budget{ticksLeft: prioWeight(t.Prio)}
}

func budgetOf(t *sched.Thread) *budget {
	b, ok := t.PolicyPriv.(*budget)
	if !ok {
		b = &budget{ticksLeft: prioWeight(t.Prio)}
		t.PolicyPriv = b
	}
	return b
}

// Enqueue appends t to its priority's ready list. Grounded on
// pbrr_enqueue.
func (p *PBRR) Enqueue(rq *sched.RunQueue, t *sched.Thread) {
	prio := clampPrio(t.Prio)
	p.queues[prio] = append(p.queues[prio], t)
}

// Dequeue removes t from whichever ready list it is on. Grounded on
// pbrr_dequeue.
func (p *PBRR) Dequeue(rq *sched.RunQueue, t *sched.Thread) {
	prio := clampPrio(t.Prio)
	q := p.queues[prio]
	for i, cand := range q {
		if cand == t {
			p.queues[prio] = append(q[:i], q[i+1:]...)
			return
		}
	}
}

// highestReady returns the highest priority with a nonempty list and a
// thread whose budget has not run out yet, or -1 if none qualifies.
// Grounded on highest_ready_prio_budget.
func (p *PBRR) highestReady() int {
	for prio := maxPrio; prio >= minPrio; prio-- {
		for _, t := range p.queues[prio] {
			if budgetOf(t).ticksLeft > 0 {
				return prio
			}
		}
	}
	return -1
}

// resetBudgets refills every queued thread's budget once every list is
// exhausted, matching pbrr.c's fallback when highest_ready_prio_budget
// finds nothing runnable.
func (p *PBRR) resetBudgets() {
	for prio := range p.queues {
		for _, t := range p.queues[prio] {
			budgetOf(t).ticksLeft = prioWeight(t.Prio)
		}
	}
}

// PickNext pops the head of the highest-priority nonempty, non-exhausted
// list, resetting every budget first if all are exhausted. Grounded on
// pbrr_pick_next/pop_head_and_maybe_clear.
func (p *PBRR) PickNext(rq *sched.RunQueue) *sched.Thread {
	prio := p.highestReady()
	if prio < 0 {
		p.resetBudgets()
		prio = p.highestReady()
		if prio < 0 {
			return nil
		}
	}

	q := p.queues[prio]
	if len(q) == 0 {
		return nil
	}
	t := q[0]
	p.queues[prio] = q[1:]
	return t
}

// ChangePrio moves t to its new priority's ready list if it is currently
// enqueued. Grounded on pbrr_change_prio.
func (p *PBRR) ChangePrio(rq *sched.RunQueue, t *sched.Thread, newPrio int) {
	old := clampPrio(t.Prio)
	q := p.queues[old]
	for i, cand := range q {
		if cand == t {
			p.queues[old] = append(q[:i], q[i+1:]...)
			p.queues[clampPrio(newPrio)] = append(p.queues[clampPrio(newPrio)], t)
			return
		}
	}
}

// OnTick consumes one tick of t's budget and reports whether it has run
// out, signaling the caller to preempt. Grounded on pbrr_on_tick.
func (p *PBRR) OnTick(rq *sched.RunQueue, t *sched.Thread) bool {
	b := budgetOf(t)
	if b.ticksLeft > 0 {
		b.ticksLeft--
	}
	return b.ticksLeft <= 0
}

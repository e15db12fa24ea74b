package policy

import "nebula/internal/sched"

// RR is plain round robin: every thread runs at the same effective
// priority regardless of what it was created with, so PBRR's weighting
// degenerates into equal time slices for everyone. Grounded on pbrr.c's
// rr_thread_attach, which reuses every other PBRR operation unchanged.
type RR struct {
	PBRR
}

// NewRR returns a fresh plain round-robin policy.
func NewRR() *RR { return &RR{} }

func (r *RR) Name() string { return "rr" }

// ThreadAttach pins every thread to the same priority so PickNext's
// per-priority budget still applies but no thread starves another.
func (r *RR) ThreadAttach(t *sched.Thread) {
	t.Prio = maxPrio
	t.PolicyPriv = &budget{ticksLeft: prioWeight(maxPrio)}
}

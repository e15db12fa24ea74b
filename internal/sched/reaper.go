package sched

import "nebula/internal/klock"

// minZombieRefcount is the refcount a zombie must be at or below before
// the reaper frees it: one for the zombie list's own hold plus one for
// whatever still legitimately references it (a parent's wait, say).
// Matches reaper_thread's "still has a holder" check against the literal
// constant 2 in reaper.c.
const minZombieRefcount = 2

// ReaperFunc is called once per reaped zombie so the caller can release
// whatever it owns (address space, fd table) before the thread itself is
// dropped. nil is a valid no-op reaper.
type ReaperFunc func(t *Thread)

// reaperSem is signalled once per ThreadExit so the reaper loop below
// only wakes when there is work, mirroring reaper_sem in reaper.c.
var reaperSem = klock.NewSemaphore(0)

// NotifyReaper wakes a CPU's reaper after a zombie has been appended.
// ThreadExit calls it itself once it has queued the exiting thread.
func NotifyReaper() { reaperSem.Signal() }

// ReapOnce pops one zombie from cpu, reaps it if nothing else still
// references it, and reports whether it reaped anything. A zombie still
// referenced elsewhere is pushed back onto the list rather than leaked.
// Grounded on reaper_thread's per-iteration body.
func ReapOnce(cpu *CPU, reap ReaperFunc) bool {
	z := PopZombie(cpu)
	if z == nil {
		return false
	}

	if z.Refcount() > minZombieRefcount {
		RequeueZombie(cpu, z)
		return false
	}

	ThreadDetach(z)
	if reap != nil {
		reap(z)
	}
	FreeTID(z.ID)
	return true
}

// ReaperLoop is the per-CPU reaper kthread body: wait for a zombie to
// show up, then drain whatever is on cpu's list. Install with
// CreateKthread(cpu, "reaper", ReaperLoop(cpu, reap), nil); the loop
// only ever drains cpu's own zombie list.
// Grounded on reaper_thread/reaper_cpu_init.
func ReaperLoop(cpu *CPU, reap ReaperFunc) func(arg interface{}) int {
	return func(arg interface{}) int {
		for {
			if err := reaperSem.Wait(0); err != 0 {
				continue
			}
			for ReapOnce(cpu, reap) {
			}
		}
	}
}

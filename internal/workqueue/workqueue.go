// Package workqueue runs deferred work off a kernel thread instead of
// the caller that scheduled it, playing the role of
// original_source/kernel/sched/workqueue.c. The original backs its
// queue with a slab-allocated struct work, an intrusive list, a
// spinlock, and a semaphore; a buffered Go channel already is that
// combination (queue plus wakeup signal plus mutual exclusion), so this
// port uses one instead of reimplementing the four pieces separately.
package workqueue

import (
	"fmt"

	"nebula/internal/kernelerr"
	"nebula/internal/sched"
)

// Work is one deferred call, matching struct work's fn/arg pair.
type Work struct {
	Fn  func(arg interface{})
	Arg interface{}
}

// Queue is one worker's backlog. Grounded on the ringbuffer/list +
// spinlock + semaphore trio every queue in workqueue.c/defer.c wraps.
type Queue struct {
	ch chan Work
}

// NewQueue creates a queue with the given backlog capacity. Global
// queues use 512 slots and per-CPU queues 32, matching workqueue_init's
// slab sizing and deferred_init_cpu's ringbuffer_init(32, ...).
func NewQueue(capacity int) *Queue {
	return &Queue{ch: make(chan Work, capacity)}
}

// Add enqueues fn(arg), returning EAGAIN if the backlog is full instead
// of blocking the caller, matching schedule_work's -EAGAIN when the
// ringbuffer is full.
func (q *Queue) Add(fn func(arg interface{}), arg interface{}) kernelerr.Errno {
	select {
	case q.ch <- Work{Fn: fn, Arg: arg}:
		return kernelerr.OK
	default:
		return kernelerr.EAGAIN
	}
}

// run is the worker_thread loop: wait for work, run it, repeat. Returns
// only once q.ch is closed; CPUInit uses it as a Kthread entry function.
func (q *Queue) run(arg interface{}) int {
	for w := range q.ch {
		w.Fn(w.Arg)
	}
	return 0
}

const globalCapacity = 512
const perCPUCapacity = 32

var global = NewQueue(globalCapacity)
var perCPU = map[int]*Queue{}

// Add schedules fn to run on any worker, matching sched_workqueue_add.
func Add(fn func(arg interface{}), arg interface{}) kernelerr.Errno {
	return global.Add(fn, arg)
}

// AddOn schedules fn to run on cpu's own worker, matching
// sched_workqueue_add_on.
func AddOn(cpu *sched.CPU, fn func(arg interface{}), arg interface{}) kernelerr.Errno {
	q, ok := perCPU[cpu.ID]
	if !ok {
		return kernelerr.EINVAL
	}
	return q.Add(fn, arg)
}

// CPUInit creates cpu's own queue and the two kernel threads that drain
// it: one pulling from the global queue, one from cpu's own, matching
// workqueue_cpu_init's worker/%u:g and worker/%u:p pair. Must run once
// per CPU during boot.
func CPUInit(cpu *sched.CPU) kernelerr.Errno {
	q := NewQueue(perCPUCapacity)
	perCPU[cpu.ID] = q

	gname := fmt.Sprintf("worker/%d:g", cpu.ID)
	pname := fmt.Sprintf("worker/%d:p", cpu.ID)

	if _, ok := sched.CreateKthread(cpu, gname, global.run, nil); !ok {
		return kernelerr.EAGAIN
	}
	if _, ok := sched.CreateKthread(cpu, pname, q.run, nil); !ok {
		return kernelerr.EAGAIN
	}
	sched.DetachKthread(gname)
	sched.DetachKthread(pname)
	return kernelerr.OK
}

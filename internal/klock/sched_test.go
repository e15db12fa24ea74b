package klock

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"testing"
	"time"

	"nebula/internal/kernelerr"
)

// goroutineID extracts the calling goroutine's id from its own stack trace,
// giving the fake scheduler below a stand-in for "the currently running
// thread" without a real per-CPU scheduler backing it.
func goroutineID() int64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	buf = buf[:n]
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	buf = buf[:bytes.IndexByte(buf, ' ')]
	id, _ := strconv.ParseInt(string(buf), 10, 64)
	return id
}

type fakeThread struct{ name string }

// fakeScheduler is a minimal Scheduler good enough to exercise the
// block/wake paths of Semaphore, Mutex and Completion under real
// goroutines.
type fakeScheduler struct {
	mu      sync.Mutex
	current map[int64]ThreadHandle
	parked  map[ThreadHandle]chan int
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{
		current: make(map[int64]ThreadHandle),
		parked:  make(map[ThreadHandle]chan int),
	}
}

func (f *fakeScheduler) bind(t ThreadHandle) {
	f.mu.Lock()
	f.current[goroutineID()] = t
	f.mu.Unlock()
}

func (f *fakeScheduler) Current() ThreadHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current[goroutineID()]
}

func (f *fakeScheduler) Ready() bool { return true }

func (f *fakeScheduler) Block(timeoutMs int64) int {
	t := f.Current()
	ch := make(chan int, 1)
	f.mu.Lock()
	f.parked[t] = ch
	f.mu.Unlock()

	if timeoutMs > 0 {
		select {
		case reason := <-ch:
			return reason
		case <-time.After(time.Duration(timeoutMs) * time.Millisecond):
			f.mu.Lock()
			delete(f.parked, t)
			f.mu.Unlock()
			return WakeTimeout
		}
	}
	return <-ch
}

func (f *fakeScheduler) Wake(t ThreadHandle, reason int) {
	f.mu.Lock()
	ch, ok := f.parked[t]
	if ok {
		delete(f.parked, t)
	}
	f.mu.Unlock()
	if ok {
		ch <- reason
	}
}

func TestSemaphoreBlocksThenHandsOff(t *testing.T) {
	fs := newFakeScheduler()
	SetScheduler(fs)
	defer SetScheduler(nil)

	sem := NewSemaphore(0)
	done := make(chan struct{})
	go func() {
		fs.bind(&fakeThread{"waiter"})
		if err := sem.Wait(0); err != 0 {
			t.Errorf("Wait returned %v, want OK", err)
		}
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	sem.Signal()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter was never woken")
	}
}

func TestSemaphoreWaitTimesOut(t *testing.T) {
	fs := newFakeScheduler()
	SetScheduler(fs)
	defer SetScheduler(nil)
	fs.bind(&fakeThread{"solo"})

	sem := NewSemaphore(0)
	if err := sem.Wait(20); err != kernelerr.ETIMEOUT {
		t.Fatalf("Wait = %v, want ETIMEOUT", err)
	}
}

func TestCompletionWaitThenComplete(t *testing.T) {
	fs := newFakeScheduler()
	SetScheduler(fs)
	defer SetScheduler(nil)

	var c Completion
	done := make(chan struct{})
	go func() {
		fs.bind(&fakeThread{"waiter"})
		if err := c.Wait(0); err != 0 {
			t.Errorf("Wait returned %v, want OK", err)
		}
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	c.Complete()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("completion waiter was never woken")
	}
	if !c.IsComplete() {
		t.Fatal("IsComplete should be true after Complete")
	}
}

func TestMutexDegradesBeforeSchedulerReady(t *testing.T) {
	SetScheduler(nil)

	m := NewMutex()
	m.Lock()
	if !m.isDegraded() {
		t.Fatal("Lock before scheduler init should use the spinlock fallback")
	}
	m.Unlock()
	if !m.TryLock() {
		t.Fatal("TryLock should succeed on an unlocked mutex")
	}
	m.Unlock()
}

// Package irq implements the interrupt substrate: a fixed vector table,
// ISR allocation, registration against a pluggable Controller, and the
// synchronize/retire pair that lets a driver safely tear an IRQ down
// without racing its own handler. Grounded on
// original_source/kernel/core/{interrupt,intctl}.c.
package irq

import (
	"sync/atomic"

	"nebula/internal/kernelerr"
	"nebula/internal/klock"
	"nebula/internal/sched"
)

// Vector layout, named after INTERRUPT_*. The first ExceptionCount
// vectors are CPU exceptions wired up at init time; everything above
// that is available to interrupt_alloc's equivalent, Alloc.
const (
	VectorCount     = 256
	ExceptionCount  = 32
	NMIVector       = 2
	DoubleFaultVector = 8
	MachineCheckVector = 18
	SpuriousVector  = 255
)

// synced is the sentinel inflight count meaning "no new entries allowed,"
// matching the original's LONG_MIN marker distinguishing "draining" from
// merely idle (0).
const synced = int64(-1 << 62)

// Handler is the function an ISR runs on entry. ctx stands in for the
// original's struct context* (the trapped register state); this model
// never needs to read or rewrite it.
type Handler func(isr *ISR, ctx interface{})

// ISR is one interrupt service routine slot. Matches struct isr:
// a handler function, an in-flight counter used by
// Synchronize/AllowEntryIfSynced, and the IRQ binding this vector was
// installed against (if any — exceptions have none).
type ISR struct {
	lock     klock.Spinlock
	fn       Handler
	inflight atomic.Int64

	IRQNumber int
	CPU       *sched.CPU
	Masked    bool
	eoi       func()
	unsetIRQ  func()
}

var (
	table     [VectorCount]ISR
	freeList  [VectorCount]bool
	freeLock  klock.Spinlock
)

func init() {
	for i := range table {
		table[i].IRQNumber = -1
		if i < ExceptionCount {
			freeList[i] = true
		}
	}
}

// Vector returns isr's index into the vector table, or -1 if isr is not
// one of the table's entries. Grounded on interrupt_get_vector.
func Vector(isr *ISR) int {
	for i := range table {
		if &table[i] == isr {
			return i
		}
	}
	return -1
}

// Alloc reserves a free vector above ExceptionCount for a device
// interrupt. Grounded on interrupt_alloc.
func Alloc() *ISR {
	freeLock.Lock()
	defer freeLock.Unlock()

	for i := ExceptionCount; i < VectorCount; i++ {
		if !freeList[i] {
			freeList[i] = true
			return &table[i]
		}
	}
	return nil
}

// Free releases a vector Alloc returned. Grounded on interrupt_free.
func Free(isr *ISR) kernelerr.Errno {
	v := Vector(isr)
	if v < 0 || v < ExceptionCount {
		return kernelerr.EINVAL
	}
	freeLock.Lock()
	freeList[v] = false
	freeLock.Unlock()
	return kernelerr.OK
}

// Register binds fn to isr and asks ctl to route irqNum to it on cpu.
// Grounded on interrupt_register.
func Register(isr *ISR, fn Handler, ctl Controller, irqNum int, cpu *sched.CPU, masked bool) kernelerr.Errno {
	if Vector(isr) < 0 {
		return kernelerr.EINVAL
	}
	if isr.fn != nil {
		return kernelerr.EALREADY
	}

	isr.fn = fn
	isr.inflight.Store(0)

	if err := ctl.Install(irqNum, isr, cpu); err != nil {
		isr.fn = nil
		return kernelerr.EINVAL
	}
	isr.IRQNumber = irqNum
	isr.CPU = cpu
	isr.Masked = masked
	isr.eoi = func() { ctl.EOI(irqNum) }
	isr.unsetIRQ = func() { ctl.Uninstall(irqNum) }
	return kernelerr.OK
}

// Synchronize blocks new entries into isr and waits for any handler
// already running to finish, leaving isr drained until
// AllowEntryIfSynced is called. Grounded
// on interrupt_synchronize: the inflight counter is driven to the
// "synced" sentinel and the caller spins (cooperatively, via
// sched.Schedule) until the last in-flight entry exits.
func Synchronize(cpu *sched.CPU, isr *ISR) kernelerr.Errno {
	if isr.IRQNumber == -1 {
		return kernelerr.EINVAL
	}

	isr.lock.Lock()
	if isr.inflight.Load() >= 0 {
		isr.inflight.Add(synced)
	}
	isr.lock.Unlock()

	for isr.inflight.Load() != synced {
		sched.Schedule(cpu)
	}
	return kernelerr.OK
}

// AllowEntryIfSynced reverses a prior Synchronize, letting isr accept
// entries again. Grounded on interrupt_allow_entry_if_synced.
func AllowEntryIfSynced(isr *ISR) kernelerr.Errno {
	if Vector(isr) < 0 || isr.IRQNumber == -1 {
		return kernelerr.EINVAL
	}

	isr.lock.Lock()
	defer isr.lock.Unlock()
	if isr.inflight.Load() != synced {
		return kernelerr.EBUSY
	}
	isr.inflight.Store(0)
	return kernelerr.OK
}

// Unregister masks isr's IRQ, synchronizes against any in-flight entry,
// uninstalls it from the controller, and clears the handler. Grounded on
// interrupt_unregister/__interrupt_unregister, simplified: the original
// hands the teardown off to a workqueue running on the ISR's owning CPU
// so it can't race a handler already executing there; Synchronize
// already guarantees that here since Schedule only ever runs on the
// calling goroutine's own CPU.
func Unregister(cpu *sched.CPU, isr *ISR) kernelerr.Errno {
	if Vector(isr) < 0 || isr.IRQNumber == -1 {
		return kernelerr.EINVAL
	}

	isr.Masked = true
	if err := Synchronize(cpu, isr); err != kernelerr.OK {
		return err
	}
	if isr.unsetIRQ != nil {
		isr.unsetIRQ()
	}
	isr.fn = nil
	isr.IRQNumber = -1
	isr.CPU = nil
	return kernelerr.OK
}

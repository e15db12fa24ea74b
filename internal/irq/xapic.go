package irq

import (
	"fmt"

	"nebula/internal/klock"
	"nebula/internal/sched"
)

// XAPIC models the local/IO APIC pair as pure software bookkeeping: a
// masked-IRQ map and an IRQ-to-owner-CPU map, with IPI delivery
// invoking the target's handler directly instead of sending a real
// inter-processor interrupt. Grounded on
// original_source/kernel/core/apic.c, which otherwise does MADT parsing
// and raw MMIO register access this model has no physical counterpart
// for — the same simplification internal/mm/vmm's Shootdown makes for
// cross-CPU TLB invalidation.
type XAPIC struct {
	lock   klock.Spinlock
	masked map[int]bool
	owners map[int]*sched.CPU
}

func NewXAPIC() *XAPIC {
	return &XAPIC{masked: map[int]bool{}, owners: map[int]*sched.CPU{}}
}

func (x *XAPIC) Name() string { return "xapic" }

// Rating of 200 beats the legacy PIC's 50, matching the original
// preferring the IOAPIC/LAPIC pair whenever ACPI reports one.
func (x *XAPIC) Rating() int { return 200 }

func (x *XAPIC) InitBSP() error { return nil }
func (x *XAPIC) InitAP() error  { return nil }

func (x *XAPIC) Install(irqNum int, isr *ISR, cpu *sched.CPU) error {
	x.lock.Lock()
	defer x.lock.Unlock()
	x.owners[irqNum] = cpu
	x.masked[irqNum] = true
	return nil
}

func (x *XAPIC) Uninstall(irqNum int) error {
	x.lock.Lock()
	defer x.lock.Unlock()
	delete(x.owners, irqNum)
	delete(x.masked, irqNum)
	return nil
}

// SendIPI invokes isr's handler inline on behalf of cpu, standing in for
// a real cross-CPU interrupt the way Shootdown's FlushFunc does for TLB
// invalidation.
func (x *XAPIC) SendIPI(cpu *sched.CPU, isr *ISR, flags int) error {
	if isr.fn == nil {
		return fmt.Errorf("xapic: no handler bound to IPI vector")
	}
	isr.fn(isr, nil)
	return nil
}

func (x *XAPIC) Enable(irqNum int) error {
	x.lock.Lock()
	defer x.lock.Unlock()
	x.masked[irqNum] = false
	return nil
}

func (x *XAPIC) Disable(irqNum int) error {
	x.lock.Lock()
	defer x.lock.Unlock()
	x.masked[irqNum] = true
	return nil
}

func (x *XAPIC) EOI(irqNum int) error { return nil }

func (x *XAPIC) WaitPending(irqNum int) error { return nil }

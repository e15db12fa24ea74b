package irq

import (
	"fmt"

	"nebula/internal/klock"
	"nebula/internal/sched"
)

// PIC models the legacy 8259 in the same software-bookkeeping style as
// XAPIC. Grounded on original_source/kernel/core/i8259.c: the original
// only ever installs it for the two spurious IRQ lines (7 and 15) once
// the APIC takes over everything else, which is why Install here rejects
// every line but those two, matching i8259_set_irq's -ENOSYS for every
// other case, and always installs them masked.
type PIC struct {
	lock   klock.Spinlock
	masked map[int]bool
}

func NewPIC() *PIC { return &PIC{masked: map[int]bool{}} }

func (p *PIC) Name() string { return "i8259" }

// Rating of 50 loses to XAPIC whenever one is present.
func (p *PIC) Rating() int { return 50 }

func (p *PIC) InitBSP() error { return nil }
func (p *PIC) InitAP() error  { return nil }

func (p *PIC) Install(irqNum int, isr *ISR, cpu *sched.CPU) error {
	if irqNum != 7 && irqNum != 15 {
		return fmt.Errorf("i8259: only the spurious IRQ lines 7 and 15 are supported")
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	p.masked[irqNum] = true
	return nil
}

func (p *PIC) Uninstall(irqNum int) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	delete(p.masked, irqNum)
	return nil
}

func (p *PIC) SendIPI(cpu *sched.CPU, isr *ISR, flags int) error {
	return fmt.Errorf("i8259: does not support IPI delivery")
}

func (p *PIC) Enable(irqNum int) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.masked[irqNum] = false
	return nil
}

func (p *PIC) Disable(irqNum int) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.masked[irqNum] = true
	return nil
}

func (p *PIC) EOI(irqNum int) error { return nil }

func (p *PIC) WaitPending(irqNum int) error { return nil }

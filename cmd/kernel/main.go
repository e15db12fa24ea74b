// Command kernel is the boot-CPU entry point: it takes the loader
// handoff in internal/boot.Info and brings the execution substrate up
// in the order spec.md §2 describes: buddy, HHDM-virtual mappings,
// VMA/page-table, slab, heap, interrupts, time, scheduler, then the
// application processors. Grounded on the teacher's own kernel.go
// initialization sequence and original_source's kernel/init/main.c
// equivalent boot order.
package main

import (
	"reflect"

	"nebula/internal/acpiboundary"
	"nebula/internal/boot"
	"nebula/internal/cmdline"
	"nebula/internal/initrdboundary"
	"nebula/internal/irq"
	"nebula/internal/kernelerr"
	"nebula/internal/mm/buddy"
	"nebula/internal/mm/heap"
	"nebula/internal/mm/vmm"
	"nebula/internal/printk"
	"nebula/internal/sched"
	"nebula/internal/sched/policy"
	"nebula/internal/softirq"
	"nebula/internal/timekeeper"
	"nebula/internal/trace"
	"nebula/internal/workqueue"
)

// Kernel holds every subsystem singleton brought up by Boot, the way
// the teacher's own top-level state struct threads subsystems through
// rather than relying on hidden package globals wherever a package
// permits both.
type Kernel struct {
	Info     *boot.Info
	Log      *printk.Ring
	Pages    *buddy.Allocator
	TLB      *vmm.Shootdown
	KernelMM *vmm.Mm
	Heap     *heap.Heap
	Ctl      irq.Controller
	Syms     *trace.SymbolTable
	Initrd   []initrdboundary.Entry
}

// Boot brings the execution substrate up to the point where the BSP's
// runqueue is schedulable and application processors can be released,
// per spec.md §2's control-flow paragraph.
func Boot(info *boot.Info, tables *acpiboundary.Tables) (*Kernel, kernelerr.Errno) {
	log := printk.New(printk.Info)

	cmd := cmdline.Parse(info.CommandLine)
	if lvl, ok := cmd.LogLevel(); ok {
		log.SetLevel(printk.Level(lvl))
	}

	k := &Kernel{Info: info, Log: log}

	log.Printf(printk.Info, "boot: %d cpu(s), hhdm offset %#x", len(info.CPUs), info.HHDMOffset)

	k.Pages = buddy.New(&info.MemoryMap)
	inUse, total := k.Pages.FreeMemory()
	log.Printf(printk.Info, "buddy: %d/%d bytes in use", inUse, total)

	k.TLB = vmm.NewShootdown(func(address uintptr, size uint64) {
		// Real invlpg/CR3 reload lives in internal/asm; nothing to flush
		// in this tree's software-only mapping model.
	})

	k.KernelMM = vmm.NewMm(k.Pages, k.TLB, kernelMmapStart, kernelMmapEnd)

	k.Heap = heap.New()

	if syms, err := trace.Init(info.Kernel); err == kernelerr.OK {
		k.Syms = syms
	} else {
		log.Printf(printk.Warn, "trace: no kernel symbol table in handoff: %v", err)
	}

	if tables != nil {
		timekeeper.ConfigureFromACPI(tables.HPET)
	}

	irq.RegisterController(irq.NewXAPIC())
	irq.RegisterController(irq.NewPIC())
	k.Ctl = irq.InitBSP()
	if k.Ctl == nil {
		return nil, kernelerr.ENODEV
	}
	log.Printf(printk.Info, "irq: using %s controller", k.Ctl.Name())

	if err := timekeeper.Init(); err != kernelerr.OK {
		return nil, err
	}
	log.SetClock(sched.NowNanos)
	printk.Global.SetClock(sched.NowNanos)

	sched.Init(len(info.CPUs), policy.New())
	bsp := sched.CPUAt(0)
	if bsp == nil {
		return nil, kernelerr.ENODEV
	}

	if err := timekeeper.InstallTimer(k.Ctl, bsp); err != kernelerr.OK {
		return nil, err
	}
	if err := softirq.CPUInit(bsp); err != kernelerr.OK {
		return nil, err
	}
	if err := workqueue.CPUInit(bsp); err != kernelerr.OK {
		return nil, err
	}
	sched.CreateKthread(bsp, "reaper", sched.ReaperLoop(bsp, nil), nil)
	sched.DetachKthread("reaper")

	if raw, ok := info.Initrd(); ok {
		entries, err := initrdboundary.Decode(raw)
		if err != kernelerr.OK {
			log.Printf(printk.Warn, "initrd: decode failed: %v", err)
		} else {
			log.Printf(printk.Info, "initrd: %d entries", len(entries))
			k.Initrd = entries
		}
	}

	for _, cpu := range info.CPUs[1:] {
		StartAP(k, cpu)
	}

	log.Printf(printk.Info, "boot: complete")
	return k, kernelerr.OK
}

// StartAP releases one application processor by publishing its entry
// address, mirroring the limine smp_request goto_address protocol
// (spec.md §6 AP start protocol). The AP's own bring-up (its runqueue,
// local controller init, softirq/workqueue daemons) is driven by the
// entry point it jumps to, not by this function.
func StartAP(k *Kernel, cpu boot.CPUDescriptor) {
	if cpu.GotoAddress == nil {
		return
	}
	*cpu.GotoAddress = apEntry
}

// apEntry is the address application processors spin-wait for (the
// entry of APInit); the loader's trampoline is responsible for turning
// this into an actual jump once the BSP publishes it.
var apEntry = reflect.ValueOf(APInit).Pointer()

// APInit runs on an application processor once it reaches Go code: it
// mirrors Boot's interrupt/time/scheduler bring-up for a CPU that isn't
// the BSP, matching irq.InitAP/sched_cpu_init being called per-AP in the
// original rather than just once.
func APInit(k *Kernel, cpuID int) kernelerr.Errno {
	if err := irq.InitAP(); err != nil {
		return kernelerr.ENODEV
	}
	cpu := sched.CPUAt(cpuID)
	if cpu == nil {
		return kernelerr.ENODEV
	}
	if err := timekeeper.InstallTimer(k.Ctl, cpu); err != kernelerr.OK {
		return err
	}
	if err := softirq.CPUInit(cpu); err != kernelerr.OK {
		return err
	}
	if err := workqueue.CPUInit(cpu); err != kernelerr.OK {
		return err
	}
	sched.CreateKthread(cpu, "reaper", sched.ReaperLoop(cpu, nil), nil)
	sched.DetachKthread("reaper")
	return kernelerr.OK
}

const (
	kernelMmapStart = 0xffff800000000000
	kernelMmapEnd   = 0xffffc00000000000
)

func main() {
	// Real entry requires a loader handoff (internal/boot.Info) that
	// only the bootloader trampoline can supply; this binary is a
	// library entry point exercised by cmd/kernel's tests and by the
	// trampoline's call into Boot, not a freestanding "go run" target.
}

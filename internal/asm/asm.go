// Package asm bridges to hand-written x86-64 assembly primitives the same
// way the teacher's kernel.go links MMIO helpers: each Go declaration below
// has no body and is bound at link time to the symbol named in its
// go:linkname directive. This repository contains no assembly file that
// defines those symbols, so a binary or test that reaches one of these
// declarations does not link on its own. This follows the go:linkname + go:nosplit
// convention used throughout the teacher project for anything that must
// not grow the Go stack (these run with interrupts disabled, on the
// interrupt stack, or before the heap exists).
package asm

import "unsafe"

// Port I/O.

//go:linkname Inb inb
//go:nosplit
func Inb(port uint16) uint8

//go:linkname Outb outb
//go:nosplit
func Outb(port uint16, value uint8)

//go:linkname Inl inl
//go:nosplit
func Inl(port uint16) uint32

//go:linkname Outl outl
//go:nosplit
func Outl(port uint16, value uint32)

// Model-specific registers.

//go:linkname Rdmsr rdmsr
//go:nosplit
func Rdmsr(msr uint32) uint64

//go:linkname Wrmsr wrmsr
//go:nosplit
func Wrmsr(msr uint32, value uint64)

// Control registers / paging.

//go:linkname ReadCR2 read_cr2
//go:nosplit
func ReadCR2() uintptr

//go:linkname ReadCR3 read_cr3
//go:nosplit
func ReadCR3() uintptr

//go:linkname WriteCR3 write_cr3
//go:nosplit
func WriteCR3(root uintptr)

//go:linkname Invlpg invlpg
//go:nosplit
func Invlpg(virtual uintptr)

// Interrupt control.

//go:linkname Cli cli
//go:nosplit
func Cli()

//go:linkname Sti sti
//go:nosplit
func Sti()

//go:linkname ReadRFlags read_rflags
//go:nosplit
func ReadRFlags() uint64

//go:linkname WriteRFlags write_rflags
//go:nosplit
func WriteRFlags(flags uint64)

// Pause hint for spin loops.

//go:linkname PauseHint pause_hint
//go:nosplit
func PauseHint()

// Time stamp counter.

//go:linkname Rdtsc rdtsc
//go:nosplit
func Rdtsc() uint64

// Rdtscp also returns the CPU/core id encoded in MSR_TSC_AUX, used to
// detect a migration between the two TSC reads of a stall loop.
//
//go:linkname Rdtscp rdtscp
//go:nosplit
func Rdtscp() (tsc uint64, auxCPU uint32)

// Halt puts the CPU to sleep until the next interrupt.
//
//go:linkname Halt halt
//go:nosplit
func Halt()

// SwitchContext performs the voluntary context switch: saves the
// callee-saved registers and stack pointer of prev into its context slot,
// switches to next's stack, and resumes next. Implemented in assembly;
// never returns "early" — it returns into the caller only once some other
// thread switches back to prev.
//
//go:linkname SwitchContext switch_context
//go:nosplit
func SwitchContext(prevCtx, nextCtx unsafe.Pointer)

// IretToFrame finishes an interrupt-driven context switch by loading the
// interrupt frame for next in place of the one currently on the interrupt
// stack, then executing iret.
//
//go:linkname IretToFrame iret_to_frame
//go:nosplit
func IretToFrame(frame unsafe.Pointer)

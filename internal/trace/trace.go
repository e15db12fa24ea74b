// Package trace implements the panic/stack-trace path used on any fatal
// exception path: a register dump and a stack walk that resolves return
// addresses against the kernel ELF's symbol table from the boot handoff.
// Grounded on original_source/kernel/core/trace.c and
// kernel/core/tracers/{registers,stack}.c.
package trace

import (
	"runtime"

	"nebula/internal/boot"
	"nebula/internal/kernelerr"
	"nebula/internal/printk"
)

// Registers mirrors struct context's general-purpose register snapshot
// plus the control/model-specific registers dump_registers also reads.
type Registers struct {
	CR0, CR2, CR3, CR4 uint64
	RAX, RBX, RCX, RDX uint64
	RSI, RDI, RBP, RSP uint64
	R8, R9, R10, R11   uint64
	R12, R13, R14, R15 uint64
	RIP, RFlags        uint64
	EFER, GSBase       uint64
}

// DumpRegisters prints r to the kernel log at Crit level, matching
// dump_registers's line layout.
func DumpRegisters(log *printk.Ring, r *Registers) {
	log.Printf(printk.Crit, "Register dump:")
	log.Printf(printk.Crit, " CR0: %x, CR2: %x, CR3: %x, CR4: %x", r.CR0, r.CR2, r.CR3, r.CR4)
	log.Printf(printk.Crit, " RAX: %x RBX: %x RCX: %x, RDX: %x", r.RAX, r.RBX, r.RCX, r.RDX)
	log.Printf(printk.Crit, " RSI: %x, RDI: %x, RBP: %x, RSP: %x", r.RSI, r.RDI, r.RBP, r.RSP)
	log.Printf(printk.Crit, " R8: %x, R9: %x, R10: %x, R11: %x", r.R8, r.R9, r.R10, r.R11)
	log.Printf(printk.Crit, " R12: %x, R13: %x, R14: %x, R15: %x", r.R12, r.R13, r.R14, r.R15)
	log.Printf(printk.Crit, " RIP: %x, RFLAGS: %x", r.RIP, r.RFlags)
	log.Printf(printk.Crit, " EFER: %x, GSBASE: %x", r.EFER, r.GSBase)
}

// SymbolTable resolves a return address against the kernel ELF's symbol
// table handed off at boot, matching trace_kernel_symbol_name/offset.
type SymbolTable struct {
	base    uintptr
	size    uint64
	symbols []boot.ELFSymbol
}

// Init builds a SymbolTable from the boot-supplied kernel image,
// matching tracing_init/stack_tracer_init's ELF section-header walk to
// find SHT_SYMTAB (here already done by the loader; this just checks
// the result is usable).
func Init(img boot.KernelImage) (*SymbolTable, kernelerr.Errno) {
	if len(img.Symbols) == 0 {
		return nil, kernelerr.ENOENT
	}
	return &SymbolTable{base: img.Base, size: img.Size, symbols: img.Symbols}, kernelerr.OK
}

// Resolve finds the symbol containing addr, matching
// trace_kernel_symbol_name paired with trace_kernel_symbol_offset.
func (t *SymbolTable) Resolve(addr uintptr) (name string, offset uint64, ok bool) {
	if t == nil || addr < t.base || addr >= t.base+uintptr(t.size) {
		return "", 0, false
	}
	for _, sym := range t.symbols {
		if addr >= sym.Value && addr < sym.Value+uintptr(sym.Size) {
			return sym.Name, uint64(addr - sym.Value), true
		}
	}
	return "", 0, false
}

// Frame is one resolved or unresolved stack entry.
type Frame struct {
	Addr   uintptr
	Name   string
	Offset uint64
	Known  bool
}

// maxFrames caps a single dump, matching dump_stack's hardcoded "20".
const maxFrames = 20

// CaptureStack collects up to maxFrames return addresses from the
// calling goroutine. Go exposes no raw frame-pointer chain the way
// __builtin_frame_address does, so runtime.Callers stands in for it
// here, the same substitution the teacher's traceback.go makes by using
// runtime.FuncForPC in place of a hand-rolled symbol table lookup.
func CaptureStack(skip int) []uintptr {
	pcs := make([]uintptr, maxFrames)
	n := runtime.Callers(skip+2, pcs)
	return pcs[:n]
}

// DumpStack resolves each address in pcs against t and logs it,
// matching dump_stack's per-frame "[addr] name+offset" / "[addr] ?"
// output.
func DumpStack(log *printk.Ring, t *SymbolTable, pcs []uintptr) {
	log.Printf(printk.Crit, "Stack trace:")
	for _, pc := range pcs {
		name, offset, ok := t.Resolve(pc)
		if ok {
			log.Printf(printk.Crit, " [%x] %s+%x", pc, name, offset)
		} else {
			log.Printf(printk.Crit, " [%x] ?", pc)
		}
	}
	log.Printf(printk.Crit, "End stack trace")
}

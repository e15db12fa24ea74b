// Package boot describes the boot loader handoff (spec.md §6): a memory
// map, the HHDM offset, a paging-mode indicator, per-CPU descriptors, the
// kernel ELF image with its symbol table, the command line, the RSDP
// physical address and any loader-supplied modules. It is a consumed
// interface, not part of the core, grounded on the Limine protocol
// structures the original C kernel requests (include/lunar/core/limine.h)
// and on the handoff plumbing in the teacher's kernel.go/dtb_qemu.go.
package boot

// MemoryType classifies one memory map entry (spec.md §6).
type MemoryType uint32

const (
	MemUsable MemoryType = iota
	MemReserved
	MemACPIReclaimable
	MemACPINVS
	MemBadMemory
	MemBootloaderReclaimable
	MemExecutableAndModules
	MemFramebuffer
)

func (t MemoryType) String() string {
	switch t {
	case MemUsable:
		return "usable"
	case MemReserved:
		return "reserved"
	case MemACPIReclaimable:
		return "acpi-reclaimable"
	case MemACPINVS:
		return "acpi-nvs"
	case MemBadMemory:
		return "bad"
	case MemBootloaderReclaimable:
		return "bootloader-reclaimable"
	case MemExecutableAndModules:
		return "executable-and-modules"
	case MemFramebuffer:
		return "framebuffer"
	default:
		return "unknown"
	}
}

// MemoryMapEntry is one ordered entry of the boot memory map.
type MemoryMapEntry struct {
	Base   uintptr
	Length uint64
	Type   MemoryType
}

// End returns the entry's exclusive end address.
func (e MemoryMapEntry) End() uintptr { return e.Base + uintptr(e.Length) }

// MemoryMap is the ordered, non-overlapping memory map handed off by the
// loader.
type MemoryMap struct {
	Entries []MemoryMapEntry
}

// Usable reports whether [base, base+size) lies entirely within a single
// usable entry of the map.
func (m *MemoryMap) Usable(base uintptr, size uint64) bool {
	if size == 0 {
		return false
	}
	top := base + uintptr(size)
	if top < base {
		return false
	}
	for _, e := range m.Entries {
		if e.Type != MemUsable {
			continue
		}
		if base >= e.Base && top <= e.End() {
			return true
		}
	}
	return false
}

// LastUsableAddress returns the last byte address of the highest usable
// entry, or 0 if there are none.
func (m *MemoryMap) LastUsableAddress() uintptr {
	var last uintptr
	for _, e := range m.Entries {
		if e.Type == MemUsable && e.End() > 0 {
			last = e.End() - 1
		}
	}
	return last
}

// TotalUsable sums the length of every usable entry.
func (m *MemoryMap) TotalUsable() uint64 {
	var total uint64
	for _, e := range m.Entries {
		if e.Type == MemUsable {
			total += e.Length
		}
	}
	return total
}

// PagingMode enumerates the paging mode the loader activated.
type PagingMode int

const (
	Paging4Level PagingMode = 4
	Paging5Level PagingMode = 5
)

// CPUDescriptor is one entry of the CPU descriptor list handed off by the
// loader: an APIC id, a logical processor id, and the slot the BSP writes
// the AP entry-point address into (spec.md §6 AP start protocol).
type CPUDescriptor struct {
	LAPICID       uint32
	ProcessorID   uint32
	GotoAddress   *uintptr // AP spins reading this until it is non-zero
}

// ELFSymbol is one entry of the kernel image's symbol table, used by the
// stack tracer (internal/trace) to resolve a return address to a function
// name.
type ELFSymbol struct {
	Name  string
	Value uintptr
	Size  uint64
}

// KernelImage describes the loaded kernel ELF: its load base/size and its
// symbol table (names resolved against the accompanying string table by
// the loader before handoff).
type KernelImage struct {
	Base    uintptr
	Size    uint64
	Symbols []ELFSymbol
}

// Module is a loader-supplied module file, e.g. an initrd.
type Module struct {
	Name string
	Data []byte
}

// Info is the complete boot handoff the core consumes.
type Info struct {
	MemoryMap   MemoryMap
	HHDMOffset  uintptr
	Paging      PagingMode
	CPUs        []CPUDescriptor
	Kernel      KernelImage
	CommandLine string
	RSDP        uintptr
	Modules     []Module
}

// PhysToVirt applies the higher-half direct map: any physical address X is
// readable/writable at HHDM + X.
func (i *Info) PhysToVirt(phys uintptr) uintptr { return i.HHDMOffset + phys }

// VirtToPhys reverses PhysToVirt for an address known to lie in the HHDM
// window.
func (i *Info) VirtToPhys(virt uintptr) uintptr { return virt - i.HHDMOffset }

// Initrd returns the data of the module named "initrd", if present.
func (i *Info) Initrd() ([]byte, bool) {
	for _, m := range i.Modules {
		if m.Name == "initrd" {
			return m.Data, true
		}
	}
	return nil, false
}

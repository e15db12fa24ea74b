// Package acpiboundary is a thin external-collaborator boundary: the
// decoded contents of the ACPI tables the core consults to pick an
// interrupt controller and a clock source (MADT, MCFG, HPET). Real ACPI
// table discovery and checksum validation (uacpi_table_find_by_signature
// in the original) happens outside this repository; this package only
// shapes the result the boundary hands the core, the same role
// internal/boot plays for the Limine handoff. Grounded on
// original_source/drivers/acpi/madt.c, drivers/pci/mcfg.c, and the
// struct layout of gopheros' device/acpi/table package (other_examples)
// for the Go-idiomatic field naming.
package acpiboundary

// LocalAPIC is one MADT processor-local-APIC entry.
type LocalAPIC struct {
	ProcessorID uint8
	APICID      uint8
	Enabled     bool
}

// IOAPIC is one MADT I/O APIC entry.
type IOAPIC struct {
	APICID  uint8
	Address uint32

	// GSIBase is the first global system interrupt this controller owns.
	GSIBase uint32
}

// InterruptSourceOverride remaps a legacy ISA IRQ to a global system
// interrupt with possibly different polarity/trigger mode.
type InterruptSourceOverride struct {
	BusSource             uint8
	IRQSource             uint8
	GlobalSystemInterrupt uint32
	ActiveLow             bool
	LevelTriggered        bool
}

// MADT is the decoded Multiple APIC Description Table.
type MADT struct {
	LocalAPICs []LocalAPIC
	IOAPICs    []IOAPIC
	Overrides  []InterruptSourceOverride
}

// HasIOAPIC reports whether any I/O APIC was described, the minimum
// needed to prefer internal/irq's XAPIC controller over the legacy PIC.
func (m *MADT) HasIOAPIC() bool { return m != nil && len(m.IOAPICs) > 0 }

// MCFGAllocation is one PCI Express Enhanced Configuration Access
// Mechanism segment, matching struct acpi_mcfg_allocation.
type MCFGAllocation struct {
	Base     uint64
	Segment  uint16
	StartBus uint8
	EndBus   uint8
}

// BusCount returns the number of buses this allocation covers.
func (a MCFGAllocation) BusCount() int { return int(a.EndBus) - int(a.StartBus) + 1 }

// MCFG is the decoded PCI Memory-Mapped Configuration Space table.
type MCFG struct {
	Allocations []MCFGAllocation
}

// HPET is the decoded High Precision Event Timer description table.
// Grounded on hpet.c's use of hpet->address/block_id.
type HPET struct {
	Address uint64
	BlockID uint32

	// MinimumTick is the minimum usable periodic-mode tick count,
	// carried through even though this boundary's consumer
	// (internal/timekeeper) only needs the counter-width bit below.
	MinimumTick uint16
}

// hpetCountSizeCap mirrors ACPI_HPET_COUNT_SIZE_CAP: set when the main
// counter is 64 bits wide.
const hpetCountSizeCap = 1 << 13

// Is32Bit reports whether the HPET's main counter is only 32 bits wide,
// matching hpet.c's !(hpet->block_id & ACPI_HPET_COUNT_SIZE_CAP) check
// that forces TIMEKEEPER_FLAG_EARLY_ONLY.
func (h *HPET) Is32Bit() bool { return h != nil && h.BlockID&hpetCountSizeCap == 0 }

// Tables aggregates whichever of the three tables firmware provided;
// any field may be nil if that table was absent, matching
// uacpi_table_find_by_signature returning -ENODEV for a missing table.
type Tables struct {
	MADT *MADT
	MCFG *MCFG
	HPET *HPET
}

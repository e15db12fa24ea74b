package trace

import (
	"testing"

	"nebula/internal/boot"
	"nebula/internal/kernelerr"
	"nebula/internal/printk"
)

func TestInitRejectsEmptySymbolTable(t *testing.T) {
	if _, err := Init(boot.KernelImage{}); err != kernelerr.ENOENT {
		t.Fatalf("Init(empty image) = %v, want ENOENT", err)
	}
}

func TestResolveFindsContainingSymbol(t *testing.T) {
	img := boot.KernelImage{
		Base: 0x1000,
		Size: 0x1000,
		Symbols: []boot.ELFSymbol{
			{Name: "sched_switch", Value: 0x1100, Size: 0x40},
			{Name: "do_pending_softirqs", Value: 0x1200, Size: 0x20},
		},
	}
	st, err := Init(img)
	if err != kernelerr.OK {
		t.Fatalf("Init: %v", err)
	}

	name, offset, ok := st.Resolve(0x1110)
	if !ok || name != "sched_switch" || offset != 0x10 {
		t.Fatalf("Resolve(0x1110) = (%q, %#x, %v), want (sched_switch, 0x10, true)", name, offset, ok)
	}
}

func TestResolveMissesOutsideKernelImage(t *testing.T) {
	img := boot.KernelImage{Base: 0x1000, Size: 0x1000, Symbols: []boot.ELFSymbol{{Name: "x", Value: 0x1100, Size: 0x10}}}
	st, _ := Init(img)
	if _, _, ok := st.Resolve(0x5000); ok {
		t.Fatal("Resolve should miss an address outside the kernel image")
	}
}

func TestDumpStackHandlesUnresolvedFrames(t *testing.T) {
	img := boot.KernelImage{Base: 0x1000, Size: 0x1000}
	st := &SymbolTable{base: img.Base, size: img.Size}
	log := printk.New(printk.Debug)
	DumpStack(log, st, []uintptr{0x1234})
}

func TestCaptureStackReturnsAtLeastOneFrame(t *testing.T) {
	pcs := CaptureStack(0)
	if len(pcs) == 0 {
		t.Fatal("CaptureStack should return at least one return address")
	}
}

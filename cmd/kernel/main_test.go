package main

import (
	"testing"

	"nebula/internal/boot"
	"nebula/internal/kernelerr"
)

func fakeInfo(ncpus int) *boot.Info {
	gotos := make([]uintptr, ncpus)
	cpus := make([]boot.CPUDescriptor, ncpus)
	for i := range cpus {
		cpus[i] = boot.CPUDescriptor{
			LAPICID:     uint32(i),
			ProcessorID: uint32(i),
			GotoAddress: &gotos[i],
		}
	}
	return &boot.Info{
		MemoryMap: boot.MemoryMap{Entries: []boot.MemoryMapEntry{
			{Base: 0, Length: 64 << 20, Type: boot.MemUsable},
		}},
		HHDMOffset:  0xffff800000000000,
		Paging:      boot.Paging4Level,
		CPUs:        cpus,
		CommandLine: "loglevel=5",
		Kernel: boot.KernelImage{
			Base: 0x100000,
			Size: 0x10000,
			Symbols: []boot.ELFSymbol{
				{Name: "_start", Value: 0x100000, Size: 0x10000},
			},
		},
	}
}

func TestBootBringsUpSingleCPU(t *testing.T) {
	k, err := Boot(fakeInfo(1), nil)
	if err != kernelerr.OK {
		t.Fatalf("Boot: %v", err)
	}
	if k.Ctl == nil {
		t.Fatal("Boot should select an interrupt controller")
	}
	if k.KernelMM == nil {
		t.Fatal("Boot should build the kernel address space")
	}
	if k.Syms == nil {
		t.Fatal("Boot should resolve the kernel symbol table from the handoff")
	}
}

func TestBootReleasesApplicationProcessors(t *testing.T) {
	info := fakeInfo(2)
	k, err := Boot(info, nil)
	if err != kernelerr.OK {
		t.Fatalf("Boot: %v", err)
	}
	if k == nil {
		t.Fatal("Boot returned nil kernel")
	}
	if *info.CPUs[1].GotoAddress == 0 {
		t.Fatal("Boot should publish the AP entry address for CPU 1")
	}
}

func TestBootDecodesInitrdModule(t *testing.T) {
	info := fakeInfo(1)
	hdr := make([]byte, 512)
	copy(hdr[0:], "hello.txt")
	copy(hdr[124:136], "00000000000\x00") // zero-length file, octal size field
	copy(hdr[257:263], "ustar\x00")
	info.Modules = []boot.Module{{Name: "initrd", Data: hdr}}

	k, err := Boot(info, nil)
	if err != kernelerr.OK {
		t.Fatalf("Boot: %v", err)
	}
	if len(k.Initrd) != 1 {
		t.Fatalf("len(k.Initrd) = %d, want 1", len(k.Initrd))
	}
	if k.Initrd[0].Name != "hello.txt" {
		t.Fatalf("k.Initrd[0].Name = %q, want hello.txt", k.Initrd[0].Name)
	}
}

package fdt

import (
	"fmt"
)

// Device is a memory mapped device routed through the PLIC.
type Device struct {
	Name       string
	Compatible string
	Base       uint64
	Size       uint64
	IRQ        uint32
}

// Board describes the single hart machine the tree is generated for.
type Board struct {
	XLEN int
	// Misa holds the extension bits; bit i selects letter 'a'+i.
	Misa uint64

	TimebaseHz uint32
	ClockHz    uint32

	MemoryBase uint64
	MemorySize uint64

	ClintBase uint64
	ClintSize uint64
	PlicBase  uint64
	PlicSize  uint64
	PlicNDev  uint32

	Devices []Device

	Cmdline     string
	KernelStart uint64
	KernelSize  uint64
}

// ISAString renders misa as a riscv,isa value, e.g. "rv64acdfimsu".
func (b Board) ISAString() string {
	isa := fmt.Sprintf("rv%d", b.XLEN)
	for i := 0; i < 26; i++ {
		if b.Misa&(1<<i) != 0 {
			isa += string(rune('a' + i))
		}
	}
	return isa
}

// MMUType returns the widest paging mode the hart supports.
func (b Board) MMUType() string {
	if b.XLEN <= 32 {
		return "riscv,sv32"
	}
	return "riscv,sv48"
}

// RISCVBoard generates the device tree handed to firmware in a1.
func RISCVBoard(b Board) ([]byte, error) {
	const (
		intcPhandle = 1
		plicPhandle = 2
	)
	t := NewBuilder()

	t.BeginNode("")
	t.U32("#address-cells", 2)
	t.U32("#size-cells", 2)
	t.String("compatible", "ucbbar,riscvemu-bar_dev")
	t.String("model", "ucbbar,riscvemu-bare")

	t.BeginNode("cpus")
	t.U32("#address-cells", 1)
	t.U32("#size-cells", 0)
	t.U32("timebase-frequency", b.TimebaseHz)

	t.BeginNodeAt("cpu", 0)
	t.String("device_type", "cpu")
	t.U32("reg", 0)
	t.String("status", "okay")
	t.String("compatible", "riscv")
	t.String("riscv,isa", b.ISAString())
	t.String("mmu-type", b.MMUType())
	t.U32("clock-frequency", b.ClockHz)

	t.BeginNode("interrupt-controller")
	t.U32("#interrupt-cells", 1)
	t.Empty("interrupt-controller")
	t.String("compatible", "riscv,cpu-intc")
	t.U32("phandle", intcPhandle)
	t.EndNode() // interrupt-controller

	t.EndNode() // cpu@0
	t.EndNode() // cpus

	t.BeginNodeAt("memory", b.MemoryBase)
	t.String("device_type", "memory")
	t.Reg(b.MemoryBase, b.MemorySize)
	t.EndNode()

	t.BeginNode("htif")
	t.String("compatible", "ucb,htif0")
	t.EndNode()

	t.BeginNode("soc")
	t.U32("#address-cells", 2)
	t.U32("#size-cells", 2)
	t.Strings("compatible", "ucbbar,riscvemu-bar-soc", "simple-bus")
	t.Empty("ranges")

	t.BeginNodeAt("clint", b.ClintBase)
	t.String("compatible", "riscv,clint0")
	// machine software and machine timer
	t.Cells("interrupts-extended", intcPhandle, 3, intcPhandle, 7)
	t.Reg(b.ClintBase, b.ClintSize)
	t.EndNode()

	t.BeginNodeAt("plic", b.PlicBase)
	t.U32("#interrupt-cells", 1)
	t.Empty("interrupt-controller")
	t.String("compatible", "riscv,plic0")
	t.U32("riscv,ndev", b.PlicNDev)
	t.Reg(b.PlicBase, b.PlicSize)
	// supervisor and machine external
	t.Cells("interrupts-extended", intcPhandle, 9, intcPhandle, 11)
	t.U32("phandle", plicPhandle)
	t.EndNode()

	for _, d := range b.Devices {
		t.BeginNodeAt(d.Name, d.Base)
		t.String("compatible", d.Compatible)
		t.Reg(d.Base, d.Size)
		t.Cells("interrupts-extended", plicPhandle, d.IRQ)
		t.EndNode()
	}

	t.EndNode() // soc

	t.BeginNode("chosen")
	t.String("bootargs", b.Cmdline)
	if b.KernelSize > 0 {
		t.U64("riscv,kernel-start", b.KernelStart)
		t.U64("riscv,kernel-end", b.KernelStart+b.KernelSize)
	}
	t.EndNode()

	t.EndNode() // root
	return t.Finish()
}

package machine

import (
	"github.com/Blameying/space-emu/internal/devices/clint"
	"github.com/Blameying/space-emu/internal/devices/htif"
	"github.com/Blameying/space-emu/internal/devices/plic"
	"github.com/Blameying/space-emu/internal/devices/virtio"
	"github.com/Blameying/space-emu/internal/riscv"
)

// Physical memory map.
const (
	LowRAMBase uint64 = 0x0000_0000
	LowRAMSize uint64 = 0x1_0000

	ClintBase uint64 = 0x0200_0000
	ClintSize uint64 = clint.Size

	HTIFBase uint64 = 0x4000_8000
	HTIFSize uint64 = htif.Size

	VirtioBase   uint64 = 0x4001_0000
	VirtioStride uint64 = virtio.Size
	// VirtioIRQ is the PLIC source of the first virtio device; each further
	// device takes the next one.
	VirtioIRQ = 1

	PlicBase uint64 = 0x4010_0000
	PlicSize uint64 = plic.Size

	RAMBase uint64 = 0x8000_0000
)

// Boot layout inside low RAM.
const (
	TrampolineAddr = riscv.ResetVector
	FDTAddr        uint64 = TrampolineAddr + 8*8

	ClockHz = 2_000_000_000
)

// kernelAlign returns the alignment of the kernel image behind the firmware.
func kernelAlign(xlen int) uint64 {
	if xlen == 32 {
		return 4 << 20
	}
	return 2 << 20
}

package machine

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Blameying/space-emu/internal/config"
	"github.com/Blameying/space-emu/internal/console"
	"github.com/Blameying/space-emu/internal/devices/virtio"
	"github.com/Blameying/space-emu/internal/fdt"
	"github.com/Blameying/space-emu/internal/riscv"
	"github.com/stretchr/testify/require"
)

// Firmware that powers off through HTIF.
var powerOff = []uint32{
	0x400082b7, // lui   t0, 0x40008
	0x00100313, // li    t1, 1
	0x0062a023, // sw    t1, 0(t0)
	0x0002a223, // sw    zero, 4(t0)
}

func writeImage(t *testing.T, words []uint32) string {
	t.Helper()
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[4*i:], w)
	}
	path := filepath.Join(t.TempDir(), "fw.bin")
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

type fakeTerm struct {
	out     bytes.Buffer
	in      []byte
	quit    bool
	resized bool
}

func (f *fakeTerm) Write(p []byte) (int, error) { return f.out.Write(p) }

func (f *fakeTerm) Take(max int) ([]byte, error) {
	if f.quit {
		return nil, console.ErrQuit
	}
	n := min(max, len(f.in))
	p := f.in[:n]
	f.in = f.in[n:]
	return p, nil
}

func (f *fakeTerm) Resized() bool {
	r := f.resized
	f.resized = false
	return r
}

func (f *fakeTerm) Size() (int, int) { return 100, 30 }

func counter() func() uint64 {
	var now uint64
	return func() uint64 {
		now += 100
		return now
	}
}

func testConfig(t *testing.T, firmware []uint32) config.Config {
	cfg := config.Default()
	cfg.MemoryMB = 4
	cfg.BIOS = writeImage(t, firmware)
	return cfg
}

func newMachine(t *testing.T, cfg config.Config, opts ...Option) (*Machine, *fakeTerm) {
	t.Helper()
	term := &fakeTerm{}
	opts = append([]Option{WithTerminal(term), WithClock(counter())}, opts...)
	m, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m, term
}

func TestTrampolineHandsOverDeviceTree(t *testing.T) {
	m, _ := newMachine(t, testConfig(t, powerOff))
	require.Equal(t, riscv.ResetVector, m.CPU.PC)

	for i := 0; i < 5; i++ {
		m.CPU.Step()
	}
	require.Equal(t, RAMBase, m.CPU.PC)
	require.Equal(t, FDTAddr, m.CPU.X[11])
	require.Zero(t, m.CPU.X[10])

	blob := make([]byte, len(m.DeviceTree()))
	require.Equal(t, len(blob), m.Mem.ReadPhys(FDTAddr, blob))
	root, err := fdt.Parse(blob)
	require.NoError(t, err)

	vc := root.Lookup("/soc/virtio@40010000")
	require.NotNil(t, vc)
	irq, _ := vc.Property("interrupts-extended")
	require.Equal(t, []uint32{2, 1}, irq.Cells())

	mem := root.Lookup("/memory@80000000")
	reg, _ := mem.Property("reg")
	require.Equal(t, []uint32{0, 0x8000_0000, 0, 4 << 20}, reg.Cells())
}

func TestTrampolineEncoding(t *testing.T) {
	code := Trampoline(0x8000_0000, 0x1040)
	require.Len(t, code, 20)
	require.Equal(t, uint32(0x7ffff297), binary.LittleEndian.Uint32(code[0:]))
	require.Equal(t, uint32(0x03c58593), binary.LittleEndian.Uint32(code[8:]))
	require.Equal(t, uint32(0x00028067), binary.LittleEndian.Uint32(code[16:]))
}

func TestRunUntilPowerOff(t *testing.T) {
	m, _ := newMachine(t, testConfig(t, powerOff))
	err := m.Run(context.Background())
	require.ErrorIs(t, err, ErrPowerOff)
	require.True(t, m.PoweredOff())
}

func TestHTIFConsoleOutput(t *testing.T) {
	fw := append([]uint32{
		0x400082b7, // lui   t0, 0x40008
		0x04100313, // li    t1, 'A'
		0x0062a023, // sw    t1, 0(t0)
		0x010103b7, // lui   t2, 0x01010 (device 1, putchar)
		0x0072a223, // sw    t2, 4(t0)
	}, powerOff...)
	m, term := newMachine(t, testConfig(t, fw))
	require.ErrorIs(t, m.Run(context.Background()), ErrPowerOff)
	require.Equal(t, "A", term.out.String())
}

func TestTimerInterruptWakesWFI(t *testing.T) {
	fw := []uint32{
		0x400082b7, // 00 lui    t0, 0x40008
		0x02004e37, // 04 lui    t3, 0x2004 (mtimecmp)
		0x000e2023, // 08 sw     zero, 0(t3)
		0x000e2223, // 0c sw     zero, 4(t3)
		0x00000317, // 10 auipc  t1, 0
		0x02030313, // 14 addi   t1, t1, 32
		0x30531073, // 18 csrw   mtvec, t1
		0x08000393, // 1c li     t2, MTIE
		0x30439073, // 20 csrw   mie, t2
		0x30046073, // 24 csrsi  mstatus, MIE
		0x10500073, // 28 wfi
		0xffdff06f, // 2c j      28
		0x00100313, // 30 li     t1, 1
		0x0062a023, // 34 sw     t1, 0(t0)
		0x0002a223, // 38 sw     zero, 4(t0)
	}
	m, _ := newMachine(t, testConfig(t, fw))
	require.ErrorIs(t, m.Run(context.Background()), ErrPowerOff)
	require.Equal(t, riscv.CauseInterrupt|riscv.IrqMTimer, m.CPU.Mcause)
}

func TestRunStopsOnCancel(t *testing.T) {
	// wfi with nothing enabled parks forever
	m, _ := newMachine(t, testConfig(t, []uint32{0x10500073}))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, m.Run(ctx), context.DeadlineExceeded)
	require.True(t, m.CPU.Parked())
}

func TestRunStopsOnQuit(t *testing.T) {
	m, term := newMachine(t, testConfig(t, []uint32{0x10500073}))
	term.quit = true
	require.ErrorIs(t, m.Run(context.Background()), console.ErrQuit)
}

func TestKernelPlacement(t *testing.T) {
	cfg := testConfig(t, powerOff)
	cfg.Kernel = writeImage(t, []uint32{0xdeadbeef})
	m, _ := newMachine(t, cfg)

	require.Equal(t, RAMBase+2<<20, m.Board().KernelStart)
	buf := make([]byte, 4)
	m.Mem.ReadPhys(RAMBase+2<<20, buf)
	require.Equal(t, uint32(0xdeadbeef), binary.LittleEndian.Uint32(buf))

	root, err := fdt.Parse(m.DeviceTree())
	require.NoError(t, err)
	end, ok := root.Child("chosen").Property("riscv,kernel-end")
	require.True(t, ok)
	require.Equal(t, []uint32{0, 0x8020_0004}, end.Cells())
}

func TestBiosTooBig(t *testing.T) {
	cfg := testConfig(t, make([]uint32, (1<<20)/4+1))
	cfg.MemoryMB = 1
	_, err := New(cfg, WithClock(counter()))
	require.Error(t, err)
}

func TestMissingImage(t *testing.T) {
	cfg := config.Default()
	cfg.BIOS = filepath.Join(t.TempDir(), "nope.bin")
	_, err := New(cfg)
	require.ErrorContains(t, err, "load bios")
}

func TestBlockDeviceSlot(t *testing.T) {
	disk := virtio.NewDisk(bytes.NewReader(make([]byte, 4*virtio.SectorSize)), 4*virtio.SectorSize, virtio.ModeSnapshot)
	m, _ := newMachine(t, testConfig(t, powerOff), WithDisk(disk, false))

	var id [4]byte
	m.Mem.ReadPhys(VirtioBase+virtio.VIRTIO_MMIO_DEVICE_ID, id[:])
	require.Equal(t, uint32(virtio.BlockDeviceID), binary.LittleEndian.Uint32(id[:]))
	m.Mem.ReadPhys(VirtioBase+VirtioStride+virtio.VIRTIO_MMIO_DEVICE_ID, id[:])
	require.Equal(t, uint32(virtio.ConsoleDeviceID), binary.LittleEndian.Uint32(id[:]))

	root, err := fdt.Parse(m.DeviceTree())
	require.NoError(t, err)
	require.NotNil(t, root.Lookup("/soc/virtio@40011000"))
}

func TestRV32Boot(t *testing.T) {
	cfg := testConfig(t, powerOff)
	cfg.XLEN = 32
	m, _ := newMachine(t, cfg)
	require.Equal(t, 32, m.CPU.XLEN)
	require.ErrorIs(t, m.Run(context.Background()), ErrPowerOff)
}

// Package machine assembles the hart, the memory map and the devices into a
// bootable board and drives the execution loop.
package machine

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/Blameying/space-emu/internal/config"
	"github.com/Blameying/space-emu/internal/devices/clint"
	"github.com/Blameying/space-emu/internal/devices/htif"
	"github.com/Blameying/space-emu/internal/devices/plic"
	"github.com/Blameying/space-emu/internal/devices/ram"
	"github.com/Blameying/space-emu/internal/devices/virtio"
	"github.com/Blameying/space-emu/internal/fdt"
	"github.com/Blameying/space-emu/internal/riscv"
	"github.com/schollz/progressbar/v3"
)

// ErrPowerOff is returned by Run once the guest asked to power off.
var ErrPowerOff = errors.New("machine: powered off")

const (
	// stepsPerPoll is the number of instructions between device polls.
	stepsPerPoll = 4096
	// maxSleep bounds how long a parked hart sleeps between polls.
	maxSleep = 10 * time.Millisecond
)

// Terminal is the host side of the guest console.
type Terminal interface {
	io.Writer
	// Take returns up to max bytes of pending input without blocking.
	Take(max int) ([]byte, error)
	// Resized reports a pending terminal size change.
	Resized() bool
	Size() (cols, rows int)
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the logger used by the machine and its devices.
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.log = l }
}

// WithTerminal connects the guest console to a host terminal.
func WithTerminal(t Terminal) Option {
	return func(m *Machine) { m.term = t }
}

// WithClock replaces the host clock backing mtime.
func WithClock(c clint.Clock) Option {
	return func(m *Machine) { m.clock = c }
}

// WithDisk attaches disk as the virtio block device, taking precedence over
// the drive in the configuration.
func WithDisk(d virtio.Disk, readOnly bool) Option {
	return func(m *Machine) {
		m.disk = d
		m.diskRO = readOnly
	}
}

// Machine is a single hart board.
type Machine struct {
	cfg  config.Config
	log  *slog.Logger
	term Terminal

	clock  clint.Clock
	disk   virtio.Disk
	diskRO bool

	CPU *riscv.CPU
	Mem *riscv.Dispatcher

	lowRAM  *ram.RAM
	ram     *ram.RAM
	clint   *clint.CLINT
	plic    *plic.PLIC
	htif    *htif.HTIF
	console *virtio.Console
	devices []fdt.Device

	kernelBase uint64
	kernelSize uint64
	dtb        []byte

	resizePending bool
	poweredOff    bool
}

// New builds the board described by cfg, loads the firmware and kernel
// images and leaves the hart at the reset vector.
func New(cfg config.Config, opts ...Option) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	m := &Machine{
		cfg:   cfg,
		log:   slog.Default(),
		clock: clint.HostClock(),
	}
	for _, opt := range opts {
		opt(m)
	}

	bios, err := m.LoadImage("bios", cfg.BIOS)
	if err != nil {
		return nil, err
	}
	var kernel []byte
	if cfg.Kernel != "" {
		if kernel, err = m.LoadImage("kernel", cfg.Kernel); err != nil {
			return nil, err
		}
	}

	if err := m.build(); err != nil {
		m.Close()
		return nil, err
	}
	if err := m.boot(bios, kernel); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

func (m *Machine) build() error {
	misa, err := m.cfg.Misa()
	if err != nil {
		return err
	}
	m.Mem = riscv.NewDispatcher(m.log)
	m.CPU, err = riscv.NewCPU(m.Mem, m.cfg.XLEN, riscv.WithExtensions(misa), riscv.WithLogger(m.log))
	if err != nil {
		return err
	}
	m.CPU.Trace = m.cfg.Trace

	var out io.Writer = os.Stdout
	if m.term != nil {
		out = m.term
	}

	m.lowRAM = ram.New("low-ram", LowRAMBase, LowRAMSize)
	m.clint = clint.New(ClintBase, m.CPU, m.clock)
	m.CPU.Time = m.clint.Time
	m.htif = htif.New(HTIFBase, out, m.powerOff, m.log)
	m.plic = plic.New(PlicBase, m.CPU)
	m.ram = ram.New("ram", RAMBase, m.cfg.MemoryBytes())

	for _, r := range []riscv.Region{m.lowRAM, m.clint, m.htif, m.plic, m.ram} {
		if err := m.Mem.Register(r); err != nil {
			return err
		}
	}

	if m.disk == nil && m.cfg.Drive.Path != "" {
		mode, err := m.cfg.DriveMode()
		if err != nil {
			return err
		}
		d, err := virtio.OpenDisk(m.cfg.Drive.Path, mode)
		if err != nil {
			return err
		}
		m.disk, m.diskRO = d, mode == virtio.ModeRO
	}
	if m.disk != nil {
		if err := m.addVirtio("virtio-blk", virtio.NewBlock(m.disk, m.diskRO, m.log)); err != nil {
			m.disk.Close()
			return err
		}
	}
	m.console = virtio.NewConsole(out, m.log)
	return m.addVirtio("virtio-console", m.console)
}

// addVirtio maps h in the next free virtio slot.
func (m *Machine) addVirtio(name string, h virtio.Handler) error {
	n := len(m.devices)
	base := VirtioBase + uint64(n)*VirtioStride
	irq := VirtioIRQ + n
	dev := virtio.NewDevice(name, base, m.Mem, m.plic.Line(irq), h, m.log)
	if err := m.Mem.Register(dev); err != nil {
		return err
	}
	m.devices = append(m.devices, fdt.Device{
		Name:       "virtio",
		Compatible: "virtio,mmio",
		Base:       base,
		Size:       VirtioStride,
		IRQ:        uint32(irq),
	})
	return nil
}

// boot stages the images, the device tree and the reset trampoline.
func (m *Machine) boot(bios, kernel []byte) error {
	ramSize := m.cfg.MemoryBytes()
	if uint64(len(bios)) > ramSize {
		return fmt.Errorf("bios is too big: %d bytes for %d bytes of RAM", len(bios), ramSize)
	}
	if err := m.Mem.Stage(RAMBase, bios); err != nil {
		return fmt.Errorf("stage bios: %w", err)
	}

	if len(kernel) > 0 {
		align := kernelAlign(m.cfg.XLEN)
		base := (uint64(len(bios)) + align - 1) &^ (align - 1)
		if base+uint64(len(kernel)) > ramSize {
			return fmt.Errorf("kernel does not fit: %d bytes at offset %#x", len(kernel), base)
		}
		if err := m.Mem.Stage(RAMBase+base, kernel); err != nil {
			return fmt.Errorf("stage kernel: %w", err)
		}
		m.kernelBase, m.kernelSize = RAMBase+base, uint64(len(kernel))
	}

	dtb, err := fdt.RISCVBoard(m.Board())
	if err != nil {
		return fmt.Errorf("build device tree: %w", err)
	}
	if FDTAddr+uint64(len(dtb)) > LowRAMBase+LowRAMSize {
		return fmt.Errorf("device tree of %d bytes does not fit in low RAM", len(dtb))
	}
	if err := m.Mem.Stage(FDTAddr, dtb); err != nil {
		return fmt.Errorf("stage device tree: %w", err)
	}
	m.dtb = dtb

	if err := m.Mem.Stage(TrampolineAddr, Trampoline(RAMBase, FDTAddr)); err != nil {
		return fmt.Errorf("stage trampoline: %w", err)
	}
	m.log.Debug("machine ready",
		"xlen", m.cfg.XLEN, "ram", ramSize, "bios", len(bios), "kernel", len(kernel),
		"dtb", len(dtb), "devices", len(m.devices))
	return nil
}

// Trampoline returns the reset code placed at the reset vector: a0 gets the
// hart id, a1 the device tree address, and control passes to entry.
func Trampoline(entry, dtb uint64) []byte {
	words := []uint32{
		0x297 + uint32(entry-TrampolineAddr),            // auipc t0, entry
		0x597,                                           // auipc a1, 0
		0x58593 + uint32((dtb-(TrampolineAddr+4))<<20), // addi a1, a1, dtb
		0xf1402573,                                      // csrr a0, mhartid
		0x00028067,                                      // jalr zero, 0(t0)
	}
	out := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[4*i:], w)
	}
	return out
}

// Board describes the machine for device tree generation.
func (m *Machine) Board() fdt.Board {
	return fdt.Board{
		XLEN:        m.cfg.XLEN,
		Misa:        m.CPU.Misa,
		TimebaseHz:  clint.RTCFreq,
		ClockHz:     ClockHz,
		MemoryBase:  RAMBase,
		MemorySize:  m.cfg.MemoryBytes(),
		ClintBase:   ClintBase,
		ClintSize:   ClintSize,
		PlicBase:    PlicBase,
		PlicSize:    PlicSize,
		PlicNDev:    plic.NumSources,
		Devices:     m.devices,
		Cmdline:     m.cfg.Cmdline,
		KernelStart: m.kernelBase,
		KernelSize:  m.kernelSize,
	}
}

// DeviceTree returns the blob staged at FDTAddr.
func (m *Machine) DeviceTree() []byte { return m.dtb }

// LoadImage reads an image file, reporting progress when enabled.
func (m *Machine) LoadImage(name, path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load %s %q: %w", name, path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("load %s %q: %w", name, path, err)
	}
	var buf bytes.Buffer
	buf.Grow(int(info.Size()))

	var w io.Writer = &buf
	if m.cfg.Progress {
		bar := progressbar.DefaultBytes(info.Size(), "load "+name)
		defer bar.Close()
		w = io.MultiWriter(&buf, bar)
	}
	if _, err := io.Copy(w, f); err != nil {
		return nil, fmt.Errorf("load %s %q: %w", name, path, err)
	}
	return buf.Bytes(), nil
}

func (m *Machine) powerOff() {
	m.poweredOff = true
}

// PoweredOff reports whether the guest requested power off.
func (m *Machine) PoweredOff() bool { return m.poweredOff }

// Run executes the guest until ctx is done, the guest powers off (ErrPowerOff)
// or the terminal asks to quit.
func (m *Machine) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.poll(); err != nil {
			return err
		}
		if m.poweredOff {
			return ErrPowerOff
		}

		if m.CPU.Parked() && !m.CPU.WakeIfPending() {
			if err := sleep(ctx, m.clint.SleepBudget(maxSleep)); err != nil {
				return err
			}
			continue
		}
		m.run(stepsPerPoll)
	}
}

// run executes up to n instructions and stops early when the hart parks or
// powers off.
func (m *Machine) run(n int) {
	for i := 0; i < n && !m.poweredOff; i++ {
		if m.CPU.CheckInterrupt() {
			continue
		}
		if out := m.CPU.Step(); out.Kind == riscv.Parked {
			return
		}
	}
}

// poll advances the timer and moves pending terminal input into the guest.
func (m *Machine) poll() error {
	m.clint.Tick()
	if m.term == nil {
		return nil
	}
	if m.term.Resized() {
		m.resizePending = true
	}
	if !m.console.CanWrite() {
		_, err := m.term.Take(0)
		return err
	}
	if m.resizePending {
		cols, rows := m.term.Size()
		m.console.Resize(uint16(cols), uint16(rows))
		m.resizePending = false
	}
	data, err := m.term.Take(m.console.WriteLen())
	if err != nil {
		return err
	}
	if len(data) > 0 {
		if _, err := m.console.WriteData(data); err != nil {
			m.log.Warn("console input dropped", "bytes", len(data), "error", err)
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Close releases every region and the disk.
func (m *Machine) Close() error {
	if m.Mem == nil {
		return nil
	}
	err := m.Mem.Release()
	m.Mem = nil
	return err
}

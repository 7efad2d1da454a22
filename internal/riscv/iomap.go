package riscv

import (
	"errors"
	"fmt"
	"log/slog"
)

// MaxRegions bounds the dispatcher registry.
const MaxRegions = 1024

var (
	// ErrOverlap is returned when a region intersects one already registered.
	ErrOverlap = errors.New("riscv: region overlaps an existing region")
	// ErrRegistryFull is returned once MaxRegions regions are registered.
	ErrRegistryFull = errors.New("riscv: region registry full")
	// ErrNoRegion is returned when no suitable region holds an address range.
	ErrNoRegion = errors.New("riscv: no region at address")
)

// Region is a physical address range backed by RAM or a device. Offsets passed
// to Read and Write are relative to Start.
type Region interface {
	Name() string
	Start() uint64
	Size() uint64

	// Init is called once when the region is registered. It may allocate
	// the backing store.
	Init() error
	Read(offset uint64, dst []byte) (int, error)
	Write(offset uint64, src []byte) (int, error)
	Release() error
}

// Backing is implemented by regions that expose their storage directly.
// Only bootstrap code uses it, to stage images.
type Backing interface {
	Bytes() []byte
}

// Window carries the name and placement of a region. Devices embed it.
type Window struct {
	Label  string
	Base   uint64
	Length uint64
}

func (w Window) Name() string  { return w.Label }
func (w Window) Start() uint64 { return w.Base }
func (w Window) Size() uint64  { return w.Length }

// Contains reports whether [addr, addr+size) lies inside the window.
func (w Window) Contains(addr, size uint64) bool {
	return contains(w.Base, w.Length, addr, size)
}

func contains(base, length, addr, size uint64) bool {
	return addr >= base && size <= length && addr-base <= length-size
}

func overlaps(a, b Region) bool {
	return a.Start() < b.Start()+b.Size() && b.Start() < a.Start()+a.Size()
}

// Dispatcher routes physical and virtual accesses to registered regions.
type Dispatcher struct {
	regions []Region
	last    int
	log     *slog.Logger
}

// NewDispatcher creates an empty dispatcher. A nil logger uses slog.Default.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{log: logger}
}

// Register adds r to the registry. Overlapping regions and regions whose
// Init fails are logged and skipped; the machine keeps running.
func (d *Dispatcher) Register(r Region) error {
	if len(d.regions) >= MaxRegions {
		d.log.Warn("region registry full", "region", r.Name())
		return ErrRegistryFull
	}
	for _, existing := range d.regions {
		if overlaps(existing, r) {
			d.log.Warn("rejecting overlapping region",
				"region", r.Name(), "start", fmt.Sprintf("%#x", r.Start()), "size", r.Size(),
				"conflict", existing.Name())
			return fmt.Errorf("%s: %w with %s", r.Name(), ErrOverlap, existing.Name())
		}
	}
	if err := r.Init(); err != nil {
		d.log.Warn("region init failed", "region", r.Name(), "error", err)
		return fmt.Errorf("init %s: %w", r.Name(), err)
	}
	d.regions = append(d.regions, r)
	d.log.Debug("region registered",
		"region", r.Name(), "start", fmt.Sprintf("%#x", r.Start()), "size", r.Size())
	return nil
}

// Regions returns the registered regions in registration order.
func (d *Dispatcher) Regions() []Region {
	return d.regions
}

// find returns the first region holding the whole range [addr, addr+size).
func (d *Dispatcher) find(addr, size uint64) (Region, bool) {
	if d.last < len(d.regions) {
		if r := d.regions[d.last]; contains(r.Start(), r.Size(), addr, size) {
			return r, true
		}
	}
	for i, r := range d.regions {
		if contains(r.Start(), r.Size(), addr, size) {
			d.last = i
			return r, true
		}
	}
	return nil, false
}

// ReadPhys reads len(dst) bytes at physical address addr. It returns the
// number of bytes transferred, zero when no region owns the range.
func (d *Dispatcher) ReadPhys(addr uint64, dst []byte) int {
	r, ok := d.find(addr, uint64(len(dst)))
	if !ok {
		return 0
	}
	n, err := r.Read(addr-r.Start(), dst)
	if err != nil {
		d.log.Debug("physical read failed", "region", r.Name(), "addr", fmt.Sprintf("%#x", addr), "size", len(dst), "error", err)
		return 0
	}
	return n
}

// WritePhys writes src at physical address addr and returns the number of
// bytes transferred.
func (d *Dispatcher) WritePhys(addr uint64, src []byte) int {
	r, ok := d.find(addr, uint64(len(src)))
	if !ok {
		return 0
	}
	n, err := r.Write(addr-r.Start(), src)
	if err != nil {
		d.log.Debug("physical write failed", "region", r.Name(), "addr", fmt.Sprintf("%#x", addr), "size", len(src), "error", err)
		return 0
	}
	return n
}

// ReadAt implements io.ReaderAt over physical memory for DMA-style users.
func (d *Dispatcher) ReadAt(p []byte, off int64) (int, error) {
	if n := d.ReadPhys(uint64(off), p); n != len(p) {
		return n, fmt.Errorf("%w %#x (+%#x)", ErrNoRegion, off, len(p))
	}
	return len(p), nil
}

// WriteAt implements io.WriterAt over physical memory.
func (d *Dispatcher) WriteAt(p []byte, off int64) (int, error) {
	if n := d.WritePhys(uint64(off), p); n != len(p) {
		return n, fmt.Errorf("%w %#x (+%#x)", ErrNoRegion, off, len(p))
	}
	return len(p), nil
}

// ReadVirt reads from a virtual address using c's translation state.
func (d *Dispatcher) ReadVirt(c *CPU, vaddr uint64, dst []byte) (int, error) {
	return d.transfer(c, vaddr, dst, AccessRead)
}

// WriteVirt writes to a virtual address using c's translation state.
func (d *Dispatcher) WriteVirt(c *CPU, vaddr uint64, src []byte) (int, error) {
	return d.transfer(c, vaddr, src, AccessWrite)
}

// Fetch reads instruction bytes from a virtual address.
func (d *Dispatcher) Fetch(c *CPU, vaddr uint64, dst []byte) (int, error) {
	return d.transfer(c, vaddr, dst, AccessExec)
}

type piece struct {
	vaddr uint64
	paddr uint64
	lo    int
	hi    int
}

// transfer splits the access at page boundaries. Every page is translated
// before any byte moves, so a fault on a later page leaves memory untouched.
func (d *Dispatcher) transfer(c *CPU, vaddr uint64, buf []byte, access AccessType) (int, error) {
	var stack [4]piece
	pieces := stack[:0]
	for done := 0; done < len(buf); {
		va := c.addr(vaddr + uint64(done))
		chunk := PageSize - int(va&(PageSize-1))
		if rem := len(buf) - done; chunk > rem {
			chunk = rem
		}
		pa, err := c.Translate(va, access)
		if err != nil {
			return 0, c.fault(access.pageFaultCause(), va)
		}
		pieces = append(pieces, piece{vaddr: va, paddr: pa, lo: done, hi: done + chunk})
		done += chunk
	}

	total := 0
	for _, p := range pieces {
		var n int
		if access == AccessWrite {
			n = d.WritePhys(p.paddr, buf[p.lo:p.hi])
		} else {
			n = d.ReadPhys(p.paddr, buf[p.lo:p.hi])
		}
		if n != p.hi-p.lo {
			return total, c.fault(access.accessFaultCause(), p.vaddr)
		}
		total += n
	}
	return total, nil
}

// Resolve translates vaddr and returns the owning region and the offset
// inside it.
func (d *Dispatcher) Resolve(c *CPU, vaddr uint64) (Region, uint64, bool) {
	pa, err := c.Translate(c.addr(vaddr), AccessRead)
	if err != nil {
		return nil, 0, false
	}
	r, ok := d.find(pa, 1)
	if !ok {
		return nil, 0, false
	}
	return r, pa - r.Start(), true
}

// Stage copies data directly into the backing store of the region holding
// [addr, addr+len(data)). It bypasses device handlers and is meant for loading
// firmware and kernel images before the hart starts.
func (d *Dispatcher) Stage(addr uint64, data []byte) error {
	r, ok := d.find(addr, uint64(len(data)))
	if !ok {
		return fmt.Errorf("%w %#x (+%#x)", ErrNoRegion, addr, len(data))
	}
	b, ok := r.(Backing)
	if !ok {
		return fmt.Errorf("%s: %w %#x", r.Name(), ErrNoRegion, addr)
	}
	copy(b.Bytes()[addr-r.Start():], data)
	return nil
}

// Release releases every region, newest first.
func (d *Dispatcher) Release() error {
	var errs []error
	for i := len(d.regions) - 1; i >= 0; i-- {
		if err := d.regions[i].Release(); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", d.regions[i].Name(), err))
		}
	}
	d.regions = nil
	return errors.Join(errs...)
}

// fault records a memory fault for the trap path and returns it.
func (c *CPU) fault(cause, tval uint64) *Exception {
	c.PendingCause = cause
	c.PendingTval = tval
	return exception(cause, tval)
}

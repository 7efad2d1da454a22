// Package ram provides guest memory regions.
package ram

import (
	"errors"
	"fmt"

	"github.com/Blameying/space-emu/internal/riscv"
)

// ErrOutOfRange is returned for accesses past the end of the region.
var ErrOutOfRange = errors.New("ram: access out of range")

// RAM is a byte-addressable memory region.
type RAM struct {
	riscv.Window
	mem   []byte
	unmap func([]byte) error
}

// New returns a RAM region of size bytes at base. Storage is allocated on
// Init.
func New(name string, base, size uint64) *RAM {
	return &RAM{Window: riscv.Window{Label: name, Base: base, Length: size}}
}

// Init allocates the backing store.
func (r *RAM) Init() error {
	if r.mem != nil {
		return nil
	}
	mem, unmap, err := allocate(r.Length)
	if err != nil {
		return fmt.Errorf("allocate %s (%d bytes): %w", r.Label, r.Length, err)
	}
	r.mem, r.unmap = mem, unmap
	return nil
}

func (r *RAM) check(off uint64, n int) error {
	if r.mem == nil {
		return fmt.Errorf("%s: not initialized", r.Label)
	}
	if off > uint64(len(r.mem)) || uint64(n) > uint64(len(r.mem))-off {
		return fmt.Errorf("%w: %s offset %#x size %d", ErrOutOfRange, r.Label, off, n)
	}
	return nil
}

func (r *RAM) Read(off uint64, dst []byte) (int, error) {
	if err := r.check(off, len(dst)); err != nil {
		return 0, err
	}
	return copy(dst, r.mem[off:]), nil
}

func (r *RAM) Write(off uint64, src []byte) (int, error) {
	if err := r.check(off, len(src)); err != nil {
		return 0, err
	}
	return copy(r.mem[off:], src), nil
}

// Bytes exposes the backing store for image staging.
func (r *RAM) Bytes() []byte { return r.mem }

// Release frees the backing store.
func (r *RAM) Release() error {
	mem, unmap := r.mem, r.unmap
	r.mem, r.unmap = nil, nil
	if mem == nil || unmap == nil {
		return nil
	}
	return unmap(mem)
}

var (
	_ riscv.Region  = (*RAM)(nil)
	_ riscv.Backing = (*RAM)(nil)
)

package virtio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// SectorSize is the virtio-blk sector unit.
const SectorSize = 512

var (
	// ErrReadOnly is returned for writes to a read-only disk.
	ErrReadOnly = errors.New("virtio: disk is read-only")
	// ErrBeyondEnd is returned for sector ranges past the end of the disk.
	ErrBeyondEnd = errors.New("virtio: access beyond end of disk")
)

// Disk is the backing store of a block device, addressed in sectors.
type Disk interface {
	Sectors() uint64
	ReadSectors(sector uint64, buf []byte) error
	WriteSectors(sector uint64, buf []byte) error
	Flush() error
	Close() error
}

// Mode selects how a disk image is opened.
type Mode int

const (
	// ModeRW writes guest changes through to the image.
	ModeRW Mode = iota
	// ModeRO rejects writes.
	ModeRO
	// ModeSnapshot keeps guest writes in memory and leaves the image intact.
	ModeSnapshot
)

func (m Mode) String() string {
	switch m {
	case ModeRW:
		return "rw"
	case ModeRO:
		return "ro"
	case ModeSnapshot:
		return "snapshot"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode parses "rw", "ro" or "snapshot".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "rw":
		return ModeRW, nil
	case "ro":
		return ModeRO, nil
	case "snapshot", "":
		return ModeSnapshot, nil
	default:
		return 0, fmt.Errorf("unknown disk mode %q", s)
	}
}

// FileDisk is a Disk backed by an image file.
type FileDisk struct {
	mu      sync.Mutex
	f       io.ReaderAt
	w       io.WriterAt
	closer  io.Closer
	flush   func() error
	mode    Mode
	sectors uint64
	overlay map[uint64][]byte
}

// OpenDisk opens the image at path. Trailing bytes that do not fill a sector
// are not visible to the guest.
func OpenDisk(path string, mode Mode) (*FileDisk, error) {
	flag := os.O_RDONLY
	if mode == ModeRW {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("open disk: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat disk: %w", err)
	}
	d := NewDisk(f, info.Size(), mode)
	d.closer = f
	d.flush = f.Sync
	return d, nil
}

// NewDisk wraps an in-memory or already opened image of size bytes. Writes
// only reach r when it also implements io.WriterAt and mode is ModeRW.
func NewDisk(r io.ReaderAt, size int64, mode Mode) *FileDisk {
	d := &FileDisk{
		f:       r,
		mode:    mode,
		sectors: uint64(size) / SectorSize,
	}
	if w, ok := r.(io.WriterAt); ok && mode == ModeRW {
		d.w = w
	}
	if mode == ModeSnapshot {
		d.overlay = make(map[uint64][]byte)
	}
	return d
}

func (d *FileDisk) Sectors() uint64 { return d.sectors }

// Mode returns the mode the disk was opened with.
func (d *FileDisk) Mode() Mode { return d.mode }

func (d *FileDisk) check(sector uint64, buf []byte) error {
	if len(buf)%SectorSize != 0 {
		return fmt.Errorf("virtio: transfer of %d bytes is not sector aligned", len(buf))
	}
	n := uint64(len(buf) / SectorSize)
	if sector > d.sectors || n > d.sectors-sector {
		return fmt.Errorf("%w: sectors %d+%d of %d", ErrBeyondEnd, sector, n, d.sectors)
	}
	return nil
}

func (d *FileDisk) ReadSectors(sector uint64, buf []byte) error {
	if err := d.check(sector, buf); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.overlay == nil {
		_, err := d.f.ReadAt(buf, int64(sector)*SectorSize)
		return err
	}
	for off := 0; off < len(buf); off += SectorSize {
		chunk := buf[off : off+SectorSize]
		if data, ok := d.overlay[sector]; ok {
			copy(chunk, data)
		} else if _, err := d.f.ReadAt(chunk, int64(sector)*SectorSize); err != nil {
			return err
		}
		sector++
	}
	return nil
}

func (d *FileDisk) WriteSectors(sector uint64, buf []byte) error {
	if err := d.check(sector, buf); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.mode {
	case ModeSnapshot:
		for off := 0; off < len(buf); off += SectorSize {
			data, ok := d.overlay[sector]
			if !ok {
				data = make([]byte, SectorSize)
				d.overlay[sector] = data
			}
			copy(data, buf[off:])
			sector++
		}
		return nil
	case ModeRW:
		if d.w == nil {
			return ErrReadOnly
		}
		_, err := d.w.WriteAt(buf, int64(sector)*SectorSize)
		return err
	default:
		return ErrReadOnly
	}
}

// Dirty returns the number of sectors held in the snapshot overlay.
func (d *FileDisk) Dirty() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.overlay)
}

func (d *FileDisk) Flush() error {
	if d.mode != ModeRW || d.flush == nil {
		return nil
	}
	return d.flush()
}

func (d *FileDisk) Close() error {
	if d.closer == nil {
		return nil
	}
	err := d.closer.Close()
	d.closer = nil
	return err
}

var _ Disk = (*FileDisk)(nil)

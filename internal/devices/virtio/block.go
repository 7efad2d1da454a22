package virtio

import (
	"encoding/binary"
	"log/slog"
)

// Virtio block request types
const (
	VIRTIO_BLK_T_IN     = 0
	VIRTIO_BLK_T_OUT    = 1
	VIRTIO_BLK_T_FLUSH  = 4
	VIRTIO_BLK_T_GET_ID = 8
)

// Virtio block status codes
const (
	VIRTIO_BLK_S_OK     = 0
	VIRTIO_BLK_S_IOERR  = 1
	VIRTIO_BLK_S_UNSUPP = 2
)

// Virtio block feature bits
const (
	VIRTIO_BLK_F_RO    = 1 << 5
	VIRTIO_BLK_F_FLUSH = 1 << 9
)

const (
	BlockDeviceID = 2

	blkHeaderSize = 16
	blkConfigSize = 8
	blkIDSize     = 20
)

// Block serves a Disk on request queue 0.
type Block struct {
	disk Disk
	ro   bool
	log  *slog.Logger
}

// NewBlock creates a block device for disk. A read-only disk advertises
// VIRTIO_BLK_F_RO.
func NewBlock(disk Disk, readOnly bool, logger *slog.Logger) *Block {
	if logger == nil {
		logger = slog.Default()
	}
	return &Block{disk: disk, ro: readOnly, log: logger}
}

func (b *Block) DeviceID() uint32 { return BlockDeviceID }

func (b *Block) Features() uint32 {
	f := uint32(VIRTIO_BLK_F_FLUSH)
	if b.ro {
		f |= VIRTIO_BLK_F_RO
	}
	return f
}

func (b *Block) ConfigSize() int { return blkConfigSize }

// Attach publishes the capacity in sectors.
func (b *Block) Attach(d *Device) error {
	binary.LittleEndian.PutUint64(d.Config(), b.disk.Sectors())
	return nil
}

func (b *Block) Close() error { return b.disk.Close() }

type blkHeader struct {
	typ    uint32
	sector uint64
}

func (b *Block) Receive(d *Device, q int, head uint16, readSize, writeSize uint32) error {
	var raw [blkHeaderSize]byte
	if err := d.CopyFromQueue(q, head, 0, raw[:]); err != nil {
		b.log.Warn("virtio-blk: unreadable request header", "head", head, "error", err)
		return d.Consume(q, head, 0)
	}
	hdr := blkHeader{
		typ:    binary.LittleEndian.Uint32(raw[0:]),
		sector: binary.LittleEndian.Uint64(raw[8:]),
	}
	if writeSize == 0 {
		b.log.Warn("virtio-blk: request without status byte", "type", hdr.typ)
		return d.Consume(q, head, 0)
	}

	switch hdr.typ {
	case VIRTIO_BLK_T_IN:
		buf := make([]byte, writeSize)
		n := (writeSize - 1) / SectorSize * SectorSize
		buf[writeSize-1] = b.status(b.disk.ReadSectors(hdr.sector, buf[:n]), "read", hdr.sector)
		if err := d.CopyToQueue(q, head, 0, buf); err != nil {
			return err
		}
		return d.Consume(q, head, writeSize)

	case VIRTIO_BLK_T_OUT:
		var status byte
		if readSize < blkHeaderSize {
			status = VIRTIO_BLK_S_IOERR
		} else {
			buf := make([]byte, (readSize-blkHeaderSize)/SectorSize*SectorSize)
			if err := d.CopyFromQueue(q, head, blkHeaderSize, buf); err != nil {
				status = b.status(err, "fetch", hdr.sector)
			} else {
				status = b.status(b.disk.WriteSectors(hdr.sector, buf), "write", hdr.sector)
			}
		}
		return b.finish(d, q, head, status)

	case VIRTIO_BLK_T_FLUSH:
		return b.finish(d, q, head, b.status(b.disk.Flush(), "flush", 0))

	case VIRTIO_BLK_T_GET_ID:
		if writeSize < blkIDSize+1 {
			return b.finish(d, q, head, VIRTIO_BLK_S_IOERR)
		}
		id := make([]byte, blkIDSize+1)
		copy(id, "space-vda")
		id[blkIDSize] = VIRTIO_BLK_S_OK
		if err := d.CopyToQueue(q, head, 0, id); err != nil {
			return err
		}
		return d.Consume(q, head, uint32(len(id)))

	default:
		b.log.Debug("virtio-blk: unsupported request", "type", hdr.typ)
		return b.finish(d, q, head, VIRTIO_BLK_S_UNSUPP)
	}
}

// finish writes a lone status byte and completes the chain.
func (b *Block) finish(d *Device, q int, head uint16, status byte) error {
	if err := d.CopyToQueue(q, head, 0, []byte{status}); err != nil {
		return err
	}
	return d.Consume(q, head, 1)
}

func (b *Block) status(err error, op string, sector uint64) byte {
	if err != nil {
		b.log.Warn("virtio-blk: request failed", "op", op, "sector", sector, "error", err)
		return VIRTIO_BLK_S_IOERR
	}
	return VIRTIO_BLK_S_OK
}

var _ Handler = (*Block)(nil)

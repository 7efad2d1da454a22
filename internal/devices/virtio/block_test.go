package virtio

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// image is a writable in-memory disk image.
type image []byte

func (m image) ReadAt(p []byte, off int64) (int, error)  { return copy(p, m[off:]), nil }
func (m image) WriteAt(p []byte, off int64) (int, error) { return copy(m[off:], p), nil }

func newImage(sectors int) image {
	img := make(image, sectors*SectorSize)
	for i := range img {
		img[i] = byte(i / SectorSize)
	}
	return img
}

const (
	hdrAddr    = 0x1000
	dataAddr   = 0x2000
	statusAddr = 0x3000
)

// blkRequest lays out header, data and status descriptors at head 0.
func (g *guest) blkRequest(typ uint32, sector uint64, dataLen uint32, dataWritable bool) {
	binary.LittleEndian.PutUint32(g.mem[hdrAddr:], typ)
	binary.LittleEndian.PutUint64(g.mem[hdrAddr+8:], sector)
	g.mem[statusAddr] = 0xff

	dataFlags := uint16(virtqDescFNext)
	if dataWritable {
		dataFlags |= virtqDescFWrite
	}
	if dataLen == 0 {
		g.putDesc(0, 0, hdrAddr, blkHeaderSize, virtqDescFNext, 2)
	} else {
		g.putDesc(0, 0, hdrAddr, blkHeaderSize, virtqDescFNext, 1)
		g.putDesc(0, 1, dataAddr, dataLen, dataFlags, 2)
	}
	g.putDesc(0, 2, statusAddr, 1, virtqDescFWrite, 0)
	g.post(0, 0)
}

func newBlockDevice(t *testing.T, disk Disk, ro bool) (*Device, *guest, *testIRQ) {
	t.Helper()
	d, g, irq := newTestDevice(t, NewBlock(disk, ro, nil))
	setupQueue(t, d, 0)
	return d, g, irq
}

func TestBlockCapacityAndFeatures(t *testing.T) {
	d, _, _ := newBlockDevice(t, NewDisk(newImage(8), 8*SectorSize, ModeRO), true)
	require.Equal(t, uint32(BlockDeviceID), readReg(t, d, VIRTIO_MMIO_DEVICE_ID))
	require.Equal(t, uint32(VIRTIO_BLK_F_FLUSH|VIRTIO_BLK_F_RO), readReg(t, d, VIRTIO_MMIO_DEVICE_FEATURES))

	lo := readReg(t, d, VIRTIO_MMIO_CONFIG)
	hi := readReg(t, d, VIRTIO_MMIO_CONFIG+4)
	require.Equal(t, uint64(8), uint64(hi)<<32|uint64(lo))
}

func TestBlockRead(t *testing.T) {
	d, g, irq := newBlockDevice(t, NewDisk(newImage(8), 8*SectorSize, ModeRW), false)
	g.blkRequest(VIRTIO_BLK_T_IN, 3, 2*SectorSize, true)
	writeReg(t, d, VIRTIO_MMIO_QUEUE_NOTIFY, 0)

	require.Equal(t, bytes.Repeat([]byte{3}, SectorSize), g.mem[dataAddr:dataAddr+SectorSize])
	require.Equal(t, bytes.Repeat([]byte{4}, SectorSize), g.mem[dataAddr+SectorSize:dataAddr+2*SectorSize])
	require.Equal(t, byte(VIRTIO_BLK_S_OK), g.mem[statusAddr])

	require.Equal(t, uint16(1), g.usedIdx(0))
	_, length := g.usedElem(0, 0)
	require.Equal(t, uint32(2*SectorSize+1), length)
	require.Equal(t, 1, irq.raised)
}

func TestBlockReadPastEnd(t *testing.T) {
	d, g, _ := newBlockDevice(t, NewDisk(newImage(2), 2*SectorSize, ModeRW), false)
	g.blkRequest(VIRTIO_BLK_T_IN, 1, 2*SectorSize, true)
	writeReg(t, d, VIRTIO_MMIO_QUEUE_NOTIFY, 0)
	require.Equal(t, byte(VIRTIO_BLK_S_IOERR), g.mem[statusAddr])
}

func TestBlockWrite(t *testing.T) {
	img := newImage(4)
	d, g, _ := newBlockDevice(t, NewDisk(img, int64(len(img)), ModeRW), false)
	copy(g.mem[dataAddr:], bytes.Repeat([]byte{0xaa}, SectorSize))
	g.blkRequest(VIRTIO_BLK_T_OUT, 2, SectorSize, false)
	writeReg(t, d, VIRTIO_MMIO_QUEUE_NOTIFY, 0)

	require.Equal(t, byte(VIRTIO_BLK_S_OK), g.mem[statusAddr])
	require.Equal(t, bytes.Repeat([]byte{0xaa}, SectorSize), []byte(img[2*SectorSize:3*SectorSize]))
	require.Equal(t, byte(1), img[SectorSize])
	_, length := g.usedElem(0, 0)
	require.Equal(t, uint32(1), length)
}

func TestBlockWriteReadOnly(t *testing.T) {
	img := newImage(4)
	d, g, _ := newBlockDevice(t, NewDisk(img, int64(len(img)), ModeRO), true)
	g.blkRequest(VIRTIO_BLK_T_OUT, 0, SectorSize, false)
	writeReg(t, d, VIRTIO_MMIO_QUEUE_NOTIFY, 0)

	require.Equal(t, byte(VIRTIO_BLK_S_IOERR), g.mem[statusAddr])
	require.Equal(t, byte(0), img[0])
}

func TestBlockSnapshotKeepsImage(t *testing.T) {
	img := newImage(4)
	disk := NewDisk(bytes.NewReader(img), int64(len(img)), ModeSnapshot)
	d, g, _ := newBlockDevice(t, disk, false)
	copy(g.mem[dataAddr:], bytes.Repeat([]byte{0x55}, SectorSize))
	g.blkRequest(VIRTIO_BLK_T_OUT, 1, SectorSize, false)
	writeReg(t, d, VIRTIO_MMIO_QUEUE_NOTIFY, 0)
	require.Equal(t, byte(VIRTIO_BLK_S_OK), g.mem[statusAddr])
	require.Equal(t, 1, disk.Dirty())
	require.Equal(t, byte(1), img[SectorSize])

	buf := make([]byte, 2*SectorSize)
	require.NoError(t, disk.ReadSectors(0, buf))
	require.Equal(t, byte(0), buf[0])
	require.Equal(t, byte(0x55), buf[SectorSize])
}

func TestBlockFlushAndUnsupported(t *testing.T) {
	d, g, _ := newBlockDevice(t, NewDisk(newImage(1), SectorSize, ModeRW), false)
	g.blkRequest(VIRTIO_BLK_T_FLUSH, 0, 0, false)
	writeReg(t, d, VIRTIO_MMIO_QUEUE_NOTIFY, 0)
	require.Equal(t, byte(VIRTIO_BLK_S_OK), g.mem[statusAddr])

	g.blkRequest(99, 0, 0, false)
	writeReg(t, d, VIRTIO_MMIO_QUEUE_NOTIFY, 0)
	require.Equal(t, byte(VIRTIO_BLK_S_UNSUPP), g.mem[statusAddr])
	require.Equal(t, uint16(2), g.usedIdx(0))
}

func TestOpenDiskModes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	require.NoError(t, os.WriteFile(path, newImage(3), 0o644))

	rw, err := OpenDisk(path, ModeRW)
	require.NoError(t, err)
	require.Equal(t, uint64(3), rw.Sectors())
	require.NoError(t, rw.WriteSectors(2, bytes.Repeat([]byte{9}, SectorSize)))
	require.NoError(t, rw.Flush())
	require.NoError(t, rw.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, byte(9), data[2*SectorSize])

	ro, err := OpenDisk(path, ModeRO)
	require.NoError(t, err)
	defer ro.Close()
	require.ErrorIs(t, ro.WriteSectors(0, make([]byte, SectorSize)), ErrReadOnly)

	_, err = OpenDisk(filepath.Join(t.TempDir(), "missing.img"), ModeRO)
	require.Error(t, err)
}

func TestParseMode(t *testing.T) {
	for _, m := range []Mode{ModeRW, ModeRO, ModeSnapshot} {
		got, err := ParseMode(m.String())
		require.NoError(t, err)
		require.Equal(t, m, got)
	}
	got, err := ParseMode("")
	require.NoError(t, err)
	require.Equal(t, ModeSnapshot, got)
	_, err = ParseMode("bogus")
	require.Error(t, err)
}

package virtio

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func newConsoleDevice(t *testing.T) (*Console, *Device, *guest, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	c := NewConsole(&out, nil)
	d, g, _ := newTestDevice(t, c)
	setupQueue(t, d, queueReceive)
	setupQueue(t, d, queueTransmit)
	return c, d, g, &out
}

func TestConsoleTransmit(t *testing.T) {
	_, d, g, out := newConsoleDevice(t)
	require.Equal(t, uint32(ConsoleDeviceID), readReg(t, d, VIRTIO_MMIO_DEVICE_ID))

	copy(g.mem[0x8000:], "hello, ")
	copy(g.mem[0x9000:], "world\n")
	g.putDesc(queueTransmit, 0, 0x8000, 7, virtqDescFNext, 1)
	g.putDesc(queueTransmit, 1, 0x9000, 6, 0, 0)
	g.post(queueTransmit, 0)
	writeReg(t, d, VIRTIO_MMIO_QUEUE_NOTIFY, queueTransmit)

	require.Equal(t, "hello, world\n", out.String())
	require.Equal(t, uint16(1), g.usedIdx(queueTransmit))
	_, length := g.usedElem(queueTransmit, 0)
	require.Zero(t, length)
}

func TestConsoleReceive(t *testing.T) {
	c, d, g, _ := newConsoleDevice(t)
	require.False(t, c.CanWrite())
	require.Zero(t, c.WriteLen())

	g.putDesc(queueReceive, 0, 0x8000, 8, virtqDescFWrite, 0)
	g.post(queueReceive, 0)

	// the receive queue is drained by the host, not on notify
	writeReg(t, d, VIRTIO_MMIO_QUEUE_NOTIFY, queueReceive)
	require.Zero(t, g.usedIdx(queueReceive))

	require.True(t, c.CanWrite())
	require.Equal(t, 8, c.WriteLen())
	n, err := c.WriteData([]byte("ls\r"))
	require.NoError(t, err)
	require.Equal(t, 3, n)

	require.Equal(t, "ls\r", string(g.mem[0x8000:0x8003]))
	require.Equal(t, uint16(1), g.usedIdx(queueReceive))
	_, length := g.usedElem(queueReceive, 0)
	require.Equal(t, uint32(3), length)
	require.False(t, c.CanWrite())

	n, err = c.WriteData([]byte("x"))
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestConsoleResize(t *testing.T) {
	c, d, _, _ := newConsoleDevice(t)
	c.Resize(132, 43)

	cfg := readReg(t, d, VIRTIO_MMIO_CONFIG)
	require.Equal(t, uint16(132), uint16(cfg))
	require.Equal(t, uint16(43), uint16(cfg>>16))
	require.Equal(t, uint32(VIRTIO_MMIO_INT_CONFIG), d.InterruptStatus())

	require.Equal(t, []byte{132, 0, 43, 0}, d.Config())
	require.Equal(t, uint16(43), binary.LittleEndian.Uint16(d.Config()[2:]))
}

func TestConsoleDetached(t *testing.T) {
	c := NewConsole(&bytes.Buffer{}, nil)
	require.False(t, c.CanWrite())
	n, err := c.WriteData([]byte("a"))
	require.NoError(t, err)
	require.Zero(t, n)
	c.Resize(80, 24)
}

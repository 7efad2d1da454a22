package virtio

import (
	"encoding/binary"
	"io"
	"log/slog"
)

const (
	ConsoleDeviceID = 3

	consoleFeatureSize = 1 << 0
	consoleConfigSize  = 4

	queueReceive  = 0
	queueTransmit = 1
)

// Console is a virtio console. Guest output on the transmit queue goes to
// the host writer; host input is pushed with WriteData.
type Console struct {
	out io.Writer
	log *slog.Logger
	dev *Device
}

// NewConsole creates a console writing guest output to out.
func NewConsole(out io.Writer, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{out: out, log: logger}
}

func (c *Console) DeviceID() uint32 { return ConsoleDeviceID }
func (c *Console) Features() uint32 { return consoleFeatureSize }
func (c *Console) ConfigSize() int  { return consoleConfigSize }

func (c *Console) Attach(d *Device) error {
	c.dev = d
	d.SetManual(queueReceive)
	return nil
}

func (c *Console) Receive(d *Device, q int, head uint16, readSize, writeSize uint32) error {
	if q != queueTransmit {
		return d.Consume(q, head, 0)
	}
	buf := make([]byte, readSize)
	if err := d.CopyFromQueue(q, head, 0, buf); err != nil {
		c.log.Warn("virtio-console: unreadable transmit buffer", "error", err)
	} else if _, err := c.out.Write(buf); err != nil {
		c.log.Warn("virtio-console: host write failed", "error", err)
	}
	return d.Consume(q, head, 0)
}

// CanWrite reports whether the guest has posted a receive buffer.
func (c *Console) CanWrite() bool {
	if c.dev == nil {
		return false
	}
	_, ok, err := c.dev.nextAvail(queueReceive)
	return ok && err == nil
}

// WriteLen returns the capacity of the next receive buffer, zero when none
// is posted.
func (c *Console) WriteLen() int {
	if c.dev == nil {
		return 0
	}
	head, ok, err := c.dev.nextAvail(queueReceive)
	if !ok || err != nil {
		return 0
	}
	_, w, err := c.dev.chainSizes(queueReceive, head)
	if err != nil {
		return 0
	}
	return int(w)
}

// WriteData delivers p to the guest through the next receive buffer and
// returns the number of bytes delivered. Callers bound p by WriteLen.
func (c *Console) WriteData(p []byte) (int, error) {
	if c.dev == nil {
		return 0, nil
	}
	head, ok, err := c.dev.nextAvail(queueReceive)
	if !ok || err != nil {
		return 0, err
	}
	if err := c.dev.CopyToQueue(queueReceive, head, 0, p); err != nil {
		return 0, err
	}
	if err := c.dev.Consume(queueReceive, head, uint32(len(p))); err != nil {
		return 0, err
	}
	c.dev.queues[queueReceive].lastAvail++
	return len(p), nil
}

// Resize publishes a new terminal size and raises a config change interrupt.
func (c *Console) Resize(cols, rows uint16) {
	if c.dev == nil {
		return
	}
	cfg := c.dev.Config()
	binary.LittleEndian.PutUint16(cfg[0:], cols)
	binary.LittleEndian.PutUint16(cfg[2:], rows)
	c.dev.ConfigChanged()
}

var _ Handler = (*Console)(nil)

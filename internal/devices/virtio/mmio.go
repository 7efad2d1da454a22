// Package virtio implements the virtio-mmio (version 2) transport and the
// block and console devices that sit behind it.
package virtio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/Blameying/space-emu/internal/riscv"
)

const (
	VIRTIO_MMIO_MAGIC_VALUE         = 0x000
	VIRTIO_MMIO_VERSION             = 0x004
	VIRTIO_MMIO_DEVICE_ID           = 0x008
	VIRTIO_MMIO_VENDOR_ID           = 0x00c
	VIRTIO_MMIO_DEVICE_FEATURES     = 0x010
	VIRTIO_MMIO_DEVICE_FEATURES_SEL = 0x014
	VIRTIO_MMIO_DRIVER_FEATURES     = 0x020
	VIRTIO_MMIO_DRIVER_FEATURES_SEL = 0x024
	VIRTIO_MMIO_QUEUE_SEL           = 0x030
	VIRTIO_MMIO_QUEUE_NUM_MAX       = 0x034
	VIRTIO_MMIO_QUEUE_NUM           = 0x038
	VIRTIO_MMIO_QUEUE_READY         = 0x044
	VIRTIO_MMIO_QUEUE_NOTIFY        = 0x050
	VIRTIO_MMIO_INTERRUPT_STATUS    = 0x060
	VIRTIO_MMIO_INTERRUPT_ACK       = 0x064
	VIRTIO_MMIO_STATUS              = 0x070
	VIRTIO_MMIO_QUEUE_DESC_LOW      = 0x080
	VIRTIO_MMIO_QUEUE_DESC_HIGH     = 0x084
	VIRTIO_MMIO_QUEUE_AVAIL_LOW     = 0x090
	VIRTIO_MMIO_QUEUE_AVAIL_HIGH    = 0x094
	VIRTIO_MMIO_QUEUE_USED_LOW      = 0x0a0
	VIRTIO_MMIO_QUEUE_USED_HIGH     = 0x0a4
	VIRTIO_MMIO_CONFIG_GENERATION   = 0x0fc
	VIRTIO_MMIO_CONFIG              = 0x100

	// Interrupt status bits
	VIRTIO_MMIO_INT_VRING  = 0x1 // Used buffer notification
	VIRTIO_MMIO_INT_CONFIG = 0x2 // Configuration change
)

const (
	// Size is the register window of one device.
	Size = 0x1000
	// QueueNumMax is the largest ring the transport accepts.
	QueueNumMax = 16

	magicValue   = 0x74726976 // "virt"
	version      = 2
	vendorID     = 0xffff
	maxQueues    = 8
	maxConfig    = 256
	featureVers1 = 1 // bit 32, reported through DEVICE_FEATURES_SEL 1
)

// ErrAccessSize is returned for register accesses of an unsupported width.
var ErrAccessSize = errors.New("virtio: unsupported access size")

// GuestMemory is guest physical memory as seen by the device.
type GuestMemory interface {
	io.ReaderAt
	io.WriterAt
}

// IRQ is the interrupt line of a device.
type IRQ interface {
	Set(level bool)
}

// Handler is the device-specific half of a virtio device.
type Handler interface {
	DeviceID() uint32
	// Features returns feature bits 0..31.
	Features() uint32
	ConfigSize() int
	// Attach is called when the transport is registered.
	Attach(d *Device) error
	// Receive handles one available chain. An error leaves the chain
	// on the ring and stops processing until the next notify.
	Receive(d *Device, queue int, head uint16, readSize, writeSize uint32) error
}

type queue struct {
	ready     bool
	num       uint32
	descAddr  uint64
	availAddr uint64
	usedAddr  uint64
	lastAvail uint16
	// manual queues are drained by the host side, not on notify.
	manual bool
}

// Device is a virtio-mmio transport bound to a Handler.
type Device struct {
	riscv.Window
	mem     GuestMemory
	irq     IRQ
	handler Handler
	log     *slog.Logger

	status         uint32
	featuresSel    uint32
	driverFeatSel  uint32
	driverFeatures [2]uint32
	queueSel       uint32
	intStatus      uint32
	queues         [maxQueues]queue
	config         []byte
}

// NewDevice creates the transport for h at base.
func NewDevice(name string, base uint64, mem GuestMemory, irq IRQ, h Handler, logger *slog.Logger) *Device {
	if logger == nil {
		logger = slog.Default()
	}
	size := h.ConfigSize()
	if size > maxConfig {
		size = maxConfig
	}
	d := &Device{
		Window:  riscv.Window{Label: name, Base: base, Length: Size},
		mem:     mem,
		irq:     irq,
		handler: h,
		log:     logger,
		config:  make([]byte, size),
	}
	d.reset()
	return d
}

// Init attaches the handler.
func (d *Device) Init() error {
	return d.handler.Attach(d)
}

// Release releases the handler's resources when it holds any.
func (d *Device) Release() error {
	if c, ok := d.handler.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Config exposes the device configuration space.
func (d *Device) Config() []byte { return d.config }

// SetManual marks a queue as drained by the host instead of on notify.
func (d *Device) SetManual(q int) { d.queues[q].manual = true }

// Status returns the driver status register.
func (d *Device) Status() uint32 { return d.status }

// InterruptStatus returns the pending interrupt bits.
func (d *Device) InterruptStatus() uint32 { return d.intStatus }

func (d *Device) reset() {
	d.status = 0
	d.queueSel = 0
	d.featuresSel = 0
	d.intStatus = 0
	for i := range d.queues {
		manual := d.queues[i].manual
		d.queues[i] = queue{num: QueueNumMax, manual: manual}
	}
}

func (d *Device) raise(bits uint32) {
	d.intStatus |= bits
	if d.irq != nil {
		d.irq.Set(true)
	}
}

// ConfigChanged signals a configuration space update to the driver.
func (d *Device) ConfigChanged() {
	d.raise(VIRTIO_MMIO_INT_CONFIG)
}

func (d *Device) Read(off uint64, dst []byte) (int, error) {
	if off >= VIRTIO_MMIO_CONFIG {
		return d.readConfig(off-VIRTIO_MMIO_CONFIG, dst)
	}
	if len(dst) == 0 || len(dst)%4 != 0 {
		return 0, fmt.Errorf("%w: read of %d bytes at %#x", ErrAccessSize, len(dst), off)
	}
	for i := 0; i < len(dst); i += 4 {
		binary.LittleEndian.PutUint32(dst[i:], d.readRegister(off+uint64(i)))
	}
	return len(dst), nil
}

func (d *Device) readRegister(off uint64) uint32 {
	q := &d.queues[d.queueSel]
	switch off {
	case VIRTIO_MMIO_MAGIC_VALUE:
		return magicValue
	case VIRTIO_MMIO_VERSION:
		return version
	case VIRTIO_MMIO_DEVICE_ID:
		return d.handler.DeviceID()
	case VIRTIO_MMIO_VENDOR_ID:
		return vendorID
	case VIRTIO_MMIO_DEVICE_FEATURES:
		switch d.featuresSel {
		case 0:
			return d.handler.Features()
		case 1:
			return featureVers1
		default:
			return 0
		}
	case VIRTIO_MMIO_DEVICE_FEATURES_SEL:
		return d.featuresSel
	case VIRTIO_MMIO_QUEUE_SEL:
		return d.queueSel
	case VIRTIO_MMIO_QUEUE_NUM_MAX:
		return QueueNumMax
	case VIRTIO_MMIO_QUEUE_NUM:
		return q.num
	case VIRTIO_MMIO_QUEUE_DESC_LOW:
		return uint32(q.descAddr)
	case VIRTIO_MMIO_QUEUE_DESC_HIGH:
		return uint32(q.descAddr >> 32)
	case VIRTIO_MMIO_QUEUE_AVAIL_LOW:
		return uint32(q.availAddr)
	case VIRTIO_MMIO_QUEUE_AVAIL_HIGH:
		return uint32(q.availAddr >> 32)
	case VIRTIO_MMIO_QUEUE_USED_LOW:
		return uint32(q.usedAddr)
	case VIRTIO_MMIO_QUEUE_USED_HIGH:
		return uint32(q.usedAddr >> 32)
	case VIRTIO_MMIO_QUEUE_READY:
		if q.ready {
			return 1
		}
		return 0
	case VIRTIO_MMIO_INTERRUPT_STATUS:
		return d.intStatus
	case VIRTIO_MMIO_STATUS:
		return d.status
	default:
		// includes CONFIG_GENERATION, which never changes
		return 0
	}
}

func (d *Device) Write(off uint64, src []byte) (int, error) {
	if off >= VIRTIO_MMIO_CONFIG {
		return d.writeConfig(off-VIRTIO_MMIO_CONFIG, src)
	}
	if len(src) == 0 || len(src)%4 != 0 {
		return 0, fmt.Errorf("%w: write of %d bytes at %#x", ErrAccessSize, len(src), off)
	}
	for i := 0; i < len(src); i += 4 {
		if err := d.writeRegister(off+uint64(i), binary.LittleEndian.Uint32(src[i:])); err != nil {
			return 0, err
		}
	}
	return len(src), nil
}

func setLow(v *uint64, lo uint32)  { *v = *v&^0xffff_ffff | uint64(lo) }
func setHigh(v *uint64, hi uint32) { *v = *v&0xffff_ffff | uint64(hi)<<32 }

func (d *Device) writeRegister(off uint64, value uint32) error {
	q := &d.queues[d.queueSel]
	switch off {
	case VIRTIO_MMIO_DEVICE_FEATURES_SEL:
		d.featuresSel = value
	case VIRTIO_MMIO_DRIVER_FEATURES_SEL:
		d.driverFeatSel = value
	case VIRTIO_MMIO_DRIVER_FEATURES:
		if d.driverFeatSel < uint32(len(d.driverFeatures)) {
			d.driverFeatures[d.driverFeatSel] = value
		}
	case VIRTIO_MMIO_QUEUE_SEL:
		if value < maxQueues {
			d.queueSel = value
		}
	case VIRTIO_MMIO_QUEUE_NUM:
		// power of two only
		if value != 0 && value&(value-1) == 0 && value <= QueueNumMax {
			q.num = value
		}
	case VIRTIO_MMIO_QUEUE_DESC_LOW:
		setLow(&q.descAddr, value)
	case VIRTIO_MMIO_QUEUE_DESC_HIGH:
		setHigh(&q.descAddr, value)
	case VIRTIO_MMIO_QUEUE_AVAIL_LOW:
		setLow(&q.availAddr, value)
	case VIRTIO_MMIO_QUEUE_AVAIL_HIGH:
		setHigh(&q.availAddr, value)
	case VIRTIO_MMIO_QUEUE_USED_LOW:
		setLow(&q.usedAddr, value)
	case VIRTIO_MMIO_QUEUE_USED_HIGH:
		setHigh(&q.usedAddr, value)
	case VIRTIO_MMIO_STATUS:
		d.status = value
		if value == 0 {
			if d.irq != nil {
				d.irq.Set(false)
			}
			d.reset()
		}
	case VIRTIO_MMIO_QUEUE_READY:
		q.ready = value&1 != 0
	case VIRTIO_MMIO_QUEUE_NOTIFY:
		if value < maxQueues {
			return d.notify(int(value))
		}
	case VIRTIO_MMIO_INTERRUPT_ACK:
		d.intStatus &^= value
		if d.intStatus == 0 && d.irq != nil {
			d.irq.Set(false)
		}
	default:
		d.log.Debug("virtio-mmio: write to unhandled register",
			"device", d.Label, "offset", fmt.Sprintf("%#x", off), "value", value)
	}
	return nil
}

func (d *Device) readConfig(off uint64, dst []byte) (int, error) {
	switch len(dst) {
	case 1, 2, 4:
	default:
		return 0, fmt.Errorf("%w: config read of %d bytes", ErrAccessSize, len(dst))
	}
	if off+uint64(len(dst)) > uint64(len(d.config)) {
		clear(dst)
		return len(dst), nil
	}
	copy(dst, d.config[off:])
	return len(dst), nil
}

func (d *Device) writeConfig(off uint64, src []byte) (int, error) {
	switch len(src) {
	case 1, 2, 4:
	default:
		return 0, fmt.Errorf("%w: config write of %d bytes", ErrAccessSize, len(src))
	}
	if off+uint64(len(src)) <= uint64(len(d.config)) {
		copy(d.config[off:], src)
	}
	return len(src), nil
}

var _ riscv.Region = (*Device)(nil)

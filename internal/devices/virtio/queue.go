package virtio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	virtqDescFNext  = 1
	virtqDescFWrite = 2

	descSize = 16
	pageSize = 4096
)

// ErrBadChain is returned for descriptor chains that do not match the
// request being served.
var ErrBadChain = errors.New("virtio: malformed descriptor chain")

type descriptor struct {
	addr  uint64
	len   uint32
	flags uint16
	next  uint16
}

func (d descriptor) writable() bool { return d.flags&virtqDescFWrite != 0 }
func (d descriptor) hasNext() bool  { return d.flags&virtqDescFNext != 0 }

// copyFromGuest reads guest memory in page sized pieces.
func (d *Device) copyFromGuest(addr uint64, buf []byte) error {
	for len(buf) > 0 {
		n := min(len(buf), pageSize-int(addr&(pageSize-1)))
		if _, err := d.mem.ReadAt(buf[:n], int64(addr)); err != nil {
			return err
		}
		addr += uint64(n)
		buf = buf[n:]
	}
	return nil
}

func (d *Device) copyToGuest(addr uint64, buf []byte) error {
	for len(buf) > 0 {
		n := min(len(buf), pageSize-int(addr&(pageSize-1)))
		if _, err := d.mem.WriteAt(buf[:n], int64(addr)); err != nil {
			return err
		}
		addr += uint64(n)
		buf = buf[n:]
	}
	return nil
}

func (d *Device) readU16(addr uint64) (uint16, error) {
	var b [2]byte
	if err := d.copyFromGuest(addr, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func (d *Device) writeU16(addr uint64, v uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return d.copyToGuest(addr, b[:])
}

func (d *Device) readDesc(q int, idx uint16) (descriptor, error) {
	var b [descSize]byte
	addr := d.queues[q].descAddr + uint64(idx)*descSize
	if err := d.copyFromGuest(addr, b[:]); err != nil {
		return descriptor{}, fmt.Errorf("read descriptor %d: %w", idx, err)
	}
	return descriptor{
		addr:  binary.LittleEndian.Uint64(b[0:]),
		len:   binary.LittleEndian.Uint32(b[8:]),
		flags: binary.LittleEndian.Uint16(b[12:]),
		next:  binary.LittleEndian.Uint16(b[14:]),
	}, nil
}

// chainSizes returns the total length of the device-readable descriptors
// followed by the total length of the device-writable ones.
func (d *Device) chainSizes(q int, head uint16) (readSize, writeSize uint32, err error) {
	desc, err := d.readDesc(q, head)
	if err != nil {
		return 0, 0, err
	}
	limit := d.queues[q].num
	for n := uint32(0); ; n++ {
		if n > limit {
			return 0, 0, fmt.Errorf("%w: loop at %d", ErrBadChain, head)
		}
		if desc.writable() {
			writeSize += desc.len
		} else {
			if writeSize > 0 {
				return 0, 0, fmt.Errorf("%w: readable after writable", ErrBadChain)
			}
			readSize += desc.len
		}
		if !desc.hasNext() {
			return readSize, writeSize, nil
		}
		if desc, err = d.readDesc(q, desc.next); err != nil {
			return 0, 0, err
		}
	}
}

// transfer copies between buf and the readable (toGuest false) or writable
// (toGuest true) part of the chain at head, starting offset bytes in.
func (d *Device) transfer(q int, head uint16, offset uint32, buf []byte, toGuest bool) error {
	if len(buf) == 0 {
		return nil
	}
	desc, err := d.readDesc(q, head)
	if err != nil {
		return err
	}
	if toGuest {
		for !desc.writable() {
			if !desc.hasNext() {
				return fmt.Errorf("%w: no writable descriptor", ErrBadChain)
			}
			if desc, err = d.readDesc(q, desc.next); err != nil {
				return err
			}
		}
	}

	for offset >= desc.len {
		if desc.writable() != toGuest || !desc.hasNext() {
			return fmt.Errorf("%w: offset %d past chain", ErrBadChain, offset)
		}
		offset -= desc.len
		if desc, err = d.readDesc(q, desc.next); err != nil {
			return err
		}
	}

	for {
		if desc.writable() != toGuest {
			return fmt.Errorf("%w: direction change inside transfer", ErrBadChain)
		}
		n := min(uint32(len(buf)), desc.len-offset)
		if toGuest {
			err = d.copyToGuest(desc.addr+uint64(offset), buf[:n])
		} else {
			err = d.copyFromGuest(desc.addr+uint64(offset), buf[:n])
		}
		if err != nil {
			return err
		}
		buf = buf[n:]
		if len(buf) == 0 {
			return nil
		}
		if !desc.hasNext() {
			return fmt.Errorf("%w: chain shorter than transfer", ErrBadChain)
		}
		if desc, err = d.readDesc(q, desc.next); err != nil {
			return err
		}
		offset = 0
	}
}

// CopyFromQueue reads the device-readable part of a chain.
func (d *Device) CopyFromQueue(q int, head uint16, offset uint32, buf []byte) error {
	return d.transfer(q, head, offset, buf, false)
}

// CopyToQueue writes into the device-writable part of a chain.
func (d *Device) CopyToQueue(q int, head uint16, offset uint32, buf []byte) error {
	return d.transfer(q, head, offset, buf, true)
}

// Consume places head on the used ring with the number of bytes written and
// raises the used-buffer interrupt.
func (d *Device) Consume(q int, head uint16, written uint32) error {
	qs := &d.queues[q]
	idx, err := d.readU16(qs.usedAddr + 2)
	if err != nil {
		return err
	}
	var elem [8]byte
	binary.LittleEndian.PutUint32(elem[0:], uint32(head))
	binary.LittleEndian.PutUint32(elem[4:], written)
	slot := qs.usedAddr + 4 + uint64(uint32(idx)&(qs.num-1))*8
	if err := d.copyToGuest(slot, elem[:]); err != nil {
		return err
	}
	if err := d.writeU16(qs.usedAddr+2, idx+1); err != nil {
		return err
	}
	d.raise(VIRTIO_MMIO_INT_VRING)
	return nil
}

// nextAvail returns the head of the next available chain without
// advancing past it.
func (d *Device) nextAvail(q int) (uint16, bool, error) {
	qs := &d.queues[q]
	if !qs.ready {
		return 0, false, nil
	}
	availIdx, err := d.readU16(qs.availAddr + 2)
	if err != nil {
		return 0, false, err
	}
	if availIdx == qs.lastAvail {
		return 0, false, nil
	}
	head, err := d.readU16(qs.availAddr + 4 + uint64(uint32(qs.lastAvail)&(qs.num-1))*2)
	if err != nil {
		return 0, false, err
	}
	return head, true, nil
}

// notify drains the available ring of queue q through the handler.
func (d *Device) notify(q int) error {
	qs := &d.queues[q]
	if qs.manual {
		return nil
	}
	for {
		head, ok, err := d.nextAvail(q)
		if err != nil {
			return fmt.Errorf("%s queue %d: %w", d.Label, q, err)
		}
		if !ok {
			return nil
		}
		readSize, writeSize, err := d.chainSizes(q, head)
		if err != nil {
			d.log.Warn("virtio: dropping chain", "device", d.Label, "queue", q, "head", head, "error", err)
			qs.lastAvail++
			continue
		}
		if err := d.handler.Receive(d, q, head, readSize, writeSize); err != nil {
			d.log.Debug("virtio: request deferred", "device", d.Label, "queue", q, "error", err)
			return nil
		}
		qs.lastAvail++
	}
}

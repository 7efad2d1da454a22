// Package fdt writes and reads flattened device tree blobs (DTB version 17).
package fdt

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	magic          = 0xd00dfeed
	version        = 17
	lastCompatible = 16
	headerSize     = 40

	tokenBeginNode = 0x00000001
	tokenEndNode   = 0x00000002
	tokenProp      = 0x00000003
	tokenNop       = 0x00000004
	tokenEnd       = 0x00000009
)

// ErrUnbalanced is returned by Finish when BeginNode and EndNode calls do
// not pair up.
var ErrUnbalanced = errors.New("fdt: unbalanced nodes")

// Reservation is an entry in the memory reservation block.
type Reservation struct {
	Address uint64
	Size    uint64
}

// Builder streams nodes and properties into a structure block. Property
// names are interned into the strings block.
type Builder struct {
	structure []byte
	strings   []byte
	nameOff   map[string]uint32
	reserved  []Reservation
	depth     int
	err       error

	// BootCPU is stored as boot_cpuid_phys in the header.
	BootCPU uint32
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{nameOff: make(map[string]uint32)}
}

// Reserve adds a memory reservation entry.
func (b *Builder) Reserve(addr, size uint64) {
	b.reserved = append(b.reserved, Reservation{Address: addr, Size: size})
}

// BeginNode opens a node. The root node has an empty name.
func (b *Builder) BeginNode(name string) {
	if b.depth == 0 && len(b.structure) > 0 && b.err == nil {
		b.err = fmt.Errorf("%w: second root node %q", ErrUnbalanced, name)
	}
	b.depth++
	b.token(tokenBeginNode)
	b.structure = append(b.structure, name...)
	b.structure = append(b.structure, 0)
	b.align()
}

// BeginNodeAt opens a node named name@addr with the unit address in hex.
func (b *Builder) BeginNodeAt(name string, addr uint64) {
	b.BeginNode(fmt.Sprintf("%s@%x", name, addr))
}

// EndNode closes the innermost open node.
func (b *Builder) EndNode() {
	if b.depth == 0 {
		if b.err == nil {
			b.err = fmt.Errorf("%w: EndNode without BeginNode", ErrUnbalanced)
		}
		return
	}
	b.depth--
	b.token(tokenEndNode)
}

// Empty adds a property with no value, such as interrupt-controller.
func (b *Builder) Empty(name string) {
	b.prop(name, nil)
}

// String adds a NUL terminated string property.
func (b *Builder) String(name, value string) {
	b.prop(name, append([]byte(value), 0))
}

// Strings adds a string list property.
func (b *Builder) Strings(name string, values ...string) {
	var data []byte
	for _, v := range values {
		data = append(data, v...)
		data = append(data, 0)
	}
	b.prop(name, data)
}

// U32 adds a single cell property.
func (b *Builder) U32(name string, v uint32) {
	b.Cells(name, v)
}

// Cells adds a property made of 32-bit big-endian cells.
func (b *Builder) Cells(name string, cells ...uint32) {
	data := make([]byte, 4*len(cells))
	for i, c := range cells {
		binary.BigEndian.PutUint32(data[4*i:], c)
	}
	b.prop(name, data)
}

// U64 adds a two cell property.
func (b *Builder) U64(name string, v uint64) {
	b.Cells(name, uint32(v>>32), uint32(v))
}

// Reg adds a reg property for a node whose parent uses two address and two
// size cells.
func (b *Builder) Reg(addr, size uint64) {
	b.Cells("reg", uint32(addr>>32), uint32(addr), uint32(size>>32), uint32(size))
}

// Bytes adds a raw property.
func (b *Builder) Bytes(name string, data []byte) {
	b.prop(name, data)
}

// Finish terminates the structure block and returns the assembled blob.
func (b *Builder) Finish() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.depth != 0 {
		return nil, fmt.Errorf("%w: %d nodes left open", ErrUnbalanced, b.depth)
	}

	structure := append(b.structure[:len(b.structure):len(b.structure)], 0, 0, 0, tokenEnd)

	rsvOff := uint32(headerSize)
	rsvSize := uint32(16 * (len(b.reserved) + 1))
	structOff := rsvOff + rsvSize
	stringsOff := structOff + uint32(len(structure))
	total := stringsOff + uint32(len(b.strings))

	blob := make([]byte, total)
	be := binary.BigEndian
	be.PutUint32(blob[0:], magic)
	be.PutUint32(blob[4:], total)
	be.PutUint32(blob[8:], structOff)
	be.PutUint32(blob[12:], stringsOff)
	be.PutUint32(blob[16:], rsvOff)
	be.PutUint32(blob[20:], version)
	be.PutUint32(blob[24:], lastCompatible)
	be.PutUint32(blob[28:], b.BootCPU)
	be.PutUint32(blob[32:], uint32(len(b.strings)))
	be.PutUint32(blob[36:], uint32(len(structure)))

	for i, r := range b.reserved {
		off := rsvOff + uint32(16*i)
		be.PutUint64(blob[off:], r.Address)
		be.PutUint64(blob[off+8:], r.Size)
	}
	copy(blob[structOff:], structure)
	copy(blob[stringsOff:], b.strings)
	return blob, nil
}

func (b *Builder) prop(name string, data []byte) {
	if b.depth == 0 && b.err == nil {
		b.err = fmt.Errorf("%w: property %q outside a node", ErrUnbalanced, name)
	}
	b.token(tokenProp)
	b.token(uint32(len(data)))
	b.token(b.intern(name))
	b.structure = append(b.structure, data...)
	b.align()
}

func (b *Builder) token(v uint32) {
	b.structure = binary.BigEndian.AppendUint32(b.structure, v)
}

func (b *Builder) align() {
	for len(b.structure)%4 != 0 {
		b.structure = append(b.structure, 0)
	}
}

func (b *Builder) intern(name string) uint32 {
	if off, ok := b.nameOff[name]; ok {
		return off
	}
	off := uint32(len(b.strings))
	b.nameOff[name] = off
	b.strings = append(b.strings, name...)
	b.strings = append(b.strings, 0)
	return off
}

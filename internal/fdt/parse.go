package fdt

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformed is returned by Parse for blobs that do not decode.
var ErrMalformed = errors.New("fdt: malformed blob")

// Parse decodes a blob produced by Builder (or any version 16/17 DTB) into a
// node tree.
func Parse(blob []byte) (*Node, error) {
	if len(blob) < headerSize {
		return nil, fmt.Errorf("%w: short header", ErrMalformed)
	}
	be := binary.BigEndian
	if be.Uint32(blob[0:]) != magic {
		return nil, fmt.Errorf("%w: bad magic %#x", ErrMalformed, be.Uint32(blob[0:]))
	}
	total := be.Uint32(blob[4:])
	structOff := be.Uint32(blob[8:])
	stringsOff := be.Uint32(blob[12:])
	stringsSize := be.Uint32(blob[32:])
	structSize := be.Uint32(blob[36:])
	if uint64(total) > uint64(len(blob)) ||
		uint64(structOff)+uint64(structSize) > uint64(total) ||
		uint64(stringsOff)+uint64(stringsSize) > uint64(total) {
		return nil, fmt.Errorf("%w: block outside blob", ErrMalformed)
	}

	p := parser{
		data:    blob[structOff : structOff+structSize],
		strings: blob[stringsOff : stringsOff+stringsSize],
	}
	for {
		tok, err := p.u32()
		if err != nil {
			return nil, err
		}
		switch tok {
		case tokenNop:
			continue
		case tokenBeginNode:
			root, err := p.node()
			if err != nil {
				return nil, err
			}
			return root, nil
		default:
			return nil, fmt.Errorf("%w: unexpected token %#x before root", ErrMalformed, tok)
		}
	}
}

type parser struct {
	data    []byte
	strings []byte
	off     int
}

func (p *parser) u32() (uint32, error) {
	if p.off+4 > len(p.data) {
		return 0, fmt.Errorf("%w: truncated structure", ErrMalformed)
	}
	v := binary.BigEndian.Uint32(p.data[p.off:])
	p.off += 4
	return v, nil
}

func (p *parser) cstring(buf []byte, off int) (string, int, error) {
	for i := off; i < len(buf); i++ {
		if buf[i] == 0 {
			return string(buf[off:i]), i + 1, nil
		}
	}
	return "", 0, fmt.Errorf("%w: unterminated string", ErrMalformed)
}

func (p *parser) align() {
	p.off = (p.off + 3) &^ 3
}

// node parses a node whose BEGIN_NODE token has been consumed.
func (p *parser) node() (*Node, error) {
	name, next, err := p.cstring(p.data, p.off)
	if err != nil {
		return nil, err
	}
	p.off = next
	p.align()

	n := &Node{Name: name}
	for {
		tok, err := p.u32()
		if err != nil {
			return nil, err
		}
		switch tok {
		case tokenNop:
		case tokenProp:
			size, err := p.u32()
			if err != nil {
				return nil, err
			}
			nameOff, err := p.u32()
			if err != nil {
				return nil, err
			}
			if p.off+int(size) > len(p.data) {
				return nil, fmt.Errorf("%w: property overruns structure", ErrMalformed)
			}
			pname, _, err := p.cstring(p.strings, int(nameOff))
			if err != nil {
				return nil, err
			}
			value := append([]byte(nil), p.data[p.off:p.off+int(size)]...)
			p.off += int(size)
			p.align()
			n.Properties = append(n.Properties, Property{Name: pname, Value: value})
		case tokenBeginNode:
			child, err := p.node()
			if err != nil {
				return nil, err
			}
			n.Children = append(n.Children, child)
		case tokenEndNode:
			return n, nil
		default:
			return nil, fmt.Errorf("%w: unexpected token %#x in %q", ErrMalformed, tok, name)
		}
	}
}

package fdt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// Property is one name/value pair of a parsed node.
type Property struct {
	Name  string
	Value []byte
}

// String returns the value as a single NUL terminated string.
func (p Property) String() string {
	return strings.TrimRight(string(p.Value), "\x00")
}

// Strings splits a string list value.
func (p Property) Strings() []string {
	if len(p.Value) == 0 {
		return nil
	}
	return strings.Split(strings.TrimSuffix(string(p.Value), "\x00"), "\x00")
}

// Cells decodes the value as big-endian 32-bit cells. Trailing bytes that do
// not form a full cell are ignored.
func (p Property) Cells() []uint32 {
	cells := make([]uint32, len(p.Value)/4)
	for i := range cells {
		cells[i] = binary.BigEndian.Uint32(p.Value[4*i:])
	}
	return cells
}

// Node is a parsed device tree node.
type Node struct {
	Name       string
	Properties []Property
	Children   []*Node
}

// Property returns the named property.
func (n *Node) Property(name string) (Property, bool) {
	for _, p := range n.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// Child returns the direct child with the given name.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Lookup resolves a slash separated path such as "/soc/plic@40100000".
func (n *Node) Lookup(path string) *Node {
	cur := n
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		if part == "" {
			continue
		}
		if cur = cur.Child(part); cur == nil {
			return nil
		}
	}
	return cur
}

// Dump writes the tree in a dts-like text form.
func (n *Node) Dump(w io.Writer) error {
	return n.dump(w, 0)
}

func (n *Node) dump(w io.Writer, depth int) error {
	indent := strings.Repeat("\t", depth)
	name := n.Name
	if depth == 0 {
		name = "/"
	}
	if _, err := fmt.Fprintf(w, "%s%s {\n", indent, name); err != nil {
		return err
	}
	for _, p := range n.Properties {
		if _, err := fmt.Fprintf(w, "%s\t%s%s;\n", indent, p.Name, formatValue(p.Value)); err != nil {
			return err
		}
	}
	for _, c := range n.Children {
		if err := c.dump(w, depth+1); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "%s};\n", indent)
	return err
}

func formatValue(v []byte) string {
	if len(v) == 0 {
		return ""
	}
	if printable(v) {
		parts := strings.Split(strings.TrimSuffix(string(v), "\x00"), "\x00")
		return ` = "` + strings.Join(parts, `", "`) + `"`
	}
	if len(v)%4 == 0 {
		var sb strings.Builder
		sb.WriteString(" = <")
		for i := 0; i < len(v); i += 4 {
			if i > 0 {
				sb.WriteByte(' ')
			}
			fmt.Fprintf(&sb, "%#x", binary.BigEndian.Uint32(v[i:]))
		}
		sb.WriteByte('>')
		return sb.String()
	}
	return fmt.Sprintf(" = [% x]", v)
}

func printable(v []byte) bool {
	if v[len(v)-1] != 0 || bytes.Contains(v, []byte{0, 0}) || v[0] == 0 {
		return false
	}
	for _, c := range v[:len(v)-1] {
		if c != 0 && (c < 0x20 || c > 0x7e) {
			return false
		}
	}
	return true
}

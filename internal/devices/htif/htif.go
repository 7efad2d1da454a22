// Package htif implements the Berkeley host-target interface used by
// firmware for console output and power off.
package htif

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/Blameying/space-emu/internal/riscv"
)

// Size is the length of the register window.
const Size = 16

const (
	regToHost    = 0
	regToHostH   = 4
	regFromHost  = 8
	regFromHostH = 12

	devConsole  = 1
	cmdGetchar  = 0
	cmdPutchar  = 1
	powerOffCmd = 1
)

// ErrAccessSize is returned for transfers that are not made of 32-bit words.
var ErrAccessSize = errors.New("htif: access must be 32-bit words")

// HTIF holds the tohost and fromhost mailboxes.
type HTIF struct {
	riscv.Window
	out      io.Writer
	powerOff func()
	log      *slog.Logger

	tohost   uint64
	fromhost uint64
}

// New creates an HTIF at base. Console output goes to out, and powerOff is
// called when the guest requests a shutdown.
func New(base uint64, out io.Writer, powerOff func(), logger *slog.Logger) *HTIF {
	if logger == nil {
		logger = slog.Default()
	}
	if out == nil {
		out = io.Discard
	}
	return &HTIF{
		Window:   riscv.Window{Label: "htif", Base: base, Length: Size},
		out:      out,
		powerOff: powerOff,
		log:      logger,
	}
}

func (h *HTIF) Init() error    { return nil }
func (h *HTIF) Release() error { return nil }

func (h *HTIF) Read(off uint64, dst []byte) (int, error) {
	if len(dst) == 0 || len(dst)%4 != 0 {
		return 0, fmt.Errorf("%w: read of %d bytes at %#x", ErrAccessSize, len(dst), off)
	}
	for i := 0; i < len(dst); i += 4 {
		var v uint32
		switch off + uint64(i) {
		case regToHost:
			v = uint32(h.tohost)
		case regToHostH:
			v = uint32(h.tohost >> 32)
		case regFromHost:
			v = uint32(h.fromhost)
		case regFromHostH:
			v = uint32(h.fromhost >> 32)
		default:
			return 0, fmt.Errorf("htif: read at %#x", off+uint64(i))
		}
		binary.LittleEndian.PutUint32(dst[i:], v)
	}
	return len(dst), nil
}

func (h *HTIF) Write(off uint64, src []byte) (int, error) {
	if len(src) == 0 || len(src)%4 != 0 {
		return 0, fmt.Errorf("%w: write of %d bytes at %#x", ErrAccessSize, len(src), off)
	}
	for i := 0; i < len(src); i += 4 {
		v := uint64(binary.LittleEndian.Uint32(src[i:]))
		switch off + uint64(i) {
		case regToHost:
			h.tohost = h.tohost&^0xffff_ffff | v
		case regToHostH:
			h.tohost = h.tohost&0xffff_ffff | v<<32
			h.command()
		case regFromHost:
			h.fromhost = h.fromhost&^0xffff_ffff | v
		case regFromHostH:
			h.fromhost = h.fromhost&0xffff_ffff | v<<32
		default:
			return 0, fmt.Errorf("htif: write at %#x", off+uint64(i))
		}
	}
	return len(src), nil
}

// command runs once the upper half of tohost has been written.
func (h *HTIF) command() {
	device := h.tohost >> 56
	cmd := (h.tohost >> 48) & 0xff
	switch {
	case h.tohost == powerOffCmd:
		h.log.Info("htif power off")
		if h.powerOff != nil {
			h.powerOff()
		}
	case device == devConsole && cmd == cmdPutchar:
		if _, err := h.out.Write([]byte{byte(h.tohost)}); err != nil {
			h.log.Debug("htif console write failed", "error", err)
		}
		h.tohost = 0
		h.fromhost = device<<56 | cmd<<48
	case device == devConsole && cmd == cmdGetchar:
		h.tohost = 0
	default:
		h.log.Warn("htif unsupported command", "tohost", fmt.Sprintf("%#016x", h.tohost))
	}
}

var _ riscv.Region = (*HTIF)(nil)

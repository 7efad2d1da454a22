// Package console connects the host terminal to the guest console device.
package console

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/term"
)

// ErrQuit is returned by Take once the user typed the exit sequence.
var ErrQuit = errors.New("console: exit requested")

const (
	escapeChar = 0x01 // Ctrl-A

	defaultCols = 80
	defaultRows = 25

	helpText = "\r\n" +
		"C-a h   print this help\r\n" +
		"C-a x   exit emulator\r\n" +
		"C-a C-a send C-a\r\n"
)

// Host is the host side of the console: raw terminal input gathered by a
// background reader, and guest output written straight through.
type Host struct {
	in  io.Reader
	out io.Writer
	log *slog.Logger

	fd       int
	terminal bool
	restore  *term.State

	chunks  chan []byte
	pending []byte
	escaped bool
	quit    bool

	resized   atomic.Bool
	stopWatch func()
	closeOnce sync.Once
}

// Open puts in into raw mode when it is a terminal and starts reading it.
func Open(in io.Reader, out io.Writer, logger *slog.Logger) (*Host, error) {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Host{
		in:     in,
		out:    out,
		log:    logger,
		fd:     -1,
		chunks: make(chan []byte, 64),
	}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		h.fd = int(f.Fd())
		state, err := term.MakeRaw(h.fd)
		if err != nil {
			return nil, fmt.Errorf("enable raw mode: %w", err)
		}
		h.restore = state
		h.terminal = true
	}
	h.resized.Store(true)
	h.stopWatch = watchResize(func() { h.resized.Store(true) })

	go h.readLoop()
	return h, nil
}

func (h *Host) readLoop() {
	defer close(h.chunks)
	buf := make([]byte, 256)
	for {
		n, err := h.in.Read(buf)
		if n > 0 {
			h.chunks <- append([]byte(nil), buf[:n]...)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				h.log.Debug("console: input closed", "error", err)
			}
			return
		}
	}
}

// Write sends guest output to the host.
func (h *Host) Write(p []byte) (int, error) {
	return h.out.Write(p)
}

// Pending reports whether filtered input is waiting to be delivered.
func (h *Host) Pending() bool {
	h.drain()
	return len(h.pending) > 0
}

// Take removes up to max bytes of input. It never blocks.
func (h *Host) Take(max int) ([]byte, error) {
	h.drain()
	if h.quit {
		return nil, ErrQuit
	}
	n := min(max, len(h.pending))
	if n <= 0 {
		return nil, nil
	}
	out := h.pending[:n:n]
	h.pending = h.pending[n:]
	return out, nil
}

func (h *Host) drain() {
	for {
		select {
		case chunk, ok := <-h.chunks:
			if !ok {
				return
			}
			h.filter(chunk)
		default:
			return
		}
	}
}

// filter interprets the Ctrl-A escape sequences.
func (h *Host) filter(chunk []byte) {
	for _, ch := range chunk {
		if h.escaped {
			h.escaped = false
			switch ch {
			case 'x':
				fmt.Fprint(h.out, "\r\nTerminated\r\n")
				h.quit = true
			case 'h':
				fmt.Fprint(h.out, helpText)
			case escapeChar:
				h.pending = append(h.pending, ch)
			}
			continue
		}
		if ch == escapeChar {
			h.escaped = true
			continue
		}
		h.pending = append(h.pending, ch)
	}
}

// Resized reports, once, that the terminal size may have changed since the
// previous call. The first call always reports true.
func (h *Host) Resized() bool {
	return h.resized.Swap(false)
}

// Size returns the terminal size, 80x25 when unknown or implausibly small.
func (h *Host) Size() (cols, rows int) {
	if !h.terminal {
		return defaultCols, defaultRows
	}
	w, r, err := term.GetSize(h.fd)
	if err != nil || w < 4 || r < 4 {
		return defaultCols, defaultRows
	}
	return w, r
}

// Close restores the terminal.
func (h *Host) Close() error {
	var err error
	h.closeOnce.Do(func() {
		if h.stopWatch != nil {
			h.stopWatch()
		}
		if h.restore != nil {
			err = term.Restore(h.fd, h.restore)
		}
	})
	return err
}

//go:build unix

package ram

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// allocate maps anonymous zeroed pages so large guests do not sit on the Go
// heap.
func allocate(size uint64) ([]byte, func([]byte) error, error) {
	if size == 0 {
		return []byte{}, nil, nil
	}
	pageSize := uint64(unix.Getpagesize())
	allocSize := (size + pageSize - 1) / pageSize * pageSize

	mem, err := unix.Mmap(-1, 0, int(allocSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, nil, fmt.Errorf("mmap: %w", err)
	}
	return mem[:size], func(b []byte) error {
		return unix.Munmap(b[:cap(b)])
	}, nil
}

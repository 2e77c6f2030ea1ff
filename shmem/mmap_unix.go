//go:build unix

package shmem

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Anonymous maps n words of anonymous shared memory.
func Anonymous(n int) (*Region, error) {
	b, err := unix.Mmap(-1, 0, n*WordSize,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("map anonymous region: %w", err)
	}
	return fromMapping(b)
}

// Map maps n words of the file at path, creating and sizing it if needed.
// Two processes mapping the same file under /dev/shm share the region.
func Map(path string, n int) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open region file: %w", err)
	}
	defer f.Close()

	size := int64(n * WordSize)
	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat region file: %w", err)
	}
	if st.Size() < size {
		if err := f.Truncate(size); err != nil {
			return nil, fmt.Errorf("size region file: %w", err)
		}
	}

	b, err := unix.Mmap(int(f.Fd()), 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("map region file: %w", err)
	}
	return fromMapping(b)
}

// MapFile maps size bytes at byte offset off of an open file descriptor,
// as used for UIO device maps.
func MapFile(fd int, off int64, size int) ([]byte, error) {
	b, err := unix.Mmap(fd, off, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Unmap releases memory returned by MapFile.
func Unmap(b []byte) error {
	return unix.Munmap(b)
}

func fromMapping(b []byte) (*Region, error) {
	r, err := FromBytes(b, 0)
	if err != nil {
		_ = unix.Munmap(b)
		return nil, err
	}
	r.unmap = func() error { return unix.Munmap(b) }
	return r, nil
}

//go:build !unix

package shmem

import "errors"

var errNoMmap = errors.New("shared memory mapping not supported on this platform")

// Anonymous is not supported on this platform.
func Anonymous(n int) (*Region, error) { return nil, errNoMmap }

// Map is not supported on this platform.
func Map(path string, n int) (*Region, error) { return nil, errNoMmap }

// MapFile is not supported on this platform.
func MapFile(fd int, off int64, size int) ([]byte, error) { return nil, errNoMmap }

// Unmap is not supported on this platform.
func Unmap(b []byte) error { return errNoMmap }

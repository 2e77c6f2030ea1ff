package shmem

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"
)

// WordSize is the size of one shared-memory word in bytes.
const WordSize = 4

// Errors.
var (
	ErrOutOfRange = errors.New("offset out of range")
	ErrMisaligned = errors.New("memory not word aligned")
)

// Region is a window of 32-bit words in memory shared with the firmware.
// Offsets are in words relative to the start of the window.
type Region struct {
	words []uint32
	iova  uint64 // Device-visible address of word 0
	unmap func() error
}

// New allocates a heap-backed region of n words.
func New(n int) *Region {
	return &Region{words: make([]uint32, n)}
}

// FromBytes wraps memory that is already mapped, for example a UIO map.
// The slice must be word aligned and its length a multiple of WordSize.
func FromBytes(b []byte, iova uint64) (*Region, error) {
	if len(b) == 0 {
		return &Region{iova: iova}, nil
	}
	if uintptr(unsafe.Pointer(&b[0]))%WordSize != 0 || len(b)%WordSize != 0 {
		return nil, ErrMisaligned
	}
	words := unsafe.Slice((*uint32)(unsafe.Pointer(&b[0])), len(b)/WordSize)
	return &Region{words: words, iova: iova}, nil
}

// Len returns the size of the region in words.
func (r *Region) Len() int {
	return len(r.words)
}

// IOVA returns the device-visible address of the first word.
func (r *Region) IOVA() uint64 {
	return r.iova
}

// SetIOVA sets the device-visible address of the first word.
func (r *Region) SetIOVA(iova uint64) {
	r.iova = iova
}

// Load atomically reads the word at off.
func (r *Region) Load(off int) uint32 {
	return atomic.LoadUint32(&r.words[off])
}

// Store atomically writes the word at off.
func (r *Region) Store(off int, v uint32) {
	atomic.StoreUint32(&r.words[off], v)
}

// Add atomically adds delta to the word at off and returns the new value.
func (r *Region) Add(off int, delta uint32) uint32 {
	return atomic.AddUint32(&r.words[off], delta)
}

// Slice returns a view of n words starting at off. The view shares memory
// with r and its IOVA is offset accordingly.
func (r *Region) Slice(off, n int) (*Region, error) {
	if off < 0 || n < 0 || off+n > len(r.words) {
		return nil, fmt.Errorf("%w: [%d:%d] of %d words", ErrOutOfRange, off, off+n, len(r.words))
	}
	return &Region{
		words: r.words[off : off+n : off+n],
		iova:  r.iova + uint64(off)*WordSize,
	}, nil
}

// Zero clears every word in the region.
func (r *Region) Zero() {
	for i := range r.words {
		atomic.StoreUint32(&r.words[i], 0)
	}
}

// CopyOut atomically reads len(dst) words starting at off.
func (r *Region) CopyOut(dst []uint32, off int) {
	for i := range dst {
		dst[i] = atomic.LoadUint32(&r.words[off+i])
	}
}

// Close releases the backing mapping, if any. Views returned by Slice must
// not be used afterwards.
func (r *Region) Close() error {
	if r.unmap == nil {
		return nil
	}
	err := r.unmap()
	r.unmap = nil
	r.words = nil
	return err
}

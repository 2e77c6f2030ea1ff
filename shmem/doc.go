// Package shmem provides word-addressable memory shared between the host and
// the GMU firmware.
//
// The firmware runs on its own core and is outside the Go memory model, so
// every access to shared words goes through [Region.Load] and [Region.Store].
// Both use 32-bit atomic operations, which are sequentially consistent and
// therefore order surrounding accesses the way explicit barriers would: data
// stored before a cursor update is visible to any observer of that update.
//
// Regions can be backed by the Go heap ([New]), by an anonymous shared
// mapping ([Anonymous]), by a file such as one under /dev/shm ([Map]) or by
// memory mapped by a HAL ([FromBytes]).
package shmem

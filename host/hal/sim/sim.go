package sim

import (
	"context"
	"sync"
	"sync/atomic"

	fwhal "github.com/ardnew/softgmu/firmware/hal"
	"github.com/ardnew/softgmu/hfi"
	"github.com/ardnew/softgmu/host/hal"
	"github.com/ardnew/softgmu/pkg"
	"github.com/ardnew/softgmu/shmem"
)

// Bus connects a host and a firmware in one process. Both sides share one
// HFI region; the doorbell is a channel and the interrupt status is an
// atomic word.
type Bus struct {
	mem *shmem.Region

	doorbell chan struct{}
	irq      atomic.Uint32

	// Counters for tests and diagnostics
	doorbells atomic.Uint64
	raises    atomic.Uint64

	closed    chan struct{}
	closeOnce sync.Once

	host     hostSide
	firmware firmwareSide
}

// New creates a bus with a heap-backed HFI region.
func New() *Bus {
	return NewWithRegion(shmem.New(hfi.RegionWords))
}

// NewWithRegion creates a bus over an existing region, for example one
// returned by shmem.Anonymous.
func NewWithRegion(mem *shmem.Region) *Bus {
	b := &Bus{
		mem:      mem,
		doorbell: make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}
	b.host.bus = b
	b.firmware.bus = b
	return b
}

// Host returns the host side of the bus.
func (b *Bus) Host() hal.GMUHAL {
	return &b.host
}

// Firmware returns the firmware side of the bus.
func (b *Bus) Firmware() fwhal.FirmwareHAL {
	return &b.firmware
}

// Memory returns the shared region.
func (b *Bus) Memory() *shmem.Region {
	return b.mem
}

// Doorbells returns how many times the host rang the doorbell.
func (b *Bus) Doorbells() uint64 {
	return b.doorbells.Load()
}

// Raises returns how many times the firmware raised an interrupt.
func (b *Bus) Raises() uint64 {
	return b.raises.Load()
}

// Close wakes any waiter and makes further doorbell waits fail.
func (b *Bus) Close() error {
	b.closeOnce.Do(func() {
		close(b.closed)
		pkg.LogDebug(pkg.ComponentHAL, "sim bus closed")
	})
	return nil
}

func (b *Bus) isClosed() bool {
	select {
	case <-b.closed:
		return true
	default:
		return false
	}
}

// hostSide implements hal.GMUHAL.
type hostSide struct {
	bus *Bus
}

func (h *hostSide) Init(ctx context.Context) error {
	if h.bus.isClosed() {
		return pkg.ErrNotOpen
	}
	return ctx.Err()
}

func (h *hostSide) Memory() *shmem.Region {
	return h.bus.mem
}

func (h *hostSide) RingDoorbell() error {
	if h.bus.isClosed() {
		return pkg.ErrNotOpen
	}
	h.bus.doorbells.Add(1)
	select {
	case h.bus.doorbell <- struct{}{}:
	default:
		// A doorbell is already pending; the firmware drains everything.
	}
	return nil
}

func (h *hostSide) IRQStatus() hal.IRQ {
	return hal.IRQ(h.bus.irq.Load())
}

func (h *hostSide) ClearIRQ(mask hal.IRQ) error {
	h.bus.irq.And(^uint32(mask))
	return nil
}

func (h *hostSide) Close() error {
	return h.bus.Close()
}

// firmwareSide implements fwhal.FirmwareHAL.
type firmwareSide struct {
	bus *Bus
}

func (f *firmwareSide) Init(ctx context.Context) error {
	if f.bus.isClosed() {
		return pkg.ErrNotOpen
	}
	return ctx.Err()
}

func (f *firmwareSide) Memory() *shmem.Region {
	return f.bus.mem
}

func (f *firmwareSide) WaitDoorbell(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.bus.closed:
		return fwhal.ErrClosed
	case <-f.bus.doorbell:
		return nil
	}
}

func (f *firmwareSide) RaiseIRQ(mask uint32) error {
	if f.bus.isClosed() {
		return pkg.ErrNotOpen
	}
	f.bus.irq.Or(mask)
	f.bus.raises.Add(1)
	return nil
}

func (f *firmwareSide) Close() error {
	return f.bus.Close()
}

var (
	_ hal.GMUHAL        = (*hostSide)(nil)
	_ fwhal.FirmwareHAL = (*firmwareSide)(nil)
)

package hal

import (
	"context"
	"errors"

	"github.com/ardnew/softgmu/shmem"
)

// GMU-to-host interrupt bits raised by the firmware.
const (
	IRQMsgQ     uint32 = 1 << 0  // Response queue has data
	IRQCM3Fault uint32 = 1 << 23 // Firmware core fault
)

// ErrClosed is returned by WaitDoorbell after Close.
var ErrClosed = errors.New("firmware hal closed")

// FirmwareHAL defines the Hardware Abstraction Layer interface for the GMU
// side of the HFI.
//
// The firmware runs against the same HFI region as the host. It learns of
// new commands through the doorbell and signals responses by raising
// interrupts.
type FirmwareHAL interface {
	// Init prepares the firmware side. The context can be used to cancel
	// initialization.
	Init(ctx context.Context) error

	// Memory returns the HFI region shared with the host.
	Memory() *shmem.Region

	// WaitDoorbell blocks until the host rings the doorbell or the context
	// is cancelled. Doorbells rung while nobody waits are coalesced into
	// one.
	WaitDoorbell(ctx context.Context) error

	// RaiseIRQ sets the given bits in the host's interrupt status.
	RaiseIRQ(mask uint32) error

	// Close releases all resources associated with the HAL.
	Close() error
}

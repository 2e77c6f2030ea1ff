package hal

import (
	"context"
	"strings"

	"github.com/ardnew/softgmu/hfi"
	"github.com/ardnew/softgmu/shmem"
)

// IRQ is a set of GMU-to-host interrupt bits.
type IRQ uint32

// GMU-to-host interrupt bits (GMU2HOST_INTR_INFO).
const (
	IRQMsgQ     IRQ = 1 << 0  // Response queue has data
	IRQCM3Fault IRQ = 1 << 23 // Firmware core fault
)

// String returns the names of the set bits.
func (i IRQ) String() string {
	if i == 0 {
		return "none"
	}
	var names []string
	if i&IRQMsgQ != 0 {
		names = append(names, "msgq")
	}
	if i&IRQCM3Fault != 0 {
		names = append(names, "cm3_fault")
	}
	if rest := i &^ (IRQMsgQ | IRQCM3Fault); rest != 0 {
		names = append(names, "other")
	}
	return strings.Join(names, "|")
}

// GMUHAL defines the Hardware Abstraction Layer interface for the host side
// of the HFI.
//
// The HAL owns the shared HFI memory and the two interrupt paths between
// host and GMU. All protocol logic lives in the host stack.
//
// Memory, RingDoorbell, IRQStatus and ClearIRQ must be safe for concurrent
// use.
type GMUHAL interface {
	// Init prepares the hardware. The context can be used to cancel
	// initialization.
	Init(ctx context.Context) error

	// Memory returns the HFI region, at least hfi.RegionWords long.
	Memory() *shmem.Region

	// RingDoorbell signals the GMU that the command queue has data
	// (HOST2GMU_INTR_SET).
	RingDoorbell() error

	// IRQStatus returns the pending GMU-to-host interrupts
	// (GMU2HOST_INTR_INFO).
	IRQStatus() IRQ

	// ClearIRQ acknowledges the given interrupt bits (GMU2HOST_INTR_CLR).
	ClearIRQ(mask IRQ) error

	// Close releases all resources associated with the HAL.
	Close() error
}

// PowerTableProvider supplies the rail level tables sent during bootstrap.
// Levels are ordered lowest to highest.
type PowerTableProvider interface {
	PowerLevels() (gpu []hfi.GXPerfLevel, gmu []hfi.PerfLevel, err error)
}

// BandwidthTableProvider supplies the interconnect vote table sent during
// bootstrap. The table is opaque to the host stack.
type BandwidthTableProvider interface {
	BandwidthTable() (*hfi.BandwidthTable, error)
}

// FirmwareLoader brings the GMU firmware up to the point where it services
// the HFI queues.
type FirmwareLoader interface {
	WaitReady(ctx context.Context) error
}

// FirmwareLoaderFunc adapts a function to FirmwareLoader.
type FirmwareLoaderFunc func(ctx context.Context) error

// WaitReady calls f.
func (f FirmwareLoaderFunc) WaitReady(ctx context.Context) error { return f(ctx) }

// StaticTables serves fixed power and bandwidth tables.
type StaticTables struct {
	GPU       []hfi.GXPerfLevel
	GMU       []hfi.PerfLevel
	Bandwidth hfi.BandwidthTable
}

// PowerLevels implements PowerTableProvider.
func (s *StaticTables) PowerLevels() ([]hfi.GXPerfLevel, []hfi.PerfLevel, error) {
	return s.GPU, s.GMU, nil
}

// BandwidthTable implements BandwidthTableProvider.
func (s *StaticTables) BandwidthTable() (*hfi.BandwidthTable, error) {
	bw := s.Bandwidth
	return &bw, nil
}

var (
	_ PowerTableProvider     = (*StaticTables)(nil)
	_ BandwidthTableProvider = (*StaticTables)(nil)
	_ FirmwareLoader         = FirmwareLoaderFunc(nil)
)

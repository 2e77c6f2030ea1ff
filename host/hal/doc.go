// Package hal defines the Hardware Abstraction Layer interface for the host
// side of the GMU HFI, together with the collaborator interfaces the
// bootstrap sequence depends on.
//
// # Interface Overview
//
// [GMUHAL] covers what the host stack needs from the platform:
//   - The shared HFI memory region
//   - The host-to-GMU doorbell
//   - GMU-to-host interrupt status and clear
//
// The collaborators supply data the stack transports but does not compute:
//   - [PowerTableProvider]: GPU and GMU rail levels
//   - [BandwidthTableProvider]: the opaque interconnect vote table
//   - [FirmwareLoader]: waits for the firmware to service the queues
//
// # Implementing a HAL
//
// To implement a HAL for a new platform:
//  1. Map the HFI memory and wrap it with shmem.FromBytes
//  2. Map the GMU register block for the doorbell and interrupt registers
//  3. Implement the [GMUHAL] methods on top of both
//
// # Example
//
//	type MyGMUHAL struct {
//	    mem  *shmem.Region
//	    regs *shmem.Region
//	}
//
//	func (h *MyGMUHAL) RingDoorbell() error {
//	    h.regs.Store(regHost2GMUIntrSet, 1)
//	    return nil
//	}
//
//	// ... implement remaining GMUHAL methods
//
// An in-process HAL paired with the simulated firmware is available in
// [github.com/ardnew/softgmu/host/hal/sim]; a Linux UIO HAL is available in
// [github.com/ardnew/softgmu/host/hal/linux].
package hal

// Package hal defines the Hardware Abstraction Layer interface for the GMU
// firmware side of the HFI.
//
// # Interface Overview
//
// The [FirmwareHAL] interface gives the firmware:
//
//   - The HFI region shared with the host
//   - A blocking wait on the host-to-GMU doorbell
//   - The GMU-to-host interrupt line
//
// The firmware implements all queue and message handling, leaving the HAL
// to move doorbells and interrupts.
//
// # Example
//
//	type MyFirmwareHAL struct {
//	    mem      *shmem.Region
//	    doorbell chan struct{}
//	}
//
//	func (h *MyFirmwareHAL) WaitDoorbell(ctx context.Context) error {
//	    select {
//	    case <-ctx.Done():
//	        return ctx.Err()
//	    case <-h.doorbell:
//	        return nil
//	    }
//	}
//
//	// ... implement remaining FirmwareHAL methods
//
// An in-process HAL paired with the host is available in
// [github.com/ardnew/softgmu/host/hal/sim].
package hal

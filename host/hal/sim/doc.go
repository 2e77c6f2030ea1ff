// Package sim provides an in-process HAL pair for the GMU HFI.
//
// A [Bus] owns one HFI region and hands out two views of it: [Bus.Host]
// implements the host stack's [hal.GMUHAL] and [Bus.Firmware] implements the
// simulated firmware's FirmwareHAL. It is designed for tests and for running
// the full bootstrap without hardware.
//
// # Signaling
//
// The host-to-GMU doorbell is a channel with room for one pending ring;
// rings that arrive while one is pending are coalesced, which is safe
// because the firmware drains the whole command queue on each wakeup. The
// GMU-to-host interrupt status is an atomic word the firmware sets and the
// host clears.
//
// # Usage
//
//	bus := sim.New()
//	fw := firmware.New(bus.Firmware(), firmware.DefaultConfig())
//	h := host.New(bus.Host(), tables, tables, fw, host.DefaultConfig())
//
//	if err := h.Open(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	go fw.Run(ctx)
//	if err := h.Init(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// The region may be backed by shared memory from shmem.Anonymous so that it
// behaves like a real mapping.
package sim

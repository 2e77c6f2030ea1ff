// Package host implements the host side of the GMU Host-to-Firmware
// Interface.
//
// It is platform-agnostic and interacts with hardware via the [hal.GMUHAL]
// interface defined in the github.com/ardnew/softgmu/host/hal package. Rail
// and bandwidth tables come from collaborators so that no platform data is
// baked into the stack.
//
// # Architecture
//
// The host stack is organized into three layers:
//
//   - [Transport] runs one request/response transaction at a time
//   - [Session] sequences the bootstrap messages over a [Transactor]
//   - [Host] owns the queue table, the transport and the session
//
// # Transactions
//
// [Transport.SendAndAwait] writes a command, polls the HAL interrupt status
// for the response bit, clears it and reads the response queue. Error
// reports and responses for other sequence numbers are logged and skipped.
// Errors carry the HFI error taxonomy from the pkg package:
//
//	_, err := h.Send(ctx, &hfi.Test{}, nil)
//	var rejected *pkg.FirmwareRejectedError
//	switch {
//	case errors.As(err, &rejected):
//	    // Firmware answered with rejected.Code
//	case errors.Is(err, pkg.ErrTimeout):
//	    // Firmware state unknown; reset
//	}
//
// # Bootstrap
//
// The session advances through:
//
//	Idle → VersionExchanged → PerfTableSent → BandwidthTableSent →
//	FeatureControlSent → CoreStarted → BandwidthVoteSent → Started
//
// A failed stage moves it to Failed; only Stop (which resets the session)
// leaves that state. Retrying is left to the caller.
//
// # Example
//
//	h := host.New(gmu, tables, tables, loader, host.DefaultConfig())
//	if err := h.Open(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer h.Close()
//
//	if err := h.Init(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer h.Stop(ctx)
//
//	// Vote for the lowest GPU level
//	if err := h.SetFrequency(ctx, 0, 0); err != nil {
//	    log.Fatal(err)
//	}
package host

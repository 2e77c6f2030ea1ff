// Package pkg provides shared utilities for the softgmu HFI stack.
//
// This package contains common functionality used by the host stack, the
// simulated firmware and the HALs, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel errors for the HFI error taxonomy
//   - Typed errors carrying firmware codes and corrupt header details
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with HFI-specific context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentSession, "session started", "version", v)
//
// # Errors
//
// Transport errors are sentinel values. Firmware rejections and corrupt
// headers are typed errors that still match their sentinel:
//
//	var rejected *pkg.FirmwareRejectedError
//	if errors.As(err, &rejected) {
//	    // Branch on rejected.Code
//	}
//
//	if pkg.IsFatal(err) {
//	    // Power the GMU down and start over
//	}
package pkg

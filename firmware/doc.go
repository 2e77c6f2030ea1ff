// Package firmware implements a simulated GMU firmware that services the
// HFI queues.
//
// It is platform-agnostic and interacts with its environment via the
// [hal.FirmwareHAL] interface defined in the
// [github.com/ardnew/softgmu/firmware/hal] package. Paired with the host
// stack over [github.com/ardnew/softgmu/host/hal/sim], it lets the whole
// bootstrap run in one process.
//
// # Behavior
//
// On every doorbell the firmware drains the command queue. Each command is
// validated against its registered layout, applied to the firmware [State]
// and acknowledged on the response queue with the command's header echoed
// in the ACK. The response interrupt is raised after every response write.
//
// A command queue message with an impossible length is a fatal fault: the
// firmware stops draining and raises the core fault interrupt.
//
// When logging is enabled the firmware enables the debug and log queues at
// start and writes one record per handled command to the log queue.
//
// # Fault Injection
//
// Tests drive the host's error paths through one-shot faults and
// persistent rejections:
//
//	fw.Reject(hfi.MsgPerfTable, firmware.CodeInvalidArgument)
//	fw.InjectFault(firmware.FaultStaleAck, 0)
//	fw.InjectFault(firmware.FaultErrorReport, firmware.ErrorCodeWatchdog)
//	fw.InjectFault(firmware.FaultSilent, 0)
package firmware

package firmware

import "github.com/ardnew/softgmu/hfi"

// FaultKind selects a misbehavior applied to the next command.
type FaultKind uint8

// Fault kinds.
const (
	FaultNone          FaultKind = iota
	FaultErrorReport             // Queue an ERROR report ahead of the ACK
	FaultStaleAck                // Queue an ACK for the previous sequence ahead of the ACK
	FaultNoResponse              // Raise the response interrupt without writing an ACK
	FaultSilent                  // Neither respond nor raise the interrupt
	FaultCorruptLength           // Write the ACK with an impossible declared length
)

// String returns the fault name.
func (k FaultKind) String() string {
	switch k {
	case FaultNone:
		return "none"
	case FaultErrorReport:
		return "error-report"
	case FaultStaleAck:
		return "stale-ack"
	case FaultNoResponse:
		return "no-response"
	case FaultSilent:
		return "silent"
	case FaultCorruptLength:
		return "corrupt-length"
	default:
		return "unknown"
	}
}

type fault struct {
	kind FaultKind
	code uint32
}

// InjectFault queues a one-shot fault for the next command. Faults are
// applied in the order they were injected. code is used by
// FaultErrorReport.
func (f *Firmware) InjectFault(kind FaultKind, code uint32) {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	f.faults = append(f.faults, fault{kind: kind, code: code})
}

// Reject makes every future command with the given id fail with code.
func (f *Firmware) Reject(id hfi.MessageID, code uint32) {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	if f.rejects == nil {
		f.rejects = make(map[hfi.MessageID]uint32)
	}
	f.rejects[id] = code
}

// ClearFaults removes all pending faults and rejections.
func (f *Firmware) ClearFaults() {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	f.faults = nil
	f.rejects = nil
}

// takeFault pops the next one-shot fault and looks up any rejection for id.
func (f *Firmware) takeFault(id hfi.MessageID) (fault, uint32, bool) {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	var next fault
	if len(f.faults) > 0 {
		next = f.faults[0]
		f.faults = f.faults[1:]
	}
	code, rejected := f.rejects[id]
	return next, code, rejected
}

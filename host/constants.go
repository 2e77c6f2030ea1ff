package host

import (
	"fmt"
	"time"
)

// Transaction timing. The firmware is expected to answer within a few
// milliseconds; the host polls rather than sleeping on an interrupt.
const (
	DefaultResponseTimeout = 5 * time.Millisecond
	DefaultPollInterval    = 100 * time.Microsecond
)

// HighestLevel selects the highest configured GPU level for the bootstrap
// vote.
const HighestLevel = -1

// SessionState is the bootstrap progress of a session.
type SessionState uint8

// Session states, in bootstrap order.
const (
	StateIdle               SessionState = 0 // Nothing sent
	StateVersionExchanged   SessionState = 1 // FW_VERSION acknowledged
	StatePerfTableSent      SessionState = 2 // PERF_TABLE acknowledged
	StateBandwidthTableSent SessionState = 3 // BW_TABLE acknowledged
	StateFeatureControlSent SessionState = 4 // FEATURE_CTRL acknowledged for every feature
	StateCoreStarted        SessionState = 5 // CORE_FW_START acknowledged
	StateBandwidthVoteSent  SessionState = 6 // GX_BW_PERF_VOTE acknowledged
	StateStarted            SessionState = 7 // START acknowledged
	StateFailed             SessionState = 8 // A stage failed; only Reset leaves this state
)

// String returns a human-readable state name.
func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateVersionExchanged:
		return "version exchanged"
	case StatePerfTableSent:
		return "perf table sent"
	case StateBandwidthTableSent:
		return "bandwidth table sent"
	case StateFeatureControlSent:
		return "feature control sent"
	case StateCoreStarted:
		return "core started"
	case StateBandwidthVoteSent:
		return "bandwidth vote sent"
	case StateStarted:
		return "started"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown state (%d)", s)
	}
}

// stage returns the name of the step that leaves state s.
func (s SessionState) stage() string {
	switch s {
	case StateIdle:
		return "version exchange"
	case StateVersionExchanged:
		return "perf table"
	case StatePerfTableSent:
		return "bandwidth table"
	case StateBandwidthTableSent:
		return "feature control"
	case StateFeatureControlSent:
		return "core start"
	case StateCoreStarted:
		return "bandwidth vote"
	case StateBandwidthVoteSent:
		return "start"
	default:
		return s.String()
	}
}

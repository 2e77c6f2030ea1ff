package firmware

import (
	"maps"

	"github.com/ardnew/softgmu/hfi"
)

// State is what the firmware has learned from the host so far.
type State struct {
	Booted      bool   // GMU_INIT received
	BootState   uint32 // Boot state from GMU_INIT
	HostVersion uint32 // Version announced in FW_VERSION

	PerfTable       hfi.PerfTable
	PerfTableLoaded bool

	BandwidthTable  hfi.BandwidthTable
	BandwidthLoaded bool

	Features map[hfi.Feature]uint32 // Enable value per feature

	CoreStarted bool
	Vote        hfi.GXBWPerfVote
	Voted       bool
	Started     bool
	Slumbering  bool

	Tests    int // TEST messages received
	Commands int // Commands handled, including rejected ones
}

// clone returns a copy that shares no maps with s.
func (s *State) clone() State {
	out := *s
	out.Features = maps.Clone(s.Features)
	return out
}

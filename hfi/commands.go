package hfi

// Message lengths in dwords, header included.
const (
	gmuInitWords        = 5
	fwVersionWords      = 2
	perfTableWords      = 3 + MaxGXLevels*3 + MaxCXLevels*2
	bwTableWords        = 6 + MaxCNOCCmds + MaxCNOCLevels*MaxCNOCCmds + MaxDDRCmds + MaxBWLevels*MaxDDRCmds
	featureCtrlWords    = 4
	coreFWStartWords    = 2
	gxBWPerfVoteWords   = 4
	prepareSlumberWords = 3

	// ResponseWords is the length of an ACK message.
	ResponseWords = 3 + ResponsePayloadWords

	// ErrorReportWords is the length of an asynchronous error report.
	ErrorReportWords = 4
)

// Table bounds.
const (
	MaxGXLevels   = 16 // GPU rail levels in a perf table
	MaxCXLevels   = 4  // GMU rail levels in a perf table
	MaxBWLevels   = 16 // DDR bandwidth levels
	MaxDDRCmds    = 8  // DDR vote commands per level
	MaxCNOCLevels = 2  // Config NoC levels
	MaxCNOCCmds   = 6  // Config NoC vote commands per level

	// ResponsePayloadWords is the size of the inline ACK payload.
	ResponsePayloadWords = 16
)

// SupportedVersion is the HFI version the host announces (1.10).
const SupportedVersion uint32 = 0x100A0000

// Version is an HFI version word.
type Version uint32

// Major returns the major version.
func (v Version) Major() uint32 { return uint32(v) >> 28 }

// Minor returns the minor version.
func (v Version) Minor() uint32 { return uint32(v) >> 16 & 0xfff }

// Feature identifies a firmware feature for FEATURE_CTRL.
type Feature uint32

// Known firmware features.
const (
	FeatureDCVS       Feature = 0
	FeatureHWSched    Feature = 1
	FeaturePreemption Feature = 2
	FeatureACD        Feature = 12
)

// Vote acknowledgement types for GX_BW_PERF_VOTE.
const (
	AckTypeNone     uint32 = 0
	AckTypeBlocking uint32 = 1
)

// GMUInit is the legacy boot handshake.
type GMUInit struct {
	SegID           uint32
	DebugBufferAddr uint32
	DebugBufferSize uint32
	BootState       uint32
}

// ID implements Message.
func (*GMUInit) ID() MessageID { return MsgGMUInit }

// Words implements Message.
func (*GMUInit) Words() int { return gmuInitWords }

// MarshalWords writes the four body words in field order.
func (m *GMUInit) MarshalWords(b []uint32) {
	b[0], b[1], b[2], b[3] = m.SegID, m.DebugBufferAddr, m.DebugBufferSize, m.BootState
}

// UnmarshalWords reads the body written by MarshalWords.
func (m *GMUInit) UnmarshalWords(b []uint32) {
	m.SegID, m.DebugBufferAddr, m.DebugBufferSize, m.BootState = b[0], b[1], b[2], b[3]
}

// FWVersion announces the host's supported version. The firmware answers
// with its own version in the first payload word.
type FWVersion struct {
	SupportedVersion uint32
}

// ID implements Message.
func (*FWVersion) ID() MessageID { return MsgFWVersion }

// Words implements Message.
func (*FWVersion) Words() int { return fwVersionWords }

// MarshalWords implements Message.
func (m *FWVersion) MarshalWords(b []uint32) { b[0] = m.SupportedVersion }

// UnmarshalWords implements Message.
func (m *FWVersion) UnmarshalWords(b []uint32) { m.SupportedVersion = b[0] }

// PerfLevel is one GMU (cx) rail level.
type PerfLevel struct {
	Vote uint32 // Rail vote encoding
	Freq uint32 // Frequency in kHz
}

// ACDUnused marks a GPU level without an adaptive clock distribution
// setting.
const ACDUnused uint32 = 0xffffffff

// GXPerfLevel is one GPU (gx) rail level.
type GXPerfLevel struct {
	Vote uint32
	ACD  uint32 // Adaptive clock distribution setting, ACDUnused if none
	Freq uint32 // Frequency in kHz
}

// PerfTable carries the power-level tables for the GPU and GMU rails.
type PerfTable struct {
	NumGX uint32
	NumCX uint32
	GX    [MaxGXLevels]GXPerfLevel
	CX    [MaxCXLevels]PerfLevel
}

// ID implements Message.
func (*PerfTable) ID() MessageID { return MsgPerfTable }

// Words returns the full table size; unused levels are sent as zeros.
func (*PerfTable) Words() int { return perfTableWords }

// MarshalWords writes the level counts followed by every GX slot and
// every CX slot, used or not.
func (m *PerfTable) MarshalWords(b []uint32) {
	b[0], b[1] = m.NumGX, m.NumCX
	i := 2
	for _, l := range m.GX {
		b[i], b[i+1], b[i+2] = l.Vote, l.ACD, l.Freq
		i += 3
	}
	for _, l := range m.CX {
		b[i], b[i+1] = l.Vote, l.Freq
		i += 2
	}
}

// UnmarshalWords reads the layout written by MarshalWords.
func (m *PerfTable) UnmarshalWords(b []uint32) {
	m.NumGX, m.NumCX = b[0], b[1]
	i := 2
	for j := range m.GX {
		m.GX[j] = GXPerfLevel{Vote: b[i], ACD: b[i+1], Freq: b[i+2]}
		i += 3
	}
	for j := range m.CX {
		m.CX[j] = PerfLevel{Vote: b[i], Freq: b[i+1]}
		i += 2
	}
}

// BandwidthTable carries interconnect vote command sequences. The contents
// are opaque to the protocol; they are supplied by a collaborator.
type BandwidthTable struct {
	NumLevels       uint32
	NumCNOCCmds     uint32
	NumDDRCmds      uint32
	CNOCWaitBitmask uint32
	DDRWaitBitmask  uint32
	CNOCCmdAddrs    [MaxCNOCCmds]uint32
	CNOCCmdData     [MaxCNOCLevels][MaxCNOCCmds]uint32
	DDRCmdAddrs     [MaxDDRCmds]uint32
	DDRCmdData      [MaxBWLevels][MaxDDRCmds]uint32
}

// ID implements Message.
func (*BandwidthTable) ID() MessageID { return MsgBWTable }

// Words returns the fixed table size.
func (*BandwidthTable) Words() int { return bwTableWords }

// MarshalWords writes the counts and bitmasks, then the CNOC commands
// followed by the DDR commands.
func (m *BandwidthTable) MarshalWords(b []uint32) {
	b[0], b[1], b[2], b[3], b[4] = m.NumLevels, m.NumCNOCCmds, m.NumDDRCmds, m.CNOCWaitBitmask, m.DDRWaitBitmask
	i := 5
	i += copy(b[i:], m.CNOCCmdAddrs[:])
	for _, row := range m.CNOCCmdData {
		i += copy(b[i:], row[:])
	}
	i += copy(b[i:], m.DDRCmdAddrs[:])
	for _, row := range m.DDRCmdData {
		i += copy(b[i:], row[:])
	}
}

// UnmarshalWords reads the layout written by MarshalWords.
func (m *BandwidthTable) UnmarshalWords(b []uint32) {
	m.NumLevels, m.NumCNOCCmds, m.NumDDRCmds, m.CNOCWaitBitmask, m.DDRWaitBitmask = b[0], b[1], b[2], b[3], b[4]
	i := 5
	i += copy(m.CNOCCmdAddrs[:], b[i:])
	for j := range m.CNOCCmdData {
		i += copy(m.CNOCCmdData[j][:], b[i:])
	}
	i += copy(m.DDRCmdAddrs[:], b[i:])
	for j := range m.DDRCmdData {
		i += copy(m.DDRCmdData[j][:], b[i:])
	}
}

// Test is a bodiless liveness probe.
type Test struct{}

// ID implements Message.
func (*Test) ID() MessageID { return MsgTest }

// Words implements Message. TEST is a bare header.
func (*Test) Words() int { return 1 }

// MarshalWords writes nothing.
func (*Test) MarshalWords([]uint32) {}

// UnmarshalWords reads nothing.
func (*Test) UnmarshalWords([]uint32) {}

// Start is the final bootstrap message.
type Start struct{}

// ID implements Message.
func (*Start) ID() MessageID { return MsgStart }

// Words implements Message. START is a bare header.
func (*Start) Words() int { return 1 }

// MarshalWords writes nothing.
func (*Start) MarshalWords([]uint32) {}

// UnmarshalWords reads nothing.
func (*Start) UnmarshalWords([]uint32) {}

// FeatureCtrl enables or disables a firmware feature.
type FeatureCtrl struct {
	Feature Feature
	Enable  uint32
	Data    uint32
}

// ID implements Message.
func (*FeatureCtrl) ID() MessageID { return MsgFeatureCtrl }

// Words implements Message.
func (*FeatureCtrl) Words() int { return featureCtrlWords }

// MarshalWords writes the fields in declaration order.
func (m *FeatureCtrl) MarshalWords(b []uint32) {
	b[0], b[1], b[2] = uint32(m.Feature), m.Enable, m.Data
}

// UnmarshalWords implements Message.
func (m *FeatureCtrl) UnmarshalWords(b []uint32) {
	m.Feature, m.Enable, m.Data = Feature(b[0]), b[1], b[2]
}

// CoreFWStart tells the firmware to start core execution.
type CoreFWStart struct {
	Handle uint32
}

// ID implements Message.
func (*CoreFWStart) ID() MessageID { return MsgCoreFWStart }

// Words implements Message.
func (*CoreFWStart) Words() int { return coreFWStartWords }

// MarshalWords implements Message.
func (m *CoreFWStart) MarshalWords(b []uint32) { b[0] = m.Handle }

// UnmarshalWords implements Message.
func (m *CoreFWStart) UnmarshalWords(b []uint32) { m.Handle = b[0] }

// GXBWPerfVote votes for a GPU perf level index and bandwidth level.
type GXBWPerfVote struct {
	AckType uint32
	Freq    uint32 // Index into the GX perf table
	BW      uint32 // Index into the bandwidth table
}

// ID implements Message.
func (*GXBWPerfVote) ID() MessageID { return MsgGXBWPerfVote }

// Words implements Message.
func (*GXBWPerfVote) Words() int { return gxBWPerfVoteWords }

// MarshalWords writes the ack type ahead of the two indices.
func (m *GXBWPerfVote) MarshalWords(b []uint32) {
	b[0], b[1], b[2] = m.AckType, m.Freq, m.BW
}

// UnmarshalWords implements Message.
func (m *GXBWPerfVote) UnmarshalWords(b []uint32) {
	m.AckType, m.Freq, m.BW = b[0], b[1], b[2]
}

// PrepareSlumber announces that the host is about to power the GMU down.
type PrepareSlumber struct {
	BW   uint32
	Freq uint32
}

// ID implements Message.
func (*PrepareSlumber) ID() MessageID { return MsgPrepareSlumber }

// Words implements Message.
func (*PrepareSlumber) Words() int { return prepareSlumberWords }

// MarshalWords writes bandwidth before frequency, the reverse of a vote.
func (m *PrepareSlumber) MarshalWords(b []uint32) {
	b[0], b[1] = m.BW, m.Freq
}

// UnmarshalWords implements Message.
func (m *PrepareSlumber) UnmarshalWords(b []uint32) {
	m.BW, m.Freq = b[0], b[1]
}

// Response is the firmware's acknowledgement of a command. RetHeader is the
// header of the command being answered.
type Response struct {
	RetHeader Header
	Error     uint32
	Payload   [ResponsePayloadWords]uint32
}

// ID returns MsgAck. The answered command is in RetHeader.
func (*Response) ID() MessageID { return MsgAck }

// Words implements Message.
func (*Response) Words() int { return ResponseWords }

// MarshalWords writes RetHeader and Error ahead of the inline payload.
func (m *Response) MarshalWords(b []uint32) {
	b[0], b[1] = uint32(m.RetHeader), m.Error
	copy(b[2:], m.Payload[:])
}

// UnmarshalWords implements Message.
func (m *Response) UnmarshalWords(b []uint32) {
	m.RetHeader, m.Error = Header(b[0]), b[1]
	copy(m.Payload[:], b[2:])
}

// Seq returns the sequence number of the command being answered.
func (m *Response) Seq() uint32 { return m.RetHeader.Seq() }

// ErrorReport is an asynchronous firmware error not tied to any command.
type ErrorReport struct {
	Code    uint32
	Payload [2]uint32
}

// ID implements Message.
func (*ErrorReport) ID() MessageID { return MsgError }

// Words implements Message.
func (*ErrorReport) Words() int { return ErrorReportWords }

// MarshalWords implements Message.
func (m *ErrorReport) MarshalWords(b []uint32) {
	b[0], b[1], b[2] = m.Code, m.Payload[0], m.Payload[1]
}

// UnmarshalWords implements Message.
func (m *ErrorReport) UnmarshalWords(b []uint32) {
	m.Code, m.Payload[0], m.Payload[1] = b[0], b[1], b[2]
}

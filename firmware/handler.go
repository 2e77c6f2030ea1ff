package firmware

import (
	"errors"

	"github.com/ardnew/softgmu/firmware/hal"
	"github.com/ardnew/softgmu/hfi"
	"github.com/ardnew/softgmu/pkg"
)

// handle dispatches one command and writes its acknowledgement.
func (f *Firmware) handle(words []uint32) {
	h := hfi.Header(words[0])
	flt, rejectCode, rejected := f.takeFault(h.ID())

	var (
		payload [hfi.ResponsePayloadWords]uint32
		code    uint32
	)
	if err := hfi.Validate(h); err != nil {
		pkg.LogWarn(pkg.ComponentFirmware, "invalid command",
			"header", h,
			"error", err)
		code = CodeUnknownMessage
		if _, known := hfi.MessageWords(h.ID()); known {
			code = CodeInvalidArgument
		}
	} else {
		code = f.dispatch(h, words, &payload)
	}
	if rejected {
		code = rejectCode
		payload = [hfi.ResponsePayloadWords]uint32{}
	}

	pkg.LogDebug(pkg.ComponentFirmware, "command handled",
		"header", h,
		"code", code,
		"fault", flt.kind)

	f.writeLog(h, code)

	var batch [][]uint32
	switch flt.kind {
	case FaultSilent:
		return
	case FaultNoResponse:
		if err := f.hal.RaiseIRQ(hal.IRQMsgQ); err != nil {
			pkg.LogWarn(pkg.ComponentFirmware, "error raising interrupt", "error", err)
		}
		return
	case FaultErrorReport:
		report := &hfi.ErrorReport{Code: flt.code}
		report.Payload[0] = uint32(h)
		if words, err := hfi.Encode(report, 0); err == nil {
			batch = append(batch, words)
		}
	case FaultStaleAck:
		stale := hfi.EncodeHeader((h.Seq()+hfi.SeqModulus-1)%hfi.SeqModulus, h.Class(), h.Size(), h.ID())
		if words, err := f.ack(h, stale, CodeOK, &payload); err == nil {
			batch = append(batch, words)
		}
	}

	words, err := f.ack(h, h, code, &payload)
	if err != nil {
		pkg.LogError(pkg.ComponentFirmware, "error encoding response", "error", err)
		return
	}
	if flt.kind == FaultCorruptLength {
		words[0] = uint32(hfi.EncodeHeader(h.Seq(), hfi.ClassAck, hfi.MaxMessageWords, hfi.MsgAck))
	}
	batch = append(batch, words)

	// Extra messages and the ACK share one interrupt.
	if err := f.rspq.WriteBatch(batch...); err != nil {
		pkg.LogWarn(pkg.ComponentFirmware, "error writing response",
			"header", h,
			"error", err)
	}
}

// ack encodes an acknowledgement echoing ret.
func (f *Firmware) ack(h, ret hfi.Header, code uint32, payload *[hfi.ResponsePayloadWords]uint32) ([]uint32, error) {
	rsp := &hfi.Response{RetHeader: ret, Error: code, Payload: *payload}
	return hfi.EncodeClass(rsp, h.Seq(), hfi.ClassAck)
}

// writeLog appends a record to the log queue when it is enabled. A full log
// queue drops the record.
func (f *Firmware) writeLog(h hfi.Header, code uint32) {
	if !f.logq.Enabled() {
		return
	}
	f.stateMu.Lock()
	count := uint32(f.state.Commands)
	f.stateMu.Unlock()

	record := []uint32{
		uint32(hfi.EncodeHeader(h.Seq(), hfi.ClassAck, logRecordWords, h.ID())),
		code,
		count,
	}
	if err := f.logq.Write(record); err != nil && !errors.Is(err, pkg.ErrQueueFull) {
		pkg.LogWarn(pkg.ComponentFirmware, "error writing log record", "error", err)
	}
}

// dispatch updates the firmware state for a validated command and returns
// the response code.
func (f *Firmware) dispatch(h hfi.Header, words []uint32, payload *[hfi.ResponsePayloadWords]uint32) uint32 {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()

	s := &f.state
	s.Commands++

	switch h.ID() {
	case hfi.MsgGMUInit:
		var m hfi.GMUInit
		m.UnmarshalWords(words[1:])
		s.Booted = true
		s.BootState = m.BootState

	case hfi.MsgFWVersion:
		var m hfi.FWVersion
		m.UnmarshalWords(words[1:])
		s.HostVersion = m.SupportedVersion
		payload[0] = f.cfg.Version

	case hfi.MsgPerfTable:
		var m hfi.PerfTable
		m.UnmarshalWords(words[1:])
		if m.NumGX == 0 || m.NumGX > hfi.MaxGXLevels || m.NumCX > hfi.MaxCXLevels {
			return CodeInvalidArgument
		}
		s.PerfTable = m
		s.PerfTableLoaded = true

	case hfi.MsgBWTable:
		var m hfi.BandwidthTable
		m.UnmarshalWords(words[1:])
		if m.NumLevels > hfi.MaxBWLevels || m.NumDDRCmds > hfi.MaxDDRCmds || m.NumCNOCCmds > hfi.MaxCNOCCmds {
			return CodeInvalidArgument
		}
		s.BandwidthTable = m
		s.BandwidthLoaded = true

	case hfi.MsgTest:
		s.Tests++

	case hfi.MsgFeatureCtrl:
		var m hfi.FeatureCtrl
		m.UnmarshalWords(words[1:])
		if s.Features == nil {
			s.Features = make(map[hfi.Feature]uint32)
		}
		s.Features[m.Feature] = m.Enable

	case hfi.MsgCoreFWStart:
		s.CoreStarted = true

	case hfi.MsgGXBWPerfVote:
		var m hfi.GXBWPerfVote
		m.UnmarshalWords(words[1:])
		if !s.PerfTableLoaded {
			return CodeBadState
		}
		if m.Freq >= s.PerfTable.NumGX {
			return CodeInvalidArgument
		}
		if s.BandwidthLoaded && s.BandwidthTable.NumLevels > 0 && m.BW >= s.BandwidthTable.NumLevels {
			return CodeInvalidArgument
		}
		s.Vote = m
		s.Voted = true
		s.Slumbering = false

	case hfi.MsgStart:
		s.Started = true
		s.Slumbering = false

	case hfi.MsgPrepareSlumber:
		s.Slumbering = true
		s.Started = false

	default:
		return CodeUnknownMessage
	}
	return CodeOK
}

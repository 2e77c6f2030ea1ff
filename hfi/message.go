package hfi

import (
	"errors"
	"fmt"
)

// MessageID identifies the layout and meaning of a message body.
type MessageID uint8

// Host-to-firmware (H2F) and firmware-to-host (F2H) message identifiers.
const (
	MsgGMUInit        MessageID = 0   // H2F: legacy boot handshake
	MsgFWVersion      MessageID = 1   // H2F: version exchange
	MsgBWTable        MessageID = 3   // H2F: interconnect bandwidth votes
	MsgPerfTable      MessageID = 4   // H2F: GPU and GMU rail levels
	MsgTest           MessageID = 5   // H2F: no-op liveness test
	MsgStart          MessageID = 10  // H2F: final start
	MsgFeatureCtrl    MessageID = 11  // H2F: enable/disable a feature
	MsgCoreFWStart    MessageID = 14  // H2F: start core execution
	MsgGXBWPerfVote   MessageID = 30  // H2F: GPU frequency/bandwidth vote
	MsgPrepareSlumber MessageID = 33  // H2F: prepare for power collapse
	MsgError          MessageID = 100 // F2H: asynchronous error report
	MsgAck            MessageID = 126 // F2H: response to a command
)

// String returns the message name.
func (id MessageID) String() string {
	switch id {
	case MsgGMUInit:
		return "GMU_INIT"
	case MsgFWVersion:
		return "FW_VERSION"
	case MsgBWTable:
		return "BW_TABLE"
	case MsgPerfTable:
		return "PERF_TABLE"
	case MsgTest:
		return "TEST"
	case MsgStart:
		return "START"
	case MsgFeatureCtrl:
		return "FEATURE_CTRL"
	case MsgCoreFWStart:
		return "CORE_FW_START"
	case MsgGXBWPerfVote:
		return "GX_BW_PERF_VOTE"
	case MsgPrepareSlumber:
		return "PREPARE_SLUMBER"
	case MsgError:
		return "ERROR"
	case MsgAck:
		return "ACK"
	default:
		return fmt.Sprintf("MSG_%d", uint8(id))
	}
}

// Class distinguishes commands from acknowledgements.
type Class uint8

// Message classes.
const (
	ClassCommand Class = 0
	ClassAck     Class = 1
)

// Header field layout: seq[31:20] class[19:16] dwords[15:8] id[7:0].
const (
	seqShift   = 20
	seqMask    = 0xfff
	classShift = 16
	classMask  = 0xf
	sizeShift  = 8
	sizeMask   = 0xff
	idMask     = 0xff
)

// SeqModulus bounds sequence numbers: they cycle within [0, SeqModulus).
const SeqModulus = 0xfff

// MaxMessageWords is the largest length a header can declare.
const MaxMessageWords = sizeMask

// ErrInvalidMessage indicates a header that does not match the registered
// layout for its message id.
var ErrInvalidMessage = errors.New("invalid message")

// Header is the first word of every message.
type Header uint32

// EncodeHeader packs the header fields.
func EncodeHeader(seq uint32, class Class, dwords int, id MessageID) Header {
	return Header((seq&seqMask)<<seqShift |
		uint32(class&classMask)<<classShift |
		uint32(dwords&sizeMask)<<sizeShift |
		uint32(id))
}

// Seq returns the sequence number.
func (h Header) Seq() uint32 { return uint32(h) >> seqShift & seqMask }

// Class returns the message class.
func (h Header) Class() Class { return Class(uint32(h) >> classShift & classMask) }

// Size returns the declared message length in dwords, header included.
func (h Header) Size() int { return int(uint32(h) >> sizeShift & sizeMask) }

// ID returns the message id.
func (h Header) ID() MessageID { return MessageID(uint32(h) & idMask) }

// String returns a compact description for logging.
func (h Header) String() string {
	return fmt.Sprintf("%s seq=%d class=%d dwords=%d", h.ID(), h.Seq(), h.Class(), h.Size())
}

// messageWords records the dword length of every known message layout.
var messageWords = map[MessageID]int{
	MsgGMUInit:        gmuInitWords,
	MsgFWVersion:      fwVersionWords,
	MsgBWTable:        bwTableWords,
	MsgPerfTable:      perfTableWords,
	MsgTest:           1,
	MsgStart:          1,
	MsgFeatureCtrl:    featureCtrlWords,
	MsgCoreFWStart:    coreFWStartWords,
	MsgGXBWPerfVote:   gxBWPerfVoteWords,
	MsgPrepareSlumber: prepareSlumberWords,
	MsgError:          ErrorReportWords,
	MsgAck:            ResponseWords,
}

// MessageWords returns the dword length of the layout registered for id.
func MessageWords(id MessageID) (int, bool) {
	n, ok := messageWords[id]
	return n, ok
}

// Validate checks that the declared length matches the layout registered
// for the message id.
func Validate(h Header) error {
	want, ok := messageWords[h.ID()]
	if !ok {
		return fmt.Errorf("%w: unknown id %d", ErrInvalidMessage, uint8(h.ID()))
	}
	if h.Size() != want {
		return fmt.Errorf("%w: %s declares %d dwords, want %d", ErrInvalidMessage, h.ID(), h.Size(), want)
	}
	return nil
}

// Message is a fixed-layout body that can be carried over a queue.
type Message interface {
	// ID returns the message id.
	ID() MessageID
	// Words returns the message length in dwords, header included.
	Words() int
	// MarshalWords writes the body into body, which has Words()-1 zeroed
	// entries.
	MarshalWords(body []uint32)
	// UnmarshalWords reads the body from body, which has Words()-1 entries.
	UnmarshalWords(body []uint32)
}

// Encode builds the wire form of m with a command header carrying seq.
// It returns a fresh buffer; m is not modified.
func Encode(m Message, seq uint32) ([]uint32, error) {
	return EncodeClass(m, seq, ClassCommand)
}

// EncodeClass is Encode with an explicit message class.
func EncodeClass(m Message, seq uint32, class Class) ([]uint32, error) {
	n := m.Words()
	h := EncodeHeader(seq, class, n, m.ID())
	if err := Validate(h); err != nil {
		return nil, err
	}
	buf := make([]uint32, n)
	m.MarshalWords(buf[1:])
	buf[0] = uint32(h)
	return buf, nil
}

// Decode validates the header in words[0] and unmarshals the body into m.
func Decode(words []uint32, m Message) (Header, error) {
	if len(words) == 0 {
		return 0, fmt.Errorf("%w: empty message", ErrInvalidMessage)
	}
	h := Header(words[0])
	if err := Validate(h); err != nil {
		return h, err
	}
	if h.ID() != m.ID() {
		return h, fmt.Errorf("%w: got %s, want %s", ErrInvalidMessage, h.ID(), m.ID())
	}
	if len(words) < h.Size() {
		return h, fmt.Errorf("%w: %s truncated to %d dwords", ErrInvalidMessage, h.ID(), len(words))
	}
	m.UnmarshalWords(words[1:h.Size()])
	return h, nil
}

// DecodeResponse decodes an ACK. The sequence number of the command being
// answered is taken from the echoed header, never from words[0].
func DecodeResponse(words []uint32) (*Response, error) {
	var r Response
	if _, err := Decode(words, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// DecodeError decodes an asynchronous firmware error report.
func DecodeError(words []uint32) (*ErrorReport, error) {
	var e ErrorReport
	if _, err := Decode(words, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

package firmware

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ardnew/softgmu/firmware/hal"
	"github.com/ardnew/softgmu/hfi"
	"github.com/ardnew/softgmu/pkg"
	"github.com/ardnew/softgmu/shmem"
)

// =============================================================================
// Mock HAL for Testing
// =============================================================================

// mockHAL implements hal.FirmwareHAL for testing.
type mockHAL struct {
	mem      *shmem.Region
	doorbell chan struct{}
	irq      atomic.Uint32
	raised   atomic.Int32

	initErr error
	closed  bool
	mu      sync.Mutex
}

func newMockHAL() *mockHAL {
	return &mockHAL{
		mem:      shmem.New(hfi.RegionWords),
		doorbell: make(chan struct{}, 1),
	}
}

func (m *mockHAL) Init(ctx context.Context) error {
	return m.initErr
}

func (m *mockHAL) Memory() *shmem.Region {
	return m.mem
}

func (m *mockHAL) WaitDoorbell(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.doorbell:
		return nil
	}
}

func (m *mockHAL) RaiseIRQ(mask uint32) error {
	m.irq.Or(mask)
	m.raised.Add(1)
	return nil
}

func (m *mockHAL) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockHAL) ring() error {
	select {
	case m.doorbell <- struct{}{}:
	default:
	}
	return nil
}

// waitIRQ waits for the given interrupt bit and clears it.
func (m *mockHAL) waitIRQ(t *testing.T, mask uint32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for m.irq.Load()&mask == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("interrupt 0x%x not raised", mask)
		}
		time.Sleep(50 * time.Microsecond)
	}
	m.irq.And(^mask)
}

var _ hal.FirmwareHAL = (*mockHAL)(nil)

// =============================================================================
// Test Helpers
// =============================================================================

type harness struct {
	hal   *mockHAL
	fw    *Firmware
	table *hfi.Table
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	m := newMockHAL()
	table, err := hfi.InitTable(m.mem, cfg.Legacy)
	if err != nil {
		t.Fatalf("InitTable() error = %v", err)
	}
	table.Queue(hfi.QueueCommand).SetNotifier(hfi.NotifierFunc(m.ring))

	fw := New(m, cfg)
	if err := fw.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = fw.Stop() })
	return &harness{hal: m, fw: fw, table: table}
}

// send writes a command and returns the message words read back from the
// response queue, one slice per message.
func (h *harness) send(t *testing.T, m hfi.Message, seq uint32, want int) [][]uint32 {
	t.Helper()
	words, err := hfi.Encode(m, seq)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if err := h.table.Queue(hfi.QueueCommand).Write(words); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	return h.collect(t, want)
}

func (h *harness) collect(t *testing.T, want int) [][]uint32 {
	t.Helper()
	var out [][]uint32
	rsp := h.table.Queue(hfi.QueueResponse)
	deadline := time.Now().Add(2 * time.Second)
	for len(out) < want {
		buf := make([]uint32, hfi.MaxMessageWords)
		n, err := rsp.Read(buf)
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if n == 0 {
			if time.Now().After(deadline) {
				t.Fatalf("got %d messages, want %d", len(out), want)
			}
			time.Sleep(50 * time.Microsecond)
			continue
		}
		out = append(out, buf[:n])
	}
	return out
}

func decodeAck(t *testing.T, words []uint32) *hfi.Response {
	t.Helper()
	r, err := hfi.DecodeResponse(words)
	if err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}
	return r
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

func TestStart_RequiresTable(t *testing.T) {
	fw := New(newMockHAL(), DefaultConfig())
	if err := fw.Start(context.Background()); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("Start() error = %v, want ErrInvalidParameter", err)
	}
	if fw.IsRunning() {
		t.Error("IsRunning() = true after failed start")
	}
}

func TestStart_Twice(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	if err := h.fw.Start(context.Background()); !errors.Is(err, pkg.ErrAlreadyOpen) {
		t.Errorf("second Start() error = %v, want ErrAlreadyOpen", err)
	}
}

func TestStart_EnablesLogQueues(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	if !h.table.Queue(hfi.QueueLog).Enabled() || !h.table.Queue(hfi.QueueDebug).Enabled() {
		t.Error("debug and log queues not enabled")
	}
}

func TestStopAndWaitReady(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.fw.WaitReady(ctx); err != nil {
		t.Fatalf("WaitReady() error = %v", err)
	}

	if err := h.fw.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if h.fw.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}

	short, cancel2 := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel2()
	if err := h.fw.WaitReady(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitReady() after Stop = %v, want DeadlineExceeded", err)
	}
}

// =============================================================================
// Command Tests
// =============================================================================

func TestFWVersion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Version = 0x20010004
	h := newHarness(t, cfg)

	msgs := h.send(t, &hfi.FWVersion{SupportedVersion: hfi.SupportedVersion}, 5, 1)
	ack := decodeAck(t, msgs[0])

	if ack.Seq() != 5 || ack.RetHeader.ID() != hfi.MsgFWVersion {
		t.Errorf("RetHeader = %s", ack.RetHeader)
	}
	if ack.Error != CodeOK {
		t.Errorf("Error = %d", ack.Error)
	}
	if ack.Payload[0] != 0x20010004 {
		t.Errorf("Payload[0] = 0x%x", ack.Payload[0])
	}
	if got := h.fw.State().HostVersion; got != hfi.SupportedVersion {
		t.Errorf("HostVersion = 0x%x", got)
	}
	h.hal.waitIRQ(t, hal.IRQMsgQ)
}

func TestBootSequenceState(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	pt := &hfi.PerfTable{NumGX: 2, NumCX: 1}
	pt.GX[1] = hfi.GXPerfLevel{Vote: 0x80, ACD: 0xffffffff, Freq: 600000}
	bw := &hfi.BandwidthTable{NumLevels: 3, NumDDRCmds: 1}

	cmds := []hfi.Message{
		&hfi.GMUInit{BootState: 1},
		pt,
		bw,
		&hfi.FeatureCtrl{Feature: hfi.FeatureACD, Enable: 1},
		&hfi.CoreFWStart{},
		&hfi.GXBWPerfVote{AckType: hfi.AckTypeBlocking, Freq: 1, BW: 2},
		&hfi.Start{},
		&hfi.Test{},
	}
	for i, m := range cmds {
		ack := decodeAck(t, h.send(t, m, uint32(i+1), 1)[0])
		if ack.Error != CodeOK {
			t.Fatalf("%s: Error = %d", m.ID(), ack.Error)
		}
	}

	s := h.fw.State()
	if !s.Booted || s.BootState != 1 {
		t.Errorf("boot = %v/%d", s.Booted, s.BootState)
	}
	if !s.PerfTableLoaded || s.PerfTable.GX[1].Freq != 600000 {
		t.Errorf("perf table = %+v", s.PerfTable.GX[1])
	}
	if !s.BandwidthLoaded || s.BandwidthTable.NumLevels != 3 {
		t.Error("bandwidth table not loaded")
	}
	if s.Features[hfi.FeatureACD] != 1 {
		t.Errorf("features = %v", s.Features)
	}
	if !s.CoreStarted || !s.Voted || !s.Started {
		t.Errorf("core=%v voted=%v started=%v", s.CoreStarted, s.Voted, s.Started)
	}
	if s.Vote.Freq != 1 || s.Vote.BW != 2 {
		t.Errorf("vote = %+v", s.Vote)
	}
	if s.Tests != 1 || s.Commands != len(cmds) {
		t.Errorf("tests=%d commands=%d", s.Tests, s.Commands)
	}

	ack := decodeAck(t, h.send(t, &hfi.PrepareSlumber{}, 20, 1)[0])
	if ack.Error != CodeOK {
		t.Fatalf("PREPARE_SLUMBER: Error = %d", ack.Error)
	}
	if s := h.fw.State(); !s.Slumbering || s.Started {
		t.Errorf("slumbering=%v started=%v", s.Slumbering, s.Started)
	}
}

func TestCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		msg  hfi.Message
		want uint32
	}{
		{"vote before perf table", &hfi.GXBWPerfVote{Freq: 0}, CodeBadState},
		{"empty perf table", &hfi.PerfTable{}, CodeInvalidArgument},
		{"too many bw levels", &hfi.BandwidthTable{NumLevels: 17}, CodeInvalidArgument},
		{"host-bound message", &hfi.ErrorReport{}, CodeUnknownMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, DefaultConfig())
			ack := decodeAck(t, h.send(t, tt.msg, 1, 1)[0])
			if ack.Error != tt.want {
				t.Errorf("Error = %d, want %d", ack.Error, tt.want)
			}
		})
	}
}

func TestInvalidHeader(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	// FW_VERSION declaring three words instead of two.
	words := []uint32{uint32(hfi.EncodeHeader(1, hfi.ClassCommand, 3, hfi.MsgFWVersion)), 0, 0}
	if err := h.table.Queue(hfi.QueueCommand).Write(words); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	ack := decodeAck(t, h.collect(t, 1)[0])
	if ack.Error != CodeInvalidArgument {
		t.Errorf("Error = %d, want %d", ack.Error, CodeInvalidArgument)
	}
}

func TestCorruptCommandQueue(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	// A zero-length header cannot be consumed.
	if err := h.table.Queue(hfi.QueueCommand).Write([]uint32{0}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	h.hal.waitIRQ(t, hal.IRQCM3Fault)
}

// =============================================================================
// Fault Injection Tests
// =============================================================================

func TestReject(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.fw.Reject(hfi.MsgFWVersion, 0x22)

	ack := decodeAck(t, h.send(t, &hfi.FWVersion{}, 1, 1)[0])
	if ack.Error != 0x22 {
		t.Errorf("Error = 0x%x, want 0x22", ack.Error)
	}
	if ack.Payload[0] != 0 {
		t.Errorf("rejected ACK carries payload 0x%x", ack.Payload[0])
	}

	h.fw.ClearFaults()
	ack = decodeAck(t, h.send(t, &hfi.FWVersion{}, 2, 1)[0])
	if ack.Error != CodeOK {
		t.Errorf("Error after ClearFaults = 0x%x", ack.Error)
	}
}

func TestFault_ErrorReport(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.fw.InjectFault(FaultErrorReport, ErrorCodeWatchdog)

	msgs := h.send(t, &hfi.Test{}, 3, 2)
	report, err := hfi.DecodeError(msgs[0])
	if err != nil {
		t.Fatalf("DecodeError() error = %v", err)
	}
	if report.Code != ErrorCodeWatchdog {
		t.Errorf("Code = 0x%x", report.Code)
	}
	if ack := decodeAck(t, msgs[1]); ack.Seq() != 3 {
		t.Errorf("ACK seq = %d, want 3", ack.Seq())
	}
}

func TestFault_StaleAck(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.fw.InjectFault(FaultStaleAck, 0)

	msgs := h.send(t, &hfi.Test{}, 0, 2)
	if got := decodeAck(t, msgs[0]).Seq(); got != hfi.SeqModulus-1 {
		t.Errorf("stale seq = %d, want %d", got, hfi.SeqModulus-1)
	}
	if got := decodeAck(t, msgs[1]).Seq(); got != 0 {
		t.Errorf("ACK seq = %d, want 0", got)
	}
}

func TestFault_NoResponse(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.fw.InjectFault(FaultNoResponse, 0)

	words, _ := hfi.Encode(&hfi.Test{}, 1)
	if err := h.table.Queue(hfi.QueueCommand).Write(words); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	h.hal.waitIRQ(t, hal.IRQMsgQ)
	if h.table.Queue(hfi.QueueResponse).Pending() {
		t.Error("response queue not empty")
	}
}

func TestFault_CorruptLength(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.fw.InjectFault(FaultCorruptLength, 0)

	words, _ := hfi.Encode(&hfi.Test{}, 1)
	if err := h.table.Queue(hfi.QueueCommand).Write(words); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	h.hal.waitIRQ(t, hal.IRQMsgQ)

	_, err := h.table.Queue(hfi.QueueResponse).Read(make([]uint32, hfi.ResponseWords))
	if !errors.Is(err, pkg.ErrCorruptHeader) {
		t.Errorf("Read() error = %v, want ErrCorruptHeader", err)
	}
}

// =============================================================================
// Log Queue Tests
// =============================================================================

func TestLogRecords(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.send(t, &hfi.Test{}, 1, 1)
	h.send(t, &hfi.Start{}, 2, 1)

	logq := h.table.Queue(hfi.QueueLog)
	buf := make([]uint32, hfi.MaxMessageWords)
	var ids []hfi.MessageID
	for {
		n, err := logq.Read(buf)
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if n == 0 {
			break
		}
		if n != logRecordWords {
			t.Errorf("record length = %d", n)
		}
		ids = append(ids, hfi.Header(buf[0]).ID())
	}
	if len(ids) != 2 || ids[0] != hfi.MsgTest || ids[1] != hfi.MsgStart {
		t.Errorf("log ids = %v", ids)
	}
}

func TestLogDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableLog = false
	h := newHarness(t, cfg)
	h.send(t, &hfi.Test{}, 1, 1)
	if h.table.Queue(hfi.QueueLog).Pending() {
		t.Error("log queue written while disabled")
	}
}

func TestFaultKindString(t *testing.T) {
	if FaultStaleAck.String() != "stale-ack" || FaultKind(99).String() != "unknown" {
		t.Error("unexpected FaultKind names")
	}
}

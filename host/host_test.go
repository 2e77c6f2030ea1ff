package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ardnew/softgmu/firmware"
	"github.com/ardnew/softgmu/hfi"
	"github.com/ardnew/softgmu/host/hal"
	"github.com/ardnew/softgmu/host/hal/sim"
	"github.com/ardnew/softgmu/pkg"
	"github.com/ardnew/softgmu/pkg/metrics"
	"github.com/ardnew/softgmu/shmem"
)

// =============================================================================
// Mock HAL for Testing
// =============================================================================

// mockHAL implements hal.GMUHAL for testing. Nothing services the queues.
type mockHAL struct {
	mem       *shmem.Region
	irq       atomic.Uint32
	doorbells atomic.Int32

	initErr  error
	closeErr error

	closed bool
	mu     sync.Mutex
}

func newMockHAL() *mockHAL {
	return &mockHAL{mem: shmem.New(hfi.RegionWords)}
}

func (m *mockHAL) Init(ctx context.Context) error {
	return m.initErr
}

func (m *mockHAL) Memory() *shmem.Region {
	return m.mem
}

func (m *mockHAL) RingDoorbell() error {
	m.doorbells.Add(1)
	return nil
}

func (m *mockHAL) IRQStatus() hal.IRQ {
	return hal.IRQ(m.irq.Load())
}

func (m *mockHAL) ClearIRQ(mask hal.IRQ) error {
	m.irq.And(^uint32(mask))
	return nil
}

func (m *mockHAL) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.closeErr
}

var _ hal.GMUHAL = (*mockHAL)(nil)

// =============================================================================
// Test Helpers
// =============================================================================

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ResponseTimeout = 2 * time.Second
	cfg.PollInterval = 20 * time.Microsecond
	return cfg
}

type simHarness struct {
	host *Host
	fw   *firmware.Firmware
	bus  *sim.Bus
}

// newSimHarness opens a host against the simulated firmware over a sim bus.
func newSimHarness(t *testing.T, cfg Config, fwcfg firmware.Config) *simHarness {
	t.Helper()
	bus := sim.New()
	fw := firmware.New(bus.Firmware(), fwcfg)
	tables := testTables()
	h := New(bus.Host(), tables, tables, fw, cfg)

	ctx := context.Background()
	if err := h.Open(ctx); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := fw.Start(ctx); err != nil {
		t.Fatalf("firmware Start() error = %v", err)
	}
	t.Cleanup(func() {
		_ = fw.Stop()
		_ = h.Close()
	})
	return &simHarness{host: h, fw: fw, bus: bus}
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

func TestHost_NotOpen(t *testing.T) {
	h := New(newMockHAL(), nil, nil, nil, testConfig())
	ctx := context.Background()

	if err := h.Init(ctx); !errors.Is(err, pkg.ErrNotOpen) {
		t.Errorf("Init() = %v, want ErrNotOpen", err)
	}
	if err := h.Stop(ctx); !errors.Is(err, pkg.ErrNotOpen) {
		t.Errorf("Stop() = %v, want ErrNotOpen", err)
	}
	if err := h.SendTest(ctx); !errors.Is(err, pkg.ErrNotOpen) {
		t.Errorf("SendTest() = %v, want ErrNotOpen", err)
	}
	if _, err := h.DrainLog(nil); !errors.Is(err, pkg.ErrNotOpen) {
		t.Errorf("DrainLog() = %v, want ErrNotOpen", err)
	}
	if h.State() != StateIdle || h.FirmwareVersion() != 0 || h.Table() != nil {
		t.Error("unexpected state before Open")
	}
	if err := h.Close(); err != nil {
		t.Errorf("Close() before Open = %v", err)
	}
}

func TestHost_Open(t *testing.T) {
	m := newMockHAL()
	h := New(m, nil, nil, nil, testConfig())
	ctx := context.Background()

	if err := h.Open(ctx); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !h.IsOpen() {
		t.Error("IsOpen() = false")
	}
	if _, err := uuid.Parse(h.SessionID()); err != nil {
		t.Errorf("SessionID() = %q: %v", h.SessionID(), err)
	}
	if got := h.Table().Header().NumQueues; got != hfi.NumQueues {
		t.Errorf("NumQueues = %d", got)
	}
	if err := h.Open(ctx); !errors.Is(err, pkg.ErrAlreadyOpen) {
		t.Errorf("second Open() = %v, want ErrAlreadyOpen", err)
	}

	first := h.SessionID()
	if err := h.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !m.closed {
		t.Error("HAL not closed")
	}
	if err := h.Open(ctx); err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	if h.SessionID() == first {
		t.Error("reopen kept the session ID")
	}
}

func TestHost_OpenHALError(t *testing.T) {
	m := newMockHAL()
	m.initErr = errors.New("clock off")
	h := New(m, nil, nil, nil, testConfig())

	if err := h.Open(context.Background()); !errors.Is(err, m.initErr) {
		t.Errorf("Open() = %v, want %v", err, m.initErr)
	}
	if h.IsOpen() {
		t.Error("IsOpen() after failed Open")
	}
}

func TestHost_OpenRegionTooSmall(t *testing.T) {
	m := newMockHAL()
	m.mem = shmem.New(hfi.PageWords)
	h := New(m, nil, nil, nil, testConfig())

	if err := h.Open(context.Background()); !errors.Is(err, pkg.ErrBufferTooSmall) {
		t.Errorf("Open() = %v, want ErrBufferTooSmall", err)
	}
}

func TestHost_LoaderError(t *testing.T) {
	want := errors.New("firmware image missing")
	loader := hal.FirmwareLoaderFunc(func(ctx context.Context) error { return want })
	tables := testTables()
	h := New(newMockHAL(), tables, tables, loader, testConfig())
	if err := h.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := h.Init(context.Background()); !errors.Is(err, want) {
		t.Errorf("Init() = %v, want %v", err, want)
	}
	if h.State() != StateIdle {
		t.Errorf("State() = %s, want idle", h.State())
	}
}

// =============================================================================
// Bootstrap Tests
// =============================================================================

func TestHost_Bootstrap(t *testing.T) {
	fwcfg := firmware.DefaultConfig()
	fwcfg.Version = 0x100A0003
	sh := newSimHarness(t, testConfig(), fwcfg)

	if err := sh.host.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if sh.host.State() != StateStarted {
		t.Errorf("State() = %s, want started", sh.host.State())
	}
	if sh.host.FirmwareVersion() != 0x100A0003 {
		t.Errorf("FirmwareVersion() = 0x%x", sh.host.FirmwareVersion())
	}

	s := sh.fw.State()
	if s.HostVersion != hfi.SupportedVersion {
		t.Errorf("host version = 0x%x", s.HostVersion)
	}
	if s.PerfTable.NumGX != 3 || s.PerfTable.GX[2].ACD != 0xa02b5ffd {
		t.Errorf("perf table = %+v", s.PerfTable)
	}
	if !s.BandwidthLoaded || s.BandwidthTable.DDRCmdAddrs[0] != 0x50000 {
		t.Error("bandwidth table not delivered")
	}
	if s.Features[hfi.FeatureACD] != 1 {
		t.Errorf("features = %v", s.Features)
	}
	if !s.CoreStarted || !s.Started || s.Vote.Freq != 2 {
		t.Errorf("firmware state = %+v", s)
	}

	for _, q := range sh.host.Table().Queues()[:2] {
		if q.Pending() {
			t.Errorf("%s queue not drained", q.ID())
		}
	}
}

func TestHost_BootstrapZeroConfig(t *testing.T) {
	// Only the timeout is raised so the goroutine-driven firmware keeps up.
	sh := newSimHarness(t, Config{ResponseTimeout: 2 * time.Second}, firmware.DefaultConfig())

	if err := sh.host.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	s := sh.fw.State()
	if s.Vote.Freq != uint32(s.PerfTable.NumGX-1) {
		t.Errorf("vote level = %d, want highest (%d)", s.Vote.Freq, s.PerfTable.NumGX-1)
	}
	if s.Features[hfi.FeatureACD] != 1 {
		t.Errorf("features = %v, want ACD enabled", s.Features)
	}
}

func TestHost_BootstrapLegacy(t *testing.T) {
	cfg := testConfig()
	cfg.Legacy = true
	fwcfg := firmware.DefaultConfig()
	fwcfg.Legacy = true
	sh := newSimHarness(t, cfg, fwcfg)

	if err := sh.host.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	// FW_VERSION is two words; without padding the next write starts at 2.
	if h := sh.host.Table().Queue(hfi.QueueCommand).History(); len(h) < 2 || h[1] != 2 {
		t.Errorf("command queue history = %v", h)
	}
}

func TestHost_InitFailureAndRetry(t *testing.T) {
	sh := newSimHarness(t, testConfig(), firmware.DefaultConfig())
	ctx := context.Background()
	sh.fw.Reject(hfi.MsgPerfTable, 0x7)

	err := sh.host.Init(ctx)
	var rejected *pkg.FirmwareRejectedError
	if !errors.As(err, &rejected) || rejected.Code != 0x7 {
		t.Fatalf("Init() = %v, want rejection code 7", err)
	}
	if rejected.MessageID != uint8(hfi.MsgPerfTable) {
		t.Errorf("MessageID = %d", rejected.MessageID)
	}
	if sh.host.State() != StateFailed {
		t.Errorf("State() = %s, want failed", sh.host.State())
	}
	if !pkg.IsFatal(err) {
		t.Error("IsFatal() = false")
	}

	if err := sh.host.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	sh.fw.ClearFaults()
	sh.fw.Reset()

	if err := sh.host.Init(ctx); err != nil {
		t.Fatalf("retry Init() error = %v", err)
	}
	if sh.host.State() != StateStarted {
		t.Errorf("State() = %s after retry", sh.host.State())
	}
}

func TestHost_Metrics(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics = metrics.New(prometheus.NewRegistry())
	sh := newSimHarness(t, cfg, firmware.DefaultConfig())

	if err := sh.host.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	m := cfg.Metrics
	if got := testutil.ToFloat64(m.Transactions.WithLabelValues("START", metrics.ResultOK)); got != 1 {
		t.Errorf("START transactions = %v", got)
	}
	if got := testutil.ToFloat64(m.SessionState); got != float64(StateStarted) {
		t.Errorf("session_state = %v", got)
	}
	if got := testutil.ToFloat64(m.Bootstraps.WithLabelValues(metrics.ResultOK)); got != 1 {
		t.Errorf("bootstraps = %v", got)
	}
}

// =============================================================================
// Stop Tests
// =============================================================================

func TestHost_Stop(t *testing.T) {
	sh := newSimHarness(t, testConfig(), firmware.DefaultConfig())
	ctx := context.Background()
	if err := sh.host.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	// Leave records in the log queue so Stop finds it undrained.
	if !sh.host.Table().Queue(hfi.QueueLog).Pending() {
		t.Fatal("log queue unexpectedly empty")
	}

	if err := sh.host.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	for _, q := range sh.host.Table().Queues() {
		s := q.Snapshot()
		if s.ReadIndex != 0 || s.WriteIndex != 0 {
			t.Errorf("%s queue r=%d w=%d after Stop", q.ID(), s.ReadIndex, s.WriteIndex)
		}
	}
	if sh.host.State() != StateIdle {
		t.Errorf("State() = %s after Stop", sh.host.State())
	}
	if sh.fw.State().Slumbering {
		t.Error("PREPARE_SLUMBER sent without NotifyOnStop")
	}
}

// syncBuffer is a bytes.Buffer safe for concurrent loggers.
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestHost_StopLogsPendingWords(t *testing.T) {
	var buf syncBuffer
	original := pkg.DefaultLogger
	pkg.SetLogger(pkg.NewLogger(&buf, nil))
	defer pkg.SetLogger(original)

	sh := newSimHarness(t, testConfig(), firmware.DefaultConfig())
	ctx := context.Background()
	if err := sh.host.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	pending := sh.host.Table().Queue(hfi.QueueLog).Snapshot().Used()
	if pending == 0 {
		t.Fatal("log queue unexpectedly empty")
	}
	if err := sh.host.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "queue not drained") {
		t.Fatalf("no undrained queue warning in:\n%s", out)
	}
	if want := fmt.Sprintf("pending_words=%d", pending); !strings.Contains(out, want) {
		t.Errorf("warning missing %s:\n%s", want, out)
	}
}

func TestHost_StopNotify(t *testing.T) {
	cfg := testConfig()
	cfg.NotifyOnStop = true
	sh := newSimHarness(t, cfg, firmware.DefaultConfig())
	ctx := context.Background()
	if err := sh.host.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	if err := sh.host.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !sh.fw.State().Slumbering {
		t.Error("firmware did not receive PREPARE_SLUMBER")
	}
}

func TestHost_StopNotifyFailureIgnored(t *testing.T) {
	cfg := testConfig()
	cfg.NotifyOnStop = true
	cfg.ResponseTimeout = 10 * time.Millisecond
	sh := newSimHarness(t, cfg, firmware.DefaultConfig())
	ctx := context.Background()

	// The firmware never answers; Stop still resets.
	sh.fw.InjectFault(firmware.FaultSilent, 0)
	if err := sh.host.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	for _, q := range sh.host.Table().Queues() {
		if q.Pending() {
			t.Errorf("%s queue pending after Stop", q.ID())
		}
	}
}

// =============================================================================
// Extra Operation Tests
// =============================================================================

func TestHost_ExtraOperations(t *testing.T) {
	sh := newSimHarness(t, testConfig(), firmware.DefaultConfig())
	ctx := context.Background()
	if err := sh.host.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	if err := sh.host.SendGMUInit(ctx, 3); err != nil {
		t.Fatalf("SendGMUInit() error = %v", err)
	}
	if err := sh.host.SendTest(ctx); err != nil {
		t.Fatalf("SendTest() error = %v", err)
	}
	if err := sh.host.SetFrequency(ctx, 1, 1); err != nil {
		t.Fatalf("SetFrequency() error = %v", err)
	}

	s := sh.fw.State()
	if !s.Booted || s.BootState != 3 || s.Tests != 1 {
		t.Errorf("firmware state = %+v", s)
	}
	if s.Vote.Freq != 1 || s.Vote.BW != 1 {
		t.Errorf("vote = %+v", s.Vote)
	}

	err := sh.host.SetFrequency(ctx, 7, 0)
	var rejected *pkg.FirmwareRejectedError
	if !errors.As(err, &rejected) || rejected.Code != firmware.CodeInvalidArgument {
		t.Errorf("SetFrequency(7) = %v, want invalid argument", err)
	}
	if pkg.IsFatal(err) {
		t.Error("IsFatal() = true for a rejected runtime vote")
	}
	if sh.host.State() != StateStarted {
		t.Errorf("State() = %s after rejected vote, want started", sh.host.State())
	}
	if err := sh.host.SendTest(ctx); err != nil {
		t.Errorf("SendTest() after rejected vote error = %v", err)
	}

	if err := sh.host.PrepareSlumber(ctx, 0, 0); err != nil {
		t.Fatalf("PrepareSlumber() error = %v", err)
	}
	if !sh.fw.State().Slumbering {
		t.Error("firmware not slumbering")
	}
}

// =============================================================================
// Log Queue Tests
// =============================================================================

func TestHost_DrainLog(t *testing.T) {
	sh := newSimHarness(t, testConfig(), firmware.DefaultConfig())
	if err := sh.host.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	var ids []hfi.MessageID
	n, err := sh.host.DrainLog(func(record []uint32) {
		ids = append(ids, hfi.Header(record[0]).ID())
	})
	if err != nil {
		t.Fatalf("DrainLog() error = %v", err)
	}

	want := []hfi.MessageID{
		hfi.MsgFWVersion,
		hfi.MsgPerfTable,
		hfi.MsgBWTable,
		hfi.MsgFeatureCtrl,
		hfi.MsgCoreFWStart,
		hfi.MsgGXBWPerfVote,
		hfi.MsgStart,
	}
	if n != len(want) || len(ids) != len(want) {
		t.Fatalf("DrainLog() = %d records %v", n, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("record %d = %s, want %s", i, ids[i], want[i])
		}
	}

	if n, _ := sh.host.DrainLog(nil); n != 0 {
		t.Errorf("second DrainLog() = %d", n)
	}
}

func TestHost_DrainLogDisabled(t *testing.T) {
	fwcfg := firmware.DefaultConfig()
	fwcfg.EnableLog = false
	sh := newSimHarness(t, testConfig(), fwcfg)
	if err := sh.host.SendTest(context.Background()); err != nil {
		t.Fatalf("SendTest() error = %v", err)
	}

	n, err := sh.host.DrainLog(func([]uint32) { t.Error("unexpected record") })
	if err != nil || n != 0 {
		t.Errorf("DrainLog() = %d, %v", n, err)
	}
}

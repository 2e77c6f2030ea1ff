package host

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/ardnew/softgmu/hfi"
	"github.com/ardnew/softgmu/host/hal"
	"github.com/ardnew/softgmu/pkg"
)

// Host drives the HFI from the host side: it owns the queue table, the
// transport and the bootstrap session.
type Host struct {
	hal    hal.GMUHAL
	power  hal.PowerTableProvider
	bw     hal.BandwidthTableProvider
	loader hal.FirmwareLoader
	cfg    Config

	// Per-open state
	id        string
	log       *slog.Logger
	table     *hfi.Table
	transport *Transport
	session   *Session

	// State
	open  bool
	mutex sync.RWMutex

	// Reusable log queue buffer, guarded by logMu
	logBuf [hfi.MaxMessageWords]uint32
	logMu  sync.Mutex
}

// New creates a host. loader may be nil when the firmware is known to be
// running already.
func New(h hal.GMUHAL, power hal.PowerTableProvider, bw hal.BandwidthTableProvider, loader hal.FirmwareLoader, cfg Config) *Host {
	return &Host{
		hal:    h,
		power:  power,
		bw:     bw,
		loader: loader,
		cfg:    cfg.withDefaults(),
	}
}

// Open initializes the HAL and writes a fresh queue table into the HFI
// region. Each open starts a new session identified by a random ID.
func (h *Host) Open(ctx context.Context) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.open {
		return pkg.ErrAlreadyOpen
	}

	if err := h.hal.Init(ctx); err != nil {
		return fmt.Errorf("hal init: %w", err)
	}

	table, err := hfi.InitTable(h.hal.Memory(), h.cfg.Legacy)
	if err != nil {
		return fmt.Errorf("init table: %w", err)
	}

	h.id = uuid.NewString()
	h.log = pkg.With(pkg.ComponentSession, "session", h.id)
	h.table = table
	h.transport = NewTransport(h.hal, table, h.cfg, h.log)
	h.session = NewSession(h.transport, h.power, h.bw, h.cfg, h.log)
	h.open = true

	h.log.Info("host opened", "legacy", h.cfg.Legacy)
	return nil
}

// Init waits for the firmware and runs the bootstrap sequence to
// completion. On failure the session is left in StateFailed; call Stop
// before trying again.
func (h *Host) Init(ctx context.Context) error {
	session, err := h.current()
	if err != nil {
		return err
	}

	if h.loader != nil {
		if err := h.loader.WaitReady(ctx); err != nil {
			return fmt.Errorf("firmware not ready: %w", err)
		}
	}

	err = session.Run(ctx)
	h.cfg.Metrics.IncBootstrap(err == nil)
	return err
}

// Stop ends the session. If configured, PREPARE_SLUMBER is sent first and
// its failure ignored. Every queue is then reset; undrained queues are
// logged. The queue table stays valid for another Init.
func (h *Host) Stop(ctx context.Context) error {
	h.mutex.RLock()
	if !h.open {
		h.mutex.RUnlock()
		return pkg.ErrNotOpen
	}
	table, session, log := h.table, h.session, h.log
	h.mutex.RUnlock()

	if h.cfg.NotifyOnStop {
		if err := h.PrepareSlumber(ctx, 0, 0); err != nil {
			log.Warn("prepare slumber failed", "error", err)
		}
	}

	for _, q := range table.Queues() {
		if s := q.Snapshot(); s.ReadIndex != s.WriteIndex {
			log.Warn("queue not drained",
				"queue", q.ID(),
				"read_index", s.ReadIndex,
				"write_index", s.WriteIndex,
				"pending_words", s.Used())
		}
		q.Reset()
	}
	session.Reset()

	log.Info("host stopped")
	return nil
}

// Close releases the HAL. Whether the host can be opened again depends on
// the HAL.
func (h *Host) Close() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if !h.open {
		return nil
	}
	h.open = false
	h.log.Info("host closed")
	return h.hal.Close()
}

// IsOpen returns true between Open and Close.
func (h *Host) IsOpen() bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.open
}

// SessionID returns the ID assigned at the last Open.
func (h *Host) SessionID() string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.id
}

// State returns the bootstrap state, or StateIdle when not open.
func (h *Host) State() SessionState {
	session, err := h.current()
	if err != nil {
		return StateIdle
	}
	return session.State()
}

// FirmwareVersion returns the version the firmware reported during
// bootstrap.
func (h *Host) FirmwareVersion() uint32 {
	session, err := h.current()
	if err != nil {
		return 0
	}
	return session.FirmwareVersion()
}

// Table returns the queue table, or nil when not open.
func (h *Host) Table() *hfi.Table {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.table
}

// Send runs one transaction outside the bootstrap sequence.
func (h *Host) Send(ctx context.Context, cmd hfi.Message, payload []uint32) (int, error) {
	h.mutex.RLock()
	if !h.open {
		h.mutex.RUnlock()
		return 0, pkg.ErrNotOpen
	}
	tr := h.transport
	h.mutex.RUnlock()
	return tr.SendAndAwait(ctx, cmd, payload)
}

// SendGMUInit sends the legacy GMU_INIT handshake.
func (h *Host) SendGMUInit(ctx context.Context, bootState uint32) error {
	_, err := h.Send(ctx, &hfi.GMUInit{BootState: bootState}, nil)
	return err
}

// SendTest sends a TEST message.
func (h *Host) SendTest(ctx context.Context) error {
	_, err := h.Send(ctx, &hfi.Test{}, nil)
	return err
}

// SetFrequency votes for a GPU perf level and bandwidth level and waits for
// the firmware to apply it.
func (h *Host) SetFrequency(ctx context.Context, level, bw uint32) error {
	vote := &hfi.GXBWPerfVote{AckType: hfi.AckTypeBlocking, Freq: level, BW: bw}
	_, err := h.Send(ctx, vote, nil)
	return err
}

// PrepareSlumber tells the firmware the GMU is about to power down.
func (h *Host) PrepareSlumber(ctx context.Context, level, bw uint32) error {
	_, err := h.Send(ctx, &hfi.PrepareSlumber{Freq: level, BW: bw}, nil)
	return err
}

// DrainLog reads every record from the log queue and passes it to fn. The
// record slice is only valid during the call. A disabled log queue yields
// no records.
func (h *Host) DrainLog(fn func(record []uint32)) (int, error) {
	h.mutex.RLock()
	if !h.open {
		h.mutex.RUnlock()
		return 0, pkg.ErrNotOpen
	}
	q := h.table.Queue(hfi.QueueLog)
	h.mutex.RUnlock()

	if !q.Enabled() {
		return 0, nil
	}

	h.logMu.Lock()
	defer h.logMu.Unlock()

	count := 0
	defer func() { h.cfg.Metrics.AddLogRecords(count) }()
	for {
		n, err := q.Read(h.logBuf[:])
		if err != nil {
			return count, fmt.Errorf("log queue: %w", err)
		}
		if n == 0 {
			return count, nil
		}
		count++
		if fn != nil {
			fn(h.logBuf[:n])
		}
	}
}

func (h *Host) current() (*Session, error) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	if !h.open {
		return nil, pkg.ErrNotOpen
	}
	return h.session, nil
}

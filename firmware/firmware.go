package firmware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ardnew/softgmu/firmware/hal"
	"github.com/ardnew/softgmu/hfi"
	"github.com/ardnew/softgmu/pkg"
)

// readyPollInterval is how often WaitReady checks the running flag.
const readyPollInterval = time.Millisecond

// Config configures the simulated firmware.
type Config struct {
	// Version is reported in the FW_VERSION acknowledgement.
	Version uint32

	// Legacy disables queue padding; it must match the host.
	Legacy bool

	// EnableLog enables the debug and log queues at start and writes one
	// log record per handled command.
	EnableLog bool
}

// DefaultConfig returns the default firmware configuration.
func DefaultConfig() Config {
	return Config{
		Version:   hfi.SupportedVersion,
		EnableLog: true,
	}
}

// Firmware is a simulated GMU firmware. It services the command queue of an
// HFI table initialized by the host and answers on the response queue.
type Firmware struct {
	hal hal.FirmwareHAL
	cfg Config

	table *hfi.Table
	cmdq  *hfi.Queue
	rspq  *hfi.Queue
	logq  *hfi.Queue

	// State
	running bool
	mutex   sync.RWMutex

	// Context for cancellation
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// Learned state and fault injection
	state   State
	faults  []fault
	rejects map[hfi.MessageID]uint32
	stateMu sync.Mutex

	// Reusable receive buffer, owned by the service loop
	rxBuf [hfi.MaxMessageWords]uint32
}

// New creates a firmware instance on top of h.
func New(h hal.FirmwareHAL, cfg Config) *Firmware {
	return &Firmware{
		hal: h,
		cfg: cfg,
	}
}

// Start attaches to the HFI table in the HAL's memory and starts servicing
// the command queue. The host must have initialized the table.
func (f *Firmware) Start(ctx context.Context) error {
	f.mutex.Lock()
	if f.running {
		f.mutex.Unlock()
		return pkg.ErrAlreadyOpen
	}
	f.mutex.Unlock()

	if err := f.hal.Init(ctx); err != nil {
		return err
	}

	table, err := hfi.AttachTable(f.hal.Memory(), f.cfg.Legacy)
	if err != nil {
		return fmt.Errorf("attach table: %w", err)
	}

	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.running {
		return pkg.ErrAlreadyOpen
	}

	f.table = table
	f.cmdq = table.Queue(hfi.QueueCommand)
	f.rspq = table.Queue(hfi.QueueResponse)
	f.logq = table.Queue(hfi.QueueLog)
	f.rspq.SetNotifier(hfi.NotifierFunc(func() error {
		return f.hal.RaiseIRQ(hal.IRQMsgQ)
	}))
	if f.cfg.EnableLog {
		table.Queue(hfi.QueueDebug).SetEnabled(true)
		f.logq.SetEnabled(true)
	}

	f.ctx, f.cancel = context.WithCancel(ctx)
	f.done = make(chan struct{})
	f.running = true

	pkg.LogDebug(pkg.ComponentFirmware, "firmware started",
		"version", fmt.Sprintf("0x%08x", f.cfg.Version),
		"legacy", f.cfg.Legacy)

	go f.serviceLoop(f.ctx, f.done)

	return nil
}

// Stop stops servicing the command queue and waits for the service loop to
// exit.
func (f *Firmware) Stop() error {
	f.mutex.Lock()
	if !f.running {
		f.mutex.Unlock()
		return nil
	}

	f.running = false
	f.cancel()
	done := f.done
	f.mutex.Unlock()

	<-done

	pkg.LogDebug(pkg.ComponentFirmware, "firmware stopped")
	return nil
}

// Run starts the firmware, blocks until ctx is done and stops it.
func (f *Firmware) Run(ctx context.Context) error {
	if err := f.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return f.Stop()
}

// IsRunning returns true if the service loop is running.
func (f *Firmware) IsRunning() bool {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	return f.running
}

// WaitReady blocks until the firmware is servicing its queues or ctx is
// done.
func (f *Firmware) WaitReady(ctx context.Context) error {
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()
	for !f.IsRunning() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// State returns a snapshot of what the firmware has received.
func (f *Firmware) State() State {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	return f.state.clone()
}

// Reset forgets all received state. Pending faults are kept.
func (f *Firmware) Reset() {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	f.state = State{}
}

// RaiseFault raises the core fault interrupt, as the firmware would on an
// unrecoverable error.
func (f *Firmware) RaiseFault() error {
	return f.hal.RaiseIRQ(hal.IRQCM3Fault)
}

// ReportError queues an asynchronous error report on the response queue.
func (f *Firmware) ReportError(code uint32, payload ...uint32) error {
	f.mutex.RLock()
	rspq := f.rspq
	f.mutex.RUnlock()
	if rspq == nil {
		return pkg.ErrNotOpen
	}

	report := &hfi.ErrorReport{Code: code}
	copy(report.Payload[:], payload)
	words, err := hfi.EncodeClass(report, 0, hfi.ClassCommand)
	if err != nil {
		return err
	}
	return rspq.Write(words)
}

// serviceLoop drains the command queue every time the doorbell rings.
func (f *Firmware) serviceLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		if err := f.hal.WaitDoorbell(ctx); err != nil {
			if ctx.Err() != nil || errors.Is(err, hal.ErrClosed) {
				return
			}
			pkg.LogWarn(pkg.ComponentFirmware, "error waiting for doorbell",
				"error", err)
			continue
		}

		if err := f.drain(); err != nil {
			pkg.LogError(pkg.ComponentFirmware, "command queue fault",
				"error", err)
			if err := f.RaiseFault(); err != nil {
				pkg.LogWarn(pkg.ComponentFirmware, "error raising fault",
					"error", err)
			}
		}
	}
}

// drain handles every message currently in the command queue.
func (f *Firmware) drain() error {
	for {
		n, err := f.cmdq.Read(f.rxBuf[:])
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		f.handle(f.rxBuf[:n])
	}
}

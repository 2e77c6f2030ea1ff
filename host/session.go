package host

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ardnew/softgmu/hfi"
	"github.com/ardnew/softgmu/host/hal"
	"github.com/ardnew/softgmu/pkg"
)

// Session sequences the bootstrap messages that bring the firmware from
// freshly loaded to started. Each call to Advance performs one stage.
type Session struct {
	tr    Transactor
	power hal.PowerTableProvider
	bw    hal.BandwidthTableProvider
	cfg   Config
	log   *slog.Logger

	state     SessionState
	err       error
	fwVersion uint32
	gpuLevels int
	mutex     sync.Mutex
}

// NewSession creates a session in StateIdle.
func NewSession(tr Transactor, power hal.PowerTableProvider, bw hal.BandwidthTableProvider, cfg Config, log *slog.Logger) *Session {
	if log == nil {
		log = pkg.With(pkg.ComponentSession)
	}
	return &Session{
		tr:    tr,
		power: power,
		bw:    bw,
		cfg:   cfg.withDefaults(),
		log:   log,
	}
}

// State returns the current state.
func (s *Session) State() SessionState {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.state
}

// Err returns the error that moved the session to StateFailed, if any.
func (s *Session) Err() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.err
}

// FirmwareVersion returns the version the firmware reported, or 0 before
// the version exchange.
func (s *Session) FirmwareVersion() uint32 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.fwVersion
}

// Reset returns the session to StateIdle.
func (s *Session) Reset() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.state = StateIdle
	s.err = nil
	s.fwVersion = 0
	s.gpuLevels = 0
	s.cfg.Metrics.SetSessionState(int(StateIdle))
}

// Advance performs the stage that leaves the current state and returns the
// new state. A failed stage moves the session to StateFailed and returns
// the stage error wrapped with the stage name.
func (s *Session) Advance(ctx context.Context) (SessionState, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	from := s.state
	if from == StateStarted || from == StateFailed {
		return from, fmt.Errorf("%w: %s", pkg.ErrInvalidState, from)
	}

	next, err := s.step(ctx, from)
	if err != nil {
		s.state = StateFailed
		s.err = &pkg.StageError{Stage: from.stage(), Err: err}
		s.cfg.Metrics.SetSessionState(int(StateFailed))
		s.log.Error("bootstrap stage failed",
			"stage", from.stage(),
			"error", err)
		return s.state, s.err
	}

	s.state = next
	s.cfg.Metrics.SetSessionState(int(next))
	s.log.Debug("session advanced", "from", from, "to", next)
	return next, nil
}

// Run advances the session until it is started or a stage fails.
func (s *Session) Run(ctx context.Context) error {
	for {
		state, err := s.Advance(ctx)
		if err != nil {
			return err
		}
		if state == StateStarted {
			s.log.Info("session started",
				"firmware_version", fmt.Sprintf("0x%08x", s.FirmwareVersion()))
			return nil
		}
	}
}

// step sends the messages for one stage. It is called with the mutex held.
func (s *Session) step(ctx context.Context, from SessionState) (SessionState, error) {
	switch from {
	case StateIdle:
		return StateVersionExchanged, s.exchangeVersion(ctx)
	case StateVersionExchanged:
		return StatePerfTableSent, s.sendPerfTable(ctx)
	case StatePerfTableSent:
		return StateBandwidthTableSent, s.sendBandwidthTable(ctx)
	case StateBandwidthTableSent:
		return StateFeatureControlSent, s.sendFeatures(ctx)
	case StateFeatureControlSent:
		_, err := s.tr.SendAndAwait(ctx, &hfi.CoreFWStart{}, nil)
		return StateCoreStarted, err
	case StateCoreStarted:
		return StateBandwidthVoteSent, s.sendBootVote(ctx)
	case StateBandwidthVoteSent:
		_, err := s.tr.SendAndAwait(ctx, &hfi.Start{}, nil)
		return StateStarted, err
	default:
		return from, fmt.Errorf("%w: %s", pkg.ErrInvalidState, from)
	}
}

func (s *Session) exchangeVersion(ctx context.Context) error {
	var payload [1]uint32
	n, err := s.tr.SendAndAwait(ctx, &hfi.FWVersion{SupportedVersion: hfi.SupportedVersion}, payload[:])
	if err != nil {
		return err
	}
	if n > 0 {
		s.fwVersion = payload[0]
	}

	// The reported version is recorded, not enforced.
	v := hfi.Version(s.fwVersion)
	if v.Major() != hfi.Version(hfi.SupportedVersion).Major() {
		s.log.Warn("firmware reports a different major version",
			"firmware", fmt.Sprintf("%d.%d", v.Major(), v.Minor()))
	}
	return nil
}

func (s *Session) sendPerfTable(ctx context.Context) error {
	if s.power == nil {
		return fmt.Errorf("%w: no power table provider", pkg.ErrInvalidParameter)
	}
	gpu, gmu, err := s.power.PowerLevels()
	if err != nil {
		return err
	}
	table, err := BuildPerfTable(gpu, gmu)
	if err != nil {
		return err
	}
	if _, err := s.tr.SendAndAwait(ctx, table, nil); err != nil {
		return err
	}
	s.gpuLevels = len(gpu)
	return nil
}

func (s *Session) sendBandwidthTable(ctx context.Context) error {
	if s.bw == nil {
		return fmt.Errorf("%w: no bandwidth table provider", pkg.ErrInvalidParameter)
	}
	table, err := s.bw.BandwidthTable()
	if err != nil {
		return err
	}
	_, err = s.tr.SendAndAwait(ctx, table, nil)
	return err
}

func (s *Session) sendFeatures(ctx context.Context) error {
	for _, f := range s.cfg.Features {
		if _, err := s.tr.SendAndAwait(ctx, &hfi.FeatureCtrl{Feature: f, Enable: 1}, nil); err != nil {
			return fmt.Errorf("feature %d: %w", f, err)
		}
	}
	return nil
}

func (s *Session) sendBootVote(ctx context.Context) error {
	level := s.gpuLevels - 1
	if p := s.cfg.BootLevel; p != nil && *p >= 0 && *p < s.gpuLevels {
		level = *p
	}
	vote := &hfi.GXBWPerfVote{
		AckType: hfi.AckTypeBlocking,
		Freq:    uint32(level),
		BW:      s.cfg.BootBandwidth,
	}
	_, err := s.tr.SendAndAwait(ctx, vote, nil)
	return err
}

// BuildPerfTable packs rail levels into a PERF_TABLE message. GPU levels
// without an ACD setting must carry hfi.ACDUnused.
func BuildPerfTable(gpu []hfi.GXPerfLevel, gmu []hfi.PerfLevel) (*hfi.PerfTable, error) {
	if len(gpu) == 0 || len(gpu) > hfi.MaxGXLevels {
		return nil, fmt.Errorf("%w: %d gpu levels, want 1..%d", pkg.ErrInvalidParameter, len(gpu), hfi.MaxGXLevels)
	}
	if len(gmu) > hfi.MaxCXLevels {
		return nil, fmt.Errorf("%w: %d gmu levels, max %d", pkg.ErrInvalidParameter, len(gmu), hfi.MaxCXLevels)
	}
	t := &hfi.PerfTable{
		NumGX: uint32(len(gpu)),
		NumCX: uint32(len(gmu)),
	}
	copy(t.GX[:], gpu)
	copy(t.CX[:], gmu)
	return t, nil
}

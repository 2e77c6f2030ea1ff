package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ardnew/softgmu/hfi"
	"github.com/ardnew/softgmu/host/hal"
	"github.com/ardnew/softgmu/pkg"
	"github.com/ardnew/softgmu/pkg/metrics"
)

// Transactor sends a command and waits for its acknowledgement.
type Transactor interface {
	SendAndAwait(ctx context.Context, cmd hfi.Message, payload []uint32) (int, error)
}

// Transport runs request/response transactions over the command and
// response queues. One transaction is in flight at a time; concurrent
// callers are serialized.
type Transport struct {
	hal  hal.GMUHAL
	cmdq *hfi.Queue
	rspq *hfi.Queue

	timeout time.Duration
	poll    time.Duration
	metrics *metrics.Metrics
	log     *slog.Logger

	mu    sync.Mutex
	rxBuf [hfi.MaxMessageWords]uint32
}

// NewTransport creates a transport over the queues of table. Writes to the
// command queue ring the HAL doorbell.
func NewTransport(h hal.GMUHAL, table *hfi.Table, cfg Config, log *slog.Logger) *Transport {
	cfg = cfg.withDefaults()
	if log == nil {
		log = pkg.With(pkg.ComponentHFI)
	}
	t := &Transport{
		hal:     h,
		cmdq:    table.Queue(hfi.QueueCommand),
		rspq:    table.Queue(hfi.QueueResponse),
		timeout: cfg.ResponseTimeout,
		poll:    cfg.PollInterval,
		metrics: cfg.Metrics,
		log:     log,
	}
	t.cmdq.SetNotifier(hfi.NotifierFunc(h.RingDoorbell))
	return t
}

// SendAndAwait writes cmd to the command queue and waits for the matching
// acknowledgement. Up to len(payload) words of the response payload, at
// most hfi.ResponsePayloadWords, are copied into payload and the count is
// returned.
//
// Errors:
//   - pkg.ErrQueueFull: the command did not fit; nothing was sent
//   - pkg.ErrTimeout: no response interrupt in time; firmware state unknown
//   - pkg.ErrResponseMissing: interrupt raised but no matching response
//   - *pkg.FirmwareRejectedError: the firmware answered with an error code
//   - *pkg.CorruptHeaderError: the response queue is corrupt
func (t *Transport) SendAndAwait(ctx context.Context, cmd hfi.Message, payload []uint32) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := cmd.ID()
	start := time.Now()
	n, err := t.transact(ctx, cmd, payload)
	t.metrics.ObserveTransaction(id.String(), resultOf(err), time.Since(start))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", id, err)
	}
	return n, nil
}

func (t *Transport) transact(ctx context.Context, cmd hfi.Message, payload []uint32) (int, error) {
	seq := t.cmdq.NextSeq()
	words, err := hfi.Encode(cmd, seq)
	if err != nil {
		return 0, err
	}

	if err := t.cmdq.Write(words); err != nil {
		if errors.Is(err, pkg.ErrQueueFull) {
			t.metrics.IncQueueFull(hfi.QueueCommand.String())
		}
		return 0, err
	}

	t.log.Debug("command sent", "header", hfi.Header(words[0]))

	if err := t.waitResponse(ctx); err != nil {
		return 0, err
	}
	if err := t.hal.ClearIRQ(hal.IRQMsgQ); err != nil {
		return 0, err
	}

	for {
		n, err := t.rspq.Read(t.rxBuf[:])
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, pkg.ErrResponseMissing
		}

		h := hfi.Header(t.rxBuf[0])
		switch h.ID() {
		case hfi.MsgError:
			t.firmwareError(t.rxBuf[:n])
			continue
		case hfi.MsgAck:
		default:
			t.log.Warn("unexpected message on response queue", "header", h)
			continue
		}

		rsp, err := hfi.DecodeResponse(t.rxBuf[:n])
		if err != nil {
			t.log.Warn("malformed response", "header", h, "error", err)
			continue
		}
		if rsp.Seq() != seq {
			t.metrics.IncStaleResponse()
			t.log.Warn("response sequence mismatch",
				"want", seq,
				"got", rsp.Seq(),
				"ret_header", rsp.RetHeader)
			continue
		}
		if rsp.Error != 0 {
			return 0, &pkg.FirmwareRejectedError{
				MessageID: uint8(cmd.ID()),
				Seq:       seq,
				Code:      rsp.Error,
			}
		}
		return copy(payload, rsp.Payload[:]), nil
	}
}

// waitResponse polls the interrupt status for the response bit.
func (t *Transport) waitResponse(ctx context.Context) error {
	if t.hal.IRQStatus()&hal.IRQMsgQ != 0 {
		return nil
	}

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()
	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", pkg.ErrTimeout, ctx.Err())
		case <-timer.C:
			// One last look; the interrupt may have landed with the deadline.
			if t.hal.IRQStatus()&hal.IRQMsgQ != 0 {
				return nil
			}
			return pkg.ErrTimeout
		case <-ticker.C:
			if t.hal.IRQStatus()&hal.IRQMsgQ != 0 {
				return nil
			}
		}
	}
}

func (t *Transport) firmwareError(words []uint32) {
	report, err := hfi.DecodeError(words)
	if err != nil {
		t.log.Warn("malformed error report", "error", err)
		return
	}
	t.metrics.IncFirmwareError(fmt.Sprintf("0x%x", report.Code))
	t.log.Error("firmware error report",
		"code", fmt.Sprintf("0x%x", report.Code),
		"data", report.Payload)
}

func resultOf(err error) string {
	var rejected *pkg.FirmwareRejectedError
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, pkg.ErrQueueFull):
		return metrics.ResultFull
	case errors.Is(err, pkg.ErrTimeout):
		return metrics.ResultTimeout
	case errors.Is(err, pkg.ErrResponseMissing):
		return metrics.ResultMissing
	case errors.As(err, &rejected):
		return metrics.ResultRejected
	case errors.Is(err, pkg.ErrCorruptHeader):
		return metrics.ResultCorrupt
	default:
		return metrics.ResultError
	}
}

var _ Transactor = (*Transport)(nil)

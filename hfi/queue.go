package hfi

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ardnew/softgmu/pkg"
	"github.com/ardnew/softgmu/shmem"
)

// PadCookie fills the slots between the end of a message and the next
// 4-word boundary.
const PadCookie uint32 = 0xFAFAFAFA

// HistorySize is the number of cursor positions a queue remembers.
const HistorySize = 8

// Notifier tells the peer that a queue has new data.
type Notifier interface {
	Notify() error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func() error

// Notify calls f.
func (f NotifierFunc) Notify() error { return f() }

// QueueState is a snapshot of a queue header.
type QueueState struct {
	Status      uint32
	IOVA        uint32
	Type        uint32
	Size        uint32
	MsgSize     uint32
	Dropped     uint32
	RxWatermark uint32
	TxWatermark uint32
	RxRequest   uint32
	TxRequest   uint32
	ReadIndex   uint32
	WriteIndex  uint32
}

// Used returns the number of words between the cursors.
func (s QueueState) Used() uint32 {
	if s.Size == 0 {
		return 0
	}
	return (s.WriteIndex + s.Size - s.ReadIndex) % s.Size
}

// Queue is a single-producer single-consumer ring of 32-bit words in shared
// memory. The producer owns write_index and the consumer owns read_index;
// either side may be the remote peer.
//
// Write is safe for concurrent use. Read is not: a queue has one consumer.
type Queue struct {
	id     QueueID
	hdr    *shmem.Region
	data   *shmem.Region
	size   uint32
	legacy bool

	mu       sync.Mutex // serializes writers
	notifier Notifier
	seq      atomic.Uint32

	histMu  sync.Mutex
	history [HistorySize]uint32
	histLen int
	histIdx int
}

// InitQueue writes a fresh header for a queue whose data region is data and
// returns the queue. The size of data must be a positive multiple of 4.
func InitQueue(id QueueID, hdr, data *shmem.Region, enabled, legacy bool) (*Queue, error) {
	if hdr.Len() < QueueHeaderWords {
		return nil, fmt.Errorf("%w: queue header has %d words", pkg.ErrBufferTooSmall, hdr.Len())
	}
	status := uint32(0)
	if enabled {
		status = 1
	}
	hdr.Store(hdrStatus, status)
	hdr.Store(hdrIOVA, uint32(data.IOVA()))
	hdr.Store(hdrType, QueueType(id))
	hdr.Store(hdrSize, uint32(data.Len()))
	hdr.Store(hdrMsgSize, 0)
	hdr.Store(hdrDropped, 0)
	hdr.Store(hdrRxWatermark, 1)
	hdr.Store(hdrTxWatermark, 1)
	hdr.Store(hdrRxRequest, 1)
	hdr.Store(hdrTxRequest, 0)
	hdr.Store(hdrReadIndex, 0)
	hdr.Store(hdrWriteIndex, 0)
	return AttachQueue(id, hdr, data, legacy)
}

// AttachQueue returns a view of a queue whose header is already
// initialized.
func AttachQueue(id QueueID, hdr, data *shmem.Region, legacy bool) (*Queue, error) {
	if hdr.Len() < QueueHeaderWords {
		return nil, fmt.Errorf("%w: queue header has %d words", pkg.ErrBufferTooSmall, hdr.Len())
	}
	size := hdr.Load(hdrSize)
	if size == 0 || size%4 != 0 || int(size) > data.Len() {
		return nil, fmt.Errorf("%w: %s queue size %d with %d data words",
			pkg.ErrInvalidParameter, id, size, data.Len())
	}
	return &Queue{id: id, hdr: hdr, data: data, size: size, legacy: legacy}, nil
}

// ID returns the queue id.
func (q *Queue) ID() QueueID { return q.id }

// Size returns the data region size in words.
func (q *Queue) Size() uint32 { return q.size }

// Legacy reports whether padding is disabled.
func (q *Queue) Legacy() bool { return q.legacy }

// SetNotifier sets the doorbell rung after every successful write.
func (q *Queue) SetNotifier(n Notifier) {
	q.mu.Lock()
	q.notifier = n
	q.mu.Unlock()
}

// NextSeq returns the next sequence number for a message on this queue.
// Values cycle in [0, SeqModulus); the stored counter never leaves that
// range, so the cycle has no gap when the counter would overflow.
func (q *Queue) NextSeq() uint32 {
	for {
		old := q.seq.Load()
		next := (old + 1) % SeqModulus
		if q.seq.CompareAndSwap(old, next) {
			return next
		}
	}
}

// Enabled reports whether the queue header status is non-zero.
func (q *Queue) Enabled() bool {
	return q.hdr.Load(hdrStatus) != 0
}

// SetEnabled sets the queue header status.
func (q *Queue) SetEnabled(enabled bool) {
	v := uint32(0)
	if enabled {
		v = 1
	}
	q.hdr.Store(hdrStatus, v)
}

// cursors loads both indices and checks them against the queue size.
func (q *Queue) cursors() (r, w uint32, err error) {
	r = q.hdr.Load(hdrReadIndex)
	w = q.hdr.Load(hdrWriteIndex)
	if r >= q.size || w >= q.size {
		return r, w, fmt.Errorf("%w: %s queue cursors r=%d w=%d size %d",
			pkg.ErrCorruptHeader, q.id, r, w, q.size)
	}
	return r, w, nil
}

// Free returns the number of words that can be written.
func (q *Queue) Free() uint32 {
	r := q.hdr.Load(hdrReadIndex)
	w := q.hdr.Load(hdrWriteIndex)
	return (r + q.size - w - 1) % q.size
}

// Pending reports whether the queue holds unread data.
func (q *Queue) Pending() bool {
	return q.hdr.Load(hdrReadIndex) != q.hdr.Load(hdrWriteIndex)
}

// padding returns the number of cookie words following a message of n words
// written at w.
func (q *Queue) padding(w, n uint32) uint32 {
	if q.legacy {
		return 0
	}
	end := w + n
	return (4 - end%4) % 4
}

// Write appends a message to the queue and rings the peer's doorbell.
//
// If the message and its padding do not fit, Write increments the header's
// dropped counter, leaves the queue untouched and returns pkg.ErrQueueFull.
func (q *Queue) Write(words []uint32) error {
	return q.WriteBatch(words)
}

// WriteBatch appends several messages and rings the doorbell once, after
// all of them are published. Either every message is written or none is.
func (q *Queue) WriteBatch(msgs ...[]uint32) error {
	if len(msgs) == 0 {
		return fmt.Errorf("%w: empty batch", pkg.ErrInvalidParameter)
	}
	for _, words := range msgs {
		if len(words) == 0 {
			return fmt.Errorf("%w: empty message", pkg.ErrInvalidParameter)
		}
	}

	q.mu.Lock()
	r, w, err := q.cursors()
	if err != nil {
		q.mu.Unlock()
		return err
	}

	free := (r + q.size - w - 1) % q.size
	need := uint32(0)
	for _, words := range msgs {
		n := uint32(len(words))
		need += n + q.padding(w+need, n)
	}
	if need > free {
		dropped := q.hdr.Add(hdrDropped, 1)
		q.mu.Unlock()
		pkg.LogWarn(pkg.ComponentQueue, "queue full",
			"queue", q.id,
			"words", need,
			"free", free,
			"dropped", dropped)
		return pkg.ErrQueueFull
	}

	idx := w
	for _, words := range msgs {
		q.record(idx)
		pad := q.padding(idx, uint32(len(words)))
		for _, v := range words {
			q.data.Store(int(idx), v)
			idx = (idx + 1) % q.size
		}
		for range pad {
			q.data.Store(int(idx), PadCookie)
			idx = (idx + 1) % q.size
		}
	}
	q.hdr.Store(hdrWriteIndex, idx)
	notifier := q.notifier
	q.mu.Unlock()

	pkg.LogDebug(pkg.ComponentQueue, "queue write",
		"queue", q.id,
		"header", Header(msgs[0][0]),
		"messages", len(msgs),
		"write_index", idx)

	if notifier != nil {
		if err := notifier.Notify(); err != nil {
			return fmt.Errorf("%s queue doorbell: %w", q.id, err)
		}
	}
	return nil
}

// Read copies the next message into dst and returns its length in words.
//
// An empty queue sets the header's rx_request flag and returns 0. A message
// declaring zero words, more words than dst holds, or more words than the
// queue contains yields a *pkg.CorruptHeaderError and leaves the cursors
// untouched.
func (q *Queue) Read(dst []uint32) (int, error) {
	r, w, err := q.cursors()
	if err != nil {
		return 0, err
	}
	if r == w {
		q.hdr.Store(hdrRxRequest, 1)
		return 0, nil
	}

	h := Header(q.data.Load(int(r)))
	q.record(r)

	n := uint32(h.Size())
	used := (w + q.size - r) % q.size
	if n == 0 || int(n) > len(dst) || n > used {
		capacity := len(dst)
		if int(used) < capacity {
			capacity = int(used)
		}
		return 0, &pkg.CorruptHeaderError{
			Queue:    int(q.id),
			Index:    r,
			Header:   uint32(h),
			Declared: int(n),
			Capacity: capacity,
		}
	}

	// At most two runs: to the end of the ring, then from its start.
	head := min(n, q.size-r)
	q.data.CopyOut(dst[:head], int(r))
	q.data.CopyOut(dst[head:n], 0)
	idx := (r + n) % q.size
	if !q.legacy {
		idx = ((idx + 3) &^ 3) % q.size
	}
	q.hdr.Store(hdrReadIndex, idx)
	return int(n), nil
}

// Reset moves both cursors to zero and clears the history. The caller must
// ensure the peer is not using the queue.
func (q *Queue) Reset() {
	q.mu.Lock()
	q.hdr.Store(hdrReadIndex, 0)
	q.hdr.Store(hdrWriteIndex, 0)
	q.mu.Unlock()

	q.histMu.Lock()
	q.histLen, q.histIdx = 0, 0
	q.histMu.Unlock()
}

// Snapshot returns the current header contents.
func (q *Queue) Snapshot() QueueState {
	return QueueState{
		Status:      q.hdr.Load(hdrStatus),
		IOVA:        q.hdr.Load(hdrIOVA),
		Type:        q.hdr.Load(hdrType),
		Size:        q.hdr.Load(hdrSize),
		MsgSize:     q.hdr.Load(hdrMsgSize),
		Dropped:     q.hdr.Load(hdrDropped),
		RxWatermark: q.hdr.Load(hdrRxWatermark),
		TxWatermark: q.hdr.Load(hdrTxWatermark),
		RxRequest:   q.hdr.Load(hdrRxRequest),
		TxRequest:   q.hdr.Load(hdrTxRequest),
		ReadIndex:   q.hdr.Load(hdrReadIndex),
		WriteIndex:  q.hdr.Load(hdrWriteIndex),
	}
}

// History returns the indices of the most recent reads and writes, oldest
// first.
func (q *Queue) History() []uint32 {
	q.histMu.Lock()
	defer q.histMu.Unlock()
	out := make([]uint32, 0, q.histLen)
	start := (q.histIdx - q.histLen + HistorySize) % HistorySize
	for i := range q.histLen {
		out = append(out, q.history[(start+i)%HistorySize])
	}
	return out
}

func (q *Queue) record(idx uint32) {
	q.histMu.Lock()
	q.history[q.histIdx] = idx
	q.histIdx = (q.histIdx + 1) % HistorySize
	if q.histLen < HistorySize {
		q.histLen++
	}
	q.histMu.Unlock()
}

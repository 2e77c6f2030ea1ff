package hfi

import (
	"fmt"

	"github.com/ardnew/softgmu/pkg"
	"github.com/ardnew/softgmu/shmem"
)

// QueueID identifies one of the four HFI queues.
type QueueID uint8

// Queue identifiers, in table order.
const (
	QueueCommand  QueueID = 0 // H2F commands
	QueueResponse QueueID = 1 // F2H acknowledgements and error reports
	QueueDebug    QueueID = 2 // F2H debug records
	QueueLog      QueueID = 3 // F2H log records
)

// NumQueues is the number of queues described by the table.
const NumQueues = 4

// String returns the queue name.
func (id QueueID) String() string {
	switch id {
	case QueueCommand:
		return "command"
	case QueueResponse:
		return "response"
	case QueueDebug:
		return "debug"
	case QueueLog:
		return "log"
	default:
		return fmt.Sprintf("queue%d", uint8(id))
	}
}

// Queue header word offsets.
const (
	hdrStatus = iota
	hdrIOVA
	hdrType
	hdrSize
	hdrMsgSize
	hdrDropped
	hdrRxWatermark
	hdrTxWatermark
	hdrRxRequest
	hdrTxRequest
	hdrReadIndex
	hdrWriteIndex

	// QueueHeaderWords is the size of a queue header.
	QueueHeaderWords
)

// Table header word offsets.
const (
	tblVersion = iota
	tblSize
	tblQHdr0Offset
	tblQHdrSize
	tblNumQueues
	tblActiveQueues

	// TableHeaderWords is the size of the table header.
	TableHeaderWords
)

// Region geometry. Each queue's data occupies one 4 KiB page following the
// page that holds the table.
const (
	PageWords   = 4096 / shmem.WordSize
	QueueWords  = PageWords
	RegionWords = (NumQueues + 1) * PageWords

	// TableWords is the size of the table header plus all queue headers.
	TableWords = TableHeaderWords + NumQueues*QueueHeaderWords

	queueTypeTag = 10 << 8
)

// QueueType returns the type word stored in a queue header.
func QueueType(id QueueID) uint32 {
	return queueTypeTag | uint32(id)
}

// TableHeader is a snapshot of the table header.
type TableHeader struct {
	Version      uint32
	Size         uint32 // Table plus queue headers, in dwords
	QHdr0Offset  uint32 // Offset of the first queue header, in dwords
	QHdrSize     uint32 // Size of one queue header, in dwords
	NumQueues    uint32
	ActiveQueues uint32
}

// Table is the queue table at the start of the HFI region and the queues it
// describes.
type Table struct {
	mem    *shmem.Region
	queues [NumQueues]*Queue
}

// InitTable writes a fresh table header and queue headers into mem and
// returns the host's view of the queues. The debug and log queues start
// disabled; the firmware enables them.
func InitTable(mem *shmem.Region, legacy bool) (*Table, error) {
	if mem.Len() < RegionWords {
		return nil, fmt.Errorf("%w: region has %d words, need %d",
			pkg.ErrBufferTooSmall, mem.Len(), RegionWords)
	}

	mem.Zero()
	mem.Store(tblVersion, 0)
	mem.Store(tblSize, TableWords)
	mem.Store(tblQHdr0Offset, TableHeaderWords)
	mem.Store(tblQHdrSize, QueueHeaderWords)
	mem.Store(tblNumQueues, NumQueues)
	mem.Store(tblActiveQueues, NumQueues)

	t := &Table{mem: mem}
	for i := range NumQueues {
		id := QueueID(i)
		hdr, data, err := queueRegions(mem, TableHeaderWords, i, (i+1)*PageWords, QueueWords)
		if err != nil {
			return nil, err
		}
		enabled := id == QueueCommand || id == QueueResponse
		q, err := InitQueue(id, hdr, data, enabled, legacy)
		if err != nil {
			return nil, err
		}
		t.queues[i] = q
	}

	pkg.LogDebug(pkg.ComponentHFI, "queue table initialized",
		"iova", fmt.Sprintf("0x%x", mem.IOVA()),
		"words", RegionWords,
		"legacy", legacy)
	return t, nil
}

// AttachTable validates a table written by InitTable and returns a view of
// its queues. Data regions are located through each header's iova.
func AttachTable(mem *shmem.Region, legacy bool) (*Table, error) {
	if mem.Len() < TableWords {
		return nil, fmt.Errorf("%w: region has %d words", pkg.ErrBufferTooSmall, mem.Len())
	}
	th := readTableHeader(mem)
	if th.QHdrSize != QueueHeaderWords || th.NumQueues != NumQueues {
		return nil, fmt.Errorf("%w: table header %+v", pkg.ErrInvalidParameter, th)
	}

	t := &Table{mem: mem}
	base := uint32(mem.IOVA())
	for i := range NumQueues {
		hdrOff := int(th.QHdr0Offset) + i*QueueHeaderWords
		iova := mem.Load(hdrOff + hdrIOVA)
		size := mem.Load(hdrOff + hdrSize)
		if iova < base || (iova-base)%shmem.WordSize != 0 {
			return nil, fmt.Errorf("%w: queue %d iova 0x%x outside region", pkg.ErrInvalidParameter, i, iova)
		}
		dataOff := int((iova - base) / shmem.WordSize)
		hdr, data, err := queueRegions(mem, int(th.QHdr0Offset), i, dataOff, int(size))
		if err != nil {
			return nil, err
		}
		q, err := AttachQueue(QueueID(i), hdr, data, legacy)
		if err != nil {
			return nil, err
		}
		t.queues[i] = q
	}
	return t, nil
}

func queueRegions(mem *shmem.Region, hdr0, i, dataOff, size int) (hdr, data *shmem.Region, err error) {
	hdr, err = mem.Slice(hdr0+i*QueueHeaderWords, QueueHeaderWords)
	if err != nil {
		return nil, nil, fmt.Errorf("queue %d header: %w", i, err)
	}
	data, err = mem.Slice(dataOff, size)
	if err != nil {
		return nil, nil, fmt.Errorf("queue %d data: %w", i, err)
	}
	return hdr, data, nil
}

func readTableHeader(mem *shmem.Region) TableHeader {
	return TableHeader{
		Version:      mem.Load(tblVersion),
		Size:         mem.Load(tblSize),
		QHdr0Offset:  mem.Load(tblQHdr0Offset),
		QHdrSize:     mem.Load(tblQHdrSize),
		NumQueues:    mem.Load(tblNumQueues),
		ActiveQueues: mem.Load(tblActiveQueues),
	}
}

// Header returns a snapshot of the table header.
func (t *Table) Header() TableHeader {
	return readTableHeader(t.mem)
}

// Queue returns the queue with the given id, or nil.
func (t *Table) Queue(id QueueID) *Queue {
	if int(id) >= NumQueues {
		return nil
	}
	return t.queues[id]
}

// Queues returns all queues in table order.
func (t *Table) Queues() []*Queue {
	return t.queues[:]
}

// Memory returns the region backing the table.
func (t *Table) Memory() *shmem.Region {
	return t.mem
}

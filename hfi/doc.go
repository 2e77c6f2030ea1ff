// Package hfi implements the GMU Host-to-Firmware Interface wire layer: the
// queue table in shared memory, the ring queues it describes and the
// message codec.
//
// # Memory Layout
//
// The HFI region starts with a table header followed by four queue headers.
// Each queue's data occupies its own page:
//
//	word 0     table header (6 words)
//	word 6     queue headers (4 x 12 words)
//	word 1024  command queue data
//	word 2048  response queue data
//	word 3072  debug queue data
//	word 4096  log queue data
//
// The host calls [InitTable] after loading the firmware; the firmware side
// calls [AttachTable] on the same memory.
//
// # Queues
//
// A [Queue] is a single-producer single-consumer ring. Messages are padded
// with [PadCookie] up to the next 4-word boundary unless the queue runs in
// legacy mode. A full queue increments the header's dropped counter and
// rejects the write with pkg.ErrQueueFull. A read of a message whose
// declared length cannot be accepted returns a *pkg.CorruptHeaderError.
//
// # Messages
//
// Every message begins with a [Header] word:
//
//	seq[31:20] | class[19:16] | dwords[15:8] | id[7:0]
//
// Bodies are fixed-layout types implementing [Message]. [Encode] builds the
// wire form in a fresh buffer; [Decode] validates the header against the
// registered layout and fills a body:
//
//	words, err := hfi.Encode(&hfi.FWVersion{SupportedVersion: hfi.SupportedVersion}, seq)
//	if err != nil {
//	    return err
//	}
//	if err := q.Write(words); err != nil {
//	    return err
//	}
//
// A [Response] echoes the header of the command it answers in RetHeader.
// Correlation uses that echoed sequence number.
package hfi

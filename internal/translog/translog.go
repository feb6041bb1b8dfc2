// Package translog writes the simulator's transaction log: one line per
// completed transaction. It is a pluggable io.Writer sink, so tests can
// capture output in-memory without touching disk.
package translog

import (
	"fmt"
	"io"
	"sync"
)

// Entry is one completed transaction's reported statistic: destination
// PE id, QoS, operation name, byte size, byte extent of affected lines,
// and the accumulated end-to-end latency in cycles.
type Entry struct {
	PEID              int
	QoS               uint8
	Operation         string
	SizeBytes         uint64
	AffectedBytes     uint64
	FullLatencyCycles int64
}

// Writer serializes Entry values to an underlying io.Writer, one
// whitespace-separated line per transaction:
// "PE_id qos_hex operation_name size_bytes affected_bytes full_latency_cycles".
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter wraps w as a transaction log sink.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Log appends one transaction's log line, flushing nothing itself: the
// caller's underlying Writer (a *bufio.Writer, *os.File, or bytes.Buffer
// in tests) owns buffering/flush semantics.
func (tw *Writer) Log(e Entry) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	_, err := fmt.Fprintf(tw.w, "%d 0x%x %s %d %d %d\n",
		e.PEID, e.QoS, e.Operation, e.SizeBytes, e.AffectedBytes, e.FullLatencyCycles)
	return err
}

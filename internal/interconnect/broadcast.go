package interconnect

import (
	"sync"

	"github.com/archsim/mpbus"
)

// broadcastRecord tracks one live BROADCAST_INVALIDATE's origin and how
// many INV_ACKs it still owes.
type broadcastRecord struct {
	origin      int
	pendingAcks int
}

// BroadcastRegistry is a small map keyed by a monotonic broadcast id. An
// entry is born with pendingAcks == totalPEs and dies the instant
// pendingAcks reaches zero; no two live records ever share an id.
type BroadcastRegistry struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]*broadcastRecord
}

// NewBroadcastRegistry returns an empty registry.
func NewBroadcastRegistry() *BroadcastRegistry {
	return &BroadcastRegistry{records: make(map[int64]*broadcastRecord)}
}

// Register allocates a fresh broadcast id for a BROADCAST_INVALIDATE
// issued by origin, expecting totalPEs acknowledgements (the origin PE
// included, since fanout reaches every PE).
func (r *BroadcastRegistry) Register(origin, totalPEs int) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.records[id] = &broadcastRecord{origin: origin, pendingAcks: totalPEs}
	return id
}

// AccountAck decrements the pending-ack count for id. It returns
// completed=true and the origin PE exactly once per broadcast, the cycle
// its last INV_ACK is accounted, and deletes the record atomically with
// that decrement. An unknown id is a protocol violation: the caller logs
// and drops rather than treating it as fatal.
func (r *BroadcastRegistry) AccountAck(id int64) (completed bool, origin int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return false, 0, mpbus.NewBroadcastError("AccountAck", id, mpbus.ErrCodeProtocolViolation,
			"INV_ACK carries an unknown broadcast id")
	}
	rec.pendingAcks--
	if rec.pendingAcks <= 0 {
		delete(r.records, id)
		return true, rec.origin, nil
	}
	return false, rec.origin, nil
}

// Live reports the number of broadcasts still awaiting acknowledgement.
// The Interconnect's termination check does not consult it; that check
// looks only at PE status and queue emptiness.
func (r *BroadcastRegistry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

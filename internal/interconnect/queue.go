// Package interconnect implements the Interconnect Worker: its three
// ordered queues, the two arbitration policies, the broadcast registry,
// and Shared Memory.
package interconnect

import (
	"sync"

	"github.com/archsim/mpbus"
)

// Queue is one of the Interconnect's three ordered Message queues, guarded
// by its own mutual exclusion per the concurrency model's "no worker holds
// more than one lock at a time" rule.
type Queue struct {
	mu     sync.Mutex
	policy mpbus.Arbitration
	items  []*mpbus.Message
}

// NewQueue creates an empty queue that orders Push insertions per policy.
func NewQueue(policy mpbus.Arbitration, capacityHint int) *Queue {
	return &Queue{policy: policy, items: make([]*mpbus.Message, 0, capacityHint)}
}

// Push inserts m per the queue's policy: FIFO appends at the tail; PRIORITY
// inserts before the first element whose QoS is strictly lower than m's,
// which keeps equal-QoS traffic in arrival order (a stable insert).
func (q *Queue) Push(m *mpbus.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pushLocked(m)
}

func (q *Queue) pushLocked(m *mpbus.Message) {
	if q.policy == mpbus.FIFO {
		q.items = append(q.items, m)
		return
	}
	idx := len(q.items)
	for i, e := range q.items {
		if e.QoS < m.QoS {
			idx = i
			break
		}
	}
	q.items = append(q.items, nil)
	copy(q.items[idx+1:], q.items[idx:])
	q.items[idx] = m
}

// PopFront removes and returns the head of the queue.
func (q *Queue) PopFront() (*mpbus.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	m := q.items[0]
	q.items = q.items[1:]
	return m, true
}

// PopForDest removes and returns the first queued Message addressed to
// destID, preserving the relative order of everything else. More than one
// entry can match (a broadcast fanout INV_LINE alongside the PE's own
// response); callers take one per cycle in queue order.
func (q *Queue) PopForDest(destID int) (*mpbus.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, m := range q.items {
		if m.DestID == destID {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return m, true
		}
	}
	return nil, false
}

// Len reports the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Empty reports whether the queue currently has no entries.
func (q *Queue) Empty() bool {
	return q.Len() == 0
}

// DrainLatencyStep advances every currently-queued Message by one cycle of
// in-flight latency under a single lock acquisition, returning the
// Messages whose remaining latency reached zero (promote to Out) separately
// from those that must stay in the pipeline (re-queued at the tail, FIFO).
// The snapshot-then-decrement shape prevents a Message enqueued mid-step
// from being advanced twice in the same cycle.
func (q *Queue) DrainLatencyStep() (matured []*mpbus.Message) {
	q.mu.Lock()
	n := len(q.items)
	snapshot := q.items[:n]
	q.items = q.items[n:]
	q.mu.Unlock()

	var remaining []*mpbus.Message
	for _, m := range snapshot {
		m.DecrementRemaining()
		if m.RemainingLatency == 0 {
			matured = append(matured, m)
		} else {
			remaining = append(remaining, m)
		}
	}

	if len(remaining) > 0 {
		q.mu.Lock()
		q.items = append(q.items, remaining...)
		q.mu.Unlock()
	}
	return matured
}

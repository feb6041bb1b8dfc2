package interconnect

import (
	"testing"

	"github.com/archsim/mpbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIFOQueuePreservesArrivalOrder(t *testing.T) {
	q := NewQueue(mpbus.FIFO, 4)
	q.Push(&mpbus.Message{SrcID: 1, QoS: 0})
	q.Push(&mpbus.Message{SrcID: 2, QoS: 15})
	q.Push(&mpbus.Message{SrcID: 3, QoS: 7})

	for _, want := range []int{1, 2, 3} {
		m, ok := q.PopFront()
		require.True(t, ok)
		assert.Equal(t, want, m.SrcID)
	}
}

func TestPriorityQueueOrdersByQoSStably(t *testing.T) {
	q := NewQueue(mpbus.PRIORITY, 4)
	q.Push(&mpbus.Message{SrcID: 1, QoS: 5})
	q.Push(&mpbus.Message{SrcID: 2, QoS: 5}) // same qos, arrives after 1
	q.Push(&mpbus.Message{SrcID: 3, QoS: 15})
	q.Push(&mpbus.Message{SrcID: 4, QoS: 0})

	order := []int{}
	for {
		m, ok := q.PopFront()
		if !ok {
			break
		}
		order = append(order, m.SrcID)
	}
	assert.Equal(t, []int{3, 1, 2, 4}, order)
}

func TestPopForDestFindsAndRemovesOnlyMatch(t *testing.T) {
	q := NewQueue(mpbus.FIFO, 4)
	q.Push(&mpbus.Message{SrcID: 0, DestID: 5})
	q.Push(&mpbus.Message{SrcID: 0, DestID: 2})
	q.Push(&mpbus.Message{SrcID: 0, DestID: 9})

	m, ok := q.PopForDest(2)
	require.True(t, ok)
	assert.Equal(t, 2, m.DestID)
	assert.Equal(t, 2, q.Len())

	_, ok = q.PopForDest(2)
	assert.False(t, ok)
}

func TestDrainLatencyStepMaturesAndRequeues(t *testing.T) {
	q := NewQueue(mpbus.FIFO, 4)
	q.Push(&mpbus.Message{SrcID: 1, RemainingLatency: 1})
	q.Push(&mpbus.Message{SrcID: 2, RemainingLatency: 3})

	matured := q.DrainLatencyStep()
	require.Len(t, matured, 1)
	assert.Equal(t, 1, matured[0].SrcID)
	assert.Equal(t, 1, q.Len())

	m, ok := q.PopFront()
	require.True(t, ok)
	assert.Equal(t, int64(2), m.RemainingLatency)
}

func TestDrainLatencyStepDoesNotDoubleAdvanceSameTick(t *testing.T) {
	q := NewQueue(mpbus.FIFO, 4)
	q.Push(&mpbus.Message{SrcID: 1, RemainingLatency: 5})

	matured := q.DrainLatencyStep()
	assert.Empty(t, matured)
	// A second call in the "same tick" would be a bug; verify a single
	// call only decrements once.
	m, ok := q.PopFront()
	require.True(t, ok)
	assert.Equal(t, int64(4), m.RemainingLatency)
}

package interconnect

import (
	"context"
	"testing"
	"time"

	"github.com/archsim/mpbus"
	"github.com/archsim/mpbus/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerAdmitsReadMemAndProducesResponse(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clk := clock.New(ctx)

	w := New(Config{
		TotalPEs:          1,
		Arbitration:       mpbus.FIFO,
		QueueCapacityHint: 4,
		Clock:             clk,
		AllPEsFinished:    func() bool { return false },
	})
	require.NoError(t, w.Mem.WriteRange(0, []mpbus.Line{{0xAA}}))

	go w.Run(ctx)

	w.In.Push(&mpbus.Message{Op: mpbus.OpReadMem, SrcID: 0, DestID: mpbus.NoPE, Addr: 0, Size: 4, QoS: 0})

	var resp *mpbus.Message
	deadline := time.Now().Add(2 * time.Second)
	for resp == nil {
		if time.Now().After(deadline) {
			t.Fatal("read response never reached Out")
		}
		clk.Advance()
		time.Sleep(time.Millisecond)
		resp, _ = w.Out.PopForDest(0)
	}
	assert.Equal(t, mpbus.OpReadResp, resp.Op)
	assert.Equal(t, mpbus.StatusOK, resp.Status)
	assert.Equal(t, byte(0xAA), resp.Data[0][0])
	assert.Greater(t, resp.FullLatency, int64(0))
}

func TestWorkerDropsProtocolViolationWithoutAborting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clk := clock.New(ctx)

	w := New(Config{
		TotalPEs:          1,
		Arbitration:       mpbus.FIFO,
		QueueCapacityHint: 4,
		Clock:             clk,
		AllPEsFinished:    func() bool { return false },
	})

	go w.Run(ctx)

	// An INV_ACK for a broadcast id that was never registered is a
	// protocol violation (recoverable): log and drop, not fatal.
	w.In.Push(&mpbus.Message{Op: mpbus.OpInvAck, SrcID: 0, BroadcastID: 999})

	deadline := time.Now().Add(2 * time.Second)
	for w.In.Len() != 0 || w.Mid.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("malformed inv_ack was never drained")
		}
		clk.Advance()
		time.Sleep(time.Millisecond)
	}
	assert.Nil(t, w.Fatal, "a protocol violation must not abort the simulation")
}

func TestWorkerAbortsOnFatalRangeViolation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clk := clock.New(ctx)

	w := New(Config{
		TotalPEs:          1,
		Arbitration:       mpbus.FIFO,
		QueueCapacityHint: 4,
		Clock:             clk,
		AllPEsFinished:    func() bool { return false },
	})

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	// A read past the end of shared memory is a fatal range/alignment
	// violation; the Interconnect must abort rather than drop it.
	w.In.Push(&mpbus.Message{Op: mpbus.OpReadMem, SrcID: 0, Addr: (NumWords + 1) * WordBytes, Size: 4})
	clk.Advance()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not abort on a fatal range violation")
	}
	require.Error(t, w.Fatal)
	assert.True(t, mpbus.IsFatal(w.Fatal))
	assert.Equal(t, StateFinished, w.State())
}

func TestWorkerReachesFinishedWhenAllPEsDoneAndQueuesEmpty(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clk := clock.New(ctx)

	w := New(Config{
		TotalPEs:          1,
		Arbitration:       mpbus.FIFO,
		QueueCapacityHint: 4,
		Clock:             clk,
		AllPEsFinished:    func() bool { return true },
	})

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	clk.Advance()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker should finish immediately with no pending work and every pe done")
	}
	assert.Equal(t, StateFinished, w.State())
}

func TestAdmissionLatencyFavorsHigherQoSUnderPriority(t *testing.T) {
	low := admissionLatency(mpbus.PRIORITY, 0, 4, 0)
	high := admissionLatency(mpbus.PRIORITY, 0, 4, 15)
	assert.Greater(t, low, high, "a qos=0 request should admit slower than a qos=15 request under PRIORITY")
	assert.GreaterOrEqual(t, high, int64(1), "admission cost is never free, even fully favored")
}

func TestAdmissionLatencyUnderFIFOIgnoresQoS(t *testing.T) {
	a := admissionLatency(mpbus.FIFO, 0, 4, 0)
	b := admissionLatency(mpbus.FIFO, 0, 4, 15)
	assert.Equal(t, a, b, "FIFO admission cost must not depend on qos")
}

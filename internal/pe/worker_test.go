package pe

import (
	"bytes"
	"testing"

	"github.com/archsim/mpbus"
	"github.com/archsim/mpbus/internal/interconnect"
	"github.com/archsim/mpbus/internal/isa"
	"github.com/archsim/mpbus/internal/translog"
)

func newTestWorker(t *testing.T, program []isa.Instruction) (*Worker, *interconnect.Queue, *interconnect.Queue, *bytes.Buffer) {
	t.Helper()
	in := interconnect.NewQueue(mpbus.FIFO, 4)
	out := interconnect.NewQueue(mpbus.FIFO, 4)
	var buf bytes.Buffer
	w := New(Config{
		ID:      0,
		QoS:     3,
		Program: program,
		In:      in,
		Out:     out,
		TxLog:   translog.NewWriter(&buf),
	})
	return w, in, out, &buf
}

func TestEmptyProgramFinishesImmediately(t *testing.T) {
	w, _, _, _ := newTestWorker(t, nil)
	if !w.Finished() {
		t.Fatal("worker with empty program should be immediately finished")
	}
}

func TestIssueWriteMemStallsAndWaits(t *testing.T) {
	w, in, _, _ := newTestWorker(t, []isa.Instruction{
		{Op: mpbus.OpWriteMem, Src: 0, Addr: 0, NumLines: 1, StartLine: 0, QoS: 3},
	})
	w.step()

	if w.ExecState != ExecStalled {
		t.Errorf("got exec state %v, want STALLED", w.ExecState)
	}
	if w.RespState != RespWaiting {
		t.Errorf("got resp state %v, want WAITING", w.RespState)
	}
	if in.Len() != 1 {
		t.Fatalf("expected one message pushed to In, got %d", in.Len())
	}
	m, _ := in.PopFront()
	if m.Op != mpbus.OpWriteMem || m.SrcID != 0 {
		t.Errorf("unexpected message pushed: %+v", m)
	}
}

func TestWriteRespClosesTransactionAndLogs(t *testing.T) {
	w, _, out, buf := newTestWorker(t, []isa.Instruction{
		{Op: mpbus.OpWriteMem, Src: 0, Addr: 0, NumLines: 1, StartLine: 0, QoS: 3},
	})
	w.step() // issue

	out.Push(&mpbus.Message{
		Op: mpbus.OpWriteResp, DestID: 0, Status: mpbus.StatusOK, FullLatency: 99,
	})
	w.step() // process response

	if w.RespState != RespReady {
		t.Errorf("got resp state %v, want READY", w.RespState)
	}
	// The program is exhausted, so the FINISHED transition supersedes the
	// intermediate STALLED->IDLE transition in the same guarded pass.
	if w.ExecState != ExecFinished {
		t.Errorf("got exec state %v, want FINISHED", w.ExecState)
	}
	if !w.Finished() {
		t.Error("worker should be finished: program exhausted and no outstanding transaction")
	}
	if buf.Len() == 0 {
		t.Error("expected a transaction log line to be written")
	}
}

func TestMalformedInstructionFinishesWithoutIssuing(t *testing.T) {
	w, in, _, _ := newTestWorker(t, []isa.Instruction{
		{Op: mpbus.OpUndefined},
		{Op: mpbus.OpReadMem, Src: 0, Addr: 0, Size: 1, QoS: 0},
	})
	w.step()

	if w.ExecState != ExecFinished {
		t.Errorf("got exec state %v, want FINISHED", w.ExecState)
	}
	if !w.IsFinished() {
		t.Error("IsFinished() should report true after malformed instruction")
	}
	if in.Len() != 0 {
		t.Errorf("malformed instruction must not be issued, got %d messages in In", in.Len())
	}
	if w.PC != 1 {
		t.Errorf("PC should have advanced past the malformed instruction, got %d", w.PC)
	}
}

func TestInvLineFromUnsolicitedBroadcastDoesNotDisturbReadyState(t *testing.T) {
	w, in, out, _ := newTestWorker(t, nil)
	w.RespState = RespReady

	out.Push(&mpbus.Message{Op: mpbus.OpInvLine, DestID: 0, CacheLine: 5, BroadcastID: 7, QoS: 2})
	w.step()

	if w.RespState != RespReady {
		t.Errorf("got resp state %v, want READY (unsolicited INV_LINE must not block)", w.RespState)
	}
	if !w.Cache.IsInvalid(5) {
		t.Error("cache line 5 should be marked invalid")
	}
	if in.Len() != 1 {
		t.Fatalf("expected an INV_ACK pushed to In, got %d messages", in.Len())
	}
	ack, _ := in.PopFront()
	if ack.Op != mpbus.OpInvAck || ack.BroadcastID != 7 || ack.SrcID != 0 {
		t.Errorf("unexpected ack: %+v", ack)
	}
}

func TestInvLineWhileWaitingOnOwnBroadcastStaysWaiting(t *testing.T) {
	w, _, out, _ := newTestWorker(t, []isa.Instruction{
		{Op: mpbus.OpBroadcastInvalidate, Src: 0, CacheLine: 5, QoS: 3},
	})
	w.step() // issue BROADCAST_INVALIDATE, RespState -> WAITING

	out.Push(&mpbus.Message{Op: mpbus.OpInvLine, DestID: 0, CacheLine: 5, BroadcastID: 1, QoS: 3})
	w.step() // process own fanout INV_LINE

	if w.RespState != RespWaiting {
		t.Errorf("got resp state %v, want WAITING (still owed INV_COMPLETE)", w.RespState)
	}
	if w.Finished() {
		t.Error("worker should not be finished before INV_COMPLETE arrives")
	}

	out.Push(&mpbus.Message{Op: mpbus.OpInvComplete, DestID: 0, BroadcastID: 1, QoS: 3, FullLatency: 40})
	w.step()

	if w.RespState != RespReady || !w.Finished() {
		t.Error("worker should close out and finish after its own INV_COMPLETE")
	}
}

func TestReadRespWritesCacheAtComputedStartLine(t *testing.T) {
	w, _, out, _ := newTestWorker(t, []isa.Instruction{
		{Op: mpbus.OpReadMem, Src: 0, Addr: 32, Size: 4, QoS: 0},
	})
	w.step()

	var line mpbus.Line
	line[0] = 0xAA
	out.Push(&mpbus.Message{
		Op: mpbus.OpReadResp, DestID: 0, Status: mpbus.StatusOK,
		StartLine: 2, Data: []mpbus.Line{line}, FullLatency: 10,
	})
	w.step()

	got, err := w.Cache.ReadLines(2, 1)
	if err != nil {
		t.Fatalf("ReadLines: %v", err)
	}
	if got[0] != line {
		t.Errorf("got %v, want %v", got[0], line)
	}
}

package mpbus

import "testing"

func TestAddLatencyGrowsBothCounters(t *testing.T) {
	var m Message
	m.AddLatency(5)
	m.AddLatency(3)
	if m.RemainingLatency != 8 {
		t.Errorf("got remaining %d, want 8", m.RemainingLatency)
	}
	if m.FullLatency != 8 {
		t.Errorf("got full %d, want 8", m.FullLatency)
	}
}

func TestDecrementRemainingNeverGoesNegative(t *testing.T) {
	var m Message
	m.AddLatency(1)
	m.DecrementRemaining()
	m.DecrementRemaining()
	m.DecrementRemaining()
	if m.RemainingLatency != 0 {
		t.Errorf("got %d, want 0", m.RemainingLatency)
	}
	if m.FullLatency != 1 {
		t.Error("DecrementRemaining must not affect FullLatency")
	}
}

func TestCloneDeepCopiesData(t *testing.T) {
	orig := &Message{Op: OpReadResp, Data: []Line{{1, 2, 3}}}
	clone := orig.Clone()

	clone.Data[0][0] = 0xFF
	if orig.Data[0][0] == 0xFF {
		t.Error("Clone should deep-copy Data, not alias the original slice")
	}
	clone.Op = OpWriteResp
	if orig.Op == OpWriteResp {
		t.Error("Clone should not let mutations leak back into the original")
	}
}

func TestCloneOfNilDataStaysNil(t *testing.T) {
	orig := &Message{Op: OpWriteMem}
	clone := orig.Clone()
	if clone.Data != nil {
		t.Error("Clone of a Message with nil Data should keep Data nil")
	}
}

func TestOperationStringAndClassification(t *testing.T) {
	if !OpReadMem.IsRequest() || OpReadMem.IsResponse() {
		t.Error("READ_MEM should be a request, not a response")
	}
	if !OpReadResp.IsResponse() || OpReadResp.IsRequest() {
		t.Error("READ_RESP should be a response, not a request")
	}
	if OpInvAck.IsRequest() || OpInvAck.IsResponse() {
		t.Error("INV_ACK is the one response-side tag that re-enters admission, neither classification applies")
	}
	if OpUndefined.String() != "UNDEFINED" {
		t.Errorf("got %q, want UNDEFINED", OpUndefined.String())
	}
	if OpBroadcastInvalidate.String() != "BROADCAST_INVALIDATE" {
		t.Errorf("got %q, want BROADCAST_INVALIDATE", OpBroadcastInvalidate.String())
	}
}

package pe

import (
	"context"
	"sync/atomic"

	"github.com/archsim/mpbus"
	"github.com/archsim/mpbus/internal/clock"
	"github.com/archsim/mpbus/internal/interconnect"
	"github.com/archsim/mpbus/internal/isa"
	"github.com/archsim/mpbus/internal/logging"
	"github.com/archsim/mpbus/internal/metrics"
	"github.com/archsim/mpbus/internal/translog"
)

// ExecState is the PE's fetch/issue lifecycle state.
type ExecState int

const (
	ExecIdle ExecState = iota
	ExecRunning
	ExecStalled
	ExecFinished
)

func (s ExecState) String() string {
	switch s {
	case ExecRunning:
		return "RUNNING"
	case ExecStalled:
		return "STALLED"
	case ExecFinished:
		return "FINISHED"
	default:
		return "IDLE"
	}
}

// RespState is the PE's outstanding-transaction state.
type RespState int

const (
	RespReady RespState = iota
	RespWaiting
	RespProcessing
	RespCompleted
)

func (s RespState) String() string {
	switch s {
	case RespWaiting:
		return "WAITING"
	case RespProcessing:
		return "PROCESSING"
	case RespCompleted:
		return "COMPLETED"
	default:
		return "READY"
	}
}

// Per-cycle costs the PE adds to a Message's latency ledger, on top of
// whatever the Interconnect already charged. fetchDecodeCost and issueCost
// are paid on every issued request; cacheReadPerLineCost is paid only for
// the WRITE_MEM local-cache read; invAckEmitCost is paid when replying to
// an INV_LINE; readRespPerWordCost is paid writing a READ_RESP payload
// into the local cache.
const (
	fetchDecodeCost      = 2
	issueCost            = 3
	cacheReadPerLineCost = 1
	invAckEmitCost       = 2
	readRespPerWordCost  = 1
)

// Worker executes one PE's pre-decoded instruction stream: fetch/decode,
// optionally attach local-cache data, submit to the Interconnect, then
// block until the matching response arrives, one outstanding request at a
// time. It owns its program counter, both state fields, and its Cache
// View exclusively.
type Worker struct {
	ID  int
	QoS uint8

	PC      int
	Program []isa.Instruction

	Cache *CacheView

	ExecState ExecState
	RespState RespState

	In  *interconnect.Queue
	Out *interconnect.Queue

	clock    *clock.Clock
	logger   *logging.Logger
	observer metrics.Observer
	txLog    *translog.Writer

	// finishedFlag publishes ExecState==FINISHED for safe cross-goroutine
	// reads: the Interconnect's termination check needs to know every
	// PE's status, but ExecState/RespState/PC are otherwise exclusively
	// owned and mutated by this Worker's own goroutine.
	finishedFlag atomic.Bool
}

// IsFinished reports, safely from any goroutine, whether this PE has
// reached FINISHED.
func (w *Worker) IsFinished() bool {
	return w.finishedFlag.Load()
}

// Config configures a new PE Worker.
type Config struct {
	ID       int
	QoS      uint8
	Program  []isa.Instruction
	Cache    *CacheView
	In       *interconnect.Queue
	Out      *interconnect.Queue
	Clock    *clock.Clock
	Logger   *logging.Logger
	Observer metrics.Observer
	TxLog    *translog.Writer
}

// New builds a PE Worker ready to Run, starting IDLE/READY with an empty
// outstanding transaction.
func New(cfg Config) *Worker {
	if cfg.Observer == nil {
		cfg.Observer = metrics.NoOpObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	cache := cfg.Cache
	if cache == nil {
		cache = NewCacheView()
	}
	return &Worker{
		ID:        cfg.ID,
		QoS:       cfg.QoS,
		Program:   cfg.Program,
		Cache:     cache,
		ExecState: ExecIdle,
		RespState: RespReady,
		In:        cfg.In,
		Out:       cfg.Out,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		observer:  cfg.Observer,
		txLog:     cfg.TxLog,
	}
}

// Finished reports whether this PE has reached its FINISHED state. Since
// resp_state=READY holds exactly when no transaction is outstanding,
// "program counter exhausted and resp_state=READY" already captures "no
// pending response in Mid or Out" without re-deriving it from queue
// contents this PE does not own.
func (w *Worker) Finished() bool {
	return w.ExecState == ExecFinished ||
		(w.PC >= len(w.Program) && w.RespState == RespReady)
}

// Run drives the PE's per-cycle algorithm. Reaching FINISHED stops this
// PE from issuing, but the goroutine keeps draining unsolicited INV_LINE
// fanouts addressed to it (another PE's broadcast must still be
// acknowledged by every PE, finished or not, or the ack count never
// closes). It returns once the clock shuts down, which the orchestrator
// triggers when the Interconnect reaches FINISHED.
func (w *Worker) Run(ctx context.Context) {
	var localStep uint64
	for {
		step, err := w.clock.AwaitNext(ctx, localStep)
		if err != nil {
			return
		}
		localStep = step
		w.step()
	}
}

// markFinished sets ExecState to FINISHED and publishes it for
// cross-goroutine reads via finishedFlag.
func (w *Worker) markFinished() {
	w.ExecState = ExecFinished
	w.finishedFlag.Store(true)
}

// step performs exactly one guarded pass: first drain a waiting response
// addressed to this PE, else fetch/issue the next instruction.
func (w *Worker) step() {
	if m, ok := w.Out.PopForDest(w.ID); ok {
		w.handleResponse(m)
		if w.Finished() {
			w.markFinished()
		}
		return
	}

	if w.ExecState == ExecIdle && w.PC < len(w.Program) {
		w.issueNext()
	}

	if w.Finished() {
		w.markFinished()
	}
}

// handleResponse dispatches a Message popped from Out that is addressed
// to this PE. INV_LINE is unsolicited (a broadcast fanout reaches every
// PE, not just ones with an outstanding request) so it is processed
// regardless of RespState; the other response tags only ever arrive while
// RespState=WAITING and close this PE's single outstanding transaction.
func (w *Worker) handleResponse(m *mpbus.Message) {
	switch m.Op {
	case mpbus.OpInvLine:
		w.handleInvLine(m)
	case mpbus.OpReadResp:
		w.handleReadResp(m)
	case mpbus.OpWriteResp, mpbus.OpInvComplete:
		w.closeTransaction(m)
	default:
		w.logger.Warn("message with unexpected op addressed to pe", "pe", w.ID, "op", m.Op.String())
		w.observer.ObserveProtocolViolation()
	}
}

func (w *Worker) handleInvLine(m *mpbus.Message) {
	wasWaiting := w.RespState == RespWaiting
	w.RespState = RespProcessing

	if err := w.Cache.Invalidate(m.CacheLine); err != nil {
		w.logger.Error("invalidate target out of range", "pe", w.ID, "err", err)
	}
	ack := &mpbus.Message{
		Op: mpbus.OpInvAck, SrcID: w.ID, DestID: mpbus.NoPE,
		QoS: w.QoS, BroadcastID: m.BroadcastID, FullLatency: m.FullLatency,
	}
	ack.AddLatency(invAckEmitCost)
	w.logTx(mpbus.OpInvLine.String(), 0, mpbus.LineSize, ack.FullLatency)
	w.In.Push(ack)

	// An INV_LINE never closes this PE's own outstanding transaction by
	// itself (only its own BROADCAST_INVALIDATE's eventual INV_COMPLETE
	// does that, if this PE is the origin); restore whatever RespState
	// governed before the fanout arrived.
	if wasWaiting {
		w.RespState = RespWaiting
	} else {
		w.RespState = RespReady
	}
}

func (w *Worker) handleReadResp(m *mpbus.Message) {
	if m.Status == mpbus.StatusOK && len(m.Data) > 0 {
		if err := w.Cache.WriteLines(m.StartLine, m.Data); err != nil {
			w.logger.Warn("cache write from READ_RESP failed", "pe", w.ID, "err", err)
		}
	}
	m.AddLatency(readRespPerWordCost * int64(m.Size))
	w.closeTransaction(m)
}

// requestOpName maps a response or fanout tag back to the operation name
// a transaction log line reports: READ_MEM/WRITE_MEM for their own
// responses, unchanged for everything else (INV_COMPLETE already is the
// name it should report).
func requestOpName(op mpbus.Operation) string {
	switch op {
	case mpbus.OpReadResp:
		return mpbus.OpReadMem.String()
	case mpbus.OpWriteResp:
		return mpbus.OpWriteMem.String()
	default:
		return op.String()
	}
}

// closeTransaction records the completed transaction's log line and
// returns this PE to READY/IDLE. It is the single point where a
// Message's lifetime ends from this PE's perspective.
func (w *Worker) closeTransaction(m *mpbus.Message) {
	w.RespState = RespCompleted

	sizeBytes := uint64(m.Size) * interconnect.WordBytes
	affectedBytes := uint64(m.NumLines) * mpbus.LineSize
	opName := requestOpName(m.Op)

	w.logTx(opName, sizeBytes, affectedBytes, m.FullLatency)

	w.RespState = RespReady
	if w.ExecState == ExecStalled {
		w.ExecState = ExecIdle
	}
}

// logTx appends one line to the transaction log (if a sink is wired) and
// reports the same event to the metrics observer.
func (w *Worker) logTx(opName string, sizeBytes, affectedBytes uint64, fullLatency int64) {
	if w.txLog != nil {
		_ = w.txLog.Log(translog.Entry{
			PEID:              w.ID,
			QoS:               w.QoS,
			Operation:         opName,
			SizeBytes:         sizeBytes,
			AffectedBytes:     affectedBytes,
			FullLatencyCycles: fullLatency,
		})
	}
	w.observer.ObserveTransaction(opName, sizeBytes, fullLatency)
}

// issueNext fetches and decodes the next instruction, attaches
// write-cache data when applicable, submits the request to In, and
// transitions to STALLED/WAITING. An unrecognized opcode is fatal to
// this PE alone: it logs and moves straight to FINISHED without issuing.
func (w *Worker) issueNext() {
	ins := w.Program[w.PC]
	w.PC++

	msg, err := w.buildMessage(ins)
	if err != nil {
		w.logger.Error("malformed instruction, pe terminating", "pe", w.ID, "err", err)
		w.markFinished()
		return
	}

	w.ExecState = ExecStalled
	w.RespState = RespWaiting
	w.In.Push(msg)
}

func (w *Worker) buildMessage(ins isa.Instruction) (*mpbus.Message, error) {
	if ins.Op == mpbus.OpUndefined {
		return nil, mpbus.NewPEError("buildMessage", w.ID, mpbus.ErrCodeInputFormat,
			"unrecognized opcode")
	}

	msg := &mpbus.Message{
		Op: ins.Op, SrcID: w.ID, DestID: mpbus.NoPE,
		Addr: ins.Addr, QoS: ins.QoS, Size: ins.Size,
		NumLines: ins.NumLines, StartLine: ins.StartLine, CacheLine: ins.CacheLine,
	}
	msg.AddLatency(fetchDecodeCost)

	if ins.Op == mpbus.OpWriteMem {
		lines, err := w.Cache.ReadLines(ins.StartLine, ins.NumLines)
		if err != nil {
			w.logger.Warn("local cache read failed, issuing WRITE_MEM with empty data",
				"pe", w.ID, "err", err)
			lines = nil
		} else {
			msg.AddLatency(cacheReadPerLineCost * int64(ins.NumLines))
		}
		msg.Data = lines
	}

	msg.AddLatency(issueCost)
	return msg, nil
}

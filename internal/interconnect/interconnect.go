package interconnect

import (
	"context"
	"math"
	"sync/atomic"

	"github.com/archsim/mpbus"
	"github.com/archsim/mpbus/internal/clock"
	"github.com/archsim/mpbus/internal/logging"
	"github.com/archsim/mpbus/internal/metrics"
)

// State is the Interconnect Worker's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateProcessing
	StateFinished
)

// Dispatch-stage and admission-stage latency constants. Admission scales
// by a constant c under FIFO; under PRIORITY the same quantity is further
// scaled by 1/(qos+1) so higher-QoS traffic is favored. The division forces
// a floating-point intermediate (the alternative, integer division on
// 1/qos, divides by zero at qos=0) rounded to the nearest whole cycle, with
// a floor of one cycle so admission is never free.
const (
	admissionConst      = 2
	readMemBaseLatency  = 60
	writeMemBaseLatency = 80
	writeMemPerLineCost = 4
	invLinePerPECost    = 6
	invCompleteBaseCost = 5
)

func admissionLatency(arb mpbus.Arbitration, numLines, sizeWords uint32, qos uint8) int64 {
	base := float64(admissionConst) * float64(numLines+sizeWords+1)
	if arb == mpbus.FIFO {
		return int64(math.Round(base))
	}
	scaled := base / float64(qos+1)
	v := int64(math.Round(scaled))
	if v < 1 {
		v = 1
	}
	return v
}

// Worker arbitrates admission, dispatches by operation, drives the
// in-flight latency pipeline, and publishes responses. It owns the three
// queues, the broadcast registry, and Shared Memory exclusively.
type Worker struct {
	In  *Queue
	Mid *Queue
	Out *Queue

	Mem        *SharedMemory
	Broadcasts *BroadcastRegistry

	totalPEs    int
	arbitration mpbus.Arbitration

	clock    *clock.Clock
	logger   *logging.Logger
	observer metrics.Observer

	allPEsFinished func() bool

	// state is written only by the Run goroutine but read by the driver
	// (auto-run polls for FINISHED), hence atomic.
	state atomic.Int32

	// Fatal is set when a range/alignment violation forces the whole
	// simulation to abort, per the error-handling design's "the
	// Interconnect aborts the simulation" rule.
	Fatal error
}

// Config configures a new Interconnect Worker.
type Config struct {
	TotalPEs          int
	Arbitration       mpbus.Arbitration
	QueueCapacityHint int
	Clock             *clock.Clock
	Logger            *logging.Logger
	Observer          metrics.Observer
	AllPEsFinished    func() bool
}

// New builds an Interconnect Worker ready to Run.
func New(cfg Config) *Worker {
	if cfg.Observer == nil {
		cfg.Observer = metrics.NoOpObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Worker{
		In:             NewQueue(cfg.Arbitration, cfg.QueueCapacityHint),
		Mid:            NewQueue(mpbus.FIFO, cfg.QueueCapacityHint),
		Out:            NewQueue(cfg.Arbitration, cfg.QueueCapacityHint),
		Mem:            NewSharedMemory(),
		Broadcasts:     NewBroadcastRegistry(),
		totalPEs:       cfg.TotalPEs,
		arbitration:    cfg.Arbitration,
		clock:          cfg.Clock,
		logger:         cfg.Logger,
		observer:       cfg.Observer,
		allPEsFinished: cfg.AllPEsFinished,
	}
}

// State reports the worker's current lifecycle state, safely from any
// goroutine.
func (w *Worker) State() State {
	return State(w.state.Load())
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
}

// Run drives the Interconnect's per-cycle algorithm until it reaches
// FINISHED or ctx is canceled.
func (w *Worker) Run(ctx context.Context) {
	var localStep uint64
	for {
		step, err := w.clock.AwaitNext(ctx, localStep)
		if err != nil {
			return
		}
		localStep = step

		empty := w.In.Empty() && w.Mid.Empty() && w.Out.Empty()

		// 1. Termination check.
		if w.allPEsFinished() && empty {
			w.setState(StateFinished)
			return
		}

		// 2. Idle short-circuit.
		if empty {
			w.setState(StateIdle)
			continue
		}
		w.setState(StateProcessing)

		depth := w.In.Len() + w.Mid.Len() + w.Out.Len()
		w.observer.ObserveQueueDepth(uint32(depth))

		// 3. Pipeline advance.
		for _, m := range w.Mid.DrainLatencyStep() {
			w.Out.Push(m)
		}

		// 4. Admission.
		if m, ok := w.In.PopFront(); ok {
			if err := w.admit(m); err != nil {
				if mpbus.IsFatal(err) {
					w.Fatal = err
					w.logger.Error("fatal range/alignment violation, aborting simulation", "err", err)
					w.setState(StateFinished)
					return
				}
				w.logger.Warn("protocol violation, dropping message", "err", err, "msg", m.String())
				w.observer.ObserveProtocolViolation()
			}
		}
	}
}

func (w *Worker) admit(m *mpbus.Message) error {
	inc := admissionLatency(w.arbitration, m.NumLines, m.Size, m.QoS)
	m.AddLatency(inc)

	switch m.Op {
	case mpbus.OpReadMem:
		lines, err := w.Mem.ReadRange(m.Addr, m.Size*WordBytes)
		status := mpbus.StatusOK
		if err != nil {
			if mpbus.IsFatal(err) {
				return err
			}
			status = mpbus.StatusNotOK
			lines = nil
		}
		resp := &mpbus.Message{
			Op: mpbus.OpReadResp, SrcID: mpbus.NoPE, DestID: m.SrcID,
			Addr: m.Addr, QoS: m.QoS, Size: m.Size, Status: status, Data: lines,
			StartLine:   uint32(m.Addr / mpbus.LineSize),
			FullLatency: m.FullLatency,
		}
		resp.AddLatency(readMemBaseLatency + int64(m.Size))
		w.Mid.Push(resp)

	case mpbus.OpWriteMem:
		status := mpbus.StatusOK
		if m.NumLines > 0 && len(m.Data) == 0 {
			// The PE's local cache read failed and the request arrived with
			// an empty payload; nothing is written and NOT_OK propagates
			// back on the response.
			status = mpbus.StatusNotOK
		} else if err := w.Mem.WriteRange(m.Addr, m.Data); err != nil {
			if mpbus.IsFatal(err) {
				return err
			}
			status = mpbus.StatusNotOK
		}
		resp := &mpbus.Message{
			Op: mpbus.OpWriteResp, SrcID: mpbus.NoPE, DestID: m.SrcID,
			Addr: m.Addr, QoS: m.QoS, NumLines: m.NumLines, Status: status,
			FullLatency: m.FullLatency,
		}
		resp.AddLatency(writeMemBaseLatency + writeMemPerLineCost*int64(m.NumLines))
		w.Mid.Push(resp)

	case mpbus.OpBroadcastInvalidate:
		id := w.Broadcasts.Register(m.SrcID, w.totalPEs)
		for p := 0; p < w.totalPEs; p++ {
			inv := &mpbus.Message{
				Op: mpbus.OpInvLine, SrcID: mpbus.NoPE, DestID: p,
				CacheLine: m.CacheLine, QoS: m.QoS, BroadcastID: id,
				FullLatency: m.FullLatency,
			}
			inv.AddLatency(invLinePerPECost)
			w.Mid.Push(inv)
		}

	case mpbus.OpInvAck:
		completed, origin, err := w.Broadcasts.AccountAck(m.BroadcastID)
		if err != nil {
			return err
		}
		w.observer.ObserveInvAck()
		if completed {
			done := &mpbus.Message{
				Op: mpbus.OpInvComplete, SrcID: mpbus.NoPE, DestID: origin,
				QoS: m.QoS, BroadcastID: m.BroadcastID, FullLatency: m.FullLatency,
			}
			done.AddLatency(invCompleteBaseCost + int64(w.totalPEs))
			w.Mid.Push(done)
		}

	default:
		w.logger.Debug("skipping message with no dispatch handler", "op", m.Op.String())
	}

	return nil
}

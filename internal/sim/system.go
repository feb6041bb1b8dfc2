// Package sim wires one Stepping Clock, one Interconnect Worker, and a
// Params.PECount-sized fleet of PE Workers into a runnable System. It
// lives outside the root mpbus package because pe, interconnect, and isa
// all import mpbus for the Message/Operation/Params types, so mpbus
// cannot import them back without an import cycle; sim is the
// orchestration layer that sits above all of them.
package sim

import (
	"context"
	"io"
	"runtime"
	"sync"

	"github.com/archsim/mpbus"
	"github.com/archsim/mpbus/internal/clock"
	"github.com/archsim/mpbus/internal/interconnect"
	"github.com/archsim/mpbus/internal/isa"
	"github.com/archsim/mpbus/internal/logging"
	"github.com/archsim/mpbus/internal/metrics"
	"github.com/archsim/mpbus/internal/pe"
	"github.com/archsim/mpbus/internal/translog"
)

// Options configures a System beyond mpbus.Params: each PE's program,
// its QoS class, and the ambient logging/metrics/log-sink collaborators.
type Options struct {
	// Programs maps PE id -> its pre-decoded instruction stream. A PE
	// with no entry runs an empty program and is immediately FINISHED.
	Programs map[int][]isa.Instruction

	// QoS maps PE id -> its configured QoS class; a PE with no entry
	// defaults to QoS class 0.
	QoS map[int]uint8

	Logger    *logging.Logger
	Metrics   *metrics.Metrics
	TxLogSink io.Writer
}

// System wires together exactly one Clock, one Interconnect Worker, and
// Params.PECount PE Workers and drives them through a simulation run in
// either stepping or auto-run mode.
type System struct {
	params mpbus.Params

	clock *clock.Clock
	ic    *interconnect.Worker
	pes   []*pe.Worker

	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New validates params and wires a System ready to Start.
func New(ctx context.Context, params mpbus.Params, opts Options) (*System, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewMetrics()
	}
	observer := metrics.NewMetricsObserver(m)

	var txLog *translog.Writer
	if opts.TxLogSink != nil {
		txLog = translog.NewWriter(opts.TxLogSink)
	}

	sysCtx, cancel := context.WithCancel(ctx)
	clk := clock.New(sysCtx)

	s := &System{
		params:  params,
		clock:   clk,
		metrics: m,
		ctx:     sysCtx,
		cancel:  cancel,
		pes:     make([]*pe.Worker, params.PECount),
	}

	s.ic = interconnect.New(interconnect.Config{
		TotalPEs:          params.PECount,
		Arbitration:       params.Arbitration,
		QueueCapacityHint: params.QueueCapacityHint,
		Clock:             clk,
		Logger:            logger,
		Observer:          observer,
		AllPEsFinished:    s.allPEsFinished,
	})

	for id := 0; id < params.PECount; id++ {
		s.pes[id] = pe.New(pe.Config{
			ID:       id,
			QoS:      isa.QoSFor(opts.QoS, id),
			Program:  opts.Programs[id],
			In:       s.ic.In,
			Out:      s.ic.Out,
			Clock:    clk,
			Logger:   logger,
			Observer: observer,
			TxLog:    txLog,
		})
	}

	return s, nil
}

func (s *System) allPEsFinished() bool {
	for _, p := range s.pes {
		if !p.IsFinished() {
			return false
		}
	}
	return true
}

// Start spawns the Interconnect and every PE Worker as goroutines,
// synchronized by the shared Clock. Call Advance (stepping mode) or
// RunAuto (auto-run mode) to drive cycles; call Wait to block for every
// worker's return. When the Interconnect's goroutine returns (FINISHED
// or a fatal abort), the simulation context is canceled so PE workers
// parked in the clock unblock and exit.
func (s *System) Start() {
	s.wg.Add(1 + len(s.pes))
	go func() {
		defer s.wg.Done()
		s.ic.Run(s.ctx)
		s.cancel()
	}()
	for _, w := range s.pes {
		w := w
		go func() {
			defer s.wg.Done()
			w.Run(s.ctx)
		}()
	}
}

// Advance steps the clock by exactly one cycle: the stepping mode driver
// calls this once per external gating event.
func (s *System) Advance() uint64 {
	return s.clock.Advance()
}

// RunAuto advances the clock as fast as possible until the Interconnect
// reaches FINISHED or ctx is canceled: the auto-run mode driver loop.
func (s *System) RunAuto() {
	for s.ic.State() != interconnect.StateFinished {
		select {
		case <-s.ctx.Done():
			return
		default:
		}
		s.clock.Advance()
		runtime.Gosched()
	}
}

// Wait blocks until every worker goroutine started by Start has returned.
func (s *System) Wait() {
	s.wg.Wait()
}

// Stop cancels the simulation's context, unblocking every worker parked
// in Clock.AwaitNext.
func (s *System) Stop() {
	s.cancel()
}

// Finished reports whether the Interconnect has reached FINISHED.
func (s *System) Finished() bool {
	return s.ic.State() == interconnect.StateFinished
}

// FatalErr returns the range/alignment violation that aborted the
// simulation, if any.
func (s *System) FatalErr() error {
	return s.ic.Fatal
}

// Metrics returns a point-in-time snapshot of accumulated run statistics.
func (s *System) Metrics() metrics.Snapshot {
	return s.metrics.Snapshot()
}

// PresetCache writes initial content into peID's Cache View before
// Start, for callers that need a non-zero starting cache state.
func (s *System) PresetCache(peID int, start uint32, lines []mpbus.Line) error {
	if peID < 0 || peID >= len(s.pes) {
		return mpbus.NewError("System.PresetCache", mpbus.ErrCodeRangeAlignment, "pe id out of range")
	}
	return s.pes[peID].Cache.WriteLines(start, lines)
}

// CacheSnapshot returns peID's Cache View dump for inspection sinks.
func (s *System) CacheSnapshot(peID int) (blocks [pe.NumLines]mpbus.Line, invalid [pe.NumLines]bool, ok bool) {
	if peID < 0 || peID >= len(s.pes) {
		return blocks, invalid, false
	}
	blocks, invalid = s.pes[peID].Cache.Dump()
	return blocks, invalid, true
}

// SharedMemorySnapshot returns the Interconnect's Shared Memory dump.
func (s *System) SharedMemorySnapshot() [interconnect.NumWords]uint32 {
	return s.ic.Mem.Dump()
}

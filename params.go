package mpbus

// Arbitration selects the ordering discipline applied to the Interconnect's
// admission (In) and egress (Out) queues. The in-flight latency queue (Mid)
// is always FIFO regardless of this setting.
type Arbitration int

const (
	FIFO Arbitration = iota
	PRIORITY
)

func (a Arbitration) String() string {
	if a == PRIORITY {
		return "PRIORITY"
	}
	return "FIFO"
}

// Params configures a simulation run: how many PEs participate, which
// arbitration policy the Interconnect applies, and whether the clock is
// externally stepped or free-running.
type Params struct {
	// PECount is the number of Processing Elements, 1..32 per the operator
	// surface's bounds.
	PECount int

	// Arbitration is the queue ordering policy applied to In and Out.
	Arbitration Arbitration

	// Stepping selects operator-gated tick advancement (true) versus
	// driver-gated auto-run (false).
	Stepping bool

	// QueueCapacityHint sizes initial queue backing-slice allocations; it
	// is not a hard limit, just an allocation hint.
	QueueCapacityHint int
}

// DefaultParams returns a minimal two-PE, FIFO, auto-run configuration.
func DefaultParams() Params {
	return Params{
		PECount:           2,
		Arbitration:       FIFO,
		Stepping:          false,
		QueueCapacityHint: 16,
	}
}

// Validate checks the operator-surface bounds on Params, returning a
// structured range/alignment error for the first violation found.
func (p Params) Validate() error {
	if p.PECount < 1 || p.PECount > 32 {
		return NewError("Params.Validate", ErrCodeRangeAlignment,
			"pe count must be in 1..32")
	}
	if p.Arbitration != FIFO && p.Arbitration != PRIORITY {
		return NewError("Params.Validate", ErrCodeInputFormat,
			"arbitration must be FIFO or PRIORITY")
	}
	return nil
}

// Command mpbus-run drives one simulation run: it loads a program per PE
// (auto-detecting the binary or textual mnemonic format), an optional QoS
// config, wires a System, runs it to completion in stepping or auto-run
// mode, and writes the transaction log plus optional end-of-run dumps.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/archsim/mpbus"
	"github.com/archsim/mpbus/internal/dump"
	"github.com/archsim/mpbus/internal/isa"
	"github.com/archsim/mpbus/internal/logging"
	"github.com/archsim/mpbus/internal/sim"
)

// Exit codes per the operator surface: 0 normal, non-zero on argument
// error, file error, or a fatal invariant violation.
const (
	exitOK             = 0
	exitArgError       = 1
	exitFileError      = 2
	exitFatalInvariant = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		pes           = flag.Int("pes", 2, "number of processing elements (1..32)")
		arbitrationFl = flag.String("arbitration", "fifo", "queue arbitration policy: fifo or priority")
		stepping      = flag.Bool("stepping", false, "run in operator-gated stepping mode instead of auto-run")
		programFl     = flag.String("program", "", "comma-separated instruction files, one per pe in order")
		qosConfigFl   = flag.String("qos-config", "", "path to a QoS config file (id: 0xHH per line)")
		logFl         = flag.String("log", "", "path to write the transaction log (default stdout)")
		verbose       = flag.Bool("v", false, "enable debug logging")
		dumpDir       = flag.String("dump-dir", "", "directory to write end-of-run cache/shared-memory dumps to")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	arbitration, err := parseArbitration(*arbitrationFl)
	if err != nil {
		logger.Error("invalid -arbitration", "err", err)
		return exitArgError
	}

	params := mpbus.Params{
		PECount:           *pes,
		Arbitration:       arbitration,
		Stepping:          *stepping,
		QueueCapacityHint: 16,
	}
	if err := params.Validate(); err != nil {
		logger.Error("invalid params", "err", err)
		return exitArgError
	}

	programs, err := loadPrograms(*programFl)
	if err != nil {
		logger.Error("failed to load program files", "err", err)
		return exitFileError
	}

	var qosCfg map[int]uint8
	if *qosConfigFl != "" {
		qosCfg, err = loadQoSConfig(*qosConfigFl)
		if err != nil {
			logger.Error("failed to load qos config", "err", err)
			return exitFileError
		}
	}

	logOut, closeLog, err := openLogSink(*logFl)
	if err != nil {
		logger.Error("failed to open transaction log sink", "err", err)
		return exitFileError
	}
	defer closeLog()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := sim.New(ctx, params, sim.Options{
		Programs:  programs,
		QoS:       qosCfg,
		Logger:    logger,
		TxLogSink: logOut,
	})
	if err != nil {
		logger.Error("failed to build system", "err", err)
		return exitArgError
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal, stopping simulation")
		cancel()
	}()

	s.Start()
	if params.Stepping {
		stepLoop(s)
	} else {
		s.RunAuto()
	}
	s.Wait()

	if err := s.FatalErr(); err != nil {
		logger.Error("simulation aborted on a fatal invariant violation", "err", err)
		return exitFatalInvariant
	}

	snap := s.Metrics()
	fmt.Printf("transactions=%d protocol_violations=%d inv_acks=%d\n",
		snap.TxCount, snap.ProtocolViolations, snap.InvAcksAccounted)

	if *dumpDir != "" {
		if err := writeDumps(s, params.PECount, *dumpDir); err != nil {
			logger.Error("failed to write end-of-run dumps", "err", err)
			return exitFileError
		}
	}

	return exitOK
}

// stepLoop gates each cycle on the operator pressing Enter. EOF on stdin
// falls back to free-running the remaining cycles so a piped run still
// terminates.
func stepLoop(s *sim.System) {
	scanner := bufio.NewScanner(os.Stdin)
	for !s.Finished() {
		fmt.Fprint(os.Stderr, "press [enter] to advance one cycle... ")
		if !scanner.Scan() {
			s.RunAuto()
			return
		}
		s.Advance()
	}
}

func parseArbitration(s string) (mpbus.Arbitration, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FIFO":
		return mpbus.FIFO, nil
	case "PRIORITY":
		return mpbus.PRIORITY, nil
	default:
		return 0, fmt.Errorf("arbitration must be fifo or priority, got %q", s)
	}
}

// loadPrograms reads the comma-separated -program file list and decodes
// each one, assigning them to PE 0, 1, 2, ... in order. A file is decoded
// as the binary instruction format if every non-blank line is exactly 64
// '0'/'1' characters; otherwise it is assembled from its textual mnemonic
// form.
func loadPrograms(fileList string) (map[int][]isa.Instruction, error) {
	programs := make(map[int][]isa.Instruction)
	if fileList == "" {
		return programs, nil
	}
	for id, path := range strings.Split(fileList, ",") {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("pe %d: %w", id, err)
		}
		instrs, err := decodeProgramFile(string(src))
		if err != nil {
			return nil, fmt.Errorf("pe %d (%s): %w", id, path, err)
		}
		programs[id] = instrs
	}
	return programs, nil
}

func decodeProgramFile(src string) ([]isa.Instruction, error) {
	if looksBinary(src) {
		instrs, errs := isa.DecodeProgram(src)
		if len(errs) > 0 {
			logging.Default().Warn("program file contains malformed lines", "count", len(errs))
		}
		return instrs, nil
	}
	return isa.Assemble(src)
}

func looksBinary(src string) bool {
	seenLine := false
	for _, line := range strings.Split(src, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		seenLine = true
		if len(line) != 64 || strings.ContainsFunc(line, func(r rune) bool { return r != '0' && r != '1' }) {
			return false
		}
	}
	return seenLine
}

func loadQoSConfig(path string) (map[int]uint8, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return isa.ParseQoSConfig(string(src))
}

func openLogSink(path string) (*os.File, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

func writeDumps(s *sim.System, peCount int, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	// A failed dump is skipped; the remaining dumps are still written and
	// the first failure is returned.
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for pe := 0; pe < peCount; pe++ {
		blocks, invalid, ok := s.CacheSnapshot(pe)
		if !ok {
			continue
		}
		keep(writeFile(dir, "cache_"+strconv.Itoa(pe)+".txt", func(f *os.File) error {
			return dump.WriteCacheBlocks(f, blocks)
		}))
		keep(writeFile(dir, "cache_"+strconv.Itoa(pe)+"_invalid.txt", func(f *os.File) error {
			return dump.WriteCacheInvalid(f, invalid)
		}))
	}
	mem := s.SharedMemorySnapshot()
	keep(writeFile(dir, "shared_memory.txt", func(f *os.File) error {
		return dump.WriteSharedMemoryText(f, mem)
	}))
	keep(writeFile(dir, "shared_memory.bin", func(f *os.File) error {
		return dump.WriteSharedMemoryBinary(f, mem)
	}))
	return firstErr
}

func writeFile(dir, name string, write func(*os.File) error) error {
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return err
	}
	defer f.Close()
	return write(f)
}

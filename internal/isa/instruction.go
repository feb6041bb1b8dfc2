// Package isa decodes the simulator's instruction binary format, assembles
// its textual mnemonic form, and parses QoS configuration files. None of
// these are part of the concurrent execution engine; they exist so a
// runnable driver has a way to build a PE's instruction stream.
package isa

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/archsim/mpbus"
)

// Instruction is one decoded entry of a PE's pre-decoded instruction
// stream, prior to being turned into a request Message.
type Instruction struct {
	Op        mpbus.Operation
	Src       int
	Addr      uint64
	NumLines  uint32
	StartLine uint32
	Size      uint32 // word-count units, READ_MEM only
	CacheLine uint32
	QoS       uint8
}

const (
	addrMax      = 16384 // exclusive; addr is a byte address into the 4096-word shared memory
	maxNumLines  = 128
	maxStartLine = 127
	maxSize      = 255
	maxCacheLine = 255
)

// DecodeInstruction parses one 64-character '0'/'1' line per the binary
// instruction format: the meaningful payload occupies the low 43 bits
// (bit 0 is the line's rightmost character); higher bits are reserved and
// ignored. An unrecognized opcode (bits 42-41 == 0b11) is a malformed
// instruction: fatal to the PE that issues it, not to the simulation.
func DecodeInstruction(line string) (Instruction, error) {
	if len(line) != 64 {
		return Instruction{}, mpbus.NewError("DecodeInstruction", mpbus.ErrCodeInputFormat,
			fmt.Sprintf("instruction line must be 64 characters, got %d", len(line)))
	}
	val, err := strconv.ParseUint(line, 2, 64)
	if err != nil {
		return Instruction{}, mpbus.NewError("DecodeInstruction", mpbus.ErrCodeInputFormat,
			"instruction line is not 64 '0'/'1' characters")
	}

	opcode := (val >> 41) & 0x3
	src := int((val >> 36) & 0x1F)

	switch opcode {
	case 0b00: // WRITE_MEM
		addr := (val >> 20) & 0xFFFF
		numLines := (val >> 12) & 0xFF
		startLine := (val >> 4) & 0xFF
		qos := val & 0xF
		if addr%4 != 0 || addr >= addrMax {
			return Instruction{}, mpbus.NewError("DecodeInstruction", mpbus.ErrCodeRangeAlignment,
				"WRITE_MEM addr must be word-aligned and < 16384")
		}
		if numLines < 1 || numLines > maxNumLines {
			return Instruction{}, mpbus.NewError("DecodeInstruction", mpbus.ErrCodeRangeAlignment,
				"WRITE_MEM num_lines must be in 1..128")
		}
		if startLine > maxStartLine {
			return Instruction{}, mpbus.NewError("DecodeInstruction", mpbus.ErrCodeRangeAlignment,
				"WRITE_MEM start_line must be in 0..127")
		}
		return Instruction{
			Op: mpbus.OpWriteMem, Src: src, Addr: addr,
			NumLines: uint32(numLines), StartLine: uint32(startLine), QoS: uint8(qos),
		}, nil

	case 0b01: // READ_MEM
		addr := (val >> 20) & 0xFFFF
		size := (val >> 12) & 0xFF
		qos := val & 0xF
		if addr%4 != 0 || addr >= addrMax {
			return Instruction{}, mpbus.NewError("DecodeInstruction", mpbus.ErrCodeRangeAlignment,
				"READ_MEM addr must be word-aligned and < 16384")
		}
		return Instruction{
			Op: mpbus.OpReadMem, Src: src, Addr: addr,
			Size: uint32(size), QoS: uint8(qos),
		}, nil

	case 0b10: // BROADCAST_INVALIDATE
		cacheLine := (val >> 20) & 0xFF
		qos := val & 0xF
		if cacheLine > maxCacheLine {
			return Instruction{}, mpbus.NewError("DecodeInstruction", mpbus.ErrCodeRangeAlignment,
				"BROADCAST_INVALIDATE cache_line out of range")
		}
		return Instruction{
			Op: mpbus.OpBroadcastInvalidate, Src: src,
			CacheLine: uint32(cacheLine), QoS: uint8(qos),
		}, nil

	default:
		return Instruction{}, mpbus.NewError("DecodeInstruction", mpbus.ErrCodeInputFormat,
			"unrecognized opcode 11")
	}
}

// DecodeProgram decodes one instruction per non-blank line of a binary
// instruction file. A malformed line does not abort the whole stream: it
// is recorded as an Instruction carrying mpbus.OpUndefined so the PE
// Worker can reach it in program-counter order and self-terminate exactly
// where the original binary went bad, instead of the whole load failing
// or the bad line silently vanishing from the stream. The returned errs
// slice has one entry per malformed line, in stream order, for the
// caller to log.
func DecodeProgram(src string) (instrs []Instruction, errs []error) {
	lines := strings.Split(src, "\n")
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		ins, err := DecodeInstruction(line)
		if err != nil {
			errs = append(errs, err)
			instrs = append(instrs, Instruction{Op: mpbus.OpUndefined})
			continue
		}
		instrs = append(instrs, ins)
	}
	return instrs, errs
}

// EncodeInstruction is the inverse of DecodeInstruction, producing the
// 64-character '0'/'1' line for ins. It is used by the assembler's
// compile-to-binary path and by tests that round-trip instructions.
func EncodeInstruction(ins Instruction) (string, error) {
	var val uint64
	src := uint64(ins.Src) & 0x1F

	switch ins.Op {
	case mpbus.OpWriteMem:
		val = (0b00 << 41) | (src << 36) | ((ins.Addr & 0xFFFF) << 20) |
			((uint64(ins.NumLines) & 0xFF) << 12) | ((uint64(ins.StartLine) & 0xFF) << 4) |
			(uint64(ins.QoS) & 0xF)
	case mpbus.OpReadMem:
		val = (0b01 << 41) | (src << 36) | ((ins.Addr & 0xFFFF) << 20) |
			((uint64(ins.Size) & 0xFF) << 12) | (uint64(ins.QoS) & 0xF)
	case mpbus.OpBroadcastInvalidate:
		val = (0b10 << 41) | (src << 36) | ((uint64(ins.CacheLine) & 0xFF) << 20) |
			(uint64(ins.QoS) & 0xF)
	default:
		return "", mpbus.NewError("EncodeInstruction", mpbus.ErrCodeInputFormat,
			"unsupported operation for encoding")
	}

	bits := strconv.FormatUint(val, 2)
	if len(bits) < 64 {
		bits = strings.Repeat("0", 64-len(bits)) + bits
	}
	return bits, nil
}

// ProgramString renders a slice of decoded instructions back into their
// newline-joined binary form, one line per instruction.
func ProgramString(instrs []Instruction) (string, error) {
	var b strings.Builder
	for _, ins := range instrs {
		line, err := EncodeInstruction(ins)
		if err != nil {
			return "", err
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

package isa

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/archsim/mpbus"
)

// Assemble parses the textual mnemonic form into a decoded instruction
// stream. Tokens are separated by whitespace or commas; ';' introduces a
// line comment. Out-of-range fields and misaligned addresses are rejected.
func Assemble(src string) ([]Instruction, error) {
	var out []Instruction
	scanner := bufio.NewScanner(strings.NewReader(src))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if idx := strings.IndexByte(line, ';'); idx >= 0 {
			line = line[:idx]
		}
		fields := tokenize(line)
		if len(fields) == 0 {
			continue
		}

		ins, err := assembleLine(fields)
		if err != nil {
			return nil, mpbus.WrapError(fmt.Sprintf("Assemble:line %d", lineNo), err)
		}
		out = append(out, ins)
	}
	if err := scanner.Err(); err != nil {
		return nil, mpbus.NewError("Assemble", mpbus.ErrCodeIO, err.Error())
	}
	return out, nil
}

func tokenize(line string) []string {
	var fields []string
	for _, f := range strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	}) {
		if f != "" {
			fields = append(fields, f)
		}
	}
	return fields
}

func assembleLine(fields []string) (Instruction, error) {
	mnemonic := strings.ToUpper(fields[0])
	args := fields[1:]

	switch mnemonic {
	case "WRITE_MEM":
		nums, err := parseInts(args, 5)
		if err != nil {
			return Instruction{}, err
		}
		ins := Instruction{
			Op: mpbus.OpWriteMem, Src: int(nums[0]), Addr: nums[1],
			NumLines: uint32(nums[2]), StartLine: uint32(nums[3]), QoS: uint8(nums[4]),
		}
		return validate(ins)

	case "READ_MEM":
		nums, err := parseInts(args, 4)
		if err != nil {
			return Instruction{}, err
		}
		ins := Instruction{
			Op: mpbus.OpReadMem, Src: int(nums[0]), Addr: nums[1],
			Size: uint32(nums[2]), QoS: uint8(nums[3]),
		}
		return validate(ins)

	case "BROADCAST_INVALIDATE":
		nums, err := parseInts(args, 3)
		if err != nil {
			return Instruction{}, err
		}
		ins := Instruction{
			Op: mpbus.OpBroadcastInvalidate, Src: int(nums[0]),
			CacheLine: uint32(nums[1]), QoS: uint8(nums[2]),
		}
		return validate(ins)

	default:
		return Instruction{}, mpbus.NewError("assembleLine", mpbus.ErrCodeInputFormat,
			fmt.Sprintf("unknown mnemonic %q", fields[0]))
	}
}

func parseInts(args []string, want int) ([]uint64, error) {
	if len(args) != want {
		return nil, mpbus.NewError("parseInts", mpbus.ErrCodeInputFormat,
			fmt.Sprintf("expected %d operands, got %d", want, len(args)))
	}
	out := make([]uint64, want)
	for i, a := range args {
		v, err := strconv.ParseUint(a, 0, 64)
		if err != nil {
			return nil, mpbus.NewError("parseInts", mpbus.ErrCodeInputFormat,
				fmt.Sprintf("operand %q is not a valid integer", a))
		}
		out[i] = v
	}
	return out, nil
}

// validate re-checks field bounds by round-tripping through the binary
// encoder/decoder, so the assembler and the binary loader reject the exact
// same set of malformed instructions.
func validate(ins Instruction) (Instruction, error) {
	if ins.Src < 0 || ins.Src > 31 {
		return Instruction{}, mpbus.NewError("validate", mpbus.ErrCodeRangeAlignment,
			"src must be in 0..31")
	}
	if ins.QoS > 15 {
		return Instruction{}, mpbus.NewError("validate", mpbus.ErrCodeRangeAlignment,
			"qos must be in 0..15")
	}
	line, err := EncodeInstruction(ins)
	if err != nil {
		return Instruction{}, err
	}
	got, err := DecodeInstruction(line)
	if err != nil {
		return Instruction{}, err
	}
	if got != ins {
		return Instruction{}, mpbus.NewError("validate", mpbus.ErrCodeRangeAlignment,
			"operand does not fit its field width")
	}
	return got, nil
}

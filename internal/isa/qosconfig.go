package isa

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/archsim/mpbus"
)

// ParseQoSConfig parses one `id: 0xHH` entry per line, returning a map of PE
// id to QoS class. PE ids absent from the config default to 0 and are not
// present in the returned map; callers look up with a zero default.
func ParseQoSConfig(src string) (map[int]uint8, error) {
	out := make(map[int]uint8)
	scanner := bufio.NewScanner(strings.NewReader(src))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		idStr, valStr, ok := strings.Cut(line, ":")
		if !ok {
			return nil, mpbus.NewError("ParseQoSConfig", mpbus.ErrCodeInputFormat,
				fmt.Sprintf("line %d: expected 'id: 0xHH'", lineNo))
		}
		id, err := strconv.Atoi(strings.TrimSpace(idStr))
		if err != nil {
			return nil, mpbus.NewError("ParseQoSConfig", mpbus.ErrCodeInputFormat,
				fmt.Sprintf("line %d: bad PE id %q", lineNo, idStr))
		}
		qos, err := strconv.ParseUint(strings.TrimSpace(valStr), 0, 8)
		if err != nil || qos > 15 {
			return nil, mpbus.NewError("ParseQoSConfig", mpbus.ErrCodeInputFormat,
				fmt.Sprintf("line %d: bad qos value %q", lineNo, valStr))
		}
		out[id] = uint8(qos)
	}
	if err := scanner.Err(); err != nil {
		return nil, mpbus.NewError("ParseQoSConfig", mpbus.ErrCodeIO, err.Error())
	}
	return out, nil
}

// QoSFor looks up a PE's configured QoS class, defaulting to 0 when absent.
func QoSFor(cfg map[int]uint8, peID int) uint8 {
	if v, ok := cfg[peID]; ok {
		return v
	}
	return 0
}

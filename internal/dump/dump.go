// Package dump renders behavioral state snapshots of Cache Views and
// Shared Memory as plain text (and, for Shared Memory, binary) files.
// These are inspection sinks, not persistence: nothing here is read back
// into a running simulation, so a failure to write one is always
// recoverable (log and proceed).
package dump

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/archsim/mpbus"
)

// WriteCacheBlocks writes one PE's cache dump: 128 lines, each 32 hex
// digits representing the 16 bytes of a block, in line order.
func WriteCacheBlocks(w io.Writer, blocks [128]mpbus.Line) error {
	for _, b := range blocks {
		if _, err := fmt.Fprintf(w, "%x\n", b[:]); err != nil {
			return err
		}
	}
	return nil
}

// WriteCacheInvalid writes the sibling invalid-flag file: 128 lines,
// each "0" or "1", tracking per-line invalid flags in the same order as
// WriteCacheBlocks.
func WriteCacheInvalid(w io.Writer, invalid [128]bool) error {
	for _, v := range invalid {
		c := "0"
		if v {
			c = "1"
		}
		if _, err := fmt.Fprintln(w, c); err != nil {
			return err
		}
	}
	return nil
}

// WriteSharedMemoryText writes the shared-memory dump: 4096 lines, each
// 8 hex digits encoding one 32-bit word, most-significant byte first.
func WriteSharedMemoryText(w io.Writer, words [4096]uint32) error {
	for _, word := range words {
		if _, err := fmt.Fprintf(w, "%08x\n", word); err != nil {
			return err
		}
	}
	return nil
}

// WriteSharedMemoryBinary writes the raw little-endian binary sibling of
// the shared-memory dump: 4096 consecutive uint32 words.
func WriteSharedMemoryBinary(w io.Writer, words [4096]uint32) error {
	buf := make([]byte, 4*len(words))
	for i, word := range words {
		binary.LittleEndian.PutUint32(buf[i*4:], word)
	}
	_, err := w.Write(buf)
	return err
}

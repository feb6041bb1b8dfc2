// Package pe implements the per-PE cache view and the PE Worker state
// machine that issues requests to the Interconnect and processes its
// responses.
package pe

import (
	"github.com/archsim/mpbus"
)

// NumLines is the number of 16-byte blocks in a private Cache View.
const NumLines = 128

// CacheView is a line-addressed byte store plus a parallel invalid-bit
// vector. It is owned exclusively by its PE; the Interconnect only ever
// sees a copy of cache data the PE attached to a Message before submission.
type CacheView struct {
	blocks  [NumLines]mpbus.Line
	invalid [NumLines]bool
}

// NewCacheView returns a zeroed, all-valid Cache View.
func NewCacheView() *CacheView {
	return &CacheView{}
}

func checkRange(start, count uint32) error {
	if count == 0 {
		return nil
	}
	if start >= NumLines || count > NumLines || start+count > NumLines {
		return mpbus.NewError("CacheView", mpbus.ErrCodeRangeAlignment,
			"cache line index out of 0..127")
	}
	return nil
}

// ReadLines returns count consecutive lines starting at start. Reading an
// invalid line is permitted by the simulator (invalidity is only observable
// via the log) but the caller can check IsInvalid first.
func (c *CacheView) ReadLines(start, count uint32) ([]mpbus.Line, error) {
	if err := checkRange(start, count); err != nil {
		return nil, err
	}
	out := make([]mpbus.Line, count)
	copy(out, c.blocks[start:start+count])
	return out, nil
}

// WriteLines writes lines starting at start, each overwriting the prior
// contents of its block and clearing that block's invalid flag.
func (c *CacheView) WriteLines(start uint32, lines []mpbus.Line) error {
	count := uint32(len(lines))
	if err := checkRange(start, count); err != nil {
		return err
	}
	for i, l := range lines {
		idx := start + uint32(i)
		c.blocks[idx] = l
		c.invalid[idx] = false
	}
	return nil
}

// Invalidate flips the invalid flag for one line.
func (c *CacheView) Invalidate(line uint32) error {
	if line >= NumLines {
		return mpbus.NewError("CacheView.Invalidate", mpbus.ErrCodeRangeAlignment,
			"cache line index out of 0..127")
	}
	c.invalid[line] = true
	return nil
}

// IsInvalid reports a line's invalid flag.
func (c *CacheView) IsInvalid(line uint32) bool {
	if line >= NumLines {
		return false
	}
	return c.invalid[line]
}

// Dump returns a snapshot of the cache's blocks and invalid flags for
// inspection sinks; it does not affect simulator state.
func (c *CacheView) Dump() (blocks [NumLines]mpbus.Line, invalid [NumLines]bool) {
	return c.blocks, c.invalid
}

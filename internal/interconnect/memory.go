package interconnect

import (
	"encoding/binary"

	"github.com/archsim/mpbus"
)

// NumWords is the word capacity of Shared Memory.
const NumWords = 4096

// WordBytes is the byte width of one word.
const WordBytes = 4

// SharedMemory is a word-addressed store touched exclusively by the
// Interconnect worker; PEs never access it directly. Misaligned or
// out-of-range access is a fatal range/alignment error.
type SharedMemory struct {
	words [NumWords]uint32
}

// NewSharedMemory returns a zeroed 4096-word Shared Memory.
func NewSharedMemory() *SharedMemory {
	return &SharedMemory{}
}

func wordSpan(byteAddr uint64, byteLen uint32) (startWord, numWords uint64, err error) {
	if byteAddr%WordBytes != 0 {
		return 0, 0, mpbus.NewError("SharedMemory", mpbus.ErrCodeRangeAlignment,
			"byte address must be word-aligned")
	}
	rounded := (uint64(byteLen) + WordBytes - 1) / WordBytes * WordBytes
	startWord = byteAddr / WordBytes
	numWords = rounded / WordBytes
	if startWord+numWords > NumWords {
		return 0, 0, mpbus.NewError("SharedMemory", mpbus.ErrCodeRangeAlignment,
			"access exceeds shared memory bounds")
	}
	return startWord, numWords, nil
}

// ReadRange reads byteLen bytes (rounded up to a word multiple, the tail
// padded with zero words) starting at byteAddr, returning them as a
// sequence of 16-byte lines; the final line is zero-padded if the total
// byte count is not a multiple of the line size.
func (m *SharedMemory) ReadRange(byteAddr uint64, byteLen uint32) ([]mpbus.Line, error) {
	startWord, numWords, err := wordSpan(byteAddr, byteLen)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, numWords*WordBytes)
	for i := uint64(0); i < numWords; i++ {
		binary.BigEndian.PutUint32(buf[i*WordBytes:], m.words[startWord+i])
	}
	return bytesToLines(buf), nil
}

// WriteRange writes lines into Shared Memory starting at byteAddr.
func (m *SharedMemory) WriteRange(byteAddr uint64, lines []mpbus.Line) error {
	buf := linesToBytes(lines)
	startWord, numWords, err := wordSpan(byteAddr, uint32(len(buf)))
	if err != nil {
		return err
	}
	for i := uint64(0); i < numWords; i++ {
		m.words[startWord+i] = binary.BigEndian.Uint32(buf[i*WordBytes : i*WordBytes+WordBytes])
	}
	return nil
}

// Dump returns a snapshot of every word for inspection sinks.
func (m *SharedMemory) Dump() [NumWords]uint32 {
	return m.words
}

func bytesToLines(buf []byte) []mpbus.Line {
	n := (len(buf) + mpbus.LineSize - 1) / mpbus.LineSize
	lines := make([]mpbus.Line, n)
	for i := 0; i < n; i++ {
		start := i * mpbus.LineSize
		end := start + mpbus.LineSize
		if end > len(buf) {
			end = len(buf)
		}
		copy(lines[i][:], buf[start:end])
	}
	return lines
}

func linesToBytes(lines []mpbus.Line) []byte {
	buf := make([]byte, len(lines)*mpbus.LineSize)
	for i, l := range lines {
		copy(buf[i*mpbus.LineSize:], l[:])
	}
	return buf
}

package mpbus

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes a failure per the simulator's error-handling design:
// input-format errors reject the offending item, range/alignment errors are
// fatal to their owning worker, IO errors are recoverable, and protocol
// violations are logged and dropped.
type ErrorCode string

const (
	ErrCodeInputFormat       ErrorCode = "input format error"
	ErrCodeRangeAlignment    ErrorCode = "range or alignment error"
	ErrCodeIO                ErrorCode = "io error"
	ErrCodeProtocolViolation ErrorCode = "protocol violation"
	ErrCodeLivelock          ErrorCode = "livelock"
)

// Error is a structured mpbus error with enough context to tell a PE-local
// failure from an Interconnect-fatal one.
type Error struct {
	Op          string
	PEID        int // NoPE if not applicable
	BroadcastID int64
	Code        ErrorCode
	Msg         string
	Inner       error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	switch {
	case e.PEID != NoPE:
		return fmt.Sprintf("mpbus: %s (pe=%d)", msg, e.PEID)
	case e.BroadcastID != NoBroadcastID:
		return fmt.Sprintf("mpbus: %s (broadcast=%d)", msg, e.BroadcastID)
	case e.Op != "":
		return fmt.Sprintf("mpbus: %s (op=%s)", msg, e.Op)
	}
	return fmt.Sprintf("mpbus: %s", msg)
}

func (e *Error) Unwrap() error {
	return e.Inner
}

func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// NewError creates a structured error with no PE or broadcast context.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, PEID: NoPE, BroadcastID: NoBroadcastID, Code: code, Msg: msg}
}

// NewPEError creates an error attributed to a specific PE.
func NewPEError(op string, peID int, code ErrorCode, msg string) *Error {
	return &Error{Op: op, PEID: peID, BroadcastID: NoBroadcastID, Code: code, Msg: msg}
}

// NewBroadcastError creates an error attributed to a specific broadcast id.
func NewBroadcastError(op string, broadcastID int64, code ErrorCode, msg string) *Error {
	return &Error{Op: op, PEID: NoPE, BroadcastID: broadcastID, Code: code, Msg: msg}
}

// WrapError wraps inner with mpbus context, preserving an existing
// structured error's code if inner already is one.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	var me *Error
	if errors.As(inner, &me) {
		return &Error{Op: op, PEID: me.PEID, BroadcastID: me.BroadcastID, Code: me.Code, Msg: me.Msg, Inner: me.Inner}
	}
	return &Error{Op: op, PEID: NoPE, BroadcastID: NoBroadcastID, Code: ErrCodeIO, Msg: inner.Error(), Inner: inner}
}

// IsCode reports whether err is (or wraps) an *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var me *Error
	if errors.As(err, &me) {
		return me.Code == code
	}
	return false
}

// IsFatal reports whether an error's code terminates its owning worker
// (range/alignment) as opposed to being recoverable or merely logged.
func IsFatal(err error) bool {
	return IsCode(err, ErrCodeRangeAlignment)
}

// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package client

import "fmt"

// Code is one of the integer error kinds from spec.md §6.
type Code int

const (
	OK Code = 0

	Timeout          Code = -1
	NoStreamSocket   Code = -2
	HostnameInvalid  Code = -3
	NoConnect        Code = -4
	NoThread         Code = -5
	NotConnected     Code = -6
	AlreadyConnected Code = -7
	InvalidParameter Code = -8
	NotSupported     Code = -9
	UnknownErrorCode Code = -10
)

func (c Code) String() string {
	switch c {
	case OK:
		return "ok"
	case Timeout:
		return "timeout"
	case NoStreamSocket:
		return "no stream socket"
	case HostnameInvalid:
		return "hostname invalid"
	case NoConnect:
		return "no connect"
	case NoThread:
		return "no thread"
	case NotConnected:
		return "not connected"
	case AlreadyConnected:
		return "already connected"
	case InvalidParameter:
		return "invalid parameter"
	case NotSupported:
		return "not supported"
	case UnknownErrorCode:
		return "unknown error code"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// Error makes Code an error value, so it can be the target of errors.Is.
func (c Code) Error() string { return c.String() }

// Error is a structured error carrying the operation that failed, the
// taxonomy code from spec.md §6, and the underlying cause if any.
type Error struct {
	Op    string
	Code  Code
	Inner error
}

func (e *Error) Error() string {
	if e.Inner != nil {
		return fmt.Sprintf("brokerlink: %s: %s: %v", e.Op, e.Code, e.Inner)
	}
	return fmt.Sprintf("brokerlink: %s: %s", e.Op, e.Code)
}

// Unwrap returns the wrapped cause for errors.Is/As support.
func (e *Error) Unwrap() error { return e.Inner }

// Is reports whether target matches this error's code, so callers can write
// errors.Is(err, client.Timeout) without reaching into the struct.
func (e *Error) Is(target error) bool {
	if c, ok := target.(Code); ok {
		return e.Code == c
	}
	te, ok := target.(*Error)
	return ok && e.Code == te.Code
}

// newError builds an *Error for op/code, optionally wrapping cause.
func newError(op string, code Code, cause error) *Error {
	return &Error{Op: op, Code: code, Inner: cause}
}

// mapBrokerErrorCode maps a broker response's wire error code (spec.md §3,
// §4.9) to a Code.
func mapBrokerErrorCode(wire uint8) Code {
	switch wire {
	case 0:
		return OK
	case 1:
		return InvalidParameter
	case 2:
		return NotSupported
	default:
		return UnknownErrorCode
	}
}

// Is lets client.Timeout etc. be used directly with errors.Is against an
// error this package returns, without needing errors.As(&*Error{}) first.
func (c Code) Is(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Code == c
}

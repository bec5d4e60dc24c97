// Package acqerr defines the acquisition error codes and their taxonomy.
package acqerr

import "errors"

// Code is a stable error identifier. It is comparable and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes.
const (
	NotConnected        Code = "not_connected"
	PowerSourceMismatch Code = "power_source_mismatch"
	InvalidRange        Code = "invalid_range"
	DriverRejected      Code = "driver_rejected"
	Timeout             Code = "timeout"
	ShortRead           Code = "short_read"
	DriverFailure       Code = "driver_failure"
	IOFailure           Code = "io_failure"
	Canceled            Code = "canceled"

	Unknown Code = "error"
)

// Kind is the class a Code belongs to.
type Kind string

// Error classes. Setup-phase kinds are fatal; loop-phase kinds are isolated
// per event.
const (
	ConnectionError    Kind = "connection"
	ConfigurationError Kind = "configuration"
	CaptureError       Kind = "capture"
	PersistenceError   Kind = "persistence"
	UnknownError       Kind = "unknown"
)

// KindOf maps a code to its class.
func KindOf(c Code) Kind {
	switch c {
	case NotConnected, PowerSourceMismatch:
		return ConnectionError
	case InvalidRange, DriverRejected:
		return ConfigurationError
	case Timeout, ShortRead, DriverFailure, Canceled:
		return CaptureError
	case IOFailure:
		return PersistenceError
	default:
		return UnknownError
	}
}

// E keeps the failing operation and the cause next to the code.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

// New builds an *E.
func New(c Code, op, msg string, err error) *E {
	return &E{C: c, Op: op, Msg: msg, Err: err}
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *E) Unwrap() error { return e.Err }

// Code returns the error code.
func (e *E) Code() Code { return e.C }

// Kind returns the error class.
func (e *E) Kind() Kind { return KindOf(e.C) }

// Is lets errors.Is(err, acqerr.Timeout) match an *E carrying that code.
func (e *E) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.C
}

// Of extracts a Code from an error chain, defaulting to Unknown.
func Of(err error) Code {
	if err == nil {
		return ""
	}
	var e *E
	if errors.As(err, &e) {
		return e.C
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return Unknown
}

// IsFatal reports whether err belongs to a setup-phase class.
func IsFatal(err error) bool {
	switch KindOf(Of(err)) {
	case ConnectionError, ConfigurationError, UnknownError:
		return true
	}
	return false
}

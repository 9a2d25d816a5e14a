package speech

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUpstreamUnavailable Kind = iota + 1
	KindUpstreamRejected
	KindTranscriptionFailed
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindUpstreamUnavailable:
		return "upstream unavailable"
	case KindUpstreamRejected:
		return "upstream rejected"
	case KindTranscriptionFailed:
		return "transcription failed"
	case KindTimeout:
		return "timeout"
	}
	return "unknown"
}

// Sentinels for errors.Is. Compare with these, never with *Error values.
var (
	ErrUpstreamUnavailable = &Error{Kind: KindUpstreamUnavailable}
	ErrUpstreamRejected    = &Error{Kind: KindUpstreamRejected}
	ErrTranscriptionFailed = &Error{Kind: KindTranscriptionFailed}
	ErrTimeout             = &Error{Kind: KindTimeout}
)

// Error is every failure the gateway returns.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := "speech"
	if e.Op != "" {
		msg += " " + e.Op
	}
	msg += ": " + e.Kind.String()
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func unavailable(op string, status int, err error) *Error {
	return &Error{Kind: KindUpstreamUnavailable, Op: op, StatusCode: status, Err: err}
}

func rejected(op string, status int, msg string) *Error {
	return &Error{Kind: KindUpstreamRejected, Op: op, StatusCode: status, Message: msg}
}

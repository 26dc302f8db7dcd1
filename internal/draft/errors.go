package draft

import (
	"errors"
)

var (
	ErrStreamEnded     = errors.New("AI stream ended unexpectedly")
	ErrMissingPuckData = errors.New("AI response missing puckData")
	ErrEmptyPage       = errors.New("AI returned an empty page (0 blocks)")

	// ErrTerminated is returned by Interpreter.Apply after a done or error event.
	ErrTerminated = errors.New("stream already terminated")
	// ErrBusy rejects document mutations while a generation is in flight.
	ErrBusy    = errors.New("generation in progress")
	ErrNoStore = errors.New("no draft store configured")
	ErrNoPage  = errors.New("editor has no target page")
)

// Kind classifies generation failures.
type Kind string

const (
	KindTransport  Kind = "transport"
	KindProtocol   Kind = "protocol"
	KindValidation Kind = "validation"
)

// Error is a failed generation. Message is what the user sees.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind) + " error"
}

func (e *Error) Unwrap() error {
	return e.Err
}

func protocolError(err error) *Error {
	return &Error{Kind: KindProtocol, Err: err}
}

func validationError(err error) *Error {
	return &Error{Kind: KindValidation, Err: err}
}

func transportError(err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return &Error{Kind: KindTransport, Err: err}
}

// KindOf returns the failure class of err, or "" when err is not a
// generation error.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

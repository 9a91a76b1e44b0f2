// Package errs defines the error taxonomy shared by the ingestion and
// retrieval pipeline. Every failure that crosses a package boundary is an
// *Error carrying a Kind, so transports can map it without string matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindUnsupportedFormat   Kind = "unsupported_format"
	KindPlatformUnsupported Kind = "platform_unsupported"
	KindConnection          Kind = "connection_error"
	KindValidation          Kind = "validation_error"
	KindUpstream            Kind = "upstream_error"
	KindInternal            Kind = "internal_error"
)

// Sentinels usable with errors.Is.
var (
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrUnsupportedFormat   = &Error{Kind: KindUnsupportedFormat}
	ErrPlatformUnsupported = &Error{Kind: KindPlatformUnsupported}
	ErrConnection          = &Error{Kind: KindConnection}
	ErrValidation          = &Error{Kind: KindValidation}
	ErrUpstream            = &Error{Kind: KindUpstream}
)

// Error is a classified error with the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so that errors.Is(err, ErrNotFound) works for any
// NotFound error. PlatformUnsupported also matches UnsupportedFormat.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == e.Kind {
		return true
	}
	return t.Kind == KindUnsupportedFormat && e.Kind == KindPlatformUnsupported
}

// E builds a classified error.
func E(kind Kind, op string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

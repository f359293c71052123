package news

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures. None of them is fatal to the process.
type ErrorKind string

const (
	// KindTransient covers network, timeout and non-success status failures
	// of feed fetches, image fetches, rewrite calls and deliveries.
	KindTransient ErrorKind = "transient_external"
	// KindMalformed covers feed entries missing a title or link.
	KindMalformed ErrorKind = "malformed_input"
	// KindStorage covers dedup store load and persist failures.
	KindStorage ErrorKind = "storage"
	// KindAborted covers manual workflows cancelled by the operator or timed out.
	KindAborted ErrorKind = "aborted"
)

// Error is a classified pipeline error.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Op)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds a classified error.
func Errorf(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of a classified error, or "" for anything else.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

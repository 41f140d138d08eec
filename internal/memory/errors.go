package memory

import (
	"errors"
	"fmt"
)

// Kind classifies a failure inside the engine.
type Kind int

const (
	KindUnknown Kind = iota
	KindDisabled
	KindNotFound
	KindPermission
	KindInvalid
	KindStorage
	KindEmbedding
)

func (k Kind) String() string {
	switch k {
	case KindDisabled:
		return "disabled"
	case KindNotFound:
		return "not_found"
	case KindPermission:
		return "permission"
	case KindInvalid:
		return "invalid"
	case KindStorage:
		return "storage"
	case KindEmbedding:
		return "embedding"
	}
	return "unknown"
}

// Error is returned by internal operations. Op names the operation that
// failed; Err is the underlying cause, if any.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// ErrDisabled is returned when the memory system is switched off.
var ErrDisabled = &Error{Kind: KindDisabled}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind that carries no Op or cause,
// so errors.Is(err, ErrDisabled) works on wrapped errors.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

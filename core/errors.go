package core

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies the errors returned by the tenancy core.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindInvalidArgument
	KindInvalidRole
	KindConnection
	KindStorage
	KindSequenceExhausted
	KindRegistryClosed
	KindTimeout
	KindCancelled
	KindNotFound
	KindDuplicate
)

var kindNames = map[Kind]string{
	KindUnknown:           "unknown error",
	KindInvalidArgument:   "invalid argument",
	KindInvalidRole:       "invalid role",
	KindConnection:        "connection error",
	KindStorage:           "storage error",
	KindSequenceExhausted: "sequence exhausted",
	KindRegistryClosed:    "registry closed",
	KindTimeout:           "timeout",
	KindCancelled:         "cancelled",
	KindNotFound:          "not found",
	KindDuplicate:         "duplicate",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnknown]
}

// Error is the typed error of the tenancy core.
// Op names the failing operation, e.g. "tenant.Resolve".
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// sentinels, for use with errors.Is
var (
	ErrInvalidArgument   = &Error{Kind: KindInvalidArgument}
	ErrInvalidRole       = &Error{Kind: KindInvalidRole}
	ErrConnection        = &Error{Kind: KindConnection}
	ErrStorage           = &Error{Kind: KindStorage}
	ErrSequenceExhausted = &Error{Kind: KindSequenceExhausted}
	ErrRegistryClosed    = &Error{Kind: KindRegistryClosed}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrCancelled         = &Error{Kind: KindCancelled}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrDuplicate         = &Error{Kind: KindDuplicate}
)

// E builds an *Error. A context error is always reported as Timeout or Cancelled,
// whatever kind the caller asked for.
func E(op string, kind Kind, err error) error {
	if ctxKind, ok := contextKind(err); ok {
		kind = ctxKind
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an *Error with a formatted message.
func Errorf(op string, kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: errors.Errorf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind. InvalidRole is also an InvalidArgument.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == e.Kind {
		return true
	}
	return t.Kind == KindInvalidArgument && e.Kind == KindInvalidRole
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if kind, ok := contextKind(err); ok {
		return kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return errors.Is(err, &Error{Kind: kind})
}

// FromContext maps ctx.Err() to a Timeout or Cancelled error; nil if ctx is still live.
func FromContext(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return E(op, KindCancelled, err)
	}
	return nil
}

func contextKind(err error) (Kind, bool) {
	switch {
	case err == nil:
		return KindUnknown, false
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout, true
	case errors.Is(err, context.Canceled):
		return KindCancelled, true
	}
	return KindUnknown, false
}

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}

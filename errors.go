package esh

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies a panic, matching the conceptual taxonomy of
// spec.md §7. It's not exposed as a wire value anywhere; it exists so
// host code and tests can distinguish failure modes programmatically
// (e.g. "was this an ArityMismatch or a TypeMismatch") without parsing
// the formatted message.
type ErrorKind int

const (
	ErrStackUnderflow ErrorKind = iota
	ErrStackOverflow
	ErrInvalidOffset
	ErrArityMismatch
	ErrTypeMismatch
	ErrCoerceFailure
	ErrUndefinedGlobal
	ErrNoCommandHandler
	ErrUnknownCommand
	ErrMutateConst
	ErrIndexOnNonObject
	ErrOutOfBounds
	ErrAllocation
	ErrCoroutineMisuse
	ErrSyntax
	ErrUserPanic
)

var errorKindNames = [...]string{
	ErrStackUnderflow:   "StackUnderflow",
	ErrStackOverflow:    "StackOverflow",
	ErrInvalidOffset:    "InvalidOffset",
	ErrArityMismatch:    "ArityMismatch",
	ErrTypeMismatch:     "TypeMismatch",
	ErrCoerceFailure:    "CoerceFailure",
	ErrUndefinedGlobal:  "UndefinedGlobal",
	ErrNoCommandHandler: "NoCommandHandler",
	ErrUnknownCommand:   "UnknownCommand",
	ErrMutateConst:      "MutateConst",
	ErrIndexOnNonObject: "IndexOnNonObject",
	ErrOutOfBounds:      "OutOfBounds",
	ErrAllocation:       "Allocation",
	ErrCoroutineMisuse:  "CoroutineMisuse",
	ErrSyntax:           "Syntax",
	ErrUserPanic:        "UserPanic",
}

func (k ErrorKind) String() string {
	if int(k) < len(errorKindNames) {
		return errorKindNames[k]
	}
	return "Unknown"
}

// EshError is the typed error every VM panic, compile failure, and
// embedding-API misuse is reported as — the teacher's ParsingError
// carries a Label/Span/Message; this module's equivalent carries a Kind
// plus a Go-level stack captured via github.com/pkg/errors so tests and
// host code can inspect *why* as well as *what*.
type EshError struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *EshError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *EshError) Unwrap() error { return e.cause }

func newError(kind ErrorKind, format string, args ...any) error {
	return errors.WithStack(&EshError{Kind: kind, Message: fmt.Sprintf(format, args...)})
}

func wrapError(kind ErrorKind, cause error, format string, args ...any) error {
	return errors.WithStack(&EshError{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause})
}

// KindOf extracts the ErrorKind from err if it (or something it wraps)
// is an *EshError.
func KindOf(err error) (ErrorKind, bool) {
	var e *EshError
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// SyntaxError carries a formatted source-context snippet with a caret
// under the offending range, as spec.md §7 requires for compile-time
// errors.
type SyntaxError struct {
	Message string
	Line    int
	Column  int
	Context string // formatted snippet + caret line
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s at line %d, column %d\n%s", e.Message, e.Line, e.Column, e.Context)
}

// stackTraceFrame is one line of a captured VM stack trace (spec.md
// §4.8): the function name (or "Anonymous") and, for interpreted
// functions, a source line number.
type stackTraceFrame struct {
	name    string
	line    int
	isNative bool
}

func (f stackTraceFrame) String() string {
	name := f.name
	if name == "" {
		name = "Anonymous"
	}
	if f.isNative {
		return name
	}
	return fmt.Sprintf("%s:%d", name, f.line)
}

func formatStackTrace(frames []stackTraceFrame) string {
	s := ""
	for i, f := range frames {
		if i > 0 {
			s += "\n"
		}
		s += f.String()
	}
	return s
}

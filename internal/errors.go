package internal

import (
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes a failure reported to the error handler.
type Kind string

const (
	KindResolution      Kind = "resolution"       // argument id missing from the registry
	KindExecution       Kind = "execution"        // worklet raised while running
	KindLifecycleMisuse Kind = "lifecycle_misuse" // use after willUnregister
	KindBinding         Kind = "binding"          // setNewValue with an incompatible value
)

// Sentinels for errors.Is.
var (
	ErrResolution      = &Error{Kind: KindResolution}
	ErrExecution       = &Error{Kind: KindExecution}
	ErrLifecycleMisuse = &Error{Kind: KindLifecycleMisuse}
	ErrBinding         = &Error{Kind: KindBinding}
)

// Error is the structured error handed to the error handler.
type Error struct {
	Kind     Kind
	SourceID int
	ArgID    int
	Detail   string
	Cause    error
}

func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Kind))
	b.WriteString("] shared value ")
	fmt.Fprintf(&b, "%d", e.SourceID)

	if e.Kind == KindResolution {
		fmt.Fprintf(&b, ": argument %d not found", e.ArgID)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on Kind only, so the sentinels match any error of their kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

func ResolutionError(sourceID, argID int) *Error {
	return &Error{Kind: KindResolution, SourceID: sourceID, ArgID: argID}
}

func ExecutionError(sourceID int, cause error) *Error {
	return &Error{Kind: KindExecution, SourceID: sourceID, Cause: cause}
}

func LifecycleMisuseError(sourceID int, detail string) *Error {
	return &Error{Kind: KindLifecycleMisuse, SourceID: sourceID, Detail: detail}
}

func BindingError(sourceID int, detail string, args ...any) *Error {
	if len(args) > 0 {
		detail = fmt.Sprintf(detail, args...)
	}
	return &Error{Kind: KindBinding, SourceID: sourceID, Detail: detail}
}

// KindOf returns the kind of err, or "unknown" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return "unknown"
}

// panicError turns a recovered panic value into an error.
func panicError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("panic: %v", r)
}

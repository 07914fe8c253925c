// Package faults defines the error taxonomy shared by every pipeline stage.
//
// Each component converts the failures it can anticipate into a *Error with
// one of the Kind values below. The public API renders these into the uniform
// Result contract; nothing else crosses a component boundary.
package faults

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable error class.
type Kind string

const (
	// KindNotFound indicates a missing source or artifact path.
	KindNotFound Kind = "NotFoundError"
	// KindIO indicates permission, disk or other filesystem faults.
	KindIO Kind = "IOError"
	// KindDecode indicates malformed structured data or a corrupt artifact.
	KindDecode Kind = "DecodeError"
	// KindType indicates a value that cannot be represented where required.
	KindType Kind = "TypeError"
	// KindCompile indicates a front-end syntax or semantic failure.
	KindCompile Kind = "CompileError"
	// KindRuntime indicates a fault raised while running a compiled unit.
	KindRuntime Kind = "RuntimeFault"
)

// Error is the unified pipeline error.
type Error struct {
	// Kind is the error class.
	Kind Kind
	// Op names the stage that failed ("read source", "compile", ...).
	Op string
	// Path is the file involved, if any.
	Path string
	// Msg is the human-readable cause.
	Msg string
	// Cause is the underlying error.
	Cause error
}

// Error renders "<Kind>: <op>: <msg>".
func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, e.Msg)
}

// Unwrap returns the underlying cause of the error.
func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is a *Error of the same Kind. It lets callers
// write errors.Is(err, faults.ErrNotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Kind == e.Kind
}

// WithOp sets the failing stage and returns the receiver.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// WithPath sets the path and returns the receiver.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// Sentinels for errors.Is.
var (
	ErrNotFound = &Error{Kind: KindNotFound}
	ErrIO       = &Error{Kind: KindIO}
	ErrDecode   = &Error{Kind: KindDecode}
	ErrType     = &Error{Kind: KindType}
	ErrCompile  = &Error{Kind: KindCompile}
	ErrRuntime  = &Error{Kind: KindRuntime}
)

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind around cause. The message is the
// cause's text.
func Wrap(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Msg: cause.Error(), Cause: cause}
}

// --- Common constructors ---

// NotFound reports a missing file.
func NotFound(path string) *Error {
	return &Error{Kind: KindNotFound, Path: path, Msg: fmt.Sprintf("file not found: %s", path)}
}

// IO reports a filesystem failure on path.
func IO(path string, cause error) *Error {
	return &Error{Kind: KindIO, Path: path, Msg: fmt.Sprintf("i/o failure on %s: %v", path, cause), Cause: cause}
}

// Decode reports malformed data read from path.
func Decode(path string, cause error) *Error {
	msg := cause.Error()
	if path != "" {
		msg = fmt.Sprintf("%s: %v", path, cause)
	}
	return &Error{Kind: KindDecode, Path: path, Msg: msg, Cause: cause}
}

// KindOf returns the Kind of err, or "" when err is not a *Error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Ensure wraps err as kind unless it already is a *Error. A nil err stays nil.
func Ensure(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	return Wrap(kind, err)
}

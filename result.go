package neorun

import (
	"github.com/goccy/go-json"

	"github.com/iorp/neorun/internal/faults"
	"github.com/iorp/neorun/internal/unit"
)

// Status is the outcome every public operation reports. When Error is false,
// Exception is empty and any payload is meaningful. When Error is true,
// Exception holds a non-empty message and the payload is its zero value.
// Encoded as JSON, a failed result carries only error and exception; a
// successful one carries error and its payload, even when that is null.
type Status struct {
	Error     bool   `json:"error"`
	Exception string `json:"exception,omitempty"`

	err error
}

// Err returns the typed error behind a failed status, or nil. Use errors.Is
// with the faults sentinels (ErrNotFound, ErrCompile, ...) to classify it.
func (s Status) Err() error { return s.err }

// OK reports whether the operation succeeded.
func (s Status) OK() bool { return !s.Error }

// Kind returns the error class of a failed status, or "".
func (s Status) Kind() Kind { return faults.KindOf(s.err) }

func succeeded() Status { return Status{} }

func failed(err error) Status {
	err = faults.Ensure(faults.KindIO, err)
	msg := err.Error()
	if msg == "" {
		msg = string(faults.KindOf(err))
	}
	return Status{Error: true, Exception: msg, err: err}
}

// ReadResult carries the content of a read.
type ReadResult[T any] struct {
	Status
	Content T `json:"content"`
}

func (r ReadResult[T]) MarshalJSON() ([]byte, error) {
	if r.Error {
		return json.Marshal(r.Status)
	}
	return json.Marshal(struct {
		Status
		Content T `json:"content"`
	}{r.Status, r.Content})
}

// RunResult carries the __response__ of an execution.
type RunResult struct {
	Status
	Response any `json:"response"`
}

func (r RunResult) MarshalJSON() ([]byte, error) {
	if r.Error {
		return json.Marshal(r.Status)
	}
	return json.Marshal(struct {
		Status
		Response any `json:"response"`
	}{r.Status, r.Response})
}

// CompileResult describes the unit a successful compilation stored.
type CompileResult struct {
	Status
	Unit *unit.Summary `json:"unit,omitempty"`
}

// Kind is the error class of a failed operation.
type Kind = faults.Kind

// Error classes.
const (
	KindNotFound = faults.KindNotFound
	KindIO       = faults.KindIO
	KindDecode   = faults.KindDecode
	KindType     = faults.KindType
	KindCompile  = faults.KindCompile
	KindRuntime  = faults.KindRuntime
)

// Sentinels for errors.Is against Status.Err().
var (
	ErrNotFound = faults.ErrNotFound
	ErrIO       = faults.ErrIO
	ErrDecode   = faults.ErrDecode
	ErrType     = faults.ErrType
	ErrCompile  = faults.ErrCompile
	ErrRuntime  = faults.ErrRuntime
)

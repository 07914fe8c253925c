// Package neorun compiles scripts once and runs them many times.
//
// A source file is parsed, checked and stored as a compiled artifact. The
// artifact can later be executed inside a caller-supplied scope, and the
// value the script assigned to __response__ is handed back, including when
// the script stopped itself early with exit().
//
//	res := neorun.CompileAndRun("greet.neo", "build/greet.nrc", neorun.Scope{"who": "rex"})
//	if res.Error {
//		log.Fatal(res.Exception)
//	}
//	fmt.Println(res.Response)
//
// Every operation returns a Status-carrying result instead of an error. The
// typed error is still available through Err() for errors.Is/As.
//
// A Pipeline holds the logger, tracer and component settings. The
// package-level functions use a default Pipeline with no logging.
package neorun

import (
	"context"
	"sync"

	"github.com/iorp/neorun/internal/compiler"
	"github.com/iorp/neorun/internal/executor"
	"github.com/iorp/neorun/internal/unit"
)

// ResponseKey is the reserved variable a script assigns its result to.
const ResponseKey = executor.ResponseKey

// Scope is the caller-owned binding environment of an execution. It is
// updated in place with the script's top-level assignments.
type Scope = executor.Scope

var defaultPipeline = sync.OnceValue(func() *Pipeline { return New() })

// Default returns the Pipeline used by the package-level functions.
func Default() *Pipeline { return defaultPipeline() }

// ReadText reads a UTF-8 text artifact.
func ReadText(path string) ReadResult[string] { return Default().ReadText(path) }

// WriteText writes a UTF-8 text artifact.
func WriteText(path, text string) Status { return Default().WriteText(path, text) }

// ReadStructured reads a JSON artifact.
func ReadStructured(path string) ReadResult[any] { return Default().ReadStructured(path) }

// WriteStructured writes a JSON object or array artifact.
func WriteStructured(path string, value any) Status { return Default().WriteStructured(path, value) }

// ReadBinary reads a binary artifact.
func ReadBinary(path string) ReadResult[[]byte] { return Default().ReadBinary(path) }

// WriteBinary writes a binary artifact.
func WriteBinary(path string, data []byte) Status { return Default().WriteBinary(path, data) }

// CompileSource compiles text and stores the unit at outputPath.
func CompileSource(text, outputPath string, opts ...compiler.CompileOption) CompileResult {
	return Default().CompileSource(context.Background(), text, outputPath, opts...)
}

// CompileFile compiles the file at sourcePath and stores the unit at
// outputPath.
func CompileFile(sourcePath, outputPath string, opts ...compiler.CompileOption) Status {
	return Default().CompileFile(context.Background(), sourcePath, outputPath, opts...)
}

// Execute runs the compiled unit at artifactPath. A nil scope runs against
// a fresh empty one.
func Execute(artifactPath string, scope Scope) RunResult {
	return Default().Execute(context.Background(), artifactPath, scope)
}

// CompileAndRun compiles sourcePath to artifactPath and, if that succeeded,
// executes it. The first failing result is returned unchanged.
func CompileAndRun(sourcePath, artifactPath string, scope Scope) RunResult {
	return Default().CompileAndRun(context.Background(), sourcePath, artifactPath, scope)
}

// Inspect decodes the artifact at path and summarizes it.
func Inspect(path string) ReadResult[unit.Summary] { return Default().Inspect(path) }

// WithUnitName overrides the unit name recorded in the artifact.
func WithUnitName(name string) compiler.CompileOption { return compiler.WithUnitName(name) }

// WithEmbedSource stores the source text in the artifact so runtime errors
// can show a snippet.
func WithEmbedSource(embed bool) compiler.CompileOption { return compiler.WithEmbedSource(embed) }

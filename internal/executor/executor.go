// Package executor loads compiled units and runs them inside a caller scope.
//
// One execution walks this state machine; every transition is logged at
// debug level under a fresh run_id:
//
//	Loading ──► Running ──► NormalEnd ───────┐
//	   │           ├──────► EarlyTerminated ─┼──► ResultExtracted
//	   │           └──────► Faulted ─────────┼──► Reported
//	   └─────────────────────────────────────┘
//
// The scope map is the local frame of the unit. A fresh global frame, whose
// parent is the builtin core, receives top-level 'def' and 'import'. After
// Running ends, for whatever reason, the local bindings are written back
// into the map and __response__ is read from them.
package executor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iorp/neorun/internal/artifact"
	"github.com/iorp/neorun/internal/faults"
	"github.com/iorp/neorun/internal/script"
	"github.com/iorp/neorun/internal/unit"
)

// ResponseKey is the reserved variable a unit assigns its result to.
const ResponseKey = "__response__"

// Stage names used as faults.Error.Op.
const (
	OpReadArtifact = "read artifact"
	OpDecode       = "decode artifact"
	OpBindScope    = "bind scope"
	OpExecute      = "execute"
	OpExtract      = "extract response"
)

// Scope is the caller-owned binding environment of one execution. Values
// use the plain Go model: nil, bool, int64, float64, string, []any and
// map[string]any. Other integer and float kinds are accepted on input.
//
// After a run every binding of the local frame is written back in that
// plain form, including seeded values the script never touched: an int
// comes back as int64 and a []string as []any.
type Scope map[string]any

// State is a step of the execution state machine.
type State string

const (
	StateLoading         State = "Loading"
	StateRunning         State = "Running"
	StateNormalEnd       State = "NormalEnd"
	StateEarlyTerminated State = "EarlyTerminated"
	StateFaulted         State = "Faulted"
	StateResultExtracted State = "ResultExtracted"
	StateReported        State = "Reported"
)

// Executor runs compiled units. It keeps no state between executions apart
// from its input buffer, so a line read ahead by one run is seen by the next.
// It may be shared, but a single execution is synchronous and blocking.
type Executor struct {
	store       *artifact.Store
	log         *zap.Logger
	stdout      io.Writer
	stdin       io.Reader
	input       *sharedInput
	argv        []string
	modulePaths []string
	maxDepth    int
}

// Option configures an Executor.
type Option func(*Executor)

// WithStore sets the artifact store used to read units and file modules.
func WithStore(s *artifact.Store) Option {
	return func(e *Executor) {
		if s != nil {
			e.store = s
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.log = l
		}
	}
}

// WithStdout redirects print.
func WithStdout(w io.Writer) Option { return func(e *Executor) { e.stdout = w } }

// WithStdin redirects input.
func WithStdin(r io.Reader) Option { return func(e *Executor) { e.stdin = r } }

// WithArgv sets sys.argv.
func WithArgv(argv []string) Option { return func(e *Executor) { e.argv = argv } }

// WithModulePaths adds directories searched by file imports.
func WithModulePaths(paths ...string) Option {
	return func(e *Executor) { e.modulePaths = append(e.modulePaths, paths...) }
}

// WithMaxDepth bounds the call depth. Zero selects script.DefaultMaxDepth.
func WithMaxDepth(n int) Option { return func(e *Executor) { e.maxDepth = n } }

// New creates an Executor.
func New(opts ...Option) *Executor {
	e := &Executor{log: zap.NewNop()}
	for _, o := range opts {
		o(e)
	}
	if e.store == nil {
		e.store = artifact.New(artifact.WithLogger(e.log))
	}
	if e.stdin == nil {
		e.stdin = os.Stdin
	}
	e.input = &sharedInput{r: bufio.NewReader(e.stdin)}
	return e
}

// sharedInput is the buffered stdin every run of one Executor reads from.
type sharedInput struct {
	mu sync.Mutex
	r  *bufio.Reader
}

func (in *sharedInput) Read(p []byte) (int, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.r.Read(p)
}

func (in *sharedInput) ReadString(delim byte) (string, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.r.ReadString(delim)
}

// Load reads and decodes the unit stored at path. A missing file is a
// NotFoundError; a corrupt, truncated or foreign file is a DecodeError.
func (e *Executor) Load(path string) (*unit.Unit, error) {
	data, err := e.store.ReadBinary(path)
	if err != nil {
		var fe *faults.Error
		if errors.As(err, &fe) {
			return nil, fe.WithOp(OpReadArtifact)
		}
		return nil, faults.Wrap(faults.KindIO, err).WithOp(OpReadArtifact)
	}
	u, err := unit.Decode(data)
	if err != nil {
		return nil, faults.Decode(path, err).WithOp(OpDecode)
	}
	return u, nil
}

// Execute loads the unit at artifactPath and runs it in scope. A nil scope
// runs against a fresh empty one. The returned value is the unit's
// __response__, or nil when it never assigned one.
func (e *Executor) Execute(artifactPath string, scope Scope) (any, error) {
	r := e.newRun()
	r.enter(StateLoading, zap.String("artifact", artifactPath))
	u, err := e.Load(artifactPath)
	if err != nil {
		r.enter(StateReported, zap.Error(err))
		return nil, err
	}
	return r.run(u, scope)
}

// Run executes an already decoded unit in scope.
func (e *Executor) Run(u *unit.Unit, scope Scope) (any, error) {
	return e.newRun().run(u, scope)
}

type run struct {
	e     *Executor
	log   *zap.Logger
	start time.Time
}

func (e *Executor) newRun() *run {
	return &run{e: e, log: e.log.With(zap.String("run_id", uuid.NewString())), start: time.Now()}
}

func (r *run) enter(s State, fields ...zap.Field) {
	r.log.Debug("execution state",
		append([]zap.Field{zap.String("state", string(s)), zap.Duration("duration", time.Since(r.start))}, fields...)...)
}

func (r *run) run(u *unit.Unit, scope Scope) (any, error) {
	if scope == nil {
		scope = Scope{}
	}
	log := r.log.With(zap.String("unit", u.Name))
	r.log = log

	ip := script.New(script.Options{
		Stdout:      r.e.stdout,
		Stdin:       r.e.input,
		Argv:        r.e.argv,
		ModulePaths: r.e.modulePaths,
		MaxDepth:    r.e.maxDepth,
		Loader:      r.e.loadModule,
	})
	globals := script.NewEnv(ip.Core())
	locals := script.NewEnv(globals)
	for _, name := range slices.Sorted(maps.Keys(scope)) {
		v, err := script.FromGo(scope[name])
		if err != nil {
			err = faults.New(faults.KindType, "scope variable %q: %v", name, err).WithOp(OpBindScope)
			r.enter(StateReported, zap.Error(err))
			return nil, err
		}
		locals.Define(name, v)
	}

	r.enter(StateRunning)
	err := ip.Exec(u.Program(programDir(u)), globals, locals)

	var exit *script.ExitSignal
	switch {
	case err == nil:
		r.enter(StateNormalEnd)
	case errors.As(err, &exit):
		r.enter(StateEarlyTerminated, zap.Int("code", exit.Code))
		err = nil
	default:
		r.enter(StateFaulted, zap.Error(err))
	}

	writeBack(scope, locals)

	if err != nil {
		err = &faults.Error{Kind: faults.KindRuntime, Op: OpExecute, Msg: err.Error(), Cause: err}
		r.enter(StateReported)
		return nil, err
	}

	resp, err := response(locals)
	if err != nil {
		err = faults.New(faults.KindType, "%s: %v", ResponseKey, err).WithOp(OpExtract)
		r.enter(StateReported, zap.Error(err))
		return nil, err
	}
	r.enter(StateResultExtracted, zap.Bool("has_response", resp != nil))
	return resp, nil
}

// writeBack copies the local frame into scope. Values with no plain Go form
// (functions, modules, cyclic containers) are stored as script.Value.
func writeBack(scope Scope, locals *script.Env) {
	for _, name := range locals.Names() {
		v, _ := locals.Get(name)
		x, err := script.ToGo(v)
		if err != nil {
			scope[name] = v
			continue
		}
		scope[name] = x
	}
}

func response(locals *script.Env) (any, error) {
	v, ok := locals.Get(ResponseKey)
	if !ok || v.Tag == script.VTNull {
		return nil, nil
	}
	x, err := script.ToGo(v)
	if err != nil {
		return nil, err
	}
	if err := plain(x); err != nil {
		return nil, err
	}
	return x, nil
}

// plain rejects opaque values nested anywhere in x.
func plain(x any) error {
	switch t := x.(type) {
	case script.Value:
		return fmt.Errorf("a %s is not a data value", t.Tag)
	case []any:
		for _, e := range t {
			if err := plain(e); err != nil {
				return err
			}
		}
	case map[string]any:
		for _, e := range t {
			if err := plain(e); err != nil {
				return err
			}
		}
	}
	return nil
}

// programDir is the base for relative imports: the directory of the unit's
// source when it was compiled from a file, else of its output path.
func programDir(u *unit.Unit) string {
	if u.Name == "" {
		return "."
	}
	return filepath.Dir(u.Name)
}

// loadModule compiles a file module through the artifact store.
func (e *Executor) loadModule(path string) (*script.Program, error) {
	src, err := e.store.ReadText(path)
	if err != nil {
		return nil, err
	}
	prog, err := script.Compile(path, src)
	if err != nil {
		return nil, err
	}
	prog.Dir = filepath.Dir(path)
	e.log.Debug("module loaded", zap.String("path", path))
	return prog, nil
}

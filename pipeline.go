package neorun

import (
	"context"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/iorp/neorun/internal/artifact"
	"github.com/iorp/neorun/internal/compiler"
	"github.com/iorp/neorun/internal/config"
	"github.com/iorp/neorun/internal/executor"
	"github.com/iorp/neorun/internal/faults"
	"github.com/iorp/neorun/internal/unit"
)

const tracerName = "github.com/iorp/neorun"

// Span names.
const (
	SpanCompile       = "neorun.compile"
	SpanExecute       = "neorun.execute"
	SpanCompileAndRun = "neorun.compile_and_run"
)

// Pipeline wires the artifact store, compiler and executor together.
type Pipeline struct {
	log      *zap.Logger
	tracer   trace.Tracer
	store    *artifact.Store
	compiler *compiler.Compiler
	executor *executor.Executor
}

type options struct {
	log          *zap.Logger
	tp           trace.TracerProvider
	cfg          *config.Config
	stdout       io.Writer
	stdin        io.Reader
	argv         []string
	compilerOpts []compiler.Option
	executorOpts []executor.Option
}

// Option configures a Pipeline.
type Option func(*options)

// WithLogger sets the logger shared by all components.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.log = l } }

// WithTracerProvider sets the span source. The global provider is used
// otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option { return func(o *options) { o.tp = tp } }

// WithConfig applies compiler and executor settings from cfg.
func WithConfig(cfg *config.Config) Option { return func(o *options) { o.cfg = cfg } }

// WithStdout redirects script output.
func WithStdout(w io.Writer) Option { return func(o *options) { o.stdout = w } }

// WithStdin redirects script input.
func WithStdin(r io.Reader) Option { return func(o *options) { o.stdin = r } }

// WithArgv sets sys.argv for executed scripts.
func WithArgv(argv []string) Option { return func(o *options) { o.argv = argv } }

// WithCompilerOptions passes options through to the compiler.
func WithCompilerOptions(opts ...compiler.Option) Option {
	return func(o *options) { o.compilerOpts = append(o.compilerOpts, opts...) }
}

// WithExecutorOptions passes options through to the executor.
func WithExecutorOptions(opts ...executor.Option) Option {
	return func(o *options) { o.executorOpts = append(o.executorOpts, opts...) }
}

// New creates a Pipeline.
func New(opts ...Option) *Pipeline {
	o := options{log: zap.NewNop()}
	for _, fn := range opts {
		fn(&o)
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}
	if o.tp == nil {
		o.tp = otel.GetTracerProvider()
	}

	store := artifact.New(artifact.WithLogger(o.log.Named("artifact")))

	copts := []compiler.Option{compiler.WithStore(store), compiler.WithLogger(o.log.Named("compiler"))}
	eopts := []executor.Option{executor.WithStore(store), executor.WithLogger(o.log.Named("executor"))}
	if o.cfg != nil {
		copts = append(copts, compiler.WithEmbedByDefault(o.cfg.Compiler.EmbedSource))
		eopts = append(eopts,
			executor.WithModulePaths(o.cfg.Executor.ModulePaths...),
			executor.WithMaxDepth(o.cfg.Executor.MaxCallDepth))
	}
	if o.stdout != nil {
		eopts = append(eopts, executor.WithStdout(o.stdout))
	}
	if o.stdin != nil {
		eopts = append(eopts, executor.WithStdin(o.stdin))
	}
	if o.argv != nil {
		eopts = append(eopts, executor.WithArgv(o.argv))
	}

	return &Pipeline{
		log:      o.log,
		tracer:   o.tp.Tracer(tracerName),
		store:    store,
		compiler: compiler.New(append(copts, o.compilerOpts...)...),
		executor: executor.New(append(eopts, o.executorOpts...)...),
	}
}

// --- Artifact store ---

// ReadText reads a UTF-8 text artifact.
func (p *Pipeline) ReadText(path string) ReadResult[string] {
	text, err := p.store.ReadText(path)
	if err != nil {
		return ReadResult[string]{Status: failed(err)}
	}
	return ReadResult[string]{Status: succeeded(), Content: text}
}

// WriteText writes a UTF-8 text artifact.
func (p *Pipeline) WriteText(path, text string) Status {
	return statusOf(p.store.WriteText(path, text))
}

// ReadStructured reads a JSON artifact.
func (p *Pipeline) ReadStructured(path string) ReadResult[any] {
	v, err := p.store.ReadStructured(path)
	if err != nil {
		return ReadResult[any]{Status: failed(err)}
	}
	return ReadResult[any]{Status: succeeded(), Content: v}
}

// WriteStructured writes a JSON object or array artifact.
func (p *Pipeline) WriteStructured(path string, value any) Status {
	return statusOf(p.store.WriteStructured(path, value))
}

// ReadBinary reads a binary artifact.
func (p *Pipeline) ReadBinary(path string) ReadResult[[]byte] {
	data, err := p.store.ReadBinary(path)
	if err != nil {
		return ReadResult[[]byte]{Status: failed(err)}
	}
	return ReadResult[[]byte]{Status: succeeded(), Content: data}
}

// WriteBinary writes a binary artifact.
func (p *Pipeline) WriteBinary(path string, data []byte) Status {
	return statusOf(p.store.WriteBinary(path, data))
}

// --- Compilation and execution ---

// CompileSource compiles text and stores the unit at outputPath.
func (p *Pipeline) CompileSource(ctx context.Context, text, outputPath string, opts ...compiler.CompileOption) CompileResult {
	_, span := p.tracer.Start(ctx, SpanCompile, trace.WithAttributes(attribute.String("neorun.artifact", outputPath)))
	defer span.End()

	start := time.Now()
	u, err := p.compiler.CompileSource(text, outputPath, opts...)
	p.finish(span, "compile", start, err, zap.String("artifact", outputPath))
	if err != nil {
		return CompileResult{Status: failed(err)}
	}
	sum := unit.Inspect(u)
	span.SetAttributes(attribute.String("neorun.unit", u.Name))
	return CompileResult{Status: succeeded(), Unit: &sum}
}

// CompileFile compiles the file at sourcePath and stores the unit at
// outputPath.
func (p *Pipeline) CompileFile(ctx context.Context, sourcePath, outputPath string, opts ...compiler.CompileOption) Status {
	_, span := p.tracer.Start(ctx, SpanCompile, trace.WithAttributes(
		attribute.String("neorun.source", sourcePath),
		attribute.String("neorun.artifact", outputPath)))
	defer span.End()

	start := time.Now()
	_, err := p.compiler.CompileFile(sourcePath, outputPath, opts...)
	p.finish(span, "compile", start, err, zap.String("path", sourcePath), zap.String("artifact", outputPath))
	return statusOf(err)
}

// Execute runs the compiled unit at artifactPath. A nil scope runs against
// a fresh empty one.
func (p *Pipeline) Execute(ctx context.Context, artifactPath string, scope Scope) RunResult {
	_, span := p.tracer.Start(ctx, SpanExecute, trace.WithAttributes(attribute.String("neorun.artifact", artifactPath)))
	defer span.End()

	start := time.Now()
	resp, err := p.executor.Execute(artifactPath, scope)
	p.finish(span, "execute", start, err, zap.String("artifact", artifactPath))
	return runResult(resp, err)
}

// CompileAndRun compiles sourcePath to artifactPath and, if that succeeded,
// executes it. The first failing result is returned unchanged.
func (p *Pipeline) CompileAndRun(ctx context.Context, sourcePath, artifactPath string, scope Scope, opts ...compiler.CompileOption) RunResult {
	ctx, span := p.tracer.Start(ctx, SpanCompileAndRun, trace.WithAttributes(
		attribute.String("neorun.source", sourcePath),
		attribute.String("neorun.artifact", artifactPath)))
	defer span.End()

	if st := p.CompileFile(ctx, sourcePath, artifactPath, opts...); st.Error {
		recordFailure(span, st.err)
		return RunResult{Status: st}
	}
	res := p.Execute(ctx, artifactPath, scope)
	if res.Error {
		recordFailure(span, res.err)
	}
	return res
}

// Eval compiles text in memory and runs it in scope without touching disk.
// name labels diagnostics.
func (p *Pipeline) Eval(ctx context.Context, name, text string, scope Scope) RunResult {
	_, span := p.tracer.Start(ctx, SpanExecute, trace.WithAttributes(attribute.String("neorun.unit", name)))
	defer span.End()

	start := time.Now()
	u, err := p.compiler.Compile(compiler.Source{Name: name, Text: text})
	if err != nil {
		p.finish(span, "compile", start, err, zap.String("unit", name))
		return RunResult{Status: failed(err)}
	}
	resp, err := p.executor.Run(u, scope)
	p.finish(span, "execute", start, err, zap.String("unit", name))
	return runResult(resp, err)
}

// Inspect decodes the artifact at path and summarizes it.
func (p *Pipeline) Inspect(path string) ReadResult[unit.Summary] {
	u, err := p.executor.Load(path)
	if err != nil {
		return ReadResult[unit.Summary]{Status: failed(err)}
	}
	return ReadResult[unit.Summary]{Status: succeeded(), Content: unit.Inspect(u)}
}

func (p *Pipeline) finish(span trace.Span, stage string, start time.Time, err error, fields ...zap.Field) {
	fields = append(fields, zap.Duration("duration", time.Since(start)))
	if err != nil {
		recordFailure(span, err)
		p.log.Debug(stage+" failed", append(fields, zap.String("kind", string(faults.KindOf(err))), zap.Error(err))...)
		return
	}
	span.SetStatus(codes.Ok, "")
	p.log.Debug(stage+" finished", fields...)
}

func recordFailure(span trace.Span, err error) {
	span.RecordError(err)
	span.SetAttributes(attribute.String("neorun.error_kind", string(faults.KindOf(err))))
	span.SetStatus(codes.Error, err.Error())
}

func statusOf(err error) Status {
	if err != nil {
		return failed(err)
	}
	return succeeded()
}

func runResult(resp any, err error) RunResult {
	if err != nil {
		return RunResult{Status: failed(err)}
	}
	return RunResult{Status: succeeded(), Response: resp}
}

// Package compiler turns script source into a compiled unit and persists it
// through the artifact store.
//
//	CompileFile:   read source ─► Compile ─► Encode ─► write artifact
//	CompileSource:                Compile ─► Encode ─► write artifact
//
// Each stage failure is a *faults.Error whose Op names the stage ("read
// source", "compile", "write artifact"). Nothing is written unless
// compilation succeeds.
package compiler

import (
	"time"

	"go.uber.org/zap"

	"github.com/iorp/neorun/internal/artifact"
	"github.com/iorp/neorun/internal/faults"
	"github.com/iorp/neorun/internal/script"
	"github.com/iorp/neorun/internal/unit"
)

// Stage names used as faults.Error.Op.
const (
	OpReadSource    = "read source"
	OpCompile       = "compile"
	OpEncode        = "encode"
	OpWriteArtifact = "write artifact"
)

// Source is script text plus the unit name diagnostics are attributed to.
type Source struct {
	Name string
	Text string
}

// Compiler compiles sources into artifacts.
type Compiler struct {
	store *artifact.Store
	log   *zap.Logger
	embed bool
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithStore sets the artifact store used for reads and writes.
func WithStore(s *artifact.Store) Option {
	return func(c *Compiler) {
		if s != nil {
			c.store = s
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Compiler) {
		if l != nil {
			c.log = l
		}
	}
}

// WithEmbedByDefault makes every compilation store its source text unless
// the call says otherwise.
func WithEmbedByDefault(embed bool) Option {
	return func(c *Compiler) { c.embed = embed }
}

// New creates a Compiler.
func New(opts ...Option) *Compiler {
	c := &Compiler{log: zap.NewNop()}
	for _, o := range opts {
		o(c)
	}
	if c.store == nil {
		c.store = artifact.New(artifact.WithLogger(c.log))
	}
	return c
}

type callOptions struct {
	name  string
	embed *bool
}

// CompileOption adjusts a single compilation.
type CompileOption func(*callOptions)

// WithUnitName overrides the unit name. By default CompileSource uses the
// output path and CompileFile uses the source path.
func WithUnitName(name string) CompileOption {
	return func(o *callOptions) { o.name = name }
}

// WithEmbedSource stores (or omits) the source text in the artifact so that
// runtime errors can show a source snippet.
func WithEmbedSource(embed bool) CompileOption {
	return func(o *callOptions) { o.embed = &embed }
}

// Compile lexes, parses and checks src. Diagnostics carry the unit name and
// a caret snippet.
func (c *Compiler) Compile(src Source) (*unit.Unit, error) {
	return c.compile(src, c.embed)
}

func (c *Compiler) compile(src Source, embed bool) (*unit.Unit, error) {
	start := time.Now()
	prog, err := script.Compile(src.Name, src.Text)
	if err != nil {
		c.log.Debug("compile failed", zap.String("unit", src.Name), zap.Error(err))
		return nil, &faults.Error{Kind: faults.KindCompile, Op: OpCompile, Msg: err.Error(), Cause: err}
	}
	u := unit.New(prog, embed)
	c.log.Debug("unit compiled",
		zap.String("unit", src.Name),
		zap.Int("statements", len(prog.Root)-1),
		zap.Duration("duration", time.Since(start)))
	return u, nil
}

// CompileSource compiles text and writes the unit to outputPath.
func (c *Compiler) CompileSource(text, outputPath string, opts ...CompileOption) (*unit.Unit, error) {
	o := c.options(outputPath, opts)
	u, err := c.compile(Source{Name: o.name, Text: text}, *o.embed)
	if err != nil {
		return nil, err
	}
	if err := c.Write(u, outputPath); err != nil {
		return nil, err
	}
	return u, nil
}

// CompileFile reads sourcePath and compiles it to outputPath. The first
// failing stage's error is returned as is.
func (c *Compiler) CompileFile(sourcePath, outputPath string, opts ...CompileOption) (*unit.Unit, error) {
	text, err := c.store.ReadText(sourcePath)
	if err != nil {
		return nil, withOp(err, OpReadSource)
	}
	return c.CompileSource(text, outputPath, append([]CompileOption{WithUnitName(sourcePath)}, opts...)...)
}

// Write encodes u and stores it at path.
func (c *Compiler) Write(u *unit.Unit, path string) error {
	data, err := unit.Encode(u)
	if err != nil {
		return faults.Wrap(faults.KindType, err).WithOp(OpEncode).WithPath(path)
	}
	if err := c.store.WriteBinary(path, data); err != nil {
		return withOp(err, OpWriteArtifact)
	}
	c.log.Debug("artifact stored", zap.String("unit", u.Name), zap.String("artifact", path), zap.Int("bytes", len(data)))
	return nil
}

func (c *Compiler) options(outputPath string, opts []CompileOption) callOptions {
	o := callOptions{name: outputPath}
	for _, fn := range opts {
		fn(&o)
	}
	if o.embed == nil {
		o.embed = &c.embed
	}
	return o
}

// withOp relabels a store error with the pipeline stage.
func withOp(err error, op string) error {
	if fe, ok := err.(*faults.Error); ok {
		return fe.WithOp(op)
	}
	return faults.Wrap(faults.KindIO, err).WithOp(op)
}

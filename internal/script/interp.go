// interp.go: tree-walking evaluator for checked programs.
//
// A program runs against two frames supplied by the host:
//
//	core    builtins (owned by the Interpreter)
//	  └─ globals   module-level definitions: top-level 'def' and 'import'
//	       └─ locals    top-level assignments; seeded and read back by hosts
//
// Function calls get a fresh frame whose parent is the closure's defining
// frame; inside a function every binding lands in that frame. Blocks do not
// open frames.
//
// Failures are returned as *RuntimeError positioned at the statement being
// executed. exit() returns an *ExitSignal, which unwinds through every frame
// unchanged. Panics escaping a builtin are recovered in Exec and reported as
// runtime errors.
package script

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DefaultMaxDepth bounds nested function calls when Options.MaxDepth is 0.
const DefaultMaxDepth = 1000

// Program is a checked syntax tree plus the identity of its unit.
type Program struct {
	Name   string // unit name used in diagnostics
	Root   S
	Source string // optional, enables caret snippets in runtime errors
	Dir    string // base directory for relative file imports
}

// Compile parses and checks src. Diagnostics are rendered against src and
// attributed to name.
func Compile(name, src string) (*Program, error) {
	root, err := Parse(src)
	if err == nil {
		err = Check(root)
	}
	if err != nil {
		return nil, WrapErrorWithName(err, name, src)
	}
	return &Program{Name: name, Root: root, Source: src}, nil
}

// Options configure an Interpreter. Zero values select os.Stdout, os.Stdin,
// DefaultMaxDepth and a filesystem loader. Stdin is buffered per Interpreter
// unless it is a LineReader; input() then reads from it directly and unread
// input stays there for the next Interpreter.
type Options struct {
	Stdout      io.Writer
	Stdin       io.Reader
	Argv        []string
	ModulePaths []string
	MaxDepth    int

	// Loader compiles the file module at an absolute path.
	Loader func(path string) (*Program, error)
}

// LineReader is the input() source. *bufio.Reader implements it.
type LineReader interface {
	ReadString(delim byte) (string, error)
}

// Interpreter evaluates programs. It is not safe for concurrent use; the
// module cache lives as long as the Interpreter.
type Interpreter struct {
	opts Options
	core *Env
	in   LineReader

	prog      *Program
	line, col int
	depth     int

	modules   map[string]*moduleRec
	loadStack []string
}

// New creates an interpreter with the builtin core installed.
func New(opts Options) *Interpreter {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.Loader == nil {
		opts.Loader = loadFile
	}
	ip := &Interpreter{opts: opts, modules: map[string]*moduleRec{}}
	if lr, ok := opts.Stdin.(LineReader); ok {
		ip.in = lr
	}
	ip.core = NewEnv(nil)
	installBuiltins(ip.core)
	return ip
}

// Core returns the builtin frame. Hosts parent their global frames to it.
func (ip *Interpreter) Core() *Env { return ip.core }

// Exec runs prog. Top-level assignments bind in locals; top-level 'def' and
// 'import' bind in globals. The returned error is nil, an *ExitSignal, or a
// *RuntimeError.
func (ip *Interpreter) Exec(prog *Program, globals, locals *Env) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ip.fail("internal error: %v", r)
		}
	}()
	ip.depth = 0
	_, _, err = ip.runProgram(prog, scope{env: locals, decl: globals})
	return err
}

// scope is the pair of frames a statement executes against: env receives
// assignments, decl receives 'def' and 'import'.
type scope struct {
	env  *Env
	decl *Env
}

type ctl int

const (
	ctlNone ctl = iota
	ctlBreak
	ctlContinue
	ctlReturn
)

func (ip *Interpreter) runProgram(prog *Program, sc scope) (ctl, Value, error) {
	savedProg, savedLine, savedCol := ip.prog, ip.line, ip.col
	ip.prog = prog
	defer func() { ip.prog, ip.line, ip.col = savedProg, savedLine, savedCol }()
	return ip.execBlock(prog.Root, sc)
}

// fail builds a runtime error at the current position.
func (ip *Interpreter) fail(format string, args ...any) *RuntimeError {
	e := &RuntimeError{Line: ip.line, Col: ip.col, Msg: fmt.Sprintf(format, args...)}
	if ip.prog != nil {
		e.Unit = ip.prog.Name
		e.src = ip.prog.Source
	}
	return e
}

// wrap positions errors coming out of Go code. Runtime errors and exit
// signals pass through unchanged.
func (ip *Interpreter) wrap(err error) error {
	switch err.(type) {
	case nil:
		return nil
	case *RuntimeError, *ExitSignal:
		return err
	}
	return ip.fail("%s", err.Error())
}

// ───────────────────────────── statements ─────────────────────────────

func (ip *Interpreter) execBlock(block S, sc scope) (ctl, Value, error) {
	for _, st := range block[1:] {
		c, v, err := ip.execStmt(st.(S), sc)
		if err != nil || c != ctlNone {
			return c, v, err
		}
	}
	return ctlNone, Null, nil
}

func (ip *Interpreter) execStmt(n S, sc scope) (ctl, Value, error) {
	switch n[0].(string) {
	case "pos":
		ip.line, ip.col = int(n[1].(int64)), int(n[2].(int64))
		return ip.execStmt(n[3].(S), sc)

	case "assign":
		v, err := ip.eval(n[2].(S), sc)
		if err != nil {
			return ctlNone, Null, err
		}
		return ctlNone, Null, ip.assign(n[1].(S), v, sc)

	case "def":
		fn, err := ip.eval(n[2].(S), sc)
		if err != nil {
			return ctlNone, Null, err
		}
		sc.decl.Define(n[1].(string), fn)
		return ctlNone, Null, nil

	case "import":
		mod, err := ip.importModule(n[1].(string))
		if err != nil {
			return ctlNone, Null, err
		}
		sc.decl.Define(n[2].(string), mod)
		return ctlNone, Null, nil

	case "if":
		for _, part := range n[1:] {
			p := part.(S)
			if p[0] == "else" {
				return ip.execBlock(p[1].(S), sc)
			}
			cond, err := ip.eval(p[1].(S), sc)
			if err != nil {
				return ctlNone, Null, err
			}
			if truthy(cond) {
				return ip.execBlock(p[2].(S), sc)
			}
		}
		return ctlNone, Null, nil

	case "while":
		for {
			cond, err := ip.eval(n[1].(S), sc)
			if err != nil {
				return ctlNone, Null, err
			}
			if !truthy(cond) {
				return ctlNone, Null, nil
			}
			c, v, err := ip.execBlock(n[2].(S), sc)
			if err != nil || c == ctlReturn {
				return c, v, err
			}
			if c == ctlBreak {
				return ctlNone, Null, nil
			}
		}

	case "for":
		iter, err := ip.eval(n[2].(S), sc)
		if err != nil {
			return ctlNone, Null, err
		}
		items, err := ip.iterate(iter)
		if err != nil {
			return ctlNone, Null, err
		}
		name := n[1].(string)
		for _, it := range items {
			sc.env.Define(name, it)
			c, v, err := ip.execBlock(n[3].(S), sc)
			if err != nil || c == ctlReturn {
				return c, v, err
			}
			if c == ctlBreak {
				break
			}
		}
		return ctlNone, Null, nil

	case "return":
		v, err := ip.eval(n[1].(S), sc)
		if err != nil {
			return ctlNone, Null, err
		}
		return ctlReturn, v, nil

	case "break":
		return ctlBreak, Null, nil

	case "continue":
		return ctlContinue, Null, nil
	}

	_, err := ip.eval(n, sc)
	return ctlNone, Null, err
}

func (ip *Interpreter) assign(target S, v Value, sc scope) error {
	switch target[0].(string) {
	case "id":
		sc.env.Define(target[1].(string), v)
		return nil
	case "get":
		obj, err := ip.eval(target[1].(S), sc)
		if err != nil {
			return err
		}
		return ip.setIndex(obj, Str(target[2].(string)), v)
	case "idx":
		obj, err := ip.eval(target[1].(S), sc)
		if err != nil {
			return err
		}
		key, err := ip.eval(target[2].(S), sc)
		if err != nil {
			return err
		}
		return ip.setIndex(obj, key, v)
	}
	return ip.fail("invalid assignment target")
}

// iterate snapshots the elements a 'for' loop visits.
func (ip *Interpreter) iterate(v Value) ([]Value, error) {
	switch v.Tag {
	case VTList:
		elems := v.Data.(*ListObject).Elems
		out := make([]Value, len(elems))
		copy(out, elems)
		return out, nil
	case VTMap:
		keys := v.Data.(*MapObject).Keys
		out := make([]Value, len(keys))
		for i, k := range keys {
			out[i] = Str(k)
		}
		return out, nil
	case VTStr:
		var out []Value
		for _, r := range v.Data.(string) {
			out = append(out, Str(string(r)))
		}
		return out, nil
	}
	return nil, ip.fail("cannot iterate over %s", typeName(v))
}

// ───────────────────────────── expressions ─────────────────────────────

func (ip *Interpreter) eval(n S, sc scope) (Value, error) {
	switch n[0].(string) {
	case "int":
		return Int(n[1].(int64)), nil
	case "num":
		return Num(n[1].(float64)), nil
	case "str":
		return Str(n[1].(string)), nil
	case "bool":
		return Bool(n[1].(bool)), nil
	case "null":
		return Null, nil

	case "id":
		name := n[1].(string)
		if v, ok := sc.env.Lookup(name); ok {
			return v, nil
		}
		if sc.decl != sc.env {
			if v, ok := sc.decl.Lookup(name); ok {
				return v, nil
			}
		}
		return Null, ip.fail("undefined variable: %s", name)

	case "list":
		elems := make([]Value, 0, len(n)-1)
		for _, e := range n[1:] {
			v, err := ip.eval(e.(S), sc)
			if err != nil {
				return Null, err
			}
			elems = append(elems, v)
		}
		return List(elems), nil

	case "map":
		mo := NewMap()
		for _, p := range n[1:] {
			pair := p.(S)
			v, err := ip.eval(pair[2].(S), sc)
			if err != nil {
				return Null, err
			}
			mo.Set(pair[1].(S)[1].(string), v)
		}
		return MapVal(mo), nil

	case "fun":
		params := n[2].(S)[1:]
		names := make([]string, len(params))
		for i, p := range params {
			names[i] = p.(string)
		}
		return Value{Tag: VTFun, Data: &Fun{
			Name:   n[1].(string),
			Params: names,
			Body:   n[3].(S),
			Env:    sc.env,
			Prog:   ip.prog,
		}}, nil

	case "unop":
		x, err := ip.eval(n[2].(S), sc)
		if err != nil {
			return Null, err
		}
		if n[1].(string) == "not" {
			return Bool(!truthy(x)), nil
		}
		return ip.wrapValue(negate(x))

	case "binop":
		a, err := ip.eval(n[2].(S), sc)
		if err != nil {
			return Null, err
		}
		b, err := ip.eval(n[3].(S), sc)
		if err != nil {
			return Null, err
		}
		return ip.wrapValue(binop(n[1].(string), a, b))

	case "and", "or":
		a, err := ip.eval(n[1].(S), sc)
		if err != nil {
			return Null, err
		}
		if truthy(a) == (n[0] == "or") {
			return a, nil
		}
		return ip.eval(n[2].(S), sc)

	case "get":
		obj, err := ip.eval(n[1].(S), sc)
		if err != nil {
			return Null, err
		}
		return ip.wrapValue(getProperty(obj, n[2].(string)))

	case "idx":
		obj, err := ip.eval(n[1].(S), sc)
		if err != nil {
			return Null, err
		}
		key, err := ip.eval(n[2].(S), sc)
		if err != nil {
			return Null, err
		}
		return ip.wrapValue(getIndex(obj, key))

	case "call":
		callee, err := ip.eval(n[1].(S), sc)
		if err != nil {
			return Null, err
		}
		args := make([]Value, 0, len(n)-2)
		for _, a := range n[2:] {
			v, err := ip.eval(a.(S), sc)
			if err != nil {
				return Null, err
			}
			args = append(args, v)
		}
		return ip.call(callee, args)
	}
	return Null, ip.fail("cannot evaluate %q node", n[0])
}

func (ip *Interpreter) wrapValue(v Value, err error) (Value, error) {
	if err != nil {
		return Null, ip.wrap(err)
	}
	return v, nil
}

func (ip *Interpreter) setIndex(obj, key, v Value) error {
	return ip.wrap(setIndex(obj, key, v))
}

// call applies a function or builtin to evaluated arguments.
func (ip *Interpreter) call(callee Value, args []Value) (Value, error) {
	switch callee.Tag {
	case VTBuiltin:
		b := callee.Data.(*Builtin)
		if len(args) < b.MinArgs || (b.MaxArgs >= 0 && len(args) > b.MaxArgs) {
			return Null, ip.fail("%s() %s", b.Name, arityText(b.MinArgs, b.MaxArgs, len(args)))
		}
		v, err := b.Impl(ip, args)
		return ip.wrapValue(v, err)

	case VTFun:
		f := callee.Data.(*Fun)
		if len(args) != len(f.Params) {
			name := f.Name
			if name == "" {
				name = "function"
			}
			return Null, ip.fail("%s() %s", name, arityText(len(f.Params), len(f.Params), len(args)))
		}
		if ip.depth >= ip.opts.MaxDepth {
			return Null, ip.fail("maximum call depth exceeded (%d)", ip.opts.MaxDepth)
		}
		frame := NewEnv(f.Env)
		for i, p := range f.Params {
			frame.Define(p, args[i])
		}

		ip.depth++
		savedProg, savedLine, savedCol := ip.prog, ip.line, ip.col
		if f.Prog != nil {
			ip.prog = f.Prog
		}
		c, v, err := ip.execBlock(f.Body, scope{env: frame, decl: frame})
		ip.prog, ip.line, ip.col = savedProg, savedLine, savedCol
		ip.depth--

		if err != nil {
			return Null, err
		}
		if c == ctlReturn {
			return v, nil
		}
		return Null, nil
	}
	return Null, ip.fail("cannot call a value of type %s", typeName(callee))
}

// Call applies fn to args from Go code.
func (ip *Interpreter) Call(fn Value, args ...Value) (Value, error) {
	return ip.call(fn, args)
}

func arityText(lo, hi, got int) string {
	switch {
	case lo == hi:
		return fmt.Sprintf("takes %d argument%s (got %d)", lo, plural(lo), got)
	case hi < 0:
		return fmt.Sprintf("takes at least %d argument%s (got %d)", lo, plural(lo), got)
	}
	return fmt.Sprintf("takes %d to %d arguments (got %d)", lo, hi, got)
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

// loadFile is the default module loader.
func loadFile(path string) (*Program, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	prog, err := Compile(path, string(src))
	if err != nil {
		return nil, err
	}
	prog.Dir = filepath.Dir(path)
	return prog, nil
}

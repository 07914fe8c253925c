// modules.go: 'import' resolution.
//
// 'import x.y' is resolved in this order:
//
//  1. Host modules implemented in Go: sys, json, strings, math, time.
//  2. File modules: "x/y.neo" relative to the directory of the importing
//     unit, then each configured module path.
//
// A file module is compiled in memory and executed in a fresh frame parented
// to the core. Its bindings whose names do not start with '_' become the
// module's members. Loaded modules are cached by absolute path for the
// lifetime of the Interpreter; failures are never cached. An import that
// re-enters a module still loading is reported as a cycle:
//
//	import cycle detected: /p/a.neo -> /p/b.neo -> /p/a.neo
package script

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/iorp/neorun/internal/jsonx"
)

// Ext is the file extension of script sources.
const Ext = ".neo"

type modState int

const (
	modLoading modState = iota
	modLoaded
)

type moduleRec struct {
	state modState
	mod   *Module
}

var hostModules = map[string]func(ip *Interpreter) *Module{
	"sys":     sysModule,
	"json":    jsonModule,
	"strings": stringsModule,
	"math":    mathModule,
	"time":    timeModule,
}

func (ip *Interpreter) importModule(dotted string) (Value, error) {
	if build, ok := hostModules[dotted]; ok {
		key := "host:" + dotted
		rec, ok := ip.modules[key]
		if !ok {
			rec = &moduleRec{state: modLoaded, mod: build(ip)}
			ip.modules[key] = rec
		}
		return Value{Tag: VTModule, Data: rec.mod}, nil
	}

	path, err := ip.resolveModule(dotted)
	if err != nil {
		return Null, err
	}

	if rec, ok := ip.modules[path]; ok {
		if rec.state == modLoading {
			return Null, ip.fail("import cycle detected: %s", joinCyclePath(ip.loadStack, path))
		}
		return Value{Tag: VTModule, Data: rec.mod}, nil
	}

	ip.modules[path] = &moduleRec{state: modLoading}
	ip.loadStack = append(ip.loadStack, path)
	defer func() { ip.loadStack = ip.loadStack[:len(ip.loadStack)-1] }()

	mod, err := ip.loadModule(dotted, path)
	if err != nil {
		delete(ip.modules, path)
		return Null, err
	}
	ip.modules[path] = &moduleRec{state: modLoaded, mod: mod}
	return Value{Tag: VTModule, Data: mod}, nil
}

func (ip *Interpreter) loadModule(dotted, path string) (*Module, error) {
	prog, err := ip.opts.Loader(path)
	if err != nil {
		return nil, ip.fail("import %s: %v", dotted, err)
	}
	env := NewEnv(ip.core)
	if _, _, err := ip.runProgram(prog, scope{env: env, decl: env}); err != nil {
		return nil, err
	}
	members := NewMap()
	for _, name := range env.Names() {
		if strings.HasPrefix(name, "_") {
			continue
		}
		v, _ := env.Get(name)
		members.Set(name, v)
	}
	return &Module{Name: dotted, Members: members}, nil
}

func (ip *Interpreter) resolveModule(dotted string) (string, error) {
	rel := filepath.FromSlash(strings.ReplaceAll(dotted, ".", "/")) + Ext

	var roots []string
	if ip.prog != nil && ip.prog.Dir != "" {
		roots = append(roots, ip.prog.Dir)
	}
	roots = append(roots, ip.opts.ModulePaths...)

	for _, root := range roots {
		cand := filepath.Join(root, rel)
		info, err := os.Stat(cand)
		if err == nil && !info.IsDir() {
			abs, err := filepath.Abs(cand)
			if err != nil {
				return "", ip.fail("import %s: %v", dotted, err)
			}
			return abs, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", ip.fail("import %s: %v", dotted, err)
		}
	}
	if len(roots) == 0 {
		return "", ip.fail("module not found: %s (no module paths configured)", dotted)
	}
	return "", ip.fail("module not found: %s (searched %s)", dotted, strings.Join(roots, ", "))
}

func joinCyclePath(stack []string, last string) string {
	start := 0
	for i, s := range stack {
		if s == last {
			start = i
			break
		}
	}
	parts := append(append([]string{}, stack[start:]...), last)
	return strings.Join(parts, " -> ")
}

// ───────────────────────────── host modules ─────────────────────────────

func builtinVal(name string, lo, hi int, impl func(*Interpreter, []Value) (Value, error)) Value {
	return Value{Tag: VTBuiltin, Data: &Builtin{Name: name, MinArgs: lo, MaxArgs: hi, Impl: impl}}
}

func sysModule(ip *Interpreter) *Module {
	m := NewMap()
	m.Set("exit", Value{Tag: VTBuiltin, Data: exitBuiltin("sys.exit")})
	argv := make([]Value, len(ip.opts.Argv))
	for i, a := range ip.opts.Argv {
		argv[i] = Str(a)
	}
	m.Set("argv", List(argv))
	m.Set("platform", Str(runtime.GOOS))
	return &Module{Name: "sys", Members: m}
}

func jsonModule(_ *Interpreter) *Module {
	m := NewMap()
	m.Set("encode", builtinVal("json.encode", 1, 2, func(_ *Interpreter, args []Value) (Value, error) {
		x, err := ToGo(args[0])
		if err != nil {
			return Null, fmt.Errorf("json.encode: %w", err)
		}
		if _, opaque := x.(Value); opaque {
			return Null, fmt.Errorf("json.encode: cannot encode %s", typeName(args[0]))
		}
		var b []byte
		if len(args) == 2 && args[1].Tag == VTStr {
			b, err = jsonx.MarshalIndent(x, args[1].Data.(string))
		} else {
			b, err = jsonx.Marshal(x)
		}
		if err != nil {
			return Null, fmt.Errorf("json.encode: %w", err)
		}
		return Str(string(b)), nil
	}))
	m.Set("decode", builtinVal("json.decode", 1, 1, func(_ *Interpreter, args []Value) (Value, error) {
		if args[0].Tag != VTStr {
			return Null, fmt.Errorf("json.decode expects str, got %s", typeName(args[0]))
		}
		x, err := jsonx.Decode([]byte(args[0].Data.(string)))
		if err != nil {
			return Null, fmt.Errorf("json.decode: %w", err)
		}
		return FromGo(x)
	}))
	return &Module{Name: "json", Members: m}
}

func strArgs(name string, args []Value) ([]string, error) {
	out := make([]string, len(args))
	for i, a := range args {
		if a.Tag != VTStr {
			return nil, fmt.Errorf("%s() argument %d must be str, got %s", name, i+1, typeName(a))
		}
		out[i] = a.Data.(string)
	}
	return out, nil
}

func strFunc(name string, n int, f func(s []string) Value) Value {
	full := "strings." + name
	return builtinVal(full, n, n, func(_ *Interpreter, args []Value) (Value, error) {
		ss, err := strArgs(full, args)
		if err != nil {
			return Null, err
		}
		return f(ss), nil
	})
}

func stringsModule(_ *Interpreter) *Module {
	m := NewMap()
	m.Set("upper", strFunc("upper", 1, func(s []string) Value { return Str(strings.ToUpper(s[0])) }))
	m.Set("lower", strFunc("lower", 1, func(s []string) Value { return Str(strings.ToLower(s[0])) }))
	m.Set("trim", strFunc("trim", 1, func(s []string) Value { return Str(strings.TrimSpace(s[0])) }))
	m.Set("contains", strFunc("contains", 2, func(s []string) Value { return Bool(strings.Contains(s[0], s[1])) }))
	m.Set("startswith", strFunc("startswith", 2, func(s []string) Value { return Bool(strings.HasPrefix(s[0], s[1])) }))
	m.Set("endswith", strFunc("endswith", 2, func(s []string) Value { return Bool(strings.HasSuffix(s[0], s[1])) }))
	m.Set("replace", strFunc("replace", 3, func(s []string) Value { return Str(strings.ReplaceAll(s[0], s[1], s[2])) }))
	m.Set("split", strFunc("split", 2, func(s []string) Value {
		parts := strings.Split(s[0], s[1])
		out := make([]Value, len(parts))
		for i, p := range parts {
			out[i] = Str(p)
		}
		return List(out)
	}))
	m.Set("join", builtinVal("strings.join", 2, 2, func(_ *Interpreter, args []Value) (Value, error) {
		if args[0].Tag != VTList || args[1].Tag != VTStr {
			return Null, fmt.Errorf("strings.join expects (list, str), got (%s, %s)", typeName(args[0]), typeName(args[1]))
		}
		elems := args[0].Data.(*ListObject).Elems
		parts, err := strArgs("strings.join", elems)
		if err != nil {
			return Null, err
		}
		return Str(strings.Join(parts, args[1].Data.(string))), nil
	}))
	return &Module{Name: "strings", Members: m}
}

func numArg(name string, v Value) (float64, error) {
	if !isNumber(v) {
		return 0, fmt.Errorf("%s() expects a number, got %s", name, typeName(v))
	}
	return toFloat(v), nil
}

func mathModule(_ *Interpreter) *Module {
	m := NewMap()
	m.Set("pi", Num(math.Pi))
	m.Set("abs", builtinVal("math.abs", 1, 1, func(_ *Interpreter, args []Value) (Value, error) {
		switch x := args[0]; x.Tag {
		case VTInt:
			if x.Data.(int64) < 0 {
				return negate(x)
			}
			return x, nil
		case VTNum:
			return Num(math.Abs(x.Data.(float64))), nil
		}
		return Null, fmt.Errorf("math.abs() expects a number, got %s", typeName(args[0]))
	}))
	rounding := func(name string, f func(float64) float64) Value {
		return builtinVal(name, 1, 1, func(_ *Interpreter, args []Value) (Value, error) {
			if args[0].Tag == VTInt {
				return args[0], nil
			}
			x, err := numArg(name, args[0])
			if err != nil {
				return Null, err
			}
			r := f(x)
			if math.IsNaN(r) || math.IsInf(r, 0) || r >= math.MaxInt64 || r < math.MinInt64 {
				return Num(r), nil
			}
			return Int(int64(r)), nil
		})
	}
	m.Set("floor", rounding("math.floor", math.Floor))
	m.Set("ceil", rounding("math.ceil", math.Ceil))
	m.Set("sqrt", builtinVal("math.sqrt", 1, 1, func(_ *Interpreter, args []Value) (Value, error) {
		x, err := numArg("math.sqrt", args[0])
		if err != nil {
			return Null, err
		}
		if x < 0 {
			return Null, errors.New("math.sqrt() of a negative number")
		}
		return Num(math.Sqrt(x)), nil
	}))
	m.Set("pow", builtinVal("math.pow", 2, 2, func(_ *Interpreter, args []Value) (Value, error) {
		x, err := numArg("math.pow", args[0])
		if err != nil {
			return Null, err
		}
		y, err := numArg("math.pow", args[1])
		if err != nil {
			return Null, err
		}
		return Num(math.Pow(x, y)), nil
	}))
	extremum := func(name string, better func(c int) bool) Value {
		return builtinVal(name, 1, -1, func(_ *Interpreter, args []Value) (Value, error) {
			items := args
			if len(args) == 1 && args[0].Tag == VTList {
				items = args[0].Data.(*ListObject).Elems
			}
			if len(items) == 0 {
				return Null, fmt.Errorf("%s() of an empty list", name)
			}
			best := items[0]
			for _, it := range items[1:] {
				c, err := compare(it, best)
				if err != nil {
					return Null, fmt.Errorf("%s() cannot compare %s and %s", name, typeName(it), typeName(best))
				}
				if better(c) {
					best = it
				}
			}
			return best, nil
		})
	}
	m.Set("min", extremum("math.min", func(c int) bool { return c < 0 }))
	m.Set("max", extremum("math.max", func(c int) bool { return c > 0 }))
	return &Module{Name: "math", Members: m}
}

func timeModule(_ *Interpreter) *Module {
	m := NewMap()
	m.Set("now", builtinVal("time.now", 0, 0, func(_ *Interpreter, _ []Value) (Value, error) {
		return Num(float64(time.Now().UnixNano()) / 1e9), nil
	}))
	return &Module{Name: "time", Members: m}
}

// builtins.go: the core frame every program sees.
//
//	print(x...)            write displayed values separated by spaces
//	input(prompt?)         read one line from stdin (null at end of input)
//	len(x)                 str, list, map or module
//	str(x) int(x) float(x) bool(x)
//	type(x)                "null" "bool" "int" "float" "str" "list" "map" "function" "module"
//	keys(m) values(m)
//	append(list, x...)     in place; returns the list
//	range(stop) range(start, stop, step?)
//	fail(message)          raise a runtime error
//	exit(code?, message?)  stop the program successfully
package script

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// maxRange caps the length of lists built by range().
const maxRange = 10_000_000

func installBuiltins(core *Env) {
	for _, b := range []*Builtin{
		{Name: "print", MinArgs: 0, MaxArgs: -1, Impl: biPrint},
		{Name: "input", MinArgs: 0, MaxArgs: 1, Impl: biInput},
		{Name: "len", MinArgs: 1, MaxArgs: 1, Impl: biLen},
		{Name: "str", MinArgs: 1, MaxArgs: 1, Impl: biStr},
		{Name: "int", MinArgs: 1, MaxArgs: 1, Impl: biInt},
		{Name: "float", MinArgs: 1, MaxArgs: 1, Impl: biFloat},
		{Name: "bool", MinArgs: 1, MaxArgs: 1, Impl: biBool},
		{Name: "type", MinArgs: 1, MaxArgs: 1, Impl: biType},
		{Name: "keys", MinArgs: 1, MaxArgs: 1, Impl: biKeys},
		{Name: "values", MinArgs: 1, MaxArgs: 1, Impl: biValues},
		{Name: "append", MinArgs: 1, MaxArgs: -1, Impl: biAppend},
		{Name: "range", MinArgs: 1, MaxArgs: 3, Impl: biRange},
		{Name: "fail", MinArgs: 1, MaxArgs: 1, Impl: biFail},
		exitBuiltin("exit"),
	} {
		core.Define(b.Name, Value{Tag: VTBuiltin, Data: b})
	}
}

func exitBuiltin(name string) *Builtin {
	return &Builtin{Name: name, MinArgs: 0, MaxArgs: 2, Impl: biExit}
}

func biPrint(ip *Interpreter, args []Value) (Value, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = Display(a)
	}
	_, err := fmt.Fprintln(ip.opts.Stdout, strings.Join(parts, " "))
	return Null, err
}

func biInput(ip *Interpreter, args []Value) (Value, error) {
	if len(args) == 1 {
		if _, err := io.WriteString(ip.opts.Stdout, Display(args[0])); err != nil {
			return Null, err
		}
	}
	if ip.in == nil {
		ip.in = bufio.NewReader(ip.opts.Stdin)
	}
	line, err := ip.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return Null, err
	}
	if line == "" && err != nil {
		return Null, nil
	}
	return Str(strings.TrimRight(line, "\r\n")), nil
}

func biLen(_ *Interpreter, args []Value) (Value, error) {
	switch x := args[0]; x.Tag {
	case VTStr:
		return Int(int64(utf8.RuneCountInString(x.Data.(string)))), nil
	case VTList:
		return Int(int64(len(x.Data.(*ListObject).Elems))), nil
	case VTMap, VTModule:
		return Int(int64(members(x).Len())), nil
	default:
		return Null, fmt.Errorf("len() not supported for %s", typeName(x))
	}
}

func biStr(_ *Interpreter, args []Value) (Value, error) {
	return Str(Display(args[0])), nil
}

func biInt(_ *Interpreter, args []Value) (Value, error) {
	switch x := args[0]; x.Tag {
	case VTInt:
		return x, nil
	case VTNum:
		f := x.Data.(float64)
		if math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 || f < math.MinInt64 {
			return Null, fmt.Errorf("int() cannot convert %s", formatFloat(f))
		}
		return Int(int64(f)), nil
	case VTBool:
		if x.Data.(bool) {
			return Int(1), nil
		}
		return Int(0), nil
	case VTStr:
		n, err := strconv.ParseInt(strings.TrimSpace(x.Data.(string)), 10, 64)
		if err != nil {
			return Null, fmt.Errorf("int() invalid literal %q", x.Data.(string))
		}
		return Int(n), nil
	default:
		return Null, fmt.Errorf("int() not supported for %s", typeName(x))
	}
}

func biFloat(_ *Interpreter, args []Value) (Value, error) {
	switch x := args[0]; x.Tag {
	case VTInt, VTNum:
		return Num(toFloat(x)), nil
	case VTBool:
		if x.Data.(bool) {
			return Num(1), nil
		}
		return Num(0), nil
	case VTStr:
		f, err := strconv.ParseFloat(strings.TrimSpace(x.Data.(string)), 64)
		if err != nil {
			return Null, fmt.Errorf("float() invalid literal %q", x.Data.(string))
		}
		return Num(f), nil
	default:
		return Null, fmt.Errorf("float() not supported for %s", typeName(x))
	}
}

func biBool(_ *Interpreter, args []Value) (Value, error) { return Bool(truthy(args[0])), nil }

func biType(_ *Interpreter, args []Value) (Value, error) { return Str(typeName(args[0])), nil }

func biKeys(_ *Interpreter, args []Value) (Value, error) {
	x := args[0]
	if x.Tag != VTMap && x.Tag != VTModule {
		return Null, fmt.Errorf("keys() expects a map, got %s", typeName(x))
	}
	m := members(x)
	out := make([]Value, len(m.Keys))
	for i, k := range m.Keys {
		out[i] = Str(k)
	}
	return List(out), nil
}

func biValues(_ *Interpreter, args []Value) (Value, error) {
	x := args[0]
	if x.Tag != VTMap && x.Tag != VTModule {
		return Null, fmt.Errorf("values() expects a map, got %s", typeName(x))
	}
	m := members(x)
	out := make([]Value, len(m.Keys))
	for i, k := range m.Keys {
		out[i] = m.Entries[k]
	}
	return List(out), nil
}

func biAppend(_ *Interpreter, args []Value) (Value, error) {
	if args[0].Tag != VTList {
		return Null, fmt.Errorf("append() expects a list, got %s", typeName(args[0]))
	}
	lo := args[0].Data.(*ListObject)
	lo.Elems = append(lo.Elems, args[1:]...)
	return args[0], nil
}

func biRange(_ *Interpreter, args []Value) (Value, error) {
	bounds := make([]int64, len(args))
	for i, a := range args {
		if a.Tag != VTInt {
			return Null, fmt.Errorf("range() arguments must be int, got %s", typeName(a))
		}
		bounds[i] = a.Data.(int64)
	}
	start, stop, step := int64(0), bounds[0], int64(1)
	if len(bounds) >= 2 {
		start, stop = bounds[0], bounds[1]
	}
	if len(bounds) == 3 {
		step = bounds[2]
	}
	if step == 0 {
		return Null, errors.New("range() step must not be zero")
	}
	var out []Value
	for i := start; (step > 0 && i < stop) || (step < 0 && i > stop); i += step {
		if len(out) >= maxRange {
			return Null, fmt.Errorf("range() longer than %d elements", maxRange)
		}
		out = append(out, Int(i))
	}
	return List(out), nil
}

func biFail(_ *Interpreter, args []Value) (Value, error) {
	return Null, errors.New(Display(args[0]))
}

func biExit(_ *Interpreter, args []Value) (Value, error) {
	sig := &ExitSignal{}
	if len(args) >= 1 {
		switch c := args[0]; c.Tag {
		case VTInt:
			sig.Code = int(c.Data.(int64))
		case VTNull:
		default:
			return Null, fmt.Errorf("exit() code must be int, got %s", typeName(c))
		}
	}
	if len(args) == 2 {
		sig.Message = Display(args[1])
	}
	return Null, sig
}

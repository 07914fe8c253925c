package script

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

var (
	errDivZero  = errors.New("division by zero")
	errOverflow = errors.New("integer overflow")
)

// truthy: null, false, 0, 0.0, "", [] and {} are false.
func truthy(v Value) bool {
	switch v.Tag {
	case VTNull:
		return false
	case VTBool:
		return v.Data.(bool)
	case VTInt:
		return v.Data.(int64) != 0
	case VTNum:
		return v.Data.(float64) != 0
	case VTStr:
		return v.Data.(string) != ""
	case VTList:
		return len(v.Data.(*ListObject).Elems) > 0
	case VTMap:
		return v.Data.(*MapObject).Len() > 0
	}
	return true
}

func isNumber(v Value) bool { return v.Tag == VTInt || v.Tag == VTNum }

func toFloat(v Value) float64 {
	if v.Tag == VTInt {
		return float64(v.Data.(int64))
	}
	return v.Data.(float64)
}

func negate(x Value) (Value, error) {
	switch x.Tag {
	case VTInt:
		n := x.Data.(int64)
		if n == math.MinInt64 {
			return Null, errOverflow
		}
		return Int(-n), nil
	case VTNum:
		return Num(-x.Data.(float64)), nil
	}
	return Null, fmt.Errorf("cannot negate %s", typeName(x))
}

func binop(op string, a, b Value) (Value, error) {
	switch op {
	case "==":
		return Bool(equal(a, b)), nil
	case "!=":
		return Bool(!equal(a, b)), nil
	case "<", "<=", ">", ">=":
		c, err := compare(a, b)
		if err != nil {
			return Null, fmt.Errorf("cannot compare %s %s %s", typeName(a), op, typeName(b))
		}
		switch op {
		case "<":
			return Bool(c < 0), nil
		case "<=":
			return Bool(c <= 0), nil
		case ">":
			return Bool(c > 0), nil
		}
		return Bool(c >= 0), nil
	case "in":
		return contains(b, a)
	case "+":
		return add(a, b)
	case "-", "*", "/", "%":
		if op == "*" {
			if v, ok := repeat(a, b); ok {
				return v, nil
			}
		}
		return arith(op, a, b)
	}
	return Null, fmt.Errorf("unknown operator %s", op)
}

func add(a, b Value) (Value, error) {
	switch {
	case isNumber(a) && isNumber(b):
		return arith("+", a, b)
	case a.Tag == VTStr && b.Tag == VTStr:
		return Str(a.Data.(string) + b.Data.(string)), nil
	case a.Tag == VTList && b.Tag == VTList:
		x, y := a.Data.(*ListObject).Elems, b.Data.(*ListObject).Elems
		out := make([]Value, 0, len(x)+len(y))
		out = append(append(out, x...), y...)
		return List(out), nil
	case a.Tag == VTMap && b.Tag == VTMap:
		out := NewMap()
		for _, m := range []*MapObject{a.Data.(*MapObject), b.Data.(*MapObject)} {
			for _, k := range m.Keys {
				out.Set(k, m.Entries[k])
			}
		}
		return MapVal(out), nil
	}
	return Null, fmt.Errorf("cannot add %s and %s", typeName(a), typeName(b))
}

// repeat handles str*int and list*int.
func repeat(a, b Value) (Value, bool) {
	if b.Tag != VTInt || (a.Tag != VTStr && a.Tag != VTList) {
		return Null, false
	}
	n := int(b.Data.(int64))
	if n < 0 {
		n = 0
	}
	if a.Tag == VTStr {
		return Str(strings.Repeat(a.Data.(string), n)), true
	}
	elems := a.Data.(*ListObject).Elems
	out := make([]Value, 0, len(elems)*n)
	for i := 0; i < n; i++ {
		out = append(out, elems...)
	}
	return List(out), true
}

func arith(op string, a, b Value) (Value, error) {
	if !isNumber(a) || !isNumber(b) {
		return Null, fmt.Errorf("unsupported operand types for %s: %s and %s", op, typeName(a), typeName(b))
	}
	if a.Tag == VTInt && b.Tag == VTInt {
		x, y := a.Data.(int64), b.Data.(int64)
		switch op {
		case "+":
			s := x + y
			if (s > x) != (y > 0) {
				return Null, errOverflow
			}
			return Int(s), nil
		case "-":
			d := x - y
			if (d < x) != (y > 0) {
				return Null, errOverflow
			}
			return Int(d), nil
		case "*":
			if x == 0 || y == 0 {
				return Int(0), nil
			}
			p := x * y
			if p/y != x || (x == -1 && y == math.MinInt64) || (y == -1 && x == math.MinInt64) {
				return Null, errOverflow
			}
			return Int(p), nil
		case "/":
			if y == 0 {
				return Null, errDivZero
			}
			if x == math.MinInt64 && y == -1 {
				return Null, errOverflow
			}
			return Int(x / y), nil
		case "%":
			if y == 0 {
				return Null, errDivZero
			}
			return Int(x % y), nil
		}
	}
	x, y := toFloat(a), toFloat(b)
	switch op {
	case "+":
		return Num(x + y), nil
	case "-":
		return Num(x - y), nil
	case "*":
		return Num(x * y), nil
	case "/":
		if y == 0 {
			return Null, errDivZero
		}
		return Num(x / y), nil
	case "%":
		if y == 0 {
			return Null, errDivZero
		}
		return Num(math.Mod(x, y)), nil
	}
	return Null, fmt.Errorf("unknown operator %s", op)
}

// equal is deep structural equality; ints and floats compare numerically.
// Self-referencing containers compare equal when their shapes match.
func equal(a, b Value) bool {
	return deepEqual(a, b, map[[2]any]bool{})
}

// deepEqual tracks the container pairs under comparison; a pair met again
// is assumed equal, so cycles terminate.
func deepEqual(a, b Value, active map[[2]any]bool) bool {
	if isNumber(a) && isNumber(b) {
		if a.Tag == VTInt && b.Tag == VTInt {
			return a.Data.(int64) == b.Data.(int64)
		}
		return toFloat(a) == toFloat(b)
	}
	if a.Tag != b.Tag {
		return false
	}
	switch a.Tag {
	case VTNull:
		return true
	case VTBool:
		return a.Data.(bool) == b.Data.(bool)
	case VTStr:
		return a.Data.(string) == b.Data.(string)
	case VTList:
		x, y := a.Data.(*ListObject), b.Data.(*ListObject)
		if x == y {
			return true
		}
		if len(x.Elems) != len(y.Elems) {
			return false
		}
		pair := [2]any{x, y}
		if active[pair] {
			return true
		}
		active[pair] = true
		defer delete(active, pair)
		for i := range x.Elems {
			if !deepEqual(x.Elems[i], y.Elems[i], active) {
				return false
			}
		}
		return true
	case VTMap:
		x, y := a.Data.(*MapObject), b.Data.(*MapObject)
		if x == y {
			return true
		}
		if x.Len() != y.Len() {
			return false
		}
		pair := [2]any{x, y}
		if active[pair] {
			return true
		}
		active[pair] = true
		defer delete(active, pair)
		for k, xv := range x.Entries {
			yv, ok := y.Entries[k]
			if !ok || !deepEqual(xv, yv, active) {
				return false
			}
		}
		return true
	}
	// functions, builtins and modules compare by identity
	return a.Data == b.Data
}

func compare(a, b Value) (int, error) {
	switch {
	case a.Tag == VTInt && b.Tag == VTInt:
		x, y := a.Data.(int64), b.Data.(int64)
		switch {
		case x < y:
			return -1, nil
		case x > y:
			return 1, nil
		}
		return 0, nil
	case isNumber(a) && isNumber(b):
		x, y := toFloat(a), toFloat(b)
		switch {
		case x < y:
			return -1, nil
		case x > y:
			return 1, nil
		}
		return 0, nil
	case a.Tag == VTStr && b.Tag == VTStr:
		return strings.Compare(a.Data.(string), b.Data.(string)), nil
	}
	return 0, errors.New("incomparable")
}

// contains implements 'x in container'.
func contains(container, x Value) (Value, error) {
	switch container.Tag {
	case VTList:
		for _, e := range container.Data.(*ListObject).Elems {
			if equal(e, x) {
				return Bool(true), nil
			}
		}
		return Bool(false), nil
	case VTMap, VTModule:
		if x.Tag != VTStr {
			return Bool(false), nil
		}
		_, ok := members(container).Get(x.Data.(string))
		return Bool(ok), nil
	case VTStr:
		if x.Tag != VTStr {
			return Null, fmt.Errorf("'in <str>' requires a str operand, got %s", typeName(x))
		}
		return Bool(strings.Contains(container.Data.(string), x.Data.(string))), nil
	}
	return Null, fmt.Errorf("'in' is not supported for %s", typeName(container))
}

func members(v Value) *MapObject {
	if v.Tag == VTModule {
		return v.Data.(*Module).Members
	}
	return v.Data.(*MapObject)
}

// normIndex resolves a possibly negative index against n elements.
func normIndex(key Value, n int) (int, error) {
	if key.Tag != VTInt {
		return 0, fmt.Errorf("index must be int, got %s", typeName(key))
	}
	i := key.Data.(int64)
	if i < 0 {
		i += int64(n)
	}
	if i < 0 || i >= int64(n) {
		return 0, fmt.Errorf("index %d out of range (length %d)", key.Data.(int64), n)
	}
	return int(i), nil
}

func getIndex(obj, key Value) (Value, error) {
	switch obj.Tag {
	case VTList:
		elems := obj.Data.(*ListObject).Elems
		i, err := normIndex(key, len(elems))
		if err != nil {
			return Null, err
		}
		return elems[i], nil
	case VTStr:
		s := obj.Data.(string)
		runes := []rune(s)
		if !utf8.ValidString(s) {
			return Null, errors.New("string is not valid UTF-8")
		}
		i, err := normIndex(key, len(runes))
		if err != nil {
			return Null, err
		}
		return Str(string(runes[i])), nil
	case VTMap:
		if key.Tag != VTStr {
			return Null, fmt.Errorf("map key must be str, got %s", typeName(key))
		}
		v, ok := obj.Data.(*MapObject).Get(key.Data.(string))
		if !ok {
			return Null, nil
		}
		return v, nil
	case VTModule:
		if key.Tag != VTStr {
			return Null, fmt.Errorf("module member must be str, got %s", typeName(key))
		}
		return getProperty(obj, key.Data.(string))
	}
	return Null, fmt.Errorf("cannot index %s", typeName(obj))
}

func getProperty(obj Value, name string) (Value, error) {
	switch obj.Tag {
	case VTMap:
		v, ok := obj.Data.(*MapObject).Get(name)
		if !ok {
			return Null, nil
		}
		return v, nil
	case VTModule:
		m := obj.Data.(*Module)
		v, ok := m.Members.Get(name)
		if !ok {
			return Null, fmt.Errorf("module %s has no member %q", m.Name, name)
		}
		return v, nil
	}
	return Null, fmt.Errorf("cannot read property %q of %s", name, typeName(obj))
}

func setIndex(obj, key, v Value) error {
	switch obj.Tag {
	case VTList:
		lo := obj.Data.(*ListObject)
		i, err := normIndex(key, len(lo.Elems))
		if err != nil {
			return err
		}
		lo.Elems[i] = v
		return nil
	case VTMap:
		if key.Tag != VTStr {
			return fmt.Errorf("map key must be str, got %s", typeName(key))
		}
		obj.Data.(*MapObject).Set(key.Data.(string), v)
		return nil
	case VTModule:
		return fmt.Errorf("cannot assign to members of module %s", obj.Data.(*Module).Name)
	}
	return fmt.Errorf("cannot assign into %s", typeName(obj))
}

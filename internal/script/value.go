// value.go: runtime values.
//
// A Value is a tagged union. Payloads by tag:
//
//	VTNull    nil
//	VTBool    bool
//	VTInt     int64
//	VTNum     float64
//	VTStr     string
//	VTList    *ListObject   (shared by reference, mutable)
//	VTMap     *MapObject    (shared by reference, mutable, insertion ordered)
//	VTFun     *Fun          (closure)
//	VTBuiltin *Builtin      (Go implemented)
//	VTModule  *Module
package script

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueTag identifies the runtime type of a Value.
type ValueTag int

const (
	VTNull ValueTag = iota
	VTBool
	VTInt
	VTNum
	VTStr
	VTList
	VTMap
	VTFun
	VTBuiltin
	VTModule
)

var tagNames = [...]string{"null", "bool", "int", "float", "str", "list", "map", "function", "function", "module"}

func (t ValueTag) String() string {
	if int(t) < len(tagNames) {
		return tagNames[t]
	}
	return fmt.Sprintf("tag(%d)", int(t))
}

// Value is a script value.
type Value struct {
	Tag  ValueTag
	Data any
}

// Null is the null value.
var Null = Value{Tag: VTNull}

func Bool(b bool) Value     { return Value{Tag: VTBool, Data: b} }
func Int(n int64) Value     { return Value{Tag: VTInt, Data: n} }
func Num(f float64) Value   { return Value{Tag: VTNum, Data: f} }
func Str(s string) Value    { return Value{Tag: VTStr, Data: s} }
func List(xs []Value) Value { return Value{Tag: VTList, Data: &ListObject{Elems: xs}} }

// ListObject is the payload of a list.
type ListObject struct {
	Elems []Value
}

// MapObject is an ordered map; Keys holds insertion order.
type MapObject struct {
	Entries map[string]Value
	Keys    []string
}

// NewMap returns an empty map object.
func NewMap() *MapObject { return &MapObject{Entries: map[string]Value{}} }

// MapVal wraps a map object.
func MapVal(m *MapObject) Value { return Value{Tag: VTMap, Data: m} }

// Get returns the value at key.
func (m *MapObject) Get(key string) (Value, bool) {
	v, ok := m.Entries[key]
	return v, ok
}

// Set binds key, appending it to the order when new.
func (m *MapObject) Set(key string, v Value) {
	if _, ok := m.Entries[key]; !ok {
		m.Keys = append(m.Keys, key)
	}
	m.Entries[key] = v
}

// Len returns the number of entries.
func (m *MapObject) Len() int { return len(m.Keys) }

// Fun is a closure created by 'def'.
type Fun struct {
	Name   string
	Params []string
	Body   S
	Env    *Env
	Prog   *Program // unit the body belongs to (errors, relative imports)
}

// Builtin is a function implemented in Go. MaxArgs < 0 means variadic.
type Builtin struct {
	Name    string
	MinArgs int
	MaxArgs int
	Impl    func(ip *Interpreter, args []Value) (Value, error)
}

// Module is the value bound by 'import'.
type Module struct {
	Name    string
	Members *MapObject
}

func typeName(v Value) string { return v.Tag.String() }

// Display renders v the way print and str() show it: strings are raw at the
// top level and quoted inside containers.
func Display(v Value) string {
	if v.Tag == VTStr {
		return v.Data.(string)
	}
	var b strings.Builder
	writeRepr(&b, v, map[any]bool{})
	return b.String()
}

// Repr renders v with strings quoted.
func Repr(v Value) string {
	var b strings.Builder
	writeRepr(&b, v, map[any]bool{})
	return b.String()
}

func writeRepr(b *strings.Builder, v Value, seen map[any]bool) {
	switch v.Tag {
	case VTNull:
		b.WriteString("null")
	case VTBool:
		b.WriteString(strconv.FormatBool(v.Data.(bool)))
	case VTInt:
		b.WriteString(strconv.FormatInt(v.Data.(int64), 10))
	case VTNum:
		b.WriteString(formatFloat(v.Data.(float64)))
	case VTStr:
		b.WriteString(strconv.Quote(v.Data.(string)))
	case VTList:
		lo := v.Data.(*ListObject)
		if seen[lo] {
			b.WriteString("[...]")
			return
		}
		seen[lo] = true
		defer delete(seen, lo)
		b.WriteByte('[')
		for i, e := range lo.Elems {
			if i > 0 {
				b.WriteString(", ")
			}
			writeRepr(b, e, seen)
		}
		b.WriteByte(']')
	case VTMap:
		mo := v.Data.(*MapObject)
		if seen[mo] {
			b.WriteString("{...}")
			return
		}
		seen[mo] = true
		defer delete(seen, mo)
		b.WriteByte('{')
		for i, k := range mo.Keys {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(strconv.Quote(k))
			b.WriteString(": ")
			writeRepr(b, mo.Entries[k], seen)
		}
		b.WriteByte('}')
	case VTFun:
		name := v.Data.(*Fun).Name
		if name == "" {
			name = "anonymous"
		}
		fmt.Fprintf(b, "<function %s>", name)
	case VTBuiltin:
		fmt.Fprintf(b, "<builtin %s>", v.Data.(*Builtin).Name)
	case VTModule:
		fmt.Fprintf(b, "<module %s>", v.Data.(*Module).Name)
	default:
		b.WriteString("<unknown>")
	}
}

// formatFloat keeps a fractional marker on integral values: 2.0, not 2.
func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

package script

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
)

// ErrCyclic is returned by ToGo for self-referencing lists or maps.
var ErrCyclic = errors.New("value contains a reference cycle")

// ToGo converts a script value to the plain Go model: nil, bool, int64,
// float64, string, []any and map[string]any. Functions, builtins and modules
// are returned as the Value itself.
func ToGo(v Value) (any, error) {
	return toGo(v, map[any]bool{})
}

func toGo(v Value, active map[any]bool) (any, error) {
	switch v.Tag {
	case VTNull:
		return nil, nil
	case VTBool, VTInt, VTNum, VTStr:
		return v.Data, nil
	case VTList:
		lo := v.Data.(*ListObject)
		if active[lo] {
			return nil, ErrCyclic
		}
		active[lo] = true
		defer delete(active, lo)
		out := make([]any, len(lo.Elems))
		for i, e := range lo.Elems {
			x, err := toGo(e, active)
			if err != nil {
				return nil, err
			}
			out[i] = x
		}
		return out, nil
	case VTMap:
		mo := v.Data.(*MapObject)
		if active[mo] {
			return nil, ErrCyclic
		}
		active[mo] = true
		defer delete(active, mo)
		out := make(map[string]any, mo.Len())
		for _, k := range mo.Keys {
			x, err := toGo(mo.Entries[k], active)
			if err != nil {
				return nil, err
			}
			out[k] = x
		}
		return out, nil
	}
	return v, nil
}

// FromGo converts a Go value to a script value. Besides the plain model it
// accepts every integer and float kind, Value, and slices and maps with
// string keys of convertible elements. A map, slice or pointer that contains
// itself is rejected with ErrCyclic.
func FromGo(x any) (Value, error) {
	return fromGo(x, map[ref]bool{})
}

// ref identifies a Go container on the current conversion path.
type ref struct {
	typ reflect.Type
	ptr uintptr
	len int
}

func fromGo(x any, active map[ref]bool) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null, nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case string:
		return Str(t), nil
	case int64:
		return Int(t), nil
	case int:
		return Int(int64(t)), nil
	case float64:
		return Num(t), nil
	}
	return fromReflect(reflect.ValueOf(x), active)
}

// enter marks rv as being converted. It reports false when rv is already on
// the path.
func enter(rv reflect.Value, active map[ref]bool) (ref, bool) {
	r := ref{typ: rv.Type(), ptr: rv.Pointer()}
	if rv.Kind() == reflect.Slice {
		r.len = rv.Len()
	}
	if active[r] {
		return r, false
	}
	active[r] = true
	return r, true
}

func fromReflect(rv reflect.Value, active map[ref]bool) (Value, error) {
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return Null, fmt.Errorf("integer %d overflows int", u)
		}
		return Int(int64(u)), nil
	case reflect.Float32, reflect.Float64:
		return Num(rv.Float()), nil
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.String:
		return Str(rv.String()), nil
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice {
			if rv.IsNil() {
				return Null, nil
			}
			r, ok := enter(rv, active)
			if !ok {
				return Null, ErrCyclic
			}
			defer delete(active, r)
		}
		out := make([]Value, rv.Len())
		for i := range out {
			v, err := fromGo(rv.Index(i).Interface(), active)
			if err != nil {
				return Null, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = v
		}
		return List(out), nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Null, fmt.Errorf("map keys must be strings, got %s", rv.Type().Key())
		}
		if rv.IsNil() {
			return Null, nil
		}
		r, ok := enter(rv, active)
		if !ok {
			return Null, ErrCyclic
		}
		defer delete(active, r)
		return fromGoMap(rv, active)
	case reflect.Pointer:
		if rv.IsNil() {
			return Null, nil
		}
		r, ok := enter(rv, active)
		if !ok {
			return Null, ErrCyclic
		}
		defer delete(active, r)
		return fromGo(rv.Elem().Interface(), active)
	case reflect.Interface:
		if rv.IsNil() {
			return Null, nil
		}
		return fromGo(rv.Elem().Interface(), active)
	}
	return Null, fmt.Errorf("unsupported Go type %s", rv.Type())
}

// fromGoMap converts a map with string keys; keys are inserted sorted so the
// result does not depend on Go's map iteration order.
func fromGoMap(rv reflect.Value, active map[ref]bool) (Value, error) {
	keys := rv.MapKeys()
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.String()
	}
	sort.Strings(names)
	mo := NewMap()
	for _, k := range names {
		v, err := fromGo(rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key())).Interface(), active)
		if err != nil {
			return Null, fmt.Errorf("%s: %w", k, err)
		}
		mo.Set(k, v)
	}
	return MapVal(mo), nil
}

// Package jsonx decodes JSON into the plain Go value model shared by the
// artifact store and the script runtime: nil, bool, int64, float64, string,
// []any and map[string]any. Integral numbers stay integers.
package jsonx

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// ErrTrailingData is returned when a document holds more than one value.
var ErrTrailingData = errors.New("unexpected data after top-level value")

// Decode parses exactly one JSON document.
func Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var x any
	if err := dec.Decode(&x); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty document")
		}
		return nil, err
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, ErrTrailingData
	}
	return Normalize(x)
}

// Normalize rewrites json.Number leaves into int64 or float64.
func Normalize(x any) (any, error) {
	switch v := x.(type) {
	case json.Number:
		return number(v.String())
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("number out of range: %v", v)
		}
		return v, nil
	case []any:
		out := make([]any, len(v))
		for i := range v {
			el, err := Normalize(v[i])
			if err != nil {
				return nil, err
			}
			out[i] = el
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, vv := range v {
			el, err := Normalize(vv)
			if err != nil {
				return nil, err
			}
			out[k] = el
		}
		return out, nil
	default:
		return v, nil
	}
}

func number(s string) (any, error) {
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		// does not fit in int64: fall through to float
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) {
		return nil, fmt.Errorf("number out of range: %s", s)
	}
	return f, nil
}

// Marshal encodes v as compact JSON.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// MarshalIndent encodes v as indented JSON.
func MarshalIndent(v any, indent string) ([]byte, error) {
	return json.MarshalIndent(v, "", indent)
}

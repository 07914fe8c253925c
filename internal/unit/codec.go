package unit

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/iorp/neorun/internal/script"
)

// Field numbers of the unit body.
const (
	fieldVersion  protowire.Number = 1
	fieldName     protowire.Number = 2
	fieldHash     protowire.Number = 3
	fieldRoot     protowire.Number = 4
	fieldCompiler protowire.Number = 5
	fieldSource   protowire.Number = 6
)

// Field numbers of Node and Atom.
const (
	nodeTag  protowire.Number = 1
	nodeAtom protowire.Number = 2

	atomNode  protowire.Number = 1
	atomStr   protowire.Number = 2
	atomInt   protowire.Number = 3
	atomFloat protowire.Number = 4
	atomBool  protowire.Number = 5
	atomNull  protowire.Number = 6
)

const (
	checksumSize = 8
	maxNodeDepth = 10000
)

// Encode serializes u into the container format.
func Encode(u *Unit) ([]byte, error) {
	if len(u.Root) == 0 {
		return nil, fmt.Errorf("unit %q has no root node", u.Name)
	}
	root, err := appendNode(nil, u.Root)
	if err != nil {
		return nil, err
	}

	b := make([]byte, 0, len(root)+len(u.Name)+len(u.Source)+64)
	b = append(b, Magic...)
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, FormatVersion)
	b = protowire.AppendTag(b, fieldName, protowire.BytesType)
	b = protowire.AppendString(b, u.Name)
	b = protowire.AppendTag(b, fieldHash, protowire.BytesType)
	b = protowire.AppendBytes(b, u.SourceHash[:])
	b = protowire.AppendTag(b, fieldRoot, protowire.BytesType)
	b = protowire.AppendBytes(b, root)
	b = protowire.AppendTag(b, fieldCompiler, protowire.BytesType)
	b = protowire.AppendString(b, u.CompilerVersion)
	if u.Source != "" {
		b = protowire.AppendTag(b, fieldSource, protowire.BytesType)
		b = protowire.AppendString(b, u.Source)
	}
	return binary.LittleEndian.AppendUint64(b, xxhash.Sum64(b)), nil
}

func appendNode(b []byte, n script.S) ([]byte, error) {
	tag, ok := n[0].(string)
	if !ok {
		return nil, fmt.Errorf("node tag is %T, want string", n[0])
	}
	b = protowire.AppendTag(b, nodeTag, protowire.BytesType)
	b = protowire.AppendString(b, tag)
	for _, x := range n[1:] {
		atom, err := appendAtom(nil, x)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", tag, err)
		}
		b = protowire.AppendTag(b, nodeAtom, protowire.BytesType)
		b = protowire.AppendBytes(b, atom)
	}
	return b, nil
}

func appendAtom(b []byte, x any) ([]byte, error) {
	switch v := x.(type) {
	case script.S:
		child, err := appendNode(nil, v)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, atomNode, protowire.BytesType)
		return protowire.AppendBytes(b, child), nil
	case string:
		b = protowire.AppendTag(b, atomStr, protowire.BytesType)
		return protowire.AppendString(b, v), nil
	case int64:
		b = protowire.AppendTag(b, atomInt, protowire.VarintType)
		return protowire.AppendVarint(b, protowire.EncodeZigZag(v)), nil
	case float64:
		b = protowire.AppendTag(b, atomFloat, protowire.Fixed64Type)
		return protowire.AppendFixed64(b, math.Float64bits(v)), nil
	case bool:
		b = protowire.AppendTag(b, atomBool, protowire.VarintType)
		return protowire.AppendVarint(b, protowire.EncodeBool(v)), nil
	case nil:
		b = protowire.AppendTag(b, atomNull, protowire.VarintType)
		return protowire.AppendVarint(b, 0), nil
	}
	return nil, fmt.Errorf("unsupported atom type %T", x)
}

// Decode parses and verifies a container. The returned unit's tree has
// passed script.ValidateShape.
func Decode(data []byte) (*Unit, error) {
	if len(data) < len(Magic)+checksumSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTruncated, len(data))
	}
	if string(data[:len(Magic)]) != Magic {
		return nil, ErrMagic
	}
	payload, trailer := data[:len(data)-checksumSize], data[len(data)-checksumSize:]
	if got, want := xxhash.Sum64(payload), binary.LittleEndian.Uint64(trailer); got != want {
		return nil, fmt.Errorf("%w: computed %016x, stored %016x", ErrChecksum, got, want)
	}

	u := &Unit{}
	var sawVersion, sawRoot, sawHash bool
	b := payload[len(Magic):]
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, malformed("field tag", protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == fieldVersion && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, malformed("version", protowire.ParseError(n))
			}
			u.Version, sawVersion, b = v, true, b[n:]
			if u.Version != FormatVersion {
				return nil, fmt.Errorf("%w: %d (supported: %d)", ErrVersion, u.Version, FormatVersion)
			}
		case num == fieldName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, malformed("name", protowire.ParseError(n))
			}
			u.Name, b = v, b[n:]
		case num == fieldHash && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, malformed("source hash", protowire.ParseError(n))
			}
			if len(v) != len(u.SourceHash) {
				return nil, malformed("source hash", fmt.Errorf("%d bytes", len(v)))
			}
			copy(u.SourceHash[:], v)
			sawHash, b = true, b[n:]
		case num == fieldRoot && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, malformed("root", protowire.ParseError(n))
			}
			root, err := decodeNode(v, 0)
			if err != nil {
				return nil, malformed("root", err)
			}
			u.Root, sawRoot, b = root, true, b[n:]
		case num == fieldCompiler && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, malformed("compiler version", protowire.ParseError(n))
			}
			u.CompilerVersion, b = v, b[n:]
		case num == fieldSource && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, malformed("source", protowire.ParseError(n))
			}
			u.Source, b = v, b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, malformed(fmt.Sprintf("field %d", num), protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	switch {
	case !sawVersion:
		return nil, fmt.Errorf("%w: missing format version", ErrVersion)
	case !sawHash:
		return nil, malformed("source hash", fmt.Errorf("missing"))
	case !sawRoot:
		return nil, malformed("root", fmt.Errorf("missing"))
	}
	if err := script.ValidateShape(u.Root); err != nil {
		return nil, malformed("root", err)
	}
	return u, nil
}

func malformed(what string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrMalformed, what, err)
}

func decodeNode(b []byte, depth int) (script.S, error) {
	if depth > maxNodeDepth {
		return nil, fmt.Errorf("nodes nested deeper than %d", maxNodeDepth)
	}
	var (
		n      script.S
		sawTag bool
	)
	for len(b) > 0 {
		num, typ, k := protowire.ConsumeTag(b)
		if k < 0 {
			return nil, protowire.ParseError(k)
		}
		b = b[k:]
		if typ != protowire.BytesType || (num != nodeTag && num != nodeAtom) {
			return nil, fmt.Errorf("unexpected node field %d (wire type %d)", num, typ)
		}
		v, k := protowire.ConsumeBytes(b)
		if k < 0 {
			return nil, protowire.ParseError(k)
		}
		b = b[k:]
		if num == nodeTag {
			if sawTag {
				return nil, fmt.Errorf("node has two tags")
			}
			n = append(script.S{string(v)}, n...)
			sawTag = true
			continue
		}
		atom, err := decodeAtom(v, depth)
		if err != nil {
			return nil, err
		}
		n = append(n, atom)
	}
	if !sawTag {
		return nil, fmt.Errorf("node without tag")
	}
	return n, nil
}

func decodeAtom(b []byte, depth int) (any, error) {
	num, typ, k := protowire.ConsumeTag(b)
	if k < 0 {
		return nil, protowire.ParseError(k)
	}
	b = b[k:]

	var out any
	switch {
	case num == atomNode && typ == protowire.BytesType:
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		child, err := decodeNode(v, depth+1)
		if err != nil {
			return nil, err
		}
		out, k = child, n
	case num == atomStr && typ == protowire.BytesType:
		var v string
		v, k = protowire.ConsumeString(b)
		out = v
	case num == atomInt && typ == protowire.VarintType:
		var v uint64
		v, k = protowire.ConsumeVarint(b)
		out = protowire.DecodeZigZag(v)
	case num == atomFloat && typ == protowire.Fixed64Type:
		var v uint64
		v, k = protowire.ConsumeFixed64(b)
		out = math.Float64frombits(v)
	case num == atomBool && typ == protowire.VarintType:
		var v uint64
		v, k = protowire.ConsumeVarint(b)
		out = protowire.DecodeBool(v)
	case num == atomNull && typ == protowire.VarintType:
		_, k = protowire.ConsumeVarint(b)
		out = nil
	default:
		return nil, fmt.Errorf("unexpected atom field %d (wire type %d)", num, typ)
	}
	if k < 0 {
		return nil, protowire.ParseError(k)
	}
	if k != len(b) {
		return nil, fmt.Errorf("atom has %d trailing bytes", len(b)-k)
	}
	return out, nil
}

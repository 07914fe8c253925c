package unit

import (
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/iorp/neorun/internal/script"
)

const demoSource = `
import strings
def greet(name) do
  return strings.upper("hi ") + name
end
__response__ = {msg: greet("rex"), n: -3, f: 2.5, ok: true, none: null}
`

func compileDemo(t *testing.T, embed bool) *Unit {
	t.Helper()
	prog, err := script.Compile("demo.neo", demoSource)
	require.NoError(t, err)
	return New(prog, embed)
}

// seal appends a valid checksum to magic+body.
func seal(body []byte) []byte {
	b := append([]byte(Magic), body...)
	return binary.LittleEndian.AppendUint64(b, xxhash.Sum64(b))
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	for _, embed := range []bool{false, true} {
		u := compileDemo(t, embed)
		data, err := Encode(u)
		require.NoError(t, err)
		assert.Equal(t, Magic, string(data[:4]))

		got, err := Decode(data)
		require.NoError(t, err)
		if diff := cmp.Diff(u, got); diff != "" {
			t.Fatalf("embed=%v: unit mismatch (-want +got):\n%s", embed, diff)
		}
		assert.Equal(t, sha256.Sum256([]byte(demoSource)), got.SourceHash)
	}
}

func TestEncode_Deterministic(t *testing.T) {
	a, err := Encode(compileDemo(t, false))
	require.NoError(t, err)
	b, err := Encode(compileDemo(t, false))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDecode_Corruption(t *testing.T) {
	good, err := Encode(compileDemo(t, false))
	require.NoError(t, err)

	flipped := append([]byte(nil), good...)
	flipped[len(flipped)/2] ^= 0xFF

	badMagic := append([]byte("XXXX"), good[4:]...)

	for name, tc := range map[string]struct {
		data []byte
		want error
	}{
		"empty":     {data: nil, want: ErrTruncated},
		"short":     {data: good[:6], want: ErrTruncated},
		"truncated": {data: good[:len(good)-3], want: ErrChecksum},
		"bit flip":  {data: flipped, want: ErrChecksum},
		"magic":     {data: badMagic, want: ErrMagic},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(tc.data)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestDecode_VersionMismatch(t *testing.T) {
	body := protowire.AppendTag(nil, fieldVersion, protowire.VarintType)
	body = protowire.AppendVarint(body, FormatVersion+1)

	_, err := Decode(seal(body))
	assert.ErrorIs(t, err, ErrVersion)
	assert.Contains(t, err.Error(), "2")
}

func TestDecode_MissingFields(t *testing.T) {
	_, err := Decode(seal(nil))
	assert.ErrorIs(t, err, ErrVersion)

	body := protowire.AppendTag(nil, fieldVersion, protowire.VarintType)
	body = protowire.AppendVarint(body, FormatVersion)
	body = protowire.AppendTag(body, fieldHash, protowire.BytesType)
	body = protowire.AppendBytes(body, make([]byte, 32))
	_, err = Decode(seal(body))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecode_SkipsUnknownFields(t *testing.T) {
	data, err := Encode(compileDemo(t, false))
	require.NoError(t, err)

	body := append([]byte(nil), data[len(Magic):len(data)-checksumSize]...)
	body = protowire.AppendTag(body, 99, protowire.BytesType)
	body = protowire.AppendString(body, "from the future")

	u, err := Decode(seal(body))
	require.NoError(t, err)
	assert.Equal(t, "demo.neo", u.Name)
}

func TestDecode_RejectsInvalidTree(t *testing.T) {
	u := &Unit{Name: "bad", Root: script.L("block", script.L("nope", "x"))}
	data, err := Encode(u)
	require.NoError(t, err)

	_, err = Decode(data)
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Contains(t, err.Error(), `unknown node tag "nope"`)
}

func TestEncode_RejectsForeignAtoms(t *testing.T) {
	_, err := Encode(&Unit{Root: script.L("block", script.L("int", 3))})
	assert.ErrorContains(t, err, "unsupported atom type int")

	_, err = Encode(&Unit{})
	assert.Error(t, err)
}

func TestInspect(t *testing.T) {
	s := Inspect(compileDemo(t, true))
	assert.Equal(t, "demo.neo", s.Name)
	assert.Equal(t, uint64(FormatVersion), s.FormatVersion)
	assert.Equal(t, CompilerVersion, s.CompilerVersion)
	assert.Len(t, s.SourceSHA256, 64)
	assert.Equal(t, 3, s.Statements)
	assert.Greater(t, s.Nodes, s.Statements)
	assert.True(t, s.EmbeddedSource)
}

func TestProgram(t *testing.T) {
	u := compileDemo(t, true)
	p := u.Program("/tmp/x")
	assert.Equal(t, "demo.neo", p.Name)
	assert.Equal(t, "/tmp/x", p.Dir)
	assert.Equal(t, demoSource, p.Source)
}

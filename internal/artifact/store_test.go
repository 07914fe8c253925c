package artifact

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iorp/neorun/internal/faults"
)

func TestText_RoundTripAndOverwrite(t *testing.T) {
	s := New()
	path := filepath.Join(t.TempDir(), "nested", "dir", "note.txt")

	require.NoError(t, s.WriteText(path, "héllo\nworld"))
	got, err := s.ReadText(path)
	require.NoError(t, err)
	assert.Equal(t, "héllo\nworld", got)

	require.NoError(t, s.WriteText(path, "short"))
	got, err = s.ReadText(path)
	require.NoError(t, err)
	assert.Equal(t, "short", got)
}

func TestRead_NotFound(t *testing.T) {
	s := New()
	missing := filepath.Join(t.TempDir(), "missing.txt")

	_, err := s.ReadText(missing)
	require.ErrorIs(t, err, faults.ErrNotFound)
	assert.Contains(t, err.Error(), missing)

	_, err = s.ReadBinary(missing)
	assert.ErrorIs(t, err, faults.ErrNotFound)
	_, err = s.ReadStructured(missing)
	assert.ErrorIs(t, err, faults.ErrNotFound)
}

func TestRead_DirectoryIsIOError(t *testing.T) {
	_, err := New().ReadText(t.TempDir())
	assert.ErrorIs(t, err, faults.ErrIO)
}

func TestWrite_ParentIsFileIsIOError(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	err := New().WriteText(filepath.Join(file, "child.txt"), "x")
	assert.ErrorIs(t, err, faults.ErrIO)

	err = New().WriteText("", "x")
	assert.ErrorIs(t, err, faults.ErrIO)
}

func TestWrite_ReadOnlyDirectory(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced here")
	}
	dir := t.TempDir()
	require.NoError(t, os.Chmod(dir, 0o555))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	err := New().WriteBinary(filepath.Join(dir, "a.bin"), []byte{1})
	assert.ErrorIs(t, err, faults.ErrIO)
}

func TestStructured_RoundTrip(t *testing.T) {
	s := New()
	path := filepath.Join(t.TempDir(), "doc.json")

	require.NoError(t, s.WriteStructured(path, map[string]any{"a": 1}))
	got, err := s.ReadStructured(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": int64(1)}, got)

	require.NoError(t, s.WriteStructured(path, []any{"x", 2.5, true, nil}))
	got, err = s.ReadStructured(path)
	require.NoError(t, err)
	assert.Equal(t, []any{"x", 2.5, true, nil}, got)

	type record struct {
		Name string `json:"name"`
	}
	require.NoError(t, s.WriteStructured(path, &record{Name: "rex"}))
	got, err = s.ReadStructured(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "rex"}, got)
}

func TestStructured_TypeErrors(t *testing.T) {
	s := New()
	path := filepath.Join(t.TempDir(), "doc.json")

	for name, v := range map[string]any{
		"nil":         nil,
		"string":      "text",
		"number":      42,
		"bool":        true,
		"int keys":    map[int]string{1: "x"},
		"nil pointer": (*struct{})(nil),
		"time":        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		"bytes":       []byte("raw"),
		"nil slice":   []any(nil),
		"nil map":     map[string]any(nil),
		"raw scalar":  json.RawMessage(`7`),
	} {
		t.Run(name, func(t *testing.T) {
			err := s.WriteStructured(path, v)
			require.ErrorIs(t, err, faults.ErrType)
			assert.Contains(t, err.Error(), "write structured")
		})
	}
	assert.ErrorContains(t, s.WriteStructured(path, time.Time{}), "got string")
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "nothing written on type errors")
}

func TestStructured_DecodeError(t *testing.T) {
	s := New()
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, s.WriteText(path, `{"a":`))

	_, err := s.ReadStructured(path)
	require.ErrorIs(t, err, faults.ErrDecode)
	assert.Contains(t, err.Error(), "bad.json")
}

func TestBinary_RoundTripLeavesNoTempFiles(t *testing.T) {
	s := New(WithFileMode(0o600))
	dir := t.TempDir()
	path := filepath.Join(dir, "unit.nrc")
	data := []byte{0, 1, 2, 0xFF}

	require.NoError(t, s.WriteBinary(path, data))
	got, err := s.ReadBinary(path)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "unit.nrc", entries[0].Name())

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}
}

// Package artifact reads and writes pipeline artifacts by path: plain text,
// structured JSON documents and opaque binary blobs.
//
// The store holds no state between calls. Every failure is returned as a
// *faults.Error (NotFoundError, IOError, DecodeError or TypeError); nothing
// is retried.
//
// Writes create missing parent directories and go through a temporary file
// in the destination directory followed by a rename, so readers never see a
// half-written file from this process. Two writers racing on one path are
// not coordinated: the last rename wins.
package artifact

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"

	"go.uber.org/zap"

	"github.com/iorp/neorun/internal/faults"
	"github.com/iorp/neorun/internal/jsonx"
)

const (
	defaultFilePerm os.FileMode = 0o644
	defaultDirPerm  os.FileMode = 0o755
)

// Store performs artifact I/O.
type Store struct {
	log      *zap.Logger
	filePerm os.FileMode
	dirPerm  os.FileMode
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for debug traces of each operation.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithFileMode sets the permission bits of written files.
func WithFileMode(perm os.FileMode) Option {
	return func(s *Store) { s.filePerm = perm }
}

// New creates a Store.
func New(opts ...Option) *Store {
	s := &Store{log: zap.NewNop(), filePerm: defaultFilePerm, dirPerm: defaultDirPerm}
	for _, o := range opts {
		o(s)
	}
	return s
}

// WriteText overwrites path with text encoded as UTF-8.
func (s *Store) WriteText(path, text string) error {
	return s.write("write text", path, []byte(text))
}

// ReadText returns the contents of path.
func (s *Store) ReadText(path string) (string, error) {
	b, err := s.read("read text", path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// WriteStructured encodes value as a JSON document and writes it. The
// encoded document must be an object or an array; values that marshal to a
// scalar, such as time.Time, []byte or a nil slice, are a TypeError. Maps
// must have string keys.
func (s *Store) WriteStructured(path string, value any) error {
	const op = "write structured"
	if err := checkKeys(value); err != nil {
		return err.WithOp(op).WithPath(path)
	}
	b, err := jsonx.Marshal(value)
	if err != nil {
		return faults.New(faults.KindType, "value is not representable as JSON: %v", err).WithOp(op).WithPath(path)
	}
	if err := checkStructured(b); err != nil {
		return err.WithOp(op).WithPath(path)
	}
	return s.write(op, path, b)
}

// ReadStructured reads path and parses it as one JSON document. Integral
// numbers decode to int64, other numbers to float64.
func (s *Store) ReadStructured(path string) (any, error) {
	const op = "read structured"
	b, err := s.read(op, path)
	if err != nil {
		return nil, err
	}
	v, err := jsonx.Decode(b)
	if err != nil {
		return nil, faults.Decode(path, err).WithOp(op)
	}
	return v, nil
}

// WriteBinary overwrites path with data.
func (s *Store) WriteBinary(path string, data []byte) error {
	return s.write("write binary", path, data)
}

// ReadBinary returns the bytes stored at path.
func (s *Store) ReadBinary(path string) ([]byte, error) {
	return s.read("read binary", path)
}

func (s *Store) read(op, path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, faults.NotFound(path).WithOp(op)
		}
		return nil, faults.IO(path, err).WithOp(op)
	}
	s.log.Debug("artifact read", zap.String("op", op), zap.String("path", path), zap.Int("bytes", len(b)))
	return b, nil
}

func (s *Store) write(op, path string, data []byte) error {
	if path == "" {
		return faults.New(faults.KindIO, "empty path").WithOp(op)
	}
	if err := os.MkdirAll(filepath.Dir(path), s.dirPerm); err != nil {
		return faults.IO(path, err).WithOp(op)
	}
	if err := writeFileAtomic(path, data, s.filePerm); err != nil {
		return faults.IO(path, err).WithOp(op)
	}
	s.log.Debug("artifact written", zap.String("op", op), zap.String("path", path), zap.Int("bytes", len(data)))
	return nil
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it over path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	tmp, err := os.CreateTemp(dir, "."+base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	_ = tmp.Sync()
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func checkKeys(value any) *faults.Error {
	rv := reflect.ValueOf(value)
	for rv.IsValid() && (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) && !rv.IsNil() {
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.Map && rv.Type().Key().Kind() != reflect.String {
		return faults.New(faults.KindType, "object keys must be strings, got %s", rv.Type().Key())
	}
	return nil
}

// checkStructured looks at the encoded document, so types with their own
// marshaling are judged by what they produce.
func checkStructured(doc []byte) *faults.Error {
	doc = bytes.TrimLeft(doc, " \t\r\n")
	if len(doc) > 0 && (doc[0] == '{' || doc[0] == '[') {
		return nil
	}
	got := "number"
	if len(doc) > 0 {
		switch doc[0] {
		case 'n':
			got = "null"
		case '"':
			got = "string"
		case 't', 'f':
			got = "bool"
		}
	}
	return faults.New(faults.KindType, "structured value must be an object or array, got %s", got)
}

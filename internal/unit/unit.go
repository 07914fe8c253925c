// Package unit defines the compiled unit and its on-disk container.
//
// Layout:
//
//	"NRUC"                      magic, 4 bytes
//	body                        protobuf wire format
//	  1: format version         varint
//	  2: unit name              bytes
//	  3: source sha256          bytes (32)
//	  4: root                   Node
//	  5: compiler version       bytes
//	  6: source text            bytes, optional
//	checksum                    xxhash64(magic + body), 8 bytes little endian
//
//	Node { 1: tag bytes; 2: repeated Atom }
//	Atom { oneof 1: Node | 2: string | 3: sint64 | 4: double | 5: bool | 6: null }
//
// The body is written by hand with protowire; there is no .proto file and no
// generated code. Unknown fields are skipped on decode so later versions can
// add optional fields without bumping the format version.
package unit

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/iorp/neorun/internal/script"
)

const (
	// Magic opens every compiled artifact.
	Magic = "NRUC"

	// FormatVersion is the only container version Decode accepts.
	FormatVersion = 1
)

// CompilerVersion is recorded in every unit this build produces.
var CompilerVersion = "neorun-0.1.0"

// Decode failures. Every error returned by Decode wraps one of these.
var (
	ErrTruncated = errors.New("artifact is truncated")
	ErrMagic     = errors.New("not a compiled unit (bad magic)")
	ErrChecksum  = errors.New("checksum mismatch")
	ErrVersion   = errors.New("unsupported format version")
	ErrMalformed = errors.New("malformed unit body")
)

// Unit is a compiled program ready to be stored or executed.
type Unit struct {
	Name            string
	Version         uint64
	CompilerVersion string
	SourceHash      [sha256.Size]byte
	Root            script.S
	Source          string // empty unless embedded at compile time
}

// New builds a unit from a checked program. The source text is kept only
// when embed is true; its hash is always recorded.
func New(prog *script.Program, embed bool) *Unit {
	u := &Unit{
		Name:            prog.Name,
		Version:         FormatVersion,
		CompilerVersion: CompilerVersion,
		SourceHash:      sha256.Sum256([]byte(prog.Source)),
		Root:            prog.Root,
	}
	if embed {
		u.Source = prog.Source
	}
	return u
}

// Program returns the executable form of the unit. dir is the base for
// relative file imports.
func (u *Unit) Program(dir string) *script.Program {
	return &script.Program{Name: u.Name, Root: u.Root, Source: u.Source, Dir: dir}
}

// Summary describes a unit for humans and tooling.
type Summary struct {
	Name            string `json:"name"`
	FormatVersion   uint64 `json:"format_version"`
	CompilerVersion string `json:"compiler_version"`
	SourceSHA256    string `json:"source_sha256"`
	Statements      int    `json:"statements"`
	Nodes           int    `json:"nodes"`
	EmbeddedSource  bool   `json:"embedded_source"`
}

// Inspect summarizes u.
func Inspect(u *Unit) Summary {
	return Summary{
		Name:            u.Name,
		FormatVersion:   u.Version,
		CompilerVersion: u.CompilerVersion,
		SourceSHA256:    hex.EncodeToString(u.SourceHash[:]),
		Statements:      len(u.Root) - 1,
		Nodes:           countNodes(u.Root),
		EmbeddedSource:  u.Source != "",
	}
}

func countNodes(n script.S) int {
	total := 1
	for _, x := range n[1:] {
		if c, ok := x.(script.S); ok {
			total += countNodes(c)
		}
	}
	return total
}

package manifest

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/wippyai/dynffi/errors"
	"github.com/wippyai/dynffi/types"
)

// SchemaVersion is bumped whenever the Manifest layout changes.
const SchemaVersion uint16 = 1

// Manifest is a saved set of user typedefs. Only names are stored; sizes
// are recomputed for the platform the manifest is applied to.
type Manifest struct {
	Schema uint16      `msgpack:"schema"`
	Host   string      `msgpack:"host"`
	Defs   []types.Def `msgpack:"defs"`
}

// FromRegistry captures the user typedefs of r in definition order.
func FromRegistry(r *types.Registry) *Manifest {
	return &Manifest{
		Schema: SchemaVersion,
		Host:   r.Platform().Host,
		Defs:   r.Defs(),
	}
}

// Encode writes m as msgpack.
func (m *Manifest) Encode(w io.Writer) error {
	return msgpack.NewEncoder(w).Encode(m)
}

// Decode reads a manifest written by Encode.
func Decode(r io.Reader) (*Manifest, error) {
	var m Manifest
	if err := msgpack.NewDecoder(r).Decode(&m); err != nil {
		return nil, errors.Wrap(errors.PhaseDefine, errors.KindInvalidInput, err, "malformed type manifest")
	}
	if m.Schema != SchemaVersion {
		return nil, errors.InvalidInput(errors.PhaseDefine,
			fmt.Sprintf("type manifest schema %d, want %d", m.Schema, SchemaVersion))
	}
	return &m, nil
}

// Apply defines every typedef of m in r. A name that already exists with
// the same elements is skipped; any other failure stops at that typedef.
// It returns the number of typedefs defined.
func (m *Manifest) Apply(r *types.Registry) (int, error) {
	existing := make(map[string][]string)
	for _, d := range r.Defs() {
		existing[d.Name] = d.Elements
	}

	n := 0
	for _, d := range m.Defs {
		if elems, ok := existing[d.Name]; ok && slices.Equal(elems, d.Elements) {
			continue
		}
		if _, err := r.Define(d.Name, d.Elements...); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Save writes the manifest of r to path, replacing it atomically.
func Save(path string, r *types.Registry) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "types-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	if err := FromRegistry(r).Encode(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}

// Load reads the manifest at path and applies it to r.
func Load(path string, r *types.Registry) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	m, err := Decode(f)
	if err != nil {
		return 0, err
	}
	return m.Apply(r)
}

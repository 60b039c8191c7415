package symbol

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/fxamacker/cbor/v2"
	"github.com/tidwall/gjson"
)

// ErrBadMapping is returned for mapping files that do not describe symbols.
var ErrBadMapping = errors.New("malformed symbol mapping")

// Entry is the source form of one symbol, shared by the TOML, JSON and CBOR
// readers.
type Entry struct {
	Kind         string `toml:"-" cbor:"1,keyasint"`
	Owner        string `toml:"owner,omitempty" cbor:"2,keyasint,omitempty"`
	Logical      string `toml:"logical" cbor:"3,keyasint"`
	Desc         string `toml:"desc,omitempty" cbor:"4,keyasint,omitempty"`
	Stable       string `toml:"stable,omitempty" cbor:"5,keyasint,omitempty"`
	Intermediate string `toml:"intermediate,omitempty" cbor:"6,keyasint,omitempty"`
	Raw          string `toml:"raw,omitempty" cbor:"7,keyasint,omitempty"`
}

func (e Entry) names() []string {
	return []string{e.Stable, e.Intermediate, e.Raw}
}

// Apply registers the entry. Members need their owner registered first.
func (t *Table) Apply(e Entry) (*Symbol, error) {
	kind, err := ParseKind(e.Kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadMapping, e.Logical, err)
	}
	if e.Logical == "" {
		return nil, fmt.Errorf("%w: %s entry without logical name", ErrBadMapping, kind)
	}
	if kind == Class {
		return t.Register(e.Logical, kind, e.names()...)
	}
	owner, err := t.Resolve(e.Owner)
	if err != nil {
		return nil, fmt.Errorf("%s %s: owner: %w", kind, e.Logical, err)
	}
	return t.RegisterMember(owner, e.Logical, kind, e.Desc, e.names()...)
}

// Entries exports the table in registration order.
func (t *Table) Entries() []Entry {
	out := make([]Entry, 0, len(t.order))
	for _, s := range t.order {
		e := Entry{
			Kind:         s.Kind.String(),
			Logical:      s.Logical,
			Desc:         s.Desc,
			Stable:       s.names[Stable],
			Intermediate: s.names[Intermediate],
			Raw:          s.names[Raw],
		}
		if s.Owner != nil {
			e.Owner = s.Owner.Logical
		}
		out = append(out, e)
	}
	return out
}

// ---------------------------------------------------------------------------
// TOML mapping files
// ---------------------------------------------------------------------------

type tomlMapping struct {
	Class  []Entry `toml:"class"`
	Field  []Entry `toml:"field"`
	Method []Entry `toml:"method"`
}

// LoadTOML registers the [[class]], [[field]] and [[method]] tables of a
// TOML mapping. Classes are registered before members.
func (t *Table) LoadTOML(data []byte) error {
	var m tomlMapping
	if err := toml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("%w: %v", ErrBadMapping, err)
	}
	for _, group := range []struct {
		kind    string
		entries []Entry
	}{{"class", m.Class}, {"field", m.Field}, {"method", m.Method}} {
		for _, e := range group.entries {
			e.Kind = group.kind
			if _, err := t.Apply(e); err != nil {
				return err
			}
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// JSON mapping exports
// ---------------------------------------------------------------------------

// LoadJSON registers the symbols of a JSON export:
//
//	{"classes": [{"logical": "...", "names": {"stable": "...", ...}}],
//	 "fields":  [{"owner": "...", "logical": "...", "desc": "...", "names": {...}}],
//	 "methods": [...]}
func (t *Table) LoadJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("%w: invalid JSON", ErrBadMapping)
	}
	root := gjson.ParseBytes(data)
	for _, group := range []struct{ path, kind string }{
		{"classes", "class"}, {"fields", "field"}, {"methods", "method"},
	} {
		var err error
		root.Get(group.path).ForEach(func(_, v gjson.Result) bool {
			e := Entry{
				Kind:         group.kind,
				Owner:        v.Get("owner").String(),
				Logical:      v.Get("logical").String(),
				Desc:         v.Get("desc").String(),
				Stable:       v.Get("names.stable").String(),
				Intermediate: v.Get("names.intermediate").String(),
				Raw:          v.Get("names.raw").String(),
			}
			_, err = t.Apply(e)
			return err == nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// CBOR cache
// ---------------------------------------------------------------------------

const cacheVersion = 1

type cacheFile struct {
	Version int     `cbor:"1,keyasint"`
	Entries []Entry `cbor:"2,keyasint"`
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("symbol: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalCBOR encodes the table as a compiled cache.
func (t *Table) MarshalCBOR() ([]byte, error) {
	return cborEncMode.Marshal(cacheFile{Version: cacheVersion, Entries: t.Entries()})
}

// LoadCBOR decodes a compiled cache into a new table.
func LoadCBOR(data []byte) (*Table, error) {
	var f cacheFile
	if err := cbor.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("symbol: unmarshal cache: %w", err)
	}
	if f.Version != cacheVersion {
		return nil, fmt.Errorf("%w: cache version %d", ErrBadMapping, f.Version)
	}
	t := NewTable()
	for _, e := range f.Entries {
		if _, err := t.Apply(e); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// ---------------------------------------------------------------------------
// Files
// ---------------------------------------------------------------------------

// LoadFile loads a mapping into t, picking the reader by extension:
// .toml, .json, or a compiled .cbor cache.
func (t *Table) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = t.LoadTOML(data)
	case ".json":
		err = t.LoadJSON(data)
	case ".cbor":
		var cached *Table
		if cached, err = LoadCBOR(data); err == nil {
			for _, e := range cached.Entries() {
				if _, err = t.Apply(e); err != nil {
					break
				}
			}
		}
	default:
		err = fmt.Errorf("%w: unsupported mapping extension %q", ErrBadMapping, filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

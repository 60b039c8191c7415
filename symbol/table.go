package symbol

import (
	"errors"
	"fmt"

	"github.com/chazu/modhook/classfile"
	"github.com/chazu/modhook/diag"
)

var (
	// ErrNoCandidates means a symbol was registered without any spelling.
	// It indicates a stale table and is always fatal.
	ErrNoCandidates = errors.New("symbol has no candidate names")
	// ErrUnknownSymbol is returned when resolving an unregistered name.
	ErrUnknownSymbol = errors.New("unknown symbol")
	// ErrDuplicateSymbol is returned when a key is registered twice.
	ErrDuplicateSymbol = errors.New("symbol already registered")
)

// ---------------------------------------------------------------------------
// Table
// ---------------------------------------------------------------------------

// Table maps logical names to symbols. It is filled during load and only
// read afterwards, so it takes no locks.
type Table struct {
	byKey   map[string]*Symbol
	order   []*Symbol
	classes map[string]*Symbol // physical class name -> symbol
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		byKey:   make(map[string]*Symbol),
		classes: make(map[string]*Symbol),
	}
}

// Register adds a class symbol. names holds one spelling per profile in
// profile order; missing trailing profiles reuse the last spelling and
// empty entries fall back to the previous profile.
func (t *Table) Register(logical string, kind Kind, names ...string) (*Symbol, error) {
	return t.add(&Symbol{Logical: logical, Kind: kind}, names)
}

// RegisterMember adds a field or method symbol owned by a class symbol.
func (t *Table) RegisterMember(owner *Symbol, logical string, kind Kind, desc string, names ...string) (*Symbol, error) {
	if owner == nil {
		return nil, diag.Fatal(logical, fmt.Errorf("%w: member without owner", ErrUnknownSymbol))
	}
	return t.add(&Symbol{Logical: logical, Kind: kind, Owner: owner, Desc: desc}, names)
}

// MustRegister is Register for static tables; it panics on error.
func (t *Table) MustRegister(logical string, kind Kind, names ...string) *Symbol {
	s, err := t.Register(logical, kind, names...)
	if err != nil {
		panic(err)
	}
	return s
}

// MustRegisterMember is RegisterMember for static tables; it panics on
// error.
func (t *Table) MustRegisterMember(owner *Symbol, logical string, kind Kind, desc string, names ...string) *Symbol {
	s, err := t.RegisterMember(owner, logical, kind, desc, names...)
	if err != nil {
		panic(err)
	}
	return s
}

func (t *Table) add(s *Symbol, names []string) (*Symbol, error) {
	key := s.Key()
	if !fillNames(s, names) {
		return nil, diag.Fatal(key, ErrNoCandidates)
	}
	if _, dup := t.byKey[key]; dup {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSymbol, key)
	}
	t.byKey[key] = s
	t.order = append(t.order, s)
	if s.Kind == Class {
		for _, c := range s.cands {
			if _, taken := t.classes[c]; !taken {
				t.classes[c] = s
			}
		}
	}
	return s, nil
}

// fillNames spreads names over the profiles and collapses duplicates.
func fillNames(s *Symbol, names []string) bool {
	last := ""
	for p := 0; p < NumProfiles; p++ {
		if p < len(names) && names[p] != "" {
			last = names[p]
		}
		s.names[p] = last
	}
	if last == "" {
		return false
	}
	// Leading empty profiles take the first spelling given.
	for p := NumProfiles - 1; p > 0; p-- {
		if s.names[p-1] == "" {
			s.names[p-1] = s.names[p]
		}
	}
	s.cands = s.cands[:0]
	for _, n := range s.names {
		dup := false
		for _, c := range s.cands {
			if c == n {
				dup = true
				break
			}
		}
		if !dup {
			s.cands = append(s.cands, n)
		}
	}
	return true
}

// Resolve returns the symbol registered under key.
func (t *Table) Resolve(key string) (*Symbol, error) {
	if s, ok := t.byKey[key]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, key)
}

// Lookup is Resolve without the error.
func (t *Table) Lookup(key string) (*Symbol, bool) {
	s, ok := t.byKey[key]
	return s, ok
}

// ClassFor returns the class symbol one of whose spellings is physical.
func (t *Table) ClassFor(physical string) (*Symbol, bool) {
	s, ok := t.classes[physical]
	return s, ok
}

// Symbols returns every symbol in registration order.
func (t *Table) Symbols() []*Symbol {
	return t.order
}

// Len returns the number of registered symbols.
func (t *Table) Len() int {
	return len(t.order)
}

// Members returns the registered members of a class symbol.
func (t *Table) Members(owner *Symbol) []*Symbol {
	var out []*Symbol
	for _, s := range t.order {
		if s.Owner == owner {
			out = append(out, s)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Descriptor remapping
// ---------------------------------------------------------------------------

// MapDesc rewrites the logical class names in desc into their spelling
// under profile p. Unknown classes are kept as written.
func (t *Table) MapDesc(desc string, p Profile) string {
	return classfile.MapClassNames(desc, func(name string) string {
		if s, ok := t.byKey[name]; ok && s.Kind == Class {
			return s.Name(p)
		}
		return name
	})
}

// DescCandidates returns the distinct physical spellings of a logical
// descriptor, one per profile.
func (t *Table) DescCandidates(desc string) []string {
	if desc == "" {
		return nil
	}
	out := make([]string, 0, NumProfiles)
	for p := Profile(0); p < NumProfiles; p++ {
		d := t.MapDesc(desc, p)
		dup := false
		for _, o := range out {
			if o == d {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, d)
		}
	}
	return out
}

// DescMatches reports whether a physical descriptor spells the logical
// descriptor under some profile. An empty logical descriptor matches
// anything.
func (t *Table) DescMatches(logical, physical string) bool {
	if logical == "" {
		return true
	}
	for _, d := range t.DescCandidates(logical) {
		if d == physical {
			return true
		}
	}
	return false
}

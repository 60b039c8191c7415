// Package symbol resolves logical host symbols to the physical names they
// carry under each naming profile, and matches physical names found in
// class files against those candidate lists.
package symbol

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Profiles and kinds
// ---------------------------------------------------------------------------

// Profile is a naming convention of the host build.
type Profile int

const (
	Stable       Profile = iota // human readable names
	Intermediate                // stable machine names shared across versions
	Raw                         // obfuscated names of a release build
)

// NumProfiles is the number of naming profiles.
const NumProfiles = 3

var profileNames = [NumProfiles]string{"stable", "intermediate", "raw"}

func (p Profile) String() string {
	if p < 0 || int(p) >= NumProfiles {
		return fmt.Sprintf("profile(%d)", int(p))
	}
	return profileNames[p]
}

// ParseProfile parses "stable", "intermediate" or "raw".
func ParseProfile(s string) (Profile, error) {
	for i, n := range profileNames {
		if strings.EqualFold(s, n) {
			return Profile(i), nil
		}
	}
	return 0, fmt.Errorf("unknown naming profile %q", s)
}

// Kind is what a symbol names.
type Kind int

const (
	Class Kind = iota
	Field
	Method
)

func (k Kind) String() string {
	switch k {
	case Class:
		return "class"
	case Field:
		return "field"
	case Method:
		return "method"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind parses "class", "field" or "method".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "class":
		return Class, nil
	case "field":
		return Field, nil
	case "method":
		return Method, nil
	}
	return 0, fmt.Errorf("unknown symbol kind %q", s)
}

// ---------------------------------------------------------------------------
// Symbol
// ---------------------------------------------------------------------------

// Symbol is a logical identifier with its physical spellings. Class names
// are internal names ("a/b/C").
type Symbol struct {
	Logical string
	Kind    Kind
	Owner   *Symbol // declaring class of a field or method
	Desc    string  // logical descriptor of a field or method, may be empty

	names [NumProfiles]string
	cands []string
}

// Name returns the spelling under profile p.
func (s *Symbol) Name(p Profile) string {
	if p < 0 || int(p) >= NumProfiles {
		return ""
	}
	return s.names[p]
}

// Candidates returns the distinct spellings in profile order.
func (s *Symbol) Candidates() []string {
	return s.cands
}

// Matches reports whether physical is one of the candidate spellings.
func (s *Symbol) Matches(physical string) bool {
	if s == nil {
		return false
	}
	for _, c := range s.cands {
		if c == physical {
			return true
		}
	}
	return false
}

// Key returns the table key: the logical name for classes and
// "Owner.name" for members.
func (s *Symbol) Key() string {
	if s.Owner == nil {
		return s.Logical
	}
	return MemberKey(s.Owner.Logical, s.Logical)
}

func (s *Symbol) String() string {
	return fmt.Sprintf("%s %s %v", s.Kind, s.Key(), s.cands)
}

// MemberKey builds the table key of a field or method.
func MemberKey(owner, name string) string {
	return owner + "." + name
}

// Matches reports whether physical is a candidate of s and, for a
// non-negative ordinal, whether it is that occurrence. seen is the number
// of matching occurrences counted earlier in the scan; Matcher keeps it.
func Matches(s *Symbol, physical string, ordinal, seen int) bool {
	if !s.Matches(physical) {
		return false
	}
	return ordinal < 0 || seen == ordinal
}

// ---------------------------------------------------------------------------
// Matcher: ordinal selection within one scan
// ---------------------------------------------------------------------------

// Matcher counts matching occurrences during a scan and selects the Nth
// one (0-based). A negative ordinal selects every occurrence.
type Matcher struct {
	Ordinal int
	seen    int
}

// NewMatcher creates a matcher for one scan.
func NewMatcher(ordinal int) *Matcher {
	return &Matcher{Ordinal: ordinal}
}

// Hit records one matching occurrence and reports whether it is selected.
func (m *Matcher) Hit() bool {
	n := m.seen
	m.seen++
	return m.Ordinal < 0 || n == m.Ordinal
}

// Match checks physical against s and counts it when it matches.
func (m *Matcher) Match(s *Symbol, physical string) bool {
	if !s.Matches(physical) {
		return false
	}
	ok := Matches(s, physical, m.Ordinal, m.seen)
	m.seen++
	return ok
}

// Seen returns how many matching occurrences were counted.
func (m *Matcher) Seen() int {
	return m.seen
}

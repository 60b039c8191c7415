// Package point holds the injection point strategies: predicates that scan
// a method's instruction stream and return the sites to inject at.
//
// Strategies are deterministic and side-effect free. Finding nothing is
// not an error; Locate surfaces it as a found flag for the caller to
// report.
package point

import (
	"fmt"

	"github.com/chazu/modhook/classfile"
	"github.com/chazu/modhook/symbol"
)

// All is the ordinal that selects every matching occurrence.
const All = -1

// Site is a located insertion point: injected code goes in front of Insn,
// or right behind it when After is set.
type Site struct {
	Method  *classfile.Method
	Insn    *classfile.Insn
	Index   int // position of Insn in Method.Code.Insns at scan time
	Ordinal int // occurrence number among the instructions that matched
	After   bool
}

// Pos is the stream position the injected code takes.
func (s Site) Pos() int {
	if s.After {
		return s.Index + 1
	}
	return s.Index
}

func (s Site) String() string {
	where := "@"
	if s.After {
		where = "@+"
	}
	return fmt.Sprintf("%s%s%s%d(%s #%d)", s.Method.Name, s.Method.Desc, where, s.Index, s.Insn.Op, s.Ordinal)
}

// Strategy finds sites in one method.
type Strategy interface {
	Find(m *classfile.Method) []Site
	String() string
}

// Locate runs s and reports whether anything was found.
func Locate(s Strategy, m *classfile.Method) ([]Site, bool) {
	sites := s.Find(m)
	return sites, len(sites) > 0
}

// scan walks the real instructions of m, counting those accepted by match
// and keeping the ones the ordinal selects.
func scan(m *classfile.Method, ordinal int, match func(*classfile.Insn) bool) []Site {
	if m == nil || m.Code == nil {
		return nil
	}
	counter := symbol.NewMatcher(ordinal)
	var sites []Site
	for i, in := range m.Code.Insns {
		if !in.IsReal() || !match(in) {
			continue
		}
		n := counter.Seen()
		if counter.Hit() {
			sites = append(sites, Site{Method: m, Insn: in, Index: i, Ordinal: n})
		}
	}
	return sites
}

func ordinalString(o int) string {
	if o < 0 {
		return "*"
	}
	return fmt.Sprint(o)
}

// ---------------------------------------------------------------------------
// MethodHead
// ---------------------------------------------------------------------------

// MethodHead selects the first real instruction of the method.
type MethodHead struct{}

func (MethodHead) Find(m *classfile.Method) []Site {
	return scan(m, 0, func(*classfile.Insn) bool { return true })
}

func (MethodHead) String() string { return "HEAD" }

// ---------------------------------------------------------------------------
// BeforeReturn
// ---------------------------------------------------------------------------

// BeforeReturn selects return instructions whose opcode matches the
// method's declared return type.
type BeforeReturn struct {
	Ordinal int
}

// Return selects every return.
func Return() BeforeReturn { return BeforeReturn{Ordinal: All} }

func (p BeforeReturn) Find(m *classfile.Method) []Site {
	if m == nil {
		return nil
	}
	mt, err := m.Type()
	if err != nil {
		return nil
	}
	want := classfile.ReturnOp(mt.Return)
	return scan(m, p.Ordinal, func(in *classfile.Insn) bool { return in.Op == want })
}

func (p BeforeReturn) String() string { return "RETURN[" + ordinalString(p.Ordinal) + "]" }

// ---------------------------------------------------------------------------
// BeforeInvoke
// ---------------------------------------------------------------------------

// BeforeInvoke selects invocations of a method symbol. Owner and Desc
// narrow the match when set; Desc holds candidate physical descriptors
// (see symbol.Table.DescCandidates).
type BeforeInvoke struct {
	Name    *symbol.Symbol
	Owner   *symbol.Symbol
	Desc    []string
	Ordinal int
}

// Invoke selects every invocation of name.
func Invoke(name *symbol.Symbol) BeforeInvoke { return BeforeInvoke{Name: name, Ordinal: All} }

func (p BeforeInvoke) Find(m *classfile.Method) []Site {
	return scan(m, p.Ordinal, func(in *classfile.Insn) bool {
		return in.Kind() == classfile.KindInvoke && in.Op != classfile.OpInvokedynamic &&
			memberMatches(in, p.Name, p.Owner, p.Desc)
	})
}

func (p BeforeInvoke) String() string {
	return fmt.Sprintf("INVOKE %s[%s]", symbolName(p.Name), ordinalString(p.Ordinal))
}

// ---------------------------------------------------------------------------
// BeforeFieldAccess
// ---------------------------------------------------------------------------

// Access selects field reads, writes or both.
type Access int

const (
	Any Access = iota
	Read
	Write
)

func (a Access) String() string {
	switch a {
	case Read:
		return "GET"
	case Write:
		return "PUT"
	}
	return "FIELD"
}

// BeforeFieldAccess selects getfield/getstatic and putfield/putstatic
// instructions of a field symbol.
type BeforeFieldAccess struct {
	Name    *symbol.Symbol
	Owner   *symbol.Symbol
	Desc    []string
	Access  Access
	Ordinal int
}

// FieldAccess selects every access of name in the given direction.
func FieldAccess(name *symbol.Symbol, access Access) BeforeFieldAccess {
	return BeforeFieldAccess{Name: name, Access: access, Ordinal: All}
}

func (p BeforeFieldAccess) Find(m *classfile.Method) []Site {
	return scan(m, p.Ordinal, func(in *classfile.Insn) bool {
		switch {
		case in.IsFieldRead():
			if p.Access == Write {
				return false
			}
		case in.IsFieldWrite():
			if p.Access == Read {
				return false
			}
		default:
			return false
		}
		return memberMatches(in, p.Name, p.Owner, p.Desc)
	})
}

func (p BeforeFieldAccess) String() string {
	return fmt.Sprintf("%s %s[%s]", p.Access, symbolName(p.Name), ordinalString(p.Ordinal))
}

// ---------------------------------------------------------------------------
// BeforeNew
// ---------------------------------------------------------------------------

// BeforeNew selects new instructions constructing a class symbol.
type BeforeNew struct {
	Type    *symbol.Symbol
	Ordinal int
}

// New selects every construction of typ.
func New(typ *symbol.Symbol) BeforeNew { return BeforeNew{Type: typ, Ordinal: All} }

func (p BeforeNew) Find(m *classfile.Method) []Site {
	return scan(m, p.Ordinal, func(in *classfile.Insn) bool {
		return in.Op == classfile.OpNew && p.Type.Matches(in.Type)
	})
}

func (p BeforeNew) String() string {
	return fmt.Sprintf("NEW %s[%s]", symbolName(p.Type), ordinalString(p.Ordinal))
}

// ---------------------------------------------------------------------------
// Composites
// ---------------------------------------------------------------------------

// After moves every site of Inner to just behind its instruction, ahead of
// any label that follows it, so only the path through the instruction
// reaches the injected code. Instructions control never falls through
// are dropped.
type After struct {
	Inner Strategy
}

func (p After) Find(m *classfile.Method) []Site {
	inner := p.Inner.Find(m)
	if len(inner) == 0 {
		return nil
	}
	var sites []Site
	seen := make(map[int]bool, len(inner))
	for _, s := range inner {
		if s.After || s.Insn.Op.EndsBlock() || seen[s.Index] {
			continue
		}
		seen[s.Index] = true
		s.After = true
		sites = append(sites, s)
	}
	return sites
}

func (p After) String() string { return "AFTER " + p.Inner.String() }

// Following keeps the sites of Inner that come after the first site of
// Anchor. Without an anchor site nothing is found.
type Following struct {
	Anchor Strategy
	Inner  Strategy
}

func (p Following) Find(m *classfile.Method) []Site {
	anchors := p.Anchor.Find(m)
	if len(anchors) == 0 {
		return nil
	}
	first := anchors[0].Pos()
	var sites []Site
	for _, s := range p.Inner.Find(m) {
		if s.Pos() > first {
			sites = append(sites, s)
		}
	}
	return sites
}

func (p Following) String() string {
	return p.Inner.String() + " FOLLOWING " + p.Anchor.String()
}

// ---------------------------------------------------------------------------
// Matching helpers
// ---------------------------------------------------------------------------

func memberMatches(in *classfile.Insn, name, owner *symbol.Symbol, desc []string) bool {
	if !name.Matches(in.Name) {
		return false
	}
	if owner != nil && !owner.Matches(in.Owner) {
		return false
	}
	if len(desc) == 0 {
		return true
	}
	for _, d := range desc {
		if d == in.Desc {
			return true
		}
	}
	return false
}

func symbolName(s *symbol.Symbol) string {
	if s == nil {
		return "?"
	}
	return s.Key()
}

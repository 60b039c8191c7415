// Package accessor exposes private host members through interfaces: it
// adds a declared interface to the target class and synthesizes getter,
// setter and invoker bodies for its methods.
package accessor

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/chazu/modhook/classfile"
	"github.com/chazu/modhook/symbol"
)

// Annotation types read by ParseInterface.
const (
	AccessorAnnotation = "modhook/api/Accessor"
	InvokerAnnotation  = "modhook/api/Invoker"
	TargetAnnotation   = "modhook/api/Target"
)

var (
	// ErrBadInterface is returned for interface class files that do not
	// describe an accessor.
	ErrBadInterface = errors.New("not an accessor interface")
	// ErrAccessorTarget is reported when a target member cannot be
	// resolved.
	ErrAccessorTarget = errors.New("accessor target not found")
)

// Kind is what a synthesized body does.
type Kind int

const (
	Getter Kind = iota
	Setter
	Invoker
)

func (k Kind) String() string {
	switch k {
	case Getter:
		return "getter"
	case Setter:
		return "setter"
	case Invoker:
		return "invoker"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Method is one interface method and the member it exposes.
type Method struct {
	Name    string // interface method name
	Desc    string // interface method descriptor, implemented as written
	Kind    Kind
	Logical string         // logical member name
	Member  *symbol.Symbol // nil when the symbol table has no such member
}

// Interface is a declarative accessor interface.
type Interface struct {
	Name    string // internal name of the interface
	Target  *symbol.Symbol
	Methods []Method
}

// Field adds a getter or setter for a field member, choosing the kind
// from desc, and returns i.
func (i *Interface) Field(name, desc string, member *symbol.Symbol) *Interface {
	kind := Getter
	if mt, err := classfile.ParseMethodDesc(desc); err == nil && len(mt.Args) == 1 {
		kind = Setter
	}
	i.Methods = append(i.Methods, Method{Name: name, Desc: desc, Kind: kind, Logical: member.Logical, Member: member})
	return i
}

// Invoke adds an invoker for a method member and returns i.
func (i *Interface) Invoke(name, desc string, member *symbol.Symbol) *Interface {
	i.Methods = append(i.Methods, Method{Name: name, Desc: desc, Kind: Invoker, Logical: member.Logical, Member: member})
	return i
}

// ParseInterface reads an annotated interface class file:
//
//	@Target("Player") interface PlayerAccess {
//	    @Accessor("health") int getHealth();
//	    @Accessor("health") void setHealth(int v);
//	    @Invoker("heal") void callHeal(int amount);
//	}
//
// An empty @Accessor value is derived from a get/set/is method name.
// Members missing from table are kept with a nil Member and reported when
// the interface is applied.
func ParseInterface(data []byte, table *symbol.Table) (*Interface, error) {
	c, err := classfile.Parse(data)
	if err != nil {
		return nil, err
	}
	if !c.IsInterface() {
		return nil, fmt.Errorf("%w: %s is a class", ErrBadInterface, c.Name)
	}
	ann, err := c.FindAnnotation(c.Attrs, TargetAnnotation)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.Name, err)
	}
	if ann == nil {
		return nil, fmt.Errorf("%w: %s has no @Target", ErrBadInterface, c.Name)
	}
	logical, _ := ann.String("value")
	target, err := table.Resolve(logical)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.Name, err)
	}

	iface := &Interface{Name: c.Name, Target: target}
	for _, m := range c.Methods {
		acc, err := c.FindAnnotation(m.Attrs, AccessorAnnotation)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", c.Name, m.Name, err)
		}
		inv, err := c.FindAnnotation(m.Attrs, InvokerAnnotation)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", c.Name, m.Name, err)
		}

		var am Method
		switch {
		case acc != nil:
			am, err = accessorMethod(m, acc)
		case inv != nil:
			name, _ := inv.String("value")
			if name == "" {
				name = m.Name
			}
			am = Method{Name: m.Name, Desc: m.Desc, Kind: Invoker, Logical: name}
		default:
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.Name, err)
		}
		am.Member, _ = table.Lookup(symbol.MemberKey(target.Logical, am.Logical))
		iface.Methods = append(iface.Methods, am)
	}
	return iface, nil
}

func accessorMethod(m *classfile.Method, ann *classfile.Annotation) (Method, error) {
	mt, err := m.Type()
	if err != nil {
		return Method{}, err
	}
	am := Method{Name: m.Name, Desc: m.Desc}
	switch {
	case len(mt.Args) == 0 && mt.Return != "V":
		am.Kind = Getter
	case len(mt.Args) == 1 && mt.Return == "V":
		am.Kind = Setter
	default:
		return am, fmt.Errorf("%w: accessor %s%s is neither getter nor setter", ErrBadInterface, m.Name, m.Desc)
	}
	am.Logical, _ = ann.String("value")
	if am.Logical == "" {
		am.Logical = inferName(m.Name)
	}
	if am.Logical == "" {
		return am, fmt.Errorf("%w: cannot derive a field name from %s", ErrBadInterface, m.Name)
	}
	return am, nil
}

// inferName turns getFoo, setFoo and isFoo into foo.
func inferName(method string) string {
	for _, prefix := range []string{"get", "set", "is"} {
		rest, ok := strings.CutPrefix(method, prefix)
		if !ok || rest == "" {
			continue
		}
		r, n := utf8.DecodeRuneInString(rest)
		if !unicode.IsUpper(r) {
			continue
		}
		return string(unicode.ToLower(r)) + rest[n:]
	}
	return ""
}

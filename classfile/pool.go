package classfile

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// Constant pool tags.
const (
	TagUTF8               = 1
	TagInteger            = 3
	TagFloat              = 4
	TagLong               = 5
	TagDouble             = 6
	TagClass              = 7
	TagString             = 8
	TagFieldref           = 9
	TagMethodref          = 10
	TagInterfaceMethodref = 11
	TagNameAndType        = 12
	TagMethodHandle       = 15
	TagMethodType         = 16
	TagDynamic            = 17
	TagInvokeDynamic      = 18
	TagModule             = 19
	TagPackage            = 20
)

var (
	ErrPoolIndex    = errors.New("constant pool index out of range")
	ErrPoolTag      = errors.New("unexpected constant pool tag")
	ErrPoolOverflow = errors.New("constant pool exceeds 65535 entries")
)

// Constant is one constant pool entry. Which fields are meaningful depends
// on Tag: Str for UTF8, Bits for numeric constants, A and B for entries that
// reference other entries (class name, name-and-type, handle kind, ...).
type Constant struct {
	Tag  uint8
	Str  string // raw modified UTF-8 bytes
	Bits uint64
	A, B uint16
}

// Pool is an append-only constant pool. Index 0 is unused, and long/double
// entries occupy two slots as in the class file.
type Pool struct {
	entries []Constant
	index   map[string]uint16
	err     error
}

// NewPool creates an empty constant pool.
func NewPool() *Pool {
	return &Pool{
		entries: make([]Constant, 1, 64),
		index:   make(map[string]uint16),
	}
}

// Len returns the constant_pool_count value (number of slots including 0).
func (p *Pool) Len() int {
	return len(p.entries)
}

// Err returns the first overflow error hit while adding entries.
func (p *Pool) Err() error {
	return p.err
}

// Get returns the entry at index i.
func (p *Pool) Get(i uint16) (*Constant, error) {
	if i == 0 || int(i) >= len(p.entries) || p.entries[i].Tag == 0 {
		return nil, fmt.Errorf("%w: %d", ErrPoolIndex, i)
	}
	return &p.entries[i], nil
}

func (p *Pool) typed(i uint16, tags ...uint8) (*Constant, error) {
	c, err := p.Get(i)
	if err != nil {
		return nil, err
	}
	for _, t := range tags {
		if c.Tag == t {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: index %d has tag %d", ErrPoolTag, i, c.Tag)
}

// UTF8 returns the string stored in a UTF8 entry.
func (p *Pool) UTF8(i uint16) (string, error) {
	c, err := p.typed(i, TagUTF8)
	if err != nil {
		return "", err
	}
	return c.Str, nil
}

// ClassName returns the internal name referenced by a Class entry.
func (p *Pool) ClassName(i uint16) (string, error) {
	c, err := p.typed(i, TagClass)
	if err != nil {
		return "", err
	}
	return p.UTF8(c.A)
}

// NameAndType returns the name and descriptor of a NameAndType entry.
func (p *Pool) NameAndType(i uint16) (name, desc string, err error) {
	c, err := p.typed(i, TagNameAndType)
	if err != nil {
		return "", "", err
	}
	if name, err = p.UTF8(c.A); err != nil {
		return "", "", err
	}
	desc, err = p.UTF8(c.B)
	return name, desc, err
}

// MemberRef resolves a Fieldref, Methodref or InterfaceMethodref entry.
func (p *Pool) MemberRef(i uint16) (owner, name, desc string, itf bool, err error) {
	c, err := p.typed(i, TagFieldref, TagMethodref, TagInterfaceMethodref)
	if err != nil {
		return "", "", "", false, err
	}
	if owner, err = p.ClassName(c.A); err != nil {
		return "", "", "", false, err
	}
	name, desc, err = p.NameAndType(c.B)
	return owner, name, desc, c.Tag == TagInterfaceMethodref, err
}

// Describe renders an entry for disassembly.
func (p *Pool) Describe(i uint16) string {
	c, err := p.Get(i)
	if err != nil {
		return fmt.Sprintf("#%d?", i)
	}
	switch c.Tag {
	case TagUTF8:
		return strconv.Quote(c.Str)
	case TagInteger:
		return strconv.Itoa(int(int32(c.Bits)))
	case TagFloat:
		return strconv.FormatFloat(float64(math.Float32frombits(uint32(c.Bits))), 'g', -1, 32) + "f"
	case TagLong:
		return strconv.FormatInt(int64(c.Bits), 10) + "L"
	case TagDouble:
		return strconv.FormatFloat(math.Float64frombits(c.Bits), 'g', -1, 64) + "d"
	case TagClass:
		n, _ := p.ClassName(i)
		return n + ".class"
	case TagString:
		s, _ := p.UTF8(c.A)
		return strconv.Quote(s)
	case TagMethodType:
		s, _ := p.UTF8(c.A)
		return "(methodtype " + s + ")"
	case TagDynamic, TagInvokeDynamic:
		n, d, _ := p.NameAndType(c.B)
		return fmt.Sprintf("bsm#%d:%s%s", c.A, n, d)
	}
	return fmt.Sprintf("#%d", i)
}

// ---------------------------------------------------------------------------
// Adding entries
// ---------------------------------------------------------------------------

func (p *Pool) add(key string, c Constant) uint16 {
	if i, ok := p.index[key]; ok {
		return i
	}
	slots := 1
	if c.Tag == TagLong || c.Tag == TagDouble {
		slots = 2
	}
	if len(p.entries)+slots > math.MaxUint16 {
		if p.err == nil {
			p.err = ErrPoolOverflow
		}
		return 0
	}
	i := uint16(len(p.entries))
	p.entries = append(p.entries, c)
	if slots == 2 {
		p.entries = append(p.entries, Constant{})
	}
	p.index[key] = i
	return i
}

// keyOf returns the dedup key of an entry, or "" for entries that are
// never shared (method handles and dynamic constants keep their slot).
func keyOf(c Constant) string {
	switch c.Tag {
	case TagUTF8:
		return "u" + c.Str
	case TagInteger, TagFloat, TagLong, TagDouble:
		return fmt.Sprintf("%d:%x", c.Tag, c.Bits)
	case TagClass, TagString, TagMethodType, TagModule, TagPackage:
		return fmt.Sprintf("%d:%d", c.Tag, c.A)
	case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType:
		return fmt.Sprintf("%d:%d:%d", c.Tag, c.A, c.B)
	}
	return ""
}

// AddUTF8 returns the index of a UTF8 entry, adding it if needed.
func (p *Pool) AddUTF8(s string) uint16 {
	return p.add("u"+s, Constant{Tag: TagUTF8, Str: s})
}

// AddClass returns the index of a Class entry for an internal name.
func (p *Pool) AddClass(name string) uint16 {
	n := p.AddUTF8(name)
	return p.add(fmt.Sprintf("%d:%d", TagClass, n), Constant{Tag: TagClass, A: n})
}

// AddString returns the index of a String entry.
func (p *Pool) AddString(s string) uint16 {
	n := p.AddUTF8(s)
	return p.add(fmt.Sprintf("%d:%d", TagString, n), Constant{Tag: TagString, A: n})
}

// AddInteger returns the index of an Integer entry.
func (p *Pool) AddInteger(v int32) uint16 {
	c := Constant{Tag: TagInteger, Bits: uint64(uint32(v))}
	return p.add(keyOf(c), c)
}

// AddFloat returns the index of a Float entry.
func (p *Pool) AddFloat(v float32) uint16 {
	c := Constant{Tag: TagFloat, Bits: uint64(math.Float32bits(v))}
	return p.add(keyOf(c), c)
}

// AddLong returns the index of a Long entry.
func (p *Pool) AddLong(v int64) uint16 {
	c := Constant{Tag: TagLong, Bits: uint64(v)}
	return p.add(keyOf(c), c)
}

// AddDouble returns the index of a Double entry.
func (p *Pool) AddDouble(v float64) uint16 {
	c := Constant{Tag: TagDouble, Bits: math.Float64bits(v)}
	return p.add(keyOf(c), c)
}

// AddNameAndType returns the index of a NameAndType entry.
func (p *Pool) AddNameAndType(name, desc string) uint16 {
	n, d := p.AddUTF8(name), p.AddUTF8(desc)
	return p.add(fmt.Sprintf("%d:%d:%d", TagNameAndType, n, d), Constant{Tag: TagNameAndType, A: n, B: d})
}

func (p *Pool) addRef(tag uint8, owner, name, desc string) uint16 {
	c, nt := p.AddClass(owner), p.AddNameAndType(name, desc)
	return p.add(fmt.Sprintf("%d:%d:%d", tag, c, nt), Constant{Tag: tag, A: c, B: nt})
}

// AddFieldref returns the index of a Fieldref entry.
func (p *Pool) AddFieldref(owner, name, desc string) uint16 {
	return p.addRef(TagFieldref, owner, name, desc)
}

// AddMethodref returns the index of a Methodref or InterfaceMethodref entry.
func (p *Pool) AddMethodref(owner, name, desc string, itf bool) uint16 {
	if itf {
		return p.addRef(TagInterfaceMethodref, owner, name, desc)
	}
	return p.addRef(TagMethodref, owner, name, desc)
}

// AddConstant adds a loadable Go value: int32, int, float32, int64,
// float64, string, or a ClassConst.
func (p *Pool) AddConstant(v any) (uint16, error) {
	switch x := v.(type) {
	case int32:
		return p.AddInteger(x), nil
	case int:
		if x < math.MinInt32 || x > math.MaxInt32 {
			return 0, fmt.Errorf("integer constant %d out of range", x)
		}
		return p.AddInteger(int32(x)), nil
	case float32:
		return p.AddFloat(x), nil
	case int64:
		return p.AddLong(x), nil
	case float64:
		return p.AddDouble(x), nil
	case string:
		return p.AddString(x), nil
	case ClassConst:
		return p.AddClass(string(x)), nil
	}
	return 0, fmt.Errorf("unsupported constant type %T", v)
}

// ClassConst is a class literal for ldc.
type ClassConst string

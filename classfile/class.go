package classfile

import (
	"errors"
	"fmt"
)

// Magic is the class file signature.
const Magic = 0xCAFEBABE

// Access flags shared by classes, fields and methods.
const (
	AccPublic       = 0x0001
	AccPrivate      = 0x0002
	AccProtected    = 0x0004
	AccStatic       = 0x0008
	AccFinal        = 0x0010
	AccSuper        = 0x0020
	AccSynchronized = 0x0020
	AccVolatile     = 0x0040
	AccBridge       = 0x0040
	AccTransient    = 0x0080
	AccVarargs      = 0x0080
	AccNative       = 0x0100
	AccInterface    = 0x0200
	AccAbstract     = 0x0400
	AccSynthetic    = 0x1000
	AccAnnotation   = 0x2000
	AccEnum         = 0x4000
)

// FramesFreeMajor is the newest class version that may run without a
// StackMapTable.
const FramesFreeMajor = 50

// ErrFramesRequired is returned when a modified method belongs to a class
// version whose verifier requires stack map frames.
var ErrFramesRequired = errors.New("modified method requires stack map frames")

// Code attributes whose offsets go stale once the stream changes.
var offsetBoundAttrs = map[string]bool{
	AttrStackMapTable:                true,
	"RuntimeVisibleTypeAnnotations":   true,
	"RuntimeInvisibleTypeAnnotations": true,
}

// Attribute is an attribute kept verbatim.
type Attribute struct {
	Name string
	Data []byte
}

// ---------------------------------------------------------------------------
// Members
// ---------------------------------------------------------------------------

// Field is a field declaration.
type Field struct {
	Access uint16
	Name   string
	Desc   string
	Attrs  []Attribute
}

// IsStatic reports whether the field is static.
func (f *Field) IsStatic() bool { return f.Access&AccStatic != 0 }

// Method is a method declaration. Code is nil for abstract and native
// methods.
type Method struct {
	Access uint16
	Name   string
	Desc   string
	Code   *Code
	Attrs  []Attribute // non-Code attributes

	codeAt int // position of the Code attribute among Attrs
}

// IsStatic reports whether the method is static.
func (m *Method) IsStatic() bool { return m.Access&AccStatic != 0 }

// IsPrivate reports whether the method is private.
func (m *Method) IsPrivate() bool { return m.Access&AccPrivate != 0 }

// IsAbstract reports whether the method is abstract.
func (m *Method) IsAbstract() bool { return m.Access&AccAbstract != 0 }

// Key returns name+descriptor, the identity of a method within its class.
func (m *Method) Key() string { return m.Name + m.Desc }

// Type parses the method descriptor.
func (m *Method) Type() (MethodType, error) { return ParseMethodDesc(m.Desc) }

// Attr returns a method attribute by name.
func (m *Method) Attr(name string) *Attribute {
	return findAttr(m.Attrs, name)
}

// ---------------------------------------------------------------------------
// Class
// ---------------------------------------------------------------------------

// Class is the in-memory model of one class file. It is built by Parse,
// mutated in place and turned back into bytes by Bytes.
type Class struct {
	Minor, Major uint16
	Pool         *Pool
	Access       uint16
	Name         string
	Super        string // empty for java/lang/Object
	Interfaces   []string
	Fields       []*Field
	Methods      []*Method
	Attrs        []Attribute
}

// IsInterface reports whether the class is an interface.
func (c *Class) IsInterface() bool { return c.Access&AccInterface != 0 }

// FindMethod returns the method with the given name and descriptor. An
// empty desc matches the first method with that name.
func (c *Class) FindMethod(name, desc string) *Method {
	for _, m := range c.Methods {
		if m.Name == name && (desc == "" || m.Desc == desc) {
			return m
		}
	}
	return nil
}

// FindField returns the field with the given name and descriptor. An empty
// desc matches the first field with that name.
func (c *Class) FindField(name, desc string) *Field {
	for _, f := range c.Fields {
		if f.Name == name && (desc == "" || f.Desc == desc) {
			return f
		}
	}
	return nil
}

// HasInterface reports whether name is in the implemented list.
func (c *Class) HasInterface(name string) bool {
	for _, i := range c.Interfaces {
		if i == name {
			return true
		}
	}
	return false
}

// AddInterface appends name to the implemented list unless present.
func (c *Class) AddInterface(name string) bool {
	if c.HasInterface(name) {
		return false
	}
	c.Interfaces = append(c.Interfaces, name)
	return true
}

// AddMethod appends a method. A method with the same name and descriptor
// is an error.
func (c *Class) AddMethod(m *Method) error {
	if c.FindMethod(m.Name, m.Desc) != nil {
		return fmt.Errorf("%w: duplicate method %s.%s%s", ErrMalformed, c.Name, m.Name, m.Desc)
	}
	m.codeAt = len(m.Attrs)
	c.Methods = append(c.Methods, m)
	return nil
}

// Attr returns a class attribute by name.
func (c *Class) Attr(name string) *Attribute {
	return findAttr(c.Attrs, name)
}

// SetAttr replaces or appends a class attribute.
func (c *Class) SetAttr(name string, data []byte) {
	if a := c.Attr(name); a != nil {
		a.Data = data
		return
	}
	c.Attrs = append(c.Attrs, Attribute{Name: name, Data: data})
}

// Modified reports whether any method body changed since parsing.
func (c *Class) Modified() bool {
	for _, m := range c.Methods {
		if m.Code != nil && m.Code.Modified {
			return true
		}
	}
	return false
}

func findAttr(attrs []Attribute, name string) *Attribute {
	for i := range attrs {
		if attrs[i].Name == name {
			return &attrs[i]
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Parse
// ---------------------------------------------------------------------------

// Parse decodes a class file.
func Parse(data []byte) (*Class, error) {
	r := newReader(data)
	c, err := parse(r)
	if r.err != nil {
		return nil, r.err
	}
	return c, err
}

func parse(r *reader) (*Class, error) {
	if r.u4() != Magic {
		if r.err != nil {
			return nil, r.err
		}
		return nil, ErrBadMagic
	}
	c := &Class{Minor: r.u2(), Major: r.u2()}
	pool, err := readPool(r)
	if err != nil {
		return nil, err
	}
	c.Pool = pool
	c.Access = r.u2()
	if c.Name, err = pool.ClassName(r.u2()); err != nil {
		return nil, fmt.Errorf("this_class: %w", err)
	}
	if super := r.u2(); super != 0 {
		if c.Super, err = pool.ClassName(super); err != nil {
			return nil, fmt.Errorf("super_class: %w", err)
		}
	}
	for n := int(r.u2()); n > 0 && r.err == nil; n-- {
		name, err := pool.ClassName(r.u2())
		if err != nil {
			return nil, fmt.Errorf("interfaces: %w", err)
		}
		c.Interfaces = append(c.Interfaces, name)
	}

	for n := int(r.u2()); n > 0 && r.err == nil; n-- {
		f := &Field{Access: r.u2()}
		if f.Name, f.Desc, err = readNameDesc(r, pool); err != nil {
			return nil, err
		}
		if f.Attrs, err = readAttrs(r, pool); err != nil {
			return nil, err
		}
		c.Fields = append(c.Fields, f)
	}

	for n := int(r.u2()); n > 0 && r.err == nil; n-- {
		m := &Method{Access: r.u2(), codeAt: -1}
		if m.Name, m.Desc, err = readNameDesc(r, pool); err != nil {
			return nil, err
		}
		attrs, err := readAttrs(r, pool)
		if err != nil {
			return nil, err
		}
		for _, a := range attrs {
			if a.Name != AttrCode {
				m.Attrs = append(m.Attrs, a)
				continue
			}
			if m.Code, err = decodeCode(a.Data, pool); err != nil {
				return nil, fmt.Errorf("%s.%s%s: %w", c.Name, m.Name, m.Desc, err)
			}
			m.codeAt = len(m.Attrs)
		}
		c.Methods = append(c.Methods, m)
	}

	if c.Attrs, err = readAttrs(r, pool); err != nil {
		return nil, err
	}
	if r.err != nil {
		return nil, r.err
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, r.remaining())
	}
	return c, nil
}

func readNameDesc(r *reader, pool *Pool) (string, string, error) {
	name, err := pool.UTF8(r.u2())
	if err != nil {
		return "", "", err
	}
	desc, err := pool.UTF8(r.u2())
	return name, desc, err
}

func readAttrs(r *reader, pool *Pool) ([]Attribute, error) {
	var attrs []Attribute
	for n := int(r.u2()); n > 0 && r.err == nil; n-- {
		name, err := pool.UTF8(r.u2())
		if err != nil {
			if r.err != nil {
				return nil, r.err
			}
			return nil, err
		}
		attrs = append(attrs, Attribute{Name: name, Data: r.bytes(int(r.u4()))})
	}
	return attrs, r.err
}

func writeAttrs(w *writer, pool *Pool, attrs []Attribute) {
	w.u2(uint16(len(attrs)))
	for _, a := range attrs {
		w.u2(pool.AddUTF8(a.Name))
		w.u4(uint32(len(a.Data)))
		w.raw(a.Data)
	}
}

// ---------------------------------------------------------------------------
// Serialize
// ---------------------------------------------------------------------------

// Bytes serializes the class. Unmodified method bodies are copied back
// verbatim. Modified bodies are re-encoded: their stack map frames and type
// annotations are dropped, which is only legal up to FramesFreeMajor, and
// max stack is raised to the analyzed height when analysis succeeds.
func (c *Class) Bytes() ([]byte, error) {
	body := &writer{}
	body.u2(c.Access)
	body.u2(c.Pool.AddClass(c.Name))
	if c.Super == "" {
		body.u2(0)
	} else {
		body.u2(c.Pool.AddClass(c.Super))
	}
	body.u2(uint16(len(c.Interfaces)))
	for _, i := range c.Interfaces {
		body.u2(c.Pool.AddClass(i))
	}

	body.u2(uint16(len(c.Fields)))
	for _, f := range c.Fields {
		body.u2(f.Access)
		body.u2(c.Pool.AddUTF8(f.Name))
		body.u2(c.Pool.AddUTF8(f.Desc))
		writeAttrs(body, c.Pool, f.Attrs)
	}

	body.u2(uint16(len(c.Methods)))
	for _, m := range c.Methods {
		attrs, err := c.methodAttrs(m)
		if err != nil {
			return nil, fmt.Errorf("%s.%s%s: %w", c.Name, m.Name, m.Desc, err)
		}
		body.u2(m.Access)
		body.u2(c.Pool.AddUTF8(m.Name))
		body.u2(c.Pool.AddUTF8(m.Desc))
		writeAttrs(body, c.Pool, attrs)
	}
	writeAttrs(body, c.Pool, c.Attrs)
	if err := c.Pool.Err(); err != nil {
		return nil, err
	}

	out := &writer{buf: make([]byte, 0, len(body.buf)+c.Pool.Len()*8+10)}
	out.u4(Magic)
	out.u2(c.Minor)
	out.u2(c.Major)
	c.Pool.write(out)
	out.raw(body.buf)
	return out.buf, nil
}

func (c *Class) methodAttrs(m *Method) ([]Attribute, error) {
	if m.Code == nil {
		return m.Attrs, nil
	}
	data := m.Code.raw
	if m.Code.Modified || data == nil {
		var drop map[string]bool
		if m.Code.Modified {
			if m.Code.Attr(AttrStackMapTable) != nil && c.Major > FramesFreeMajor {
				return nil, fmt.Errorf("%w (class version %d)", ErrFramesRequired, c.Major)
			}
			drop = offsetBoundAttrs
		}
		if h, err := Analyze(m); err == nil && h.Max > m.Code.MaxStack {
			m.Code.MaxStack = h.Max
		}
		var err error
		if data, err = m.Code.encode(c.Pool, drop); err != nil {
			return nil, err
		}
	}
	at := m.codeAt
	if at < 0 || at > len(m.Attrs) {
		at = len(m.Attrs)
	}
	attrs := make([]Attribute, 0, len(m.Attrs)+1)
	attrs = append(attrs, m.Attrs[:at]...)
	attrs = append(attrs, Attribute{Name: AttrCode, Data: data})
	attrs = append(attrs, m.Attrs[at:]...)
	return attrs, nil
}

package classfile

import (
	"fmt"
	"math"
)

// Annotation attribute names.
const (
	AttrVisibleAnnotations   = "RuntimeVisibleAnnotations"
	AttrInvisibleAnnotations = "RuntimeInvisibleAnnotations"
)

// Annotation is one decoded annotation. Type is a field descriptor such as
// "Lcom/example/Accessor;".
type Annotation struct {
	Type     string
	Elements []Element
}

// Element is a name/value pair of an annotation.
type Element struct {
	Name  string
	Value ElementValue
}

// ElementValue is a tagged annotation value. Const holds int32, int64,
// float32, float64, bool or string depending on Tag.
type ElementValue struct {
	Tag      byte
	Const    any
	EnumType string
	EnumName string
	Class    string
	Nested   *Annotation
	Array    []ElementValue
}

// Get returns the element with the given name.
func (a *Annotation) Get(name string) (ElementValue, bool) {
	for _, e := range a.Elements {
		if e.Name == name {
			return e.Value, true
		}
	}
	return ElementValue{}, false
}

// String returns a string element, usually "value".
func (a *Annotation) String(name string) (string, bool) {
	v, ok := a.Get(name)
	if !ok {
		return "", false
	}
	s, ok := v.Const.(string)
	return s, ok
}

// Annotations decodes the visible and invisible annotations in attrs.
func (c *Class) Annotations(attrs []Attribute) ([]Annotation, error) {
	var out []Annotation
	for _, a := range attrs {
		if a.Name != AttrVisibleAnnotations && a.Name != AttrInvisibleAnnotations {
			continue
		}
		list, err := decodeAnnotations(a.Data, c.Pool)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", a.Name, err)
		}
		out = append(out, list...)
	}
	return out, nil
}

// FindAnnotation returns the first annotation in attrs whose type is the
// internal name typ.
func (c *Class) FindAnnotation(attrs []Attribute, typ string) (*Annotation, error) {
	list, err := c.Annotations(attrs)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if InternalName(list[i].Type) == typ {
			return &list[i], nil
		}
	}
	return nil, nil
}

func decodeAnnotations(data []byte, pool *Pool) ([]Annotation, error) {
	r := newReader(data)
	var out []Annotation
	for n := int(r.u2()); n > 0 && r.err == nil; n-- {
		a, err := decodeAnnotation(r, pool)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, r.err
}

func decodeAnnotation(r *reader, pool *Pool) (Annotation, error) {
	var a Annotation
	var err error
	if a.Type, err = pool.UTF8(r.u2()); err != nil {
		return a, err
	}
	for n := int(r.u2()); n > 0 && r.err == nil; n-- {
		name, err := pool.UTF8(r.u2())
		if err != nil {
			return a, err
		}
		v, err := decodeElementValue(r, pool)
		if err != nil {
			return a, err
		}
		a.Elements = append(a.Elements, Element{Name: name, Value: v})
	}
	return a, r.err
}

func decodeElementValue(r *reader, pool *Pool) (ElementValue, error) {
	v := ElementValue{Tag: r.u1()}
	switch v.Tag {
	case 'B', 'C', 'I', 'S', 'Z', 'D', 'F', 'J':
		c, err := pool.Get(r.u2())
		if err != nil {
			return v, err
		}
		switch v.Tag {
		case 'D':
			v.Const = math.Float64frombits(c.Bits)
		case 'F':
			v.Const = math.Float32frombits(uint32(c.Bits))
		case 'J':
			v.Const = int64(c.Bits)
		case 'Z':
			v.Const = c.Bits != 0
		default:
			v.Const = int32(c.Bits)
		}
	case 's':
		s, err := pool.UTF8(r.u2())
		if err != nil {
			return v, err
		}
		v.Const = s
	case 'e':
		var err error
		if v.EnumType, err = pool.UTF8(r.u2()); err != nil {
			return v, err
		}
		if v.EnumName, err = pool.UTF8(r.u2()); err != nil {
			return v, err
		}
	case 'c':
		var err error
		if v.Class, err = pool.UTF8(r.u2()); err != nil {
			return v, err
		}
	case '@':
		a, err := decodeAnnotation(r, pool)
		if err != nil {
			return v, err
		}
		v.Nested = &a
	case '[':
		for n := int(r.u2()); n > 0 && r.err == nil; n-- {
			e, err := decodeElementValue(r, pool)
			if err != nil {
				return v, err
			}
			v.Array = append(v.Array, e)
		}
	default:
		if r.err != nil {
			return v, r.err
		}
		return v, fmt.Errorf("%w: element value tag %q", ErrMalformed, v.Tag)
	}
	return v, r.err
}

// EncodeAnnotations builds the body of a RuntimeVisibleAnnotations or
// RuntimeInvisibleAnnotations attribute.
func EncodeAnnotations(pool *Pool, list []Annotation) []byte {
	w := &writer{}
	w.u2(uint16(len(list)))
	for i := range list {
		encodeAnnotation(w, pool, &list[i])
	}
	return w.buf
}

func encodeAnnotation(w *writer, pool *Pool, a *Annotation) {
	w.u2(pool.AddUTF8(a.Type))
	w.u2(uint16(len(a.Elements)))
	for _, e := range a.Elements {
		w.u2(pool.AddUTF8(e.Name))
		encodeElementValue(w, pool, e.Value)
	}
}

func encodeElementValue(w *writer, pool *Pool, v ElementValue) {
	w.u1(v.Tag)
	switch v.Tag {
	case 's':
		s, _ := v.Const.(string)
		w.u2(pool.AddUTF8(s))
	case 'Z':
		b, _ := v.Const.(bool)
		if b {
			w.u2(pool.AddInteger(1))
		} else {
			w.u2(pool.AddInteger(0))
		}
	case 'B', 'C', 'I', 'S':
		i, _ := v.Const.(int32)
		w.u2(pool.AddInteger(i))
	case 'J':
		i, _ := v.Const.(int64)
		w.u2(pool.AddLong(i))
	case 'F':
		f, _ := v.Const.(float32)
		w.u2(pool.AddFloat(f))
	case 'D':
		f, _ := v.Const.(float64)
		w.u2(pool.AddDouble(f))
	case 'e':
		w.u2(pool.AddUTF8(v.EnumType))
		w.u2(pool.AddUTF8(v.EnumName))
	case 'c':
		w.u2(pool.AddUTF8(v.Class))
	case '@':
		encodeAnnotation(w, pool, v.Nested)
	case '[':
		w.u2(uint16(len(v.Array)))
		for _, e := range v.Array {
			encodeElementValue(w, pool, e)
		}
	}
}

// StringAnnotation is shorthand for an annotation with a single string
// "value" element.
func StringAnnotation(typ, value string) Annotation {
	return Annotation{
		Type:     ObjectDesc(typ),
		Elements: []Element{{Name: "value", Value: ElementValue{Tag: 's', Const: value}}},
	}
}

// ---------------------------------------------------------------------------
// String list attributes
// ---------------------------------------------------------------------------

// EncodeStrings builds an attribute body holding a u2 count followed by
// one UTF8 pool index per string.
func EncodeStrings(pool *Pool, list []string) []byte {
	w := &writer{}
	w.u2(uint16(len(list)))
	for _, s := range list {
		w.u2(pool.AddUTF8(s))
	}
	return w.buf
}

// Strings decodes a class attribute written by EncodeStrings. A missing
// attribute gives an empty list.
func (c *Class) Strings(name string) ([]string, error) {
	a := c.Attr(name)
	if a == nil {
		return nil, nil
	}
	r := newReader(a.Data)
	n := int(r.u2())
	out := make([]string, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		s, err := c.Pool.UTF8(r.u2())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out = append(out, s)
	}
	if r.err != nil {
		return nil, fmt.Errorf("%s: %w", name, r.err)
	}
	return out, nil
}

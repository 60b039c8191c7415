package classfile

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrBadMagic   = errors.New("not a class file: bad magic")
	ErrTruncated  = errors.New("unexpected end of class data")
	ErrMalformed  = errors.New("malformed class data")
	ErrUnknownTag = errors.New("unknown constant pool tag")
)

// ---------------------------------------------------------------------------
// reader: big-endian cursor with a sticky error
// ---------------------------------------------------------------------------

type reader struct {
	data []byte
	pos  int
	err  error
}

func newReader(data []byte) *reader {
	return &reader{data: data}
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.err = fmt.Errorf("%w at offset %d", ErrTruncated, r.pos)
		return false
	}
	return true
}

func (r *reader) u1() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.data[r.pos]
	r.pos++
	return v
}

func (r *reader) u2() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v
}

func (r *reader) u4() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v
}

func (r *reader) bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *reader) remaining() int {
	return len(r.data) - r.pos
}

// ---------------------------------------------------------------------------
// writer: big-endian append buffer
// ---------------------------------------------------------------------------

type writer struct {
	buf []byte
}

func (w *writer) u1(v uint8)  { w.buf = append(w.buf, v) }
func (w *writer) u2(v uint16) { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }
func (w *writer) u4(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }
func (w *writer) raw(b []byte) {
	w.buf = append(w.buf, b...)
}

// ---------------------------------------------------------------------------
// Constant pool decoding and encoding
// ---------------------------------------------------------------------------

func readPool(r *reader) (*Pool, error) {
	count := int(r.u2())
	p := &Pool{
		entries: make([]Constant, 1, count+16),
		index:   make(map[string]uint16, count),
	}
	for i := 1; i < count; i++ {
		tag := r.u1()
		c := Constant{Tag: tag}
		switch tag {
		case TagUTF8:
			n := int(r.u2())
			c.Str = string(r.bytes(n))
		case TagInteger, TagFloat:
			c.Bits = uint64(r.u4())
		case TagLong, TagDouble:
			hi := uint64(r.u4())
			c.Bits = hi<<32 | uint64(r.u4())
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			c.A = r.u2()
		case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType,
			TagDynamic, TagInvokeDynamic:
			c.A, c.B = r.u2(), r.u2()
		case TagMethodHandle:
			c.A = uint16(r.u1())
			c.B = r.u2()
		default:
			if r.err == nil {
				return nil, fmt.Errorf("%w %d at entry %d", ErrUnknownTag, tag, i)
			}
		}
		if r.err != nil {
			return nil, r.err
		}
		p.entries = append(p.entries, c)
		if key := keyOf(c); key != "" {
			if _, dup := p.index[key]; !dup {
				p.index[key] = uint16(i)
			}
		}
		if tag == TagLong || tag == TagDouble {
			p.entries = append(p.entries, Constant{})
			i++
		}
	}
	return p, r.err
}

func (p *Pool) write(w *writer) {
	w.u2(uint16(len(p.entries)))
	for i := 1; i < len(p.entries); i++ {
		c := p.entries[i]
		if c.Tag == 0 {
			continue // second slot of a long or double
		}
		w.u1(c.Tag)
		switch c.Tag {
		case TagUTF8:
			w.u2(uint16(len(c.Str)))
			w.raw([]byte(c.Str))
		case TagInteger, TagFloat:
			w.u4(uint32(c.Bits))
		case TagLong, TagDouble:
			w.u4(uint32(c.Bits >> 32))
			w.u4(uint32(c.Bits))
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			w.u2(c.A)
		case TagMethodHandle:
			w.u1(uint8(c.A))
			w.u2(c.B)
		default:
			w.u2(c.A)
			w.u2(c.B)
		}
	}
}

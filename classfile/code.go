package classfile

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	// ErrBranchRange is returned when a conditional branch no longer fits
	// in a 16-bit offset after the method grew.
	ErrBranchRange = errors.New("conditional branch offset out of range")
	// ErrCodeSize is returned when a method body exceeds 65535 bytes.
	ErrCodeSize = errors.New("method code exceeds 65535 bytes")
	// ErrUnplacedLabel is returned when an instruction references a label
	// that is not in the stream.
	ErrUnplacedLabel = errors.New("label referenced but not placed")
)

// Attribute names decoded by the model.
const (
	AttrCode                   = "Code"
	AttrLineNumberTable        = "LineNumberTable"
	AttrLocalVariableTable     = "LocalVariableTable"
	AttrLocalVariableTypeTable = "LocalVariableTypeTable"
	AttrStackMapTable          = "StackMapTable"
)

// TryCatch is one exception table entry. An empty Type catches everything.
type TryCatch struct {
	Start, End, Handler *Label
	Type                string
}

// LocalVar is one local variable (or local variable type) table entry.
type LocalVar struct {
	Start, End *Label
	Name       string
	Desc       string
	Slot       int
}

// Code is the decoded body of a method.
type Code struct {
	MaxStack   int
	MaxLocals  int
	Insns      []*Insn
	TryCatch   []TryCatch
	Locals     []LocalVar
	LocalTypes []LocalVar
	Attrs      []Attribute // remaining code attributes, kept verbatim

	// Modified must be set when the stream is changed outside the editing
	// helpers; unmodified code is written back byte for byte.
	Modified bool

	raw []byte
}

// NewCode creates an empty method body.
func NewCode(maxStack, maxLocals int) *Code {
	return &Code{MaxStack: maxStack, MaxLocals: maxLocals, Modified: true}
}

// Attr returns a kept code attribute by name.
func (c *Code) Attr(name string) *Attribute {
	for i := range c.Attrs {
		if c.Attrs[i].Name == name {
			return &c.Attrs[i]
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

type labeler struct {
	byOffset map[int]*Label
}

func (lb *labeler) at(off int) *Label {
	if l, ok := lb.byOffset[off]; ok {
		return l
	}
	l := &Label{id: -1, offset: off}
	lb.byOffset[off] = l
	return l
}

func decodeCode(data []byte, pool *Pool) (*Code, error) {
	r := newReader(data)
	c := &Code{raw: data}
	c.MaxStack = int(r.u2())
	c.MaxLocals = int(r.u2())
	length := int(r.u4())
	bc := r.bytes(length)
	if r.err != nil {
		return nil, r.err
	}

	lb := &labeler{byOffset: make(map[int]*Label)}
	type placed struct {
		off int
		in  *Insn
	}
	var decoded []placed
	starts := make(map[int]bool)
	br := newReader(bc)
	for br.pos < len(bc) {
		off := br.pos
		in, err := decodeInsn(br, pool, lb)
		if err != nil {
			return nil, fmt.Errorf("offset %d: %w", off, err)
		}
		decoded = append(decoded, placed{off, in})
		starts[off] = true
	}

	n := int(r.u2())
	for i := 0; i < n; i++ {
		start, end, handler, ct := int(r.u2()), int(r.u2()), int(r.u2()), r.u2()
		tc := TryCatch{Start: lb.at(start), End: lb.at(end), Handler: lb.at(handler)}
		if ct != 0 {
			name, err := pool.ClassName(ct)
			if err != nil {
				return nil, err
			}
			tc.Type = name
		}
		c.TryCatch = append(c.TryCatch, tc)
	}

	lines := make(map[int][]int)
	n = int(r.u2())
	for i := 0; i < n && r.err == nil; i++ {
		name, err := pool.UTF8(r.u2())
		if err != nil {
			return nil, err
		}
		body := r.bytes(int(r.u4()))
		switch name {
		case AttrLineNumberTable:
			ar := newReader(body)
			for k := int(ar.u2()); k > 0 && ar.err == nil; k-- {
				pc, line := int(ar.u2()), int(ar.u2())
				lines[pc] = append(lines[pc], line)
			}
			if ar.err != nil {
				return nil, ar.err
			}
		case AttrLocalVariableTable, AttrLocalVariableTypeTable:
			vars, err := decodeLocals(body, pool, lb)
			if err != nil {
				return nil, err
			}
			if name == AttrLocalVariableTable {
				c.Locals = vars
			} else {
				c.LocalTypes = vars
			}
		default:
			c.Attrs = append(c.Attrs, Attribute{Name: name, Data: body})
		}
	}
	if r.err != nil {
		return nil, r.err
	}

	offsets := make([]int, 0, len(lb.byOffset))
	for off := range lb.byOffset {
		if off != len(bc) && !starts[off] {
			return nil, fmt.Errorf("%w: label at %d is not an instruction boundary", ErrMalformed, off)
		}
		offsets = append(offsets, off)
	}
	sort.Ints(offsets)
	for i, off := range offsets {
		lb.byOffset[off].id = i
	}

	c.Insns = make([]*Insn, 0, len(decoded)+len(offsets)+len(lines))
	for _, p := range decoded {
		if l, ok := lb.byOffset[p.off]; ok {
			c.Insns = append(c.Insns, LabelInsn(l))
		}
		for _, line := range lines[p.off] {
			c.Insns = append(c.Insns, LineInsn(line))
		}
		c.Insns = append(c.Insns, p.in)
	}
	if l, ok := lb.byOffset[len(bc)]; ok {
		c.Insns = append(c.Insns, LabelInsn(l))
	}
	return c, nil
}

func decodeLocals(body []byte, pool *Pool, lb *labeler) ([]LocalVar, error) {
	ar := newReader(body)
	var vars []LocalVar
	for k := int(ar.u2()); k > 0 && ar.err == nil; k-- {
		start, length := int(ar.u2()), int(ar.u2())
		nameIdx, descIdx, slot := ar.u2(), ar.u2(), int(ar.u2())
		if ar.err != nil {
			break
		}
		name, err := pool.UTF8(nameIdx)
		if err != nil {
			return nil, err
		}
		desc, err := pool.UTF8(descIdx)
		if err != nil {
			return nil, err
		}
		vars = append(vars, LocalVar{Start: lb.at(start), End: lb.at(start + length), Name: name, Desc: desc, Slot: slot})
	}
	return vars, ar.err
}

func decodeInsn(br *reader, pool *Pool, lb *labeler) (*Insn, error) {
	off := br.pos
	op := Opcode(br.u1())
	wide := false
	if op == OpWide {
		wide = true
		op = Opcode(br.u1())
	}
	if !op.Valid() || op.IsPseudo() || op == OpWide {
		return nil, fmt.Errorf("%w: opcode 0x%02x", ErrMalformed, uint16(op))
	}
	f := op.Info().format
	if wide && f != fmtVar && f != fmtIinc {
		return nil, fmt.Errorf("%w: wide %s", ErrMalformed, op)
	}

	in := &Insn{Op: op}
	var err error
	switch f {
	case fmtNone:
		switch {
		case op >= OpIload0 && op <= OpAload3:
			k := op - OpIload0
			in.Op, in.Var = OpIload+k/4, int(k%4)
		case op >= OpIstore0 && op <= OpAstore3:
			k := op - OpIstore0
			in.Op, in.Var = OpIstore+k/4, int(k%4)
		}
	case fmtByte:
		in.Int = int32(int8(br.u1()))
	case fmtShort:
		in.Int = int32(int16(br.u2()))
	case fmtLdc:
		in.Index = uint16(br.u1())
	case fmtLdcW:
		in.Index = br.u2()
		if op == OpLdcW {
			in.Op = OpLdc
		}
	case fmtVar:
		if wide {
			in.Var = int(br.u2())
		} else {
			in.Var = int(br.u1())
		}
	case fmtIinc:
		if wide {
			in.Var, in.Int = int(br.u2()), int32(int16(br.u2()))
		} else {
			in.Var, in.Int = int(br.u1()), int32(int8(br.u1()))
		}
	case fmtJump:
		in.Target = lb.at(off + int(int16(br.u2())))
	case fmtJumpW:
		in.Target = lb.at(off + int(int32(br.u4())))
		if op == OpGotoW {
			in.Op = OpGoto
		} else {
			in.Op = OpJsr
		}
	case fmtTable:
		for br.pos%4 != 0 {
			br.u1()
		}
		def := int32(br.u4())
		low, high := int32(br.u4()), int32(br.u4())
		if high < low || int64(high)-int64(low) >= int64(br.remaining()/4+1) {
			return nil, fmt.Errorf("%w: tableswitch bounds %d..%d", ErrMalformed, low, high)
		}
		in.Default, in.Low = lb.at(off+int(def)), low
		for k := int64(low); k <= int64(high); k++ {
			in.Targets = append(in.Targets, lb.at(off+int(int32(br.u4()))))
		}
	case fmtLookup:
		for br.pos%4 != 0 {
			br.u1()
		}
		def := int32(br.u4())
		npairs := int(int32(br.u4()))
		if npairs < 0 || npairs > br.remaining()/8 {
			return nil, fmt.Errorf("%w: lookupswitch pairs %d", ErrMalformed, npairs)
		}
		in.Default = lb.at(off + int(def))
		for k := 0; k < npairs; k++ {
			in.Keys = append(in.Keys, int32(br.u4()))
			in.Targets = append(in.Targets, lb.at(off+int(int32(br.u4()))))
		}
	case fmtField, fmtMethod:
		in.Owner, in.Name, in.Desc, in.Itf, err = pool.MemberRef(br.u2())
	case fmtInterface:
		in.Owner, in.Name, in.Desc, in.Itf, err = pool.MemberRef(br.u2())
		br.u1()
		br.u1()
	case fmtDynamic:
		in.Index = br.u2()
		br.u2()
		var c *Constant
		if c, err = pool.typed(in.Index, TagInvokeDynamic); err == nil {
			in.Name, in.Desc, err = pool.NameAndType(c.B)
		}
	case fmtType:
		in.Type, err = pool.ClassName(br.u2())
	case fmtNewarray:
		in.Int = int32(br.u1())
	case fmtMulti:
		in.Type, err = pool.ClassName(br.u2())
		in.Int = int32(br.u1())
	}
	if br.err != nil {
		return nil, br.err
	}
	return in, err
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

// encoding holds per-instruction layout state.
type encoding struct {
	c       *Code
	pool    *Pool
	idx     []uint16
	offsets []int
	wide    []bool
}

func (c *Code) encode(pool *Pool, dropAttrs map[string]bool) ([]byte, error) {
	e := &encoding{
		c:       c,
		pool:    pool,
		idx:     make([]uint16, len(c.Insns)),
		offsets: make([]int, len(c.Insns)+1),
		wide:    make([]bool, len(c.Insns)),
	}
	if err := e.resolve(); err != nil {
		return nil, err
	}
	size, err := e.layout()
	if err != nil {
		return nil, err
	}
	if size > math.MaxUint16 {
		return nil, ErrCodeSize
	}

	w := &writer{}
	w.u2(uint16(c.MaxStack))
	w.u2(uint16(c.MaxLocals))
	w.u4(uint32(size))
	for i, in := range c.Insns {
		e.emit(w, i, in)
	}

	w.u2(uint16(len(c.TryCatch)))
	for _, tc := range c.TryCatch {
		if tc.Start.offset < 0 || tc.End.offset < 0 || tc.Handler.offset < 0 {
			return nil, fmt.Errorf("%w: try/catch range", ErrUnplacedLabel)
		}
		w.u2(uint16(tc.Start.offset))
		w.u2(uint16(tc.End.offset))
		w.u2(uint16(tc.Handler.offset))
		if tc.Type == "" {
			w.u2(0)
		} else {
			w.u2(pool.AddClass(tc.Type))
		}
	}

	var attrs []Attribute
	if lines := e.lineTable(); lines != nil {
		attrs = append(attrs, Attribute{Name: AttrLineNumberTable, Data: lines})
	}
	for _, t := range []struct {
		name string
		vars []LocalVar
	}{{AttrLocalVariableTable, c.Locals}, {AttrLocalVariableTypeTable, c.LocalTypes}} {
		if len(t.vars) == 0 {
			continue
		}
		data, err := encodeLocals(t.vars, pool)
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, Attribute{Name: t.name, Data: data})
	}
	for _, a := range c.Attrs {
		if !dropAttrs[a.Name] {
			attrs = append(attrs, a)
		}
	}
	writeAttrs(w, pool, attrs)
	return w.buf, pool.Err()
}

func (e *encoding) resolve() error {
	for i, in := range e.c.Insns {
		switch in.Op.Info().format {
		case fmtField:
			e.idx[i] = e.pool.AddFieldref(in.Owner, in.Name, in.Desc)
		case fmtMethod, fmtInterface:
			e.idx[i] = e.pool.AddMethodref(in.Owner, in.Name, in.Desc, in.Itf)
		case fmtType, fmtMulti:
			e.idx[i] = e.pool.AddClass(in.Type)
		case fmtLdc, fmtLdcW, fmtDynamic:
			if in.Const != nil {
				idx, err := e.pool.AddConstant(in.Const)
				if err != nil {
					return err
				}
				e.idx[i] = idx
			} else {
				e.idx[i] = in.Index
			}
		}
	}
	return e.pool.Err()
}

func (e *encoding) size(i, off int) int {
	in := e.c.Insns[i]
	if in.Op.IsPseudo() {
		return 0
	}
	switch in.Op.Info().format {
	case fmtVar:
		if in.Op != OpRet && in.Var <= 3 {
			return 1
		}
		if in.Var <= math.MaxUint8 {
			return 2
		}
		return 4
	case fmtIinc:
		if in.Var <= math.MaxUint8 && in.Int >= math.MinInt8 && in.Int <= math.MaxInt8 {
			return 3
		}
		return 6
	case fmtByte, fmtNewarray:
		return 2
	case fmtLdc, fmtLdcW:
		if in.Op == OpLdc && e.idx[i] <= math.MaxUint8 {
			return 2
		}
		return 3
	case fmtJump, fmtJumpW:
		if e.wide[i] {
			return 5
		}
		return 3
	case fmtTable:
		return 1 + pad(off) + 12 + 4*len(in.Targets)
	case fmtLookup:
		return 1 + pad(off) + 8 + 8*len(in.Keys)
	case fmtShort, fmtField, fmtMethod, fmtType:
		return 3
	case fmtMulti:
		return 4
	case fmtInterface, fmtDynamic:
		return 5
	}
	return 1
}

func pad(off int) int {
	return (4 - (off+1)%4) % 4
}

func (e *encoding) layout() (int, error) {
	for _, in := range e.c.Insns {
		for _, l := range in.labels() {
			l.offset = -1
		}
	}
	for _, tc := range e.c.TryCatch {
		tc.Start.offset, tc.End.offset, tc.Handler.offset = -1, -1, -1
	}
	for _, lv := range append(append([]LocalVar(nil), e.c.Locals...), e.c.LocalTypes...) {
		lv.Start.offset, lv.End.offset = -1, -1
	}

	for pass := 0; ; pass++ {
		off := 0
		next := 0
		for i, in := range e.c.Insns {
			e.offsets[i] = off
			if in.Op == OpLabel {
				in.Target.offset = off
				in.Target.id = next
				next++
			}
			off += e.size(i, off)
		}
		e.offsets[len(e.c.Insns)] = off

		changed := false
		for i, in := range e.c.Insns {
			if in.Op.Info().format != fmtJump || e.wide[i] {
				continue
			}
			if in.Target.offset < 0 {
				return 0, fmt.Errorf("%w: %s target", ErrUnplacedLabel, in.Op)
			}
			delta := in.Target.offset - e.offsets[i]
			if delta >= math.MinInt16 && delta <= math.MaxInt16 {
				continue
			}
			if in.Op != OpGoto && in.Op != OpJsr {
				return 0, fmt.Errorf("%w: %s by %d", ErrBranchRange, in.Op, delta)
			}
			e.wide[i] = true
			changed = true
		}
		if !changed {
			for _, in := range e.c.Insns {
				for _, l := range in.labels() {
					if l.offset < 0 {
						return 0, fmt.Errorf("%w: %s", ErrUnplacedLabel, in.Op)
					}
				}
			}
			return off, nil
		}
		if pass > 8 {
			return 0, fmt.Errorf("%w: branch layout did not settle", ErrMalformed)
		}
	}
}

// labels returns the labels an instruction jumps to.
func (in *Insn) labels() []*Label {
	switch {
	case in.Op.Kind() == KindJump:
		return []*Label{in.Target}
	case in.Op.Kind() == KindSwitch:
		return append([]*Label{in.Default}, in.Targets...)
	}
	return nil
}

func (e *encoding) emit(w *writer, i int, in *Insn) {
	if in.Op.IsPseudo() {
		return
	}
	off := e.offsets[i]
	op := in.Op
	switch op.Info().format {
	case fmtNone:
		w.u1(uint8(op))
	case fmtByte, fmtNewarray:
		w.u1(uint8(op))
		w.u1(uint8(in.Int))
	case fmtShort:
		w.u1(uint8(op))
		w.u2(uint16(in.Int))
	case fmtLdc, fmtLdcW:
		switch {
		case op == OpLdc2W:
			w.u1(uint8(OpLdc2W))
			w.u2(e.idx[i])
		case e.idx[i] <= math.MaxUint8:
			w.u1(uint8(OpLdc))
			w.u1(uint8(e.idx[i]))
		default:
			w.u1(uint8(OpLdcW))
			w.u2(e.idx[i])
		}
	case fmtVar:
		switch {
		case op != OpRet && in.Var <= 3:
			if op.Kind() == KindLoad {
				w.u1(uint8(OpIload0 + (op-OpIload)*4 + Opcode(in.Var)))
			} else {
				w.u1(uint8(OpIstore0 + (op-OpIstore)*4 + Opcode(in.Var)))
			}
		case in.Var <= math.MaxUint8:
			w.u1(uint8(op))
			w.u1(uint8(in.Var))
		default:
			w.u1(uint8(OpWide))
			w.u1(uint8(op))
			w.u2(uint16(in.Var))
		}
	case fmtIinc:
		if e.size(i, off) == 3 {
			w.u1(uint8(op))
			w.u1(uint8(in.Var))
			w.u1(uint8(int8(in.Int)))
		} else {
			w.u1(uint8(OpWide))
			w.u1(uint8(op))
			w.u2(uint16(in.Var))
			w.u2(uint16(int16(in.Int)))
		}
	case fmtJump, fmtJumpW:
		delta := in.Target.offset - off
		if e.wide[i] {
			if op == OpJsr {
				w.u1(uint8(OpJsrW))
			} else {
				w.u1(uint8(OpGotoW))
			}
			w.u4(uint32(int32(delta)))
		} else {
			w.u1(uint8(op))
			w.u2(uint16(int16(delta)))
		}
	case fmtTable:
		w.u1(uint8(op))
		for k := pad(off); k > 0; k-- {
			w.u1(0)
		}
		w.u4(uint32(int32(in.Default.offset - off)))
		w.u4(uint32(in.Low))
		w.u4(uint32(in.Low + int32(len(in.Targets)) - 1))
		for _, t := range in.Targets {
			w.u4(uint32(int32(t.offset - off)))
		}
	case fmtLookup:
		w.u1(uint8(op))
		for k := pad(off); k > 0; k-- {
			w.u1(0)
		}
		w.u4(uint32(int32(in.Default.offset - off)))
		w.u4(uint32(len(in.Keys)))
		for k, key := range in.Keys {
			w.u4(uint32(key))
			w.u4(uint32(int32(in.Targets[k].offset - off)))
		}
	case fmtField, fmtMethod, fmtType:
		w.u1(uint8(op))
		w.u2(e.idx[i])
	case fmtInterface:
		w.u1(uint8(op))
		w.u2(e.idx[i])
		count := 1
		if mt, err := ParseMethodDesc(in.Desc); err == nil {
			count += mt.ArgSlots()
		}
		w.u1(uint8(count))
		w.u1(0)
	case fmtDynamic:
		w.u1(uint8(op))
		w.u2(e.idx[i])
		w.u2(0)
	case fmtMulti:
		w.u1(uint8(op))
		w.u2(e.idx[i])
		w.u1(uint8(in.Int))
	}
}

func (e *encoding) lineTable() []byte {
	var pairs [][2]int
	for i, in := range e.c.Insns {
		if in.Op != OpLine || e.c.NextReal(i) < 0 {
			continue
		}
		pairs = append(pairs, [2]int{e.offsets[i], in.Line})
	}
	if len(pairs) == 0 {
		return nil
	}
	w := &writer{}
	w.u2(uint16(len(pairs)))
	for _, p := range pairs {
		w.u2(uint16(p[0]))
		w.u2(uint16(p[1]))
	}
	return w.buf
}

func encodeLocals(vars []LocalVar, pool *Pool) ([]byte, error) {
	w := &writer{}
	w.u2(uint16(len(vars)))
	for _, v := range vars {
		if v.Start.offset < 0 || v.End.offset < 0 {
			return nil, fmt.Errorf("%w: local %s", ErrUnplacedLabel, v.Name)
		}
		w.u2(uint16(v.Start.offset))
		w.u2(uint16(v.End.offset - v.Start.offset))
		w.u2(pool.AddUTF8(v.Name))
		w.u2(pool.AddUTF8(v.Desc))
		w.u2(uint16(v.Slot))
	}
	return w.buf, nil
}

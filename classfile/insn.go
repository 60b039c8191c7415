package classfile

import (
	"errors"
	"fmt"
)

// ErrNotInCode is returned when an edit references an instruction that is
// not part of the code being edited.
var ErrNotInCode = errors.New("instruction not in code")

// ---------------------------------------------------------------------------
// Labels
// ---------------------------------------------------------------------------

// Label marks a position in an instruction stream. It is placed in the
// stream by an OpLabel pseudo instruction and referenced by jumps,
// switches, try/catch blocks and local variable ranges.
type Label struct {
	id     int
	offset int // bytecode offset, valid after decode or encode
}

// NewLabel creates an unplaced label.
func NewLabel() *Label {
	return &Label{id: -1, offset: -1}
}

// Offset returns the bytecode offset of the label as of the last decode or
// encode, or -1.
func (l *Label) Offset() int {
	return l.offset
}

func (l *Label) String() string {
	if l.id >= 0 {
		return fmt.Sprintf("L%d", l.id)
	}
	return "L?"
}

// ---------------------------------------------------------------------------
// Insn: one decoded instruction
// ---------------------------------------------------------------------------

// Insn is a decoded instruction with normalized operands. Short forms
// (iload_1, goto_w, ldc_w, ...) are folded into their general opcode and
// chosen again when encoding.
type Insn struct {
	Op Opcode

	Var int   // local slot for loads, stores, iinc and ret
	Int int32 // bipush/sipush value, iinc delta, newarray type, multianewarray dimensions

	// Field and method references (and name/type of invokedynamic).
	Owner string
	Name  string
	Desc  string
	Itf   bool

	Type string // class operand of new, anewarray, checkcast, instanceof, multianewarray

	Index uint16 // pool index for ldc, ldc2_w and invokedynamic
	Const any    // constant for a synthesized ldc, resolved when encoding

	Target  *Label   // jump target; the label itself for OpLabel
	Default *Label   // switch default
	Low     int32    // tableswitch low
	Keys    []int32  // lookupswitch keys
	Targets []*Label // switch targets

	Line int // OpLine
}

// IsReal reports whether the instruction is emitted into bytecode.
func (in *Insn) IsReal() bool {
	return !in.Op.IsPseudo()
}

// Kind returns the instruction's kind class.
func (in *Insn) Kind() Kind {
	return in.Op.Kind()
}

// IsStatic reports whether a field or method instruction has no receiver.
func (in *Insn) IsStatic() bool {
	return in.Op == OpGetstatic || in.Op == OpPutstatic || in.Op == OpInvokestatic
}

// IsFieldRead reports whether the instruction reads a field.
func (in *Insn) IsFieldRead() bool {
	return in.Op == OpGetfield || in.Op == OpGetstatic
}

// IsFieldWrite reports whether the instruction writes a field.
func (in *Insn) IsFieldWrite() bool {
	return in.Op == OpPutfield || in.Op == OpPutstatic
}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// Op creates an instruction without operands.
func Op(op Opcode) *Insn {
	return &Insn{Op: op}
}

// VarInsn creates a local variable load, store or ret.
func VarInsn(op Opcode, slot int) *Insn {
	return &Insn{Op: op, Var: slot}
}

// IincInsn creates an iinc.
func IincInsn(slot int, delta int32) *Insn {
	return &Insn{Op: OpIinc, Var: slot, Int: delta}
}

// FieldInsn creates a field access.
func FieldInsn(op Opcode, owner, name, desc string) *Insn {
	return &Insn{Op: op, Owner: owner, Name: name, Desc: desc}
}

// MethodInsn creates an invocation. Interface owners need itf set, and
// invokeinterface always sets it.
func MethodInsn(op Opcode, owner, name, desc string, itf bool) *Insn {
	return &Insn{Op: op, Owner: owner, Name: name, Desc: desc, Itf: itf || op == OpInvokeinterface}
}

// TypeInsn creates new, anewarray, checkcast or instanceof.
func TypeInsn(op Opcode, typ string) *Insn {
	return &Insn{Op: op, Type: typ}
}

// JumpInsn creates a branch.
func JumpInsn(op Opcode, target *Label) *Insn {
	return &Insn{Op: op, Target: target}
}

// LabelInsn places a label in the stream.
func LabelInsn(l *Label) *Insn {
	return &Insn{Op: OpLabel, Target: l}
}

// LineInsn records the source line of the following instruction.
func LineInsn(line int) *Insn {
	return &Insn{Op: OpLine, Line: line}
}

// LdcInsn loads a constant, see Pool.AddConstant for accepted values.
func LdcInsn(v any) *Insn {
	switch v.(type) {
	case int64, float64:
		return &Insn{Op: OpLdc2W, Const: v}
	}
	return &Insn{Op: OpLdc, Const: v}
}

// PushInt picks the shortest instruction that pushes v.
func PushInt(v int32) *Insn {
	switch {
	case v >= -1 && v <= 5:
		return Op(OpIconst0 + Opcode(v))
	case v >= -128 && v <= 127:
		return &Insn{Op: OpBipush, Int: v}
	case v >= -32768 && v <= 32767:
		return &Insn{Op: OpSipush, Int: v}
	}
	return LdcInsn(v)
}

// PushBool pushes 1 or 0.
func PushBool(b bool) *Insn {
	if b {
		return Op(OpIconst1)
	}
	return Op(OpIconst0)
}

// ---------------------------------------------------------------------------
// Stream editing
// ---------------------------------------------------------------------------

// IndexOf returns the position of in within the stream, or -1.
func (c *Code) IndexOf(in *Insn) int {
	for i, x := range c.Insns {
		if x == in {
			return i
		}
	}
	return -1
}

// InsertBefore splices seq into the stream ahead of at.
func (c *Code) InsertBefore(at *Insn, seq ...*Insn) error {
	i := c.IndexOf(at)
	if i < 0 {
		return ErrNotInCode
	}
	c.insertAt(i, seq)
	return nil
}

// InsertAfter splices seq into the stream right after at.
func (c *Code) InsertAfter(at *Insn, seq ...*Insn) error {
	i := c.IndexOf(at)
	if i < 0 {
		return ErrNotInCode
	}
	c.insertAt(i+1, seq)
	return nil
}

// Append adds seq at the end of the stream.
func (c *Code) Append(seq ...*Insn) {
	c.insertAt(len(c.Insns), seq)
}

func (c *Code) insertAt(i int, seq []*Insn) {
	out := make([]*Insn, 0, len(c.Insns)+len(seq))
	out = append(out, c.Insns[:i]...)
	out = append(out, seq...)
	out = append(out, c.Insns[i:]...)
	c.Insns = out
	c.Modified = true
}

// NextReal returns the index of the first real instruction at or after i,
// or -1.
func (c *Code) NextReal(i int) int {
	for ; i >= 0 && i < len(c.Insns); i++ {
		if c.Insns[i].IsReal() {
			return i
		}
	}
	return -1
}

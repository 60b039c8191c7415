package classfile

import (
	"errors"
	"fmt"
)

var (
	// ErrNoCode is returned when analyzing a method without a body.
	ErrNoCode = errors.New("method has no code")
	// ErrStackConflict is returned when two paths reach an instruction with
	// different operand stack heights.
	ErrStackConflict = errors.New("conflicting stack heights")
	// ErrStackUnderflow is returned when an instruction pops more words
	// than the stack holds.
	ErrStackUnderflow = errors.New("operand stack underflow")
	// ErrSubroutine is returned for jsr/ret code, which the analysis does
	// not follow.
	ErrSubroutine = errors.New("jsr/ret subroutines are not supported")
)

// Unreachable marks an instruction no path reaches.
const Unreachable = -1

// StackHeights is the operand stack height, in words, in front of every
// instruction of a method.
type StackHeights struct {
	Before []int // per instruction index; Unreachable when not reached
	Max    int
}

// At returns the height in front of instruction i.
func (h *StackHeights) At(i int) (int, bool) {
	if i < 0 || i >= len(h.Before) || h.Before[i] == Unreachable {
		return 0, false
	}
	return h.Before[i], true
}

// Analyze computes stack heights by walking every path from the method
// entry and every exception handler. It only tracks heights, not types.
func Analyze(m *Method) (*StackHeights, error) {
	if m.Code == nil {
		return nil, ErrNoCode
	}
	insns := m.Code.Insns
	h := &StackHeights{Before: make([]int, len(insns))}
	for i := range h.Before {
		h.Before[i] = Unreachable
	}
	if len(insns) == 0 {
		return h, nil
	}

	at := make(map[*Label]int)
	for i, in := range insns {
		if in.Op == OpLabel {
			at[in.Target] = i
		}
	}
	var work []int
	visit := func(i, height int) error {
		if i >= len(insns) {
			return fmt.Errorf("%w: control falls off the end of the code", ErrMalformed)
		}
		switch h.Before[i] {
		case Unreachable:
			h.Before[i] = height
			work = append(work, i)
		case height:
		default:
			return fmt.Errorf("%w at %d: %d vs %d", ErrStackConflict, i, h.Before[i], height)
		}
		return nil
	}
	jump := func(l *Label, height int) error {
		i, ok := at[l]
		if !ok {
			return ErrUnplacedLabel
		}
		return visit(i, height)
	}

	if err := visit(0, 0); err != nil {
		return nil, err
	}
	for _, tc := range m.Code.TryCatch {
		if err := jump(tc.Handler, 1); err != nil {
			return nil, err
		}
	}

	for len(work) > 0 {
		i := work[len(work)-1]
		work = work[:len(work)-1]
		in := insns[i]
		pop, push, err := effect(in)
		if err != nil {
			return nil, fmt.Errorf("%s at %d: %w", in.Op, i, err)
		}
		height := h.Before[i]
		if height < pop {
			return nil, fmt.Errorf("%w: %s at %d", ErrStackUnderflow, in.Op, i)
		}
		if height > h.Max {
			h.Max = height
		}
		after := height - pop + push
		if after > h.Max {
			h.Max = after
		}

		switch in.Kind() {
		case KindJump:
			if err := jump(in.Target, after); err != nil {
				return nil, err
			}
		case KindSwitch:
			for _, l := range in.labels() {
				if err := jump(l, after); err != nil {
					return nil, err
				}
			}
		}
		if !in.Op.EndsBlock() {
			if err := visit(i+1, after); err != nil {
				return nil, err
			}
		}
	}
	return h, nil
}

// effect returns the words popped and pushed by an instruction.
func effect(in *Insn) (pop, push int, err error) {
	op := in.Op
	switch {
	case op.IsPseudo(), op == OpNop, op == OpIinc, op == OpGoto:
		return 0, 0, nil
	case op == OpLconst0, op == OpLconst1, op == OpDconst0, op == OpDconst1, op == OpLdc2W:
		return 0, 2, nil
	case op.Kind() == KindConst:
		return 0, 1, nil
	case op >= OpIload0 && op <= OpAload3:
		return 0, wordsOf((op - OpIload0) / 4), nil
	case op >= OpIstore0 && op <= OpAstore3:
		return wordsOf((op - OpIstore0) / 4), 0, nil
	case op.Kind() == KindLoad:
		return 0, wordsOf(op - OpIload), nil
	case op.Kind() == KindStore:
		return wordsOf(op - OpIstore), 0, nil
	case op >= OpIaload && op <= OpSaload:
		if op == OpLaload || op == OpDaload {
			return 2, 2, nil
		}
		return 2, 1, nil
	case op >= OpIastore && op <= OpSastore:
		if op == OpLastore || op == OpDastore {
			return 4, 0, nil
		}
		return 3, 0, nil
	case op >= OpIadd && op <= OpDrem:
		w := wordsOf((op - OpIadd) % 4)
		return 2 * w, w, nil
	case op >= OpIneg && op <= OpDneg:
		w := wordsOf(op - OpIneg)
		return w, w, nil
	case op >= OpIshl && op <= OpLushr:
		if (op-OpIshl)%2 == 1 {
			return 3, 2, nil
		}
		return 2, 1, nil
	case op >= OpIand && op <= OpLxor:
		if (op-OpIand)%2 == 1 {
			return 4, 2, nil
		}
		return 2, 1, nil
	case op >= OpI2l && op <= OpI2s:
		c := conversions[op-OpI2l]
		return c[0], c[1], nil
	case op == OpLcmp, op == OpDcmpl, op == OpDcmpg:
		return 4, 1, nil
	case op == OpFcmpl, op == OpFcmpg:
		return 2, 1, nil
	case op >= OpIfeq && op <= OpIfle, op == OpIfnull, op == OpIfnonnull:
		return 1, 0, nil
	case op >= OpIfIcmpeq && op <= OpIfAcmpne:
		return 2, 0, nil
	case op == OpJsr, op == OpRet:
		return 0, 0, ErrSubroutine
	case op == OpTableswitch, op == OpLookupswitch:
		return 1, 0, nil
	case op == OpReturn:
		return 0, 0, nil
	case op.Kind() == KindReturn:
		return wordsOf(op - OpIreturn), 0, nil
	case op == OpGetstatic:
		return 0, TypeSize(in.Desc), nil
	case op == OpPutstatic:
		return TypeSize(in.Desc), 0, nil
	case op == OpGetfield:
		return 1, TypeSize(in.Desc), nil
	case op == OpPutfield:
		return 1 + TypeSize(in.Desc), 0, nil
	case op.Kind() == KindInvoke:
		mt, err := ParseMethodDesc(in.Desc)
		if err != nil {
			return 0, 0, err
		}
		pop = mt.ArgSlots()
		if op != OpInvokestatic && op != OpInvokedynamic {
			pop++
		}
		return pop, TypeSize(mt.Return), nil
	case op == OpNew:
		return 0, 1, nil
	case op == OpNewarray, op == OpAnewarray, op == OpArraylength, op == OpCheckcast, op == OpInstanceof:
		return 1, 1, nil
	case op == OpAthrow, op == OpMonitorenter, op == OpMonitorexit:
		return 1, 0, nil
	case op == OpMultianewarray:
		return int(in.Int), 1, nil
	}
	if d, ok := stackOps[op]; ok {
		return d[0], d[1], nil
	}
	return 0, 0, fmt.Errorf("%w: no stack effect for %s", ErrMalformed, op)
}

// wordsOf maps the i/l/f/d/a offset of a typed opcode family to its size.
func wordsOf(k Opcode) int {
	if k == 1 || k == 3 {
		return 2
	}
	return 1
}

var conversions = [...][2]int{
	{1, 2}, {1, 1}, {1, 2}, // i2l i2f i2d
	{2, 1}, {2, 1}, {2, 2}, // l2i l2f l2d
	{1, 1}, {1, 2}, {1, 2}, // f2i f2l f2d
	{2, 1}, {2, 2}, {2, 1}, // d2i d2l d2f
	{1, 1}, {1, 1}, {1, 1}, // i2b i2c i2s
}

var stackOps = map[Opcode][2]int{
	OpPop:    {1, 0},
	OpPop2:   {2, 0},
	OpDup:    {1, 2},
	OpDupX1:  {2, 3},
	OpDupX2:  {3, 4},
	OpDup2:   {2, 4},
	OpDup2X1: {3, 5},
	OpDup2X2: {4, 6},
	OpSwap:   {2, 2},
}

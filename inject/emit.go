package inject

import (
	"github.com/chazu/modhook/classfile"
)

// ---------------------------------------------------------------------------
// Call-out emission
// ---------------------------------------------------------------------------

// callout builds the sequence inserted in front of one site and returns it
// with the operand stack depth it needs on top of the site's height.
//
//	new Ctx; dup; ldc name; iconst cancellable; [packet index]
//	invokespecial Ctx.<init>; astore ctx
//	[captures stored into ctx]
//	per callback: aload ctx; [aload_0; locals]; invokestatic cb
//	[aload ctx; invokevirtual isCancelled; ifeq L; return path; L:]
func (t *Transformer) callout(m *classfile.Method, h *Hook, slot int) ([]*classfile.Insn, int) {
	ctx := t.layout.ContextClass
	ev := h.Event
	packet := ev.IsPacket() || h.PacketIndexLocal >= 0

	seq := []*classfile.Insn{
		classfile.TypeInsn(classfile.OpNew, ctx),
		classfile.Op(classfile.OpDup),
		classfile.LdcInsn(ev.Name),
		classfile.PushBool(ev.Cancellable),
	}
	depth := 4
	if packet {
		if h.PacketIndexLocal >= 0 {
			seq = append(seq, classfile.VarInsn(classfile.OpIload, h.PacketIndexLocal))
		} else {
			seq = append(seq, classfile.PushInt(int32(ev.PacketIndex)))
		}
		depth = 5
	}
	seq = append(seq,
		classfile.MethodInsn(classfile.OpInvokespecial, ctx, "<init>", t.layout.ctorDesc(packet), false),
		classfile.VarInsn(classfile.OpAstore, slot),
	)

	short := "(" + t.layout.ContextDesc() + ")V"
	callbacks := ev.Callbacks()
	store := false
	for _, cb := range callbacks {
		if cb.Desc == short && h.captures() {
			store = true
		}
	}
	if store {
		var d int
		seq, d = t.storeCaptures(seq, h, slot)
		depth = max(depth, d)
	}

	for _, cb := range callbacks {
		seq = append(seq, classfile.VarInsn(classfile.OpAload, slot))
		words := 1
		if cb.Desc != short {
			if h.Target.CaptureThis {
				seq = append(seq, classfile.VarInsn(classfile.OpAload, 0))
				words++
			}
			for _, c := range h.Target.Locals {
				seq = append(seq, classfile.VarInsn(classfile.LoadOp(c.Desc), c.Slot))
				words += classfile.TypeSize(c.Desc)
			}
		}
		seq = append(seq, classfile.MethodInsn(classfile.OpInvokestatic, cb.Owner, cb.Name, cb.Desc, false))
		depth = max(depth, words)
	}

	if ev.Cancellable {
		resume := classfile.NewLabel()
		seq = append(seq,
			classfile.VarInsn(classfile.OpAload, slot),
			classfile.MethodInsn(classfile.OpInvokevirtual, ctx, "isCancelled", "()Z", false),
			classfile.JumpInsn(classfile.OpIfeq, resume),
		)
		ret, d := t.returnPath(m, slot)
		seq = append(seq, ret...)
		seq = append(seq, classfile.LabelInsn(resume))
		depth = max(depth, d)
	}
	return seq, depth
}

// storeCaptures copies this and the captured locals into the context for
// callbacks that only take the context.
func (t *Transformer) storeCaptures(seq []*classfile.Insn, h *Hook, slot int) ([]*classfile.Insn, int) {
	ctx := t.layout.ContextClass
	depth := 0
	if h.Target.CaptureThis {
		seq = append(seq,
			classfile.VarInsn(classfile.OpAload, slot),
			classfile.VarInsn(classfile.OpAload, 0),
			classfile.MethodInsn(classfile.OpInvokevirtual, ctx, "setThis", "(Ljava/lang/Object;)V", false),
		)
		depth = 2
	}
	for _, c := range h.Target.Locals {
		seq = append(seq,
			classfile.VarInsn(classfile.OpAload, slot),
			classfile.VarInsn(classfile.LoadOp(c.Desc), c.Slot),
		)
		if box, ok := boxes[c.Desc[0]]; ok && len(c.Desc) == 1 {
			seq = append(seq, classfile.MethodInsn(classfile.OpInvokestatic, box, "valueOf", "("+c.Desc+")"+classfile.ObjectDesc(box), false))
		}
		seq = append(seq, classfile.MethodInsn(classfile.OpInvokevirtual, ctx, "addArg", "(Ljava/lang/Object;)V", false))
		depth = max(depth, 1+classfile.TypeSize(c.Desc))
	}
	return seq, depth
}

// returnPath leaves the method with the context's return value.
func (t *Transformer) returnPath(m *classfile.Method, slot int) ([]*classfile.Insn, int) {
	mt, err := m.Type()
	if err != nil || mt.Return == "V" {
		return []*classfile.Insn{classfile.Op(classfile.OpReturn)}, 0
	}
	name, desc := returnReader(mt.Return)
	seq := []*classfile.Insn{
		classfile.VarInsn(classfile.OpAload, slot),
		classfile.MethodInsn(classfile.OpInvokevirtual, t.layout.ContextClass, name, desc, false),
	}
	if classfile.LoadOp(mt.Return) == classfile.OpAload && mt.Return != "Ljava/lang/Object;" {
		seq = append(seq, classfile.TypeInsn(classfile.OpCheckcast, classfile.InternalName(mt.Return)))
	}
	seq = append(seq, classfile.Op(classfile.ReturnOp(mt.Return)))
	return seq, classfile.TypeSize(mt.Return)
}

package accessor

import (
	"errors"
	"fmt"

	"github.com/chazu/modhook/classfile"
	"github.com/chazu/modhook/diag"
	"github.com/chazu/modhook/symbol"
)

// Transformer applies pending accessor interfaces to target classes.
type Transformer struct {
	table   *symbol.Table
	sink    *diag.Sink
	pending []*Interface
}

// NewTransformer creates a transformer. A nil sink gets a private one.
func NewTransformer(table *symbol.Table, sink *diag.Sink) *Transformer {
	if table == nil {
		table = symbol.NewTable()
	}
	if sink == nil {
		sink = diag.NewSink("accessor")
	}
	return &Transformer{table: table, sink: sink}
}

// AddAccessor queues an interface. Adding the same interface name twice
// has no effect; it reports whether i was queued.
func (t *Transformer) AddAccessor(i *Interface) bool {
	for _, p := range t.pending {
		if p.Name == i.Name {
			t.sink.Debugf(i.Name, "accessor interface already registered")
			return false
		}
	}
	t.pending = append(t.pending, i)
	return true
}

// Interfaces returns the queued interfaces.
func (t *Transformer) Interfaces() []*Interface {
	return t.pending
}

// Targets reports whether any interface targets the physical class name.
func (t *Transformer) Targets(name string) bool {
	for _, i := range t.pending {
		if i.Target.Matches(name) {
			return true
		}
	}
	return false
}

// Apply implements every queued interface targeting cls that cls does not
// implement yet. Members that cannot be found leave their method abstract
// and are reported as Critical, so the host refuses to load the class.
func (t *Transformer) Apply(cls *classfile.Class) (bool, error) {
	changed := false
	for _, iface := range t.pending {
		if !iface.Target.Matches(cls.Name) {
			continue
		}
		if !cls.AddInterface(iface.Name) {
			t.sink.Debugf(iface.Name, "%s already implements it", cls.Name)
			continue
		}
		changed = true
		for _, am := range iface.Methods {
			m, err := t.synthesize(cls, am)
			if err != nil && !errors.Is(err, ErrAccessorTarget) {
				return changed, fmt.Errorf("%s.%s%s: %w", iface.Name, am.Name, am.Desc, err)
			}
			if err != nil {
				t.sink.Criticalf(iface.Name, "%s.%s%s: %v", cls.Name, am.Name, am.Desc, err)
				m = classfile.NewMethod(classfile.AccPublic|classfile.AccAbstract, am.Name, am.Desc)
			}
			if err := cls.AddMethod(m); err != nil {
				t.sink.Criticalf(iface.Name, "%v", err)
			}
		}
		t.sink.Infof(iface.Name, "applied to %s", cls.Name)
	}
	return changed, nil
}

func (t *Transformer) synthesize(cls *classfile.Class, am Method) (*classfile.Method, error) {
	if am.Member == nil {
		return nil, fmt.Errorf("%w: no symbol for %s", ErrAccessorTarget, am.Logical)
	}
	mt, err := classfile.ParseMethodDesc(am.Desc)
	if err != nil {
		return nil, err
	}
	if am.Kind == Invoker {
		return t.invoker(cls, am, mt)
	}

	f := t.findField(cls, am.Member)
	if f == nil {
		return nil, fmt.Errorf("%w: field %s in %s", ErrAccessorTarget, am.Member.Key(), cls.Name)
	}
	m := classfile.NewMethod(classfile.AccPublic|classfile.AccSynthetic, am.Name, am.Desc)
	code := m.Code
	if am.Kind == Getter {
		if !f.IsStatic() {
			code.Append(classfile.VarInsn(classfile.OpAload, 0))
			code.Append(classfile.FieldInsn(classfile.OpGetfield, cls.Name, f.Name, f.Desc))
		} else {
			code.Append(classfile.FieldInsn(classfile.OpGetstatic, cls.Name, f.Name, f.Desc))
		}
		code.Append(cast(f.Desc, mt.Return)...)
		code.Append(classfile.Op(classfile.ReturnOp(mt.Return)))
		return m, nil
	}

	arg := mt.Args[0]
	if !f.IsStatic() {
		code.Append(classfile.VarInsn(classfile.OpAload, 0))
	}
	code.Append(classfile.VarInsn(classfile.LoadOp(arg), 1))
	code.Append(cast(arg, f.Desc)...)
	if f.IsStatic() {
		code.Append(classfile.FieldInsn(classfile.OpPutstatic, cls.Name, f.Name, f.Desc))
	} else {
		code.Append(classfile.FieldInsn(classfile.OpPutfield, cls.Name, f.Name, f.Desc))
	}
	code.Append(classfile.Op(classfile.OpReturn))
	return m, nil
}

func (t *Transformer) invoker(cls *classfile.Class, am Method, mt classfile.MethodType) (*classfile.Method, error) {
	target := t.findMethod(cls, am.Member, len(mt.Args))
	if target == nil {
		return nil, fmt.Errorf("%w: method %s in %s", ErrAccessorTarget, am.Member.Key(), cls.Name)
	}
	tt, err := target.Type()
	if err != nil {
		return nil, err
	}

	m := classfile.NewMethod(classfile.AccPublic|classfile.AccSynthetic, am.Name, am.Desc)
	code := m.Code
	if !target.IsStatic() {
		code.Append(classfile.VarInsn(classfile.OpAload, 0))
	}
	slot := 1
	for i, a := range mt.Args {
		code.Append(classfile.VarInsn(classfile.LoadOp(a), slot))
		code.Append(cast(a, tt.Args[i])...)
		slot += classfile.TypeSize(a)
	}
	var op classfile.Opcode
	switch {
	case target.IsStatic():
		op = classfile.OpInvokestatic
	case target.IsPrivate() || target.Name == "<init>":
		op = classfile.OpInvokespecial
	case cls.IsInterface():
		op = classfile.OpInvokeinterface
	default:
		op = classfile.OpInvokevirtual
	}
	code.Append(classfile.MethodInsn(op, cls.Name, target.Name, target.Desc, cls.IsInterface()))
	switch {
	case mt.Return == "V" && tt.Return != "V":
		if classfile.TypeSize(tt.Return) == 2 {
			code.Append(classfile.Op(classfile.OpPop2))
		} else {
			code.Append(classfile.Op(classfile.OpPop))
		}
	default:
		code.Append(cast(tt.Return, mt.Return)...)
	}
	code.Append(classfile.Op(classfile.ReturnOp(mt.Return)))
	return m, nil
}

func (t *Transformer) findField(cls *classfile.Class, member *symbol.Symbol) *classfile.Field {
	for _, f := range cls.Fields {
		if member.Matches(f.Name) && t.table.DescMatches(member.Desc, f.Desc) {
			return f
		}
	}
	return nil
}

func (t *Transformer) findMethod(cls *classfile.Class, member *symbol.Symbol, args int) *classfile.Method {
	for _, m := range cls.Methods {
		if !member.Matches(m.Name) || !t.table.DescMatches(member.Desc, m.Desc) {
			continue
		}
		if mt, err := m.Type(); err == nil && len(mt.Args) == args {
			return m
		}
	}
	return nil
}

// cast converts a reference of type from into type to when they are
// spelled differently.
func cast(from, to string) []*classfile.Insn {
	if from == to || classfile.LoadOp(to) != classfile.OpAload || to == "Ljava/lang/Object;" {
		return nil
	}
	return []*classfile.Insn{classfile.TypeInsn(classfile.OpCheckcast, classfile.InternalName(to))}
}

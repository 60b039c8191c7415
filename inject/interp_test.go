package inject

import (
	"fmt"

	"github.com/chazu/modhook/classfile"
	"github.com/chazu/modhook/event"
)

// machine is a small interpreter for the instructions the fixtures and
// the emitted call-outs use. Every stack and local entry is one value;
// fixtures avoid long and double.
type machine struct {
	cls     *classfile.Class
	layout  Layout
	statics map[string]func(args []any) any // "owner.name"
	steps   int
}

type object struct {
	class  string
	fields map[string]any
}

type contextObject struct {
	ctx *event.Context
}

func newMachine(cls *classfile.Class) *machine {
	return &machine{cls: cls, layout: DefaultLayout(), statics: make(map[string]func([]any) any)}
}

func (vm *machine) call(owner, name string, fn func(args []any) any) {
	vm.statics[owner+"."+name] = fn
}

func (vm *machine) run(m *classfile.Method, args ...any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s%s: %v", m.Name, m.Desc, r)
		}
	}()
	locals := make([]any, m.Code.MaxLocals)
	copy(locals, args)
	at := make(map[*classfile.Label]int)
	for i, in := range m.Code.Insns {
		if in.Op == classfile.OpLabel {
			at[in.Target] = i
		}
	}

	var stack []any
	push := func(v any) { stack = append(stack, v) }
	pop := func() any {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v
	}
	popN := func(n int) []any {
		out := make([]any, n)
		copy(out, stack[len(stack)-n:])
		stack = stack[:len(stack)-n]
		return out
	}

	for pc := 0; pc < len(m.Code.Insns); pc++ {
		in := m.Code.Insns[pc]
		vm.steps++
		if vm.steps > 10000 {
			return nil, fmt.Errorf("step limit")
		}
		switch op := in.Op; {
		case op == classfile.OpLabel, op == classfile.OpLine, op == classfile.OpNop, op == classfile.OpCheckcast:
		case op >= classfile.OpIconstM1 && op <= classfile.OpIconst5:
			push(int32(op) - int32(classfile.OpIconst0))
		case op == classfile.OpBipush, op == classfile.OpSipush:
			push(in.Int)
		case op == classfile.OpLdc:
			push(vm.constant(in))
		case op == classfile.OpIload, op == classfile.OpAload:
			push(locals[in.Var])
		case op == classfile.OpIstore, op == classfile.OpAstore:
			locals[in.Var] = pop()
		case op == classfile.OpIadd:
			b, a := pop().(int32), pop().(int32)
			push(a + b)
		case op == classfile.OpIsub:
			b, a := pop().(int32), pop().(int32)
			push(a - b)
		case op == classfile.OpDup:
			push(stack[len(stack)-1])
		case op == classfile.OpPop:
			pop()
		case op == classfile.OpNew:
			if in.Type == vm.layout.ContextClass {
				push(&contextObject{})
			} else {
				push(&object{class: in.Type, fields: map[string]any{}})
			}
		case op == classfile.OpGetfield:
			push(pop().(*object).fields[in.Name])
		case op == classfile.OpPutfield:
			v := pop()
			pop().(*object).fields[in.Name] = v
		case op == classfile.OpIfeq, op == classfile.OpIfne, op == classfile.OpIfge, op == classfile.OpIflt:
			v := pop().(int32)
			taken := map[classfile.Opcode]bool{
				classfile.OpIfeq: v == 0, classfile.OpIfne: v != 0,
				classfile.OpIfge: v >= 0, classfile.OpIflt: v < 0,
			}[op]
			if taken {
				pc = at[in.Target]
			}
		case op == classfile.OpGoto:
			pc = at[in.Target]
		case op == classfile.OpReturn:
			return nil, nil
		case op == classfile.OpIreturn, op == classfile.OpAreturn:
			return pop(), nil
		case op == classfile.OpInvokestatic, op == classfile.OpInvokespecial, op == classfile.OpInvokevirtual:
			mt, err := classfile.ParseMethodDesc(in.Desc)
			if err != nil {
				return nil, err
			}
			args := popN(len(mt.Args))
			if op == classfile.OpInvokestatic {
				if r, ok := vm.static(in, args); ok {
					push(r)
				}
				continue
			}
			if r, ok := vm.virtual(pop(), in, args); ok && mt.Return != "V" {
				push(r)
			}
		default:
			return nil, fmt.Errorf("unsupported %s", in.Op)
		}
	}
	return nil, fmt.Errorf("fell off the end")
}

func (vm *machine) constant(in *classfile.Insn) any {
	if in.Const != nil {
		return in.Const
	}
	c, err := vm.cls.Pool.Get(in.Index)
	if err != nil {
		panic(err)
	}
	switch c.Tag {
	case classfile.TagString:
		s, err := vm.cls.Pool.UTF8(c.A)
		if err != nil {
			panic(err)
		}
		return s
	case classfile.TagInteger:
		return int32(c.Bits)
	}
	panic(fmt.Sprintf("constant tag %d", c.Tag))
}

func (vm *machine) static(in *classfile.Insn, args []any) (any, bool) {
	if in.Name == "valueOf" {
		return args[0], true
	}
	fn, ok := vm.statics[in.Owner+"."+in.Name]
	if !ok {
		panic("no static " + in.Owner + "." + in.Name)
	}
	r := fn(args)
	return r, r != nil
}

func (vm *machine) virtual(recv any, in *classfile.Insn, args []any) (any, bool) {
	c, ok := recv.(*contextObject)
	if !ok {
		return nil, false // Object.<init>
	}
	switch in.Name {
	case "<init>":
		c.ctx = &event.Context{Event: args[0].(string), Cancellable: args[1].(int32) != 0, PacketIndex: -1}
		if len(args) == 3 {
			c.ctx.PacketIndex = int(args[2].(int32))
		}
	case "isCancelled":
		if c.ctx.IsCancelled() {
			return int32(1), true
		}
		return int32(0), true
	case "getReturnInt", "getReturnValue":
		v, _ := c.ctx.ReturnValue()
		return v, true
	case "setThis":
		c.ctx.This = args[0]
	case "addArg":
		c.ctx.Args = append(c.ctx.Args, args[0])
	default:
		panic("no context method " + in.Name)
	}
	return nil, false
}

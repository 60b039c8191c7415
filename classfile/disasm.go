package classfile

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// FormatInsn renders a single instruction. Labels print their resolved
// number; DisassembleMethod numbers them by stream position instead.
func FormatInsn(in *Insn, pool *Pool) string {
	return formatInsn(in, pool, (*Label).String)
}

func formatInsn(in *Insn, pool *Pool, label func(*Label) string) string {
	name := in.Op.String()
	switch in.Op.Info().format {
	case fmtByte, fmtShort, fmtNewarray:
		return fmt.Sprintf("%s %d", name, in.Int)
	case fmtVar:
		return fmt.Sprintf("%s %d", name, in.Var)
	case fmtIinc:
		return fmt.Sprintf("%s %d %d", name, in.Var, in.Int)
	case fmtLdc, fmtLdcW:
		if in.Const != nil {
			return fmt.Sprintf("%s %#v", name, in.Const)
		}
		if pool != nil {
			return fmt.Sprintf("%s %s", name, pool.Describe(in.Index))
		}
		return fmt.Sprintf("%s #%d", name, in.Index)
	case fmtJump, fmtJumpW:
		return fmt.Sprintf("%s %s", name, label(in.Target))
	case fmtTable:
		parts := make([]string, len(in.Targets))
		for i, t := range in.Targets {
			parts[i] = fmt.Sprintf("%d: %s", in.Low+int32(i), label(t))
		}
		return fmt.Sprintf("%s {%s; default: %s}", name, strings.Join(parts, ", "), label(in.Default))
	case fmtLookup:
		parts := make([]string, len(in.Keys))
		for i, k := range in.Keys {
			parts[i] = fmt.Sprintf("%d: %s", k, label(in.Targets[i]))
		}
		return fmt.Sprintf("%s {%s; default: %s}", name, strings.Join(parts, ", "), label(in.Default))
	case fmtField:
		return fmt.Sprintf("%s %s.%s:%s", name, in.Owner, in.Name, in.Desc)
	case fmtMethod, fmtInterface:
		return fmt.Sprintf("%s %s.%s%s", name, in.Owner, in.Name, in.Desc)
	case fmtDynamic:
		return fmt.Sprintf("%s #%d:%s%s", name, in.Index, in.Name, in.Desc)
	case fmtType:
		return fmt.Sprintf("%s %s", name, in.Type)
	case fmtMulti:
		return fmt.Sprintf("%s %s %d", name, in.Type, in.Int)
	}
	switch in.Op {
	case OpLabel:
		return label(in.Target) + ":"
	case OpLine:
		return fmt.Sprintf("line %d", in.Line)
	}
	return name
}

// DisassembleMethod returns a listing of one method body.
func DisassembleMethod(m *Method, pool *Pool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s%s  access=0x%04x\n", m.Name, m.Desc, m.Access)
	if m.Code == nil {
		b.WriteString("    (no code)\n")
		return b.String()
	}
	fmt.Fprintf(&b, "    stack=%d locals=%d\n", m.Code.MaxStack, m.Code.MaxLocals)
	names := make(map[*Label]string)
	for _, in := range m.Code.Insns {
		if in.Op == OpLabel {
			if _, ok := names[in.Target]; !ok {
				names[in.Target] = fmt.Sprintf("L%d", len(names))
			}
		}
	}
	label := func(l *Label) string {
		if n, ok := names[l]; ok {
			return n
		}
		return "L?"
	}
	for i, in := range m.Code.Insns {
		switch in.Op {
		case OpLabel:
			fmt.Fprintf(&b, "  %s\n", formatInsn(in, pool, label))
		default:
			fmt.Fprintf(&b, "    %04d  %s\n", i, formatInsn(in, pool, label))
		}
	}
	for _, tc := range m.Code.TryCatch {
		typ := tc.Type
		if typ == "" {
			typ = "any"
		}
		fmt.Fprintf(&b, "    try %s..%s -> %s %s\n", label(tc.Start), label(tc.End), label(tc.Handler), typ)
	}
	return b.String()
}

// Disassemble returns a listing of the whole class.
func Disassemble(c *Class) string {
	var b strings.Builder
	fmt.Fprintf(&b, "class %s  version=%d.%d access=0x%04x\n", c.Name, c.Major, c.Minor, c.Access)
	if c.Super != "" {
		fmt.Fprintf(&b, "  extends %s\n", c.Super)
	}
	for _, i := range c.Interfaces {
		fmt.Fprintf(&b, "  implements %s\n", i)
	}
	for _, f := range c.Fields {
		fmt.Fprintf(&b, "  field %s:%s  access=0x%04x\n", f.Name, f.Desc, f.Access)
	}
	for _, m := range c.Methods {
		b.WriteString("\n  method ")
		b.WriteString(DisassembleMethod(m, c.Pool))
	}
	return b.String()
}

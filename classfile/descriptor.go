package classfile

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBadDescriptor is returned for descriptors that do not parse.
var ErrBadDescriptor = errors.New("malformed descriptor")

// MethodType is a parsed method descriptor.
type MethodType struct {
	Args   []string
	Return string
}

// ParseMethodDesc splits "(IJLjava/lang/String;)V" into argument and
// return field descriptors.
func ParseMethodDesc(desc string) (MethodType, error) {
	var mt MethodType
	if !strings.HasPrefix(desc, "(") {
		return mt, fmt.Errorf("%w: %q", ErrBadDescriptor, desc)
	}
	i := 1
	for i < len(desc) && desc[i] != ')' {
		n, err := fieldDescLen(desc[i:])
		if err != nil {
			return mt, fmt.Errorf("%w: %q", err, desc)
		}
		mt.Args = append(mt.Args, desc[i:i+n])
		i += n
	}
	if i >= len(desc) {
		return mt, fmt.Errorf("%w: %q", ErrBadDescriptor, desc)
	}
	ret := desc[i+1:]
	if ret != "V" {
		n, err := fieldDescLen(ret)
		if err != nil || n != len(ret) {
			return mt, fmt.Errorf("%w: %q", ErrBadDescriptor, desc)
		}
	}
	mt.Return = ret
	return mt, nil
}

func fieldDescLen(s string) (int, error) {
	i := 0
	for i < len(s) && s[i] == '[' {
		i++
	}
	if i >= len(s) {
		return 0, ErrBadDescriptor
	}
	switch s[i] {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		return i + 1, nil
	case 'L':
		end := strings.IndexByte(s[i:], ';')
		if end < 0 {
			return 0, ErrBadDescriptor
		}
		return i + end + 1, nil
	}
	return 0, ErrBadDescriptor
}

// String reassembles the descriptor.
func (mt MethodType) String() string {
	return "(" + strings.Join(mt.Args, "") + ")" + mt.Return
}

// ArgSlots returns the local slots taken by the arguments.
func (mt MethodType) ArgSlots() int {
	n := 0
	for _, a := range mt.Args {
		n += TypeSize(a)
	}
	return n
}

// TypeSize returns the stack/local words taken by a field descriptor:
// 2 for long and double, 0 for void, otherwise 1.
func TypeSize(t string) int {
	switch t {
	case "J", "D":
		return 2
	case "V", "":
		return 0
	}
	return 1
}

// sortOf returns the computational type letter: I, J, F, D, A or V.
func sortOf(t string) byte {
	if t == "" || t == "V" {
		return 'V'
	}
	switch t[0] {
	case 'Z', 'B', 'C', 'S', 'I':
		return 'I'
	case 'J', 'F', 'D':
		return t[0]
	}
	return 'A'
}

// ReturnOp returns the return instruction for a return type.
func ReturnOp(t string) Opcode {
	switch sortOf(t) {
	case 'I':
		return OpIreturn
	case 'J':
		return OpLreturn
	case 'F':
		return OpFreturn
	case 'D':
		return OpDreturn
	case 'A':
		return OpAreturn
	}
	return OpReturn
}

// LoadOp returns the load instruction for a value type.
func LoadOp(t string) Opcode {
	switch sortOf(t) {
	case 'J':
		return OpLload
	case 'F':
		return OpFload
	case 'D':
		return OpDload
	case 'A':
		return OpAload
	}
	return OpIload
}

// StoreOp returns the store instruction for a value type.
func StoreOp(t string) Opcode {
	return LoadOp(t) - OpIload + OpIstore
}

// InternalName extracts "a/b/C" from "La/b/C;"; array and primitive
// descriptors are returned unchanged.
func InternalName(t string) string {
	if len(t) > 2 && t[0] == 'L' && t[len(t)-1] == ';' {
		return t[1 : len(t)-1]
	}
	return t
}

// ObjectDesc turns an internal name into a field descriptor.
func ObjectDesc(name string) string {
	if strings.HasPrefix(name, "[") {
		return name
	}
	return "L" + name + ";"
}

// MapClassNames rewrites every class reference inside a field or method
// descriptor through fn.
func MapClassNames(desc string, fn func(string) string) string {
	var b strings.Builder
	for i := 0; i < len(desc); i++ {
		if desc[i] != 'L' {
			b.WriteByte(desc[i])
			continue
		}
		end := strings.IndexByte(desc[i:], ';')
		if end < 0 {
			b.WriteString(desc[i:])
			break
		}
		b.WriteByte('L')
		b.WriteString(fn(desc[i+1 : i+end]))
		b.WriteByte(';')
		i += end
	}
	return b.String()
}

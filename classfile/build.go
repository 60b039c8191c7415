package classfile

// ---------------------------------------------------------------------------
// Building classes from scratch
// ---------------------------------------------------------------------------

// NewClass creates an empty class with a fresh constant pool. The version
// defaults to FramesFreeMajor.
func NewClass(name, super string, access uint16) *Class {
	return &Class{
		Major:  FramesFreeMajor,
		Pool:   NewPool(),
		Access: access,
		Name:   name,
		Super:  super,
	}
}

// NewMethod creates a method declaration. Abstract and native methods get
// no body; others get an empty one sized for their arguments.
func NewMethod(access uint16, name, desc string) *Method {
	m := &Method{Access: access, Name: name, Desc: desc, codeAt: -1}
	if access&(AccAbstract|AccNative) != 0 {
		return m
	}
	locals := 0
	if mt, err := ParseMethodDesc(desc); err == nil {
		locals = mt.ArgSlots()
	}
	if access&AccStatic == 0 {
		locals++
	}
	m.Code = NewCode(0, locals)
	return m
}

// AddField appends a field declaration and returns it.
func (c *Class) AddField(access uint16, name, desc string) *Field {
	f := &Field{Access: access, Name: name, Desc: desc}
	c.Fields = append(c.Fields, f)
	return f
}

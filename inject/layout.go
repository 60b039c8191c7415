package inject

import (
	"github.com/chazu/modhook/classfile"
	"github.com/chazu/modhook/event"
)

// Layout names the JVM-side runtime classes injected code links against.
//
// The context class must provide:
//
//	<init>(Ljava/lang/String;Z)V       plain events
//	<init>(Ljava/lang/String;ZI)V      packet events
//	setThis(Ljava/lang/Object;)V
//	addArg(Ljava/lang/Object;)V
//	isCancelled()Z
//	getReturnValue()Ljava/lang/Object;
//	getReturnInt()I, getReturnLong()J, getReturnFloat()F, getReturnDouble()D
type Layout struct {
	ContextClass string
	BridgeOwner  string
}

// DefaultLayout returns the layout of the bundled runtime.
func DefaultLayout() Layout {
	return Layout{ContextClass: event.DefaultContextClass, BridgeOwner: event.DefaultBridgeOwner}
}

func (l Layout) withDefaults() Layout {
	d := DefaultLayout()
	if l.ContextClass == "" {
		l.ContextClass = d.ContextClass
	}
	if l.BridgeOwner == "" {
		l.BridgeOwner = d.BridgeOwner
	}
	return l
}

// Bridge returns the callback routing to the Go-side bus.
func (l Layout) Bridge() event.CallbackRef {
	return event.BridgeCallback(l.BridgeOwner, l.ContextClass)
}

// ContextDesc is the field descriptor of the context class.
func (l Layout) ContextDesc() string {
	return classfile.ObjectDesc(l.ContextClass)
}

func (l Layout) ctorDesc(packet bool) string {
	if packet {
		return "(Ljava/lang/String;ZI)V"
	}
	return "(Ljava/lang/String;Z)V"
}

// returnReader returns the context getter and its descriptor for a
// method return type.
func returnReader(ret string) (name, desc string) {
	switch ret[0] {
	case 'Z', 'B', 'C', 'S', 'I':
		return "getReturnInt", "()I"
	case 'J':
		return "getReturnLong", "()J"
	case 'F':
		return "getReturnFloat", "()F"
	case 'D':
		return "getReturnDouble", "()D"
	}
	return "getReturnValue", "()Ljava/lang/Object;"
}

// boxes maps primitive descriptors to their valueOf owner.
var boxes = map[byte]string{
	'Z': "java/lang/Boolean",
	'B': "java/lang/Byte",
	'C': "java/lang/Character",
	'S': "java/lang/Short",
	'I': "java/lang/Integer",
	'J': "java/lang/Long",
	'F': "java/lang/Float",
	'D': "java/lang/Double",
}

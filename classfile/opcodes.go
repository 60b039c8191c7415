package classfile

import "fmt"

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode identifies a JVM instruction. Values above 0xFF are pseudo
// instructions that only exist in the decoded instruction stream.
type Opcode uint16

// Constants
const (
	OpNop        Opcode = 0x00
	OpAconstNull Opcode = 0x01
	OpIconstM1   Opcode = 0x02
	OpIconst0    Opcode = 0x03
	OpIconst1    Opcode = 0x04
	OpIconst2    Opcode = 0x05
	OpIconst3    Opcode = 0x06
	OpIconst4    Opcode = 0x07
	OpIconst5    Opcode = 0x08
	OpLconst0    Opcode = 0x09
	OpLconst1    Opcode = 0x0A
	OpFconst0    Opcode = 0x0B
	OpFconst1    Opcode = 0x0C
	OpFconst2    Opcode = 0x0D
	OpDconst0    Opcode = 0x0E
	OpDconst1    Opcode = 0x0F
	OpBipush     Opcode = 0x10
	OpSipush     Opcode = 0x11
	OpLdc        Opcode = 0x12
	OpLdcW       Opcode = 0x13
	OpLdc2W      Opcode = 0x14
)

// Loads
const (
	OpIload  Opcode = 0x15
	OpLload  Opcode = 0x16
	OpFload  Opcode = 0x17
	OpDload  Opcode = 0x18
	OpAload  Opcode = 0x19
	OpIload0 Opcode = 0x1A // iload_0 .. dload_3 and aload_0 .. aload_3 follow
	OpAload0 Opcode = 0x2A
	OpAload3 Opcode = 0x2D
	OpIaload Opcode = 0x2E
	OpLaload Opcode = 0x2F
	OpFaload Opcode = 0x30
	OpDaload Opcode = 0x31
	OpAaload Opcode = 0x32
	OpBaload Opcode = 0x33
	OpCaload Opcode = 0x34
	OpSaload Opcode = 0x35
)

// Stores
const (
	OpIstore  Opcode = 0x36
	OpLstore  Opcode = 0x37
	OpFstore  Opcode = 0x38
	OpDstore  Opcode = 0x39
	OpAstore  Opcode = 0x3A
	OpIstore0 Opcode = 0x3B // istore_0 .. astore_3 follow
	OpAstore3 Opcode = 0x4E
	OpIastore Opcode = 0x4F
	OpLastore Opcode = 0x50
	OpFastore Opcode = 0x51
	OpDastore Opcode = 0x52
	OpAastore Opcode = 0x53
	OpBastore Opcode = 0x54
	OpCastore Opcode = 0x55
	OpSastore Opcode = 0x56
)

// Stack
const (
	OpPop    Opcode = 0x57
	OpPop2   Opcode = 0x58
	OpDup    Opcode = 0x59
	OpDupX1  Opcode = 0x5A
	OpDupX2  Opcode = 0x5B
	OpDup2   Opcode = 0x5C
	OpDup2X1 Opcode = 0x5D
	OpDup2X2 Opcode = 0x5E
	OpSwap   Opcode = 0x5F
)

// Arithmetic and conversions
const (
	OpIadd  Opcode = 0x60
	OpLadd  Opcode = 0x61
	OpFadd  Opcode = 0x62
	OpDadd  Opcode = 0x63
	OpIsub  Opcode = 0x64
	OpLsub  Opcode = 0x65
	OpFsub  Opcode = 0x66
	OpDsub  Opcode = 0x67
	OpImul  Opcode = 0x68
	OpLmul  Opcode = 0x69
	OpFmul  Opcode = 0x6A
	OpDmul  Opcode = 0x6B
	OpIdiv  Opcode = 0x6C
	OpLdiv  Opcode = 0x6D
	OpFdiv  Opcode = 0x6E
	OpDdiv  Opcode = 0x6F
	OpIrem  Opcode = 0x70
	OpLrem  Opcode = 0x71
	OpFrem  Opcode = 0x72
	OpDrem  Opcode = 0x73
	OpIneg  Opcode = 0x74
	OpLneg  Opcode = 0x75
	OpFneg  Opcode = 0x76
	OpDneg  Opcode = 0x77
	OpIshl  Opcode = 0x78
	OpLshl  Opcode = 0x79
	OpIshr  Opcode = 0x7A
	OpLshr  Opcode = 0x7B
	OpIushr Opcode = 0x7C
	OpLushr Opcode = 0x7D
	OpIand  Opcode = 0x7E
	OpLand  Opcode = 0x7F
	OpIor   Opcode = 0x80
	OpLor   Opcode = 0x81
	OpIxor  Opcode = 0x82
	OpLxor  Opcode = 0x83
	OpIinc  Opcode = 0x84
	OpI2l   Opcode = 0x85
	OpI2f   Opcode = 0x86
	OpI2d   Opcode = 0x87
	OpL2i   Opcode = 0x88
	OpL2f   Opcode = 0x89
	OpL2d   Opcode = 0x8A
	OpF2i   Opcode = 0x8B
	OpF2l   Opcode = 0x8C
	OpF2d   Opcode = 0x8D
	OpD2i   Opcode = 0x8E
	OpD2l   Opcode = 0x8F
	OpD2f   Opcode = 0x90
	OpI2b   Opcode = 0x91
	OpI2c   Opcode = 0x92
	OpI2s   Opcode = 0x93
)

// Comparisons and control
const (
	OpLcmp         Opcode = 0x94
	OpFcmpl        Opcode = 0x95
	OpFcmpg        Opcode = 0x96
	OpDcmpl        Opcode = 0x97
	OpDcmpg        Opcode = 0x98
	OpIfeq         Opcode = 0x99
	OpIfne         Opcode = 0x9A
	OpIflt         Opcode = 0x9B
	OpIfge         Opcode = 0x9C
	OpIfgt         Opcode = 0x9D
	OpIfle         Opcode = 0x9E
	OpIfIcmpeq     Opcode = 0x9F
	OpIfIcmpne     Opcode = 0xA0
	OpIfIcmplt     Opcode = 0xA1
	OpIfIcmpge     Opcode = 0xA2
	OpIfIcmpgt     Opcode = 0xA3
	OpIfIcmple     Opcode = 0xA4
	OpIfAcmpeq     Opcode = 0xA5
	OpIfAcmpne     Opcode = 0xA6
	OpGoto         Opcode = 0xA7
	OpJsr          Opcode = 0xA8
	OpRet          Opcode = 0xA9
	OpTableswitch  Opcode = 0xAA
	OpLookupswitch Opcode = 0xAB
	OpIreturn      Opcode = 0xAC
	OpLreturn      Opcode = 0xAD
	OpFreturn      Opcode = 0xAE
	OpDreturn      Opcode = 0xAF
	OpAreturn      Opcode = 0xB0
	OpReturn       Opcode = 0xB1
)

// References
const (
	OpGetstatic       Opcode = 0xB2
	OpPutstatic       Opcode = 0xB3
	OpGetfield        Opcode = 0xB4
	OpPutfield        Opcode = 0xB5
	OpInvokevirtual   Opcode = 0xB6
	OpInvokespecial   Opcode = 0xB7
	OpInvokestatic    Opcode = 0xB8
	OpInvokeinterface Opcode = 0xB9
	OpInvokedynamic   Opcode = 0xBA
	OpNew             Opcode = 0xBB
	OpNewarray        Opcode = 0xBC
	OpAnewarray       Opcode = 0xBD
	OpArraylength     Opcode = 0xBE
	OpAthrow          Opcode = 0xBF
	OpCheckcast       Opcode = 0xC0
	OpInstanceof      Opcode = 0xC1
	OpMonitorenter    Opcode = 0xC2
	OpMonitorexit     Opcode = 0xC3
	OpWide            Opcode = 0xC4
	OpMultianewarray  Opcode = 0xC5
	OpIfnull          Opcode = 0xC6
	OpIfnonnull       Opcode = 0xC7
	OpGotoW           Opcode = 0xC8
	OpJsrW            Opcode = 0xC9
)

// Pseudo instructions
const (
	OpLabel Opcode = 0x100 // position marker, target of jumps and ranges
	OpLine  Opcode = 0x101 // source line of the following instruction
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// Kind groups opcodes by what injection points look for.
type Kind uint8

const (
	KindOther Kind = iota
	KindConst
	KindLoad
	KindStore
	KindReturn
	KindField
	KindInvoke
	KindNew
	KindJump
	KindSwitch
	KindPseudo
)

// format describes how an opcode's operands are laid out in bytecode.
type format uint8

const (
	fmtNone format = iota
	fmtByte
	fmtShort
	fmtLdc
	fmtLdcW
	fmtVar
	fmtIinc
	fmtJump
	fmtJumpW
	fmtTable
	fmtLookup
	fmtField
	fmtMethod
	fmtInterface
	fmtDynamic
	fmtType
	fmtNewarray
	fmtMulti
	fmtWide
)

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name   string
	Kind   Kind
	format format
}

var opcodeTable [0xCA]OpcodeInfo

func def(op Opcode, name string, kind Kind, f format) {
	opcodeTable[op] = OpcodeInfo{Name: name, Kind: kind, format: f}
}

func init() {
	names := []string{"nop", "aconst_null", "iconst_m1", "iconst_0", "iconst_1", "iconst_2",
		"iconst_3", "iconst_4", "iconst_5", "lconst_0", "lconst_1", "fconst_0", "fconst_1",
		"fconst_2", "dconst_0", "dconst_1"}
	for i, n := range names {
		def(Opcode(i), n, KindConst, fmtNone)
	}
	opcodeTable[OpNop].Kind = KindOther
	def(OpBipush, "bipush", KindConst, fmtByte)
	def(OpSipush, "sipush", KindConst, fmtShort)
	def(OpLdc, "ldc", KindConst, fmtLdc)
	def(OpLdcW, "ldc_w", KindConst, fmtLdcW)
	def(OpLdc2W, "ldc2_w", KindConst, fmtLdcW)

	prefixes := []string{"i", "l", "f", "d", "a"}
	for i, p := range prefixes {
		def(OpIload+Opcode(i), p+"load", KindLoad, fmtVar)
		def(OpIstore+Opcode(i), p+"store", KindStore, fmtVar)
		for n := 0; n < 4; n++ {
			def(OpIload0+Opcode(i*4+n), fmt.Sprintf("%sload_%d", p, n), KindLoad, fmtNone)
			def(OpIstore0+Opcode(i*4+n), fmt.Sprintf("%sstore_%d", p, n), KindStore, fmtNone)
		}
	}
	for i, n := range []string{"iaload", "laload", "faload", "daload", "aaload", "baload", "caload", "saload"} {
		def(OpIaload+Opcode(i), n, KindOther, fmtNone)
	}
	for i, n := range []string{"iastore", "lastore", "fastore", "dastore", "aastore", "bastore", "castore", "sastore"} {
		def(OpIastore+Opcode(i), n, KindOther, fmtNone)
	}
	for i, n := range []string{"pop", "pop2", "dup", "dup_x1", "dup_x2", "dup2", "dup2_x1", "dup2_x2", "swap",
		"iadd", "ladd", "fadd", "dadd", "isub", "lsub", "fsub", "dsub", "imul", "lmul", "fmul", "dmul",
		"idiv", "ldiv", "fdiv", "ddiv", "irem", "lrem", "frem", "drem", "ineg", "lneg", "fneg", "dneg",
		"ishl", "lshl", "ishr", "lshr", "iushr", "lushr", "iand", "land", "ior", "lor", "ixor", "lxor"} {
		def(OpPop+Opcode(i), n, KindOther, fmtNone)
	}
	def(OpIinc, "iinc", KindOther, fmtIinc)
	for i, n := range []string{"i2l", "i2f", "i2d", "l2i", "l2f", "l2d", "f2i", "f2l", "f2d",
		"d2i", "d2l", "d2f", "i2b", "i2c", "i2s", "lcmp", "fcmpl", "fcmpg", "dcmpl", "dcmpg"} {
		def(OpI2l+Opcode(i), n, KindOther, fmtNone)
	}
	for i, n := range []string{"ifeq", "ifne", "iflt", "ifge", "ifgt", "ifle", "if_icmpeq", "if_icmpne",
		"if_icmplt", "if_icmpge", "if_icmpgt", "if_icmple", "if_acmpeq", "if_acmpne", "goto", "jsr"} {
		def(OpIfeq+Opcode(i), n, KindJump, fmtJump)
	}
	def(OpRet, "ret", KindOther, fmtVar)
	def(OpTableswitch, "tableswitch", KindSwitch, fmtTable)
	def(OpLookupswitch, "lookupswitch", KindSwitch, fmtLookup)
	for i, n := range []string{"ireturn", "lreturn", "freturn", "dreturn", "areturn", "return"} {
		def(OpIreturn+Opcode(i), n, KindReturn, fmtNone)
	}
	def(OpGetstatic, "getstatic", KindField, fmtField)
	def(OpPutstatic, "putstatic", KindField, fmtField)
	def(OpGetfield, "getfield", KindField, fmtField)
	def(OpPutfield, "putfield", KindField, fmtField)
	def(OpInvokevirtual, "invokevirtual", KindInvoke, fmtMethod)
	def(OpInvokespecial, "invokespecial", KindInvoke, fmtMethod)
	def(OpInvokestatic, "invokestatic", KindInvoke, fmtMethod)
	def(OpInvokeinterface, "invokeinterface", KindInvoke, fmtInterface)
	def(OpInvokedynamic, "invokedynamic", KindInvoke, fmtDynamic)
	def(OpNew, "new", KindNew, fmtType)
	def(OpNewarray, "newarray", KindOther, fmtNewarray)
	def(OpAnewarray, "anewarray", KindOther, fmtType)
	def(OpArraylength, "arraylength", KindOther, fmtNone)
	def(OpAthrow, "athrow", KindOther, fmtNone)
	def(OpCheckcast, "checkcast", KindOther, fmtType)
	def(OpInstanceof, "instanceof", KindOther, fmtType)
	def(OpMonitorenter, "monitorenter", KindOther, fmtNone)
	def(OpMonitorexit, "monitorexit", KindOther, fmtNone)
	def(OpWide, "wide", KindOther, fmtWide)
	def(OpMultianewarray, "multianewarray", KindOther, fmtMulti)
	def(OpIfnull, "ifnull", KindJump, fmtJump)
	def(OpIfnonnull, "ifnonnull", KindJump, fmtJump)
	def(OpGotoW, "goto_w", KindJump, fmtJumpW)
	def(OpJsrW, "jsr_w", KindJump, fmtJumpW)
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	switch op {
	case OpLabel:
		return OpcodeInfo{Name: "label", Kind: KindPseudo}
	case OpLine:
		return OpcodeInfo{Name: "line", Kind: KindPseudo}
	}
	if int(op) < len(opcodeTable) && opcodeTable[op].Name != "" {
		return opcodeTable[op]
	}
	return OpcodeInfo{Name: fmt.Sprintf("unknown_%02x", uint16(op)), Kind: KindOther}
}

// Valid reports whether op is a defined JVM opcode or pseudo instruction.
func (op Opcode) Valid() bool {
	if op == OpLabel || op == OpLine {
		return true
	}
	return int(op) < len(opcodeTable) && opcodeTable[op].Name != ""
}

// Kind returns the opcode's kind class.
func (op Opcode) Kind() Kind {
	return op.Info().Kind
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Info().Name
}

// IsPseudo reports whether op never reaches the bytecode.
func (op Opcode) IsPseudo() bool {
	return op >= OpLabel
}

// IsConditional reports whether op is a conditional branch.
func (op Opcode) IsConditional() bool {
	return (op >= OpIfeq && op <= OpIfAcmpne) || op == OpIfnull || op == OpIfnonnull
}

// EndsBlock reports whether control never falls through op.
func (op Opcode) EndsBlock() bool {
	switch op {
	case OpGoto, OpGotoW, OpRet, OpTableswitch, OpLookupswitch, OpAthrow,
		OpIreturn, OpLreturn, OpFreturn, OpDreturn, OpAreturn, OpReturn:
		return true
	}
	return false
}

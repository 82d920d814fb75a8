package metadata

import "fmt"

// Code is a CIL opcode value. Two-byte opcodes carry the 0xFE prefix in the high byte.
type Code uint16

// OperandType is the kind of inline operand an opcode takes.
type OperandType byte

const (
	InlineNone OperandType = iota
	ShortInlineBrTarget
	InlineBrTarget
	ShortInlineI
	InlineI
	InlineI8
	ShortInlineR
	InlineR
	InlineString
	InlineMethod
	InlineField
	InlineType
	InlineTok
	InlineSig
	ShortInlineVar
	InlineVar
	ShortInlineArg
	InlineArg
	InlineSwitch
)

// FlowControl describes how an opcode affects control flow.
type FlowControl byte

const (
	FlowNext FlowControl = iota
	FlowBranch
	FlowCondBranch
	FlowCall
	FlowReturn
	FlowThrow
	FlowBreak
	FlowMeta
)

// VarStack marks a pop or push count that depends on the operand.
const VarStack = -1

// OpInfo describes an opcode.
type OpInfo struct {
	Name    string
	Operand OperandType
	Flow    FlowControl
	Pop     int8
	Push    int8
}

// Single-byte opcodes.
const (
	OpNop         Code = 0x00
	OpBreak       Code = 0x01
	OpLdarg0      Code = 0x02
	OpLdarg1      Code = 0x03
	OpLdarg2      Code = 0x04
	OpLdarg3      Code = 0x05
	OpLdloc0      Code = 0x06
	OpLdloc1      Code = 0x07
	OpLdloc2      Code = 0x08
	OpLdloc3      Code = 0x09
	OpStloc0      Code = 0x0A
	OpStloc1      Code = 0x0B
	OpStloc2      Code = 0x0C
	OpStloc3      Code = 0x0D
	OpLdargS      Code = 0x0E
	OpLdargaS     Code = 0x0F
	OpStargS      Code = 0x10
	OpLdlocS      Code = 0x11
	OpLdlocaS     Code = 0x12
	OpStlocS      Code = 0x13
	OpLdnull      Code = 0x14
	OpLdcI4M1     Code = 0x15
	OpLdcI40      Code = 0x16
	OpLdcI41      Code = 0x17
	OpLdcI42      Code = 0x18
	OpLdcI43      Code = 0x19
	OpLdcI44      Code = 0x1A
	OpLdcI45      Code = 0x1B
	OpLdcI46      Code = 0x1C
	OpLdcI47      Code = 0x1D
	OpLdcI48      Code = 0x1E
	OpLdcI4S      Code = 0x1F
	OpLdcI4       Code = 0x20
	OpLdcI8       Code = 0x21
	OpLdcR4       Code = 0x22
	OpLdcR8       Code = 0x23
	OpDup         Code = 0x25
	OpPop         Code = 0x26
	OpJmp         Code = 0x27
	OpCall        Code = 0x28
	OpCalli       Code = 0x29
	OpRet         Code = 0x2A
	OpBrS         Code = 0x2B
	OpBrfalseS    Code = 0x2C
	OpBrtrueS     Code = 0x2D
	OpBeqS        Code = 0x2E
	OpBgeS        Code = 0x2F
	OpBgtS        Code = 0x30
	OpBleS        Code = 0x31
	OpBltS        Code = 0x32
	OpBneUnS      Code = 0x33
	OpBgeUnS      Code = 0x34
	OpBgtUnS      Code = 0x35
	OpBleUnS      Code = 0x36
	OpBltUnS      Code = 0x37
	OpBr          Code = 0x38
	OpBrfalse     Code = 0x39
	OpBrtrue      Code = 0x3A
	OpBeq         Code = 0x3B
	OpBge         Code = 0x3C
	OpBgt         Code = 0x3D
	OpBle         Code = 0x3E
	OpBlt         Code = 0x3F
	OpBneUn       Code = 0x40
	OpBgeUn       Code = 0x41
	OpBgtUn       Code = 0x42
	OpBleUn       Code = 0x43
	OpBltUn       Code = 0x44
	OpSwitch      Code = 0x45
	OpLdindI1     Code = 0x46
	OpLdindU1     Code = 0x47
	OpLdindI2     Code = 0x48
	OpLdindU2     Code = 0x49
	OpLdindI4     Code = 0x4A
	OpLdindU4     Code = 0x4B
	OpLdindI8     Code = 0x4C
	OpLdindI      Code = 0x4D
	OpLdindR4     Code = 0x4E
	OpLdindR8     Code = 0x4F
	OpLdindRef    Code = 0x50
	OpStindRef    Code = 0x51
	OpStindI1     Code = 0x52
	OpStindI2     Code = 0x53
	OpStindI4     Code = 0x54
	OpStindI8     Code = 0x55
	OpStindR4     Code = 0x56
	OpStindR8     Code = 0x57
	OpAdd         Code = 0x58
	OpSub         Code = 0x59
	OpMul         Code = 0x5A
	OpDiv         Code = 0x5B
	OpDivUn       Code = 0x5C
	OpRem         Code = 0x5D
	OpRemUn       Code = 0x5E
	OpAnd         Code = 0x5F
	OpOr          Code = 0x60
	OpXor         Code = 0x61
	OpShl         Code = 0x62
	OpShr         Code = 0x63
	OpShrUn       Code = 0x64
	OpNeg         Code = 0x65
	OpNot         Code = 0x66
	OpConvI1      Code = 0x67
	OpConvI2      Code = 0x68
	OpConvI4      Code = 0x69
	OpConvI8      Code = 0x6A
	OpConvR4      Code = 0x6B
	OpConvR8      Code = 0x6C
	OpConvU4      Code = 0x6D
	OpConvU8      Code = 0x6E
	OpCallvirt    Code = 0x6F
	OpCpobj       Code = 0x70
	OpLdobj       Code = 0x71
	OpLdstr       Code = 0x72
	OpNewobj      Code = 0x73
	OpCastclass   Code = 0x74
	OpIsinst      Code = 0x75
	OpConvRUn     Code = 0x76
	OpUnbox       Code = 0x79
	OpThrow       Code = 0x7A
	OpLdfld       Code = 0x7B
	OpLdflda      Code = 0x7C
	OpStfld       Code = 0x7D
	OpLdsfld      Code = 0x7E
	OpLdsflda     Code = 0x7F
	OpStsfld      Code = 0x80
	OpStobj       Code = 0x81
	OpConvOvfI1Un Code = 0x82
	OpConvOvfI2Un Code = 0x83
	OpConvOvfI4Un Code = 0x84
	OpConvOvfI8Un Code = 0x85
	OpConvOvfU1Un Code = 0x86
	OpConvOvfU2Un Code = 0x87
	OpConvOvfU4Un Code = 0x88
	OpConvOvfU8Un Code = 0x89
	OpConvOvfIUn  Code = 0x8A
	OpConvOvfUUn  Code = 0x8B
	OpBox         Code = 0x8C
	OpNewarr      Code = 0x8D
	OpLdlen       Code = 0x8E
	OpLdelema     Code = 0x8F
	OpLdelemI1    Code = 0x90
	OpLdelemU1    Code = 0x91
	OpLdelemI2    Code = 0x92
	OpLdelemU2    Code = 0x93
	OpLdelemI4    Code = 0x94
	OpLdelemU4    Code = 0x95
	OpLdelemI8    Code = 0x96
	OpLdelemI     Code = 0x97
	OpLdelemR4    Code = 0x98
	OpLdelemR8    Code = 0x99
	OpLdelemRef   Code = 0x9A
	OpStelemI     Code = 0x9B
	OpStelemI1    Code = 0x9C
	OpStelemI2    Code = 0x9D
	OpStelemI4    Code = 0x9E
	OpStelemI8    Code = 0x9F
	OpStelemR4    Code = 0xA0
	OpStelemR8    Code = 0xA1
	OpStelemRef   Code = 0xA2
	OpLdelem      Code = 0xA3
	OpStelem      Code = 0xA4
	OpUnboxAny    Code = 0xA5
	OpConvOvfI1   Code = 0xB3
	OpConvOvfU1   Code = 0xB4
	OpConvOvfI2   Code = 0xB5
	OpConvOvfU2   Code = 0xB6
	OpConvOvfI4   Code = 0xB7
	OpConvOvfU4   Code = 0xB8
	OpConvOvfI8   Code = 0xB9
	OpConvOvfU8   Code = 0xBA
	OpRefanyval   Code = 0xC2
	OpCkfinite    Code = 0xC3
	OpMkrefany    Code = 0xC6
	OpLdtoken     Code = 0xD0
	OpConvU2      Code = 0xD1
	OpConvU1      Code = 0xD2
	OpConvI       Code = 0xD3
	OpConvOvfI    Code = 0xD4
	OpConvOvfU    Code = 0xD5
	OpAddOvf      Code = 0xD6
	OpAddOvfUn    Code = 0xD7
	OpMulOvf      Code = 0xD8
	OpMulOvfUn    Code = 0xD9
	OpSubOvf      Code = 0xDA
	OpSubOvfUn    Code = 0xDB
	OpEndfinally  Code = 0xDC
	OpLeave       Code = 0xDD
	OpLeaveS      Code = 0xDE
	OpStindI      Code = 0xDF
	OpConvU       Code = 0xE0
)

// Two-byte opcodes (0xFE prefix).
const (
	OpArglist     Code = 0xFE00
	OpCeq         Code = 0xFE01
	OpCgt         Code = 0xFE02
	OpCgtUn       Code = 0xFE03
	OpClt         Code = 0xFE04
	OpCltUn       Code = 0xFE05
	OpLdftn       Code = 0xFE06
	OpLdvirtftn   Code = 0xFE07
	OpLdarg       Code = 0xFE09
	OpLdarga      Code = 0xFE0A
	OpStarg       Code = 0xFE0B
	OpLdloc       Code = 0xFE0C
	OpLdloca      Code = 0xFE0D
	OpStloc       Code = 0xFE0E
	OpLocalloc    Code = 0xFE0F
	OpEndfilter   Code = 0xFE11
	OpUnaligned   Code = 0xFE12
	OpVolatile    Code = 0xFE13
	OpTail        Code = 0xFE14
	OpInitobj     Code = 0xFE15
	OpConstrained Code = 0xFE16
	OpCpblk       Code = 0xFE17
	OpInitblk     Code = 0xFE18
	OpNo          Code = 0xFE19
	OpRethrow     Code = 0xFE1A
	OpSizeof      Code = 0xFE1C
	OpRefanytype  Code = 0xFE1D
	OpReadonly    Code = 0xFE1E
)

func op(name string, operand OperandType, pop, push int8) OpInfo {
	return OpInfo{Name: name, Operand: operand, Pop: pop, Push: push}
}

func flow(info OpInfo, f FlowControl) OpInfo {
	info.Flow = f
	return info
}

var opcodes = map[Code]OpInfo{
	OpNop:     op("nop", InlineNone, 0, 0),
	OpBreak:   flow(op("break", InlineNone, 0, 0), FlowBreak),
	OpLdarg0:  op("ldarg.0", InlineNone, 0, 1),
	OpLdarg1:  op("ldarg.1", InlineNone, 0, 1),
	OpLdarg2:  op("ldarg.2", InlineNone, 0, 1),
	OpLdarg3:  op("ldarg.3", InlineNone, 0, 1),
	OpLdloc0:  op("ldloc.0", InlineNone, 0, 1),
	OpLdloc1:  op("ldloc.1", InlineNone, 0, 1),
	OpLdloc2:  op("ldloc.2", InlineNone, 0, 1),
	OpLdloc3:  op("ldloc.3", InlineNone, 0, 1),
	OpStloc0:  op("stloc.0", InlineNone, 1, 0),
	OpStloc1:  op("stloc.1", InlineNone, 1, 0),
	OpStloc2:  op("stloc.2", InlineNone, 1, 0),
	OpStloc3:  op("stloc.3", InlineNone, 1, 0),
	OpLdargS:  op("ldarg.s", ShortInlineArg, 0, 1),
	OpLdargaS: op("ldarga.s", ShortInlineArg, 0, 1),
	OpStargS:  op("starg.s", ShortInlineArg, 1, 0),
	OpLdlocS:  op("ldloc.s", ShortInlineVar, 0, 1),
	OpLdlocaS: op("ldloca.s", ShortInlineVar, 0, 1),
	OpStlocS:  op("stloc.s", ShortInlineVar, 1, 0),
	OpLdnull:  op("ldnull", InlineNone, 0, 1),
	OpLdcI4M1: op("ldc.i4.m1", InlineNone, 0, 1),
	OpLdcI40:  op("ldc.i4.0", InlineNone, 0, 1),
	OpLdcI41:  op("ldc.i4.1", InlineNone, 0, 1),
	OpLdcI42:  op("ldc.i4.2", InlineNone, 0, 1),
	OpLdcI43:  op("ldc.i4.3", InlineNone, 0, 1),
	OpLdcI44:  op("ldc.i4.4", InlineNone, 0, 1),
	OpLdcI45:  op("ldc.i4.5", InlineNone, 0, 1),
	OpLdcI46:  op("ldc.i4.6", InlineNone, 0, 1),
	OpLdcI47:  op("ldc.i4.7", InlineNone, 0, 1),
	OpLdcI48:  op("ldc.i4.8", InlineNone, 0, 1),
	OpLdcI4S:  op("ldc.i4.s", ShortInlineI, 0, 1),
	OpLdcI4:   op("ldc.i4", InlineI, 0, 1),
	OpLdcI8:   op("ldc.i8", InlineI8, 0, 1),
	OpLdcR4:   op("ldc.r4", ShortInlineR, 0, 1),
	OpLdcR8:   op("ldc.r8", InlineR, 0, 1),
	OpDup:     op("dup", InlineNone, 1, 2),
	OpPop:     op("pop", InlineNone, 1, 0),
	OpJmp:     flow(op("jmp", InlineMethod, 0, 0), FlowCall),
	OpCall:    flow(op("call", InlineMethod, VarStack, VarStack), FlowCall),
	OpCalli:   flow(op("calli", InlineSig, VarStack, VarStack), FlowCall),
	OpRet:     flow(op("ret", InlineNone, VarStack, 0), FlowReturn),

	OpBrS:      flow(op("br.s", ShortInlineBrTarget, 0, 0), FlowBranch),
	OpBrfalseS: flow(op("brfalse.s", ShortInlineBrTarget, 1, 0), FlowCondBranch),
	OpBrtrueS:  flow(op("brtrue.s", ShortInlineBrTarget, 1, 0), FlowCondBranch),
	OpBeqS:     flow(op("beq.s", ShortInlineBrTarget, 2, 0), FlowCondBranch),
	OpBgeS:     flow(op("bge.s", ShortInlineBrTarget, 2, 0), FlowCondBranch),
	OpBgtS:     flow(op("bgt.s", ShortInlineBrTarget, 2, 0), FlowCondBranch),
	OpBleS:     flow(op("ble.s", ShortInlineBrTarget, 2, 0), FlowCondBranch),
	OpBltS:     flow(op("blt.s", ShortInlineBrTarget, 2, 0), FlowCondBranch),
	OpBneUnS:   flow(op("bne.un.s", ShortInlineBrTarget, 2, 0), FlowCondBranch),
	OpBgeUnS:   flow(op("bge.un.s", ShortInlineBrTarget, 2, 0), FlowCondBranch),
	OpBgtUnS:   flow(op("bgt.un.s", ShortInlineBrTarget, 2, 0), FlowCondBranch),
	OpBleUnS:   flow(op("ble.un.s", ShortInlineBrTarget, 2, 0), FlowCondBranch),
	OpBltUnS:   flow(op("blt.un.s", ShortInlineBrTarget, 2, 0), FlowCondBranch),
	OpBr:       flow(op("br", InlineBrTarget, 0, 0), FlowBranch),
	OpBrfalse:  flow(op("brfalse", InlineBrTarget, 1, 0), FlowCondBranch),
	OpBrtrue:   flow(op("brtrue", InlineBrTarget, 1, 0), FlowCondBranch),
	OpBeq:      flow(op("beq", InlineBrTarget, 2, 0), FlowCondBranch),
	OpBge:      flow(op("bge", InlineBrTarget, 2, 0), FlowCondBranch),
	OpBgt:      flow(op("bgt", InlineBrTarget, 2, 0), FlowCondBranch),
	OpBle:      flow(op("ble", InlineBrTarget, 2, 0), FlowCondBranch),
	OpBlt:      flow(op("blt", InlineBrTarget, 2, 0), FlowCondBranch),
	OpBneUn:    flow(op("bne.un", InlineBrTarget, 2, 0), FlowCondBranch),
	OpBgeUn:    flow(op("bge.un", InlineBrTarget, 2, 0), FlowCondBranch),
	OpBgtUn:    flow(op("bgt.un", InlineBrTarget, 2, 0), FlowCondBranch),
	OpBleUn:    flow(op("ble.un", InlineBrTarget, 2, 0), FlowCondBranch),
	OpBltUn:    flow(op("blt.un", InlineBrTarget, 2, 0), FlowCondBranch),
	OpSwitch:   flow(op("switch", InlineSwitch, 1, 0), FlowCondBranch),

	OpLdindI1:  op("ldind.i1", InlineNone, 1, 1),
	OpLdindU1:  op("ldind.u1", InlineNone, 1, 1),
	OpLdindI2:  op("ldind.i2", InlineNone, 1, 1),
	OpLdindU2:  op("ldind.u2", InlineNone, 1, 1),
	OpLdindI4:  op("ldind.i4", InlineNone, 1, 1),
	OpLdindU4:  op("ldind.u4", InlineNone, 1, 1),
	OpLdindI8:  op("ldind.i8", InlineNone, 1, 1),
	OpLdindI:   op("ldind.i", InlineNone, 1, 1),
	OpLdindR4:  op("ldind.r4", InlineNone, 1, 1),
	OpLdindR8:  op("ldind.r8", InlineNone, 1, 1),
	OpLdindRef: op("ldind.ref", InlineNone, 1, 1),
	OpStindRef: op("stind.ref", InlineNone, 2, 0),
	OpStindI1:  op("stind.i1", InlineNone, 2, 0),
	OpStindI2:  op("stind.i2", InlineNone, 2, 0),
	OpStindI4:  op("stind.i4", InlineNone, 2, 0),
	OpStindI8:  op("stind.i8", InlineNone, 2, 0),
	OpStindR4:  op("stind.r4", InlineNone, 2, 0),
	OpStindR8:  op("stind.r8", InlineNone, 2, 0),

	OpAdd:    op("add", InlineNone, 2, 1),
	OpSub:    op("sub", InlineNone, 2, 1),
	OpMul:    op("mul", InlineNone, 2, 1),
	OpDiv:    op("div", InlineNone, 2, 1),
	OpDivUn:  op("div.un", InlineNone, 2, 1),
	OpRem:    op("rem", InlineNone, 2, 1),
	OpRemUn:  op("rem.un", InlineNone, 2, 1),
	OpAnd:    op("and", InlineNone, 2, 1),
	OpOr:     op("or", InlineNone, 2, 1),
	OpXor:    op("xor", InlineNone, 2, 1),
	OpShl:    op("shl", InlineNone, 2, 1),
	OpShr:    op("shr", InlineNone, 2, 1),
	OpShrUn:  op("shr.un", InlineNone, 2, 1),
	OpNeg:    op("neg", InlineNone, 1, 1),
	OpNot:    op("not", InlineNone, 1, 1),
	OpConvI1: op("conv.i1", InlineNone, 1, 1),
	OpConvI2: op("conv.i2", InlineNone, 1, 1),
	OpConvI4: op("conv.i4", InlineNone, 1, 1),
	OpConvI8: op("conv.i8", InlineNone, 1, 1),
	OpConvR4: op("conv.r4", InlineNone, 1, 1),
	OpConvR8: op("conv.r8", InlineNone, 1, 1),
	OpConvU4: op("conv.u4", InlineNone, 1, 1),
	OpConvU8: op("conv.u8", InlineNone, 1, 1),

	OpCallvirt:  flow(op("callvirt", InlineMethod, VarStack, VarStack), FlowCall),
	OpCpobj:     op("cpobj", InlineType, 2, 0),
	OpLdobj:     op("ldobj", InlineType, 1, 1),
	OpLdstr:     op("ldstr", InlineString, 0, 1),
	OpNewobj:    flow(op("newobj", InlineMethod, VarStack, 1), FlowCall),
	OpCastclass: op("castclass", InlineType, 1, 1),
	OpIsinst:    op("isinst", InlineType, 1, 1),
	OpConvRUn:   op("conv.r.un", InlineNone, 1, 1),
	OpUnbox:     op("unbox", InlineType, 1, 1),
	OpThrow:     flow(op("throw", InlineNone, 1, 0), FlowThrow),
	OpLdfld:     op("ldfld", InlineField, 1, 1),
	OpLdflda:    op("ldflda", InlineField, 1, 1),
	OpStfld:     op("stfld", InlineField, 2, 0),
	OpLdsfld:    op("ldsfld", InlineField, 0, 1),
	OpLdsflda:   op("ldsflda", InlineField, 0, 1),
	OpStsfld:    op("stsfld", InlineField, 1, 0),
	OpStobj:     op("stobj", InlineType, 2, 0),

	OpConvOvfI1Un: op("conv.ovf.i1.un", InlineNone, 1, 1),
	OpConvOvfI2Un: op("conv.ovf.i2.un", InlineNone, 1, 1),
	OpConvOvfI4Un: op("conv.ovf.i4.un", InlineNone, 1, 1),
	OpConvOvfI8Un: op("conv.ovf.i8.un", InlineNone, 1, 1),
	OpConvOvfU1Un: op("conv.ovf.u1.un", InlineNone, 1, 1),
	OpConvOvfU2Un: op("conv.ovf.u2.un", InlineNone, 1, 1),
	OpConvOvfU4Un: op("conv.ovf.u4.un", InlineNone, 1, 1),
	OpConvOvfU8Un: op("conv.ovf.u8.un", InlineNone, 1, 1),
	OpConvOvfIUn:  op("conv.ovf.i.un", InlineNone, 1, 1),
	OpConvOvfUUn:  op("conv.ovf.u.un", InlineNone, 1, 1),
	OpBox:         op("box", InlineType, 1, 1),
	OpNewarr:      op("newarr", InlineType, 1, 1),
	OpLdlen:       op("ldlen", InlineNone, 1, 1),
	OpLdelema:     op("ldelema", InlineType, 2, 1),
	OpLdelemI1:    op("ldelem.i1", InlineNone, 2, 1),
	OpLdelemU1:    op("ldelem.u1", InlineNone, 2, 1),
	OpLdelemI2:    op("ldelem.i2", InlineNone, 2, 1),
	OpLdelemU2:    op("ldelem.u2", InlineNone, 2, 1),
	OpLdelemI4:    op("ldelem.i4", InlineNone, 2, 1),
	OpLdelemU4:    op("ldelem.u4", InlineNone, 2, 1),
	OpLdelemI8:    op("ldelem.i8", InlineNone, 2, 1),
	OpLdelemI:     op("ldelem.i", InlineNone, 2, 1),
	OpLdelemR4:    op("ldelem.r4", InlineNone, 2, 1),
	OpLdelemR8:    op("ldelem.r8", InlineNone, 2, 1),
	OpLdelemRef:   op("ldelem.ref", InlineNone, 2, 1),
	OpStelemI:     op("stelem.i", InlineNone, 3, 0),
	OpStelemI1:    op("stelem.i1", InlineNone, 3, 0),
	OpStelemI2:    op("stelem.i2", InlineNone, 3, 0),
	OpStelemI4:    op("stelem.i4", InlineNone, 3, 0),
	OpStelemI8:    op("stelem.i8", InlineNone, 3, 0),
	OpStelemR4:    op("stelem.r4", InlineNone, 3, 0),
	OpStelemR8:    op("stelem.r8", InlineNone, 3, 0),
	OpStelemRef:   op("stelem.ref", InlineNone, 3, 0),
	OpLdelem:      op("ldelem", InlineType, 2, 1),
	OpStelem:      op("stelem", InlineType, 3, 0),
	OpUnboxAny:    op("unbox.any", InlineType, 1, 1),
	OpConvOvfI1:   op("conv.ovf.i1", InlineNone, 1, 1),
	OpConvOvfU1:   op("conv.ovf.u1", InlineNone, 1, 1),
	OpConvOvfI2:   op("conv.ovf.i2", InlineNone, 1, 1),
	OpConvOvfU2:   op("conv.ovf.u2", InlineNone, 1, 1),
	OpConvOvfI4:   op("conv.ovf.i4", InlineNone, 1, 1),
	OpConvOvfU4:   op("conv.ovf.u4", InlineNone, 1, 1),
	OpConvOvfI8:   op("conv.ovf.i8", InlineNone, 1, 1),
	OpConvOvfU8:   op("conv.ovf.u8", InlineNone, 1, 1),
	OpRefanyval:   op("refanyval", InlineType, 1, 1),
	OpCkfinite:    op("ckfinite", InlineNone, 1, 1),
	OpMkrefany:    op("mkrefany", InlineType, 1, 1),
	OpLdtoken:     op("ldtoken", InlineTok, 0, 1),
	OpConvU2:      op("conv.u2", InlineNone, 1, 1),
	OpConvU1:      op("conv.u1", InlineNone, 1, 1),
	OpConvI:       op("conv.i", InlineNone, 1, 1),
	OpConvOvfI:    op("conv.ovf.i", InlineNone, 1, 1),
	OpConvOvfU:    op("conv.ovf.u", InlineNone, 1, 1),
	OpAddOvf:      op("add.ovf", InlineNone, 2, 1),
	OpAddOvfUn:    op("add.ovf.un", InlineNone, 2, 1),
	OpMulOvf:      op("mul.ovf", InlineNone, 2, 1),
	OpMulOvfUn:    op("mul.ovf.un", InlineNone, 2, 1),
	OpSubOvf:      op("sub.ovf", InlineNone, 2, 1),
	OpSubOvfUn:    op("sub.ovf.un", InlineNone, 2, 1),
	OpEndfinally:  flow(op("endfinally", InlineNone, 0, 0), FlowReturn),
	OpLeave:       flow(op("leave", InlineBrTarget, 0, 0), FlowBranch),
	OpLeaveS:      flow(op("leave.s", ShortInlineBrTarget, 0, 0), FlowBranch),
	OpStindI:      op("stind.i", InlineNone, 2, 0),
	OpConvU:       op("conv.u", InlineNone, 1, 1),

	OpArglist:     op("arglist", InlineNone, 0, 1),
	OpCeq:         op("ceq", InlineNone, 2, 1),
	OpCgt:         op("cgt", InlineNone, 2, 1),
	OpCgtUn:       op("cgt.un", InlineNone, 2, 1),
	OpClt:         op("clt", InlineNone, 2, 1),
	OpCltUn:       op("clt.un", InlineNone, 2, 1),
	OpLdftn:       op("ldftn", InlineMethod, 0, 1),
	OpLdvirtftn:   op("ldvirtftn", InlineMethod, 1, 1),
	OpLdarg:       op("ldarg", InlineArg, 0, 1),
	OpLdarga:      op("ldarga", InlineArg, 0, 1),
	OpStarg:       op("starg", InlineArg, 1, 0),
	OpLdloc:       op("ldloc", InlineVar, 0, 1),
	OpLdloca:      op("ldloca", InlineVar, 0, 1),
	OpStloc:       op("stloc", InlineVar, 1, 0),
	OpLocalloc:    op("localloc", InlineNone, 1, 1),
	OpEndfilter:   flow(op("endfilter", InlineNone, 1, 0), FlowReturn),
	OpUnaligned:   flow(op("unaligned.", ShortInlineI, 0, 0), FlowMeta),
	OpVolatile:    flow(op("volatile.", InlineNone, 0, 0), FlowMeta),
	OpTail:        flow(op("tail.", InlineNone, 0, 0), FlowMeta),
	OpInitobj:     op("initobj", InlineType, 1, 0),
	OpConstrained: flow(op("constrained.", InlineType, 0, 0), FlowMeta),
	OpCpblk:       op("cpblk", InlineNone, 3, 0),
	OpInitblk:     op("initblk", InlineNone, 3, 0),
	OpNo:          flow(op("no.", ShortInlineI, 0, 0), FlowMeta),
	OpRethrow:     flow(op("rethrow", InlineNone, 0, 0), FlowThrow),
	OpSizeof:      op("sizeof", InlineType, 0, 1),
	OpRefanytype:  op("refanytype", InlineNone, 1, 1),
	OpReadonly:    flow(op("readonly.", InlineNone, 0, 0), FlowMeta),
}

// Info returns the description of c.
func (c Code) Info() (OpInfo, bool) {
	info, ok := opcodes[c]
	return info, ok
}

// Valid reports whether c is a defined opcode.
func (c Code) Valid() bool {
	_, ok := opcodes[c]
	return ok
}

// Size returns the encoded size of the opcode itself.
func (c Code) Size() int {
	if c > 0xFF {
		return 2
	}
	return 1
}

func (c Code) String() string {
	if info, ok := opcodes[c]; ok {
		return info.Name
	}
	return fmt.Sprintf("opcode(0x%x)", uint16(c))
}

// CodeByName looks an opcode up by its mnemonic.
func CodeByName(name string) (Code, bool) {
	for c, info := range opcodes {
		if info.Name == name {
			return c, true
		}
	}
	return 0, false
}

// OperandSize returns the encoded size of an operand of kind t. Switch
// operands are variable and report the size of the count only.
func (t OperandType) OperandSize() int {
	switch t {
	case InlineNone:
		return 0
	case ShortInlineBrTarget, ShortInlineI, ShortInlineVar, ShortInlineArg:
		return 1
	case InlineVar, InlineArg:
		return 2
	case InlineI8, InlineR:
		return 8
	}
	return 4
}

// EndsBlock reports whether control never falls through to the next instruction.
func (f FlowControl) EndsBlock() bool {
	return f == FlowBranch || f == FlowReturn || f == FlowThrow
}

package metadata

// TypeAttributes are TypeDef flags (ECMA-335 II.23.1.15).
type TypeAttributes uint32

const (
	TypeNotPublic        TypeAttributes = 0x00000000
	TypePublic           TypeAttributes = 0x00000001
	TypeNestedPublic     TypeAttributes = 0x00000002
	TypeNestedPrivate    TypeAttributes = 0x00000003
	TypeNestedFamily     TypeAttributes = 0x00000004
	TypeNestedAssembly   TypeAttributes = 0x00000005
	TypeVisibilityMask   TypeAttributes = 0x00000007
	TypeSequentialLayout TypeAttributes = 0x00000008
	TypeExplicitLayout   TypeAttributes = 0x00000010
	TypeClass            TypeAttributes = 0x00000000
	TypeInterface        TypeAttributes = 0x00000020
	TypeAbstract         TypeAttributes = 0x00000080
	TypeSealed           TypeAttributes = 0x00000100
	TypeSpecialName      TypeAttributes = 0x00000400
	TypeRTSpecialName    TypeAttributes = 0x00000800
	TypeImport           TypeAttributes = 0x00001000
	TypeSerializable     TypeAttributes = 0x00002000
	TypeBeforeFieldInit  TypeAttributes = 0x00100000
	TypeAnsiClass        TypeAttributes = 0x00000000
	TypeUnicodeClass     TypeAttributes = 0x00010000
	TypeAutoClass        TypeAttributes = 0x00020000
	TypeHasSecurity      TypeAttributes = 0x00040000
	TypeStaticClass                     = TypeAbstract | TypeSealed
)

// MethodAttributes are MethodDef flags (II.23.1.10).
type MethodAttributes uint16

const (
	MethodPrivateScope  MethodAttributes = 0x0000
	MethodPrivate       MethodAttributes = 0x0001
	MethodFamANDAssem   MethodAttributes = 0x0002
	MethodAssembly      MethodAttributes = 0x0003
	MethodFamily        MethodAttributes = 0x0004
	MethodFamORAssem    MethodAttributes = 0x0005
	MethodPublic        MethodAttributes = 0x0006
	MethodAccessMask    MethodAttributes = 0x0007
	MethodStatic        MethodAttributes = 0x0010
	MethodFinal         MethodAttributes = 0x0020
	MethodVirtual       MethodAttributes = 0x0040
	MethodHideBySig     MethodAttributes = 0x0080
	MethodNewSlot       MethodAttributes = 0x0100
	MethodCheckAccess   MethodAttributes = 0x0200
	MethodAbstract      MethodAttributes = 0x0400
	MethodSpecialName   MethodAttributes = 0x0800
	MethodRTSpecialName MethodAttributes = 0x1000
	MethodPInvokeImpl   MethodAttributes = 0x2000
	MethodHasSecurity   MethodAttributes = 0x4000
	MethodRequireSecObj MethodAttributes = 0x8000

	// MethodConstructor is the usual flag set of an instance constructor.
	MethodConstructor = MethodPublic | MethodHideBySig | MethodSpecialName | MethodRTSpecialName
)

// MethodImplAttributes are MethodDef implementation flags (II.23.1.11).
type MethodImplAttributes uint16

const (
	ImplIL                 MethodImplAttributes = 0x0000
	ImplNative             MethodImplAttributes = 0x0001
	ImplOPTIL              MethodImplAttributes = 0x0002
	ImplRuntime            MethodImplAttributes = 0x0003
	ImplCodeTypeMask       MethodImplAttributes = 0x0003
	ImplUnmanaged          MethodImplAttributes = 0x0004
	ImplNoInlining         MethodImplAttributes = 0x0008
	ImplForwardRef         MethodImplAttributes = 0x0010
	ImplSynchronized       MethodImplAttributes = 0x0020
	ImplNoOptimization     MethodImplAttributes = 0x0040
	ImplPreserveSig        MethodImplAttributes = 0x0080
	ImplAggressiveInlining MethodImplAttributes = 0x0100
	ImplInternalCall       MethodImplAttributes = 0x1000
)

// FieldAttributes are Field flags (II.23.1.5).
type FieldAttributes uint16

const (
	FieldPrivateScope  FieldAttributes = 0x0000
	FieldPrivate       FieldAttributes = 0x0001
	FieldAssembly      FieldAttributes = 0x0003
	FieldFamily        FieldAttributes = 0x0004
	FieldPublic        FieldAttributes = 0x0006
	FieldStatic        FieldAttributes = 0x0010
	FieldInitOnly      FieldAttributes = 0x0020
	FieldLiteral       FieldAttributes = 0x0040
	FieldNotSerialized FieldAttributes = 0x0080
	FieldHasFieldRVA   FieldAttributes = 0x0100
	FieldSpecialName   FieldAttributes = 0x0200
	FieldRTSpecialName FieldAttributes = 0x0400
	FieldHasMarshal    FieldAttributes = 0x1000
	FieldHasDefault    FieldAttributes = 0x8000
)

// ParamAttributes are Param flags (II.23.1.13).
type ParamAttributes uint16

const (
	ParamNone       ParamAttributes = 0x0000
	ParamIn         ParamAttributes = 0x0001
	ParamOut        ParamAttributes = 0x0002
	ParamOptional   ParamAttributes = 0x0010
	ParamHasDefault ParamAttributes = 0x1000
	ParamHasMarshal ParamAttributes = 0x2000
)

// AssemblyFlags are Assembly and AssemblyRef flags (II.23.1.2).
type AssemblyFlags uint32

const (
	AssemblyPublicKey                  AssemblyFlags = 0x0001
	AssemblyRetargetable               AssemblyFlags = 0x0100
	AssemblyWindowsRuntime             AssemblyFlags = 0x0200
	AssemblyDisableJITcompileOptimizer AssemblyFlags = 0x4000
	AssemblyEnableJITcompileTracking   AssemblyFlags = 0x8000
)

// HashSHA1 is the default assembly hash algorithm id.
const HashSHA1 uint32 = 0x8004

// ModuleKind selects the image subsystem and entry point requirement.
type ModuleKind byte

const (
	KindDll ModuleKind = iota
	KindConsole
	KindWindows
)

func (k ModuleKind) String() string {
	switch k {
	case KindConsole:
		return "console"
	case KindWindows:
		return "windows"
	}
	return "dll"
}

// Executable reports whether the kind requires an entry point.
func (k ModuleKind) Executable() bool {
	return k != KindDll
}

// Architecture is the target machine of the image.
type Architecture uint16

const (
	ArchI386  Architecture = 0x014C
	ArchAMD64 Architecture = 0x8664
	ArchARM64 Architecture = 0xAA64
)

func (a Architecture) String() string {
	switch a {
	case ArchI386:
		return "i386"
	case ArchAMD64:
		return "amd64"
	case ArchARM64:
		return "arm64"
	}
	return "unknown"
}

// Is64 reports whether the image uses the PE32+ layout.
func (a Architecture) Is64() bool {
	return a != ArchI386
}

// ModuleAttributes are the CLI header flags.
type ModuleAttributes uint32

const (
	ModuleILOnly           ModuleAttributes = 0x00000001
	ModuleRequired32Bit    ModuleAttributes = 0x00000002
	ModuleStrongNameSigned ModuleAttributes = 0x00000008
	ModulePreferred32Bit   ModuleAttributes = 0x00020000
)

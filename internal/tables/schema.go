// Package tables implements the physical layer shared by images and symbol
// streams: the ECMA-335 table schema, coded indexes, the #~ table stream,
// the four heaps and the metadata root.
package tables

import "fmt"

// ID identifies a metadata table.
type ID byte

// Type-system tables (ECMA-335 II.22).
const (
	Module                 ID = 0x00
	TypeRef                ID = 0x01
	TypeDef                ID = 0x02
	FieldPtr               ID = 0x03
	Field                  ID = 0x04
	MethodPtr              ID = 0x05
	MethodDef              ID = 0x06
	ParamPtr               ID = 0x07
	Param                  ID = 0x08
	InterfaceImpl          ID = 0x09
	MemberRef              ID = 0x0A
	Constant               ID = 0x0B
	CustomAttribute        ID = 0x0C
	FieldMarshal           ID = 0x0D
	DeclSecurity           ID = 0x0E
	ClassLayout            ID = 0x0F
	FieldLayout            ID = 0x10
	StandAloneSig          ID = 0x11
	EventMap               ID = 0x12
	EventPtr               ID = 0x13
	Event                  ID = 0x14
	PropertyMap            ID = 0x15
	PropertyPtr            ID = 0x16
	Property               ID = 0x17
	MethodSemantics        ID = 0x18
	MethodImpl             ID = 0x19
	ModuleRef              ID = 0x1A
	TypeSpec               ID = 0x1B
	ImplMap                ID = 0x1C
	FieldRVA               ID = 0x1D
	EncLog                 ID = 0x1E
	EncMap                 ID = 0x1F
	Assembly               ID = 0x20
	AssemblyProcessor      ID = 0x21
	AssemblyOS             ID = 0x22
	AssemblyRef            ID = 0x23
	AssemblyRefProcessor   ID = 0x24
	AssemblyRefOS          ID = 0x25
	File                   ID = 0x26
	ExportedType           ID = 0x27
	ManifestResource       ID = 0x28
	NestedClass            ID = 0x29
	GenericParam           ID = 0x2A
	MethodSpec             ID = 0x2B
	GenericParamConstraint ID = 0x2C
)

// Portable PDB tables.
const (
	Document               ID = 0x30
	MethodDebugInformation ID = 0x31
	LocalScope             ID = 0x32
	LocalVariable          ID = 0x33
	LocalConstant          ID = 0x34
	ImportScope            ID = 0x35
	StateMachineMethod     ID = 0x36
	CustomDebugInformation ID = 0x37
)

// MaxTables is the number of table slots addressable by the Valid mask.
const MaxTables = 64

// NoTable marks an unused tag value in a coded index.
const NoTable ID = 0xFF

// ColumnKind describes the physical encoding of a column.
type ColumnKind byte

const (
	ColU16    ColumnKind = iota // 2-byte constant
	ColU32                      // 4-byte constant
	ColString                   // #Strings heap index
	ColGUID                     // #GUID heap index
	ColBlob                     // #Blob heap index
	ColTable                    // simple index into Table
	ColCoded                    // coded index
)

// Column is one column of a table schema.
type Column struct {
	Coded *Coded
	Name  string
	Kind  ColumnKind
	Table ID
}

// Coded describes a coded index: a tag in the low Bits selects one of Tables.
type Coded struct {
	Name   string
	Tables []ID
	Bits   uint
}

// Coded index kinds (ECMA-335 II.24.2.6 and the Portable PDB extension).
var (
	TypeDefOrRef        = &Coded{Name: "TypeDefOrRef", Bits: 2, Tables: []ID{TypeDef, TypeRef, TypeSpec}}
	HasConstant         = &Coded{Name: "HasConstant", Bits: 2, Tables: []ID{Field, Param, Property}}
	HasCustomAttribute  = &Coded{Name: "HasCustomAttribute", Bits: 5, Tables: hasCustomAttributeTables}
	HasFieldMarshal     = &Coded{Name: "HasFieldMarshal", Bits: 1, Tables: []ID{Field, Param}}
	HasDeclSecurity     = &Coded{Name: "HasDeclSecurity", Bits: 2, Tables: []ID{TypeDef, MethodDef, Assembly}}
	MemberRefParent     = &Coded{Name: "MemberRefParent", Bits: 3, Tables: []ID{TypeDef, TypeRef, ModuleRef, MethodDef, TypeSpec}}
	HasSemantics        = &Coded{Name: "HasSemantics", Bits: 1, Tables: []ID{Event, Property}}
	MethodDefOrRef      = &Coded{Name: "MethodDefOrRef", Bits: 1, Tables: []ID{MethodDef, MemberRef}}
	MemberForwarded     = &Coded{Name: "MemberForwarded", Bits: 1, Tables: []ID{Field, MethodDef}}
	Implementation      = &Coded{Name: "Implementation", Bits: 2, Tables: []ID{File, AssemblyRef, ExportedType}}
	CustomAttributeType = &Coded{Name: "CustomAttributeType", Bits: 3, Tables: []ID{NoTable, NoTable, MethodDef, MemberRef, NoTable}}
	ResolutionScope     = &Coded{Name: "ResolutionScope", Bits: 2, Tables: []ID{Module, ModuleRef, AssemblyRef, TypeRef}}
	TypeOrMethodDef     = &Coded{Name: "TypeOrMethodDef", Bits: 1, Tables: []ID{TypeDef, MethodDef}}
	HasCustomDebugInfo  = &Coded{Name: "HasCustomDebugInformation", Bits: 5, Tables: hasCustomDebugInfoTables}
)

var hasCustomAttributeTables = []ID{
	MethodDef, Field, TypeRef, TypeDef, Param, InterfaceImpl, MemberRef, Module,
	DeclSecurity, Property, Event, StandAloneSig, ModuleRef, TypeSpec, Assembly,
	AssemblyRef, File, ExportedType, ManifestResource, GenericParam,
	GenericParamConstraint, MethodSpec,
}

var hasCustomDebugInfoTables = append(append([]ID{}, hasCustomAttributeTables...),
	Document, LocalScope, LocalVariable, LocalConstant, ImportScope)

// Encode builds the coded value for row of table.
func (c *Coded) Encode(table ID, row uint32) (uint32, error) {
	if row == 0 {
		return 0, nil
	}
	for tag, t := range c.Tables {
		if t == table {
			return row<<c.Bits | uint32(tag), nil
		}
	}
	return 0, fmt.Errorf("table 0x%02x not valid for coded index %s", byte(table), c.Name)
}

// Decode splits a coded value into its table and row. Row 0 means null.
func (c *Coded) Decode(v uint32) (ID, uint32, error) {
	tag := v & (1<<c.Bits - 1)
	if int(tag) >= len(c.Tables) || c.Tables[tag] == NoTable {
		return NoTable, 0, fmt.Errorf("invalid tag %d for coded index %s", tag, c.Name)
	}
	return c.Tables[tag], v >> c.Bits, nil
}

func u16(name string) Column  { return Column{Name: name, Kind: ColU16} }
func u32(name string) Column  { return Column{Name: name, Kind: ColU32} }
func str(name string) Column  { return Column{Name: name, Kind: ColString} }
func guid(name string) Column { return Column{Name: name, Kind: ColGUID} }
func blob(name string) Column { return Column{Name: name, Kind: ColBlob} }
func idx(name string, t ID) Column {
	return Column{Name: name, Kind: ColTable, Table: t}
}
func coded(name string, c *Coded) Column {
	return Column{Name: name, Kind: ColCoded, Coded: c}
}

// Schema lists the columns of every known table. A nil entry is an unknown table.
var Schema = [MaxTables][]Column{
	Module:                 {u16("Generation"), str("Name"), guid("Mvid"), guid("EncId"), guid("EncBaseId")},
	TypeRef:                {coded("ResolutionScope", ResolutionScope), str("TypeName"), str("TypeNamespace")},
	TypeDef:                {u32("Flags"), str("TypeName"), str("TypeNamespace"), coded("Extends", TypeDefOrRef), idx("FieldList", Field), idx("MethodList", MethodDef)},
	FieldPtr:               {idx("Field", Field)},
	Field:                  {u16("Flags"), str("Name"), blob("Signature")},
	MethodPtr:              {idx("Method", MethodDef)},
	MethodDef:              {u32("RVA"), u16("ImplFlags"), u16("Flags"), str("Name"), blob("Signature"), idx("ParamList", Param)},
	ParamPtr:               {idx("Param", Param)},
	Param:                  {u16("Flags"), u16("Sequence"), str("Name")},
	InterfaceImpl:          {idx("Class", TypeDef), coded("Interface", TypeDefOrRef)},
	MemberRef:              {coded("Class", MemberRefParent), str("Name"), blob("Signature")},
	Constant:               {u16("Type"), coded("Parent", HasConstant), blob("Value")},
	CustomAttribute:        {coded("Parent", HasCustomAttribute), coded("Type", CustomAttributeType), blob("Value")},
	FieldMarshal:           {coded("Parent", HasFieldMarshal), blob("NativeType")},
	DeclSecurity:           {u16("Action"), coded("Parent", HasDeclSecurity), blob("PermissionSet")},
	ClassLayout:            {u16("PackingSize"), u32("ClassSize"), idx("Parent", TypeDef)},
	FieldLayout:            {u32("Offset"), idx("Field", Field)},
	StandAloneSig:          {blob("Signature")},
	EventMap:               {idx("Parent", TypeDef), idx("EventList", Event)},
	EventPtr:               {idx("Event", Event)},
	Event:                  {u16("EventFlags"), str("Name"), coded("EventType", TypeDefOrRef)},
	PropertyMap:            {idx("Parent", TypeDef), idx("PropertyList", Property)},
	PropertyPtr:            {idx("Property", Property)},
	Property:               {u16("Flags"), str("Name"), blob("Type")},
	MethodSemantics:        {u16("Semantics"), idx("Method", MethodDef), coded("Association", HasSemantics)},
	MethodImpl:             {idx("Class", TypeDef), coded("MethodBody", MethodDefOrRef), coded("MethodDeclaration", MethodDefOrRef)},
	ModuleRef:              {str("Name")},
	TypeSpec:               {blob("Signature")},
	ImplMap:                {u16("MappingFlags"), coded("MemberForwarded", MemberForwarded), str("ImportName"), idx("ImportScope", ModuleRef)},
	FieldRVA:               {u32("RVA"), idx("Field", Field)},
	EncLog:                 {u32("Token"), u32("FuncCode")},
	EncMap:                 {u32("Token")},
	Assembly:               {u32("HashAlgId"), u16("MajorVersion"), u16("MinorVersion"), u16("BuildNumber"), u16("RevisionNumber"), u32("Flags"), blob("PublicKey"), str("Name"), str("Culture")},
	AssemblyProcessor:      {u32("Processor")},
	AssemblyOS:             {u32("OSPlatformID"), u32("OSMajorVersion"), u32("OSMinorVersion")},
	AssemblyRef:            {u16("MajorVersion"), u16("MinorVersion"), u16("BuildNumber"), u16("RevisionNumber"), u32("Flags"), blob("PublicKeyOrToken"), str("Name"), str("Culture"), blob("HashValue")},
	AssemblyRefProcessor:   {u32("Processor"), idx("AssemblyRef", AssemblyRef)},
	AssemblyRefOS:          {u32("OSPlatformID"), u32("OSMajorVersion"), u32("OSMinorVersion"), idx("AssemblyRef", AssemblyRef)},
	File:                   {u32("Flags"), str("Name"), blob("HashValue")},
	ExportedType:           {u32("Flags"), u32("TypeDefId"), str("TypeName"), str("TypeNamespace"), coded("Implementation", Implementation)},
	ManifestResource:       {u32("Offset"), u32("Flags"), str("Name"), coded("Implementation", Implementation)},
	NestedClass:            {idx("NestedClass", TypeDef), idx("EnclosingClass", TypeDef)},
	GenericParam:           {u16("Number"), u16("Flags"), coded("Owner", TypeOrMethodDef), str("Name")},
	MethodSpec:             {coded("Method", MethodDefOrRef), blob("Instantiation")},
	GenericParamConstraint: {idx("Owner", GenericParam), coded("Constraint", TypeDefOrRef)},

	Document:               {blob("Name"), guid("HashAlgorithm"), blob("Hash"), guid("Language")},
	MethodDebugInformation: {idx("Document", Document), blob("SequencePoints")},
	LocalScope:             {idx("Method", MethodDef), idx("ImportScope", ImportScope), idx("VariableList", LocalVariable), idx("ConstantList", LocalConstant), u32("StartOffset"), u32("Length")},
	LocalVariable:          {u16("Attributes"), u16("Index"), str("Name")},
	LocalConstant:          {str("Name"), blob("Signature")},
	ImportScope:            {idx("Parent", ImportScope), blob("Imports")},
	StateMachineMethod:     {idx("MoveNextMethod", MethodDef), idx("KickoffMethod", MethodDef)},
	CustomDebugInformation: {coded("Parent", HasCustomDebugInfo), guid("Kind"), blob("Value")},
}

var names = map[ID]string{
	Module: "Module", TypeRef: "TypeRef", TypeDef: "TypeDef", FieldPtr: "FieldPtr", Field: "Field",
	MethodPtr: "MethodPtr", MethodDef: "MethodDef", ParamPtr: "ParamPtr", Param: "Param",
	InterfaceImpl: "InterfaceImpl", MemberRef: "MemberRef", Constant: "Constant",
	CustomAttribute: "CustomAttribute", FieldMarshal: "FieldMarshal", DeclSecurity: "DeclSecurity",
	ClassLayout: "ClassLayout", FieldLayout: "FieldLayout", StandAloneSig: "StandAloneSig",
	EventMap: "EventMap", EventPtr: "EventPtr", Event: "Event", PropertyMap: "PropertyMap",
	PropertyPtr: "PropertyPtr", Property: "Property", MethodSemantics: "MethodSemantics",
	MethodImpl: "MethodImpl", ModuleRef: "ModuleRef", TypeSpec: "TypeSpec", ImplMap: "ImplMap",
	FieldRVA: "FieldRVA", EncLog: "EncLog", EncMap: "EncMap", Assembly: "Assembly",
	AssemblyProcessor: "AssemblyProcessor", AssemblyOS: "AssemblyOS", AssemblyRef: "AssemblyRef",
	AssemblyRefProcessor: "AssemblyRefProcessor", AssemblyRefOS: "AssemblyRefOS", File: "File",
	ExportedType: "ExportedType", ManifestResource: "ManifestResource", NestedClass: "NestedClass",
	GenericParam: "GenericParam", MethodSpec: "MethodSpec", GenericParamConstraint: "GenericParamConstraint",
	Document: "Document", MethodDebugInformation: "MethodDebugInformation", LocalScope: "LocalScope",
	LocalVariable: "LocalVariable", LocalConstant: "LocalConstant", ImportScope: "ImportScope",
	StateMachineMethod: "StateMachineMethod", CustomDebugInformation: "CustomDebugInformation",
}

func (id ID) String() string {
	if n, ok := names[id]; ok {
		return n
	}
	return fmt.Sprintf("Table(0x%02x)", byte(id))
}

// Known reports whether the schema defines the table.
func (id ID) Known() bool {
	return int(id) < MaxTables && Schema[id] != nil
}

// Heap size flags of the #~ header.
const (
	HeapStringsWide byte = 0x01
	HeapGUIDWide    byte = 0x02
	HeapBlobWide    byte = 0x04
)

// Sizes holds everything that determines column widths: the row count of every
// table (including tables living in another stream) and the heap size flags.
type Sizes struct {
	Rows      [MaxTables]uint32
	HeapSizes byte
}

// ColumnSize returns the width in bytes of column c.
func (s *Sizes) ColumnSize(c Column) int {
	switch c.Kind {
	case ColU16:
		return 2
	case ColU32:
		return 4
	case ColString:
		return s.heapWidth(HeapStringsWide)
	case ColGUID:
		return s.heapWidth(HeapGUIDWide)
	case ColBlob:
		return s.heapWidth(HeapBlobWide)
	case ColTable:
		if s.Rows[c.Table] > 0xFFFF {
			return 4
		}
		return 2
	case ColCoded:
		if s.CodedWide(c.Coded) {
			return 4
		}
		return 2
	}
	return 0
}

// CodedWide reports whether coded index c needs 4 bytes.
func (s *Sizes) CodedWide(c *Coded) bool {
	limit := uint32(1) << (16 - c.Bits)
	for _, t := range c.Tables {
		if t != NoTable && s.Rows[t] >= limit {
			return true
		}
	}
	return false
}

// RowSize returns the width of one row of table t.
func (s *Sizes) RowSize(t ID) int {
	n := 0
	for _, c := range Schema[t] {
		n += s.ColumnSize(c)
	}
	return n
}

func (s *Sizes) heapWidth(flag byte) int {
	if s.HeapSizes&flag != 0 {
		return 4
	}
	return 2
}

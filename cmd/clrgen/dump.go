package main

import (
	"fmt"
	"strings"

	"github.com/wippyai/clr-image/metadata"
)

// assemblyDump is the inspect view of an assembly, shared by the text,
// YAML and interactive outputs.
type assemblyDump struct {
	Name          string       `yaml:"name"`
	Module        string       `yaml:"module"`
	Mvid          string       `yaml:"mvid"`
	EntryPoint    string       `yaml:"entry_point,omitempty"`
	References    []string     `yaml:"references,omitempty"`
	Attributes    []string     `yaml:"attributes,omitempty"`
	Documents     []string     `yaml:"documents,omitempty"`
	DroppedTables []string     `yaml:"dropped_tables,omitempty"`
	Types         []typeDump   `yaml:"types"`
	ImportScopes  []importDump `yaml:"import_scopes,omitempty"`
}

type typeDump struct {
	Name    string       `yaml:"name"`
	Base    string       `yaml:"base,omitempty"`
	Fields  []string     `yaml:"fields,omitempty"`
	Methods []methodDump `yaml:"methods,omitempty"`
}

type methodDump struct {
	Signature      string   `yaml:"signature"`
	Locals         []string `yaml:"locals,omitempty"`
	IL             []string `yaml:"il,omitempty"`
	SequencePoints []string `yaml:"sequence_points,omitempty"`
	Scope          string   `yaml:"scope,omitempty"`
	Imports        []string `yaml:"imports,omitempty"`
}

type importDump struct {
	ID      uint32   `yaml:"id"`
	Parent  uint32   `yaml:"parent,omitempty"`
	Targets []string `yaml:"targets,omitempty"`
}

func dumpAssembly(asm *metadata.Assembly) *assemblyDump {
	mod := asm.MainModule()
	d := &assemblyDump{
		Name:          asm.FullName(),
		Module:        mod.Name,
		Mvid:          mod.Mvid.String(),
		DroppedTables: mod.DroppedTables,
	}
	if mod.EntryPoint != nil {
		d.EntryPoint = mod.EntryPoint.FullName()
	}
	for _, r := range mod.AssemblyRefs {
		d.References = append(d.References, r.FullName())
	}
	for _, ca := range asm.CustomAttributes {
		d.Attributes = append(d.Attributes, ca.Constructor.FullName())
	}
	for _, doc := range mod.Documents {
		d.Documents = append(d.Documents, doc.Name)
	}
	for _, t := range mod.AllTypes() {
		d.Types = append(d.Types, dumpType(mod, t))
	}
	mod.ImportScopes.Each(func(id metadata.ImportScopeID, s *metadata.ImportScope) {
		d.ImportScopes = append(d.ImportScopes, importDump{
			ID:      uint32(id),
			Parent:  uint32(s.Parent),
			Targets: formatTargets(s.Targets),
		})
	})
	return d
}

func dumpType(mod *metadata.Module, t *metadata.TypeDef) typeDump {
	td := typeDump{Name: t.FullName()}
	if t.BaseType != nil {
		td.Base = t.BaseType.FullName()
	}
	for _, f := range t.Fields {
		td.Fields = append(td.Fields, f.FullName())
	}
	for _, md := range t.Methods {
		td.Methods = append(td.Methods, dumpMethod(mod, md))
	}
	return td
}

func dumpMethod(mod *metadata.Module, md *metadata.MethodDef) methodDump {
	m := methodDump{Signature: md.FullName()}
	if md.Body != nil {
		for _, v := range md.Body.Variables {
			m.Locals = append(m.Locals, fmt.Sprintf("V_%d %s", v.Index, v.Type.FullName()))
		}
		for _, ins := range md.Body.Instructions {
			m.IL = append(m.IL, ins.String())
		}
	}
	if md.DebugInfo == nil {
		return m
	}
	for _, sp := range md.DebugInfo.SequencePoints {
		m.SequencePoints = append(m.SequencePoints, sp.String())
	}
	if s := md.DebugInfo.Scope; s != nil {
		m.Scope = fmt.Sprintf("IL_%04x-IL_%04x", s.StartOffset(), s.EndOffset())
		for _, id := range mod.ImportScopes.Chain(s.Import) {
			node, _ := mod.ImportScopes.Get(id)
			line := fmt.Sprintf("#%d", id)
			if targets := formatTargets(node.Targets); len(targets) > 0 {
				line += " " + strings.Join(targets, "; ")
			}
			m.Imports = append(m.Imports, line)
		}
	}
	return m
}

func formatTargets(targets []metadata.ImportTarget) []string {
	var out []string
	for _, t := range targets {
		var parts []string
		if t.Alias != "" {
			parts = append(parts, t.Alias+" =")
		}
		if t.Assembly != nil {
			parts = append(parts, "["+t.Assembly.Name+"]")
		}
		if t.Namespace != "" {
			parts = append(parts, t.Namespace)
		}
		if t.Type != nil {
			parts = append(parts, t.Type.FullName())
		}
		out = append(out, t.Kind.String()+" "+strings.Join(parts, " "))
	}
	return out
}

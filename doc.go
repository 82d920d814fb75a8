// Package clrimage synthesizes and transforms managed assemblies: ECMA-335
// metadata and IL in a PE image, plus the matching Portable PDB.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	clrimage/            Root package: two-file encode, decode and file I/O
//	├── metadata/        Assembly model, IL builder and debug information
//	├── resolve/         Importing foreign types and members as references
//	├── image/           Metadata tables, method bodies and the PE container
//	├── pdb/             Portable PDB symbol streams
//	├── refpack/         Locating installed reference assemblies
//	├── runtimeconfig/   The runtimeconfig.json side-car
//	├── scenario/        End-to-end generation and modification flows
//	├── errors/          Structured error types for debugging
//	└── cmd/clrgen/      Command line front end
//
// # Quick Start
//
// Build a console program that prints a line:
//
//	asm := metadata.NewAssembly("Hello", metadata.Version{Major: 1},
//	    metadata.ModuleParameters{Kind: metadata.KindConsole})
//	mod := asm.MainModule()
//
//	imp := resolve.NewImporter(mod, loader)
//	writeLine, err := imp.Method("System.Console", "System.Console",
//	    resolve.Method("WriteLine", metadata.String))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	program := metadata.NewTypeDef("Hello", "Program", metadata.TypePublic, metadata.Object)
//	_ = mod.AddType(program)
//	main := metadata.NewMethodDef("Main", metadata.MethodPublic|metadata.MethodStatic, metadata.Void)
//	_ = program.AddMethod(main)
//
//	il := metadata.NewBuilder(main.Body)
//	il.Emit(metadata.OpLdstr, "Hello World!")
//	il.Emit(metadata.OpCall, writeLine)
//	il.Emit(metadata.OpRet)
//	_ = mod.SetEntryPoint(main)
//
//	err = clrimage.WriteFiles(asm, "Hello.dll", "Hello.pdb", nil)
//
// Read an image back, change it and write it again:
//
//	asm, err := clrimage.ReadFiles("Hello.dll", "Hello.pdb")
//
// # Determinism
//
// A module without an MVID gets one derived from a hash of its metadata
// and IL; the symbol id is a hash of the symbol stream. Equal models
// therefore produce byte-identical files.
//
// # Error Handling
//
// All errors are *errors.Error values with a phase and a kind:
//
//	if errors.Is(err, errors.ErrUnresolvedReference) {
//	    // an operand points at a reference that was never imported
//	}
package clrimage

// Package image encodes a finalized module as a PE image with ECMA-335
// metadata and parses such images back into the model.
//
// Writing happens in two steps. Build assigns table rows and tokens, lays
// out the heaps and encodes method bodies; the resulting TokenMap is what
// the symbol writer keys method and document rows to. Serialize then wraps
// the metadata in a PE32 or PE32+ container and adds the debug directory:
//
//	md, err := image.Build(module, nil)
//	...
//	data, err := md.Serialize(&image.Debug{CodeView: cv})
//
// A zero module version id is replaced by a hash of the encoded content, so
// the same module always produces the same bytes.
//
// Read parses an image, materializes the tables the model carries and
// decodes every method body. Tables the model does not carry are listed in
// Module.DroppedTables; Build refuses such a module unless
// BuildOptions.AllowDroppedTables is set.
package image

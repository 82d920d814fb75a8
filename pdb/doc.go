// Package pdb encodes and decodes Portable PDB symbol streams.
//
// A symbol stream is keyed to one image through the TokenMap produced
// when the image was built (or read): MethodDebugInformation row N
// describes MethodDef row N, and the #Pdb stream records the entry point
// token and the row count of every type-system table of the image.
//
// The stream id is a hash of the encoded content. Its GUID and stamp go
// into the CodeView entry of the image, which is how a reader pairs an
// image with its symbols:
//
//	data, id, err := pdb.Encode(module, md.Tokens)
//	cv := &image.CodeView{GUID: id.GUID(), Stamp: id.Stamp(), Age: 1, Path: "App.pdb"}
package pdb

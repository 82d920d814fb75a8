// Package scenario runs the two end-to-end programs of this module.
//
// WriteNew creates a console assembly from nothing: a Program type with a
// constructor and a Main that prints a message through System.Console,
// the usual assembly attributes, a "using System;" import chain, symbols
// and a runtimeconfig.json.
//
// Modify reads an existing assembly with its symbols, renames it, adds a
// second program type whose Main becomes the entry point, and writes the
// result next to a copy of the source runtimeconfig.json.
//
// Both resolve foreign members through a reference pack (see Loader), so
// the images reference contract assemblies only. Config is loaded from
// TOML with LoadConfig; DefaultConfig reproduces the reference programs.
package scenario

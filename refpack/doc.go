// Package refpack locates reference assemblies in installed .NET
// targeting packs and probes the dotnet host for SDKs.
//
// A targeting pack lives under <root>/packs/<pack>/<version>/ and lists
// its assemblies in data/FrameworkList.xml. Locator reads that list and
// loads assemblies by simple name, so it can serve as a
// resolve.AssemblyLoader:
//
//	loc, err := refpack.New(refpack.DefaultRoot(), refpack.CorePack, "")
//	imp := resolve.NewImporter(mod, loc)
//
// Lookups that find nothing return errors carrying errors.KindNotFound;
// nothing here panics or exits.
package refpack

package clrimage

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/clr-image/errors"
	"github.com/wippyai/clr-image/image"
	"github.com/wippyai/clr-image/metadata"
	"github.com/wippyai/clr-image/pdb"
)

// Options tune Encode and WriteFiles.
type Options struct {
	// ImplementationAssemblies overrides the assembly name prefixes an
	// image must not reference. Nil keeps the defaults.
	ImplementationAssemblies []string
	// SymbolsPath is the symbol file path recorded in the image. It defaults
	// to the path symbols are written to, or the module name with a .pdb
	// extension.
	SymbolsPath string
	// AllowDroppedTables permits writing a read module whose image had
	// tables the model does not carry.
	AllowDroppedTables bool
	// EmbedSymbols also stores the symbols inside the image.
	EmbedSymbols bool
}

// Encode finalizes the assembly's module and encodes the image and its
// Portable PDB. Nothing is returned when any check fails. On success the
// module's MVID is set and the module becomes Written.
func Encode(asm *metadata.Assembly, opts *Options) (img, symbols []byte, err error) {
	if opts == nil {
		opts = &Options{}
	}
	m := asm.MainModule()
	if err := m.Finalize(&metadata.FinalizeOptions{ImplementationAssemblies: opts.ImplementationAssemblies}); err != nil {
		return nil, nil, err
	}
	md, err := image.Build(m, &image.BuildOptions{AllowDroppedTables: opts.AllowDroppedTables})
	if err != nil {
		return nil, nil, err
	}
	symbols, id, err := pdb.Encode(m, md.Tokens)
	if err != nil {
		return nil, nil, err
	}

	path := opts.SymbolsPath
	if path == "" {
		path = strings.TrimSuffix(m.Name, filepath.Ext(m.Name)) + ".pdb"
	}
	dbg := &image.Debug{CodeView: &image.CodeView{GUID: id.GUID(), Stamp: id.Stamp(), Age: 1, Path: path}}
	if opts.EmbedSymbols {
		dbg.EmbeddedSymbols = symbols
	}
	img, err = md.Serialize(dbg)
	if err != nil {
		return nil, nil, err
	}

	m.Mvid = md.Mvid
	if err := m.MarkWritten(); err != nil {
		return nil, nil, err
	}
	image.Logger().Debug("encoded assembly",
		zap.String("assembly", asm.FullName()),
		zap.Stringer("mvid", m.Mvid),
		zap.Stringer("symbols", id),
		zap.Int("image", len(img)),
		zap.Int("pdb", len(symbols)))
	return img, symbols, nil
}

// Decode reads an image and, when available, its symbols. Symbols are
// taken from the symbols argument, or from the image when it embeds them;
// either must carry the id recorded in the image's CodeView entry.
func Decode(data, symbols []byte) (*metadata.Assembly, error) {
	img, err := image.Read(data)
	if err != nil {
		return nil, err
	}
	if img.Assembly == nil {
		return nil, errors.Unsupported(errors.PhaseRead, "image has no assembly manifest")
	}
	if symbols == nil && img.Debug != nil {
		symbols = img.Debug.EmbeddedSymbols
	}
	if symbols == nil {
		return img.Assembly, nil
	}

	var expected *pdb.ID
	if img.Debug != nil && img.Debug.CodeView != nil {
		id := pdb.NewID(img.Debug.CodeView.GUID, img.Debug.CodeView.Stamp)
		expected = &id
	}
	if _, err := pdb.Decode(symbols, img.Module, img.Tokens, expected); err != nil {
		return nil, err
	}
	return img.Assembly, nil
}

// WriteFiles encodes the assembly and writes the image and, when
// symbolsPath is not empty, the symbols. Each file is created right before
// it is written.
func WriteFiles(asm *metadata.Assembly, imagePath, symbolsPath string, opts *Options) error {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	if o.SymbolsPath == "" && symbolsPath != "" {
		o.SymbolsPath = symbolsPath
	}
	img, symbols, err := Encode(asm, &o)
	if err != nil {
		return err
	}
	if err := writeFile(imagePath, img); err != nil {
		return err
	}
	if symbolsPath == "" {
		return nil
	}
	return writeFile(symbolsPath, symbols)
}

func writeFile(path string, data []byte) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.WriteIO(path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.WriteIO(path, cerr)
		}
	}()
	if _, err := f.Write(data); err != nil {
		return errors.WriteIO(path, err)
	}
	return nil
}

// ReadFiles reads an image and, when symbolsPath is not empty, its symbol file.
func ReadFiles(imagePath, symbolsPath string) (*metadata.Assembly, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, errors.ReadIO(imagePath, err)
	}
	var symbols []byte
	if symbolsPath != "" {
		if symbols, err = os.ReadFile(symbolsPath); err != nil {
			return nil, errors.ReadIO(symbolsPath, err)
		}
	}
	return Decode(data, symbols)
}

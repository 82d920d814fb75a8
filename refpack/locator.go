package refpack

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	"github.com/wippyai/clr-image/errors"
	"github.com/wippyai/clr-image/image"
	"github.com/wippyai/clr-image/metadata"
)

// Targeting pack names.
const (
	CorePack     = "Microsoft.NETCore.App.Ref"
	StandardPack = "NETStandard.Library.Ref"
)

// ListFile is the manifest path inside a pack version directory.
const ListFile = "data/FrameworkList.xml"

// DefaultRoot returns the dotnet installation directory: DOTNET_ROOT when
// set, then the installation of the dotnet host on PATH, otherwise the
// platform's default location.
func DefaultRoot() string {
	return NewHost().DefaultRoot(context.Background())
}

func platformRoot() string {
	switch runtime.GOOS {
	case "windows":
		return `C:\Program Files\dotnet`
	case "darwin":
		return "/usr/local/share/dotnet"
	}
	return "/usr/share/dotnet"
}

// PackDir returns <root>/packs/<pack>.
func PackDir(root, pack string) string {
	return filepath.Join(root, "packs", pack)
}

// InstalledVersions lists the versions of pack installed under root,
// oldest first. Directories whose names are not versions are skipped.
func InstalledVersions(root, pack string) ([]*semver.Version, error) {
	dir := PackDir(root, pack)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound(errors.PhaseLocate, "targeting pack", dir)
		}
		return nil, errors.ReadIO(dir, err)
	}
	var out []*semver.Version
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		v, err := semver.NewVersion(e.Name())
		if err != nil {
			Logger().Debug("skipping pack directory", zap.String("dir", e.Name()), zap.Error(err))
			continue
		}
		out = append(out, v)
	}
	sort.Sort(semver.Collection(out))
	return out, nil
}

// Latest returns the newest version of pack installed under root.
func Latest(root, pack string) (string, error) {
	versions, err := InstalledVersions(root, pack)
	if err != nil {
		return "", err
	}
	if len(versions) == 0 {
		return "", errors.NotFound(errors.PhaseLocate, "targeting pack version", PackDir(root, pack))
	}
	return versions[len(versions)-1].Original(), nil
}

// Locator finds and loads the reference assemblies of one pack version.
type Locator struct {
	List    *FrameworkList
	loaded  map[string]*metadata.Assembly
	Dir     string
	Version string
}

// New opens version of pack under root. An empty version selects the
// newest installed one.
func New(root, pack, version string) (*Locator, error) {
	if version == "" {
		v, err := Latest(root, pack)
		if err != nil {
			return nil, err
		}
		version = v
	}
	return Open(filepath.Join(PackDir(root, pack), version))
}

// Open reads the manifest of the pack version directory dir.
func Open(dir string) (*Locator, error) {
	path := filepath.Join(dir, filepath.FromSlash(ListFile))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound(errors.PhaseLocate, "framework list", path)
		}
		return nil, errors.ReadIO(path, err)
	}
	fl, err := ParseFrameworkList(data)
	if err != nil {
		return nil, err
	}
	Logger().Debug("opened targeting pack",
		zap.String("dir", dir),
		zap.Int("assemblies", len(fl.Files)))
	return &Locator{
		List:    fl,
		Dir:     dir,
		Version: filepath.Base(dir),
		loaded:  make(map[string]*metadata.Assembly),
	}, nil
}

// Path returns the file of the reference assembly named name.
func (l *Locator) Path(name string) (string, error) {
	f, ok := l.List.Find(name)
	if !ok {
		return "", errors.New(errors.PhaseLocate, errors.KindNotFound).
			Path(l.Dir).Member(name).Detail("assembly %q is not listed in %s", name, ListFile).Build()
	}
	rel := strings.ReplaceAll(f.Path, `\`, "/")
	return filepath.Join(l.Dir, filepath.FromSlash(rel)), nil
}

// LoadAssembly reads the reference assembly named name. Each assembly is
// read once per Locator.
func (l *Locator) LoadAssembly(name string) (*metadata.Assembly, error) {
	key := strings.ToLower(name)
	if a, ok := l.loaded[key]; ok {
		return a, nil
	}
	path, err := l.Path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.ReadIO(path, err)
	}
	img, err := image.Read(data)
	if err != nil {
		return nil, err
	}
	if img.Assembly == nil {
		return nil, errors.InvalidData(errors.PhaseLocate, []string{path}, "image has no assembly manifest")
	}
	l.loaded[key] = img.Assembly
	Logger().Debug("loaded reference assembly",
		zap.String("assembly", img.Assembly.FullName()),
		zap.String("path", path))
	return img.Assembly, nil
}

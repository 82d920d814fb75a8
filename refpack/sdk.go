package refpack

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	"github.com/wippyai/clr-image/errors"
)

// Runner runs a command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// SDK is one line of `dotnet --list-sdks`.
type SDK struct {
	Version *semver.Version
	// Base is the directory holding the SDK version directories.
	Base string
}

// Path returns the SDK directory.
func (s SDK) Path() string {
	return filepath.Join(s.Base, s.Version.Original())
}

// Host probes a dotnet host executable.
type Host struct {
	Run  Runner
	Tool string
}

// NewHost returns a Host running the dotnet found on PATH.
func NewHost() *Host {
	return &Host{Tool: "dotnet", Run: ExecRunner}
}

func (h *Host) output(ctx context.Context, args ...string) (string, error) {
	out, err := h.Run(ctx, h.Tool, args...)
	if err != nil {
		return "", errors.New(errors.PhaseLocate, errors.KindNotFound).
			Member(h.Tool + " " + strings.Join(args, " ")).Cause(err).Detail("dotnet host probe failed").Build()
	}
	return strings.TrimSpace(string(out)), nil
}

// SDKs lists the installed SDKs, in the host's order.
func (h *Host) SDKs(ctx context.Context) ([]SDK, error) {
	out, err := h.output(ctx, "--list-sdks")
	if err != nil {
		return nil, err
	}
	return ParseSDKList(out)
}

// Version returns the SDK version the host selects for the current directory.
func (h *Host) Version(ctx context.Context) (string, error) {
	return h.output(ctx, "--version")
}

// SDKPath returns the directory of the installed SDK whose version starts with version.
func (h *Host) SDKPath(ctx context.Context, version string) (string, error) {
	sdks, err := h.SDKs(ctx)
	if err != nil {
		return "", err
	}
	for _, s := range sdks {
		if strings.HasPrefix(s.Version.Original(), version) {
			return s.Path(), nil
		}
	}
	return "", errors.NotFound(errors.PhaseLocate, "SDK", version)
}

// CurrentSDKPath returns the directory of the SDK the host selects.
func (h *Host) CurrentSDKPath(ctx context.Context) (string, error) {
	v, err := h.Version(ctx)
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", errors.NotFound(errors.PhaseLocate, "SDK", "current")
	}
	return h.SDKPath(ctx, v)
}

// Root returns the installation directory of the SDK the host selects,
// the parent of its sdk directory.
func (h *Host) Root(ctx context.Context) (string, error) {
	p, err := h.CurrentSDKPath(ctx)
	if err != nil {
		return "", err
	}
	return filepath.Dir(filepath.Dir(p)), nil
}

// DefaultRoot returns DOTNET_ROOT when set, then the Root of h, otherwise
// the platform's default location.
func (h *Host) DefaultRoot(ctx context.Context) string {
	if v := os.Getenv("DOTNET_ROOT"); v != "" {
		return v
	}
	root, err := h.Root(ctx)
	if err != nil {
		Logger().Debug("no dotnet host, using the platform default", zap.Error(err))
		return platformRoot()
	}
	return root
}

// ParseSDKList parses `dotnet --list-sdks` output, lines of the form
// "3.1.100 [C:\Program Files\dotnet\sdk]".
func ParseSDKList(out string) ([]SDK, error) {
	var sdks []SDK
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		open := strings.IndexByte(line, '[')
		end := strings.LastIndexByte(line, ']')
		if open < 0 || end < open {
			return nil, errors.New(errors.PhaseLocate, errors.KindInvalidData).
				Value(line).Detail("sdk line %q has no [path]", line).Build()
		}
		v, err := semver.NewVersion(strings.TrimSpace(line[:open]))
		if err != nil {
			return nil, errors.Wrap(errors.PhaseLocate, errors.KindInvalidData, err, "sdk version in "+line)
		}
		sdks = append(sdks, SDK{Version: v, Base: line[open+1 : end]})
	}
	return sdks, nil
}

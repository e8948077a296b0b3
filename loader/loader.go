// Package loader resolves imported module names to guest source.
//
// A Func is the loader contract of a VM instance. The presets build one
// from a directory, an fs.FS or a sqlite module store.
package loader

import (
	stderrors "errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/wippyai/carrica/errors"
)

// ErrModuleNotFound is returned by a Func that has no module of that name.
var ErrModuleNotFound = stderrors.New("module not found")

// Func returns the source of the named module.
type Func func(name string) (string, error)

// modulePath turns a dotted module name into a slash separated path.
func modulePath(name, ext string) (string, error) {
	if name == "" || strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return "", errors.InvalidInput(errors.PhaseLoad, "invalid module name "+name)
	}
	return strings.ReplaceAll(name, ".", "/") + ext, nil
}

// Filesystem reads <root>/<name with dots as slashes><ext> from disk.
func Filesystem(root, ext string) Func {
	return func(name string) (string, error) {
		p, err := modulePath(name, ext)
		if err != nil {
			return "", err
		}
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(p)))
		if err != nil {
			if stderrors.Is(err, fs.ErrNotExist) {
				return "", ErrModuleNotFound
			}
			return "", errors.Load("read module "+name, err)
		}
		return string(data), nil
	}
}

// FS reads modules from fsys with the same layout as Filesystem.
func FS(fsys fs.FS, ext string) Func {
	return func(name string) (string, error) {
		p, err := modulePath(name, ext)
		if err != nil {
			return "", err
		}
		data, err := fs.ReadFile(fsys, path.Clean(p))
		if err != nil {
			if stderrors.Is(err, fs.ErrNotExist) {
				return "", ErrModuleNotFound
			}
			return "", errors.Load("read module "+name, err)
		}
		return string(data), nil
	}
}

// Map serves modules from memory.
func Map(modules map[string]string) Func {
	return func(name string) (string, error) {
		src, ok := modules[name]
		if !ok {
			return "", ErrModuleNotFound
		}
		return src, nil
	}
}

// Chain tries each loader in order and returns the first module found.
func Chain(loaders ...Func) Func {
	return func(name string) (string, error) {
		for _, l := range loaders {
			if l == nil {
				continue
			}
			src, err := l(name)
			if err == nil {
				return src, nil
			}
			if !stderrors.Is(err, ErrModuleNotFound) {
				return "", err
			}
		}
		return "", ErrModuleNotFound
	}
}

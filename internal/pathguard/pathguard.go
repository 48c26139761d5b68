// Package pathguard confines client-supplied paths to a user's root
// directory before any filesystem call touches them.
//
// Canonicalisation is weak (components need not exist on disk): it is
// enough to resolve "." and ".." and make the path absolute, without
// requiring the target to already exist.
package pathguard

import (
	"path/filepath"
	"strings"

	"github.com/gonzalop/minidrive/internal/apperr"
)

// Type constrains what kind of filesystem entry a path must name.
type Type int

const (
	None Type = iota
	File
	Directory
)

// Existence constrains whether a path must already exist on disk.
type Existence int

const (
	DontCare Existence = iota
	MustExist
	MustNotExist
)

// Stat is the minimal filesystem probe PathGuard needs. It is satisfied by
// os.Stat plus os.IsNotExist and kept as a function type so tests can fake
// missing/garbled filesystem state without touching disk.
type Stat func(path string) (isDir bool, exists bool, err error)

// Verify canonicalises path (weakly: no component needs to exist), confines
// it to root, checks its type, and checks its existence. It returns the
// canonical absolute path on success so the caller need not re-canonicalise.
func Verify(root, path string, typ Type, existence Existence, stat Stat) (string, error) {
	absRoot, err := filepath.Abs(filepath.Clean(root))
	if err != nil {
		return "", apperr.New(apperr.KindAccessDenied, "cannot canonicalise root %q: %v", root, err)
	}
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", apperr.New(apperr.KindAccessDenied, "cannot canonicalise path %q: %v", path, err)
	}

	if !withinRoot(absRoot, absPath) {
		return "", apperr.New(apperr.KindAccessDenied, "path escapes client directory: %s", path)
	}

	isDir, exists, err := stat(absPath)
	if err != nil {
		return "", apperr.New(apperr.KindInternal, "stat %s: %v", absPath, err)
	}

	if exists {
		if typ == Directory && !isDir {
			return "", apperr.New(apperr.KindNotDirectory, "path is not a directory: %s", path)
		}
		if typ == File && isDir {
			return "", apperr.New(apperr.KindIsDirectory, "path is a directory: %s", path)
		}
	}

	switch existence {
	case MustExist:
		if !exists {
			switch typ {
			case Directory:
				return "", apperr.New(apperr.KindDirectoryNotFound, "directory does not exist: %s", path)
			case File:
				return "", apperr.New(apperr.KindFileNotFound, "file does not exist: %s", path)
			default:
				return "", apperr.New(apperr.KindPathNotFound, "path does not exist: %s", path)
			}
		}
	case MustNotExist:
		if exists {
			return "", apperr.New(apperr.KindOverwriteError, "path already exists: %s", path)
		}
	}

	return absPath, nil
}

// withinRoot reports whether abs is root itself or componentwise beneath it.
func withinRoot(root, abs string) bool {
	root = filepath.Clean(root)
	abs = filepath.Clean(abs)
	if abs == root {
		return true
	}
	sep := string(filepath.Separator)
	return strings.HasPrefix(abs, strings.TrimSuffix(root, sep)+sep)
}

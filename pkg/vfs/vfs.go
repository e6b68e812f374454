// Package vfs provides the sandboxed filesystem helpers the FTP engine is
// built on: safe path resolution confined to a root directory, directory
// listing, and metadata lookup.
package vfs

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var (
	// ErrEscapesRoot is returned when a resolved path would leave the root
	// directory tree.
	ErrEscapesRoot = errors.New("path escapes root directory")

	// ErrNotFound is returned when the requested path does not exist.
	ErrNotFound = errors.New("path not found")
)

// FileInfo describes a single filesystem entry as exposed to FTP clients.
type FileInfo struct {
	Name    string
	Size    int64
	Mode    os.FileMode
	ModTime time.Time
	IsDir   bool
}

// ResolveSafe resolves a client-supplied path against the session's current
// directory and confines the result to root.
//
// The supplied path may be:
//   - absolute ("/pub/a.txt"): interpreted relative to root
//   - relative ("a.txt", "../b"): interpreted relative to base
//
// ".." components are clamped at root rather than rejected, so "cd .." from
// the root is a no-op. Base must be a virtual path ("/" based) as stored in
// the session, not an OS path.
//
// Returns the OS path of the target and the cleaned virtual path. The target
// is not required to exist.
func ResolveSafe(root, base, p string) (osPath, virtualPath string, err error) {
	if root == "" {
		return "", "", fmt.Errorf("resolve: empty root")
	}

	if base == "" {
		base = "/"
	}

	var virt string
	if path.IsAbs(p) {
		virt = path.Clean(p)
	} else {
		// path.Clean clamps ".." at the root of a rooted path, which gives
		// the "cd .. from root is a no-op" behavior.
		virt = path.Clean(path.Join(base, p))
	}
	if virt == "" || virt == "." {
		virt = "/"
	}

	cleanRoot := filepath.Clean(root)
	osPath = filepath.Join(cleanRoot, filepath.FromSlash(virt))

	// The joined path cannot climb out of root, but a symlink inside the tree
	// still can. Re-check confinement on the resolved path when it exists.
	if resolved, rerr := filepath.EvalSymlinks(osPath); rerr == nil {
		resolvedRoot, rerr2 := filepath.EvalSymlinks(cleanRoot)
		if rerr2 != nil {
			resolvedRoot = cleanRoot
		}
		if resolved != resolvedRoot && !strings.HasPrefix(resolved, resolvedRoot+string(filepath.Separator)) {
			return "", "", ErrEscapesRoot
		}
	}

	return osPath, virt, nil
}

// GetInfo returns metadata for the entry at osPath.
// Returns ErrNotFound when the entry does not exist.
func GetInfo(osPath string) (FileInfo, error) {
	st, err := os.Stat(osPath)
	if err != nil {
		if os.IsNotExist(err) {
			return FileInfo{}, ErrNotFound
		}
		return FileInfo{}, fmt.Errorf("stat %s: %w", osPath, err)
	}
	return fromOS(st), nil
}

// ListDirectory returns the entries of the directory at osPath, sorted by
// name. Entries that disappear between the read and the stat are skipped.
func ListDirectory(osPath string) ([]FileInfo, error) {
	entries, err := os.ReadDir(osPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read dir %s: %w", osPath, err)
	}

	infos := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		st, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, fromOS(st))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// IsValidFilename reports whether name is acceptable as a single path
// component for STOR/MKD/RNTO targets. Path separators, traversal components
// and control characters are rejected.
func IsValidFilename(name string) bool {
	if name == "" || len(name) > 255 {
		return false
	}
	if name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return false
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}

func fromOS(st os.FileInfo) FileInfo {
	return FileInfo{
		Name:    st.Name(),
		Size:    st.Size(),
		Mode:    st.Mode(),
		ModTime: st.ModTime(),
		IsDir:   st.IsDir(),
	}
}

// Package resolve maps request paths onto the filesystem below a fixed root.
//
// Containment is always checked on canonical paths (after symlinks and dot
// segments are resolved), never on the raw request string.
package resolve

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

var (
	ErrForbidden = errors.New("forbidden")
	ErrNotFound  = errors.New("not found")
)

// ResolvedPath is a canonical filesystem path known to lie under the root.
type ResolvedPath struct {
	Path    string // absolute canonical path
	Rel     string // slash-separated path relative to the root, "" for the root
	Request string // request path as given to Resolve
}

// Resolver resolves request paths against one canonical root.
type Resolver struct {
	root string
}

// New canonicalizes root. The root must exist and be a directory.
func New(root string) (*Resolver, error) {
	canon, err := Canonicalize(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %q: %w", root, err)
	}
	info, err := os.Stat(canon)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %q is not a directory", root)
	}
	return &Resolver{root: canon}, nil
}

// Root returns the canonical root directory.
func (r *Resolver) Root() string {
	return r.root
}

// Resolve decodes target, joins it to the root and canonicalizes it.
func (r *Resolver) Resolve(target string) (ResolvedPath, error) {
	decoded, err := url.PathUnescape(target)
	if err != nil {
		decoded = target
	}
	rel := strings.TrimPrefix(decoded, "/")
	if strings.IndexByte(rel, 0) != -1 {
		return ResolvedPath{}, ErrForbidden
	}

	joined := filepath.Join(r.root, filepath.FromSlash(rel))

	canon, err := filepath.EvalSymlinks(joined)
	if err != nil {
		// A missing path that already escapes lexically is still a
		// traversal attempt.
		if !Within(r.root, joined) {
			return ResolvedPath{}, ErrForbidden
		}
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			return ResolvedPath{}, ErrNotFound
		}
		return ResolvedPath{}, fmt.Errorf("%w: %v", ErrForbidden, err)
	}

	if !Within(r.root, canon) {
		return ResolvedPath{}, ErrForbidden
	}

	relPath, err := filepath.Rel(r.root, canon)
	if err != nil {
		return ResolvedPath{}, ErrForbidden
	}
	if relPath == "." {
		relPath = ""
	}

	return ResolvedPath{
		Path:    canon,
		Rel:     filepath.ToSlash(relPath),
		Request: target,
	}, nil
}

// Canonicalize returns the absolute, symlink-free form of p.
func Canonicalize(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

// Within reports whether p equals base or lies below it. Both paths must
// already be absolute and clean.
func Within(base, p string) bool {
	rel, err := filepath.Rel(base, p)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

package server

import (
	"os"
	"path/filepath"
	"strings"
)

// UnixDirResolver implements TokenResolver by treating the token as a
// filename under root, per spec §4.5: path traversal is rejected and
// the resolved path must be a UNIX socket.
type UnixDirResolver struct {
	root string
}

// NewUnixDirResolver builds a resolver rooted at dir.
func NewUnixDirResolver(dir string) (*UnixDirResolver, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, newConfigError(err, "failed to resolve unix socket directory")
	}
	return &UnixDirResolver{root: abs}, nil
}

// Lookup implements TokenResolver.
func (r *UnixDirResolver) Lookup(token string) (Target, bool) {
	if token == "" || strings.ContainsRune(token, filepath.Separator) {
		return Target{}, false
	}
	full := filepath.Join(r.root, token)
	rel, err := filepath.Rel(r.root, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return Target{}, false
	}

	info, err := os.Lstat(full)
	if err != nil {
		return Target{}, false
	}
	if info.Mode()&os.ModeSocket == 0 {
		return Target{}, false
	}

	return UnixTarget(full), true
}

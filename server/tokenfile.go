package server

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// TokenFileResolver implements TokenResolver against one or more
// "token: host:port" text files, per spec §6's token file format: one
// entry per line, `#` comments and blank lines ignored, whitespace
// tolerant around the colon-space separator, syntax errors logged and
// skipped rather than failing the whole file.
type TokenFileResolver struct {
	log *Logger

	mu      sync.RWMutex
	entries map[string]Target
}

// NewTokenFileResolver loads path, which may be a single file or a
// directory (the union of every file inside, per spec §4.5).
func NewTokenFileResolver(path string, log *Logger) (*TokenFileResolver, error) {
	r := &TokenFileResolver{log: log, entries: make(map[string]Target)}
	if err := r.Reload(path); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads path from scratch, replacing the entry table
// atomically so concurrent Lookup calls never see a half-loaded state.
func (r *TokenFileResolver) Reload(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return newConfigError(err, "token file path not found")
	}

	var files []string
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return newConfigError(err, "failed to list token directory")
		}
		for _, e := range entries {
			if !e.IsDir() {
				files = append(files, filepath.Join(path, e.Name()))
			}
		}
	} else {
		files = []string{path}
	}

	merged := make(map[string]Target)
	for _, f := range files {
		if err := parseTokenFile(f, merged, r.log); err != nil {
			return err
		}
	}

	r.mu.Lock()
	r.entries = merged
	r.mu.Unlock()
	return nil
}

func parseTokenFile(path string, into map[string]Target, log *Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return newConfigError(err, "failed to open token file")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		token, hostport, ok := strings.Cut(line, ":")
		if !ok {
			if log != nil {
				log.Warnf("%s:%d: malformed token line, skipping", path, lineNo)
			}
			continue
		}
		token = strings.TrimSpace(token)
		hostport = strings.TrimSpace(hostport)
		host, portStr, ok := strings.Cut(hostport, ":")
		if !ok {
			if log != nil {
				log.Warnf("%s:%d: malformed host:port, skipping", path, lineNo)
			}
			continue
		}
		host = strings.TrimSpace(host)
		port, err := strconv.ParseUint(strings.TrimSpace(portStr), 10, 16)
		if err != nil {
			if log != nil {
				log.Warnf("%s:%d: invalid port %q, skipping", path, lineNo, portStr)
			}
			continue
		}
		into[token] = TCPTarget(host, uint16(port))
	}
	if err := scanner.Err(); err != nil {
		return newConfigError(err, "failed to read token file")
	}
	return nil
}

// Lookup implements TokenResolver.
func (r *TokenFileResolver) Lookup(token string) (Target, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.entries[token]
	return t, ok
}

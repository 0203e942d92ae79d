package server

import (
	"bufio"
	"net/http"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// HtpasswdAuth implements AuthValidator against an Apache-style
// htpasswd file (bcrypt-hashed entries only — md5crypt/plain entries
// in a legacy file are rejected rather than reimplemented), per
// spec §4.5.
type HtpasswdAuth struct {
	realm string

	mu    sync.RWMutex
	creds map[string]string // user -> bcrypt hash
}

// NewHtpasswdAuth loads path and returns a validator. realm is used
// in the WWW-Authenticate challenge header on a 401.
func NewHtpasswdAuth(path, realm string) (*HtpasswdAuth, error) {
	a := &HtpasswdAuth{realm: realm, creds: make(map[string]string)}
	if err := a.Reload(path); err != nil {
		return nil, err
	}
	return a, nil
}

// Reload re-reads the htpasswd file from scratch.
func (a *HtpasswdAuth) Reload(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return newConfigError(err, "failed to open htpasswd file")
	}
	defer f.Close()

	creds := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		user, hash, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		creds[user] = hash
	}
	if err := scanner.Err(); err != nil {
		return newConfigError(err, "failed to read htpasswd file")
	}

	a.mu.Lock()
	a.creds = creds
	a.mu.Unlock()
	return nil
}

// Authenticate implements AuthValidator via HTTP Basic auth against
// the loaded credential table.
func (a *HtpasswdAuth) Authenticate(headers http.Header, targetHost string, targetPort uint16) *AuthError {
	challenge := map[string]string{"WWW-Authenticate": `Basic realm="` + a.realm + `"`}

	auth := headers.Get("Authorization")
	user, pass, ok := parseBasicAuth(auth)
	if !ok {
		return newAuthError(401, "authentication required", challenge)
	}

	a.mu.RLock()
	hash, known := a.creds[user]
	a.mu.RUnlock()
	if !known {
		return newAuthError(401, "invalid credentials", challenge)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(pass)) != nil {
		return newAuthError(401, "invalid credentials", challenge)
	}
	return nil
}

func parseBasicAuth(auth string) (user, pass string, ok bool) {
	req := &http.Request{Header: http.Header{"Authorization": []string{auth}}}
	return req.BasicAuth()
}

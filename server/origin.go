package server

import (
	"net/url"
	"strings"
)

// allowedOrigin mirrors the (scheme, port) pair the teacher's
// checkOrigin keeps per allow-listed host.
type allowedOrigin struct {
	scheme string
	port   string
}

// AllowlistOrigin implements OriginValidator against a fixed allow-list
// of origins, generalized from the teacher's same-origin-or-allowlist
// `checkOrigin`/`wsGetHostAndPort` pair (spec §4.5).
type AllowlistOrigin struct {
	allowed map[string]allowedOrigin
}

// NewAllowlistOrigin builds a validator from a list of origin strings
// such as "https://example.com:8443" or "http://example.com" (default
// port inferred from scheme, exactly as wsGetHostAndPort does).
func NewAllowlistOrigin(origins []string) (*AllowlistOrigin, error) {
	allowed := make(map[string]allowedOrigin, len(origins))
	for _, o := range origins {
		u, err := url.ParseRequestURI(o)
		if err != nil {
			return nil, newConfigError(err, "invalid allowed origin "+o)
		}
		host, port, err := originHostAndPort(u.Scheme == "https", u.Host)
		if err != nil {
			return nil, newConfigError(err, "invalid allowed origin "+o)
		}
		allowed[host] = allowedOrigin{scheme: u.Scheme, port: port}
	}
	return &AllowlistOrigin{allowed: allowed}, nil
}

// ValidateOrigin implements OriginValidator.
func (a *AllowlistOrigin) ValidateOrigin(origin string) *InvalidOriginError {
	if len(a.allowed) == 0 {
		return nil
	}
	if origin == "" {
		return newInvalidOriginError(origin)
	}
	u, err := url.ParseRequestURI(origin)
	if err != nil {
		return newInvalidOriginError(origin)
	}
	host, port, err := originHostAndPort(u.Scheme == "https", u.Host)
	if err != nil {
		return newInvalidOriginError(origin)
	}
	ao, ok := a.allowed[host]
	if !ok || u.Scheme != ao.scheme || port != ao.port {
		return newInvalidOriginError(origin)
	}
	return nil
}

// originHostAndPort splits hostport into host/port, filling in the
// scheme's default port when absent — the same behavior as the
// teacher's wsGetHostAndPort.
func originHostAndPort(tls bool, hostport string) (host, port string, err error) {
	idx := strings.LastIndexByte(hostport, ':')
	if idx < 0 {
		host = hostport
		if tls {
			port = "443"
		} else {
			port = "80"
		}
		return host, port, nil
	}
	return hostport[:idx], hostport[idx+1:], nil
}

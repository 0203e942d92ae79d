package server

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTResolver implements TokenResolver by verifying the token itself
// is a signed JWT carrying `host`/`port` claims, per spec §4.5 and §6
// scenario 7. `nbf`/`exp` are enforced unconditionally when present —
// spec §9's open question standardizes this as mandatory rather than
// the source's inconsistent per-fork behavior.
type JWTResolver struct {
	key   interface{}
	parser *jwt.Parser

	// now is injectable so §8 scenario 7's exact nbf/exp vectors can be
	// tested without a wall-clock race.
	now func() time.Time
}

// NewJWTResolver builds a resolver that verifies tokens with key
// (either an HMAC secret []byte or an *rsa.PublicKey/*ecdsa.PublicKey
// parsed from PEM by the caller).
func NewJWTResolver(key interface{}) *JWTResolver {
	r := &JWTResolver{key: key, now: time.Now}
	// WithTimeFunc reads r.now through the closure on every Parse call,
	// so tests can swap r.now after construction to drive §8 scenario
	// 7's exact nbf/exp vectors without a wall-clock race.
	r.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512", "RS256", "ES256"}),
		jwt.WithTimeFunc(func() time.Time { return r.now() }),
	)
	return r
}

// jwtTargetClaims is the minimal claim set spec §4.5 requires: `host`
// and `port`, plus the registered `nbf`/`exp` claims jwt.RegisteredClaims
// already parses.
type jwtTargetClaims struct {
	jwt.RegisteredClaims
	Host string      `json:"host"`
	Port interface{} `json:"port"` // tolerate both a JSON number and a numeric string
}

// Lookup implements TokenResolver. A bad signature, an expired/not-yet-valid
// token, or missing host/port claims all resolve to ok=false, per spec
// §4.5 ("failure returns None").
func (r *JWTResolver) Lookup(token string) (Target, bool) {
	claims := &jwtTargetClaims{}
	parsed, err := r.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return r.key, nil
	})
	if err != nil || !parsed.Valid {
		return Target{}, false
	}

	now := r.now()
	if claims.ExpiresAt != nil && now.After(claims.ExpiresAt.Time) {
		return Target{}, false
	}
	if claims.NotBefore != nil && now.Before(claims.NotBefore.Time) {
		return Target{}, false
	}

	if claims.Host == "" {
		return Target{}, false
	}
	port, ok := coercePort(claims.Port)
	if !ok {
		return Target{}, false
	}
	return TCPTarget(claims.Host, port), true
}

func coercePort(v interface{}) (uint16, bool) {
	switch p := v.(type) {
	case float64:
		if p < 0 || p > 65535 {
			return 0, false
		}
		return uint16(p), true
	case string:
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return 0, false
		}
		return uint16(n), true
	default:
		return 0, false
	}
}

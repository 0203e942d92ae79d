package server

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signTestToken(t *testing.T, key []byte, nbf, exp int64, host string, port int) string {
	t.Helper()
	claims := jwt.MapClaims{
		"host": host,
		"port": float64(port),
	}
	if nbf != 0 {
		claims["nbf"] = nbf
	}
	if exp != 0 {
		claims["exp"] = exp
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(key)
	require.NoError(t, err)
	return signed
}

// §8 scenario 7: nbf=100, exp=200; wall-clock 50 → None; 150 → (host,
// port); 250 → None.
func TestJWTResolverNbfExpVector(t *testing.T) {
	key := []byte("test-secret")
	token := signTestToken(t, key, 100, 200, "vnc.example", 5901)

	r := NewJWTResolver(key)

	r.now = func() time.Time { return time.Unix(50, 0) }
	_, ok := r.Lookup(token)
	assert.False(t, ok, "before nbf should be rejected")

	r.now = func() time.Time { return time.Unix(150, 0) }
	target, ok := r.Lookup(token)
	require.True(t, ok, "within nbf/exp window should resolve")
	assert.Equal(t, TCPTarget("vnc.example", 5901), target)

	r.now = func() time.Time { return time.Unix(250, 0) }
	_, ok = r.Lookup(token)
	assert.False(t, ok, "after exp should be rejected")
}

func TestJWTResolverRejectsBadSignature(t *testing.T) {
	token := signTestToken(t, []byte("key-one"), 0, 0, "h", 1)
	r := NewJWTResolver([]byte("key-two"))
	_, ok := r.Lookup(token)
	assert.False(t, ok)
}

func TestJWTResolverRejectsMissingHostClaim(t *testing.T) {
	key := []byte("test-secret")
	claims := jwt.MapClaims{"port": float64(5901)}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(key)
	require.NoError(t, err)

	r := NewJWTResolver(key)
	_, ok := r.Lookup(signed)
	assert.False(t, ok)
}

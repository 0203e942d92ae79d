package server

import "net/http"

// TokenResolver maps an opaque URL token to a Target. It must be safe
// to call from many connections concurrently; any per-lookup caching
// is the resolver's own responsibility to synchronize. A failed lookup
// (unknown token, or an I/O error reaching the backing store) returns
// ok=false — the broker treats both the same way: "unknown token"
// (spec §4.5).
type TokenResolver interface {
	Lookup(token string) (target Target, ok bool)
}

// AuthValidator authenticates an upgraded (or upgrading) connection
// against its request headers and resolved target. A non-nil
// *AuthError carries the HTTP status and any extra response headers
// the caller should emit (spec §4.5).
type AuthValidator interface {
	Authenticate(headers http.Header, targetHost string, targetPort uint16) *AuthError
}

// OriginValidator checks the request's Origin header against policy. It
// shares AuthValidator's shape but returns the *InvalidOriginError
// subtype so failures can be distinguished in logs (spec §4.5).
type OriginValidator interface {
	ValidateOrigin(origin string) *InvalidOriginError
}

// TrafficInterceptor is an optional per-connection middleman that may
// rewrite, drop, or inject bytes on either pumping direction — e.g. to
// transparently answer a target-side auth challenge. Returning nil
// drops the chunk (spec §4.5, §9 glossary).
type TrafficInterceptor interface {
	FromClient(data []byte) []byte
	FromTarget(data []byte) []byte

	// Injected drains bytes the interceptor wants pushed toward the
	// client and/or the target outside of the normal pumping flow
	// (spec §4.5's "side-channel to inject bytes toward either peer"),
	// e.g. to answer a target-side auth challenge transparently. The
	// broker calls this once per pump iteration; either slice may be
	// nil.
	Injected() (toClient [][]byte, toTarget [][]byte)
}

package server

import (
	"fmt"

	"github.com/pkg/errors"
)

// WebSocket close codes used by this bridge (spec §6).
const (
	CloseNormal         uint16 = 1000
	CloseProtocolError  uint16 = 1002
	ClosePolicy         uint16 = 1008
	CloseMessageTooBig  uint16 = 1009
	CloseInternalError  uint16 = 1011
	CloseNoStatusRecvd  uint16 = 1005
	CloseAbnormal       uint16 = 1006
)

// ProtocolError covers malformed HTTP, malformed WebSocket frames, and
// invalid upgrade requests. It never participates in retries: the
// caller turns it into a single HTTP error response or a WebSocket
// CLOSE with the appropriate code (spec §7).
type ProtocolError struct {
	cause error
	msg   string
}

func newProtocolError(msg string) *ProtocolError {
	return &ProtocolError{msg: msg, cause: errors.New(msg)}
}

func (e *ProtocolError) Error() string { return "protocol error: " + e.msg }
func (e *ProtocolError) Cause() error  { return e.cause }

// AuthError covers an unknown token, a rejected auth plugin, or an
// origin mismatch. Pre-upgrade it surfaces as HTTP 401/403; post-upgrade
// as CLOSE 1008 (spec §7).
type AuthError struct {
	cause      error
	msg        string
	HTTPStatus int
	Headers    map[string]string
}

func newAuthError(status int, msg string, headers map[string]string) *AuthError {
	return &AuthError{msg: msg, cause: errors.New(msg), HTTPStatus: status, Headers: headers}
}

func (e *AuthError) Error() string { return "auth error: " + e.msg }
func (e *AuthError) Cause() error  { return e.cause }

// InvalidOriginError is the OriginValidator-specific AuthError subtype
// named in spec §4.5, kept distinct from AuthError for diagnostics.
type InvalidOriginError struct {
	*AuthError
}

func newInvalidOriginError(origin string) *InvalidOriginError {
	return &InvalidOriginError{AuthError: newAuthError(403, fmt.Sprintf("origin not allowed: %q", origin), nil)}
}

// TargetError covers DNS failure, connect refused, mid-session target
// EOF, or TLS handshake failure against the target. Always CLOSE 1011
// with a short reason; never retried — a client reconnect is the retry
// mechanism (spec §7).
type TargetError struct {
	cause error
	msg   string
}

func newTargetError(cause error, msg string) *TargetError {
	return &TargetError{cause: errors.Wrap(cause, msg), msg: msg}
}

func (e *TargetError) Error() string { return "target error: " + e.msg }
func (e *TargetError) Cause() error  { return errors.Cause(e.cause) }

// TransportError covers a client socket reset, TLS error on the client
// side, or would-block saturation. The connection is terminated; no
// user-visible message is expected to reach the peer (spec §7).
type TransportError struct {
	cause error
}

func newTransportError(cause error) *TransportError {
	return &TransportError{cause: errors.WithStack(cause)}
}

func (e *TransportError) Error() string { return "transport error: " + errors.Cause(e.cause).Error() }
func (e *TransportError) Cause() error  { return errors.Cause(e.cause) }

// ConfigError covers a missing cert file, unparseable token source, or
// unknown plugin name. Fatal at startup, never per-connection (spec §7).
type ConfigError struct {
	cause error
	msg   string
}

func newConfigError(cause error, msg string) *ConfigError {
	return &ConfigError{cause: errors.Wrap(cause, msg), msg: msg}
}

func (e *ConfigError) Error() string { return "config error: " + e.msg }
func (e *ConfigError) Cause() error  { return errors.Cause(e.cause) }

package server

import (
	"bufio"
	"bytes"
	"crypto/sha1"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
)

// websocketGUID is the fixed GUID used to compute Sec-WebSocket-Accept,
// per https://datatracker.ietf.org/doc/html/rfc6455#section-1.3.
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// maxRequestHeaderBytes caps the HTTP request line + headers the
// upgrade parser will read before giving up with 400 (spec §4.3).
const maxRequestHeaderBytes = 8 * 1024

// UpgradeRequest captures everything C4 and the plugins need from the
// first HTTP request on a freshly accepted connection (spec §3).
type UpgradeRequest struct {
	Method  string
	Target  string // path + query, as sent on the request line
	Path    string
	Query   string
	Version string

	Header textproto.MIMEHeader

	Host                  string
	Upgrade               string
	Connection            string
	SecWebSocketKey       string
	SecWebSocketVersion   string
	SecWebSocketProtocol  []string // ordered, comma-split
	Origin                string
	Authorization         string
	Cookie                string
	SSLClientSDNCN        string // the request's Ssl-Client-S-Dn-Cn header, if any; the TLS connection state is not read
}

// sniffTLS peeks up to 1024 bytes to decide whether the connection
// looks like a TLS ClientHello (byte 0x16) or an SSLv2 ClientHello
// (byte 0x80), per spec §4.3 point 1. It never consumes bytes the
// caller hasn't asked to see: the caller's *bufio.Reader still holds
// everything that was peeked.
func sniffTLS(r *bufio.Reader) (looksLikeTLS bool, err error) {
	b, err := r.Peek(1)
	if err != nil {
		if err == io.EOF && len(b) == 0 {
			return false, nil
		}
		return false, err
	}
	return b[0] == 0x16 || b[0] == 0x80, nil
}

// Upgrader owns the TLS material and static web root needed to run the
// TLS-sniff → parse → classify → (upgrade | serve file) pipeline of
// C3 (spec §4.3).
type Upgrader struct {
	TLSConfig  *tls.Config
	TLSOnly    bool
	WebRoot    string
	OnlyUpgrade bool
	FileOnly    bool

	Token  TokenResolver
	Auth   AuthValidator
	Origin OriginValidator

	Log *Logger
}

// UpgradeOutcomeKind distinguishes the two terminal shapes Accept can
// produce: a live message stream, or an HTTP response the caller has
// already written and must now close the connection after.
type UpgradeOutcomeKind int

const (
	OutcomeUpgraded UpgradeOutcomeKind = iota
	OutcomeServedOrRejected
)

// UpgradeOutcome is the result of running C3 against one freshly
// accepted connection.
type UpgradeOutcome struct {
	Kind UpgradeOutcomeKind

	Conn    *Conn           // valid when Kind == OutcomeUpgraded
	Request *UpgradeRequest  // valid when Kind == OutcomeUpgraded
	Target  Target           // valid when Kind == OutcomeUpgraded and a TokenResolver was configured

	Err error // set when classification failed short of upgrade
}

// Accept runs the full C3 pipeline against raw, a freshly accepted
// connection. It never silently serves a file for a request whose
// Upgrade/Connection headers and key/version pass validation (spec §3
// invariant).
func (u *Upgrader) Accept(raw net.Conn) UpgradeOutcome {
	br := bufio.NewReaderSize(raw, 1024)

	conn := net.Conn(raw)
	if u.TLSConfig != nil {
		looksTLS, err := sniffTLS(br)
		if err != nil {
			raw.Close()
			return UpgradeOutcome{Kind: OutcomeServedOrRejected, Err: newTransportError(err)}
		}
		if looksTLS {
			tlsConn := tls.Server(&peekedConn{Conn: raw, pre: br}, u.TLSConfig)
			conn = tlsConn
			br = bufio.NewReaderSize(conn, 1024)
		} else if u.TLSOnly {
			closeWithReason(raw, "non-SSL connection received but disallowed")
			return UpgradeOutcome{Kind: OutcomeServedOrRejected, Err: newProtocolError("non-SSL connection received but disallowed")}
		}
	}

	req, err := readRequest(br)
	if err != nil {
		writeHTTPError(conn, 400, "Bad Request")
		conn.Close()
		return UpgradeOutcome{Kind: OutcomeServedOrRejected, Err: newProtocolError(err.Error())}
	}

	if req.Method != "GET" && req.Method != "HEAD" {
		writeHTTPError(conn, 405, "Method Not Allowed")
		conn.Close()
		return UpgradeOutcome{Kind: OutcomeServedOrRejected, Err: newProtocolError("method not allowed")}
	}

	if isUpgradeRequest(req) {
		return u.doUpgrade(conn, req)
	}

	if u.WebRoot != "" && !u.OnlyUpgrade {
		err := serveStaticFile(conn, req, u.WebRoot, u.FileOnly)
		return UpgradeOutcome{Kind: OutcomeServedOrRejected, Err: err}
	}

	writeHTTPError(conn, 405, "Method Not Allowed")
	conn.Close()
	return UpgradeOutcome{Kind: OutcomeServedOrRejected, Err: newProtocolError("not a websocket upgrade and no static root configured")}
}

func isUpgradeRequest(req *UpgradeRequest) bool {
	return headerContainsToken(req.Upgrade, "websocket") &&
		headerContainsToken(req.Connection, "upgrade") &&
		req.SecWebSocketVersion == "13"
}

func headerContainsToken(value, token string) bool {
	for _, part := range strings.Split(value, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}

func (u *Upgrader) doUpgrade(conn net.Conn, req *UpgradeRequest) UpgradeOutcome {
	if req.SecWebSocketKey == "" {
		writeHTTPError(conn, 400, "Bad Request")
		conn.Close()
		return UpgradeOutcome{Kind: OutcomeServedOrRejected, Err: newProtocolError("missing Sec-WebSocket-Key")}
	}

	// Validation order is token → origin → auth (spec §4.4, §9 open
	// question: preserved deliberately rather than left to vary).
	var target Target
	if u.Token != nil {
		t, ok := u.Token.Lookup(req.TokenFromQuery())
		if !ok {
			aerr := newAuthError(401, "ignored: no token match", nil)
			writeHTTPError(conn, aerr.HTTPStatus, aerr.Error())
			conn.Close()
			return UpgradeOutcome{Kind: OutcomeServedOrRejected, Err: aerr}
		}
		target = t
	}

	if u.Origin != nil {
		if oerr := u.Origin.ValidateOrigin(req.Origin); oerr != nil {
			writeHTTPError(conn, oerr.HTTPStatus, oerr.Error())
			conn.Close()
			return UpgradeOutcome{Kind: OutcomeServedOrRejected, Err: oerr}
		}
	}

	if u.Auth != nil {
		httpHeader := make(http.Header, len(req.Header))
		for k, v := range req.Header {
			httpHeader[k] = v
		}
		if aerr := u.Auth.Authenticate(httpHeader, target.Host, target.Port); aerr != nil {
			writeHTTPErrorWithHeaders(conn, aerr.HTTPStatus, aerr.Error(), aerr.Headers)
			conn.Close()
			return UpgradeOutcome{Kind: OutcomeServedOrRejected, Err: aerr}
		}
	}

	accept := acceptKey(req.SecWebSocketKey)
	subproto := selectSubprotocol(req.SecWebSocketProtocol)

	var resp bytes.Buffer
	resp.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	resp.WriteString("Server: WebSockify\r\n")
	resp.WriteString("Upgrade: websocket\r\n")
	resp.WriteString("Connection: Upgrade\r\n")
	resp.WriteString("Sec-WebSocket-Accept: " + accept + "\r\n")
	if subproto != "" {
		resp.WriteString("Sec-WebSocket-Protocol: " + subproto + "\r\n")
	}
	resp.WriteString("\r\n")

	if _, err := conn.Write(resp.Bytes()); err != nil {
		conn.Close()
		return UpgradeOutcome{Kind: OutcomeServedOrRejected, Err: newTransportError(err)}
	}

	return UpgradeOutcome{
		Kind:    OutcomeUpgraded,
		Conn:    NewConn(conn, 0, u.Log),
		Request: req,
		Target:  target,
	}
}

// selectSubprotocol implements spec §4.3's negotiation: pick "binary"
// if offered, else no subprotocol.
func selectSubprotocol(offered []string) string {
	for _, p := range offered {
		if strings.TrimSpace(p) == "binary" {
			return "binary"
		}
	}
	return ""
}

// acceptKey computes Sec-WebSocket-Accept = base64(SHA1(key + GUID)).
func acceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// readRequest parses the request line and headers up to CRLFCRLF,
// never reading past maxRequestHeaderBytes (spec §4.3 point 2, and
// REDESIGN FLAGS §9: an explicit state machine, not net/http's reader).
func readRequest(br *bufio.Reader) (*UpgradeRequest, error) {
	lr := &io.LimitedReader{R: br, N: maxRequestHeaderBytes}
	tr := textproto.NewReader(bufio.NewReader(lr))

	line, err := tr.ReadLine()
	if err != nil {
		return nil, fmt.Errorf("failed to read request line: %w", err)
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed request line %q", line)
	}
	method, target, version := parts[0], parts[1], parts[2]
	if !strings.HasPrefix(version, "HTTP/") {
		return nil, fmt.Errorf("malformed HTTP version %q", version)
	}

	header, err := tr.ReadMIMEHeader()
	if err != nil {
		return nil, fmt.Errorf("failed to read headers: %w", err)
	}

	path, query := target, ""
	if idx := strings.IndexByte(target, '?'); idx >= 0 {
		path, query = target[:idx], target[idx+1:]
	}

	req := &UpgradeRequest{
		Method:     method,
		Target:     target,
		Path:       path,
		Query:      query,
		Version:    version,
		Header:     header,
		Host:       header.Get("Host"),
		Upgrade:    header.Get("Upgrade"),
		Connection: header.Get("Connection"),
		SecWebSocketKey:     header.Get("Sec-Websocket-Key"),
		SecWebSocketVersion: header.Get("Sec-Websocket-Version"),
		Origin:              header.Get("Origin"),
		Authorization:       header.Get("Authorization"),
		Cookie:              header.Get("Cookie"),
		SSLClientSDNCN:      header.Get("Ssl-Client-S-Dn-Cn"),
	}
	if proto := header.Get("Sec-Websocket-Protocol"); proto != "" {
		for _, p := range strings.Split(proto, ",") {
			req.SecWebSocketProtocol = append(req.SecWebSocketProtocol, strings.TrimSpace(p))
		}
	}
	return req, nil
}

// TokenFromQuery extracts the ?token=... value from the request's query
// string (spec §6: "HTTP GET /<any path>[?token=<token>]").
func (r *UpgradeRequest) TokenFromQuery() string {
	for _, kv := range strings.Split(r.Query, "&") {
		if k, v, ok := strings.Cut(kv, "="); ok && k == "token" {
			return v
		}
	}
	return ""
}

func writeHTTPError(w io.Writer, status int, reason string) {
	writeHTTPErrorWithHeaders(w, status, reason, nil)
}

// writeHTTPErrorWithHeaders is writeHTTPError plus any extra headers an
// AuthError wants on the response (e.g. WWW-Authenticate), per spec §4.5.
func writeHTTPErrorWithHeaders(w io.Writer, status int, reason string, extra map[string]string) {
	var b bytes.Buffer
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\nServer: WebSockify\r\n", status, strconv.Itoa(status))
	for k, v := range extra {
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	fmt.Fprintf(&b, "Connection: close\r\nContent-Length: %d\r\n\r\n%s", len(reason), reason)
	w.Write(b.Bytes())
}

func closeWithReason(conn net.Conn, reason string) {
	writeHTTPError(conn, 400, reason)
	conn.Close()
}

// peekedConn re-exposes bytes already buffered in a *bufio.Reader ahead
// of the raw connection, so a TLS handshake (or anything else reading
// from the net.Conn directly) sees the same byte stream the sniff peek
// saw.
type peekedConn struct {
	net.Conn
	pre *bufio.Reader
}

func (p *peekedConn) Read(b []byte) (int, error) {
	return p.pre.Read(b)
}

package server

import (
	"fmt"
	"io"
	"mime"
	"net"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// serveStaticFile answers a plain (non-upgrade) GET/HEAD with a file
// under webRoot, per spec §4.3 point 3: "serve the file (directory
// traversal forbidden; optional directory listing suppressed when
// file_only)". Directory listings are never produced: a request that
// resolves to a directory gets 403 whether or not fileOnly is set. MIME
// dispatch beyond a small built-in table is out of
// scope (spec §1: "static-file MIME dispatch" is an external
// collaborator's job in the real harness); this is the minimal
// reference behavior needed so C3 never leaves a plain HTTP request
// unanswered.
func serveStaticFile(conn net.Conn, req *UpgradeRequest, webRoot string, fileOnly bool) error {
	defer conn.Close()

	clean := path.Clean("/" + req.Path)
	if clean == "/" {
		clean = "/index.html"
	}
	full := filepath.Join(webRoot, filepath.FromSlash(clean))

	rel, err := filepath.Rel(webRoot, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		writeHTTPError(conn, 403, "Forbidden")
		return newProtocolError("directory traversal attempt: " + req.Path)
	}

	f, err := os.Open(full)
	if err != nil {
		writeHTTPError(conn, 404, "Not Found")
		return newProtocolError("static file not found: " + req.Path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeHTTPError(conn, 500, "Internal Server Error")
		return newProtocolError("stat failed: " + err.Error())
	}
	if info.IsDir() {
		if fileOnly {
			writeHTTPError(conn, 403, "Forbidden")
			return newProtocolError("directory listing disabled")
		}
		writeHTTPError(conn, 403, "Forbidden")
		return newProtocolError("directory listing not implemented")
	}

	ctype := mime.TypeByExtension(filepath.Ext(full))
	if ctype == "" {
		ctype = "application/octet-stream"
	}

	fmt.Fprintf(conn, "HTTP/1.1 200 OK\r\nServer: WebSockify\r\nContent-Type: %s\r\nContent-Length: %d\r\nConnection: close\r\n\r\n",
		ctype, info.Size())
	if req.Method == "HEAD" {
		return nil
	}
	_, err = io.Copy(conn, f)
	return err
}

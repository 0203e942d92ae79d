// Command websockify bridges a WebSocket listener to a TCP or
// UNIX-domain target, resolved per connection via a configurable
// token plugin.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"

	"github.com/novnc/websockify-go/server"
)

func main() {
	var (
		listenAddr  = flag.String("listen", ":6080", "address to listen on")
		certFile    = flag.String("cert", "", "TLS certificate file (PEM)")
		keyFile     = flag.String("key", "", "TLS key file (PEM)")
		tlsOnly     = flag.Bool("tls-only", false, "reject plaintext connections")
		webRoot     = flag.String("web", "", "directory to serve static files from")
		onlyUpgrade = flag.Bool("only-upgrade", false, "never serve static files, only WebSocket upgrades")
		tokenFile   = flag.String("token-file", "", "token file or directory to resolve targets from")
		htpasswd    = flag.String("htpasswd", "", "htpasswd file for Basic auth")
		recordDir   = flag.String("record", "", "directory to write session recordings to")
	)
	flag.Parse()

	log := server.NewLogger(os.Stderr)

	opts := &server.Options{
		CertFile:    *certFile,
		KeyFile:     *keyFile,
		TLSOnly:     *tlsOnly,
		WebRoot:     *webRoot,
		OnlyUpgrade: *onlyUpgrade,
		RecordDir:   *recordDir,
	}

	if *tokenFile != "" {
		resolver, err := server.NewTokenFileResolver(*tokenFile, log)
		if err != nil {
			log.Errorf("failed to load token file: %v", err)
			os.Exit(1)
		}
		opts.Token = resolver
	}
	if *htpasswd != "" {
		auth, err := server.NewHtpasswdAuth(*htpasswd, "Websockify")
		if err != nil {
			log.Errorf("failed to load htpasswd file: %v", err)
			os.Exit(1)
		}
		opts.Auth = auth
	}

	if err := opts.Validate(); err != nil {
		log.Errorf("invalid configuration: %v", err)
		os.Exit(1)
	}

	tlsConfig, err := opts.TLSConfig()
	if err != nil {
		log.Errorf("failed to load TLS configuration: %v", err)
		os.Exit(1)
	}

	upgrader := &server.Upgrader{
		TLSConfig:   tlsConfig,
		TLSOnly:     opts.TLSOnly,
		WebRoot:     opts.WebRoot,
		OnlyUpgrade: opts.OnlyUpgrade,
		Token:       opts.Token,
		Auth:        opts.Auth,
		Origin:      opts.Origin,
		Log:         log,
	}

	ln, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		log.Errorf("failed to listen on %s: %v", *listenAddr, err)
		os.Exit(1)
	}
	defer ln.Close()
	log.Noticef("listening on %s", *listenAddr)

	for {
		raw, err := ln.Accept()
		if err != nil {
			log.Warnf("accept failed: %v", err)
			continue
		}
		if err := opts.TuneTCP(raw); err != nil {
			log.Warnf("failed to tune TCP options: %v", err)
		}
		go handleConn(upgrader, opts, log, raw)
	}
}

func handleConn(upgrader *server.Upgrader, opts *server.Options, log *server.Logger, raw net.Conn) {
	outcome := upgrader.Accept(raw)
	if outcome.Kind != server.OutcomeUpgraded {
		if outcome.Err != nil {
			log.Debugf("connection not upgraded: %v", outcome.Err)
		}
		return
	}

	b := server.NewBroker(opts, log)
	if err := b.Run(outcome.Conn, outcome.Target); err != nil {
		log.Warnf("%s", fmt.Sprintf("broker for %s ended: %v", outcome.Request.Target, err))
	}
}

package server

import (
	"crypto/tls"
	"os"
	"time"
)

// Options configures a bridge instance. Listener/daemon-level concerns
// (which address to bind, socket activation, forking) are the
// out-of-scope harness's job (spec §1); Options only covers what C3/C4
// themselves need (spec §7a).
type Options struct {
	CertFile string
	KeyFile  string
	TLSOnly  bool

	WebRoot     string
	OnlyUpgrade bool
	FileOnly    bool

	// MaxMessageSize is not read by Upgrader or Broker: every upgraded
	// Conn is built with NewConn's 2 MiB default.
	MaxMessageSize int64

	ShutdownFlushTimeout time.Duration // 0 means the spec default of 1s

	// TCPKeepAliveDisabled turns off SO_KEEPALIVE tuning; it defaults to
	// false so a zero-valued Options keeps the spec §5 default of
	// "SO_KEEPALIVE on by default" without callers having to opt in.
	TCPKeepAliveDisabled bool
	TCPKeepIdle          time.Duration
	TCPKeepInterval      time.Duration
	TCPKeepCount         int

	Token       TokenResolver
	Auth        AuthValidator
	Origin      OriginValidator
	Interceptor TrafficInterceptor

	RecordDir string

	// TargetReadRate caps the target→client byte rate via a token
	// bucket (spec §4.4 point 6: per-direction backpressure); 0 means
	// unlimited.
	TargetReadRate  float64
	TargetReadBurst int
}

// Validate mirrors the teacher's validateWebsocketOptions: it is run
// once at startup and returns a *ConfigError describing the first
// problem found (spec §7: ConfigError is "fatal at startup, not
// per-connection").
func (o *Options) Validate() error {
	if o.TLSOnly && (o.CertFile == "" || o.KeyFile == "") {
		return newConfigError(nil, "tls_only requires cert_file and key_file")
	}
	if o.CertFile != "" {
		if _, err := os.Stat(o.CertFile); err != nil {
			return newConfigError(err, "cert_file not found")
		}
	}
	if o.KeyFile != "" {
		if _, err := os.Stat(o.KeyFile); err != nil {
			return newConfigError(err, "key_file not found")
		}
	}
	return nil
}

// TLSConfig loads the configured cert/key pair, or nil if TLS isn't
// configured at all.
func (o *Options) TLSConfig() (*tls.Config, error) {
	if o.CertFile == "" || o.KeyFile == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
	if err != nil {
		return nil, newConfigError(err, "failed to load TLS certificate")
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

// defaultKeepAlive fills in the spec §5 defaults ("SO_KEEPALIVE on by
// default") for any zero-valued tuning knob.
func (o *Options) defaultKeepAlive() (idle, interval time.Duration, count int) {
	idle, interval, count = o.TCPKeepIdle, o.TCPKeepInterval, o.TCPKeepCount
	if idle <= 0 {
		idle = 2 * time.Minute
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if count <= 0 {
		count = 4
	}
	return
}

//go:build windows

package server

import "net"

// TuneTCP is a no-op on windows: TCP_KEEPCNT/IDLE/INTVL aren't exposed
// the same way, and this bridge targets unix-like deployment per the
// teacher's own listener assumptions.
func (o *Options) TuneTCP(conn net.Conn) error {
	return nil
}

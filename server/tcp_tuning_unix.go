//go:build !windows

package server

import (
	"net"

	"golang.org/x/sys/unix"
)

// TuneTCP applies SO_KEEPALIVE / TCP_KEEPCNT / TCP_KEEPIDLE /
// TCP_KEEPINTVL to an accepted connection, per spec §5. It is a no-op
// (not an error) for non-TCP connections (e.g. already-upgraded UNIX
// sockets used in tests).
func (o *Options) TuneTCP(conn net.Conn) error {
	tcp, ok := conn.(*net.TCPConn)
	if !ok || o.TCPKeepAliveDisabled {
		return nil
	}
	if err := tcp.SetKeepAlive(true); err != nil {
		return newTransportError(err)
	}

	idle, interval, count := o.defaultKeepAlive()

	raw, err := tcp.SyscallConn()
	if err != nil {
		return newTransportError(err)
	}
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, int(idle.Seconds())); e != nil {
			sockErr = e
			return
		}
		if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, int(interval.Seconds())); e != nil {
			sockErr = e
			return
		}
		if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPCNT, count); e != nil {
			sockErr = e
			return
		}
	})
	if ctrlErr != nil {
		return newTransportError(ctrlErr)
	}
	if sockErr != nil {
		return newTransportError(sockErr)
	}
	return nil
}

package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// loopback is the fixed destination address every backend dial connects
// to: this relay never routes to anything but 127.0.0.1.
var loopback = net.IPv4(127, 0, 0, 1)

// loopbackHost is loopback expressed as a Host, used only for logging the
// backend endpoint a Session dialed.
var loopbackHost = Host{127, 0, 0, 1}

// dialBackend opens a TCP4 socket, applies the transparent-source socket
// options, binds it to the visitor's original (src_ip, src_port), and
// connects it to 127.0.0.1:dst_port. The sequence - options, then
// bind-before-connect - is what makes the backend's accept() observe the
// original 4-tuple instead of this relay's own address.
//
// mark is the fwmark stamped on the socket (Config.mark), consumed by an
// operator-installed ip-rule that routes marked packets via the
// transparent loopback path.
func dialBackend(ctx context.Context, header ProxyHeader, mark int) (*net.TCPConn, error) {
	dialer := net.Dialer{
		Control: func(_, _ string, c syscall.RawConn) error {
			return dialControl(c, mark)
		},
		LocalAddr: &net.TCPAddr{
			IP:   header.SrcIP.IP(),
			Port: int(header.SrcPort),
		},
	}

	dst := net.TCPAddr{IP: loopback, Port: int(header.DstPort)}
	conn, err := dialer.DialContext(ctx, "tcp4", dst.String())
	if err != nil {
		return nil, fmt.Errorf("relay: dialing backend %s: %w", dst.String(), err)
	}
	return conn.(*net.TCPConn), nil
}

// dialControl is the Control func a backend dial applies to its socket.
// Overridden in tests that exercise bind-before-connect on a host without
// CAP_NET_ADMIN: IP_TRANSPARENT is what lets the bind below target a
// non-local address, but 127.0.0.0/8 is local to every loopback interface
// regardless, so tests can bind an arbitrary 127.x.x.x source without it.
var dialControl = setTransparentOptions

// setTransparentOptions applies the four socket options the spoofed-source
// dial depends on: fail-fast SYN retries, IP_TRANSPARENT so bind() may
// target a non-local address, SO_REUSEADDR since the bind-before-connect
// pattern otherwise collides on repeated loopback destinations, and the
// routing fwmark.
func setTransparentOptions(c syscall.RawConn, mark int) error {
	var setErr error
	err := c.Control(func(fd uintptr) {
		if setErr = setSockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_SYNCNT, 2); setErr != nil {
			return
		}
		if setErr = setSockoptInt(fd, unix.IPPROTO_IP, unix.IP_TRANSPARENT, 1); setErr != nil {
			if errors.Is(setErr, unix.EPERM) {
				setErr = fmt.Errorf("%w (need to be root)", setErr)
			}
			return
		}
		if setErr = setSockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); setErr != nil {
			return
		}
		setErr = setSockoptInt(fd, unix.SOL_SOCKET, unix.SO_MARK, mark)
	})
	if err != nil {
		return err
	}
	return setErr
}

func setSockoptInt(fd uintptr, level, opt, value int) error {
	if err := unix.SetsockoptInt(int(fd), level, opt, value); err != nil {
		return fmt.Errorf("relay: setsockopt(level=%d, opt=%d, value=%d): %w", level, opt, value, err)
	}
	return nil
}

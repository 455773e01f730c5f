package relay

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Host is a 32-bit IPv4 address. Keeping it as a fixed-size value rather
// than a net.IP slice means a ProxyHeader can be copied without an extra
// allocation.
type Host [4]byte

// ParseHost parses a dotted-quad IPv4 address. IPv6 and any other textual
// form is rejected, mirroring the TCP4-only scope of the wire protocol.
func ParseHost(s string) (Host, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return Host{}, fmt.Errorf("%q is not a valid IP", s)
	}
	v4 := ip.To4()
	if v4 == nil || strings.Contains(s, ":") {
		return Host{}, fmt.Errorf("%q is not an IPv4 address", s)
	}
	var h Host
	copy(h[:], v4)
	return h, nil
}

func (h Host) String() string {
	return net.IP(h[:]).String()
}

// IP returns the net.IP view of this host, for use with the standard
// library's networking APIs.
func (h Host) IP() net.IP {
	return net.IPv4(h[0], h[1], h[2], h[3])
}

// Endpoint is an IPv4 host/port pair.
type Endpoint struct {
	Host Host
	Port uint16
}

// ParseEndpoint parses "ip:port", the form used by the listen= config key.
func ParseEndpoint(s string) (Endpoint, error) {
	hostPart, portPart, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%q is not an IP/port string: %w", s, err)
	}
	host, err := ParseHost(hostPart)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%q is not an IP/port string: %w", s, err)
	}
	port, err := parsePort(portPart)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%q is not an IP/port string: %w", s, err)
	}
	return Endpoint{Host: host, Port: port}, nil
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("%q is not a valid port: %w", s, err)
	}
	return uint16(n), nil
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host.String(), strconv.Itoa(int(e.Port)))
}

// TCPAddr returns the *net.TCPAddr view of this endpoint.
func (e Endpoint) TCPAddr() *net.TCPAddr {
	return &net.TCPAddr{IP: e.Host.IP(), Port: int(e.Port)}
}

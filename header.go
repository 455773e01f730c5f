package relay

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// headerBufSize is the maximum possible length of a TCP4 PROXY v1 line:
// "PROXY TCP4 <ipv4> <ipv4> <port> <port>\r\n".
const headerBufSize = 56

// headerDeadline bounds how long a peer may take to finish sending its
// PROXY header before the Session gives up on it. A var, not a const, so
// tests can shrink it rather than wait out the real deadline.
var headerDeadline = 60 * time.Second

var crlf = []byte("\r\n")

// ProxyHeader holds the four address fields carried by a PROXY protocol v1
// TCP4 line. DstIP is parsed but never consulted: the backend this relay
// dials is always loopback.
type ProxyHeader struct {
	SrcIP   Host
	SrcPort uint16
	DstIP   Host
	DstPort uint16
}

// ReadProxyHeader reads a PROXY protocol v1 TCP4 header from conn and
// returns it alongside any bytes already pulled off the wire past the
// terminating CRLF. Those residual bytes are a slice into the same backing
// array the header itself was parsed from, so callers get them without a
// copy, but must forward them to the backend before any further read from
// conn.
//
// The read is bounded by headerDeadline; conn's read deadline is reset to
// none before returning on either path.
func ReadProxyHeader(conn net.Conn) (ProxyHeader, []byte, error) {
	if err := conn.SetReadDeadline(time.Now().Add(headerDeadline)); err != nil {
		return ProxyHeader{}, nil, fmt.Errorf("relay: setting header read deadline: %w", err)
	}
	defer conn.SetReadDeadline(time.Time{})

	var buf [headerBufSize]byte
	n := 0
	end := -1

	for n < len(buf) {
		r, err := conn.Read(buf[n:])
		n += r
		if idx := bytes.Index(buf[:n], crlf); idx >= 0 {
			end = idx
			break
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return ProxyHeader{}, nil, fmt.Errorf("relay: unexpected EOF reading PROXY header: %w", err)
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return ProxyHeader{}, nil, ErrHeaderTimeout
			}
			return ProxyHeader{}, nil, fmt.Errorf("relay: reading PROXY header: %w", err)
		}
	}
	if end < 0 {
		return ProxyHeader{}, nil, ErrHeaderTooLong
	}

	header, err := parseHeaderLine(buf[:end])
	if err != nil {
		return ProxyHeader{}, nil, err
	}
	residual := buf[end+len(crlf) : n]
	return header, residual, nil
}

// parseHeaderLine tokenizes a PROXY header line (without its CRLF) and
// validates the fixed six-token TCP4 grammar.
func parseHeaderLine(line []byte) (ProxyHeader, error) {
	tokens := strings.Split(string(line), " ")
	if len(tokens) != 6 || tokens[0] != "PROXY" {
		return ProxyHeader{}, ErrNotProxyHeader
	}
	if tokens[1] != "TCP4" {
		return ProxyHeader{}, ErrUnsupportedProtocol
	}

	srcIP, err := ParseHost(tokens[2])
	if err != nil {
		return ProxyHeader{}, fmt.Errorf("relay: invalid source IP %q: %w", tokens[2], err)
	}
	dstIP, err := ParseHost(tokens[3])
	if err != nil {
		return ProxyHeader{}, fmt.Errorf("relay: invalid destination IP %q: %w", tokens[3], err)
	}
	srcPort, err := parsePort(tokens[4])
	if err != nil {
		return ProxyHeader{}, fmt.Errorf("relay: invalid source port %q: %w", tokens[4], err)
	}
	dstPort, err := parsePort(tokens[5])
	if err != nil {
		return ProxyHeader{}, fmt.Errorf("relay: invalid destination port %q: %w", tokens[5], err)
	}

	return ProxyHeader{
		SrcIP:   srcIP,
		SrcPort: srcPort,
		DstIP:   dstIP,
		DstPort: dstPort,
	}, nil
}

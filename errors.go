package relay

import (
	goerrors "codeberg.org/gruf/go-errors"
)

// Sentinel errors a Session or Server can terminate with. Callers use the
// standard library's errors.Is to classify a failure, e.g. to decide
// whether a Serve return means a clean shutdown or a real failure.
var (
	// ErrServerClosed is returned by Server.Serve once shutdown has been
	// initiated and the accept loop has wound down cleanly.
	ErrServerClosed = goerrors.New("relay: server closed")

	// ErrHeaderTooLong means the 56-byte scratch buffer filled without a
	// CRLF ever appearing.
	ErrHeaderTooLong = goerrors.New("relay: header too long / malformed")

	// ErrHeaderTimeout means the 60s deadline elapsed before a full
	// header was read.
	ErrHeaderTimeout = goerrors.New("relay: timed out waiting for PROXY header")

	// ErrNotProxyHeader means the line did not split into exactly six
	// tokens, or the first token wasn't the literal PROXY.
	ErrNotProxyHeader = goerrors.New("relay: not a PROXY protocol header")

	// ErrUnsupportedProtocol means the header named a protocol tag other
	// than TCP4 (TCP6, UNKNOWN, ...).
	ErrUnsupportedProtocol = goerrors.New("relay: only TCP4 is supported")
)

package relay

import (
	"errors"
	"io"
	"net"
	"sync"

	"codeberg.org/gruf/go-kv"
)

// spliceBufferSize is the scratch buffer size each one-way copy task owns.
const spliceBufferSize = 8 * 1024

// splice runs both directions of the byte copy between peer and backend
// and blocks until both have finished. This is the point at which the
// Session's two sockets are considered released.
func splice(peer, backend *net.TCPConn, log *Logger, sessionID uint64, stats *Stats) {
	var wg sync.WaitGroup
	wg.Add(2)
	go copyDirection(backend, peer, &wg, log, sessionID, "peer->backend", stats.addToServer)
	go copyDirection(peer, backend, &wg, log, sessionID, "backend->peer", stats.addToPeer)
	wg.Wait()
}

// copyDirection copies from src to dst until src reaches EOF or a hard
// error occurs, following the termination rules of the splice engine:
// clean EOF half-closes the sink's write side so the reverse direction
// can keep draining; a read error other than EOF or cancellation fully
// closes the sink; a write error half-closes the source's read side;
// cancellation (the conn was already closed by the other direction, or by
// shutdown) exits silently with no further shutdown attempt.
func copyDirection(dst, src *net.TCPConn, wg *sync.WaitGroup, log *Logger, sessionID uint64, dir string, account func(int64)) {
	defer wg.Done()

	buf := make([]byte, spliceBufferSize)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			account(int64(n))
			if _, werr := dst.Write(buf[:n]); werr != nil {
				if !errors.Is(werr, net.ErrClosed) {
					log.Error(kv.Fields{
						{K: "session", V: sessionID},
						{K: "dir", V: dir},
						{K: "error", V: werr},
						{K: "msg", V: "write error"},
					}...)
					src.CloseRead()
				}
				return
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				dst.CloseWrite()
				return
			}
			if errors.Is(rerr, net.ErrClosed) {
				return
			}
			log.Error(kv.Fields{
				{K: "session", V: sessionID},
				{K: "dir", V: dir},
				{K: "error", V: rerr},
				{K: "msg", V: "read error"},
			}...)
			dst.Close()
			return
		}
	}
}

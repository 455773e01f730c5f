package relay

import (
	"context"
	"net"
	"sync/atomic"

	"codeberg.org/gruf/go-kv"
)

// nextSessionID and liveSessions are the only pieces of state shared
// across Sessions without per-connection locking - the atomic next-id
// counter and live-count bookkeeping the design calls out as the sole
// cross-goroutine mutable state besides the shutdown flag.
var (
	nextSessionID uint64
	liveSessions  int64
)

// TotalSessions returns how many Sessions are currently alive (header
// being read, backend being dialed, or splicing). Graceful shutdown polls
// this indirectly by waiting on the Server's WaitGroup; it is also
// exposed directly so callers and tests can observe it.
func TotalSessions() int64 {
	return atomic.LoadInt64(&liveSessions)
}

// Session is one accepted connection's worth of state: a unique,
// monotonically increasing id and ownership of the peer socket while the
// PROXY header is read, the backend is dialed, and the two splice
// directions run to completion.
type Session struct {
	id   uint64
	log  *Logger
	peer *net.TCPConn
}

func newSession(peer *net.TCPConn, log *Logger) *Session {
	id := atomic.AddUint64(&nextSessionID, 1)
	total := atomic.AddInt64(&liveSessions, 1)
	log.Debug(kv.Fields{
		{K: "session", V: id},
		{K: "total", V: total},
		{K: "msg", V: "created"},
	}...)
	return &Session{id: id, log: log, peer: peer}
}

func (s *Session) release() {
	remaining := atomic.AddInt64(&liveSessions, -1)
	s.log.Debug(kv.Fields{
		{K: "session", V: s.id},
		{K: "total", V: remaining},
		{K: "msg", V: "released"},
	}...)
}

// ID returns this Session's unique, monotonically increasing identifier.
func (s *Session) ID() uint64 {
	return s.id
}

// Serve drives the Session's full lifecycle: CREATED -> HEADER_READING ->
// DIALING -> SPLICING -> TERMINATED. Any failure in header reading or
// dialing terminates the Session immediately without affecting the
// acceptor or any other Session; mark is the fwmark applied to the
// backend socket (Config.mark) and stats accumulates byte counters.
func (s *Session) Serve(ctx context.Context, mark int, stats *Stats) {
	defer s.release()
	defer s.peer.Close()

	s.log.Info(kv.Fields{
		{K: "session", V: s.id},
		{K: "remote", V: s.peer.RemoteAddr()},
		{K: "msg", V: "accepted"},
	}...)

	header, residual, err := ReadProxyHeader(s.peer)
	if err != nil {
		s.log.Error(kv.Fields{
			{K: "session", V: s.id},
			{K: "error", V: err},
			{K: "msg", V: "cannot receive proxy header"},
		}...)
		return
	}

	backend, err := dialBackend(ctx, header, mark)
	if err != nil {
		s.log.Error(kv.Fields{
			{K: "session", V: s.id},
			{K: "error", V: err},
			{K: "msg", V: "cannot dial backend"},
		}...)
		return
	}
	defer backend.Close()

	s.log.Info(kv.Fields{
		{K: "session", V: s.id},
		{K: "src", V: Endpoint{Host: header.SrcIP, Port: header.SrcPort}},
		{K: "dst", V: Endpoint{Host: loopbackHost, Port: header.DstPort}},
		{K: "msg", V: "dialed backend"},
	}...)

	if len(residual) > 0 {
		if _, err := backend.Write(residual); err != nil {
			s.log.Error(kv.Fields{
				{K: "session", V: s.id},
				{K: "error", V: err},
				{K: "msg", V: "cannot forward buffered payload"},
			}...)
			return
		}
	}

	splice(s.peer, backend, s.log, s.id, stats)
}

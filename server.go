package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"codeberg.org/gruf/go-kv"
	"golang.org/x/sys/unix"
)

// Config is the relay's immutable, validated configuration: the accept
// endpoint, the fwmark every backend socket is stamped with, and the
// routing table identifier the operator's ip-rule is expected to
// reference. Table is loaded and carried but never applied by the relay
// itself; the operator's own routing configuration is what consumes it.
type Config struct {
	Listen Endpoint
	Mark   int
	Table  int
}

// Server owns the listening socket and the set of currently-running
// Sessions. Its zero value is not usable; build one with NewServer.
type Server struct {
	cfg   Config
	log   *Logger
	stats *Stats

	ln     *net.TCPListener
	ready  chan struct{} // closed once ln is bound
	wg     sync.WaitGroup
	closed int32 // atomic bool, set once Shutdown has run
}

// NewServer returns a Server ready to Serve. log may be nil, meaning
// logging is disabled.
func NewServer(cfg Config, log *Logger) *Server {
	return &Server{
		cfg:   cfg,
		log:   log,
		stats: NewStats(log),
		ready: make(chan struct{}),
	}
}

// Addr blocks until Serve has bound its listening socket, then returns its
// address. Mainly useful for tests that bind to port 0 and need to learn
// which port the kernel actually picked.
func (srv *Server) Addr() net.Addr {
	<-srv.ready
	return srv.ln.Addr()
}

// Serve binds cfg.Listen, starts the stats timer, and runs the accept
// loop: each accepted connection is handed to a new Session running in
// its own goroutine, so the next Accept is never blocked behind
// per-session work. Serve blocks until shutdown has been requested and
// every spawned Session has finished, then returns ErrServerClosed.
func (srv *Server) Serve(ctx context.Context) error {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var setErr error
			err := c.Control(func(fd uintptr) {
				setErr = setSockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return setErr
		},
	}

	addr := srv.cfg.Listen.String()
	ln, err := lc.Listen(ctx, "tcp4", addr)
	if err != nil {
		return fmt.Errorf("relay: listen %s: %w", addr, err)
	}
	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		ln.Close()
		return fmt.Errorf("relay: listener for %s was not a TCP listener", addr)
	}
	srv.ln = tcpLn
	close(srv.ready)

	srv.log.Info(kv.Fields{{K: "listen", V: addr}, {K: "msg", V: "listening"}}...)

	statsCtx, stopStats := context.WithCancel(ctx)
	defer stopStats()
	go srv.stats.Run(statsCtx)

	for {
		conn, err := srv.ln.AcceptTCP()
		if err != nil {
			if atomic.LoadInt32(&srv.closed) == 1 || errors.Is(err, net.ErrClosed) {
				break
			}
			srv.log.Error(kv.Fields{{K: "error", V: err}, {K: "msg", V: "accept error"}}...)
			continue
		}

		srv.wg.Add(1)
		go func() {
			defer srv.wg.Done()
			// A panic inside one Session ends only that Session.
			defer func() {
				if r := recover(); r != nil {
					srv.log.Error(kv.Fields{{K: "panic", V: r}, {K: "msg", V: "session panicked"}}...)
				}
			}()
			session := newSession(conn, srv.log)
			session.Serve(ctx, srv.cfg.Mark, srv.stats)
		}()
	}

	srv.wg.Wait()
	return ErrServerClosed
}

// Shutdown marks the server as shutting down and closes the listening
// socket, cancelling the in-flight Accept. Sessions already running are
// left untouched and continue until their splices drain naturally;
// Shutdown itself does not block on that - callers that need to wait
// should block on Serve's return instead. Calling Shutdown more than once
// is a no-op.
func (srv *Server) Shutdown() {
	if !atomic.CompareAndSwapInt32(&srv.closed, 0, 1) {
		return
	}
	if total := TotalSessions(); total > 0 {
		srv.log.Info(kv.Fields{{K: "active_sessions", V: total}, {K: "msg", V: "draining before shutdown"}}...)
	}
	if srv.ln != nil {
		srv.ln.Close()
	}
}

// RunUntilSignal runs Serve in the background and watches for SIGTERM; on
// receipt it logs the signal, calls Shutdown, and waits for Serve to
// drain and return.
func (srv *Server) RunUntilSignal(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx) }()

	select {
	case sig := <-sigCh:
		srv.log.Info(kv.Fields{{K: "signal", V: sig.String()}, {K: "msg", V: "received signal"}}...)
		srv.Shutdown()
		return <-errCh
	case err := <-errCh:
		return err
	}
}

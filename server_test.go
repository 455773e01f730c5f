package relay

import (
	"context"
	"io"
	"net"
	"syscall"
	"testing"
	"time"
)

// withLoopbackDialControl swaps dialControl for the duration of a test so a
// backend dial's bind-before-connect can be exercised without
// CAP_NET_ADMIN: it skips IP_TRANSPARENT/SO_MARK/TCP_SYNCNT entirely, which
// is safe here because every spoofed source address these tests use is
// still within 127.0.0.0/8, already local to the loopback interface.
func withLoopbackDialControl(t *testing.T) {
	t.Helper()
	old := dialControl
	dialControl = func(syscall.RawConn, int) error { return nil }
	t.Cleanup(func() { dialControl = old })
}

func mustListenTCP(t *testing.T) *net.TCPListener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return ln.(*net.TCPListener)
}

func TestServerEndToEndSpoofsSourceAddress(t *testing.T) {
	withLoopbackDialControl(t)

	backendLn := mustListenTCP(t)
	defer backendLn.Close()
	_, backendPortStr, _ := net.SplitHostPort(backendLn.Addr().String())

	backendConnCh := make(chan net.Conn, 1)
	go func() {
		c, err := backendLn.Accept()
		if err != nil {
			backendConnCh <- nil
			return
		}
		backendConnCh <- c
	}()

	cfg := Config{Listen: Endpoint{Host: Host{127, 0, 0, 1}, Port: 0}, Mark: 7, Table: 0}
	srv := NewServer(cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx) }()

	frontAddr := srv.Addr().String()
	frontConn, err := net.Dial("tcp", frontAddr)
	if err != nil {
		t.Fatalf("dial front: %v", err)
	}
	defer frontConn.Close()

	header := "PROXY TCP4 127.0.0.9 127.0.0.1 54321 " + backendPortStr + "\r\n"
	if _, err := frontConn.Write([]byte(header + "payload")); err != nil {
		t.Fatalf("write header: %v", err)
	}

	var backendConn net.Conn
	select {
	case backendConn = <-backendConnCh:
	case <-time.After(5 * time.Second):
		t.Fatal("backend never accepted a connection")
	}
	if backendConn == nil {
		t.Fatal("backend accept failed")
	}
	defer backendConn.Close()

	remote := backendConn.RemoteAddr().(*net.TCPAddr)
	if remote.IP.String() != "127.0.0.9" || remote.Port != 54321 {
		t.Fatalf("backend saw remote %s, want 127.0.0.9:54321", remote)
	}

	buf := make([]byte, 16)
	n, err := backendConn.Read(buf)
	if err != nil {
		t.Fatalf("backend read: %v", err)
	}
	if got := string(buf[:n]); got != "payload" {
		t.Fatalf("backend got residual %q, want \"payload\"", got)
	}

	// Serve's Shutdown only stops the accept loop; it still waits for
	// every in-flight session to drain, so the splice's two connections
	// must be closed before waiting on Serve's return.
	frontConn.Close()
	backendConn.Close()

	srv.Shutdown()
	select {
	case err := <-errCh:
		if err != ErrServerClosed {
			t.Fatalf("Serve returned %v, want ErrServerClosed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
}

func TestServerSessionEndsWhenBackendUnreachable(t *testing.T) {
	withLoopbackDialControl(t)

	// Bind and immediately close a listener to obtain a loopback port
	// nothing is listening on.
	closedLn := mustListenTCP(t)
	_, deadPortStr, _ := net.SplitHostPort(closedLn.Addr().String())
	closedLn.Close()

	cfg := Config{Listen: Endpoint{Host: Host{127, 0, 0, 1}, Port: 0}, Mark: 0, Table: 0}
	srv := NewServer(cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx) }()

	frontConn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial front: %v", err)
	}
	defer frontConn.Close()

	header := "PROXY TCP4 127.0.0.9 127.0.0.1 54322 " + deadPortStr + "\r\n"
	if _, err := frontConn.Write([]byte(header)); err != nil {
		t.Fatalf("write header: %v", err)
	}

	buf := make([]byte, 1)
	frontConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := frontConn.Read(buf); err == nil {
		t.Fatal("expected the peer connection to be closed after a failed dial")
	}

	srv.Shutdown()
	<-errCh
}

func TestServerShutdownDrainsActiveSessions(t *testing.T) {
	withLoopbackDialControl(t)

	backendLn := mustListenTCP(t)
	defer backendLn.Close()
	_, backendPortStr, _ := net.SplitHostPort(backendLn.Addr().String())
	go func() {
		for {
			c, err := backendLn.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				io.Copy(io.Discard, c)
				c.Close()
			}(c)
		}
	}()

	cfg := Config{Listen: Endpoint{Host: Host{127, 0, 0, 1}, Port: 0}, Mark: 0, Table: 0}
	srv := NewServer(cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx) }()

	baseline := TotalSessions()
	frontAddr := srv.Addr().String()
	const sessions = 4
	conns := make([]net.Conn, sessions)
	for i := 0; i < sessions; i++ {
		c, err := net.Dial("tcp", frontAddr)
		if err != nil {
			t.Fatalf("dial front: %v", err)
		}
		conns[i] = c
		header := "PROXY TCP4 127.0.0.9 127.0.0.1 5500" + string(rune('0'+i)) + " " + backendPortStr + "\r\n"
		if _, err := c.Write([]byte(header)); err != nil {
			t.Fatalf("write header: %v", err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for TotalSessions()-baseline < sessions && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := TotalSessions() - baseline; got < sessions {
		t.Fatalf("TotalSessions() delta = %d before shutdown, want >= %d", got, sessions)
	}

	srv.Shutdown()

	// Shutdown only stops the accept loop; Serve still blocks on the
	// active sessions draining. Closing a peer only half-closes its
	// backend; the mock backend then closes its side, which ends the
	// session, so Serve can return.
	for _, c := range conns {
		c.Close()
	}

	select {
	case err := <-errCh:
		if err != ErrServerClosed {
			t.Fatalf("Serve returned %v, want ErrServerClosed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}

	deadline = time.Now().Add(5 * time.Second)
	for TotalSessions() != baseline && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := TotalSessions(); got != baseline {
		t.Fatalf("TotalSessions() = %d after all peers closed, want back to baseline %d", got, baseline)
	}
}

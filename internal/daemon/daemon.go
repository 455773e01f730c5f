// Package daemon implements the --background flag: detaching the process
// from its controlling terminal, chdir("/"), and redirecting the standard
// streams by re-exec'ing itself in a new session.
package daemon

import (
	"fmt"
	"os"
	"syscall"
)

// daemonizedEnv marks a re-exec'd child so it does not try to daemonize
// itself again.
const daemonizedEnv = "PROGDN_RVI_DAEMONIZED"

// Background detaches the current process: if this is the first
// invocation, it re-execs itself as a session leader with std streams
// redirected to /dev/null and working directory "/", then the parent
// exits 0. If this process is already the re-exec'd child (daemonizedEnv
// is set), Background is a no-op so startup continues normally.
func Background() error {
	if os.Getenv(daemonizedEnv) != "" {
		return nil
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("daemon: cannot open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("daemon: cannot resolve executable path: %w", err)
	}

	attr := &os.ProcAttr{
		Dir:   "/",
		Env:   append(os.Environ(), daemonizedEnv+"=1"),
		Files: []*os.File{devNull, devNull, devNull},
		Sys:   &syscall.SysProcAttr{Setsid: true},
	}

	proc, err := os.StartProcess(exe, os.Args, attr)
	if err != nil {
		return fmt.Errorf("daemon: cannot run process in background: %w", err)
	}
	if err := proc.Release(); err != nil {
		return fmt.Errorf("daemon: cannot detach from background process: %w", err)
	}

	os.Exit(0)
	return nil // unreachable
}

// Package sysutil carries the process-wide resource tuning done once at
// startup: raising the open-file descriptor limit to its hard ceiling.
package sysutil

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// RaiseNoFileLimit sets RLIMIT_NOFILE's soft limit to its hard limit.
// Each session holds two open sockets for its lifetime, so this
// provisions headroom for however many sessions run concurrently.
func RaiseNoFileLimit() error {
	var limit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &limit); err != nil {
		return fmt.Errorf("sysutil: cannot get RLIMIT_NOFILE: %w", err)
	}
	limit.Cur = limit.Max
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &limit); err != nil {
		return fmt.Errorf("sysutil: cannot set RLIMIT_NOFILE: %w", err)
	}
	return nil
}

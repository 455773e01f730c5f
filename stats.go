package relay

import (
	"context"
	"sync/atomic"
	"time"

	"codeberg.org/gruf/go-kv"
)

// statsInterval is how often cumulative byte counters are logged.
const statsInterval = time.Minute

// Stats accumulates cumulative bytes forwarded in each splice direction
// and periodically logs them alongside the live session count. There is
// exactly one listen/backend pair per process, so a single shared
// instance is enough.
type Stats struct {
	log           *Logger
	bytesToServer uint64 // peer -> backend
	bytesToPeer   uint64 // backend -> peer
}

// NewStats returns a Stats that logs through log (which may be nil).
func NewStats(log *Logger) *Stats {
	return &Stats{log: log}
}

func (s *Stats) addToServer(n int64) {
	if n > 0 {
		atomic.AddUint64(&s.bytesToServer, uint64(n))
	}
}

func (s *Stats) addToPeer(n int64) {
	if n > 0 {
		atomic.AddUint64(&s.bytesToPeer, uint64(n))
	}
}

func (s *Stats) snapshot() (toServer, toPeer uint64) {
	return atomic.LoadUint64(&s.bytesToServer), atomic.LoadUint64(&s.bytesToPeer)
}

// Run logs a stats line every statsInterval until ctx is done. It keeps
// running even when logging is disabled, since Logger's methods are
// already no-ops on a nil receiver.
func (s *Stats) Run(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			toServer, toPeer := s.snapshot()
			s.log.Info(kv.Fields{
				{K: "bytes_to_backend", V: toServer},
				{K: "bytes_to_peer", V: toPeer},
				{K: "active_sessions", V: TotalSessions()},
				{K: "msg", V: "stats"},
			}...)
		}
	}
}

package frames

import (
	"time"

	"go.uber.org/atomic"
)

// Stats counts frames delivered by a pipeline and how long it spent blocked on a full channel.
type Stats struct {
	frames     *atomic.Int64
	blocked    *atomic.Duration
	maxBlocked *atomic.Duration
}

func newStats() *Stats {
	return &Stats{
		frames:     atomic.NewInt64(0),
		blocked:    atomic.NewDuration(0),
		maxBlocked: atomic.NewDuration(0),
	}
}

func (s *Stats) record(blocked time.Duration) {
	s.frames.Inc()
	s.blocked.Add(blocked)
	for {
		prev := s.maxBlocked.Load()
		if blocked <= prev || s.maxBlocked.CompareAndSwap(prev, blocked) {
			return
		}
	}
}

// StatsSnapshot is a point in time copy of Stats.
type StatsSnapshot struct {
	Frames     int64
	Blocked    time.Duration
	MaxBlocked time.Duration
}

// Snapshot copies the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Frames:     s.frames.Load(),
		Blocked:    s.blocked.Load(),
		MaxBlocked: s.maxBlocked.Load(),
	}
}

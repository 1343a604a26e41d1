package apns

import "sync/atomic"

// Stats counts what a channel did since it was created.
type Stats struct {
	sent       atomic.Int64
	failed     atomic.Int64
	retried    atomic.Int64
	reconnects atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Sent       int64 `json:"sent"`       // notifications written or accepted
	Failed     int64 `json:"failed"`     // notifications dropped or rejected
	Retried    int64 `json:"retried"`    // attempts after the first one
	Reconnects int64 `json:"reconnects"` // connections opened
}

func (s *Stats) incSent()      { s.sent.Add(1) }
func (s *Stats) incFailed()    { s.failed.Add(1) }
func (s *Stats) incRetried()   { s.retried.Add(1) }
func (s *Stats) incReconnect() { s.reconnects.Add(1) }

// Snapshot returns the current values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Sent:       s.sent.Load(),
		Failed:     s.failed.Load(),
		Retried:    s.retried.Load(),
		Reconnects: s.reconnects.Load(),
	}
}

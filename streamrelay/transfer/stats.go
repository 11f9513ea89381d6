package transfer

import "sync/atomic"

// Stats aggregates counters across transfers. All fields are updated
// atomically; no lock is involved.
type Stats struct {
	Bytes     atomic.Int64 // bytes moved, including those of failed transfers
	Transfers atomic.Int64 // completed transfers
	Failures  atomic.Int64 // transfers ended by a TransferError
	Active    atomic.Int64 // transfers in flight
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Bytes     int64 `json:"bytes"`
	Transfers int64 `json:"transfers"`
	Failures  int64 `json:"failures"`
	Active    int64 `json:"active"`
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Bytes:     s.Bytes.Load(),
		Transfers: s.Transfers.Load(),
		Failures:  s.Failures.Load(),
		Active:    s.Active.Load(),
	}
}

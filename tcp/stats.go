package tcp

import "sync/atomic"

// Stats mirrors the original's TCPStats counter block (nettcp.h).
type Stats struct {
	Runt         uint64 // smaller than minimum size
	Checksum     uint64
	ConnOut      uint64 // outgoing connection attempts
	ConnIn       uint64 // incoming connection attempts
	ResetOut     uint64
	ResetIn      uint64
	EndRec       uint64
}

func (s *Stats) incRunt()     { atomic.AddUint64(&s.Runt, 1) }
func (s *Stats) incChecksum() { atomic.AddUint64(&s.Checksum, 1) }
func (s *Stats) incConnOut()  { atomic.AddUint64(&s.ConnOut, 1) }
func (s *Stats) incConnIn()   { atomic.AddUint64(&s.ConnIn, 1) }
func (s *Stats) incResetOut() { atomic.AddUint64(&s.ResetOut, 1) }
func (s *Stats) incResetIn()  { atomic.AddUint64(&s.ResetIn, 1) }
func (s *Stats) incEndRec()   { atomic.AddUint64(&s.EndRec, 1) }

// Snapshot returns a copy of the counters.
func (s *Stats) Snapshot() Stats {
	return Stats{
		Runt:     atomic.LoadUint64(&s.Runt),
		Checksum: atomic.LoadUint64(&s.Checksum),
		ConnOut:  atomic.LoadUint64(&s.ConnOut),
		ConnIn:   atomic.LoadUint64(&s.ConnIn),
		ResetOut: atomic.LoadUint64(&s.ResetOut),
		ResetIn:  atomic.LoadUint64(&s.ResetIn),
		EndRec:   atomic.LoadUint64(&s.EndRec),
	}
}

package ppp

import "sync/atomic"

// Stats mirrors the original's PPPStats counter block
// (original_source/src/netppp.c/.h).
type Stats struct {
	InBytes    uint64
	InPackets  uint64
	InErrors   uint64 // bad FCS or dropped mid-frame
	DispErrors uint64 // no handler for the protocol, or VJ failure
	OutBytes   uint64
	OutPackets uint64
	OutErrors  uint64
}

func (s *Stats) incInBytes(n int)   { atomic.AddUint64(&s.InBytes, uint64(n)) }
func (s *Stats) incInPackets()      { atomic.AddUint64(&s.InPackets, 1) }
func (s *Stats) incInErrors()       { atomic.AddUint64(&s.InErrors, 1) }
func (s *Stats) incDispatchError()  { atomic.AddUint64(&s.DispErrors, 1) }
func (s *Stats) incOutBytes(n int)  { atomic.AddUint64(&s.OutBytes, uint64(n)) }
func (s *Stats) incOutPackets()     { atomic.AddUint64(&s.OutPackets, 1) }
func (s *Stats) incOutErrors()      { atomic.AddUint64(&s.OutErrors, 1) }

// Snapshot returns a copy of the counters.
func (s *Stats) Snapshot() Stats {
	return Stats{
		InBytes:    atomic.LoadUint64(&s.InBytes),
		InPackets:  atomic.LoadUint64(&s.InPackets),
		InErrors:   atomic.LoadUint64(&s.InErrors),
		DispErrors: atomic.LoadUint64(&s.DispErrors),
		OutBytes:   atomic.LoadUint64(&s.OutBytes),
		OutPackets: atomic.LoadUint64(&s.OutPackets),
		OutErrors:  atomic.LoadUint64(&s.OutErrors),
	}
}

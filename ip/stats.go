package ip

import "sync/atomic"

// Stats mirrors the original stack's IPStats counter block (spec.md §4.5,
// original_source/src/netip.h). Each field is updated with atomic.AddUint64
// so Dispatcher.Input and Dispatcher.Output can run concurrently with a
// metrics scrape.
type Stats struct {
	Total        uint64 // datagrams seen by Input
	TooSmall     uint64 // shorter than a bare header, even after pullup
	BadVersion   uint64 // ip_v != 4
	BadHeaderLen uint64 // ip_hl*4 out of bounds
	BadChecksum  uint64
	BadLen       uint64 // ip_len < header length
	Buffers      uint64 // allocation failure during processing
	CantForward  uint64 // not addressed to us and we are not a router
	Delivered    uint64 // handed to the link for transmission
	Dropped      uint64 // dropped for any other reason (bad protocol, etc)
}

func (s *Stats) incTotal()        { atomic.AddUint64(&s.Total, 1) }
func (s *Stats) incTooSmall()     { atomic.AddUint64(&s.TooSmall, 1) }
func (s *Stats) incBadVersion()   { atomic.AddUint64(&s.BadVersion, 1) }
func (s *Stats) incBadHeaderLen() { atomic.AddUint64(&s.BadHeaderLen, 1) }
func (s *Stats) incBadChecksum()  { atomic.AddUint64(&s.BadChecksum, 1) }
func (s *Stats) incBadLen()       { atomic.AddUint64(&s.BadLen, 1) }
func (s *Stats) incBuffers()      { atomic.AddUint64(&s.Buffers, 1) }
func (s *Stats) incCantForward()  { atomic.AddUint64(&s.CantForward, 1) }
func (s *Stats) incDelivered()    { atomic.AddUint64(&s.Delivered, 1) }
func (s *Stats) incDropped()      { atomic.AddUint64(&s.Dropped, 1) }

// Snapshot returns a copy of the counters, safe to read concurrently with
// further traffic.
func (s *Stats) Snapshot() Stats {
	return Stats{
		Total:        atomic.LoadUint64(&s.Total),
		TooSmall:     atomic.LoadUint64(&s.TooSmall),
		BadVersion:   atomic.LoadUint64(&s.BadVersion),
		BadHeaderLen: atomic.LoadUint64(&s.BadHeaderLen),
		BadChecksum:  atomic.LoadUint64(&s.BadChecksum),
		BadLen:       atomic.LoadUint64(&s.BadLen),
		Buffers:      atomic.LoadUint64(&s.Buffers),
		CantForward:  atomic.LoadUint64(&s.CantForward),
		Delivered:    atomic.LoadUint64(&s.Delivered),
		Dropped:      atomic.LoadUint64(&s.Dropped),
	}
}

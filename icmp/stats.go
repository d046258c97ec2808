package icmp

import "sync/atomic"

// Stats mirrors the original stack's IcmpStats counter block
// (original_source/src/neticmp.c).
type Stats struct {
	TooShort uint64
	Checksum uint64
	BadLen   uint64
	BadCode  uint64
	OldICMP  uint64
	Error    uint64
	Reflect  uint64

	InHist  [maxType + 1]uint64
	OutHist [maxType + 1]uint64
}

func (s *Stats) incTooShort() { atomic.AddUint64(&s.TooShort, 1) }
func (s *Stats) incChecksum() { atomic.AddUint64(&s.Checksum, 1) }
func (s *Stats) incBadLen()   { atomic.AddUint64(&s.BadLen, 1) }
func (s *Stats) incBadCode()  { atomic.AddUint64(&s.BadCode, 1) }
func (s *Stats) incOldICMP()  { atomic.AddUint64(&s.OldICMP, 1) }
func (s *Stats) incError()    { atomic.AddUint64(&s.Error, 1) }
func (s *Stats) incReflect()  { atomic.AddUint64(&s.Reflect, 1) }

func (s *Stats) incInHist(t byte) {
	if int(t) < len(s.InHist) {
		atomic.AddUint64(&s.InHist[t], 1)
	}
}

func (s *Stats) incOutHist(t byte) {
	if int(t) < len(s.OutHist) {
		atomic.AddUint64(&s.OutHist[t], 1)
	}
}

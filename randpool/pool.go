// Package randpool implements the stack's entropy pool: a small buffer
// churned by MD5 on semi-random events (byte arrival, keystrokes) and used
// to generate ISNs and other values that must not be predictable from
// outside. See spec.md §4.3.
//
// The MD5 primitive itself is the one out-of-scope external collaborator
// spec.md §1 names for this subsystem; Go's crypto/md5 fills that role
// directly, the same way the original C stack assumed a vendored MD5.c.
package randpool

import (
	"crypto/md5"
	"encoding/binary"
	"sync"
)

// poolSize is the number of entropy bytes kept between churns.
const poolSize = md5.Size // 16

// Pool is a churned entropy pool. The zero value is usable and starts from
// an all-zero seed; call Churn at least once with real entropy before
// relying on Generate for anything security sensitive.
type Pool struct {
	mu      sync.Mutex
	pool    [poolSize]byte
	counter uint64
}

// Churn mixes data into the pool: pool ← MD5(pool || data). Call this on
// every semi-random system event (an octet arriving on the PPP link, a
// keystroke on the debug monitor) to keep accumulating entropy.
func (p *Pool) Churn(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := md5.New()
	h.Write(p.pool[:])
	h.Write(data)
	h.Sum(p.pool[:0])
}

// Generate fills buf with output derived from MD5(pool || counter) in
// 16-byte blocks, incrementing counter after every block so that the
// published output never discloses the pool contents directly.
func (p *Pool) Generate(buf []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ctr [8]byte
	for len(buf) > 0 {
		binary.BigEndian.PutUint64(ctr[:], p.counter)
		h := md5.New()
		h.Write(p.pool[:])
		h.Write(ctr[:])
		var block [poolSize]byte
		h.Sum(block[:0])
		p.counter++

		n := copy(buf, block[:])
		buf = buf[n:]
	}
}

// Uint32 returns a single pseudo-random 32-bit value from Generate.
func (p *Pool) Uint32() uint32 {
	var b [4]byte
	p.Generate(b[:])
	return binary.BigEndian.Uint32(b[:])
}

// ISN generates a TCP initial sequence number in the spirit of RFC 793's
// clock-driven generator: a random-pool seed plus 250 × milliseconds since
// boot, so the counter component advances roughly every 4 microseconds
// (spec.md §4.3).
func (p *Pool) ISN(msSinceBoot int64) uint32 {
	return p.Uint32() + uint32(250*msSinceBoot)
}

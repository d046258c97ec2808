package tcp

import (
	"time"

	"github.com/ucip/netstack/nbuf"
	"github.com/ucip/netstack/seq"
)

// shrinkWindow implements spec.md §3's receive-window invariant: rcv.wnd
// decreases by exactly NBUFSZ per segment chain admitted onto rcvQ or the
// resequencing queue, never going negative. growWindow is its inverse,
// called as the application drains rcvQ, clamped at TCP_DEFWND.
func (c *Conn) shrinkWindow() {
	if c.rcvWnd >= nbuf.NBUFSZ {
		c.rcvWnd -= nbuf.NBUFSZ
	} else {
		c.rcvWnd = 0
	}
}

func (c *Conn) growWindow() {
	c.rcvWnd += nbuf.NBUFSZ
	if c.rcvWnd > DefaultWnd {
		c.rcvWnd = DefaultWnd
	}
}

// seqAcceptable implements the RFC 793 §3.3 segment acceptability test: a
// segment carrying segLen bytes starting at segSeq is acceptable against a
// receive window [rcvNxt, rcvNxt+rcvWnd) only if some byte of it (or, for a
// zero-length segment, its sequence number itself) falls inside that
// window. A zero window accepts only an empty segment exactly at rcvNxt.
func seqAcceptable(segSeq uint32, segLen int, rcvNxt, rcvWnd uint32) bool {
	if segLen == 0 {
		if rcvWnd == 0 {
			return segSeq == rcvNxt
		}
		return seq.LE(rcvNxt, segSeq) && seq.LT(segSeq, rcvNxt+rcvWnd)
	}
	if rcvWnd == 0 {
		return false
	}
	first := seq.LE(rcvNxt, segSeq) && seq.LT(segSeq, rcvNxt+rcvWnd)
	last := seq.LE(rcvNxt, segSeq+uint32(segLen-1)) && seq.LT(segSeq+uint32(segLen-1), rcvNxt+rcvWnd)
	return first || last
}

// trimSeg runs the acceptability test and, for an acceptable segment, trims
// *payload down to the bytes that actually land inside the receive window
// (spec.md §4.7.3's "trim to window" step). It reports the window-relative
// sequence number of the (possibly trimmed) payload and the trimmed length.
// An unacceptable segment is dropped and answered with an immediate ack
// (the RFC 793 "challenge ack"), unless it carries RST.
func (c *Conn) trimSeg(th Header, payload **nbuf.Buf, segLen, flagBytes int) (uint32, int, bool) {
	if !seqAcceptable(th.Seq, segLen+flagBytes, c.rcvNxt, c.rcvWnd) {
		c.mgr.pool.FreeChain(*payload)
		*payload = nil
		if th.Flags&FlagRST == 0 {
			c.force = true
			c.output()
		}
		return 0, 0, false
	}

	seqNo := th.Seq
	if seq.LT(seqNo, c.rcvNxt) {
		trim := int(c.rcvNxt - seqNo)
		if trim > segLen {
			trim = segLen
		}
		if trim > 0 {
			nbuf.Trim(c.mgr.pool, nil, payload, trim)
			segLen -= trim
		}
		seqNo = c.rcvNxt
	}

	winEnd := c.rcvNxt + c.rcvWnd
	if end := seqNo + uint32(segLen); seq.GT(end, winEnd) {
		over := int(end - winEnd)
		if over > segLen {
			over = segLen
		}
		if over > 0 {
			nbuf.Trim(c.mgr.pool, nil, payload, -over)
			segLen -= over
		}
	}

	return seqNo, segLen, true
}

// drainAcked removes the data bytes an advancing snd.una just covered from
// sndQ and sndCnt. rawAcked is the full sequence-number advance (the new
// snd.ack minus the old snd.una); synAcked reports whether that advance
// includes the SYN's one sequence unit, which occupies no byte of sndQ and
// is never counted in sndCnt (unlike original_source/src/nettcp.c, where
// sndcnt "includes SYN and FIN, which don't actually appear on sndq"; this
// port's sndCnt never counts the SYN to begin with, only data and, once
// Disconnect reserves it, the FIN unit — so only the SYN needs excluding
// here). A FIN's unit, if part of rawAcked, is left in for TrimQ: it simply
// has nothing left to trim once the real data bytes are gone.
func (c *Conn) drainAcked(rawAcked int, synAcked bool) {
	dataAcked := rawAcked
	if synAcked && dataAcked > 0 {
		dataAcked--
	}
	if dataAcked <= 0 {
		return
	}
	c.mgr.pool.TrimQ(nil, &c.sndQ, dataAcked)
	c.sndCnt -= dataAcked
	if c.sndCnt < 0 {
		c.sndCnt = 0
	}
}

// rejectWithReset answers a segment that no TCB will process with an RST,
// derived the same way sendSegment's siblings always have (spec.md
// §4.7.8): echo the ack as our seq if ACK was set, otherwise ack the
// peer's consumed sequence space and set RST+ACK.
func (m *Manager) rejectWithReset(local, remote uint32, th Header, segLen, flagBytes int) {
	var out Header
	out.SrcPort, out.DstPort = th.DstPort, th.SrcPort
	out.DataOff = HeaderLen
	if th.Flags&FlagACK != 0 {
		out.Seq = th.Ack
		out.Flags = FlagRST
	} else {
		out.Ack = th.Seq + uint32(segLen+flagBytes)
		out.Flags = FlagRST | FlagACK
	}
	m.incResetOut()
	m.sendSegment(local, remote, out, nil)
}

// beginPassiveOpen moves a listener (or a TCB freshly cloned from one) into
// SYN_RECEIVED on a valid incoming SYN (spec.md §4.7.2).
func (c *Conn) beginPassiveOpen(th Header, now time.Time) {
	c.irs = th.Seq
	c.rcvNxt = th.Seq + 1
	c.iss = c.mgr.rng.ISN(now.UnixMilli())
	c.sndUna = c.iss
	c.sndNxt = c.iss
	c.sndPtr = c.iss
	c.sndCnt = 0
	c.state = StateSynReceived
	c.synack = true
	c.mgr.incConnIn()
	c.cond.Broadcast()
	c.output()
}

// closeSelfLocked tears a TCB down to CLOSED, cancels its timers, and
// records reason as the error a blocked Read/Write/Wait should surface.
// The caller must hold c.mu.
func (c *Conn) closeSelfLocked(reason Error) {
	if c.state == StateClosed {
		return
	}
	c.state = StateClosed
	c.closeReason = reason
	c.hasCloseErr = true
	c.mgr.incEndRec()
	if reason == ErrReset {
		c.mgr.incResetIn()
	}
	if c.freeOnClose {
		c.mgr.free(c)
	} else {
		c.mgr.disarm(c.resendTimer)
		c.mgr.disarm(c.keepAliveTimer)
		c.mgr.disarm(c.lifetimeTimer)
		c.mgr.unlink(c)
	}
	c.cond.Broadcast()
}

// enterTimeWait moves a connection that has fully closed both directions
// into the 2MSL quiet period (spec.md §4.7.2).
func (c *Conn) enterTimeWait() {
	c.state = StateTimeWait
	c.mgr.disarm(c.resendTimer)
	c.mgr.rearm(c.lifetimeTimer, MSL2, func() { c.mgr.on2MSL(c) })
	c.cond.Broadcast()
}

func (m *Manager) on2MSL(c *Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateTimeWait {
		return
	}
	c.closeSelfLocked(ErrEOF)
}

// armFinWait2 bounds how long a connection waits in FINWAIT2 for the
// peer's FIN once our own has been acked (spec.md §4.7.2).
func (c *Conn) armFinWait2() {
	c.mgr.rearm(c.lifetimeTimer, MaxFinWait2, func() { c.mgr.onFinWait2Timeout(c) })
}

func (m *Manager) onFinWait2Timeout(c *Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateFinWait2 {
		return
	}
	c.closeSelfLocked(ErrTimeout)
}

// onKeepAlive fires when a synchronized connection has gone keepAlive
// without hearing from its peer: probe, and give up after MaxKeepTimes
// unanswered probes (spec.md §4.7.2).
func (m *Manager) onKeepAlive(c *Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.synchronized() || c.keepAlive == 0 {
		return
	}
	c.keepAliveCount++
	if c.keepAliveCount > MaxKeepTimes {
		c.closeSelfLocked(ErrTimeout)
		return
	}
	c.sendKeepAliveProbe()
	m.rearm(c.keepAliveTimer, c.keepAlive, func() { m.onKeepAlive(c) })
}

// advanceCloseState checks whether an ack that just moved snd.una all the
// way to snd.nxt closes out a half-close in progress (spec.md §4.7.2's
// FINWAIT1/CLOSING/LASTACK transitions).
func (c *Conn) advanceCloseState() {
	if !seq.GE(c.sndUna, c.sndNxt) {
		return
	}
	switch c.state {
	case StateFinWait1:
		c.state = StateFinWait2
		c.armFinWait2()
	case StateClosing:
		c.enterTimeWait()
	case StateLastAck:
		c.closeSelfLocked(ErrEOF)
	}
}

// procInFlags runs the synchronized-state half of the input pipeline
// (spec.md §4.7.3 steps 10-15): RST/SYN rejection, ack processing against
// the send sequence space, window update, data delivery through the
// resequencing queue, and FIN-driven state transitions. payload holds
// exactly the segment's data bytes (already trimmed to the window) and is
// consumed unconditionally.
func (m *Manager) procInFlags(c *Conn, th Header, seqNo uint32, segLen, flagBytes int, payload *nbuf.Buf) {
	if th.Flags&FlagRST != 0 {
		m.pool.FreeChain(payload)
		c.closeSelfLocked(ErrReset)
		return
	}

	if th.Flags&FlagSYN != 0 {
		m.pool.FreeChain(payload)
		m.rejectWithReset(c.localIP, c.remoteIP, th, segLen, flagBytes)
		c.closeSelfLocked(ErrReset)
		return
	}

	if th.Flags&FlagACK == 0 {
		m.pool.FreeChain(payload)
		return
	}

	synJustAcked := false
	if c.state == StateSynReceived {
		if !seq.LE(c.sndUna, th.Ack) || !seq.LE(th.Ack, c.sndNxt) {
			m.pool.FreeChain(payload)
			m.rejectWithReset(c.localIP, c.remoteIP, th, segLen, flagBytes)
			return
		}
		c.state = StateEstablished
		c.synack = false
		synJustAcked = true
		c.backoff = 0
		c.retransCount = 0
		c.cond.Broadcast()
	}

	switch {
	case seq.LT(c.sndUna, th.Ack) && seq.LE(th.Ack, c.sndNxt):
		acked := int(th.Ack - c.sndUna)
		c.drainAcked(acked, synJustAcked)
		c.sndUna = th.Ack
		if seq.LT(c.sndPtr, c.sndUna) {
			c.sndPtr = c.sndUna
		}
		c.updateRTT()
		c.growCwind(acked)
		if c.sndUna == c.sndNxt {
			m.disarm(c.resendTimer)
		} else {
			m.rearm(c.resendTimer, c.rto(), func() { m.onResend(c) })
		}
		c.advanceCloseState()
	case seq.GT(th.Ack, c.sndNxt):
		// Acks data we haven't sent yet: answer with our current state
		// (RFC 793's "ack the ack"), drop the segment.
		m.pool.FreeChain(payload)
		c.force = true
		c.output()
		return
	}

	if seq.LT(c.sndWl1, th.Seq) || (c.sndWl1 == th.Seq && seq.LE(c.sndWl2, th.Ack)) {
		c.sndWnd = uint32(th.Win)
		c.sndWl1 = th.Seq
		c.sndWl2 = th.Ack
	}

	if c.state == StateCloseWait || c.state == StateLastAck || c.state == StateClosing || c.state == StateTimeWait {
		// The peer has already sent its FIN; anything further is a
		// protocol violation we simply don't deliver.
		m.pool.FreeChain(payload)
		payload = nil
		segLen = 0
	}

	advanced := false
	if segLen > 0 && payload != nil {
		floor := int(c.mss)/nbuf.NBUFSZ + ReseqSpare
		for m.pool.Stats().CurFree < floor && c.reseqQ.Len() > 0 {
			m.pool.FreeChain(c.reseqQ.Dequeue())
			c.growWindow()
		}
		if m.pool.Stats().CurFree < floor {
			// Still below the safety floor with nothing left to shed:
			// drop this segment too and let the peer retransmit it.
			m.pool.FreeChain(payload)
			c.force = true
		} else {
			c.shrinkWindow()
			if seqNo == c.rcvNxt {
				c.rcvQ.Enqueue(payload)
				c.rcvNxt += uint32(segLen)
				advanced = true
				for c.reseqQ.Len() > 0 && seq.LE(c.reseqQ.HeadSortOrder(), c.rcvNxt) {
					n := c.reseqQ.Dequeue()
					nlen := nbuf.ChainLen(n)
					if seq.LT(n.SortOrder, c.rcvNxt) {
						trim := int(c.rcvNxt - n.SortOrder)
						if trim > nlen {
							trim = nlen
						}
						if trim > 0 {
							nbuf.Trim(m.pool, nil, &n, trim)
							nlen -= trim
						}
					}
					if n == nil || nlen <= 0 {
						if n != nil {
							m.pool.FreeChain(n)
						}
						continue
					}
					c.rcvQ.Enqueue(n)
					c.rcvNxt += uint32(nlen)
				}
			} else {
				c.reseqQ.EnqueueSorted(payload, seqNo)
				c.force = true
			}
		}
	} else if payload != nil {
		m.pool.FreeChain(payload)
	}

	if th.Flags&FlagFIN != 0 {
		c.force = true
		if segLen == 0 {
			advanced = seqNo == c.rcvNxt
		}
		if advanced {
			c.rcvNxt++
			switch c.state {
			case StateEstablished:
				c.state = StateCloseWait
			case StateFinWait1:
				c.state = StateClosing
			case StateFinWait2:
				c.enterTimeWait()
			}
		}
	}

	c.cond.Broadcast()
	c.output()
}

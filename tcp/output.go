package tcp

import (
	"time"

	"github.com/ucip/netstack/seq"
)

// output drains as much of the send queue as the window and congestion
// control allow, composing and transmitting one segment per iteration. The
// caller must hold c.mu. Call this after any mutation that might make more
// data sendable: a write, an incoming ack that opens the window, a close
// that reserves the FIN sequence number, or a retransmit deadline.
func (c *Conn) output() {
	for {
		if c.state != StateSynSent && c.state != StateSynReceived && !c.state.synchronized() {
			return
		}
		if c.sndUna == c.iss && c.state != StateSynSent && c.state != StateSynReceived {
			return
		}

		inFlight := int(int32(c.sndPtr - c.sndUna))

		usable := int(c.sndWnd)
		if int(c.cwind) < usable {
			usable = int(c.cwind)
		}
		usable -= inFlight
		if c.sndWnd == 0 && inFlight == 0 {
			usable = 1
		}
		if usable < 0 {
			usable = 0
		}

		avail := c.sndCnt - inFlight
		if avail < 0 {
			avail = 0
		}

		segSize := avail
		if usable < segSize {
			segSize = usable
		}
		if int(c.mss) < segSize {
			segSize = int(c.mss)
		}

		last := segSize >= avail
		if inFlight > 0 && segSize < MinSeg && !last {
			return
		}
		if segSize == 0 && !c.force {
			return
		}

		flags := byte(0)
		if c.state != StateSynSent {
			flags |= FlagACK
		}
		sendingSYN := c.sndPtr == c.iss && (c.state == StateSynSent || c.state == StateSynReceived)
		if sendingSYN {
			flags |= FlagSYN
		}
		includesFin := (c.state == StateFinWait1 || c.state == StateLastAck) &&
			seq.GE(c.sndPtr+uint32(segSize), c.sndUna+uint32(c.sndCnt))
		if includesFin {
			flags |= FlagFIN
		}

		buf := c.mgr.pool.Get()
		if buf == nil {
			return
		}
		dataWant := segSize
		if sendingSYN && dataWant > 0 {
			dataWant-- // the SYN itself occupies one sequence number
		}
		off := inFlight
		if sendingSYN {
			off = 0
		}
		c.mgr.pool.AppendFromQ(buf, &c.sndQ, off, dataWant)
		if off+dataWant >= c.sndCnt {
			flags |= FlagPSH
		}

		th := Header{
			SrcPort: c.localPort,
			DstPort: c.remotePort,
			Seq:     c.sndPtr,
			Ack:     c.rcvNxt,
			DataOff: HeaderLen,
			Flags:   flags,
			Win:     uint16(c.rcvWnd),
		}
		if sendingSYN {
			var opt [4]byte
			encodeMSSOption(opt[:], c.mss)
			th.DataOff = HeaderLen + len(opt)
			buf = c.mgr.pool.Prepend(buf, opt[:], len(opt))
		}

		wasIdle := inFlight == 0
		c.mgr.sendSegmentTOS(c.localIP, c.remoteIP, c.tos, th, buf)
		c.force = false

		c.sndPtr += uint32(segSize)
		if seq.GT(c.sndPtr, c.sndNxt) {
			c.sndNxt = c.sndPtr
		}
		if wasIdle {
			c.rttStart = c.mgr.now()
			c.rttSeq = c.sndPtr
			c.rttTimed = true
		}
		c.mgr.rearm(c.resendTimer, c.rto(), func() { c.mgr.onResend(c) })

		if segSize == 0 {
			return
		}
	}
}

// sendKeepAliveProbe emits a one-byte segment at snd.una-1 to provoke an
// ack from an otherwise-silent peer (spec.md §4.7.2 keep-alive rule).
func (c *Conn) sendKeepAliveProbe() {
	buf := c.mgr.pool.Get()
	if buf == nil {
		return
	}
	c.mgr.pool.Append(buf, []byte{'?'}, 1)
	th := Header{
		SrcPort: c.localPort,
		DstPort: c.remotePort,
		Seq:     c.sndUna - 1,
		Ack:     c.rcvNxt,
		DataOff: HeaderLen,
		Flags:   FlagACK,
		Win:     uint16(c.rcvWnd),
	}
	c.mgr.sendSegmentTOS(c.localIP, c.remoteIP, c.tos, th, buf)
}

// onResend handles a connection's resend-timer deadline: back off and
// retransmit, or give up depending on state and retry count.
func (m *Manager) onResend(c *Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.placement != PlaceLinked && c.placement != PlaceUnlinked {
		return
	}
	if c.state == StateTimeWait || (c.state == StateFinWait2 && c.freeOnClose) {
		c.closeSelfLocked(ErrTimeout)
		return
	}
	c.retransCount++
	if c.retransCount >= MaxRetrans {
		c.closeSelfLocked(ErrTimeout)
		return
	}

	c.ssthresh = c.cwind / 2
	if c.ssthresh < uint32(c.mss) {
		c.ssthresh = uint32(c.mss)
	}
	c.cwind = uint32(c.mss)
	c.backoff++
	c.sndPtr = c.sndUna
	c.rttTimed = false
	c.output()
	c.cond.Broadcast()
}

// updateRTT feeds the smoothing estimator on an ack covering a range that
// was not retransmitted (spec.md §4.7.5).
func (c *Conn) updateRTT() {
	if !c.rttTimed || seq.LT(c.sndUna, c.rttSeq) {
		return
	}
	m := c.mgr.now().Sub(c.rttStart)
	if (c.state == StateSynSent || c.state == StateSynReceived) && m > c.srtt {
		c.srtt = m
	} else {
		c.srtt = ((time.Duration(AGain-1))*c.srtt + m) / AGain
		dev := m - c.srtt
		if dev < 0 {
			dev = -dev
		}
		c.mdev = ((time.Duration(DGain-1))*c.mdev + dev) / DGain
	}
	c.rttTimed = false
	c.backoff = 0
}

// growCwind implements slow-start/steady-state congestion window growth on
// an ack that advances snd.una by acked bytes (spec.md §4.7.6).
func (c *Conn) growCwind(acked int) {
	if acked <= 0 {
		return
	}
	if c.cwind < c.ssthresh {
		grow := acked
		if grow > int(c.mss) {
			grow = int(c.mss)
		}
		c.cwind += uint32(grow)
	} else {
		grow := uint32(c.mss) * uint32(c.mss) / c.cwind
		if grow == 0 {
			grow = 1
		}
		c.cwind += grow
	}
	if c.cwind > c.sndWnd {
		c.cwind = c.sndWnd
	}
}

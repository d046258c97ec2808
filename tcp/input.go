package tcp

import (
	"github.com/ucip/netstack/ip"
	"github.com/ucip/netstack/nbuf"
	"github.com/ucip/netstack/seq"
)

// input is the Dispatcher Handler registered for ip.ProtoTCP: strip
// options, validate the checksum in place, look up the owning TCB, and run
// the per-state processing pipeline (spec.md §4.7.1-§4.7.3).
func (m *Manager) input(hdr ip.Header, hdrLen int, data *nbuf.Buf) {
	data = m.disp.StripOptions(data, hdrLen)
	if data == nil {
		return
	}
	hdrLen = ip.HeaderLen

	data = m.pool.Pullup(data, hdrLen+HeaderLen)
	if data == nil {
		m.incRunt()
		return
	}
	tcpLen := int(hdr.TotalLen) - hdrLen
	if tcpLen < HeaderLen {
		m.incRunt()
		m.pool.FreeChain(data)
		return
	}
	if pseudoChecksum(data, hdrLen, tcpLen) != 0 {
		m.incChecksum()
		m.pool.FreeChain(data)
		return
	}

	th := Unmarshal(data.Bytes()[hdrLen : hdrLen+HeaderLen])
	if th.DataOff < HeaderLen || th.DataOff > tcpLen {
		m.incRunt()
		m.pool.FreeChain(data)
		return
	}
	if th.DataOff > HeaderLen {
		// Options must land contiguously in the head buffer so every
		// downstream reader can slice them straight out of data.Bytes().
		data = m.pool.Pullup(data, hdrLen+th.DataOff)
		if data == nil {
			m.incRunt()
			return
		}
	}

	local, remote := hdr.Dst, hdr.Src
	c := m.lookup(local, th.DstPort, remote, th.SrcPort)
	if c == nil {
		if th.Flags&FlagRST == 0 {
			m.rejectWithReset(local, remote, th, tcpLen-th.DataOff, flagBytesOf(th))
		}
		m.pool.FreeChain(data)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.keepAlive > 0 {
		m.rearm(c.keepAliveTimer, c.keepAlive, func() { m.onKeepAlive(c) })
	}

	switch c.state {
	case StateClosed:
		if th.Flags&FlagRST == 0 {
			m.rejectWithReset(local, remote, th, tcpLen-th.DataOff, flagBytesOf(th))
		}
		m.pool.FreeChain(data)
		return
	case StateListen:
		m.inputListen(c, local, remote, th, tcpLen, data)
		return
	case StateSynSent:
		m.inputSynSent(c, th, data)
		return
	}

	segLen := tcpLen - th.DataOff
	flagBytes := flagBytesOf(th)

	payload := m.pool.Split(data, hdrLen+th.DataOff)
	m.pool.FreeChain(data)

	seqNo, segLen, ok := c.trimSeg(th, &payload, segLen, flagBytes)
	if !ok {
		return
	}
	m.procInFlags(c, th, seqNo, segLen, flagBytes, payload)
}

// inputListen implements the clone rule (spec.md §4.7.2): a SYN to a
// listener with CLONE set spawns a fresh TCB for the connection and leaves
// the listener itself in LISTEN; without CLONE, the listener transitions
// directly.
func (m *Manager) inputListen(c *Conn, local, remote uint32, th Header, tcpLen int, data *nbuf.Buf) {
	defer m.pool.FreeChain(data)

	if th.Flags&FlagRST != 0 {
		return
	}
	if th.Flags&FlagACK != 0 {
		m.rejectWithReset(local, remote, th, tcpLen-th.DataOff, flagBytesOf(th))
		return
	}
	if th.Flags&FlagSYN == 0 {
		return
	}

	target := c
	if c.clone {
		if c.listenCount >= c.backlog {
			m.rejectWithReset(local, remote, th, tcpLen-th.DataOff, flagBytesOf(th))
			return
		}
		child := m.alloc()
		if child == nil {
			m.rejectWithReset(local, remote, th, tcpLen-th.DataOff, flagBytesOf(th))
			return
		}
		child.mu.Lock()
		child.localIP, child.localPort = local, th.DstPort
		child.remoteIP, child.remotePort = remote, th.SrcPort
		child.mss = c.mss
		child.keepAlive = c.keepAlive
		child.traceLevel = c.traceLevel
		child.parent = c
		m.link(child)
		target = child

		c.listenQ = append(c.listenQ, child)
		c.listenCount++
		c.cond.Broadcast()
		child.mu.Unlock()
		target.mu.Lock()
		defer target.mu.Unlock()
	}

	target.beginPassiveOpen(th, m.now())
}

// inputSynSent validates the ack and SYN per RFC 793 §3.9's SYN_SENT
// handling (spec.md §4.7.3 step 9).
func (m *Manager) inputSynSent(c *Conn, th Header, data *nbuf.Buf) {
	defer m.pool.FreeChain(data)

	ackOK := true
	if th.Flags&FlagACK != 0 {
		ackOK = seq.GT(th.Ack, c.iss) && seq.LE(th.Ack, c.sndNxt)
		if !ackOK {
			if th.Flags&FlagRST == 0 {
				m.rejectWithReset(c.localIP, c.remoteIP, th, 0, 0)
			}
			return
		}
	}
	if th.Flags&FlagRST != 0 {
		if ackOK {
			c.closeSelfLocked(ErrReset)
		}
		return
	}
	if th.Flags&FlagSYN == 0 {
		return
	}

	c.irs = th.Seq
	c.rcvNxt = th.Seq + 1
	if th.DataOff > HeaderLen {
		opts := data.Bytes()[ip.HeaderLen+HeaderLen : ip.HeaderLen+th.DataOff]
		if mss, ok := decodeMSSOption(opts); ok && mss < c.mss {
			c.mss = mss
		}
	}
	if th.Flags&FlagACK != 0 {
		c.drainAcked(int(th.Ack-c.sndUna), true)
		c.sndUna = th.Ack
	}
	if seq.GT(c.sndUna, c.iss) {
		c.state = StateEstablished
		c.backoff = 0
		c.retransCount = 0
		c.mgr.disarm(c.resendTimer)
	} else {
		c.state = StateSynReceived
		c.synack = true
	}
	c.cond.Broadcast()
	c.output()
}

// flagBytesOf returns the number of sequence numbers SYN and FIN consume,
// which RFC 793's acceptability and trimming arithmetic must count as if
// they were data bytes at the front and back of the segment respectively.
func flagBytesOf(th Header) int {
	n := 0
	if th.Flags&FlagSYN != 0 {
		n++
	}
	if th.Flags&FlagFIN != 0 {
		n++
	}
	return n
}

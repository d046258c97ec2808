package ppp

import "github.com/ucip/netstack/nbuf"

// Input feeds raw octets read off the device into the async-HDLC receive
// parser (pppInProc in original_source/src/netppp.c). It is intended to be
// called from a single reader goroutine; the outbound path and the
// negotiation callbacks (SetSendConfig et al.) synchronize independently via
// l.mu and never touch the receive-state fields below.
func (l *Link) Input(data []byte) {
	l.incInBytes(len(data))

	l.mu.Lock()
	accm := l.inACCM
	l.mu.Unlock()

	for _, c := range data {
		l.inByte(c, &accm)
	}
}

func (l *Link) inByte(c byte, accm *ExtACCM) {
	if accm.escapes(c) {
		switch c {
		case escapeByte:
			l.inEscaped = true
		case flagByte:
			l.inFlag()
		default:
			// A control character stuffed by the physical layer (or injected
			// noise); neither escape nor flag, just drop it.
		}
		return
	}

	if l.inEscaped {
		l.inEscaped = false
		c ^= escapeMask
	}
	l.inFCS = updateFCS(l.inFCS, c)

	switch l.inState {
	case recvIdle, recvStart:
		// No frame in progress yet; bytes before the first flag are noise.
	case recvAddress:
		if c == allStations {
			l.inState = recvControl
		} else {
			l.inProtocol1(c)
		}
	case recvControl:
		if c == control {
			l.inState = recvProtocol1
		} else {
			l.inDrop()
			l.inState = recvStart
		}
	case recvProtocol1:
		l.inProtocol1(c)
	case recvProtocol2:
		l.inProtocol |= int(c)
		l.inState = recvData
	case recvData:
		l.inAppend(c)
	}
}

func (l *Link) inProtocol1(c byte) {
	if c&1 != 0 {
		l.inProtocol = int(c)
		l.inState = recvData
	} else {
		l.inProtocol = int(c) << 8
		l.inState = recvProtocol2
	}
}

// inFlag closes out whatever frame was in progress and starts the next one,
// mirroring the PDADDRESS-on-flag transition in pppInProc.
func (l *Link) inFlag() {
	switch {
	case l.inState == recvAddress:
		// Idle flag (or the closing flag of the previous frame already
		// handled); nothing to deliver.
	case l.inState < recvData:
		l.inDrop()
	case l.inFCS != GoodFCS:
		l.incInErrors()
		l.inDrop()
	default:
		l.inDeliver()
	}
	l.inFCS = InitFCS
	l.inEscaped = false
	l.inState = recvAddress
}

func (l *Link) inDrop() {
	if l.inHead != nil {
		l.pool.FreeChain(l.inHead)
		l.inHead = nil
		l.inTail = nil
	}
	l.inLen = 0
}

func (l *Link) inAppend(c byte) {
	if l.inTail == nil {
		nb := l.pool.Get()
		if nb == nil {
			l.inDrop()
			l.incInErrors()
			return
		}
		l.pool.Append(nb, []byte{c}, 1)
		l.inHead, l.inTail = nb, nb
		l.inLen = 1
		return
	}
	if l.pool.Append(l.inTail, []byte{c}, 1) == 0 {
		l.inDrop()
		l.incInErrors()
		return
	}
	l.inLen++
	if l.inTail.NextBuf != nil {
		l.inTail = l.inTail.NextBuf
	}
}

// inDeliver strips the 2-byte FCS trailer off the assembled frame and hands
// it to dispatch.
func (l *Link) inDeliver() {
	if l.inHead == nil || l.inLen < 2 {
		l.inDrop()
		return
	}
	nbuf.ChainLen(l.inHead)
	nbuf.Trim(l.pool, nil, &l.inHead, -2)
	head := l.inHead
	proto := l.inProtocol
	l.inHead, l.inTail, l.inLen = nil, nil, 0
	if head == nil {
		return
	}
	l.incInPackets()
	l.dispatch(head, proto)
}

func (l *Link) dispatch(head *nbuf.Buf, proto int) {
	switch proto {
	case ProtoLCP, ProtoIPCP, ProtoPAP:
		l.deliverControl(head, proto)
	case ProtoVJCComp:
		if l.vj != nil && l.vj.Enabled() {
			out, err := l.vj.DecompressCompressed(head)
			if err != nil {
				l.incDispatchError()
				l.pool.FreeChain(head)
				return
			}
			l.deliverIP(out)
			return
		}
		l.incDispatchError()
		l.pool.FreeChain(head)
	case ProtoVJCUncomp:
		if l.vj != nil && l.vj.Enabled() {
			if err := l.vj.DecompressUncompressed(head); err != nil {
				l.incDispatchError()
				l.pool.FreeChain(head)
				return
			}
			l.deliverIP(head)
			return
		}
		l.incDispatchError()
		l.pool.FreeChain(head)
	case ProtoIP:
		l.deliverIP(head)
	default:
		l.incDispatchError()
		l.pool.FreeChain(head)
	}
}

func (l *Link) deliverControl(head *nbuf.Buf, proto int) {
	l.mu.Lock()
	h := l.handlers[proto]
	l.mu.Unlock()
	if h == nil {
		l.incDispatchError()
		l.pool.FreeChain(head)
		return
	}
	buf := make([]byte, head.ChainLen())
	nbuf.CopyOut(buf, head, 0, len(buf))
	l.pool.FreeChain(head)
	h(buf)
}

func (l *Link) deliverIP(chain *nbuf.Buf) {
	if chain == nil {
		return
	}
	h := l.ipHandlerLocked()
	if h == nil {
		l.incDispatchError()
		l.pool.FreeChain(chain)
		return
	}
	h(chain)
}

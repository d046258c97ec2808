package ppp

import (
	"bytes"
	"time"

	"github.com/ucip/netstack/nbuf"
)

// Output frames an outbound IP datagram for the wire, attempting Van
// Jacobson TCP/IP header compression first when a VJ collaborator is
// installed and enabled. It implements ip.Link so an ip.Dispatcher can use
// this Link directly as its default route (pppOutput in
// original_source/src/netppp.c).
func (l *Link) Output(chain *nbuf.Buf) error {
	proto := ProtoIP
	out := chain
	if l.vj != nil && l.vj.Enabled() {
		if p, compressed := l.vj.CompressTCP(chain); compressed != nil {
			proto, out = p, compressed
		}
	}
	return l.send(proto, out)
}

// send frames chain as protocol and writes it to the device, freeing chain
// once the bytes are built.
func (l *Link) send(proto int, chain *nbuf.Buf) error {
	defer l.pool.FreeChain(chain)

	l.mu.Lock()
	accm := l.outACCM
	pcomp := l.pcomp
	accomp := l.accomp
	needFlag := time.Since(l.lastXmit) > l.maxIdleFlag
	l.lastXmit = time.Now()
	l.mu.Unlock()

	var out bytes.Buffer
	out.Grow(chain.ChainLen() + 8)

	if needFlag {
		out.WriteByte(flagByte)
	}

	fcs := uint16(InitFCS)
	stuff := func(c byte) {
		fcs = updateFCS(fcs, c)
		if accm.escapes(c) {
			out.WriteByte(escapeByte)
			out.WriteByte(c ^ escapeMask)
		} else {
			out.WriteByte(c)
		}
	}

	if !accomp {
		stuff(allStations)
		stuff(control)
	}
	if pcomp && proto < 0x100 {
		stuff(byte(proto))
	} else {
		stuff(byte(proto >> 8))
		stuff(byte(proto))
	}
	for b := chain; b != nil; b = b.NextBuf {
		for _, c := range b.Bytes() {
			stuff(c)
		}
	}

	trailer := ^fcs
	stuff(byte(trailer))
	stuff(byte(trailer >> 8))
	out.WriteByte(flagByte)

	n, err := l.device.Write(out.Bytes())
	if err != nil {
		l.incOutErrors()
		return err
	}
	l.incOutBytes(n)
	l.incOutPackets()
	return nil
}

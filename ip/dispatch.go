package ip

import (
	"sync"
	"sync/atomic"

	"github.com/ucip/netstack/nbuf"
)

// Loopback is the reserved loopback address 127.0.0.1, compared against the
// numeric form produced by Unmarshal/binary.BigEndian — the same
// representation LocalAddr and a Header's Src/Dst fields use.
const Loopback uint32 = 0x7f000001

// DefaultTTL is used by Send when a caller doesn't need a different value.
const DefaultTTL = 64

// Protocol numbers this stack understands (spec.md §4.5, §4.6, §4.7).
const (
	ProtoICMP = 1
	ProtoTCP  = 6
)

// Link is the single egress collaborator a Dispatcher needs: something that
// can carry a finished IP datagram out (the PPP link, concretely) and report
// its MTU. This plays the role the original's defIfType/defIfID pair and
// pppOutput/pppMTU played, collapsed into one small interface (spec.md §1:
// PPP is named as an external collaborator of IP, not something IP
// constructs itself).
type Link interface {
	Output(chain *nbuf.Buf) error
	MTU() int
}

// Handler receives a datagram addressed to this host. hdrLen is the IP
// header length actually present (after option stripping, data still
// starts hdrLen bytes into payload); data is the full chain including the
// header — handlers that need just the payload call ip.Payload or
// ip.StripOptions themselves, mirroring how the original passed inBuf and
// hdrLen to icmpInput/tcpInput together (original_source/src/netip.c).
type Handler func(hdr Header, hdrLen int, data *nbuf.Buf)

// Dispatcher implements the IPv4 ingress/egress pipeline: validation,
// loopback short-circuit, routing to upper-layer Handlers, and handoff to
// a Link for anything not addressed to this host (spec.md §4.5). One
// Dispatcher function serves both the input and output paths, the same way
// ipDispatch did in the original, so the loopback and "can't forward" rules
// only need to be written once.
type Dispatcher struct {
	Pool *nbuf.Pool
	Stats

	mu        sync.Mutex
	localAddr uint32
	link      Link

	handlers [256]Handler

	nextID uint32
}

// NewDispatcher creates a Dispatcher with no default route; SetRoute must
// be called before Send can deliver anything off-host.
func NewDispatcher(pool *nbuf.Pool) *Dispatcher {
	return &Dispatcher{Pool: pool, nextID: 1}
}

// RegisterHandler installs the upper-layer handler for an IP protocol
// number, overwriting any previous registration.
func (d *Dispatcher) RegisterHandler(proto byte, h Handler) {
	d.handlers[proto] = h
}

// SetRoute installs the default route: a local address and the link that
// reaches everything not addressed to it. This is the Go equivalent of
// ipSetDefault (original_source/src/netip.c): the original latched the
// first interface to deliver a datagram as the default if none had been
// configured yet; this port requires an explicit call instead of that
// implicit first-packet capture.
func (d *Dispatcher) SetRoute(localAddr uint32, link Link) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.localAddr = localAddr
	d.link = link
}

// ClearRoute removes the default route; subsequent off-host datagrams are
// dropped as CantForward.
func (d *Dispatcher) ClearRoute() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.localAddr = 0
	d.link = nil
}

func (d *Dispatcher) route() (uint32, Link) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.localAddr, d.link
}

// Input validates an incoming datagram and dispatches it: to a registered
// Handler if addressed to this host, or back out through the default
// route if it came from this host and is headed elsewhere (spec.md §4.5's
// ingress pipeline, grounded on ipInput/ipDispatch in
// original_source/src/netip.c).
func (d *Dispatcher) Input(chain *nbuf.Buf) {
	d.incTotal()
	if chain == nil {
		return
	}

	if chain.Len() < HeaderLen {
		chain = d.Pool.Pullup(chain, HeaderLen)
		if chain == nil {
			d.incTooSmall()
			return
		}
	}
	hdr := Unmarshal(chain.Bytes())
	if hdr.Version() != Version4 {
		d.incBadVersion()
		d.Pool.FreeChain(chain)
		return
	}
	hdrLen := hdr.IHL()
	if hdrLen < HeaderLen {
		d.incBadHeaderLen()
		d.Pool.FreeChain(chain)
		return
	}
	if chain.Len() < hdrLen {
		chain = d.Pool.Pullup(chain, hdrLen)
		if chain == nil {
			d.incBadHeaderLen()
			return
		}
		hdr = Unmarshal(chain.Bytes())
	}
	if nbuf.InChkSum(chain, hdrLen, 0) != 0 {
		d.incBadChecksum()
		d.Pool.FreeChain(chain)
		return
	}
	if int(hdr.TotalLen) < hdrLen {
		d.incBadLen()
		d.Pool.FreeChain(chain)
		return
	}

	d.dispatch(chain, hdr, hdrLen)
}

// Send builds an IPv4 header around payload and routes it exactly as if it
// had arrived over the wire destined elsewhere: the same loopback
// short-circuit applies, so a datagram addressed to ourselves never
// touches the Link (ipSend in original_source/src/netip.c).
func (d *Dispatcher) Send(protocol byte, src, dst uint32, payload *nbuf.Buf) {
	d.SendTOS(protocol, src, dst, 0, payload)
}

// SendTOS is Send with an explicit IP TOS byte, for callers (tcp.Conn.output,
// by way of tcp_connect's tos argument, spec.md §6) that need to mark
// precedence/delay/throughput on outgoing datagrams.
func (d *Dispatcher) SendTOS(protocol byte, src, dst uint32, tos byte, payload *nbuf.Buf) {
	if payload == nil {
		return
	}
	hdr := Header{
		VersionIHL: Version4<<4 | (HeaderLen / 4),
		TOS:        tos,
		TotalLen:   Host16(payload.ChainLen() + HeaderLen),
		ID:         Host16(atomic.AddUint32(&d.nextID, 1)),
		TTL:        DefaultTTL,
		Protocol:   protocol,
		Src:        src,
		Dst:        dst,
	}
	var hdrBytes [HeaderLen]byte
	hdr.Marshal(hdrBytes[:])
	chain := d.Pool.Prepend(payload, hdrBytes[:], HeaderLen)
	if chain == nil {
		d.incBuffers()
		return
	}
	d.dispatch(chain, hdr, HeaderLen)
}

// dispatch implements the routing decision shared by Input and Send: the
// chain's data pointer references the start of the IP header, with
// length/ID in host order and the address fields in whatever numeric
// representation Unmarshal/the caller produced (original_source/src/netip.c
// ipDispatch's invariant, restated for the Go port).
func (d *Dispatcher) dispatch(chain *nbuf.Buf, hdr Header, hdrLen int) {
	if int(hdr.TotalLen) < hdrLen {
		d.incBadLen()
		d.Pool.FreeChain(chain)
		return
	}

	localAddr, link := d.route()

	if hdr.Dst == localAddr || hdr.Dst == Loopback {
		h := d.handlers[hdr.Protocol]
		if h == nil {
			d.incDropped()
			d.Pool.FreeChain(chain)
			return
		}
		h(hdr, hdrLen, chain)
		return
	}

	if hdr.Src != localAddr {
		d.incCantForward()
		d.Pool.FreeChain(chain)
		return
	}

	if link == nil {
		d.incDropped()
		d.Pool.FreeChain(chain)
		return
	}

	hdr.Checksum = 0
	hdr.Marshal(chain.Bytes()[:HeaderLen])
	hdr.Checksum = nbuf.InChkSum(chain, hdrLen, 0)
	hdr.Marshal(chain.Bytes()[:HeaderLen])

	if err := link.Output(chain); err != nil {
		d.incDropped()
		d.Pool.FreeChain(chain)
		return
	}
	d.incDelivered()
}

// MTU returns the maximum transmission unit available to reach dst: the
// pool's buffer size for the host itself or the loopback address, or the
// route's link MTU otherwise, or 0 if dst is unreachable (ipMTU in
// original_source/src/netip.c).
func (d *Dispatcher) MTU(dst uint32) int {
	localAddr, link := d.route()
	if dst == localAddr || dst == Loopback {
		return nbuf.NBUFSZ
	}
	if link == nil {
		return 0
	}
	return link.MTU()
}

// StripOptions removes IP options from the front of chain, leaving just
// the fixed 20-byte header followed by the payload. Allocation failure
// during the strip is unrecoverable: the chain is freed and StripOptions
// returns nil (ipOptStrip in original_source/src/netip.c, which treats a
// failed nSplit/nTrim the same way).
func (d *Dispatcher) StripOptions(chain *nbuf.Buf, ipHeaderLen int) *nbuf.Buf {
	optSize := ipHeaderLen - HeaderLen
	if optSize < 0 {
		d.Pool.FreeChain(chain)
		d.incDropped()
		return nil
	}
	if optSize == 0 {
		return chain
	}
	tail := d.Pool.Split(chain, ipHeaderLen)
	if tail == nil {
		d.Pool.FreeChain(chain)
		d.incDropped()
		return nil
	}
	if got := nbuf.Trim(d.Pool, nil, &chain, -optSize); got < optSize {
		d.Pool.FreeChain(tail)
		d.Pool.FreeChain(chain)
		d.incDropped()
		return nil
	}
	return nbuf.Cat(chain, tail)
}

package ip_test

import (
	"errors"
	"testing"

	"github.com/ucip/netstack/ip"
	"github.com/ucip/netstack/nbuf"
)

const (
	localAddr = 0x0a000001 // 10.0.0.1
	peerAddr  = 0x0a000002 // 10.0.0.2
)

type fakeLink struct {
	sent []*nbuf.Buf
	mtu  int
	fail bool
}

func (l *fakeLink) Output(chain *nbuf.Buf) error {
	if l.fail {
		return errors.New("link down")
	}
	l.sent = append(l.sent, chain)
	return nil
}

func (l *fakeLink) MTU() int { return l.mtu }

func buildDatagram(t *testing.T, pool *nbuf.Pool, protocol byte, src, dst uint32, payload []byte) *nbuf.Buf {
	t.Helper()
	body := pool.Get()
	if body == nil {
		t.Fatal("pool exhausted")
	}
	if pool.Append(body, payload, len(payload)) != len(payload) {
		t.Fatal("failed to append payload")
	}
	hdr := ip.Header{
		VersionIHL: ip.Version4<<4 | (ip.HeaderLen / 4),
		TotalLen:   ip.Host16(len(payload) + ip.HeaderLen),
		ID:         7,
		TTL:        64,
		Protocol:   protocol,
		Src:        src,
		Dst:        dst,
	}
	var raw [ip.HeaderLen]byte
	hdr.Marshal(raw[:])
	chain := pool.Prepend(body, raw[:], ip.HeaderLen)
	if chain == nil {
		t.Fatal("prepend failed")
	}
	hdr.Checksum = nbuf.InChkSum(chain, ip.HeaderLen, 0)
	hdr.Marshal(chain.Bytes()[:ip.HeaderLen])
	return chain
}

func TestInputDeliversToRegisteredHandler(t *testing.T) {
	pool := nbuf.NewPool(8)
	d := ip.NewDispatcher(pool)

	var got []byte
	d.RegisterHandler(ip.ProtoICMP, func(hdr ip.Header, hdrLen int, data *nbuf.Buf) {
		got = make([]byte, data.ChainLen()-hdrLen)
		nbuf.CopyOut(got, data, hdrLen, len(got))
		pool.FreeChain(data)
	})

	chain := buildDatagram(t, pool, ip.ProtoICMP, peerAddr, localAddr, []byte("ping"))
	d.SetRoute(localAddr, &fakeLink{mtu: 256})
	d.Input(chain)

	if string(got) != "ping" {
		t.Fatalf("handler got %q, want %q", got, "ping")
	}
	if d.Stats.Snapshot().Delivered != 0 {
		t.Fatal("a locally delivered datagram should not count as Delivered (that's for egress)")
	}
}

func TestInputLoopbackAddressIsTreatedAsLocal(t *testing.T) {
	pool := nbuf.NewPool(8)
	d := ip.NewDispatcher(pool)
	delivered := false
	d.RegisterHandler(ip.ProtoICMP, func(hdr ip.Header, hdrLen int, data *nbuf.Buf) {
		delivered = true
		pool.FreeChain(data)
	})
	chain := buildDatagram(t, pool, ip.ProtoICMP, peerAddr, ip.Loopback, nil)
	d.Input(chain)
	if !delivered {
		t.Fatal("datagram addressed to the loopback address should be delivered locally")
	}
}

func TestInputDropsBadChecksum(t *testing.T) {
	pool := nbuf.NewPool(8)
	d := ip.NewDispatcher(pool)
	d.RegisterHandler(ip.ProtoICMP, func(hdr ip.Header, hdrLen int, data *nbuf.Buf) {
		t.Fatal("handler should not run on a corrupt checksum")
	})
	chain := buildDatagram(t, pool, ip.ProtoICMP, peerAddr, localAddr, []byte("x"))
	chain.Bytes()[1] ^= 0xff // corrupt TOS byte, invalidating the checksum
	d.Input(chain)
	if d.Stats.Snapshot().BadChecksum != 1 {
		t.Fatal("expected one BadChecksum count")
	}
	if pool.Stats().CurFree != 8 {
		t.Fatal("dropped chain's buffers should all be returned to the pool")
	}
}

func TestInputFromNonLocalNonLocalDestIsCantForward(t *testing.T) {
	pool := nbuf.NewPool(8)
	d := ip.NewDispatcher(pool)
	d.SetRoute(localAddr, &fakeLink{mtu: 256})
	chain := buildDatagram(t, pool, ip.ProtoTCP, peerAddr, 0x0a0000ff, nil)
	d.Input(chain)
	if d.Stats.Snapshot().CantForward != 1 {
		t.Fatal("datagram from a peer to a third address should be dropped as CantForward")
	}
}

func TestSendFromLocalToOffHostGoesThroughLink(t *testing.T) {
	pool := nbuf.NewPool(8)
	d := ip.NewDispatcher(pool)
	link := &fakeLink{mtu: 256}
	d.SetRoute(localAddr, link)

	payload := pool.Get()
	pool.Append(payload, []byte("hello"), 5)
	d.Send(ip.ProtoTCP, localAddr, peerAddr, payload)

	if len(link.sent) != 1 {
		t.Fatalf("expected one outbound datagram, got %d", len(link.sent))
	}
	hdr := ip.Unmarshal(link.sent[0].Bytes())
	if hdr.Protocol != ip.ProtoTCP || hdr.Dst != peerAddr {
		t.Fatalf("unexpected header on the sent datagram: %+v", hdr)
	}
	if nbuf.InChkSum(link.sent[0], hdr.IHL(), 0) != 0 {
		t.Fatal("outbound header checksum should verify")
	}
	if d.Stats.Snapshot().Delivered != 1 {
		t.Fatal("expected Delivered to be incremented for the egress path")
	}
}

func TestSendToSelfNeverTouchesLink(t *testing.T) {
	pool := nbuf.NewPool(8)
	d := ip.NewDispatcher(pool)
	link := &fakeLink{mtu: 256}
	d.SetRoute(localAddr, link)
	d.RegisterHandler(ip.ProtoICMP, func(hdr ip.Header, hdrLen int, data *nbuf.Buf) {
		pool.FreeChain(data)
	})

	payload := pool.Get()
	d.Send(ip.ProtoICMP, localAddr, localAddr, payload)

	if len(link.sent) != 0 {
		t.Fatal("a datagram addressed to ourselves must never reach the link")
	}
}

func TestMTUReturnsPoolSizeForLocalAndLoopback(t *testing.T) {
	pool := nbuf.NewPool(8)
	d := ip.NewDispatcher(pool)
	d.SetRoute(localAddr, &fakeLink{mtu: 512})

	if got := d.MTU(localAddr); got != nbuf.NBUFSZ {
		t.Fatalf("MTU(local) = %d, want %d", got, nbuf.NBUFSZ)
	}
	if got := d.MTU(ip.Loopback); got != nbuf.NBUFSZ {
		t.Fatalf("MTU(loopback) = %d, want %d", got, nbuf.NBUFSZ)
	}
	if got := d.MTU(peerAddr); got != 512 {
		t.Fatalf("MTU(peer) = %d, want 512", got)
	}
}

func TestMTUUnreachableWithNoRoute(t *testing.T) {
	pool := nbuf.NewPool(8)
	d := ip.NewDispatcher(pool)
	if got := d.MTU(peerAddr); got != 0 {
		t.Fatalf("MTU with no route = %d, want 0", got)
	}
}

func TestStripOptionsRemovesOptionBytes(t *testing.T) {
	pool := nbuf.NewPool(8)
	d := ip.NewDispatcher(pool)

	const optLen = 4
	chain := buildDatagram(t, pool, ip.ProtoTCP, peerAddr, localAddr, []byte("payload-data"))
	// Simulate option bytes by prepending extra header bytes ahead of the
	// fixed header and bumping IHL accordingly.
	opts := []byte{1, 1, 1, 1}
	chain = pool.Prepend(chain, opts, optLen)
	hdr := ip.Unmarshal(chain.Bytes())
	hdr.VersionIHL = ip.Version4<<4 | byte((ip.HeaderLen+optLen)/4)
	hdr.Marshal(chain.Bytes())

	stripped := d.StripOptions(chain, ip.HeaderLen+optLen)
	if stripped == nil {
		t.Fatal("StripOptions failed")
	}
	want := []byte("payload-data")
	got := make([]byte, len(want))
	nbuf.CopyOut(got, stripped, ip.HeaderLen, len(got))
	if string(got) != string(want) {
		t.Fatalf("payload after strip = %q, want %q", got, want)
	}
}

func TestSendFailsClosedWhenLinkErrors(t *testing.T) {
	pool := nbuf.NewPool(8)
	d := ip.NewDispatcher(pool)
	d.SetRoute(localAddr, &fakeLink{fail: true})
	before := pool.Stats().CurFree

	payload := pool.Get()
	d.Send(ip.ProtoTCP, localAddr, peerAddr, payload)

	if d.Stats.Snapshot().Dropped != 1 {
		t.Fatal("a link error should count as Dropped")
	}
	if pool.Stats().CurFree != before+1 {
		t.Fatal("the chain should be freed back to the pool when the link rejects it")
	}
}

package icmp_test

import (
	"testing"

	"github.com/ucip/netstack/icmp"
	"github.com/ucip/netstack/ip"
	"github.com/ucip/netstack/nbuf"
)

const (
	localAddr = 0x0a000001
	peerAddr  = 0x0a000002
)

type fakeLink struct {
	sent []*nbuf.Buf
}

func (l *fakeLink) Output(chain *nbuf.Buf) error {
	l.sent = append(l.sent, chain)
	return nil
}
func (l *fakeLink) MTU() int { return 512 }

func buildICMP(t *testing.T, pool *nbuf.Pool, typ, code byte, extra []byte, src, dst uint32) *nbuf.Buf {
	t.Helper()
	body := make([]byte, 8+len(extra))
	body[0] = typ
	body[1] = code
	copy(body[8:], extra)

	chain := pool.Get()
	if pool.Append(chain, body, len(body)) != len(body) {
		t.Fatal("append failed")
	}
	hdr := ip.Header{
		VersionIHL: ip.Version4<<4 | (ip.HeaderLen / 4),
		TotalLen:   ip.Host16(len(body) + ip.HeaderLen),
		TTL:        64,
		Protocol:   ip.ProtoICMP,
		Src:        src,
		Dst:        dst,
	}
	var raw [ip.HeaderLen]byte
	hdr.Marshal(raw[:])
	chain = pool.Prepend(chain, raw[:], ip.HeaderLen)
	cksum := nbuf.InChkSum(chain, len(body), ip.HeaderLen)
	b := chain.Bytes()
	b[ip.HeaderLen+2] = byte(cksum >> 8)
	b[ip.HeaderLen+3] = byte(cksum)
	return chain
}

func newStack(t *testing.T) (*nbuf.Pool, *ip.Dispatcher, *fakeLink) {
	t.Helper()
	pool := nbuf.NewPool(16)
	disp := ip.NewDispatcher(pool)
	link := &fakeLink{}
	disp.SetRoute(localAddr, link)
	return pool, disp, link
}

func TestEchoRequestProducesReply(t *testing.T) {
	pool, disp, link := newStack(t)
	icmp.New(disp, localAddr, nil)

	chain := buildICMP(t, pool, icmp.TypeEcho, 0, []byte("payload"), peerAddr, localAddr)
	disp.Input(chain)

	if len(link.sent) != 1 {
		t.Fatalf("expected one reply sent, got %d", len(link.sent))
	}
	outerHdr := ip.Unmarshal(link.sent[0].Bytes())
	if outerHdr.Dst != peerAddr || outerHdr.Src != localAddr {
		t.Fatalf("reply addressed wrong: %+v", outerHdr)
	}
	icmpType := link.sent[0].Bytes()[outerHdr.IHL()]
	if icmpType != icmp.TypeEchoReply {
		t.Fatalf("reply type = %d, want EchoReply", icmpType)
	}
	icmpLen := int(outerHdr.TotalLen) - outerHdr.IHL()
	if nbuf.InChkSum(link.sent[0], icmpLen, outerHdr.IHL()) != 0 {
		t.Fatal("reply ICMP checksum should verify")
	}
}

func TestTimestampRequestProducesReply(t *testing.T) {
	pool, disp, link := newStack(t)
	icmp.New(disp, localAddr, nil)

	chain := buildICMP(t, pool, icmp.TypeTstamp, 0, make([]byte, 12), peerAddr, localAddr)
	disp.Input(chain)

	if len(link.sent) != 1 {
		t.Fatalf("expected one reply sent, got %d", len(link.sent))
	}
	outerHdr := ip.Unmarshal(link.sent[0].Bytes())
	icmpType := link.sent[0].Bytes()[outerHdr.IHL()]
	if icmpType != icmp.TypeTstampReply {
		t.Fatalf("reply type = %d, want TstampReply", icmpType)
	}
}

func TestUnreachableDeliversAdvisory(t *testing.T) {
	pool, disp, _ := newStack(t)
	var gotCode int
	var gotEmbedded ip.Header
	icmp.New(disp, localAddr, func(code int, embedded ip.Header) {
		gotCode = code
		gotEmbedded = embedded
	})

	embeddedHdr := ip.Header{
		VersionIHL: ip.Version4<<4 | (ip.HeaderLen / 4),
		TotalLen:   ip.HeaderLen + 8,
		Protocol:   ip.ProtoTCP,
		Src:        localAddr,
		Dst:        0x08080808,
	}
	var embeddedRaw [ip.HeaderLen + 8]byte
	embeddedHdr.Marshal(embeddedRaw[:])

	chain := buildICMP(t, pool, icmp.TypeUnreach, icmp.UnreachHost, embeddedRaw[:], peerAddr, localAddr)
	disp.Input(chain)

	if gotCode != icmp.AdvisoryUnreachHost {
		t.Fatalf("advisory code = %d, want AdvisoryUnreachHost", gotCode)
	}
	if gotEmbedded.Dst != 0x08080808 {
		t.Fatalf("embedded header dst = %x, want 0x08080808", gotEmbedded.Dst)
	}
}

func TestErrorSuppressedForNonFirstFragment(t *testing.T) {
	pool, disp, link := newStack(t)

	orig := pool.Get()
	pool.Append(orig, []byte("x"), 1)
	hdr := ip.Header{
		VersionIHL: ip.Version4<<4 | (ip.HeaderLen / 4),
		TotalLen:   ip.HeaderLen + 1,
		FlagsFrag:  5, // non-zero fragment offset: not the first fragment
		Protocol:   ip.ProtoTCP,
		Src:        peerAddr,
		Dst:        localAddr,
	}
	var raw [ip.HeaderLen]byte
	hdr.Marshal(raw[:])
	orig = pool.Prepend(orig, raw[:], ip.HeaderLen)

	h := icmp.New(disp, localAddr, nil)
	h.Error(orig, hdr, ip.HeaderLen, icmp.TypeUnreach, icmp.UnreachPort)

	if len(link.sent) != 0 {
		t.Fatal("an error about a non-first fragment must never be sent")
	}
}

func TestErrorSuppressedForICMPErrorOriginal(t *testing.T) {
	pool, disp, link := newStack(t)
	h := icmp.New(disp, localAddr, nil)

	orig := buildICMP(t, pool, icmp.TypeUnreach, icmp.UnreachPort, nil, peerAddr, localAddr)
	hdr := ip.Unmarshal(orig.Bytes())

	h.Error(orig, hdr, ip.HeaderLen, icmp.TypeUnreach, icmp.UnreachHost)

	if len(link.sent) != 0 {
		t.Fatal("an error about another ICMP error must never be sent")
	}
}

func TestErrorIsSentForOrdinaryDatagram(t *testing.T) {
	pool, disp, link := newStack(t)
	h := icmp.New(disp, localAddr, nil)

	orig := pool.Get()
	pool.Append(orig, []byte("tcpdataetc"), 10)
	hdr := ip.Header{
		VersionIHL: ip.Version4<<4 | (ip.HeaderLen / 4),
		TotalLen:   ip.HeaderLen + 10,
		Protocol:   ip.ProtoTCP,
		Src:        peerAddr,
		Dst:        localAddr,
	}
	var raw [ip.HeaderLen]byte
	hdr.Marshal(raw[:])
	orig = pool.Prepend(orig, raw[:], ip.HeaderLen)

	h.Error(orig, hdr, ip.HeaderLen, icmp.TypeUnreach, icmp.UnreachPort)

	if len(link.sent) != 1 {
		t.Fatalf("expected one ICMP error datagram sent, got %d", len(link.sent))
	}
	outerHdr := ip.Unmarshal(link.sent[0].Bytes())
	if outerHdr.Protocol != ip.ProtoICMP || outerHdr.Dst != peerAddr {
		t.Fatalf("unexpected error datagram header: %+v", outerHdr)
	}
}

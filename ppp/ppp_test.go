package ppp

import (
	"bytes"
	"testing"

	"github.com/ucip/netstack/nbuf"
)

type noopCallbacks struct{}

func (noopCallbacks) LinkUp()                                      {}
func (noopCallbacks) LinkDown()                                    {}
func (noopCallbacks) LinkEstablished()                             {}
func (noopCallbacks) LinkTerminated()                              {}
func (noopCallbacks) SetSendConfig(asyncmap uint32, pcomp, accomp bool) {}
func (noopCallbacks) SetRecvConfig(asyncmap uint32, pcomp, accomp bool) {}
func (noopCallbacks) SetVJ(enabled bool)                           {}
func (noopCallbacks) NPUp(protocol int)                            {}
func (noopCallbacks) NPDown(protocol int)                          {}

func chainBytes(chain *nbuf.Buf) []byte {
	var out []byte
	for b := chain; b != nil; b = b.NextBuf {
		out = append(out, b.Bytes()...)
	}
	return out
}

func newTestLink(pool *nbuf.Pool, w *bytes.Buffer) *Link {
	return New(pool, w, noopCallbacks{})
}

func TestOutputThenInputRecoversOriginalPayload(t *testing.T) {
	pool := nbuf.NewPool(16)
	var wire bytes.Buffer
	tx := newTestLink(pool, &wire)

	payload := []byte{0x45, 0x00, 0x00, 0x1c, 0x7e, 0x7d, 0x01, 0x02, 0xff, 0x00}
	chain := pool.Get()
	pool.Append(chain, payload, len(payload))

	if err := tx.Output(chain); err != nil {
		t.Fatalf("Output: %v", err)
	}

	var got []byte
	rx := newTestLink(pool, &bytes.Buffer{})
	rx.RegisterIP(func(c *nbuf.Buf) {
		got = chainBytes(c)
		pool.FreeChain(c)
	})
	rx.Input(wire.Bytes())

	if !bytes.Equal(got, payload) {
		t.Fatalf("got %x, want %x", got, payload)
	}
}

func TestInputDeliversControlProtocol(t *testing.T) {
	pool := nbuf.NewPool(16)
	var wire bytes.Buffer
	tx := newTestLink(pool, &wire)

	payload := []byte{0x01, 0x02, 0x03}
	chain := pool.Get()
	pool.Append(chain, payload, len(payload))
	if err := tx.send(ProtoLCP, chain); err != nil {
		t.Fatalf("send: %v", err)
	}

	var got []byte
	rx := newTestLink(pool, &bytes.Buffer{})
	rx.RegisterControl(ProtoLCP, func(data []byte) {
		got = append([]byte(nil), data...)
	})
	rx.Input(wire.Bytes())

	if !bytes.Equal(got, payload) {
		t.Fatalf("got %x, want %x", got, payload)
	}
}

func TestInputDropsUnknownProtocol(t *testing.T) {
	pool := nbuf.NewPool(16)
	var wire bytes.Buffer
	tx := newTestLink(pool, &wire)

	chain := pool.Get()
	pool.Append(chain, []byte{0xaa}, 1)
	if err := tx.send(0x1234, chain); err != nil {
		t.Fatalf("send: %v", err)
	}

	rx := newTestLink(pool, &bytes.Buffer{})
	rx.Input(wire.Bytes())

	if got := rx.Snapshot().DispErrors; got != 1 {
		t.Fatalf("DispErrors = %d, want 1", got)
	}
}

func TestInputDropsFrameWithBadFCS(t *testing.T) {
	pool := nbuf.NewPool(16)
	var wire bytes.Buffer
	tx := newTestLink(pool, &wire)

	chain := pool.Get()
	pool.Append(chain, []byte{0x01, 0x02}, 2)
	if err := tx.send(ProtoIP, chain); err != nil {
		t.Fatalf("send: %v", err)
	}
	corrupt := wire.Bytes()
	// Flip a payload bit without touching the framing flags.
	for i, c := range corrupt {
		if c != flagByte {
			corrupt[i] = c ^ 0xff
			break
		}
	}

	var delivered bool
	rx := newTestLink(pool, &bytes.Buffer{})
	rx.RegisterIP(func(c *nbuf.Buf) {
		delivered = true
		pool.FreeChain(c)
	})
	rx.Input(corrupt)

	if delivered {
		t.Fatalf("corrupted frame was delivered")
	}
	if got := rx.Snapshot().InErrors; got != 1 {
		t.Fatalf("InErrors = %d, want 1", got)
	}
}

func TestOutputEscapesFlagAndEscapeBytesInPayload(t *testing.T) {
	pool := nbuf.NewPool(16)
	var wire bytes.Buffer
	tx := newTestLink(pool, &wire)

	payload := []byte{flagByte, escapeByte, 0x00, flagByte}
	chain := pool.Get()
	pool.Append(chain, payload, len(payload))
	if err := tx.send(ProtoIP, chain); err != nil {
		t.Fatalf("send: %v", err)
	}

	raw := wire.Bytes()
	// Every interior flag/escape byte must have been stuffed: only the two
	// frame-delimiting flags should remain unescaped in the wire bytes.
	count := 0
	for _, c := range raw {
		if c == flagByte {
			count++
		}
	}
	if count != 1 && count != 2 {
		t.Fatalf("unexpected flag byte count in framed output: %d", count)
	}

	var got []byte
	rx := newTestLink(pool, &bytes.Buffer{})
	rx.RegisterIP(func(c *nbuf.Buf) {
		got = chainBytes(c)
		pool.FreeChain(c)
	})
	rx.Input(raw)

	if !bytes.Equal(got, payload) {
		t.Fatalf("got %x, want %x", got, payload)
	}
}

func TestMultipleFramesBackToBackShareClosingFlag(t *testing.T) {
	pool := nbuf.NewPool(16)
	var wire bytes.Buffer
	tx := newTestLink(pool, &wire)

	for i := 0; i < 2; i++ {
		chain := pool.Get()
		pool.Append(chain, []byte{byte(i)}, 1)
		if err := tx.send(ProtoIP, chain); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	var frames [][]byte
	rx := newTestLink(pool, &bytes.Buffer{})
	rx.RegisterIP(func(c *nbuf.Buf) {
		frames = append(frames, chainBytes(c))
		pool.FreeChain(c)
	})
	rx.Input(wire.Bytes())

	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0][0] != 0 || frames[1][0] != 1 {
		t.Fatalf("frames out of order: %x %x", frames[0], frames[1])
	}
}

func TestMTUReflectsPeerMRU(t *testing.T) {
	pool := nbuf.NewPool(4)
	l := newTestLink(pool, &bytes.Buffer{})
	if l.MTU() != DefaultMRU {
		t.Fatalf("MTU = %d, want %d", l.MTU(), DefaultMRU)
	}
	l.SetPeerMRU(1500)
	if l.MTU() != 1500 {
		t.Fatalf("MTU after SetPeerMRU = %d, want 1500", l.MTU())
	}
}

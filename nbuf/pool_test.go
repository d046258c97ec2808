package nbuf_test

import (
	"math/rand"
	"testing"

	"github.com/ucip/netstack/nbuf"
)

func TestGetFreeConservation(t *testing.T) {
	const max = 8
	p := nbuf.NewPool(max)

	var held []*nbuf.Buf
	for i := 0; i < max; i++ {
		b := p.Get()
		if b == nil {
			t.Fatalf("Get() returned nil before pool exhausted, i=%d", i)
		}
		held = append(held, b)
	}
	if b := p.Get(); b != nil {
		t.Fatal("Get() on empty pool should return nil")
	}
	for _, b := range held {
		p.FreeOne(b)
	}
	stats := p.Stats()
	if stats.CurFree != max {
		t.Errorf("CurFree = %d, want %d", stats.CurFree, max)
	}
}

func TestDoubleFreePanics(t *testing.T) {
	p := nbuf.NewPool(2)
	b := p.Get()
	p.FreeOne(b)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double free")
		}
	}()
	p.FreeOne(b)
}

func TestPrependAppendInverse(t *testing.T) {
	p := nbuf.NewPool(64)
	rng := rand.New(rand.NewSource(1))

	for trial := 0; trial < 200; trial++ {
		n := rng.Intn(40)
		s := make([]byte, n)
		rng.Read(s)

		head := p.Get()
		chain := p.Prepend(head, s, n)
		if n > 0 && chain == nil {
			t.Fatalf("Prepend failed for n=%d", n)
		}
		if chain == nil {
			continue
		}

		out := make([]byte, n)
		got := nbuf.Trim(p, out, &chain, n)
		if got != n {
			t.Fatalf("Trim returned %d, want %d", got, n)
		}
		for i := range s {
			if out[i] != s[i] {
				t.Fatalf("trimmed data mismatch at %d: got %x want %x", i, out[i], s[i])
			}
		}
		if chain != nil {
			p.FreeChain(chain)
		}
	}
}

func TestSplitCatRoundTrip(t *testing.T) {
	p := nbuf.NewPool(64)
	data := make([]byte, 300)
	for i := range data {
		data[i] = byte(i)
	}

	for k := 0; k <= len(data); k += 17 {
		head := p.Get()
		chain := p.Prepend(head, data, len(data))
		if chain == nil {
			t.Fatalf("prepend setup failed for k=%d", k)
		}
		tail := p.Split(chain, k)
		if k < len(data) && tail == nil {
			t.Fatalf("Split(%d) unexpectedly failed", k)
		}
		combined := nbuf.Cat(chain, tail)
		out := make([]byte, len(data))
		got := nbuf.CopyOut(out, combined, 0, len(data))
		if got != len(data) {
			t.Fatalf("CopyOut after cat returned %d, want %d (k=%d)", got, len(data), k)
		}
		for i := range data {
			if out[i] != data[i] {
				t.Fatalf("k=%d: byte %d mismatch: got %x want %x", k, i, out[i], data[i])
			}
		}
		p.FreeChain(combined)
	}
}

func TestChainLenConsistency(t *testing.T) {
	p := nbuf.NewPool(32)
	head := p.Get()
	p.Append(head, make([]byte, 250), 250)
	if got := nbuf.ChainLen(head); got != head.ChainLen() {
		t.Fatalf("ChainLen() = %d after recompute %d", head.ChainLen(), got)
	}
	sum := 0
	for b := head; b != nil; b = b.NextBuf {
		sum += b.Len()
	}
	if sum != head.ChainLen() {
		t.Errorf("sum of buffer lens = %d, chainLen = %d", sum, head.ChainLen())
	}
	p.FreeChain(head)
}

func TestPullupTooLargeFreesChain(t *testing.T) {
	p := nbuf.NewPool(4)
	head := p.Get()
	p.Append(head, []byte{1, 2, 3}, 3)
	if got := p.Pullup(head, nbuf.NBUFSZ+1); got != nil {
		t.Fatal("Pullup beyond NBUFSZ should fail")
	}
	if p.Stats().CurFree != 4 {
		t.Error("failed Pullup should have freed the chain")
	}
}

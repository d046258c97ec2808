package nbuf_test

import (
	"math/rand"
	"testing"

	"github.com/ucip/netstack/nbuf"
)

// referenceChecksum is a direct, single-buffer RFC 1071 implementation used
// to validate nbuf.InChkSum against.
func referenceChecksum(data []byte) uint16 {
	var sum uint32
	for len(data) > 1 {
		sum += uint32(data[0])<<8 | uint32(data[1])
		data = data[2:]
	}
	if len(data) == 1 {
		sum += uint32(data[0]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

func TestInChkSumMatchesReference(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	p := nbuf.NewPool(16)

	for _, total := range []int{0, 1, 2, 19, 20, 127, 128, 129, 300} {
		data := make([]byte, total)
		rng.Read(data)

		head := p.Get()
		chain := p.Prepend(head, data, total)
		if total > 0 && chain == nil {
			t.Fatalf("setup: prepend failed for total=%d", total)
		}
		if chain == nil {
			continue
		}
		want := referenceChecksum(data)
		got := nbuf.InChkSum(chain, total, 0)
		if got != want {
			t.Errorf("total=%d: InChkSum=%#04x want %#04x", total, got, want)
		}
		p.FreeChain(chain)
	}
}

func TestInChkSumAcrossSplitBoundaries(t *testing.T) {
	p := nbuf.NewPool(16)
	data := make([]byte, 50)
	for i := range data {
		data[i] = byte(i * 7)
	}
	want := referenceChecksum(data)

	for split := 1; split < len(data); split++ {
		head := p.Get()
		first := p.Prepend(head, data[:split], split)
		rest := p.Get()
		rest = p.Prepend(rest, data[split:], len(data)-split)
		chain := nbuf.Cat(first, rest)

		got := nbuf.InChkSum(chain, len(data), 0)
		if got != want {
			t.Errorf("split=%d: InChkSum=%#04x want %#04x", split, got, want)
		}
		p.FreeChain(chain)
	}
}

func TestInChkSumOffset(t *testing.T) {
	p := nbuf.NewPool(16)
	data := []byte("the quick brown fox jumps over the lazy dog!!")
	head := p.Get()
	chain := p.Prepend(head, data, len(data))

	for off := 0; off < len(data); off++ {
		want := referenceChecksum(data[off:])
		got := nbuf.InChkSum(chain, len(data)-off, off)
		if got != want {
			t.Errorf("off=%d: got %#04x want %#04x", off, got, want)
		}
	}
	p.FreeChain(chain)
}

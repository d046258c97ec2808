package nbuf_test

import (
	"math/rand"
	"testing"

	"github.com/ucip/netstack/nbuf"
)

func TestQueueFIFO(t *testing.T) {
	p := nbuf.NewPool(8)
	q := &nbuf.Queue{}

	var chains []*nbuf.Buf
	for i := 0; i < 4; i++ {
		b := p.Get()
		p.Append(b, []byte{byte(i)}, 1)
		chains = append(chains, b)
		q.Enqueue(b)
	}
	if q.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", q.Len())
	}
	for i, want := range chains {
		got := q.Dequeue()
		if got != want {
			t.Fatalf("dequeue %d: got different chain than enqueued", i)
		}
	}
	if q.Len() != 0 || q.Dequeue() != nil {
		t.Fatal("queue should be empty")
	}
}

func TestQueueSortedWrapSafe(t *testing.T) {
	p := nbuf.NewPool(8)
	q := &nbuf.Queue{}

	// Sequence numbers that wrap around 2^32.
	seqs := []uint32{0xFFFFFFF0, 0xFFFFFFFA, 0x00000004, 0x00000000}
	for _, s := range seqs {
		b := p.Get()
		q.EnqueueSorted(b, s)
	}

	var got []uint32
	for q.Len() > 0 {
		got = append(got, q.HeadSortOrder())
		p.FreeOne(q.Dequeue())
	}
	want := []uint32{0xFFFFFFF0, 0xFFFFFFFA, 0x00000000, 0x00000004}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %#x want %#x", i, got[i], want[i])
		}
	}
}

func TestQueueSortedRandomIsMonotonic(t *testing.T) {
	p := nbuf.NewPool(64)
	q := &nbuf.Queue{}
	rng := rand.New(rand.NewSource(7))

	base := uint32(0xFFFFFFE0) // near the wrap point
	for i := 0; i < 40; i++ {
		b := p.Get()
		q.EnqueueSorted(b, base+uint32(rng.Intn(64)))
	}

	var prev uint32
	first := true
	for q.Len() > 0 {
		cur := q.HeadSortOrder()
		if !first && int32(cur-prev) < 0 {
			t.Fatalf("queue not monotonic: prev=%#x cur=%#x", prev, cur)
		}
		first = false
		prev = cur
		p.FreeOne(q.Dequeue())
	}
}

func TestTrimQ(t *testing.T) {
	p := nbuf.NewPool(16)
	q := &nbuf.Queue{}

	for _, n := range []int{10, 20, 5} {
		b := p.Get()
		p.Append(b, make([]byte, n), n)
		q.Enqueue(b)
	}

	out := make([]byte, 25)
	got := p.TrimQ(out, q, 25)
	if got != 25 {
		t.Fatalf("TrimQ returned %d, want 25", got)
	}
	if q.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (partially trimmed chain remains)", q.Len())
	}
	rest := q.Dequeue()
	if rest.ChainLen() != 10 {
		t.Fatalf("remaining chain len = %d, want 10", rest.ChainLen())
	}
	p.FreeChain(rest)
}

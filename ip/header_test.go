package ip_test

import (
	"testing"

	"github.com/ucip/netstack/ip"
)

func TestHeaderMarshalUnmarshalRoundTrip(t *testing.T) {
	h := ip.Header{
		VersionIHL: ip.Version4<<4 | 5,
		TOS:        0x10,
		TotalLen:   1500,
		ID:         0xbeef,
		FlagsFrag:  0x4000, // don't-fragment bit set
		TTL:        64,
		Protocol:   ip.ProtoTCP,
		Checksum:   0xabcd,
		Src:        0x0a000001,
		Dst:        0x0a000002,
	}
	var buf [ip.HeaderLen]byte
	h.Marshal(buf[:])
	got := ip.Unmarshal(buf[:])
	if got != h {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestHeaderIHLAndVersion(t *testing.T) {
	h := ip.Header{VersionIHL: 4<<4 | 6}
	if h.Version() != 4 {
		t.Fatalf("Version() = %d, want 4", h.Version())
	}
	if h.IHL() != 24 {
		t.Fatalf("IHL() = %d, want 24", h.IHL())
	}
}

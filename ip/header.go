// Package ip implements the IPv4 ingress/egress dispatcher: validation,
// loopback short-circuit, and routing to ICMP/TCP (spec.md §4.5). There is
// no fragmentation/reassembly, no IP options on transmit, and no IPv6
// (spec.md §1 Non-goals).
package ip

import "encoding/binary"

// HeaderLen is the size of a transmitted IPv4 header: this stack never
// emits options.
const HeaderLen = 20

const Version4 = 4

// Host16 marks a 16-bit field that, throughout this package, is always held
// in host/arithmetic byte order — never the raw wire bytes. Unmarshal
// converts from wire order on the way in and Marshal converts back on the
// way out, so there is never an ambiguous in-between state the way the
// original C code's ip_len field was (spec.md §9, Open Question 3: the
// loopback path needs host order, the wire path needs network order, and
// the original mutated one field in place to serve both). encoding/binary's
// BigEndian accessors do the conversion, so there is no hand-rolled
// htons/ntohs to get subtly wrong (§9, Open Question 1 does not arise here).
type Host16 uint16

// Header is a parsed IPv4 header. Every multi-byte field is in host order;
// see Host16.
type Header struct {
	VersionIHL byte
	TOS        byte
	TotalLen   Host16 // ip_len: header + payload
	ID         Host16
	FlagsFrag  Host16 // flags (3 bits) | fragment offset (13 bits)
	TTL        byte
	Protocol   byte
	Checksum   uint16 // opaque on the wire; recomputed, never arithmetic
	Src        uint32
	Dst        uint32
}

// IHL returns the header length in bytes.
func (h Header) IHL() int { return int(h.VersionIHL&0x0F) * 4 }

// Version returns the IP version field.
func (h Header) Version() int { return int(h.VersionIHL >> 4) }

// Unmarshal decodes a 20-byte (or longer, with options skipped by the
// caller) IPv4 header from wire bytes.
func Unmarshal(b []byte) Header {
	return Header{
		VersionIHL: b[0],
		TOS:        b[1],
		TotalLen:   Host16(binary.BigEndian.Uint16(b[2:4])),
		ID:         Host16(binary.BigEndian.Uint16(b[4:6])),
		FlagsFrag:  Host16(binary.BigEndian.Uint16(b[6:8])),
		TTL:        b[8],
		Protocol:   b[9],
		Checksum:   binary.BigEndian.Uint16(b[10:12]),
		Src:        binary.BigEndian.Uint32(b[12:16]),
		Dst:        binary.BigEndian.Uint32(b[16:20]),
	}
}

// Marshal encodes h into the first HeaderLen bytes of b in wire order.
func (h Header) Marshal(b []byte) {
	b[0] = h.VersionIHL
	b[1] = h.TOS
	binary.BigEndian.PutUint16(b[2:4], uint16(h.TotalLen))
	binary.BigEndian.PutUint16(b[4:6], uint16(h.ID))
	binary.BigEndian.PutUint16(b[6:8], uint16(h.FlagsFrag))
	b[8] = h.TTL
	b[9] = h.Protocol
	binary.BigEndian.PutUint16(b[10:12], h.Checksum)
	binary.BigEndian.PutUint32(b[12:16], h.Src)
	binary.BigEndian.PutUint32(b[16:20], h.Dst)
}

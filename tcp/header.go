package tcp

import (
	"encoding/binary"

	"github.com/ucip/netstack/nbuf"
)

// Flag bits (nettcphd.h's TH_*).
const (
	FlagFIN byte = 0x01
	FlagSYN byte = 0x02
	FlagRST byte = 0x04
	FlagPSH byte = 0x08
	FlagACK byte = 0x10
	FlagURG byte = 0x20
)

// HeaderLen is the fixed TCP header size without options.
const HeaderLen = 20

// optMaxSeg/optMaxSegLen are the only TCP option spec.md supports.
const (
	optEOL      = 0
	optNOP      = 1
	optMaxSeg   = 2
	optMaxSegLen = 4
)

// Header is a decoded TCP header with seq/ack/win/urg already in host byte
// order (spec.md §4.7.3 step 4).
type Header struct {
	SrcPort, DstPort uint16
	Seq, Ack         uint32
	DataOff          int // header length in bytes, including options
	Flags            byte
	Win              uint16
	Checksum         uint16
	Urgent           uint16
}

// Unmarshal decodes the fixed 20-byte TCP header from b.
func Unmarshal(b []byte) Header {
	return Header{
		SrcPort: binary.BigEndian.Uint16(b[0:2]),
		DstPort: binary.BigEndian.Uint16(b[2:4]),
		Seq:     binary.BigEndian.Uint32(b[4:8]),
		Ack:     binary.BigEndian.Uint32(b[8:12]),
		DataOff: int(b[12]>>4) * 4,
		Flags:   b[13],
		Win:     binary.BigEndian.Uint16(b[14:16]),
		Checksum: binary.BigEndian.Uint16(b[16:18]),
		Urgent:  binary.BigEndian.Uint16(b[18:20]),
	}
}

// Marshal encodes h's fixed header into b (len(b) >= HeaderLen). Options are
// not written; callers append them separately and must set DataOff first.
func (h Header) Marshal(b []byte) {
	binary.BigEndian.PutUint16(b[0:2], h.SrcPort)
	binary.BigEndian.PutUint16(b[2:4], h.DstPort)
	binary.BigEndian.PutUint32(b[4:8], h.Seq)
	binary.BigEndian.PutUint32(b[8:12], h.Ack)
	b[12] = byte(h.DataOff/4) << 4
	b[13] = h.Flags
	binary.BigEndian.PutUint16(b[14:16], h.Win)
	binary.BigEndian.PutUint16(b[16:18], h.Checksum)
	binary.BigEndian.PutUint16(b[18:20], h.Urgent)
}

// encodeMSSOption appends the 4-byte MSS option.
func encodeMSSOption(b []byte, mss uint16) {
	b[0] = optMaxSeg
	b[1] = optMaxSegLen
	binary.BigEndian.PutUint16(b[2:4], mss)
}

// decodeMSSOption scans opts for an MSS option, returning (mss, true) if
// found. Any other option kind is skipped; malformed trailing bytes are
// simply ignored, matching the original's tolerant parse.
func decodeMSSOption(opts []byte) (uint16, bool) {
	for i := 0; i < len(opts); {
		switch opts[i] {
		case optEOL:
			return 0, false
		case optNOP:
			i++
		case optMaxSeg:
			if i+optMaxSegLen > len(opts) {
				return 0, false
			}
			return binary.BigEndian.Uint16(opts[i+2 : i+4]), true
		default:
			if i+1 >= len(opts) || opts[i+1] == 0 {
				return 0, false
			}
			i += int(opts[i+1])
		}
	}
	return 0, false
}

// pseudoChecksum computes the RFC 793 TCP checksum over chain using the
// "zero-TTL pseudo-header trick" (spec.md §4.7.3 step 3, §4.7.8): the IP
// header's TTL is zeroed and its checksum slot holds the TCP segment
// length, turning the already-present IP header into exactly the 12-byte
// pseudo-header the checksum needs, computed in place with no separate
// buffer. hdrLen is the IP header length in bytes; tcpLen is the TCP
// header+data length. The caller is responsible for restoring TTL and
// recomputing the real IP checksum afterward.
func pseudoChecksum(chain *nbuf.Buf, hdrLen, tcpLen int) uint16 {
	var ttlProto [2]byte
	nbuf.CopyOut(ttlProto[:], chain, 8, 2)
	overwriteAt(chain, 8, []byte{0, ttlProto[1]})
	lenBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(lenBuf, uint16(tcpLen))
	overwriteAt(chain, 10, lenBuf)

	// Bytes [8,20) of a (stripped, option-free) IP header are
	// ttl(0)/proto/tcplen/src/dst: the same 16-bit words the RFC 793
	// pseudo-header sums, just in a different order — which the
	// one's-complement sum doesn't care about.
	sum := nbuf.InChkSum(chain, hdrLen-8+tcpLen, 8)

	overwriteAt(chain, 8, ttlProto[:])
	return sum
}

// overwriteAt writes data into chain starting off0 bytes in, crossing
// buffer boundaries as needed.
func overwriteAt(chain *nbuf.Buf, off0 int, data []byte) {
	b := chain
	for b != nil && off0 >= b.Len() {
		off0 -= b.Len()
		b = b.NextBuf
	}
	for b != nil && len(data) > 0 {
		body := b.Bytes()
		n := len(body) - off0
		if n > len(data) {
			n = len(data)
		}
		copy(body[off0:off0+n], data[:n])
		data = data[n:]
		off0 = 0
		b = b.NextBuf
	}
}

package tcp

import (
	"encoding/binary"

	"github.com/ucip/netstack/ip"
	"github.com/ucip/netstack/nbuf"
)

// sendSegment marshals th in front of payload, computes the TCP checksum
// using a throwaway IP-header-shaped prefix carrying just the fields
// pseudoChecksum actually reads (protocol, source, destination), and hands
// the finished segment to IP addressed from src to dst with the given TOS
// (spec.md §6's tcp_connect tos argument). payload is consumed either way.
func (m *Manager) sendSegmentTOS(src, dst uint32, tos byte, th Header, payload *nbuf.Buf) {
	if payload == nil {
		payload = m.pool.Get()
		if payload == nil {
			return
		}
	}
	tcpLen := HeaderLen + nbuf.ChainLen(payload)

	var hdrBytes [HeaderLen]byte
	th.Marshal(hdrBytes[:])
	chain := m.pool.Prepend(payload, hdrBytes[:], HeaderLen)
	if chain == nil {
		return
	}

	var skeleton [ip.HeaderLen]byte
	skeleton[9] = ip.ProtoTCP
	binary.BigEndian.PutUint32(skeleton[12:16], src)
	binary.BigEndian.PutUint32(skeleton[16:20], dst)
	chain = m.pool.Prepend(chain, skeleton[:], ip.HeaderLen)
	if chain == nil {
		return
	}

	cksum := pseudoChecksum(chain, ip.HeaderLen, tcpLen)
	overwriteAt(chain, ip.HeaderLen+16, []byte{byte(cksum >> 8), byte(cksum)})

	segment := m.pool.Split(chain, ip.HeaderLen)
	m.pool.FreeChain(chain)
	if segment == nil {
		return
	}
	m.disp.SendTOS(ip.ProtoTCP, src, dst, tos, segment)
}

// sendSegment is sendSegmentTOS with the default (best-effort) TOS, used by
// every path that doesn't carry a per-connection precedence (resets, the
// listener's own SYN/ACK before a tos has been negotiated).
func (m *Manager) sendSegment(src, dst uint32, th Header, payload *nbuf.Buf) {
	m.sendSegmentTOS(src, dst, 0, th, payload)
}

// Package icmp implements Echo and Timestamp request/reply, and the
// icmp_error generator that other layers call to report a bad datagram
// back to its source (spec.md §4.6, grounded on
// original_source/src/neticmp.c). ICMP Redirect and Address Mask handling
// are not implemented: the original left both stubbed behind #ifdef XXX
// blocks (no routing table, no interface-owned netmask to answer with),
// and nothing in this port adds either.
package icmp

import (
	"encoding/binary"
	"time"

	"github.com/ucip/netstack/ip"
	"github.com/ucip/netstack/nbuf"
)

// Message types (RFC 792).
const (
	TypeEchoReply    = 0
	TypeUnreach      = 3
	TypeSourceQuench = 4
	TypeRedirect     = 5
	TypeEcho         = 8
	TypeTimeExceeded = 11
	TypeParamProb    = 12
	TypeTstamp       = 13
	TypeTstampReply  = 14
	TypeMaskReq      = 17
	TypeMaskReply    = 18

	maxType = TypeMaskReply
)

// Unreachable codes (RFC 792).
const (
	UnreachNet      = 0
	UnreachHost     = 1
	UnreachProtocol = 2
	UnreachPort     = 3
	UnreachNeedFrag = 4
	UnreachSrcFail  = 5
)

// Advisory codes handed to upper-layer protocols in response to an ICMP
// error about one of their own datagrams, mirroring the original's
// PRC_* namespace.
const (
	AdvisoryUnreachNet      = 0
	AdvisoryUnreachHost     = 1
	AdvisoryMsgSize         = 2
	AdvisoryQuench          = 4
	AdvisoryTimxceedInTrans = 5
	AdvisoryParamProb       = 6
)

// minLen is the size of the fixed ICMP header (type, code, checksum, and
// the 4-byte type-specific field every message has, even if unused).
const minLen = 8

// advisoryMinLen is the minimum length of an ICMP error's embedded payload
// for it to carry a usable advisory: the fixed header plus an IP header
// (no options) plus 8 bytes of the original datagram (ICMP_ADVLENMIN).
const advisoryMinLen = minLen + ip.HeaderLen + 8

// tstampLen is the minimum length of a Timestamp message's payload.
const tstampLen = minLen + 12

// Advisory is called when an ICMP error arrives reporting a problem with a
// datagram this host sent. embedded is the IP header of that original
// datagram, recovered from inside the ICMP error's payload.
type Advisory func(code int, embedded ip.Header)

// Handler implements Echo/Timestamp reflection and the icmp_error
// generator, registered as the IP dispatcher's protocol-1 handler.
type Handler struct {
	Stats
	disp      *ip.Dispatcher
	localAddr uint32
	advisory  Advisory
}

// New creates a Handler bound to disp and registers it for ProtoICMP.
// localAddr is used as the source address of generated replies and errors
// (icmpReflect's "use our address as new source" in
// original_source/src/neticmp.c).
func New(disp *ip.Dispatcher, localAddr uint32, advisory Advisory) *Handler {
	h := &Handler{disp: disp, localAddr: localAddr, advisory: advisory}
	disp.RegisterHandler(ip.ProtoICMP, h.input)
	return h
}

func (h *Handler) input(hdr ip.Header, hdrLen int, data *nbuf.Buf) {
	icmpLen := int(hdr.TotalLen) - hdrLen
	if icmpLen < minLen {
		h.incTooShort()
		h.disp.Pool.FreeChain(data)
		return
	}
	want := hdrLen + minInt(icmpLen, advisoryMinLen)
	if data.Len() < want {
		data = h.disp.Pool.Pullup(data, want)
		if data == nil {
			h.incTooShort()
			return
		}
	}
	if nbuf.InChkSum(data, icmpLen, hdrLen) != 0 {
		h.incChecksum()
		h.disp.Pool.FreeChain(data)
		return
	}

	body := data.Bytes()[hdrLen:]
	typ := body[0]
	code := int(body[1])

	if int(typ) > maxType {
		h.disp.Pool.FreeChain(data)
		return
	}
	h.incInHist(typ)

	switch typ {
	case TypeEcho:
		body[0] = TypeEchoReply
		h.reflect(data, hdr, TypeEchoReply)
		return

	case TypeTstamp:
		if icmpLen < tstampLen {
			h.incBadLen()
			break
		}
		body[0] = TypeTstampReply
		now := uint32(msSinceMidnight(time.Now())) * 10
		binary.BigEndian.PutUint32(body[4:8], now)  // icmp_rtime
		binary.BigEndian.PutUint32(body[8:12], now) // icmp_ttime (approximate)
		h.reflect(data, hdr, TypeTstampReply)
		return

	case TypeUnreach, TypeTimeExceeded, TypeParamProb, TypeSourceQuench:
		h.deliverAdvisory(typ, code, icmpLen, body)

	default:
		// Replies and anything else we don't actively process (RouterAdvert,
		// RouterSolicit, EchoReply, MaskReply) are just dropped: there's no
		// raw-socket listener in this stack for them to fall through to.
	}

	h.disp.Pool.FreeChain(data)
}

func (h *Handler) deliverAdvisory(typ byte, code, icmpLen int, body []byte) {
	var advCode int
	switch typ {
	case TypeUnreach:
		switch code {
		case UnreachNet, UnreachHost, UnreachProtocol, UnreachPort, UnreachSrcFail:
			if code == UnreachHost {
				advCode = AdvisoryUnreachHost
			} else {
				advCode = AdvisoryUnreachNet
			}
		case UnreachNeedFrag:
			advCode = AdvisoryMsgSize
		default:
			h.incBadCode()
			return
		}
	case TypeTimeExceeded:
		if code > 1 {
			h.incBadCode()
			return
		}
		advCode = AdvisoryTimxceedInTrans
	case TypeParamProb:
		if code > 1 {
			h.incBadCode()
			return
		}
		advCode = AdvisoryParamProb
	case TypeSourceQuench:
		if code != 0 {
			h.incBadCode()
			return
		}
		advCode = AdvisoryQuench
	}

	if icmpLen < advisoryMinLen || h.advisory == nil {
		h.incBadLen()
		return
	}
	embedded := ip.Unmarshal(body[minLen:])
	if embedded.IHL() < ip.HeaderLen {
		h.incBadLen()
		return
	}
	h.advisory(advCode, embedded)
}

// reflect turns an inbound chain into a reply: swap source/destination,
// reset TTL, recompute the checksum, and hand it back to IP (icmpReflect +
// icmpSend in original_source/src/neticmp.c).
func (h *Handler) reflect(data *nbuf.Buf, hdr ip.Header, replyType byte) {
	h.incOutHist(replyType)
	h.incReflect()
	icmpLen := int(hdr.TotalLen) - hdr.IHL()
	hdrLen := hdr.IHL()
	payload := h.disp.Pool.Split(data, hdrLen)
	if payload == nil {
		h.disp.Pool.FreeChain(data)
		return
	}
	body := payload.Bytes()
	if len(body) >= 4 {
		binary.BigEndian.PutUint16(body[2:4], 0)
	}
	payload.SortOrder = 0
	payload = h.disp.Pool.Pullup(payload, icmpLen)
	if payload == nil {
		h.disp.Pool.FreeChain(data)
		return
	}
	cksum := nbuf.InChkSum(payload, icmpLen, 0)
	binary.BigEndian.PutUint16(payload.Bytes()[2:4], cksum)
	h.disp.Pool.FreeChain(data)
	h.disp.Send(ip.ProtoICMP, h.localAddr, hdr.Src, payload)
}

// Error generates an ICMP error datagram reporting a problem with an
// inbound datagram, following the suppression rules from icmp_error in
// original_source/src/neticmp.c: never respond to a non-first fragment,
// and never respond to another ICMP error (only to ICMP informational
// types), to avoid error storms. original is freed unconditionally, the
// same way the original's freeit label always ran.
func (h *Handler) Error(original *nbuf.Buf, hdr ip.Header, hdrLen int, errType, code byte) {
	defer h.disp.Pool.FreeChain(original)

	if errType != TypeRedirect {
		h.incError()
	}
	if hdr.FlagsFrag&0x1fff != 0 { // non-zero fragment offset: not the first fragment
		return
	}
	if hdr.Protocol == ip.ProtoICMP && errType != TypeRedirect {
		oldLen := original.ChainLen()
		if oldLen >= hdrLen+minLen {
			oldType := make([]byte, 1)
			nbuf.CopyOut(oldType, original, hdrLen, 1)
			if !isInfoType(oldType[0]) {
				h.incOldICMP()
				return
			}
		}
	}

	origLen := minInt(8, int(hdr.TotalLen))
	embeddedLen := hdrLen + origLen

	reply := h.disp.Pool.Get()
	if reply == nil {
		return
	}
	body := make([]byte, minLen+embeddedLen)
	body[0] = errType
	body[1] = code
	if errType == TypeParamProb {
		body[4] = code
		body[1] = 0
	}
	// The embedded bytes are a raw copy of the original datagram's wire
	// header, so its ip_len field is already correct as received.
	nbuf.CopyOut(body[minLen:], original, 0, embeddedLen)

	if h.disp.Pool.Append(reply, body, len(body)) != len(body) {
		h.disp.Pool.FreeChain(reply)
		return
	}
	h.incOutHist(errType)
	h.disp.Send(ip.ProtoICMP, h.localAddr, hdr.Src, reply)
}

func isInfoType(t byte) bool {
	switch t {
	case TypeEcho, TypeEchoReply, TypeTstamp, TypeTstampReply, TypeMaskReq, TypeMaskReply:
		return true
	default:
		return false
	}
}

func msSinceMidnight(t time.Time) int64 {
	h, m, s := t.Clock()
	return int64(((h*60+m)*60+s)*1000) + int64(t.Nanosecond()/1e6)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

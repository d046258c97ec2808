package ppp

// ExtACCM is an extended Async-Control-Character-Map: one bit per octet
// value, set when that octet must be escaped on the wire. The plain PPP
// ACCM only covers control characters 0-31; this extended form covers all
// 256 so the escape and flag characters themselves can always be marked,
// regardless of what asyncmap the peer negotiates (original_source's
// ext_accm, netppp.c).
type ExtACCM [32]byte

// DefaultACCM is the map netppp.c's pppOpen installs before negotiation:
// escape characters 0x7d and 0x7e are always stuffed, nothing else is yet.
func DefaultACCM() ExtACCM {
	var a ExtACCM
	a[15] = 0x60
	return a
}

// escapes reports whether c must be stuffed under this map.
func (a *ExtACCM) escapes(c byte) bool {
	return a[c>>3]&(1<<(c&0x07)) != 0
}

// SetAsyncMap installs the low 32 control characters' escape bits from a
// negotiated LCP asyncmap, without disturbing bits 32-255 (so 0x7d/0x7e
// stay escaped regardless of what ppp_send_config/ppp_recv_config sets;
// ppp_set_xaccm is the only call that replaces the whole map).
func (a *ExtACCM) SetAsyncMap(asyncmap uint32) {
	for i := 0; i < 4; i++ {
		a[i] = byte(asyncmap >> (8 * i))
	}
}

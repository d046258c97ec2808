// Package ppp implements the async-HDLC PPP framer: byte destuffing and
// stuffing, FCS-16 validation and generation, and protocol dispatch to IP
// and to the link's control protocols (spec.md §4.4, grounded on
// pppInProc/pppOutput/pppDispatch in original_source/src/netppp.c). LCP,
// IPCP and PAP negotiation themselves are external collaborators: this
// package only frames and routes their packets, the same way the original
// left lcp_protent/ipcp_protent/pap_protent as function-table indirections
// it never defined the bodies of.
package ppp

import (
	"io"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/ucip/netstack/nbuf"
)

// Protocol field values this stack frames (a la PPP_IP et al in
// original_source/src/netppp.c).
const (
	ProtoIP       = 0x21
	ProtoVJCComp  = 0x2d
	ProtoVJCUncomp = 0x2f
	ProtoIPCP     = 0x8021
	ProtoLCP      = 0xc021
	ProtoPAP      = 0xc023
)

// Standard framing octets.
const (
	flagByte    = 0x7e
	escapeByte  = 0x7d
	escapeMask  = 0x20
	allStations = 0xff
	control     = 0x03
)

// defaultMaxIdleFlag mirrors MAXIDLEFLAG: a fresh leading flag byte is only
// emitted if the link has been idle for longer than this. It is the
// default for Config.MaxIdleFlag.
const defaultMaxIdleFlag = 500 * time.Millisecond

// Config collects the per-link tunables original_source/src/netppp.c
// exposes through set_send_config/set_recv_config and the MAXIDLEFLAG
// macro, rather than hardcoding them (spec.md §9 supplemented feature).
// Zero-valued fields fall back to the original's compile-time defaults.
type Config struct {
	// MRU is the Maximum Receive Unit offered before negotiation
	// (DEFMRU in the original). 0 defaults to DefaultMRU.
	MRU int

	// MaxIdleFlag is how long the link may sit idle before a fresh
	// leading flag byte is emitted on the next frame. 0 defaults to
	// defaultMaxIdleFlag.
	MaxIdleFlag time.Duration

	// SendACCM and RecvACCM seed the outbound/inbound escape maps. A
	// zero value ([32]byte{}) defaults to DefaultACCM() for both,
	// matching netppp.c's pppOpen, which installs the same map in
	// both directions before negotiation narrows them.
	SendACCM ExtACCM
	RecvACCM ExtACCM
}

// Phase tracks where LCP/IPCP/PAP negotiation currently stands, mirroring
// the original's global lcp_phase array. pppOutput refuses to send
// anything but control traffic while the phase is Dead.
type Phase int

const (
	PhaseDead Phase = iota
	PhaseEstablish
	PhaseAuthenticate
	PhaseNetwork
	PhaseTerminate
)

// ControlHandler receives a decoded LCP/IPCP/PAP packet's payload (the PPP
// header already stripped).
type ControlHandler func(data []byte)

// VJ is the Van Jacobson TCP/IP header compression collaborator
// (RFC 1144). A nil VJ, or one that reports Enabled() == false, makes
// pppOutput send every IP packet uncompressed and pppDispatch treat
// PPP_VJC_COMP/PPP_VJC_UNCOMP as unknown protocols — matching what the
// original did when VJ_SUPPORT was compiled out.
type VJ interface {
	Enabled() bool
	CompressTCP(chain *nbuf.Buf) (proto int, out *nbuf.Buf)
	DecompressCompressed(chain *nbuf.Buf) (*nbuf.Buf, error)
	DecompressUncompressed(chain *nbuf.Buf) error
}

// Callbacks are the phase-control notifications this link raises for its
// owner (the thing driving LCP/IPCP negotiation), named after the
// original's sifup/sifdown/ppp_send_config/ppp_recv_config/sifvjcomp
// entry points (spec.md §4.4).
type Callbacks interface {
	LinkUp()
	LinkDown()
	LinkEstablished()
	LinkTerminated()
	SetSendConfig(asyncmap uint32, pcomp, accomp bool)
	SetRecvConfig(asyncmap uint32, pcomp, accomp bool)
	SetVJ(enabled bool)
	NPUp(protocol int)
	NPDown(protocol int)
}

// recvState is the async-HDLC receive parser state (PPPDevStates in
// original_source/src/netppp.c).
type recvState int

const (
	recvIdle recvState = iota
	recvStart
	recvAddress
	recvControl
	recvProtocol1
	recvProtocol2
	recvData
)

// Link frames and deframes one PPP connection over an octet stream
// (typically a serial tty). It implements ip.Link (Output/MTU) so the IP
// dispatcher can use it directly as a default route.
type Link struct {
	Stats

	// ID tags this link for log correlation (spec.md §9 session
	// identifiers), the role m-lab/uuid plays for flow correlation in
	// the teacher, minus that package's Linux-boot-time dependency.
	ID xid.ID

	pool   *nbuf.Pool
	device io.Writer
	vj     VJ
	cb     Callbacks

	mu          sync.Mutex
	mtu         int
	peerMRU     int
	pcomp       bool // peer accepts protocol-field compression
	accomp      bool // peer accepts address/control compression
	phase       Phase
	outACCM     ExtACCM
	maxIdleFlag time.Duration
	lastXmit    time.Time

	handlers  map[int]ControlHandler
	ipHandler func(*nbuf.Buf)

	// Receive state.
	inState    recvState
	inEscaped  bool
	inProtocol int
	inFCS      uint16
	inACCM     ExtACCM
	inHead     *nbuf.Buf
	inTail     *nbuf.Buf
	inLen      int
}

// DefaultMRU is the original's DEFMRU: the MRU offered before negotiation.
const DefaultMRU = 296

// New creates a Link with default tunables ready to frame traffic over
// device. Call RegisterIP once an ip.Dispatcher exists to route PPP_IP/VJ
// frames to it.
func New(pool *nbuf.Pool, device io.Writer, cb Callbacks) *Link {
	return NewWithConfig(pool, device, cb, Config{})
}

// NewWithConfig is New with per-link tunables overriding the original's
// compile-time defaults (see Config).
func NewWithConfig(pool *nbuf.Pool, device io.Writer, cb Callbacks, cfg Config) *Link {
	mru := cfg.MRU
	if mru == 0 {
		mru = DefaultMRU
	}
	maxIdle := cfg.MaxIdleFlag
	if maxIdle == 0 {
		maxIdle = defaultMaxIdleFlag
	}
	sendACCM := cfg.SendACCM
	if sendACCM == (ExtACCM{}) {
		sendACCM = DefaultACCM()
	}
	recvACCM := cfg.RecvACCM
	if recvACCM == (ExtACCM{}) {
		recvACCM = DefaultACCM()
	}

	return &Link{
		ID:          xid.New(),
		pool:        pool,
		device:      device,
		cb:          cb,
		mtu:         mru,
		peerMRU:     mru,
		outACCM:     sendACCM,
		inACCM:      recvACCM,
		maxIdleFlag: maxIdle,
		handlers:    make(map[int]ControlHandler),
		inState:     recvStart,
		inFCS:       InitFCS,
	}
}

// RegisterControl installs the handler for an LCP/IPCP/PAP-like control
// protocol, overwriting any previous registration.
func (l *Link) RegisterControl(protocol int, h ControlHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[protocol] = h
}

// RegisterIP installs the handler used for PPP_IP (and VJ-decompressed)
// frames — almost always ip.Dispatcher.Input.
func (l *Link) RegisterIP(h func(*nbuf.Buf)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ipHandler = h
}

// MTU implements ip.Link.
func (l *Link) MTU() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.peerMRU
}

// Phase returns the current negotiation phase.
func (l *Link) Phase() Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase
}

// SetPhase updates the negotiation phase; the owner driving LCP/IPCP calls
// this as negotiation advances.
func (l *Link) SetPhase(p Phase) {
	l.mu.Lock()
	l.phase = p
	l.mu.Unlock()
}

// SetSendConfig installs the peer-accepted asyncmap and compression
// options for outbound framing (ppp_send_config in
// original_source/src/netppp.c).
func (l *Link) SetSendConfig(asyncmap uint32, pcomp, accomp bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outACCM.SetAsyncMap(asyncmap)
	l.pcomp = pcomp
	l.accomp = accomp
}

// SetXAccm replaces the entire outbound extended ACCM (ppp_set_xaccm).
func (l *Link) SetXAccm(accm ExtACCM) {
	l.mu.Lock()
	l.outACCM = accm
	l.mu.Unlock()
}

// SetRecvConfig installs the asyncmap this link should destuff against on
// input (ppp_recv_config).
func (l *Link) SetRecvConfig(asyncmap uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inACCM.SetAsyncMap(asyncmap)
}

// SetPeerMRU records the MRU IPCP/LCP negotiated with the peer.
func (l *Link) SetPeerMRU(mru int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.peerMRU = mru
}

func (l *Link) ipHandlerLocked() func(*nbuf.Buf) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ipHandler
}

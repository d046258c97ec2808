// Package stack wires the Buffer Pool, Timer Wheel, Random Pool, IP
// Dispatcher, ICMP Handler and TCP Manager into one owning object with an
// Init/Shutdown lifecycle — the Go rendition of the original's collection
// of file-scope statics (tcbs[], ipDefault, icmpStats, ...) that every
// subsystem reached into directly (spec.md §9, Design Notes item 3).
package stack

import (
	"io"
	"time"

	"github.com/ucip/netstack/icmp"
	"github.com/ucip/netstack/ip"
	"github.com/ucip/netstack/metrics"
	"github.com/ucip/netstack/nbuf"
	"github.com/ucip/netstack/ppp"
	"github.com/ucip/netstack/randpool"
	"github.com/ucip/netstack/tcp"
	"github.com/ucip/netstack/timer"
)

// Config collects every compile-time knob spec.md §6 names, under the
// lower-cased Go names of the original's netconf.h macros, so a reader can
// cross-reference directly (TCP_DEFMSS -> MSS, MAXLISTEN -> ListenBacklog,
// etc). Zero-valued fields fall back to the package defaults they shadow.
type Config struct {
	// LocalAddr is this host's numeric IPv4 address (ip.Dispatcher's
	// default route source/dest and tcp.Manager's bind address).
	LocalAddr uint32

	// NBufs is the fixed buffer-pool size (spec.md §4.1); 0 defaults to
	// DefaultNBufs.
	NBufs int

	// MaxTCB is the number of preallocated TCP control blocks (spec.md
	// §4.7, MAXTCP); 0 defaults to tcp.MaxTCP.
	MaxTCB int

	// MaxTimers bounds the temporary-timer free list (spec.md §4.2); 0
	// defaults to DefaultMaxTimers.
	MaxTimers int

	// ICMPAdvisory is called when an ICMP error advises TCP of a problem
	// with one of its datagrams (spec.md §4.6); nil installs a no-op.
	ICMPAdvisory icmp.Advisory
}

// DefaultNBufs is the fixed-pool size used when Config.NBufs is 0 — small
// enough to exercise exhaustion in tests, generous enough for a handful of
// concurrent connections on the embedded target spec.md describes.
const DefaultNBufs = 64

// DefaultMaxTimers bounds the wheel's temporary-timer free list when
// Config.MaxTimers is 0.
const DefaultMaxTimers = 64

// Stack owns one instance of every subsystem and the PPP links attached to
// it. The zero value is not usable; build one with New.
type Stack struct {
	Pool  *nbuf.Pool
	Wheel *timer.Wheel
	Rand  *randpool.Pool
	IP    *ip.Dispatcher
	ICMP  *icmp.Handler
	TCP   *tcp.Manager

	localAddr uint32
	links     map[string]*ppp.Link
	stop      chan struct{}
}

// New builds a Stack from cfg, registering every subsystem's counters with
// the metrics package (spec.md §9; original_source/src/netdebug.c's
// per-module stat tables, see DESIGN.md). It does not attach any link —
// call AddLink once per serial device.
func New(cfg Config) *Stack {
	nbufs := cfg.NBufs
	if nbufs == 0 {
		nbufs = DefaultNBufs
	}
	maxTCB := cfg.MaxTCB
	if maxTCB == 0 {
		maxTCB = tcp.MaxTCP
	}
	maxTimers := cfg.MaxTimers
	if maxTimers == 0 {
		maxTimers = DefaultMaxTimers
	}
	advisory := cfg.ICMPAdvisory
	if advisory == nil {
		advisory = func(code int, embedded ip.Header) {}
	}

	pool := nbuf.NewPool(nbufs)
	wheel := timer.NewWheel(func() timer.Jiffy { return timer.Jiffy(time.Now().UnixMilli()) }, maxTimers)
	rng := &randpool.Pool{}
	disp := ip.NewDispatcher(pool)
	icmpHandler := icmp.New(disp, cfg.LocalAddr, advisory)
	tcpMgr := tcp.NewManager(pool, wheel, disp, rng, cfg.LocalAddr, time.Now, maxTCB)

	metrics.RegisterPool("main", pool)
	metrics.RegisterIP(disp)
	metrics.RegisterICMP(icmpHandler)
	metrics.RegisterTCP(tcpMgr)

	return &Stack{
		Pool:      pool,
		Wheel:     wheel,
		Rand:      rng,
		IP:        disp,
		ICMP:      icmpHandler,
		TCP:       tcpMgr,
		localAddr: cfg.LocalAddr,
		links:     make(map[string]*ppp.Link),
		stop:      make(chan struct{}),
	}
}

// AddLink attaches a named PPP link over device, registers its Stats with
// metrics, routes IP traffic to it as the default route, and installs the
// stack's IP dispatcher as its PPP_IP handler — the wiring ipSetDefault and
// pppOpen performed together in original_source/src/net.c's startup path.
// The caller drives the link's receive side by feeding octets from the
// serial device into the returned Link's Input (see ppp.Link).
func (s *Stack) AddLink(name string, device io.Writer, cb ppp.Callbacks) *ppp.Link {
	return s.AddLinkWithConfig(name, device, cb, ppp.Config{})
}

// AddLinkWithConfig is AddLink with the link's MRU/MAXIDLEFLAG/ACCM
// tunables overridden (ppp.Config; spec.md §9 supplemented feature).
func (s *Stack) AddLinkWithConfig(name string, device io.Writer, cb ppp.Callbacks, cfg ppp.Config) *ppp.Link {
	link := ppp.NewWithConfig(s.Pool, device, cb, cfg)
	link.RegisterIP(s.IP.Input)
	s.IP.SetRoute(s.localAddr, link)
	metrics.RegisterPPP(name, link)
	s.links[name] = link
	return link
}

// Link returns the named link previously installed with AddLink, or nil.
func (s *Stack) Link(name string) *ppp.Link {
	return s.links[name]
}

// Run starts the timer wheel's dispatch loop in the calling goroutine,
// blocking until Shutdown is called (spec.md §4.2; timer.Wheel.Run).
func (s *Stack) Run() {
	const maxPoll = 200 * time.Millisecond
	s.Wheel.Run(s.stop, func(d timer.Jiffy, wake <-chan struct{}) {
		delay := time.Duration(d) * time.Millisecond
		if delay > maxPoll {
			delay = maxPoll
		}
		select {
		case <-time.After(delay):
		case <-wake:
		case <-s.stop:
		}
	})
}

// Shutdown stops Run's dispatch loop. It does not tear down any TCB or
// link state; callers that need a clean protocol-level shutdown should
// Close every tcp.Conn first. Shutdown must be called exactly once.
func (s *Stack) Shutdown() {
	close(s.stop)
}

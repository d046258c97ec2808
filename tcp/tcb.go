package tcp

import (
	"sync"
	"time"

	"github.com/ucip/netstack/ip"
	"github.com/ucip/netstack/nbuf"
	"github.com/ucip/netstack/randpool"
	"github.com/ucip/netstack/timer"
)

// Placement records which of the three places a TCB can be in — the arena
// + explicit-state replacement for the original's prev==self/next==self
// sentinel trick (spec.md §9, Design Notes item 2).
type Placement int

const (
	PlaceFree Placement = iota
	PlaceUnlinked
	PlaceLinked
)

// Conn is one TCP control block: the per-connection state spec.md §3
// describes, plus the condition variable and mutex synchronizing it. Conn
// is the public handle applications hold — the language-neutral "td"
// descriptor from spec.md §6 made into a typed pointer instead of a raw
// int, the idiomatic Go rendition of the same contract.
type Conn struct {
	mgr *Manager

	mu        sync.Mutex
	cond      *sync.Cond // broadcasts after every state/queue mutation; connect/accept/read/write waiters all block here and re-check their own predicate
	placement Placement
	bucket    int
	hashNext  *Conn
	hashPrev  *Conn
	freeNext  *Conn

	localIP, remoteIP     uint32
	localPort, remotePort uint16

	state State

	// Send sequence variables (spec.md §3).
	sndUna, sndNxt, sndPtr, sndWnd uint32
	sndWl1, sndWl2                 uint32
	iss                            uint32
	sndCnt                         int

	// Receive sequence variables.
	rcvNxt, rcvWnd, rcvUp uint32
	irs                   uint32

	// Congestion control.
	cwind, ssthresh uint32
	backoff         int
	retransCount    int

	// RTT estimation.
	srtt, mdev time.Duration
	rttStart   time.Time
	rttSeq     uint32
	rttTimed   bool

	// Queues.
	sndQ    nbuf.Queue
	rcvQ    nbuf.Queue
	reseqQ  nbuf.Queue
	curRead *nbuf.Buf // chain dequeued from rcvQ and partially drained by Read

	// Control flags.
	force, clone, retran, active, synack bool
	keepAliveCount int

	// Timers. Permanent records owned for the TCB's whole arena lifetime;
	// rearmed repeatedly rather than drawn fresh per use (timer.Timer doc).
	resendTimer    *timer.Timer
	keepAliveTimer *timer.Timer
	lifetimeTimer  *timer.Timer // 2MSL / FINWAIT2 deadline

	// Listener queue: children cloned off a CLONE listener, awaiting Accept.
	listenQ     []*Conn
	listenCount int
	backlog     int
	parent      *Conn // listener this TCB was cloned from, nil otherwise

	mss         uint16
	tos         byte
	keepAlive   time.Duration
	traceLevel  int
	closeReason Error
	freeOnClose bool
	hasCloseErr bool
}

func newConn(mgr *Manager) *Conn {
	c := &Conn{mgr: mgr}
	c.cond = sync.NewCond(&c.mu)
	c.resendTimer = timer.NewPermanent()
	c.keepAliveTimer = timer.NewPermanent()
	c.lifetimeTimer = timer.NewPermanent()
	return c
}

// Manager owns the TCB arena, the hash table, and the resources (buffer
// pool, timer wheel, IP dispatcher, random pool) every Conn shares —
// the Go rendition of the original's global tcbs[]/tcbTbl[] statics,
// collected into one owning object per spec.md §9, Design Notes item 3.
type Manager struct {
	Stats

	mu       sync.Mutex // hash-chain + free-list critical section
	pool     *nbuf.Pool
	wheel    *timer.Wheel
	disp     *ip.Dispatcher
	rng      *randpool.Pool
	clock    func() time.Time
	localIP  uint32

	arena    []Conn
	freeHead *Conn
	buckets  [NTCB]*Conn

	nextPort uint16
}

// NewManager allocates a Manager with maxTCB preallocated TCBs bound to
// disp for datagram I/O.
func NewManager(pool *nbuf.Pool, wheel *timer.Wheel, disp *ip.Dispatcher, rng *randpool.Pool, localIP uint32, clock func() time.Time, maxTCB int) *Manager {
	m := &Manager{
		pool:     pool,
		wheel:    wheel,
		disp:     disp,
		rng:      rng,
		localIP:  localIP,
		clock:    clock,
		nextPort: DefaultPort,
	}
	m.arena = make([]Conn, maxTCB)
	for i := range m.arena {
		c := &m.arena[i]
		c.mgr = m
		c.cond = sync.NewCond(&c.mu)
		c.resendTimer = timer.NewPermanent()
		c.keepAliveTimer = timer.NewPermanent()
		c.lifetimeTimer = timer.NewPermanent()
		c.placement = PlaceFree
		c.freeNext = m.freeHead
		m.freeHead = c
	}
	disp.RegisterHandler(ip.ProtoTCP, m.input)
	return m
}

// hashKey XOR-folds the four-tuple identity into a bucket index
// (spec.md §3, Connection identity).
func hashKey(localIP uint32, localPort uint16, remoteIP uint32, remotePort uint16) int {
	h := localIP ^ remoteIP ^ uint32(localPort)<<16 ^ uint32(localPort) ^ uint32(remotePort)<<16 ^ uint32(remotePort)
	return int(h % NTCB)
}

// alloc pops a TCB off the free list, or returns nil if the pool is
// exhausted.
func (m *Manager) alloc() *Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.freeHead
	if c == nil {
		return nil
	}
	m.freeHead = c.freeNext
	c.freeNext = nil
	c.placement = PlaceUnlinked
	*c = resetConn(c)
	return c
}

// resetConn zeroes every field except the identity (mgr, mu, cond,
// placement, arena linkage) that newConn/alloc already set up, so a reused
// TCB never leaks a previous connection's state.
func resetConn(c *Conn) Conn {
	return Conn{
		mgr:            c.mgr,
		cond:           c.cond,
		placement:      c.placement,
		resendTimer:    c.resendTimer,
		keepAliveTimer: c.keepAliveTimer,
		lifetimeTimer:  c.lifetimeTimer,
		mss:            DefaultMSS,
		cwind:          DefaultMSS,
		ssthresh:       ISSThresh,
		rcvWnd:         DefaultWnd,
		srtt:           DefaultRTT,
		backlog:        MaxListen,
	}
}

// link inserts c into the hash table under its current four-tuple.
func (m *Manager) link(c *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := hashKey(c.localIP, c.localPort, c.remoteIP, c.remotePort)
	c.bucket = b
	c.hashNext = m.buckets[b]
	c.hashPrev = nil
	if m.buckets[b] != nil {
		m.buckets[b].hashPrev = c
	}
	m.buckets[b] = c
	c.placement = PlaceLinked
}

// unlink removes c from the hash table, leaving it Unlinked.
func (m *Manager) unlink(c *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unlinkLocked(c)
}

func (m *Manager) unlinkLocked(c *Conn) {
	if c.placement != PlaceLinked {
		return
	}
	if c.hashPrev != nil {
		c.hashPrev.hashNext = c.hashNext
	} else {
		m.buckets[c.bucket] = c.hashNext
	}
	if c.hashNext != nil {
		c.hashNext.hashPrev = c.hashPrev
	}
	c.hashNext, c.hashPrev = nil, nil
	c.placement = PlaceUnlinked
}

// free returns c to the free list. c must already be Unlinked.
func (m *Manager) free(c *Conn) {
	m.wheel.Cancel(c.resendTimer)
	m.wheel.Cancel(c.keepAliveTimer)
	m.wheel.Cancel(c.lifetimeTimer)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unlinkLocked(c)
	c.placement = PlaceFree
	c.freeNext = m.freeHead
	m.freeHead = c
}

// lookup implements the three-tier match in spec.md §4.7.1: exact tuple,
// then a listener bound to (localIP, localPort) with a wildcard remote,
// then a fully wildcard listener bound to localPort alone.
func (m *Manager) lookup(localIP uint32, localPort uint16, remoteIP uint32, remotePort uint16) *Conn {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c := m.findLocked(localIP, localPort, remoteIP, remotePort); c != nil {
		return c
	}
	if c := m.findLocked(localIP, localPort, 0, 0); c != nil && c.state == StateListen {
		return c
	}
	if c := m.findLocked(0, localPort, 0, 0); c != nil && c.state == StateListen {
		return c
	}
	return nil
}

func (m *Manager) findLocked(localIP uint32, localPort uint16, remoteIP uint32, remotePort uint16) *Conn {
	b := hashKey(localIP, localPort, remoteIP, remotePort)
	for c := m.buckets[b]; c != nil; c = c.hashNext {
		if c.localIP == localIP && c.localPort == localPort && c.remoteIP == remoteIP && c.remotePort == remotePort {
			return c
		}
	}
	return nil
}

func (m *Manager) allocPort() uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.nextPort
	m.nextPort++
	if m.nextPort == 0 {
		m.nextPort = DefaultPort
	}
	return p
}

func (m *Manager) now() time.Time {
	if m.clock != nil {
		return m.clock()
	}
	return time.Now()
}

package tcp

import (
	"time"

	"github.com/ucip/netstack/nbuf"
)

// Addr is a (IP, port) pair, the Go rendition of the language-neutral
// {ip, port} struct spec.md §6 passes to bind/connect and returns from
// accept.
type Addr struct {
	IP   uint32
	Port uint16
}

// IOCtl commands (spec.md §6's tcp_ioctl surface, grounded on nettcp.c's
// TCPCTLG_*/TCPCTLS_* pairs in original_source/src/nettcp.h).
const (
	CtlGetUpStatus   = iota // 1 if ESTABLISHED or a data-bearing half-close state, 0 otherwise
	CtlGetRcvCount          // bytes currently queued on rcvQ plus curRead
	CtlGetKeepAlive         // current keep-alive interval, in seconds (0 = disabled)
	CtlSetKeepAlive         // set keep-alive interval, in seconds (0 disables)
	CtlGetTraceLevel
	CtlSetTraceLevel
)

// Open allocates a TCB from the Manager's free list. The returned Conn is
// in CLOSED state with no identity; Bind, Listen or Connect give it one
// (spec.md §6 tcp_open).
func (m *Manager) Open() (*Conn, error) {
	c := m.alloc()
	if c == nil {
		return nil, ErrAlloc
	}
	return c, nil
}

// Bind assigns a local address to c. ip must be 0 (wildcard, resolved to
// the stack's address at Listen/Connect time) or the stack's own address;
// port 0 draws an ephemeral port immediately so repeated Bind(...,0) calls
// don't collide (spec.md §6 tcp_bind).
func (c *Conn) Bind(ip uint32, port uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateClosed {
		return ErrConfig
	}
	if ip != 0 && ip != c.mgr.localIP {
		return ErrInvAddr
	}
	if port == 0 {
		port = c.mgr.allocPort()
	}
	c.localIP = ip
	c.localPort = port
	return nil
}

// Listen moves c into LISTEN with a clamped backlog and links it into the
// hash table as a CLONE listener: every inbound SYN it matches spawns a
// fresh child TCB rather than consuming the listener itself (spec.md §6
// tcp_listen, §4.7.2's clone rule).
func (c *Conn) Listen(backlog int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateClosed {
		return ErrConfig
	}
	if c.localPort == 0 {
		c.localPort = DefaultPort
	}
	if backlog < 1 {
		backlog = 1
	}
	if backlog > MaxListen {
		backlog = MaxListen
	}
	c.backlog = backlog
	c.clone = true
	c.state = StateListen
	c.mgr.link(c)
	return nil
}

// Accept waits for a fully-established connection cloned off a listener
// and returns it as a new Conn along with the peer's address. A zero
// timeout blocks forever (spec.md §5's "zero timeout is forever on
// connect/accept/wait").
//
// Accept only ever locks a child's mutex while already holding its own
// (the listener's) — the same order inputListen uses when it clones a
// child under the listener's lock — so the two never deadlock against each
// other.
func (c *Conn) Accept(timeout time.Duration) (*Conn, Addr, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ok := c.waitUntilLocked(timeout, func() bool {
		if c.state != StateListen {
			return true
		}
		return c.firstReadyChildLocked() >= 0
	})
	if c.state != StateListen {
		return nil, Addr{}, ErrConnect
	}
	if !ok {
		return nil, Addr{}, ErrTimeout
	}
	i := c.firstReadyChildLocked()
	child := c.listenQ[i]
	c.listenQ = append(c.listenQ[:i], c.listenQ[i+1:]...)
	c.listenCount--

	child.mu.Lock()
	peer := Addr{IP: child.remoteIP, Port: child.remotePort}
	child.mu.Unlock()
	return child, peer, nil
}

// firstReadyChildLocked returns the index of the first listenQ entry that
// has finished its handshake (removing any that died before that), or -1
// if none is ready yet. The caller must hold c.mu.
func (c *Conn) firstReadyChildLocked() int {
	for i := 0; i < len(c.listenQ); {
		child := c.listenQ[i]
		child.mu.Lock()
		state := child.state
		child.mu.Unlock()
		switch state {
		case StateEstablished, StateCloseWait:
			return i
		case StateClosed:
			c.listenQ = append(c.listenQ[:i], c.listenQ[i+1:]...)
			c.listenCount--
		default:
			i++
		}
	}
	return -1
}

// Connect performs an active open to remote, blocking until the
// connection reaches ESTABLISHED or fails (spec.md §6 tcp_connect). tos is
// carried on every segment this connection sends.
func (c *Conn) Connect(remote Addr, tos byte, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateClosed {
		return ErrConfig
	}
	if remote.IP == 0 || remote.Port == 0 {
		return ErrInvAddr
	}
	if c.localPort == 0 {
		c.localPort = c.mgr.allocPort()
	}
	if c.localIP == 0 {
		c.localIP = c.mgr.localIP
	}
	c.remoteIP, c.remotePort = remote.IP, remote.Port
	c.tos = tos
	c.active = true
	now := c.mgr.now()
	c.iss = c.mgr.rng.ISN(now.UnixMilli())
	c.sndUna, c.sndNxt, c.sndPtr = c.iss, c.iss, c.iss
	c.sndCnt = 0
	c.state = StateSynSent
	c.mgr.link(c)
	c.mgr.incConnOut()
	c.output()

	ok := c.waitUntilLocked(timeout, func() bool {
		return c.state == StateEstablished || c.state == StateClosed
	})
	if !ok {
		return ErrTimeout
	}
	if c.state == StateClosed {
		return c.closeErrorLocked()
	}
	return nil
}

// closeErrorLocked returns the reason a CLOSED Conn's blocked callers
// should see, defaulting to ErrConnect if none was ever recorded. The
// caller must hold c.mu.
func (c *Conn) closeErrorLocked() error {
	if c.hasCloseErr {
		return c.closeReason
	}
	return ErrConnect
}

// Read drains up to len(buf) bytes from the receive queue, blocking until
// at least one byte is available, the peer's FIN (or a reset/timeout)
// ends the stream, or timeout elapses. A zero timeout polls: it returns
// immediately with whatever is already queued, even zero bytes, unless the
// connection has already ended. Each chain Read fully drains restores
// rcv.wnd by NBUFSZ, unblocking a peer that stopped on a zero window
// (spec.md §6 tcp_read, §8 scenario 6).
func (c *Conn) Read(buf []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readLocked(buf, -1)
}

// ReadTimeout is Read with an explicit wait bound; timeout 0 polls.
func (c *Conn) ReadTimeout(buf []byte, timeout time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readLocked(buf, timeout)
}

func (c *Conn) readLocked(buf []byte, timeout time.Duration) (int, error) {
	if timeout != 0 {
		c.waitUntilLocked(timeout, func() bool {
			return c.curRead != nil || c.rcvQ.Len() > 0 || !c.state.synchronized()
		})
	}

	n := 0
	for n < len(buf) {
		if c.curRead == nil {
			c.curRead = c.rcvQ.Dequeue()
			if c.curRead != nil {
				c.growWindow()
				c.force = true
			}
		}
		if c.curRead == nil {
			break
		}
		want := len(buf) - n
		got := nbuf.Trim(c.mgr.pool, buf[n:n+want], &c.curRead, want)
		n += got
		if c.curRead != nil {
			break
		}
	}

	if n > 0 {
		c.output()
		return n, nil
	}
	if c.state == StateClosed {
		return 0, c.closeErrorLocked()
	}
	if c.state == StateCloseWait || c.state == StateClosing || c.state == StateLastAck || c.state == StateTimeWait {
		return 0, ErrEOF
	}
	return 0, nil
}

// Write enqueues up to len(buf) bytes for transmission, blocking until at
// least one byte has been accepted onto the send queue or timeout elapses.
// A zero timeout polls (spec.md §6 tcp_write: "write returns after any
// progress").
func (c *Conn) Write(buf []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLocked(buf, -1)
}

// WriteTimeout is Write with an explicit wait bound; timeout 0 polls.
func (c *Conn) WriteTimeout(buf []byte, timeout time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLocked(buf, timeout)
}

func (c *Conn) writeLocked(buf []byte, timeout time.Duration) (int, error) {
	if !writable(c.state) {
		if c.state == StateClosed {
			return 0, c.closeErrorLocked()
		}
		return 0, ErrConnect
	}

	room := func() int {
		n := MaxQueue*int(c.mss) - c.sndCnt
		if n < 0 {
			return 0
		}
		return n
	}
	if timeout != 0 {
		c.waitUntilLocked(timeout, func() bool {
			return room() > 0 || !writable(c.state)
		})
	}
	if !writable(c.state) {
		if c.state == StateClosed {
			return 0, c.closeErrorLocked()
		}
		return 0, ErrConnect
	}

	n := len(buf)
	if avail := room(); n > avail {
		n = avail
	}
	if n == 0 {
		return 0, nil
	}
	c.mgr.pool.AppendToQueue(&c.sndQ, buf[:n])
	c.sndCnt += n
	c.output()
	return n, nil
}

// writable reports whether a state still accepts application writes: not
// yet half-closed from our side.
func writable(s State) bool {
	switch s {
	case StateEstablished, StateCloseWait, StateSynSent, StateSynReceived:
		return true
	default:
		return false
	}
}

// Disconnect initiates our half of close: reserve sequence space for a FIN
// and move to FINWAIT1 (or LAST_ACK from CLOSE_WAIT), exactly as spec.md
// §4.7.2's "our close from ESTABLISHED" rule describes. It does not block;
// pair with Wait to observe full teardown.
func (c *Conn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateEstablished:
		c.sndCnt++
		c.sndNxt++
		c.state = StateFinWait1
	case StateCloseWait:
		c.sndCnt++
		c.sndNxt++
		c.state = StateLastAck
	case StateSynSent, StateSynReceived, StateListen:
		c.closeSelfLocked(ErrEOF)
		return nil
	default:
		return ErrConnect
	}
	c.cond.Broadcast()
	c.output()
	return nil
}

// Wait blocks until c reaches CLOSED (spec.md §6 tcp_wait).
func (c *Conn) Wait(timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ok := c.waitUntilLocked(timeout, func() bool { return c.state == StateClosed })
	if !ok {
		return ErrTimeout
	}
	return c.closeErrorLocked()
}

// Close half-closes (if still synchronized) and reclaims the TCB once it
// reaches CLOSED; free_on_close makes the next close-triggering event
// (a final ack, a timeout, a reset) reclaim it automatically instead of
// requiring a second call (spec.md §6 tcp_close, §5 Cancellation).
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.state.synchronized() {
		c.mu.Unlock()
		_ = c.Disconnect()
		c.mu.Lock()
	}
	c.freeOnClose = true
	if c.state == StateClosed {
		c.mgr.free(c)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return nil
}

// IOCtl implements spec.md §6's tcp_ioctl surface.
func (c *Conn) IOCtl(cmd int, arg int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch cmd {
	case CtlGetUpStatus:
		if c.state == StateEstablished || c.state == StateCloseWait {
			return 1, nil
		}
		return 0, nil
	case CtlGetRcvCount:
		n := c.rcvQ.ByteLen()
		if c.curRead != nil {
			n += c.curRead.ChainLen()
		}
		return n, nil
	case CtlGetKeepAlive:
		return int(c.keepAlive / time.Second), nil
	case CtlSetKeepAlive:
		c.keepAlive = time.Duration(arg) * time.Second
		if c.keepAlive > 0 {
			c.mgr.rearm(c.keepAliveTimer, c.keepAlive, func() { c.mgr.onKeepAlive(c) })
		} else {
			c.mgr.disarm(c.keepAliveTimer)
		}
		return 0, nil
	case CtlGetTraceLevel:
		return c.traceLevel, nil
	case CtlSetTraceLevel:
		c.traceLevel = arg
		return 0, nil
	default:
		return 0, ErrParam
	}
}

// waitUntilLocked blocks until pred() is true or timeout elapses (timeout
// < 0 means forever, matching spec.md §5's "zero timeout is forever on
// connect/accept/wait"; callers of Read/Write translate their own
// zero-means-poll convention before reaching here). The caller must hold
// c.mu; pred is evaluated with c.mu held.
func (c *Conn) waitUntilLocked(timeout time.Duration, pred func() bool) bool {
	if pred() {
		return true
	}
	if timeout < 0 {
		for !pred() {
			c.cond.Wait()
		}
		return true
	}
	deadline := c.mgr.now().Add(timeout)
	t := time.AfterFunc(timeout, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer t.Stop()
	for !pred() {
		if !c.mgr.now().Before(deadline) {
			return false
		}
		c.cond.Wait()
	}
	return true
}

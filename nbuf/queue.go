package nbuf

import "sync"

// Queue is a doubly-terminated FIFO of buffer chains: O(1) enqueue at the
// tail, O(1) dequeue at the head, with a running count of chains. Queues own
// the chains on them — a chain is in at most one queue at a time — and are
// safe for concurrent use.
type Queue struct {
	mu   sync.Mutex
	head *Buf
	tail *Buf
	n    int
}

// Len returns the number of chains currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Peek returns the head chain without removing it, or nil if the queue is
// empty.
func (q *Queue) Peek() *Buf {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.head
}

// HeadSortOrder returns the sort key of the head chain, or 0 if empty.
func (q *Queue) HeadSortOrder() uint32 {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head == nil {
		return 0
	}
	return q.head.SortOrder
}

// Enqueue appends chain n to the tail of q in FIFO order.
func (q *Queue) Enqueue(n *Buf) {
	if n == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	n.NextChain = nil
	if q.tail == nil {
		q.head = n
		q.tail = n
	} else {
		q.tail.NextChain = n
		q.tail = n
	}
	q.n++
}

// EnqueueSorted inserts chain n into q in ascending order of sort, using
// wrap-safe signed comparison so 32-bit sequence numbers compare correctly
// across wrap (spec.md §4.1, §4.7.7). It records sort on n.SortOrder.
func (q *Queue) EnqueueSorted(n *Buf, sort uint32) {
	if n == nil {
		return
	}
	n.SortOrder = sort
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head == nil {
		q.head = n
		q.tail = n
		n.NextChain = nil
		q.n = 1
		return
	}
	var prev *Buf
	cur := q.head
	for cur != nil && int32(sort-cur.SortOrder) >= 0 {
		prev = cur
		cur = cur.NextChain
	}
	n.NextChain = cur
	if prev == nil {
		q.head = n
	} else {
		prev.NextChain = n
	}
	if cur == nil {
		q.tail = n
	}
	q.n++
}

// Dequeue removes and returns the head chain, clearing its NextChain link,
// or returns nil if the queue is empty.
func (q *Queue) Dequeue() *Buf {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.head
	if n == nil {
		return nil
	}
	q.head = n.NextChain
	if q.head == nil {
		q.tail = nil
	}
	q.n--
	n.NextChain = nil
	return n
}

// ByteLen returns the total payload bytes across every chain currently
// queued, without dequeuing anything (used to report queued byte counts,
// e.g. tcp.Conn.IOCtl's CtlGetRcvCount).
func (q *Queue) ByteLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	total := 0
	for b := q.head; b != nil; b = b.NextChain {
		total += b.chainLen
	}
	return total
}

// AppendToQueue appends s onto the single chain held in q, allocating and
// enqueuing a fresh one if q is currently empty. A TCB's send queue holds
// exactly one chain that grows as the application writes more (spec.md §6
// tcp_write) and shrinks from the front as the peer acks it (TrimQ); that
// single-chain shape is what lets AppendFromQ address it with one flat
// byte offset during (re)transmission. It returns the number of bytes
// actually appended, which is less than len(s) only on allocation failure.
func (p *Pool) AppendToQueue(q *Queue, s []byte) int {
	if len(s) == 0 {
		return 0
	}
	if q.head == nil {
		nb := p.Get()
		if nb == nil {
			return 0
		}
		n := p.Append(nb, s, len(s))
		if n == 0 {
			p.FreeChain(nb)
			return 0
		}
		q.Enqueue(nb)
		return n
	}
	return p.Append(q.head, s, len(s))
}

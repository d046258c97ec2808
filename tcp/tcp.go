// Package tcp implements the stack's RFC 793 connection manager: a hashed
// TCB table, the input/output pipelines, sequence and window arithmetic,
// slow-start congestion control, RTT estimation with exponential backoff,
// a resequencing queue, keep-alive, 2MSL, half-close and listen-queue
// cloning, plus the accept/bind/read/write public API (spec.md §4.7, §6,
// grounded on original_source/src/nettcp.c/nettcp.h/nettcphd.h).
package tcp

import "time"

// Compile-time defaults from spec.md §6 / original_source/src/nettcp.h,
// collected the way stack.Config gathers every subsystem's knobs.
const (
	DefaultMSS   = 256 // TCP_DEFMSS
	MinMSS       = 256 // TCP_MINMSS
	DefaultWnd   = 512 // TCP_DEFWND
	DefaultRTT   = 500 * time.Millisecond
	ISSThresh    = 64*1024 - 1 // TCP_ISSTHRESH
	DefaultPort  = 5000        // TCP_DEFPORT
	MaxQueue     = 8           // TCP_MAXQUEUE
	MinSeg       = 80          // TCP_MINSEG, modified-Nagle threshold
	ReseqSpare   = 2           // headroom above mss/NBUFSZ the input path keeps free

	MaxTCP       = 6  // MAXTCP, total connections
	NTCB         = 16 // hash buckets
	MaxListen    = 2  // MAXLISTEN, default listen backlog cap
	MaxRetrans   = 12
	MaxKeepTimes = 10
	MaxFinWait2  = 10 * time.Minute
	MSL2         = 30 * time.Second // 2MSL dwell time
	TTL          = 64               // TCPTTL

	AGain = 8 // srtt smoothing gain
	DGain = 4 // mdev smoothing gain
)

// Error is one of the closed set of error codes a boundary call can return
// (spec.md §6); never a raw Go error wrapping internal detail.
type Error int

const (
	ErrEOF Error = -(iota + 1)
	ErrAlloc
	ErrParam
	ErrInvAddr
	ErrConfig
	ErrConnect
	ErrReset
	ErrTimeout
	ErrNetwork
	ErrPrec
	ErrProtocol
)

func (e Error) Error() string {
	switch e {
	case ErrEOF:
		return "tcp: end of data"
	case ErrAlloc:
		return "tcp: unable to allocate a control block"
	case ErrParam:
		return "tcp: invalid parameters"
	case ErrInvAddr:
		return "tcp: invalid address"
	case ErrConfig:
		return "tcp: invalid configuration"
	case ErrConnect:
		return "tcp: no connection"
	case ErrReset:
		return "tcp: connection reset"
	case ErrTimeout:
		return "tcp: timeout"
	case ErrNetwork:
		return "tcp: network unreachable"
	case ErrPrec:
		return "tcp: precedence error"
	case ErrProtocol:
		return "tcp: protocol error"
	default:
		return "tcp: unknown error"
	}
}

// State is a TCB's RFC 793 §3.2 state.
type State int

const (
	StateClosed State = iota
	StateListen
	StateSynSent
	StateSynReceived
	StateEstablished
	StateFinWait1
	StateFinWait2
	StateCloseWait
	StateClosing
	StateLastAck
	StateTimeWait
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateListen:
		return "LISTEN"
	case StateSynSent:
		return "SYN_SENT"
	case StateSynReceived:
		return "SYN_RECEIVED"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFinWait1:
		return "FINWAIT1"
	case StateFinWait2:
		return "FINWAIT2"
	case StateCloseWait:
		return "CLOSE_WAIT"
	case StateClosing:
		return "CLOSING"
	case StateLastAck:
		return "LAST_ACK"
	case StateTimeWait:
		return "TIME_WAIT"
	default:
		return "UNKNOWN"
	}
}

func (s State) synchronized() bool {
	switch s {
	case StateEstablished, StateFinWait1, StateFinWait2, StateCloseWait, StateClosing, StateLastAck, StateTimeWait:
		return true
	default:
		return false
	}
}

// Package metrics exports every subsystem's internal counters as prometheus
// gauges, the same shape the original tcp-info pipeline used for its own
// syscall/polling/connection histograms: one promauto var block per module,
// wired up once at startup rather than scattered through the packages that
// actually do the counting. Unlike that original, nbuf/ppp/ip/icmp/tcp never
// import prometheus themselves — they just keep plain atomic Stats structs,
// since spec.md's modules are meant to run with no observability surface at
// all on the smallest targets — so Register reads those structs through
// GaugeFuncs instead of having each package push its own Observe/Inc calls.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ucip/netstack/icmp"
	"github.com/ucip/netstack/ip"
	"github.com/ucip/netstack/nbuf"
	"github.com/ucip/netstack/ppp"
	"github.com/ucip/netstack/tcp"
)

func gaugeFunc(name, help string, labels prometheus.Labels, fn func() float64) {
	opts := prometheus.GaugeOpts{Namespace: "ucip", Name: name, Help: help, ConstLabels: labels}
	promauto.NewGaugeFunc(opts, fn)
}

// RegisterPool installs gauges for a buffer pool's watermarks (spec.md §4.1;
// original_source/src/netbuf.c's nInfo counters).
func RegisterPool(name string, p *nbuf.Pool) {
	labels := prometheus.Labels{"pool": name}
	gaugeFunc("nbuf_free_current", "buffers currently on the free list", labels,
		func() float64 { return float64(p.Stats().CurFree) })
	gaugeFunc("nbuf_free_min", "low watermark of free buffers", labels,
		func() float64 { return float64(p.Stats().MinFree) })
	gaugeFunc("nbuf_free_max", "high watermark of free buffers", labels,
		func() float64 { return float64(p.Stats().MaxFree) })
	gaugeFunc("nbuf_chain_len_max", "longest chain ever built from this pool", labels,
		func() float64 { return float64(p.Stats().MaxChainLen) })
}

// RegisterPPP installs gauges mirroring ppp.Stats for one link (spec.md
// §4.4; original_source/src/netppp.c's PPPStats).
func RegisterPPP(name string, l *ppp.Link) {
	labels := prometheus.Labels{"link": name}
	gaugeFunc("ppp_in_bytes", "bytes received and de-escaped", labels,
		func() float64 { return float64(l.Snapshot().InBytes) })
	gaugeFunc("ppp_in_packets", "frames received with a valid FCS", labels,
		func() float64 { return float64(l.Snapshot().InPackets) })
	gaugeFunc("ppp_in_errors", "frames dropped on bad FCS or mid-frame reset", labels,
		func() float64 { return float64(l.Snapshot().InErrors) })
	gaugeFunc("ppp_dispatch_errors", "frames with no handler for their protocol", labels,
		func() float64 { return float64(l.Snapshot().DispErrors) })
	gaugeFunc("ppp_out_bytes", "bytes transmitted after framing", labels,
		func() float64 { return float64(l.Snapshot().OutBytes) })
	gaugeFunc("ppp_out_packets", "frames transmitted", labels,
		func() float64 { return float64(l.Snapshot().OutPackets) })
	gaugeFunc("ppp_out_errors", "frames dropped before transmission", labels,
		func() float64 { return float64(l.Snapshot().OutErrors) })
}

// RegisterIP installs gauges mirroring ip.Stats (spec.md §4.5;
// original_source/src/netip.h).
func RegisterIP(d *ip.Dispatcher) {
	gaugeFunc("ip_total", "datagrams seen by Input", nil,
		func() float64 { return float64(d.Snapshot().Total) })
	gaugeFunc("ip_too_small", "datagrams shorter than a bare header", nil,
		func() float64 { return float64(d.Snapshot().TooSmall) })
	gaugeFunc("ip_bad_version", "datagrams with ip_v != 4", nil,
		func() float64 { return float64(d.Snapshot().BadVersion) })
	gaugeFunc("ip_bad_header_len", "datagrams with ip_hl out of bounds", nil,
		func() float64 { return float64(d.Snapshot().BadHeaderLen) })
	gaugeFunc("ip_bad_checksum", "datagrams failing the header checksum", nil,
		func() float64 { return float64(d.Snapshot().BadChecksum) })
	gaugeFunc("ip_bad_len", "datagrams with ip_len shorter than the header", nil,
		func() float64 { return float64(d.Snapshot().BadLen) })
	gaugeFunc("ip_buffer_failures", "allocation failures while processing a datagram", nil,
		func() float64 { return float64(d.Snapshot().Buffers) })
	gaugeFunc("ip_cant_forward", "datagrams neither ours nor forwardable", nil,
		func() float64 { return float64(d.Snapshot().CantForward) })
	gaugeFunc("ip_delivered", "datagrams handed to the link for transmission", nil,
		func() float64 { return float64(d.Snapshot().Delivered) })
	gaugeFunc("ip_dropped", "datagrams dropped for any other reason", nil,
		func() float64 { return float64(d.Snapshot().Dropped) })
}

// RegisterICMP installs gauges mirroring icmp.Stats (spec.md §4.6;
// original_source/src/neticmp.c).
func RegisterICMP(h *icmp.Handler) {
	gaugeFunc("icmp_too_short", "messages shorter than their fixed header", nil,
		func() float64 { return float64(h.Snapshot().TooShort) })
	gaugeFunc("icmp_bad_checksum", "messages failing the ICMP checksum", nil,
		func() float64 { return float64(h.Snapshot().Checksum) })
	gaugeFunc("icmp_bad_len", "messages shorter than their type requires", nil,
		func() float64 { return float64(h.Snapshot().BadLen) })
	gaugeFunc("icmp_bad_code", "messages with an unrecognized code", nil,
		func() float64 { return float64(h.Snapshot().BadCode) })
	gaugeFunc("icmp_old", "advisories for a datagram id this host no longer recognizes", nil,
		func() float64 { return float64(h.Snapshot().OldICMP) })
	gaugeFunc("icmp_errors_sent", "error messages generated by this host", nil,
		func() float64 { return float64(h.Snapshot().Error) })
	gaugeFunc("icmp_reflected", "echo/timestamp requests answered", nil,
		func() float64 { return float64(h.Snapshot().Reflect) })
}

// RegisterTCP installs gauges mirroring tcp.Stats (spec.md §4.7;
// original_source/src/nettcp.h).
func RegisterTCP(m *tcp.Manager) {
	gaugeFunc("tcp_runt", "segments shorter than a bare header", nil,
		func() float64 { return float64(m.Snapshot().Runt) })
	gaugeFunc("tcp_bad_checksum", "segments failing the pseudo-header checksum", nil,
		func() float64 { return float64(m.Snapshot().Checksum) })
	gaugeFunc("tcp_connections_out", "active opens initiated", nil,
		func() float64 { return float64(m.Snapshot().ConnOut) })
	gaugeFunc("tcp_connections_in", "passive opens accepted off a listener", nil,
		func() float64 { return float64(m.Snapshot().ConnIn) })
	gaugeFunc("tcp_resets_out", "RSTs sent", nil,
		func() float64 { return float64(m.Snapshot().ResetOut) })
	gaugeFunc("tcp_resets_in", "RSTs received", nil,
		func() float64 { return float64(m.Snapshot().ResetIn) })
	gaugeFunc("tcp_connections_ended", "TCBs that reached CLOSED", nil,
		func() float64 { return float64(m.Snapshot().EndRec) })
}

// Command serialppp drives the embedded TCP/IP stack (nbuf, ppp, ip, icmp,
// tcp) over a real serial line: it opens a tty, frames PPP over it, and
// runs a TCP echo listener reachable across the link. It is the reference
// driver spec.md §1 leaves as an external collaborator behind ppp.Link.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	"github.com/ucip/netstack/auth"
	"github.com/ucip/netstack/stack"
	"github.com/ucip/netstack/tcp"
)

var (
	device     = flag.String("device", "/dev/ttyUSB0", "Serial device to open")
	baud       = flag.Int("baud", 115200, "Baud rate for -device")
	localAddr  = flag.String("local", "10.0.0.1", "This host's IPv4 address on the PPP link")
	listenPort = flag.Int("port", 7, "TCP port the echo service listens on")
	promAddr   = flag.String("prom", ":9090", "Prometheus metrics export address")
	secretsCSV = flag.String("secrets", "", "Path to a user,password CSV for PAP auth; empty means accept any credential")
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

func main() {
	flag.Parse()
	flagx.ArgsFromEnv(flag.CommandLine)

	promSrv := prometheusx.MustStartPrometheus(*promAddr)
	defer promSrv.Close()

	secrets := loadSecrets(*secretsCSV)

	ipAddr, err := parseIPv4(*localAddr)
	rtx.Must(err, "invalid -local address %q", *localAddr)
	st := stack.New(stack.Config{LocalAddr: ipAddr})

	tty, err := OpenTTY(*device, *baud)
	rtx.Must(err, "could not open %s", *device)
	defer tty.Close()

	cb := &linkCallbacks{name: "serial0", secrets: secrets}
	l := st.AddLink("serial0", tty, cb)

	go st.Run()
	go pumpInput(tty, l)

	runEcho(st, uint16(*listenPort))
}

func parseIPv4(s string) (uint32, error) {
	addr := net.ParseIP(s)
	v4 := addr.To4()
	if v4 == nil {
		return 0, fmt.Errorf("not an IPv4 address: %q", s)
	}
	return uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3]), nil
}

// pumpInput feeds octets arriving on r into l's async-HDLC parser. It
// exits when the read side returns an error (device closed).
func pumpInput(r io.Reader, l interface{ Input([]byte) }) {
	buf := make([]byte, 512)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			l.Input(buf[:n])
		}
		if err != nil {
			log.Printf("serial read: %v", err)
			return
		}
	}
}

// runEcho listens on localPort and echoes every byte received back to the
// sender, a minimal application exercising Accept/Read/Write/Close end to
// end over the stack.
func runEcho(st *stack.Stack, localPort uint16) {
	listener, err := st.TCP.Open()
	rtx.Must(err, "tcp.Open for listener")
	rtx.Must(listener.Bind(0, localPort), "tcp.Bind port %d", localPort)
	rtx.Must(listener.Listen(tcp.MaxListen), "tcp.Listen port %d", localPort)

	log.Printf("echo service listening on port %d", localPort)
	for {
		conn, from, err := listener.Accept(0)
		if err != nil {
			log.Printf("accept: %v", err)
			continue
		}
		log.Printf("accepted connection from %d.%d.%d.%d:%d",
			byte(from.IP>>24), byte(from.IP>>16), byte(from.IP>>8), byte(from.IP), from.Port)
		go echoLoop(conn)
	}
}

func echoLoop(conn *tcp.Conn) {
	defer conn.Close()
	buf := make([]byte, 512)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if err != tcp.ErrEOF {
				log.Printf("echo read: %v", err)
			}
			return
		}
		if n == 0 {
			continue
		}
		if _, err := conn.Write(buf[:n]); err != nil {
			log.Printf("echo write: %v", err)
			return
		}
	}
}

func loadSecrets(path string) auth.SecretStore {
	if path == "" {
		return auth.AlwaysAllow
	}
	f, err := os.Open(path)
	rtx.Must(err, "could not open secrets file %s", path)
	defer f.Close()
	store, err := auth.LoadCSV(f)
	rtx.Must(err, "could not parse secrets file %s", path)
	return store
}

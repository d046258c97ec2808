package main

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// TTY is a raw, unbuffered POSIX serial line opened for PPP framing: 8
// data bits, no parity, no flow control, all local/canonical processing
// disabled so every octet (including 0x7e flags and XON/XOFF-looking
// bytes) reaches the framer untouched. This is the real counterpart to
// the bare io.Writer/ppp.Link.Input pair spec.md §1 leaves abstract.
type TTY struct {
	f *os.File
}

// baudRates maps a requested bits-per-second figure onto the termios
// speed constant unix exports, the same lookup
// goserial's port_linux.go performs with its own CBAUD table before
// ORing the result into Cflag.
var baudRates = map[int]uint32{
	1200:   unix.B1200,
	2400:   unix.B2400,
	4800:   unix.B4800,
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
}

// OpenTTY opens device (e.g. "/dev/ttyUSB0") and configures it as a raw
// serial line at baud bits per second using TCGETS/TCSETS via
// unix.IoctlGetTermios/IoctlSetTermios, the ioctl pair named in
// SPEC_FULL.md's domain stack section.
func OpenTTY(device string, baud int) (*TTY, error) {
	speed, ok := baudRates[baud]
	if !ok {
		return nil, fmt.Errorf("serialppp: unsupported baud rate %d", baud)
	}

	f, err := os.OpenFile(device, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("serialppp: open %s: %w", device, err)
	}

	t, err := unix.IoctlGetTermios(int(f.Fd()), unix.TCGETS)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("serialppp: TCGETS %s: %w", device, err)
	}

	unix.CfmakeRaw(t)
	t.Cflag |= unix.CREAD | unix.CLOCAL
	t.Cflag &^= unix.CRTSCTS
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(int(f.Fd()), unix.TCSETS, t); err != nil {
		f.Close()
		return nil, fmt.Errorf("serialppp: set raw mode %s: %w", device, err)
	}

	if err := setBaud(int(f.Fd()), t, speed); err != nil {
		f.Close()
		return nil, fmt.Errorf("serialppp: set baud %s: %w", device, err)
	}

	return &TTY{f: f}, nil
}

func setBaud(fd int, t *unix.Termios, speed uint32) error {
	t.Cflag &^= unix.CBAUD | unix.CBAUDEX
	t.Cflag |= speed
	t.Ispeed = speed
	t.Ospeed = speed
	return unix.IoctlSetTermios(fd, unix.TCSETS, t)
}

// Write implements io.Writer for ppp.Link's outbound device.
func (t *TTY) Write(p []byte) (int, error) { return t.f.Write(p) }

// Read blocks for at least one octet (VMIN=1) and returns what arrived.
func (t *TTY) Read(p []byte) (int, error) { return t.f.Read(p) }

// Close releases the underlying file descriptor.
func (t *TTY) Close() error { return t.f.Close() }

package linktest

import (
	"errors"
	"io"
	"net"
	"os"
	"time"
)

// LineState is the observed state of the transport's hardware handshake
// line (e.g. CTS for RTS/CTS flow control).
type LineState int

const (
	// LineUnsupported means the transport cannot query a handshake line.
	LineUnsupported LineState = iota
	// LineAsserted means the remote signals readiness to receive.
	LineAsserted
	// LineDeasserted means the remote signals it is not ready to receive.
	LineDeasserted
)

// String returns the line state mnemonic.
func (s LineState) String() string {
	switch s {
	case LineAsserted:
		return "asserted"
	case LineDeasserted:
		return "deasserted"
	default:
		return "unsupported"
	}
}

// Transport is the duplex byte channel the link test runs over.
//
// Reads and writes are bounded by explicit deadlines; a deadline miss must
// surface as a timeout error (os.ErrDeadlineExceeded or a net.Error with
// Timeout() == true). The session runner owns the Transport exclusively for
// the lifetime of a session.
type Transport interface {
	io.ReadWriteCloser

	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error

	// HandshakeLine reports the state of the hardware handshake line, used
	// to diagnose post-warmup write stalls. Transports without modem
	// signals return LineUnsupported.
	HandshakeLine() LineState
}

// connTransport adapts a net.Conn (TCP bridge, net.Pipe, pty socket) to the
// Transport interface. Such links expose no handshake line.
type connTransport struct {
	net.Conn
}

// WrapConn adapts a net.Conn to the Transport interface, for running the
// link test over TCP bridges or in-memory pipes.
func WrapConn(conn net.Conn) Transport {
	return &connTransport{Conn: conn}
}

func (c *connTransport) HandshakeLine() LineState {
	return LineUnsupported
}

// isTimeout reports whether err is a deadline miss rather than a hard
// transport failure.
func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

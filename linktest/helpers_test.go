package linktest

import (
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-linktest/logger"
	"github.com/arloliu/go-linktest/wire"
)

func quietLogger() logger.Logger {
	return logger.NewSlog(logger.ErrorLevel, false)
}

// fastOpts returns options that make a loopback session converge quickly.
func fastOpts(extra ...Option) []Option {
	opts := []Option{
		WithLogger(quietLogger()),
		WithHandshakeTimeout(5 * time.Second),
		WithSynInterval(20 * time.Millisecond),
		WithReadTimeout(10 * time.Millisecond),
		WithWriteTimeout(200 * time.Millisecond),
		WithInterCharTimeout(100 * time.Millisecond),
		WithPerMsgTimeout(500 * time.Millisecond),
		WithWarmupWindow(0),
	}

	return append(opts, extra...)
}

func testConfig(t *testing.T, extra ...Option) *Config {
	t.Helper()

	cfg, err := NewConfig(fastOpts(extra...)...)
	require.NoError(t, err)

	return cfg
}

// newConnPair returns two connected transports over a TCP loopback socket.
// TCP gives real kernel buffering and deadline support, so frames flow the
// way they would over a buffered serial driver.
func newConnPair(t *testing.T) (Transport, Transport) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	type accepted struct {
		conn net.Conn
		err  error
	}

	acceptCh := make(chan accepted, 1)
	go func() {
		conn, aerr := ln.Accept()
		acceptCh <- accepted{conn: conn, err: aerr}
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	server := <-acceptCh
	require.NoError(t, server.err)

	t.Cleanup(func() {
		client.Close()
		server.conn.Close()
	})

	return WrapConn(client), WrapConn(server.conn)
}

// stubTransport is a scriptable transport for exercising the write path.
type stubTransport struct {
	writes       int
	failFirstN   int
	line         LineState
	writeErr     error
	closedErr    error
	bytesWritten int
	lastWrite    []byte
}

func (s *stubTransport) Read(_ []byte) (int, error) {
	return 0, os.ErrDeadlineExceeded
}

func (s *stubTransport) Write(p []byte) (int, error) {
	s.writes++

	if s.writeErr != nil {
		return 0, s.writeErr
	}

	if s.writes <= s.failFirstN {
		return 0, os.ErrDeadlineExceeded
	}

	s.bytesWritten += len(p)
	s.lastWrite = append(s.lastWrite[:0], p...)

	return len(p), nil
}

func (s *stubTransport) Close() error                       { return s.closedErr }
func (s *stubTransport) SetReadDeadline(_ time.Time) error  { return nil }
func (s *stubTransport) SetWriteDeadline(_ time.Time) error { return nil }
func (s *stubTransport) HandshakeLine() LineState           { return s.line }

// feedTransport serves scripted inbound bytes, then reports read deadline
// expiry like an idle line.
type feedTransport struct {
	stubTransport
	inbound []byte
}

func (f *feedTransport) Read(p []byte) (int, error) {
	if len(f.inbound) == 0 {
		return 0, os.ErrDeadlineExceeded
	}

	n := copy(p, f.inbound)
	f.inbound = f.inbound[n:]

	return n, nil
}

// corruptTransport flips one payload bit in every nth outgoing data frame.
// Control and handshake frames pass through untouched so the session can
// establish and terminate normally. It relies on each frame being handed
// to Write in a single call, which holds for the session's write path.
type corruptTransport struct {
	Transport
	every  int
	nWrite int
}

func (c *corruptTransport) Write(p []byte) (int, error) {
	if len(p) > wire.LengthPrefixSize+8 {
		sid := uint32(p[4]) | uint32(p[5])<<8 | uint32(p[6])<<16 | uint32(p[7])<<24
		if sid != wire.ControlSessionID {
			c.nWrite++
			if c.every > 0 && c.nWrite%c.every == 0 {
				mangled := make([]byte, len(p))
				copy(mangled, p)
				mangled[wire.LengthPrefixSize+8] ^= 0x01

				return c.Transport.Write(mangled)
			}
		}
	}

	return c.Transport.Write(p)
}

package serialport

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"github.com/arloliu/go-linktest/linktest"
)

// Port is an open serial port satisfying the linktest Transport contract.
type Port struct {
	port serial.Port
	path string
	cfg  *Config

	// mu guards the deadlines; I/O and deadline updates come from
	// different goroutines during session teardown.
	mu            sync.Mutex
	readDeadline  time.Time
	writeDeadline time.Time
}

// Open opens and configures the serial device at path.
func Open(path string, opts ...Option) (*Port, error) {
	cfg, err := newConfig(opts...)
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, cfg.mode())
	if err != nil {
		return nil, fmt.Errorf("serialport: opening %s: %w", path, err)
	}

	p := &Port{port: port, path: path, cfg: cfg}

	if err := p.setup(); err != nil {
		port.Close()

		return nil, err
	}

	cfg.logger.Info("serialport: port opened",
		"path", path,
		"baudRate", cfg.baudRate,
		"flowControl", cfg.flowControl.String())

	return p, nil
}

func (p *Port) setup() error {
	// Stale bytes from a previous run would read as a broken frame.
	if err := p.port.ResetOutputBuffer(); err != nil {
		return fmt.Errorf("serialport: resetting output buffer: %w", err)
	}

	if err := p.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("serialport: resetting input buffer: %w", err)
	}

	if err := p.port.SetRTS(p.cfg.initialRTS); err != nil {
		return fmt.Errorf("serialport: setting RTS: %w", err)
	}

	if err := p.port.SetDTR(p.cfg.initialDTR); err != nil {
		return fmt.Errorf("serialport: setting DTR: %w", err)
	}

	if p.cfg.latencyFix {
		fixLatencyTimer(p.path, p.cfg.logger)
	}

	return nil
}

// Read reads available bytes under the current read deadline. A deadline
// expiry is reported as os.ErrDeadlineExceeded, matching net.Conn.
func (p *Port) Read(buf []byte) (int, error) {
	p.mu.Lock()
	deadline := p.readDeadline
	p.mu.Unlock()

	timeout := serial.NoTimeout
	if !deadline.IsZero() {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return 0, os.ErrDeadlineExceeded
		}
	}

	if err := p.port.SetReadTimeout(timeout); err != nil {
		return 0, err
	}

	n, err := p.port.Read(buf)
	if err != nil {
		return n, err
	}

	// The driver reports a timeout as a successful zero-byte read.
	if n == 0 {
		return 0, os.ErrDeadlineExceeded
	}

	return n, nil
}

// Write writes buf to the driver buffer under the current write deadline.
//
// The driver has no write timeout of its own, so a watchdog flushes the
// output buffer once the deadline passes. The flush frees a write blocked
// on a full buffer under halted flow control, and the stall surfaces as
// os.ErrDeadlineExceeded instead of hanging the caller.
func (p *Port) Write(buf []byte) (int, error) {
	p.mu.Lock()
	deadline := p.writeDeadline
	p.mu.Unlock()

	if deadline.IsZero() {
		return p.port.Write(buf)
	}

	remaining := time.Until(deadline)
	if remaining <= 0 {
		return 0, os.ErrDeadlineExceeded
	}

	var expired atomic.Bool
	watchdog := time.AfterFunc(remaining, func() {
		expired.Store(true)
		p.port.ResetOutputBuffer()
	})
	defer watchdog.Stop()

	n, err := p.port.Write(buf)
	if expired.Load() {
		return n, os.ErrDeadlineExceeded
	}

	return n, err
}

// Close closes the port and unblocks pending reads.
func (p *Port) Close() error {
	return p.port.Close()
}

// SetReadDeadline sets the deadline applied to subsequent Read calls.
// A zero deadline means reads block indefinitely.
func (p *Port) SetReadDeadline(t time.Time) error {
	p.mu.Lock()
	p.readDeadline = t
	p.mu.Unlock()

	return nil
}

// SetWriteDeadline sets the deadline applied to subsequent Write calls.
// A zero deadline means writes block until the driver accepts the bytes.
func (p *Port) SetWriteDeadline(t time.Time) error {
	p.mu.Lock()
	p.writeDeadline = t
	p.mu.Unlock()

	return nil
}

// HandshakeLine reports the peer-controlled CTS line. Without RTS/CTS flow
// control the line carries no meaning, so the state is unsupported.
func (p *Port) HandshakeLine() linktest.LineState {
	if p.cfg.flowControl != linktest.FlowControlRTSCTS {
		return linktest.LineUnsupported
	}

	bits, err := p.port.GetModemStatusBits()
	if err != nil {
		return linktest.LineUnsupported
	}

	if bits.CTS {
		return linktest.LineAsserted
	}

	return linktest.LineDeasserted
}

// BitsPerByte returns the wire bits per payload byte for this port's
// framing, suitable for linktest.WithBitsPerByte.
func (p *Port) BitsPerByte() int {
	return p.cfg.bitsPerByte()
}

// Path returns the device path the port was opened with.
func (p *Port) Path() string {
	return p.path
}

// ListPorts returns the serial device paths present on the system.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("serialport: listing ports: %w", err)
	}

	return ports, nil
}

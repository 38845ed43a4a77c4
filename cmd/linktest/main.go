// Command linktest runs a serial link integrity and performance test
// between two peers. Both ends run the same binary; the handshake elects
// which one drives the session.
//
//	linktest -device /dev/ttyUSB0 -count 500
//	linktest -device /dev/ttyAMA4 -flow rtscts
//
// For trying the protocol without hardware, the two ends can meet over a
// TCP socket instead:
//
//	linktest -tcp-listen 127.0.0.1:7070
//	linktest -tcp-dial 127.0.0.1:7070
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/arloliu/go-linktest/linktest"
	"github.com/arloliu/go-linktest/logger"
	"github.com/arloliu/go-linktest/serialport"
	"github.com/arloliu/go-linktest/stats"
)

// Exit codes reported to the shell.
const (
	exitOK               = 0
	exitSessionFailed    = 1
	exitNoData           = 2
	exitChecksumFailures = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("linktest", flag.ContinueOnError)

	var (
		configPath = fs.String("config", "", "TOML configuration file")
		listPorts  = fs.Bool("list-ports", false, "list serial devices and exit")

		device    = fs.String("device", "", "serial device path (e.g. /dev/ttyUSB0)")
		tcpListen = fs.String("tcp-listen", "", "accept one TCP peer on this address instead of a serial device")
		tcpDial   = fs.String("tcp-dial", "", "connect to a TCP peer on this address instead of a serial device")

		role  = fs.String("role", "", "role preference: auto, initiator, responder")
		mode  = fs.String("mode", "", "traffic pattern: echo, stream")
		flow  = fs.String("flow", "", "flow control: none, rtscts, xonxoff")
		baud  = fs.Int("baud", 0, "baud rate")
		count = fs.Uint("count", 0, "message count budget")

		duration         = fs.Duration("duration", 0, "duration budget (overrides -count)")
		handshakeTimeout = fs.Duration("handshake-timeout", 0, "peer negotiation deadline")
		noLatencyFix     = fs.Bool("no-latency-fix", false, "disable the FTDI latency timer fix")

		logLevel  = fs.String("log-level", "", "log level: debug, info, warn, error")
		logFormat = fs.String("log-format", "", "log format: json, console")
	)

	if err := fs.Parse(args); err != nil {
		return exitSessionFailed
	}

	if *listPorts {
		return runListPorts()
	}

	cfg := defaultConfig()

	if *configPath != "" {
		if err := cfg.applyFile(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "linktest: %v\n", err)

			return exitSessionFailed
		}
	}

	overrideString(&cfg.Device, *device)
	overrideString(&cfg.TCPListen, *tcpListen)
	overrideString(&cfg.TCPDial, *tcpDial)
	overrideString(&cfg.Role, *role)
	overrideString(&cfg.Mode, *mode)
	overrideString(&cfg.FlowControl, *flow)
	overrideString(&cfg.LogLevel, *logLevel)
	overrideString(&cfg.LogFormat, *logFormat)

	if *baud > 0 {
		cfg.BaudRate = *baud
	}

	if *count > 0 {
		cfg.MsgCount = *count
	}

	if *duration > 0 {
		cfg.Duration = *duration
	}

	if *handshakeTimeout > 0 {
		cfg.HandshakeTimeout = *handshakeTimeout
	}

	if *noLatencyFix {
		cfg.LatencyFix = false
	}

	if err := cfg.validate(); err != nil {
		fmt.Fprintf(os.Stderr, "linktest: %v\n", err)

		return exitSessionFailed
	}

	lg, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "linktest: %v\n", err)

		return exitSessionFailed
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	transport, bitsPerByte, err := openTransport(ctx, cfg, lg)
	if err != nil {
		lg.Error("linktest: opening transport", "error", err)

		return exitSessionFailed
	}
	defer transport.Close()

	opts, err := cfg.sessionOptions(lg, bitsPerByte)
	if err != nil {
		fmt.Fprintf(os.Stderr, "linktest: %v\n", err)

		return exitSessionFailed
	}

	sessionCfg, err := linktest.NewConfig(opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "linktest: %v\n", err)

		return exitSessionFailed
	}

	report, err := linktest.RunSession(ctx, transport, sessionCfg)
	if err != nil {
		lg.Error("linktest: session failed", "error", err)
	}

	if report != nil {
		printReport(report, bitsPerByte)
	}

	return exitCode(report, err)
}

func overrideString(dst *string, flagValue string) {
	if flagValue != "" {
		*dst = flagValue
	}
}

// openTransport opens the configured endpoint: a serial device, a one-shot
// TCP listener, or an outbound TCP connection. It returns the transport and
// the bits-per-byte framing overhead for throughput math.
func openTransport(ctx context.Context, cfg cliConfig, lg logger.Logger) (linktest.Transport, int, error) {
	switch {
	case cfg.TCPListen != "":
		lc := net.ListenConfig{}

		ln, err := lc.Listen(ctx, "tcp", cfg.TCPListen)
		if err != nil {
			return nil, 0, err
		}
		defer ln.Close()

		lg.Info("linktest: waiting for TCP peer", "addr", cfg.TCPListen)

		conn, err := acceptOne(ctx, ln)
		if err != nil {
			return nil, 0, err
		}

		return linktest.WrapConn(conn), stats.DefaultBitsPerByte, nil

	case cfg.TCPDial != "":
		var d net.Dialer

		conn, err := d.DialContext(ctx, "tcp", cfg.TCPDial)
		if err != nil {
			return nil, 0, err
		}

		return linktest.WrapConn(conn), stats.DefaultBitsPerByte, nil

	default:
		sopts, err := cfg.serialOptions(lg)
		if err != nil {
			return nil, 0, err
		}

		port, err := serialport.Open(cfg.Device, sopts...)
		if err != nil {
			return nil, 0, err
		}

		return port, port.BitsPerByte(), nil
	}
}

func acceptOne(ctx context.Context, ln net.Listener) (net.Conn, error) {
	type accepted struct {
		conn net.Conn
		err  error
	}

	ch := make(chan accepted, 1)
	go func() {
		conn, err := ln.Accept()
		ch <- accepted{conn: conn, err: err}
	}()

	select {
	case <-ctx.Done():
		ln.Close()

		return nil, ctx.Err()
	case a := <-ch:
		return a.conn, a.err
	}
}

func printReport(report *linktest.SessionReport, bitsPerByte int) {
	fmt.Printf("\nRole:       %s\n", report.Role)
	fmt.Printf("Session ID: 0x%08X\n", report.SessionID)
	fmt.Printf("Flow:       %s\n", report.FlowControl)
	fmt.Printf("Throughput: %.0f bit/s\n", report.Report.Throughput(bitsPerByte))
	fmt.Println(report.Report.String())

	m := report.Metrics
	if m.WarmupRetryCount.Load() > 0 || m.DecodeErrorCount.Load() > 0 || m.ResyncBytes.Load() > 0 {
		fmt.Printf("Warmup retries: %d, decode errors: %d, resync bytes: %d\n",
			m.WarmupRetryCount.Load(), m.DecodeErrorCount.Load(), m.ResyncBytes.Load())
	}
}

// exitCode distills the session outcome for scripting: 1 for a failed
// session, 2 when no message made it through at all, 3 when data flowed
// but some of it arrived corrupted.
func exitCode(report *linktest.SessionReport, err error) int {
	if err != nil || report == nil {
		return exitSessionFailed
	}

	switch {
	case report.Report.OK == 0:
		return exitNoData
	case report.Report.Corrupted > 0:
		return exitChecksumFailures
	default:
		return exitOK
	}
}

func runListPorts() int {
	ports, err := serialport.ListPorts()
	if err != nil {
		fmt.Fprintf(os.Stderr, "linktest: %v\n", err)

		return exitSessionFailed
	}

	if len(ports) == 0 {
		fmt.Println("no serial ports found")

		return exitOK
	}

	for _, p := range ports {
		fmt.Println(p)
	}

	return exitOK
}

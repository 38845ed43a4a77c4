// Package serialport adapts a physical serial port to the linktest
// Transport contract on top of go.bug.st/serial.
//
// Open a port with default configuration (115200 8N1, no flow control):
//
//	port, err := serialport.Open("/dev/ttyUSB0")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer port.Close()
//
//	report, err := linktest.RunSession(ctx, port, cfg)
//
// Read deadlines are mapped onto the driver's read timeout; a timeout
// surfaces as os.ErrDeadlineExceeded the way net.Conn reports it. The
// driver has no write timeout, so write deadlines are enforced by a
// watchdog that flushes the output buffer once the deadline passes: a
// write blocked on halted flow control unblocks and reports
// os.ErrDeadlineExceeded instead of stalling the session.
//
// On Linux, opening an FTDI-backed ttyUSB device configures the adapter's
// latency timer to 1ms by default, which tightens RTS/CTS turnaround from
// the 16ms factory default. The fix is best effort and needs write access
// to sysfs.
package serialport

package serialport

import (
	"errors"
	"fmt"

	"go.bug.st/serial"

	"github.com/arloliu/go-linktest/linktest"
	"github.com/arloliu/go-linktest/logger"
)

// Parity enumerates the parity disciplines a port can be opened with.
type Parity int

const (
	ParityNone Parity = iota
	ParityEven
	ParityOdd
)

// StopBits enumerates the stop bit settings a port can be opened with.
type StopBits int

const (
	StopBitsOne StopBits = iota
	StopBitsTwo
)

// Default port configuration, matching the most common 8N1 deployment.
const (
	DefaultBaudRate = 115200
	DefaultDataBits = 8
)

// Config holds the port configuration. Construct via the options passed to
// Open; the zero value is not usable.
type Config struct {
	baudRate    int
	dataBits    int
	parity      Parity
	stopBits    StopBits
	flowControl linktest.FlowControl

	initialRTS bool
	initialDTR bool
	latencyFix bool

	logger logger.Logger
}

func newConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		baudRate:    DefaultBaudRate,
		dataBits:    DefaultDataBits,
		parity:      ParityNone,
		stopBits:    StopBitsOne,
		flowControl: linktest.FlowControlNone,
		initialRTS:  true,
		initialDTR:  true,
		latencyFix:  true,
		logger:      logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// mode maps the configuration onto the driver's mode struct.
func (cfg *Config) mode() *serial.Mode {
	mode := &serial.Mode{
		BaudRate: cfg.baudRate,
		DataBits: cfg.dataBits,
	}

	switch cfg.parity {
	case ParityEven:
		mode.Parity = serial.EvenParity
	case ParityOdd:
		mode.Parity = serial.OddParity
	case ParityNone:
		mode.Parity = serial.NoParity
	}

	switch cfg.stopBits {
	case StopBitsTwo:
		mode.StopBits = serial.TwoStopBits
	case StopBitsOne:
		mode.StopBits = serial.OneStopBit
	}

	return mode
}

// bitsPerByte returns the wire bits consumed per payload byte under this
// port configuration: start bit, data bits, optional parity bit, stop bits.
func (cfg *Config) bitsPerByte() int {
	bits := 1 + cfg.dataBits
	if cfg.parity != ParityNone {
		bits++
	}

	if cfg.stopBits == StopBitsTwo {
		bits += 2
	} else {
		bits++
	}

	return bits
}

// Option is a functional option for configuring a port.
type Option interface {
	apply(cfg *Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithBaudRate sets the line speed in bits per second.
func WithBaudRate(baud int) Option {
	return optFunc(func(cfg *Config) error {
		if baud <= 0 {
			return fmt.Errorf("serialport: baud rate %d must be positive", baud)
		}
		cfg.baudRate = baud

		return nil
	})
}

// WithDataBits sets the number of data bits per character.
func WithDataBits(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 5 || n > 8 {
			return fmt.Errorf("serialport: data bits %d out of range [5, 8]", n)
		}
		cfg.dataBits = n

		return nil
	})
}

// WithParity sets the parity discipline.
func WithParity(p Parity) Option {
	return optFunc(func(cfg *Config) error {
		switch p {
		case ParityNone, ParityEven, ParityOdd:
			cfg.parity = p
			return nil
		default:
			return fmt.Errorf("serialport: unknown parity %d", p)
		}
	})
}

// WithStopBits sets the number of stop bits.
func WithStopBits(s StopBits) Option {
	return optFunc(func(cfg *Config) error {
		switch s {
		case StopBitsOne, StopBitsTwo:
			cfg.stopBits = s
			return nil
		default:
			return fmt.Errorf("serialport: unknown stop bits %d", s)
		}
	})
}

// WithFlowControl selects the flow control discipline. RTS/CTS makes the
// handshake line query meaningful; both peers must agree out of band.
func WithFlowControl(f linktest.FlowControl) Option {
	return optFunc(func(cfg *Config) error {
		switch f {
		case linktest.FlowControlNone, linktest.FlowControlRTSCTS, linktest.FlowControlXonXoff:
			cfg.flowControl = f
			return nil
		default:
			return fmt.Errorf("serialport: unknown flow control %d", f)
		}
	})
}

// WithInitialRTS sets the RTS line state asserted at open.
func WithInitialRTS(asserted bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.initialRTS = asserted

		return nil
	})
}

// WithInitialDTR sets the DTR line state asserted at open.
func WithInitialDTR(asserted bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.initialDTR = asserted

		return nil
	})
}

// WithLatencyFix enables or disables the FTDI latency timer fix applied at
// open. Enabled by default.
func WithLatencyFix(enable bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.latencyFix = enable

		return nil
	})
}

// WithLogger sets the logger for port lifecycle events.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("serialport: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}

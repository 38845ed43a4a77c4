package linktest

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-linktest/logger"
	"github.com/arloliu/go-linktest/stats"
	"github.com/arloliu/go-linktest/wire"
)

// Mode selects the session traffic pattern.
type Mode int

const (
	// ModeEcho runs the request/response variant: the initiator sends data
	// frames and measures the round-trip time of each echo; the responder
	// echoes every frame back under the current session id.
	ModeEcho Mode = iota
	// ModeStream runs the one-way-per-direction variant: both sides send
	// data frames continuously and only delivery counts are collected.
	ModeStream
)

// String returns the mode mnemonic.
func (m Mode) String() string {
	if m == ModeStream {
		return "stream"
	}

	return "echo"
}

// Default configuration values.
const (
	DefaultMsgCount         = 100
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultSynInterval      = 2 * time.Second
	DefaultReadTimeout      = 100 * time.Millisecond
	DefaultWriteTimeout     = 1 * time.Second
	DefaultInterCharTimeout = 500 * time.Millisecond
	DefaultPerMsgTimeout    = 2 * time.Second
	DefaultWarmupWindow     = 3 * time.Second
	DefaultTimeoutLimit     = 5
	DefaultMaxInflight      = 1
	DefaultFinWaitTimeout   = 5 * time.Second
)

// Validation bounds.
const (
	MinHandshakeTimeout = 1 * time.Second
	MaxHandshakeTimeout = 10 * time.Minute

	MinReadTimeout = 10 * time.Millisecond
	MaxReadTimeout = 10 * time.Second

	MinWriteTimeout = 10 * time.Millisecond
	MaxWriteTimeout = 30 * time.Second

	MaxTimeoutLimit = 100
	MaxMaxInflight  = 256
)

// Config holds all configuration for one link test session.
// Construct via NewConfig; the zero value is not usable.
type Config struct {
	mode        Mode
	role        Role
	budget      wire.Budget
	flowControl FlowControl

	handshakeTimeout time.Duration
	synInterval      time.Duration

	readTimeout      time.Duration
	writeTimeout     time.Duration
	interCharTimeout time.Duration
	perMsgTimeout    time.Duration
	finWaitTimeout   time.Duration

	warmupWindow time.Duration
	timeoutLimit int

	maxInflight int
	bitsPerByte int

	minPayload int
	maxPayload int

	logger logger.Logger
}

// NewConfig creates a session configuration with the given options applied
// in order. Defaults: echo mode, auto role, 100-message budget, 8N1 framing
// overhead.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		mode:             ModeEcho,
		role:             RoleAuto,
		budget:           wire.CountBudget(DefaultMsgCount),
		flowControl:      FlowControlNone,
		handshakeTimeout: DefaultHandshakeTimeout,
		synInterval:      DefaultSynInterval,
		readTimeout:      DefaultReadTimeout,
		writeTimeout:     DefaultWriteTimeout,
		interCharTimeout: DefaultInterCharTimeout,
		perMsgTimeout:    DefaultPerMsgTimeout,
		finWaitTimeout:   DefaultFinWaitTimeout,
		warmupWindow:     DefaultWarmupWindow,
		timeoutLimit:     DefaultTimeoutLimit,
		maxInflight:      DefaultMaxInflight,
		bitsPerByte:      stats.DefaultBitsPerByte,
		minPayload:       wire.MinRandomPayload,
		maxPayload:       wire.MaxRandomPayload,
		logger:           logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// --- Getters ---

// Mode returns the session traffic pattern.
func (cfg *Config) Mode() Mode { return cfg.mode }

// Role returns the configured role preference.
func (cfg *Config) Role() Role { return cfg.role }

// Budget returns the requested session budget. The negotiated budget may
// differ when this end is elected responder.
func (cfg *Config) Budget() wire.Budget { return cfg.budget }

// FlowControl returns the informational flow-control label.
func (cfg *Config) FlowControl() FlowControl { return cfg.flowControl }

// HandshakeTimeout returns the all-or-nothing negotiation deadline.
func (cfg *Config) HandshakeTimeout() time.Duration { return cfg.handshakeTimeout }

// SynInterval returns the SYN retransmission interval during negotiation.
func (cfg *Config) SynInterval() time.Duration { return cfg.synInterval }

// ReadTimeout returns the receive-loop polling deadline.
func (cfg *Config) ReadTimeout() time.Duration { return cfg.readTimeout }

// WriteTimeout returns the per-write deadline.
func (cfg *Config) WriteTimeout() time.Duration { return cfg.writeTimeout }

// InterCharTimeout returns the deadline applied to each read while a frame
// body is being received, restarted after every chunk of data.
func (cfg *Config) InterCharTimeout() time.Duration { return cfg.interCharTimeout }

// PerMsgTimeout returns the per-message echo deadline before a message is
// classified as lost.
func (cfg *Config) PerMsgTimeout() time.Duration { return cfg.perMsgTimeout }

// WarmupWindow returns the grace period after session start during which
// write timeouts are tolerated and retried without being counted.
func (cfg *Config) WarmupWindow() time.Duration { return cfg.warmupWindow }

// TimeoutLimit returns the number of consecutive post-warmup write timeouts
// that aborts the session.
func (cfg *Config) TimeoutLimit() int { return cfg.timeoutLimit }

// MaxInflight returns the echo-mode send window.
func (cfg *Config) MaxInflight() int { return cfg.maxInflight }

// BitsPerByte returns the per-byte wire overhead used for throughput.
func (cfg *Config) BitsPerByte() int { return cfg.bitsPerByte }

// PayloadSize returns the generated payload size range.
func (cfg *Config) PayloadSize() (minSize, maxSize int) { return cfg.minPayload, cfg.maxPayload }

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

// --- Options ---

// Option is a functional option for configuring a session.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithMode selects the session traffic pattern.
func WithMode(m Mode) Option {
	return optFunc(func(cfg *Config) error {
		if m != ModeEcho && m != ModeStream {
			return fmt.Errorf("linktest: unknown mode %d", m)
		}
		cfg.mode = m

		return nil
	})
}

// WithRole sets a role preference for the election. The handshake biases
// this end's election timestamp so the preferred role wins against an
// unbiased peer; two peers preferring the same role still resolve by
// comparison.
func WithRole(r Role) Option {
	return optFunc(func(cfg *Config) error {
		switch r {
		case RoleAuto, RoleInitiator, RoleResponder:
			cfg.role = r
			return nil
		default:
			return fmt.Errorf("linktest: unknown role %d", r)
		}
	})
}

// WithMsgCount bounds the session by a number of messages.
// Mutually exclusive with WithDuration; the last call wins.
func WithMsgCount(n uint32) Option {
	return optFunc(func(cfg *Config) error {
		if n == 0 {
			return errors.New("linktest: message count must be positive")
		}
		cfg.budget = wire.CountBudget(n)

		return nil
	})
}

// WithDuration bounds the session by elapsed time.
// Mutually exclusive with WithMsgCount; the last call wins.
func WithDuration(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return errors.New("linktest: duration must be positive")
		}
		cfg.budget = wire.DurationBudget(d)

		return nil
	})
}

// WithFlowControl labels the session with the out-of-band agreed
// flow-control mode. Informational; the transport configures the line.
func WithFlowControl(f FlowControl) Option {
	return optFunc(func(cfg *Config) error {
		cfg.flowControl = f

		return nil
	})
}

// WithHandshakeTimeout sets the negotiation deadline.
func WithHandshakeTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < MinHandshakeTimeout || d > MaxHandshakeTimeout {
			return fmt.Errorf("linktest: handshake timeout %v out of range [%v, %v]", d, MinHandshakeTimeout, MaxHandshakeTimeout)
		}
		cfg.handshakeTimeout = d

		return nil
	})
}

// WithSynInterval sets the SYN retransmission interval.
func WithSynInterval(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return errors.New("linktest: SYN interval must be positive")
		}
		cfg.synInterval = d

		return nil
	})
}

// WithReadTimeout sets the receive-loop polling deadline.
func WithReadTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < MinReadTimeout || d > MaxReadTimeout {
			return fmt.Errorf("linktest: read timeout %v out of range [%v, %v]", d, MinReadTimeout, MaxReadTimeout)
		}
		cfg.readTimeout = d

		return nil
	})
}

// WithWriteTimeout sets the per-write deadline.
func WithWriteTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < MinWriteTimeout || d > MaxWriteTimeout {
			return fmt.Errorf("linktest: write timeout %v out of range [%v, %v]", d, MinWriteTimeout, MaxWriteTimeout)
		}
		cfg.writeTimeout = d

		return nil
	})
}

// WithInterCharTimeout sets the mid-frame inter-chunk read deadline.
func WithInterCharTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return errors.New("linktest: inter-character timeout must be positive")
		}
		cfg.interCharTimeout = d

		return nil
	})
}

// WithPerMsgTimeout sets the per-message echo deadline.
func WithPerMsgTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return errors.New("linktest: per-message timeout must be positive")
		}
		cfg.perMsgTimeout = d

		return nil
	})
}

// WithWarmupWindow sets the write-timeout grace period measured from
// session start. Zero disables warmup tolerance.
func WithWarmupWindow(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 {
			return errors.New("linktest: warmup window must not be negative")
		}
		cfg.warmupWindow = d

		return nil
	})
}

// WithTimeoutLimit sets the number of consecutive post-warmup write
// timeouts that aborts the session.
func WithTimeoutLimit(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 1 || n > MaxTimeoutLimit {
			return fmt.Errorf("linktest: timeout limit %d out of range [1, %d]", n, MaxTimeoutLimit)
		}
		cfg.timeoutLimit = n

		return nil
	})
}

// WithMaxInflight sets the echo-mode send window: how many unanswered
// messages the initiator keeps in flight.
func WithMaxInflight(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 1 || n > MaxMaxInflight {
			return fmt.Errorf("linktest: max inflight %d out of range [1, %d]", n, MaxMaxInflight)
		}
		cfg.maxInflight = n

		return nil
	})
}

// WithBitsPerByte sets the per-byte wire overhead used for throughput
// computation (10 for 8N1, 11 for 8E1/8O1).
func WithBitsPerByte(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 8 || n > 12 {
			return fmt.Errorf("linktest: bits per byte %d out of range [8, 12]", n)
		}
		cfg.bitsPerByte = n

		return nil
	})
}

// WithPayloadSize sets the size range for generated test payloads.
func WithPayloadSize(minSize, maxSize int) Option {
	return optFunc(func(cfg *Config) error {
		if minSize < 1 || maxSize > wire.MaxPayloadSize || minSize > maxSize {
			return fmt.Errorf("linktest: payload size range [%d, %d] invalid, want 1 <= min <= max <= %d",
				minSize, maxSize, wire.MaxPayloadSize)
		}
		cfg.minPayload = minSize
		cfg.maxPayload = maxSize

		return nil
	})
}

// WithLogger sets the logger for the session.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("linktest: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/arloliu/go-linktest/linktest"
	"github.com/arloliu/go-linktest/logger"
	"github.com/arloliu/go-linktest/serialport"
)

// cliConfig is the merged run configuration: defaults, then the TOML file,
// then command-line flags, each layer overriding the previous one.
type cliConfig struct {
	Device      string
	TCPListen   string
	TCPDial     string
	Role        string
	Mode        string
	FlowControl string

	BaudRate int
	DataBits int
	Parity   string
	StopBits int

	MsgCount         uint
	Duration         time.Duration
	HandshakeTimeout time.Duration
	WarmupWindow     time.Duration
	PerMsgTimeout    time.Duration
	TimeoutLimit     int
	MaxInflight      int

	LatencyFix bool
	LogLevel   string
	LogFormat  string
}

func defaultConfig() cliConfig {
	return cliConfig{
		Role:             "auto",
		Mode:             "echo",
		FlowControl:      "none",
		BaudRate:         115200,
		DataBits:         8,
		Parity:           "none",
		StopBits:         1,
		MsgCount:         linktest.DefaultMsgCount,
		HandshakeTimeout: linktest.DefaultHandshakeTimeout,
		WarmupWindow:     linktest.DefaultWarmupWindow,
		PerMsgTimeout:    linktest.DefaultPerMsgTimeout,
		TimeoutLimit:     linktest.DefaultTimeoutLimit,
		MaxInflight:      linktest.DefaultMaxInflight,
		LatencyFix:       true,
		LogLevel:         "info",
		LogFormat:        "json",
	}
}

type fileConfig struct {
	Device      string `toml:"device"`
	TCPListen   string `toml:"tcp_listen"`
	TCPDial     string `toml:"tcp_dial"`
	Role        string `toml:"role"`
	Mode        string `toml:"mode"`
	FlowControl string `toml:"flow_control"`

	BaudRate int    `toml:"baud_rate"`
	DataBits int    `toml:"data_bits"`
	Parity   string `toml:"parity"`
	StopBits int    `toml:"stop_bits"`

	MsgCount         uint   `toml:"msg_count"`
	Duration         string `toml:"duration"`
	HandshakeTimeout string `toml:"handshake_timeout"`
	WarmupWindow     string `toml:"warmup_window"`
	PerMsgTimeout    string `toml:"per_msg_timeout"`
	TimeoutLimit     int    `toml:"timeout_limit"`
	MaxInflight      int    `toml:"max_inflight"`

	LatencyFix bool   `toml:"latency_fix"`
	LogLevel   string `toml:"log_level"`
	LogFormat  string `toml:"log_format"`
}

// applyFile overlays the TOML file at path onto cfg. Only keys present in
// the file take effect.
func (cfg *cliConfig) applyFile(path string) error {
	var raw fileConfig

	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load config %s: unknown key %q", path, undecoded[0].String())
	}

	setString := func(key string, dst *string, src string) {
		if meta.IsDefined(key) {
			*dst = strings.TrimSpace(src)
		}
	}
	setInt := func(key string, dst *int, src int) {
		if meta.IsDefined(key) {
			*dst = src
		}
	}
	setDuration := func(key string, dst *time.Duration, src string) error {
		if !meta.IsDefined(key) {
			return nil
		}

		d, perr := time.ParseDuration(strings.TrimSpace(src))
		if perr != nil {
			return fmt.Errorf("parse %s: %w", key, perr)
		}
		*dst = d

		return nil
	}

	setString("device", &cfg.Device, raw.Device)
	setString("tcp_listen", &cfg.TCPListen, raw.TCPListen)
	setString("tcp_dial", &cfg.TCPDial, raw.TCPDial)
	setString("role", &cfg.Role, raw.Role)
	setString("mode", &cfg.Mode, raw.Mode)
	setString("flow_control", &cfg.FlowControl, raw.FlowControl)
	setString("parity", &cfg.Parity, raw.Parity)
	setString("log_level", &cfg.LogLevel, raw.LogLevel)
	setString("log_format", &cfg.LogFormat, raw.LogFormat)

	setInt("baud_rate", &cfg.BaudRate, raw.BaudRate)
	setInt("data_bits", &cfg.DataBits, raw.DataBits)
	setInt("stop_bits", &cfg.StopBits, raw.StopBits)
	setInt("timeout_limit", &cfg.TimeoutLimit, raw.TimeoutLimit)
	setInt("max_inflight", &cfg.MaxInflight, raw.MaxInflight)

	if meta.IsDefined("msg_count") {
		cfg.MsgCount = raw.MsgCount
	}

	if meta.IsDefined("latency_fix") {
		cfg.LatencyFix = raw.LatencyFix
	}

	if err := setDuration("duration", &cfg.Duration, raw.Duration); err != nil {
		return err
	}

	if err := setDuration("handshake_timeout", &cfg.HandshakeTimeout, raw.HandshakeTimeout); err != nil {
		return err
	}

	if err := setDuration("warmup_window", &cfg.WarmupWindow, raw.WarmupWindow); err != nil {
		return err
	}

	return setDuration("per_msg_timeout", &cfg.PerMsgTimeout, raw.PerMsgTimeout)
}

func (cfg *cliConfig) validate() error {
	transports := 0
	for _, set := range []bool{cfg.Device != "", cfg.TCPListen != "", cfg.TCPDial != ""} {
		if set {
			transports++
		}
	}

	if transports == 0 {
		return errors.New("one of -device, -tcp-listen, or -tcp-dial is required")
	}

	if transports > 1 {
		return errors.New("-device, -tcp-listen, and -tcp-dial are mutually exclusive")
	}

	return nil
}

func parseRole(s string) (linktest.Role, error) {
	switch s {
	case "auto", "":
		return linktest.RoleAuto, nil
	case "initiator", "client":
		return linktest.RoleInitiator, nil
	case "responder", "server":
		return linktest.RoleResponder, nil
	default:
		return 0, fmt.Errorf("unknown role %q (auto, initiator, responder)", s)
	}
}

func parseMode(s string) (linktest.Mode, error) {
	switch s {
	case "echo", "":
		return linktest.ModeEcho, nil
	case "stream":
		return linktest.ModeStream, nil
	default:
		return 0, fmt.Errorf("unknown mode %q (echo, stream)", s)
	}
}

func parseFlowControl(s string) (linktest.FlowControl, error) {
	switch s {
	case "none", "":
		return linktest.FlowControlNone, nil
	case "rtscts":
		return linktest.FlowControlRTSCTS, nil
	case "xonxoff":
		return linktest.FlowControlXonXoff, nil
	default:
		return 0, fmt.Errorf("unknown flow control %q (none, rtscts, xonxoff)", s)
	}
}

func parseLogLevel(s string) (logger.Level, error) {
	switch s {
	case "debug":
		return logger.DebugLevel, nil
	case "info", "":
		return logger.InfoLevel, nil
	case "warn":
		return logger.WarnLevel, nil
	case "error":
		return logger.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("unknown log level %q (debug, info, warn, error)", s)
	}
}

func newLogger(cfg cliConfig) (logger.Logger, error) {
	level, err := parseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	switch cfg.LogFormat {
	case "console":
		return logger.NewZerolog(level), nil
	case "json", "":
		return logger.NewSlog(level, false), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (json, console)", cfg.LogFormat)
	}
}

func parseParity(s string) (serialport.Parity, error) {
	switch s {
	case "none", "":
		return serialport.ParityNone, nil
	case "even":
		return serialport.ParityEven, nil
	case "odd":
		return serialport.ParityOdd, nil
	default:
		return 0, fmt.Errorf("unknown parity %q (none, even, odd)", s)
	}
}

// serialOptions maps the merged configuration onto port options.
func (cfg *cliConfig) serialOptions(lg logger.Logger) ([]serialport.Option, error) {
	parity, err := parseParity(cfg.Parity)
	if err != nil {
		return nil, err
	}

	var stopBits serialport.StopBits
	switch cfg.StopBits {
	case 1:
		stopBits = serialport.StopBitsOne
	case 2:
		stopBits = serialport.StopBitsTwo
	default:
		return nil, fmt.Errorf("unknown stop bits %d (1 or 2)", cfg.StopBits)
	}

	flow, err := parseFlowControl(cfg.FlowControl)
	if err != nil {
		return nil, err
	}

	return []serialport.Option{
		serialport.WithBaudRate(cfg.BaudRate),
		serialport.WithDataBits(cfg.DataBits),
		serialport.WithParity(parity),
		serialport.WithStopBits(stopBits),
		serialport.WithFlowControl(flow),
		serialport.WithLatencyFix(cfg.LatencyFix),
		serialport.WithLogger(lg),
	}, nil
}

// sessionOptions maps the merged configuration onto session options.
func (cfg *cliConfig) sessionOptions(lg logger.Logger, bitsPerByte int) ([]linktest.Option, error) {
	role, err := parseRole(cfg.Role)
	if err != nil {
		return nil, err
	}

	mode, err := parseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}

	flow, err := parseFlowControl(cfg.FlowControl)
	if err != nil {
		return nil, err
	}

	opts := []linktest.Option{
		linktest.WithRole(role),
		linktest.WithMode(mode),
		linktest.WithFlowControl(flow),
		linktest.WithHandshakeTimeout(cfg.HandshakeTimeout),
		linktest.WithWarmupWindow(cfg.WarmupWindow),
		linktest.WithPerMsgTimeout(cfg.PerMsgTimeout),
		linktest.WithTimeoutLimit(cfg.TimeoutLimit),
		linktest.WithMaxInflight(cfg.MaxInflight),
		linktest.WithBitsPerByte(bitsPerByte),
		linktest.WithLogger(lg),
	}

	// A duration budget takes precedence over the message count, which is
	// always present through its default.
	if cfg.Duration > 0 {
		opts = append(opts, linktest.WithDuration(cfg.Duration))
	} else {
		if cfg.MsgCount == 0 {
			return nil, errors.New("msg_count must be positive")
		}
		opts = append(opts, linktest.WithMsgCount(uint32(cfg.MsgCount))) //nolint:gosec // validated positive
	}

	return opts, nil
}

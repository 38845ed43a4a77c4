package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-linktest/linktest"
	"github.com/arloliu/go-linktest/logger"
	"github.com/arloliu/go-linktest/stats"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "linktest.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestApplyFile(t *testing.T) {
	path := writeConfig(t, `
device = "/dev/ttyAMA4"
role = "responder"
mode = "stream"
flow_control = "rtscts"
baud_rate = 921600
msg_count = 500
duration = "45s"
handshake_timeout = "10s"
timeout_limit = 8
latency_fix = false
log_level = "debug"
log_format = "console"
`)

	cfg := defaultConfig()
	require.NoError(t, cfg.applyFile(path))

	assert.Equal(t, "/dev/ttyAMA4", cfg.Device)
	assert.Equal(t, "responder", cfg.Role)
	assert.Equal(t, "stream", cfg.Mode)
	assert.Equal(t, "rtscts", cfg.FlowControl)
	assert.Equal(t, 921600, cfg.BaudRate)
	assert.Equal(t, uint(500), cfg.MsgCount)
	assert.Equal(t, 45*time.Second, cfg.Duration)
	assert.Equal(t, 10*time.Second, cfg.HandshakeTimeout)
	assert.Equal(t, 8, cfg.TimeoutLimit)
	assert.False(t, cfg.LatencyFix)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
}

func TestApplyFileKeepsDefaultsForAbsentKeys(t *testing.T) {
	path := writeConfig(t, `device = "/dev/ttyUSB0"`)

	cfg := defaultConfig()
	require.NoError(t, cfg.applyFile(path))

	assert.Equal(t, "/dev/ttyUSB0", cfg.Device)
	assert.Equal(t, 115200, cfg.BaudRate)
	assert.Equal(t, uint(linktest.DefaultMsgCount), cfg.MsgCount)
	assert.True(t, cfg.LatencyFix)
	assert.Zero(t, cfg.Duration)
}

func TestApplyFileRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `device = "/dev/ttyUSB0"
bud_rate = 9600`)

	cfg := defaultConfig()
	err := cfg.applyFile(path)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "bud_rate")
}

func TestApplyFileBadDuration(t *testing.T) {
	path := writeConfig(t, `duration = "fast"`)

	cfg := defaultConfig()
	assert.Error(t, cfg.applyFile(path))
}

func TestValidateTransportSelection(t *testing.T) {
	cfg := defaultConfig()
	assert.Error(t, cfg.validate(), "no transport selected")

	cfg.Device = "/dev/ttyUSB0"
	assert.NoError(t, cfg.validate())

	cfg.TCPListen = "127.0.0.1:7070"
	assert.Error(t, cfg.validate(), "device and listener are exclusive")
}

func TestParseHelpers(t *testing.T) {
	role, err := parseRole("client")
	require.NoError(t, err)
	assert.Equal(t, linktest.RoleInitiator, role)

	role, err = parseRole("server")
	require.NoError(t, err)
	assert.Equal(t, linktest.RoleResponder, role)

	_, err = parseRole("spectator")
	assert.Error(t, err)

	mode, err := parseMode("stream")
	require.NoError(t, err)
	assert.Equal(t, linktest.ModeStream, mode)

	_, err = parseMode("burst")
	assert.Error(t, err)

	flow, err := parseFlowControl("rtscts")
	require.NoError(t, err)
	assert.Equal(t, linktest.FlowControlRTSCTS, flow)

	_, err = parseFlowControl("dtrdsr")
	assert.Error(t, err)

	level, err := parseLogLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, logger.WarnLevel, level)

	_, err = parseLogLevel("loud")
	assert.Error(t, err)
}

func TestSessionOptions(t *testing.T) {
	cfg := defaultConfig()
	cfg.Role = "initiator"
	cfg.MsgCount = 250

	opts, err := cfg.sessionOptions(logger.NewSlog(logger.ErrorLevel, false), 11)
	require.NoError(t, err)

	sc, err := linktest.NewConfig(opts...)
	require.NoError(t, err)

	assert.Equal(t, linktest.RoleInitiator, sc.Role())
	assert.Equal(t, 11, sc.BitsPerByte())
	assert.Equal(t, uint32(250), sc.Budget().Count)
}

func TestSessionOptionsDurationWins(t *testing.T) {
	cfg := defaultConfig()
	cfg.Duration = time.Minute

	opts, err := cfg.sessionOptions(logger.NewSlog(logger.ErrorLevel, false), stats.DefaultBitsPerByte)
	require.NoError(t, err)

	sc, err := linktest.NewConfig(opts...)
	require.NoError(t, err)

	assert.Equal(t, time.Minute, sc.Budget().Duration)
}

func TestSerialOptions(t *testing.T) {
	cfg := defaultConfig()
	cfg.Parity = "even"
	cfg.StopBits = 2

	opts, err := cfg.serialOptions(logger.NewSlog(logger.ErrorLevel, false))
	require.NoError(t, err)
	assert.NotEmpty(t, opts)

	cfg.StopBits = 3
	_, err = cfg.serialOptions(logger.NewSlog(logger.ErrorLevel, false))
	assert.Error(t, err)

	cfg.StopBits = 1
	cfg.Parity = "mark"
	_, err = cfg.serialOptions(logger.NewSlog(logger.ErrorLevel, false))
	assert.Error(t, err)
}

func TestExitCode(t *testing.T) {
	okReport := &linktest.SessionReport{
		Report: stats.Report{Sent: 10, Received: 10, OK: 10},
	}

	tests := []struct {
		name   string
		report *linktest.SessionReport
		err    error
		want   int
	}{
		{"clean run", okReport, nil, exitOK},
		{"session error", okReport, errors.New("boom"), exitSessionFailed},
		{"no report", nil, linktest.ErrHandshakeTimeout, exitSessionFailed},
		{
			"nothing delivered",
			&linktest.SessionReport{Report: stats.Report{Sent: 10}},
			nil,
			exitNoData,
		},
		{
			"checksum failures",
			&linktest.SessionReport{Report: stats.Report{Sent: 10, Received: 10, OK: 8, Corrupted: 2}},
			nil,
			exitChecksumFailures,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.report, tt.err))
		})
	}
}

package serialport

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/arloliu/go-linktest/logger"
)

// latencyTimerTarget is the FTDI latency timer value in milliseconds. The
// factory default of 16ms batches received bytes and wrecks RTS/CTS
// turnaround; 1ms delivers them as they arrive.
const latencyTimerTarget = 1

// latencySysfsRoot is the sysfs directory holding per-device usb-serial
// attributes. Overridable in tests.
var latencySysfsRoot = "/sys/bus/usb-serial/devices"

// fixLatencyTimer sets the FTDI latency timer for the device at path to
// latencyTimerTarget. Best effort: non-FTDI devices and permission errors
// are logged and skipped, never fatal.
func fixLatencyTimer(path string, lg logger.Logger) bool {
	name := filepath.Base(path)
	if !strings.HasPrefix(name, "ttyUSB") {
		lg.Debug("serialport: latency fix not applicable", "device", name)

		return false
	}

	attr := filepath.Join(latencySysfsRoot, name, "latency_timer")

	current, err := readLatencyTimer(attr)
	if err != nil {
		lg.Warn("serialport: cannot read latency timer", "path", attr, "error", err)

		return false
	}

	if current == latencyTimerTarget {
		lg.Debug("serialport: latency timer already configured", "ms", current)

		return true
	}

	if err := os.WriteFile(attr, []byte(strconv.Itoa(latencyTimerTarget)), 0o644); err != nil {
		if os.IsPermission(err) {
			lg.Warn("serialport: cannot configure latency timer: permission denied")
		} else {
			lg.Warn("serialport: cannot configure latency timer", "error", err)
		}

		return false
	}

	// The driver may silently reject the value; read it back.
	updated, err := readLatencyTimer(attr)
	if err != nil || updated != latencyTimerTarget {
		lg.Warn("serialport: latency timer verification failed",
			"wrote", latencyTimerTarget, "read", updated)

		return false
	}

	lg.Info("serialport: FTDI latency timer configured",
		"from", current, "to", latencyTimerTarget)

	return true
}

func readLatencyTimer(attr string) (int, error) {
	data, err := os.ReadFile(attr)
	if err != nil {
		return 0, err
	}

	value, err := strconv.Atoi(string(bytes.TrimSpace(data)))
	if err != nil {
		return 0, fmt.Errorf("parsing latency timer: %w", err)
	}

	return value, nil
}

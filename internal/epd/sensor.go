package epd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// temperatureSensor reads the panel temperature in degrees Celsius.
// Waveforms are calibrated per temperature range, so the generator refreshes
// this value before each batch lookup and the vsync worker before each
// scan-out (both rate-limited by the controller).
type temperatureSensor interface {
	read() (int, error)
	close() error
}

// sysfsSensor reads a hwmon-style text attribute containing a decimal
// integer, e.g. /sys/class/hwmon/hwmonN/temp0.
type sysfsSensor struct {
	f *os.File
}

func openSysfsSensor(path string) (*sysfsSensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("epd: open temperature sensor: %w", err)
	}
	return &sysfsSensor{f: f}, nil
}

func (s *sysfsSensor) read() (int, error) {
	if _, err := s.f.Seek(0, 0); err != nil {
		return 0, fmt.Errorf("epd: seek in panel temperature file: %w", err)
	}
	buf := make([]byte, 12)
	n, err := s.f.Read(buf)
	if err != nil {
		return 0, fmt.Errorf("epd: read panel temperature: %w", err)
	}
	text := strings.TrimSpace(string(buf[:n]))
	value, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("epd: parse panel temperature %q: %w", text, err)
	}
	return value, nil
}

func (s *sysfsSensor) close() error {
	return s.f.Close()
}

// fixedSensor always reports the same temperature. Dry runs use it so that
// waveform lookups behave as if the panel sat at room temperature.
type fixedSensor int

func (s fixedSensor) read() (int, error) { return int(s), nil }
func (s fixedSensor) close() error       { return nil }

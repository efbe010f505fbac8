package epd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	framebufferName = "mxs-lcdif"
	sensorName      = "sy7636a_temperature"

	graphicsClassDir = "/sys/class/graphics"
	hwmonClassDir    = "/sys/class/hwmon"
)

// DiscoverFramebuffer scans the graphics class for the panel controller and
// returns the path of its character device.
func DiscoverFramebuffer() (string, error) {
	entries, err := os.ReadDir(graphicsClassDir)
	if err != nil {
		return "", fmt.Errorf("epd: scan %s: %w", graphicsClassDir, err)
	}
	for _, entry := range entries {
		dir := filepath.Join(graphicsClassDir, entry.Name())
		if readSysfsLine(filepath.Join(dir, "name")) != framebufferName {
			continue
		}

		dev := readSysfsLine(filepath.Join(dir, "dev"))
		_, minor, ok := strings.Cut(dev, ":")
		if !ok {
			continue
		}
		devPath := "/dev/fb" + minor
		if _, err := os.Stat(devPath); err == nil {
			return devPath, nil
		}
	}
	return "", fmt.Errorf("epd: no %s framebuffer found", framebufferName)
}

// DiscoverTemperatureSensor scans the hwmon class for the panel power chip's
// temperature attribute.
func DiscoverTemperatureSensor() (string, error) {
	entries, err := os.ReadDir(hwmonClassDir)
	if err != nil {
		return "", fmt.Errorf("epd: scan %s: %w", hwmonClassDir, err)
	}
	for _, entry := range entries {
		dir := filepath.Join(hwmonClassDir, entry.Name())
		if readSysfsLine(filepath.Join(dir, "name")) != sensorName {
			continue
		}

		sensorPath := filepath.Join(dir, "temp0")
		if _, err := os.Stat(sensorPath); err == nil {
			return sensorPath, nil
		}
	}
	return "", fmt.Errorf("epd: no %s sensor found", sensorName)
}

// readSysfsLine returns the first line of a sysfs attribute, or "" when the
// attribute cannot be read.
func readSysfsLine(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	line, _, _ := strings.Cut(string(data), "\n")
	return strings.TrimSpace(line)
}

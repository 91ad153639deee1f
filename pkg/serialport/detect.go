// Package serialport reads the printer tap: raw bytes from the POS printer
// port, reassembled into logical lines.
package serialport

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/FFTY50/micromanager-pos-sub000/internal/logger"
)

// devicePrefixes are the device name families scanned when no port is
// configured, in preference order. USB serial adapters come first because
// that is how the printer tap is wired in practice.
var devicePrefixes = []string{"ttyUSB", "ttyACM"}

// Detect resolves the serial device to read from. An explicit path always
// wins and is returned unprobed so a device that enumerates late still gets
// picked up by the reconnect loop. Otherwise /dev is scanned for known
// adapter families and the first openable device is chosen.
func Detect(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	entries, err := os.ReadDir("/dev")
	if err != nil {
		return "", fmt.Errorf("failed to scan /dev: %w", err)
	}

	var candidates []string
	for _, prefix := range devicePrefixes {
		var family []string
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), prefix) {
				family = append(family, filepath.Join("/dev", e.Name()))
			}
		}
		sort.Slice(family, func(i, j int) bool { return naturalLess(family[i], family[j]) })
		candidates = append(candidates, family...)
	}

	for _, path := range candidates {
		if probe(path) {
			logger.Info("detected serial device", logger.Port(path))
			return path, nil
		}
		logger.Debug("serial candidate not openable", logger.Port(path))
	}

	return "", fmt.Errorf("no serial device found under /dev (looked for %s)",
		strings.Join(devicePrefixes, ", "))
}

// probe checks that the device can be opened without blocking on DCD.
func probe(path string) bool {
	f, err := os.OpenFile(path, os.O_RDWR|syscall.O_NONBLOCK, 0)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

// naturalLess orders device names so ttyUSB2 sorts before ttyUSB10.
func naturalLess(a, b string) bool {
	for len(a) > 0 && len(b) > 0 {
		if isDigit(a[0]) && isDigit(b[0]) {
			an, arest := takeNumber(a)
			bn, brest := takeNumber(b)
			if an != bn {
				return an < bn
			}
			a, b = arest, brest
			continue
		}
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		a, b = a[1:], b[1:]
	}
	return len(a) < len(b)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func takeNumber(s string) (int, string) {
	i := 0
	n := 0
	for i < len(s) && isDigit(s[i]) {
		n = n*10 + int(s[i]-'0')
		i++
	}
	return n, s[i:]
}

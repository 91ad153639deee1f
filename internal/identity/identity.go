// Package identity derives the agent's stable device identifier.
//
// The id has the form mmd-rv1-{mac6}-{port}: the last six hex digits of the
// first physical network interface's MAC address, then the trailing digits
// of the serial device path, so two taps on the same box get distinct ids.
package identity

import (
	"encoding/hex"
	"fmt"
	"net"
	"strings"
)

const prefix = "mmd-rv1"

// DeviceID returns the configured override if set, otherwise derives the id
// from the hardware MAC and the serial port path.
func DeviceID(override, portPath string) (string, error) {
	if override != "" {
		return override, nil
	}

	mac, err := primaryMAC()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%s", prefix, macSuffix(mac), portSuffix(portPath)), nil
}

// primaryMAC returns the hardware address of the first up, non-loopback
// interface that has one.
func primaryMAC() (net.HardwareAddr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list network interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		return iface.HardwareAddr, nil
	}
	return nil, fmt.Errorf("no network interface with a hardware address")
}

// macSuffix is the last three bytes of the MAC as lowercase hex.
func macSuffix(mac net.HardwareAddr) string {
	if len(mac) < 3 {
		return hex.EncodeToString(mac)
	}
	return hex.EncodeToString(mac[len(mac)-3:])
}

// portSuffix is the trailing digit run of the device path: /dev/ttyUSB0
// yields "0". A path with no trailing digits yields "0".
func portSuffix(portPath string) string {
	s := strings.TrimRight(portPath, "/")
	i := len(s)
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	if i == len(s) {
		return "0"
	}
	return s[i:]
}

package device

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// Probe supplies the raw hardware factors a fingerprint is hashed from.
type Probe interface {
	Factors(ctx context.Context) []string
}

// StaticProbe returns fixed factors. Useful for tests and for hosts where
// the caller already knows a stable identifier.
type StaticProbe []string

// Factors implements Probe
func (p StaticProbe) Factors(context.Context) []string { return []string(p) }

// SystemProbe reads MAC address, hostname, CPU descriptor and the platform
// hardware UUID. Missing factors are skipped.
type SystemProbe struct{}

// Factors implements Probe
func (SystemProbe) Factors(ctx context.Context) []string {
	factors := make([]string, 0, 6)
	for _, get := range []func(context.Context) (string, error){
		macAddress, hostname, cpuDescriptor, hardwareUUID,
	} {
		if v, err := get(ctx); err == nil && v != "" {
			factors = append(factors, v)
		}
	}
	return append(factors, runtime.GOOS, runtime.GOARCH)
}

func macAddress(context.Context) (string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("failed to get network interfaces: %w", err)
	}

	// Prefer an up, non-loopback interface. Fall back to any with a MAC.
	var fallback string
	for _, iface := range interfaces {
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		mac := iface.HardwareAddr.String()
		if mac == "00:00:00:00:00:00" {
			continue
		}
		if iface.Flags&net.FlagLoopback == 0 && iface.Flags&net.FlagUp != 0 {
			return mac, nil
		}
		if fallback == "" {
			fallback = mac
		}
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", fmt.Errorf("no valid MAC address found")
}

func hostname(context.Context) (string, error) {
	name, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}
	return strings.ToLower(strings.TrimSpace(name)), nil
}

func cpuDescriptor(context.Context) (string, error) {
	switch runtime.GOOS {
	case "linux":
		data, err := os.ReadFile("/proc/cpuinfo")
		if err != nil {
			return "", err
		}
		for _, line := range strings.Split(string(data), "\n") {
			if strings.HasPrefix(line, "model name") || strings.HasPrefix(line, "Serial") {
				return shortHash(line), nil
			}
		}
		return "", fmt.Errorf("no cpu descriptor in /proc/cpuinfo")
	case "windows":
		if id := os.Getenv("PROCESSOR_IDENTIFIER"); id != "" {
			return shortHash(id), nil
		}
	}
	return shortHash(runtime.GOOS + "-" + runtime.GOARCH), nil
}

func hardwareUUID(ctx context.Context) (string, error) {
	switch runtime.GOOS {
	case "linux":
		for _, path := range []string{"/sys/class/dmi/id/product_uuid", "/etc/machine-id"} {
			if data, err := os.ReadFile(path); err == nil {
				if id := strings.TrimSpace(string(data)); id != "" {
					return id, nil
				}
			}
		}
	case "darwin":
		out, err := exec.CommandContext(ctx, "ioreg", "-rd1", "-c", "IOPlatformExpertDevice").Output()
		if err == nil {
			for _, line := range strings.Split(string(out), "\n") {
				if strings.Contains(line, "IOPlatformUUID") {
					if parts := strings.Split(line, `"`); len(parts) >= 4 {
						return parts[3], nil
					}
				}
			}
		}
	case "windows":
		out, err := exec.CommandContext(ctx, "wmic", "csproduct", "get", "UUID").Output()
		if err == nil {
			for _, line := range bytes.Split(out, []byte("\n")) {
				s := strings.TrimSpace(string(line))
				if s != "" && !strings.EqualFold(s, "UUID") {
					return s, nil
				}
			}
		}
	}
	return "", fmt.Errorf("no hardware UUID on %s", runtime.GOOS)
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}

// Hash folds factors into a 32 character lowercase hex fingerprint.
func Hash(factors []string) string {
	sum := sha256.Sum256([]byte(strings.Join(factors, "|")))
	return hex.EncodeToString(sum[:16])
}

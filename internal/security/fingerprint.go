// Package security provides the client-side hardening pieces of the
// license toolkit: stable machine fingerprinting and clock-rollback
// detection. Nothing here touches key material.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"strings"
	"sync"
)

// FingerprintManager derives a stable machine fingerprint from
// hardware and OS identity sources. The fingerprint is what an
// administrator binds a license to, so it must be reproducible across
// restarts on the same machine.
type FingerprintManager struct {
	logger *slog.Logger

	mu     sync.Mutex
	cached string
}

// NewFingerprintManager creates a fingerprint manager.
func NewFingerprintManager(logger *slog.Logger) *FingerprintManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &FingerprintManager{
		logger: logger.With(slog.String("component", "fingerprint")),
	}
}

// MachineID returns the fingerprint for this machine: the SHA-256 hex
// digest over hostname, primary MAC address, OS machine id, OS, and
// architecture. Computed once per process.
func (fm *FingerprintManager) MachineID() (string, error) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	if fm.cached != "" {
		return fm.cached, nil
	}

	var parts []string

	hostname, err := fm.hostname()
	if err != nil {
		return "", err
	}
	parts = append(parts, hostname)

	if mac, err := fm.primaryMAC(); err == nil {
		parts = append(parts, mac)
	} else {
		fm.logger.Warn("no MAC address available, fingerprint uses fewer sources",
			slog.String("error", err.Error()))
	}

	if id, err := fm.osMachineID(); err == nil {
		parts = append(parts, id)
	}

	parts = append(parts, runtime.GOOS, runtime.GOARCH)

	digest := sha256.Sum256([]byte(strings.Join(parts, "|")))
	fm.cached = hex.EncodeToString(digest[:])
	fm.logger.Debug("machine fingerprint computed",
		slog.Int("sources", len(parts)),
		slog.String("fingerprint_prefix", fm.cached[:8]))
	return fm.cached, nil
}

func (fm *FingerprintManager) hostname() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}
	hostname = strings.ToLower(strings.TrimSpace(hostname))
	if hostname == "" {
		return "", fmt.Errorf("hostname is empty")
	}
	return hostname, nil
}

// primaryMAC returns the MAC address of the first up, non-loopback
// interface, falling back to any interface with a hardware address.
func (fm *FingerprintManager) primaryMAC() (string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("failed to get network interfaces: %w", err)
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if mac := iface.HardwareAddr.String(); validMAC(mac) {
			return mac, nil
		}
	}
	for _, iface := range interfaces {
		if mac := iface.HardwareAddr.String(); validMAC(mac) {
			fm.logger.Warn("using fallback MAC address", slog.String("interface", iface.Name))
			return mac, nil
		}
	}
	return "", fmt.Errorf("no valid MAC address found")
}

// osMachineID reads the OS-assigned machine identifier where one
// exists. Best effort: absence just removes one source from the
// digest.
func (fm *FingerprintManager) osMachineID() (string, error) {
	var candidates []string
	switch runtime.GOOS {
	case "linux":
		candidates = []string{"/etc/machine-id", "/var/lib/dbus/machine-id"}
	case "freebsd":
		candidates = []string{"/etc/hostid"}
	default:
		return "", fmt.Errorf("no machine id source on %s", runtime.GOOS)
	}
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("no machine id file readable")
}

func validMAC(mac string) bool {
	return mac != "" && mac != "00:00:00:00:00:00"
}

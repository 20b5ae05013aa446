//go:build linux

package procwatch

import (
	"os"
	"path/filepath"
	"strings"
)

// processName is the game client's executable name as it appears in
// /proc/<pid>/comm (truncated to 15 bytes by the kernel).
const processName = "VRChat.exe"

// ProcProbe scans /proc for the game client.
type ProcProbe struct{}

// NewProbe returns the platform probe.
func NewProbe() Probe {
	return &ProcProbe{}
}

// Running implements Probe.
func (p *ProcProbe) Running() (bool, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return false, err
	}
	for _, entry := range entries {
		if !entry.IsDir() || !isNumeric(entry.Name()) {
			continue
		}
		comm, err := os.ReadFile(filepath.Join("/proc", entry.Name(), "comm"))
		if err != nil {
			// Process vanished between ReadDir and ReadFile.
			continue
		}
		name := strings.TrimSpace(string(comm))
		// comm is truncated to 15 bytes by the kernel.
		if name == processName || (len(name) == 15 && strings.HasPrefix(processName, name)) {
			return true, nil
		}
	}
	return false, nil
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

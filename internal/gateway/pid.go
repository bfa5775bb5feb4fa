package gateway

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const pidFileName = "gateway.pid"

// PIDPath returns the liveness marker location for a data directory.
func PIDPath(dataDir string) string {
	return filepath.Join(dataDir, pidFileName)
}

// WritePID records the current process as the running gateway instance.
func WritePID(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return os.WriteFile(PIDPath(dataDir), []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// RemovePID clears the liveness marker; a missing file is fine.
func RemovePID(dataDir string) {
	os.Remove(PIDPath(dataDir))
}

// ReadPID returns the recorded gateway PID, or 0 when no instance is
// registered or the marker is unreadable.
func ReadPID(dataDir string) int {
	data, err := os.ReadFile(PIDPath(dataDir))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

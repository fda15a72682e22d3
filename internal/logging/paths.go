// Package logging provides console-output capture for managed game-server
// processes. Each instance gets one rolling console log file that the
// supervisor appends to while the process runs.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// consoleLogName is the file name of an instance's console log.
const consoleLogName = "console.log"

// PathManager handles log file path construction and directory management.
type PathManager struct {
	baseDir string
}

// NewPathManager creates a new PathManager with the given base directory.
// The base directory is typically ~/.local/share/fleet/logs.
func NewPathManager(baseDir string) *PathManager {
	return &PathManager{baseDir: baseDir}
}

// BaseDir returns the base log directory.
func (p *PathManager) BaseDir() string {
	return p.baseDir
}

// InstanceDir returns the log directory for a specific instance.
// Path format: <baseDir>/<instanceID>/
func (p *PathManager) InstanceDir(instanceID string) string {
	return filepath.Join(p.baseDir, instanceID)
}

// ConsoleLogPath returns the full path of an instance's console log file.
// Path format: <baseDir>/<instanceID>/console.log
func (p *PathManager) ConsoleLogPath(instanceID string) string {
	return filepath.Join(p.baseDir, instanceID, consoleLogName)
}

// EnsureConsoleLog ensures the parent directory exists for an instance's
// console log. Returns the full log file path.
func (p *PathManager) EnsureConsoleLog(instanceID string) (string, error) {
	if err := os.MkdirAll(p.InstanceDir(instanceID), 0o750); err != nil {
		return "", fmt.Errorf("create instance log directory: %w", err)
	}
	return p.ConsoleLogPath(instanceID), nil
}

// LogExists checks if a console log exists for the given instance.
func (p *PathManager) LogExists(instanceID string) bool {
	_, err := os.Stat(p.ConsoleLogPath(instanceID))
	return err == nil
}

// RemoveInstanceLogs removes all log files for an instance.
func (p *PathManager) RemoveInstanceLogs(instanceID string) error {
	if err := os.RemoveAll(p.InstanceDir(instanceID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove instance logs: %w", err)
	}
	return nil
}

// Package dotdir manages the per-project .open-mem/ directory and the
// optional user-scope ~/.open-mem/ directory.
//
// All persistent state lives under these directories: the memory database,
// the user config overrides, mode definitions, and the daemon trigger file.
package dotdir

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// dirName is the name of the openmem directory.
	dirName = ".open-mem"

	// DatabaseFile is the embedded database file name.
	DatabaseFile = "memory.db"

	// ConfigFile is the user-override config file name.
	ConfigFile = "config.json"

	// TriggerFile signals an external worker to process the queue now.
	TriggerFile = "trigger"

	// LockFile guards the database directory against concurrent writers.
	LockFile = "memory.db.lock"

	modesDirName = "modes"
)

type Manager struct{}

func NewManager() *Manager {
	return &Manager{}
}

// ProjectDir returns the absolute path to projectRoot/.open-mem/, creating
// it if needed. The project root is canonicalised through git worktree
// resolution first.
func (m *Manager) ProjectDir(projectRoot string) (string, error) {
	if projectRoot == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("getting current directory: %w", err)
		}
		projectRoot = cwd
	}

	root := CanonicalProjectRoot(projectRoot)
	dir := filepath.Join(root, dirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating openmem directory %s: %w", dir, err)
	}

	return filepath.Abs(dir)
}

// UserDir returns the absolute path to ~/.open-mem/, creating it if needed.
// If overrideDir is non-empty it is used instead.
func (m *Manager) UserDir(overrideDir string) (string, error) {
	dir := overrideDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		dir = filepath.Join(home, dirName)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating openmem directory %s: %w", dir, err)
	}

	return filepath.Abs(dir)
}

// DatabasePath returns the database file path inside dir.
func (m *Manager) DatabasePath(dir string) string {
	return filepath.Join(dir, DatabaseFile)
}

// ConfigPath returns the config override file path inside dir.
func (m *Manager) ConfigPath(dir string) string {
	return filepath.Join(dir, ConfigFile)
}

// ModesDir returns the mode-definitions directory inside dir. The directory
// is not created; a missing directory just means only built-in modes resolve.
func (m *Manager) ModesDir(dir string) string {
	return filepath.Join(dir, modesDirName)
}

// TriggerPath returns the daemon trigger file path inside dir.
func (m *Manager) TriggerPath(dir string) string {
	return filepath.Join(dir, TriggerFile)
}

// LockPath returns the database lock file path inside dir.
func (m *Manager) LockPath(dir string) string {
	return filepath.Join(dir, LockFile)
}

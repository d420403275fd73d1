// Package dotdir manages the .trickle/ and ~/.trickle directories, which hold
// config.toml and the transcript of the last chat session.
package dotdir

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	dirName = ".trickle"
)

type Manager struct{}

func NewManager() *Manager {
	return &Manager{}
}

// Target returns the target absolute path to a .trickle/ directory.
// Order of precedence is as follows:
//  1. Provided override
//  2. Local ./.trickle/ dir
//  3. Home ~/.trickle/ dir
//  4. If none found, attempt to create ~/.trickle/ dir
func (m *Manager) Target(overrideDir string) (string, error) {
	var dir string

	switch {
	case overrideDir != "":
		dir = overrideDir

	case m.localDirExists():
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("getting current directory: %w", err)
		}
		dir = filepath.Join(cwd, dirName)

	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		dir = filepath.Join(home, dirName)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating trickle directory %s: %w", dir, err)
	}

	return filepath.Abs(dir)
}

// localDirExists reports whether ./.trickle/ exists.
func (m *Manager) localDirExists() bool {
	cwd, err := os.Getwd()
	if err != nil {
		return false
	}

	info, err := os.Stat(filepath.Join(cwd, dirName))
	return err == nil && info.IsDir()
}

package config

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.evoinbox.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".evoinbox")
}

// PrefsPath returns the preferences file path.
func PrefsPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// LogDir returns the log directory.
func LogDir() string {
	return filepath.Join(BaseDir(), "logs")
}

// LogPath returns the daemon log file path.
func LogPath() string {
	return filepath.Join(LogDir(), "inboxd.log")
}

// EnsureDirs creates the base directory tree with proper permissions.
func EnsureDirs() error {
	for _, d := range []string{BaseDir(), LogDir()} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}

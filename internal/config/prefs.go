package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Prefs is the client-persisted state surviving restarts, most notably
// the preferred gateway instance. A stale preferred instance is not
// invalidated here; instance-scoped calls simply fail until re-resolved.
type Prefs struct {
	PreferredInstanceID   string `toml:"preferred_instance_id"`
	PreferredInstanceName string `toml:"preferred_instance_name"`
}

// LoadPrefs reads prefs from the given path. A missing file yields zero
// prefs and no error.
func LoadPrefs(path string) (*Prefs, error) {
	var p Prefs
	_, err := toml.DecodeFile(path, &p)
	if os.IsNotExist(err) {
		return &Prefs{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SavePrefs writes prefs to the given path, creating parent dirs as needed.
func SavePrefs(path string, p *Prefs) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(p)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

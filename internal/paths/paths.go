package paths

import (
	"os"
	"path/filepath"
)

// DataDir returns the studio data directory, following XDG conventions:
// $XDG_DATA_HOME/studio or ~/.local/share/studio as fallback.
func DataDir() (string, error) {
	return xdgDir("XDG_DATA_HOME", ".local", "share")
}

// ConfigDir returns $XDG_CONFIG_HOME/studio or ~/.config/studio.
func ConfigDir() (string, error) {
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

func xdgDir(env string, fallback ...string) (string, error) {
	base := os.Getenv(env)
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(append([]string{home}, fallback...)...)
	}
	return filepath.Join(base, "studio"), nil
}

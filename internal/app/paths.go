// Package app provides the application initialization and wiring.
package app

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// DefaultDataDir returns the default data directory path.
// Uses ~/.snapkeep for user installations, /var/lib/snapkeep as fallback.
func DefaultDataDir() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".snapkeep")
	}
	return "/var/lib/snapkeep"
}

// ConfigureViper sets up viper with standard config file search paths.
// Config file: snapkeep.toml
// Search paths (in order): /etc/snapkeep, ~/.config/snapkeep, current directory
func ConfigureViper(v *viper.Viper, configPath string) {
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("snapkeep")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc/snapkeep")
		v.AddConfigPath("$HOME/.config/snapkeep")
		v.AddConfigPath(".")
	}
}

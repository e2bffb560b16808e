package trackable

import (
	"github.com/evcron/evcron/config"
)

// ConfigFile tracks the scheduler's config file, reloading it (via
// config.Load) whenever its mtime changes.
type ConfigFile struct {
	base
	current config.Config
}

// NewConfigFile constructs a tracker for the config file at path. Call
// Reload once before use.
func NewConfigFile(path string) *ConfigFile {
	return &ConfigFile{base: newBase(path), current: config.Defaults()}
}

// Reload re-parses the config file and records its mtime.
func (c *ConfigFile) Reload() error {
	cfg, err := config.Load(c.path)
	if err != nil {
		return err
	}
	c.current = cfg
	return c.Mark()
}

// Get returns the most recently loaded config.
func (c *ConfigFile) Get() config.Config {
	return c.current
}

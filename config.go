package webdav

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the enumerated option set (§6): everything needed to wire a
// Server plus the ambient stack (lock store, access restrictions,
// normalization) from a single YAML file.
type Config struct {
	RootDir          string   `yaml:"root_dir"`
	RootURL          string   `yaml:"root_url"`
	LockDB           string   `yaml:"lock_db"`
	LockMaxTime      int      `yaml:"lock_max_time"`
	LockWait         int      `yaml:"lock_wait"`
	RestrictAccess   []string `yaml:"restrict_access"`
	RestrictWrite    []string `yaml:"restrict_write"`
	UnicodeNormalize string   `yaml:"unicode_normalize"`
	HTMLInterface    string   `yaml:"html_interface"`
	Listen           string   `yaml:"listen"`
	Prefix           string   `yaml:"prefix"`
}

// LockMaxTimeDuration returns LockMaxTime as a time.Duration, defaulting
// to one hour when unset.
func (c *Config) LockMaxTimeDuration() time.Duration {
	if c.LockMaxTime <= 0 {
		return time.Hour
	}
	return time.Duration(c.LockMaxTime) * time.Second
}

// LockWaitDuration returns LockWait as a time.Duration, defaulting to ten
// seconds when unset.
func (c *Config) LockWaitDuration() time.Duration {
	if c.LockWait <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.LockWait) * time.Second
}

// NormalizeForm maps the configured string form to a NormalizeForm.
func (c *Config) NormalizeForm() (NormalizeForm, error) {
	switch c.UnicodeNormalize {
	case "", "none":
		return NormalizeNone, nil
	case "nfc":
		return NormalizeNFC, nil
	case "nfd":
		return NormalizeNFD, nil
	case "nfkc":
		return NormalizeNFKC, nil
	case "nfkd":
		return NormalizeNFKD, nil
	}
	return NormalizeNone, fmt.Errorf("webdav: unknown unicode_normalize form %q", c.UnicodeNormalize)
}

// LoadConfig reads and validates a YAML config file at path.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("webdav: read config: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("webdav: parse config: %w", err)
	}
	if c.RootDir == "" {
		return nil, fmt.Errorf("webdav: root_dir is required")
	}
	if _, err := c.NormalizeForm(); err != nil {
		return nil, err
	}
	return &c, nil
}

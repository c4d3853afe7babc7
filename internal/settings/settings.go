// Package settings loads the optional tpn settings file.
package settings

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cochaviz/tpn/internal/interrupt"
	"github.com/cochaviz/tpn/internal/lease"
	"github.com/cochaviz/tpn/internal/session"
	"github.com/cochaviz/tpn/internal/tunnel"
)

// Settings are the tool-wide knobs. Command-line flags override them.
type Settings struct {
	Interface      string        `yaml:"interface"`
	PrivilegedDir  string        `yaml:"privileged_dir"`
	FallbackDir    string        `yaml:"fallback_dir"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
	StatsInterval  int           `yaml:"stats_interval"`
	ValidatorsFile string        `yaml:"validators_file"`
}

// Default returns the built-in settings.
func Default() Settings {
	return Settings{
		Interface:      tunnel.DefaultName,
		PrivilegedDir:  tunnel.DefaultPrivilegedDir,
		FallbackDir:    tunnel.DefaultFallbackDir,
		RequestTimeout: lease.DefaultTimeout,
		ConfirmTimeout: interrupt.DefaultConfirmTimeout,
		StatsInterval:  session.DefaultStatsInterval,
	}
}

// DefaultPath is $XDG_CONFIG_HOME/tpn/config.yaml or the platform equivalent.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate user config dir: %w", err)
	}
	return filepath.Join(dir, "tpn", "config.yaml"), nil
}

// Load reads settings from path. An empty path means DefaultPath, and a
// missing default file yields the defaults; a missing explicit file is an
// error.
func Load(path string) (Settings, error) {
	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return Default(), nil
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return Default(), nil
		}
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}

	s, err := Parse(data)
	if err != nil {
		return Settings{}, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Parse decodes settings over the defaults. Unknown keys are rejected.
func Parse(data []byte) (Settings, error) {
	s := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate rejects values no component can work with.
func (s Settings) Validate() error {
	if err := s.PathPolicy().Validate(); err != nil {
		return err
	}
	if s.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", s.RequestTimeout)
	}
	if s.ConfirmTimeout <= 0 {
		return fmt.Errorf("confirm_timeout must be positive, got %s", s.ConfirmTimeout)
	}
	return nil
}

// PathPolicy is where leased configurations are written.
func (s Settings) PathPolicy() tunnel.PathPolicy {
	return tunnel.PathPolicy{
		PrivilegedDir: s.PrivilegedDir,
		FallbackDir:   s.FallbackDir,
		Name:          s.Interface,
	}
}

package tunnel

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	DefaultPrivilegedDir = "/etc/wireguard"
	DefaultFallbackDir   = "."
	DefaultName          = "tpn"
)

var interfaceNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_=+.-]{1,15}$`)

// PathPolicy picks where the leased configuration is written: inside the
// system WireGuard directory when this process can write there, otherwise
// in a fallback directory.
type PathPolicy struct {
	PrivilegedDir string
	FallbackDir   string
	Name          string

	// writable overrides the capability check in tests.
	writable func(dir string) bool
}

// DefaultPathPolicy writes /etc/wireguard/tpn.conf or ./tpn.conf.
func DefaultPathPolicy() PathPolicy {
	return PathPolicy{
		PrivilegedDir: DefaultPrivilegedDir,
		FallbackDir:   DefaultFallbackDir,
		Name:          DefaultName,
	}
}

// Validate checks that Name is usable as a WireGuard interface name.
func (p PathPolicy) Validate() error {
	name := strings.TrimSpace(p.Name)
	if !interfaceNamePattern.MatchString(name) {
		return fmt.Errorf("interface name %q must be 1-15 characters of [a-zA-Z0-9_=+.-]", p.Name)
	}
	return nil
}

// Privileged reports whether the privileged directory is writable.
func (p PathPolicy) Privileged() bool {
	dir := strings.TrimSpace(p.PrivilegedDir)
	if dir == "" {
		return false
	}
	check := p.writable
	if check == nil {
		check = canWriteDir
	}
	return check(dir)
}

// Resolve returns the configuration path for this process.
func (p PathPolicy) Resolve() (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	file := strings.TrimSpace(p.Name) + ".conf"
	if p.Privileged() {
		return filepath.Join(p.PrivilegedDir, file), nil
	}
	dir := strings.TrimSpace(p.FallbackDir)
	if dir == "" {
		dir = DefaultFallbackDir
	}
	abs, err := filepath.Abs(filepath.Join(dir, file))
	if err != nil {
		return "", fmt.Errorf("resolve fallback config path: %w", err)
	}
	return abs, nil
}

// Candidates lists every path Resolve could return, privileged first.
func (p PathPolicy) Candidates() ([]string, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	file := strings.TrimSpace(p.Name) + ".conf"
	var paths []string
	if dir := strings.TrimSpace(p.PrivilegedDir); dir != "" {
		paths = append(paths, filepath.Join(dir, file))
	}
	fallback := p
	fallback.PrivilegedDir = ""
	path, err := fallback.Resolve()
	if err != nil {
		return nil, err
	}
	return append(paths, path), nil
}

// canWriteDir reports whether dir (or, if it does not exist yet, its
// nearest existing parent) accepts new files from this process.
func canWriteDir(dir string) bool {
	for {
		info, err := os.Stat(dir)
		if err == nil {
			return info.IsDir() && accessWritable(dir)
		}
		if !errors.Is(err, os.ErrNotExist) {
			return false
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return false
		}
		dir = parent
	}
}

// Package tunnel owns the single WireGuard interface brought up from a leased
// configuration: where the configuration is written, how the interface is
// brought up, and the guarantee that it is brought down at most once.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cochaviz/tpn/internal/lease"
	"github.com/cochaviz/tpn/internal/logging"
)

const teardownTimeout = 30 * time.Second

var (
	// ErrActivationFailed means the configuration could not be written or the
	// interface could not be brought up. No active session exists.
	ErrActivationFailed = errors.New("tunnel activation failed")
	// ErrTeardownFailed means interface-down failed. The session is still
	// considered torn down.
	ErrTeardownFailed = errors.New("tunnel teardown failed")
)

// Interface brings a WireGuard interface up or down from a configuration file.
type Interface interface {
	Up(ctx context.Context, configPath string) error
	Down(ctx context.Context, configPath string) error
}

// Controller activates and tears down tunnels.
type Controller struct {
	iface  Interface
	paths  PathPolicy
	logger *slog.Logger
	probe  func(name string) (LinkInfo, error)

	mu sync.Mutex
}

// NewController builds a Controller. A nil logger uses the process default.
func NewController(iface Interface, paths PathPolicy, logger *slog.Logger) *Controller {
	return &Controller{
		iface:  iface,
		paths:  paths,
		logger: logging.Ensure(logger).With("component", "tunnel"),
		probe:  probeLink,
	}
}

// Activate writes config to the policy's configuration path and brings the
// interface up. On any failure it returns an error wrapping
// ErrActivationFailed and no session. A file written before a failed
// interface-up is left on disk for inspection.
func (c *Controller) Activate(ctx context.Context, config lease.Config) (*Session, error) {
	if c.iface == nil {
		return nil, fmt.Errorf("%w: no interface manager configured", ErrActivationFailed)
	}
	if config.Empty() {
		return nil, fmt.Errorf("%w: configuration is empty", ErrActivationFailed)
	}

	path, err := c.paths.Resolve()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrActivationFailed, err)
	}
	logger := c.logger.With("config_path", path)

	if err := writeConfig(path, config); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrActivationFailed, err)
	}
	logger.Debug("configuration written", "summary", Describe(config))

	// Bringing the interface up must not be cut short by an interrupt:
	// a half-run wg-quick leaves routes and DNS in an unknown state.
	if err := c.iface.Up(context.WithoutCancel(ctx), path); err != nil {
		logger.Error("interface up failed; configuration left in place", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrActivationFailed, err)
	}

	session := &Session{
		ID:          uuid.NewString(),
		ConfigPath:  path,
		Interface:   InterfaceName(path),
		ActivatedAt: time.Now().UTC(),
		state:       StateActive,
	}
	logger.Info("tunnel active", "interface", session.Interface, "session", session.ID)

	c.checkLink(session)
	return session, nil
}

// Teardown brings the session's interface down. It is a no-op unless the
// session is Active, and the session always ends TornDown, even when the
// down command fails. Concurrent callers serialize: exactly one of them runs
// interface-down.
func (c *Controller) Teardown(ctx context.Context, session *Session) error {
	if session == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	session.mu.Lock()
	if session.state != StateActive {
		session.mu.Unlock()
		return nil
	}
	session.mu.Unlock()

	downCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()

	var downErr error
	if c.iface != nil {
		downErr = c.iface.Down(downCtx, session.ConfigPath)
	}

	session.mu.Lock()
	session.state = StateTornDown
	session.mu.Unlock()

	if downErr != nil {
		c.logger.Warn("interface down failed; continuing shutdown", "interface", session.Interface, "error", downErr)
		return fmt.Errorf("%w: %w", ErrTeardownFailed, downErr)
	}
	c.logger.Info("tunnel torn down", "interface", session.Interface, "session", session.ID)
	return nil
}

func (c *Controller) checkLink(session *Session) {
	if c.probe == nil {
		return
	}
	info, err := c.probe(session.Interface)
	switch {
	case errors.Is(err, errProbeUnsupported):
		return
	case err != nil:
		c.logger.Warn("interface not visible after activation", "interface", session.Interface, "error", err)
	default:
		c.logger.Debug("interface present", "interface", info.Name, "index", info.Index, "mtu", info.MTU, "up", info.Up)
	}
}

// InterfaceName is the interface wg-quick derives from a configuration path.
func InterfaceName(configPath string) string {
	return strings.TrimSuffix(filepath.Base(configPath), filepath.Ext(configPath))
}

func writeConfig(path string, config lease.Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("make config dir: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(config), 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

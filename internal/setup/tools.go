package setup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// ErrUnsupportedPlatform is returned when wireguard-tools are missing and
// there is no known way to install them on this OS.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

// Tools are the executables tpn shells out to.
var Tools = [...]string{"wg", "wg-quick"}

// Seams for tests.
var (
	lookPath   = exec.LookPath
	goos       = runtime.GOOS
	geteuid    = os.Geteuid
	runCommand = func(ctx context.Context, name string, args ...string) error {
		cmd := exec.CommandContext(ctx, name, args...)
		// Package managers may ask for a password or confirmation.
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stderr
		cmd.Stderr = os.Stderr
		return cmd.Run()
	}
)

// Verify reports every missing tool.
func Verify() error {
	return ensureCommands(Tools[:]...)
}

// EnsureWireGuard makes sure wg and wg-quick are on PATH, installing
// wireguard-tools when they are not.
func EnsureWireGuard(ctx context.Context) error {
	missing := Verify()
	if missing == nil {
		getLogger().Debug("wireguard-tools present")
		return nil
	}

	steps, err := installSteps(goos)
	if err != nil {
		return fmt.Errorf("%w (%s): install wireguard-tools manually: %w", err, goos, missing)
	}

	getLogger().Info("installing wireguard-tools", "reason", missing.Error())
	for _, step := range steps {
		getLogger().Info("running", "command", strings.Join(step, " "))
		if err := runCommand(ctx, step[0], step[1:]...); err != nil {
			return fmt.Errorf("%s: %w", strings.Join(step, " "), err)
		}
	}

	if err := Verify(); err != nil {
		return fmt.Errorf("wireguard-tools still missing after install: %w", err)
	}
	getLogger().Info("wireguard-tools installed")
	return nil
}

func installSteps(platform string) ([][]string, error) {
	switch platform {
	case "linux":
		return [][]string{
			sudo("apt", "update"),
			sudo("apt", "install", "-y", "wireguard-tools"),
		}, nil
	case "darwin":
		return [][]string{{"brew", "install", "wireguard-tools"}}, nil
	default:
		return nil, ErrUnsupportedPlatform
	}
}

func sudo(args ...string) []string {
	if geteuid() == 0 {
		return args
	}
	return append([]string{"sudo"}, args...)
}

func ensureCommands(names ...string) error {
	var errs []error
	for _, name := range names {
		if _, err := lookPath(name); err != nil {
			errs = append(errs, fmt.Errorf("%s not found: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

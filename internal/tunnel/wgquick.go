package tunnel

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/cochaviz/tpn/internal/logging"
)

// runCommand executes an external program and returns its combined output.
// Tests replace it.
var runCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("%s %s: %w (output: %s)", name, strings.Join(args, " "), err, lastLine(output))
	}
	return output, nil
}

// WGQuick manages the interface with the wg-quick script. Its exit status is
// the only success signal.
type WGQuick struct {
	Binary string
	Logger *slog.Logger
}

// NewWGQuick returns a WGQuick using the wg-quick found on PATH.
func NewWGQuick(logger *slog.Logger) *WGQuick {
	return &WGQuick{
		Binary: "wg-quick",
		Logger: logging.Ensure(logger).With("driver", "wg-quick"),
	}
}

func (w *WGQuick) Up(ctx context.Context, configPath string) error {
	return w.run(ctx, "up", configPath)
}

func (w *WGQuick) Down(ctx context.Context, configPath string) error {
	return w.run(ctx, "down", configPath)
}

func (w *WGQuick) run(ctx context.Context, action, configPath string) error {
	binary := strings.TrimSpace(w.Binary)
	if binary == "" {
		binary = "wg-quick"
	}
	logger := logging.Ensure(w.Logger)

	output, err := runCommand(ctx, binary, action, configPath)
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			logger.Debug(line, "action", action)
		}
	}
	return err
}

func lastLine(output []byte) string {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

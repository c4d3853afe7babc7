package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestTextHandlerRendersAttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := NewText(&buf, slog.LevelDebug).With("component", "tunnel").WithGroup("lease")

	logger.Info("activated", "path", "/etc/wireguard/tpn.conf", "minutes", 15.5, "error", errors.New("wg-quick failed"))

	line := buf.String()
	for _, want := range []string{
		"INFO activated",
		"component=tunnel",
		"lease.path=/etc/wireguard/tpn.conf",
		"lease.minutes=15.5",
		`lease.error="wg-quick failed"`,
	} {
		if !strings.Contains(line, want) {
			t.Fatalf("log line %q missing %q", line, want)
		}
	}
	if !strings.HasSuffix(line, "\n") {
		t.Fatalf("log line %q should end with a newline", line)
	}
}

func TestTextHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	var level slog.LevelVar
	level.Set(slog.LevelWarn)
	logger := NewText(&buf, &level)

	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info record written at warn level: %q", buf.String())
	}

	level.Set(slog.LevelDebug)
	logger.Debug("shown")
	if !strings.Contains(buf.String(), "DBG  shown") {
		t.Fatalf("debug record not written after level change: %q", buf.String())
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	New(FormatJSON, &buf, nil).Info("lease granted", "region", "DE")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode json record: %v", err)
	}
	if record["msg"] != "lease granted" || record["region"] != "DE" {
		t.Fatalf("unexpected record: %v", record)
	}
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("Warning")
	if err != nil || level != slog.LevelWarn {
		t.Fatalf("ParseLevel(Warning) = %v, %v", level, err)
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatal("ParseLevel(loud) error = nil, want non-nil")
	}
}

func TestParseFormat(t *testing.T) {
	format, err := ParseFormat("json")
	if err != nil || format != FormatJSON {
		t.Fatalf("ParseFormat(json) = %v, %v", format, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Fatal("ParseFormat(xml) error = nil, want non-nil")
	}
}

func TestSwitchableFollowsFormatChange(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, setFormat := Switchable(FormatText, &buf, slog.LevelInfo)
	derived := logger.With("component", "tunnel")

	derived.Info("first")
	if strings.HasPrefix(buf.String(), "{") {
		t.Fatalf("text output expected, got %q", buf.String())
	}

	buf.Reset()
	setFormat(FormatJSON)
	derived.Info("second")
	out := buf.String()
	if !strings.HasPrefix(out, "{") || !strings.Contains(out, `"component":"tunnel"`) || !strings.Contains(out, `"msg":"second"`) {
		t.Fatalf("json output expected, got %q", out)
	}
}

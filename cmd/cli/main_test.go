package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cochaviz/tpn/internal/logging"
)

func executeRoot(t *testing.T, args ...string) (*slog.LevelVar, error) {
	t.Helper()
	var levelVar slog.LevelVar
	var format logging.Format = -1
	root := newRootCommand(logging.Discard(), &levelVar, func(f logging.Format) { format = f })
	root.SetArgs(args)
	err := root.Execute()
	if err == nil && format < 0 {
		t.Fatal("log format was never applied")
	}
	return &levelVar, err
}

func TestRootAppliesLogFlags(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	levelVar, err := executeRoot(t, "--log-level", "debug", "--log-format", "json", "validators")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if levelVar.Level() != slog.LevelDebug {
		t.Fatalf("level = %v, want debug", levelVar.Level())
	}
}

func TestRootRejectsBadFlags(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if _, err := executeRoot(t, "--log-level", "loud", "validators"); err == nil {
		t.Fatal("unknown log level accepted")
	}
	if _, err := executeRoot(t, "--log-format", "xml", "validators"); err == nil {
		t.Fatal("unknown log format accepted")
	}
}

func TestRootLoadsSettingsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("validators_file: "+filepath.Join(dir, "missing.yaml")+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := executeRoot(t, "--config", path, "validators"); err == nil {
		t.Fatal("validators should fail on the catalog named in the settings file")
	}
}

func TestConnectRejectsNonPositiveMinutes(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if _, err := executeRoot(t, "connect", "--region", "DE", "--minutes", "-1"); err == nil {
		t.Fatal("negative --minutes accepted")
	}
}

func TestValidatorsFlagWarnsAboutPlaceholderCatalog(t *testing.T) {
	root := newRootCommand(logging.Discard(), nil, nil)
	for _, name := range []string{"connect", "validators"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil {
			t.Fatalf("Find(%s) error = %v", name, err)
		}
		flag := cmd.Flags().Lookup("validators")
		if flag == nil || !strings.Contains(flag.Usage, "placeholder") {
			t.Fatalf("%s --validators usage does not mention the placeholder catalog", name)
		}
	}
}

package simple

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/cochaviz/tpn/internal/catalog"
	"github.com/cochaviz/tpn/internal/lease"
	"github.com/cochaviz/tpn/internal/logging"
	"github.com/cochaviz/tpn/internal/session"
	"github.com/cochaviz/tpn/internal/settings"
	"github.com/cochaviz/tpn/internal/tunnel"
)

const leasedConfig = "[Interface]\nAddress = 10.13.0.2/32\n\n[Peer]\nEndpoint = 203.0.113.1:51820\n"

type fakeInterface struct {
	mu    sync.Mutex
	ups   []string
	downs []string
	upped chan string
}

func (f *fakeInterface) Up(_ context.Context, path string) error {
	f.mu.Lock()
	f.ups = append(f.ups, path)
	f.mu.Unlock()
	f.upped <- path
	return nil
}

func (f *fakeInterface) Down(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downs = append(f.downs, path)
	return nil
}

type scriptedPrompter struct {
	regionIndex int
	minutes     float64
	seen        []catalog.Region
}

func (p *scriptedPrompter) Interactive() bool { return true }

func (p *scriptedPrompter) SelectValidator(_ context.Context, v []catalog.Validator) (catalog.Validator, error) {
	return v[0], nil
}

func (p *scriptedPrompter) SelectRegion(_ context.Context, regions []catalog.Region) (catalog.Region, error) {
	p.seen = regions
	return regions[p.regionIndex], nil
}

func (p *scriptedPrompter) AskMinutes(context.Context) (float64, error) { return p.minutes, nil }

func (p *scriptedPrompter) Confirm(context.Context, string) (bool, error) { return true, nil }

type validator struct {
	mu      sync.Mutex
	queries []string
	deny    bool
}

func (v *validator) seen() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.queries...)
}

func (v *validator) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/config/countries", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode([]string{"US", "DE", "JP"})
	})
	mux.HandleFunc("/api/config/new", func(w http.ResponseWriter, r *http.Request) {
		v.mu.Lock()
		v.queries = append(v.queries, r.URL.RawQuery)
		v.mu.Unlock()
		if v.deny {
			http.Error(w, "no capacity in region", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, leasedConfig)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type env struct {
	iface    *fakeInterface
	dir      string
	settings settings.Settings
	signals  chan os.Signal
	ticks    chan time.Time
}

func setupEnv(t *testing.T, srv *httptest.Server) *env {
	t.Helper()
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "validators.yaml")
	doc := fmt.Sprintf("validators:\n  - uid: 7\n    axon: %s\n", srv.URL)
	if err := os.WriteFile(catalogPath, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	s := settings.Default()
	s.PrivilegedDir = ""
	s.FallbackDir = filepath.Join(dir, "out")
	s.ValidatorsFile = catalogPath
	s.StatsInterval = -1

	e := &env{
		iface:    &fakeInterface{upped: make(chan string, 1)},
		dir:      dir,
		settings: s,
		signals:  make(chan os.Signal, 1),
		ticks:    make(chan time.Time),
	}

	origEnsure, origIface, origTicks, origSignals := ensureWireGuard, newInterface, ticks, signals
	ensureWireGuard = func(context.Context) error { return nil }
	newInterface = func(*slog.Logger) tunnel.Interface { return e.iface }
	ticks = e.ticks
	signals = e.signals
	t.Cleanup(func() {
		ensureWireGuard, newInterface, ticks, signals = origEnsure, origIface, origTicks, origSignals
	})
	return e
}

func TestConnectLeasesSelectedRegion(t *testing.T) {
	v := &validator{}
	e := setupEnv(t, v.server(t))
	prompter := &scriptedPrompter{regionIndex: 1, minutes: 15}

	type result struct {
		outcome session.Outcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		outcome, err := Connect(context.Background(), ConnectOptions{
			Settings: e.settings,
			Prompter: prompter,
		}, logging.Discard())
		done <- result{outcome, err}
	}()

	var path string
	select {
	case path = <-e.iface.upped:
	case res := <-done:
		t.Fatalf("Connect() returned before activation: %v", res.err)
	case <-time.After(5 * time.Second):
		t.Fatal("interface never brought up")
	}

	if want := filepath.Join(e.dir, "out", "tpn.conf"); path != want {
		t.Fatalf("up path = %q, want %q", path, want)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != leasedConfig {
		t.Fatalf("config on disk = %q, %v", data, err)
	}
	if len(prompter.seen) != 3 || prompter.seen[1].Name != "Germany" {
		t.Fatalf("regions offered = %v", prompter.seen)
	}
	if q := v.seen(); len(q) != 1 || q[0] != "format=text&geo=DE&lease_minutes=15" {
		t.Fatalf("lease queries = %v", q)
	}

	e.signals <- syscall.SIGTERM
	select {
	case res := <-done:
		if res.err != nil || res.outcome != session.OutcomeTerminated {
			t.Fatalf("Connect() = %v, %v; want terminated", res.outcome, res.err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Connect() did not return after SIGTERM")
	}

	if len(e.iface.ups) != 1 || len(e.iface.downs) != 1 || e.iface.downs[0] != path {
		t.Fatalf("ups = %v, downs = %v", e.iface.ups, e.iface.downs)
	}
}

func TestConnectExpiresLease(t *testing.T) {
	v := &validator{}
	e := setupEnv(t, v.server(t))

	out := &bytes.Buffer{}
	done := make(chan error, 1)
	go func() {
		_, err := Connect(context.Background(), ConnectOptions{
			Region:   "jp",
			Minutes:  0.05,
			Settings: e.settings,
			Prompter: &scriptedPrompter{},
			Output:   out,
		}, logging.Discard())
		done <- err
	}()
	<-e.iface.upped

	// 0.05 minutes is 3 seconds.
	for i := 0; i < 3; i++ {
		e.ticks <- time.Now()
	}
	if err := <-done; err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if len(e.iface.downs) != 1 {
		t.Fatalf("downs = %v, want one", e.iface.downs)
	}
	if q := v.seen(); len(q) != 1 || q[0] != "format=text&geo=JP&lease_minutes=0.05" {
		t.Fatalf("lease queries = %v", q)
	}
	if !strings.Contains(out.String(), "address=10.13.0.2/32 endpoint=203.0.113.1:51820") {
		t.Fatalf("status line lacks the configuration summary:\n%s", out.String())
	}
}

func TestConnectDeniedLeaseWritesNothing(t *testing.T) {
	v := &validator{deny: true}
	e := setupEnv(t, v.server(t))

	_, err := Connect(context.Background(), ConnectOptions{
		Region:   "DE",
		Minutes:  15,
		Settings: e.settings,
		Prompter: &scriptedPrompter{},
	}, logging.Discard())

	if !errors.Is(err, lease.ErrLeaseDenied) {
		t.Fatalf("Connect() error = %v, want ErrLeaseDenied", err)
	}
	if _, statErr := os.Stat(filepath.Join(e.dir, "out")); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("configuration directory created after denial: %v", statErr)
	}
	if len(e.iface.ups) != 0 {
		t.Fatal("interface brought up after denial")
	}
}

func TestConnectUnknownRegion(t *testing.T) {
	v := &validator{}
	e := setupEnv(t, v.server(t))

	_, err := Connect(context.Background(), ConnectOptions{
		Region:   "FR",
		Minutes:  15,
		Settings: e.settings,
		Prompter: &scriptedPrompter{},
	}, logging.Discard())
	if !errors.Is(err, catalog.ErrUnknownRegion) {
		t.Fatalf("Connect() error = %v, want ErrUnknownRegion", err)
	}
	if len(v.seen()) != 0 {
		t.Fatal("lease requested for a region the validator does not offer")
	}
}

func TestConnectCancelledBeforeActivation(t *testing.T) {
	v := &validator{}
	e := setupEnv(t, v.server(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Connect(ctx, ConnectOptions{
		Region:   "DE",
		Minutes:  15,
		Settings: e.settings,
		Prompter: &scriptedPrompter{},
	}, logging.Discard())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Connect() error = %v, want context.Canceled", err)
	}
	if len(e.iface.ups) != 0 {
		t.Fatal("interface brought up after cancellation")
	}
}

func TestRegionsAndValidators(t *testing.T) {
	v := &validator{}
	e := setupEnv(t, v.server(t))

	regions, err := Regions(context.Background(), "7", e.settings, logging.Discard())
	if err != nil {
		t.Fatalf("Regions() error = %v", err)
	}
	if len(regions) != 3 || regions[2].Name != "Japan" {
		t.Fatalf("Regions() = %v", regions)
	}
	if _, err := Regions(context.Background(), "99", e.settings, logging.Discard()); !errors.Is(err, catalog.ErrUnknownValidator) {
		t.Fatalf("Regions(99) error = %v, want ErrUnknownValidator", err)
	}

	validators, err := Validators(e.settings.ValidatorsFile)
	if err != nil || len(validators) != 1 || validators[0].ID != "7" {
		t.Fatalf("Validators() = %v, %v", validators, err)
	}
	if defaults, err := Validators(""); err != nil || len(defaults) == 0 {
		t.Fatalf("Validators(\"\") = %v, %v", defaults, err)
	}
}

func TestSetupClearsLeftoverConfig(t *testing.T) {
	v := &validator{}
	e := setupEnv(t, v.server(t))

	leftover := filepath.Join(e.settings.FallbackDir, "tpn.conf")
	if err := os.MkdirAll(filepath.Dir(leftover), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(leftover, []byte(leasedConfig), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := Setup(context.Background(), true, e.settings); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if _, err := os.Stat(leftover); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("leftover configuration not removed: %v", err)
	}
}

func TestProbeValidators(t *testing.T) {
	v := &validator{}
	srv := v.server(t)
	e := setupEnv(t, srv)

	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()
	doc := fmt.Sprintf("validators:\n  - uid: 7\n    axon: %s\n  - uid: 8\n    axon: %s\n", srv.URL, dead.URL)
	if err := os.WriteFile(e.settings.ValidatorsFile, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	statuses, err := ProbeValidators(context.Background(), e.settings, logging.Discard())
	if err != nil {
		t.Fatalf("ProbeValidators() error = %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("got %d statuses, want 2", len(statuses))
	}
	if statuses[0].Err != nil || statuses[0].Regions != 3 {
		t.Fatalf("live validator status = %+v", statuses[0])
	}
	if !errors.Is(statuses[1].Err, lease.ErrUnreachableValidator) {
		t.Fatalf("dead validator error = %v, want ErrUnreachableValidator", statuses[1].Err)
	}
}

package simple

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cochaviz/tpn/internal/catalog"
	"github.com/cochaviz/tpn/internal/console"
	"github.com/cochaviz/tpn/internal/interrupt"
	"github.com/cochaviz/tpn/internal/lease"
	"github.com/cochaviz/tpn/internal/logging"
	"github.com/cochaviz/tpn/internal/session"
	"github.com/cochaviz/tpn/internal/settings"
	"github.com/cochaviz/tpn/internal/setup"
	"github.com/cochaviz/tpn/internal/timer"
	"github.com/cochaviz/tpn/internal/tunnel"
)

// Prompter asks the user for whatever was not given on the command line.
type Prompter interface {
	Interactive() bool
	SelectValidator(ctx context.Context, validators []catalog.Validator) (catalog.Validator, error)
	SelectRegion(ctx context.Context, regions []catalog.Region) (catalog.Region, error)
	AskMinutes(ctx context.Context) (float64, error)
	interrupt.Confirmer
}

// Display shows the countdown while the lease is held.
type Display interface {
	timer.Reporter
	ShowStats(stats tunnel.Stats)
	Finish()
}

// ConnectOptions are the per-invocation inputs of Connect. Zero values are
// prompted for.
type ConnectOptions struct {
	ValidatorID string
	Region      string
	Minutes     float64
	// AssumeYes tears down on the first interrupt without asking.
	AssumeYes bool

	Settings settings.Settings
	Prompter Prompter
	Display  Display
	// Output receives the tunnel status line. Nil writes to stderr.
	Output io.Writer
}

// Seams replaced in tests.
var (
	ensureWireGuard = setup.EnsureWireGuard
	newInterface    = func(logger *slog.Logger) tunnel.Interface { return tunnel.NewWGQuick(logger) }
	ticks           <-chan time.Time
	signals         chan os.Signal
)

// Connect runs one lease from start to finish: it picks a validator, region
// and duration, obtains a configuration, brings the tunnel up, holds it until
// the lease expires or the user cancels, and tears it down.
//
// An interrupt before the tunnel is up aborts with context.Canceled and
// leaves nothing behind.
func Connect(ctx context.Context, opts ConnectOptions, logger *slog.Logger) (session.Outcome, error) {
	logger = logging.Ensure(logger).With("component", "config.simple")
	if err := opts.Settings.Validate(); err != nil {
		return 0, fmt.Errorf("settings: %w", err)
	}
	if opts.Prompter == nil {
		opts.Prompter = console.Stdio()
	}

	// Until the tunnel is up an interrupt simply cancels whatever is in
	// flight.
	reqCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ensureWireGuard(reqCtx); err != nil {
		return 0, err
	}

	validator, err := pickValidator(reqCtx, opts, opts.Settings.ValidatorsFile)
	if err != nil {
		return 0, err
	}
	logger = logger.With("validator", validator.ID)

	client := lease.NewClient(
		lease.WithTimeout(opts.Settings.RequestTimeout),
		lease.WithLogger(logger),
	)

	codes, err := client.ListRegions(reqCtx, validator.Endpoint)
	if err != nil {
		return 0, err
	}
	region, err := pickRegion(reqCtx, opts, codes)
	if err != nil {
		return 0, err
	}

	minutes := opts.Minutes
	if minutes == 0 {
		if minutes, err = opts.Prompter.AskMinutes(reqCtx); err != nil {
			return 0, fmt.Errorf("lease length: %w", err)
		}
	}
	req := lease.Request{Region: region, DurationMinutes: minutes}
	if err := req.Validate(); err != nil {
		return 0, err
	}

	logger.Info("requesting lease", "region", region, "minutes", minutes)
	config, err := client.Request(reqCtx, validator.Endpoint, req)
	if err != nil {
		return 0, err
	}

	controller := tunnel.NewController(newInterface(logger), opts.Settings.PathPolicy(), logger)
	active, err := controller.Activate(reqCtx, config)
	if err != nil {
		return 0, err
	}
	defer controller.Teardown(context.WithoutCancel(ctx), active)

	// From here on signals go to the session loop. Subscribe before
	// releasing the context so none is dropped in between.
	sigCh := signals
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}
	interrupted := reqCtx.Err() != nil
	stop()
	if interrupted {
		logger.Info("interrupted during activation; tearing down")
		return session.OutcomeTerminated, errors.Join(context.Canceled, controller.Teardown(ctx, active))
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	fmt.Fprintf(out, "Tunnel up on %s via %s (%s) for %g minutes. Ctrl+C to stop.\n",
		active.Interface, validator, catalog.RegionName(region), minutes)
	if summary := tunnel.Describe(config).String(); summary != "" {
		fmt.Fprintf(out, "  %s\n", summary)
	}

	cfg := session.Config{
		Session:        active,
		Controller:     controller,
		ConfirmTimeout: opts.Settings.ConfirmTimeout,
		StatsInterval:  opts.Settings.StatsInterval,
		Ticks:          ticks,
		Signals:        sigCh,
		Logger:         logger,
	}
	if !opts.AssumeYes {
		cfg.Confirmer = opts.Prompter
	}
	if opts.Display != nil {
		cfg.Reporter = opts.Display
		cfg.OnStats = opts.Display.ShowStats
		defer opts.Display.Finish()
	}

	outcome, err := session.NewRunner(cfg).Run(ctx, req.TotalSeconds())
	if err != nil && errors.Is(err, tunnel.ErrTeardownFailed) {
		// The session is over either way; exit cleanly.
		logger.Warn("lease ended with a failed teardown", "outcome", outcome, "error", err)
		return outcome, nil
	}
	logger.Info("lease ended", "outcome", outcome)
	return outcome, err
}

// Regions lists the regions a validator offers.
func Regions(ctx context.Context, validatorID string, s settings.Settings, logger *slog.Logger) ([]catalog.Region, error) {
	logger = logging.Ensure(logger).With("component", "config.simple")
	cat, err := catalog.Load(s.ValidatorsFile)
	if err != nil {
		return nil, err
	}
	validator := cat.All()[0]
	if validatorID != "" {
		if validator, err = cat.Lookup(validatorID); err != nil {
			return nil, err
		}
	}
	client := lease.NewClient(lease.WithTimeout(s.RequestTimeout), lease.WithLogger(logger))
	codes, err := client.ListRegions(ctx, validator.Endpoint)
	if err != nil {
		return nil, err
	}
	return catalog.Regions(codes), nil
}

// Validators lists the configured validator catalog.
func Validators(path string) ([]catalog.Validator, error) {
	cat, err := catalog.Load(path)
	if err != nil {
		return nil, err
	}
	return cat.All(), nil
}

// ValidatorStatus is the result of probing one validator.
type ValidatorStatus struct {
	Validator catalog.Validator
	Regions   int
	Err       error
}

const probeConcurrency = 4

// ProbeValidators asks every validator in the catalog for its region list
// and reports which ones answer. Failures are recorded per validator.
func ProbeValidators(ctx context.Context, s settings.Settings, logger *slog.Logger) ([]ValidatorStatus, error) {
	logger = logging.Ensure(logger).With("component", "config.simple")
	validators, err := Validators(s.ValidatorsFile)
	if err != nil {
		return nil, err
	}
	client := lease.NewClient(lease.WithTimeout(s.RequestTimeout), lease.WithLogger(logger))

	statuses := make([]ValidatorStatus, len(validators))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(probeConcurrency)
	for i, v := range validators {
		i, v := i, v
		g.Go(func() error {
			codes, err := client.ListRegions(gctx, v.Endpoint)
			statuses[i] = ValidatorStatus{Validator: v, Regions: len(codes), Err: err}
			if err != nil {
				logger.Debug("validator probe failed", "validator", v.ID, "error", err)
			}
			return nil
		})
	}
	g.Wait()
	if err := ctx.Err(); err != nil {
		return statuses, err
	}
	return statuses, nil
}

// Setup prepares the host. With clear set it also removes configuration
// files left behind by earlier runs.
func Setup(ctx context.Context, clear bool, s settings.Settings) error {
	if err := ensureWireGuard(ctx); err != nil {
		return err
	}
	if !clear {
		return nil
	}
	paths, err := s.PathPolicy().Candidates()
	if err != nil {
		return err
	}
	return setup.ClearConfig(paths...)
}

func pickValidator(ctx context.Context, opts ConnectOptions, catalogPath string) (catalog.Validator, error) {
	cat, err := catalog.Load(catalogPath)
	if err != nil {
		return catalog.Validator{}, err
	}
	if opts.ValidatorID != "" {
		return cat.Lookup(opts.ValidatorID)
	}
	validator, err := opts.Prompter.SelectValidator(ctx, cat.All())
	if err != nil {
		return catalog.Validator{}, fmt.Errorf("validator: %w", err)
	}
	return validator, nil
}

func pickRegion(ctx context.Context, opts ConnectOptions, codes []string) (string, error) {
	if opts.Region != "" {
		return catalog.ResolveRegion(codes, opts.Region)
	}
	region, err := opts.Prompter.SelectRegion(ctx, catalog.Regions(codes))
	if err != nil {
		return "", fmt.Errorf("region: %w", err)
	}
	return region.Code, nil
}

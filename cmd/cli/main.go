package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	simple "github.com/cochaviz/tpn/config"
	"github.com/cochaviz/tpn/internal/console"
	"github.com/cochaviz/tpn/internal/logging"
	"github.com/cochaviz/tpn/internal/settings"
	"github.com/cochaviz/tpn/internal/setup"
)

const (
	defaultLogLevel  = "info"
	defaultLogFormat = "text"
)

func main() {
	var levelVar slog.LevelVar
	levelVar.Set(slog.LevelInfo)

	logger, setFormat := logging.Switchable(logging.FormatText, os.Stderr, &levelVar)
	slog.SetDefault(logger)

	// No process-wide signal context: once the tunnel is up, interrupts
	// belong to the session loop.
	root := newRootCommand(logger, &levelVar, setFormat)
	if err := root.ExecuteContext(context.Background()); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("command interrupted", "error", err)
			os.Exit(130)
		}
		logger.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func newRootCommand(logger *slog.Logger, levelVar *slog.LevelVar, setFormat func(logging.Format)) *cobra.Command {
	setup.SetLogger(logger.With("component", "setup"))

	var (
		logLevel   = defaultLogLevel
		logFormat  = defaultLogFormat
		configPath string
		cfg        = settings.Default()
	)

	root := &cobra.Command{
		Use:           "tpn",
		Short:         "Lease a WireGuard tunnel from a TPN validator for a fixed time",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", defaultLogLevel, "Set log verbosity (debug, info, warning, error)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", defaultLogFormat, "Log output format (text, json)")
	root.PersistentFlags().StringVar(&configPath, "config", "", "Settings file (default $XDG_CONFIG_HOME/tpn/config.yaml)")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := logging.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		if levelVar != nil {
			levelVar.Set(level)
		}
		format, err := logging.ParseFormat(logFormat)
		if err != nil {
			return err
		}
		if setFormat != nil {
			setFormat(format)
		}

		loaded, err := settings.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	}

	current := func() settings.Settings { return cfg }

	root.AddCommand(
		newConnectCommand(logger, current),
		newRegionsCommand(logger, current),
		newValidatorsCommand(logger, current),
		newSetupCommand(logger, current),
	)
	return root
}

func verifySetup(logger *slog.Logger) error {
	logger = logger.With("action", "verify_setup")
	if err := setup.Verify(); err != nil {
		logger.Warn("wireguard-tools missing; attempting install", "error", err)
		logger.Info("run 'tpn setup' to install them ahead of time")
		return err
	}
	logger.Debug("setup verification succeeded")
	return nil
}

func newConnectCommand(logger *slog.Logger, current func() settings.Settings) *cobra.Command {
	var (
		validatorID    string
		region         string
		minutes        float64
		validatorsFile string
		timeout        time.Duration
		assumeYes      bool
	)

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Lease a tunnel and hold it until the lease expires or you stop it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdLogger := logger.With("command", "connect")

			s := current()
			if cmd.Flags().Changed("validators") {
				s.ValidatorsFile = validatorsFile
			}
			if cmd.Flags().Changed("timeout") {
				s.RequestTimeout = timeout
			}
			if cmd.Flags().Changed("minutes") && minutes <= 0 {
				return fmt.Errorf("--minutes must be positive, got %g", minutes)
			}

			// Missing tools are installed by Connect; this only explains why.
			verifySetup(cmdLogger)

			prompter := console.Stdio()
			if (region == "" || minutes == 0) && !prompter.Interactive() {
				return fmt.Errorf("--region and --minutes are required when input is not a terminal: %w", console.ErrNotInteractive)
			}

			outcome, err := simple.Connect(cmd.Context(), simple.ConnectOptions{
				ValidatorID: validatorID,
				Region:      region,
				Minutes:     minutes,
				AssumeYes:   assumeYes,
				Settings:    s,
				Prompter:    prompter,
				Display:     console.NewProgress(os.Stderr, console.IsTerminal(os.Stderr)),
			}, cmdLogger)
			if err != nil {
				cmdLogger.Error("connect failed", "error", err)
				return err
			}
			cmdLogger.Info("done", "outcome", outcome)
			return nil
		},
	}

	cmd.Flags().StringVarP(&validatorID, "validator", "v", "", "Validator uid (prompted when omitted and several are known)")
	cmd.Flags().StringVarP(&region, "region", "r", "", "Exit region code or name, e.g. DE or Germany (prompted when omitted)")
	cmd.Flags().Float64VarP(&minutes, "minutes", "m", 0, "Lease length in minutes, fractions allowed (prompted when omitted)")
	cmd.Flags().StringVar(&validatorsFile, "validators", "", "Validator catalog YAML file (the built-in catalog only holds placeholder addresses)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Per-request timeout for validator calls (default from settings)")
	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Tear down on Ctrl+C without asking")

	return cmd
}

func newRegionsCommand(logger *slog.Logger, current func() settings.Settings) *cobra.Command {
	var validatorID string

	cmd := &cobra.Command{
		Use:   "regions",
		Short: "List the exit regions a validator offers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdLogger := logger.With("command", "regions")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			regions, err := simple.Regions(ctx, validatorID, current(), cmdLogger)
			if err != nil {
				cmdLogger.Error("listing regions failed", "error", err)
				return err
			}
			if len(regions) == 0 {
				cmdLogger.Warn("validator offers no regions")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			for _, region := range regions {
				fmt.Fprintf(w, "%s\t%s\n", region.Code, region.Name)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&validatorID, "validator", "v", "", "Validator uid (default: first in catalog)")

	return cmd
}

func newValidatorsCommand(logger *slog.Logger, current func() settings.Settings) *cobra.Command {
	var (
		validatorsFile string
		probe          bool
	)

	cmd := &cobra.Command{
		Use:   "validators",
		Short: "List known validators",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdLogger := logger.With("command", "validators")

			s := current()
			if cmd.Flags().Changed("validators") {
				s.ValidatorsFile = validatorsFile
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			if !probe {
				validators, err := simple.Validators(s.ValidatorsFile)
				if err != nil {
					cmdLogger.Error("loading validators failed", "error", err)
					return err
				}
				for _, v := range validators {
					fmt.Fprintf(w, "%s\t%s\n", v.ID, v.Endpoint)
				}
				return w.Flush()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			statuses, err := simple.ProbeValidators(ctx, s, cmdLogger)
			if err != nil {
				cmdLogger.Error("probing validators failed", "error", err)
				return err
			}
			for _, st := range statuses {
				status := fmt.Sprintf("%d regions", st.Regions)
				if st.Err != nil {
					status = "unreachable: " + st.Err.Error()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", st.Validator.ID, st.Validator.Endpoint, status)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&validatorsFile, "validators", "", "Validator catalog YAML file (the built-in catalog only holds placeholder addresses)")
	cmd.Flags().BoolVar(&probe, "probe", false, "Ask each validator for its regions and report which ones answer")

	return cmd
}

func newSetupCommand(logger *slog.Logger, current func() settings.Settings) *cobra.Command {
	var clearConfig bool

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Install wireguard-tools if they are missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdLogger := logger.With("command", "setup")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := setup.Verify(); err == nil && !clearConfig {
				cmdLogger.Info("system already configured", "hint", "use 'tpn setup --clear' to remove leftover configuration files")
				return nil
			}

			if err := simple.Setup(ctx, clearConfig, current()); err != nil {
				cmdLogger.Error("setup failed", "error", err)
				return fmt.Errorf("setup: %w", err)
			}
			cmdLogger.Info("setup completed")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&clearConfig, "clear", "C", false, "Also remove configuration files left by earlier runs")

	return cmd
}

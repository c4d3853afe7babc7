// Package session drives an active lease: one event loop owns the countdown,
// signal handling, cancellation decisions and the final teardown.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cochaviz/tpn/internal/interrupt"
	"github.com/cochaviz/tpn/internal/logging"
	"github.com/cochaviz/tpn/internal/timer"
	"github.com/cochaviz/tpn/internal/tunnel"
)

// DefaultStatsInterval is how many counted ticks pass between stats polls.
const DefaultStatsInterval = 30

// Outcome is how a lease ended.
type Outcome int

const (
	OutcomeExpired Outcome = iota + 1
	OutcomeCancelled
	OutcomeTerminated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeExpired:
		return "expired"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Controller is what the runner needs from tunnel.Controller.
type Controller interface {
	Teardown(ctx context.Context, session *tunnel.Session) error
	Stats(session *tunnel.Session) (tunnel.Stats, error)
}

// Config wires a Runner.
type Config struct {
	Session    *tunnel.Session
	Controller Controller

	// Reporter receives countdown progress. May be nil.
	Reporter timer.Reporter
	// Confirmer is asked before a user-requested teardown. Nil tears down
	// without asking.
	Confirmer      interrupt.Confirmer
	ConfirmTimeout time.Duration

	// StatsInterval is in counted ticks; zero uses DefaultStatsInterval and
	// a negative value disables polling.
	StatsInterval int
	OnStats       func(tunnel.Stats)

	// Ticks and Signals replace the wall-clock ticker and OS signal
	// subscription when set.
	Ticks   <-chan time.Time
	Signals <-chan os.Signal

	Logger *slog.Logger
}

// Runner holds one lease until it expires, is cancelled or is terminated.
type Runner struct {
	cfg         Config
	logger      *slog.Logger
	timer       *timer.Timer
	coordinator *interrupt.Coordinator
}

// NewRunner builds a Runner for an already active session.
func NewRunner(cfg Config) *Runner {
	if cfg.StatsInterval == 0 {
		cfg.StatsInterval = DefaultStatsInterval
	}
	logger := logging.Ensure(cfg.Logger).With("component", "session")
	if cfg.Session != nil {
		logger = logger.With("session", cfg.Session.ID)
	}
	tm := timer.New(cfg.Reporter)
	return &Runner{
		cfg:    cfg,
		logger: logger,
		timer:  tm,
		coordinator: interrupt.New(interrupt.Config{
			Session:        cfg.Session,
			Controller:     cfg.Controller,
			Countdown:      tm,
			Confirmer:      cfg.Confirmer,
			ConfirmTimeout: cfg.ConfirmTimeout,
			Logger:         cfg.Logger,
		}),
	}
}

// Run counts the lease down from totalSeconds and returns once the tunnel
// has been torn down. The returned error only reports a failed teardown or
// invalid input; the outcome says why the lease ended.
func (r *Runner) Run(ctx context.Context, totalSeconds int) (Outcome, error) {
	if r.cfg.Session == nil || r.cfg.Controller == nil {
		return 0, fmt.Errorf("runner needs an active session and a controller")
	}

	ticks := r.cfg.Ticks
	if ticks == nil {
		ticker := time.NewTicker(timer.Interval)
		defer ticker.Stop()
		ticks = ticker.C
	}
	signals := r.cfg.Signals
	if signals == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		signals = ch
	}

	// Whatever path leaves the loop, the interface goes down. Teardown is
	// idempotent, so the explicit calls below make this a no-op.
	defer r.cfg.Controller.Teardown(context.WithoutCancel(ctx), r.cfg.Session)

	if err := r.timer.Start(totalSeconds); err != nil {
		if tdErr := r.cfg.Controller.Teardown(ctx, r.cfg.Session); tdErr != nil {
			r.logger.Warn("teardown after invalid lease length failed", "error", tdErr)
		}
		return OutcomeTerminated, err
	}
	r.cfg.Session.Track(totalSeconds)
	r.coordinator.Arm()
	r.logger.Info("lease started", "seconds", totalSeconds)

	for {
		select {
		case <-ticks:
			if r.tick() {
				return r.expire(ctx)
			}

		case <-r.timer.Expired():
			return r.expire(ctx)

		case sig := <-signals:
			if sig == syscall.SIGTERM {
				r.logger.Info("terminated; tearing down", "signal", sig.String())
				return OutcomeTerminated, r.coordinator.Force(ctx)
			}
			r.coordinator.Request(ctx)

		case decision := <-r.coordinator.Decisions():
			outcome, err := r.coordinator.Resolve(ctx, decision)
			if outcome == interrupt.OutcomeTornDown {
				return OutcomeCancelled, err
			}

		case <-ctx.Done():
			r.logger.Info("context done; tearing down", "reason", context.Cause(ctx))
			return OutcomeTerminated, r.coordinator.Force(context.WithoutCancel(ctx))
		}
	}
}

// tick counts one second and reports whether the lease expired with it.
func (r *Runner) tick() bool {
	done := r.timer.Tick()
	elapsed := r.timer.Elapsed()
	r.cfg.Session.Advance(elapsed)

	if r.cfg.StatsInterval > 0 && r.cfg.OnStats != nil && !r.timer.Paused() &&
		elapsed > 0 && elapsed%r.cfg.StatsInterval == 0 && !done {
		r.pollStats()
	}
	return done
}

func (r *Runner) pollStats() {
	stats, err := r.cfg.Controller.Stats(r.cfg.Session)
	if err != nil {
		r.logger.Debug("interface stats unavailable", "error", err)
		return
	}
	r.cfg.OnStats(stats)
}

func (r *Runner) expire(ctx context.Context) (Outcome, error) {
	r.coordinator.Disarm()
	r.logger.Info("lease expired; tearing down", "seconds", r.timer.Total())
	return OutcomeExpired, r.cfg.Controller.Teardown(ctx, r.cfg.Session)
}

// Package interrupt arbitrates user cancellation of an active lease: one
// confirmation at a time, and at most one teardown.
package interrupt

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cochaviz/tpn/internal/logging"
	"github.com/cochaviz/tpn/internal/tunnel"
)

const DefaultConfirmTimeout = 30 * time.Second

// State of the coordinator.
type State int

const (
	StateDisarmed State = iota
	StateArmed
	StateHandling
	StateDone
)

func (s State) String() string {
	switch s {
	case StateDisarmed:
		return "disarmed"
	case StateArmed:
		return "armed"
	case StateHandling:
		return "handling"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Outcome is what resolving a decision led to.
type Outcome int

const (
	OutcomeIgnored Outcome = iota
	OutcomeResumed
	OutcomeTornDown
)

// Countdown is the part of the lease timer the coordinator drives.
type Countdown interface {
	Pause() int
	Resume(elapsed int)
}

// Controller tears a session down. Repeated calls must be no-ops.
type Controller interface {
	Teardown(ctx context.Context, session *tunnel.Session) error
}

// Confirmer asks the user whether to tear the tunnel down.
type Confirmer interface {
	Confirm(ctx context.Context, question string) (bool, error)
}

// ConfirmerFunc adapts a function to Confirmer.
type ConfirmerFunc func(ctx context.Context, question string) (bool, error)

func (f ConfirmerFunc) Confirm(ctx context.Context, question string) (bool, error) {
	return f(ctx, question)
}

// Decision is the user's answer to a teardown confirmation.
type Decision struct {
	Confirmed bool
	Err       error
}

// Config wires a Coordinator to its collaborators.
type Config struct {
	Session        *tunnel.Session
	Controller     Controller
	Countdown      Countdown
	Confirmer      Confirmer
	ConfirmTimeout time.Duration
	Logger         *slog.Logger
}

// Coordinator serialises cancellation requests. It starts disarmed and only
// accepts requests once Arm has been called after activation.
type Coordinator struct {
	cfg       Config
	logger    *slog.Logger
	decisions chan Decision

	mu       sync.Mutex
	state    State
	pausedAt int
}

const question = "Tear down the tunnel now?"

// New builds a disarmed Coordinator.
func New(cfg Config) *Coordinator {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = DefaultConfirmTimeout
	}
	return &Coordinator{
		cfg:       cfg,
		logger:    logging.Ensure(cfg.Logger).With("component", "interrupt"),
		decisions: make(chan Decision, 1),
	}
}

// Arm starts accepting cancellation requests.
func (c *Coordinator) Arm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisarmed {
		c.state = StateArmed
	}
}

// Disarm stops accepting requests for good, e.g. once the lease expired.
func (c *Coordinator) Disarm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateDone
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Decisions delivers the answer to the confirmation started by Request.
func (c *Coordinator) Decisions() <-chan Decision {
	return c.decisions
}

// Request handles a cancellation request. Unless the coordinator is armed
// the request is dropped. Otherwise the countdown is paused and the user is
// asked for confirmation in the background; the answer arrives on
// Decisions and must be passed to Resolve.
func (c *Coordinator) Request(ctx context.Context) bool {
	c.mu.Lock()
	if c.state != StateArmed {
		state := c.state
		c.mu.Unlock()
		c.logger.Debug("cancellation request ignored", "state", state)
		return false
	}
	c.state = StateHandling
	if c.cfg.Countdown != nil {
		c.pausedAt = c.cfg.Countdown.Pause()
	}
	pausedAt := c.pausedAt
	c.mu.Unlock()

	c.logger.Debug("cancellation requested; countdown paused", "elapsed", pausedAt)

	go func() {
		confirmCtx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
		defer cancel()
		decision := Decision{}
		if c.cfg.Confirmer == nil {
			decision.Confirmed = true
		} else {
			decision.Confirmed, decision.Err = c.cfg.Confirmer.Confirm(confirmCtx, question)
		}
		c.decisions <- decision
	}()
	return true
}

// Resolve applies a confirmation answer. A confirmed answer tears the
// session down; a declined one resumes the countdown from where it was
// paused and re-arms the coordinator. An unanswered prompt counts as
// declined; any other prompt failure counts as confirmed, since the user
// did ask to stop.
func (c *Coordinator) Resolve(ctx context.Context, decision Decision) (Outcome, error) {
	c.mu.Lock()
	if c.state != StateHandling {
		c.mu.Unlock()
		return OutcomeIgnored, nil
	}

	confirmed := decision.Confirmed
	if decision.Err != nil {
		confirmed = !errors.Is(decision.Err, context.DeadlineExceeded)
		c.logger.Warn("confirmation prompt failed", "error", decision.Err, "teardown", confirmed)
	}

	if !confirmed {
		c.state = StateArmed
		pausedAt := c.pausedAt
		c.mu.Unlock()
		if c.cfg.Countdown != nil {
			c.cfg.Countdown.Resume(pausedAt)
		}
		c.logger.Info("teardown declined; lease countdown resumed", "elapsed", pausedAt)
		return OutcomeResumed, nil
	}

	c.state = StateDone
	c.mu.Unlock()
	c.logger.Info("teardown confirmed")
	return OutcomeTornDown, c.teardown(ctx)
}

// Force tears the session down without asking, e.g. on SIGTERM.
func (c *Coordinator) Force(ctx context.Context) error {
	c.mu.Lock()
	c.state = StateDone
	c.mu.Unlock()
	return c.teardown(ctx)
}

func (c *Coordinator) teardown(ctx context.Context) error {
	if c.cfg.Controller == nil {
		return nil
	}
	return c.cfg.Controller.Teardown(ctx, c.cfg.Session)
}

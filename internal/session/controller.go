package session

import (
	"context"
	"log/slog"
	"sync"
)

// TerminationState tracks where a session is in its two-phase shutdown.
// It only ever advances forward.
type TerminationState string

const (
	StateActive        TerminationState = "ACTIVE"
	StateGoodbyeIssued TerminationState = "GOODBYE_ISSUED"
	StateTerminated    TerminationState = "TERMINATED"
)

// Wrap-up window as a percentage of configured duration. The signal
// fires on the first time update landing inside [start, end); it never
// fires retroactively once the window has been overshot.
const (
	wrapUpWindowStart = 80.0
	wrapUpWindowEnd   = 85.0
)

const terminatedMessage = "Interview session ended."

// Transport is the opaque session transport handle. It is owned
// exclusively by the Controller and released exactly once.
type Transport interface {
	// Greet triggers the one-shot initial greeting turn.
	Greet(ctx context.Context, instruction string) error
	// Notify pushes a control event (e.g. "wrap_up") to the hosting runtime.
	Notify(ctx context.Context, event string) error
	// Disconnect tears the session transport down. Must tolerate being
	// called on an already-closed transport.
	Disconnect(ctx context.Context) error
}

// Controller owns the session clock and the termination state machine.
// Time updates may arrive concurrently with an in-flight model turn;
// clock and wrap-up flag mutate together under one mutex, and no
// transport I/O happens while it is held.
type Controller struct {
	mu              sync.Mutex
	elapsedSeconds  int
	durationSeconds int
	wrapUpSent      bool
	state           TerminationState
	finalOutcome    string

	transport  Transport
	disconnect sync.Once
	logger     *slog.Logger
}

// NewController creates a Controller for a session of the given duration.
func NewController(durationSeconds int, transport Transport, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		durationSeconds: durationSeconds,
		state:           StateActive,
		transport:       transport,
		logger:          logger,
	}
}

// HandleTimeUpdate records an elapsed-time signal from the transport.
// Values are accepted as delivered; out-of-order or decreasing elapsed
// values are not rejected. Returns true when this update fired the
// one-shot wrap-up signal.
func (c *Controller) HandleTimeUpdate(ctx context.Context, elapsedSeconds int) bool {
	c.mu.Lock()
	c.elapsedSeconds = elapsedSeconds
	pct := c.percentageLocked()
	fire := !c.wrapUpSent && pct >= wrapUpWindowStart && pct < wrapUpWindowEnd
	if fire {
		c.wrapUpSent = true
	}
	c.mu.Unlock()

	c.logger.Debug("time update", "elapsed_s", elapsedSeconds, "percent", pct)

	if fire {
		c.logger.Info("interview at 80% of duration, signalling wrap-up", "elapsed_s", elapsedSeconds)
		if err := c.transport.Notify(ctx, "wrap_up"); err != nil {
			c.logger.Warn("wrap-up notification failed", "error", err)
		}
	}
	return fire
}

// Percentage returns elapsed time as a percentage of duration.
func (c *Controller) Percentage() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.percentageLocked()
}

func (c *Controller) percentageLocked() float64 {
	if c.durationSeconds <= 0 {
		return 0
	}
	return float64(c.elapsedSeconds) / float64(c.durationSeconds) * 100
}

// Elapsed returns the last reported elapsed seconds.
func (c *Controller) Elapsed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsedSeconds
}

// WrapUpSent reports whether the one-shot wrap-up signal has fired.
func (c *Controller) WrapUpSent() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wrapUpSent
}

// State returns the current termination state.
func (c *Controller) State() TerminationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// MarkGoodbye records that the model's turn contained a closing remark.
// Advances ACTIVE to GOODBYE_ISSUED; any later state is left alone.
func (c *Controller) MarkGoodbye() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateActive {
		c.state = StateGoodbyeIssued
	}
}

// Terminate advances the session to TERMINATED and disconnects the
// transport. Disconnection is best-effort: a failure is folded into the
// returned advisory text, never re-raised, and the state advances
// regardless. Once TERMINATED, repeat calls return the original outcome
// without touching the transport again.
func (c *Controller) Terminate(ctx context.Context) string {
	c.mu.Lock()
	if c.state == StateTerminated {
		outcome := c.finalOutcome
		c.mu.Unlock()
		return outcome
	}
	c.state = StateTerminated
	c.finalOutcome = terminatedMessage
	c.mu.Unlock()

	outcome := terminatedMessage
	c.disconnect.Do(func() {
		if err := c.transport.Disconnect(ctx); err != nil {
			c.logger.Error("transport disconnect failed", "error", err)
			outcome = "Interview concluded, but the session transport could not be closed cleanly."
		}
	})

	c.mu.Lock()
	c.finalOutcome = outcome
	c.mu.Unlock()

	c.logger.Info("interview terminated")
	return outcome
}

// Release closes the transport without advancing termination state. It
// covers abnormal session teardown; together with Terminate it
// guarantees the transport is released exactly once.
func (c *Controller) Release(ctx context.Context) {
	c.disconnect.Do(func() {
		if err := c.transport.Disconnect(ctx); err != nil {
			c.logger.Warn("transport release failed", "error", err)
		}
	})
}

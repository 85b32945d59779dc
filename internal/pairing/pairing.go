// Package pairing drives the link-button handshake with a bridge.
//
// The bridge only issues a username during the short window after its
// physical link button was pressed, so pairing polls until the bridge accepts,
// reports a terminal error, or the configured deadline passes.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lucia/internal/hue"
)

var (
	// ErrPollingTimeout is returned when the link button was not pressed in time.
	ErrPollingTimeout = errors.New("polling time exceeded")

	// ErrInvalidConfig is returned for non-positive poll timings.
	ErrInvalidConfig = errors.New("invalid pairing configuration")
)

// Pairer is the part of the bridge client the orchestrator needs.
type Pairer interface {
	Pair(ctx context.Context, deviceType string) (hue.Credential, error)
}

// State of a pairing run.
type State int

const (
	StateWaiting State = iota
	StatePaired
	StateTimedOut
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StatePaired:
		return "paired"
	case StateTimedOut:
		return "timed_out"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config holds the polling cadence. Both values must be positive.
type Config struct {
	PollInterval time.Duration
	MaxDuration  time.Duration
}

// Validate checks the timings.
func (c Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive, got %s", ErrInvalidConfig, c.PollInterval)
	}
	if c.MaxDuration <= 0 {
		return fmt.Errorf("%w: max duration must be positive, got %s", ErrInvalidConfig, c.MaxDuration)
	}
	return nil
}

// Result describes how a pairing run ended.
type Result struct {
	State      State
	Credential hue.Credential
	Attempts   int
	Elapsed    time.Duration
}

// Clock abstracts time so tests can run the loop without sleeping.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Orchestrator polls a Pairer until it is paired, fails, or times out.
type Orchestrator struct {
	client    Pairer
	cfg       Config
	clock     Clock
	onAttempt func(attempt int, err error)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces the wall clock.
func WithClock(clock Clock) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// OnAttempt registers a callback invoked after every poll.
func OnAttempt(fn func(attempt int, err error)) Option {
	return func(o *Orchestrator) {
		o.onAttempt = fn
	}
}

// New creates an orchestrator. The config is validated up front.
func New(client Pairer, cfg Config, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{
		client: client,
		cfg:    cfg,
		clock:  realClock{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run polls the bridge with deviceType until a terminal state is reached.
// Only ErrLinkButtonNotPressed is retried; every other error ends the run as
// StateFailed and is returned unchanged.
func (o *Orchestrator) Run(ctx context.Context, deviceType string) (Result, error) {
	start := o.clock.Now()
	res := Result{State: StateWaiting}

	log.Debug().
		Str("device_type", deviceType).
		Dur("poll_interval", o.cfg.PollInterval).
		Dur("max_duration", o.cfg.MaxDuration).
		Msg("Waiting for link button")

	for {
		cred, err := o.client.Pair(ctx, deviceType)
		res.Attempts++
		res.Elapsed = o.clock.Now().Sub(start)

		if o.onAttempt != nil {
			o.onAttempt(res.Attempts, err)
		}

		if err == nil {
			res.State = StatePaired
			res.Credential = cred
			log.Debug().Int("attempts", res.Attempts).Dur("elapsed", res.Elapsed).Msg("Paired with bridge")
			return res, nil
		}
		if !errors.Is(err, hue.ErrLinkButtonNotPressed) {
			res.State = StateFailed
			return res, err
		}

		if res.Elapsed >= o.cfg.MaxDuration {
			res.State = StateTimedOut
			return res, fmt.Errorf("%w: link button not pressed within %s (%d attempts)",
				ErrPollingTimeout, o.cfg.MaxDuration, res.Attempts)
		}

		if err := o.clock.Sleep(ctx, o.cfg.PollInterval); err != nil {
			res.State = StateFailed
			return res, err
		}
	}
}

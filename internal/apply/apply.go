// Package apply sends one state change to a list of lights and groups.
//
// Targets are processed sequentially in the given order. A failing target
// does not stop the batch and nothing is rolled back: every target gets its
// own Outcome and the caller decides how to report partial application.
package apply

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/lucia/internal/hue"
)

// DefaultRateLimitRPS keeps requests within the bridge's command budget.
const DefaultRateLimitRPS = 10.0

// StateSetter is the part of the bridge client used for mutations.
type StateSetter interface {
	SetLightState(ctx context.Context, username, lightID string, change hue.StateChange) (hue.StateResult, error)
	SetGroupState(ctx context.Context, username, groupID string, change hue.StateChange) (hue.StateResult, error)
}

// Kind of target.
type Kind string

const (
	KindLight Kind = "light"
	KindGroup Kind = "group"
)

// Target identifies one light or group.
type Target struct {
	Kind Kind
	ID   string
}

func (t Target) String() string {
	return fmt.Sprintf("%s %s", t.Kind, t.ID)
}

// Lights builds light targets from ids.
func Lights(ids ...string) []Target {
	return targets(KindLight, ids)
}

// Groups builds group targets from ids.
func Groups(ids ...string) []Target {
	return targets(KindGroup, ids)
}

func targets(kind Kind, ids []string) []Target {
	out := make([]Target, 0, len(ids))
	for _, id := range ids {
		out = append(out, Target{Kind: kind, ID: id})
	}
	return out
}

// Outcome is the result of applying the change to one target.
type Outcome struct {
	Target Target
	Change hue.StateChange
	Result hue.StateResult
	Err    error
}

// Report collects the outcomes of a batch in target order.
type Report struct {
	Outcomes []Outcome
}

// Failed returns the outcomes that carry an error.
func (r Report) Failed() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}

// Succeeded returns the number of targets updated without error.
func (r Report) Succeeded() int {
	return len(r.Outcomes) - len(r.Failed())
}

// Applier runs batches against a StateSetter.
type Applier struct {
	client   StateSetter
	limiter  *rate.Limiter
	recorder func(Outcome)
}

// Option configures an Applier.
type Option func(*Applier)

// WithRateLimit sets the request rate in requests per second.
func WithRateLimit(rps float64) Option {
	return func(a *Applier) {
		if rps > 0 {
			a.limiter = newLimiter(rps)
		}
	}
}

// WithRecorder registers a callback invoked for every outcome, e.g. to
// persist it in the command history.
func WithRecorder(fn func(Outcome)) Option {
	return func(a *Applier) {
		a.recorder = fn
	}
}

// New creates an Applier.
func New(client StateSetter, opts ...Option) *Applier {
	a := &Applier{
		client:  client,
		limiter: newLimiter(DefaultRateLimitRPS),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func newLimiter(rps float64) *rate.Limiter {
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// Apply sends change to every target in order. The returned error joins
// all per-target failures and is nil when every target succeeded.
func (a *Applier) Apply(ctx context.Context, username string, targets []Target, change hue.StateChange) (Report, error) {
	report := Report{Outcomes: make([]Outcome, 0, len(targets))}

	for _, target := range targets {
		outcome := Outcome{Target: target, Change: change}

		if err := a.limiter.Wait(ctx); err != nil {
			outcome.Err = fmt.Errorf("%s: %w", target, err)
		} else {
			outcome.Result, outcome.Err = a.send(ctx, username, target, change)
		}

		if outcome.Err != nil {
			log.Error().Err(outcome.Err).
				Str("kind", string(target.Kind)).
				Str("id", target.ID).
				Msg("State change failed")
		} else {
			log.Debug().
				Str("kind", string(target.Kind)).
				Str("id", target.ID).
				Int("applied", len(outcome.Result.Applied)).
				Msg("State change applied")
		}

		if a.recorder != nil {
			a.recorder(outcome)
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}

	var errs []error
	for _, o := range report.Failed() {
		errs = append(errs, o.Err)
	}
	return report, errors.Join(errs...)
}

func (a *Applier) send(ctx context.Context, username string, target Target, change hue.StateChange) (hue.StateResult, error) {
	var (
		res hue.StateResult
		err error
	)
	switch target.Kind {
	case KindLight:
		res, err = a.client.SetLightState(ctx, username, target.ID, change)
	case KindGroup:
		res, err = a.client.SetGroupState(ctx, username, target.ID, change)
	default:
		return res, fmt.Errorf("%s: unknown target kind", target)
	}
	if err != nil {
		return res, fmt.Errorf("%s: %w", target, err)
	}
	return res, nil
}

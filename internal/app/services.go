package app

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lucia/internal/apply"
	"github.com/dokzlo13/lucia/internal/config"
	"github.com/dokzlo13/lucia/internal/db"
	"github.com/dokzlo13/lucia/internal/hue"
	"github.com/dokzlo13/lucia/internal/ledger"
)

// errHistoryUnavailable is returned by history reads when the database could not be opened.
var errHistoryUnavailable = errors.New("command history unavailable")

// Services is a container for the infrastructure shared by commands.
type Services struct {
	cfg *config.Config

	// RunID groups the history entries written by this invocation.
	RunID string

	DB     *db.DB
	Ledger *ledger.Ledger
	dbErr  error
}

// NewServices opens the history database. A database that cannot be opened
// disables history and never fails the command itself.
func NewServices(cfg *config.Config) *Services {
	s := &Services{
		cfg:   cfg,
		RunID: ledger.NewRunID(),
	}

	database, err := db.Open(config.ExpandHome(cfg.Database.Path))
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.Database.Path).Msg("Command history disabled")
		s.dbErr = err
		return s
	}
	s.DB = database
	s.Ledger = ledger.New(database.DB)

	if removed, err := s.Ledger.Cleanup(cfg.Database.RetentionDays); err != nil {
		log.Warn().Err(err).Msg("Failed to clean up command history")
	} else if removed > 0 {
		log.Debug().Int64("removed", removed).Msg("Cleaned up command history")
	}

	return s
}

// Record appends an entry to the history. Failures are logged only.
func (s *Services) Record(e ledger.Entry) {
	if s.Ledger == nil {
		return
	}
	e.RunID = s.RunID
	if err := s.Ledger.Append(e); err != nil {
		log.Warn().Err(err).Str("event", string(e.EventType)).Msg("Failed to record history entry")
	}
}

// History returns up to limit recent entries.
func (s *Services) History(limit int) ([]ledger.Entry, error) {
	if s.Ledger == nil {
		return nil, errors.Join(errHistoryUnavailable, s.dbErr)
	}
	return s.Ledger.Recent(limit)
}

// Client builds a bridge client from the stored address.
func (s *Services) Client() (*hue.Client, error) {
	address, err := s.cfg.RequireBridge()
	if err != nil {
		return nil, err
	}
	return hue.NewClient(address, hue.WithTimeout(s.cfg.Bridge.Timeout.Duration()))
}

// Applier builds a rate-limited applier that records every outcome.
func (s *Services) Applier(client apply.StateSetter) *apply.Applier {
	return apply.New(client,
		apply.WithRateLimit(s.cfg.Apply.RateLimitRPS),
		apply.WithRecorder(func(o apply.Outcome) {
			entry := ledger.Entry{
				EventType:  ledger.EventStateApplied,
				TargetKind: string(o.Target.Kind),
				TargetID:   o.Target.ID,
				Payload:    changePayload(o.Change),
			}
			if o.Err != nil {
				entry.EventType = ledger.EventStateFailed
				entry.Error = o.Err.Error()
			}
			s.Record(entry)
		}),
	)
}

// Close releases all resources.
func (s *Services) Close() {
	if s.DB != nil {
		s.DB.Close()
	}
}

func changePayload(change hue.StateChange) map[string]any {
	payload := make(map[string]any, 3)
	if change.Bri != nil {
		payload["bri"] = *change.Bri
	}
	if change.CT != nil {
		payload["ct"] = *change.CT
	}
	if change.On != nil {
		payload["on"] = *change.On
	}
	return payload
}

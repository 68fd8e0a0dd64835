package session

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/fedgate/pkg/observability"
)

// Sweeper periodically removes expired rows from a PostgresStore.
type Sweeper struct {
	store  *PostgresStore
	cron   *cron.Cron
	logger *observability.Logger
}

// NewSweeper schedules CleanupExpired on the given cron spec, for example
// "@every 5m".
func NewSweeper(store *PostgresStore, spec string, logger *observability.Logger) (*Sweeper, error) {
	s := &Sweeper{
		store:  store,
		cron:   cron.New(),
		logger: logger,
	}
	if _, err := s.cron.AddFunc(spec, s.sweep); err != nil {
		return nil, fmt.Errorf("failed to schedule session sweep: %w", err)
	}
	return s, nil
}

func (s *Sweeper) sweep() {
	defer observability.RecoverPanic(s.logger, "session sweep")
	deleted, err := s.store.CleanupExpired(context.Background())
	if err != nil {
		s.logger.WithError(err).Warn("session sweep failed")
		return
	}
	if deleted > 0 {
		s.logger.WithField("deleted", deleted).Info("swept expired sessions")
	}
}

// Start begins the schedule.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

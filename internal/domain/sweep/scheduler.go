package sweep

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler runs a sweep every interval until its context ends. A tick that
// finds a sweep already running is skipped.
type Scheduler struct {
	runner   *Runner
	interval time.Duration
	logger   zerolog.Logger
}

func NewScheduler(runner *Runner, interval time.Duration, logger zerolog.Logger) *Scheduler {
	return &Scheduler{runner: runner, interval: interval, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Start blocks until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	s.logger.Info().Dur("interval", s.interval).Msg("sweep scheduler started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("sweep scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	_, err := s.runner.Run(ctx)
	switch {
	case errors.Is(err, ErrInProgress):
		s.logger.Info().Msg("sweep skipped, another sweep holds the lock")
	case err != nil && ctx.Err() == nil:
		s.logger.Error().Err(err).Msg("scheduled sweep failed")
	}
}

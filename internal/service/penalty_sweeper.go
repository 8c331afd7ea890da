package service

import (
	"context"
	"time"

	"partnership-ledger/internal/core/ports"

	"github.com/rs/zerolog"
)

// PenaltySweeper periodically charges penalties that were left pending
// because the user could not pay them when the violation arrived.
type PenaltySweeper struct {
	penalties ports.PenaltyService
	interval  time.Duration
	batch     int
	log       zerolog.Logger
}

// NewPenaltySweeper creates a sweeper. A non-positive batch defaults to 100.
func NewPenaltySweeper(penalties ports.PenaltyService, interval time.Duration, batch int, log zerolog.Logger) *PenaltySweeper {
	if batch < 1 {
		batch = 100
	}
	return &PenaltySweeper{
		penalties: penalties,
		interval:  interval,
		batch:     batch,
		log:       log,
	}
}

// Run sweeps once per interval until ctx is done.
func (s *PenaltySweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.log.Info().Msg("penalty sweep disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *PenaltySweeper) sweep(ctx context.Context) {
	applied, err := s.penalties.ApplyPending(ctx, s.batch)
	if err != nil {
		s.log.Warn().Err(err).Int("applied", applied).Msg("penalty sweep finished with errors")
		return
	}
	if applied > 0 {
		s.log.Debug().Int("applied", applied).Msg("penalty sweep finished")
	}
}

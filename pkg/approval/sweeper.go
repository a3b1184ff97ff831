package approval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the sweeper every minute.
const DefaultSweepSchedule = "@every 1m"

// Sweeper periodically expires requests whose waiting run is gone.
type Sweeper struct {
	gate     *Gate
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger
}

func NewSweeper(gate *Gate, schedule string, logger *slog.Logger) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}

	_, err := cron.ParseStandard(schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule '%s': %w", schedule, err)
	}

	return &Sweeper{
		gate:     gate,
		schedule: schedule,
		logger:   logger.With("module", "approval_sweeper"),
	}, nil
}

// Start schedules the sweep. It stops when ctx is done or Stop is called.
func (s *Sweeper) Start(ctx context.Context) error {
	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := s.cron.AddFunc(s.schedule, func() {
		s.Sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule approval sweep: %w", err)
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "Approval sweeper started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// Sweep runs one pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	expired, err := s.gate.ExpireOverdue(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Approval sweep failed", "error", err)

		return
	}

	if expired > 0 {
		s.logger.InfoContext(ctx, "Expired overdue approvals", "count", expired)
	}
}

func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}

	<-s.cron.Stop().Done()
}

// services/scheduler.go
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// sweepBatch bounds how many matches one sweep run cancels.
const sweepBatch = 500

// StartDeadlineSweeper cancels expired matches every interval so they show
// as cancelled without waiting for another action. Lazy expiry on the next
// action keeps working whether or not this runs. The returned scheduler must
// be shut down by the caller.
func (s *MatchService) StartDeadlineSweeper(ctx context.Context, interval time.Duration) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			n, err := s.SweepExpired(ctx, sweepBatch)
			if err != nil {
				s.logger.Error("Deadline sweep failed", "error", err)
				return
			}
			if n > 0 {
				s.logger.Info("Deadline sweep cancelled matches", "count", n)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("schedule deadline sweep: %w", err)
	}

	sched.Start()
	s.logger.Info("Deadline sweeper running", "interval", interval)
	return sched, nil
}

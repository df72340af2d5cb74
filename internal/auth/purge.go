package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// ScheduleTokenPurge registers a job on s that deletes dead refresh tokens
// every interval.
//
//nolint:ireturn
func ScheduleTokenPurge(s gocron.Scheduler, tokens *RefreshStore, interval time.Duration, log *slog.Logger) (gocron.Job, error) {
	job, err := s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			defer cancel()

			n, err := tokens.PurgeExpired(ctx, time.Now())
			if err != nil {
				log.ErrorContext(ctx, "refresh token purge failed", "error", err)
				return
			}
			if n > 0 {
				log.InfoContext(ctx, "refresh tokens purged", "count", n)
			}
		}),
		gocron.WithName("purge-refresh-tokens"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule token purge: %w", err)
	}

	log.Info("job scheduled", "name", job.Name(), "interval", interval)
	return job, nil
}

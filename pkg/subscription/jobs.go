package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/egglogu/billing/pkg/logger"
)

// jobTimeout bounds one run of a scheduled sweep.
const jobTimeout = 2 * time.Minute

// RegisterJobs adds the periodic billing sweeps to c: trial expiry,
// out-of-sync coupon re-enqueue and processed-event pruning.
func RegisterJobs(c *cron.Cron, svc *Service, cfg Config, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(logger.Component("billing_jobs"))

	retention := cfg.EventRetention
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}

	jobs := []struct {
		name string
		spec string
		run  func(context.Context) (int64, error)
	}{
		{"expire_trials", cfg.TrialSweepSchedule, func(ctx context.Context) (int64, error) {
			n, err := svc.ExpireTrials(ctx)
			return int64(n), err
		}},
		{"resync_discounts", cfg.ResyncSchedule, func(ctx context.Context) (int64, error) {
			n, err := svc.ResyncDiscounts(ctx)
			return int64(n), err
		}},
		{"prune_webhook_events", cfg.PruneSchedule, func(ctx context.Context) (int64, error) {
			return svc.PruneEvents(ctx, retention)
		}},
	}

	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		_, err := c.AddFunc(job.spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()

			start := time.Now()
			n, err := job.run(ctx)
			if err != nil {
				log.ErrorContext(ctx, "billing job failed", slog.String("job", job.name), logger.Error(err))
				return
			}
			log.DebugContext(ctx, "billing job finished",
				slog.String("job", job.name),
				slog.Int64("affected", n),
				logger.Duration(time.Since(start)))
		})
		if err != nil {
			return fmt.Errorf("schedule %s (%q): %w", job.name, job.spec, err)
		}
	}
	return nil
}

package reminders

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/smith3v/tg-med-reminder/pkg/alarm"
	"github.com/smith3v/tg-med-reminder/pkg/config"
	"github.com/smith3v/tg-med-reminder/pkg/db"
	"github.com/smith3v/tg-med-reminder/pkg/logger"
)

type Recoverer interface {
	RecoverAll(ctx context.Context) (alarm.RecoveryReport, error)
}

// Purger drops expired intake logs and orphaned alarms.
type Purger func(now time.Time, intakeRetention time.Duration) (db.RetentionResult, error)

// NewCron registers the periodic recovery and retention jobs. The returned
// scheduler is not started.
func NewCron(ctx context.Context, cfg config.SchedulerConfig, recovery Recoverer, purge Purger) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(cfg.RecoverySpec, func() {
		RunRecovery(ctx, recovery)
	}); err != nil {
		return nil, fmt.Errorf("recovery schedule %q: %w", cfg.RecoverySpec, err)
	}
	retention := time.Duration(cfg.IntakeRetainDays) * 24 * time.Hour
	if _, err := c.AddFunc(cfg.RetentionSpec, func() {
		RunRetention(time.Now(), retention, purge)
	}); err != nil {
		return nil, fmt.Errorf("retention schedule %q: %w", cfg.RetentionSpec, err)
	}
	return c, nil
}

// RunRecovery re-arms every stored medication. Errors are logged only; the
// next run retries.
func RunRecovery(ctx context.Context, recovery Recoverer) alarm.RecoveryReport {
	report, err := recovery.RecoverAll(ctx)
	if err != nil {
		logger.Error("alarm recovery incomplete", "failed", report.Failed, "error", err)
	}
	return report
}

func RunRetention(now time.Time, intakeRetention time.Duration, purge Purger) db.RetentionResult {
	result, err := purge(now, intakeRetention)
	if err != nil {
		logger.Error("retention purge failed", "error", err)
		return result
	}
	logger.Info("retention purge finished", "intake_logs", result.IntakeLogs, "alarms", result.Alarms)
	return result
}

// Dispatcher fires due alarms; *alarm.Dispatcher implements it.
type Dispatcher interface {
	Fire(ctx context.Context, now time.Time) int
	Run(ctx context.Context)
}

// Start delivers the alarms that came due while the process was down, then
// recovers every medication and runs the dispatcher and the cron jobs until
// ctx is done. The catch-up pass runs before recovery because recovery moves
// overdue entries to their next occurrence.
func Start(ctx context.Context, cfg config.SchedulerConfig, dispatcher Dispatcher, recovery Recoverer) error {
	c, err := NewCron(ctx, cfg, recovery, db.PurgeExpired)
	if err != nil {
		return err
	}
	if n := dispatcher.Fire(ctx, time.Now()); n > 0 {
		logger.Info("delivered reminders missed while down", "count", n)
	}
	RunRecovery(ctx, recovery)

	c.Start()
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	go dispatcher.Run(ctx)
	return nil
}

package alarm

import (
	"context"
	"errors"
	"fmt"

	"github.com/smith3v/tg-med-reminder/pkg/db"
	"github.com/smith3v/tg-med-reminder/pkg/logger"
)

type RecoveryReport struct {
	Medications int
	Registered  int
	Deferred    int
	Failed      int
}

// Recovery re-arms every stored medication. It runs at startup, because the
// alarm table is not trusted to survive a restart intact, and periodically
// afterwards to repair drift.
type Recovery struct {
	catalog   Catalog
	scheduler *Scheduler
}

func NewRecovery(catalog Catalog, scheduler *Scheduler) *Recovery {
	return &Recovery{catalog: catalog, scheduler: scheduler}
}

func (r *Recovery) RecoverAll(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport
	var errs []error

	err := r.catalog.Each(ctx, func(med db.Medication) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		report.Medications++
		var outcome Outcome
		err := r.scheduler.WithLock(med.Key(), func(op Locked) error {
			// The walk may be stale by now; re-read under the lock.
			current, err := r.catalog.Lookup(ctx, med.ID)
			if err != nil || current == nil {
				return err
			}
			outcome, err = op.ScheduleAll(ctx, *current, current.Schedules)
			return err
		})
		if err != nil {
			report.Failed++
			errs = append(errs, fmt.Errorf("medication %s: %w", med.Key(), err))
			return nil
		}
		if outcome.Deferred {
			report.Deferred++
		}
		report.Registered += outcome.Registered()
		return nil
	})
	if err != nil {
		errs = append(errs, err)
	}

	logger.Info("alarm recovery finished",
		"medications", report.Medications,
		"registered", report.Registered,
		"deferred", report.Deferred,
		"failed", report.Failed,
	)
	return report, errors.Join(errs...)
}

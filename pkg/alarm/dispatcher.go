package alarm

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/smith3v/tg-med-reminder/pkg/db"
	"github.com/smith3v/tg-med-reminder/pkg/logger"
)

const (
	DefaultTick     = 30 * time.Second
	DefaultDueBatch = 100
)

// Notifier presents a fired alarm to its user.
type Notifier interface {
	Deliver(ctx context.Context, alarm db.PendingAlarm) error
}

// Catalog is the persistent medication set the alarm side reads from.
type Catalog interface {
	// Lookup returns the medication with its schedules ordered by position,
	// or nil when it no longer exists.
	Lookup(ctx context.Context, id uuid.UUID) (*db.Medication, error)
	// Each calls fn for every medication, schedules loaded.
	Each(ctx context.Context, fn func(db.Medication) error) error
}

// Dispatcher fires due alarms and arms each slot's next occurrence, since
// every table entry rings only once.
type Dispatcher struct {
	facility  Facility
	scheduler *Scheduler
	catalog   Catalog
	notifier  Notifier
	tick      time.Duration
	batch     int
}

func NewDispatcher(facility Facility, scheduler *Scheduler, catalog Catalog, notifier Notifier, tick time.Duration, batch int) *Dispatcher {
	if tick <= 0 {
		tick = DefaultTick
	}
	if batch <= 0 {
		batch = DefaultDueBatch
	}
	return &Dispatcher{
		facility:  facility,
		scheduler: scheduler,
		catalog:   catalog,
		notifier:  notifier,
		tick:      tick,
		batch:     batch,
	}
}

func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			d.Fire(ctx, now)
		}
	}
}

// Fire delivers every alarm due at now and returns how many were delivered.
func (d *Dispatcher) Fire(ctx context.Context, now time.Time) int {
	due, err := d.facility.Due(ctx, now, d.batch)
	if err != nil {
		logger.Error("failed to fetch due alarms", "error", err)
		return 0
	}

	delivered := 0
	for _, alarm := range due {
		consumed, err := d.facility.Consume(ctx, alarm)
		if err != nil {
			logger.Error("failed to consume alarm", "user_id", alarm.UserID, "code", alarm.RequestCode, "error", err)
			continue
		}
		if !consumed {
			continue
		}

		if err := d.notifier.Deliver(ctx, alarm); err != nil {
			logger.Error("failed to deliver reminder", "user_id", alarm.UserID, "medication_id", alarm.MedicationID, "error", err)
		} else {
			delivered++
		}
		d.rearm(ctx, alarm)
	}
	return delivered
}

// rearm reloads the medication and arms the fired slot's next occurrence
// under one hold of the medication's lock, so a concurrent removal or
// schedule change either lands first and is seen, or waits.
func (d *Dispatcher) rearm(ctx context.Context, fired db.PendingAlarm) {
	err := d.scheduler.WithLock(fired.MedicationID.String(), func(op Locked) error {
		med, err := d.catalog.Lookup(ctx, fired.MedicationID)
		if err != nil {
			return fmt.Errorf("load medication: %w", err)
		}
		if med == nil {
			logger.Debug("medication gone, not re-arming", "medication_id", fired.MedicationID)
			return nil
		}
		_, err = op.ScheduleSlot(ctx, *med, med.Schedules, fired.ScheduleIndex, fired.SlotTime)
		return err
	})
	if err != nil {
		logger.Error("failed to re-arm reminder", "medication_id", fired.MedicationID, "schedule_index", fired.ScheduleIndex, "error", err)
	}
}

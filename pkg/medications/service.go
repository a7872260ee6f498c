package medications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smith3v/tg-med-reminder/pkg/alarm"
	"github.com/smith3v/tg-med-reminder/pkg/db"
	"github.com/smith3v/tg-med-reminder/pkg/logger"
)

var (
	ErrInvalidMedication = errors.New("medication name is required")
	ErrSlotNotFound      = errors.New("reminder slot not found")
	ErrInvalidStock      = errors.New("stock cannot be negative")
)

// Service keeps stored medications and their armed reminders in step.
type Service struct {
	store     *Store
	scheduler *alarm.Scheduler
	now       func() time.Time
}

func NewService(store *Store, scheduler *alarm.Scheduler, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, scheduler: scheduler, now: now}
}

// Add stores med and arms its reminders. A deferred outcome still leaves the
// medication stored; its reminders are armed once the user allows them.
func (s *Service) Add(ctx context.Context, med *db.Medication) (alarm.Outcome, error) {
	med.Name = strings.TrimSpace(med.Name)
	if med.Name == "" {
		return alarm.Outcome{}, ErrInvalidMedication
	}
	if med.ID == uuid.Nil {
		med.ID = uuid.New()
	}
	var outcome alarm.Outcome
	err := s.scheduler.WithLock(med.Key(), func(op alarm.Locked) error {
		if err := s.store.Create(ctx, med); err != nil {
			return fmt.Errorf("store medication: %w", err)
		}
		logger.Info("medication added", "user_id", med.UserID, "medication_id", med.Key(), "schedules", len(med.Schedules))
		var err error
		outcome, err = op.ScheduleAll(ctx, *med, med.Schedules)
		return err
	})
	return outcome, err
}

func (s *Service) List(ctx context.Context, userID int64) ([]db.Medication, error) {
	return s.store.ListByUser(ctx, userID)
}

// Intakes lists confirmed doses from the last days days.
func (s *Service) Intakes(ctx context.Context, userID int64, days int) ([]db.IntakeLog, error) {
	since := s.now().AddDate(0, 0, -days)
	return s.store.IntakesSince(ctx, userID, since)
}

// UpdateSchedules replaces the medication's schedules and moves its
// reminders from the old slots to the new ones.
func (s *Service) UpdateSchedules(ctx context.Context, userID int64, id uuid.UUID, schedules []db.Schedule) (alarm.Outcome, error) {
	var outcome alarm.Outcome
	err := s.scheduler.WithLock(id.String(), func(op alarm.Locked) error {
		med, err := s.store.Get(ctx, userID, id)
		if err != nil {
			return err
		}
		oldSchedules := med.Schedules
		stored, err := s.store.ReplaceSchedules(ctx, id, schedules)
		if err != nil {
			return fmt.Errorf("replace schedules: %w", err)
		}
		med.Schedules = stored
		outcome, err = op.Reschedule(ctx, *med, oldSchedules, stored)
		return err
	})
	return outcome, err
}

// Remove cancels the medication's reminders, then deletes it.
func (s *Service) Remove(ctx context.Context, userID int64, id uuid.UUID) error {
	err := s.scheduler.WithLock(id.String(), func(op alarm.Locked) error {
		med, err := s.store.Get(ctx, userID, id)
		if err != nil {
			return err
		}
		if err := op.CancelAll(ctx, *med, med.Schedules); err != nil {
			return fmt.Errorf("cancel reminders: %w", err)
		}
		return s.store.Delete(ctx, userID, id)
	})
	if err != nil {
		return err
	}
	logger.Info("medication removed", "user_id", userID, "medication_id", id.String())
	return nil
}

// RearmUser re-runs scheduling for every medication of one user, typically
// after the user allowed exact reminders or changed timezone.
func (s *Service) RearmUser(ctx context.Context, userID int64) (alarm.Outcome, error) {
	meds, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return alarm.Outcome{}, err
	}
	var total alarm.Outcome
	var errs []error
	for _, med := range meds {
		var outcome alarm.Outcome
		err := s.scheduler.WithLock(med.Key(), func(op alarm.Locked) error {
			current, err := s.store.Lookup(ctx, med.ID)
			if err != nil || current == nil {
				return err
			}
			outcome, err = op.ScheduleAll(ctx, *current, current.Schedules)
			return err
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("medication %s: %w", med.Key(), err))
			continue
		}
		total.Deferred = total.Deferred || outcome.Deferred
		total.Codes = append(total.Codes, outcome.Codes...)
	}
	return total, errors.Join(errs...)
}

// SetStock sets the remaining units of a medication; nil stops tracking.
func (s *Service) SetStock(ctx context.Context, userID int64, id uuid.UUID, stock *int) error {
	if stock != nil && *stock < 0 {
		return ErrInvalidStock
	}
	return s.store.SetStock(ctx, userID, id, stock)
}

// ConfirmIntake logs that the dose of one reminder slot was taken. It runs
// under the medication's lock so concurrent confirmations of one slot are
// checked against each other.
func (s *Service) ConfirmIntake(ctx context.Context, userID int64, id uuid.UUID, scheduleIndex int, slotTime string) (entry *db.IntakeLog, remaining *int, err error) {
	err = s.scheduler.WithLock(id.String(), func(alarm.Locked) error {
		entry, remaining, err = s.confirmIntake(ctx, userID, id, scheduleIndex, slotTime)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return entry, remaining, nil
}

func (s *Service) confirmIntake(ctx context.Context, userID int64, id uuid.UUID, scheduleIndex int, slotTime string) (*db.IntakeLog, *int, error) {
	med, err := s.store.Get(ctx, userID, id)
	if err != nil {
		return nil, nil, err
	}
	if scheduleIndex < 0 || scheduleIndex >= len(med.Schedules) {
		return nil, nil, ErrSlotNotFound
	}
	sched := med.Schedules[scheduleIndex]
	timeIndex := -1
	for j, t := range sched.Times {
		if t == slotTime {
			timeIndex = j
			break
		}
	}
	if timeIndex < 0 {
		return nil, nil, ErrSlotNotFound
	}

	dosage := med.Dosage
	if timeIndex < len(sched.Amounts) && strings.TrimSpace(sched.Amounts[timeIndex]) != "" {
		dosage = strings.TrimSpace(sched.Amounts[timeIndex])
	}
	entry := &db.IntakeLog{
		UserID:       userID,
		MedicationID: med.ID,
		RequestCode:  alarm.RequestCode(med.Key(), scheduleIndex, slotTime),
		SlotTime:     slotTime,
		Dosage:       dosage,
		TakenAt:      s.now().UTC(),
	}
	remaining, err := s.store.LogIntake(ctx, entry)
	if err != nil {
		return nil, nil, err
	}
	return entry, remaining, nil
}

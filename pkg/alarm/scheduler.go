package alarm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/smith3v/tg-med-reminder/pkg/db"
	"github.com/smith3v/tg-med-reminder/pkg/logger"
)

// Settings supplies the per-user inputs of a scheduling pass.
type Settings interface {
	CanScheduleExact(ctx context.Context, userID int64) (bool, error)
	// RequestExactPermission asks the user to allow exact reminders. The
	// caller re-runs ScheduleAll once the user agrees.
	RequestExactPermission(ctx context.Context, userID int64) error
	Location(ctx context.Context, userID int64) (*time.Location, error)
}

// Outcome reports what a scheduling pass did. Deferred means nothing was
// registered because exact alarms are not permitted yet.
type Outcome struct {
	Deferred bool
	Codes    []int32
}

func (o Outcome) Registered() int {
	return len(o.Codes)
}

// Scheduler maps a medication's schedules onto alarm table entries. All
// mutations for one medication run under that medication's lock.
type Scheduler struct {
	facility Facility
	settings Settings
	now      func() time.Time
	locks    *keyedMutex
}

func NewScheduler(facility Facility, settings Settings, now func() time.Time) *Scheduler {
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		facility: facility,
		settings: settings,
		now:      now,
		locks:    newKeyedMutex(),
	}
}

// ScheduleAll arms one alarm per (schedule, time) slot. As-needed schedules
// and schedules without times contribute nothing. Without exact-alarm
// permission nothing is armed, the user is asked for permission and the
// outcome is Deferred; only storage failures are returned as errors.
func (s *Scheduler) ScheduleAll(ctx context.Context, med db.Medication, schedules []db.Schedule) (outcome Outcome, err error) {
	err = s.WithLock(med.Key(), func(op Locked) error {
		outcome, err = op.ScheduleAll(ctx, med, schedules)
		return err
	})
	return outcome, err
}

// ScheduleSlot re-arms a single slot, typically right after it fired. It is
// a no-op when the slot no longer exists in schedules.
func (s *Scheduler) ScheduleSlot(ctx context.Context, med db.Medication, schedules []db.Schedule, scheduleIndex int, slotTime string) (outcome Outcome, err error) {
	err = s.WithLock(med.Key(), func(op Locked) error {
		outcome, err = op.ScheduleSlot(ctx, med, schedules, scheduleIndex, slotTime)
		return err
	})
	return outcome, err
}

// CancelAll drops the alarm of every (schedule, time) slot, as-needed ones
// included. Slots without a live alarm are skipped silently.
func (s *Scheduler) CancelAll(ctx context.Context, med db.Medication, schedules []db.Schedule) error {
	return s.WithLock(med.Key(), func(op Locked) error {
		return op.CancelAll(ctx, med, schedules)
	})
}

// Reschedule cancels the slots of oldSchedules and then arms newSchedules,
// without letting another mutation of the same medication in between.
func (s *Scheduler) Reschedule(ctx context.Context, med db.Medication, oldSchedules, newSchedules []db.Schedule) (outcome Outcome, err error) {
	err = s.WithLock(med.Key(), func(op Locked) error {
		outcome, err = op.Reschedule(ctx, med, oldSchedules, newSchedules)
		return err
	})
	return outcome, err
}

// WithLock runs fn while holding the lock of medicationKey. Storage reads and
// writes that an alarm change depends on belong inside fn, so no other
// mutation of the medication can slip between them.
func (s *Scheduler) WithLock(medicationKey string, fn func(op Locked) error) error {
	unlock := s.locks.Lock(medicationKey)
	defer unlock()
	return fn(Locked{s: s})
}

// Locked is the Scheduler as seen from inside WithLock. Its methods must not
// be called after fn returns.
type Locked struct {
	s *Scheduler
}

func (l Locked) ScheduleAll(ctx context.Context, med db.Medication, schedules []db.Schedule) (Outcome, error) {
	return l.s.schedule(ctx, med, plannedSlots(schedules))
}

func (l Locked) ScheduleSlot(ctx context.Context, med db.Medication, schedules []db.Schedule, scheduleIndex int, slotTime string) (Outcome, error) {
	var slots []slot
	for _, sl := range plannedSlots(schedules) {
		if sl.scheduleIndex == scheduleIndex && sl.time == slotTime {
			slots = append(slots, sl)
			break
		}
	}
	return l.s.schedule(ctx, med, slots)
}

func (l Locked) CancelAll(ctx context.Context, med db.Medication, schedules []db.Schedule) error {
	return l.s.cancel(ctx, med, schedules)
}

func (l Locked) Reschedule(ctx context.Context, med db.Medication, oldSchedules, newSchedules []db.Schedule) (Outcome, error) {
	if err := l.s.cancel(ctx, med, oldSchedules); err != nil {
		return Outcome{}, err
	}
	return l.s.schedule(ctx, med, plannedSlots(newSchedules))
}

type slot struct {
	scheduleIndex int
	time          string
	weekdays      []int
	amount        string
}

func plannedSlots(schedules []db.Schedule) []slot {
	var slots []slot
	for i, sched := range schedules {
		if sched.AsNeeded {
			continue
		}
		for j, t := range sched.Times {
			amount := ""
			if j < len(sched.Amounts) {
				amount = strings.TrimSpace(sched.Amounts[j])
			}
			slots = append(slots, slot{
				scheduleIndex: i,
				time:          t,
				weekdays:      sched.WeekDays,
				amount:        amount,
			})
		}
	}
	return slots
}

func (s *Scheduler) schedule(ctx context.Context, med db.Medication, slots []slot) (Outcome, error) {
	if len(slots) == 0 {
		return Outcome{}, nil
	}

	allowed, err := s.settings.CanScheduleExact(ctx, med.UserID)
	if err != nil {
		return Outcome{}, fmt.Errorf("check exact alarm permission: %w", err)
	}
	if !allowed {
		logger.Info("exact alarms not permitted, deferring schedule", "user_id", med.UserID, "medication_id", med.Key())
		if err := s.settings.RequestExactPermission(ctx, med.UserID); err != nil {
			logger.Error("failed to request exact alarm permission", "user_id", med.UserID, "error", err)
		}
		return Outcome{Deferred: true}, nil
	}

	loc, err := s.settings.Location(ctx, med.UserID)
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve user location: %w", err)
	}

	now := s.now()
	outcome := Outcome{Codes: make([]int32, 0, len(slots))}
	for _, sl := range slots {
		amount := sl.amount
		if amount == "" {
			amount = med.Dosage
		}
		code := RequestCode(med.Key(), sl.scheduleIndex, sl.time)
		fireAt := NextFireTime(now, loc, ParseSlotTime(sl.time), sl.weekdays)

		if err := s.facility.Set(ctx, db.PendingAlarm{
			UserID:         med.UserID,
			RequestCode:    code,
			FireAt:         fireAt,
			MedicationID:   med.ID,
			MedicationName: med.Name,
			Dosage:         amount,
			DosageUnit:     med.DosageUnit,
			ScheduleIndex:  sl.scheduleIndex,
			SlotTime:       sl.time,
		}); err != nil {
			return outcome, fmt.Errorf("arm slot %d/%s: %w", sl.scheduleIndex, sl.time, err)
		}
		logger.Debug("armed reminder", "medication_id", med.Key(), "schedule_index", sl.scheduleIndex, "time", sl.time, "code", code, "fire_at", fireAt)
		if !slices.Contains(outcome.Codes, code) {
			outcome.Codes = append(outcome.Codes, code)
		}
	}
	return outcome, nil
}

func (s *Scheduler) cancel(ctx context.Context, med db.Medication, schedules []db.Schedule) error {
	var errs []error
	for i, sched := range schedules {
		for _, t := range sched.Times {
			code := RequestCode(med.Key(), i, t)
			if err := s.facility.Cancel(ctx, med.UserID, code); err != nil {
				errs = append(errs, fmt.Errorf("cancel slot %d/%s: %w", i, t, err))
			}
		}
	}
	return errors.Join(errs...)
}

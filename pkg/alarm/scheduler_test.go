package alarm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smith3v/tg-med-reminder/pkg/db"
	"github.com/smith3v/tg-med-reminder/pkg/logger"
	"gorm.io/datatypes"
)

func newTestScheduler(facility Facility, settings *fakeSettings) *Scheduler {
	logger.SetLogLevel(logger.ERROR)
	return NewScheduler(facility, settings, fixedClock)
}

func TestScheduleAllRegistersEverySlot(t *testing.T) {
	facility := newFakeFacility()
	s := newTestScheduler(facility, &fakeSettings{allowed: true})
	med := testMedication(1)
	schedules := []db.Schedule{schedule("08:00", "20:00"), schedule("08:00", "20:00")}

	outcome, err := s.ScheduleAll(context.Background(), med, schedules)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Deferred {
		t.Fatal("did not expect a deferred outcome")
	}
	if outcome.Registered() != 4 || facility.count() != 4 {
		t.Fatalf("expected 4 distinct registrations, got outcome=%+v table=%d", outcome, facility.count())
	}
	for i, sched := range schedules {
		for _, tm := range sched.Times {
			alarm, ok := facility.get(1, RequestCode(med.Key(), i, tm))
			if !ok {
				t.Fatalf("slot %d/%s not addressable by its code", i, tm)
			}
			if alarm.ScheduleIndex != i || alarm.SlotTime != tm || alarm.MedicationName != "Ibuprofen" {
				t.Fatalf("unexpected payload: %+v", alarm)
			}
		}
	}
}

func TestScheduleAllComputesFireTimes(t *testing.T) {
	facility := newFakeFacility()
	s := newTestScheduler(facility, &fakeSettings{allowed: true})
	med := testMedication(1)

	if _, err := s.ScheduleAll(context.Background(), med, []db.Schedule{schedule("08:00", "20:00")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	morning, _ := facility.get(1, RequestCode(med.Key(), 0, "08:00"))
	if want := time.Date(2025, 1, 3, 8, 0, 0, 0, time.UTC); !morning.FireAt.Equal(want) {
		t.Fatalf("morning fires at %v, want %v", morning.FireAt, want)
	}
	evening, _ := facility.get(1, RequestCode(med.Key(), 0, "20:00"))
	if want := time.Date(2025, 1, 2, 20, 0, 0, 0, time.UTC); !evening.FireAt.Equal(want) {
		t.Fatalf("evening fires at %v, want %v", evening.FireAt, want)
	}
}

func TestScheduleAllSkipsAsNeeded(t *testing.T) {
	facility := newFakeFacility()
	settings := &fakeSettings{allowed: false}
	s := newTestScheduler(facility, settings)

	asNeeded := schedule("08:00", "12:00")
	asNeeded.AsNeeded = true
	outcome, err := s.ScheduleAll(context.Background(), testMedication(1), []db.Schedule{asNeeded, {}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Registered() != 0 || facility.count() != 0 {
		t.Fatalf("expected no registrations, got %+v", outcome)
	}
	if outcome.Deferred || settings.prompts != 0 {
		t.Fatal("nothing to arm should not trigger a permission request")
	}
}

func TestScheduleAllDefersWithoutPermission(t *testing.T) {
	facility := newFakeFacility()
	settings := &fakeSettings{allowed: false}
	s := newTestScheduler(facility, settings)

	outcome, err := s.ScheduleAll(context.Background(), testMedication(1), []db.Schedule{schedule("08:00"), schedule("20:00")})
	if err != nil {
		t.Fatalf("permission denial must not be an error, got %v", err)
	}
	if !outcome.Deferred {
		t.Fatal("expected deferred outcome")
	}
	if facility.sets != 0 {
		t.Fatalf("expected no partial scheduling, got %d registrations", facility.sets)
	}
	if settings.prompts != 1 {
		t.Fatalf("expected one permission request, got %d", settings.prompts)
	}

	settings.allowed = true
	outcome, err = s.ScheduleAll(context.Background(), testMedication(1), []db.Schedule{schedule("08:00"), schedule("20:00")})
	if err != nil || outcome.Registered() != 2 {
		t.Fatalf("expected retry to register 2 alarms, got %+v, %v", outcome, err)
	}
}

func TestScheduleAllPermissionCheckError(t *testing.T) {
	s := newTestScheduler(newFakeFacility(), &fakeSettings{checkErr: errBoom})
	if _, err := s.ScheduleAll(context.Background(), testMedication(1), []db.Schedule{schedule("08:00")}); !errors.Is(err, errBoom) {
		t.Fatalf("expected wrapped storage error, got %v", err)
	}
}

func TestScheduleAllAmountFallback(t *testing.T) {
	facility := newFakeFacility()
	s := newTestScheduler(facility, &fakeSettings{allowed: true})
	med := testMedication(1)
	sched := schedule("08:00", "13:00", "20:00")
	sched.Amounts = datatypes.JSONSlice[string]{"2", " "}

	if _, err := s.ScheduleAll(context.Background(), med, []db.Schedule{sched}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string]string{"08:00": "2", "13:00": "400", "20:00": "400"}
	for tm, amount := range want {
		alarm, _ := facility.get(1, RequestCode(med.Key(), 0, tm))
		if alarm.Dosage != amount || alarm.DosageUnit != "mg" {
			t.Fatalf("slot %s: dosage %q %q, want %q mg", tm, alarm.Dosage, alarm.DosageUnit, amount)
		}
	}
}

func TestScheduleAllMalformedTimeDoesNotAbortBatch(t *testing.T) {
	facility := newFakeFacility()
	s := newTestScheduler(facility, &fakeSettings{allowed: true})
	med := testMedication(1)

	outcome, err := s.ScheduleAll(context.Background(), med, []db.Schedule{schedule("9", "oops", "21:00")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Registered() != 3 {
		t.Fatalf("expected all slots armed, got %+v", outcome)
	}
	nine, _ := facility.get(1, RequestCode(med.Key(), 0, "9"))
	if want := time.Date(2025, 1, 3, 9, 0, 0, 0, time.UTC); !nine.FireAt.Equal(want) {
		t.Fatalf("\"9\" should fire at 09:00 tomorrow, got %v", nine.FireAt)
	}
}

func TestScheduleAllStorageErrorStops(t *testing.T) {
	facility := newFakeFacility()
	facility.setErr = errBoom
	s := newTestScheduler(facility, &fakeSettings{allowed: true})
	if _, err := s.ScheduleAll(context.Background(), testMedication(1), []db.Schedule{schedule("08:00")}); !errors.Is(err, errBoom) {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestCancelAllRemovesAndIsIdempotent(t *testing.T) {
	facility := newFakeFacility()
	s := newTestScheduler(facility, &fakeSettings{allowed: true})
	med := testMedication(1)
	schedules := []db.Schedule{schedule("08:00", "20:00"), schedule("12:00")}

	if _, err := s.ScheduleAll(context.Background(), med, schedules); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.CancelAll(context.Background(), med, schedules); err != nil {
		t.Fatalf("first cancel failed: %v", err)
	}
	if facility.count() != 0 {
		t.Fatalf("expected empty table, got %d", facility.count())
	}
	if err := s.CancelAll(context.Background(), med, schedules); err != nil {
		t.Fatalf("second cancel should be a no-op, got %v", err)
	}
}

func TestRescheduleLeavesOnlyNewSlots(t *testing.T) {
	facility := newFakeFacility()
	s := newTestScheduler(facility, &fakeSettings{allowed: true})
	med := testMedication(1)
	oldSchedules := []db.Schedule{schedule("08:00", "20:00"), schedule("12:00")}
	newSchedules := []db.Schedule{schedule("09:30")}

	if _, err := s.ScheduleAll(context.Background(), med, oldSchedules); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	outcome, err := s.Reschedule(context.Background(), med, oldSchedules, newSchedules)
	if err != nil {
		t.Fatalf("reschedule failed: %v", err)
	}
	if outcome.Registered() != 1 || facility.count() != 1 {
		t.Fatalf("expected exactly the new slot, got outcome=%+v table=%d", outcome, facility.count())
	}
	if _, ok := facility.get(1, RequestCode(med.Key(), 0, "09:30")); !ok {
		t.Fatal("new slot not addressable by its code")
	}
}

func TestScheduleSlotOnlyArmsExistingSlot(t *testing.T) {
	facility := newFakeFacility()
	s := newTestScheduler(facility, &fakeSettings{allowed: true})
	med := testMedication(1)
	schedules := []db.Schedule{schedule("08:00", "20:00")}

	outcome, err := s.ScheduleSlot(context.Background(), med, schedules, 0, "20:00")
	if err != nil || outcome.Registered() != 1 {
		t.Fatalf("expected one slot armed, got %+v, %v", outcome, err)
	}

	outcome, err = s.ScheduleSlot(context.Background(), med, schedules, 1, "20:00")
	if err != nil || outcome.Registered() != 0 {
		t.Fatalf("expected no-op for missing slot, got %+v, %v", outcome, err)
	}
	if facility.count() != 1 {
		t.Fatalf("expected a single alarm, got %d", facility.count())
	}
}

// slowFacility records how many Set calls overlap for the same medication.
type slowFacility struct {
	*fakeFacility
	inFlight atomic.Int32
	overlap  atomic.Bool
}

func (f *slowFacility) Set(ctx context.Context, alarm db.PendingAlarm) error {
	if f.inFlight.Add(1) > 1 {
		f.overlap.Store(true)
	}
	time.Sleep(time.Millisecond)
	defer f.inFlight.Add(-1)
	return f.fakeFacility.Set(ctx, alarm)
}

func TestSchedulerSerializesPerMedication(t *testing.T) {
	facility := &slowFacility{fakeFacility: newFakeFacility()}
	s := newTestScheduler(nil, &fakeSettings{allowed: true})
	s.facility = facility
	med := testMedication(1)
	schedules := []db.Schedule{schedule("08:00", "12:00", "20:00")}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ScheduleAll(context.Background(), med, schedules); err != nil {
				t.Errorf("schedule failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if facility.overlap.Load() {
		t.Fatal("registrations for one medication interleaved")
	}
	if s.locks.size() != 0 {
		t.Fatalf("expected lock table to drain, got %d entries", s.locks.size())
	}
}

func TestWithLockExcludesOtherMutations(t *testing.T) {
	logger.SetLogLevel(logger.ERROR)
	facility := newFakeFacility()
	scheduler := NewScheduler(facility, &fakeSettings{allowed: true}, fixedClock)
	med := testMedication(1)
	med.Schedules = []db.Schedule{schedule("08:00")}

	done := make(chan struct{})
	err := scheduler.WithLock(med.Key(), func(op Locked) error {
		go func() {
			defer close(done)
			if err := scheduler.CancelAll(context.Background(), med, med.Schedules); err != nil {
				t.Errorf("cancel failed: %v", err)
			}
		}()
		time.Sleep(20 * time.Millisecond)
		facility.mu.Lock()
		cancels := facility.cancels
		facility.mu.Unlock()
		if cancels != 0 {
			t.Errorf("cancel ran while the lock was held")
		}
		_, err := op.ScheduleAll(context.Background(), med, med.Schedules)
		return err
	})
	if err != nil {
		t.Fatalf("locked schedule failed: %v", err)
	}
	<-done
	if facility.count() != 0 {
		t.Fatalf("expected the waiting cancel to run after the lock, got %d alarms", facility.count())
	}
}

package alarm

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smith3v/tg-med-reminder/pkg/db"
	"gorm.io/datatypes"
)

type alarmKey struct {
	userID int64
	code   int32
}

type fakeFacility struct {
	mu      sync.Mutex
	alarms  map[alarmKey]db.PendingAlarm
	sets    int
	cancels int
	setErr  error
}

func newFakeFacility() *fakeFacility {
	return &fakeFacility{alarms: make(map[alarmKey]db.PendingAlarm)}
}

func (f *fakeFacility) Set(_ context.Context, alarm db.PendingAlarm) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.sets++
	f.alarms[alarmKey{alarm.UserID, alarm.RequestCode}] = alarm
	return nil
}

func (f *fakeFacility) Cancel(_ context.Context, userID int64, code int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	delete(f.alarms, alarmKey{userID, code})
	return nil
}

func (f *fakeFacility) Due(_ context.Context, now time.Time, limit int) ([]db.PendingAlarm, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []db.PendingAlarm
	for _, a := range f.alarms {
		if !a.FireAt.After(now) {
			due = append(due, a)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].FireAt.Before(due[j].FireAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (f *fakeFacility) Consume(_ context.Context, alarm db.PendingAlarm) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := alarmKey{alarm.UserID, alarm.RequestCode}
	current, ok := f.alarms[key]
	if !ok || !current.FireAt.Equal(alarm.FireAt) {
		return false, nil
	}
	delete(f.alarms, key)
	return true, nil
}

func (f *fakeFacility) get(userID int64, code int32) (db.PendingAlarm, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.alarms[alarmKey{userID, code}]
	return a, ok
}

func (f *fakeFacility) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alarms)
}

type fakeSettings struct {
	allowed  bool
	loc      *time.Location
	prompts  int
	checkErr error
}

func (s *fakeSettings) CanScheduleExact(context.Context, int64) (bool, error) {
	return s.allowed, s.checkErr
}

func (s *fakeSettings) RequestExactPermission(context.Context, int64) error {
	s.prompts++
	return nil
}

func (s *fakeSettings) Location(context.Context, int64) (*time.Location, error) {
	if s.loc == nil {
		return time.UTC, nil
	}
	return s.loc, nil
}

type fakeCatalog struct {
	meds map[uuid.UUID]db.Medication
}

func newFakeCatalog(meds ...db.Medication) *fakeCatalog {
	c := &fakeCatalog{meds: make(map[uuid.UUID]db.Medication)}
	for _, m := range meds {
		c.meds[m.ID] = m
	}
	return c
}

func (c *fakeCatalog) Lookup(_ context.Context, id uuid.UUID) (*db.Medication, error) {
	m, ok := c.meds[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (c *fakeCatalog) Each(_ context.Context, fn func(db.Medication) error) error {
	ids := make([]uuid.UUID, 0, len(c.meds))
	for id := range c.meds {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	for _, id := range ids {
		if err := fn(c.meds[id]); err != nil {
			return err
		}
	}
	return nil
}

type recordingNotifier struct {
	delivered []db.PendingAlarm
	err       error
}

func (n *recordingNotifier) Deliver(_ context.Context, alarm db.PendingAlarm) error {
	n.delivered = append(n.delivered, alarm)
	return n.err
}

var errBoom = errors.New("boom")

var fixedNow = time.Date(2025, 1, 2, 14, 30, 0, 0, time.UTC)

func fixedClock() time.Time {
	return fixedNow
}

func testMedication(userID int64) db.Medication {
	return db.Medication{
		ID:         uuid.MustParse("3f2b8c1e-9d4a-4c1b-8e2f-6a7b9c0d1e2f"),
		UserID:     userID,
		Name:       "Ibuprofen",
		Dosage:     "400",
		DosageUnit: "mg",
	}
}

func schedule(times ...string) db.Schedule {
	return db.Schedule{Times: datatypes.JSONSlice[string](times)}
}

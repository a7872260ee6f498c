package medications

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/smith3v/tg-med-reminder/pkg/db"
	"gorm.io/gorm"
)

const (
	eachBatchSize = 200

	// DuplicateIntakeWindow is how long a confirmed slot ignores repeated
	// confirmations.
	DuplicateIntakeWindow = time.Hour
)

var (
	ErrMedicationNotFound = errors.New("medication not found")
	ErrAlreadyTaken       = errors.New("dose already confirmed")
	errNoDatabase         = errors.New("medications: database not initialized")
)

// Store persists medications and their schedules. Schedules always come back
// ordered by position, which is the schedule index used for reminder codes.
type Store struct{}

func NewStore() *Store {
	return &Store{}
}

func withSchedules(tx *gorm.DB) *gorm.DB {
	return tx.Preload("Schedules", func(q *gorm.DB) *gorm.DB {
		return q.Order("position ASC, id ASC")
	})
}

func (s *Store) Create(ctx context.Context, med *db.Medication) error {
	if db.DB == nil {
		return errNoDatabase
	}
	for i := range med.Schedules {
		med.Schedules[i].Position = i
	}
	return db.DB.WithContext(ctx).Create(med).Error
}

// Get loads a medication owned by userID.
func (s *Store) Get(ctx context.Context, userID int64, id uuid.UUID) (*db.Medication, error) {
	if db.DB == nil {
		return nil, errNoDatabase
	}
	var med db.Medication
	err := withSchedules(db.DB.WithContext(ctx)).
		Where("id = ? AND user_id = ?", id, userID).
		First(&med).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMedicationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &med, nil
}

func (s *Store) ListByUser(ctx context.Context, userID int64) ([]db.Medication, error) {
	if db.DB == nil {
		return nil, errNoDatabase
	}
	var meds []db.Medication
	err := withSchedules(db.DB.WithContext(ctx)).
		Where("user_id = ?", userID).
		Order("created_at ASC, id ASC").
		Find(&meds).Error
	return meds, err
}

// Lookup is Get without the ownership check; a missing row yields nil.
func (s *Store) Lookup(ctx context.Context, id uuid.UUID) (*db.Medication, error) {
	if db.DB == nil {
		return nil, errNoDatabase
	}
	var med db.Medication
	err := withSchedules(db.DB.WithContext(ctx)).Where("id = ?", id).First(&med).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &med, nil
}

// Each walks every stored medication in id order, a batch at a time.
func (s *Store) Each(ctx context.Context, fn func(db.Medication) error) error {
	if db.DB == nil {
		return errNoDatabase
	}
	var last *uuid.UUID
	for {
		var batch []db.Medication
		query := withSchedules(db.DB.WithContext(ctx)).Order("id ASC").Limit(eachBatchSize)
		if last != nil {
			query = query.Where("id > ?", *last)
		}
		if err := query.Find(&batch).Error; err != nil {
			return err
		}
		for _, med := range batch {
			if err := fn(med); err != nil {
				return err
			}
		}
		if len(batch) < eachBatchSize {
			return nil
		}
		id := batch[len(batch)-1].ID
		last = &id
	}
}

// ReplaceSchedules swaps the medication's schedule list for schedules and
// returns the stored rows.
func (s *Store) ReplaceSchedules(ctx context.Context, medicationID uuid.UUID, schedules []db.Schedule) ([]db.Schedule, error) {
	if db.DB == nil {
		return nil, errNoDatabase
	}
	stored := make([]db.Schedule, len(schedules))
	err := db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("medication_id = ?", medicationID).Delete(&db.Schedule{}).Error; err != nil {
			return err
		}
		for i, sched := range schedules {
			sched.ID = 0
			sched.MedicationID = medicationID
			sched.Position = i
			stored[i] = sched
		}
		if len(stored) == 0 {
			return nil
		}
		return tx.Create(&stored).Error
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *Store) Delete(ctx context.Context, userID int64, id uuid.UUID) error {
	if db.DB == nil {
		return errNoDatabase
	}
	return db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND user_id = ?", id, userID).Delete(&db.Medication{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrMedicationNotFound
		}
		// sqlite does not enforce the cascade unless foreign keys are enabled.
		return tx.Where("medication_id = ?", id).Delete(&db.Schedule{}).Error
	})
}

// LogIntake records a taken dose and draws one unit from the tracked stock.
// A second confirmation of the same slot within DuplicateIntakeWindow is
// rejected with ErrAlreadyTaken.
func (s *Store) LogIntake(ctx context.Context, entry *db.IntakeLog) (*int, error) {
	if db.DB == nil {
		return nil, errNoDatabase
	}
	if entry.TakenAt.IsZero() {
		entry.TakenAt = time.Now().UTC()
	}
	entry.TakenAt = entry.TakenAt.UTC()
	var remaining *int
	err := db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var med db.Medication
		if err := tx.Where("id = ? AND user_id = ?", entry.MedicationID, entry.UserID).First(&med).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMedicationNotFound
			}
			return err
		}

		var recent int64
		if err := tx.Model(&db.IntakeLog{}).
			Where("user_id = ? AND medication_id = ? AND request_code = ? AND taken_at > ?",
				entry.UserID, entry.MedicationID, entry.RequestCode, entry.TakenAt.Add(-DuplicateIntakeWindow)).
			Count(&recent).Error; err != nil {
			return err
		}
		if recent > 0 {
			return ErrAlreadyTaken
		}
		if err := tx.Create(entry).Error; err != nil {
			return err
		}
		if med.Stock == nil {
			return nil
		}

		if err := tx.Model(&db.Medication{}).
			Where("id = ? AND stock IS NOT NULL", med.ID).
			Update("stock", gorm.Expr("CASE WHEN stock > 0 THEN stock - 1 ELSE 0 END")).Error; err != nil {
			return err
		}
		var after db.Medication
		if err := tx.Select("stock").Where("id = ?", med.ID).First(&after).Error; err != nil {
			return err
		}
		remaining = after.Stock
		return nil
	})
	if err != nil {
		return nil, err
	}
	return remaining, nil
}

// SetStock starts or stops tracking the remaining units. A nil stock stops
// tracking.
func (s *Store) SetStock(ctx context.Context, userID int64, id uuid.UUID, stock *int) error {
	if db.DB == nil {
		return errNoDatabase
	}
	res := db.DB.WithContext(ctx).Model(&db.Medication{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("stock", stock)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrMedicationNotFound
	}
	return nil
}

// IntakesSince lists a user's confirmed doses taken at or after since.
func (s *Store) IntakesSince(ctx context.Context, userID int64, since time.Time) ([]db.IntakeLog, error) {
	if db.DB == nil {
		return nil, errNoDatabase
	}
	var logs []db.IntakeLog
	err := db.DB.WithContext(ctx).
		Where("user_id = ? AND taken_at >= ?", userID, since.UTC()).
		Order("taken_at ASC").
		Find(&logs).Error
	return logs, err
}

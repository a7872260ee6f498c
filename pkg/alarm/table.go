package alarm

import (
	"context"
	"errors"
	"time"

	"github.com/smith3v/tg-med-reminder/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Facility is the alarm table the scheduler registers against. Each entry is
// addressed by (user, request code).
type Facility interface {
	// Set arms an alarm, replacing any entry under the same address.
	Set(ctx context.Context, alarm db.PendingAlarm) error
	// Cancel drops the entry if present. A missing entry is not an error.
	Cancel(ctx context.Context, userID int64, code int32) error
	// Due returns up to limit entries whose fire time is at or before now.
	Due(ctx context.Context, now time.Time, limit int) ([]db.PendingAlarm, error)
	// Consume removes a due entry exactly once. It reports false when the
	// entry was already consumed, cancelled or re-armed for another instant.
	Consume(ctx context.Context, alarm db.PendingAlarm) (bool, error)
}

// Table is the Facility backed by the pending_alarms table.
type Table struct{}

func NewTable() *Table {
	return &Table{}
}

func (t *Table) Set(ctx context.Context, alarm db.PendingAlarm) error {
	if db.DB == nil {
		return errNoDatabase
	}
	alarm.ID = 0
	alarm.FireAt = alarm.FireAt.UTC()
	return db.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
			{Name: "request_code"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"fire_at",
			"medication_id",
			"medication_name",
			"dosage",
			"dosage_unit",
			"schedule_index",
			"slot_time",
			"updated_at",
		}),
	}).Create(&alarm).Error
}

func (t *Table) Cancel(ctx context.Context, userID int64, code int32) error {
	if db.DB == nil {
		return errNoDatabase
	}
	return db.DB.WithContext(ctx).
		Where("user_id = ? AND request_code = ?", userID, code).
		Delete(&db.PendingAlarm{}).Error
}

func (t *Table) Due(ctx context.Context, now time.Time, limit int) ([]db.PendingAlarm, error) {
	if db.DB == nil {
		return nil, errNoDatabase
	}
	var due []db.PendingAlarm
	query := db.DB.WithContext(ctx).
		Where("fire_at <= ?", now.UTC()).
		Order("fire_at ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&due).Error; err != nil {
		return nil, err
	}
	return due, nil
}

func (t *Table) Consume(ctx context.Context, alarm db.PendingAlarm) (bool, error) {
	if db.DB == nil {
		return false, errNoDatabase
	}
	consumed := false
	err := db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current db.PendingAlarm
		err := tx.Where("user_id = ? AND request_code = ?", alarm.UserID, alarm.RequestCode).
			First(&current).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !current.FireAt.Equal(alarm.FireAt) {
			return nil
		}
		res := tx.Delete(&db.PendingAlarm{}, current.ID)
		if res.Error != nil {
			return res.Error
		}
		consumed = res.RowsAffected > 0
		return nil
	})
	return consumed, err
}

// Pending lists a user's armed alarms in firing order.
func (t *Table) Pending(ctx context.Context, userID int64) ([]db.PendingAlarm, error) {
	if db.DB == nil {
		return nil, errNoDatabase
	}
	var alarms []db.PendingAlarm
	err := db.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("fire_at ASC, request_code ASC").
		Find(&alarms).Error
	return alarms, err
}

var errNoDatabase = errors.New("alarm table: database not initialized")

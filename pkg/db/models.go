// pkg/db/models.go
package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const DefaultTimezone = "UTC"

type UserSettings struct {
	ID                 uint   `gorm:"primaryKey"`
	UserID             int64  `gorm:"uniqueIndex"`
	Timezone           string `gorm:"not null;default:UTC"`
	ExactAlarmsAllowed bool   `gorm:"not null;default:false"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type Medication struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID       int64     `gorm:"index;not null"`
	Name         string    `gorm:"not null"`
	Dosage       string    `gorm:"not null;default:''"` // general dosage value, e.g. "500"
	DosageUnit   string    `gorm:"not null;default:''"` // "mg", "ml", "pill"
	Type         string    `gorm:"not null;default:''"`
	Stock        *int
	Instructions *string
	Color        *string
	Schedules    []Schedule `gorm:"constraint:OnDelete:CASCADE"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (m *Medication) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// Key is the stable string that identifies the medication in request codes.
func (m Medication) Key() string {
	return m.ID.String()
}

type Schedule struct {
	ID           uint      `gorm:"primaryKey"`
	MedicationID uuid.UUID `gorm:"type:uuid;index:idx_schedule_position;not null"`
	Position     int       `gorm:"index:idx_schedule_position;not null;default:0"`
	WeekDays     datatypes.JSONSlice[int]
	Times        datatypes.JSONSlice[string]
	Amounts      datatypes.JSONSlice[string]
	AsNeeded     bool `gorm:"not null;default:false"`
}

// PendingAlarm is one armed reminder slot. The (user_id, request_code) pair
// addresses it; a new registration under the same pair replaces the old one.
type PendingAlarm struct {
	ID             uint      `gorm:"primaryKey"`
	UserID         int64     `gorm:"uniqueIndex:idx_alarm_user_code;not null"`
	RequestCode    int32     `gorm:"uniqueIndex:idx_alarm_user_code;not null"`
	FireAt         time.Time `gorm:"index;not null"`
	MedicationID   uuid.UUID `gorm:"type:uuid;index;not null"`
	MedicationName string    `gorm:"not null"`
	Dosage         string    `gorm:"not null;default:''"`
	DosageUnit     string    `gorm:"not null;default:''"`
	ScheduleIndex  int       `gorm:"not null"`
	SlotTime       string    `gorm:"not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type IntakeLog struct {
	ID           uint      `gorm:"primaryKey"`
	UserID       int64     `gorm:"index;not null"`
	MedicationID uuid.UUID `gorm:"type:uuid;index;not null"`
	RequestCode  int32     `gorm:"not null"`
	SlotTime     string    `gorm:"not null;default:''"`
	Dosage       string    `gorm:"not null;default:''"`
	TakenAt      time.Time `gorm:"index;not null"`
}

// Models lists every table, in migration order.
func Models() []any {
	return []any{&UserSettings{}, &Medication{}, &Schedule{}, &PendingAlarm{}, &IntakeLog{}}
}

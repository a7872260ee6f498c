package db

import (
	"time"
)

// StaleAlarmAge is how long an armed alarm may sit past its fire time before
// retention drops it. Recovery re-arms live slots, so such rows are orphans.
const StaleAlarmAge = 24 * time.Hour

type RetentionResult struct {
	IntakeLogs int64
	Alarms     int64
}

// PurgeExpired drops intake logs older than intakeRetention, alarms left
// StaleAlarmAge past their fire time, and alarms whose medication is gone.
func PurgeExpired(now time.Time, intakeRetention time.Duration) (RetentionResult, error) {
	var result RetentionResult
	if DB == nil {
		return result, nil
	}
	now = now.UTC()

	if intakeRetention > 0 {
		res := DB.Where("taken_at <= ?", now.Add(-intakeRetention)).Delete(&IntakeLog{})
		if res.Error != nil {
			return result, res.Error
		}
		result.IntakeLogs = res.RowsAffected
	}

	res := DB.Where("fire_at <= ?", now.Add(-StaleAlarmAge)).Delete(&PendingAlarm{})
	if res.Error != nil {
		return result, res.Error
	}
	result.Alarms = res.RowsAffected

	res = DB.Where("medication_id NOT IN (?)", DB.Model(&Medication{}).Select("id")).Delete(&PendingAlarm{})
	if res.Error != nil {
		return result, res.Error
	}
	result.Alarms += res.RowsAffected

	return result, nil
}

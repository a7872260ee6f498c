package users

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	_ "time/tzdata"

	"github.com/smith3v/tg-med-reminder/pkg/db"
	"github.com/smith3v/tg-med-reminder/pkg/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultPromptInterval bounds how often one user is asked to allow exact
// reminders.
const DefaultPromptInterval = 6 * time.Hour

var ErrUnknownTimezone = errors.New("unknown timezone")

// Prompter shows the exact-reminder permission request to a user.
type Prompter interface {
	PromptExactPermission(ctx context.Context, userID int64) error
}

// Policy owns per-user settings: the exact-alarm grant and the timezone
// reminders are computed in.
type Policy struct {
	prompter Prompter
	interval time.Duration
	now      func() time.Time

	mu          sync.Mutex
	lastPrompts map[int64]time.Time
}

func NewPolicy(prompter Prompter, interval time.Duration, now func() time.Time) *Policy {
	if interval <= 0 {
		interval = DefaultPromptInterval
	}
	if now == nil {
		now = time.Now
	}
	return &Policy{
		prompter:    prompter,
		interval:    interval,
		now:         now,
		lastPrompts: make(map[int64]time.Time),
	}
}

// Load returns the stored settings, or nil when the user never started.
func (p *Policy) Load(ctx context.Context, userID int64) (*db.UserSettings, error) {
	if db.DB == nil {
		return nil, errNoDatabase
	}
	var settings db.UserSettings
	err := db.DB.WithContext(ctx).Where("user_id = ?", userID).First(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

// Ensure loads the user's settings, creating defaults on first contact.
func (p *Policy) Ensure(ctx context.Context, userID int64) (*db.UserSettings, bool, error) {
	if db.DB == nil {
		return nil, false, errNoDatabase
	}
	settings := db.UserSettings{UserID: userID, Timezone: db.DefaultTimezone}
	res := db.DB.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&settings)
	if res.Error != nil {
		return nil, false, res.Error
	}
	created := res.RowsAffected > 0

	current, err := p.Load(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	if current == nil {
		return nil, false, gorm.ErrRecordNotFound
	}
	return current, created, nil
}

func (p *Policy) CanScheduleExact(ctx context.Context, userID int64) (bool, error) {
	settings, err := p.Load(ctx, userID)
	if err != nil || settings == nil {
		return false, err
	}
	return settings.ExactAlarmsAllowed, nil
}

// RequestExactPermission prompts the user unless they were prompted within
// the policy interval.
func (p *Policy) RequestExactPermission(ctx context.Context, userID int64) error {
	now := p.now()
	p.mu.Lock()
	last, seen := p.lastPrompts[userID]
	if seen && now.Sub(last) < p.interval {
		p.mu.Unlock()
		logger.Debug("exact permission prompt suppressed", "user_id", userID, "last_prompt", last)
		return nil
	}
	p.lastPrompts[userID] = now
	p.mu.Unlock()

	if p.prompter == nil {
		return nil
	}
	if err := p.prompter.PromptExactPermission(ctx, userID); err != nil {
		p.mu.Lock()
		delete(p.lastPrompts, userID)
		p.mu.Unlock()
		return err
	}
	return nil
}

// GrantExact records the user's consent to exact reminders.
func (p *Policy) GrantExact(ctx context.Context, userID int64) error {
	if _, _, err := p.Ensure(ctx, userID); err != nil {
		return err
	}
	if err := db.DB.WithContext(ctx).Model(&db.UserSettings{}).
		Where("user_id = ?", userID).
		Update("exact_alarms_allowed", true).Error; err != nil {
		return err
	}
	p.mu.Lock()
	delete(p.lastPrompts, userID)
	p.mu.Unlock()
	logger.Info("exact reminders allowed", "user_id", userID)
	return nil
}

// Location resolves the user's stored timezone. Unknown or missing zones
// fall back to UTC.
func (p *Policy) Location(ctx context.Context, userID int64) (*time.Location, error) {
	settings, err := p.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if settings == nil || strings.TrimSpace(settings.Timezone) == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(settings.Timezone)
	if err != nil {
		logger.Warn("stored timezone not loadable, using UTC", "user_id", userID, "timezone", settings.Timezone, "error", err)
		return time.UTC, nil
	}
	return loc, nil
}

// SetTimezone validates name as an IANA zone and stores it.
func (p *Policy) SetTimezone(ctx context.Context, userID int64, name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "local") {
		return nil, ErrUnknownTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, ErrUnknownTimezone
	}
	if _, _, err := p.Ensure(ctx, userID); err != nil {
		return nil, err
	}
	if err := db.DB.WithContext(ctx).Model(&db.UserSettings{}).
		Where("user_id = ?", userID).
		Update("timezone", loc.String()).Error; err != nil {
		return nil, err
	}
	return loc, nil
}

var errNoDatabase = errors.New("users: database not initialized")

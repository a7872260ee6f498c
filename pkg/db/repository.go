// pkg/db/repository.go
package db

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/smith3v/tg-med-reminder/pkg/config"
	"github.com/smith3v/tg-med-reminder/pkg/logger"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Export DB variable
var DB *gorm.DB

func InitDB(cfg config.DatabaseConfig) error {
	dialector, err := openDialector(cfg)
	if err != nil {
		logger.Error("unsupported database configuration", "driver", cfg.Driver, "error", err)
		return err
	}

	gormLogger, gormErr := newGormLogger(config.AppConfig.Logging.GormLevel)
	if gormErr != nil {
		logger.Error("invalid gorm log level", "value", config.AppConfig.Logging.GormLevel, "error", gormErr)
	}
	DB, err = gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return err
	}
	if err := Migrate(DB); err != nil {
		logger.Error("failed to migrate database", "error", err)
		return err
	}
	return nil
}

func openDialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "postgres":
		dsn := "host=" + cfg.Host +
			" user=" + cfg.User +
			" password=" + cfg.Password +
			" dbname=" + cfg.DBName +
			" port=" + strconv.Itoa(cfg.Port) +
			" sslmode=" + cfg.SSLMode
		return postgres.Open(dsn), nil
	case "sqlite":
		path := cfg.Path
		if path == "" {
			path = "medreminder.db"
		}
		return sqlite.Open(path), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func Migrate(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	if err := db.AutoMigrate(Models()...); err != nil {
		return err
	}
	return backfillTimezones(db)
}

// backfillTimezones fixes rows written before the timezone column had a default.
func backfillTimezones(db *gorm.DB) error {
	return db.Model(&UserSettings{}).
		Where("timezone IS NULL OR timezone = ''").
		Update("timezone", DefaultTimezone).Error
}

package database

import (
	"errors"
	"time"

	"github.com/ErinHernandez/TopDog-sub011/internal/preferences"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizeDeviceCapability = "2026-09-30_normalize_device_capability"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeDeviceCapability, apply: normalizeDeviceCapability},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// normalizeDeviceCapability lowercases stored capabilities and maps unknown values to none.
func normalizeDeviceCapability(db *gorm.DB) error {
	if err := db.Model(&preferences.Device{}).
		Where("capability <> lower(capability)").
		Update("capability", gorm.Expr("lower(capability)")).Error; err != nil {
		return err
	}
	supported := []string{
		string(preferences.CapabilityNative),
		string(preferences.CapabilityPush),
		string(preferences.CapabilityNone),
	}
	return db.Model(&preferences.Device{}).
		Where("capability NOT IN ?", supported).
		Update("capability", string(preferences.CapabilityNone)).Error
}

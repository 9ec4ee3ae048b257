package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/letters/backend/internal/letters"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationBackfillLetterUpdatedAt = "2026-10-01_backfill_letter_updated_at"
	migrationClearBlankDriveIDs      = "2026-10-01_clear_blank_letter_drive_ids"
)

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

var migrations = []migrationDefinition{
	{name: migrationBackfillLetterUpdatedAt, apply: backfillLetterUpdatedAt},
	{name: migrationClearBlankDriveIDs, apply: clearBlankDriveIDs},
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
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
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: time.Now().UTC().Unix()}).Error
		})
		if err != nil {
			return err
		}
		logger.Info("database migration applied", zap.String("migration", migration.name))
	}
	return nil
}

// Imported letters may predate updated_at tracking; they start out as
// updated when they were created.
func backfillLetterUpdatedAt(db *gorm.DB) error {
	return db.Model(&letters.Letter{}).
		Where("updated_at < created_at").
		Update("updated_at", gorm.Expr("created_at")).Error
}

// A whitespace drive id would be sent to Drive as a file id on update.
func clearBlankDriveIDs(db *gorm.DB) error {
	return db.Model(&letters.Letter{}).
		Where("google_drive_id IS NOT NULL AND TRIM(google_drive_id) = '' AND google_drive_id <> ''").
		Update("google_drive_id", "").Error
}

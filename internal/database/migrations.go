package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/mediadiary/internal/documents"
)

const (
	migrationRepairDocumentTimestamps = "2026-09-01_repair_document_timestamps"
	migrationBackfillDocumentVersions = "2026-09-14_backfill_document_versions"
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

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationRepairDocumentTimestamps, apply: repairDocumentTimestamps},
		{name: migrationBackfillDocumentVersions, apply: backfillDocumentVersions},
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

// repairDocumentTimestamps lifts rows whose updated_at_s trails created_at_s.
func repairDocumentTimestamps(db *gorm.DB) error {
	return db.Model(&documents.Document{}).
		Where("updated_at_s < created_at_s").
		Update("updated_at_s", gorm.Expr("created_at_s")).Error
}

func backfillDocumentVersions(db *gorm.DB) error {
	return db.Model(&documents.Document{}).
		Where("version < 1").
		Update("version", 1).Error
}

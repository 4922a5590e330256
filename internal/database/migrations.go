package database

import (
	"errors"
	"time"

	"github.com/Hakan2211/course-platform/internal/progress"
	"github.com/Hakan2211/course-platform/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationBackfillCompletedAt = "2024-01-10_backfill_completed_at_invariant"
	migrationNormalizeUserEmails = "2024-01-12_normalize_user_emails"
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
		{name: migrationBackfillCompletedAt, apply: backfillCompletedAt},
		{name: migrationNormalizeUserEmails, apply: normalizeUserEmails},
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
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillCompletedAt restores status == completed <=> completed_at IS NOT NULL.
func backfillCompletedAt(db *gorm.DB) error {
	if err := db.Model(&progress.LessonProgress{}).
		Where("status = ? AND completed_at IS NULL", progress.StatusCompleted).
		UpdateColumn("completed_at", gorm.Expr("updated_at")).Error; err != nil {
		return err
	}
	return db.Model(&progress.LessonProgress{}).
		Where("status <> ? AND completed_at IS NOT NULL", progress.StatusCompleted).
		UpdateColumn("completed_at", nil).Error
}

func normalizeUserEmails(db *gorm.DB) error {
	return db.Model(&users.User{}).
		Where("email <> LOWER(TRIM(email))").
		UpdateColumn("email", gorm.Expr("LOWER(TRIM(email))")).Error
}

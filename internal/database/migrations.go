package database

import (
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/codeforge/internal/courses"
	"github.com/MarcoPoloResearchLab/codeforge/internal/snippets"
	"github.com/MarcoPoloResearchLab/codeforge/internal/users"
	"github.com/gosimple/slug"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// migrationRecord marks a named data migration as applied. Schema changes go through AutoMigrate.
type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type dataMigration struct {
	name  string
	apply func(tx *gorm.DB) error
}

// dataMigrations run in order, each at most once.
var dataMigrations = []dataMigration{
	{name: "2024-09-01_backfill_user_ranks", apply: backfillUserRanks},
	{name: "2024-09-14_backfill_course_slugs", apply: backfillCourseSlugs},
	{name: "2024-10-02_lowercase_categories_and_languages", apply: lowercaseCategoriesAndLanguages},
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	var applied []string
	if err := db.Model(&migrationRecord{}).Pluck("name", &applied).Error; err != nil {
		return fmt.Errorf("list applied migrations: %w", err)
	}
	done := make(map[string]struct{}, len(applied))
	for _, name := range applied {
		done[name] = struct{}{}
	}

	for _, migration := range dataMigrations {
		if _, ok := done[migration.name]; ok {
			continue
		}
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: time.Now().UTC().Unix()}).Error
		})
		if err != nil {
			return fmt.Errorf("migration %s: %w", migration.name, err)
		}
		logger.Info("database migration applied", zap.String("migration", migration.name))
	}
	return nil
}

// backfillUserRanks assigns ranks to rows imported before ranks were maintained.
func backfillUserRanks(tx *gorm.DB) error {
	var userIDs []string
	if err := tx.Model(&users.User{}).Order("xp DESC, created_at ASC, id ASC").Pluck("id", &userIDs).Error; err != nil {
		return err
	}
	for index, userID := range userIDs {
		if err := tx.Model(&users.User{}).Where("id = ?", userID).UpdateColumn("rank", index+1).Error; err != nil {
			return err
		}
	}
	return nil
}

func backfillCourseSlugs(tx *gorm.DB) error {
	var pending []courses.Course
	if err := tx.Select("id", "title").Where("slug = ? OR slug IS NULL", "").Find(&pending).Error; err != nil {
		return err
	}
	for _, course := range pending {
		if err := tx.Model(&courses.Course{}).Where("id = ?", course.ID).UpdateColumn("slug", slug.Make(course.Title)).Error; err != nil {
			return err
		}
	}
	return nil
}

// lowercaseCategoriesAndLanguages aligns rows written before inputs were normalised,
// so category filters and language lookups match case-insensitively.
func lowercaseCategoriesAndLanguages(tx *gorm.DB) error {
	result := tx.Model(&courses.Course{}).
		Where("category <> LOWER(category)").
		UpdateColumn("category", gorm.Expr("LOWER(category)"))
	if result.Error != nil {
		return result.Error
	}
	return tx.Model(&snippets.CodeSnippet{}).
		Where("language <> LOWER(language)").
		UpdateColumn("language", gorm.Expr("LOWER(language)")).Error
}

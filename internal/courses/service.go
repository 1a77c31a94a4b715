package courses

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/codeforge/internal/ids"
	"github.com/MarcoPoloResearchLab/codeforge/internal/serviceerror"
	"github.com/gosimple/slug"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrCourseNotFound indicates the referenced course does not exist.
	ErrCourseNotFound = errors.New("courses: course not found")
	// ErrEnrollmentNotFound indicates the user is not enrolled in the course.
	ErrEnrollmentNotFound = errors.New("courses: enrollment not found")
	// ErrInvalidCourse indicates the course attributes failed validation.
	ErrInvalidCourse = errors.New("courses: invalid course")
	// ErrInvalidProgress indicates a progress value outside 0..100.
	ErrInvalidProgress = errors.New("courses: progress must be between 0 and 100")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
)

const (
	opServiceNew      = "courses.service.new"
	opListCourses     = "courses.list"
	opGetCourse       = "courses.get"
	opCreateCourse    = "courses.create"
	opEnroll          = "courses.enroll"
	opUpdateProgress  = "courses.update_progress"
	opListEnrollments = "courses.list_enrollments"
	opSeedCatalog     = "courses.seed_catalog"
)

// ServiceConfig describes the dependencies required by the course service.
type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider ids.Provider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service manages the course catalog and enrollments.
type Service struct {
	db     *gorm.DB
	ids    ids.Provider
	now    func() time.Time
	logger *zap.Logger
}

// NewService constructs the course service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, serviceerror.New(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, serviceerror.New(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:     cfg.Database,
		ids:    cfg.IDProvider,
		now:    clock,
		logger: logger,
	}, nil
}

// GetCourses lists catalog entries newest first. An empty category or "all" returns every course.
func (s *Service) GetCourses(ctx context.Context, category string) ([]Course, error) {
	query := s.db.WithContext(ctx).Order(catalogOrder)
	category = strings.ToLower(strings.TrimSpace(category))
	if category != "" && category != CategoryAll {
		query = query.Where("category = ?", category)
	}
	var catalog []Course
	if err := query.Find(&catalog).Error; err != nil {
		s.logError(opListCourses, "query_failed", err, zap.String("category", category))
		return nil, serviceerror.New(opListCourses, "query_failed", err)
	}
	return catalog, nil
}

// GetCourse loads a single course by id.
func (s *Service) GetCourse(ctx context.Context, courseID string) (Course, error) {
	var course Course
	err := s.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(courseID)).Take(&course).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Course{}, ErrCourseNotFound
	}
	if err != nil {
		s.logError(opGetCourse, "select_failed", err, zap.String("course_id", courseID))
		return Course{}, serviceerror.New(opGetCourse, "select_failed", err)
	}
	return course, nil
}

// CreateCourse validates and stores a new catalog entry.
func (s *Service) CreateCourse(ctx context.Context, input CourseInput) (Course, error) {
	course, err := s.buildCourse(input, s.now().UTC())
	if err != nil {
		return Course{}, err
	}
	if err := s.db.WithContext(ctx).Create(&course).Error; err != nil {
		s.logError(opCreateCourse, "insert_failed", err, zap.String("title", course.Title))
		return Course{}, serviceerror.New(opCreateCourse, "insert_failed", err)
	}
	return course, nil
}

func (s *Service) buildCourse(input CourseInput, createdAt time.Time) (Course, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return Course{}, fmt.Errorf("%w: title is required", ErrInvalidCourse)
	}
	level := strings.ToLower(strings.TrimSpace(input.Level))
	if !validLevel(level) {
		return Course{}, fmt.Errorf("%w: unknown level %q", ErrInvalidCourse, input.Level)
	}
	category := strings.ToLower(strings.TrimSpace(input.Category))
	if category == "" || category == CategoryAll {
		return Course{}, fmt.Errorf("%w: category is required", ErrInvalidCourse)
	}
	if input.Enrolled < 0 {
		return Course{}, fmt.Errorf("%w: enrolled count cannot be negative", ErrInvalidCourse)
	}
	courseID, err := s.ids.NewID()
	if err != nil {
		s.logError(opCreateCourse, "id_failed", err)
		return Course{}, serviceerror.New(opCreateCourse, "id_failed", err)
	}
	return Course{
		ID:                 courseID,
		Slug:               slug.Make(title),
		Title:              title,
		Description:        strings.TrimSpace(input.Description),
		Level:              level,
		Duration:           strings.TrimSpace(input.Duration),
		Category:           category,
		ThumbnailURL:       strings.TrimSpace(input.ThumbnailURL),
		YouTubeVideoID:     strings.TrimSpace(input.YouTubeVideoID),
		YouTubeChannelName: strings.TrimSpace(input.YouTubeChannelName),
		YouTubeVideoURL:    strings.TrimSpace(input.YouTubeVideoURL),
		Enrolled:           input.Enrolled,
		AIGenerated:        input.AIGenerated,
		CreatedAt:          createdAt,
		UpdatedAt:          createdAt,
	}, nil
}

// Enroll registers the user in the course. It is idempotent: an existing enrollment is
// returned unchanged with created=false. The course enrolled counter is incremented in the
// same transaction as the insert, exactly once per distinct user.
func (s *Service) Enroll(ctx context.Context, userID, courseID string) (Enrollment, bool, error) {
	userID = strings.TrimSpace(userID)
	courseID = strings.TrimSpace(courseID)
	if userID == "" {
		return Enrollment{}, false, fmt.Errorf("%w: user id is required", ErrInvalidCourse)
	}

	var enrollment Enrollment
	created := false
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var course Course
		err := tx.Select("id").Where("id = ?", courseID).Take(&course).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrCourseNotFound
		}
		if err != nil {
			s.logError(opEnroll, "course_select_failed", err, zap.String("course_id", courseID))
			return serviceerror.New(opEnroll, "course_select_failed", err)
		}

		err = tx.Where("user_id = ? AND course_id = ?", userID, courseID).Take(&enrollment).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logError(opEnroll, "select_failed", err, zap.String("user_id", userID), zap.String("course_id", courseID))
			return serviceerror.New(opEnroll, "select_failed", err)
		}

		enrollmentID, err := s.ids.NewID()
		if err != nil {
			s.logError(opEnroll, "id_failed", err)
			return serviceerror.New(opEnroll, "id_failed", err)
		}
		candidate := Enrollment{
			ID:        enrollmentID,
			UserID:    userID,
			CourseID:  courseID,
			StartedAt: s.now().UTC(),
		}
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&candidate)
		if result.Error != nil {
			s.logError(opEnroll, "insert_failed", result.Error, zap.String("user_id", userID), zap.String("course_id", courseID))
			return serviceerror.New(opEnroll, "insert_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			// a concurrent request enrolled first
			if err := tx.Where("user_id = ? AND course_id = ?", userID, courseID).Take(&enrollment).Error; err != nil {
				s.logError(opEnroll, "reload_failed", err, zap.String("user_id", userID), zap.String("course_id", courseID))
				return serviceerror.New(opEnroll, "reload_failed", err)
			}
			return nil
		}

		if err := tx.Model(&Course{}).Where("id = ?", courseID).UpdateColumn("enrolled", gorm.Expr("enrolled + ?", 1)).Error; err != nil {
			s.logError(opEnroll, "counter_failed", err, zap.String("course_id", courseID))
			return serviceerror.New(opEnroll, "counter_failed", err)
		}
		enrollment = candidate
		created = true
		return nil
	})
	if txErr != nil {
		return Enrollment{}, false, txErr
	}
	if created {
		s.logger.Info("learner enrolled", zap.String("user_id", userID), zap.String("course_id", courseID))
	}
	return enrollment, created, nil
}

// UpdateProgress records the learner's progress. Reaching 100 marks the enrollment completed;
// completion is sticky. The boolean reports whether this call completed the course.
func (s *Service) UpdateProgress(ctx context.Context, userID, courseID string, progress int) (Enrollment, bool, error) {
	if progress < 0 || progress > maxProgress {
		return Enrollment{}, false, ErrInvalidProgress
	}
	userID = strings.TrimSpace(userID)
	courseID = strings.TrimSpace(courseID)

	var enrollment Enrollment
	completedNow := false
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("user_id = ? AND course_id = ?", userID, courseID).Take(&enrollment).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrEnrollmentNotFound
		}
		if err != nil {
			s.logError(opUpdateProgress, "select_failed", err, zap.String("user_id", userID), zap.String("course_id", courseID))
			return serviceerror.New(opUpdateProgress, "select_failed", err)
		}

		if err := tx.Model(&Enrollment{}).Where("id = ?", enrollment.ID).UpdateColumn("progress", progress).Error; err != nil {
			s.logError(opUpdateProgress, "update_failed", err, zap.String("enrollment_id", enrollment.ID))
			return serviceerror.New(opUpdateProgress, "update_failed", err)
		}
		enrollment.Progress = progress

		if progress < maxProgress || enrollment.Completed {
			return nil
		}
		completedAt := s.now().UTC()
		result := tx.Model(&Enrollment{}).
			Where("id = ? AND completed = ?", enrollment.ID, false).
			UpdateColumns(map[string]interface{}{
				"completed":    true,
				"completed_at": completedAt,
			})
		if result.Error != nil {
			s.logError(opUpdateProgress, "complete_failed", result.Error, zap.String("enrollment_id", enrollment.ID))
			return serviceerror.New(opUpdateProgress, "complete_failed", result.Error)
		}
		enrollment.Completed = true
		if result.RowsAffected > 0 {
			enrollment.CompletedAt = &completedAt
			completedNow = true
		}
		return nil
	})
	if txErr != nil {
		return Enrollment{}, false, txErr
	}
	return enrollment, completedNow, nil
}

// ListEnrollments returns the user's enrollments with course details, most recent first.
func (s *Service) ListEnrollments(ctx context.Context, userID string) ([]Enrollment, error) {
	var enrollments []Enrollment
	err := s.db.WithContext(ctx).
		Preload("Course").
		Where("user_id = ?", strings.TrimSpace(userID)).
		Order("started_at DESC, id DESC").
		Find(&enrollments).
		Error
	if err != nil {
		s.logError(opListEnrollments, "query_failed", err, zap.String("user_id", userID))
		return nil, serviceerror.New(opListEnrollments, "query_failed", err)
	}
	return enrollments, nil
}

// SeedCatalog inserts the starter catalog when no courses exist yet and reports how many were added.
func (s *Service) SeedCatalog(ctx context.Context) (int, error) {
	var existing int64
	if err := s.db.WithContext(ctx).Model(&Course{}).Count(&existing).Error; err != nil {
		s.logError(opSeedCatalog, "count_failed", err)
		return 0, serviceerror.New(opSeedCatalog, "count_failed", err)
	}
	if existing > 0 {
		return 0, nil
	}

	now := s.now().UTC()
	catalog := make([]Course, 0, len(starterCatalog))
	for index, input := range starterCatalog {
		// earlier entries list first under newest-first ordering
		course, err := s.buildCourse(input, now.Add(-time.Duration(index)*time.Second))
		if err != nil {
			return 0, err
		}
		catalog = append(catalog, course)
	}
	if err := s.db.WithContext(ctx).Create(&catalog).Error; err != nil {
		s.logError(opSeedCatalog, "insert_failed", err)
		return 0, serviceerror.New(opSeedCatalog, "insert_failed", err)
	}
	s.logger.Info("course catalog seeded", zap.Int("courses", len(catalog)))
	return len(catalog), nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("courses service error", attrs...)
}

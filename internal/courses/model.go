package courses

import "time"

// Course levels accepted by CreateCourse.
const (
	LevelBeginner     = "beginner"
	LevelIntermediate = "intermediate"
	LevelAdvanced     = "advanced"
)

// CategoryAll disables category filtering in GetCourses.
const CategoryAll = "all"

const (
	maxProgress  = 100
	catalogOrder = "created_at DESC, id DESC"
)

// Course is a catalog entry learners can enroll in.
type Course struct {
	ID                 string    `gorm:"column:id;primaryKey;size:64" json:"id"`
	Slug               string    `gorm:"column:slug;size:255;index" json:"slug"`
	Title              string    `gorm:"column:title;not null" json:"title"`
	Description        string    `gorm:"column:description;type:text;not null" json:"description"`
	Level              string    `gorm:"column:level;size:32;not null" json:"level"`
	Duration           string    `gorm:"column:duration;size:32;not null" json:"duration"`
	Category           string    `gorm:"column:category;size:64;not null;index" json:"category"`
	ThumbnailURL       string    `gorm:"column:thumbnail_url" json:"thumbnailUrl,omitempty"`
	YouTubeVideoID     string    `gorm:"column:youtube_video_id;size:64" json:"youtubeVideoId,omitempty"`
	YouTubeChannelName string    `gorm:"column:youtube_channel_name" json:"youtubeChannelName,omitempty"`
	YouTubeVideoURL    string    `gorm:"column:youtube_video_url" json:"youtubeVideoUrl,omitempty"`
	Enrolled           int64     `gorm:"column:enrolled;not null;default:0" json:"enrolled"`
	AIGenerated        bool      `gorm:"column:ai_generated;not null;default:false" json:"aiGenerated"`
	CreatedAt          time.Time `gorm:"column:created_at;not null" json:"createdAt"`
	UpdatedAt          time.Time `gorm:"column:updated_at;not null" json:"updatedAt"`
}

func (Course) TableName() string {
	return "courses"
}

// Enrollment records a learner's participation and progress in a course.
// At most one row exists per (user, course).
type Enrollment struct {
	ID          string     `gorm:"column:id;primaryKey;size:64" json:"id"`
	UserID      string     `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_user_courses_user_course,priority:1" json:"userId"`
	CourseID    string     `gorm:"column:course_id;size:64;not null;uniqueIndex:idx_user_courses_user_course,priority:2" json:"courseId"`
	Progress    int        `gorm:"column:progress;not null;default:0" json:"progress"`
	Completed   bool       `gorm:"column:completed;not null;default:false" json:"completed"`
	StartedAt   time.Time  `gorm:"column:started_at;not null" json:"startedAt"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completedAt,omitempty"`
	Course      *Course    `gorm:"foreignKey:CourseID;references:ID" json:"course,omitempty"`
}

func (Enrollment) TableName() string {
	return "user_courses"
}

// CourseInput carries the attributes of a new catalog entry.
type CourseInput struct {
	Title              string
	Description        string
	Level              string
	Duration           string
	Category           string
	ThumbnailURL       string
	YouTubeVideoID     string
	YouTubeChannelName string
	YouTubeVideoURL    string
	AIGenerated        bool
	// Enrolled seeds the counter for imported catalog entries.
	Enrolled int64
}

func validLevel(level string) bool {
	switch level {
	case LevelBeginner, LevelIntermediate, LevelAdvanced:
		return true
	default:
		return false
	}
}

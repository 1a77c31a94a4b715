package snippets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/codeforge/internal/ids"
	"github.com/MarcoPoloResearchLab/codeforge/internal/serviceerror"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrSnippetNotFound indicates the snippet does not exist or belongs to another user.
	ErrSnippetNotFound = errors.New("snippets: snippet not found")
	// ErrInvalidSnippet indicates missing snippet attributes.
	ErrInvalidSnippet = errors.New("snippets: invalid snippet")
)

const (
	opCreate = "snippets.create"
	opList   = "snippets.list"
	opGet    = "snippets.get"
)

// CodeSnippet is a piece of code saved from the editor.
type CodeSnippet struct {
	ID         string    `gorm:"column:id;primaryKey;size:64" json:"id"`
	UserID     string    `gorm:"column:user_id;size:190;not null;index:idx_code_snippets_user_created,priority:1" json:"userId"`
	Title      string    `gorm:"column:title;not null" json:"title"`
	Code       string    `gorm:"column:code;type:text;not null" json:"code"`
	Language   string    `gorm:"column:language;size:64;not null" json:"language"`
	AIAssisted bool      `gorm:"column:ai_assisted;not null;default:false" json:"aiAssisted"`
	CreatedAt  time.Time `gorm:"column:created_at;not null;index:idx_code_snippets_user_created,priority:2" json:"createdAt"`
	UpdatedAt  time.Time `gorm:"column:updated_at;not null" json:"updatedAt"`
}

func (CodeSnippet) TableName() string {
	return "code_snippets"
}

// SnippetInput carries the attributes of a new snippet.
type SnippetInput struct {
	Title      string
	Code       string
	Language   string
	AIAssisted bool
}

// ServiceConfig describes the dependencies required by the snippet store.
type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider ids.Provider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service stores user-owned code snippets.
type Service struct {
	db     *gorm.DB
	ids    ids.Provider
	now    func() time.Time
	logger *zap.Logger
}

// NewService constructs the snippet store.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errors.New("snippets: database handle is required")
	}
	if cfg.IDProvider == nil {
		return nil, errors.New("snippets: id provider is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, ids: cfg.IDProvider, now: clock, logger: logger}, nil
}

// Create stores a snippet owned by userID.
func (s *Service) Create(ctx context.Context, userID string, input SnippetInput) (CodeSnippet, error) {
	userID = strings.TrimSpace(userID)
	title := strings.TrimSpace(input.Title)
	language := strings.ToLower(strings.TrimSpace(input.Language))
	switch {
	case userID == "":
		return CodeSnippet{}, fmt.Errorf("%w: owner is required", ErrInvalidSnippet)
	case title == "":
		return CodeSnippet{}, fmt.Errorf("%w: title is required", ErrInvalidSnippet)
	case strings.TrimSpace(input.Code) == "":
		return CodeSnippet{}, fmt.Errorf("%w: code is required", ErrInvalidSnippet)
	case language == "":
		return CodeSnippet{}, fmt.Errorf("%w: language is required", ErrInvalidSnippet)
	}

	snippetID, err := s.ids.NewID()
	if err != nil {
		return CodeSnippet{}, serviceerror.New(opCreate, "id_failed", err)
	}
	now := s.now().UTC()
	snippet := CodeSnippet{
		ID:         snippetID,
		UserID:     userID,
		Title:      title,
		Code:       input.Code,
		Language:   language,
		AIAssisted: input.AIAssisted,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.db.WithContext(ctx).Create(&snippet).Error; err != nil {
		s.logger.Error("snippets service error", zap.String("operation", opCreate), zap.String("reason", "insert_failed"), zap.Error(err))
		return CodeSnippet{}, serviceerror.New(opCreate, "insert_failed", err)
	}
	return snippet, nil
}

// ListByUser returns the user's snippets, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]CodeSnippet, error) {
	var snippets []CodeSnippet
	err := s.db.WithContext(ctx).
		Where("user_id = ?", strings.TrimSpace(userID)).
		Order("created_at DESC, id DESC").
		Find(&snippets).
		Error
	if err != nil {
		s.logger.Error("snippets service error", zap.String("operation", opList), zap.String("reason", "query_failed"), zap.Error(err))
		return nil, serviceerror.New(opList, "query_failed", err)
	}
	return snippets, nil
}

// GetForUser loads a snippet owned by userID. Snippets of other users are reported as missing.
func (s *Service) GetForUser(ctx context.Context, userID, snippetID string) (CodeSnippet, error) {
	var snippet CodeSnippet
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", strings.TrimSpace(snippetID), strings.TrimSpace(userID)).
		Take(&snippet).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return CodeSnippet{}, ErrSnippetNotFound
	}
	if err != nil {
		s.logger.Error("snippets service error", zap.String("operation", opGet), zap.String("reason", "select_failed"), zap.Error(err))
		return CodeSnippet{}, serviceerror.New(opGet, "select_failed", err)
	}
	return snippet, nil
}

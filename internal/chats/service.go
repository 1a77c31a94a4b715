package chats

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
	"gorm.io/gorm/clause"
)

var (
	// ErrChatNotFound indicates no transcript exists for the user and session.
	ErrChatNotFound = errors.New("chats: chat not found")
	// ErrInvalidTranscript indicates a missing session id or a malformed message.
	ErrInvalidTranscript = errors.New("chats: invalid transcript")
)

const (
	opServiceNew = "chats.service.new"
	opGet        = "chats.get"
	opSave       = "chats.save_transcript"
)

// ServiceConfig describes the dependencies required by the chat store.
type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider ids.Provider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service persists assistant chat transcripts keyed by (user, session).
type Service struct {
	db     *gorm.DB
	ids    ids.Provider
	now    func() time.Time
	logger *zap.Logger
}

// NewService constructs the chat store.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, serviceerror.New(opServiceNew, "missing_database", errors.New("database handle is required"))
	}
	if cfg.IDProvider == nil {
		return nil, serviceerror.New(opServiceNew, "missing_id_provider", errors.New("id provider is required"))
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

// Get loads the transcript for the user's session.
func (s *Service) Get(ctx context.Context, userID, sessionID string) (ChatSession, error) {
	var session ChatSession
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND session_id = ?", strings.TrimSpace(userID), strings.TrimSpace(sessionID)).
		Take(&session).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ChatSession{}, ErrChatNotFound
	}
	if err != nil {
		s.logger.Error("chats service error",
			zap.String("operation", opGet),
			zap.String("reason", "select_failed"),
			zap.String("session_id", sessionID),
			zap.Error(err))
		return ChatSession{}, serviceerror.New(opGet, "select_failed", err)
	}
	return session, nil
}

// SaveTranscript replaces the stored transcript for the user's session, creating it when absent.
func (s *Service) SaveTranscript(ctx context.Context, userID, sessionID string, messages []Message) (ChatSession, error) {
	userID = strings.TrimSpace(userID)
	sessionID = strings.TrimSpace(sessionID)
	if userID == "" || sessionID == "" {
		return ChatSession{}, fmt.Errorf("%w: user and session ids are required", ErrInvalidTranscript)
	}
	if err := ValidateMessages(messages); err != nil {
		return ChatSession{}, err
	}

	chatID, err := s.ids.NewID()
	if err != nil {
		return ChatSession{}, serviceerror.New(opSave, "id_failed", err)
	}
	now := s.now().UTC()
	session := ChatSession{
		ID:        chatID,
		UserID:    userID,
		SessionID: sessionID,
		Messages:  append(Transcript{}, messages...),
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"messages", "updated_at"}),
	}).Create(&session).Error
	if err != nil {
		s.logger.Error("chats service error",
			zap.String("operation", opSave),
			zap.String("reason", "upsert_failed"),
			zap.String("session_id", sessionID),
			zap.Error(err))
		return ChatSession{}, serviceerror.New(opSave, "upsert_failed", err)
	}
	return s.Get(ctx, userID, sessionID)
}

// ValidateMessages checks that every message carries a known role and non-empty content.
func ValidateMessages(messages []Message) error {
	if len(messages) == 0 {
		return fmt.Errorf("%w: at least one message is required", ErrInvalidTranscript)
	}
	for index, message := range messages {
		switch message.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return fmt.Errorf("%w: message %d has unknown role %q", ErrInvalidTranscript, index, message.Role)
		}
		if strings.TrimSpace(message.Content) == "" {
			return fmt.Errorf("%w: message %d is empty", ErrInvalidTranscript, index)
		}
	}
	return nil
}

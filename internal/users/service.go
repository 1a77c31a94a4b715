package users

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/codeforge/internal/auth"
	"github.com/MarcoPoloResearchLab/codeforge/internal/serviceerror"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
	ErrInvalidIdentity = errors.New("users: invalid identity")
	// ErrUserNotFound indicates the referenced user does not exist.
	ErrUserNotFound = errors.New("users: user not found")
	// ErrInvalidXPAmount indicates a non-positive XP delta.
	ErrInvalidXPAmount = errors.New("users: xp amount must be positive")

	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

const (
	opServiceNew      = "users.service.new"
	opResolveIdentity = "users.resolve_identity"
	opEnsureUser      = "users.ensure_user"
	opGetUser         = "users.get_user"
	opAwardXP         = "users.award_xp"
	opRecomputeRanks  = "users.recompute_ranks"
	opLeaderboard     = "users.leaderboard"
)

// RerankMode selects when ranks are recomputed after an XP award.
type RerankMode string

const (
	// RerankSync recomputes ranks before AwardXP returns.
	RerankSync RerankMode = "sync"
	// RerankAsync hands recomputation to a background Reranker.
	RerankAsync RerankMode = "async"
)

// ServiceConfig describes the dependencies required for user, XP and leaderboard management.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	Logger     *zap.Logger
	RerankMode RerankMode
	// OnRerank is invoked after every successful rank recomputation.
	OnRerank func()
}

// Service manages learner profiles, provider identities, XP and ranks.
type Service struct {
	db       *gorm.DB
	now      func() time.Time
	logger   *zap.Logger
	reranker *Reranker
	onRerank func()
	cache    sync.Map
}

// NewService constructs the user service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, serviceerror.New(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	service := &Service{
		db:       cfg.Database,
		now:      clock,
		logger:   logger,
		onRerank: cfg.OnRerank,
	}
	switch cfg.RerankMode {
	case "", RerankSync:
	case RerankAsync:
		service.reranker = NewReranker(RerankerConfig{
			Recompute: service.RecomputeRanks,
			Logger:    logger,
		})
	default:
		return nil, serviceerror.New(opServiceNew, "invalid_rerank_mode", fmt.Errorf("unknown rerank mode %q", cfg.RerankMode))
	}
	return service, nil
}

// Reranker returns the background reranker, or nil when ranks are recomputed synchronously.
func (s *Service) Reranker() *Reranker {
	return s.reranker
}

// ResolveCanonicalUserID returns the canonical user id for the provided session claims.
// It creates the identity mapping and the user row when the provider+subject pair has not been seen before.
func (s *Service) ResolveCanonicalUserID(ctx context.Context, claims auth.SessionClaims) (string, error) {
	key := loginKeyFromClaims(claims)
	if !key.valid() {
		return "", ErrInvalidIdentity
	}
	if cached, ok := s.cache.Load(key.String()); ok {
		if userID, ok := cached.(string); ok {
			return userID, nil
		}
	}

	seenAt := s.now()
	var identity Identity
	err := s.db.WithContext(ctx).
		Where("provider = ? AND subject = ?", key.provider, key.subject).
		First(&identity).
		Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		identity = newIdentity(key, claims, seenAt)
		if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&identity).Error; err != nil {
			s.logError(opResolveIdentity, "insert_failed", err, zap.String("login", key.String()))
			return "", serviceerror.New(opResolveIdentity, "insert_failed", err)
		}
	case err != nil:
		s.logError(opResolveIdentity, "select_failed", err, zap.String("login", key.String()))
		return "", serviceerror.New(opResolveIdentity, "select_failed", err)
	default:
		if err := s.db.WithContext(ctx).Model(&Identity{}).
			Where("provider = ? AND subject = ?", key.provider, key.subject).
			Updates(identityChanges(identity, claims, seenAt)).
			Error; err != nil {
			s.logger.Warn("identity refresh failed", zap.String("login", key.String()), zap.Error(err))
		}
	}

	if _, err := s.EnsureUser(ctx, profileFromClaims(identity.UserID, claims)); err != nil {
		return "", err
	}

	s.cache.Store(key.String(), identity.UserID)
	return identity.UserID, nil
}

// EnsureUser creates the user row when missing and refreshes changed profile attributes otherwise.
// New users start with zero XP at the bottom of the leaderboard.
func (s *Service) EnsureUser(ctx context.Context, profile Profile) (User, error) {
	userID := normalize(profile.ID)
	if userID == "" {
		return User{}, ErrInvalidIdentity
	}

	var user User
	err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&user).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logError(opEnsureUser, "select_failed", err, zap.String("user_id", userID))
		return User{}, serviceerror.New(opEnsureUser, "select_failed", err)
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		var existing int64
		if err := s.db.WithContext(ctx).Model(&User{}).Count(&existing).Error; err != nil {
			s.logError(opEnsureUser, "count_failed", err)
			return User{}, serviceerror.New(opEnsureUser, "count_failed", err)
		}
		now := s.now().UTC()
		user = User{
			ID:              userID,
			Email:           normalize(profile.Email),
			FirstName:       normalize(profile.FirstName),
			LastName:        normalize(profile.LastName),
			ProfileImageURL: normalize(profile.ProfileImageURL),
			Rank:            int(existing) + 1,
			Badges:          Badges{},
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&user)
		if result.Error != nil {
			s.logError(opEnsureUser, "insert_failed", result.Error, zap.String("user_id", userID))
			return User{}, serviceerror.New(opEnsureUser, "insert_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return s.GetUser(ctx, userID)
		}
		return user, nil
	}

	updates := map[string]interface{}{}
	if email := normalize(profile.Email); email != "" && email != user.Email {
		updates["email"] = email
		user.Email = email
	}
	if first := normalize(profile.FirstName); first != "" && first != user.FirstName {
		updates["first_name"] = first
		user.FirstName = first
	}
	if last := normalize(profile.LastName); last != "" && last != user.LastName {
		updates["last_name"] = last
		user.LastName = last
	}
	if avatar := normalize(profile.ProfileImageURL); avatar != "" && avatar != user.ProfileImageURL {
		updates["profile_image_url"] = avatar
		user.ProfileImageURL = avatar
	}
	if len(updates) > 0 {
		updates["updated_at"] = s.now().UTC()
		if err := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Updates(updates).Error; err != nil {
			s.logError(opEnsureUser, "update_failed", err, zap.String("user_id", userID))
			return User{}, serviceerror.New(opEnsureUser, "update_failed", err)
		}
	}
	return user, nil
}

// GetUser loads a single user by id.
func (s *Service) GetUser(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("id = ?", normalize(userID)).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		s.logError(opGetUser, "select_failed", err, zap.String("user_id", userID))
		return User{}, serviceerror.New(opGetUser, "select_failed", err)
	}
	return user, nil
}

// AwardXP atomically adds delta to the user's XP counter and refreshes ranks.
// The returned user reflects the applied delta. A failed rerank never fails the award.
func (s *Service) AwardXP(ctx context.Context, userID string, delta int64) (User, error) {
	if delta <= 0 {
		return User{}, ErrInvalidXPAmount
	}
	userID = normalize(userID)
	if userID == "" {
		return User{}, ErrUserNotFound
	}

	var updated User
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&User{}).
			Where("id = ?", userID).
			Updates(map[string]interface{}{
				"xp":         gorm.Expr("xp + ?", delta),
				"updated_at": s.now().UTC(),
			})
		if result.Error != nil {
			s.logError(opAwardXP, "update_failed", result.Error, zap.String("user_id", userID))
			return serviceerror.New(opAwardXP, "update_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrUserNotFound
		}

		if err := tx.Where("id = ?", userID).Take(&updated).Error; err != nil {
			s.logError(opAwardXP, "reload_failed", err, zap.String("user_id", userID))
			return serviceerror.New(opAwardXP, "reload_failed", err)
		}

		earned := milestoneBadges(updated.XP, updated.Badges)
		if len(earned) == 0 {
			return nil
		}
		badges := append(Badges{}, updated.Badges...)
		badges = append(badges, earned...)
		if err := tx.Model(&User{}).Where("id = ?", userID).UpdateColumn("badges", badges).Error; err != nil {
			s.logError(opAwardXP, "badge_update_failed", err, zap.String("user_id", userID))
			return serviceerror.New(opAwardXP, "badge_update_failed", err)
		}
		updated.Badges = badges
		return nil
	})
	if txErr != nil {
		return User{}, txErr
	}

	s.logger.Debug("xp awarded",
		zap.String("user_id", userID),
		zap.Int64("delta", delta),
		zap.Int64("xp", updated.XP))

	if s.reranker != nil {
		s.reranker.Trigger()
		return updated, nil
	}
	if _, err := s.RecomputeRanks(ctx); err != nil {
		s.logger.Warn("rank recomputation after xp award failed",
			zap.String("user_id", userID),
			zap.Error(err))
		return updated, nil
	}
	if reloaded, err := s.GetUser(ctx, userID); err == nil {
		updated = reloaded
	}
	return updated, nil
}

type rankRow struct {
	ID   string
	Rank int
}

// RecomputeRanks assigns 1-based ranks following the global XP ordering.
// Only rows whose rank changed are written; the number of rewritten rows is returned.
func (s *Service) RecomputeRanks(ctx context.Context) (int, error) {
	rewritten := 0
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []rankRow
		if err := tx.Model(&User{}).Select("id", "rank").Order(rankingOrder).Find(&rows).Error; err != nil {
			s.logError(opRecomputeRanks, "select_failed", err)
			return serviceerror.New(opRecomputeRanks, "select_failed", err)
		}
		for index, row := range rows {
			position := index + 1
			if row.Rank == position {
				continue
			}
			if err := tx.Model(&User{}).Where("id = ?", row.ID).UpdateColumn("rank", position).Error; err != nil {
				s.logError(opRecomputeRanks, "update_failed", err, zap.String("user_id", row.ID))
				return serviceerror.New(opRecomputeRanks, "update_failed", err)
			}
			rewritten++
		}
		return nil
	})
	if txErr != nil {
		return 0, txErr
	}
	if s.onRerank != nil {
		s.onRerank()
	}
	return rewritten, nil
}

// GetLeaderboard returns the top users in ranking order.
func (s *Service) GetLeaderboard(ctx context.Context, limit int) ([]User, error) {
	if limit <= 0 {
		limit = defaultLeaderboardLimit
	}
	if limit > maxLeaderboardLimit {
		limit = maxLeaderboardLimit
	}
	var leaders []User
	if err := s.db.WithContext(ctx).Order(rankingOrder).Limit(limit).Find(&leaders).Error; err != nil {
		s.logError(opLeaderboard, "query_failed", err, zap.Int("limit", limit))
		return nil, serviceerror.New(opLeaderboard, "query_failed", err)
	}
	return leaders, nil
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
	s.logger.Error("users service error", attrs...)
}

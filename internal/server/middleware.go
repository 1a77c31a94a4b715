package server

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/codeforge/internal/auth"
	"github.com/MarcoPoloResearchLab/codeforge/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	userID, err := h.users.ResolveCanonicalUserID(c.Request.Context(), claims)
	if err != nil {
		if errors.Is(err, users.ErrInvalidIdentity) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		h.logger.Error("failed to resolve user identity", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "identity_resolution_failed"})
		return
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}

func (h *httpHandler) limitAIRequests(c *gin.Context) {
	if !h.aiLimiter.Allow(c.GetString(userIDContextKey)) {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
		return
	}
	c.Next()
}

type rateVisitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// userRateLimiter keeps one token bucket per learner. A nil limiter allows everything.
type userRateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*rateVisitor
	limit     rate.Limit
	burst     int
	expiry    time.Duration
	lastPrune time.Time
	now       func() time.Time
}

func newUserRateLimiter(maxRequests int, window time.Duration) *userRateLimiter {
	if maxRequests <= 0 || window <= 0 {
		return nil
	}
	return &userRateLimiter{
		visitors: make(map[string]*rateVisitor),
		limit:    rate.Every(window / time.Duration(maxRequests)),
		burst:    maxRequests,
		expiry:   window * 3,
		now:      time.Now,
	}
}

func (l *userRateLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastPrune) > l.expiry {
		for visitorKey, visitor := range l.visitors {
			if now.Sub(visitor.lastSeen) > l.expiry {
				delete(l.visitors, visitorKey)
			}
		}
		l.lastPrune = now
	}

	visitor, exists := l.visitors[key]
	if !exists {
		visitor = &rateVisitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = visitor
	}
	visitor.lastSeen = now
	return visitor.limiter.AllowN(now, 1)
}

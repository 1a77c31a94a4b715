package server

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/codeforge/internal/users"
	"github.com/gin-gonic/gin"
)

const xpReasonManual = "manual"

type awardXPRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

type currentUserResponse struct {
	users.User
	Level           int   `json:"level"`
	NextLevelAtXP   int64 `json:"nextLevelXp"`
	SnippetCount    int   `json:"snippetCount"`
	EnrolledCourses int   `json:"enrolledCourses"`
}

// awardXP applies an XP delta and fans the result out to metrics and stream subscribers.
func (h *httpHandler) awardXP(c *gin.Context, userID string, amount int64, reason string) (users.User, error) {
	user, err := h.users.AwardXP(c.Request.Context(), userID, amount)
	if err != nil {
		return users.User{}, err
	}
	h.metrics.ObserveXP(reason, amount)
	h.realtime.Publish(RealtimeMessage{
		EventType: RealtimeEventXPAwarded,
		UserID:    user.ID,
		XP:        user.XP,
		Rank:      user.Rank,
		Delta:     amount,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	})
	return user, nil
}

func (h *httpHandler) handleCurrentUser(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	user, err := h.users.GetUser(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, "current_user", err)
		return
	}
	enrollments, err := h.courses.ListEnrollments(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, "current_user", err)
		return
	}
	snippets, err := h.snippets.ListByUser(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, "current_user", err)
		return
	}
	level, nextLevel := user.Level()
	c.JSON(http.StatusOK, currentUserResponse{
		User:            user,
		Level:           level,
		NextLevelAtXP:   nextLevel,
		SnippetCount:    len(snippets),
		EnrolledCourses: len(enrollments),
	})
}

func (h *httpHandler) handleAwardXP(c *gin.Context) {
	var request awardXPRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
		return
	}
	reason := strings.TrimSpace(request.Reason)
	if reason == "" {
		reason = xpReasonManual
	}

	user, err := h.awardXP(c, c.GetString(userIDContextKey), request.Amount, reason)
	if err != nil {
		h.respondError(c, "award_xp", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":    user,
		"awarded": request.Amount,
		"reason":  reason,
	})
}

func (h *httpHandler) handleLeaderboard(c *gin.Context) {
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		limit = parsed
	}
	leaders, err := h.users.GetLeaderboard(c.Request.Context(), limit)
	if err != nil {
		h.respondError(c, "leaderboard", err)
		return
	}
	entries := make([]users.LeaderboardEntry, 0, len(leaders))
	for _, leader := range leaders {
		entries = append(entries, leader.LeaderboardEntry())
	}
	c.JSON(http.StatusOK, entries)
}

func (h *httpHandler) handleLeaderboardStream(c *gin.Context) {
	ctx := c.Request.Context()
	events, cleanup := h.realtime.Subscribe(ctx)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(realtimeHeartbeatEvery)
	defer heartbeat.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, open := <-events:
			if !open {
				return false
			}
			c.SSEvent(message.EventType, message)
			return true
		case tick := <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"timestamp": tick.UTC()})
			return true
		}
	})
}

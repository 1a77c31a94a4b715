package server

import (
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/codeforge/internal/ai"
	"github.com/MarcoPoloResearchLab/codeforge/internal/courses"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	xpReasonEnrollment = "course_enrollment"
	xpReasonCompletion = "course_completion"
)

type createCourseRequest struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	Level        string `json:"level"`
	Duration     string `json:"duration"`
	Category     string `json:"category"`
	ThumbnailURL string `json:"thumbnailUrl"`
	GenerateAI   bool   `json:"generateAI"`
}

type progressRequest struct {
	Progress *int `json:"progress"`
}

func (h *httpHandler) handleListCourses(c *gin.Context) {
	catalog, err := h.courses.GetCourses(c.Request.Context(), c.Query("category"))
	if err != nil {
		h.respondError(c, "list_courses", err)
		return
	}
	c.JSON(http.StatusOK, catalog)
}

func (h *httpHandler) handleGetCourse(c *gin.Context) {
	course, err := h.courses.GetCourse(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "get_course", err)
		return
	}
	c.JSON(http.StatusOK, course)
}

func (h *httpHandler) handleCreateCourse(c *gin.Context) {
	var request createCourseRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
		return
	}

	input := courses.CourseInput{
		Title:        request.Title,
		Description:  request.Description,
		Level:        request.Level,
		Duration:     request.Duration,
		Category:     request.Category,
		ThumbnailURL: request.ThumbnailURL,
	}
	if request.GenerateAI {
		content := h.assistant.GenerateCourseContent(c.Request.Context(), request.Title, request.Level, request.Category)
		input.Description = content.Description
		input.Duration = content.Duration
		input.AIGenerated = content.Generated
		if strings.TrimSpace(input.ThumbnailURL) == "" {
			input.ThumbnailURL = ai.PlaceholderThumbnail(request.Category)
		}
		outcome := "ok"
		if !content.Generated {
			outcome = "fallback"
		}
		h.metrics.ObserveAIRequest("course_content", outcome)
	}

	course, err := h.courses.CreateCourse(c.Request.Context(), input)
	if err != nil {
		h.respondError(c, "create_course", err)
		return
	}
	c.JSON(http.StatusCreated, course)
}

func (h *httpHandler) handleEnroll(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	courseID := c.Param("id")

	enrollment, created, err := h.courses.Enroll(c.Request.Context(), userID, courseID)
	if err != nil {
		h.respondError(c, "enroll", err)
		return
	}

	var awarded int64
	if created {
		h.metrics.ObserveEnrollment()
		if _, err := h.awardXP(c, userID, h.rewards.Enroll, xpReasonEnrollment); err != nil {
			h.logger.Error("enrollment bonus failed",
				zap.String("user_id", userID),
				zap.String("course_id", courseID),
				zap.Error(err))
		} else {
			awarded = h.rewards.Enroll
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"enrollment": enrollment,
		"created":    created,
		"xpAwarded":  awarded,
	})
}

func (h *httpHandler) handleListUserCourses(c *gin.Context) {
	enrollments, err := h.courses.ListEnrollments(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		h.respondError(c, "list_user_courses", err)
		return
	}
	c.JSON(http.StatusOK, enrollments)
}

func (h *httpHandler) handleUpdateProgress(c *gin.Context) {
	var request progressRequest
	if err := c.ShouldBindJSON(&request); err != nil || request.Progress == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
		return
	}
	userID := c.GetString(userIDContextKey)
	courseID := c.Param("id")

	enrollment, completedNow, err := h.courses.UpdateProgress(c.Request.Context(), userID, courseID, *request.Progress)
	if err != nil {
		h.respondError(c, "update_progress", err)
		return
	}

	var awarded int64
	if completedNow {
		if _, err := h.awardXP(c, userID, h.rewards.Completion, xpReasonCompletion); err != nil {
			h.logger.Error("completion bonus failed",
				zap.String("user_id", userID),
				zap.String("course_id", courseID),
				zap.Error(err))
		} else {
			awarded = h.rewards.Completion
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"enrollment": enrollment,
		"xpAwarded":  awarded,
	})
}

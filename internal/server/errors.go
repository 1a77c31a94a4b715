package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/codeforge/internal/ai"
	"github.com/MarcoPoloResearchLab/codeforge/internal/chats"
	"github.com/MarcoPoloResearchLab/codeforge/internal/courses"
	"github.com/MarcoPoloResearchLab/codeforge/internal/serviceerror"
	"github.com/MarcoPoloResearchLab/codeforge/internal/snippets"
	"github.com/MarcoPoloResearchLab/codeforge/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{target: users.ErrInvalidXPAmount, status: http.StatusBadRequest, code: "invalid_xp_amount"},
	{target: users.ErrUserNotFound, status: http.StatusNotFound, code: "user_not_found"},
	{target: courses.ErrInvalidCourse, status: http.StatusBadRequest, code: "invalid_course"},
	{target: courses.ErrInvalidProgress, status: http.StatusBadRequest, code: "invalid_progress"},
	{target: courses.ErrCourseNotFound, status: http.StatusNotFound, code: "course_not_found"},
	{target: courses.ErrEnrollmentNotFound, status: http.StatusNotFound, code: "enrollment_not_found"},
	{target: chats.ErrInvalidTranscript, status: http.StatusBadRequest, code: "invalid_request"},
	{target: chats.ErrChatNotFound, status: http.StatusNotFound, code: "chat_not_found"},
	{target: snippets.ErrInvalidSnippet, status: http.StatusBadRequest, code: "invalid_snippet"},
	{target: snippets.ErrSnippetNotFound, status: http.StatusNotFound, code: "snippet_not_found"},
	{target: ai.ErrInvalidRequest, status: http.StatusBadRequest, code: "invalid_request"},
}

// respondError maps domain sentinels to client errors and everything else to a 500
// carrying the service error code when one is present.
func (h *httpHandler) respondError(c *gin.Context, operation string, err error) {
	for _, mapping := range errorMappings {
		if errors.Is(err, mapping.target) {
			c.JSON(mapping.status, gin.H{"error": mapping.code, "message": err.Error()})
			return
		}
	}
	body := gin.H{"error": "internal_error"}
	if code, ok := serviceerror.CodeOf(err); ok {
		body["code"] = code
	}
	h.logger.Error("request failed", zap.String("operation", operation), zap.Error(err))
	c.JSON(http.StatusInternalServerError, body)
}

// aiFailureStatus maps a structured AI failure to its HTTP status.
func aiFailureStatus(failure string) int {
	if failure == ai.FailureNotConfigured {
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}

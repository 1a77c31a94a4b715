package server

import (
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/codeforge/internal/ai"
	"github.com/MarcoPoloResearchLab/codeforge/internal/chats"
	"github.com/MarcoPoloResearchLab/codeforge/internal/snippets"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const xpReasonSnippet = "code_snippet"

type chatRequest struct {
	SessionID string          `json:"sessionId"`
	Messages  []chats.Message `json:"messages"`
}

type updateKeyRequest struct {
	APIKey string `json:"apiKey"`
}

type createSnippetRequest struct {
	Title      string `json:"title"`
	Code       string `json:"code"`
	Language   string `json:"language"`
	AIAssisted bool   `json:"aiAssisted"`
}

func (h *httpHandler) handleCodeAssistance(c *gin.Context) {
	var request ai.CodeAssistanceRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
		return
	}
	result, err := h.assistant.CodeAssistance(c.Request.Context(), request)
	if err != nil {
		h.respondError(c, "code_assistance", err)
		return
	}
	if !result.Success {
		h.metrics.ObserveAIRequest("code_assistance", result.Error)
		c.JSON(aiFailureStatus(result.Error), result)
		return
	}
	h.metrics.ObserveAIRequest("code_assistance", "ok")
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleChat(c *gin.Context) {
	var request chatRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
		return
	}
	sessionID := strings.TrimSpace(request.SessionID)
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "sessionId is required"})
		return
	}
	if err := chats.ValidateMessages(request.Messages); err != nil {
		h.respondError(c, "chat", err)
		return
	}

	conversation := make([]ai.Message, 0, len(request.Messages))
	for _, message := range request.Messages {
		conversation = append(conversation, ai.Message{Role: message.Role, Content: message.Content})
	}
	result, err := h.assistant.Chat(c.Request.Context(), conversation)
	if err != nil {
		h.respondError(c, "chat", err)
		return
	}
	if !result.Success {
		h.metrics.ObserveAIRequest("chat", result.Error)
		c.JSON(aiFailureStatus(result.Error), result)
		return
	}
	h.metrics.ObserveAIRequest("chat", "ok")

	transcript := append(append([]chats.Message{}, request.Messages...), chats.Message{
		Role:    chats.RoleAssistant,
		Content: result.Content,
	})
	userID := c.GetString(userIDContextKey)
	if _, err := h.chats.SaveTranscript(c.Request.Context(), userID, sessionID, transcript); err != nil {
		h.logger.Error("chat transcript not persisted",
			zap.String("user_id", userID),
			zap.String("session_id", sessionID),
			zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"response": result.Content,
		"messages": transcript,
	})
}

func (h *httpHandler) handleGetChat(c *gin.Context) {
	session, err := h.chats.Get(c.Request.Context(), c.GetString(userIDContextKey), c.Param("sessionId"))
	if err != nil {
		h.respondError(c, "get_chat", err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *httpHandler) handleAIStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.assistant.Status())
}

func (h *httpHandler) handleUpdateAIKey(c *gin.Context) {
	if !h.keyUpdates {
		h.logger.Warn("ai key update rejected", zap.String("user_id", c.GetString(userIDContextKey)))
		c.JSON(http.StatusForbidden, gin.H{"error": "key_updates_disabled"})
		return
	}
	var request updateKeyRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
		return
	}
	if err := h.assistant.UpdateAPIKey(request.APIKey); err != nil {
		h.respondError(c, "update_ai_key", err)
		return
	}
	h.logger.Info("ai api key rotated", zap.String("user_id", c.GetString(userIDContextKey)))
	c.JSON(http.StatusOK, h.assistant.Status())
}

func (h *httpHandler) handleCreateSnippet(c *gin.Context) {
	var request createSnippetRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
		return
	}
	userID := c.GetString(userIDContextKey)
	snippet, err := h.snippets.Create(c.Request.Context(), userID, snippets.SnippetInput{
		Title:      request.Title,
		Code:       request.Code,
		Language:   request.Language,
		AIAssisted: request.AIAssisted,
	})
	if err != nil {
		h.respondError(c, "create_snippet", err)
		return
	}

	var awarded int64
	if _, err := h.awardXP(c, userID, h.rewards.Snippet, xpReasonSnippet); err != nil {
		h.logger.Error("snippet bonus failed",
			zap.String("user_id", userID),
			zap.String("snippet_id", snippet.ID),
			zap.Error(err))
	} else {
		awarded = h.rewards.Snippet
	}
	c.JSON(http.StatusCreated, gin.H{
		"snippet":   snippet,
		"xpAwarded": awarded,
	})
}

func (h *httpHandler) handleListSnippets(c *gin.Context) {
	list, err := h.snippets.ListByUser(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		h.respondError(c, "list_snippets", err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *httpHandler) handleGetSnippet(c *gin.Context) {
	snippet, err := h.snippets.GetForUser(c.Request.Context(), c.GetString(userIDContextKey), c.Param("id"))
	if err != nil {
		h.respondError(c, "get_snippet", err)
		return
	}
	c.JSON(http.StatusOK, snippet)
}

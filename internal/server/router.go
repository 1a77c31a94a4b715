package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/codeforge/internal/ai"
	"github.com/MarcoPoloResearchLab/codeforge/internal/auth"
	"github.com/MarcoPoloResearchLab/codeforge/internal/chats"
	"github.com/MarcoPoloResearchLab/codeforge/internal/courses"
	"github.com/MarcoPoloResearchLab/codeforge/internal/metrics"
	"github.com/MarcoPoloResearchLab/codeforge/internal/snippets"
	"github.com/MarcoPoloResearchLab/codeforge/internal/tracing"
	"github.com/MarcoPoloResearchLab/codeforge/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const userIDContextKey = "codeforge_user_id"

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingUsersService     = errors.New("users service dependency required")
	errMissingCoursesService   = errors.New("courses service dependency required")
	errMissingChatsService     = errors.New("chats service dependency required")
	errMissingSnippetsService  = errors.New("snippets service dependency required")
	errMissingAssistant        = errors.New("ai assistant dependency required")
)

// SessionValidator authenticates requests carrying a session issued by the identity provider.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// XPRewards lists the fixed XP bonuses granted by learner actions.
type XPRewards struct {
	Enroll     int64
	Snippet    int64
	Completion int64
}

// Dependencies wires the HTTP layer to the domain services.
type Dependencies struct {
	SessionValidator SessionValidator
	Users            *users.Service
	Courses          *courses.Service
	Chats            *chats.Service
	Snippets         *snippets.Service
	Assistant        *ai.Assistant
	Realtime         *RealtimeDispatcher
	// Metrics is optional; when set, /metrics is served and requests are recorded.
	Metrics *metrics.Collector
	// TracerProvider is optional; when set, every request gets a server span.
	TracerProvider trace.TracerProvider
	Rewards        XPRewards
	AllowedOrigins []string
	// AIRequestsPerMinute bounds code-assistance and chat calls per learner. Zero disables the limit.
	AIRequestsPerMinute int
	// AllowAIKeyUpdates enables POST /api/ai/update-key. The key is shared by every learner.
	AllowAIKeyUpdates bool
	Logger            *zap.Logger
}

// NewHTTPHandler builds the gin engine with every route registered.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.SessionValidator == nil:
		return nil, errMissingSessionValidator
	case deps.Users == nil:
		return nil, errMissingUsersService
	case deps.Courses == nil:
		return nil, errMissingCoursesService
	case deps.Chats == nil:
		return nil, errMissingChatsService
	case deps.Snippets == nil:
		return nil, errMissingSnippetsService
	case deps.Assistant == nil:
		return nil, errMissingAssistant
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if deps.TracerProvider != nil {
		router.Use(tracing.GinMiddleware(deps.TracerProvider))
	}
	if deps.Metrics != nil {
		router.Use(deps.Metrics.Middleware())
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		sessions:   deps.SessionValidator,
		users:      deps.Users,
		courses:    deps.Courses,
		chats:      deps.Chats,
		snippets:   deps.Snippets,
		assistant:  deps.Assistant,
		realtime:   realtime,
		metrics:    deps.Metrics,
		rewards:    deps.Rewards,
		aiLimiter:  newUserRateLimiter(deps.AIRequestsPerMinute, time.Minute),
		keyUpdates: deps.AllowAIKeyUpdates,
		logger:     logger,
	}

	api := router.Group("/api")
	api.GET("/health", handler.handleHealth)
	api.GET("/courses", handler.handleListCourses)
	api.GET("/courses/:id", handler.handleGetCourse)
	api.GET("/leaderboard", handler.handleLeaderboard)
	api.GET("/leaderboard/stream", handler.handleLeaderboardStream)

	protected := api.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/auth/user", handler.handleCurrentUser)
	protected.POST("/courses", handler.handleCreateCourse)
	protected.POST("/courses/:id/enroll", handler.handleEnroll)
	protected.GET("/user/courses", handler.handleListUserCourses)
	protected.PATCH("/user/courses/:id/progress", handler.handleUpdateProgress)
	protected.POST("/user/award-xp", handler.handleAwardXP)
	protected.POST("/ai/code-assistance", handler.limitAIRequests, handler.handleCodeAssistance)
	protected.POST("/ai/chat", handler.limitAIRequests, handler.handleChat)
	protected.GET("/ai/chat/:sessionId", handler.handleGetChat)
	protected.GET("/ai/status", handler.handleAIStatus)
	protected.POST("/ai/update-key", handler.handleUpdateAIKey)
	protected.POST("/code-snippets", handler.handleCreateSnippet)
	protected.GET("/code-snippets", handler.handleListSnippets)
	protected.GET("/code-snippets/:id", handler.handleGetSnippet)

	return router, nil
}

type httpHandler struct {
	sessions   SessionValidator
	users      *users.Service
	courses    *courses.Service
	chats      *chats.Service
	snippets   *snippets.Service
	assistant  *ai.Assistant
	realtime   *RealtimeDispatcher
	metrics    *metrics.Collector
	rewards    XPRewards
	aiLimiter  *userRateLimiter
	keyUpdates bool
	logger     *zap.Logger
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Origin"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	origins := make([]string, 0, len(allowedOrigins))
	wildcard := len(allowedOrigins) == 0
	for _, origin := range allowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			wildcard = true
			continue
		}
		if origin != "" {
			origins = append(origins, origin)
		}
	}
	if wildcard {
		// credentialed requests cannot use a literal "*", so the request origin is echoed
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = origins
	}
	return cors.New(config)
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

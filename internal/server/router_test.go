package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/codeforge/internal/ai"
	"github.com/MarcoPoloResearchLab/codeforge/internal/auth"
	"github.com/MarcoPoloResearchLab/codeforge/internal/chats"
	"github.com/MarcoPoloResearchLab/codeforge/internal/courses"
	"github.com/MarcoPoloResearchLab/codeforge/internal/database"
	"github.com/MarcoPoloResearchLab/codeforge/internal/ids"
	"github.com/MarcoPoloResearchLab/codeforge/internal/metrics"
	"github.com/MarcoPoloResearchLab/codeforge/internal/snippets"
	"github.com/MarcoPoloResearchLab/codeforge/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

const (
	testSigningKey = "router-test-signing-key"
	testCookieName = "app_session"
)

type stubProvider struct {
	mu    sync.Mutex
	reply string
	err   error
	calls int
}

func (p *stubProvider) Name() string  { return "stub" }
func (p *stubProvider) Model() string { return "stub-model" }

func (p *stubProvider) Complete(context.Context, string, ai.Prompt) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.reply, p.err
}

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type harnessOptions struct {
	apiKey         string
	aiLimit        int
	aiKeyUpdates   bool
	allowedOrigins []string
	logger         *zap.Logger
	metrics        *metrics.Collector
	provider       *stubProvider
}

type routerHarness struct {
	handler  http.Handler
	db       *gorm.DB
	users    *users.Service
	courses  *courses.Service
	provider *stubProvider
	realtime *RealtimeDispatcher
}

func newRouterHarness(t *testing.T, options harnessOptions) *routerHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.Open(database.Config{
		Driver: database.DriverSQLite,
		Path:   "file:" + name + "?mode=memory&cache=shared",
	}, nil)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	logger := options.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	idProvider := ids.NewUUIDProvider()

	userService, err := users.NewService(users.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		t.Fatalf("failed to build users service: %v", err)
	}
	courseService, err := courses.NewService(courses.ServiceConfig{Database: db, IDProvider: idProvider, Logger: logger})
	if err != nil {
		t.Fatalf("failed to build courses service: %v", err)
	}
	chatService, err := chats.NewService(chats.ServiceConfig{Database: db, IDProvider: idProvider, Logger: logger})
	if err != nil {
		t.Fatalf("failed to build chats service: %v", err)
	}
	snippetService, err := snippets.NewService(snippets.ServiceConfig{Database: db, IDProvider: idProvider, Logger: logger})
	if err != nil {
		t.Fatalf("failed to build snippets service: %v", err)
	}

	provider := options.provider
	if provider == nil {
		provider = &stubProvider{reply: "stub reply"}
	}
	assistant, err := ai.NewAssistant(ai.AssistantConfig{
		Provider:    provider,
		Credentials: ai.NewKeyStore(options.apiKey),
		Timeout:     time.Second,
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("failed to build assistant: %v", err)
	}

	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningKey),
		CookieName:    testCookieName,
	})
	if err != nil {
		t.Fatalf("failed to build session validator: %v", err)
	}

	realtime := NewRealtimeDispatcher()
	handler, err := NewHTTPHandler(Dependencies{
		SessionValidator:    validator,
		Users:               userService,
		Courses:             courseService,
		Chats:               chatService,
		Snippets:            snippetService,
		Assistant:           assistant,
		Realtime:            realtime,
		Metrics:             options.metrics,
		Rewards:             XPRewards{Enroll: 50, Snippet: 10, Completion: 100},
		AllowedOrigins:      options.allowedOrigins,
		AIRequestsPerMinute: options.aiLimit,
		AllowAIKeyUpdates:   options.aiKeyUpdates,
		Logger:              logger,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	return &routerHarness{
		handler:  handler,
		db:       db,
		users:    userService,
		courses:  courseService,
		provider: provider,
		realtime: realtime,
	}
}

func signSession(t *testing.T, userID string, expiresAt time.Time) string {
	t.Helper()
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.SessionClaims{
		UserID:          userID,
		UserEmail:       userID + "@example.com",
		UserDisplayName: "Learner " + userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "tauth",
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now.Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString([]byte(testSigningKey))
	if err != nil {
		t.Fatalf("failed to sign session: %v", err)
	}
	return signed
}

func validSession(t *testing.T, userID string) string {
	return signSession(t, userID, time.Now().Add(time.Hour))
}

func (h *routerHarness) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	h.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

func expectStatus(t *testing.T, recorder *httptest.ResponseRecorder, status int) {
	t.Helper()
	if recorder.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, recorder.Code, recorder.Body.String())
	}
}

func expectErrorCode(t *testing.T, recorder *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	expectStatus(t, recorder, status)
	var payload map[string]any
	decodeBody(t, recorder, &payload)
	if payload["error"] != code {
		t.Fatalf("expected error %q, got %v", code, payload["error"])
	}
}

func (h *routerHarness) createCourse(t *testing.T, title, category string) courses.Course {
	t.Helper()
	course, err := h.courses.CreateCourse(context.Background(), courses.CourseInput{
		Title:       title,
		Description: title + " description",
		Level:       courses.LevelBeginner,
		Duration:    "1h",
		Category:    category,
	})
	if err != nil {
		t.Fatalf("failed to create course: %v", err)
	}
	return course
}

func (h *routerHarness) currentXP(t *testing.T, token string) int64 {
	t.Helper()
	recorder := h.do(t, http.MethodGet, "/api/auth/user", nil, token)
	expectStatus(t, recorder, http.StatusOK)
	var payload struct {
		XP int64 `json:"xp"`
	}
	decodeBody(t, recorder, &payload)
	return payload.XP
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); !errors.Is(err, errMissingSessionValidator) {
		t.Fatalf("expected missing validator error, got %v", err)
	}
}

func TestHealthIsPublic(t *testing.T) {
	harness := newRouterHarness(t, harnessOptions{})
	recorder := harness.do(t, http.MethodGet, "/api/health", nil, "")
	expectStatus(t, recorder, http.StatusOK)
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	harness := newRouterHarness(t, harnessOptions{})
	for _, path := range []string{"/api/auth/user", "/api/user/courses", "/api/code-snippets", "/api/ai/status"} {
		recorder := harness.do(t, http.MethodGet, path, nil, "")
		expectErrorCode(t, recorder, http.StatusUnauthorized, "unauthorized")
	}
}

func TestSessionCookieAuthenticates(t *testing.T) {
	harness := newRouterHarness(t, harnessOptions{})
	request := httptest.NewRequest(http.MethodGet, "/api/auth/user", nil)
	request.AddCookie(&http.Cookie{Name: testCookieName, Value: validSession(t, "cookie-user")})
	recorder := httptest.NewRecorder()
	harness.handler.ServeHTTP(recorder, request)
	expectStatus(t, recorder, http.StatusOK)

	var payload struct {
		ID    string `json:"id"`
		Level int    `json:"level"`
	}
	decodeBody(t, recorder, &payload)
	if payload.ID != "cookie-user" || payload.Level != 0 {
		t.Fatalf("unexpected profile %+v", payload)
	}
}

func TestAuthorizationFailuresAreLoggedBySeverity(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	harness := newRouterHarness(t, harnessOptions{logger: zap.New(core)})

	expired := signSession(t, "late-user", time.Now().Add(-time.Minute))
	expectStatus(t, harness.do(t, http.MethodGet, "/api/auth/user", nil, expired), http.StatusUnauthorized)
	expectStatus(t, harness.do(t, http.MethodGet, "/api/auth/user", nil, "not-a-jwt"), http.StatusUnauthorized)

	entries := logs.FilterMessage("session validation failed").All()
	if len(entries) != 2 {
		t.Fatalf("expected two validation log entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel {
		t.Fatalf("expected expired session at info level, got %s", entries[0].Level)
	}
	if entries[1].Level != zapcore.WarnLevel {
		t.Fatalf("expected malformed session at warn level, got %s", entries[1].Level)
	}
}

func TestAwardXPRejectsNonPositiveAmounts(t *testing.T) {
	harness := newRouterHarness(t, harnessOptions{})
	token := validSession(t, "learner-1")

	for _, amount := range []int64{0, -5} {
		recorder := harness.do(t, http.MethodPost, "/api/user/award-xp", gin.H{"amount": amount, "reason": "cheat"}, token)
		expectErrorCode(t, recorder, http.StatusBadRequest, "invalid_xp_amount")
	}
	if xp := harness.currentXP(t, token); xp != 0 {
		t.Fatalf("expected xp unchanged at 0, got %d", xp)
	}

	recorder := harness.do(t, http.MethodPost, "/api/user/award-xp", gin.H{"amount": 25, "reason": "quiz"}, token)
	expectStatus(t, recorder, http.StatusOK)
	var payload struct {
		User    users.User `json:"user"`
		Awarded int64      `json:"awarded"`
		Reason  string     `json:"reason"`
	}
	decodeBody(t, recorder, &payload)
	if payload.User.XP != 25 || payload.User.Rank != 1 || payload.Awarded != 25 || payload.Reason != "quiz" {
		t.Fatalf("unexpected award response %+v", payload)
	}
}

func TestEnrollTwiceAwardsBonusOnce(t *testing.T) {
	harness := newRouterHarness(t, harnessOptions{})
	course := harness.createCourse(t, "Go Concurrency", "backend")
	token := validSession(t, "learner-1")

	type enrollResponse struct {
		Enrollment courses.Enrollment `json:"enrollment"`
		Created    bool               `json:"created"`
		XPAwarded  int64              `json:"xpAwarded"`
	}

	first := harness.do(t, http.MethodPost, "/api/courses/"+course.ID+"/enroll", nil, token)
	expectStatus(t, first, http.StatusOK)
	var firstPayload enrollResponse
	decodeBody(t, first, &firstPayload)
	if !firstPayload.Created || firstPayload.XPAwarded != 50 {
		t.Fatalf("unexpected first enrollment %+v", firstPayload)
	}

	second := harness.do(t, http.MethodPost, "/api/courses/"+course.ID+"/enroll", nil, token)
	expectStatus(t, second, http.StatusOK)
	var secondPayload enrollResponse
	decodeBody(t, second, &secondPayload)
	if secondPayload.Created || secondPayload.XPAwarded != 0 {
		t.Fatalf("unexpected repeat enrollment %+v", secondPayload)
	}
	if secondPayload.Enrollment.ID != firstPayload.Enrollment.ID {
		t.Fatalf("expected the same enrollment row, got %s and %s", firstPayload.Enrollment.ID, secondPayload.Enrollment.ID)
	}

	if xp := harness.currentXP(t, token); xp != 50 {
		t.Fatalf("expected 50 xp after two enroll calls, got %d", xp)
	}
	stored, err := harness.courses.GetCourse(context.Background(), course.ID)
	if err != nil {
		t.Fatalf("failed to reload course: %v", err)
	}
	if stored.Enrolled != 1 {
		t.Fatalf("expected enrolled counter 1, got %d", stored.Enrolled)
	}

	listing := harness.do(t, http.MethodGet, "/api/user/courses", nil, token)
	expectStatus(t, listing, http.StatusOK)
	var enrollments []courses.Enrollment
	decodeBody(t, listing, &enrollments)
	if len(enrollments) != 1 || enrollments[0].Course == nil || enrollments[0].Course.Title != "Go Concurrency" {
		t.Fatalf("unexpected enrollments %+v", enrollments)
	}
}

func TestEnrollUnknownCourse(t *testing.T) {
	harness := newRouterHarness(t, harnessOptions{})
	recorder := harness.do(t, http.MethodPost, "/api/courses/missing/enroll", nil, validSession(t, "learner-1"))
	expectErrorCode(t, recorder, http.StatusNotFound, "course_not_found")
}

func TestProgressCompletionAwardsBonusOnce(t *testing.T) {
	harness := newRouterHarness(t, harnessOptions{})
	course := harness.createCourse(t, "SQL Basics", "backend")
	token := validSession(t, "learner-1")
	expectStatus(t, harness.do(t, http.MethodPost, "/api/courses/"+course.ID+"/enroll", nil, token), http.StatusOK)

	path := "/api/user/courses/" + course.ID + "/progress"
	expectErrorCode(t, harness.do(t, http.MethodPatch, path, gin.H{"progress": 140}, token), http.StatusBadRequest, "invalid_progress")
	expectErrorCode(t, harness.do(t, http.MethodPatch, path, gin.H{}, token), http.StatusBadRequest, "invalid_json")

	awards := make([]int64, 0, 2)
	for index := 0; index < 2; index++ {
		recorder := harness.do(t, http.MethodPatch, path, gin.H{"progress": 100}, token)
		expectStatus(t, recorder, http.StatusOK)
		var payload struct {
			Enrollment courses.Enrollment `json:"enrollment"`
			XPAwarded  int64              `json:"xpAwarded"`
		}
		decodeBody(t, recorder, &payload)
		if !payload.Enrollment.Completed {
			t.Fatalf("expected enrollment completed")
		}
		awards = append(awards, payload.XPAwarded)
	}
	if awards[0] != 100 || awards[1] != 0 {
		t.Fatalf("expected completion bonus once, got %v", awards)
	}
	if xp := harness.currentXP(t, token); xp != 150 {
		t.Fatalf("expected 150 xp, got %d", xp)
	}
}

func TestLeaderboardOrdersByXP(t *testing.T) {
	harness := newRouterHarness(t, harnessOptions{})
	grants := []struct {
		userID string
		amount int64
	}{
		{userID: "alice", amount: 500},
		{userID: "bob", amount: 900},
		{userID: "carol", amount: 100},
	}
	for _, grant := range grants {
		recorder := harness.do(t, http.MethodPost, "/api/user/award-xp", gin.H{"amount": grant.amount}, validSession(t, grant.userID))
		expectStatus(t, recorder, http.StatusOK)
	}

	recorder := harness.do(t, http.MethodGet, "/api/leaderboard", nil, "")
	expectStatus(t, recorder, http.StatusOK)
	var leaders []users.LeaderboardEntry
	decodeBody(t, recorder, &leaders)

	expected := []struct {
		id   string
		xp   int64
		rank int
	}{{"bob", 900, 1}, {"alice", 500, 2}, {"carol", 100, 3}}
	if len(leaders) != len(expected) {
		t.Fatalf("expected %d leaders, got %d", len(expected), len(leaders))
	}
	for index, want := range expected {
		got := leaders[index]
		if got.ID != want.id || got.XP != want.xp || got.Rank != want.rank {
			t.Fatalf("position %d: expected %+v, got id=%s xp=%d rank=%d", index, want, got.ID, got.XP, got.Rank)
		}
	}

	limited := harness.do(t, http.MethodGet, "/api/leaderboard?limit=1", nil, "")
	expectStatus(t, limited, http.StatusOK)
	decodeBody(t, limited, &leaders)
	if len(leaders) != 1 || leaders[0].ID != "bob" {
		t.Fatalf("unexpected limited leaderboard %+v", leaders)
	}

	expectErrorCode(t, harness.do(t, http.MethodGet, "/api/leaderboard?limit=ten", nil, ""), http.StatusBadRequest, "invalid_limit")
}

func TestLeaderboardHidesLearnerEmails(t *testing.T) {
	harness := newRouterHarness(t, harnessOptions{})
	token := validSession(t, "alice")
	expectStatus(t, harness.do(t, http.MethodPost, "/api/user/award-xp", gin.H{"amount": 10}, token), http.StatusOK)

	recorder := harness.do(t, http.MethodGet, "/api/leaderboard", nil, "")
	expectStatus(t, recorder, http.StatusOK)
	body := recorder.Body.String()
	if strings.Contains(body, "email") || strings.Contains(body, "alice@example.com") {
		t.Fatalf("expected anonymous leaderboard without contact details, got %s", body)
	}
	var leaders []map[string]any
	decodeBody(t, recorder, &leaders)
	if len(leaders) != 1 || leaders[0]["id"] != "alice" || leaders[0]["firstName"] != "Learner" {
		t.Fatalf("unexpected leaderboard %v", leaders)
	}

	profile := harness.do(t, http.MethodGet, "/api/auth/user", nil, token)
	expectStatus(t, profile, http.StatusOK)
	if !strings.Contains(profile.Body.String(), "alice@example.com") {
		t.Fatalf("expected own profile to include email, got %s", profile.Body.String())
	}
}

func TestCoursesCategoryFilter(t *testing.T) {
	harness := newRouterHarness(t, harnessOptions{})
	harness.createCourse(t, "React Hooks", "frontend")
	harness.createCourse(t, "Go APIs", "backend")
	harness.createCourse(t, "Vue Basics", "Frontend")

	testCases := []struct {
		query string
		count int
	}{
		{query: "", count: 3},
		{query: "?category=all", count: 3},
		{query: "?category=frontend", count: 2},
		{query: "?category=Frontend", count: 2},
		{query: "?category=BACKEND", count: 1},
		{query: "?category=backend", count: 1},
		{query: "?category=gamedev", count: 0},
	}
	for _, testCase := range testCases {
		recorder := harness.do(t, http.MethodGet, "/api/courses"+testCase.query, nil, "")
		expectStatus(t, recorder, http.StatusOK)
		var catalog []courses.Course
		decodeBody(t, recorder, &catalog)
		if len(catalog) != testCase.count {
			t.Fatalf("query %q: expected %d courses, got %d", testCase.query, testCase.count, len(catalog))
		}
	}

	expectErrorCode(t, harness.do(t, http.MethodGet, "/api/courses/unknown", nil, ""), http.StatusNotFound, "course_not_found")
}

func TestCreateCourseWithGeneratedContent(t *testing.T) {
	provider := &stubProvider{reply: "Description: Ship production Rust services.\nDuration: 6h"}
	harness := newRouterHarness(t, harnessOptions{apiKey: "key", provider: provider})
	token := validSession(t, "author")

	recorder := harness.do(t, http.MethodPost, "/api/courses", gin.H{
		"title":      "Rust Services",
		"level":      "advanced",
		"category":   "backend",
		"generateAI": true,
	}, token)
	expectStatus(t, recorder, http.StatusCreated)
	var course courses.Course
	decodeBody(t, recorder, &course)
	if !course.AIGenerated || course.Description != "Ship production Rust services." || course.Duration != "6h" {
		t.Fatalf("unexpected generated course %+v", course)
	}
	if course.ThumbnailURL != ai.PlaceholderThumbnail("backend") {
		t.Fatalf("expected placeholder thumbnail, got %q", course.ThumbnailURL)
	}

	invalid := harness.do(t, http.MethodPost, "/api/courses", gin.H{"title": "", "level": "beginner", "category": "backend"}, token)
	expectErrorCode(t, invalid, http.StatusBadRequest, "invalid_course")
}

func TestAIRoutesWithoutKeyReturnStructuredFailure(t *testing.T) {
	harness := newRouterHarness(t, harnessOptions{})
	token := validSession(t, "learner-1")

	recorder := harness.do(t, http.MethodPost, "/api/ai/code-assistance", gin.H{"code": "x := 1", "language": "go", "type": "explain"}, token)
	expectStatus(t, recorder, http.StatusServiceUnavailable)
	var result ai.CodeAssistanceResult
	decodeBody(t, recorder, &result)
	if result.Success || result.Error != ai.FailureNotConfigured || result.Message == "" {
		t.Fatalf("unexpected result %+v", result)
	}

	chat := harness.do(t, http.MethodPost, "/api/ai/chat", gin.H{
		"sessionId": "s-1",
		"messages":  []gin.H{{"role": "user", "content": "hi"}},
	}, token)
	expectErrorCode(t, chat, http.StatusServiceUnavailable, ai.FailureNotConfigured)
	if harness.provider.callCount() != 0 {
		t.Fatalf("provider must not be called without a key")
	}
	expectErrorCode(t, harness.do(t, http.MethodGet, "/api/ai/chat/s-1", nil, token), http.StatusNotFound, "chat_not_found")

	status := harness.do(t, http.MethodGet, "/api/ai/status", nil, token)
	expectStatus(t, status, http.StatusOK)
	var aiStatus ai.Status
	decodeBody(t, status, &aiStatus)
	if aiStatus.Configured {
		t.Fatalf("expected unconfigured status")
	}
}

func TestAIKeyRotationEnablesAssistance(t *testing.T) {
	harness := newRouterHarness(t, harnessOptions{aiKeyUpdates: true, provider: &stubProvider{reply: `{"suggestion":"use range","explanation":"idiomatic"}`}})
	token := validSession(t, "learner-1")

	expectErrorCode(t, harness.do(t, http.MethodPost, "/api/ai/update-key", gin.H{"apiKey": " "}, token), http.StatusBadRequest, "invalid_request")
	expectStatus(t, harness.do(t, http.MethodPost, "/api/ai/update-key", gin.H{"apiKey": "fresh"}, token), http.StatusOK)

	recorder := harness.do(t, http.MethodPost, "/api/ai/code-assistance", gin.H{"code": "for i := 0; i < n; i++ {}", "language": "go", "type": "optimize"}, token)
	expectStatus(t, recorder, http.StatusOK)
	var result ai.CodeAssistanceResult
	decodeBody(t, recorder, &result)
	if !result.Success || result.Suggestion != "use range" {
		t.Fatalf("unexpected result %+v", result)
	}

	invalid := harness.do(t, http.MethodPost, "/api/ai/code-assistance", gin.H{"code": "x", "language": "go", "type": "refactor"}, token)
	expectErrorCode(t, invalid, http.StatusBadRequest, "invalid_request")
}

func TestAIKeyUpdatesDisabledByDefault(t *testing.T) {
	harness := newRouterHarness(t, harnessOptions{})
	token := validSession(t, "learner-1")

	expectErrorCode(t, harness.do(t, http.MethodPost, "/api/ai/update-key", gin.H{"apiKey": "stolen"}, token), http.StatusForbidden, "key_updates_disabled")

	recorder := harness.do(t, http.MethodGet, "/api/ai/status", nil, token)
	expectStatus(t, recorder, http.StatusOK)
	var status ai.Status
	decodeBody(t, recorder, &status)
	if status.Configured {
		t.Fatalf("expected rejected key not to configure the assistant, got %+v", status)
	}
}

func TestAIUpstreamFailureMapsToBadGateway(t *testing.T) {
	provider := &stubProvider{err: fmt.Errorf("%w: status 500", ai.ErrUpstream)}
	harness := newRouterHarness(t, harnessOptions{apiKey: "key", provider: provider})
	token := validSession(t, "learner-1")

	recorder := harness.do(t, http.MethodPost, "/api/ai/chat", gin.H{
		"sessionId": "s-1",
		"messages":  []gin.H{{"role": "user", "content": "hi"}},
	}, token)
	expectErrorCode(t, recorder, http.StatusBadGateway, ai.FailureUpstream)
	expectErrorCode(t, harness.do(t, http.MethodGet, "/api/ai/chat/s-1", nil, token), http.StatusNotFound, "chat_not_found")
}

func TestChatPersistsTranscript(t *testing.T) {
	harness := newRouterHarness(t, harnessOptions{apiKey: "key", provider: &stubProvider{reply: "Use a buffered channel."}})
	token := validSession(t, "learner-1")

	recorder := harness.do(t, http.MethodPost, "/api/ai/chat", gin.H{
		"sessionId": "s-1",
		"messages":  []gin.H{{"role": "user", "content": "how do I avoid blocking?"}},
	}, token)
	expectStatus(t, recorder, http.StatusOK)
	var reply struct {
		Response string          `json:"response"`
		Messages []chats.Message `json:"messages"`
	}
	decodeBody(t, recorder, &reply)
	if reply.Response != "Use a buffered channel." || len(reply.Messages) != 2 {
		t.Fatalf("unexpected chat reply %+v", reply)
	}

	stored := harness.do(t, http.MethodGet, "/api/ai/chat/s-1", nil, token)
	expectStatus(t, stored, http.StatusOK)
	var session chats.ChatSession
	decodeBody(t, stored, &session)
	if len(session.Messages) != 2 || session.Messages[1].Role != chats.RoleAssistant || session.Messages[1].Content != "Use a buffered channel." {
		t.Fatalf("unexpected stored transcript %+v", session.Messages)
	}

	other := harness.do(t, http.MethodGet, "/api/ai/chat/s-1", nil, validSession(t, "learner-2"))
	expectErrorCode(t, other, http.StatusNotFound, "chat_not_found")

	badRole := harness.do(t, http.MethodPost, "/api/ai/chat", gin.H{
		"sessionId": "s-2",
		"messages":  []gin.H{{"role": "robot", "content": "beep"}},
	}, token)
	expectErrorCode(t, badRole, http.StatusBadRequest, "invalid_request")
}

func TestAIRoutesAreRateLimitedPerUser(t *testing.T) {
	harness := newRouterHarness(t, harnessOptions{apiKey: "key", aiLimit: 2})
	first := validSession(t, "learner-1")
	second := validSession(t, "learner-2")
	body := gin.H{"code": "x", "language": "go", "type": "explain"}

	for index := 0; index < 2; index++ {
		expectStatus(t, harness.do(t, http.MethodPost, "/api/ai/code-assistance", body, first), http.StatusOK)
	}
	expectErrorCode(t, harness.do(t, http.MethodPost, "/api/ai/code-assistance", body, first), http.StatusTooManyRequests, "rate_limited")
	expectStatus(t, harness.do(t, http.MethodPost, "/api/ai/code-assistance", body, second), http.StatusOK)
}

func TestSnippetsAreOwnerOnly(t *testing.T) {
	harness := newRouterHarness(t, harnessOptions{})
	owner := validSession(t, "owner")
	stranger := validSession(t, "stranger")

	recorder := harness.do(t, http.MethodPost, "/api/code-snippets", gin.H{"title": "Fan-in", "code": "func merge() {}", "language": "Go"}, owner)
	expectStatus(t, recorder, http.StatusCreated)
	var created struct {
		Snippet   snippets.CodeSnippet `json:"snippet"`
		XPAwarded int64                `json:"xpAwarded"`
	}
	decodeBody(t, recorder, &created)
	if created.XPAwarded != 10 || created.Snippet.Language != "go" {
		t.Fatalf("unexpected snippet response %+v", created)
	}
	if xp := harness.currentXP(t, owner); xp != 10 {
		t.Fatalf("expected snippet bonus of 10, got %d", xp)
	}

	expectStatus(t, harness.do(t, http.MethodGet, "/api/code-snippets/"+created.Snippet.ID, nil, owner), http.StatusOK)
	expectErrorCode(t, harness.do(t, http.MethodGet, "/api/code-snippets/"+created.Snippet.ID, nil, stranger), http.StatusNotFound, "snippet_not_found")

	listing := harness.do(t, http.MethodGet, "/api/code-snippets", nil, stranger)
	expectStatus(t, listing, http.StatusOK)
	var strangerSnippets []snippets.CodeSnippet
	decodeBody(t, listing, &strangerSnippets)
	if len(strangerSnippets) != 0 {
		t.Fatalf("expected no snippets for stranger, got %d", len(strangerSnippets))
	}

	invalid := harness.do(t, http.MethodPost, "/api/code-snippets", gin.H{"title": "", "code": "x", "language": "go"}, owner)
	expectErrorCode(t, invalid, http.StatusBadRequest, "invalid_snippet")
}

func TestCORSPreflightAllowsConfiguredOrigin(t *testing.T) {
	harness := newRouterHarness(t, harnessOptions{allowedOrigins: []string{"http://localhost:3000"}})

	request := httptest.NewRequest(http.MethodOptions, "/api/user/award-xp", nil)
	request.Header.Set("Origin", "http://localhost:3000")
	request.Header.Set("Access-Control-Request-Method", http.MethodPost)
	request.Header.Set("Access-Control-Request-Headers", "Content-Type")
	recorder := httptest.NewRecorder()
	harness.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected preflight 204, got %d", recorder.Code)
	}
	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("unexpected allow origin %q", got)
	}
	if got := recorder.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Fatalf("expected credentials allowed, got %q", got)
	}

	foreign := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	foreign.Header.Set("Origin", "https://evil.example")
	foreignRecorder := httptest.NewRecorder()
	harness.handler.ServeHTTP(foreignRecorder, foreign)
	if got := foreignRecorder.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected no allow origin for foreign origin, got %q", got)
	}
}

func TestMetricsEndpointReportsAwards(t *testing.T) {
	harness := newRouterHarness(t, harnessOptions{metrics: metrics.NewCollector()})
	expectStatus(t, harness.do(t, http.MethodPost, "/api/user/award-xp", gin.H{"amount": 40, "reason": "quiz"}, validSession(t, "learner-1")), http.StatusOK)

	recorder := harness.do(t, http.MethodGet, "/metrics", nil, "")
	expectStatus(t, recorder, http.StatusOK)
	body := recorder.Body.String()
	if !strings.Contains(body, `codeforge_xp_awarded_total{reason="quiz"} 40`) {
		t.Fatalf("expected xp counter in metrics output:\n%s", body)
	}
	if !strings.Contains(body, `endpoint="/api/user/award-xp"`) {
		t.Fatalf("expected request counter labelled by route:\n%s", body)
	}
}

func TestLeaderboardStreamDeliversXPEvents(t *testing.T) {
	harness := newRouterHarness(t, harnessOptions{})
	server := httptest.NewServer(harness.handler)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/leaderboard/stream", nil)
	if err != nil {
		t.Fatalf("failed to build stream request: %v", err)
	}
	response, err := server.Client().Do(request)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	defer response.Body.Close()
	if got := response.Header.Get("Content-Type"); !strings.HasPrefix(got, "text/event-stream") {
		t.Fatalf("unexpected content type %q", got)
	}

	expectStatus(t, harness.do(t, http.MethodPost, "/api/user/award-xp", gin.H{"amount": 30, "reason": "streak"}, validSession(t, "streamer")), http.StatusOK)

	scanner := bufio.NewScanner(response.Body)
	sawEvent := false
	for scanner.Scan() {
		line := scanner.Text()
		if line == "event:"+RealtimeEventXPAwarded {
			sawEvent = true
			continue
		}
		if sawEvent && strings.HasPrefix(line, "data:") {
			var message RealtimeMessage
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data:")), &message); err != nil {
				t.Fatalf("failed to decode event data %q: %v", line, err)
			}
			if message.UserID != "streamer" || message.Delta != 30 || message.XP != 30 || message.Reason != "streak" {
				t.Fatalf("unexpected event %+v", message)
			}
			return
		}
	}
	t.Fatalf("stream ended before an xp event arrived: %v", scanner.Err())
}

package tracing

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

func TestGinMiddlewareRecordsServerSpans(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	engine := gin.New()
	engine.Use(GinMiddleware(provider))
	engine.GET("/api/courses/:id", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	engine.GET("/api/broken", func(c *gin.Context) {
		c.Status(http.StatusInternalServerError)
	})

	engine.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/courses/42", http.NoBody))
	engine.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/broken", http.NoBody))

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name() != "GET /api/courses/:id" {
		t.Fatalf("unexpected span name %q", spans[0].Name())
	}
	foundStatus := false
	for _, attribute := range spans[0].Attributes() {
		if attribute.Key == semconv.HTTPStatusCodeKey && attribute.Value.AsInt64() == http.StatusOK {
			foundStatus = true
		}
	}
	if !foundStatus {
		t.Fatalf("expected status code attribute on span")
	}
	if spans[1].Status().Code != codes.Error {
		t.Fatalf("expected server errors to mark the span, got %v", spans[1].Status().Code)
	}
}

func TestShutdownToleratesNilProvider(t *testing.T) {
	if err := Shutdown(t.Context(), nil); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}
}

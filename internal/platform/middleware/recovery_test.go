package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func TestRecovery_ConvertsPanicToError(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	e := echo.New()
	mw := Recovery(logger)
	handler := mw(func(c echo.Context) error {
		panic("trial_alpha repo exploded")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/screening-cases", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("request_id", "req-123")
	c.Set("tenant_id", "trial_alpha")

	err := handler(c)
	if err == nil {
		t.Fatal("expected error from recovered panic")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", httpErr.Code)
	}

	// The client-facing message carries no panic detail
	if msg, _ := httpErr.Message.(string); msg != "internal server error" {
		t.Errorf("expected generic message, got %q", msg)
	}

	// The operational log carries the context
	logged := buf.String()
	for _, want := range []string{"panic recovered", "req-123", "trial_alpha", "/api/v1/screening-cases", "repo exploded"} {
		if !strings.Contains(logged, want) {
			t.Errorf("expected log to contain %q, got %s", want, logged)
		}
	}
}

func TestRecovery_PassesThroughWithoutPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	e := echo.New()
	mw := Recovery(logger)
	handler := mw(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := handler(c); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if buf.Len() != 0 {
		t.Errorf("expected nothing logged, got %s", buf.String())
	}
}

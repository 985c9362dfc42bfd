package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func sanitizeRequest(t *testing.T, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for name, values := range header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := Sanitize()(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	if err := handler(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return rec
}

func TestSanitize_AllowsCleanRequest(t *testing.T) {
	rec := sanitizeRequest(t, "/api/v1/screening-cases?limit=20", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestSanitize_RejectsPathTraversal(t *testing.T) {
	rec := sanitizeRequest(t, "/api/v1/../../etc/passwd", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestSanitize_RejectsEncodedNullByte(t *testing.T) {
	rec := sanitizeRequest(t, "/api/v1/screening-cases?reason=abc%2500def", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestSanitize_RejectsHeaderInjection(t *testing.T) {
	header := http.Header{}
	header.Set("X-Custom", "value\r\nInjected: yes")
	rec := sanitizeRequest(t, "/api/v1/screening-cases", header)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestSanitize_RejectsOversizedHeader(t *testing.T) {
	header := http.Header{}
	header.Set("X-Custom", strings.Repeat("a", maxHeaderValueSize+1))
	rec := sanitizeRequest(t, "/api/v1/screening-cases", header)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestSanitize_RejectsScriptInQueryParam(t *testing.T) {
	rec := sanitizeRequest(t, "/api/v1/screening-cases?note=%3Cscript%3Ealert(1)%3C/script%3E", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestValidateReason(t *testing.T) {
	cases := []struct {
		name    string
		reason  string
		wantErr bool
	}{
		{"valid", "transcription error corrected against source document", false},
		{"valid with punctuation", "per monitor query #42, DOB updated", false},
		{"empty", "", true},
		{"whitespace only", "   \t ", true},
		{"too long", strings.Repeat("x", maxReasonLength+1), true},
		{"newline", "line one\nline two", true},
		{"null byte", "abc\x00def", true},
		{"script tag", "<script>alert(1)</script>", true},
		{"event handler", "onload=steal()", true},
		{"sql injection", "'; DROP TABLE audit_event", true},
		{"or one equals one", "' OR 1=1", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateReason(tc.reason)
			if tc.wantErr && err == nil {
				t.Errorf("ValidateReason(%q): expected error", tc.reason)
			}
			if !tc.wantErr && err != nil {
				t.Errorf("ValidateReason(%q): unexpected error: %v", tc.reason, err)
			}
		})
	}
}

func TestSanitizeReason_EscapesAndTrims(t *testing.T) {
	got := SanitizeReason("  value changed from a < b to a > b & confirmed  ")
	want := "value changed from a &lt; b to a &gt; b &amp; confirmed"
	if got != want {
		t.Errorf("SanitizeReason: got %q, want %q", got, want)
	}
}

func TestSanitizeReason_LeavesPlainTextAlone(t *testing.T) {
	in := "subject re-consented on 2026-03-14"
	if got := SanitizeReason(in); got != in {
		t.Errorf("SanitizeReason: got %q, want %q", got, in)
	}
}

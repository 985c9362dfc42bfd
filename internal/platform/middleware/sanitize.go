package middleware

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// maxHeaderValueSize is the maximum allowed size for any single header value.
const maxHeaderValueSize = 8192 // 8KB

// maxReasonLength bounds the free-text justification accepted on audited
// mutations.
const maxReasonLength = 1000

// Compiled patterns for injection detection.
var (
	// SQL injection patterns (defense-in-depth warning only).
	sqlPatterns = regexp.MustCompile(`(?i)('+\s*;\s*DROP\b|UNION\s+SELECT\b|'\s+OR\s+1\s*=\s*1|1\s*=\s*1)`)

	// Script injection patterns (block).
	scriptPatterns = regexp.MustCompile(`(?i)(<script|javascript\s*:|on\w+\s*=)`)
)

// Sanitize returns middleware that validates incoming requests. It checks
// for common attack patterns in headers, query parameters, and the path.
func Sanitize() echo.MiddlewareFunc {
	return SanitizeWithLogger(zerolog.Nop())
}

// SanitizeWithLogger returns the sanitize middleware configured with a logger
// for defense-in-depth SQL injection warnings.
func SanitizeWithLogger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			rawPath := req.URL.RawPath
			if rawPath == "" {
				rawPath = path
			}

			// 1. Path traversal prevention
			if containsPathTraversal(path) || containsPathTraversal(rawPath) {
				return reject(c, "Path traversal detected")
			}

			// 2. Null byte injection in path
			if containsNullByte(path) || containsNullByte(rawPath) {
				return reject(c, "Null byte injection detected")
			}

			// 3. Header injection and oversized headers
			for name, values := range req.Header {
				for _, v := range values {
					if len(v) > maxHeaderValueSize {
						return reject(c, "Header value exceeds maximum size: "+name)
					}
					if strings.ContainsAny(v, "\r\n") {
						return reject(c, "Header injection detected: "+name)
					}
				}
			}

			// 4. Query parameter checks
			for key, values := range req.URL.Query() {
				for _, v := range values {
					if containsNullByte(v) || containsNullByte(key) {
						return reject(c, "Null byte injection detected in query parameter")
					}

					// SQL injection warning (defense-in-depth logging, not blocking)
					if sqlPatterns.MatchString(v) {
						logger.Warn().
							Str("param", key).
							Str("path", path).
							Msg("possible SQL injection pattern in query parameter")
					}

					if scriptPatterns.MatchString(v) {
						return reject(c, "Script injection detected in query parameter")
					}
				}
			}

			return next(c)
		}
	}
}

// ValidateReason checks a free-text justification before it is accepted onto
// an audited mutation: non-empty, length-bounded, free of control characters
// and script/SQL injection patterns. Callers must run reasons through this
// before handing them to the audit coordinator.
func ValidateReason(reason string) error {
	trimmed := strings.TrimSpace(reason)
	if trimmed == "" {
		return fmt.Errorf("reason is required")
	}
	if len(trimmed) > maxReasonLength {
		return fmt.Errorf("reason exceeds %d characters", maxReasonLength)
	}
	if containsNullByte(trimmed) || strings.ContainsAny(trimmed, "\r\n") {
		return fmt.Errorf("reason contains control characters")
	}
	if scriptPatterns.MatchString(trimmed) {
		return fmt.Errorf("reason contains script injection patterns")
	}
	if sqlPatterns.MatchString(trimmed) {
		return fmt.Errorf("reason contains SQL injection patterns")
	}
	return nil
}

// SanitizeReason normalizes a validated reason for storage: trims whitespace
// and HTML-escapes angle brackets and ampersands.
func SanitizeReason(reason string) string {
	s := strings.TrimSpace(reason)
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

func reject(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": msg})
}

func containsPathTraversal(s string) bool {
	lowered := strings.ToLower(s)
	return strings.Contains(lowered, "../") ||
		strings.Contains(lowered, "..\\") ||
		strings.Contains(lowered, "%2e%2e")
}

func containsNullByte(s string) bool {
	return strings.ContainsRune(s, '\x00') || strings.Contains(strings.ToLower(s), "%00")
}

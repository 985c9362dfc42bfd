package db

import (
	"context"
	"net/http"
	"regexp"

	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	// TenantIDKey carries the current study id through a unit of work.
	TenantIDKey contextKey = "tenant_id"
)

// ManagementTenant is the sentinel returned by TenantFromContext when no
// study has been resolved. Operations on management entities (studies, users,
// shared lookups) run under it.
const ManagementTenant = "management"

var tenantIDPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// WithTenant returns a context carrying tenantID as the current study. The
// parent context is unaffected, so the prior tenant is restored automatically
// when the derived context goes out of scope, including on panic.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

// TenantFromContext returns the current study id, or ManagementTenant when
// none has been set.
func TenantFromContext(ctx context.Context) string {
	if tid, ok := ctx.Value(TenantIDKey).(string); ok && tid != "" {
		return tid
	}
	return ManagementTenant
}

// Scoped runs fn with tenantID as the current study. Because the tenant rides
// on a derived context rather than shared state, concurrent units of work for
// different studies never observe each other's tenant.
func Scoped(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error {
	return fn(WithTenant(ctx, tenantID))
}

// TenantMiddleware resolves which study a request operates on and stores it
// on the request context. Resolution order: JWT claim (set by auth
// middleware), X-Study-ID header, study_id query parameter. Requests that
// name no study run as the management tenant.
func TenantMiddleware(reg *Registry) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenantID := extractTenantID(c)

			if tenantID != ManagementTenant {
				if !tenantIDPattern.MatchString(tenantID) {
					return echo.NewHTTPError(http.StatusBadRequest, "invalid study identifier")
				}
				if _, err := reg.Connect(c.Request().Context(), tenantID); err != nil {
					return echo.NewHTTPError(http.StatusNotFound, "unknown study")
				}
			}

			ctx := WithTenant(c.Request().Context(), tenantID)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("tenant_id", tenantID)

			return next(c)
		}
	}
}

func extractTenantID(c echo.Context) string {
	// 1. Check JWT claim (set by auth middleware)
	if tid, ok := c.Get("jwt_study_id").(string); ok && tid != "" {
		return tid
	}

	// 2. Check X-Study-ID header
	if tid := c.Request().Header.Get("X-Study-ID"); tid != "" {
		return tid
	}

	// 3. Check query parameter
	if tid := c.QueryParam("study_id"); tid != "" {
		return tid
	}

	return ManagementTenant
}

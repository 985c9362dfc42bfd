package db

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestTenantFromContext_DefaultsToManagement(t *testing.T) {
	if got := TenantFromContext(context.Background()); got != ManagementTenant {
		t.Errorf("TenantFromContext = %q, want %q", got, ManagementTenant)
	}
}

func TestWithTenant_RoundTrip(t *testing.T) {
	ctx := WithTenant(context.Background(), "trial_alpha")
	if got := TenantFromContext(ctx); got != "trial_alpha" {
		t.Errorf("TenantFromContext = %q, want trial_alpha", got)
	}
}

func TestWithTenant_ParentUnaffected(t *testing.T) {
	parent := WithTenant(context.Background(), "trial_alpha")
	child := WithTenant(parent, "trial_beta")

	if got := TenantFromContext(child); got != "trial_beta" {
		t.Errorf("child tenant = %q, want trial_beta", got)
	}
	if got := TenantFromContext(parent); got != "trial_alpha" {
		t.Errorf("parent tenant = %q, want trial_alpha", got)
	}
}

func TestScoped_ConcurrentStudiesIsolated(t *testing.T) {
	base := context.Background()
	studies := []string{"trial_a", "trial_b", "trial_c", "trial_d"}

	var wg sync.WaitGroup
	for _, study := range studies {
		study := study
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = Scoped(base, study, func(ctx context.Context) error {
					if got := TenantFromContext(ctx); got != study {
						t.Errorf("scoped tenant = %q, want %q", got, study)
					}
					return nil
				})
			}
		}()
	}
	wg.Wait()
}

func tenantTestRequest(t *testing.T, reg *Registry, setup func(req *http.Request, c echo.Context)) (string, error) {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/screening-cases", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if setup != nil {
		setup(req, c)
	}

	var resolved string
	handler := func(c echo.Context) error {
		resolved = TenantFromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	}

	err := TenantMiddleware(reg)(handler)(c)
	return resolved, err
}

func TestTenantMiddleware_ResolvesFromHeader(t *testing.T) {
	reg := NewRegistry(nil, "", 1, 1)
	reg.Register("trial_alpha", nil)

	resolved, err := tenantTestRequest(t, reg, func(req *http.Request, c echo.Context) {
		req.Header.Set("X-Study-ID", "trial_alpha")
	})
	if err != nil {
		t.Fatal(err)
	}
	if resolved != "trial_alpha" {
		t.Errorf("resolved = %q, want trial_alpha", resolved)
	}
}

func TestTenantMiddleware_JWTClaimWinsOverHeader(t *testing.T) {
	reg := NewRegistry(nil, "", 1, 1)
	reg.Register("trial_alpha", nil)
	reg.Register("trial_beta", nil)

	resolved, err := tenantTestRequest(t, reg, func(req *http.Request, c echo.Context) {
		c.Set("jwt_study_id", "trial_alpha")
		req.Header.Set("X-Study-ID", "trial_beta")
	})
	if err != nil {
		t.Fatal(err)
	}
	if resolved != "trial_alpha" {
		t.Errorf("resolved = %q, want the JWT claim trial_alpha", resolved)
	}
}

func TestTenantMiddleware_NoStudyRunsAsManagement(t *testing.T) {
	reg := NewRegistry(nil, "", 1, 1)

	resolved, err := tenantTestRequest(t, reg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != ManagementTenant {
		t.Errorf("resolved = %q, want %q", resolved, ManagementTenant)
	}
}

func TestTenantMiddleware_RejectsInvalidIdentifier(t *testing.T) {
	reg := NewRegistry(nil, "", 1, 1)

	_, err := tenantTestRequest(t, reg, func(req *http.Request, c echo.Context) {
		req.Header.Set("X-Study-ID", "Robert'); DROP TABLE study;--")
	})
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("err = %v, want *echo.HTTPError", err)
	}
	if httpErr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", httpErr.Code)
	}
}

func TestTenantMiddleware_UnknownStudyRejected(t *testing.T) {
	reg := NewRegistry(nil, "", 1, 1)

	_, err := tenantTestRequest(t, reg, func(req *http.Request, c echo.Context) {
		req.Header.Set("X-Study-ID", "trial_ghost")
	})
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("err = %v, want *echo.HTTPError", err)
	}
	if httpErr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", httpErr.Code)
	}
}

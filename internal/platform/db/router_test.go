package db

import (
	"context"
	"errors"
	"testing"
)

func testRouter() *Router {
	reg := NewRegistry(nil, "", 1, 1)
	reg.Register("trial_alpha", nil)
	reg.Register("trial_beta", nil)

	r := NewRouter(reg)
	r.RegisterManagementEntity("STUDY", "USER")
	r.RegisterTenantEntity("SCREENING_CASE", "AUDIT_EVENT")
	return r
}

func TestDatabaseFor_ManagementEntityIgnoresStudy(t *testing.T) {
	r := testRouter()
	ctx := WithTenant(context.Background(), "trial_alpha")

	dbID, err := r.DatabaseFor(ctx, "STUDY")
	if err != nil {
		t.Fatal(err)
	}
	if dbID != ManagementTenant {
		t.Errorf("database = %q, want %q", dbID, ManagementTenant)
	}
}

func TestDatabaseFor_TenantEntityUsesContextStudy(t *testing.T) {
	r := testRouter()
	ctx := WithTenant(context.Background(), "trial_beta")

	dbID, err := r.DatabaseFor(ctx, "SCREENING_CASE")
	if err != nil {
		t.Fatal(err)
	}
	if dbID != "trial_beta" {
		t.Errorf("database = %q, want trial_beta", dbID)
	}
}

func TestDatabaseFor_TenantEntityWithoutStudyFails(t *testing.T) {
	r := testRouter()

	if _, err := r.DatabaseFor(context.Background(), "SCREENING_CASE"); err == nil {
		t.Error("expected error for study-scoped entity without a study on the context")
	}
}

func TestDatabaseFor_UnknownEntityType(t *testing.T) {
	r := testRouter()
	ctx := WithTenant(context.Background(), "trial_alpha")

	_, err := r.DatabaseFor(ctx, "MYSTERY")
	var resErr *TenantResolutionError
	if !errors.As(err, &resErr) {
		t.Fatalf("err = %v, want *TenantResolutionError", err)
	}
	if resErr.EntityType != "MYSTERY" {
		t.Errorf("entity type = %q, want MYSTERY", resErr.EntityType)
	}
}

func TestValidate_ReportsMissingRule(t *testing.T) {
	r := testRouter()

	if err := r.Validate("STUDY", "SCREENING_CASE"); err != nil {
		t.Errorf("unexpected error for registered types: %v", err)
	}
	if err := r.Validate("STUDY", "UNROUTED"); err == nil {
		t.Error("expected error for unrouted entity type")
	}
}

func TestSameDatabase_CrossTenantRefused(t *testing.T) {
	r := testRouter()
	ctx := WithTenant(context.Background(), "trial_alpha")

	if err := r.SameDatabase(ctx, "SCREENING_CASE", "AUDIT_EVENT"); err != nil {
		t.Errorf("same-database pair rejected: %v", err)
	}

	err := r.SameDatabase(ctx, "SCREENING_CASE", "STUDY")
	var violation *CrossTenantViolation
	if !errors.As(err, &violation) {
		t.Fatalf("err = %v, want *CrossTenantViolation", err)
	}
	if violation.TenantA == violation.TenantB {
		t.Error("violation reports identical databases")
	}
}

func TestIsManagementEntity(t *testing.T) {
	r := testRouter()

	if !r.IsManagementEntity("STUDY") {
		t.Error("STUDY should be a management entity")
	}
	if r.IsManagementEntity("SCREENING_CASE") {
		t.Error("SCREENING_CASE should not be a management entity")
	}
}

func TestRegistry_TenantIDsSorted(t *testing.T) {
	reg := NewRegistry(nil, "", 1, 1)
	reg.Register("zeta", nil)
	reg.Register("alpha", nil)
	reg.Register("mike", nil)

	ids := reg.TenantIDs()
	want := []string{"alpha", "mike", "zeta"}
	if len(ids) != len(want) {
		t.Fatalf("len = %d, want %d", len(ids), len(want))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
}

func TestRegistry_UnregisteredTenant(t *testing.T) {
	reg := NewRegistry(nil, "", 1, 1)

	_, err := reg.Tenant("nope")
	if !errors.Is(err, ErrTenantNotRegistered) {
		t.Errorf("err = %v, want ErrTenantNotRegistered", err)
	}
}

func TestRegistry_ConnectRequiresTemplateForUnknown(t *testing.T) {
	reg := NewRegistry(nil, "", 1, 1)

	if _, err := reg.Connect(context.Background(), "trial_alpha"); err == nil {
		t.Error("expected error connecting an unregistered study without a DSN template")
	}
}

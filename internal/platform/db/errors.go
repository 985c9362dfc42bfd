package db

import (
	"errors"
	"fmt"
)

// ErrTenantNotRegistered is returned when a study id has no pool in the
// registry and no DSN template is configured to dial one.
var ErrTenantNotRegistered = errors.New("tenant database not registered")

// TenantResolutionError reports an entity type with no routing rule. This is
// a configuration defect: routing tables are fixed at startup, so the error
// is raised by startup validation and treated as fatal, never retried.
type TenantResolutionError struct {
	EntityType string
}

func (e *TenantResolutionError) Error() string {
	return fmt.Sprintf("no routing rule for entity type %q", e.EntityType)
}

// CrossTenantViolation reports an operation that would touch two different
// databases in one relational query. It is raised before either database is
// queried.
type CrossTenantViolation struct {
	EntityA string
	EntityB string
	TenantA string
	TenantB string
}

func (e *CrossTenantViolation) Error() string {
	return fmt.Sprintf("cross-tenant operation rejected: %s routes to %q but %s routes to %q",
		e.EntityA, e.TenantA, e.EntityB, e.TenantB)
}

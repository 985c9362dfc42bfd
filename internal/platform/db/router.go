package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// entityClass says which kind of database an entity type lives in.
type entityClass int

const (
	classManagement entityClass = iota + 1
	classTenant
)

// Router decides which physical database an entity type's reads and writes
// go to. Management entity types (users, roles, the study registry, shared
// lookups) always route to the management database; everything else routes
// to the current study's database. Reads and writes use the same rule.
type Router struct {
	reg     *Registry
	classes map[string]entityClass
}

func NewRouter(reg *Registry) *Router {
	return &Router{
		reg:     reg,
		classes: make(map[string]entityClass),
	}
}

// RegisterManagementEntity pins entity types to the management database.
// Registration happens once at startup; the router is read-only afterwards.
func (r *Router) RegisterManagementEntity(entityTypes ...string) {
	for _, et := range entityTypes {
		r.classes[et] = classManagement
	}
}

// RegisterTenantEntity pins entity types to per-study databases.
func (r *Router) RegisterTenantEntity(entityTypes ...string) {
	for _, et := range entityTypes {
		r.classes[et] = classTenant
	}
}

// Validate checks that the routing table is usable. Call it at startup after
// all domain packages have registered their entity types; an error here is
// fatal misconfiguration, not a per-request condition.
func (r *Router) Validate(entityTypes ...string) error {
	for _, et := range entityTypes {
		if _, ok := r.classes[et]; !ok {
			return &TenantResolutionError{EntityType: et}
		}
	}
	return nil
}

// DatabaseFor returns the logical database id an entity type routes to under
// the current context: ManagementTenant for management entities, the current
// study id otherwise.
func (r *Router) DatabaseFor(ctx context.Context, entityType string) (string, error) {
	class, ok := r.classes[entityType]
	if !ok {
		return "", &TenantResolutionError{EntityType: entityType}
	}
	if class == classManagement {
		return ManagementTenant, nil
	}

	tenantID := TenantFromContext(ctx)
	if tenantID == ManagementTenant {
		return "", fmt.Errorf("entity type %q is study-scoped but no study is set on the context", entityType)
	}
	return tenantID, nil
}

// PoolFor resolves the connection pool for an entity type under the current
// context. The returned id is the database the pool belongs to.
func (r *Router) PoolFor(ctx context.Context, entityType string) (*pgxpool.Pool, string, error) {
	dbID, err := r.DatabaseFor(ctx, entityType)
	if err != nil {
		return nil, "", err
	}
	if dbID == ManagementTenant {
		return r.reg.Management(), dbID, nil
	}
	pool, err := r.reg.Connect(ctx, dbID)
	if err != nil {
		return nil, "", err
	}
	return pool, dbID, nil
}

// SameDatabase rejects relational operations spanning two databases. It
// resolves both entity types and returns a CrossTenantViolation when they
// disagree, before either database is touched.
func (r *Router) SameDatabase(ctx context.Context, entityA, entityB string) error {
	dbA, err := r.DatabaseFor(ctx, entityA)
	if err != nil {
		return err
	}
	dbB, err := r.DatabaseFor(ctx, entityB)
	if err != nil {
		return err
	}
	if dbA != dbB {
		return &CrossTenantViolation{EntityA: entityA, EntityB: entityB, TenantA: dbA, TenantB: dbB}
	}
	return nil
}

// IsManagementEntity reports whether an entity type routes to the management
// database. Used by the migrator to keep management tables out of study
// databases and vice versa.
func (r *Router) IsManagementEntity(entityType string) bool {
	return r.classes[entityType] == classManagement
}

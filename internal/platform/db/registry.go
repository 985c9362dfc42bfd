package db

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

func NewPool(ctx context.Context, databaseURL string, maxConns, minConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	cfg.MaxConns = maxConns
	cfg.MinConns = minConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// Registry holds one connection pool per study database plus the shared
// management pool. Every study owns a physically separate database; the
// registry is the only component that maps a study id to its pool.
type Registry struct {
	mu          sync.RWMutex
	management  *pgxpool.Pool
	tenants     map[string]*pgxpool.Pool
	dsnTemplate string
	maxConns    int32
	minConns    int32
}

// NewRegistry creates a registry around the management pool. dsnTemplate, if
// non-empty, must contain one %s placeholder for the study id and is used to
// dial study databases on first use.
func NewRegistry(management *pgxpool.Pool, dsnTemplate string, maxConns, minConns int32) *Registry {
	return &Registry{
		management:  management,
		tenants:     make(map[string]*pgxpool.Pool),
		dsnTemplate: dsnTemplate,
		maxConns:    maxConns,
		minConns:    minConns,
	}
}

// Management returns the shared management database pool.
func (r *Registry) Management() *pgxpool.Pool {
	return r.management
}

// Register adds an already-connected study pool. An existing pool for the
// same study is closed first.
func (r *Registry) Register(tenantID string, pool *pgxpool.Pool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.tenants[tenantID]; ok && old != pool {
		old.Close()
	}
	r.tenants[tenantID] = pool
}

// Tenant returns the pool for a registered study, or ErrTenantNotRegistered.
// It never dials; use Connect when lazy connection is wanted.
func (r *Registry) Tenant(tenantID string) (*pgxpool.Pool, error) {
	r.mu.RLock()
	pool, ok := r.tenants[tenantID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("study %q: %w", tenantID, ErrTenantNotRegistered)
	}
	return pool, nil
}

// Connect returns the pool for a study, dialing it from the DSN template if
// it has not been registered yet.
func (r *Registry) Connect(ctx context.Context, tenantID string) (*pgxpool.Pool, error) {
	if pool, err := r.Tenant(tenantID); err == nil {
		return pool, nil
	}
	if r.dsnTemplate == "" {
		return nil, fmt.Errorf("study %q: %w", tenantID, ErrTenantNotRegistered)
	}
	if !tenantIDPattern.MatchString(tenantID) {
		return nil, fmt.Errorf("invalid study identifier: %s", tenantID)
	}

	pool, err := NewPool(ctx, fmt.Sprintf(r.dsnTemplate, tenantID), r.maxConns, r.minConns)
	if err != nil {
		return nil, fmt.Errorf("connect study %q: %w", tenantID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another request may have connected while we were dialing.
	if existing, ok := r.tenants[tenantID]; ok {
		pool.Close()
		return existing, nil
	}
	r.tenants[tenantID] = pool
	return pool, nil
}

// TenantIDs returns the ids of all registered studies, sorted.
func (r *Registry) TenantIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.tenants))
	for id := range r.tenants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close closes every study pool and the management pool.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pool := range r.tenants {
		pool.Close()
	}
	r.tenants = make(map[string]*pgxpool.Pool)
	r.management.Close()
}

package audit

import (
	"fmt"
	"sync"
)

// Manifest declares, per entity type, which fields the change detector may
// consider and whether VIEW actions produce audit events. Domain packages
// register their manifest at startup; there is no runtime reflection over
// record fields.
type Manifest struct {
	EntityType string
	// Excluded lists system and metadata fields skipped by change detection:
	// surrogate keys, version counters, modification-tracking fields.
	Excluded []string
	// LogViews controls whether read access to this entity type is recorded.
	// Regulatory access trails want it on; low-sensitivity reference data
	// usually leaves it off.
	LogViews bool
}

// ExcludedSet returns the excluded fields as a lookup set.
func (m Manifest) ExcludedSet() map[string]struct{} {
	set := make(map[string]struct{}, len(m.Excluded))
	for _, f := range m.Excluded {
		set[f] = struct{}{}
	}
	return set
}

var (
	manifestMu sync.RWMutex
	manifests  = make(map[string]Manifest)
)

// RegisterManifest records the field manifest for an entity type. Called from
// domain package init or wiring code; re-registration panics because two
// manifests for one entity type is a programming error.
func RegisterManifest(m Manifest) {
	manifestMu.Lock()
	defer manifestMu.Unlock()
	if _, exists := manifests[m.EntityType]; exists {
		panic(fmt.Sprintf("audit: manifest for entity type %q registered twice", m.EntityType))
	}
	manifests[m.EntityType] = m
}

// ManifestFor looks up the manifest registered for an entity type.
func ManifestFor(entityType string) (Manifest, bool) {
	manifestMu.RLock()
	defer manifestMu.RUnlock()
	m, ok := manifests[entityType]
	return m, ok
}

// RegisteredEntityTypes returns every entity type with a manifest, for
// startup validation against the tenant router.
func RegisteredEntityTypes() []string {
	manifestMu.RLock()
	defer manifestMu.RUnlock()
	types := make([]string, 0, len(manifests))
	for et := range manifests {
		types = append(types, et)
	}
	return types
}

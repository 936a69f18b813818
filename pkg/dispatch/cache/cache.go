// Package cache implements the static-data cache: a thread-safe,
// refreshable store for DispatchConfig and the unit type / event type / base
// reference tables. Writers are serialized and exclusive; readers proceed
// concurrently with each other and never observe a half-applied refresh.
package cache

import (
	"context"
	"sync"

	"github.com/go-logr/logr"

	"github.com/emergency-platform/dispatch-engine/pkg/dispatch/model"
	"github.com/emergency-platform/dispatch-engine/pkg/metrics"
)

// StaticDataSource is the narrow capability the cache needs from the
// backend gateway. It is satisfied by gateway.Gateway and by test doubles.
type StaticDataSource interface {
	GetStaticData(ctx context.Context) (Bundle, error)
}

// Bundle is the full static-data payload returned by the backend's
// GET /v1/dispatch/static endpoint.
type Bundle struct {
	ConfigItems []model.ConfigItem
	UnitTypes   []model.UnitType
	EventTypes  []model.EventType
	Bases       []model.Base
}

// Cache is the read-consistent snapshot store. The zero value is not usable;
// construct with New.
type Cache struct {
	mu          sync.RWMutex
	config      model.Config
	unitTypes   map[string]model.UnitType
	eventTypes  map[string]model.EventType
	bases       map[string]model.Base
	initialized bool

	source StaticDataSource
	log    logr.Logger
}

// New returns an uninitialized cache: all maps empty, config at documented
// defaults, per the cache's "uninitialized" invariant.
func New(source StaticDataSource, log logr.Logger) *Cache {
	return &Cache{
		config:     model.DefaultConfig(),
		unitTypes:  map[string]model.UnitType{},
		eventTypes: map[string]model.EventType{},
		bases:      map[string]model.Base{},
		source:     source,
		log:        log.WithName("static-data-cache"),
	}
}

// Refresh fetches a full static-data bundle and, on success, atomically
// replaces all four internal fields under the exclusive lock. On failure the
// existing cache is preserved unchanged and initialized is never cleared.
func (c *Cache) Refresh(ctx context.Context) error {
	bundle, err := c.source.GetStaticData(ctx)
	if err != nil {
		c.log.Error(err, "static data refresh failed, retaining previous snapshot")
		metrics.RecordCacheRefresh("failed")
		return err
	}

	unitTypes := make(map[string]model.UnitType, len(bundle.UnitTypes))
	for _, ut := range bundle.UnitTypes {
		unitTypes[ut.Code] = ut
	}
	eventTypes := make(map[string]model.EventType, len(bundle.EventTypes))
	for _, et := range bundle.EventTypes {
		eventTypes[et.Code] = et
	}
	bases := make(map[string]model.Base, len(bundle.Bases))
	for _, b := range bundle.Bases {
		bases[b.Code] = b
	}
	cfg := model.ConfigFromItems(bundle.ConfigItems)

	c.mu.Lock()
	c.config = cfg
	c.unitTypes = unitTypes
	c.eventTypes = eventTypes
	c.bases = bases
	c.initialized = true
	c.mu.Unlock()

	c.log.V(1).Info("static data refreshed",
		"unit_types", len(unitTypes), "event_types", len(eventTypes), "bases", len(bases))
	metrics.RecordCacheRefresh("ok")
	return nil
}

// GetConfig returns the most recently committed config snapshot.
func (c *Cache) GetConfig() model.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config
}

// GetUnitTypes returns a copy of the most recently committed unit type map.
// A copy is returned (rather than the internal map) so a caller cannot
// mutate cache state through the reference, and so the returned value
// remains stable even if a refresh commits concurrently.
func (c *Cache) GetUnitTypes() map[string]model.UnitType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneUnitTypes(c.unitTypes)
}

// GetEventTypes returns a copy of the most recently committed event type map.
func (c *Cache) GetEventTypes() map[string]model.EventType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneEventTypes(c.eventTypes)
}

// GetBases returns a copy of the most recently committed base map.
func (c *Cache) GetBases() map[string]model.Base {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneBases(c.bases)
}

// GetRecommendedUnitTypes returns the recommended unit type codes for an
// event type, or an empty (non-nil) slice when the event type is unknown or
// carries no recommendation list.
func (c *Cache) GetRecommendedUnitTypes(eventTypeCode string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	et, ok := c.eventTypes[eventTypeCode]
	if !ok || et.RecommendedUnitTypes == nil {
		return []string{}
	}
	out := make([]string, len(et.RecommendedUnitTypes))
	copy(out, et.RecommendedUnitTypes)
	return out
}

// GetBase returns the base for a code and whether it was found.
func (c *Cache) GetBase(code string) (model.Base, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.bases[code]
	return b, ok
}

// IsInitialized reports whether at least one successful refresh has
// completed.
func (c *Cache) IsInitialized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.initialized
}

func cloneUnitTypes(m map[string]model.UnitType) map[string]model.UnitType {
	out := make(map[string]model.UnitType, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneEventTypes(m map[string]model.EventType) map[string]model.EventType {
	out := make(map[string]model.EventType, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneBases(m map[string]model.Base) map[string]model.Base {
	out := make(map[string]model.Base, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

package pathacl

import (
	"strconv"

	"github.com/dgraph-io/ristretto"
)

// ============================================================================
// DECISION CACHE
// ============================================================================

// DecisionCacheConfig tunes the optional full-decision cache.
type DecisionCacheConfig struct {
	NumCounters int64 `json:"num_counters" yaml:"num_counters"`
	MaxCost     int64 `json:"max_cost" yaml:"max_cost"`
	BufferItems int64 `json:"buffer_items" yaml:"buffer_items"`
}

// DefaultDecisionCacheConfig returns sizing suitable for most deployments.
func DefaultDecisionCacheConfig() DecisionCacheConfig {
	return DecisionCacheConfig{
		NumCounters: 100_000,
		MaxCost:     10_000,
		BufferItems: 64,
	}
}

// decisionCache memoizes whole-path decisions in a ristretto cache. Keys
// embed the generation id, so entries written against a retired generation
// can never satisfy a lookup after a reload even before Clear completes.
type decisionCache struct {
	cache *ristretto.Cache
}

func newDecisionCache(cfg DecisionCacheConfig) (*decisionCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &decisionCache{cache: cache}, nil
}

func decisionKey(gen uint64, email, path string) string {
	return strconv.FormatUint(gen, 10) + "\x00" + email + "\x00" + path
}

func (d *decisionCache) get(gen uint64, email, path string) (allowed, ok bool) {
	value, found := d.cache.Get(decisionKey(gen, email, path))
	if !found {
		return false, false
	}
	allowed, ok = value.(bool)
	return allowed, ok
}

func (d *decisionCache) set(gen uint64, email, path string, allowed bool) {
	d.cache.Set(decisionKey(gen, email, path), allowed, 1)
}

func (d *decisionCache) clear() {
	d.cache.Clear()
}

// ConfigureDecisionCache installs or replaces the resolver's decision cache.
// Passing a zero-valued config falls back to the defaults.
func (r *Resolver) ConfigureDecisionCache(cfg DecisionCacheConfig) error {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		cfg = DefaultDecisionCacheConfig()
	}
	dc, err := newDecisionCache(cfg)
	if err != nil {
		return err
	}
	if old := r.decisions.Swap(dc); old != nil {
		old.cache.Close()
	}
	return nil
}

// WithDecisionCache enables the full-decision cache at construction time.
func WithDecisionCache(cfg DecisionCacheConfig) Option {
	return func(r *Resolver) error {
		return r.ConfigureDecisionCache(cfg)
	}
}

// invalidateDecisionCache drops every cached decision. Called on reload,
// after the new generation is published.
func (r *Resolver) invalidateDecisionCache() {
	if dc := r.decisions.Load(); dc != nil {
		dc.clear()
	}
}

// Package cache provides a two-tier, tag-invalidatable cache engine over
// internal/kvstore (spec.md §4.3). Keys follow a versioned template
// ("lumen:v2:<resource>:<id>") so a future incompatible payload-shape
// change can be rolled out by bumping the version segment without a
// migration. Tag membership is tracked via marker keys
// ("lumen:v2:cache:tag:<tag>:<full_key>") enumerated through a real SCAN,
// not the stub the Python original shipped (see the grounding ledger).
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/niyusum/luminescence-sub000/internal/kvstore"
	"github.com/niyusum/luminescence-sub000/internal/logging"
	"github.com/niyusum/luminescence-sub000/internal/metrics"
)

const keyVersion = "v2"
const tagRegistryPrefix = "lumen:" + keyVersion + ":cache:tag"

// KeyTemplates maps a named resource type to its key-building format
// string, interpolated with fmt.Sprintf-style %v verbs in template order.
var KeyTemplates = map[string]string{
	"player_resources": "lumen:" + keyVersion + ":player:%v:resources",
	"maiden_collection": "lumen:" + keyVersion + ":player:%v:maidens",
	"fusion_rates":      "lumen:" + keyVersion + ":fusion:rates:%v",
	"leader_bonuses":    "lumen:" + keyVersion + ":leader:%v:%v",
	"daily_quest":       "lumen:" + keyVersion + ":daily:%v:%v",
	"drop_charges":      "lumen:" + keyVersion + ":drop:%v",
	"active_modifiers":  "lumen:" + keyVersion + ":player:%v:modifiers",
	"leaderboards":      "lumen:" + keyVersion + ":leaderboard:%v:%v",
}

// DefaultTTLs gives the per-resource-type fallback TTL used when a caller
// does not supply one (mirrors the Python original's _TTL_DEFAULTS).
var DefaultTTLs = map[string]time.Duration{
	"player_resources":  5 * time.Minute,
	"maiden_collection": 5 * time.Minute,
	"active_modifiers":  10 * time.Minute,
	"fusion_rates":       time.Hour,
	"leader_bonuses":     time.Hour,
	"daily_quest":        24 * time.Hour,
	"drop_charges":       5 * time.Minute,
	"leaderboards":       10 * time.Minute,
}

const defaultTagTTL = 2 * time.Hour

// Key builds the cache key for a named template, e.g.
// Key("player_resources", playerID).
func Key(template string, args ...any) (string, error) {
	format, ok := KeyTemplates[template]
	if !ok {
		return "", fmt.Errorf("unknown cache key template: %s", template)
	}
	return fmt.Sprintf(format, args...), nil
}

// TTLFor returns the configured TTL for a cache type, defaulting to 5
// minutes for unrecognized types.
func TTLFor(cacheType string) time.Duration {
	if ttl, ok := DefaultTTLs[cacheType]; ok {
		return ttl
	}
	return 5 * time.Minute
}

var (
	cacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lumen",
		Subsystem: "cache",
		Name:      "hits_total",
	}, []string{"cache_type"})
	cacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lumen",
		Subsystem: "cache",
		Name:      "misses_total",
	}, []string{"cache_type"})
	cacheInvalidations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lumen",
		Subsystem: "cache",
		Name:      "invalidations_total",
	}, []string{"tag"})
)

func init() {
	prometheus.MustRegister(cacheHits, cacheMisses, cacheInvalidations)
}

// Engine is the tag-invalidatable cache built on top of a kvstore.Store.
type Engine struct {
	store   *kvstore.Store
	log     *logging.Logger
	metrics Metrics
}

// New constructs an Engine over an already-connected kvstore.Store.
func New(store *kvstore.Store, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.Default()
	}
	return &Engine{store: store, log: log}
}

// Metrics returns a snapshot of this engine's hit/miss/error counters, for
// the health predicate and operator dashboards.
func (e *Engine) Metrics() Snapshot {
	return e.metrics.Snapshot()
}

// Get retrieves and JSON-unmarshals the document stored at key into dest.
func (e *Engine) Get(ctx context.Context, cacheType, key string, dest any) (bool, error) {
	start := time.Now()
	doc, found, err := e.store.GetJSON(ctx, key)
	e.metrics.recordGetLatency(time.Since(start))
	if err != nil {
		e.metrics.recordError()
		metrics.RecordCacheOp("get", "error")
		return false, err
	}
	if !found {
		cacheMisses.WithLabelValues(cacheType).Inc()
		e.metrics.recordMiss()
		metrics.RecordCacheOp("get", "miss")
		e.log.LogCacheEvent(ctx, "miss", key, nil)
		return false, nil
	}
	cacheHits.WithLabelValues(cacheType).Inc()
	e.metrics.recordHit()
	metrics.RecordCacheOp("get", "hit")
	e.log.LogCacheEvent(ctx, "hit", key, nil)
	return true, remarshalInto(doc, dest)
}

// remarshalInto copies the dynamically-typed doc (as produced by
// encoding/json unmarshal into `any`) into dest via a JSON round-trip.
func remarshalInto(doc any, dest any) error {
	if dest == nil {
		return nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

// Set stores value at key with the given TTL (falls back to TTLFor(cacheType)
// when ttl <= 0), optionally tagging the key for later bulk invalidation.
func (e *Engine) Set(ctx context.Context, cacheType, key string, value any, ttl time.Duration, tags ...string) error {
	if ttl <= 0 {
		ttl = TTLFor(cacheType)
	}
	start := time.Now()
	err := e.store.SetJSON(ctx, key, value, ttl)
	e.metrics.recordSetLatency(time.Since(start))
	if err != nil {
		e.metrics.recordError()
		metrics.RecordCacheOp("set", "error")
		return err
	}
	e.metrics.recordSet()
	metrics.RecordCacheOp("set", "ok")
	e.log.LogCacheEvent(ctx, "set", key, map[string]interface{}{"cache_type": cacheType, "ttl": ttl.String()})
	if len(tags) > 0 {
		if err := e.AddTags(ctx, key, tags); err != nil {
			e.log.WithContext(ctx).WithError(err).Warn("failed to tag cache key")
		}
	}
	return nil
}

// Invalidate deletes a single cache key.
func (e *Engine) Invalidate(ctx context.Context, key string) error {
	_, err := e.store.Delete(ctx, key)
	if err != nil {
		metrics.RecordCacheOp("invalidate", "error")
		return err
	}
	e.metrics.recordInvalidation()
	metrics.RecordCacheOp("invalidate", "ok")
	e.log.LogCacheEvent(ctx, "invalidate", key, nil)
	return nil
}

// BatchSet stores each entry in ops, tagging as requested. Each op's TTL
// falls back to TTLFor(op.CacheType) when unset. A failure in one entry
// does not prevent the others from being attempted; the returned map
// reports per-key success.
type BatchSetOp struct {
	Template     string
	TemplateArgs []any
	Value        any
	TTL          time.Duration
	Tags         []string
}

func (e *Engine) BatchSet(ctx context.Context, ops []BatchSetOp) (map[string]bool, error) {
	results := make(map[string]bool, len(ops))
	for _, op := range ops {
		key, err := Key(op.Template, op.TemplateArgs...)
		if err != nil {
			e.log.WithContext(ctx).WithError(err).Warn("batch_cache: unknown template")
			continue
		}
		ttl := op.TTL
		if ttl <= 0 {
			ttl = TTLFor(op.Template)
		}
		err = e.Set(ctx, op.Template, key, op.Value, ttl, op.Tags...)
		results[key] = err == nil
	}
	return results, nil
}

// ---------------------------------------------------------------------------
// Tag-based invalidation
// ---------------------------------------------------------------------------

// AddTags associates tags with key via marker keys
// "lumen:v2:cache:tag:<tag>:<key>", each carrying a tag-registry TTL.
func (e *Engine) AddTags(ctx context.Context, key string, tags []string) error {
	for _, tag := range tags {
		markerKey := tagMarkerKey(tag, key)
		if err := e.store.Set(ctx, markerKey, "1", defaultTagTTL); err != nil {
			return fmt.Errorf("add tag %q to %q: %w", tag, key, err)
		}
	}
	return nil
}

func tagMarkerKey(tag, key string) string {
	return fmt.Sprintf("%s:%s:%s", tagRegistryPrefix, tag, key)
}

// GetKeysByTag enumerates the actual cache keys associated with tag via a
// real SCAN over its marker-key prefix — unlike the Python original's stub,
// this always reflects what was actually registered.
func (e *Engine) GetKeysByTag(ctx context.Context, tag string) ([]string, error) {
	pattern := fmt.Sprintf("%s:%s:*", tagRegistryPrefix, tag)
	markerKeys, err := e.store.Keys(ctx, pattern)
	if err != nil {
		return nil, err
	}

	prefix := fmt.Sprintf("%s:%s:", tagRegistryPrefix, tag)
	keys := make([]string, 0, len(markerKeys))
	for _, mk := range markerKeys {
		if actual, ok := strings.CutPrefix(mk, prefix); ok && actual != "" {
			keys = append(keys, actual)
		}
	}
	return keys, nil
}

// InvalidateByTag deletes every cache key registered under tag along with
// its marker keys, returning the count of cache keys actually deleted.
// The invalidation counter is incremented only for deletions that really
// happened (Open Question #2: no over-reporting), in contrast to the
// Python original whose enumeration never populated real data.
func (e *Engine) InvalidateByTag(ctx context.Context, tag string) (int, error) {
	keys, err := e.GetKeysByTag(ctx, tag)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		e.log.LogCacheEvent(ctx, "invalidate_by_tag_empty", tag, nil)
		return 0, nil
	}

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		invalidated int
	)
	for _, key := range keys {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			n, delErr := e.store.Delete(ctx, key)
			if delErr != nil {
				e.log.WithContext(ctx).WithError(delErr).Warn("tag invalidation: failed to delete key")
				return
			}
			if n > 0 {
				mu.Lock()
				invalidated++
				mu.Unlock()
				e.metrics.recordInvalidation()
				cacheInvalidations.WithLabelValues(tag).Inc()
				metrics.RecordCacheOp("invalidate_by_tag", "ok")
			}
			_, _ = e.store.Delete(ctx, tagMarkerKey(tag, key))
		}(key)
	}
	wg.Wait()

	e.log.LogCacheEvent(ctx, "invalidate_by_tag", tag, map[string]interface{}{
		"keys_found":       len(keys),
		"keys_invalidated": invalidated,
	})
	return invalidated, nil
}

// BatchInvalidateByTags invalidates multiple tags, returning a per-tag count.
func (e *Engine) BatchInvalidateByTags(ctx context.Context, tags []string) (map[string]int, error) {
	results := make(map[string]int, len(tags))
	for _, tag := range tags {
		n, err := e.InvalidateByTag(ctx, tag)
		if err != nil {
			e.log.WithContext(ctx).WithError(err).Warn("batch tag invalidation failed")
			continue
		}
		results[tag] = n
	}
	return results, nil
}

// InvalidateByPattern deletes up to maxKeys cache entries matching a raw
// Redis glob pattern, for maintenance use where tag-based invalidation
// wasn't set up in advance. Use with caution: pattern scans can be
// expensive over large keyspaces.
func (e *Engine) InvalidateByPattern(ctx context.Context, pattern string, maxKeys int) (int, error) {
	keys, err := e.store.Keys(ctx, pattern)
	if err != nil {
		return 0, err
	}
	if maxKeys > 0 && len(keys) > maxKeys {
		keys = keys[:maxKeys]
	}
	n, err := e.store.BatchDelete(ctx, keys)
	return int(n), err
}

// CleanupTagRegistry removes marker keys for tag (or all tags when tag is
// empty) whose backing cache key no longer exists — Redis TTL normally
// handles this, but an operator may want to force it.
func (e *Engine) CleanupTagRegistry(ctx context.Context, tag string) (int, error) {
	pattern := tagRegistryPrefix + ":*"
	if tag != "" {
		pattern = fmt.Sprintf("%s:%s:*", tagRegistryPrefix, tag)
	}
	markerKeys, err := e.store.Keys(ctx, pattern)
	if err != nil {
		return 0, err
	}

	prefix := tagRegistryPrefix + ":"
	if tag != "" {
		prefix = fmt.Sprintf("%s:%s:", tagRegistryPrefix, tag)
	}

	cleaned := 0
	for _, mk := range markerKeys {
		actualKey, ok := strings.CutPrefix(mk, prefix)
		if !ok || actualKey == "" {
			continue
		}
		if tag == "" {
			// actualKey is "<tag>:<key>"; tags may contain colons, so
			// locate the key by the "lumen:<version>:" prefix Key builds.
			i := strings.Index(actualKey, ":lumen:"+keyVersion+":")
			if i < 0 {
				continue
			}
			actualKey = actualKey[i+1:]
		}
		exists, err := e.store.Exists(ctx, actualKey)
		if err != nil {
			continue
		}
		if !exists {
			if _, err := e.store.Delete(ctx, mk); err == nil {
				cleaned++
			}
		}
	}
	return cleaned, nil
}

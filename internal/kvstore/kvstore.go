// Package kvstore provides the Redis-backed key/value, JSON-document,
// distributed-lock, batch, and token-bucket rate-limiting primitives the
// rest of the core is built on (spec.md §4.2). KV, JSON, lock acquire/release,
// batch and rate-limit commands are wrapped by the resilience layer's circuit
// breaker, with operation timing recorded through structured logging. The
// SCAN behind Keys, Ping, and the best-effort lock-ownership hash commands
// call the Redis client directly, outside the breaker.
package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tidwall/gjson"

	"github.com/niyusum/luminescence-sub000/internal/logging"
	"github.com/niyusum/luminescence-sub000/internal/metrics"
	"github.com/niyusum/luminescence-sub000/internal/resilience"
)

// Config configures the Store's connection and default behavior.
type Config struct {
	RedisURL          string
	PoolSize          int
	DefaultTTL        time.Duration
	LockTimeout       time.Duration
	LockWaitTimeout   time.Duration
	LockRetryInterval time.Duration
	Breaker           resilience.Config
}

// DefaultConfig returns this core's kvstore defaults, matching the Python
// original's config keys (core.redis.lock.default_timeout_sec=5, etc).
func DefaultConfig(redisURL string) Config {
	return Config{
		RedisURL:          redisURL,
		PoolSize:          10,
		DefaultTTL:        5 * time.Minute,
		LockTimeout:       5 * time.Second,
		LockWaitTimeout:   5 * time.Second,
		LockRetryInterval: 100 * time.Millisecond,
		Breaker:           resilience.DefaultConfig(),
	}
}

// Store is a typed Redis client providing KV, JSON-document, distributed
// lock, batch, and rate-limit operations.
type Store struct {
	client  *redis.Client
	cfg     Config
	log     *logging.Logger
	breaker *resilience.CircuitBreaker
}

// New constructs a Store from cfg. Returns an error if the Redis URL cannot
// be parsed.
func New(cfg Config, log *logging.Logger) (*Store, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if cfg.PoolSize > 0 {
		opt.PoolSize = cfg.PoolSize
	}
	if log == nil {
		log = logging.Default()
	}

	return &Store{
		client:  redis.NewClient(opt),
		cfg:     cfg,
		log:     log,
		breaker: resilience.New(cfg.Breaker),
	}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping verifies connectivity, for use by a health monitor.
func (s *Store) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.client.Ping(pingCtx).Err()
}

// execute runs fn through the circuit breaker, recording operation latency.
func (s *Store) execute(ctx context.Context, opName string, fn func() error) error {
	start := time.Now()
	err := s.breaker.Execute(ctx, fn)
	latency := time.Since(start)
	if err != nil {
		s.log.WithContext(ctx).WithFields(map[string]interface{}{
			"operation":  opName,
			"latency_ms": logging.FormatDuration(latency),
		}).WithError(err).Error("redis operation failed")
		return err
	}
	s.log.WithContext(ctx).WithFields(map[string]interface{}{
		"operation":  opName,
		"latency_ms": logging.FormatDuration(latency),
	}).Debug("redis operation")
	return nil
}

// ---------------------------------------------------------------------------
// Basic KV operations
// ---------------------------------------------------------------------------

// Get retrieves a string value. Returns ("", false, nil) on a cache miss.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	var found = true
	err := s.execute(ctx, "GET:"+key, func() error {
		v, err := s.client.Get(ctx, key).Result()
		if err == redis.Nil {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	return value, found, err
}

// Set stores value with ttl (Store's DefaultTTL when ttl <= 0).
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}
	return s.execute(ctx, "SET:"+key, func() error {
		return s.client.Set(ctx, key, value, ttl).Err()
	})
}

// Delete removes a key, returning the number of keys actually deleted (0 or 1).
func (s *Store) Delete(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.execute(ctx, "DEL:"+key, func() error {
		v, err := s.client.Del(ctx, key).Result()
		n = v
		return err
	})
	return n, err
}

// Incr atomically increments key by amount.
func (s *Store) Incr(ctx context.Context, key string, amount int64) (int64, error) {
	var n int64
	err := s.execute(ctx, "INCRBY:"+key, func() error {
		v, err := s.client.IncrBy(ctx, key, amount).Result()
		n = v
		return err
	})
	return n, err
}

// Decr atomically decrements key by amount.
func (s *Store) Decr(ctx context.Context, key string, amount int64) (int64, error) {
	var n int64
	err := s.execute(ctx, "DECRBY:"+key, func() error {
		v, err := s.client.DecrBy(ctx, key, amount).Result()
		n = v
		return err
	})
	return n, err
}

// Expire sets a TTL on an existing key.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	var ok bool
	err := s.execute(ctx, "EXPIRE:"+key, func() error {
		v, err := s.client.Expire(ctx, key, ttl).Result()
		ok = v
		return err
	})
	return ok, err
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := s.execute(ctx, "EXISTS:"+key, func() error {
		v, err := s.client.Exists(ctx, key).Result()
		ok = v > 0
		return err
	})
	return ok, err
}

// TTL returns the remaining time-to-live of key, or -1 if it has none, or
// -2 if the key does not exist.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	var d time.Duration
	err := s.execute(ctx, "TTL:"+key, func() error {
		v, err := s.client.TTL(ctx, key).Result()
		d = v
		return err
	})
	return d, err
}

// ---------------------------------------------------------------------------
// JSON document operations
//
// These operate on a whole-document string value holding a JSON object or
// array, addressed by a dotted path. They deliberately mirror the Python
// original's json_get/json_set/json_delete semantics exactly, including a
// quirk preserved intentionally (see JSONSet below).
// ---------------------------------------------------------------------------

// normalizeJSONPath splits a dotted path into segments, treating "", "$",
// and "." as the root (no segments).
func normalizeJSONPath(path string) []string {
	trimmed := path
	for len(trimmed) > 0 && (trimmed[0] == '$' || trimmed[0] == '.') {
		trimmed = trimmed[1:]
	}
	if trimmed == "" {
		return nil
	}
	segments := []string{}
	for _, part := range strings.Split(trimmed, ".") {
		if part != "" {
			segments = append(segments, part)
		}
	}
	return segments
}

// GetJSON retrieves and unmarshals the whole JSON document stored at key.
func (s *Store) GetJSON(ctx context.Context, key string) (any, bool, error) {
	raw, found, err := s.Get(ctx, key)
	if err != nil || !found {
		return nil, found, err
	}
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, true, fmt.Errorf("unmarshal json document %s: %w", key, err)
	}
	return doc, true, nil
}

// SetJSON marshals and stores doc as the whole JSON document at key.
func (s *Store) SetJSON(ctx context.Context, key string, doc any, ttl time.Duration) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal json document %s: %w", key, err)
	}
	return s.Set(ctx, key, string(raw), ttl)
}

// JSONGet traverses the document stored at key by path, never raising on a
// missing intermediate: returns (nil, false, nil) when the path cannot be
// resolved, (nil, false, nil) when the key itself is absent.
func (s *Store) JSONGet(ctx context.Context, key, path string) (any, bool, error) {
	raw, found, err := s.Get(ctx, key)
	if err != nil || !found {
		return nil, false, err
	}

	segments := normalizeJSONPath(path)
	if len(segments) == 0 {
		var doc any
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, false, nil
		}
		return doc, true, nil
	}

	result := gjson.GetBytes([]byte(raw), gjsonPath(segments))
	if !result.Exists() {
		return nil, false, nil
	}
	return result.Value(), true, nil
}

func gjsonPath(segments []string) string {
	out := ""
	for i, seg := range segments {
		if i > 0 {
			out += "."
		}
		out += seg
	}
	return out
}

// JSONSet traverses (creating intermediate maps as needed) and sets value at
// path within the document stored at key, creating the document as {} if
// absent. Preserved from the Python original: if an intermediate node along
// the path is not a JSON object (e.g. a traversal hits a string, number or
// list where an object was expected), that node is silently re-rooted
// into an empty map rather than raising — a latent behavior kept
// intentionally rather than "fixed", since downstream config consumers may
// depend on the silent-recovery path never raising (see the grounding
// ledger's open-question resolution).
func (s *Store) JSONSet(ctx context.Context, key, path string, value any, ttl time.Duration) error {
	raw, found, err := s.Get(ctx, key)
	if err != nil {
		return err
	}

	var doc any
	if found {
		if uErr := json.Unmarshal([]byte(raw), &doc); uErr != nil {
			doc = map[string]any{}
		}
	} else {
		doc = map[string]any{}
	}

	segments := normalizeJSONPath(path)
	if len(segments) == 0 {
		doc = value
	} else {
		doc = setAtPath(doc, segments, value)
	}

	return s.SetJSON(ctx, key, doc, ttl)
}

// setAtPath implements the exact re-rooting behavior described on JSONSet.
func setAtPath(node any, segments []string, value any) any {
	if len(segments) == 0 {
		return value
	}
	seg := segments[0]
	rest := segments[1:]

	m, ok := node.(map[string]any)
	if !ok {
		m = map[string]any{}
	}
	if len(rest) == 0 {
		m[seg] = value
	} else {
		m[seg] = setAtPath(m[seg], rest, value)
	}
	return m
}

// JSONDelete removes the value at path within the document stored at key.
// Returns false if the key is absent or the path cannot be resolved.
func (s *Store) JSONDelete(ctx context.Context, key, path string) (bool, error) {
	raw, found, err := s.Get(ctx, key)
	if err != nil || !found {
		return false, err
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return false, nil
	}

	segments := normalizeJSONPath(path)
	if len(segments) == 0 {
		return false, nil
	}

	parent := doc
	for _, seg := range segments[:len(segments)-1] {
		next, ok := parent[seg].(map[string]any)
		if !ok {
			return false, nil
		}
		parent = next
	}

	last := segments[len(segments)-1]
	if _, ok := parent[last]; !ok {
		return false, nil
	}
	delete(parent, last)

	return true, s.SetJSON(ctx, key, doc, s.cfg.DefaultTTL)
}

// ---------------------------------------------------------------------------
// Distributed lock
// ---------------------------------------------------------------------------

const luaUnlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`

// LockOptions configures a single Lock acquisition. Zero values fall back to
// the Store's configured defaults.
type LockOptions struct {
	Timeout       time.Duration // lock expiration
	WaitTimeout   time.Duration // max time to wait for acquisition
	RetryInterval time.Duration
	Operation     string // debug label, e.g. "fusion"
	OwnerID       string // debug label, e.g. player ID
}

// Lock represents a held distributed lock; Unlock releases it.
type Lock struct {
	key   string
	token string
	store *Store
}

// AcquireLock blocks (polling every RetryInterval) until the lock named key
// is obtained or opts.WaitTimeout elapses, in which case it returns a
// lock-timeout error that AsLockTimeout recognizes. Lock ownership is tracked in a debug hash
// for operator inspection.
func (s *Store) AcquireLock(ctx context.Context, key string, opts LockOptions) (*Lock, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = s.cfg.LockTimeout
	}
	waitTimeout := opts.WaitTimeout
	if waitTimeout <= 0 {
		waitTimeout = s.cfg.LockWaitTimeout
	}
	retryInterval := opts.RetryInterval
	if retryInterval <= 0 {
		retryInterval = s.cfg.LockRetryInterval
	}

	token := uuid.New().String()
	deadline := time.Now().Add(waitTimeout)
	start := time.Now()

	for {
		var acquired bool
		err := s.execute(ctx, "LOCK:"+key, func() error {
			ok, err := s.client.SetNX(ctx, key, token, timeout).Result()
			acquired = ok
			return err
		})
		if err != nil {
			s.log.LogLockEvent(ctx, "acquire_error", key, time.Since(start).Seconds()*1000, err)
			metrics.RecordLockAcquisition(key, "error", time.Since(start))
		}
		if acquired {
			s.log.LogLockEvent(ctx, "acquired", key, time.Since(start).Seconds()*1000, nil)
			metrics.RecordLockAcquisition(key, "acquired", time.Since(start))
			s.trackLockOwnership(ctx, key, token, timeout, opts.Operation, opts.OwnerID)
			return &Lock{key: key, token: token, store: s}, nil
		}

		if time.Now().After(deadline) {
			s.log.LogLockEvent(ctx, "timeout", key, time.Since(start).Seconds()*1000, nil)
			metrics.RecordLockAcquisition(key, "timeout", time.Since(start))
			return nil, lockTimeoutError(key, waitTimeout)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

// Unlock releases the lock via a compare-and-delete Lua script, so a lock
// that has already expired (and potentially been re-acquired by another
// owner) is never deleted out from under its new owner.
func (l *Lock) Unlock(ctx context.Context) error {
	var released int64
	err := l.store.execute(ctx, "UNLOCK:"+l.key, func() error {
		v, err := l.store.client.Eval(ctx, luaUnlockScript, []string{l.key}, l.token).Result()
		if err != nil {
			return err
		}
		released, _ = v.(int64)
		return nil
	})
	l.store.removeLockTracking(ctx, l.key)
	if err != nil {
		l.store.log.LogLockEvent(ctx, "release_error", l.key, 0, err)
		metrics.RecordLockAcquisition(l.key, "release_error", 0)
		return err
	}
	if released == 0 {
		l.store.log.LogLockEvent(ctx, "stolen_or_expired", l.key, 0, nil)
		metrics.RecordLockAcquisition(l.key, "stolen_or_expired", 0)
	} else {
		l.store.log.LogLockEvent(ctx, "released", l.key, 0, nil)
		metrics.RecordLockAcquisition(l.key, "released", 0)
	}
	return nil
}

// WithLock acquires the named lock, runs fn, and always releases the lock
// afterward — the scoped-resource pattern every mutating operation in this
// core uses to serialize access to a player aggregate.
func (s *Store) WithLock(ctx context.Context, key string, opts LockOptions, fn func(ctx context.Context) error) error {
	lock, err := s.AcquireLock(ctx, key, opts)
	if err != nil {
		return err
	}
	defer lock.Unlock(ctx)
	return fn(ctx)
}

func (s *Store) trackLockOwnership(ctx context.Context, key, token string, timeout time.Duration, operation, ownerID string) {
	trackingKey := "lock:tracking:" + key
	fields := map[string]interface{}{
		"token":       token,
		"acquired_at": time.Now().UTC().Format(time.RFC3339Nano),
		"expires_at":  time.Now().Add(timeout).UTC().Format(time.RFC3339Nano),
		"timeout":     strconv.FormatFloat(timeout.Seconds(), 'f', -1, 64),
	}
	if operation != "" {
		fields["operation"] = operation
	}
	if ownerID != "" {
		fields["owner_id"] = ownerID
	}
	// Best-effort: tracking failures never propagate, matching the Python
	// original's debug-only ownership hash.
	_ = s.client.HSet(ctx, trackingKey, fields).Err()
	_ = s.client.Expire(ctx, trackingKey, timeout+10*time.Second).Err()
}

func (s *Store) removeLockTracking(ctx context.Context, key string) {
	_ = s.client.Del(ctx, "lock:tracking:"+key).Err()
}

// LockOwner describes the debug ownership hash for an active lock.
type LockOwner struct {
	Token      string
	AcquiredAt string
	ExpiresAt  string
	Operation  string
	OwnerID    string
}

// GetLockOwner returns the debug ownership record for lockKey, if tracked.
func (s *Store) GetLockOwner(ctx context.Context, lockKey string) (*LockOwner, bool, error) {
	m, err := s.client.HGetAll(ctx, "lock:tracking:"+lockKey).Result()
	if err != nil {
		return nil, false, err
	}
	if len(m) == 0 {
		return nil, false, nil
	}
	return &LockOwner{
		Token:      m["token"],
		AcquiredAt: m["acquired_at"],
		ExpiresAt:  m["expires_at"],
		Operation:  m["operation"],
		OwnerID:    m["owner_id"],
	}, true, nil
}

func lockTimeoutError(key string, waitTimeout time.Duration) error {
	return &lockAcquisitionError{key: key, waitTimeout: waitTimeout}
}

type lockAcquisitionError struct {
	key         string
	waitTimeout time.Duration
}

func (e *lockAcquisitionError) Error() string {
	return fmt.Sprintf("failed to acquire lock %q within %s", e.key, e.waitTimeout)
}

// LockKeyAndTimeout returns the lock identifier and wait timeout a timeout
// error was raised for, for
// callers that want to wrap it into errors.LockAcquisitionTimeout.
func (e *lockAcquisitionError) LockKeyAndTimeout() (string, time.Duration) {
	return e.key, e.waitTimeout
}

// AsLockTimeout reports whether err is a lock-acquisition timeout, returning
// the lock key and configured wait timeout for error translation.
func AsLockTimeout(err error) (key string, waitTimeout time.Duration, ok bool) {
	lte, ok := err.(*lockAcquisitionError)
	if !ok {
		return "", 0, false
	}
	return lte.key, lte.waitTimeout, true
}

// ---------------------------------------------------------------------------
// Batch operations
// ---------------------------------------------------------------------------

// BatchGet retrieves multiple keys in a single round trip via MGET.
func (s *Store) BatchGet(ctx context.Context, keys []string) (map[string]string, error) {
	if len(keys) == 0 {
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(keys))
	err := s.execute(ctx, "MGET", func() error {
		vals, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return err
		}
		for i, v := range vals {
			if v == nil {
				continue
			}
			if str, ok := v.(string); ok {
				out[keys[i]] = str
			}
		}
		return nil
	})
	return out, err
}

// BatchSet stores multiple key/value pairs via a pipeline, each with the
// same ttl (Store's DefaultTTL when ttl <= 0).
func (s *Store) BatchSet(ctx context.Context, values map[string]string, ttl time.Duration) error {
	if len(values) == 0 {
		return nil
	}
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}
	return s.execute(ctx, "PIPELINE_SET", func() error {
		pipe := s.client.Pipeline()
		for k, v := range values {
			pipe.Set(ctx, k, v, ttl)
		}
		_, err := pipe.Exec(ctx)
		return err
	})
}

// BatchDelete deletes multiple keys in a single round trip.
func (s *Store) BatchDelete(ctx context.Context, keys []string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	var n int64
	err := s.execute(ctx, "BATCH_DEL", func() error {
		v, err := s.client.Del(ctx, keys...).Result()
		n = v
		return err
	})
	return n, err
}

// Keys enumerates keys matching pattern via non-blocking SCAN.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return nil, err
		}
		out = append(out, keys...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Token bucket rate limiting
// ---------------------------------------------------------------------------

const luaTokenBucketScript = `
local key = KEYS[1]
local max_tokens = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local requested = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local bucket = redis.call('HMGET', key, 'tokens', 'last_refill')
local tokens = tonumber(bucket[1])
local last_refill = tonumber(bucket[2])

if tokens == nil then
    tokens = max_tokens
    last_refill = now
end

local time_passed = now - last_refill
local new_tokens = math.min(max_tokens, tokens + (time_passed * refill_rate))

if new_tokens >= requested then
    new_tokens = new_tokens - requested
    redis.call('HMSET', key, 'tokens', new_tokens, 'last_refill', now)
    redis.call('EXPIRE', key, 3600)
    return 1
else
    redis.call('HMSET', key, 'tokens', new_tokens, 'last_refill', now)
    redis.call('EXPIRE', key, 3600)
    return 0
end
`

// TokenBucketAllow atomically attempts to withdraw requested tokens from the
// named bucket, refilling at refillRate tokens/sec up to maxTokens. Returns
// true if the request is allowed.
func (s *Store) TokenBucketAllow(ctx context.Context, bucketKey string, maxTokens, refillRate, requested float64) (bool, error) {
	key := "ratelimit:tb:" + bucketKey
	var allowed bool
	err := s.execute(ctx, "TOKEN_BUCKET:"+bucketKey, func() error {
		now := float64(time.Now().UnixNano()) / 1e9
		v, err := s.client.Eval(ctx, luaTokenBucketScript, []string{key},
			maxTokens, refillRate, requested, now).Result()
		if err != nil {
			return err
		}
		n, _ := v.(int64)
		allowed = n == 1
		return nil
	})
	return allowed, err
}

// FixedWindowAllow is the simpler INCR+EXPIRE fallback limiter: allows up to
// limit requests per window per key.
func (s *Store) FixedWindowAllow(ctx context.Context, windowKey string, limit int64, window time.Duration) (bool, error) {
	key := "ratelimit:fw:" + windowKey
	var count int64
	err := s.execute(ctx, "FIXED_WINDOW:"+windowKey, func() error {
		n, err := s.client.Incr(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 1 {
			if err := s.client.Expire(ctx, key, window).Err(); err != nil {
				return err
			}
		}
		count = n
		return nil
	})
	if err != nil {
		return false, err
	}
	return count <= limit, nil
}

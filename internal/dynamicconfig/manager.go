// Package dynamicconfig implements the tunable game-balance layer spec.md
// §4.4 describes: a YAML-file baseline merged with a database overlay,
// refreshed on a timer, exposed through a dot-path Get/Set API and validated
// against a recursive schema. Grounded on the original's
// src/core/config/config_manager.py and validator.py, re-expressed as a
// mutex-guarded cache rather than a classmethod singleton, refreshed by
// robfig/cron/v3 (the teacher's scheduling library) instead of an asyncio
// task.
package dynamicconfig

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/niyusum/luminescence-sub000/internal/database"
	"github.com/niyusum/luminescence-sub000/internal/errors"
	"github.com/niyusum/luminescence-sub000/internal/logging"
	"github.com/niyusum/luminescence-sub000/internal/metrics"
	"github.com/niyusum/luminescence-sub000/internal/store"
)

const defaultRefreshInterval = 300 * time.Second

// Manager is the in-memory configuration cache: YAML defaults overlaid with
// database rows, refreshed on a timer.
type Manager struct {
	mu       sync.RWMutex
	defaults map[string]any
	cache    map[string]any

	configStore *store.ConfigStore
	schema      *Schema
	log         *logging.Logger
	yamlDir     string

	refreshInterval time.Duration
	cron            *cron.Cron

	metrics Metrics
}

// Config configures the manager's YAML directory and refresh cadence.
type Config struct {
	YAMLDir         string
	RefreshInterval time.Duration
	Schema          *Schema
}

// New builds a Manager. Call Initialize to load YAML + DB state and start
// the background refresh.
func New(cfg Config, configStore *store.ConfigStore, log *logging.Logger) *Manager {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaultRefreshInterval
	}
	if log == nil {
		log = logging.Default()
	}
	m := &Manager{
		defaults:        map[string]any{},
		cache:           map[string]any{},
		configStore:     configStore,
		schema:          cfg.Schema,
		log:             log,
		refreshInterval: cfg.RefreshInterval,
		yamlDir:         cfg.YAMLDir,
	}
	return m
}

// Initialize loads the YAML baseline, overlays the database rows, and
// starts the periodic refresh. Mirrors ConfigManager.initialize().
func (m *Manager) Initialize(ctx context.Context) error {
	if err := m.loadYAML(); err != nil {
		return errors.ConfigInitialization("load yaml configs", err)
	}

	if err := m.refreshFromDB(ctx); err != nil {
		return errors.ConfigInitialization("load db overlay", err)
	}

	m.startBackgroundRefresh()
	return nil
}

func (m *Manager) loadYAML() error {
	if strings.TrimSpace(m.yamlDir) == "" {
		return nil
	}

	merged := map[string]any{}
	err := filepath.WalkDir(m.yamlDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return fmt.Errorf("read %s: %w", path, readErr)
		}
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		deepMerge(merged, normalizeYAMLMap(doc))
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	m.mu.Lock()
	m.defaults = merged
	m.cache = cloneMap(merged)
	m.mu.Unlock()
	return nil
}

// refreshFromDB re-reads every game_config row and layers it onto the
// current cache (not the defaults, which stay YAML-only so Get can fall
// back to them if the DB is unreachable).
func (m *Manager) refreshFromDB(ctx context.Context) error {
	rows, err := m.configStore.All(ctx)
	if err != nil {
		m.metrics.recordError()
		metrics.RecordConfigOp("refresh", "error")
		return err
	}

	m.mu.Lock()
	for _, row := range rows {
		var decoded any
		if err := yaml.Unmarshal([]byte(row.ConfigValue), &decoded); err != nil {
			m.log.WithError(err).Warn("skipping malformed game_config row: " + row.ConfigKey)
			continue
		}
		setDotPath(m.cache, row.ConfigKey, normalizeYAMLValue(decoded))
	}
	m.mu.Unlock()
	m.metrics.recordRefresh()
	metrics.RecordConfigOp("refresh", "ok")
	return nil
}

func (m *Manager) startBackgroundRefresh() {
	m.cron = cron.New()
	spec := fmt.Sprintf("@every %s", m.refreshInterval)
	_, _ = m.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.refreshFromDB(ctx); err != nil {
			m.log.WithError(err).Warn("dynamic config background refresh failed")
		}
	})
	m.cron.Start()
}

// Stop halts the background refresh job.
func (m *Manager) Stop() {
	if m.cron != nil {
		m.cron.Stop()
	}
}

// Get returns the dot-path value at key, falling back to the YAML defaults
// if the live cache is missing it, and finally to fallback.
func (m *Manager) Get(key string, fallback any) any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if v, ok := lookupDotPath(m.cache, key); ok {
		m.metrics.recordHit()
		metrics.RecordConfigOp("get", "cache_hit")
		return v
	}
	if v, ok := lookupDotPath(m.defaults, key); ok {
		m.metrics.recordFallback()
		metrics.RecordConfigOp("get", "default")
		return v
	}
	m.metrics.recordMiss()
	metrics.RecordConfigOp("get", "fallback")
	return fallback
}

// Set validates value against the schema (if one is configured), persists
// it through configStore, and updates the live cache once the write has
// succeeded, so a failed write never reaches the cache. Readers may see
// the previous value between the commit and the cache update.
func (m *Manager) Set(ctx context.Context, db *database.DB, key string, value any, modifiedBy string) error {
	if m.schema != nil {
		candidate := map[string]any{}
		setDotPath(candidate, key, value)
		if err := m.schema.Validate(candidate, ""); err != nil {
			return err
		}
	}

	encoded, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode config value: %w", err)
	}

	op := func(txCtx context.Context) error {
		return m.configStore.Upsert(txCtx, key, string(encoded), modifiedBy)
	}
	if db != nil {
		err = db.WithTx(ctx, op)
	} else {
		err = op(ctx)
	}
	if err != nil {
		m.metrics.recordError()
		metrics.RecordConfigOp("set", "error")
		return fmt.Errorf("persist config %s: %w", key, err)
	}

	m.mu.Lock()
	setDotPath(m.cache, key, value)
	m.mu.Unlock()
	m.metrics.recordSet()
	metrics.RecordConfigOp("set", "ok")
	return nil
}

// Snapshot returns the full live configuration tree for diagnostics.
func (m *Manager) Snapshot() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneMap(m.cache)
}

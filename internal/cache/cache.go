// Package cache provides caching for rendered charts and encoded matrices.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	ChartCacheSizeMB int
	ChartTTL         time.Duration
	MatrixCacheSize  int
}

// Manager manages chart and matrix caches.
type Manager struct {
	chartCache  *bigcache.BigCache
	matrixCache *lru.Cache[string, []byte]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.ChartTTL <= 0 {
		cfg.ChartTTL = 10 * time.Minute
	}
	if cfg.MatrixCacheSize <= 0 {
		cfg.MatrixCacheSize = 256
	}

	chartCacheConfig := bigcache.Config{
		Shards:             64,
		LifeWindow:         cfg.ChartTTL,
		CleanWindow:        cfg.ChartTTL / 2,
		MaxEntriesInWindow: 10000,
		MaxEntrySize:       256 * 1024, // charts are a few hundred KB at most
		HardMaxCacheSize:   cfg.ChartCacheSizeMB,
		Verbose:            false,
	}

	chartCache, err := bigcache.New(context.Background(), chartCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create chart cache: %w", err)
	}

	matrixCache, err := lru.New[string, []byte](cfg.MatrixCacheSize)
	if err != nil {
		chartCache.Close()
		return nil, fmt.Errorf("failed to create matrix cache: %w", err)
	}

	return &Manager{
		chartCache:  chartCache,
		matrixCache: matrixCache,
	}, nil
}

// GetChart retrieves a rendered chart from cache.
func (m *Manager) GetChart(key string) ([]byte, bool) {
	data, err := m.chartCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetChart stores a rendered chart in cache.
func (m *Manager) SetChart(key string, data []byte) error {
	return m.chartCache.Set(key, data)
}

// GetMatrix retrieves an encoded matrix from cache.
func (m *Manager) GetMatrix(key string) ([]byte, bool) {
	return m.matrixCache.Get(key)
}

// SetMatrix stores an encoded matrix in cache.
func (m *Manager) SetMatrix(key string, data []byte) {
	m.matrixCache.Add(key, data)
}

// MatrixKey generates a cache key for an encoded matrix. Gene order is part
// of the key because it is the row order of the result.
func MatrixKey(dataset, grouping, scale string, genes []string) string {
	return fmt.Sprintf("matrix:%s:%s:%s:%s", dataset, grouping, scale, hashGenes(genes))
}

// ChartKey generates a cache key for a rendered chart.
func ChartKey(dataset, kind, grouping, scale, colormap string, genes []string) string {
	return fmt.Sprintf("chart:%s:%s:%s:%s:%s:%s", dataset, kind, grouping, scale, colormap, hashGenes(genes))
}

func hashGenes(genes []string) string {
	h := sha256.New()
	h.Write([]byte(strings.Join(genes, "\x00")))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	stats := m.chartCache.Stats()
	return map[string]interface{}{
		"chart_cache_len":    m.chartCache.Len(),
		"chart_cache_bytes":  m.chartCache.Capacity(),
		"chart_cache_hits":   stats.Hits,
		"chart_cache_misses": stats.Misses,
		"matrix_cache_len":   m.matrixCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.chartCache.Close()
}

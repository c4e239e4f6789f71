package main

import (
	"context"
	"fmt"
	"io"

	charmlog "github.com/charmbracelet/log"
	"github.com/protatlas/server/internal/atlas"
	"github.com/protatlas/server/internal/cache"
	"github.com/protatlas/server/internal/config"
	"github.com/protatlas/server/internal/render"
	"github.com/protatlas/server/internal/service"
)

// loadConfig reads the config file and applies the log level override.
func loadConfig(g *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	return cfg, nil
}

// newLogger builds a logger writing to w as configured.
func newLogger(w io.Writer, lc config.LogConfig) (*charmlog.Logger, error) {
	level, err := charmlog.ParseLevel(lc.Level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}

	formatter := charmlog.TextFormatter
	switch lc.Format {
	case "json":
		formatter = charmlog.JSONFormatter
	case "logfmt":
		formatter = charmlog.LogfmtFormatter
	}

	return charmlog.NewWithOptions(w, charmlog.Options{
		ReportTimestamp: true,
		Level:           level,
		Formatter:       formatter,
	}), nil
}

// datasetSpecs converts configured datasets to load specs, in config order.
// With ids set, only those datasets are included.
func datasetSpecs(cfg *config.Config, ids ...string) ([]service.DatasetSpec, error) {
	if len(ids) == 0 {
		ids = cfg.Data.DatasetIDs()
	}
	specs := make([]service.DatasetSpec, 0, len(ids))
	for _, id := range ids {
		ds, ok := cfg.Data.Datasets[id]
		if !ok {
			return nil, fmt.Errorf("dataset %q is not configured", id)
		}
		specs = append(specs, service.DatasetSpec{
			ID:   id,
			Name: ds.Name,
			Options: atlas.Options{
				ExpressionPath: ds.ExpressionPath,
				HistologyPath:  ds.HistologyPath,
				Columns: atlas.Columns{
					GeneID:   ds.Columns.GeneID,
					GeneName: ds.Columns.GeneName,
					Tissue:   ds.Columns.Tissue,
					Value:    ds.Columns.Value,
				},
			},
		})
	}
	return specs, nil
}

// loadServices builds the shared cache and renderer and loads datasets.
// The returned cache manager must be closed by the caller.
func loadServices(ctx context.Context, cfg *config.Config, log *charmlog.Logger, ids ...string) ([]*service.ExpressionService, *cache.Manager, error) {
	specs, err := datasetSpecs(cfg, ids...)
	if err != nil {
		return nil, nil, err
	}

	// Initialize cache manager (shared across all datasets)
	cacheManager, err := cache.NewManager(cache.Config{
		ChartCacheSizeMB: cfg.Cache.ChartSizeMB,
		ChartTTL:         cfg.Cache.ChartTTL(),
		MatrixCacheSize:  cfg.Cache.MatrixCacheSize,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	// Initialize chart renderer (shared across all datasets)
	renderer := render.NewRenderer(render.Config{
		DefaultColormap: cfg.Render.DefaultColormap,
	})

	log.Info("loading datasets", "count", len(specs), "workers", cfg.Data.LoadWorkers)
	services, err := service.LoadDatasets(ctx, specs, service.LoaderConfig{
		Workers:  cfg.Data.LoadWorkers,
		Cache:    cacheManager,
		Renderer: renderer,
		Logger:   log,
	})
	if err != nil {
		cacheManager.Close()
		return nil, nil, err
	}
	return services, cacheManager, nil
}

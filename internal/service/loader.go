package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/protatlas/server/internal/atlas"
	"github.com/protatlas/server/internal/cache"
	"github.com/protatlas/server/internal/render"
)

// DatasetSpec names a dataset and the files it is loaded from.
type DatasetSpec struct {
	ID      string
	Name    string
	Options atlas.Options
}

// LoaderConfig contains the shared dependencies of loaded datasets.
type LoaderConfig struct {
	// Workers bounds how many datasets are parsed at once (default 1).
	Workers  int
	Cache    *cache.Manager
	Renderer *render.Renderer
	Logger   *log.Logger
}

// LoadDatasets loads every dataset and returns their services in input order.
// All load failures are reported together.
func LoadDatasets(ctx context.Context, specs []DatasetSpec, cfg LoaderConfig) ([]*ExpressionService, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Workers > len(specs) {
		cfg.Workers = len(specs)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	services := make([]*ExpressionService, len(specs))
	errs := make([]error, len(specs))
	queue := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range queue {
				services[i], errs[i] = loadDataset(ctx, specs[i], cfg, logger)
			}
		}()
	}

	for i := range specs {
		queue <- i
	}
	close(queue)
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return services, nil
}

func loadDataset(ctx context.Context, spec DatasetSpec, cfg LoaderConfig, logger *log.Logger) (*ExpressionService, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("dataset %q: %w", spec.ID, err)
	}

	dsLogger := logger.With("dataset", spec.ID)
	opts := spec.Options
	if opts.Logger == nil {
		opts.Logger = dsLogger
	}

	start := time.Now()
	a, err := atlas.Load(opts)
	if err != nil {
		return nil, fmt.Errorf("dataset %q: %w", spec.ID, err)
	}
	dsLogger.Debug("dataset ready", "took", time.Since(start))

	return NewExpressionService(ExpressionServiceConfig{
		DatasetID: spec.ID,
		Name:      spec.Name,
		Atlas:     a,
		Cache:     cfg.Cache,
		Renderer:  cfg.Renderer,
		Logger:    logger,
	}), nil
}

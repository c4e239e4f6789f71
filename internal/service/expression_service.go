// Package service provides business logic for the expression server.
package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/protatlas/server/internal/atlas"
	"github.com/protatlas/server/internal/cache"
	"github.com/protatlas/server/internal/render"
	"github.com/protatlas/server/internal/report"
)

// ExpressionServiceConfig contains expression service configuration.
type ExpressionServiceConfig struct {
	DatasetID string
	Name      string
	Atlas     *atlas.Atlas
	Cache     *cache.Manager
	Renderer  *render.Renderer
	Logger    *log.Logger
}

// ExpressionService answers matrix, chart and lookup queries for one dataset.
type ExpressionService struct {
	datasetID string
	name      string
	atlas     *atlas.Atlas
	cache     *cache.Manager
	renderer  *render.Renderer
	logger    *log.Logger
}

// NewExpressionService creates a new expression service.
func NewExpressionService(cfg ExpressionServiceConfig) *ExpressionService {
	datasetID := cfg.DatasetID
	if datasetID == "" {
		datasetID = "default"
	}
	name := cfg.Name
	if name == "" {
		name = datasetID
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &ExpressionService{
		datasetID: datasetID,
		name:      name,
		atlas:     cfg.Atlas,
		cache:     cfg.Cache,
		renderer:  cfg.Renderer,
		logger:    logger.With("dataset", datasetID),
	}
}

// MatrixQuery selects genes and the shape of the resulting matrix.
type MatrixQuery struct {
	Genes    []string
	Grouping atlas.Grouping
	Scale    atlas.Scale
}

// ChartQuery selects a matrix and how to draw it.
type ChartQuery struct {
	MatrixQuery
	Kind     render.Kind
	Colormap string
}

// DatasetStats describes a loaded dataset.
type DatasetStats struct {
	ID     string       `json:"id"`
	Name   string       `json:"name"`
	Source atlas.Source `json:"source"`
	atlas.Stats
}

// ID returns the dataset id.
func (s *ExpressionService) ID() string { return s.datasetID }

// Name returns the dataset display name.
func (s *ExpressionService) Name() string { return s.name }

// Atlas returns the underlying expression data.
func (s *ExpressionService) Atlas() *atlas.Atlas { return s.atlas }

// Matrix builds the expression matrix for q.
func (s *ExpressionService) Matrix(q MatrixQuery) (*atlas.Matrix, error) {
	m, err := s.atlas.ExpressionMatrix(q.Genes, q.Grouping)
	if err != nil {
		return nil, err
	}
	return m.WithScale(q.Scale), nil
}

// MatrixJSON returns the JSON encoding of the matrix for q.
func (s *ExpressionService) MatrixJSON(q MatrixQuery) ([]byte, error) {
	key := cache.MatrixKey(s.datasetID, q.Grouping.String(), q.Scale.String(), q.Genes)
	if data, ok := s.cache.GetMatrix(key); ok {
		return data, nil
	}

	m, err := s.Matrix(q)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode matrix: %w", err)
	}

	s.cache.SetMatrix(key, data)
	return data, nil
}

// MatrixCSV returns the matrix for q as CSV.
func (s *ExpressionService) MatrixCSV(q MatrixQuery) ([]byte, error) {
	m, err := s.Matrix(q)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := report.WriteCSV(&buf, m); err != nil {
		return nil, fmt.Errorf("failed to encode matrix: %w", err)
	}
	return buf.Bytes(), nil
}

// Chart renders the matrix for q as a PNG.
func (s *ExpressionService) Chart(q ChartQuery) ([]byte, error) {
	colormap := ""
	if q.Kind == render.Heatmap {
		colormap = q.Colormap
		if colormap == "" {
			colormap = s.renderer.DefaultColormap()
		}
	}

	// Check cache (prefix with dataset ID)
	key := cache.ChartKey(s.datasetID, string(q.Kind), q.Grouping.String(), q.Scale.String(), colormap, q.Genes)
	if data, ok := s.cache.GetChart(key); ok {
		return data, nil
	}

	m, err := s.Matrix(q.MatrixQuery)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	data, err := s.renderer.Render(q.Kind, m, render.Options{Colormap: colormap})
	if err != nil {
		return nil, fmt.Errorf("failed to render chart: %w", err)
	}
	s.logger.Debug("chart rendered", "kind", q.Kind, "genes", m.Rows(), "columns", m.Cols(), "bytes", len(data), "took", time.Since(start))

	if err := s.cache.SetChart(key, data); err != nil {
		s.logger.Warn("chart not cached", "err", err)
	}
	return data, nil
}

// SearchGenes returns gene names matching query.
func (s *ExpressionService) SearchGenes(query string, limit int) []string {
	return s.atlas.SearchGenes(query, limit)
}

// HasGene reports whether the dataset contains gene.
func (s *ExpressionService) HasGene(gene string) bool {
	return s.atlas.HasGene(gene)
}

// Gene returns a summary of one gene.
func (s *ExpressionService) Gene(gene string) (atlas.GeneProfile, error) {
	return s.atlas.Gene(gene)
}

// Tissues returns the tissue columns with their organ groups.
func (s *ExpressionService) Tissues() []atlas.Tissue {
	return s.atlas.Tissues()
}

// Groups returns the organ groups.
func (s *ExpressionService) Groups() []atlas.Group {
	return s.atlas.Groups()
}

// Stats describes the dataset.
func (s *ExpressionService) Stats() DatasetStats {
	return DatasetStats{
		ID:     s.datasetID,
		Name:   s.name,
		Source: s.atlas.Source(),
		Stats:  s.atlas.Stats(),
	}
}

package api

import (
	"github.com/protatlas/server/internal/service"
)

// DatasetInfo contains information about a dataset for the API response.
type DatasetInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DatasetRegistry holds expression services for all configured datasets.
type DatasetRegistry struct {
	services       map[string]*service.ExpressionService
	defaultDataset string
	datasetOrder   []string
	title          string
}

// NewDatasetRegistry creates a new dataset registry.
func NewDatasetRegistry(defaultDataset string, title string) *DatasetRegistry {
	return &DatasetRegistry{
		services:       make(map[string]*service.ExpressionService),
		defaultDataset: defaultDataset,
		title:          title,
	}
}

// Register adds a dataset's service. Registration order is listing order.
func (r *DatasetRegistry) Register(svc *service.ExpressionService) {
	id := svc.ID()
	if _, exists := r.services[id]; !exists {
		r.datasetOrder = append(r.datasetOrder, id)
	}
	r.services[id] = svc
}

// Get returns the service for a dataset, or nil if not found.
func (r *DatasetRegistry) Get(datasetID string) *service.ExpressionService {
	return r.services[datasetID]
}

// Default returns the default dataset's service.
func (r *DatasetRegistry) Default() *service.ExpressionService {
	return r.services[r.defaultDataset]
}

// DefaultDatasetID returns the default dataset ID.
func (r *DatasetRegistry) DefaultDatasetID() string {
	return r.defaultDataset
}

// DatasetIDs returns all dataset IDs in registration order.
func (r *DatasetRegistry) DatasetIDs() []string {
	return r.datasetOrder
}

// Title returns the configured site title.
func (r *DatasetRegistry) Title() string {
	if r.title != "" {
		return r.title
	}
	return "Tissue Expression Atlas"
}

// Datasets returns dataset info for all registered datasets.
func (r *DatasetRegistry) Datasets() []DatasetInfo {
	infos := make([]DatasetInfo, 0, len(r.datasetOrder))
	for _, id := range r.datasetOrder {
		infos = append(infos, DatasetInfo{
			ID:   id,
			Name: r.services[id].Name(),
		})
	}
	return infos
}

// DatasetsWithGene returns the ids of datasets that contain gene.
func (r *DatasetRegistry) DatasetsWithGene(gene string) []string {
	matching := make([]string, 0, len(r.datasetOrder))
	for _, id := range r.datasetOrder {
		if r.services[id].HasGene(gene) {
			matching = append(matching, id)
		}
	}
	return matching
}

// Package config handles configuration loading for the expression server.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/protatlas/server/pkg/colormap"
	"gopkg.in/yaml.v3"
)

// DefaultDatasetID names the dataset declared with the single-dataset layout.
const DefaultDatasetID = "default"

// Config represents the server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Data   DataConfig   `yaml:"data"`
	Cache  CacheConfig  `yaml:"cache"`
	Render RenderConfig `yaml:"render"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	Title       string   `yaml:"title"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// ColumnsConfig overrides the expression table header names.
type ColumnsConfig struct {
	GeneID   string `yaml:"gene_id"`
	GeneName string `yaml:"gene_name"`
	Tissue   string `yaml:"tissue"`
	Value    string `yaml:"value"`
}

// DatasetConfig describes one expression dataset.
type DatasetConfig struct {
	Name           string        `yaml:"name"`
	ExpressionPath string        `yaml:"expression_path"`
	HistologyPath  string        `yaml:"histology_path"`
	Columns        ColumnsConfig `yaml:"columns"`
}

// DataConfig contains data source settings.
//
// Two layouts are accepted under `data:`. The single-dataset layout sets
// expression_path and histology_path directly and yields a dataset named
// "default". The multi-dataset layout maps dataset ids to DatasetConfig
// entries; the first one in file order is the default unless
// default_dataset says otherwise.
type DataConfig struct {
	DefaultDataset string
	Datasets       map[string]DatasetConfig

	// LoadWorkers bounds how many datasets are parsed concurrently.
	LoadWorkers int

	order []string
}

// UnmarshalYAML decodes either data layout while keeping dataset order.
func (d *DataConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("data: expected a mapping, got %s", node.ShortTag())
	}

	var legacy DatasetConfig
	hasLegacy := false
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i].Value, node.Content[i+1]
		switch key {
		case "expression_path", "histology_path", "name", "columns":
			hasLegacy = true
		case "default_dataset":
			if err := value.Decode(&d.DefaultDataset); err != nil {
				return fmt.Errorf("data.default_dataset: %w", err)
			}
		case "load_workers":
			if err := value.Decode(&d.LoadWorkers); err != nil {
				return fmt.Errorf("data.load_workers: %w", err)
			}
		default:
			var ds DatasetConfig
			if err := value.Decode(&ds); err != nil {
				return fmt.Errorf("data.%s: %w", key, err)
			}
			d.AddDataset(key, ds)
		}
	}

	if hasLegacy {
		if err := node.Decode(&legacy); err != nil {
			return fmt.Errorf("data: %w", err)
		}
		if len(d.order) > 0 {
			return errors.New("data: cannot mix expression_path with named datasets")
		}
		d.AddDataset(DefaultDatasetID, legacy)
	}
	return nil
}

// AddDataset appends a dataset, replacing any existing entry with the same id.
func (d *DataConfig) AddDataset(id string, ds DatasetConfig) {
	if d.Datasets == nil {
		d.Datasets = make(map[string]DatasetConfig)
	}
	if _, exists := d.Datasets[id]; !exists {
		d.order = append(d.order, id)
	}
	d.Datasets[id] = ds
}

// DatasetIDs returns dataset ids in declaration order.
func (d *DataConfig) DatasetIDs() []string {
	return append([]string(nil), d.order...)
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	ChartSizeMB     int `yaml:"chart_size_mb"`
	ChartTTLMinutes int `yaml:"chart_ttl_minutes"`
	MatrixCacheSize int `yaml:"matrix_cache_size"`
}

// ChartTTL returns the chart cache lifetime.
func (c CacheConfig) ChartTTL() time.Duration {
	return time.Duration(c.ChartTTLMinutes) * time.Minute
}

// RenderConfig contains rendering settings.
type RenderConfig struct {
	DefaultColormap string `yaml:"default_colormap"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads configuration from a YAML file. A missing file yields the
// default configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports configuration values that cannot be served.
func (c *Config) Validate() error {
	if _, ok := c.Data.Datasets[c.Data.DefaultDataset]; !ok {
		return fmt.Errorf("default_dataset %q is not configured", c.Data.DefaultDataset)
	}
	for _, id := range c.Data.order {
		ds := c.Data.Datasets[id]
		if ds.ExpressionPath == "" {
			return fmt.Errorf("dataset %q: expression_path is required", id)
		}
		if ds.HistologyPath == "" {
			return fmt.Errorf("dataset %q: histology_path is required", id)
		}
	}
	if _, err := colormap.Get(c.Render.DefaultColormap); err != nil {
		return fmt.Errorf("render.default_colormap: %w", err)
	}
	switch c.Log.Format {
	case "text", "json", "logfmt":
	default:
		return fmt.Errorf("log.format %q: must be text, json or logfmt", c.Log.Format)
	}
	return nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:        8080,
			Title:       "Tissue Expression Atlas",
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Data: DataConfig{
			DefaultDataset: DefaultDatasetID,
			LoadWorkers:    2,
		},
		Cache: CacheConfig{
			ChartSizeMB:     256,
			ChartTTLMinutes: 10,
			MatrixCacheSize: 512,
		},
		Render: RenderConfig{
			DefaultColormap: "blues",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
	cfg.Data.AddDataset(DefaultDatasetID, defaultDataset())
	return cfg
}

func defaultDataset() DatasetConfig {
	return DatasetConfig{
		Name:           "HPA tissue consensus",
		ExpressionPath: "./data/rna_tissue_consensus.tsv",
		HistologyPath:  "./data/histology_dictionary.txt",
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if cfg.Server.Title == "" {
		cfg.Server.Title = defaults.Server.Title
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if len(cfg.Data.order) == 0 {
		cfg.Data.AddDataset(DefaultDatasetID, defaultDataset())
	}
	if cfg.Data.DefaultDataset == "" {
		cfg.Data.DefaultDataset = cfg.Data.order[0]
	}
	if cfg.Data.LoadWorkers <= 0 {
		cfg.Data.LoadWorkers = defaults.Data.LoadWorkers
	}
	for id, ds := range cfg.Data.Datasets {
		if ds.Name == "" {
			ds.Name = id
			cfg.Data.Datasets[id] = ds
		}
	}
	if cfg.Cache.ChartSizeMB == 0 {
		cfg.Cache.ChartSizeMB = defaults.Cache.ChartSizeMB
	}
	if cfg.Cache.ChartTTLMinutes == 0 {
		cfg.Cache.ChartTTLMinutes = defaults.Cache.ChartTTLMinutes
	}
	if cfg.Cache.MatrixCacheSize == 0 {
		cfg.Cache.MatrixCacheSize = defaults.Cache.MatrixCacheSize
	}
	if cfg.Render.DefaultColormap == "" {
		cfg.Render.DefaultColormap = defaults.Render.DefaultColormap
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaults.Log.Format
	}
}

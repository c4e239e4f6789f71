// Package render draws expression charts using fogleman/gg.
package render

import (
	"bytes"
	"fmt"
	"image/png"
	"strings"
	"sync"

	"github.com/fogleman/gg"
	"github.com/protatlas/server/internal/atlas"
	"github.com/protatlas/server/pkg/colormap"
)

// Kind is a chart type.
type Kind string

const (
	Heatmap Kind = "heatmap"
	Bar     Kind = "bar"
	Box     Kind = "box"
)

// Kinds lists the supported chart types.
var Kinds = []Kind{Heatmap, Bar, Box}

// ParseKind parses a chart type name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case Heatmap, Bar, Box:
		return k, nil
	case "":
		return Heatmap, nil
	default:
		return "", fmt.Errorf("invalid chart type %q: must be heatmap, bar or box", s)
	}
}

// Config contains renderer configuration.
type Config struct {
	DefaultColormap string
	MinWidth        int
	MaxWidth        int
}

// Options tune a single chart.
type Options struct {
	// Colormap names the heatmap color scale; empty uses the default.
	Colormap string
}

// Renderer renders expression matrices to PNG.
type Renderer struct {
	config     Config
	bufferPool sync.Pool
	palette    colormap.Colormap
}

// NewRenderer creates a new chart renderer.
func NewRenderer(cfg Config) *Renderer {
	if cfg.DefaultColormap == "" {
		cfg.DefaultColormap = "blues"
	}
	if cfg.MinWidth <= 0 {
		cfg.MinWidth = 800
	}
	if cfg.MaxWidth < cfg.MinWidth {
		cfg.MaxWidth = 2000
	}
	return &Renderer{
		config: cfg,
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 64*1024))
			},
		},
		palette: colormap.Series,
	}
}

// Render draws m as the given chart kind and returns PNG bytes.
func (r *Renderer) Render(kind Kind, m *atlas.Matrix, opts Options) ([]byte, error) {
	if m == nil || m.Rows() == 0 || m.Cols() == 0 {
		return nil, fmt.Errorf("empty matrix")
	}

	var dc *gg.Context
	switch kind {
	case Heatmap:
		cmap, err := r.colormap(opts.Colormap)
		if err != nil {
			return nil, err
		}
		dc = r.drawHeatmap(m, cmap)
	case Bar:
		dc = r.drawBarChart(m)
	case Box:
		dc = r.drawBoxPlot(m)
	default:
		return nil, fmt.Errorf("invalid chart type %q", kind)
	}
	return r.encodeContext(dc)
}

// DefaultColormap returns the heatmap color scale used when none is given.
func (r *Renderer) DefaultColormap() string { return r.config.DefaultColormap }

func (r *Renderer) colormap(name string) (colormap.Colormap, error) {
	if name == "" {
		name = r.config.DefaultColormap
	}
	return colormap.Get(name)
}

// Width returns the chart width for a number of columns.
func (r *Renderer) Width(cols int) int {
	w := cols*25 + 200
	if w < r.config.MinWidth {
		w = r.config.MinWidth
	}
	if w > r.config.MaxWidth {
		w = r.config.MaxWidth
	}
	return w
}

// Height returns the chart height for a number of gene rows.
func (r *Renderer) Height(kind Kind, rows int) int {
	if kind == Heatmap {
		if h := rows * 60; h > 600 {
			return h
		}
		return 600
	}
	return 700
}

func (r *Renderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	// Use fast PNG encoder
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

func chartTitle(base string, m *atlas.Matrix) string {
	if m.Scale == atlas.ScaleLog {
		return base + " (Log Scale)"
	}
	return base
}

func columnAxisTitle(m *atlas.Matrix) string {
	if m.Grouping == atlas.GroupByOrgan {
		return "Organ group"
	}
	return "Tissue"
}

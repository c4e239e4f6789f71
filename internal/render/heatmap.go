package render

import (
	"image/color"
	"math"

	"github.com/fogleman/gg"
	"github.com/protatlas/server/internal/atlas"
	"github.com/protatlas/server/pkg/colormap"
)

const colorbarWidth = 20

func (r *Renderer) drawHeatmap(m *atlas.Matrix, cmap colormap.Colormap) *gg.Context {
	f := frame{
		width:  float64(r.Width(m.Cols())),
		height: float64(r.Height(Heatmap, m.Rows())),
		left:   110,
		top:    60,
		right:  120,
		bot:    170,
	}
	dc := newCanvas(f)
	drawTitle(dc, f, chartTitle("Gene Expression Heatmap", m))

	lo, hi, ok := m.Range()
	if !ok {
		lo, hi = 0, 1
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}

	cellW := f.plotWidth() / float64(m.Cols())
	cellH := f.plotHeight() / float64(m.Rows())
	for i := 0; i < m.Rows(); i++ {
		y := f.y0() + float64(i)*cellH
		for j := 0; j < m.Cols(); j++ {
			v := m.At(i, j)
			if math.IsNaN(v) {
				dc.SetColor(nanColor)
			} else {
				dc.SetColor(cmap.At((v - lo) / span))
			}
			// Overdraw by half a pixel to avoid seams between cells.
			dc.DrawRectangle(f.x0()+float64(j)*cellW, y, cellW+0.5, cellH+0.5)
			dc.Fill()
		}
	}

	// Separate organ groups when columns are individual tissues.
	if m.Grouping == atlas.GroupByTissue {
		dc.SetColor(color.White)
		dc.SetLineWidth(2)
		for j := 1; j < m.Cols(); j++ {
			if m.ColumnGroups[j] == m.ColumnGroups[j-1] {
				continue
			}
			x := f.x0() + float64(j)*cellW
			dc.DrawLine(x, f.y0(), x, f.y1())
			dc.Stroke()
		}
	}

	dc.SetColor(textColor)
	for i, gene := range m.Genes {
		dc.DrawStringAnchored(gene, f.x0()-8, f.y0()+(float64(i)+0.5)*cellH, 1, 0.5)
	}
	dc.Push()
	cx, cy := 18.0, f.y0()+f.plotHeight()/2
	dc.RotateAbout(gg.Radians(-90), cx, cy)
	dc.DrawStringAnchored("Gene", cx, cy, 0.5, 0.5)
	dc.Pop()

	drawColumnLabels(dc, f, m.Columns, columnAxisTitle(m))
	drawColorbar(dc, f, cmap, lo, hi, m.Scale.ValueLabel())
	return dc
}

func drawColorbar(dc *gg.Context, f frame, cmap colormap.Colormap, lo, hi float64, title string) {
	x := f.x1() + 30
	top, bottom := f.y0(), f.y1()
	height := bottom - top

	for y := 0.0; y < height; y++ {
		dc.SetColor(cmap.At(1 - y/height))
		dc.DrawRectangle(x, top+y, colorbarWidth, 1)
		dc.Fill()
	}
	dc.SetColor(textColor)
	dc.SetLineWidth(1)
	dc.DrawRectangle(x, top, colorbarWidth, height)
	dc.Stroke()

	for _, t := range []float64{0, 0.25, 0.5, 0.75, 1} {
		y := bottom - t*height
		dc.DrawLine(x+colorbarWidth, y, x+colorbarWidth+4, y)
		dc.Stroke()
		dc.DrawStringAnchored(formatValue(lo+t*(hi-lo)), x+colorbarWidth+7, y, 0, 0.5)
	}
	dc.DrawStringAnchored(title, x+colorbarWidth/2, top-14, 0.5, 0.5)
}

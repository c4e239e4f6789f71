package render

import (
	"image/color"
	"math"

	"github.com/fogleman/gg"
	"github.com/protatlas/server/internal/atlas"
)

func (r *Renderer) drawBarChart(m *atlas.Matrix) *gg.Context {
	f := frame{
		width:  float64(r.Width(m.Cols())),
		height: float64(r.Height(Bar, m.Rows())),
		left:   90,
		top:    60,
		right:  150,
		bot:    170,
	}
	dc := newCanvas(f)
	drawTitle(dc, f, chartTitle("Gene Expression Bar Chart", m))

	_, hi, _ := m.Range()
	top := niceCeil(hi)
	drawValueAxis(dc, f, top, m.Scale.ValueLabel())

	slot := f.plotWidth() / float64(m.Cols())
	barW := slot * 0.8 / float64(m.Rows())
	for j := 0; j < m.Cols(); j++ {
		x := f.x0() + float64(j)*slot + slot*0.1
		for i := 0; i < m.Rows(); i++ {
			v := m.At(i, j)
			if math.IsNaN(v) || v <= 0 {
				continue
			}
			h := v / top * f.plotHeight()
			dc.SetColor(r.palette.AtIndex(i))
			dc.DrawRectangle(x+float64(i)*barW, f.y1()-h, barW, h)
			dc.Fill()
		}
	}

	drawColumnLabels(dc, f, m.Columns, columnAxisTitle(m))
	drawLegend(dc, f, m.Genes, func(i int) color.Color { return r.palette.AtIndex(i) })
	return dc
}

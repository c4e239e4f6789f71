package render

import (
	"image/color"
	"math"

	"github.com/fogleman/gg"
	"github.com/protatlas/server/internal/atlas"
)

// drawBoxPlot draws one box per gene over its values across all columns.
func (r *Renderer) drawBoxPlot(m *atlas.Matrix) *gg.Context {
	f := frame{
		width:  float64(r.Width(m.Cols())),
		height: float64(r.Height(Box, m.Rows())),
		left:   90,
		top:    60,
		right:  150,
		bot:    130,
	}
	dc := newCanvas(f)
	drawTitle(dc, f, chartTitle("Expression Distribution by Gene", m))

	_, hi, _ := m.Range()
	top := niceCeil(hi)
	drawValueAxis(dc, f, top, m.Scale.ValueLabel())
	yOf := func(v float64) float64 { return f.y1() - v/top*f.plotHeight() }

	slot := f.plotWidth() / float64(m.Rows())
	boxW := math.Min(slot*0.5, 80)
	for i := 0; i < m.Rows(); i++ {
		st, ok := Summarize(m.Values[i])
		if !ok {
			continue
		}
		cx := f.x0() + (float64(i)+0.5)*slot
		c := r.palette.AtIndex(i)

		dc.SetColor(c)
		dc.SetLineWidth(1.5)
		dc.DrawLine(cx, yOf(st.LowerWhisk), cx, yOf(st.Q1))
		dc.DrawLine(cx, yOf(st.Q3), cx, yOf(st.UpperWhisk))
		dc.DrawLine(cx-boxW/4, yOf(st.LowerWhisk), cx+boxW/4, yOf(st.LowerWhisk))
		dc.DrawLine(cx-boxW/4, yOf(st.UpperWhisk), cx+boxW/4, yOf(st.UpperWhisk))
		dc.Stroke()

		dc.DrawRectangle(cx-boxW/2, yOf(st.Q3), boxW, yOf(st.Q1)-yOf(st.Q3))
		dc.SetColor(withAlpha(c, 0x60))
		dc.FillPreserve()
		dc.SetColor(c)
		dc.Stroke()

		dc.SetLineWidth(2.5)
		dc.DrawLine(cx-boxW/2, yOf(st.Median), cx+boxW/2, yOf(st.Median))
		dc.Stroke()

		// Mean marker with a ±1 SD dashed line.
		dc.SetLineWidth(1)
		dc.SetDash(4, 3)
		dc.DrawLine(cx, yOf(math.Max(st.Mean-st.StdDev, 0)), cx, yOf(math.Min(st.Mean+st.StdDev, top)))
		dc.Stroke()
		dc.SetDash()
		drawDiamond(dc, cx, yOf(st.Mean), 5)
		dc.Stroke()

		for _, v := range st.Outliers {
			dc.DrawCircle(cx, yOf(v), 3)
			dc.Stroke()
		}
	}

	drawColumnLabels(dc, f, m.Genes, "Gene")
	drawLegend(dc, f, m.Genes, func(i int) color.Color { return r.palette.AtIndex(i) })
	return dc
}

func drawDiamond(dc *gg.Context, x, y, size float64) {
	dc.MoveTo(x, y-size)
	dc.LineTo(x+size, y)
	dc.LineTo(x, y+size)
	dc.LineTo(x-size, y)
	dc.ClosePath()
}

func withAlpha(c color.Color, a uint8) color.Color {
	r, g, b, _ := c.RGBA()
	return color.NRGBA{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8), a}
}

package render

import (
	"image/color"
	"math"

	"github.com/dustin/go-humanize"
	"github.com/fogleman/gg"
)

var (
	textColor = color.Black
	gridColor = color.RGBA{211, 211, 211, 255}
	nanColor  = color.RGBA{235, 235, 235, 255}
)

// frame is the plotting area inside a chart.
type frame struct {
	width, height         float64
	left, top, right, bot float64
}

func (f frame) plotWidth() float64 { return f.width - f.left - f.right }
func (f frame) plotHeight() float64 { return f.height - f.top - f.bot }
func (f frame) x0() float64 { return f.left }
func (f frame) y0() float64 { return f.top }
func (f frame) x1() float64 { return f.width - f.right }
func (f frame) y1() float64 { return f.height - f.bot }

func newCanvas(f frame) *gg.Context {
	dc := gg.NewContext(int(f.width), int(f.height))
	dc.SetColor(color.White)
	dc.Clear()
	return dc
}

func drawTitle(dc *gg.Context, f frame, title string) {
	dc.SetColor(textColor)
	dc.DrawStringAnchored(title, f.width/2, f.top/2, 0.5, 0.5)
}

// drawColumnLabels writes labels under each column slot, rotated by -45°.
func drawColumnLabels(dc *gg.Context, f frame, labels []string, axisTitle string) {
	slot := f.plotWidth() / float64(len(labels))
	y := f.y1() + 8
	dc.SetColor(textColor)
	for j, label := range labels {
		x := f.x0() + (float64(j)+0.5)*slot
		dc.Push()
		dc.RotateAbout(gg.Radians(-45), x, y)
		dc.DrawStringAnchored(label, x, y, 1, 0.5)
		dc.Pop()
	}
	dc.DrawStringAnchored(axisTitle, f.x0()+f.plotWidth()/2, f.height-16, 0.5, 0.5)
}

// drawValueAxis draws horizontal grid lines and tick labels for [0, top].
func drawValueAxis(dc *gg.Context, f frame, top float64, title string) {
	step := niceStep(top, 5)
	dc.SetLineWidth(1)
	for v := 0.0; v <= top+step/1e6; v += step {
		y := f.y1() - v/top*f.plotHeight()
		dc.SetColor(gridColor)
		dc.DrawLine(f.x0(), y, f.x1(), y)
		dc.Stroke()
		dc.SetColor(textColor)
		dc.DrawStringAnchored(formatValue(v), f.x0()-6, y, 1, 0.5)
	}

	dc.SetColor(textColor)
	dc.DrawLine(f.x0(), f.y0(), f.x0(), f.y1())
	dc.DrawLine(f.x0(), f.y1(), f.x1(), f.y1())
	dc.Stroke()

	dc.Push()
	cx, cy := 18.0, f.y0()+f.plotHeight()/2
	dc.RotateAbout(gg.Radians(-90), cx, cy)
	dc.DrawStringAnchored(title, cx, cy, 0.5, 0.5)
	dc.Pop()
}

// drawLegend lists one colored swatch per gene to the right of the plot.
func drawLegend(dc *gg.Context, f frame, names []string, colorAt func(i int) color.Color) {
	x := f.x1() + 20
	y := f.y0() + 10
	dc.SetColor(textColor)
	dc.SetLineWidth(1)
	dc.DrawRectangle(x-6, y-10, f.right-28, float64(len(names))*20+10)
	dc.Stroke()
	for i, name := range names {
		cy := y + float64(i)*20
		dc.SetColor(colorAt(i))
		dc.DrawRectangle(x, cy-5, 12, 10)
		dc.Fill()
		dc.SetColor(textColor)
		dc.DrawStringAnchored(name, x+18, cy, 0, 0.5)
	}
}

// niceStep picks a 1/2/5×10^n step that splits [0, span] into about n ticks.
func niceStep(span float64, n int) float64 {
	if span <= 0 || n <= 0 {
		return 1
	}
	raw := span / float64(n)
	mag := math.Pow(10, math.Floor(math.Log10(raw)))
	switch norm := raw / mag; {
	case norm <= 1:
		return mag
	case norm <= 2:
		return 2 * mag
	case norm <= 5:
		return 5 * mag
	default:
		return 10 * mag
	}
}

// niceCeil rounds v up to a multiple of its tick step.
func niceCeil(v float64) float64 {
	if v <= 0 || math.IsNaN(v) {
		return 1
	}
	step := niceStep(v, 5)
	return math.Ceil(v/step) * step
}

func formatValue(v float64) string {
	if math.Abs(v) >= 1000 {
		return humanize.Commaf(math.Round(v))
	}
	return humanize.FtoaWithDigits(v, 2)
}

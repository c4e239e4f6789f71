package render

import (
	"math"

	"github.com/go-gota/gota/series"
)

// BoxStats summarizes one distribution for a box plot.
type BoxStats struct {
	N          int
	Min, Max   float64
	Q1, Median float64
	Q3         float64
	LowerWhisk float64
	UpperWhisk float64
	Mean       float64
	StdDev     float64
	Outliers   []float64
}

// Summarize computes box plot statistics over the finite values.
// Whiskers reach the most extreme values within 1.5 IQR of the box.
func Summarize(values []float64) (BoxStats, bool) {
	finite := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		return BoxStats{}, false
	}

	s := series.New(finite, series.Float, "values")
	st := BoxStats{
		N:      len(finite),
		Min:    s.Min(),
		Max:    s.Max(),
		Q1:     s.Quantile(0.25),
		Median: s.Median(),
		Q3:     s.Quantile(0.75),
		Mean:   s.Mean(),
	}
	if st.N > 1 {
		st.StdDev = s.StdDev()
	}

	iqr := st.Q3 - st.Q1
	lowFence, highFence := st.Q1-1.5*iqr, st.Q3+1.5*iqr
	st.LowerWhisk, st.UpperWhisk = st.Q1, st.Q3
	for _, v := range finite {
		switch {
		case v < lowFence || v > highFence:
			st.Outliers = append(st.Outliers, v)
		case v < st.LowerWhisk:
			st.LowerWhisk = v
		case v > st.UpperWhisk:
			st.UpperWhisk = v
		}
	}
	return st, true
}

package atlas

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Grouping selects the matrix columns.
type Grouping int

const (
	// GroupByTissue uses one column per tissue.
	GroupByTissue Grouping = iota
	// GroupByOrgan averages tissues into one column per organ group.
	GroupByOrgan
)

func (g Grouping) String() string {
	switch g {
	case GroupByTissue:
		return "tissue"
	case GroupByOrgan:
		return "organ"
	default:
		return fmt.Sprintf("Grouping(%d)", int(g))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (g Grouping) MarshalText() ([]byte, error) { return []byte(g.String()), nil }

// ParseGrouping parses "tissue" or "organ" (also "organ_group", "group").
// An empty string selects GroupByTissue.
func ParseGrouping(s string) (Grouping, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "tissue", "tissues":
		return GroupByTissue, nil
	case "organ", "organ_group", "organ-group", "group":
		return GroupByOrgan, nil
	default:
		return 0, fmt.Errorf("invalid grouping %q: must be 'tissue' or 'organ'", s)
	}
}

// Scale is the value transform applied to a matrix.
type Scale int

const (
	// ScaleLinear reports nTPM unchanged.
	ScaleLinear Scale = iota
	// ScaleLog reports log2(nTPM + 1).
	ScaleLog
)

func (s Scale) String() string {
	switch s {
	case ScaleLinear:
		return "linear"
	case ScaleLog:
		return "log"
	default:
		return fmt.Sprintf("Scale(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Scale) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ValueLabel is the axis label for values on this scale.
func (s Scale) ValueLabel() string {
	if s == ScaleLog {
		return "log2(nTPM+1)"
	}
	return "nTPM"
}

// ParseScale parses "linear" or "log". An empty string selects ScaleLinear.
func ParseScale(s string) (Scale, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "linear":
		return ScaleLinear, nil
	case "log", "log2":
		return ScaleLog, nil
	default:
		return 0, fmt.Errorf("invalid scale %q: must be 'linear' or 'log'", s)
	}
}

// Matrix holds expression values for selected genes. Rows follow the
// selection order; Values[i][j] is NaN where no record exists.
type Matrix struct {
	Genes        []string
	GeneIDs      []string
	Columns      []string
	ColumnGroups []string
	Grouping     Grouping
	Scale        Scale
	Values       [][]float64
}

// Rows returns the number of genes.
func (m *Matrix) Rows() int { return len(m.Genes) }

// Cols returns the number of columns.
func (m *Matrix) Cols() int { return len(m.Columns) }

// At returns the value at row i, column j.
func (m *Matrix) At(i, j int) float64 { return m.Values[i][j] }

// Value returns the value for a gene and column by name.
func (m *Matrix) Value(gene, column string) (float64, bool) {
	i := indexOf(m.Genes, gene)
	j := indexOf(m.Columns, column)
	if i < 0 || j < 0 {
		return 0, false
	}
	v := m.Values[i][j]
	return v, !math.IsNaN(v)
}

// Range returns the smallest and largest non-missing values. ok is false
// when every cell is missing.
func (m *Matrix) Range() (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, row := range m.Values {
		for _, v := range row {
			if math.IsNaN(v) {
				continue
			}
			ok = true
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	if !ok {
		return 0, 0, false
	}
	return lo, hi, true
}

// WithScale returns a copy of m with values transformed to scale.
// Converting back from log to linear is not supported; m is returned as is
// when it already has the requested scale.
func (m *Matrix) WithScale(scale Scale) *Matrix {
	if m.Scale == scale || scale != ScaleLog {
		return m
	}
	out := *m
	out.Scale = scale
	out.Values = make([][]float64, len(m.Values))
	for i, row := range m.Values {
		next := make([]float64, len(row))
		for j, v := range row {
			next[j] = math.Log2(v + 1)
		}
		out.Values[i] = next
	}
	return &out
}

type matrixJSON struct {
	Genes        []string     `json:"genes"`
	GeneIDs      []string     `json:"gene_ids,omitempty"`
	Columns      []string     `json:"columns"`
	ColumnGroups []string     `json:"column_groups"`
	Grouping     Grouping     `json:"grouping"`
	Scale        Scale        `json:"scale"`
	Unit         string       `json:"unit"`
	Values       [][]*float64 `json:"values"`
}

// MarshalJSON encodes missing values as null.
func (m *Matrix) MarshalJSON() ([]byte, error) {
	values := make([][]*float64, len(m.Values))
	for i, row := range m.Values {
		out := make([]*float64, len(row))
		for j := range row {
			if !math.IsNaN(row[j]) {
				v := row[j]
				out[j] = &v
			}
		}
		values[i] = out
	}
	return json.Marshal(matrixJSON{
		Genes:        m.Genes,
		GeneIDs:      m.GeneIDs,
		Columns:      m.Columns,
		ColumnGroups: m.ColumnGroups,
		Grouping:     m.Grouping,
		Scale:        m.Scale,
		Unit:         m.Scale.ValueLabel(),
		Values:       values,
	})
}

// ExpressionMatrix returns the matrix for genes (at most MaxGenes, selection
// order) over all tissues or all organ groups. Organ group cells are the mean
// of the group's tissue values that are present for the gene.
func (a *Atlas) ExpressionMatrix(genes []string, grouping Grouping) (*Matrix, error) {
	if grouping != GroupByTissue && grouping != GroupByOrgan {
		return nil, fmt.Errorf("invalid grouping: %v", grouping)
	}

	requested := dedupe(genes)
	if len(requested) == 0 {
		return nil, ErrNoGenes
	}

	var (
		rows    = make([]int, 0, len(requested))
		seen    = make(map[int]bool, len(requested))
		unknown []string
	)
	for _, id := range requested {
		gi, ok := a.lookup(id)
		if !ok {
			unknown = append(unknown, id)
			continue
		}
		if seen[gi] {
			continue
		}
		seen[gi] = true
		rows = append(rows, gi)
	}
	// Aliases of one gene count once; every unknown identifier counts.
	if n := len(rows) + len(unknown); n > MaxGenes {
		return nil, &TooManyGenesError{Count: n, Max: MaxGenes}
	}
	if len(unknown) > 0 {
		return nil, &UnknownGeneError{Genes: unknown}
	}

	m := &Matrix{
		Genes:    make([]string, len(rows)),
		GeneIDs:  make([]string, len(rows)),
		Grouping: grouping,
		Scale:    ScaleLinear,
		Values:   make([][]float64, len(rows)),
	}
	for i, gi := range rows {
		m.Genes[i] = a.genes[gi].Name
		m.GeneIDs[i] = a.genes[gi].ID
	}

	switch grouping {
	case GroupByTissue:
		m.Columns = append([]string(nil), a.tissues...)
		m.ColumnGroups = append([]string(nil), a.tissueGroup...)
		for i, gi := range rows {
			m.Values[i] = append([]float64(nil), a.values[gi]...)
		}
	case GroupByOrgan:
		m.Columns = append([]string(nil), a.groups...)
		m.ColumnGroups = append([]string(nil), a.groups...)
		for i, gi := range rows {
			row := make([]float64, len(a.groups))
			for j, cols := range a.groupCols {
				row[j] = mean(a.values[gi], cols)
			}
			m.Values[i] = row
		}
	}
	return m, nil
}

// mean averages values at cols, skipping missing ones.
func mean(values []float64, cols []int) float64 {
	sum, n := 0.0, 0
	for _, c := range cols {
		v := values[c]
		if math.IsNaN(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

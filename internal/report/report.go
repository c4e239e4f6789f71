// Package report writes expression matrices as CSV, JSON and terminal tables.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/protatlas/server/internal/atlas"
)

// Format is an output format for a matrix.
type Format string

const (
	FormatTable Format = "table"
	FormatCSV   Format = "csv"
	FormatJSON  Format = "json"
)

// ParseFormat parses an output format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatTable, FormatCSV, FormatJSON:
		return f, nil
	case "":
		return FormatTable, nil
	default:
		return "", fmt.Errorf("invalid format %q: must be table, csv or json", s)
	}
}

// Write writes m to w in the given format.
func Write(w io.Writer, m *atlas.Matrix, format Format) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, m)
	case FormatJSON:
		return WriteJSON(w, m)
	case FormatTable:
		return WriteTable(w, m)
	default:
		return fmt.Errorf("invalid format %q", format)
	}
}

// Key column names of a matrix frame.
const (
	GeneColumn   = "gene"
	GeneIDColumn = "gene_id"
)

// Frame converts m to a dataframe with one row per gene. The first two
// columns hold the gene name and id; the rest hold one value column per
// matrix column. Missing values are empty strings. A matrix column whose
// name is already taken is suffixed with its grouping, e.g. "gene (tissue)".
func Frame(m *atlas.Matrix) dataframe.DataFrame {
	cols := make([]series.Series, 0, m.Cols()+2)
	cols = append(cols,
		series.New(m.Genes, series.String, GeneColumn),
		series.New(geneIDs(m), series.String, GeneIDColumn),
	)
	used := map[string]bool{GeneColumn: true, GeneIDColumn: true}
	for j, name := range m.Columns {
		cells := make([]string, m.Rows())
		for i := range cells {
			cells[i] = FormatCell(m.At(i, j))
		}
		cols = append(cols, series.New(cells, series.String, uniqueColumn(name, m.Grouping, used)))
	}
	return dataframe.New(cols...)
}

func uniqueColumn(name string, grouping atlas.Grouping, used map[string]bool) string {
	out := name
	if used[out] {
		out = fmt.Sprintf("%s (%s)", name, grouping)
	}
	for n := 2; used[out]; n++ {
		out = fmt.Sprintf("%s (%s %d)", name, grouping, n)
	}
	used[out] = true
	return out
}

// WriteCSV writes m as CSV with a header row.
func WriteCSV(w io.Writer, m *atlas.Matrix) error {
	df := Frame(m)
	if df.Err != nil {
		return fmt.Errorf("build frame: %w", df.Err)
	}
	return df.WriteCSV(w)
}

// WriteJSON writes m as indented JSON.
func WriteJSON(w io.Writer, m *atlas.Matrix) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}

// WriteTable writes m as a styled table with one row per matrix column and
// one value column per gene. The highest value of each gene is highlighted.
func WriteTable(w io.Writer, m *atlas.Matrix) error {
	s := DefaultStyles()

	peaks := make([]int, m.Rows())
	for i := range peaks {
		peaks[i] = -1
		best := math.Inf(-1)
		for j := 0; j < m.Cols(); j++ {
			if v := m.At(i, j); !math.IsNaN(v) && v > best {
				best, peaks[i] = v, j
			}
		}
	}

	showGroup := m.Grouping == atlas.GroupByTissue
	headers := []string{"TISSUE"}
	if showGroup {
		headers = append(headers, "ORGAN GROUP")
	} else {
		headers[0] = "ORGAN GROUP"
	}
	headers = append(headers, m.Genes...)
	lead := len(headers) - m.Rows()

	rows := make([][]string, 0, m.Cols())
	for j, name := range m.Columns {
		row := []string{name}
		if showGroup {
			row = append(row, m.ColumnGroups[j])
		}
		for i := 0; i < m.Rows(); i++ {
			cell := strconv.FormatFloat(m.At(i, j), 'f', 2, 64)
			if math.IsNaN(m.At(i, j)) {
				cell = "-"
			}
			row = append(row, cell)
		}
		rows = append(rows, row)
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(s.Border).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return s.TableHeader
			case showGroup && col == 1:
				return s.GroupCell
			case col >= lead && row >= 0 && peaks[col-lead] == row:
				return s.Peak
			}
			return s.TableCell
		}).
		Headers(headers...).
		Rows(rows...)

	fmt.Fprintln(w, s.Header.Render(fmt.Sprintf("Expression (%s) by %s", m.Scale.ValueLabel(), m.Grouping)))
	fmt.Fprintln(w, t)
	_, err := fmt.Fprintln(w, s.Muted.Render(fmt.Sprintf("%d gene(s), %d column(s)", m.Rows(), m.Cols())))
	return err
}

// FormatCell renders a matrix value for text output; NaN is empty.
func FormatCell(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func geneIDs(m *atlas.Matrix) []string {
	if len(m.GeneIDs) == len(m.Genes) {
		return m.GeneIDs
	}
	return make([]string, len(m.Genes))
}

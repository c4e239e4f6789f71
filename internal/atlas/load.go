package atlas

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
)

// Columns names the expression table columns the loader reads.
type Columns struct {
	GeneID   string // optional Ensembl id column
	GeneName string
	Tissue   string
	Value    string
}

// DefaultColumns returns the column names used by HPA rna_tissue_consensus.tsv.
func DefaultColumns() Columns {
	return Columns{
		GeneID:   "Gene",
		GeneName: "Gene name",
		Tissue:   "Tissue",
		Value:    "nTPM",
	}
}

// Options configures Load.
type Options struct {
	ExpressionPath string
	HistologyPath  string
	Columns        Columns
	Logger         *log.Logger

	// MaxRowWarnings caps per-row warnings; the rest are only counted.
	MaxRowWarnings int
}

const defaultMaxRowWarnings = 5

// Load reads the expression table and the histology dictionary and builds an
// immutable Atlas. Missing or unusable files yield a *DataLoadError;
// malformed rows are dropped with a warning.
func Load(opts Options) (*Atlas, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	cols := opts.Columns
	defaults := DefaultColumns()
	if cols.GeneName == "" {
		cols.GeneName = defaults.GeneName
	}
	if cols.Tissue == "" {
		cols.Tissue = defaults.Tissue
	}
	if cols.Value == "" {
		cols.Value = defaults.Value
	}
	if cols.GeneID == "" {
		cols.GeneID = defaults.GeneID
	}
	maxWarnings := opts.MaxRowWarnings
	if maxWarnings <= 0 {
		maxWarnings = defaultMaxRowWarnings
	}

	groups, skippedLines, err := loadHistology(opts.HistologyPath, logger)
	if err != nil {
		return nil, err
	}

	table, err := loadExpression(opts.ExpressionPath, cols, maxWarnings, logger)
	if err != nil {
		return nil, err
	}

	a := build(table, groups)
	a.source = Source{ExpressionPath: opts.ExpressionPath, HistologyPath: opts.HistologyPath}
	a.stats.SkippedMappingLines = skippedLines

	if a.stats.SharedSymbols > 0 {
		logger.Warn("gene symbols shared by several ids resolve to the first id listed", "count", a.stats.SharedSymbols)
	}
	if a.stats.UnmappedTissues > 0 {
		logger.Warn("tissues missing from histology dictionary", "count", a.stats.UnmappedTissues, "group", OtherGroup)
	}
	logger.Info("expression data loaded",
		"path", opts.ExpressionPath,
		"records", a.stats.Records,
		"genes", a.stats.Genes,
		"tissues", a.stats.Tissues,
		"groups", a.stats.Groups,
		"skipped", a.stats.SkippedRows)
	return a, nil
}

func loadHistology(path string, logger *log.Logger) ([]Group, int, error) {
	if path == "" {
		return nil, 0, &DataLoadError{Path: path, Err: errors.New("histology dictionary path is empty")}
	}
	f, err := openInput(path)
	if err != nil {
		return nil, 0, &DataLoadError{Path: path, Err: err}
	}
	defer f.Close()

	groups, skipped, err := parseHistology(f, logger)
	if err != nil {
		return nil, 0, &DataLoadError{Path: path, Err: err}
	}
	if len(groups) == 0 {
		return nil, 0, &DataLoadError{Path: path, Err: errors.New("no organ groups found")}
	}
	return groups, skipped, nil
}

// rawTable is the parsed expression file before tissue ordering.
type rawTable struct {
	genes      []GeneInfo
	tissues    []string // first-seen order
	sums       [][]float64
	counts     [][]int
	records    int
	skipped    int
	duplicates int
}

func loadExpression(path string, cols Columns, maxWarnings int, logger *log.Logger) (*rawTable, error) {
	if path == "" {
		return nil, &DataLoadError{Path: path, Err: errors.New("expression path is empty")}
	}
	f, err := openInput(path)
	if err != nil {
		return nil, &DataLoadError{Path: path, Err: err}
	}
	defer f.Close()

	table, err := parseExpression(f, cols, maxWarnings, logger)
	if err != nil {
		return nil, &DataLoadError{Path: path, Err: err}
	}
	return table, nil
}

// fieldReader splits tab-separated lines. HPA tables are never quoted, so a
// quote character is ordinary data and a record always ends at its newline.
type fieldReader struct {
	br   *bufio.Reader
	line int
}

// next returns the fields of the next non-blank line and its 1-based number.
func (fr *fieldReader) next() ([]string, int, error) {
	for {
		text, err := fr.br.ReadString('\n')
		if err != nil && (err != io.EOF || text == "") {
			return nil, 0, err
		}
		fr.line++
		text = strings.TrimRight(text, "\r\n")
		if strings.TrimSpace(text) == "" {
			if err == io.EOF {
				return nil, 0, io.EOF
			}
			continue
		}
		return strings.Split(text, "\t"), fr.line, nil
	}
}

// geneKey identifies a gene record. Symbols are not unique across Ensembl
// ids, so the id is part of the key when the table has one.
type geneKey struct {
	id   string
	name string
}

func parseExpression(r io.Reader, cols Columns, maxWarnings int, logger *log.Logger) (*rawTable, error) {
	fr := &fieldReader{br: bufio.NewReaderSize(r, 64*1024)}

	header, _, err := fr.next()
	if err == io.EOF {
		return nil, errors.New("expression table is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	position := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		position[strings.ToLower(name)] = i
	}
	find := func(name string) int {
		if name == "" {
			return -1
		}
		if i, ok := position[strings.ToLower(name)]; ok {
			return i
		}
		return -1
	}
	geneCol, tissueCol, valueCol, idCol := find(cols.GeneName), find(cols.Tissue), find(cols.Value), find(cols.GeneID)
	var missing []string
	if geneCol < 0 {
		missing = append(missing, cols.GeneName)
	}
	if tissueCol < 0 {
		missing = append(missing, cols.Tissue)
	}
	if valueCol < 0 {
		missing = append(missing, cols.Value)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}
	width := max(geneCol, tissueCol, valueCol, idCol) + 1

	t := &rawTable{}
	geneIdx := make(map[geneKey]int)
	tissueIdx := make(map[string]int)

	skip := func(line int, reason string, keyvals ...interface{}) {
		t.skipped++
		if t.skipped <= maxWarnings {
			logger.Warn("skipping malformed row", append([]interface{}{"line", line, "reason", reason}, keyvals...)...)
		}
	}

	for {
		record, line, err := fr.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read expression table: %w", err)
		}
		if len(record) < width {
			skip(line, "too few fields", "fields", len(record))
			continue
		}

		name := strings.TrimSpace(record[geneCol])
		tissue := strings.TrimSpace(record[tissueCol])
		if name == "" || tissue == "" {
			skip(line, "empty gene or tissue")
			continue
		}
		raw := strings.TrimSpace(record[valueCol])
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
			skip(line, "invalid nTPM", "value", raw)
			continue
		}

		key := geneKey{name: name}
		if idCol >= 0 {
			key.id = strings.TrimSpace(record[idCol])
		}
		gi, ok := geneIdx[key]
		if !ok {
			gi = len(t.genes)
			geneIdx[key] = gi
			t.genes = append(t.genes, GeneInfo{Name: name, ID: key.id})
			t.sums = append(t.sums, make([]float64, len(t.tissues)))
			t.counts = append(t.counts, make([]int, len(t.tissues)))
		}
		ti, ok := tissueIdx[tissue]
		if !ok {
			ti = len(t.tissues)
			tissueIdx[tissue] = ti
			t.tissues = append(t.tissues, tissue)
		}
		if ti >= len(t.sums[gi]) {
			t.sums[gi] = grow(t.sums[gi], len(t.tissues))
			t.counts[gi] = growInts(t.counts[gi], len(t.tissues))
		}
		if t.counts[gi][ti] > 0 {
			t.duplicates++
		}
		t.sums[gi][ti] += value
		t.counts[gi][ti]++
		t.records++
	}

	if t.skipped > maxWarnings {
		logger.Warn("additional malformed rows skipped", "count", t.skipped-maxWarnings)
	}
	if t.records == 0 {
		return nil, errors.New("no usable expression records")
	}
	return t, nil
}

func grow(s []float64, n int) []float64 {
	out := make([]float64, n)
	copy(out, s)
	return out
}

func growInts(s []int, n int) []int {
	out := make([]int, n)
	copy(out, s)
	return out
}

// build orders tissues by histology group and computes the per-gene values.
func build(t *rawTable, groups []Group) *Atlas {
	byFold := make(map[string]int, len(t.tissues))
	for i, name := range t.tissues {
		key := strings.ToLower(name)
		if _, ok := byFold[key]; !ok {
			byFold[key] = i
		}
	}

	order := make([]int, 0, len(t.tissues))
	groupOf := make([]string, len(t.tissues))
	placed := make([]bool, len(t.tissues))
	for _, g := range groups {
		for _, name := range g.Tissues {
			i, ok := byFold[strings.ToLower(name)]
			if !ok || placed[i] {
				continue
			}
			placed[i] = true
			groupOf[i] = g.Name
			order = append(order, i)
		}
	}
	unmapped := 0
	for i := range t.tissues {
		if placed[i] {
			continue
		}
		groupOf[i] = OtherGroup
		order = append(order, i)
		unmapped++
	}

	a := &Atlas{
		genes:       t.genes,
		byName:      make(map[string]int, len(t.genes)),
		byID:        make(map[string]int, len(t.genes)),
		byFold:      make(map[string]int, len(t.genes)),
		tissues:     make([]string, len(order)),
		tissueGroup: make([]string, len(order)),
		values:      make([][]float64, len(t.genes)),
	}
	for col, i := range order {
		a.tissues[col] = t.tissues[i]
		a.tissueGroup[col] = groupOf[i]
	}

	ambiguous := 0
	for gi, info := range t.genes {
		// A symbol shared by several ids resolves to the first one listed.
		if _, ok := a.byName[info.Name]; ok {
			ambiguous++
		} else {
			a.byName[info.Name] = gi
		}
		if info.ID != "" {
			if _, ok := a.byID[info.ID]; !ok {
				a.byID[info.ID] = gi
			}
		}
		if _, ok := a.byFold[strings.ToLower(info.Name)]; !ok {
			a.byFold[strings.ToLower(info.Name)] = gi
		}

		row := make([]float64, len(order))
		for col, i := range order {
			if i < len(t.counts[gi]) && t.counts[gi][i] > 0 {
				row[col] = t.sums[gi][i] / float64(t.counts[gi][i])
			} else {
				row[col] = math.NaN()
			}
		}
		a.values[gi] = row
	}

	a.sortedNames = make([]string, 0, len(a.byName))
	for name := range a.byName {
		a.sortedNames = append(a.sortedNames, name)
	}
	sort.Strings(a.sortedNames)

	members := make(map[string][]int)
	for col, g := range a.tissueGroup {
		members[g] = append(members[g], col)
	}
	a.groups = make([]string, 0, len(members))
	for g := range members {
		a.groups = append(a.groups, g)
	}
	sort.Strings(a.groups)
	a.groupCols = make([][]int, len(a.groups))
	for j, g := range a.groups {
		a.groupCols[j] = members[g]
	}

	a.stats = Stats{
		Records:         t.records,
		SkippedRows:     t.skipped,
		Duplicates:      t.duplicates,
		Genes:           len(t.genes),
		Tissues:         len(a.tissues),
		Groups:          len(a.groups),
		UnmappedTissues: unmapped,
		SharedSymbols:   ambiguous,
	}
	return a
}

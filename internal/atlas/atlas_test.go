package atlas

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

const sampleExpression = `Gene	Gene name	Tissue	nTPM
ENSG00000141510	TP53	liver	10.0
ENSG00000141510	TP53	stomach	20.0
ENSG00000141510	TP53	retina	5.0
ENSG00000163631	ALB	liver	1000.0
ENSG00000163631	ALB	stomach	2.0
ENSG00000163631	ALB	retina	0.0
`

const sampleHistology = `#Digestive tract
Liver
Stomach

#Brain
cerebral cortex
`

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return p
}

func loadSample(t *testing.T, expression, histology string) *Atlas {
	t.Helper()
	dir := t.TempDir()
	a, err := Load(Options{
		ExpressionPath: writeFile(t, dir, "rna_tissue_consensus.tsv", expression),
		HistologyPath:  writeFile(t, dir, "Histology_Dictionary.txt", histology),
		Logger:         quietLogger(),
	})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return a
}

func TestLoad_SampleFixture(t *testing.T) {
	a := loadSample(t, sampleExpression, sampleHistology)

	m, err := a.ExpressionMatrix([]string{"TP53", "ALB"}, GroupByTissue)
	if err != nil {
		t.Fatalf("ExpressionMatrix(tissue) error: %v", err)
	}
	if m.Rows() != 2 || m.Cols() != 3 {
		t.Fatalf("expected 2x3 tissue matrix, got %dx%d", m.Rows(), m.Cols())
	}
	wantCols := []string{"liver", "stomach", "retina"}
	for j, c := range wantCols {
		if m.Columns[j] != c {
			t.Errorf("column %d: got %q want %q", j, m.Columns[j], c)
		}
	}
	if m.ColumnGroups[2] != OtherGroup {
		t.Errorf("expected unmapped retina in %q, got %q", OtherGroup, m.ColumnGroups[2])
	}

	organ, err := a.ExpressionMatrix([]string{"TP53", "ALB"}, GroupByOrgan)
	if err != nil {
		t.Fatalf("ExpressionMatrix(organ) error: %v", err)
	}
	if organ.Rows() != 2 {
		t.Fatalf("expected 2 rows, got %d", organ.Rows())
	}
	if organ.Cols() >= m.Cols() {
		t.Fatalf("expected fewer organ columns than tissues, got %d", organ.Cols())
	}
	if organ.Cols() != len(a.Groups()) {
		t.Fatalf("expected %d organ columns, got %d", len(a.Groups()), organ.Cols())
	}
	if organ.Columns[0] != "Digestive tract" || organ.Columns[1] != OtherGroup {
		t.Fatalf("unexpected organ columns: %v", organ.Columns)
	}
}

func TestExpressionMatrix_OrganMean(t *testing.T) {
	a := loadSample(t, sampleExpression, sampleHistology)

	m, err := a.ExpressionMatrix([]string{"ALB", "TP53"}, GroupByOrgan)
	if err != nil {
		t.Fatalf("ExpressionMatrix error: %v", err)
	}

	tests := []struct {
		gene, group string
		want        float64
	}{
		{"TP53", "Digestive tract", 15},
		{"TP53", OtherGroup, 5},
		{"ALB", "Digestive tract", 501},
		{"ALB", OtherGroup, 0},
	}
	for _, tt := range tests {
		got, ok := m.Value(tt.gene, tt.group)
		if !ok {
			t.Errorf("%s/%s: missing value", tt.gene, tt.group)
			continue
		}
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%s/%s: got %v want %v", tt.gene, tt.group, got, tt.want)
		}
	}
}

func TestExpressionMatrix_OrganMeanSkipsMissing(t *testing.T) {
	expr := `Gene name	Tissue	nTPM
A	liver	4
A	stomach	8
B	liver	6
`
	a := loadSample(t, expr, sampleHistology)

	m, err := a.ExpressionMatrix([]string{"B"}, GroupByOrgan)
	if err != nil {
		t.Fatalf("ExpressionMatrix error: %v", err)
	}
	got, ok := m.Value("B", "Digestive tract")
	if !ok || got != 6 {
		t.Fatalf("expected mean 6 over present tissues, got %v (ok=%v)", got, ok)
	}

	tissue, err := a.ExpressionMatrix([]string{"B"}, GroupByTissue)
	if err != nil {
		t.Fatalf("ExpressionMatrix error: %v", err)
	}
	if _, ok := tissue.Value("B", "stomach"); ok {
		t.Fatal("expected missing stomach value for B")
	}
}

func TestExpressionMatrix_RowAndColumnCounts(t *testing.T) {
	var b strings.Builder
	b.WriteString("Gene name\tTissue\tnTPM\n")
	tissues := []string{"liver", "stomach", "retina", "skin"}
	genes := make([]string, 12)
	for i := range genes {
		genes[i] = fmt.Sprintf("G%02d", i)
		for j, tissue := range tissues {
			fmt.Fprintf(&b, "%s\t%s\t%d\n", genes[i], tissue, i*10+j)
		}
	}
	a := loadSample(t, b.String(), sampleHistology)

	for n := 1; n <= MaxGenes; n++ {
		// Reverse order to check that rows follow the selection.
		sel := make([]string, n)
		for i := range sel {
			sel[i] = genes[n-1-i]
		}
		for _, g := range []Grouping{GroupByTissue, GroupByOrgan} {
			m, err := a.ExpressionMatrix(sel, g)
			if err != nil {
				t.Fatalf("n=%d %v: %v", n, g, err)
			}
			if m.Rows() != n {
				t.Fatalf("n=%d %v: got %d rows", n, g, m.Rows())
			}
			wantCols := len(a.Tissues())
			if g == GroupByOrgan {
				wantCols = len(a.Groups())
			}
			if m.Cols() != wantCols {
				t.Fatalf("n=%d %v: got %d cols want %d", n, g, m.Cols(), wantCols)
			}
			for i := range sel {
				if m.Genes[i] != sel[i] {
					t.Fatalf("n=%d %v: row %d is %q want %q", n, g, i, m.Genes[i], sel[i])
				}
			}
		}
	}
}

func TestExpressionMatrix_Errors(t *testing.T) {
	a := loadSample(t, sampleExpression, sampleHistology)

	t.Run("unknownGene", func(t *testing.T) {
		_, err := a.ExpressionMatrix([]string{"TP53", "NOPE"}, GroupByTissue)
		var unknown *UnknownGeneError
		if !errors.As(err, &unknown) {
			t.Fatalf("expected UnknownGeneError, got %v", err)
		}
		if len(unknown.Genes) != 1 || unknown.Genes[0] != "NOPE" {
			t.Fatalf("unexpected unknown genes: %v", unknown.Genes)
		}
	})

	t.Run("noGenes", func(t *testing.T) {
		_, err := a.ExpressionMatrix([]string{" ", ""}, GroupByTissue)
		if !errors.Is(err, ErrNoGenes) {
			t.Fatalf("expected ErrNoGenes, got %v", err)
		}
	})

	t.Run("tooManyGenes", func(t *testing.T) {
		sel := make([]string, MaxGenes+1)
		for i := range sel {
			sel[i] = fmt.Sprintf("G%d", i)
		}
		_, err := a.ExpressionMatrix(sel, GroupByTissue)
		var tooMany *TooManyGenesError
		if !errors.As(err, &tooMany) {
			t.Fatalf("expected TooManyGenesError, got %v", err)
		}
		if tooMany.Count != MaxGenes+1 {
			t.Fatalf("unexpected count %d", tooMany.Count)
		}
	})

	t.Run("aliasesCountOnce", func(t *testing.T) {
		sel := []string{
			"TP53", "tp53", "Tp53", "tP53", "ENSG00000141510",
			"ALB", "alb", "Alb", "aLB", "aLb", "ENSG00000163631",
		}
		m, err := a.ExpressionMatrix(sel, GroupByTissue)
		if err != nil {
			t.Fatalf("expected %d identifiers for 2 genes to pass, got %v", len(sel), err)
		}
		if m.Rows() != 2 {
			t.Fatalf("expected 2 rows, got %d", m.Rows())
		}
	})

	t.Run("tooManyWithUnknown", func(t *testing.T) {
		sel := []string{"TP53", "tp53", "ALB"}
		for i := 0; i < MaxGenes-1; i++ {
			sel = append(sel, fmt.Sprintf("G%d", i))
		}
		_, err := a.ExpressionMatrix(sel, GroupByTissue)
		var tooMany *TooManyGenesError
		if !errors.As(err, &tooMany) {
			t.Fatalf("expected TooManyGenesError, got %v", err)
		}
		if tooMany.Count != MaxGenes+1 {
			t.Fatalf("expected count %d, got %d", MaxGenes+1, tooMany.Count)
		}
	})

	t.Run("invalidGrouping", func(t *testing.T) {
		if _, err := a.ExpressionMatrix([]string{"TP53"}, Grouping(7)); err == nil {
			t.Fatal("expected error for invalid grouping")
		}
	})
}

func TestExpressionMatrix_Aliases(t *testing.T) {
	a := loadSample(t, sampleExpression, sampleHistology)

	m, err := a.ExpressionMatrix([]string{"ENSG00000163631", "tp53", "TP53"}, GroupByTissue)
	if err != nil {
		t.Fatalf("ExpressionMatrix error: %v", err)
	}
	if m.Rows() != 2 {
		t.Fatalf("expected duplicates to collapse to 2 rows, got %d", m.Rows())
	}
	if m.Genes[0] != "ALB" || m.Genes[1] != "TP53" {
		t.Fatalf("unexpected canonical genes: %v", m.Genes)
	}
	if m.GeneIDs[0] != "ENSG00000163631" {
		t.Fatalf("unexpected gene id: %q", m.GeneIDs[0])
	}
}

func TestLoad_Idempotent(t *testing.T) {
	dir := t.TempDir()
	opts := Options{
		ExpressionPath: writeFile(t, dir, "expr.tsv", sampleExpression),
		HistologyPath:  writeFile(t, dir, "hist.txt", sampleHistology),
		Logger:         quietLogger(),
	}

	var encoded [2][]byte
	for i := range encoded {
		a, err := Load(opts)
		if err != nil {
			t.Fatalf("load %d: %v", i, err)
		}
		m, err := a.ExpressionMatrix([]string{"ALB", "TP53"}, GroupByOrgan)
		if err != nil {
			t.Fatalf("query %d: %v", i, err)
		}
		encoded[i], err = json.Marshal(m)
		if err != nil {
			t.Fatalf("marshal %d: %v", i, err)
		}
	}
	if string(encoded[0]) != string(encoded[1]) {
		t.Fatalf("matrices differ across loads:\n%s\n%s", encoded[0], encoded[1])
	}
}

func TestLoad_MalformedRowsSkipped(t *testing.T) {
	expr := `Gene	Gene name	Tissue	nTPM
ENSG1	TP53	liver	10
ENSG1	TP53	stomach	not-a-number
ENSG1	TP53
ENSG1		liver	3
ENSG1	TP53	retina	-1
ENSG1	TP53	retina	NaN
ENSG2	ALB	liver	7
ENSG2	ALB	liver	9
`
	a := loadSample(t, expr, sampleHistology)

	st := a.Stats()
	if st.Records != 3 {
		t.Errorf("expected 3 records, got %d", st.Records)
	}
	if st.SkippedRows != 5 {
		t.Errorf("expected 5 skipped rows, got %d", st.SkippedRows)
	}
	if st.Duplicates != 1 {
		t.Errorf("expected 1 duplicate record, got %d", st.Duplicates)
	}
	if st.Tissues != 1 {
		t.Errorf("expected only liver to survive, got %d tissues", st.Tissues)
	}

	m, err := a.ExpressionMatrix([]string{"ALB"}, GroupByTissue)
	if err != nil {
		t.Fatalf("ExpressionMatrix error: %v", err)
	}
	if got, _ := m.Value("ALB", "liver"); got != 8 {
		t.Fatalf("expected duplicate records averaged to 8, got %v", got)
	}
}

func TestLoad_StrayQuoteSkipsOneRow(t *testing.T) {
	expr := "Gene\tGene name\tTissue\tnTPM\n" +
		"ENSG1\tTP53\tliver\t10\n" +
		"ENSG9\t\"BAD\tliver\n" +
		"ENSG2\tALB\tliver\t7\n" +
		"ENSG2\tALB\tstomach\t9\n" +
		"ENSG3\tINS\tliver\t\"4\n" +
		"ENSG3\tINS\tstomach\t4\n"
	a := loadSample(t, expr, sampleHistology)

	st := a.Stats()
	if st.SkippedRows != 2 {
		t.Errorf("expected 2 skipped rows, got %d", st.SkippedRows)
	}
	if st.Records != 4 {
		t.Errorf("expected 4 records, got %d", st.Records)
	}

	m, err := a.ExpressionMatrix([]string{"ALB", "INS"}, GroupByTissue)
	if err != nil {
		t.Fatalf("rows after the bad ones were lost: %v", err)
	}
	if got, _ := m.Value("ALB", "stomach"); got != 9 {
		t.Errorf("ALB stomach: got %v want 9", got)
	}
	if got, _ := m.Value("INS", "stomach"); got != 4 {
		t.Errorf("INS stomach: got %v want 4", got)
	}
}

func TestLoad_QuotedNamesAreData(t *testing.T) {
	expr := "Gene\tGene name\tTissue\tnTPM\r\n" +
		"ENSG1\t\"TP53\"\tliver\t10\r\n" +
		"\r\n" +
		"ENSG2\tALB\tliver\t7"
	a := loadSample(t, expr, sampleHistology)

	if !a.HasGene(`"TP53"`) {
		t.Fatalf("expected quoted symbol kept verbatim, genes: %v", a.Genes())
	}
	if got := a.Stats().Records; got != 2 {
		t.Fatalf("expected 2 records with CRLF endings and no final newline, got %d", got)
	}
}

func TestLoad_SharedSymbolKeepsIDsApart(t *testing.T) {
	expr := `Gene	Gene name	Tissue	nTPM
ENSG01	DUP	liver	10
ENSG02	DUP	liver	30
ENSG02	DUP	stomach	6
`
	a := loadSample(t, expr, sampleHistology)

	st := a.Stats()
	if st.Duplicates != 0 {
		t.Errorf("expected no duplicates across ids, got %d", st.Duplicates)
	}
	if st.Genes != 2 || st.SharedSymbols != 1 {
		t.Errorf("expected 2 genes and 1 shared symbol, got %d and %d", st.Genes, st.SharedSymbols)
	}
	if genes := a.Genes(); len(genes) != 1 || genes[0] != "DUP" {
		t.Errorf("expected symbol listed once, got %v", genes)
	}

	m, err := a.ExpressionMatrix([]string{"ENSG02", "ENSG01"}, GroupByTissue)
	if err != nil {
		t.Fatalf("ExpressionMatrix by id: %v", err)
	}
	if m.Rows() != 2 || m.GeneIDs[0] != "ENSG02" || m.GeneIDs[1] != "ENSG01" {
		t.Fatalf("unexpected rows: %v %v", m.Genes, m.GeneIDs)
	}
	liver := indexOf(m.Columns, "liver")
	if m.At(0, liver) != 30 || m.At(1, liver) != 10 {
		t.Fatalf("ids mixed: ENSG02=%v ENSG01=%v", m.At(0, liver), m.At(1, liver))
	}

	bySymbol, err := a.ExpressionMatrix([]string{"DUP"}, GroupByTissue)
	if err != nil {
		t.Fatalf("ExpressionMatrix by symbol: %v", err)
	}
	if bySymbol.GeneIDs[0] != "ENSG01" {
		t.Fatalf("expected symbol to resolve to first id, got %s", bySymbol.GeneIDs[0])
	}

	p, err := a.Gene("ENSG02")
	if err != nil {
		t.Fatalf("Gene(ENSG02): %v", err)
	}
	if p.PeakValue != 30 || p.Tissues != 2 {
		t.Fatalf("unexpected profile: %+v", p)
	}
}

func TestLoad_Failures(t *testing.T) {
	dir := t.TempDir()
	expr := writeFile(t, dir, "expr.tsv", sampleExpression)
	hist := writeFile(t, dir, "hist.txt", sampleHistology)

	tests := []struct {
		name       string
		expression string
		histology  string
		notExist   bool
	}{
		{"missingExpression", filepath.Join(dir, "missing.tsv"), hist, true},
		{"missingHistology", expr, filepath.Join(dir, "missing.txt"), true},
		{"emptyPath", "", hist, false},
		{"missingColumn", writeFile(t, dir, "nocol.tsv", "Gene name\tTissue\nTP53\tliver\n"), hist, false},
		{"emptyTable", writeFile(t, dir, "empty.tsv", ""), hist, false},
		{"noRecords", writeFile(t, dir, "header.tsv", "Gene name\tTissue\tnTPM\n"), hist, false},
		{"noGroups", expr, writeFile(t, dir, "nogroups.txt", "liver\nstomach\n"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(Options{ExpressionPath: tt.expression, HistologyPath: tt.histology, Logger: quietLogger()})
			var loadErr *DataLoadError
			if !errors.As(err, &loadErr) {
				t.Fatalf("expected DataLoadError, got %v", err)
			}
			if tt.notExist && !errors.Is(err, fs.ErrNotExist) {
				t.Fatalf("expected wrapped ErrNotExist, got %v", err)
			}
		})
	}
}

func TestParseHistology(t *testing.T) {
	content := `orphan tissue
#Digestive tract
Liver
stomach
#Eye
retina
#Digestive tract
colon
#Brain
liver
`
	groups, skipped, err := parseHistology(strings.NewReader(content), quietLogger())
	if err != nil {
		t.Fatalf("parseHistology error: %v", err)
	}
	if skipped != 2 {
		t.Errorf("expected 2 skipped lines, got %d", skipped)
	}
	if len(groups) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(groups))
	}
	digestive := groups[0]
	if digestive.Name != "Digestive tract" || len(digestive.Tissues) != 3 {
		t.Fatalf("unexpected first group: %+v", digestive)
	}
	if len(groups[2].Tissues) != 0 {
		t.Fatalf("expected duplicate liver to stay in its first group, got %+v", groups[2])
	}
}

func TestMatrix_WithScale(t *testing.T) {
	a := loadSample(t, sampleExpression, sampleHistology)
	m, err := a.ExpressionMatrix([]string{"TP53"}, GroupByTissue)
	if err != nil {
		t.Fatalf("ExpressionMatrix error: %v", err)
	}

	logged := m.WithScale(ScaleLog)
	if logged.Scale != ScaleLog {
		t.Fatalf("expected log scale, got %v", logged.Scale)
	}
	for j := range m.Columns {
		want := math.Log2(m.At(0, j) + 1)
		if math.Abs(logged.At(0, j)-want) > 1e-12 {
			t.Errorf("column %d: got %v want %v", j, logged.At(0, j), want)
		}
	}
	if m.Scale != ScaleLinear || m.At(0, 0) != 10 {
		t.Fatal("WithScale must not modify the receiver")
	}
	if logged.WithScale(ScaleLinear) != logged {
		t.Fatal("expected log matrix returned unchanged")
	}
}

func TestMatrix_MarshalJSONNulls(t *testing.T) {
	expr := "Gene name\tTissue\tnTPM\nA\tliver\t1\nB\tstomach\t2\n"
	a := loadSample(t, expr, sampleHistology)
	m, err := a.ExpressionMatrix([]string{"A"}, GroupByTissue)
	if err != nil {
		t.Fatalf("ExpressionMatrix error: %v", err)
	}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	var payload struct {
		Grouping string       `json:"grouping"`
		Unit     string       `json:"unit"`
		Values   [][]*float64 `json:"values"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if payload.Grouping != "tissue" || payload.Unit != "nTPM" {
		t.Fatalf("unexpected grouping/unit: %q %q", payload.Grouping, payload.Unit)
	}
	if payload.Values[0][0] == nil || *payload.Values[0][0] != 1 {
		t.Fatalf("expected liver value 1, got %v", payload.Values[0][0])
	}
	if payload.Values[0][1] != nil {
		t.Fatalf("expected null for missing stomach value, got %v", *payload.Values[0][1])
	}
}

func TestSearchGenes(t *testing.T) {
	expr := "Gene\tGene name\tTissue\tnTPM\nE1\tALB\tliver\t1\nE2\tALDOB\tliver\t1\nE3\tCALB1\tliver\t1\nE4\tTP53\tliver\t1\n"
	a := loadSample(t, expr, sampleHistology)

	got := a.SearchGenes("alb", 0)
	want := []string{"ALB", "CALB1"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("SearchGenes(alb) = %v, want %v", got, want)
	}
	if got := a.SearchGenes("", 2); len(got) != 2 || got[0] != "ALB" {
		t.Fatalf("SearchGenes(\"\", 2) = %v", got)
	}
	if got := a.SearchGenes("E4", 0); len(got) != 1 || got[0] != "TP53" {
		t.Fatalf("SearchGenes(E4) = %v", got)
	}
}

func TestGeneProfile(t *testing.T) {
	a := loadSample(t, sampleExpression, sampleHistology)
	p, err := a.Gene("ALB")
	if err != nil {
		t.Fatalf("Gene error: %v", err)
	}
	if p.PeakTissue != "liver" || p.PeakGroup != "Digestive tract" || p.PeakValue != 1000 {
		t.Fatalf("unexpected profile: %+v", p)
	}
	if p.Tissues != 3 {
		t.Fatalf("expected 3 tissues, got %d", p.Tissues)
	}
	if _, err := a.Gene("NOPE"); err == nil {
		t.Fatal("expected error for unknown gene")
	}
}

func TestParseGroupingAndScale(t *testing.T) {
	for in, want := range map[string]Grouping{"": GroupByTissue, "tissue": GroupByTissue, "Organ": GroupByOrgan, "organ_group": GroupByOrgan} {
		got, err := ParseGrouping(in)
		if err != nil || got != want {
			t.Errorf("ParseGrouping(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseGrouping("cell"); err == nil {
		t.Error("expected error for invalid grouping")
	}
	for in, want := range map[string]Scale{"": ScaleLinear, "linear": ScaleLinear, "LOG": ScaleLog} {
		got, err := ParseScale(in)
		if err != nil || got != want {
			t.Errorf("ParseScale(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseScale("sqrt"); err == nil {
		t.Error("expected error for invalid scale")
	}
}

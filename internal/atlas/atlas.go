// Package atlas loads tissue-consensus gene expression data and reshapes it
// into per-gene expression matrices over tissues or organ groups.
//
// An Atlas is built once by Load and is read-only afterwards, so a single
// instance can be shared by concurrent readers without locking.
package atlas

import (
	"math"
	"strings"
)

// MaxGenes is the largest gene selection a matrix query accepts.
const MaxGenes = 10

// Source records the files an Atlas was loaded from.
type Source struct {
	ExpressionPath string `json:"expression_path"`
	HistologyPath  string `json:"histology_path"`
}

// GeneInfo identifies a gene.
type GeneInfo struct {
	Name string `json:"name"`
	ID   string `json:"id,omitempty"`
}

// Tissue is a tissue column and its organ group.
type Tissue struct {
	Name  string `json:"name"`
	Group string `json:"group"`
}

// Stats summarises a load.
type Stats struct {
	Records             int `json:"records"`
	SkippedRows         int `json:"skipped_rows"`
	Duplicates          int `json:"duplicate_records"`
	Genes               int `json:"genes"`
	Tissues             int `json:"tissues"`
	Groups              int `json:"groups"`
	UnmappedTissues     int `json:"unmapped_tissues"`
	SkippedMappingLines int `json:"skipped_mapping_lines"`

	// SharedSymbols counts gene records whose symbol an earlier id already uses.
	SharedSymbols int `json:"shared_symbols"`
}

// Atlas is an immutable in-memory expression table.
type Atlas struct {
	source Source
	stats  Stats

	genes       []GeneInfo
	byName      map[string]int
	byID        map[string]int
	byFold      map[string]int
	sortedNames []string

	// Tissue columns, ordered by organ group.
	tissues     []string
	tissueGroup []string

	// values[gene][tissue column]; NaN marks a missing record.
	values [][]float64

	// Sorted organ groups and the tissue columns belonging to each.
	groups    []string
	groupCols [][]int
}

// Source returns the files the atlas was loaded from.
func (a *Atlas) Source() Source { return a.source }

// Stats returns load counters.
func (a *Atlas) Stats() Stats { return a.stats }

// Genes returns all gene names in sorted order.
func (a *Atlas) Genes() []string {
	out := make([]string, len(a.sortedNames))
	copy(out, a.sortedNames)
	return out
}

// HasGene reports whether id resolves to a gene.
func (a *Atlas) HasGene(id string) bool {
	_, ok := a.lookup(id)
	return ok
}

// lookup resolves a gene name, an Ensembl id, or a case-insensitive name.
func (a *Atlas) lookup(id string) (int, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return 0, false
	}
	if i, ok := a.byName[id]; ok {
		return i, true
	}
	if i, ok := a.byID[id]; ok {
		return i, true
	}
	if i, ok := a.byFold[strings.ToLower(id)]; ok {
		return i, true
	}
	return 0, false
}

// SearchGenes returns up to limit gene names matching query, prefix matches
// first. An empty query lists genes from the start; limit <= 0 means no limit.
func (a *Atlas) SearchGenes(query string, limit int) []string {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		if limit <= 0 || limit > len(a.sortedNames) {
			limit = len(a.sortedNames)
		}
		return append([]string(nil), a.sortedNames[:limit]...)
	}

	var prefix, contains []string
	for _, name := range a.sortedNames {
		lower := strings.ToLower(name)
		switch {
		case strings.HasPrefix(lower, q):
			prefix = append(prefix, name)
		case strings.Contains(lower, q):
			contains = append(contains, name)
		}
	}
	// Ensembl ids are only matched exactly.
	if i, ok := a.byID[strings.TrimSpace(query)]; ok {
		name := a.genes[i].Name
		if !strings.Contains(strings.ToLower(name), q) {
			prefix = append([]string{name}, prefix...)
		}
	}

	out := append(prefix, contains...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Tissues returns the tissue columns in display order.
func (a *Atlas) Tissues() []Tissue {
	out := make([]Tissue, len(a.tissues))
	for i, name := range a.tissues {
		out[i] = Tissue{Name: name, Group: a.tissueGroup[i]}
	}
	return out
}

// Groups returns the organ groups in sorted order with their member tissues.
func (a *Atlas) Groups() []Group {
	out := make([]Group, len(a.groups))
	for j, name := range a.groups {
		tissues := make([]string, len(a.groupCols[j]))
		for k, col := range a.groupCols[j] {
			tissues[k] = a.tissues[col]
		}
		out[j] = Group{Name: name, Tissues: tissues}
	}
	return out
}

// GroupOf returns the organ group of a tissue (case-insensitive), or
// OtherGroup if the tissue is unknown.
func (a *Atlas) GroupOf(tissue string) string {
	for i, name := range a.tissues {
		if strings.EqualFold(name, tissue) {
			return a.tissueGroup[i]
		}
	}
	return OtherGroup
}

// GeneProfile summarises one gene across all tissues.
type GeneProfile struct {
	GeneInfo
	Tissues    int     `json:"tissues"`
	PeakTissue string  `json:"peak_tissue"`
	PeakGroup  string  `json:"peak_group"`
	PeakValue  float64 `json:"peak_ntpm"`
	Mean       float64 `json:"mean_ntpm"`
}

// Gene returns a profile for the gene id resolves to.
func (a *Atlas) Gene(id string) (GeneProfile, error) {
	gi, ok := a.lookup(id)
	if !ok {
		return GeneProfile{}, &UnknownGeneError{Genes: []string{id}}
	}

	p := GeneProfile{GeneInfo: a.genes[gi], PeakValue: math.Inf(-1)}
	sum := 0.0
	for col, v := range a.values[gi] {
		if math.IsNaN(v) {
			continue
		}
		p.Tissues++
		sum += v
		if v > p.PeakValue {
			p.PeakValue = v
			p.PeakTissue = a.tissues[col]
			p.PeakGroup = a.tissueGroup[col]
		}
	}
	if p.Tissues == 0 {
		p.PeakValue = 0
		return p, nil
	}
	p.Mean = sum / float64(p.Tissues)
	return p, nil
}

package atlas

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoGenes is returned when a query selects no genes.
var ErrNoGenes = errors.New("no genes selected")

// DataLoadError reports an input file that is missing or cannot be used.
type DataLoadError struct {
	Path string
	Err  error
}

func (e *DataLoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.Path, e.Err)
}

func (e *DataLoadError) Unwrap() error { return e.Err }

// UnknownGeneError lists requested genes that have no expression records.
type UnknownGeneError struct {
	Genes []string
}

func (e *UnknownGeneError) Error() string {
	if len(e.Genes) == 1 {
		return "gene not found: " + e.Genes[0]
	}
	return "genes not found: " + strings.Join(e.Genes, ", ")
}

// TooManyGenesError is returned when a selection exceeds MaxGenes.
type TooManyGenesError struct {
	Count int
	Max   int
}

func (e *TooManyGenesError) Error() string {
	return fmt.Sprintf("too many genes selected: %d (maximum %d)", e.Count, e.Max)
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	charmlog "github.com/charmbracelet/log"
	"github.com/protatlas/server/internal/atlas"
	"github.com/protatlas/server/internal/render"
	"github.com/protatlas/server/internal/report"
	"github.com/protatlas/server/internal/service"
	"github.com/spf13/cobra"
)

// exportParams holds the flags shared by the matrix and chart commands.
type exportParams struct {
	global   *globalFlags
	dataset  string
	genes    []string
	grouping string
	scale    string

	// matrix
	format string

	// chart
	kind     string
	colormap string
	out      string

	stdout io.Writer
	stderr io.Writer
}

func addSelectionFlags(cmd *cobra.Command, p *exportParams) {
	cmd.Flags().StringVarP(&p.dataset, "dataset", "d", "", "dataset id (default: configured default)")
	cmd.Flags().StringSliceVarP(&p.genes, "genes", "g", nil, "genes to include, by name or Ensembl id (max 10)")
	cmd.Flags().StringVar(&p.grouping, "grouping", "tissue", "column grouping: tissue or organ")
	cmd.Flags().StringVar(&p.scale, "scale", "linear", "value scale: linear or log")
	_ = cmd.MarkFlagRequired("genes")
}

func newMatrixCmd(g *globalFlags) *cobra.Command {
	p := exportParams{global: g}
	cmd := &cobra.Command{
		Use:   "matrix",
		Short: "Print the expression matrix for a gene selection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p.stdout, p.stderr = cmd.OutOrStdout(), cmd.ErrOrStderr()
			return runMatrix(p)
		},
	}
	addSelectionFlags(cmd, &p)
	cmd.Flags().StringVarP(&p.format, "format", "f", "table", "output format: table, csv or json")
	return cmd
}

func newChartCmd(g *globalFlags) *cobra.Command {
	p := exportParams{global: g}
	cmd := &cobra.Command{
		Use:   "chart",
		Short: "Render a chart for a gene selection as PNG",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p.stdout, p.stderr = cmd.OutOrStdout(), cmd.ErrOrStderr()
			return runChart(p)
		},
	}
	addSelectionFlags(cmd, &p)
	cmd.Flags().StringVarP(&p.kind, "kind", "k", "heatmap", "chart type: heatmap, bar or box")
	cmd.Flags().StringVar(&p.colormap, "colormap", "", "heatmap color scale (default: render.default_colormap)")
	cmd.Flags().StringVarP(&p.out, "out", "o", "", "output PNG path, or - for stdout")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

// openDataset loads only the selected dataset.
func openDataset(p exportParams) (*service.ExpressionService, *charmlog.Logger, func(), error) {
	cfg, err := loadConfig(p.global)
	if err != nil {
		return nil, nil, nil, err
	}
	log, err := newLogger(p.stderr, cfg.Log)
	if err != nil {
		return nil, nil, nil, err
	}
	id := p.dataset
	if id == "" {
		id = cfg.Data.DefaultDataset
	}

	services, cacheManager, err := loadServices(context.Background(), cfg, log, id)
	if err != nil {
		return nil, nil, nil, err
	}
	return services[0], log, func() { cacheManager.Close() }, nil
}

func parseSelection(p exportParams) (service.MatrixQuery, error) {
	q := service.MatrixQuery{Genes: p.genes}
	var err error
	if q.Grouping, err = atlas.ParseGrouping(p.grouping); err != nil {
		return q, err
	}
	if q.Scale, err = atlas.ParseScale(p.scale); err != nil {
		return q, err
	}
	return q, nil
}

func runMatrix(p exportParams) error {
	format, err := report.ParseFormat(p.format)
	if err != nil {
		return err
	}
	q, err := parseSelection(p)
	if err != nil {
		return err
	}

	svc, _, done, err := openDataset(p)
	if err != nil {
		return err
	}
	defer done()

	m, err := svc.Matrix(q)
	if err != nil {
		return err
	}
	return report.Write(p.stdout, m, format)
}

func runChart(p exportParams) error {
	kind, err := render.ParseKind(p.kind)
	if err != nil {
		return err
	}
	q, err := parseSelection(p)
	if err != nil {
		return err
	}

	svc, log, done, err := openDataset(p)
	if err != nil {
		return err
	}
	defer done()

	data, err := svc.Chart(service.ChartQuery{MatrixQuery: q, Kind: kind, Colormap: p.colormap})
	if err != nil {
		return err
	}

	if p.out == "-" {
		_, err = p.stdout.Write(data)
		return err
	}
	if err := os.WriteFile(p.out, data, 0o644); err != nil {
		return fmt.Errorf("write chart: %w", err)
	}
	log.Info("chart written", "path", p.out, "kind", kind, "bytes", len(data))
	return nil
}

/*
Copyright © 2024 the treecl authors.
This file is part of treecl.

treecl is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

treecl is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with treecl.  If not, see <http://www.gnu.org/licenses/>.
*/

package treeclutil

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/treecl"
	"github.com/spf13/cobra"
)

// runStages runs the given pipeline stages as configured in Cfg and
// prints a summary of the results.
func runStages(cmd *cobra.Command, stages ...treecl.Stage) error {
	ctx := cmdContext(cmd)
	log, logFile, err := NewLogger(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if logFile != nil {
		defer logFile.Close()
	}
	results, err := Run(ctx, log, stages...)
	if err != nil {
		return err
	}
	return PrintResults(cmd.OutOrStdout(), results)
}

// Run runs the given pipeline stages as configured in Cfg.
func Run(ctx context.Context, log logrus.FieldLogger, stages ...treecl.Stage) ([]*treecl.StageResult, error) {
	cfg, err := PipelineConfig(ctx)
	if err != nil {
		return nil, err
	}
	ws, err := OpenWorkspace(ctx, log)
	if err != nil {
		return nil, err
	}
	defer ws.Close()

	p := treecl.NewPipeline(ws, cfg)
	p.Log = log
	if addr := Cfg.GetString("MetricsAddr"); addr != "" {
		m := NewMetrics()
		srv, err := m.Serve(addr, log)
		if err != nil {
			return nil, fmt.Errorf("treecl: starting metrics server: %v", err)
		}
		defer srv.Close()
		p.Reporter = m
	}
	log.WithFields(logrus.Fields{
		"version":   treecl.Version,
		"workspace": Cfg.GetString("Workspace"),
		"period":    cfg.Period,
		"elements":  cfg.Elements,
		"workers":   cfg.Workers,
	}).Info("starting pipeline")
	return p.Run(ctx, stages...)
}

// PrintResults writes a table summarizing stage results to w.
func PrintResults(w io.Writer, results []*treecl.StageResult) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "stage\twritten\texisting\tskipped\telapsed")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%v\n", r.Stage, r.Written, r.Existing, r.Skipped, r.Elapsed)
	}
	return tw.Flush()
}

// Describe writes the geometry and a summary of the values of the
// specified raster to w.
func Describe(ctx context.Context, w io.Writer, ws treecl.Workspace, container, name string) error {
	g, err := ws.Read(ctx, container, name)
	if err != nil {
		return err
	}
	b := g.Bounds()
	sr := g.SR
	if sr == "" {
		sr = "unknown"
	}
	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)
	fmt.Fprintf(tw, "raster:\t%s/%s\n", container, name)
	fmt.Fprintf(tw, "rows:\t%d\n", g.Ny())
	fmt.Fprintf(tw, "columns:\t%d\n", g.Nx())
	fmt.Fprintf(tw, "cell size:\t%g\n", g.CellSize)
	fmt.Fprintf(tw, "bounds:\t(%g, %g) to (%g, %g)\n", b.Min.X, b.Min.Y, b.Max.X, b.Max.Y)
	fmt.Fprintf(tw, "spatial reference:\t%s\n", sr)
	fmt.Fprintf(tw, "values:\t%v\n", g.Summary())
	return tw.Flush()
}

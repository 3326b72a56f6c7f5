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

package treecl

import (
	"context"
	"errors"
	"io/ioutil"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
)

// testPipeline returns a pipeline over a workspace holding basal-area
// rasters for three species and nitrogen and sulfur deposition.
func testPipeline(t *testing.T) (*Pipeline, *memWorkspace) {
	t.Helper()
	ctx := context.Background()
	ws := newMemWorkspace()
	ba := map[string]*Grid{
		"s121": testGrid(2, 2, 1, 0, 2, 0),
		"s122": testGrid(2, 2, 1, 1, 0, 0),
		"s318": testGrid(2, 2, 2, 0, 0, 0),
	}
	for name, g := range ba {
		if err := ws.Write(ctx, BasalAreaContainer, name, g); err != nil {
			t.Fatal(err)
		}
	}
	if err := ws.Write(ctx, DepositionContainer, "n_tw_1719", testGrid(2, 2).Fill(18)); err != nil {
		t.Fatal(err)
	}
	if err := ws.Write(ctx, DepositionContainer, "s_tw_1719", testGrid(2, 2).Fill(6)); err != nil {
		t.Fatal(err)
	}
	ws.writes = 0

	tables := make(map[string]*ResponseTable)
	for _, r := range []Response{Growth, Survival} {
		table, err := ReadResponseTable(strings.NewReader(growthCSV), r.Name)
		if err != nil {
			t.Fatal(err)
		}
		tables[r.Name] = table
	}
	log := logrus.New()
	log.Out = ioutil.Discard
	p := NewPipeline(ws, &Config{
		Period:                 "1719",
		Elements:               []Element{Nitrogen, Sulfur},
		Responses:              []Response{Growth, Survival},
		Tables:                 tables,
		Species:                []int{121, 122, 318, 999},
		ExpectedBasalAreaCount: 3,
		Percentile:             5,
		AggregateSources:       []AggregateSource{EffectSource, DepositionLevelSource, WeightedSource},
		TileRows:               1,
		Workers:                4,
	})
	p.Log = log
	return p, ws
}

type countReporter struct {
	mu     sync.Mutex
	items  map[TaskStatus]int
	stages []string
}

func (c *countReporter) ItemDone(_ string, s TaskStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.items == nil {
		c.items = make(map[TaskStatus]int)
	}
	c.items[s]++
}

func (c *countReporter) StageDone(r *StageResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stages = append(c.stages, r.Stage)
}

func TestPipelineRun(t *testing.T) {
	ctx := context.Background()
	p, ws := testPipeline(t)
	rep := new(countReporter)
	p.Reporter = rep

	results, err := p.Run(ctx, Stages...)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string][3]int{ // written, existing, skipped
		"nullzero":   {3, 0, 0},
		"natlsum":    {1, 0, 0},
		"proportion": {3, 0, 1},
		"exceedance": {6, 0, 6},
		"effect":     {6, 0, 6},
		"deplevel":   {4, 0, 8},
		"weight":     {6, 0, 0},
		"aggregate":  {12, 0, 0},
	}
	if len(results) != len(Stages) {
		t.Fatalf("%d results", len(results))
	}
	total := 0
	for _, r := range results {
		w := want[r.Stage]
		if r.Written != w[0] || r.Existing != w[1] || r.Skipped != w[2] {
			t.Errorf("%s: written %d, existing %d, skipped %d; want %v", r.Stage, r.Written, r.Existing, r.Skipped, w)
		}
		total += r.Written
	}
	if ws.writeCount() != total {
		t.Errorf("wrote %d rasters, results report %d", ws.writeCount(), total)
	}
	if len(rep.stages) != len(Stages) || rep.items[TaskWritten] != total {
		t.Errorf("reporter saw stages %v and items %v", rep.stages, rep.items)
	}

	natl, err := ws.Read(ctx, BasalAreaNullContainer, NationalSumName)
	if err != nil {
		t.Fatal(err)
	}
	if !sameCells(natl.Elements, []float64{4, 1, 2, nan}) {
		t.Errorf("national sum = %v", natl.Elements)
	}
	prop, err := ws.Read(ctx, ProportionContainer, ProportionName(121))
	if err != nil {
		t.Fatal(err)
	}
	if !sameCells(prop.Elements, []float64{0.25, nan, 1, nan}) {
		t.Errorf("proportion = %v", prop.Elements)
	}

	eff, err := ws.Read(ctx, EffectContainer(Nitrogen, Growth), EffectName(121))
	if err != nil {
		t.Fatal(err)
	}
	wantEffect := math.Exp(-0.5*math.Pow(math.Log(18.0/12)/0.5, 2))/math.Exp(-0.5*math.Pow(math.Log(5.0/12)/0.5, 2)) - 1
	if different(eff.Elements[0], wantEffect, 1e-10) || !IsNull(eff.Elements[1]) {
		t.Errorf("effect = %v, want %g where species 121 is present", eff.Elements, wantEffect)
	}
	if ok, _ := ws.Exists(ctx, EffectContainer(Nitrogen, Growth), EffectName(318)); ok {
		t.Error("species 318 has no nitrogen critical load but has an effect raster")
	}

	wt, err := ws.Read(ctx, WeightedContainer(Nitrogen, Growth), WeightedName(121))
	if err != nil {
		t.Fatal(err)
	}
	if different(wt.Elements[0], 0.25*wantEffect, 1e-10) {
		t.Errorf("weighted effect = %g", wt.Elements[0])
	}

	agg, err := ws.Read(ctx, AggregateContainer, "percentile_5_growth_n")
	if err != nil {
		t.Fatal(err)
	}
	e122, err := ws.Read(ctx, EffectContainer(Nitrogen, Growth), EffectName(122))
	if err != nil {
		t.Fatal(err)
	}
	vals := []float64{eff.Elements[0], e122.Elements[0]}
	if want := nanPercentile(vals, 5); different(agg.Elements[0], want, 1e-10) {
		t.Errorf("aggregate = %g, want %g", agg.Elements[0], want)
	}
	for _, name := range []string{"dep_percentile_5_survival_s", "wt_percentile_5_growth_s"} {
		if ok, _ := ws.Exists(ctx, AggregateContainer, name); !ok {
			t.Errorf("missing aggregate %s", name)
		}
	}
}

func TestPipelineIdempotent(t *testing.T) {
	ctx := context.Background()
	p, ws := testPipeline(t)
	if _, err := p.Run(ctx, Stages...); err != nil {
		t.Fatal(err)
	}
	before := ws.writeCount()
	results, err := p.Run(ctx, Stages...)
	if err != nil {
		t.Fatal(err)
	}
	if ws.writeCount() != before {
		t.Errorf("second run wrote %d rasters", ws.writeCount()-before)
	}
	for _, r := range results {
		if r.Written != 0 {
			t.Errorf("%s: second run wrote %d rasters", r.Stage, r.Written)
		}
	}
}

func TestPipelineCountMismatch(t *testing.T) {
	p, ws := testPipeline(t)
	p.Config.ExpectedBasalAreaCount = 324
	_, err := p.Run(context.Background(), Stages...)
	var ce *CountError
	if !errors.As(err, &ce) {
		t.Fatalf("error %v should be a *CountError", err)
	}
	if ce.Expected != 324 || ce.Actual != 3 {
		t.Errorf("count error = %+v", ce)
	}
	if ws.writeCount() != 0 {
		t.Errorf("wrote %d rasters after a count mismatch", ws.writeCount())
	}
}

func TestPipelineMisaligned(t *testing.T) {
	ctx := context.Background()
	p, ws := testPipeline(t)
	if err := ws.Write(ctx, DepositionContainer, "n_tw_1719", NewGrid(3, 3, 0, 0, 10, "EPSG:5070")); err != nil {
		t.Fatal(err)
	}
	stages := []Stage{Stages[0], Stages[1], Stages[2], Stages[4]}
	_, err := p.Run(ctx, stages...)
	var me *MisalignedError
	if !errors.As(err, &me) {
		t.Errorf("error %v should be a *MisalignedError", err)
	}
}

func TestPipelineCanceled(t *testing.T) {
	p, ws := testPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Run(ctx, Stages...); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if ws.writeCount() != 0 {
		t.Errorf("wrote %d rasters after cancellation", ws.writeCount())
	}
}

func TestStageByName(t *testing.T) {
	s, err := StageByName("deplevel")
	if err != nil || s.Name != "deplevel" {
		t.Errorf("stage %v, error %v", s.Name, err)
	}
	if _, err := StageByName("convert"); err == nil {
		t.Error("convert is not a stage")
	}
}

func TestPipelineRequireAllSpecies(t *testing.T) {
	ctx := context.Background()
	p, ws := testPipeline(t)
	if _, err := p.Run(ctx, Stages[0], Stages[1]); err != nil {
		t.Fatal(err)
	}
	before := ws.writeCount()
	p.Config.RequireAllSpecies = true
	_, err := p.Run(ctx, Stages[2])
	var ce *CountError
	if !errors.As(err, &ce) {
		t.Fatalf("error %v should be a *CountError", err)
	}
	if ce.Expected != 4 || ce.Actual != 3 {
		t.Errorf("count error = %+v", ce)
	}
	if ws.writeCount() != before {
		t.Errorf("wrote %d proportion rasters for an incomplete species list", ws.writeCount()-before)
	}

	p.Config.Species = []int{121, 122, 318}
	results, err := p.Run(ctx, Stages[2])
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Written != 3 || results[0].Skipped != 0 {
		t.Errorf("proportion result = %+v", results[0])
	}
}

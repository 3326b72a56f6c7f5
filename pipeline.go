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
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/treecl/internal/hash"
	"golang.org/x/sync/errgroup"
)

// Config holds the settings of a Pipeline.
type Config struct {
	// Period is the deposition period suffix, e.g. "1719".
	Period string

	// Elements and Responses are the combinations to calculate.
	Elements  []Element
	Responses []Response

	// Tables holds the species response table for each response
	// variable, keyed by response variable name.
	Tables map[string]*ResponseTable

	// Species lists the codes of the species for which basal-area
	// proportions are calculated. If it is empty, all species with
	// basal-area rasters are used.
	Species []int

	// RequireAllSpecies makes the proportion stage fail with a
	// *CountError, before calculating anything, if any species in Species
	// has no basal-area raster. Otherwise such species are skipped.
	RequireAllSpecies bool

	// ExpectedBasalAreaCount is the number of species basal-area rasters
	// that must be present before the basal-area stages run. Zero
	// disables the check.
	ExpectedBasalAreaCount int

	// Percentile is the percentile (0 to 100) used to aggregate species.
	Percentile float64

	// AggregateSources lists the per-species rasters to aggregate.
	AggregateSources []AggregateSource

	// TileRows is the number of rows aggregated at a time. Zero reads
	// whole rasters.
	TileRows int

	// Workers is the maximum number of rasters computed concurrently.
	// Values less than 1 are treated as 1.
	Workers int
}

// CountError is returned when a container does not hold the expected
// number of input rasters. No outputs are calculated in that case.
type CountError struct {
	What             string
	Expected, Actual int
}

func (e *CountError) Error() string {
	return fmt.Sprintf("treecl: found %d %s; expected %d", e.Actual, e.What, e.Expected)
}

// StageResult summarizes a run of a stage.
type StageResult struct {
	Stage string

	// Written is the number of rasters calculated and stored.
	Written int

	// Existing is the number of rasters that were already present.
	Existing int

	// Skipped is the number of rasters that were not produced, e.g.
	// because of a missing species parameter.
	Skipped int

	Elapsed time.Duration
}

func (r *StageResult) count(s TaskStatus) {
	switch s {
	case TaskWritten:
		r.Written++
	case TaskExisted:
		r.Existing++
	case TaskSkipped:
		r.Skipped++
	}
}

func (r *StageResult) add(o *StageResult) {
	r.Written += o.Written
	r.Existing += o.Existing
	r.Skipped += o.Skipped
}

// A Reporter is notified of pipeline progress.
type Reporter interface {
	ItemDone(stage string, status TaskStatus)
	StageDone(r *StageResult)
}

// Pipeline calculates critical-load rasters in a Workspace.
type Pipeline struct {
	WS     Workspace
	Config *Config
	Log    logrus.FieldLogger

	// Reporter, if not nil, receives progress notifications.
	Reporter Reporter

	runner *TaskRunner
}

// NewPipeline returns a new Pipeline that logs to the standard logrus
// logger.
func NewPipeline(ws Workspace, cfg *Config) *Pipeline {
	return &Pipeline{
		WS:     ws,
		Config: cfg,
		Log:    logrus.StandardLogger(),
		runner: NewTaskRunner(),
	}
}

// A Stage is a step of the pipeline. Every output of a stage is
// calculated by an idempotent task, so a stage can be rerun after an
// interruption without recalculating completed outputs.
type Stage struct {
	Name, Description string
	run               func(p *Pipeline, ctx context.Context, res *StageResult) error
}

// Stages lists the stages of the pipeline in the order they must run.
var Stages = []Stage{
	{Name: "nullzero", Description: "set zero basal area to no-data", run: (*Pipeline).nullZero},
	{Name: "natlsum", Description: "sum basal area of all species", run: (*Pipeline).nationalSum},
	{Name: "proportion", Description: "calculate species proportions of basal area", run: (*Pipeline).proportion},
	{Name: "exceedance", Description: "find where deposition exceeds species critical loads", run: (*Pipeline).exceedance},
	{Name: "effect", Description: "calculate species growth and survival effects", run: (*Pipeline).effect},
	{Name: "deplevel", Description: "calculate deposition levels for a reduction in growth and survival", run: (*Pipeline).depositionLevel},
	{Name: "weight", Description: "weight species effects by basal-area proportion", run: (*Pipeline).weight},
	{Name: "aggregate", Description: "calculate percentiles across species", run: (*Pipeline).aggregate},
}

// StageByName returns the stage with the given name.
func StageByName(name string) (Stage, error) {
	for _, s := range Stages {
		if s.Name == name {
			return s, nil
		}
	}
	return Stage{}, fmt.Errorf("treecl: invalid stage %q", name)
}

// Run runs the given stages in order, stopping at the first error.
func (p *Pipeline) Run(ctx context.Context, stages ...Stage) ([]*StageResult, error) {
	var results []*StageResult
	for _, s := range stages {
		r, err := p.RunStage(ctx, s)
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}

// RunStage runs a single stage.
func (p *Pipeline) RunStage(ctx context.Context, s Stage) (*StageResult, error) {
	if p.runner == nil {
		p.runner = NewTaskRunner()
	}
	log := p.Log.WithField("stage", s.Name)
	log.Infof("starting: %s", s.Description)
	start := time.Now()
	res := &StageResult{Stage: s.Name}
	err := s.run(p, ctx, res)
	res.Elapsed = time.Since(start)
	if err != nil {
		log.WithError(err).Errorf("failed after %v", res.Elapsed)
		return res, fmt.Errorf("treecl: stage %s: %w", s.Name, err)
	}
	log.WithFields(logrus.Fields{
		"written":  res.Written,
		"existing": res.Existing,
		"skipped":  res.Skipped,
	}).Infof("finished in %v", res.Elapsed)
	if p.Reporter != nil {
		p.Reporter.StageDone(res)
	}
	return res, nil
}

// item is a single output raster of a stage.
type item struct {
	container, name string
	fields          logrus.Fields
	compute         func(context.Context) (*Grid, error)
}

// runItems runs items concurrently on up to Config.Workers workers and
// counts their outcomes in res. The first fatal error cancels the
// remaining items.
func (p *Pipeline) runItems(ctx context.Context, stage string, items []item, res *StageResult) error {
	workers := p.Config.Workers
	if workers < 1 {
		workers = 1
	}
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	var mu sync.Mutex
	for _, it := range items {
		if egCtx.Err() != nil {
			break
		}
		it := it
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			status, err := p.runner.Do(egCtx, p.WS, it.container, it.name, it.compute)
			log := p.Log.WithFields(it.fields).WithFields(logrus.Fields{
				"stage":  stage,
				"raster": it.container + "/" + it.name,
			})
			var skip *SkipError
			switch {
			case errors.As(err, &skip):
				log.WithField("reason", skip.Reason).Info("skipped")
			case err != nil:
				return err
			case status == TaskExisted:
				log.Info("exists")
			default:
				log.Info("saved")
			}
			mu.Lock()
			res.count(status)
			mu.Unlock()
			if p.Reporter != nil {
				p.Reporter.ItemDone(stage, status)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// lazyGrid reads a raster the first time it is needed and shares it
// between items.
type lazyGrid struct {
	once            sync.Once
	ws              Workspace
	container, name string
	g               *Grid
	err             error
}

func (p *Pipeline) lazy(container, name string) *lazyGrid {
	return &lazyGrid{ws: p.WS, container: container, name: name}
}

func (l *lazyGrid) get(ctx context.Context) (*Grid, error) {
	l.once.Do(func() {
		l.g, l.err = l.ws.Read(ctx, l.container, l.name)
		if l.err != nil {
			l.err = fmt.Errorf("reading %s/%s: %w", l.container, l.name, l.err)
		}
	})
	return l.g, l.err
}

// readOrSkip reads a raster, returning a *SkipError if it does not exist.
func (p *Pipeline) readOrSkip(ctx context.Context, container, name string) (*Grid, error) {
	g, err := p.WS.Read(ctx, container, name)
	if errors.Is(err, ErrNotExist) {
		return nil, skipf("%s/%s does not exist", container, name)
	} else if err != nil {
		return nil, fmt.Errorf("reading %s/%s: %w", container, name, err)
	}
	return g, nil
}

// basalAreaNames lists the species basal-area rasters in container and
// checks their number against Config.ExpectedBasalAreaCount.
func (p *Pipeline) basalAreaNames(ctx context.Context, container string) ([]string, error) {
	names, err := p.WS.List(ctx, container, BasalAreaPattern)
	if err != nil {
		return nil, err
	}
	var species []string
	for _, n := range names {
		if _, err := ParseSpeciesCode(n); err == nil && n != NationalSumName {
			species = append(species, n)
		}
	}
	if want := p.Config.ExpectedBasalAreaCount; want > 0 && len(species) != want {
		return nil, &CountError{
			What:     "basal-area rasters in " + container,
			Expected: want,
			Actual:   len(species),
		}
	}
	return species, nil
}

func (p *Pipeline) nullZero(ctx context.Context, res *StageResult) error {
	names, err := p.basalAreaNames(ctx, BasalAreaContainer)
	if err != nil {
		return err
	}
	if err := p.WS.CreateContainer(ctx, BasalAreaNullContainer); err != nil {
		return err
	}
	items := make([]item, len(names))
	for i, name := range names {
		name := name
		items[i] = item{
			container: BasalAreaNullContainer,
			name:      name,
			compute: func(ctx context.Context) (*Grid, error) {
				g, err := p.WS.Read(ctx, BasalAreaContainer, name)
				if err != nil {
					return nil, err
				}
				return SetNull(g, func(v float64) bool { return v == 0 }), nil
			},
		}
	}
	return p.runItems(ctx, "nullzero", items, res)
}

func (p *Pipeline) nationalSum(ctx context.Context, res *StageResult) error {
	names, err := p.basalAreaNames(ctx, BasalAreaNullContainer)
	if err != nil {
		return err
	}
	it := item{
		container: BasalAreaNullContainer,
		name:      NationalSumName,
		fields:    logrus.Fields{"species": len(names)},
		compute: func(ctx context.Context) (*Grid, error) {
			if len(names) == 0 {
				return nil, skipf("no basal-area rasters in %s", BasalAreaNullContainer)
			}
			var sum *Grid
			for _, name := range names {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				g, err := p.WS.Read(ctx, BasalAreaNullContainer, name)
				if err != nil {
					return nil, err
				}
				if sum == nil {
					sum = g.Like()
				} else if err := CheckAligned(sum, g); err != nil {
					return nil, fmt.Errorf("%s: %w", name, err)
				}
				accumulate(sum, g)
			}
			return sum, nil
		},
	}
	return p.runItems(ctx, "natlsum", []item{it}, res)
}

func (p *Pipeline) proportion(ctx context.Context, res *StageResult) error {
	names, err := p.basalAreaNames(ctx, BasalAreaNullContainer)
	if err != nil {
		return err
	}
	codes := p.Config.Species
	if len(codes) == 0 {
		for _, n := range names {
			c, _ := ParseSpeciesCode(n)
			codes = append(codes, c)
		}
	}
	if p.Config.RequireAllSpecies {
		have := make(map[string]bool, len(names))
		for _, n := range names {
			have[n] = true
		}
		found := 0
		for _, code := range codes {
			if have[BasalAreaName(code)] {
				found++
			}
		}
		if found != len(codes) {
			return &CountError{
				What:     "configured species with basal-area rasters",
				Expected: len(codes),
				Actual:   found,
			}
		}
	}
	if err := p.WS.CreateContainer(ctx, ProportionContainer); err != nil {
		return err
	}
	natl := p.lazy(BasalAreaNullContainer, NationalSumName)
	items := make([]item, len(codes))
	for i, code := range codes {
		code := code
		items[i] = item{
			container: ProportionContainer,
			name:      ProportionName(code),
			fields:    logrus.Fields{"species": code},
			compute: func(ctx context.Context) (*Grid, error) {
				ba, err := p.readOrSkip(ctx, BasalAreaNullContainer, BasalAreaName(code))
				if err != nil {
					return nil, err
				}
				total, err := natl.get(ctx)
				if err != nil {
					return nil, err
				}
				return Divide(ba, total)
			},
		}
	}
	gr := new(StageResult)
	if err := p.runItems(ctx, "proportion", items, gr); err != nil {
		return err
	}
	p.logCompleteness("proportion", logrus.Fields{}, gr, len(codes))
	res.add(gr)
	return nil
}

// logCompleteness reports the number of species processed in a group
// compared with the number expected.
func (p *Pipeline) logCompleteness(stage string, fields logrus.Fields, gr *StageResult, expected int) {
	done := gr.Written + gr.Existing
	log := p.Log.WithFields(fields).WithFields(logrus.Fields{
		"stage":    stage,
		"species":  done,
		"expected": expected,
		"skipped":  gr.Skipped,
	})
	if done != expected {
		log.Warnf("only %d of %d species processed", done, expected)
	} else {
		log.Infof("all %d species processed", done)
	}
}

// speciesCalc calculates an output raster for a species from a
// deposition grid and a basal-area proportion grid.
type speciesCalc func(d, b *Grid, p ElementParams, r Response) (*Grid, error)

// speciesStage runs calc for every species proportion raster and every
// combination of element and response variable.
func (p *Pipeline) speciesStage(ctx context.Context, stage string, res *StageResult,
	container func(e Element, r Response) string, name func(code int, e Element, r Response) string, calc speciesCalc) error {

	props, err := p.WS.List(ctx, ProportionContainer, "s*_proportion")
	if err != nil {
		return err
	}
	for _, e := range p.Config.Elements {
		dep := p.lazy(DepositionContainer, DepositionName(e, p.Config.Period))
		for _, r := range p.Config.Responses {
			table, ok := p.Config.Tables[r.Name]
			if !ok {
				return fmt.Errorf("no species table for response variable %s", r.Name)
			}
			c := container(e, r)
			if err := p.WS.CreateContainer(ctx, c); err != nil {
				return err
			}
			group := logrus.Fields{"element": e, "response": r.Name}
			var items []item
			for _, propName := range props {
				code, err := ParseSpeciesCode(propName)
				if err != nil {
					p.Log.WithField("raster", propName).Warn("ignoring raster without species code")
					continue
				}
				propName := propName
				row, ok := table.Row(code)
				fields := logrus.Fields{"species": code, "element": e, "response": r.Name}
				if ok {
					fields["params"] = hash.Hash(row.Element(e))
				}
				e, r := e, r
				items = append(items, item{
					container: c,
					name:      name(code, e, r),
					fields:    fields,
					compute: func(ctx context.Context) (*Grid, error) {
						if !ok {
							return nil, skipf("species %d is not in the %s table", code, r.Name)
						}
						d, err := dep.get(ctx)
						if err != nil {
							return nil, err
						}
						b, err := p.WS.Read(ctx, ProportionContainer, propName)
						if err != nil {
							return nil, err
						}
						return calc(d, b, row.Element(e), r)
					},
				})
			}
			gr := new(StageResult)
			if err := p.runItems(ctx, stage, items, gr); err != nil {
				return err
			}
			p.logCompleteness(stage, group, gr, len(items))
			res.add(gr)
		}
	}
	return nil
}

func (p *Pipeline) exceedance(ctx context.Context, res *StageResult) error {
	period := p.Config.Period
	return p.speciesStage(ctx, "exceedance", res,
		func(e Element, _ Response) string { return ExceedanceContainer(e, period) },
		func(code int, e Element, r Response) string { return ExceedanceName(code, e, r, period) },
		func(d, b *Grid, params ElementParams, _ Response) (*Grid, error) { return Exceedance(d, b, params) },
	)
}

func (p *Pipeline) effect(ctx context.Context, res *StageResult) error {
	return p.speciesStage(ctx, "effect", res,
		EffectContainer,
		func(code int, _ Element, _ Response) string { return EffectName(code) },
		Effect,
	)
}

func (p *Pipeline) depositionLevel(ctx context.Context, res *StageResult) error {
	return p.speciesStage(ctx, "deplevel", res, DepositionLevelContainer, DepositionLevelName, DepositionLevel)
}

func (p *Pipeline) weight(ctx context.Context, res *StageResult) error {
	for _, e := range p.Config.Elements {
		for _, r := range p.Config.Responses {
			src := EffectContainer(e, r)
			names, err := p.WS.List(ctx, src, EffectSource.Pattern())
			if err != nil {
				return err
			}
			dst := WeightedContainer(e, r)
			if err := p.WS.CreateContainer(ctx, dst); err != nil {
				return err
			}
			var items []item
			for _, name := range names {
				code, err := ParseSpeciesCode(name)
				if err != nil {
					p.Log.WithField("raster", src+"/"+name).Warn("ignoring raster without species code")
					continue
				}
				name := name
				items = append(items, item{
					container: dst,
					name:      WeightedName(code),
					fields:    logrus.Fields{"species": code, "element": e, "response": r.Name},
					compute: func(ctx context.Context) (*Grid, error) {
						b, err := p.readOrSkip(ctx, ProportionContainer, ProportionName(code))
						if err != nil {
							return nil, err
						}
						eff, err := p.WS.Read(ctx, src, name)
						if err != nil {
							return nil, err
						}
						return WeightByBasalArea(b, eff)
					},
				})
			}
			gr := new(StageResult)
			if err := p.runItems(ctx, "weight", items, gr); err != nil {
				return err
			}
			p.logCompleteness("weight", logrus.Fields{"element": e, "response": r.Name}, gr, len(items))
			res.add(gr)
		}
	}
	return nil
}

func (p *Pipeline) aggregate(ctx context.Context, res *StageResult) error {
	if err := p.WS.CreateContainer(ctx, AggregateContainer); err != nil {
		return err
	}
	pct := p.Config.Percentile
	var items []item
	for _, src := range p.Config.AggregateSources {
		for _, e := range p.Config.Elements {
			for _, r := range p.Config.Responses {
				container := src.Container(e, r)
				names, err := p.WS.List(ctx, container, src.Pattern())
				if err != nil {
					return err
				}
				items = append(items, item{
					container: AggregateContainer,
					name:      src.PercentileName(pct, e, r),
					fields: logrus.Fields{
						"source":   src,
						"element":  e,
						"response": r.Name,
						"species":  len(names),
					},
					compute: func(ctx context.Context) (*Grid, error) {
						if len(names) == 0 {
							return nil, skipf("no species rasters in %s", container)
						}
						return p.percentile(ctx, container, names, pct)
					},
				})
			}
		}
	}
	return p.runItems(ctx, "aggregate", items, res)
}

// percentile aggregates the named rasters, tiling if Config.TileRows is
// set.
func (p *Pipeline) percentile(ctx context.Context, container string, names []string, pct float64) (*Grid, error) {
	if p.Config.TileRows > 0 {
		return TiledPercentile(ctx, p.WS, container, names, pct, p.Config.TileRows)
	}
	grids := make([]*Grid, len(names))
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		g, err := p.WS.Read(ctx, container, name)
		if err != nil {
			return nil, fmt.Errorf("reading %s/%s: %w", container, name, err)
		}
		grids[i] = g
	}
	return Percentile(grids, pct)
}

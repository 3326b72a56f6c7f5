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
	"bytes"
	"context"
	"errors"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/treecl"
	"github.com/spatialmodel/treecl/storage"
)

const tableCSV = `spp_code,n1,n2,min_n,max_n,ndep_max,s1,s2,min_s,max_s,sdep_max
121,12.0,0.5,5,20,20,,,,,
122.0,8,1.2,2,30,,NA,,,,
318,,,,,,4,0.9,1,15,9
`

func discardLogger() *logrus.Logger {
	log := logrus.New()
	log.Out = ioutil.Discard
	return log
}

func testGrid(vals ...float64) *treecl.Grid {
	g := treecl.NewGrid(2, 2, 100, 200, 10, "EPSG:5070")
	copy(g.Elements, vals)
	return g
}

// setupWorkspace creates a workspace directory holding basal-area
// rasters for three species and nitrogen and sulfur deposition, along
// with a species table, and configures Cfg to use them.
func setupWorkspace(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	url := "file://" + filepath.ToSlash(filepath.Join(dir, "ws"))
	ws, err := storage.OpenWorkspace(ctx, url)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()
	for name, g := range map[string]*treecl.Grid{
		"s121": testGrid(1, 0, 2, 0),
		"s122": testGrid(1, 1, 0, 0),
		"s318": testGrid(2, 0, 0, 0),
	} {
		if err := ws.Write(ctx, treecl.BasalAreaContainer, name, g); err != nil {
			t.Fatal(err)
		}
	}
	if err := ws.Write(ctx, treecl.DepositionContainer, "n_tw_1719", testGrid().Fill(18)); err != nil {
		t.Fatal(err)
	}
	if err := ws.Write(ctx, treecl.DepositionContainer, "s_tw_1719", testGrid().Fill(6)); err != nil {
		t.Fatal(err)
	}
	table := filepath.Join(dir, "params.csv")
	if err := ioutil.WriteFile(table, []byte(tableCSV), 0644); err != nil {
		t.Fatal(err)
	}

	Cfg.Set("Workspace", url)
	Cfg.Set("GrowthTable", table)
	Cfg.Set("SurvivalTable", table)
	Cfg.Set("Species", []int{121, 122, 318, 999})
	Cfg.Set("ExpectedBasalAreaCount", 3)
	Cfg.Set("RequireAllSpecies", false)
	Cfg.Set("AggregateSources", []string{"effect", "deplevel", "weighted"})
	Cfg.Set("TileRows", 1)
	Cfg.Set("Workers", 2)
	Cfg.Set("LogFile", filepath.Join(dir, "treecl.log"))
	Cfg.Set("LogLevel", "warning")
	return url
}

func TestRunAll(t *testing.T) {
	url := setupWorkspace(t)
	out := new(bytes.Buffer)
	Root.SetOut(out)
	Root.SetArgs([]string{"run", "all"})
	if err := Root.Execute(); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"nullzero    3",
		"proportion  3",
		"aggregate   12",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output does not contain %q:\n%s", want, out.String())
		}
	}

	ctx := context.Background()
	ws, err := storage.OpenWorkspace(ctx, url)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()
	names, err := ws.List(ctx, treecl.AggregateContainer, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 12 {
		t.Errorf("aggregate rasters = %v", names)
	}

	// Running again does not recalculate anything.
	results, err := Run(ctx, discardLogger(), treecl.Stages...)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if r.Written != 0 {
			t.Errorf("%s: wrote %d rasters on the second run", r.Stage, r.Written)
		}
	}
}

func TestRunStage(t *testing.T) {
	setupWorkspace(t)
	out := new(bytes.Buffer)
	Root.SetOut(out)
	Root.SetArgs([]string{"run", "nullzero"})
	if err := Root.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "nullzero  3") {
		t.Errorf("output:\n%s", out.String())
	}

	Cfg.Set("ExpectedBasalAreaCount", 324)
	defer Cfg.Set("ExpectedBasalAreaCount", 3)
	Root.SetArgs([]string{"run", "natlsum"})
	err := Root.Execute()
	var ce *treecl.CountError
	if !errors.As(err, &ce) || ce.Actual != 3 {
		t.Errorf("error %v should be a count mismatch", err)
	}
}

func TestDescribe(t *testing.T) {
	setupWorkspace(t)
	out := new(bytes.Buffer)
	Root.SetOut(out)
	Root.SetArgs([]string{"describe", treecl.BasalAreaContainer, "s121"})
	if err := Root.Execute(); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"rows:", "bounds:", "(100, 200) to (120, 220)", "EPSG:5070", "valid=4"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output does not contain %q:\n%s", want, out.String())
		}
	}
}

func TestPreview(t *testing.T) {
	setupWorkspace(t)
	f := filepath.Join(t.TempDir(), "s121.png")
	Root.SetArgs([]string{"preview", treecl.BasalAreaContainer, "s121", f, "--PreviewSize=200"})
	if err := Root.Execute(); err != nil {
		t.Fatal(err)
	}
	b, err := ioutil.ReadFile(f)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(b, []byte("\x89PNG")) {
		t.Error("preview is not a PNG image")
	}

	if err := Preview(ioutil.Discard, testGrid(), "empty", 200); err == nil {
		t.Error("previewing a raster without data should fail")
	}
}

func TestVersion(t *testing.T) {
	out := new(bytes.Buffer)
	Root.SetOut(out)
	Root.SetArgs([]string{"version"})
	if err := Root.Execute(); err != nil {
		t.Fatal(err)
	}
	if want := "treecl v" + treecl.Version; !strings.Contains(out.String(), want) {
		t.Errorf("output %q does not contain %q", out.String(), want)
	}
}

func TestLogFile(t *testing.T) {
	setupWorkspace(t)
	f := filepath.Join(t.TempDir(), "test.log")
	Cfg.Set("LogFile", f)
	Cfg.Set("LogLevel", "info")
	defer Cfg.Set("LogLevel", "warning")
	out := new(bytes.Buffer)
	log, c, err := NewLogger(out)
	if err != nil {
		t.Fatal(err)
	}
	log.WithField("stage", "effect").Info("saved")
	c.Close()
	b, err := ioutil.ReadFile(f)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "stage=effect") || !strings.Contains(out.String(), "stage=effect") {
		t.Errorf("log file %q and output %q should both hold the message", b, out.String())
	}

	Cfg.Set("LogLevel", "loud")
	if _, _, err := NewLogger(out); err == nil {
		t.Error("invalid log level should fail")
	}
}

func TestRunRequireAllSpecies(t *testing.T) {
	setupWorkspace(t)
	ctx := context.Background()
	if _, err := Run(ctx, discardLogger(), treecl.Stages[0], treecl.Stages[1]); err != nil {
		t.Fatal(err)
	}
	Cfg.Set("RequireAllSpecies", true)
	defer Cfg.Set("RequireAllSpecies", false)
	_, err := Run(ctx, discardLogger(), treecl.Stages[2])
	var ce *treecl.CountError
	if !errors.As(err, &ce) || ce.Expected != 4 || ce.Actual != 3 {
		t.Errorf("error %v should be a species count mismatch", err)
	}
}

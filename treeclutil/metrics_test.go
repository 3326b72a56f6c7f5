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
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spatialmodel/treecl"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()
	m.ItemDone("effect", treecl.TaskWritten)
	m.ItemDone("effect", treecl.TaskWritten)
	m.ItemDone("effect", treecl.TaskSkipped)
	m.StageDone(&treecl.StageResult{Stage: "effect", Written: 2, Skipped: 1, Elapsed: 3 * time.Second})

	if v := testutil.ToFloat64(m.items.WithLabelValues("effect", "written")); v != 2 {
		t.Errorf("written = %g", v)
	}
	if v := testutil.ToFloat64(m.items.WithLabelValues("effect", "skipped")); v != 1 {
		t.Errorf("skipped = %g", v)
	}
	if v := testutil.ToFloat64(m.stageSeconds.WithLabelValues("effect")); v != 3 {
		t.Errorf("stage duration = %g", v)
	}
	if v := testutil.ToFloat64(m.stages); v != 1 {
		t.Errorf("stages = %g", v)
	}

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if want := `treecl_pipeline_rasters_total{stage="effect",status="written"} 2`; !strings.Contains(string(b), want) {
		t.Errorf("metrics do not contain %q", want)
	}
}

func TestMetricsServe(t *testing.T) {
	m := NewMetrics()
	srv, err := m.Serve("127.0.0.1:0", discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	srv.Close()
	if _, err := m.Serve("not an address", discardLogger()); err == nil {
		t.Error("invalid address should fail")
	}
}

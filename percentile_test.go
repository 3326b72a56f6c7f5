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
	"math"
	"testing"
)

func TestNanPercentile(t *testing.T) {
	tests := []struct {
		vals []float64
		p    float64
		want float64
	}{
		{vals: nil, p: 5, want: nan},
		{vals: []float64{3}, p: 5, want: 3},
		{vals: []float64{1, 2}, p: 5, want: 1.05},
		{vals: []float64{4, 1, 3, 2}, p: 50, want: 2.5},
		{vals: []float64{1, 2, 3, 4, 5}, p: 0, want: 1},
		{vals: []float64{1, 2, 3, 4, 5}, p: 100, want: 5},
		{vals: []float64{10, 20, 30}, p: 5, want: 11},
		{vals: []float64{10, 20, 30}, p: 90, want: 28},
	}
	for _, test := range tests {
		got := nanPercentile(append([]float64(nil), test.vals...), test.p)
		if math.IsNaN(test.want) {
			if !math.IsNaN(got) {
				t.Errorf("%v p%g = %g, want NaN", test.vals, test.p, got)
			}
			continue
		}
		if different(got, test.want, 1e-12) {
			t.Errorf("%v p%g = %g, want %g", test.vals, test.p, got, test.want)
		}
	}
}

// percentileStack returns three grids with one no-data cell each, at
// different positions, and a cell that is no-data in all of them.
func percentileStack() []*Grid {
	return []*Grid{
		testGrid(2, 3, nan, 4, 7, 1, 2, nan),
		testGrid(2, 3, 2, nan, 8, 1, 5, nan),
		testGrid(2, 3, 3, 6, nan, 4, 8, nan),
	}
}

// percentileStackWant holds the 5th percentiles of percentileStack,
// calculated by hand as numpy.nanpercentile does.
var percentileStackWant = []float64{
	2 + 0.05*(3-2), // [2, 3]
	4 + 0.05*(6-4), // [4, 6]
	7 + 0.05*(8-7), // [7, 8]
	1 + 0.1*(1-1),  // [1, 1, 4]
	2 + 0.1*(5-2),  // [2, 5, 8]
	nan,
}

func TestPercentile(t *testing.T) {
	grids := percentileStack()
	before := make([][]float64, len(grids))
	for k, g := range grids {
		before[k] = append([]float64(nil), g.Elements...)
	}
	o, err := Percentile(grids, 5)
	if err != nil {
		t.Fatal(err)
	}
	checkPercentile(t, o.Elements)
	for k, g := range grids {
		if !sameCells(g.Elements, before[k]) {
			t.Errorf("input grid %d changed to %v", k, g.Elements)
		}
	}
	if o.X0 != 100 || o.Y0 != 200 || o.CellSize != 10 || o.SR != "EPSG:5070" {
		t.Errorf("geometry = %+v", o.Info())
	}
}

func checkPercentile(t *testing.T, got []float64) {
	t.Helper()
	for i, want := range percentileStackWant {
		if math.IsNaN(want) {
			if !IsNull(got[i]) {
				t.Errorf("cell %d = %g, want no-data", i, got[i])
			}
			continue
		}
		if different(got[i], want, 1e-12) && got[i] != want {
			t.Errorf("cell %d = %g, want %g", i, got[i], want)
		}
	}
}

func TestPercentileErrors(t *testing.T) {
	if _, err := Percentile(nil, 5); err == nil {
		t.Error("no grids should fail")
	}
	if _, err := Percentile(percentileStack(), 101); err == nil {
		t.Error("percentile 101 should fail")
	}
	grids := append(percentileStack(), NewGrid(2, 3, 0, 0, 10, "EPSG:5070"))
	var me *MisalignedError
	if _, err := Percentile(grids, 5); !errors.As(err, &me) {
		t.Errorf("error %v should be a *MisalignedError", err)
	}
}

func TestTiledPercentile(t *testing.T) {
	ctx := context.Background()
	ws := newMemWorkspace()
	names := []string{"s1_proportion_effect", "s2_proportion_effect", "s3_proportion_effect"}
	for i, g := range percentileStack() {
		if err := ws.Write(ctx, "effects", names[i], g); err != nil {
			t.Fatal(err)
		}
	}
	for _, rows := range []int{1, 2, 5} {
		o, err := TiledPercentile(ctx, ws, "effects", names, 5, rows)
		if err != nil {
			t.Fatal(err)
		}
		checkPercentile(t, o.Elements)
		if o.Y0 != 200 {
			t.Errorf("tile rows %d: y0 = %g", rows, o.Y0)
		}
	}

	// The same results without window reads.
	o, err := TiledPercentile(ctx, wholeReader{ws}, "effects", names, 5, 1)
	if err != nil {
		t.Fatal(err)
	}
	checkPercentile(t, o.Elements)
}

func TestTiledPercentileCanceled(t *testing.T) {
	ws := newMemWorkspace()
	ctx := context.Background()
	if err := ws.Write(ctx, "c", "s1", testGrid(2, 1, 1, 2)); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := TiledPercentile(ctx, ws, "c", []string{"s1"}, 5, 1); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

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
	"math"
	"sort"
)

// Percentile returns a grid where each cell holds the p-th percentile
// (0 <= p <= 100) of the values of that cell across grids. Only grids
// with data at a cell are considered; a cell with no data in any of the
// grids is no-data. Percentiles are interpolated linearly between the
// closest ranks. All grids must be aligned, and the result has their
// geometry.
func Percentile(grids []*Grid, p float64) (*Grid, error) {
	if len(grids) == 0 {
		return nil, errors.New("treecl: Percentile requires at least one grid")
	}
	if p < 0 || p > 100 || math.IsNaN(p) {
		return nil, fmt.Errorf("treecl: percentile %g out of range [0, 100]", p)
	}
	for k, g := range grids {
		if g == nil {
			return nil, fmt.Errorf("treecl: Percentile: grid %d is nil", k)
		}
	}
	if err := CheckAligned(grids...); err != nil {
		return nil, err
	}
	n := len(grids[0].Elements)

	o := grids[0].Like()
	vals := make([]float64, 0, len(grids))
	for i := 0; i < n; i++ {
		vals = vals[:0]
		for _, g := range grids {
			if v := g.Elements[i]; !IsNull(v) {
				vals = append(vals, v)
			}
		}
		o.Elements[i] = nanPercentile(vals, p)
	}
	return o, nil
}

// nanPercentile returns the p-th percentile of vals, which must not
// contain NaN, using linear interpolation between the closest ranks.
// The order of vals is modified. NaN is returned if vals is empty.
func nanPercentile(vals []float64, p float64) float64 {
	switch len(vals) {
	case 0:
		return math.NaN()
	case 1:
		return vals[0]
	}
	sort.Float64s(vals)
	rank := p / 100 * float64(len(vals)-1)
	lo := math.Floor(rank)
	hi := math.Ceil(rank)
	a, b := vals[int(lo)], vals[int(hi)]
	t := rank - lo
	// Interpolate from the nearer end point to minimize rounding error.
	if t >= 0.5 {
		return b - (b-a)*(1-t)
	}
	return a + (b-a)*t
}

// TiledPercentile calculates the same result as Percentile for the named
// rasters in container, but reads and aggregates the rasters in bands of
// tileRows rows, so that only one band of each raster is held in memory
// at a time. If ws does not implement WindowReader, whole rasters are
// read and windowed in memory instead. ctx is checked between bands.
func TiledPercentile(ctx context.Context, ws Workspace, container string, names []string, p float64, tileRows int) (*Grid, error) {
	if len(names) == 0 {
		return nil, errors.New("treecl: TiledPercentile requires at least one raster")
	}
	if tileRows <= 0 {
		return nil, fmt.Errorf("treecl: invalid tile size %d rows", tileRows)
	}
	wr, ok := ws.(WindowReader)
	if !ok {
		wr = &memWindowReader{ws: ws}
	}

	infos := make([]GridInfo, len(names))
	var ragged []string
	for i, name := range names {
		info, err := wr.Info(ctx, container, name)
		if err != nil {
			return nil, fmt.Errorf("treecl: reading geometry of %s/%s: %w", container, name, err)
		}
		infos[i] = info
		if info.Ny != infos[0].Ny {
			ragged = append(ragged, fmt.Sprintf("%s rows %d != %d", name, info.Ny, infos[0].Ny))
		}
	}
	if len(ragged) > 0 {
		return nil, &MisalignedError{Dims: ragged}
	}
	ref := infos[0]
	o := NewGrid(ref.Ny, ref.Nx, ref.X0, ref.Y0, ref.CellSize, ref.SR)

	for row0 := 0; row0 < ref.Ny; row0 += tileRows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row1 := row0 + tileRows
		if row1 > ref.Ny {
			row1 = ref.Ny
		}
		tiles := make([]*Grid, len(names))
		for i, name := range names {
			w, err := wr.ReadWindow(ctx, container, name, row0, row1)
			if err != nil {
				return nil, fmt.Errorf("treecl: reading rows [%d, %d) of %s/%s: %w", row0, row1, container, name, err)
			}
			tiles[i] = w
		}
		pt, err := Percentile(tiles, p)
		if err != nil {
			return nil, err
		}
		copy(o.Elements[row0*ref.Nx:row1*ref.Nx], pt.Elements)
	}
	return o, nil
}

// memWindowReader implements WindowReader for workspaces that can only
// read whole rasters. It keeps each raster it has read.
type memWindowReader struct {
	ws    Workspace
	grids map[string]*Grid
}

func (m *memWindowReader) grid(ctx context.Context, container, name string) (*Grid, error) {
	key := container + "/" + name
	if g, ok := m.grids[key]; ok {
		return g, nil
	}
	g, err := m.ws.Read(ctx, container, name)
	if err != nil {
		return nil, err
	}
	if m.grids == nil {
		m.grids = make(map[string]*Grid)
	}
	m.grids[key] = g
	return g, nil
}

func (m *memWindowReader) Info(ctx context.Context, container, name string) (GridInfo, error) {
	g, err := m.grid(ctx, container, name)
	if err != nil {
		return GridInfo{}, err
	}
	return g.Info(), nil
}

func (m *memWindowReader) ReadWindow(ctx context.Context, container, name string, row0, row1 int) (*Grid, error) {
	g, err := m.grid(ctx, container, name)
	if err != nil {
		return nil, err
	}
	return g.Window(row0, row1)
}

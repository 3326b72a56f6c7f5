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

package storage

import (
	"fmt"
	"io"
	"math"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
	"github.com/spatialmodel/treecl"
)

// DataVersion is the version of the raster file format. Files with a
// different version cannot be read.
const DataVersion = "1.0.0"

// valueVar is the name of the NetCDF variable holding cell values.
const valueVar = "value"

// EncodeGrid returns g in NetCDF format. No-data cells are stored as NaN,
// which is also recorded as the _FillValue of the value variable.
func EncodeGrid(g *treecl.Grid) ([]byte, error) {
	if g.Ny() == 0 || g.Nx() == 0 {
		return nil, fmt.Errorf("storage: cannot encode an empty %dx%d raster", g.Ny(), g.Nx())
	}
	h := cdf.NewHeader([]string{"y", "x"}, []int{g.Ny(), g.Nx()})
	h.AddAttribute("", "comment", "treecl raster")
	h.AddAttribute("", "data_version", DataVersion)
	h.AddAttribute("", "x0", []float64{g.X0})
	h.AddAttribute("", "y0", []float64{g.Y0})
	h.AddAttribute("", "cellsize", []float64{g.CellSize})
	if g.SR != "" {
		h.AddAttribute("", "sr", g.SR)
	}
	h.AddVariable(valueVar, []string{"y", "x"}, []float64{0})
	h.AddAttribute(valueVar, "_FillValue", []float64{math.NaN()})
	h.Define()

	buf := new(rwBuffer)
	f, err := cdf.Create(buf, h)
	if err != nil {
		return nil, fmt.Errorf("storage: creating netcdf header: %w", err)
	}
	// The writer reports io.EOF once it reaches the end of the variable.
	if n, err := f.Writer(valueVar, nil, nil).Write(g.Elements); err != nil && !(err == io.EOF && n == len(g.Elements)) {
		return nil, fmt.Errorf("storage: writing netcdf values: %w", err)
	}
	return buf.b, nil
}

// openGrid opens a NetCDF raster and reads its geometry.
func openGrid(rw cdf.ReaderWriterAt) (*cdf.File, treecl.GridInfo, error) {
	f, err := cdf.Open(rw)
	if err != nil {
		return nil, treecl.GridInfo{}, fmt.Errorf("storage: opening netcdf raster: %w", err)
	}
	if v, ok := f.Header.GetAttribute("", "data_version").(string); !ok || v != DataVersion {
		return nil, treecl.GridInfo{}, fmt.Errorf("storage: raster data version %q is incompatible with the required version %s", v, DataVersion)
	}
	var info treecl.GridInfo
	for _, a := range []struct {
		name string
		v    *float64
	}{{"x0", &info.X0}, {"y0", &info.Y0}, {"cellsize", &info.CellSize}} {
		vals, ok := f.Header.GetAttribute("", a.name).([]float64)
		if !ok || len(vals) != 1 {
			return nil, treecl.GridInfo{}, fmt.Errorf("storage: raster is missing attribute %s", a.name)
		}
		*a.v = vals[0]
	}
	info.SR, _ = f.Header.GetAttribute("", "sr").(string)
	dims := f.Header.Lengths(valueVar)
	if len(dims) != 2 {
		return nil, treecl.GridInfo{}, fmt.Errorf("storage: raster value variable has %d dimensions; expected 2", len(dims))
	}
	info.Ny, info.Nx = dims[0], dims[1]
	return f, info, nil
}

// readRows reads rows [row0, row1) of the value variable in f into a grid.
// Values equal to a non-NaN _FillValue are converted to no-data.
func readRows(f *cdf.File, info treecl.GridInfo, row0, row1 int) (*treecl.Grid, error) {
	if row0 < 0 || row1 > info.Ny || row0 >= row1 {
		return nil, fmt.Errorf("storage: invalid rows [%d, %d) for raster with %d rows", row0, row1, info.Ny)
	}
	g := &treecl.Grid{
		DenseArray: sparse.ZerosDense(row1-row0, info.Nx),
		X0:         info.X0,
		Y0:         info.Y0 + float64(info.Ny-row1)*info.CellSize,
		CellSize:   info.CellSize,
		SR:         info.SR,
	}
	r := f.Reader(valueVar, []int{row0, 0}, []int{row1 - 1, info.Nx - 1})
	if n, err := r.Read(g.Elements); err != nil && !(err == io.EOF && n == len(g.Elements)) {
		return nil, fmt.Errorf("storage: reading netcdf values: %w", err)
	}
	if fv, ok := f.Header.GetAttribute(valueVar, "_FillValue").([]float64); ok && len(fv) == 1 && !math.IsNaN(fv[0]) {
		for i, v := range g.Elements {
			if v == fv[0] {
				g.Elements[i] = math.NaN()
			}
		}
	}
	return g, nil
}

// DecodeGrid reads a raster in the format written by EncodeGrid.
func DecodeGrid(rw cdf.ReaderWriterAt) (*treecl.Grid, error) {
	f, info, err := openGrid(rw)
	if err != nil {
		return nil, err
	}
	return readRows(f, info, 0, info.Ny)
}

// rwBuffer is an in-memory cdf.ReaderWriterAt.
type rwBuffer struct {
	b []byte
}

func (r *rwBuffer) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(r.b)) {
		return 0, io.EOF
	}
	n := copy(p, r.b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (r *rwBuffer) WriteAt(p []byte, off int64) (int, error) {
	if end := int(off) + len(p); end > len(r.b) {
		if end > cap(r.b) {
			nb := make([]byte, end, 2*end)
			copy(nb, r.b)
			r.b = nb
		} else {
			r.b = r.b[:end]
		}
	}
	copy(r.b[off:], p)
	return len(p), nil
}

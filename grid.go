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
	"fmt"
	"math"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// alignTolerance is the fraction of a cell size by which two grid origins
// may differ and still be considered aligned.
const alignTolerance = 1.e-6

// Grid is a rectangular raster of square cells. Cell values are held in
// row-major order in a [rows, columns] array, where row 0 is the
// northernmost row. Cells without data hold NaN.
type Grid struct {
	*sparse.DenseArray

	// X0 and Y0 are the coordinates of the lower-left corner of the grid.
	X0, Y0 float64

	// CellSize is the edge length of each grid cell, in the units of
	// the spatial reference.
	CellSize float64

	// SR is the spatial reference of the grid. It is carried through all
	// calculations unchanged.
	SR string
}

// NewGrid returns a grid with ny rows and nx columns where every cell
// is no-data.
func NewGrid(ny, nx int, x0, y0, cellSize float64, sr string) *Grid {
	g := &Grid{
		DenseArray: sparse.ZerosDense(ny, nx),
		X0:         x0,
		Y0:         y0,
		CellSize:   cellSize,
		SR:         sr,
	}
	for i := range g.Elements {
		g.Elements[i] = math.NaN()
	}
	return g
}

// IsNull returns whether v represents a no-data cell.
func IsNull(v float64) bool { return math.IsNaN(v) }

// Ny returns the number of rows in g.
func (g *Grid) Ny() int { return g.Shape[0] }

// Nx returns the number of columns in g.
func (g *Grid) Nx() int { return g.Shape[1] }

// Bounds returns the spatial extent of g.
func (g *Grid) Bounds() *geom.Bounds {
	return &geom.Bounds{
		Min: geom.Point{X: g.X0, Y: g.Y0},
		Max: geom.Point{
			X: g.X0 + float64(g.Nx())*g.CellSize,
			Y: g.Y0 + float64(g.Ny())*g.CellSize,
		},
	}
}

// Like returns a new grid with the same geometry as g where every
// cell is no-data.
func (g *Grid) Like() *Grid {
	return NewGrid(g.Ny(), g.Nx(), g.X0, g.Y0, g.CellSize, g.SR)
}

// Copy returns a deep copy of g.
func (g *Grid) Copy() *Grid {
	return &Grid{
		DenseArray: g.DenseArray.Copy(),
		X0:         g.X0,
		Y0:         g.Y0,
		CellSize:   g.CellSize,
		SR:         g.SR,
	}
}

// Fill sets every cell in g to v and returns g.
func (g *Grid) Fill(v float64) *Grid {
	for i := range g.Elements {
		g.Elements[i] = v
	}
	return g
}

// At returns the value at the given row and column.
func (g *Grid) At(row, col int) float64 { return g.Get(row, col) }

// Window returns a copy of rows [row0, row1) of g, georeferenced so that
// it occupies the same location as in g.
func (g *Grid) Window(row0, row1 int) (*Grid, error) {
	if row0 < 0 || row1 > g.Ny() || row0 >= row1 {
		return nil, fmt.Errorf("treecl: invalid window rows [%d, %d) for grid with %d rows", row0, row1, g.Ny())
	}
	nx := g.Nx()
	w := &Grid{
		DenseArray: sparse.ZerosDense(row1-row0, nx),
		X0:         g.X0,
		Y0:         g.Y0 + float64(g.Ny()-row1)*g.CellSize,
		CellSize:   g.CellSize,
		SR:         g.SR,
	}
	copy(w.Elements, g.Elements[row0*nx:row1*nx])
	return w, nil
}

// ValidCount returns the number of cells in g that hold data.
func (g *Grid) ValidCount() int {
	n := 0
	for _, v := range g.Elements {
		if !IsNull(v) {
			n++
		}
	}
	return n
}

// Summary holds descriptive statistics for the valid cells in a grid.
type Summary struct {
	Cells, Valid   int
	Min, Max, Mean float64
}

func (s Summary) String() string {
	return fmt.Sprintf("cells=%d valid=%d min=%g max=%g mean=%g", s.Cells, s.Valid, s.Min, s.Max, s.Mean)
}

// Summary returns descriptive statistics for g. Min, Max, and Mean are NaN
// if g has no valid cells.
func (g *Grid) Summary() Summary {
	vals := make([]float64, 0, len(g.Elements))
	for _, v := range g.Elements {
		if !IsNull(v) {
			vals = append(vals, v)
		}
	}
	s := Summary{Cells: len(g.Elements), Valid: len(vals)}
	if len(vals) == 0 {
		s.Min, s.Max, s.Mean = math.NaN(), math.NaN(), math.NaN()
		return s
	}
	s.Min = floats.Min(vals)
	s.Max = floats.Max(vals)
	s.Mean = stat.Mean(vals, nil)
	return s
}

// MisalignedError is returned when grids that are required to share
// their geometry do not.
type MisalignedError struct {
	// Dims lists the dimensions that differ.
	Dims []string
}

func (e *MisalignedError) Error() string {
	return "treecl: misaligned grids: " + strings.Join(e.Dims, "; ")
}

// CheckAligned returns a *MisalignedError if any of the given grids
// differ from the first in shape, cell size, origin, or spatial reference.
// Nil grids are ignored.
func CheckAligned(grids ...*Grid) error {
	var ref *Grid
	var dims []string
	for i, g := range grids {
		if g == nil {
			continue
		}
		if ref == nil {
			ref = g
			continue
		}
		if g.Ny() != ref.Ny() || g.Nx() != ref.Nx() {
			dims = append(dims, fmt.Sprintf("grid %d shape %dx%d != %dx%d", i, g.Ny(), g.Nx(), ref.Ny(), ref.Nx()))
		}
		if g.CellSize != ref.CellSize {
			dims = append(dims, fmt.Sprintf("grid %d cell size %g != %g", i, g.CellSize, ref.CellSize))
		}
		tol := alignTolerance * ref.CellSize
		if math.Abs(g.X0-ref.X0) > tol || math.Abs(g.Y0-ref.Y0) > tol {
			dims = append(dims, fmt.Sprintf("grid %d origin (%g, %g) != (%g, %g)", i, g.X0, g.Y0, ref.X0, ref.Y0))
		}
		if g.SR != "" && ref.SR != "" && g.SR != ref.SR {
			dims = append(dims, fmt.Sprintf("grid %d spatial reference %q != %q", i, g.SR, ref.SR))
		}
	}
	if len(dims) > 0 {
		return &MisalignedError{Dims: dims}
	}
	return nil
}

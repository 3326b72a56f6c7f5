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
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
)

// An Operand is either a *Grid or a Scalar. Operations that accept
// Operands apply scalars uniformly to every cell.
type Operand interface {
	value(i int) float64
}

func (g *Grid) value(i int) float64 { return g.Elements[i] }

// Scalar is a constant Operand.
type Scalar float64

func (s Scalar) value(int) float64 { return float64(s) }

// operandGrids returns the grids among ops.
func operandGrids(ops ...Operand) []*Grid {
	var o []*Grid
	for _, op := range ops {
		if g, ok := op.(*Grid); ok && g != nil {
			o = append(o, g)
		}
	}
	return o
}

// sanitize converts non-finite values in g to no-data, so that, for
// example, division by zero and the logarithm of zero yield no-data.
func sanitize(g *Grid) *Grid {
	for i, v := range g.Elements {
		if math.IsInf(v, 0) {
			g.Elements[i] = math.NaN()
		}
	}
	return g
}

// scalarFill returns a copy of a's geometry filled with s.
func scalarFill(a *Grid, s Scalar) []float64 {
	o := make([]float64, len(a.Elements))
	for i := range o {
		o[i] = float64(s)
	}
	return o
}

// binary applies a vectorized kernel to a and b. NaN inputs propagate
// through the floats kernels, which gives no-data propagation.
func binary(a *Grid, b Operand, kernel func(dst, s, t []float64) []float64) (*Grid, error) {
	if a == nil {
		return nil, errors.New("treecl: nil grid operand")
	}
	var t []float64
	switch bb := b.(type) {
	case *Grid:
		if err := CheckAligned(a, bb); err != nil {
			return nil, err
		}
		t = bb.Elements
	case Scalar:
		t = scalarFill(a, bb)
	default:
		return nil, errors.New("treecl: invalid operand")
	}
	o := a.Like()
	kernel(o.Elements, a.Elements, t)
	return sanitize(o), nil
}

// Add returns a + b.
func Add(a *Grid, b Operand) (*Grid, error) { return binary(a, b, floats.AddTo) }

// Subtract returns a - b.
func Subtract(a *Grid, b Operand) (*Grid, error) { return binary(a, b, floats.SubTo) }

// Multiply returns a × b.
func Multiply(a *Grid, b Operand) (*Grid, error) { return binary(a, b, floats.MulTo) }

// Divide returns a / b. Division by zero yields no-data.
func Divide(a *Grid, b Operand) (*Grid, error) { return binary(a, b, floats.DivTo) }

// DivideInto returns s / g, cell by cell.
func DivideInto(s Scalar, g *Grid) *Grid {
	o := g.Like()
	floats.DivTo(o.Elements, scalarFill(g, s), g.Elements)
	return sanitize(o)
}

// Power returns a raised to the power b.
func Power(a *Grid, b Operand) (*Grid, error) {
	return binary(a, b, func(dst, s, t []float64) []float64 {
		for i := range dst {
			if IsNull(s[i]) || IsNull(t[i]) {
				dst[i] = math.NaN() // math.Pow(1, NaN) is 1.
				continue
			}
			dst[i] = math.Pow(s[i], t[i])
		}
		return dst
	})
}

// unary applies f to every valid cell in g.
func unary(g *Grid, f func(float64) float64) *Grid {
	o := g.Like()
	for i, v := range g.Elements {
		if !IsNull(v) {
			o.Elements[i] = f(v)
		}
	}
	return sanitize(o)
}

// Log returns the natural logarithm of g. Cells that are zero or negative
// become no-data.
func Log(g *Grid) *Grid { return unary(g, math.Log) }

// Exp returns e raised to the power of g.
func Exp(g *Grid) *Grid { return unary(g, math.Exp) }

// Square returns g².
func Square(g *Grid) *Grid { return unary(g, func(v float64) float64 { return v * v }) }

// Sqrt returns the square root of g. Negative cells become no-data.
func Sqrt(g *Grid) *Grid { return unary(g, math.Sqrt) }

// Scale returns g × c.
func Scale(g *Grid, c float64) *Grid {
	o := g.Copy()
	floats.Scale(c, o.Elements)
	return sanitize(o)
}

// compare returns 1 where pred is true and 0 where it is false.
func compare(a *Grid, b Operand, pred func(x, y float64) bool) (*Grid, error) {
	return binary(a, b, func(dst, s, t []float64) []float64 {
		for i := range dst {
			switch {
			case IsNull(s[i]) || IsNull(t[i]):
				dst[i] = math.NaN()
			case pred(s[i], t[i]):
				dst[i] = 1
			default:
				dst[i] = 0
			}
		}
		return dst
	})
}

// Greater returns 1 where a > b and 0 elsewhere.
func Greater(a *Grid, b Operand) (*Grid, error) {
	return compare(a, b, func(x, y float64) bool { return x > y })
}

// GreaterEqual returns 1 where a >= b and 0 elsewhere.
func GreaterEqual(a *Grid, b Operand) (*Grid, error) {
	return compare(a, b, func(x, y float64) bool { return x >= y })
}

// Less returns 1 where a < b and 0 elsewhere.
func Less(a *Grid, b Operand) (*Grid, error) {
	return compare(a, b, func(x, y float64) bool { return x < y })
}

// Equal returns 1 where a == b and 0 elsewhere.
func Equal(a *Grid, b Operand) (*Grid, error) {
	return compare(a, b, func(x, y float64) bool { return x == y })
}

// Null returns 1 where g is no-data and 0 elsewhere. The result has no
// no-data cells.
func Null(g *Grid) *Grid {
	o := g.Like()
	for i, v := range g.Elements {
		if IsNull(v) {
			o.Elements[i] = 1
		} else {
			o.Elements[i] = 0
		}
	}
	return o
}

// SetNull returns a copy of g where the cells for which pred returns
// true are no-data. pred is not called for no-data cells.
func SetNull(g *Grid, pred func(v float64) bool) *Grid {
	o := g.Copy()
	for i, v := range o.Elements {
		if !IsNull(v) && pred(v) {
			o.Elements[i] = math.NaN()
		}
	}
	return o
}

// ExtractByMask returns a copy of g where every cell that is no-data in
// mask is also no-data. Other cells keep their values from g.
func ExtractByMask(g, mask *Grid) (*Grid, error) {
	if err := CheckAligned(g, mask); err != nil {
		return nil, err
	}
	o := g.Copy()
	for i, m := range mask.Elements {
		if IsNull(m) {
			o.Elements[i] = math.NaN()
		}
	}
	return o, nil
}

// Select returns, for each cell, ifTrue where cond is nonzero and ifFalse
// where cond is zero. Cells where cond is no-data are no-data. A no-data
// value in a branch only affects the cells where that branch is selected.
func Select(cond *Grid, ifTrue, ifFalse Operand) (*Grid, error) {
	if err := CheckAligned(append([]*Grid{cond}, operandGrids(ifTrue, ifFalse)...)...); err != nil {
		return nil, err
	}
	o := cond.Like()
	for i, c := range cond.Elements {
		switch {
		case IsNull(c):
		case c != 0:
			o.Elements[i] = ifTrue.value(i)
		default:
			o.Elements[i] = ifFalse.value(i)
		}
	}
	return o, nil
}

// CellSum returns the cell-by-cell sum of grids, ignoring no-data values.
// A cell is no-data in the result only if it is no-data in every input.
func CellSum(grids ...*Grid) (*Grid, error) {
	if len(grids) == 0 {
		return nil, errors.New("treecl: CellSum requires at least one grid")
	}
	if err := CheckAligned(grids...); err != nil {
		return nil, err
	}
	o := grids[0].Like()
	for _, g := range grids {
		accumulate(o, g)
	}
	return o, nil
}

// accumulate adds the valid cells of g to sum, treating no-data cells in
// sum as zero where g has data.
func accumulate(sum, g *Grid) {
	for i, v := range g.Elements {
		if IsNull(v) {
			continue
		}
		if IsNull(sum.Elements[i]) {
			sum.Elements[i] = v
		} else {
			sum.Elements[i] += v
		}
	}
}

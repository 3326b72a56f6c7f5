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
)

// DepositionLevel calculates the deposition at which response variable r
// of a species with parameters p is reduced by the fraction r.Reduction.
// The response curve is evaluated at the saturating deposition DepMax in
// every cell where d has data, restricted to the cells where the
// basal-area proportion grid b has data:
//
//	right = ln(DepMax / k1)²
//	left  = -2 ln(1 - x) k2² / t
//	level = k1 exp(√(left + right))
//
// Species without K1, or with an absent or zero DepMax, return a
// *SkipError.
func DepositionLevel(d, b *Grid, p ElementParams, r Response) (*Grid, error) {
	if err := checkCurve(p); err != nil {
		return nil, err
	}
	if !p.DepMax.Valid || p.DepMax.Float64 == 0 {
		return nil, skipf("no saturating deposition (dep_max)")
	}
	if r.Reduction <= 0 || r.Reduction >= 1 {
		return nil, fmt.Errorf("treecl: %s reduction %g must be between 0 and 1", r.Name, r.Reduction)
	}
	if r.T == 0 {
		return nil, fmt.Errorf("treecl: %s normalization constant t must not be zero", r.Name)
	}
	if err := CheckAligned(d, b); err != nil {
		return nil, err
	}
	k1, k2 := p.K1.Float64, p.K2.Float64

	atMax, err := Select(Null(d), Scalar(math.NaN()), Scalar(p.DepMax.Float64))
	if err != nil {
		return nil, err
	}
	v, err := ExtractByMask(atMax, b)
	if err != nil {
		return nil, err
	}
	right := Square(Log(Scale(v, 1/k1)))
	left := -2 * math.Log(1-r.Reduction) * k2 * k2 / r.T

	sum, err := Add(right, Scalar(left))
	if err != nil {
		return nil, err
	}
	return Scale(Exp(Sqrt(sum)), k1), nil
}

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
	"fmt"
	"math"
)

// SkipError indicates that an output was intentionally not produced,
// for example because a species has no critical load for an element.
// It is not a failure.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string { return "treecl: skipped: " + e.Reason }

// skipf returns a *SkipError with a formatted reason.
func skipf(format string, a ...interface{}) error {
	return &SkipError{Reason: fmt.Sprintf(format, a...)}
}

// IsSkip returns whether err is or wraps a *SkipError.
func IsSkip(err error) bool {
	var s *SkipError
	return errors.As(err, &s)
}

// RangeMask returns the deposition grid d with cells outside of the
// species' tolerated range [MinDep, MaxDep] set to no-data, restricted
// to the cells where the basal-area proportion grid b has data. If MaxDep
// is absent the range has no upper bound. MinDep is required.
func RangeMask(d, b *Grid, p ElementParams) (*Grid, error) {
	if !p.MinDep.Valid {
		return nil, skipf("no minimum deposition")
	}
	if err := CheckAligned(d, b); err != nil {
		return nil, err
	}
	lo := p.MinDep.Float64
	hi := math.Inf(1)
	if p.MaxDep.Valid {
		hi = p.MaxDep.Float64
	}
	outside := SetNull(d, func(v float64) bool { return v < lo || v > hi })
	return ExtractByMask(outside, b)
}

// responseCurve returns exp(c * (ln(m / k1) / k2)²), the relative
// response of a species at deposition m.
func responseCurve(m *Grid, k1, k2, c float64) *Grid {
	x := Scale(Log(Scale(m, 1/k1)), 1/k2)
	return Exp(Scale(Square(x), c))
}

// checkCurve returns a *SkipError if p lacks the response curve
// parameters.
func checkCurve(p ElementParams) error {
	switch {
	case !p.K1.Valid:
		return skipf("no critical load (k1)")
	case !p.K2.Valid:
		return skipf("no curve scale (k2)")
	case p.K1.Float64 == 0 || p.K2.Float64 == 0:
		return skipf("zero curve parameter (k1=%g, k2=%g)", p.K1.Float64, p.K2.Float64)
	}
	return nil
}

// Effect calculates the relative change in response variable r for a
// species with parameters p at the deposition in d, within the range of
// the species given by basal-area proportion grid b.
//
// The response at the masked deposition m is divided by the response at
// a reference deposition, which is DepMax where m exceeds DepMax and
// MinDep elsewhere. DepMax defaults to MinDep when it is absent. The
// result is the ratio minus 1, so that 0 is no change. Species without
// K1 return a *SkipError.
func Effect(d, b *Grid, p ElementParams, r Response) (*Grid, error) {
	if err := checkCurve(p); err != nil {
		return nil, err
	}
	m, err := RangeMask(d, b, p)
	if err != nil {
		return nil, err
	}
	k1, k2 := p.K1.Float64, p.K2.Float64
	num := responseCurve(m, k1, k2, r.Coefficient)

	minDep := p.MinDep.Float64
	depMax := minDep
	if p.DepMax.Valid {
		depMax = p.DepMax.Float64
	}
	above, err := Greater(m, Scalar(depMax))
	if err != nil {
		return nil, err
	}
	ref, err := Select(above, Scalar(depMax), Scalar(minDep))
	if err != nil {
		return nil, err
	}
	den := responseCurve(ref, k1, k2, r.Coefficient)

	ratio, err := Divide(num, den)
	if err != nil {
		return nil, err
	}
	return Subtract(ratio, Scalar(1))
}

// Exceedance returns the basal-area proportion grid b restricted to the
// cells where the deposition in d is at least the critical load K1.
// Cells below the critical load, and cells with zero proportion, are
// no-data. Species without K1 return a *SkipError.
func Exceedance(d, b *Grid, p ElementParams) (*Grid, error) {
	if !p.K1.Valid {
		return nil, skipf("no critical load (k1)")
	}
	exceeded, err := GreaterEqual(d, Scalar(p.K1.Float64))
	if err != nil {
		return nil, err
	}
	con, err := Select(exceeded, b, Scalar(0))
	if err != nil {
		return nil, err
	}
	return SetNull(con, func(v float64) bool { return v == 0 }), nil
}

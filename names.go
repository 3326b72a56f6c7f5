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
	"strconv"
	"strings"
)

// Containers that do not depend on the element or response variable.
const (
	BasalAreaContainer     = "ba"
	BasalAreaNullContainer = "ba_null"
	ProportionContainer    = "spp_proportion_ba"
	DepositionContainer    = "tdep"
	AggregateContainer     = "aggregate"
)

// NationalSumName is the name of the national forest basal-area sum
// raster in BasalAreaNullContainer.
const NationalSumName = "ba_null_natl_forest"

// BasalAreaPattern matches species basal-area raster names.
const BasalAreaPattern = "s[0-9]*"

// BasalAreaName returns the name of the basal-area raster of a species.
func BasalAreaName(code int) string { return "s" + strconv.Itoa(code) }

// ProportionName returns the name of the basal-area proportion raster of
// a species.
func ProportionName(code int) string { return BasalAreaName(code) + "_proportion" }

// DepositionName returns the name of the total deposition raster for
// element e in the given period, e.g. "n_tw_1719".
func DepositionName(e Element, period string) string {
	return fmt.Sprintf("%s_tw_%s", e, period)
}

// ExceedanceContainer returns the container for exceedance rasters.
func ExceedanceContainer(e Element, period string) string {
	return fmt.Sprintf("%s_dep_%s", e.Upper(), period)
}

// ExceedanceName returns the name of the exceedance raster of a species.
func ExceedanceName(code int, e Element, r Response, period string) string {
	return fmt.Sprintf("%s_exc_%s_%s_%s", ProportionName(code), e, r.Name, period)
}

// EffectContainer returns the container for effect rasters.
func EffectContainer(e Element, r Response) string {
	return fmt.Sprintf("%s_%s_effect", e.Upper(), r.Name)
}

// EffectName returns the name of the effect raster of a species.
func EffectName(code int) string { return ProportionName(code) + "_effect" }

// WeightedContainer returns the container for basal-area weighted effect
// rasters.
func WeightedContainer(e Element, r Response) string {
	return fmt.Sprintf("%s_basal_area_prop_%s_effect", e.Upper(), r.Name)
}

// WeightedName returns the name of the basal-area weighted effect raster
// of a species.
func WeightedName(code int) string { return EffectName(code) + "_basalarea" }

// DepositionLevelContainer returns the container for deposition-level
// rasters.
func DepositionLevelContainer(e Element, r Response) string {
	return fmt.Sprintf("%s_%s_deposition_%d_red", e.Upper(), r.Name, r.ReductionPercent())
}

// DepositionLevelName returns the name of the deposition-level raster of
// a species.
func DepositionLevelName(code int, e Element, r Response) string {
	return fmt.Sprintf("%s_%s_%s_deposition_red", ProportionName(code), e, r.Name)
}

// ParseSpeciesCode returns the species code from a raster name that
// starts with "s" followed by the code, e.g. "s121_proportion_effect".
func ParseSpeciesCode(name string) (int, error) {
	if !strings.HasPrefix(name, "s") {
		return 0, fmt.Errorf("treecl: raster name %q does not start with a species code", name)
	}
	digits := name[1:]
	if i := strings.IndexFunc(digits, func(r rune) bool { return r < '0' || r > '9' }); i >= 0 {
		digits = digits[:i]
	}
	code, err := strconv.Atoi(digits)
	if err != nil {
		return 0, fmt.Errorf("treecl: raster name %q does not start with a species code", name)
	}
	return code, nil
}

// AggregateSource is a kind of per-species raster that can be aggregated
// across species.
type AggregateSource string

// Aggregate sources.
const (
	EffectSource          AggregateSource = "effect"
	DepositionLevelSource AggregateSource = "deplevel"
	WeightedSource        AggregateSource = "weighted"
)

// ParseAggregateSource returns the AggregateSource named by s.
func ParseAggregateSource(s string) (AggregateSource, error) {
	switch a := AggregateSource(strings.ToLower(strings.TrimSpace(s))); a {
	case EffectSource, DepositionLevelSource, WeightedSource:
		return a, nil
	default:
		return "", fmt.Errorf("treecl: invalid aggregate source %q; valid options are 'effect', 'deplevel', and 'weighted'", s)
	}
}

// Container returns the container holding the per-species rasters of a.
func (a AggregateSource) Container(e Element, r Response) string {
	switch a {
	case DepositionLevelSource:
		return DepositionLevelContainer(e, r)
	case WeightedSource:
		return WeightedContainer(e, r)
	default:
		return EffectContainer(e, r)
	}
}

// PercentileName returns the name of the aggregate raster of a in
// AggregateContainer, e.g. "percentile_5_growth_n".
func (a AggregateSource) PercentileName(p float64, e Element, r Response) string {
	var prefix string
	switch a {
	case DepositionLevelSource:
		prefix = "dep_"
	case WeightedSource:
		prefix = "wt_"
	}
	return fmt.Sprintf("%spercentile_%s_%s_%s", prefix, strconv.FormatFloat(p, 'f', -1, 64), r.Name, e)
}

// Pattern matches the names of the per-species rasters of a.
func (a AggregateSource) Pattern() string {
	switch a {
	case DepositionLevelSource:
		return "s*_deposition_red"
	case WeightedSource:
		return "s*_effect_basalarea"
	default:
		return "s*_effect"
	}
}

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

import "testing"

func TestNames(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{got: BasalAreaName(121), want: "s121"},
		{got: ProportionName(121), want: "s121_proportion"},
		{got: DepositionName(Nitrogen, "1719"), want: "n_tw_1719"},
		{got: ExceedanceContainer(Nitrogen, "1719"), want: "N_dep_1719"},
		{got: ExceedanceName(121, Sulfur, Growth, "1719"), want: "s121_proportion_exc_s_growth_1719"},
		{got: EffectContainer(Sulfur, Survival), want: "S_survival_effect"},
		{got: EffectName(121), want: "s121_proportion_effect"},
		{got: WeightedContainer(Nitrogen, Growth), want: "N_basal_area_prop_growth_effect"},
		{got: WeightedName(121), want: "s121_proportion_effect_basalarea"},
		{got: DepositionLevelContainer(Nitrogen, Growth), want: "N_growth_deposition_5_red"},
		{got: DepositionLevelContainer(Nitrogen, Survival), want: "N_survival_deposition_1_red"},
		{got: DepositionLevelName(121, Nitrogen, Growth), want: "s121_proportion_n_growth_deposition_red"},
		{got: EffectSource.PercentileName(5, Nitrogen, Growth), want: "percentile_5_growth_n"},
		{got: DepositionLevelSource.PercentileName(5, Sulfur, Survival), want: "dep_percentile_5_survival_s"},
		{got: WeightedSource.PercentileName(2.5, Nitrogen, Survival), want: "wt_percentile_2.5_survival_n"},
		{got: WeightedSource.Container(Sulfur, Growth), want: "S_basal_area_prop_growth_effect"},
	}
	for _, test := range tests {
		if test.got != test.want {
			t.Errorf("%q != %q", test.got, test.want)
		}
	}
}

func TestParseSpeciesCode(t *testing.T) {
	tests := []struct {
		name string
		code int
		ok   bool
	}{
		{name: "s121", code: 121, ok: true},
		{name: "s121_proportion_effect", code: 121, ok: true},
		{name: "s12_proportion", code: 12, ok: true},
		{name: "ba_null_natl_forest"},
		{name: "s_proportion"},
		{name: "121"},
	}
	for _, test := range tests {
		code, err := ParseSpeciesCode(test.name)
		if (err == nil) != test.ok || code != test.code {
			t.Errorf("%s: code %d, error %v", test.name, code, err)
		}
	}
}

func TestParseAggregateSource(t *testing.T) {
	for _, s := range []string{"effect", "deplevel", "Weighted"} {
		if _, err := ParseAggregateSource(s); err != nil {
			t.Error(err)
		}
	}
	if _, err := ParseAggregateSource("exceedance"); err == nil {
		t.Error("exceedance is not an aggregate source")
	}
}

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
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Element is a deposited pollutant.
type Element string

// Elements whose deposition is modeled.
const (
	Nitrogen Element = "n"
	Sulfur   Element = "s"
)

// Upper returns the upper-case form of e, which is used in container names.
func (e Element) Upper() string { return strings.ToUpper(string(e)) }

// ParseElement returns the Element named by s.
func ParseElement(s string) (Element, error) {
	switch Element(strings.ToLower(strings.TrimSpace(s))) {
	case Nitrogen:
		return Nitrogen, nil
	case Sulfur:
		return Sulfur, nil
	default:
		return "", fmt.Errorf("treecl: invalid element %q; valid options are 'n' and 's'", s)
	}
}

// Response is a species response variable and the constants that
// shape its response curve.
type Response struct {
	// Name is the response variable name, e.g. "growth".
	Name string

	// Coefficient multiplies the squared log term in the exponent of
	// the log-normal response curve.
	Coefficient float64

	// Reduction is the relative reduction (x) in the response variable
	// for which the deposition-level solver finds the deposition.
	Reduction float64

	// T normalizes the reduction term in the deposition-level solver.
	T float64
}

// Response variables with their default constants.
var (
	Growth   = Response{Name: "growth", Coefficient: -0.5, Reduction: 0.05, T: 1}
	Survival = Response{Name: "survival", Coefficient: -5.0, Reduction: 0.01, T: 10}
)

// ResponseByName returns the default Response with the given name.
func ResponseByName(name string) (Response, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case Growth.Name:
		return Growth, nil
	case Survival.Name:
		return Survival, nil
	default:
		return Response{}, fmt.Errorf("treecl: invalid response variable %q; valid options are 'growth' and 'survival'", name)
	}
}

// ReductionPercent returns r.Reduction as a whole-number percentage,
// as used in container names.
func (r Response) ReductionPercent() int { return int(math.Round(r.Reduction * 100)) }

// ElementParams are the critical-load parameters of one species for
// one element and response variable. Any of them may be absent.
type ElementParams struct {
	// K1 and K2 are the location and scale of the log-normal response
	// curve. A species without K1 has no critical load.
	K1, K2 sql.NullFloat64

	// MinDep is the minimum relevant deposition.
	MinDep sql.NullFloat64

	// MaxDep is the maximum observed deposition.
	MaxDep sql.NullFloat64

	// DepMax is the saturating deposition. If it is absent, MinDep is used
	// in its place by the effect calculation.
	DepMax sql.NullFloat64
}

// SpeciesParams holds the parameters of a single species.
type SpeciesParams struct {
	Code int
	N, S ElementParams
}

// Element returns the parameters of p for element e.
func (p *SpeciesParams) Element(e Element) ElementParams {
	if e == Sulfur {
		return p.S
	}
	return p.N
}

// ResponseTable maps species codes to species parameters for a single
// response variable. It is not modified after it is created.
type ResponseTable struct {
	Response string
	rows     map[int]*SpeciesParams
	codes    []int
}

// NewResponseTable creates a table from the given rows.
func NewResponseTable(response string, rows ...*SpeciesParams) (*ResponseTable, error) {
	t := &ResponseTable{
		Response: response,
		rows:     make(map[int]*SpeciesParams, len(rows)),
	}
	for _, r := range rows {
		if _, ok := t.rows[r.Code]; ok {
			return nil, fmt.Errorf("treecl: duplicate species code %d in %s table", r.Code, response)
		}
		t.rows[r.Code] = r
		t.codes = append(t.codes, r.Code)
	}
	sort.Ints(t.codes)
	return t, nil
}

// Row returns the parameters of the species with the given code.
func (t *ResponseTable) Row(code int) (*SpeciesParams, bool) {
	r, ok := t.rows[code]
	return r, ok
}

// Codes returns the species codes in t in ascending order.
func (t *ResponseTable) Codes() []int {
	o := make([]int, len(t.codes))
	copy(o, t.codes)
	return o
}

// Len returns the number of species in t.
func (t *ResponseTable) Len() int { return len(t.codes) }

// paramColumns returns the column names holding the parameters of e, in
// the order K1, K2, MinDep, MaxDep, DepMax.
func paramColumns(e Element) []string {
	return []string{
		string(e) + "1",
		string(e) + "2",
		"min_" + string(e),
		"max_" + string(e),
		string(e) + "dep_max",
	}
}

func (p *ElementParams) fields() []*sql.NullFloat64 {
	return []*sql.NullFloat64{&p.K1, &p.K2, &p.MinDep, &p.MaxDep, &p.DepMax}
}

// parseNullFloat parses a table cell, where empty and null-like cells
// are absent values.
func parseNullFloat(s string) (sql.NullFloat64, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "na", "nan", "null", "none", "<null>":
		return sql.NullFloat64{}, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return sql.NullFloat64{}, err
	}
	return sql.NullFloat64{Float64: v, Valid: true}, nil
}

// parseCode parses a species code, which may be written as a float
// (e.g. "121.0") by some spreadsheet exports.
func parseCode(s string) (int, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v != math.Trunc(v) {
		return 0, fmt.Errorf("invalid species code %q", s)
	}
	return int(v), nil
}

// ReadResponseTable reads a species response table for the given response
// variable from CSV-formatted data. The first line must be a header
// containing the column spp_code. The parameter columns {e}1, {e}2,
// min_{e}, max_{e}, and {e}dep_max for e in {n, s} are optional; missing
// columns and empty cells are absent parameters.
func ReadResponseTable(r io.Reader, response string) (*ResponseTable, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	lines, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("treecl: reading %s table: %w", response, err)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("treecl: %s table is empty", response)
	}
	cols := make(map[string]int)
	for i, h := range lines[0] {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	codeCol, ok := cols["spp_code"]
	if !ok {
		return nil, fmt.Errorf("treecl: %s table is missing the spp_code column", response)
	}
	var rows []*SpeciesParams
	for i, line := range lines[1:] {
		if codeCol >= len(line) || strings.TrimSpace(line[codeCol]) == "" {
			continue // Skip blank lines.
		}
		p := new(SpeciesParams)
		if p.Code, err = parseCode(line[codeCol]); err != nil {
			return nil, fmt.Errorf("treecl: %s table line %d: %w", response, i+2, err)
		}
		for _, e := range []Element{Nitrogen, Sulfur} {
			ep := p.elementPtr(e)
			for j, name := range paramColumns(e) {
				c, ok := cols[name]
				if !ok || c >= len(line) {
					continue
				}
				v, err := parseNullFloat(line[c])
				if err != nil {
					return nil, fmt.Errorf("treecl: %s table line %d column %s: %w", response, i+2, name, err)
				}
				*ep.fields()[j] = v
			}
		}
		rows = append(rows, p)
	}
	return NewResponseTable(response, rows...)
}

func (p *SpeciesParams) elementPtr(e Element) *ElementParams {
	if e == Sulfur {
		return &p.S
	}
	return &p.N
}

// ReadResponseTableSQL reads a species response table for the given
// response variable from a database table with the same columns as
// the CSV format read by ReadResponseTable. All parameter columns must
// be present.
func ReadResponseTableSQL(ctx context.Context, db *sql.DB, table, response string) (*ResponseTable, error) {
	if strings.ContainsAny(table, " ;'\"") {
		return nil, fmt.Errorf("treecl: invalid table name %q", table)
	}
	cols := append([]string{"spp_code"}, paramColumns(Nitrogen)...)
	cols = append(cols, paramColumns(Sulfur)...)
	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s ORDER BY spp_code", strings.Join(cols, ", "), table))
	if err != nil {
		return nil, fmt.Errorf("treecl: querying %s table: %w", response, err)
	}
	defer rows.Close()
	var params []*SpeciesParams
	for rows.Next() {
		p := new(SpeciesParams)
		dest := []interface{}{&p.Code}
		for _, f := range p.N.fields() {
			dest = append(dest, f)
		}
		for _, f := range p.S.fields() {
			dest = append(dest, f)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("treecl: scanning %s table: %w", response, err)
		}
		params = append(params, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("treecl: reading %s table: %w", response, err)
	}
	return NewResponseTable(response, params...)
}

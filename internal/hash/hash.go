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

// Package hash calculates short keys that identify calculation inputs,
// so that log records can show which parameters produced an output.
package hash

import (
	"fmt"
	"hash/fnv"

	"github.com/davecgh/go-spew/spew"
)

var printer = spew.ConfigState{
	Indent:                  " ",
	SortKeys:                true,
	DisableMethods:          true,
	SpewKeys:                true,
	DisablePointerAddresses: true,
	DisableCapacities:       true,
}

// Hash returns a 16-character key for the contents of object. Objects
// with equal contents have equal keys, including through pointers and
// NaN values.
func Hash(object interface{}) string {
	h := fnv.New64a()
	printer.Fprintf(h, "%#v", object)
	return fmt.Sprintf("%016x", h.Sum64())
}

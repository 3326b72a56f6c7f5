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

// Command treecl is a command-line interface for calculating tree species
// critical loads of nitrogen and sulfur deposition.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spatialmodel/treecl/treeclutil"
)

func main() {
	// Stop starting new rasters on interrupt. Rasters that have been
	// completely written are kept, so the run can be resumed.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := treeclutil.Root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

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
	"errors"
)

// ErrNotExist is returned by a Workspace when a requested raster does
// not exist.
var ErrNotExist = errors.New("treecl: raster does not exist")

// A Workspace stores named rasters in named containers. Every operation
// is given its container explicitly; a Workspace has no notion of a
// current container. Implementations must be safe for concurrent use,
// and Write must either store the complete raster or nothing.
type Workspace interface {
	// List returns the names of the rasters in container that match
	// the path.Match-style pattern, in lexical order. An empty pattern
	// matches everything.
	List(ctx context.Context, container, pattern string) ([]string, error)

	// Exists returns whether the named raster exists.
	Exists(ctx context.Context, container, name string) (bool, error)

	// Read returns the named raster. It returns an error wrapping
	// ErrNotExist if the raster does not exist.
	Read(ctx context.Context, container, name string) (*Grid, error)

	// Write stores g under the given name.
	Write(ctx context.Context, container, name string, g *Grid) error

	// CreateContainer creates the named container if it does not
	// already exist.
	CreateContainer(ctx context.Context, container string) error
}

// GridInfo describes the geometry of a stored raster.
type GridInfo struct {
	Ny, Nx   int
	X0, Y0   float64
	CellSize float64
	SR       string
}

// Info returns the geometry of g.
func (g *Grid) Info() GridInfo {
	return GridInfo{Ny: g.Ny(), Nx: g.Nx(), X0: g.X0, Y0: g.Y0, CellSize: g.CellSize, SR: g.SR}
}

// A WindowReader can read a band of rows from a stored raster without
// reading the whole raster. Workspaces may implement it to reduce the
// memory required by TiledPercentile.
type WindowReader interface {
	// Info returns the geometry of the named raster.
	Info(ctx context.Context, container, name string) (GridInfo, error)

	// ReadWindow returns rows [row0, row1) of the named raster,
	// georeferenced as by (*Grid).Window.
	ReadWindow(ctx context.Context, container, name string, row0, row1 int) (*Grid, error)
}

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

package storage

import (
	"context"
	"runtime"
	"sync"

	"github.com/ctessum/requestcache"
	"github.com/spatialmodel/treecl"
)

// Cached is a treecl.Workspace that keeps recently read rasters in
// memory and combines concurrent reads of the same raster into one.
// Rasters are never modified after they are written, so cached rasters
// do not go stale. Grids returned by Read are shared and must not be
// modified.
type Cached struct {
	treecl.Workspace

	// CacheSize is the maximum number of rasters held in memory. It can
	// only be changed before the first read.
	CacheSize int

	cache     *requestcache.Cache
	cacheInit sync.Once
}

// NewCached returns a cache of ws holding up to size rasters.
func NewCached(ws treecl.Workspace, size int) *Cached {
	return &Cached{Workspace: ws, CacheSize: size}
}

type readRequest struct {
	container, name string
}

// Read implements treecl.Workspace. Missing rasters are not cached.
func (c *Cached) Read(ctx context.Context, container, name string) (*treecl.Grid, error) {
	c.cacheInit.Do(func() {
		size := c.CacheSize
		if size < 1 {
			size = 1
		}
		c.cache = requestcache.NewCache(func(ctx context.Context, request interface{}) (interface{}, error) {
			r := request.(readRequest)
			return c.Workspace.Read(ctx, r.container, r.name)
		}, runtime.GOMAXPROCS(-1), requestcache.Deduplicate(), requestcache.Memory(size))
	})
	// Check first so that failed reads of missing rasters, which are
	// expected, do not pass through the deduplicating cache.
	ok, err := c.Workspace.Exists(ctx, container, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return c.Workspace.Read(ctx, container, name)
	}
	r := readRequest{container: container, name: name}
	g, err := c.cache.NewRequest(ctx, r, container+"/"+name).Result()
	if err != nil {
		return nil, err
	}
	return g.(*treecl.Grid), nil
}

// Info implements treecl.WindowReader, reading the whole raster if the
// underlying workspace cannot read windows.
func (c *Cached) Info(ctx context.Context, container, name string) (treecl.GridInfo, error) {
	if wr, ok := c.Workspace.(treecl.WindowReader); ok {
		return wr.Info(ctx, container, name)
	}
	g, err := c.Read(ctx, container, name)
	if err != nil {
		return treecl.GridInfo{}, err
	}
	return g.Info(), nil
}

// ReadWindow implements treecl.WindowReader. Windows are not cached.
func (c *Cached) ReadWindow(ctx context.Context, container, name string, row0, row1 int) (*treecl.Grid, error) {
	if wr, ok := c.Workspace.(treecl.WindowReader); ok {
		return wr.ReadWindow(ctx, container, name, row0, row1)
	}
	g, err := c.Read(ctx, container, name)
	if err != nil {
		return nil, err
	}
	return g.Window(row0, row1)
}

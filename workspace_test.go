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
	"fmt"
	"path"
	"sort"
	"sync"
)

// memWorkspace is a Workspace that holds rasters in memory.
type memWorkspace struct {
	mu         sync.Mutex
	containers map[string]map[string]*Grid
	writes     int
	reads      int
}

func newMemWorkspace() *memWorkspace {
	return &memWorkspace{containers: make(map[string]map[string]*Grid)}
}

func (m *memWorkspace) List(_ context.Context, container, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for name := range m.containers[container] {
		if pattern != "" {
			if ok, err := path.Match(pattern, name); err != nil {
				return nil, err
			} else if !ok {
				continue
			}
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *memWorkspace) Exists(_ context.Context, container, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.containers[container][name]
	return ok, nil
}

func (m *memWorkspace) Read(_ context.Context, container, name string) (*Grid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.containers[container][name]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", container, name, ErrNotExist)
	}
	m.reads++
	return g.Copy(), nil
}

func (m *memWorkspace) Write(_ context.Context, container, name string, g *Grid) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.containers[container] == nil {
		m.containers[container] = make(map[string]*Grid)
	}
	m.containers[container][name] = g.Copy()
	m.writes++
	return nil
}

func (m *memWorkspace) CreateContainer(_ context.Context, container string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.containers[container] == nil {
		m.containers[container] = make(map[string]*Grid)
	}
	return nil
}

func (m *memWorkspace) Info(ctx context.Context, container, name string) (GridInfo, error) {
	g, err := m.Read(ctx, container, name)
	if err != nil {
		return GridInfo{}, err
	}
	return g.Info(), nil
}

func (m *memWorkspace) ReadWindow(ctx context.Context, container, name string, row0, row1 int) (*Grid, error) {
	g, err := m.Read(ctx, container, name)
	if err != nil {
		return nil, err
	}
	return g.Window(row0, row1)
}

func (m *memWorkspace) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// wholeReader hides the WindowReader methods of a workspace.
type wholeReader struct {
	Workspace
}

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
	"sync"
)

// TaskStatus is the outcome of a task.
type TaskStatus int

// Task outcomes.
const (
	// TaskWritten means the output was computed and stored.
	TaskWritten TaskStatus = iota
	// TaskExisted means the output already existed and was not recomputed.
	TaskExisted
	// TaskSkipped means the output was intentionally not produced.
	TaskSkipped
)

func (s TaskStatus) String() string {
	switch s {
	case TaskWritten:
		return "written"
	case TaskExisted:
		return "exists"
	case TaskSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("TaskStatus(%d)", int(s))
	}
}

// TaskRunner runs idempotent tasks, each of which produces a single named
// raster. A raster that already exists is never recomputed or
// overwritten. Tasks for the same output name never run concurrently,
// so that checking for an output, computing it, and writing it is atomic
// with respect to other tasks sharing the TaskRunner.
type TaskRunner struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

// NewTaskRunner returns a new TaskRunner.
func NewTaskRunner() *TaskRunner {
	return &TaskRunner{locks: make(map[string]*keyLock)}
}

func (tr *TaskRunner) lock(key string) *keyLock {
	tr.mu.Lock()
	l, ok := tr.locks[key]
	if !ok {
		l = new(keyLock)
		tr.locks[key] = l
	}
	l.refs++
	tr.mu.Unlock()
	l.Lock()
	return l
}

func (tr *TaskRunner) unlock(key string, l *keyLock) {
	l.Unlock()
	tr.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(tr.locks, key)
	}
	tr.mu.Unlock()
}

// Do stores the result of compute in ws under the given container and
// name, unless a raster with that name already exists. If compute returns
// a *SkipError, nothing is stored and TaskSkipped is returned along with
// that error. Any other error is fatal.
func (tr *TaskRunner) Do(ctx context.Context, ws Workspace, container, name string, compute func(context.Context) (*Grid, error)) (TaskStatus, error) {
	key := container + "/" + name
	l := tr.lock(key)
	defer tr.unlock(key, l)

	if err := ctx.Err(); err != nil {
		return TaskSkipped, err
	}
	exists, err := ws.Exists(ctx, container, name)
	if err != nil {
		return TaskSkipped, fmt.Errorf("treecl: checking for %s: %w", key, err)
	}
	if exists {
		return TaskExisted, nil
	}
	g, err := compute(ctx)
	if IsSkip(err) {
		return TaskSkipped, err
	} else if err != nil {
		return TaskSkipped, fmt.Errorf("treecl: calculating %s: %w", key, err)
	}
	if err := ws.Write(ctx, container, name, g); err != nil {
		return TaskSkipped, fmt.Errorf("treecl: writing %s: %w", key, err)
	}
	return TaskWritten, nil
}

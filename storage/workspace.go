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
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/treecl"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

const (
	// ext is the file extension of stored rasters.
	ext = ".nc"

	// containerMarker is the key, relative to a container, of the
	// object that records that the container exists.
	containerMarker = ".container"
)

// BlobWorkspace is a treecl.Workspace that stores each raster as a
// NetCDF object with key "<prefix>/<container>/<name>.nc" in a blob
// bucket. Transient errors are retried with exponential backoff.
// Writes are atomic: a raster is only visible once it has been written
// completely.
type BlobWorkspace struct {
	bucket *blob.Bucket
	prefix string

	// Log receives retry warnings.
	Log logrus.FieldLogger

	// MaxRetryTime is the maximum time spent retrying an operation.
	MaxRetryTime time.Duration
}

// NewBlobWorkspace returns a workspace that stores rasters in bucket
// under the given key prefix.
func NewBlobWorkspace(bucket *blob.Bucket, prefix string) *BlobWorkspace {
	return &BlobWorkspace{
		bucket:       bucket,
		prefix:       strings.Trim(prefix, "/"),
		Log:          logrus.StandardLogger(),
		MaxRetryTime: 2 * time.Minute,
	}
}

// OpenWorkspace opens a workspace from a bucket URL as accepted by
// OpenBucket.
func OpenWorkspace(ctx context.Context, bucketURL string) (*BlobWorkspace, error) {
	b, prefix, err := OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	return NewBlobWorkspace(b, prefix), nil
}

// Close closes the underlying bucket.
func (w *BlobWorkspace) Close() error { return w.bucket.Close() }

func (w *BlobWorkspace) containerKey(container string) string {
	if w.prefix == "" {
		return container + "/"
	}
	return w.prefix + "/" + container + "/"
}

func (w *BlobWorkspace) key(container, name string) string {
	return w.containerKey(container) + name + ext
}

// retry runs op until it succeeds, it returns a permanent error, ctx is
// done, or MaxRetryTime elapses.
func (w *BlobWorkspace) retry(ctx context.Context, what string, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = w.MaxRetryTime
	return backoff.RetryNotify(func() error {
		err := op()
		var perm *backoff.PermanentError
		if err == nil || errors.As(err, &perm) {
			return err
		}
		switch gcerrors.Code(err) {
		case gcerrors.NotFound, gcerrors.InvalidArgument, gcerrors.PermissionDenied, gcerrors.Canceled:
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil || errors.Is(err, treecl.ErrNotExist) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx), func(err error, d time.Duration) {
		w.Log.WithError(err).Warnf("storage: %s: retrying in %v", what, d)
	})
}

// List implements treecl.Workspace.
func (w *BlobWorkspace) List(ctx context.Context, container, pattern string) ([]string, error) {
	if pattern != "" {
		if _, err := path.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("storage: invalid pattern %q: %v", pattern, err)
		}
	}
	prefix := w.containerKey(container)
	var names []string
	err := w.retry(ctx, "listing "+container, func() error {
		names = names[:0]
		iter := w.bucket.List(&blob.ListOptions{Prefix: prefix, Delimiter: "/"})
		for {
			obj, err := iter.Next(ctx)
			if err == io.EOF {
				return nil
			} else if err != nil {
				return err
			}
			if obj.IsDir || !strings.HasSuffix(obj.Key, ext) {
				continue
			}
			name := strings.TrimSuffix(strings.TrimPrefix(obj.Key, prefix), ext)
			if pattern != "" {
				if ok, _ := path.Match(pattern, name); !ok {
					continue
				}
			}
			names = append(names, name)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("storage: listing %s: %w", container, err)
	}
	sort.Strings(names)
	return names, nil
}

// Exists implements treecl.Workspace.
func (w *BlobWorkspace) Exists(ctx context.Context, container, name string) (bool, error) {
	var exists bool
	err := w.retry(ctx, "checking "+container+"/"+name, func() error {
		var err error
		exists, err = w.bucket.Exists(ctx, w.key(container, name))
		return err
	})
	if err != nil {
		return false, fmt.Errorf("storage: checking for %s/%s: %w", container, name, err)
	}
	return exists, nil
}

// Read implements treecl.Workspace.
func (w *BlobWorkspace) Read(ctx context.Context, container, name string) (*treecl.Grid, error) {
	var data []byte
	err := w.retry(ctx, "reading "+container+"/"+name, func() error {
		var err error
		data, err = w.readBlob(ctx, w.key(container, name))
		return err
	})
	if err != nil {
		return nil, err
	}
	g, err := DecodeGrid(&rwBuffer{b: data})
	if err != nil {
		return nil, fmt.Errorf("storage: decoding %s/%s: %w", container, name, err)
	}
	return g, nil
}

// readBlob reads the given blob.
func (w *BlobWorkspace) readBlob(ctx context.Context, key string) ([]byte, error) {
	r, err := w.bucket.NewReader(ctx, key, nil)
	if gcerrors.Code(err) == gcerrors.NotFound {
		return nil, fmt.Errorf("storage: %s: %w", key, treecl.ErrNotExist)
	} else if err != nil {
		return nil, fmt.Errorf("storage: reading blob key %s: %w", key, err)
	}
	defer r.Close()
	b, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("storage: reading blob key %s: %w", key, err)
	}
	return b, nil
}

// Write implements treecl.Workspace.
func (w *BlobWorkspace) Write(ctx context.Context, container, name string, g *treecl.Grid) error {
	data, err := EncodeGrid(g)
	if err != nil {
		return fmt.Errorf("storage: encoding %s/%s: %w", container, name, err)
	}
	return w.retry(ctx, "writing "+container+"/"+name, func() error {
		return w.writeBlob(ctx, w.key(container, name), data)
	})
}

// writeBlob writes data to the given blob. The blob is only created if
// all of the data is written.
func (w *BlobWorkspace) writeBlob(ctx context.Context, key string, data []byte) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	bw, err := w.bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: "application/x-netcdf"})
	if err != nil {
		return fmt.Errorf("storage: creating writer for blob %s: %w", key, err)
	}
	if _, err := bw.Write(data); err != nil {
		cancel() // Abort the write.
		bw.Close()
		return fmt.Errorf("storage: copying blob %s: %w", key, err)
	}
	if err := bw.Close(); err != nil {
		return fmt.Errorf("storage: writing blob %s: %w", key, err)
	}
	return nil
}

// CreateContainer implements treecl.Workspace.
func (w *BlobWorkspace) CreateContainer(ctx context.Context, container string) error {
	if container == "" || strings.ContainsAny(container, "/*?[") {
		return fmt.Errorf("storage: invalid container name %q", container)
	}
	key := w.containerKey(container) + containerMarker
	return w.retry(ctx, "creating "+container, func() error {
		ok, err := w.bucket.Exists(ctx, key)
		if err != nil || ok {
			return err
		}
		return w.writeBlob(ctx, key, nil)
	})
}

// Containers returns the names of the containers in the workspace.
func (w *BlobWorkspace) Containers(ctx context.Context) ([]string, error) {
	prefix := ""
	if w.prefix != "" {
		prefix = w.prefix + "/"
	}
	var names []string
	iter := w.bucket.List(&blob.ListOptions{Prefix: prefix, Delimiter: "/"})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("storage: listing containers: %w", err)
		}
		if obj.IsDir {
			names = append(names, strings.TrimSuffix(strings.TrimPrefix(obj.Key, prefix), "/"))
		}
	}
	sort.Strings(names)
	return names, nil
}

// Info implements treecl.WindowReader. Only the file header is read.
func (w *BlobWorkspace) Info(ctx context.Context, container, name string) (treecl.GridInfo, error) {
	var info treecl.GridInfo
	err := w.retry(ctx, "reading header of "+container+"/"+name, func() error {
		ra := w.readerAt(ctx, container, name)
		var err error
		_, info, err = openGrid(ra)
		return ra.classify(err)
	})
	return info, err
}

// ReadWindow implements treecl.WindowReader. Only the header and the
// requested rows are read from the bucket.
func (w *BlobWorkspace) ReadWindow(ctx context.Context, container, name string, row0, row1 int) (*treecl.Grid, error) {
	var g *treecl.Grid
	err := w.retry(ctx, "reading "+container+"/"+name, func() error {
		ra := w.readerAt(ctx, container, name)
		f, info, err := openGrid(ra)
		if err != nil {
			return ra.classify(err)
		}
		g, err = readRows(f, info, row0, row1)
		return ra.classify(err)
	})
	return g, err
}

func (w *BlobWorkspace) readerAt(ctx context.Context, container, name string) *blobReaderAt {
	return &blobReaderAt{ctx: ctx, bucket: w.bucket, key: w.key(container, name)}
}

// headSize is the number of bytes fetched for the first read of a blob,
// which holds the NetCDF header.
const headSize = 64 << 10

// blobReaderAt reads ranges of a blob. The first headSize bytes are
// fetched once and kept, because the NetCDF header is read in many
// small pieces.
type blobReaderAt struct {
	ctx    context.Context
	bucket *blob.Bucket
	key    string
	head   []byte
	size   int64

	// err is the last error returned by the bucket.
	err error
}

// classify returns err as a permanent error if it was not caused by the
// bucket, e.g. because the blob is not a valid raster.
func (b *blobReaderAt) classify(err error) error {
	if err != nil && b.err == nil {
		return backoff.Permanent(err)
	}
	return err
}

func (b *blobReaderAt) fetch(off, length int64) ([]byte, error) {
	r, err := b.bucket.NewRangeReader(b.ctx, b.key, off, length, nil)
	if gcerrors.Code(err) == gcerrors.NotFound {
		b.err = fmt.Errorf("storage: %s: %w", b.key, treecl.ErrNotExist)
		return nil, b.err
	} else if err != nil {
		b.err = err
		return nil, err
	}
	defer r.Close()
	b.size = r.Size()
	data, err := ioutil.ReadAll(r)
	if err != nil {
		b.err = err
	}
	return data, err
}

func (b *blobReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if b.head == nil {
		head, err := b.fetch(0, headSize)
		if err != nil {
			return 0, err
		}
		b.head = head
	}
	if off+int64(len(p)) <= int64(len(b.head)) {
		return copy(p, b.head[off:]), nil
	}
	if off >= b.size {
		return 0, io.EOF
	}
	data, err := b.fetch(off, int64(len(p)))
	if err != nil {
		return 0, err
	}
	n := copy(p, data)
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *blobReaderAt) WriteAt([]byte, int64) (int, error) {
	return 0, errors.New("storage: blob rasters are read-only")
}

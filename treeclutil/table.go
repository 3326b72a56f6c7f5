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

package treeclutil

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // postgres driver
	"github.com/spatialmodel/treecl"
	"github.com/spatialmodel/treecl/storage"
	"gocloud.dev/blob"
	_ "modernc.org/sqlite" // sqlite driver
)

// LoadResponseTable loads the species response table for the given
// response variable from source, which is either a CSV file (a local
// path or an http, https, gs, or s3 URL) or a database table specified
// as 'sqlite://path?table=name' or 'postgres://user@host/db?table=name'.
// The table name defaults to the response variable name.
func LoadResponseTable(ctx context.Context, source, response string) (*treecl.ResponseTable, error) {
	u, err := url.Parse(source)
	if err == nil {
		switch u.Scheme {
		case "sqlite":
			dsn, table := splitTable(u, response)
			return loadSQLTable(ctx, "sqlite", strings.TrimPrefix(dsn, "sqlite://"), table, response)
		case "postgres", "postgresql":
			dsn, table := splitTable(u, response)
			return loadSQLTable(ctx, "pgx", dsn, table, response)
		}
	}
	r, err := openTable(ctx, source)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return treecl.ReadResponseTable(r, response)
}

// splitTable removes the table query parameter from u, returning the
// remaining URL and the table name.
func splitTable(u *url.URL, response string) (dsn, table string) {
	u2 := *u
	q := u2.Query()
	table = q.Get("table")
	if table == "" {
		table = response
	}
	q.Del("table")
	u2.RawQuery = q.Encode()
	return u2.String(), table
}

func loadSQLTable(ctx context.Context, driver, dsn, table, response string) (*treecl.ResponseTable, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("treecl: opening %s database: %v", driver, err)
	}
	defer db.Close()
	return treecl.ReadResponseTableSQL(ctx, db, table, response)
}

// openTable opens a CSV table file, which may be local or remote.
func openTable(ctx context.Context, path string) (io.ReadCloser, error) {
	switch {
	case strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://"):
		return openHTTP(ctx, path)
	case strings.HasPrefix(path, "gs://") || strings.HasPrefix(path, "s3://"):
		return openBlob(ctx, path)
	}
	f, err := os.Open(strings.TrimPrefix(path, "file://"))
	if err != nil {
		return nil, fmt.Errorf("treecl: opening species table: %v", err)
	}
	return f, nil
}

func openHTTP(ctx context.Context, path string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("treecl: downloading species table: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("treecl: downloading species table: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("treecl: downloading species table %s: %s", path, resp.Status)
	}
	return resp.Body, nil
}

// blobReader closes its bucket along with the reader.
type blobReader struct {
	*blob.Reader
	bucket *blob.Bucket
}

func (r *blobReader) Close() error {
	err := r.Reader.Close()
	if err2 := r.bucket.Close(); err == nil {
		err = err2
	}
	return err
}

func openBlob(ctx context.Context, path string) (io.ReadCloser, error) {
	u, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("treecl: opening species table: %v", err)
	}
	bucket, _, err := storage.OpenBucket(ctx, u.Scheme+"://"+u.Host)
	if err != nil {
		return nil, err
	}
	r, err := bucket.NewReader(ctx, strings.TrimPrefix(u.Path, "/"), nil)
	if err != nil {
		bucket.Close()
		return nil, fmt.Errorf("treecl: opening species table: %v", err)
	}
	return &blobReader{Reader: r, bucket: bucket}, nil
}

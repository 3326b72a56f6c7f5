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

// Package pgtest starts PostgreSQL databases for testing.
package pgtest

import (
	"context"
	"fmt"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// SetupTestDB starts a new PostgreSQL database in a Docker container,
// runs the given SQL statements in it, and returns a URL to connect to
// the database and the running container, which must be terminated by
// the caller. The test is skipped if Docker is not available.
func SetupTestDB(ctx context.Context, t *testing.T, statements ...string) (string, testcontainers.Container) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}
	const (
		dbname = "treecl"
		dbuser = "postgres"
		dbport = "5432/tcp"
	)

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{dbport},
		Env: map[string]string{
			"POSTGRES_DB":               dbname,
			"POSTGRES_USER":             dbuser,
			"POSTGRES_HOST_AUTH_METHOD": "trust",
		},
		// The server restarts once after initialization.
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}
	postgresC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("postgres container is not available: %v", err)
	}

	host, err := postgresC.Host(ctx)
	if err != nil {
		postgresC.Terminate(ctx)
		t.Fatal(err)
	}
	p, err := postgresC.MappedPort(ctx, dbport)
	if err != nil {
		postgresC.Terminate(ctx)
		t.Fatal(err)
	}
	url := fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=disable", dbuser, host, p.Port(), dbname)

	var conn *pgx.Conn
	err = backoff.Retry(func() error {
		conn, err = pgx.Connect(ctx, url)
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 10), ctx))
	if err != nil {
		postgresC.Terminate(ctx)
		t.Fatal(err)
	}
	defer conn.Close(ctx)

	for _, s := range statements {
		if _, err = conn.Exec(ctx, s); err != nil {
			postgresC.Terminate(ctx)
			t.Fatalf("pgtest: %v: %s", err, s)
		}
	}
	return url, postgresC
}

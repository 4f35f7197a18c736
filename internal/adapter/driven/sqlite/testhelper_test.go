package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"testing"
)

// setupTestDB opens a migrated, named in-memory database shared between a
// single-connection writer and a small reader pool. Naming the database after
// the test keeps parallel tests from seeing each other's rows.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	// The test name goes into the file: URI, so escape anything that could
	// read as a path separator or query string. In-memory databases ignore
	// journal_mode, so the WAL pragma used in production is left out here.
	dsn := fmt.Sprintf(
		"file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=cache_size(-64000)",
		url.PathEscape(t.Name()),
	)

	writer := openTestConn(t, dsn, 1)
	reader := openTestConn(t, dsn, 4)

	db := &DB{Writer: writer, Reader: reader, path: dsn}

	if err := RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		t.Fatalf("run migrations: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })

	return db
}

func openTestConn(t *testing.T, dsn string, maxOpen int) *sql.DB {
	t.Helper()

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	conn.SetMaxOpenConns(maxOpen)
	if err := conn.PingContext(context.Background()); err != nil {
		t.Fatalf("ping test db: %v", err)
	}
	return conn
}

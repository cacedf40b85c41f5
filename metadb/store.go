// Package metadb persists response records and tabular response rows in a
// relational store, so previously-fetched tables can be reconstructed
// without network access.
//
// The engine is injected as a *sql.DB; the package owns the schema: a
// fixed "responses" table plus one dynamically-named table per distinct
// tabular response path, created lazily with columns fixed at first use.
package metadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNotFound is returned when no response record matches a lookup.
var ErrNotFound = errors.New("metadb: not found")

// Source enumerates where a response was obtained from.
type Source int

const (
	// SourceHTTP marks a response fetched over HTTP.
	SourceHTTP Source = 1
)

// Record is one response record.
type Record struct {
	Remote    string
	Path      string
	Timestamp int64
	Digest    string
	Source    Source
}

// Store wraps the injected relational engine.
type Store struct {
	db *sql.DB
}

// identRe constrains table and column names interpolated into SQL.
// Everything else about a statement is parameterized.
var identRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// NewStore creates a Store over db and ensures the responses table exists.
func NewStore(ctx context.Context, db *sql.DB) (*Store, error) {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS "responses" (
			remote TEXT,
			path TEXT,
			timestamp INTEGER,
			digest TEXT,
			source INTEGER
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("creating responses table: %w", err)
	}
	return &Store{db: db}, nil
}

// TableName derives the table name for a tabular response path
// ("/cdns" -> "cdns") and validates it.
func TableName(path string) (string, error) {
	name := strings.Trim(path, "/")
	if !identRe.MatchString(name) {
		return "", fmt.Errorf("metadb: path %q does not derive a valid table name", path)
	}
	return name, nil
}

// validColumns rejects header names that cannot be interpolated safely.
func validColumns(header []string) error {
	for _, col := range header {
		if !identRe.MatchString(col) {
			return fmt.Errorf("metadb: invalid column name %q", col)
		}
		switch strings.ToLower(col) {
		case "remote", "key", "row":
			return fmt.Errorf("metadb: column name %q collides with a reserved column", col)
		}
	}
	return nil
}

// IndexTabular replaces the rows for (remote, digest) in the table named
// for path and records the response, all in one transaction: existing rows
// for the digest are deleted, the fresh rows are inserted tagged with
// their ordinal, and the response record is appended. A re-fetch of the
// same digest therefore fully replaces its prior row set, while a new
// digest for the same path leaves earlier digests untouched.
func (s *Store) IndexTabular(ctx context.Context, rec Record, header []string, rows [][]string) error {
	table, err := TableName(rec.Path)
	if err != nil {
		return err
	}
	if err := validColumns(header); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cols := make([]string, len(header))
	for i, col := range header {
		cols[i] = `"` + col + `"`
	}

	createStmt := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS "%s" (remote TEXT, "key" TEXT, "row" INTEGER, %s)`,
		table, strings.Join(cols, " TEXT, ")+" TEXT",
	)
	if _, err := tx.ExecContext(ctx, createStmt); err != nil {
		return fmt.Errorf("creating table %s: %w", table, err)
	}

	deleteStmt := fmt.Sprintf(`DELETE FROM "%s" WHERE remote = ? AND "key" = ?`, table)
	if _, err := tx.ExecContext(ctx, deleteStmt, rec.Remote, rec.Digest); err != nil {
		return fmt.Errorf("deleting rows from %s: %w", table, err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(header)), ", ")
	insertStmt := fmt.Sprintf(
		`INSERT INTO "%s" (remote, "key", "row", %s) VALUES (?, ?, ?, %s)`,
		table, strings.Join(cols, ", "), placeholders,
	)
	stmt, err := tx.PrepareContext(ctx, insertStmt)
	if err != nil {
		return fmt.Errorf("preparing insert for %s: %w", table, err)
	}
	defer func() { _ = stmt.Close() }()

	for i, row := range rows {
		if len(row) != len(header) {
			return fmt.Errorf("metadb: row %d has %d fields, header has %d", i, len(row), len(header))
		}
		args := make([]any, 0, 3+len(row))
		args = append(args, rec.Remote, rec.Digest, i)
		for _, field := range row {
			args = append(args, field)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("inserting row %d into %s: %w", i, table, err)
		}
	}

	// One logical record per (remote, digest): a re-fetch of the same
	// digest replaces its record rather than stacking duplicates.
	_, err = tx.ExecContext(ctx, `
		DELETE FROM "responses" WHERE remote = ? AND digest = ?
	`, rec.Remote, rec.Digest)
	if err != nil {
		return fmt.Errorf("replacing response record: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO "responses" (remote, path, timestamp, digest, source)
		VALUES (?, ?, ?, ?, ?)
	`, rec.Remote, rec.Path, rec.Timestamp, rec.Digest, int(rec.Source))
	if err != nil {
		return fmt.Errorf("recording response: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

// LatestDigest returns the digest of the most recent response record for
// (remote, path), or ErrNotFound.
func (s *Store) LatestDigest(ctx context.Context, remote, path string) (string, error) {
	var digest string
	err := s.db.QueryRowContext(ctx, `
		SELECT digest
		FROM "responses"
		WHERE remote = ? AND path = ?
		ORDER BY timestamp DESC
		LIMIT 1
	`, remote, path).Scan(&digest)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("no response for (%s, %s): %w", remote, path, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("querying responses: %w", err)
	}
	return digest, nil
}

// TabularRows returns the rows stored for (remote, digest) in the table
// named for path, ordered by their original ordinal. Columns are returned
// in the order given by header.
func (s *Store) TabularRows(ctx context.Context, remote, path, digest string, header []string) ([][]string, error) {
	table, err := TableName(path)
	if err != nil {
		return nil, err
	}
	if err := validColumns(header); err != nil {
		return nil, err
	}

	cols := make([]string, len(header))
	for i, col := range header {
		cols[i] = `"` + col + `"`
	}

	query := fmt.Sprintf(
		`SELECT %s FROM "%s" WHERE remote = ? AND "key" = ? ORDER BY "row"`,
		strings.Join(cols, ", "), table,
	)
	rows, err := s.db.QueryContext(ctx, query, remote, digest)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var out [][]string
	for rows.Next() {
		values := make([]string, len(header))
		scan := make([]any, len(header))
		for i := range values {
			scan[i] = &values[i]
		}
		if err := rows.Scan(scan...); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", table, err)
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s: %w", table, err)
	}
	return out, nil
}

// ResponseCount returns the number of response records for (remote, path).
func (s *Store) ResponseCount(ctx context.Context, remote, path string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM "responses" WHERE remote = ? AND path = ?
	`, remote, path).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting responses: %w", err)
	}
	return n, nil
}

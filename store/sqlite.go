// Package store provides SQLite-backed persistence for the authoritative
// asset store: published assets keyed by fingerprint plus a named head
// pointing at the current solution root.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"graphmirror/asset"
	"graphmirror/cas"
	"graphmirror/graph"
)

//go:embed schema.sql
var schemaSQL string

//go:embed pragmas.sql
var pragmasSQL string

var (
	ErrHeadNotFound = errors.New("head not found")
	ErrStaleHead    = errors.New("head update is older than stored head")
)

// PrimaryHead is the default head name for the primary branch.
const PrimaryHead = "primary"

// DB wraps a SQLite connection holding published assets. It implements
// asset.Store.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens or creates a database at the given path.
func Open(dbPath string) (*DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	db := &DB{conn: conn, path: dbPath}

	for _, pragma := range strings.Split(pragmasSQL, "\n") {
		pragma = strings.TrimSpace(pragma)
		if pragma == "" || strings.HasPrefix(pragma, "--") {
			continue
		}
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", pragma, err)
		}
	}

	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// PublishSolution flattens a snapshot into the assets table and advances the
// primary head to its root, all in one transaction. Re-published shared
// subtrees land on their existing rows. A version older than the stored
// head fails with ErrStaleHead and publishes nothing.
func (db *DB) PublishSolution(ctx context.Context, sol *graph.Solution, version int64) error {
	flat, err := asset.Flatten(sol)
	if err != nil {
		return fmt.Errorf("flattening solution: %w", err)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()
	for sum, a := range flat {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO assets (checksum, kind, data, created_at) VALUES (?, ?, ?, ?)`,
			sum[:], string(a.Kind), a.Data, now,
		)
		if err != nil {
			return fmt.Errorf("inserting asset %s: %w", sum.Short(), err)
		}
	}

	if err := setHeadTx(ctx, tx, PrimaryHead, sol.Checksum(), version, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func setHeadTx(ctx context.Context, tx *sql.Tx, name string, sum cas.Fingerprint, version int64, now int64) error {
	var stored int64
	err := tx.QueryRowContext(ctx, `SELECT version FROM heads WHERE name = ?`, name).Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
		// first head
	case err != nil:
		return fmt.Errorf("querying head: %w", err)
	case version < stored:
		return fmt.Errorf("version %d behind stored %d: %w", version, stored, ErrStaleHead)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO heads (name, checksum, version, updated_at) VALUES (?, ?, ?, ?)`,
		name, sum[:], version, now,
	)
	if err != nil {
		return fmt.Errorf("updating head: %w", err)
	}
	return nil
}

// Head returns the primary head's root fingerprint and version.
func (db *DB) Head(ctx context.Context) (cas.Fingerprint, int64, error) {
	var raw []byte
	var version int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT checksum, version FROM heads WHERE name = ?`, PrimaryHead,
	).Scan(&raw, &version)
	if err == sql.ErrNoRows {
		return cas.Fingerprint{}, 0, ErrHeadNotFound
	}
	if err != nil {
		return cas.Fingerprint{}, 0, fmt.Errorf("querying head: %w", err)
	}

	sum, err := cas.FromBytes(raw)
	if err != nil {
		return cas.Fingerprint{}, 0, fmt.Errorf("stored head: %w", err)
	}
	return sum, version, nil
}

// Resolve implements asset.Store: bulk lookup, failing the whole call with
// asset.ErrNotFound on the first unknown fingerprint.
func (db *DB) Resolve(ctx context.Context, sums []cas.Fingerprint) (map[cas.Fingerprint]*asset.Asset, error) {
	out := make(map[cas.Fingerprint]*asset.Asset, len(sums))
	for _, sum := range sums {
		var kind string
		var data []byte
		err := db.conn.QueryRowContext(ctx,
			`SELECT kind, data FROM assets WHERE checksum = ?`, sum[:],
		).Scan(&kind, &data)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("resolving %s: %w", sum.Short(), asset.ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("querying asset %s: %w", sum.Short(), err)
		}
		out[sum] = &asset.Asset{Sum: sum, Kind: graph.NodeKind(kind), Data: data}
	}
	return out, nil
}

// AssetCount returns the number of stored assets.
func (db *DB) AssetCount(ctx context.Context) (int64, error) {
	var n int64
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM assets`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

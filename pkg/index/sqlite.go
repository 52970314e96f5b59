package index

import (
	"context"
	"database/sql"
	"fmt"
	"math/bits"
	"os"
	"path/filepath"

	"github.com/mattn/go-sqlite3"

	"github.com/pdxmph/archdedup/pkg/duplicate"
)

// driverName is go-sqlite3 with the phash_distance function registered on
// every connection
const driverName = "sqlite3_archdedup"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("phash_distance", phashDistance, true)
		},
	})
}

// phashDistance is the Hamming distance between two 64 bit perceptual hashes
func phashDistance(a, b int64) int64 {
	return int64(bits.OnesCount64(uint64(a) ^ uint64(b)))
}

// SQLiteIndex is the hash index stored in a local SQLite database
type SQLiteIndex struct {
	db *sql.DB
}

// Open creates or opens the index database at dbPath
func Open(dbPath string) (*SQLiteIndex, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}

	db, err := sql.Open(driverName, dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	idx := &SQLiteIndex{db: db}
	if err := idx.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	return idx, nil
}

// init creates the database schema
func (x *SQLiteIndex) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		owner_path    TEXT NOT NULL,
		internal_path TEXT NOT NULL,
		exact_hash    TEXT NOT NULL,
		phash         INTEGER,
		width         INTEGER,
		height        INTEGER,
		PRIMARY KEY (owner_path, internal_path)
	);

	CREATE INDEX IF NOT EXISTS idx_exact_hash ON entries(exact_hash);
	CREATE INDEX IF NOT EXISTS idx_phash ON entries(phash);
	`

	_, err := x.db.Exec(schema)
	return err
}

// Insert saves records, replacing any existing record for the same entry
func (x *SQLiteIndex) Insert(ctx context.Context, records ...duplicate.HashRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO entries
		(owner_path, internal_path, exact_hash, phash, width, height)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		var phash sql.NullInt64
		if r.HasPHash {
			phash = sql.NullInt64{Int64: int64(r.PHash), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, r.OwnerPath, r.InternalPath, r.ExactHash, phash, r.Width, r.Height); err != nil {
			return fmt.Errorf("insert %s:%s: %w", r.OwnerPath, r.InternalPath, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}
	return nil
}

const selectColumns = `SELECT owner_path, internal_path, exact_hash, phash, width, height FROM entries`

// LookupExact returns records with a matching exact hash outside excludePath
func (x *SQLiteIndex) LookupExact(ctx context.Context, hash, excludePath string) ([]duplicate.HashRecord, error) {
	rows, err := x.db.QueryContext(ctx,
		selectColumns+` WHERE exact_hash = ? AND owner_path != ? ORDER BY owner_path, internal_path`,
		hash, excludePath)
	if err != nil {
		return nil, fmt.Errorf("query exact hash: %w", err)
	}
	return scanRecords(rows)
}

// LookupWithinDistance returns records whose perceptual hash is at most
// maxDistance bits from phash, outside excludePath
func (x *SQLiteIndex) LookupWithinDistance(ctx context.Context, phash uint64, maxDistance int, excludePath string) ([]duplicate.HashRecord, error) {
	// CASE keeps NULL phashes away from phash_distance
	rows, err := x.db.QueryContext(ctx,
		selectColumns+`
		WHERE owner_path != ?
		  AND CASE WHEN phash IS NULL THEN 0 ELSE phash_distance(phash, ?) <= ? END
		ORDER BY owner_path, internal_path`,
		excludePath, int64(phash), maxDistance)
	if err != nil {
		return nil, fmt.Errorf("query phash distance: %w", err)
	}
	return scanRecords(rows)
}

// DeleteAllForPath removes every record owned by path
func (x *SQLiteIndex) DeleteAllForPath(ctx context.Context, path string) error {
	if _, err := x.db.ExecContext(ctx, `DELETE FROM entries WHERE owner_path = ?`, path); err != nil {
		return fmt.Errorf("delete records for %s: %w", path, err)
	}
	return nil
}

// RecordsForPath returns the records owned by path
func (x *SQLiteIndex) RecordsForPath(ctx context.Context, path string) ([]duplicate.HashRecord, error) {
	rows, err := x.db.QueryContext(ctx, selectColumns+` WHERE owner_path = ? ORDER BY internal_path`, path)
	if err != nil {
		return nil, fmt.Errorf("query records for %s: %w", path, err)
	}
	return scanRecords(rows)
}

// Paths lists every indexed archive
func (x *SQLiteIndex) Paths(ctx context.Context) ([]string, error) {
	rows, err := x.db.QueryContext(ctx, `SELECT DISTINCT owner_path FROM entries ORDER BY owner_path`)
	if err != nil {
		return nil, fmt.Errorf("query paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func scanRecords(rows *sql.Rows) ([]duplicate.HashRecord, error) {
	defer rows.Close()

	var records []duplicate.HashRecord
	for rows.Next() {
		var r duplicate.HashRecord
		var phash sql.NullInt64
		var width, height sql.NullInt64

		if err := rows.Scan(&r.OwnerPath, &r.InternalPath, &r.ExactHash, &phash, &width, &height); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		if phash.Valid {
			r.PHash = uint64(phash.Int64)
			r.HasPHash = true
		}
		r.Width = int(width.Int64)
		r.Height = int(height.Int64)
		records = append(records, r)
	}

	return records, rows.Err()
}

// Close closes the database connection
func (x *SQLiteIndex) Close() error {
	return x.db.Close()
}

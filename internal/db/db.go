// Package db mirrors the loaded candidate table into an in-memory SQLite
// database so it can be inspected with SQL from the debug pages. The mirror
// lives and dies with the process. The snapshot download is staged in a
// temporary file that is removed once it has been sent.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/exodash/internal/exoplanet"
)

// MemoryDSN opens a private in-memory database.
const MemoryDSN = ":memory:"

type DB struct {
	*sql.DB
	x *sqlx.DB
}

// NewDB opens the database at dsn and applies the embedded migrations. Pass
// MemoryDSN for the usual in-memory mirror.
func NewDB(dsn string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// Each connection to :memory: is a separate database.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)

	db := &DB{DB: sqlDB, x: sqlx.NewDb(sqlDB, "sqlite")}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// LoadRecord is one row of the loads table.
type LoadRecord struct {
	ID       int64     `json:"id"`
	Source   string    `json:"source"`
	LoadedAt time.Time `json:"loaded_at"`
	Fetched  int       `json:"fetched"`
	Kept     int       `json:"kept"`
	Skipped  int       `json:"skipped"`
	Excluded int       `json:"excluded"`
}

// ReplaceTable swaps the mirrored candidates for the rows of t and records
// the load metadata, in one transaction.
func (db *DB) ReplaceTable(ctx context.Context, t *exoplanet.Table) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM candidates`); err != nil {
		return fmt.Errorf("clear candidates: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candidates (
			row_id, orbital_period_days, planet_radius, star_radius,
			planet_temperature, semi_major_axis, star_size
		) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range t.Rows() {
		if _, err := stmt.ExecContext(ctx,
			r.RowID, r.OrbitalPeriodDays, r.PlanetRadius, r.StarRadius,
			r.PlanetTemperature, r.SemiMajorAxis, string(r.StarSize),
		); err != nil {
			return fmt.Errorf("insert row %s: %w", r.RowID, err)
		}
	}

	meta := t.Meta()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO loads (source, loaded_at, fetched, kept, skipped, excluded)
		VALUES (?, ?, ?, ?, ?, ?)`,
		meta.Source, meta.LoadedAt.UTC().Format(time.RFC3339Nano),
		meta.Fetched, t.Len(), meta.Skipped, meta.Excluded,
	); err != nil {
		return fmt.Errorf("record load: %w", err)
	}

	return tx.Commit()
}

// CandidateCount returns the number of mirrored rows.
func (db *DB) CandidateCount(ctx context.Context) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM candidates`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// CountByStarSize returns the number of mirrored rows per star-size label.
func (db *DB) CountByStarSize(ctx context.Context) (map[exoplanet.StarSize]int, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT star_size, COUNT(*) FROM candidates GROUP BY star_size`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[exoplanet.StarSize]int)
	for rows.Next() {
		var label string
		var n int
		if err := rows.Scan(&label, &n); err != nil {
			return nil, err
		}
		counts[exoplanet.StarSize(label)] = n
	}
	return counts, rows.Err()
}

// MatchingRowIDs runs the dashboard filter as SQL and returns the matching
// row ids in insertion order. It backs the debug filter check.
func (db *DB) MatchingRowIDs(ctx context.Context, fs exoplanet.FilterState) ([]string, error) {
	ids := make([]string, 0)
	labels := make([]string, 0, len(fs.StarSizes))
	for _, l := range fs.StarSizes.Labels() {
		if l != exoplanet.Unclassified {
			labels = append(labels, string(l))
		}
	}
	if len(labels) == 0 || fs.Radius.Min >= fs.Radius.Max {
		return ids, nil
	}

	query, args, err := sq.Select("row_id").
		From("candidates").
		Where(sq.Gt{"planet_radius": fs.Radius.Min}).
		Where(sq.Lt{"planet_radius": fs.Radius.Max}).
		Where(sq.Eq{"star_size": labels}).
		OrderBy("rowid").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build filter query: %w", err)
	}
	if err := db.x.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, err
	}
	return ids, nil
}

type loadRow struct {
	ID       int64  `db:"load_id"`
	Source   string `db:"source"`
	LoadedAt string `db:"loaded_at"`
	Fetched  int    `db:"fetched"`
	Kept     int    `db:"kept"`
	Skipped  int    `db:"skipped"`
	Excluded int    `db:"excluded"`
}

// Loads returns the recorded loads, newest first.
func (db *DB) Loads(ctx context.Context) ([]LoadRecord, error) {
	var rows []loadRow
	if err := db.x.SelectContext(ctx, &rows, `
		SELECT load_id, source, loaded_at, fetched, kept, skipped, excluded
		FROM loads ORDER BY load_id DESC`); err != nil {
		return nil, err
	}

	out := make([]LoadRecord, 0, len(rows))
	for _, r := range rows {
		loadedAt, err := time.Parse(time.RFC3339Nano, r.LoadedAt)
		if err != nil {
			return nil, fmt.Errorf("parse loaded_at %q: %w", r.LoadedAt, err)
		}
		out = append(out, LoadRecord{
			ID:       r.ID,
			Source:   r.Source,
			LoadedAt: loadedAt,
			Fetched:  r.Fetched,
			Kept:     r.Kept,
			Skipped:  r.Skipped,
			Excluded: r.Excluded,
		})
	}
	return out, nil
}

package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"notewatch/internal/content"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS watermarks (
    category TEXT PRIMARY KEY,
    last_id  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS marks (
    name TEXT PRIMARY KEY,
    at   TEXT NOT NULL
);
`

const lastAlertMark = "last_alert_at"

type sqliteBackend struct {
	db *sql.DB
}

func openSqlite(path string) (Backend, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &sqliteBackend{db: db}, nil
}

func (b *sqliteBackend) Load(ctx context.Context) (State, error) {
	st := State{Watermarks: map[content.Category]uint64{}}

	rows, err := b.db.QueryContext(ctx, "SELECT category, last_id FROM watermarks")
	if err != nil {
		return State{}, fmt.Errorf("load watermarks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var id int64
		if err := rows.Scan(&name, &id); err != nil {
			return State{}, fmt.Errorf("scan watermark: %w", err)
		}
		cat, err := content.ParseCategory(name)
		if err != nil {
			continue
		}
		st.Watermarks[cat] = uint64(id)
	}
	if err := rows.Err(); err != nil {
		return State{}, fmt.Errorf("load watermarks: %w", err)
	}

	var at string
	err = b.db.QueryRowContext(ctx, "SELECT at FROM marks WHERE name = ?", lastAlertMark).Scan(&at)
	switch {
	case err == sql.ErrNoRows:
		// never alerted
	case err != nil:
		return State{}, fmt.Errorf("load alert mark: %w", err)
	default:
		if t, perr := time.Parse(time.RFC3339Nano, at); perr == nil {
			st.LastAlertAt = t
		}
	}
	return st, nil
}

func (b *sqliteBackend) Save(ctx context.Context, st State) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for cat, id := range st.Watermarks {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO watermarks(category, last_id) VALUES(?, ?) ON CONFLICT(category) DO UPDATE SET last_id = excluded.last_id",
			cat.String(), int64(id)); err != nil {
			return fmt.Errorf("save watermark %s: %w", cat, err)
		}
	}
	if !st.LastAlertAt.IsZero() {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO marks(name, at) VALUES(?, ?) ON CONFLICT(name) DO UPDATE SET at = excluded.at",
			lastAlertMark, st.LastAlertAt.Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("save alert mark: %w", err)
		}
	}
	return tx.Commit()
}

func (b *sqliteBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

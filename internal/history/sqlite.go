package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rbright/tospeak/internal/notification"
	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// SQLite persists entries in a single-file database and keeps at most limit rows.
type SQLite struct {
	db    *sql.DB
	limit int
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(ctx context.Context, path string, limit int) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite history path is required")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// One writer keeps SQLite free of lock contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout = 5000")
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	s := &SQLite{db: db, limit: limit}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	_ = os.Chmod(path, 0o600)
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

// Append inserts entries in one transaction and prunes rows beyond the limit.
func (s *SQLite) Append(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO entries(id, type, source, app, app_id, title, text, message, spoken, outcome, at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx,
			e.ID, string(e.Type), nullStr(e.Source), nullStr(e.App), nullStr(e.AppID),
			nullStr(e.Title), nullStr(e.Text), nullStr(e.Message), nullStr(e.Spoken),
			nullStr(e.Outcome), e.At.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("insert history entry %s: %w", e.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM entries WHERE seq <= (SELECT MAX(seq) FROM entries) - ?`, s.limit); err != nil {
		return fmt.Errorf("prune history: %w", err)
	}
	return tx.Commit()
}

// Recent returns up to limit of the newest entries, oldest first.
func (s *SQLite) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = s.limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, source, app, app_id, title, text, message, spoken, outcome, at
		 FROM (SELECT * FROM entries ORDER BY seq DESC LIMIT ?) ORDER BY seq ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                                                          Entry
			typ, at                                                    string
			source, app, appID, title, text, message, spoken, outcome sql.NullString
		)
		if err := rows.Scan(&e.ID, &typ, &source, &app, &appID, &title, &text, &message, &spoken, &outcome, &at); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		e.Type = notification.Type(typ)
		e.Source = source.String
		e.App = app.String
		e.AppID = appID.String
		e.Title = title.String
		e.Text = text.String
		e.Message = message.String
		e.Spoken = spoken.String
		e.Outcome = outcome.String
		if ts, err := time.Parse(time.RFC3339Nano, at); err == nil {
			e.At = ts
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Clear deletes every row.
func (s *SQLite) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM entries`)
	return err
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}

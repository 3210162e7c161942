package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const defaultListLimit = 50

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// NewSQLiteStore opens (creating if needed) the index in cfg.Dir.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Dir == "" {
		return nil, errors.New("session directory not configured")
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	db, err := sql.Open("sqlite", DBPath(cfg.Dir)+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate session index: %w", err)
	}

	store := &SQLiteStore{db: db, cfg: cfg}
	if err := store.cleanup(); err != nil {
		slog.Warn("session cleanup failed", "error", err)
	}
	return store, nil
}

// migrations[i] moves the index from user_version i to i+1. Indexes written
// before versioning report 0 and replay every step, so each one tolerates
// work that is already done.
var migrations = []func(tx *sql.Tx) error{
	func(tx *sql.Tx) error {
		_, err := tx.Exec(`CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			summary    TEXT,
			provider   TEXT NOT NULL,
			model      TEXT NOT NULL,
			status     TEXT DEFAULT 'active',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`)
		return err
	},
	func(tx *sql.Tx) error {
		return ensureColumns(tx, map[string]string{
			"mode":        "TEXT DEFAULT 'chat'",
			"cwd":         "TEXT",
			"entry_count": "INTEGER DEFAULT 0",
		})
	},
	func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status)`,
		} {
			if _, err := tx.Exec(stmt); err != nil {
				return err
			}
		}
		return nil
	},
}

// migrate brings db up to len(migrations), one transaction per step.
func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for v := version; v < len(migrations); v++ {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if err := migrations[v](tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("step %d: %w", v+1, err)
		}
		// PRAGMA does not take bind parameters.
		if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, v+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("step %d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("step %d: %w", v+1, err)
		}
	}
	return nil
}

// ensureColumns adds whichever of cols the sessions table lacks.
func ensureColumns(tx *sql.Tx, cols map[string]string) error {
	rows, err := tx.Query(`SELECT name FROM pragma_table_info('sessions')`)
	if err != nil {
		return err
	}
	have := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		have[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if have[name] {
			continue
		}
		if _, err := tx.Exec("ALTER TABLE sessions ADD COLUMN " + name + " " + cols[name]); err != nil {
			return fmt.Errorf("add column %s: %w", name, err)
		}
	}
	return nil
}

// cleanup removes sessions untouched for longer than MaxAgeDays.
func (s *SQLiteStore) cleanup() error {
	if s.cfg.MaxAgeDays <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -s.cfg.MaxAgeDays)
	if _, err := s.db.Exec("DELETE FROM sessions WHERE updated_at < ?", cutoff); err != nil {
		return fmt.Errorf("delete old sessions: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, sess *Session) error {
	sess.fillDefaults(time.Now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, nullString(sess.Summary), sess.Provider, sess.Model, string(sess.Mode),
		nullString(sess.CWD), string(sess.Status), sess.EntryCount, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", sess.ID, err)
	}
	return nil
}

const sessionColumns = `id, summary, provider, model, mode, cwd, status, entry_count, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var sess Session
	var summary, mode, cwd, status sql.NullString
	err := row.Scan(&sess.ID, &summary, &sess.Provider, &sess.Model, &mode, &cwd,
		&status, &sess.EntryCount, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return Session{}, err
	}
	sess.Summary = summary.String
	sess.Mode = Mode(mode.String)
	sess.CWD = cwd.String
	sess.Status = Status(status.String)
	return sess, nil
}

// Get returns the session with id, or nil if there is none.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return &sess, nil
}

// List returns sessions matching opts, most recently updated first.
// A negative Limit returns every match.
func (s *SQLiteStore) List(ctx context.Context, opts ListOptions) ([]Session, error) {
	var where []string
	var args []any
	for col, val := range map[string]string{
		"provider": opts.Provider,
		"mode":     string(opts.Mode),
		"status":   string(opts.Status),
	} {
		if val != "" {
			where = append(where, col+" = ?")
			args = append(args, val)
		}
	}
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := opts.Limit
	if limit == 0 {
		limit = defaultListLimit
	}
	query += " ORDER BY updated_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, max(opts.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status Status) error {
	return s.exec(ctx, id, `UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now(), id)
}

func (s *SQLiteStore) Touch(ctx context.Context, id string, entryCount int, summary string) error {
	return s.exec(ctx, id, `
		UPDATE sessions SET
		       entry_count = ?,
		       summary = CASE WHEN summary IS NULL OR summary = '' THEN ? ELSE summary END,
		       updated_at = ?
		WHERE id = ?`,
		entryCount, nullString(TruncateSummary(summary)), time.Now(), id)
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	return s.exec(ctx, id, "DELETE FROM sessions WHERE id = ?", id)
}

func (s *SQLiteStore) exec(ctx context.Context, id, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// nullString converts an empty string to NULL for database storage.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/mcpgate/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// DSN is a filesystem path to the SQLite database file. Use ":memory:" for in-memory.
type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	// The busy timeout rides in the DSN so every connection gets it, not
	// just the one a plain Exec would hit.
	sep := "?"
	if strings.Contains(p, "?") {
		sep = "&"
	}
	d, err := sql.Open("sqlite", p+sep+"_pragma=busy_timeout(3000)")
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer at a time; a single pooled connection queues
	// concurrent writers on the busy timeout instead of failing SQLITE_BUSY.
	d.SetMaxOpenConns(1)
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS servers(
			id TEXT PRIMARY KEY,
			command TEXT NOT NULL,
			args TEXT NOT NULL,
			env TEXT NOT NULL,
			cwd TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS server_events(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			server_id TEXT NOT NULL,
			event TEXT NOT NULL,
			pid INTEGER NOT NULL,
			detail TEXT NULL,
			occurred_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_server_events_server ON server_events(server_id);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) UpsertServer(ctx context.Context, rec store.ServerRecord) error {
	args, env, err := encodeSpec(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO servers(id, command, args, env, cwd, updated_at)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			command=excluded.command,
			args=excluded.args,
			env=excluded.env,
			cwd=excluded.cwd,
			updated_at=excluded.updated_at;`,
		rec.ID, rec.Command, args, env, rec.Cwd, time.Now().UTC())
	return err
}

func (s *DB) GetServer(ctx context.Context, id string) (store.ServerRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, command, args, env, cwd, updated_at FROM servers WHERE id=?;`, id)
	return scanServer(row)
}

func (s *DB) ListServers(ctx context.Context) ([]store.ServerRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, command, args, env, cwd, updated_at FROM servers ORDER BY id;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []store.ServerRecord
	for rows.Next() {
		rec, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *DB) DeleteServer(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM servers WHERE id=?;`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *DB) RecordEvent(ctx context.Context, rec store.EventRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO server_events(server_id, event, pid, detail, occurred_at)
		VALUES(?, ?, ?, ?, ?);`,
		rec.ServerID, rec.Event, rec.PID, rec.Detail, rec.OccurredAt.UTC())
	return err
}

func (s *DB) Events(ctx context.Context, serverID string, limit int) ([]store.EventRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT server_id, event, pid, COALESCE(detail,''), occurred_at
		FROM server_events WHERE server_id=? ORDER BY id DESC LIMIT ?;`, serverID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []store.EventRecord
	for rows.Next() {
		var rec store.EventRecord
		if err := rows.Scan(&rec.ServerID, &rec.Event, &rec.PID, &rec.Detail, &rec.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanServer(row scanner) (store.ServerRecord, error) {
	var rec store.ServerRecord
	var args, env string
	err := row.Scan(&rec.ID, &rec.Command, &args, &env, &rec.Cwd, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, store.ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	return rec, decodeSpec(&rec, args, env)
}

func encodeSpec(rec store.ServerRecord) (args, env string, err error) {
	ab, err := json.Marshal(rec.Args)
	if err != nil {
		return "", "", err
	}
	eb, err := json.Marshal(rec.Env)
	if err != nil {
		return "", "", err
	}
	return string(ab), string(eb), nil
}

func decodeSpec(rec *store.ServerRecord, args, env string) error {
	if args != "" {
		if err := json.Unmarshal([]byte(args), &rec.Args); err != nil {
			return err
		}
	}
	if env != "" {
		if err := json.Unmarshal([]byte(env), &rec.Env); err != nil {
			return err
		}
	}
	return nil
}

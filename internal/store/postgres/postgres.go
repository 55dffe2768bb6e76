package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/mcpgate/internal/store"
)

// DB implements store.Store on PostgreSQL via the pgx stdlib driver.
type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS servers(
			id TEXT PRIMARY KEY,
			command TEXT NOT NULL,
			args JSONB NOT NULL,
			env JSONB NOT NULL,
			cwd TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS server_events(
			id BIGSERIAL PRIMARY KEY,
			server_id TEXT NOT NULL,
			event TEXT NOT NULL,
			pid INTEGER NOT NULL,
			detail TEXT NULL,
			occurred_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_server_events_server ON server_events(server_id);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) UpsertServer(ctx context.Context, rec store.ServerRecord) error {
	args, err := json.Marshal(rec.Args)
	if err != nil {
		return err
	}
	env, err := json.Marshal(rec.Env)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO servers(id, command, args, env, cwd, updated_at)
		VALUES($1,$2,$3,$4,$5,$6)
		ON CONFLICT(id) DO UPDATE SET
			command=EXCLUDED.command,
			args=EXCLUDED.args,
			env=EXCLUDED.env,
			cwd=EXCLUDED.cwd,
			updated_at=EXCLUDED.updated_at;`,
		rec.ID, rec.Command, string(args), string(env), rec.Cwd, time.Now().UTC())
	return err
}

func (p *DB) GetServer(ctx context.Context, id string) (store.ServerRecord, error) {
	var rec store.ServerRecord
	var args, env []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT id, command, args, env, cwd, updated_at FROM servers WHERE id=$1;`, id).
		Scan(&rec.ID, &rec.Command, &args, &env, &rec.Cwd, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, store.ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(args, &rec.Args); err != nil {
		return rec, err
	}
	if err := json.Unmarshal(env, &rec.Env); err != nil {
		return rec, err
	}
	return rec, nil
}

func (p *DB) ListServers(ctx context.Context) ([]store.ServerRecord, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, command, args, env, cwd, updated_at FROM servers ORDER BY id;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []store.ServerRecord
	for rows.Next() {
		var rec store.ServerRecord
		var args, env []byte
		if err := rows.Scan(&rec.ID, &rec.Command, &args, &env, &rec.Cwd, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(args, &rec.Args); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(env, &rec.Env); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *DB) DeleteServer(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM servers WHERE id=$1;`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (p *DB) RecordEvent(ctx context.Context, rec store.EventRecord) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO server_events(server_id, event, pid, detail, occurred_at)
		VALUES($1,$2,$3,$4,$5);`,
		rec.ServerID, rec.Event, rec.PID, rec.Detail, rec.OccurredAt.UTC())
	return err
}

func (p *DB) Events(ctx context.Context, serverID string, limit int) ([]store.EventRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT server_id, event, pid, COALESCE(detail,''), occurred_at
		FROM server_events WHERE server_id=$1 ORDER BY id DESC LIMIT $2;`, serverID, limit)
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

package varstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	logx "udpcast/pkg/logx"
)

const valueSchema = `
CREATE TABLE IF NOT EXISTS vars (
	name       TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL
);`

// valueDB persists committed variable values so they survive restarts.
type valueDB struct {
	db  *sql.DB
	log logx.Logger
}

func openValueDB(cfg PersistConfig, log logx.Logger) (*valueDB, error) {
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(valueSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &valueDB{db: db, log: log}, nil
}

func (p *valueDB) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *valueDB) load() (map[string]string, error) {
	rows, err := p.db.Query(`SELECT name, value FROM vars`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		out[name] = value
	}
	return out, rows.Err()
}

func (p *valueDB) put(name, value string) error {
	_, err := p.db.Exec(
		`INSERT INTO vars(name, value, updated_at) VALUES(?,?,?)
		 ON CONFLICT(name) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		name, value, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

package rolling

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rcliao/avatar-memory/internal/model"
)

// SQLiteStore keeps rolling state in a single SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS rolling_state (
		namespace   TEXT PRIMARY KEY,
		state       TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, namespace string) (*model.RollingState, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM rolling_state WHERE namespace = ?`, namespace).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return &model.RollingState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load rolling state %s: %w", namespace, err)
	}
	return decodeState([]byte(raw))
}

func (s *SQLiteStore) Save(ctx context.Context, namespace string, st *model.RollingState) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO rolling_state (namespace, state, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(namespace) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		namespace, string(b), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save rolling state %s: %w", namespace, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

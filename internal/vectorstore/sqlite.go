package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rcliao/avatar-memory/internal/model"
)

// SQLiteStore implements Store on a local SQLite file. It keeps every
// index in one database and is meant for development and inspection.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{db: db, path: dbPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS vector_indexes (
		name        TEXT PRIMARY KEY,
		dimension   INTEGER NOT NULL,
		metric      TEXT NOT NULL DEFAULT 'cosine',
		cloud       TEXT,
		region      TEXT,
		created_at  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS vectors (
		index_name  TEXT NOT NULL REFERENCES vector_indexes(name) ON DELETE CASCADE,
		namespace   TEXT NOT NULL,
		id          TEXT NOT NULL,
		vec         TEXT NOT NULL,
		metadata    TEXT,
		updated_at  TEXT NOT NULL,
		PRIMARY KEY (index_name, namespace, id)
	);
	CREATE INDEX IF NOT EXISTS idx_vectors_ns ON vectors(index_name, namespace);
	CREATE INDEX IF NOT EXISTS idx_vectors_updated ON vectors(updated_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) EnsureIndex(ctx context.Context, spec IndexSpec) error {
	spec = spec.withDefaults()
	if strings.TrimSpace(spec.Name) == "" {
		return fmt.Errorf("index name required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vector_indexes (name, dimension, metric, cloud, region, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO NOTHING`,
		spec.Name, spec.Dimension, spec.Metric, spec.Region.Cloud, spec.Region.Region,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("ensure index %s: %w", spec.Name, err)
	}
	return nil
}

func (s *SQLiteStore) indexDimension(ctx context.Context, q querier, index string) (int, error) {
	var dim int
	err := q.QueryRowContext(ctx, `SELECT dimension FROM vector_indexes WHERE name = ?`, index).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("index %s: %w", index, ErrNotFound)
	}
	return dim, err
}

func (s *SQLiteStore) Upsert(ctx context.Context, index, namespace string, vectors []model.Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	dim, err := s.indexDimension(ctx, tx, index)
	if err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, v := range vectors {
		if dim > 0 && len(v.Values) != dim {
			return fmt.Errorf("vector %s has dimension %d, index %s expects %d", v.ID, len(v.Values), index, dim)
		}
		vec, err := json.Marshal(v.Values)
		if err != nil {
			return err
		}
		var meta *string
		if len(v.Metadata) > 0 {
			b, err := json.Marshal(v.Metadata)
			if err != nil {
				return fmt.Errorf("encode metadata for %s: %w", v.ID, err)
			}
			m := string(b)
			meta = &m
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO vectors (index_name, namespace, id, vec, metadata, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(index_name, namespace, id) DO UPDATE SET
			   vec = excluded.vec, metadata = excluded.metadata, updated_at = excluded.updated_at`,
			index, namespace, v.ID, string(vec), meta, now)
		if err != nil {
			return fmt.Errorf("upsert vector %s: %w", v.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) DeleteByFilter(ctx context.Context, index, namespace string, filter Filter) error {
	if err := filter.validate(); err != nil {
		return err
	}
	if _, err := s.indexDimension(ctx, s.db, index); err != nil {
		return err
	}

	where := []string{"index_name = ?", "namespace = ?"}
	args := []interface{}{index, namespace}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		where = append(where, "json_extract(metadata, ?) = ?")
		args = append(args, "$."+k, filter[k])
	}

	_, err := s.db.ExecContext(ctx, `DELETE FROM vectors WHERE `+strings.Join(where, " AND "), args...)
	return err
}

func (s *SQLiteStore) Fetch(ctx context.Context, index, namespace string, ids []string) ([]model.Vector, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := []interface{}{index, namespace}
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, vec, metadata FROM vectors
		 WHERE index_name = ? AND namespace = ? AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := map[string]model.Vector{}
	for rows.Next() {
		v, err := scanVector(rows)
		if err != nil {
			return nil, err
		}
		byID[v.ID] = v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]model.Vector, 0, len(byID))
	for _, id := range ids {
		if v, ok := byID[id]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

// ListParams filters List. Empty fields match everything.
type ListParams struct {
	Index     string
	Namespace string
	Limit     int
}

// Record is a stored vector with its location.
type Record struct {
	Index     string       `json:"index"`
	Namespace string       `json:"namespace"`
	Vector    model.Vector `json:"vector"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// List returns the most recently written vectors.
func (s *SQLiteStore) List(ctx context.Context, p ListParams) ([]Record, error) {
	if p.Limit <= 0 {
		p.Limit = 20
	}
	return s.records(ctx, p, "updated_at DESC, id")
}

func (s *SQLiteStore) records(ctx context.Context, p ListParams, orderBy string) ([]Record, error) {
	where := []string{"1 = 1"}
	args := []interface{}{}
	if p.Index != "" {
		where = append(where, "index_name = ?")
		args = append(args, p.Index)
	}
	if p.Namespace != "" {
		where = append(where, "namespace = ?")
		args = append(args, p.Namespace)
	}
	query := `SELECT index_name, namespace, updated_at, id, vec, metadata
		FROM vectors
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY ` + orderBy
	if p.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, p.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var updated, id, vec string
		var meta sql.NullString
		if err := rows.Scan(&r.Index, &r.Namespace, &updated, &id, &vec, &meta); err != nil {
			return nil, err
		}
		r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		r.Vector, err = decodeVector(id, vec, meta)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanVector(row scanner) (model.Vector, error) {
	var id, vec string
	var meta sql.NullString
	if err := row.Scan(&id, &vec, &meta); err != nil {
		return model.Vector{}, err
	}
	return decodeVector(id, vec, meta)
}

func decodeVector(id, vec string, meta sql.NullString) (model.Vector, error) {
	v := model.Vector{ID: id}
	if err := json.Unmarshal([]byte(vec), &v.Values); err != nil {
		return v, fmt.Errorf("decode vector %s: %w", id, err)
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &v.Metadata); err != nil {
			return v, fmt.Errorf("decode metadata %s: %w", id, err)
		}
	}
	return v, nil
}

var _ Store = (*SQLiteStore)(nil)

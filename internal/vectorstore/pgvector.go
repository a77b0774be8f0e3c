package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/rcliao/avatar-memory/internal/model"
)

const pgErrCodeUndefinedTable = "42P01"

// PGVectorStore keeps each index in its own Postgres table with a
// pgvector column.
type PGVectorStore struct {
	pool *pgxpool.Pool
}

// NewPGVectorStore connects to Postgres and enables the vector extension.
func NewPGVectorStore(ctx context.Context, connString string) (*PGVectorStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("enable vector extension: %w", err)
	}
	return &PGVectorStore{pool: pool}, nil
}

func (s *PGVectorStore) Close() {
	s.pool.Close()
}

var tableNameReplacer = regexp.MustCompile(`[^a-z0-9_]+`)

// tableName maps an index name to a quoted table identifier.
func tableName(index string) string {
	name := "vec_" + tableNameReplacer.ReplaceAllString(strings.ToLower(index), "_")
	if len(name) > 63 {
		name = name[:63]
	}
	return pgx.Identifier{name}.Sanitize()
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgErrCodeUndefinedTable
}

func (s *PGVectorStore) EnsureIndex(ctx context.Context, spec IndexSpec) error {
	if spec.Dimension <= 0 {
		return fmt.Errorf("index %s: invalid dimension %d", spec.Name, spec.Dimension)
	}
	table := tableName(spec.Name)
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			namespace  TEXT NOT NULL,
			id         TEXT NOT NULL,
			embedding  vector(%d) NOT NULL,
			metadata   JSONB NOT NULL DEFAULT '{}'::jsonb,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (namespace, id)
		)`, table, spec.Dimension))
	if err != nil {
		return fmt.Errorf("ensure index %s: %w", spec.Name, err)
	}
	return nil
}

func (s *PGVectorStore) Upsert(ctx context.Context, index, namespace string, vectors []model.Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (namespace, id, embedding, metadata, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (namespace, id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at`, tableName(index))

	batch := &pgx.Batch{}
	for _, v := range vectors {
		meta, err := json.Marshal(orEmpty(v.Metadata))
		if err != nil {
			return fmt.Errorf("encode metadata for %s: %w", v.ID, err)
		}
		batch.Queue(query, namespace, v.ID, pgvector.NewVector(v.Values), meta)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		if isUndefinedTable(err) {
			return fmt.Errorf("index %s: %w", index, ErrNotFound)
		}
		return fmt.Errorf("upsert %s/%s: %w", index, namespace, err)
	}
	return tx.Commit(ctx)
}

func (s *PGVectorStore) DeleteByFilter(ctx context.Context, index, namespace string, filter Filter) error {
	if err := filter.validate(); err != nil {
		return err
	}
	f, err := json.Marshal(filter)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE namespace = $1 AND metadata @> $2::jsonb`, tableName(index)),
		namespace, string(f))
	if isUndefinedTable(err) {
		return fmt.Errorf("index %s: %w", index, ErrNotFound)
	}
	return err
}

func (s *PGVectorStore) Fetch(ctx context.Context, index, namespace string, ids []string) ([]model.Vector, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT id, embedding::text, metadata FROM %s WHERE namespace = $1 AND id = ANY($2)`, tableName(index)),
		namespace, ids)
	if err != nil {
		if isUndefinedTable(err) {
			return nil, fmt.Errorf("index %s: %w", index, ErrNotFound)
		}
		return nil, err
	}
	defer rows.Close()

	byID := map[string]model.Vector{}
	for rows.Next() {
		var id, embedding string
		var meta []byte
		if err := rows.Scan(&id, &embedding, &meta); err != nil {
			return nil, err
		}
		var vec pgvector.Vector
		if err := vec.Scan(embedding); err != nil {
			return nil, fmt.Errorf("decode vector %s: %w", id, err)
		}
		v := model.Vector{ID: id, Values: vec.Slice()}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &v.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata %s: %w", id, err)
			}
		}
		byID[id] = v
	}
	if err := rows.Err(); err != nil {
		if isUndefinedTable(err) {
			return nil, fmt.Errorf("index %s: %w", index, ErrNotFound)
		}
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

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

var _ Store = (*PGVectorStore)(nil)

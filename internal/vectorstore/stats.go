package vectorstore

import (
	"context"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	DBPath       string           `json:"db_path"`
	DBSizeBytes  int64            `json:"db_size_bytes"`
	TotalIndexes int              `json:"total_indexes"`
	TotalVectors int              `json:"total_vectors"`
	MetaVectors  int              `json:"meta_vectors"`
	Namespaces   []NamespaceStats `json:"namespaces"`
}

// NamespaceStats holds per-namespace counts.
type NamespaceStats struct {
	Index     string `json:"index"`
	Namespace string `json:"namespace"`
	Vectors   int    `json:"vectors"`
	Docs      int    `json:"docs"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{DBPath: s.path}

	if info, err := os.Stat(s.path); err == nil {
		st.DBSizeBytes = info.Size()
	}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vector_indexes`).Scan(&st.TotalIndexes)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vectors`).Scan(&st.TotalVectors)
	s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM vectors WHERE json_extract(metadata, '$.type') = 'meta_summary'`).Scan(&st.MetaVectors)

	namespaces, err := s.Namespaces(ctx)
	if err != nil {
		return st, err
	}
	st.Namespaces = namespaces
	return st, nil
}

// Namespaces lists every (index, namespace) pair with its vector and
// distinct document counts.
func (s *SQLiteStore) Namespaces(ctx context.Context) ([]NamespaceStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT index_name, namespace, COUNT(*) AS cnt,
		       COUNT(DISTINCT json_extract(metadata, '$.doc_id')) AS docs
		FROM vectors
		GROUP BY index_name, namespace
		ORDER BY cnt DESC, index_name, namespace`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []NamespaceStats
	for rows.Next() {
		var ns NamespaceStats
		if err := rows.Scan(&ns.Index, &ns.Namespace, &ns.Vectors, &ns.Docs); err != nil {
			return nil, err
		}
		out = append(out, ns)
	}
	return out, rows.Err()
}
